package payout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"rentals/src/ledger"
	"rentals/src/lib"
	"rentals/src/models"
	"rentals/src/models/scopes"
	"rentals/src/types"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Options struct {
	Minimum      types.Money
	Currency     string
	StalledAfter time.Duration
	Batch        int
}

// Aggregator pays owners what the ledger says they are owed. A payout is
// debited from the owner's receivable before the transfer leaves, so a
// concurrent run can never see the same money as eligible twice.
type Aggregator struct {
	db       *gorm.DB
	ledger   *ledger.Store
	catalog  lib.Catalog
	gateway  lib.PaymentGateway
	locker   gocron.Locker
	notifier lib.Notifier
	opts     Options
	now      func() time.Time
}

func NewAggregator(db *gorm.DB, store *ledger.Store, catalog lib.Catalog, gateway lib.PaymentGateway, locker gocron.Locker, notifier lib.Notifier, opts Options, now func() time.Time) *Aggregator {
	if opts.Batch == 0 {
		opts.Batch = 100
	}
	if opts.Currency == "" {
		opts.Currency = "usd"
	}
	if opts.StalledAfter == 0 {
		opts.StalledAfter = 30 * time.Minute
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if locker == nil {
		locker = lib.NewLocalLocker()
	}
	return &Aggregator{
		db:       db,
		ledger:   store,
		catalog:  catalog,
		gateway:  gateway,
		locker:   locker,
		notifier: notifier,
		opts:     opts,
		now:      now,
	}
}

func Reference(p *models.Payout) string {
	return "payout:" + p.ID.String()
}

func (a *Aggregator) notify(ctx context.Context, name string, p *models.Payout, payload types.JSONB) {
	a.notifier.Notify(ctx, lib.Event{
		Name:       name,
		OwnerID:    p.OwnerID,
		PayoutID:   p.ID.String(),
		Payload:    payload,
		OccurredAt: a.now(),
	})
}

// RunOnce pays every owner with an eligible balance above the minimum.
func (a *Aggregator) RunOnce(ctx context.Context) (int, error) {
	owners, err := a.ledger.EligibleOwners(a.db.WithContext(ctx))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, owner := range owners {
		if n >= a.opts.Batch {
			break
		}
		p, err := a.RunForOwner(ctx, owner)
		var conflict *types.ConflictError
		switch {
		case err == nil && p != nil && p.Status == types.PAYOUT_PAID:
			n++
		case err == nil, errors.As(err, &conflict):
		default:
			log.Printf("[Payout] owner %s: %s\n", owner, err.Error())
		}
	}
	return n, nil
}

// RunForOwner pays out the owner's eligible balance. It returns nil when
// there is nothing above the minimum to pay.
func (a *Aggregator) RunForOwner(ctx context.Context, ownerID string) (*models.Payout, error) {
	lock, err := a.locker.Lock(ctx, "payout:"+ownerID)
	if errors.Is(err, types.ErrLockNotAcquired) {
		return nil, &types.ConflictError{Resource: "owner " + ownerID, Message: "payout already running"}
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Unlock(ctx); err != nil {
			log.Printf("[Payout] unlock %s: %s\n", ownerID, err.Error())
		}
	}()

	destination, err := a.catalog.PayoutAccount(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	var p *models.Payout
	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending int64
		if err := tx.Model(&models.Payout{}).
			Scopes(scopes.WithOwner(ownerID), scopes.WithStatus(types.PAYOUT_PENDING)).
			Count(&pending).
			Error; err != nil {
			return err
		}
		if pending > 0 {
			return &types.ConflictError{Resource: "owner " + ownerID, Message: "a payout is still pending"}
		}
		eligible, err := a.ledger.PayoutEligible(tx, ownerID)
		if err != nil {
			return err
		}
		if eligible <= 0 || eligible < a.opts.Minimum {
			return nil
		}

		now := a.now()
		p = &models.Payout{
			OwnerID:     ownerID,
			Amount:      eligible,
			Currency:    a.opts.Currency,
			Status:      types.PAYOUT_PENDING,
			Destination: destination,
		}
		p.CreatedAt = now
		p.UpdatedAt = now
		if err := tx.Create(p).Error; err != nil {
			return err
		}
		_, err = a.ledger.Post(tx, ledger.Posting{
			OwnerID:         ownerID,
			TransactionType: types.TXN_PAYOUT,
			ReferenceID:     Reference(p),
			Currency:        p.Currency,
			Status:          types.ENTRY_PENDING,
			Reason:          "owner payout",
			Lines: []ledger.Line{
				ledger.Debit(types.ACCOUNT_OWNER_RECEIVABLE, eligible),
				ledger.Credit(types.ACCOUNT_OWNER_PAYOUT, eligible),
			},
		})
		return err
	})
	if err != nil || p == nil {
		return nil, err
	}
	return a.transfer(ctx, p)
}

// transfer sends a PENDING payout. The payout's idempotency key makes a
// repeated send of the same payout a no-op at the processor.
func (a *Aggregator) transfer(ctx context.Context, p *models.Payout) (*models.Payout, error) {
	transferRef, err := a.gateway.Transfer(ctx, lib.TransferRequest{
		Destination:    p.Destination,
		Amount:         p.Amount,
		Currency:       p.Currency,
		IdempotencyKey: p.IdempotencyKey(),
		Metadata:       map[string]string{"owner_id": p.OwnerID, "payout_id": p.ID.String()},
	})
	if err != nil {
		log.Printf("[Payout] transfer %s for %s failed: %s\n", p.ID, p.OwnerID, err.Error())
		if ferr := a.fail(ctx, p, err); ferr != nil {
			return p, ferr
		}
		a.notify(ctx, lib.EventPayoutFailed, p, types.JSONB{"amount": int64(p.Amount), "reason": err.Error()})
		return p, &types.PaymentFailedError{Operation: "transfer", Err: err}
	}

	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := a.ledger.Settle(tx, Reference(p)); err != nil {
			return err
		}
		now := a.now()
		p.Status = types.PAYOUT_PAID
		p.TransferReference = transferRef
		p.PaidAt = &now
		p.Attempts++
		return tx.Model(p).Updates(map[string]any{
			"status":             p.Status,
			"transfer_reference": transferRef,
			"paid_at":            now,
			"attempts":           p.Attempts,
			"updated_at":         now,
		}).Error
	})
	if err != nil {
		return p, err
	}
	log.Printf("[Payout] paid %s to %s (%s)\n", p.Amount, p.OwnerID, transferRef)
	a.notify(ctx, lib.EventPayoutProcessed, p, types.JSONB{"amount": int64(p.Amount), "transfer_reference": transferRef})
	return p, nil
}

// fail compensates the payout debit so the amount becomes eligible again.
func (a *Aggregator) fail(ctx context.Context, p *models.Payout, cause error) error {
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := a.ledger.Fail(tx, Reference(p), cause.Error()); err != nil {
			return err
		}
		p.Status = types.PAYOUT_FAILED
		p.FailureReason = cause.Error()
		p.Attempts++
		return tx.Model(p).Updates(map[string]any{
			"status":         p.Status,
			"failure_reason": p.FailureReason,
			"attempts":       p.Attempts,
			"updated_at":     a.now(),
		}).Error
	})
}

// RetryStalled re-sends payouts left PENDING by a run that died between
// recording the payout and hearing back from the processor.
func (a *Aggregator) RetryStalled(ctx context.Context) (int, error) {
	var stalled []models.Payout
	if err := a.db.WithContext(ctx).
		Scopes(scopes.WithStatus(types.PAYOUT_PENDING)).
		Where("updated_at < ?", a.now().Add(-a.opts.StalledAfter)).
		Order("created_at asc").
		Limit(a.opts.Batch).
		Find(&stalled).
		Error; err != nil {
		return 0, err
	}
	n := 0
	for i := range stalled {
		sent, err := a.retry(ctx, stalled[i].ID, stalled[i].OwnerID)
		if err != nil {
			log.Printf("[Payout] retry %s: %s\n", stalled[i].ID, err.Error())
			continue
		}
		if sent {
			n++
		}
	}
	return n, nil
}

// retry re-sends one payout under its owner's lock, provided no other
// worker finished it since it was listed.
func (a *Aggregator) retry(ctx context.Context, id uuid.UUID, ownerID string) (bool, error) {
	lock, err := a.locker.Lock(ctx, "payout:"+ownerID)
	if err != nil {
		return false, nil
	}
	defer func() {
		if err := lock.Unlock(ctx); err != nil {
			log.Printf("[Payout] unlock %s: %s\n", ownerID, err.Error())
		}
	}()
	var p models.Payout
	if err := a.db.WithContext(ctx).Scopes(scopes.WithID(id)).First(&p).Error; err != nil {
		return false, err
	}
	if p.Status != types.PAYOUT_PENDING {
		return false, nil
	}
	if _, err := a.transfer(ctx, &p); err != nil {
		return false, err
	}
	return true, nil
}

type Summary struct {
	OwnerID  string      `json:"owner_id"`
	Balance  types.Money `json:"balance"`
	Eligible types.Money `json:"eligible"`
	Minimum  types.Money `json:"minimum"`
	Currency string      `json:"currency"`
}

// Summarize reports the owner's settled balance and what is payable now.
func (a *Aggregator) Summarize(ctx context.Context, ownerID string) (*Summary, error) {
	db := a.db.WithContext(ctx)
	balance, err := a.ledger.OwnerBalance(db, ownerID)
	if err != nil {
		return nil, fmt.Errorf("owner %s balance: %w", ownerID, err)
	}
	eligible, err := a.ledger.PayoutEligible(db, ownerID)
	if err != nil {
		return nil, fmt.Errorf("owner %s eligible: %w", ownerID, err)
	}
	return &Summary{OwnerID: ownerID, Balance: balance, Eligible: eligible, Minimum: a.opts.Minimum, Currency: a.opts.Currency}, nil
}

func (a *Aggregator) List(ctx context.Context, ownerID string) ([]models.Payout, error) {
	var payouts []models.Payout
	err := a.db.WithContext(ctx).Scopes(scopes.WithOwner(ownerID)).Order("created_at desc").Find(&payouts).Error
	return payouts, err
}

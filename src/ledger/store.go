package ledger

import (
	"errors"
	"fmt"
	"rentals/src/models"
	"rentals/src/types"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Line is one leg of a posting.
type Line struct {
	Account types.AccountType
	Side    types.EntrySide
	Amount  types.Money
}

func Debit(account types.AccountType, amount types.Money) Line {
	return Line{Account: account, Side: types.DEBIT, Amount: amount}
}

func Credit(account types.AccountType, amount types.Money) Line {
	return Line{Account: account, Side: types.CREDIT, Amount: amount}
}

// Posting is a balanced group of entries identified by
// (TransactionType, ReferenceID).
type Posting struct {
	BookingID       *uuid.UUID
	OwnerID         string
	TransactionType types.TransactionType
	ReferenceID     string
	Currency        string
	Status          types.EntryStatus
	Reason          string
	Lines           []Line
}

type Store struct {
	now func() time.Time
}

func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{now: now}
}

func (p Posting) validate() error {
	if p.ReferenceID == "" {
		return &types.ValidationError{Field: "reference_id", Message: "posting needs a reference"}
	}
	if len(p.Lines) < 2 {
		return &types.ValidationError{Field: "lines", Message: "posting needs at least two entries"}
	}
	var debits, credits types.Money
	for _, l := range p.Lines {
		if l.Amount <= 0 {
			return &types.ValidationError{Field: "amount", Message: fmt.Sprintf("%s %s entry must be positive", l.Side, l.Account)}
		}
		if l.Side == types.DEBIT {
			debits += l.Amount
		} else {
			credits += l.Amount
		}
	}
	if debits != credits {
		return &types.UnbalancedPostingError{
			TransactionType: p.TransactionType,
			ReferenceID:     p.ReferenceID,
			Debits:          debits,
			Credits:         credits,
		}
	}
	return nil
}

// Post writes a balanced posting atomically. A posting that already exists
// for the same transaction type and reference returns ErrAlreadyPosted and
// writes nothing.
func (s *Store) Post(tx *gorm.DB, p Posting) ([]models.LedgerEntry, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if p.Status == "" {
		p.Status = types.ENTRY_PENDING
	}

	var existing int64
	if err := tx.Model(&models.LedgerEntry{}).
		Where("transaction_type = ? AND reference_id = ?", p.TransactionType, p.ReferenceID).
		Count(&existing).
		Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, fmt.Errorf("%s %s: %w", p.TransactionType, p.ReferenceID, types.ErrAlreadyPosted)
	}

	now := s.now()
	entries := make([]models.LedgerEntry, len(p.Lines))
	for i, l := range p.Lines {
		entries[i] = models.LedgerEntry{
			BookingID:       p.BookingID,
			OwnerID:         p.OwnerID,
			AccountType:     l.Account,
			Side:            l.Side,
			Amount:          l.Amount,
			Currency:        p.Currency,
			TransactionType: p.TransactionType,
			ReferenceID:     p.ReferenceID,
			Leg:             i + 1,
			Status:          p.Status,
			Reason:          p.Reason,
		}
		if p.Status == types.ENTRY_SETTLED {
			entries[i].SettledAt = &now
		}
	}

	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entries)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected != int64(len(entries)) {
		// a concurrent writer got there first
		return nil, fmt.Errorf("%s %s: %w", p.TransactionType, p.ReferenceID, types.ErrAlreadyPosted)
	}
	return entries, nil
}

func isAlreadyPosted(err error) bool {
	return errors.Is(err, types.ErrAlreadyPosted)
}

// group is the set of entries of one posting.
type group struct {
	txnType types.TransactionType
	ref     string
	entries []models.LedgerEntry
}

func (g group) status() types.EntryStatus {
	return g.entries[0].Status
}

func (g group) offset(txnType types.TransactionType, status types.EntryStatus, reason string) Posting {
	first := g.entries[0]
	p := Posting{
		BookingID:       first.BookingID,
		OwnerID:         first.OwnerID,
		TransactionType: txnType,
		ReferenceID:     fmt.Sprintf("%s:%s:%s", offsetPrefix(txnType), g.txnType, g.ref),
		Currency:        first.Currency,
		Status:          status,
		Reason:          reason,
	}
	for _, e := range g.entries {
		p.Lines = append(p.Lines, Line{Account: e.AccountType, Side: e.Side.Opposite(), Amount: e.Amount})
	}
	return p
}

func offsetPrefix(t types.TransactionType) string {
	if t == types.TXN_COMPENSATION {
		return "compensation"
	}
	return "reversal"
}

// ReversalReference returns the reference of the offset written for a
// reversed posting.
func ReversalReference(txnType types.TransactionType, ref string) string {
	return fmt.Sprintf("reversal:%s:%s", txnType, ref)
}

func groups(entries []models.LedgerEntry) []group {
	index := map[string]int{}
	var out []group
	for _, e := range entries {
		key := string(e.TransactionType) + "|" + e.ReferenceID
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, group{txnType: e.TransactionType, ref: e.ReferenceID})
		}
		out[i].entries = append(out[i].entries, e)
	}
	return out
}

func (s *Store) originals(tx *gorm.DB, ref string) ([]group, error) {
	var entries []models.LedgerEntry
	if err := tx.
		Where("reference_id = ?", ref).
		Where("transaction_type NOT IN ?", []types.TransactionType{types.TXN_REVERSAL, types.TXN_COMPENSATION}).
		Order("transaction_type asc, leg asc").
		Find(&entries).
		Error; err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, &types.NotFoundError{Entity: "ledger posting", ID: ref}
	}
	return groups(entries), nil
}

// Reverse writes offsetting entries for every posting under ref. Pending
// postings are voided along with their offsets; settled postings keep their
// status and receive a settled offset. Already reversed postings are skipped.
func (s *Store) Reverse(tx *gorm.DB, ref, reason string) ([]models.LedgerEntry, error) {
	gs, err := s.originals(tx, ref)
	if err != nil {
		return nil, err
	}
	var written []models.LedgerEntry
	for _, g := range gs {
		var status types.EntryStatus
		switch g.status() {
		case types.ENTRY_PENDING:
			status = types.ENTRY_REVERSED
		case types.ENTRY_SETTLED:
			status = types.ENTRY_SETTLED
		default:
			continue
		}
		entries, err := s.Post(tx, g.offset(types.TXN_REVERSAL, status, reason))
		if err != nil {
			if isAlreadyPosted(err) {
				continue
			}
			return nil, err
		}
		if status == types.ENTRY_REVERSED {
			if err := s.setStatus(tx, g, types.ENTRY_PENDING, types.ENTRY_REVERSED); err != nil {
				return nil, err
			}
		}
		written = append(written, entries...)
	}
	return written, nil
}

// Settle marks every pending entry under ref as settled.
func (s *Store) Settle(tx *gorm.DB, ref string) error {
	now := s.now()
	res := tx.Model(&models.LedgerEntry{}).
		Where("reference_id = ? AND status = ?", ref, types.ENTRY_PENDING).
		Updates(map[string]any{"status": types.ENTRY_SETTLED, "settled_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	gs, err := s.originals(tx, ref)
	if err != nil {
		return err
	}
	for _, g := range gs {
		if g.status() != types.ENTRY_SETTLED {
			return &types.InvalidTransitionError{Entity: "ledger posting", ID: ref, Current: string(g.status()), Attempted: string(types.ENTRY_SETTLED)}
		}
	}
	return nil
}

// Fail marks pending postings under ref as failed and records a
// compensating offset for the audit trail. Settled money cannot be failed,
// only reversed.
func (s *Store) Fail(tx *gorm.DB, ref, reason string) error {
	gs, err := s.originals(tx, ref)
	if err != nil {
		return err
	}
	for _, g := range gs {
		if g.status() == types.ENTRY_SETTLED {
			return &types.InvalidTransitionError{Entity: "ledger posting", ID: ref, Current: string(types.ENTRY_SETTLED), Attempted: string(types.ENTRY_FAILED)}
		}
	}
	for _, g := range gs {
		if g.status() != types.ENTRY_PENDING {
			continue
		}
		if _, err := s.Post(tx, g.offset(types.TXN_COMPENSATION, types.ENTRY_REVERSED, reason)); err != nil && !isAlreadyPosted(err) {
			return err
		}
		if err := s.setStatus(tx, g, types.ENTRY_PENDING, types.ENTRY_FAILED); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) setStatus(tx *gorm.DB, g group, from, to types.EntryStatus) error {
	return tx.Model(&models.LedgerEntry{}).
		Where("transaction_type = ? AND reference_id = ? AND status = ?", g.txnType, g.ref, from).
		Update("status", to).
		Error
}

// Entries returns every entry under ref, offsets excluded.
func (s *Store) Entries(tx *gorm.DB, ref string) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := tx.Where("reference_id = ?", ref).Order("transaction_type asc, leg asc").Find(&entries).Error
	return entries, err
}

func (s *Store) EntriesForBooking(tx *gorm.DB, bookingID uuid.UUID) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := tx.
		Where("booking_id = ?", bookingID).
		Order("created_at asc, transaction_type asc, reference_id asc, leg asc").
		Find(&entries).
		Error
	return entries, err
}

// HasPending reports whether any posting of the booking still awaits settlement.
func (s *Store) HasPending(tx *gorm.DB, bookingID uuid.UUID) (bool, error) {
	var count int64
	err := tx.Model(&models.LedgerEntry{}).
		Where("booking_id = ? AND status = ?", bookingID, types.ENTRY_PENDING).
		Count(&count).
		Error
	return count > 0, err
}

// PendingReferences lists references of pending postings of the given type.
func (s *Store) PendingReferences(tx *gorm.DB, txnType types.TransactionType, limit int) ([]string, error) {
	var refs []string
	err := tx.Model(&models.LedgerEntry{}).
		Where("transaction_type = ? AND status = ?", txnType, types.ENTRY_PENDING).
		Distinct("reference_id").
		Limit(limit).
		Pluck("reference_id", &refs).
		Error
	sort.Strings(refs)
	return refs, err
}

// CheckBalanced verifies that every posting of the booking balances.
func (s *Store) CheckBalanced(tx *gorm.DB, bookingID uuid.UUID) error {
	entries, err := s.EntriesForBooking(tx, bookingID)
	if err != nil {
		return err
	}
	for _, g := range groups(entries) {
		var debits, credits types.Money
		for _, e := range g.entries {
			if e.Side == types.DEBIT {
				debits += e.Amount
			} else {
				credits += e.Amount
			}
		}
		if debits != credits {
			return &types.UnbalancedPostingError{TransactionType: g.txnType, ReferenceID: g.ref, Debits: debits, Credits: credits}
		}
	}
	return nil
}

type sums struct {
	Credits int64
	Debits  int64
}

// AccountNet is the credit-positive balance of an account for one booking,
// counting money that is settled or still pending.
func (s *Store) AccountNet(tx *gorm.DB, bookingID uuid.UUID, account types.AccountType) (types.Money, error) {
	var r sums
	err := tx.Model(&models.LedgerEntry{}).
		Select(
			"CAST(COALESCE(SUM(CASE WHEN side = ? THEN amount ELSE 0 END), 0) AS BIGINT) AS credits, "+
				"CAST(COALESCE(SUM(CASE WHEN side = ? THEN amount ELSE 0 END), 0) AS BIGINT) AS debits",
			types.CREDIT, types.DEBIT,
		).
		Where("booking_id = ? AND account_type = ?", bookingID, account).
		Where("status IN ?", []types.EntryStatus{types.ENTRY_PENDING, types.ENTRY_SETTLED}).
		Scan(&r).
		Error
	return types.Money(r.Credits - r.Debits), err
}

// OwnerBalance is the settled balance of the owner's receivable account.
func (s *Store) OwnerBalance(tx *gorm.DB, ownerID string) (types.Money, error) {
	var r sums
	err := tx.Model(&models.LedgerEntry{}).
		Select(
			"CAST(COALESCE(SUM(CASE WHEN side = ? THEN amount ELSE 0 END), 0) AS BIGINT) AS credits, "+
				"CAST(COALESCE(SUM(CASE WHEN side = ? THEN amount ELSE 0 END), 0) AS BIGINT) AS debits",
			types.CREDIT, types.DEBIT,
		).
		Where("owner_id = ? AND account_type = ? AND status = ?", ownerID, types.ACCOUNT_OWNER_RECEIVABLE, types.ENTRY_SETTLED).
		Scan(&r).
		Error
	return types.Money(r.Credits - r.Debits), err
}

const eligibleQuery = `
SELECT
	CAST(COALESCE(SUM(CASE WHEN e.side = ? AND e.status = ? AND (e.booking_id IS NULL OR b.status IN ?) THEN e.amount ELSE 0 END), 0) AS BIGINT) AS credits,
	CAST(COALESCE(SUM(CASE WHEN e.side = ? AND e.status IN ? THEN e.amount ELSE 0 END), 0) AS BIGINT) AS debits
FROM ledger_entries e
LEFT JOIN bookings b ON b.id = e.booking_id
WHERE e.owner_id = ? AND e.account_type = ?`

// PayoutEligible is what may be transferred to the owner now: settled
// credits of finished bookings, less every settled or pending debit.
func (s *Store) PayoutEligible(tx *gorm.DB, ownerID string) (types.Money, error) {
	var r sums
	err := tx.Raw(eligibleQuery,
		types.CREDIT, types.ENTRY_SETTLED,
		[]types.BookingStatus{types.BOOKING_SETTLED, types.BOOKING_CANCELLED, types.BOOKING_REFUNDED},
		types.DEBIT, []types.EntryStatus{types.ENTRY_SETTLED, types.ENTRY_PENDING},
		ownerID, types.ACCOUNT_OWNER_RECEIVABLE,
	).Scan(&r).Error
	if err != nil {
		return 0, err
	}
	eligible := types.Money(r.Credits - r.Debits)
	if eligible < 0 {
		return 0, nil
	}
	return eligible, nil
}

// EligibleOwners lists owners holding settled receivable credits.
func (s *Store) EligibleOwners(tx *gorm.DB) ([]string, error) {
	var owners []string
	err := tx.Model(&models.LedgerEntry{}).
		Where("account_type = ? AND side = ? AND status = ? AND owner_id <> ''", types.ACCOUNT_OWNER_RECEIVABLE, types.CREDIT, types.ENTRY_SETTLED).
		Distinct("owner_id").
		Order("owner_id asc").
		Pluck("owner_id", &owners).
		Error
	return owners, err
}

package policy

import (
	"context"
	"errors"
	"fmt"
	"rentals/src/models"
	"rentals/src/types"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB, now func() time.Time) *Repository {
	return &Repository{db: db, now: now}
}

var Defaults = []struct {
	Name        string
	Description string
	Rules       []types.RefundRule
}{
	{
		Name:        "Flexible",
		Description: "Full refund up to 48 hours before the rental starts.",
		Rules:       []types.RefundRule{{HoursBeforeStart: 48, RefundBps: types.FullRefund}},
	},
	{
		Name:        "Moderate",
		Description: "Full refund up to 5 days before, half refund up to 24 hours before.",
		Rules: []types.RefundRule{
			{HoursBeforeStart: 120, RefundBps: types.FullRefund},
			{HoursBeforeStart: 24, RefundBps: 5000},
		},
	},
	{
		Name:        "Strict",
		Description: "Full refund up to 14 days before, half refund up to 7 days before.",
		Rules: []types.RefundRule{
			{HoursBeforeStart: 336, RefundBps: types.FullRefund},
			{HoursBeforeStart: 168, RefundBps: 5000},
		},
	},
}

// SeedDefaults creates version 1 of every default policy that is missing.
func SeedDefaults(tx *gorm.DB) error {
	for _, d := range Defaults {
		var count int64
		if err := tx.Model(&models.CancellationPolicy{}).Where("name = ?", d.Name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		p := models.CancellationPolicy{
			Name:        d.Name,
			Version:     1,
			Description: d.Description,
			Rules:       datatypes.NewJSONType(d.Rules),
			CreatedAt:   time.Now().UTC(),
		}
		if err := tx.Create(&p).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.CancellationPolicy, error) {
	return Find(r.db.WithContext(ctx), id)
}

// Find loads a policy by id inside the caller's transaction.
func Find(tx *gorm.DB, id uuid.UUID) (*models.CancellationPolicy, error) {
	var p models.CancellationPolicy
	err := tx.Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &types.NotFoundError{Entity: "cancellation policy", ID: id.String()}
	}
	return &p, err
}

// Resolve accepts a policy id or a policy name. Names resolve to their
// latest version so new bookings pick up the current rules.
func Resolve(tx *gorm.DB, ref string) (*models.CancellationPolicy, error) {
	if id, err := uuid.Parse(ref); err == nil {
		p, err := Find(tx, id)
		var nf *types.NotFoundError
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("cancellation policy %s: %w", ref, types.ErrMissingReferenceData)
		}
		return p, err
	}
	var p models.CancellationPolicy
	err := tx.Where("name = ?", ref).Order("version desc").First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("cancellation policy %s: %w", ref, types.ErrMissingReferenceData)
	}
	return &p, err
}

// Create stores a new immutable version of the named policy.
func (r *Repository) Create(ctx context.Context, name, description string, rules []types.RefundRule) (*models.CancellationPolicy, error) {
	if err := ValidateRules(rules); err != nil {
		return nil, err
	}
	var p models.CancellationPolicy
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest int
		if err := tx.Model(&models.CancellationPolicy{}).
			Where("name = ?", name).
			Select("COALESCE(MAX(version), 0)").
			Scan(&latest).
			Error; err != nil {
			return err
		}
		p = models.CancellationPolicy{
			Name:        name,
			Version:     latest + 1,
			Description: description,
			Rules:       datatypes.NewJSONType(rules),
			CreatedAt:   r.now(),
		}
		return tx.Create(&p).Error
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) List(ctx context.Context) ([]models.CancellationPolicy, error) {
	var policies []models.CancellationPolicy
	err := r.db.WithContext(ctx).
		Model(&models.CancellationPolicy{}).
		Order("name asc, version desc").
		Find(&policies).
		Error
	return policies, err
}

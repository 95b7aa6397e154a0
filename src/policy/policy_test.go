package policy_test

import (
	"context"
	"rentals/src/models"
	"rentals/src/policy"
	"rentals/src/testutil"
	"rentals/src/types"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var flexible = []types.RefundRule{{HoursBeforeStart: 48, RefundBps: types.FullRefund}}

var moderate = []types.RefundRule{
	{HoursBeforeStart: 120, RefundBps: types.FullRefund},
	{HoursBeforeStart: 24, RefundBps: 5000},
}

func TestRefundPercentage(t *testing.T) {
	start := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		rules []types.RefundRule
		until time.Duration
		want  types.Percentage
	}{
		{"flexible 72h before", flexible, 72 * time.Hour, types.FullRefund},
		{"flexible 10h before", flexible, 10 * time.Hour, types.NoRefund},
		{"flexible exactly at threshold", flexible, 48 * time.Hour, types.FullRefund},
		{"flexible just under threshold", flexible, 48*time.Hour - time.Second, types.NoRefund},
		{"moderate 200h before", moderate, 200 * time.Hour, types.FullRefund},
		{"moderate 60h before", moderate, 60 * time.Hour, 5000},
		{"moderate 24h before", moderate, 24 * time.Hour, 5000},
		{"moderate 23h before", moderate, 23 * time.Hour, types.NoRefund},
		{"after start", flexible, -time.Hour, types.NoRefund},
		{"no rules", nil, 500 * time.Hour, types.NoRefund},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := policy.RefundPercentage(tc.rules, start.Add(-tc.until), start)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRefundPercentageUnorderedRules(t *testing.T) {
	start := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	rules := []types.RefundRule{
		{HoursBeforeStart: 24, RefundBps: 5000},
		{HoursBeforeStart: 120, RefundBps: types.FullRefund},
	}
	assert.Equal(t, types.FullRefund, policy.RefundPercentage(rules, start.Add(-130*time.Hour), start))
	assert.Equal(t, types.Percentage(5000), policy.RefundPercentage(rules, start.Add(-30*time.Hour), start))
}

func TestRefundPercentageMonotonic(t *testing.T) {
	start := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	ruleSets := [][]types.RefundRule{
		flexible,
		moderate,
		{{HoursBeforeStart: 336, RefundBps: types.FullRefund}, {HoursBeforeStart: 168, RefundBps: 5000}},
		// not a valid stored policy, evaluation must still never increase
		{{HoursBeforeStart: 100, RefundBps: 2000}, {HoursBeforeStart: 10, RefundBps: 9000}},
	}
	for _, rules := range ruleSets {
		prev := types.FullRefund
		for h := 400; h >= -5; h-- {
			got := policy.RefundPercentage(rules, start.Add(-time.Duration(h)*time.Hour), start)
			assert.LessOrEqual(t, got, prev, "rules %v at %dh", rules, h)
			prev = got
		}
	}
}

func TestHostCancellationRefund(t *testing.T) {
	assert.Equal(t, types.FullRefund, policy.HostCancellationRefund())
}

func TestValidateRules(t *testing.T) {
	assert.NoError(t, policy.ValidateRules(moderate))

	var verr *types.ValidationError
	assert.ErrorAs(t, policy.ValidateRules(nil), &verr)
	assert.ErrorAs(t, policy.ValidateRules([]types.RefundRule{{HoursBeforeStart: -1, RefundBps: 100}}), &verr)
	assert.ErrorAs(t, policy.ValidateRules([]types.RefundRule{{HoursBeforeStart: 1, RefundBps: 10001}}), &verr)
	assert.ErrorAs(t, policy.ValidateRules([]types.RefundRule{
		{HoursBeforeStart: 24, RefundBps: 5000},
		{HoursBeforeStart: 24, RefundBps: 2000},
	}), &verr)
	assert.ErrorAs(t, policy.ValidateRules([]types.RefundRule{
		{HoursBeforeStart: 100, RefundBps: 2000},
		{HoursBeforeStart: 10, RefundBps: 9000},
	}), &verr)
}

func TestRepository(t *testing.T) {
	db := testutil.NewTestDB(t)
	clock := testutil.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	repo := policy.NewRepository(db, clock.Now)
	ctx := context.Background()

	require.NoError(t, policy.SeedDefaults(db))
	require.NoError(t, policy.SeedDefaults(db))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	flex, err := policy.Resolve(db, "Flexible")
	require.NoError(t, err)
	assert.Equal(t, 1, flex.Version)
	assert.Equal(t, flexible, flex.Rules.Data())

	t.Run("create makes a new version", func(t *testing.T) {
		v2, err := repo.Create(ctx, "Flexible", "Full refund up to 24 hours before.", []types.RefundRule{{HoursBeforeStart: 24, RefundBps: types.FullRefund}})
		require.NoError(t, err)
		assert.Equal(t, 2, v2.Version)

		latest, err := policy.Resolve(db, "Flexible")
		require.NoError(t, err)
		assert.Equal(t, v2.ID, latest.ID)

		old, err := repo.Get(ctx, flex.ID)
		require.NoError(t, err)
		assert.Equal(t, flexible, old.Rules.Data())
	})

	t.Run("resolve by id", func(t *testing.T) {
		p, err := policy.Resolve(db, flex.ID.String())
		require.NoError(t, err)
		assert.Equal(t, "Flexible", p.Name)
	})

	t.Run("unknown policy is missing reference data", func(t *testing.T) {
		_, err := policy.Resolve(db, "Lenient")
		assert.ErrorIs(t, err, types.ErrMissingReferenceData)
	})

	t.Run("invalid rules are rejected", func(t *testing.T) {
		_, err := repo.Create(ctx, "Broken", "", []types.RefundRule{{HoursBeforeStart: -4, RefundBps: 100}})
		var verr *types.ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("policies are immutable", func(t *testing.T) {
		p := *flex
		p.Description = "changed"
		err := db.Save(&p).Error
		var verr *types.ValidationError
		assert.ErrorAs(t, err, &verr)

		var stored models.CancellationPolicy
		require.NoError(t, db.First(&stored, "id = ?", flex.ID).Error)
		assert.Equal(t, flex.Description, stored.Description)
	})
}

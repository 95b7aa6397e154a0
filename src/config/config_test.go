package config

import (
	"rentals/src/types"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_ENV", "test")
	t.Setenv("DATABASE_HOST", "db.internal")
	t.Setenv("DATABASE_PASSWORD", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, types.Test, cfg.Env)
	assert.Equal(t, 168*time.Hour, cfg.DepositHoldValidity)
	assert.Equal(t, 24*time.Hour, cfg.RequestTTL)
	assert.Equal(t, types.Money(1000), cfg.PayoutMinimum)
	assert.False(t, cfg.IsProd())
	assert.Equal(t, "host=db.internal user=postgres password=secret dbname=rentals port=5432 sslmode=disable TimeZone=UTC", cfg.DSN())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ENV", "production")
	t.Setenv("CHECKIN_EARLY_WINDOW", "2h")
	t.Setenv("PAYOUT_MINIMUM", "5000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProd())
	assert.Equal(t, 2*time.Hour, cfg.CheckInEarlyWindow)
	assert.Equal(t, types.Money(5000), cfg.PayoutMinimum)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("REQUEST_TTL", "soon")

	_, err := Load()
	assert.Error(t, err)
}

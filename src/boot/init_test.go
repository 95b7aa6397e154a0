package boot

import (
	"rentals/src/config"
	"rentals/src/lib"
	"rentals/src/models"
	"rentals/src/testutil"
	"rentals/src/types"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateSeedsPolicies(t *testing.T) {
	conn := testutil.NewTestDB(t)
	require.NoError(t, Migrate(conn))
	require.NoError(t, Migrate(conn))

	var count int64
	require.NoError(t, conn.Model(&models.CancellationPolicy{}).Count(&count).Error)
	assert.EqualValues(t, 3, count)
}

func TestNewFallsBackToLocalInfrastructure(t *testing.T) {
	cfg := config.Config{Env: types.Local}
	assert.IsType(t, lib.LogNotifier{}, NewNotifier(cfg))
	assert.IsType(t, &lib.LocalLocker{}, NewLocker(cfg))
}

func TestScheduler(t *testing.T) {
	conn := testutil.NewTestDB(t)
	cfg := config.Config{SweepInterval: time.Minute, PayoutInterval: time.Hour}
	app := New(cfg, conn, testutil.NewFakeGateway(), testutil.NewFakeCatalog(), &testutil.RecordingNotifier{}, lib.NewLocalLocker(), nil)

	sweeps := app.Sweeps()
	require.Len(t, sweeps, 8)
	names := map[string]bool{}
	for _, s := range sweeps {
		assert.NotNil(t, s.Run, s.Name)
		assert.Positive(t, s.Every, s.Name)
		names[s.Name] = true
	}
	assert.Len(t, names, 8)

	require.NoError(t, app.InitScheduler())
	defer app.StopScheduler()
	assert.Len(t, app.Scheduler.Jobs(), 8)
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Threadigit/BillDrop/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type repository interface {
	core.SubscriptionRepository
	core.ScanRepository
	Close() error
}

func stores(t *testing.T) map[string]repository {
	t.Helper()
	sqlStore, err := NewSQLStore(DialectSQLite, filepath.Join(t.TempDir(), "billdrop.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { sqlStore.Close() })

	return map[string]repository{
		"memory": NewMemoryStore(zap.NewNop()),
		"sqlite": sqlStore,
	}
}

func TestSubscriptions(t *testing.T) {
	next := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	for name, repo := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := repo.FindExisting(ctx, "alice", "netflix")
			assert.ErrorIs(t, err, core.ErrNotFound)

			created, err := repo.CreateSubscription(ctx, &core.Subscription{
				UserID:          "alice",
				ServiceName:     "Netflix",
				ServiceSlug:     "netflix",
				Amount:          15.99,
				Currency:        "USD",
				BillingCycle:    core.CycleMonthly,
				NextBillingDate: &next,
				Confidence:      0.8,
				DetectedFrom:    "email",
				Status:          core.StatusPending,
			})
			require.NoError(t, err)
			assert.NotEmpty(t, created.ID)
			assert.False(t, created.CreatedAt.IsZero())

			_, err = repo.CreateSubscription(ctx, &core.Subscription{
				UserID:       "alice",
				ServiceName:  "Spotify",
				ServiceSlug:  "spotify",
				Amount:       9.99,
				Currency:     "USD",
				BillingCycle: core.CycleYearly,
				Status:       core.StatusPending,
				CreatedAt:    created.CreatedAt.Add(time.Second),
			})
			require.NoError(t, err)

			found, err := repo.FindExisting(ctx, "alice", "netflix")
			require.NoError(t, err)
			assert.Equal(t, created.ID, found.ID)
			assert.Equal(t, 15.99, found.Amount)
			assert.Equal(t, core.CycleMonthly, found.BillingCycle)
			require.NotNil(t, found.NextBillingDate)
			assert.True(t, next.Equal(*found.NextBillingDate))
			assert.Equal(t, core.StatusPending, found.Status)
			assert.False(t, found.Confirmed)

			_, err = repo.FindExisting(ctx, "bob", "netflix")
			assert.ErrorIs(t, err, core.ErrNotFound)

			subs, err := repo.ListByUser(ctx, "alice")
			require.NoError(t, err)
			require.Len(t, subs, 2)
			assert.Equal(t, "netflix", subs[0].ServiceSlug)
			assert.Nil(t, subs[1].NextBillingDate)
			assert.Equal(t, core.CycleYearly, subs[1].BillingCycle)

			subs, err = repo.ListByUser(ctx, "bob")
			require.NoError(t, err)
			assert.Empty(t, subs)
		})
	}
}

func TestScans(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for name, repo := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := repo.LatestScan(ctx, "alice")
			assert.ErrorIs(t, err, core.ErrNotFound)

			first := &core.ScanRecord{ID: "run-1", UserID: "alice", Provider: "demo", Status: core.ScanStatusScanning, StartedAt: start}
			second := &core.ScanRecord{ID: "run-2", UserID: "alice", Provider: "demo", Status: core.ScanStatusScanning, StartedAt: start.Add(time.Hour)}
			require.NoError(t, repo.CreateScan(ctx, first))
			require.NoError(t, repo.CreateScan(ctx, second))

			done := start.Add(time.Hour + time.Minute)
			second.Status = core.ScanStatusCompleted
			second.EmailsFound = 12
			second.SubsFound = 3
			second.CompletedAt = &done
			require.NoError(t, repo.UpdateScan(ctx, second))

			latest, err := repo.LatestScan(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, "run-2", latest.ID)
			assert.Equal(t, core.ScanStatusCompleted, latest.Status)
			assert.Equal(t, 12, latest.EmailsFound)
			assert.Equal(t, 3, latest.SubsFound)
			require.NotNil(t, latest.CompletedAt)
			assert.True(t, done.Equal(*latest.CompletedAt))
			assert.True(t, second.StartedAt.Equal(latest.StartedAt))

			err = repo.UpdateScan(ctx, &core.ScanRecord{ID: "missing", UserID: "alice"})
			assert.ErrorIs(t, err, core.ErrNotFound)
		})
	}
}

func TestUnsupportedDialect(t *testing.T) {
	_, err := NewSQLStore("postgres", "", zap.NewNop())
	assert.Error(t, err)
}

// Package ledgertest checks GenerationLedger implementations against the
// reservation contract. Every backend runs the same suite.
package ledgertest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/maintenance-engine/maintenance"
)

// Factory returns a fresh, empty ledger for each subtest.
type Factory func(t *testing.T) maintenance.GenerationLedger

// Run executes the contract suite.
func Run(t *testing.T, newLedger Factory) {
	t.Run("SecondBeginIsAlreadyRan", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		first, err := l.TryBeginRun(ctx, "2025-01-06", maintenance.GenerationAutomatic, "cron")
		require.NoError(t, err)
		second, err := l.TryBeginRun(ctx, "2025-01-06", maintenance.GenerationAutomatic, "cron")
		require.NoError(t, err)

		assert.Equal(t, maintenance.Acquired, first)
		assert.Equal(t, maintenance.AlreadyRan, second)
	})

	t.Run("KeysAreIndependent", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		for _, k := range []struct {
			date string
			typ  maintenance.GenerationType
		}{
			{"2025-01-06", maintenance.GenerationAutomatic},
			{"2025-01-07", maintenance.GenerationAutomatic},
			{"2025-01-06", maintenance.ManualGenerationType("PM-1")},
			{"2025-01-06", maintenance.ManualGenerationType("PM-2")},
		} {
			res, err := l.TryBeginRun(ctx, k.date, k.typ, "cron")
			require.NoError(t, err)
			assert.Equal(t, maintenance.Acquired, res, "%s %s", k.date, k.typ)
		}
	})

	t.Run("ConcurrentBeginsAcquireOnce", func(t *testing.T) {
		l := newLedger(t)
		const callers = 20
		results := make([]maintenance.BeginResult, callers)
		errs := make([]error, callers)

		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = l.TryBeginRun(context.Background(), "2025-01-06", maintenance.GenerationAutomatic, "cron")
			}(i)
		}
		wg.Wait()

		acquired := 0
		for i := range results {
			require.NoError(t, errs[i])
			if results[i] == maintenance.Acquired {
				acquired++
			}
		}
		assert.Equal(t, 1, acquired)
	})

	t.Run("CompleteOnce", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		_, err := l.TryBeginRun(ctx, "2025-01-06", maintenance.GenerationAutomatic, "cron")
		require.NoError(t, err)
		require.NoError(t, l.CompleteRun(ctx, "2025-01-06", maintenance.GenerationAutomatic, 3, ""))

		err = l.CompleteRun(ctx, "2025-01-06", maintenance.GenerationAutomatic, 5, "")
		assert.ErrorIs(t, err, maintenance.ErrRunAlreadyCompleted)
	})

	t.Run("CompleteWithoutBegin", func(t *testing.T) {
		l := newLedger(t)
		err := l.CompleteRun(context.Background(), "2025-01-06", maintenance.GenerationAutomatic, 1, "")
		assert.ErrorIs(t, err, maintenance.ErrRunNotStarted)
	})

	t.Run("CrashedRunBlocksTheDay", func(t *testing.T) {
		// A begin without completion still holds the key.
		l := newLedger(t)
		ctx := context.Background()
		_, err := l.TryBeginRun(ctx, "2025-01-06", maintenance.GenerationAutomatic, "cron")
		require.NoError(t, err)

		res, err := l.TryBeginRun(ctx, "2025-01-06", maintenance.GenerationAutomatic, "cron-retry")
		require.NoError(t, err)
		assert.Equal(t, maintenance.AlreadyRan, res)
	})

	t.Run("RunsListsEntriesInRange", func(t *testing.T) {
		l := newLedger(t)
		reader, ok := l.(maintenance.LedgerReader)
		if !ok {
			t.Skip("ledger does not list runs")
		}
		ctx := context.Background()
		for _, d := range []string{"2025-01-07", "2025-01-05", "2025-01-06"} {
			_, err := l.TryBeginRun(ctx, d, maintenance.GenerationAutomatic, "cron")
			require.NoError(t, err)
		}
		require.NoError(t, l.CompleteRun(ctx, "2025-01-06", maintenance.GenerationAutomatic, 2, "ok"))

		runs, err := reader.Runs(ctx, "2025-01-06", "2025-01-07")
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "2025-01-06", runs[0].Date)
		assert.True(t, runs[0].Completed())
		assert.Equal(t, 2, runs[0].OrdersGenerated)
		assert.Equal(t, "ok", runs[0].Details)
		assert.Equal(t, "cron", runs[0].TriggeredBy)
		assert.Equal(t, "2025-01-07", runs[1].Date)
		assert.False(t, runs[1].Completed())
		assert.Equal(t, 0, runs[1].OrdersGenerated)
	})
}

package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/elevate-workforce/enrollpay/app/models"
	"github.com/elevate-workforce/enrollpay/internal/pkg/database/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	return NewGuard(NewRepository(dbtest.Open(t)))
}

func claimInput(id string) ClaimInput {
	return ClaimInput{Provider: "stripe", EventID: id, EventType: EventCheckoutCompleted, Payload: []byte(`{"id":"` + id + `"}`)}
}

func TestClaimFirstDeliveryAcquires(t *testing.T) {
	g := newTestGuard(t)

	claim, err := g.Claim(context.Background(), claimInput("evt_1"))
	require.NoError(t, err)

	assert.True(t, claim.Acquired)
	require.NotNil(t, claim.Event)
	assert.Equal(t, models.EventOutcomeProcessing, claim.Event.Outcome)
	assert.Equal(t, 1, claim.Event.Attempts)
	assert.Equal(t, `{"id":"evt_1"}`, claim.Event.PayloadJSON)
}

func TestClaimRedeliveryOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		outcome    string
		wantReason ClaimReason
	}{
		{name: "still processing", outcome: "", wantReason: ClaimInProgress},
		{name: "processed", outcome: models.EventOutcomeProcessed, wantReason: ClaimDuplicate},
		{name: "ignored", outcome: models.EventOutcomeIgnored, wantReason: ClaimDuplicate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			g := newTestGuard(t)

			first, err := g.Claim(ctx, claimInput("evt_1"))
			require.NoError(t, err)
			if tt.outcome != "" {
				require.NoError(t, g.Complete(ctx, first.Event, tt.outcome, nil))
			}

			second, err := g.Claim(ctx, claimInput("evt_1"))
			require.NoError(t, err)
			assert.False(t, second.Acquired)
			assert.Equal(t, tt.wantReason, second.Reason)
		})
	}
}

func TestClaimReacquiresFailedEvent(t *testing.T) {
	ctx := context.Background()
	g := newTestGuard(t)

	first, err := g.Claim(ctx, claimInput("evt_1"))
	require.NoError(t, err)
	require.NoError(t, g.Release(ctx, first.Event, errors.New("smtp down")))

	stored, err := g.Load(ctx, "stripe", "evt_1")
	require.NoError(t, err)
	assert.Equal(t, models.EventOutcomeFailed, stored.Outcome)
	assert.Equal(t, "smtp down", stored.ErrorDetail)
	assert.NotNil(t, stored.ProcessedAt)

	retry, err := g.Claim(ctx, claimInput("evt_1"))
	require.NoError(t, err)
	assert.True(t, retry.Acquired)
	assert.Equal(t, 2, retry.Event.Attempts)

	again, err := g.Claim(ctx, claimInput("evt_1"))
	require.NoError(t, err)
	assert.False(t, again.Acquired)
	assert.Equal(t, ClaimInProgress, again.Reason)
}

func TestClaimConcurrentDeliveriesAcquireOnce(t *testing.T) {
	ctx := context.Background()
	g := newTestGuard(t)

	const deliveries = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
		errs     []error
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claim, err := g.Claim(ctx, claimInput("evt_race"))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if claim.Acquired {
				acquired++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, acquired)
}

func TestClaimValidatesInput(t *testing.T) {
	g := newTestGuard(t)

	_, err := g.Claim(context.Background(), ClaimInput{Provider: "stripe"})
	assert.Equal(t, KindInvalidInput, KindOf(err))
}

func TestCompleteRejectsUnknownOutcome(t *testing.T) {
	ctx := context.Background()
	g := newTestGuard(t)

	claim, err := g.Claim(ctx, claimInput("evt_1"))
	require.NoError(t, err)

	assert.Error(t, g.Complete(ctx, claim.Event, "exploded", nil))
}

func TestStatsCountsOutcomes(t *testing.T) {
	ctx := context.Background()
	g := newTestGuard(t)

	for _, id := range []string{"evt_1", "evt_2", "evt_3"} {
		_, err := g.Claim(ctx, claimInput(id))
		require.NoError(t, err)
	}
	e1, err := g.Load(ctx, "stripe", "evt_1")
	require.NoError(t, err)
	require.NoError(t, g.Complete(ctx, e1, models.EventOutcomeProcessed, nil))

	stats, err := g.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[models.EventOutcomeProcessed])
	assert.Equal(t, int64(2), stats[models.EventOutcomeProcessing])
}

func TestFailedAndReclaim(t *testing.T) {
	ctx := context.Background()
	g := newTestGuard(t)

	claim, err := g.Claim(ctx, claimInput("evt_redrive"))
	require.NoError(t, err)
	ok, err := g.Claim(ctx, claimInput("evt_ok"))
	require.NoError(t, err)
	require.NoError(t, g.Complete(ctx, ok.Event, models.EventOutcomeProcessed, nil))
	require.NoError(t, g.Release(ctx, claim.Event, errors.New("smtp down")))

	failed, err := g.Failed(ctx, time.Now().Add(time.Minute), 5, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "evt_redrive", failed[0].ExternalEventID)

	capped, err := g.Failed(ctx, time.Now().Add(time.Minute), 1, 10)
	require.NoError(t, err)
	assert.Empty(t, capped)

	won, err := g.Reclaim(ctx, &failed[0])
	require.NoError(t, err)
	assert.True(t, won)
	assert.Equal(t, 2, failed[0].Attempts)

	won, err = g.Reclaim(ctx, &failed[0])
	require.NoError(t, err)
	assert.False(t, won)
}

func TestClaimTakesOverExpiredProcessingLease(t *testing.T) {
	ctx := context.Background()
	g := newTestGuard(t).WithLease(time.Minute)

	first, err := g.Claim(ctx, claimInput("evt_stuck"))
	require.NoError(t, err)
	require.True(t, first.Acquired)

	claim, err := g.Claim(ctx, claimInput("evt_stuck"))
	require.NoError(t, err)
	assert.False(t, claim.Acquired)
	assert.Equal(t, ClaimInProgress, claim.Reason)

	g.WithClock(func() time.Time { return time.Now().Add(time.Hour) })
	claim, err = g.Claim(ctx, claimInput("evt_stuck"))
	require.NoError(t, err)
	assert.True(t, claim.Acquired)
	assert.Equal(t, models.EventOutcomeProcessing, claim.Event.Outcome)
	assert.Equal(t, 2, claim.Event.Attempts)

	stored, err := g.Load(ctx, "stripe", "evt_stuck")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Attempts)
}

func TestReclaimStaleEventWinsOnce(t *testing.T) {
	ctx := context.Background()
	g := newTestGuard(t).WithLease(time.Minute)

	_, err := g.Claim(ctx, claimInput("evt_stuck"))
	require.NoError(t, err)
	done, err := g.Claim(ctx, claimInput("evt_done"))
	require.NoError(t, err)
	require.NoError(t, g.Complete(ctx, done.Event, models.EventOutcomeProcessed, nil))

	stale, err := g.Stale(ctx, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	g.WithClock(func() time.Time { return time.Now().Add(time.Hour) })
	stale, err = g.Stale(ctx, 5, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "evt_stuck", stale[0].ExternalEventID)

	// Two workers read the same row; only one may take it over.
	a, b := stale[0], stale[0]
	won, err := g.Reclaim(ctx, &a)
	require.NoError(t, err)
	assert.True(t, won)
	won, err = g.Reclaim(ctx, &b)
	require.NoError(t, err)
	assert.False(t, won)
}

func TestCompleteOutlivesCancelledContext(t *testing.T) {
	g := newTestGuard(t)
	claim, err := g.Claim(context.Background(), claimInput("evt_late"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, g.Release(ctx, claim.Event, errors.New("request timed out")))

	stored, err := g.Load(context.Background(), "stripe", "evt_late")
	require.NoError(t, err)
	assert.Equal(t, models.EventOutcomeFailed, stored.Outcome)
}

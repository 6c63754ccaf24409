package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/elevate-workforce/enrollpay/app/models"
)

// ClaimReason explains why a claim was not acquired.
type ClaimReason string

const (
	ClaimDuplicate  ClaimReason = "duplicate"
	ClaimInProgress ClaimReason = "in_progress"
)

// ClaimInput identifies a webhook delivery.
type ClaimInput struct {
	Provider  string
	EventID   string
	EventType string
	Payload   []byte
}

// Claim is the result of Guard.Claim. Exactly one concurrent caller per event
// sees Acquired == true.
type Claim struct {
	Acquired bool
	Reason   ClaimReason
	Event    *models.ProcessedEvent
}

const (
	// DefaultProcessingLease is how long a processing claim is honored
	// before another delivery or the redriver may take it over.
	DefaultProcessingLease = 30 * time.Minute

	ledgerWriteTimeout = 10 * time.Second
)

// Guard records each external event once and decides who processes it. The
// unique index on (provider, external_event_id) is the source of truth.
type Guard struct {
	repo  Repository
	lease time.Duration
	now   func() time.Time
}

// NewGuard creates an idempotency guard.
func NewGuard(repo Repository) *Guard {
	return &Guard{repo: repo, lease: DefaultProcessingLease, now: time.Now}
}

// WithLease replaces the processing lease.
func (g *Guard) WithLease(lease time.Duration) *Guard {
	if lease > 0 {
		g.lease = lease
	}
	return g
}

// WithClock replaces the wall clock, for tests.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Lease returns the processing lease.
func (g *Guard) Lease() time.Duration {
	return g.lease
}

func (g *Guard) staleBefore() time.Time {
	return g.now().Add(-g.lease)
}

// isStale reports whether a processing claim outlived its lease.
func (g *Guard) isStale(event *models.ProcessedEvent) bool {
	return event.Outcome == models.EventOutcomeProcessing && event.UpdatedAt.Before(g.staleBefore())
}

// Claim inserts the event with outcome processing. If the row already exists
// the claim is lost, except for events whose last attempt failed or whose
// processing lease expired: those are re-claimed atomically so a provider
// retry can resume provisioning.
func (g *Guard) Claim(ctx context.Context, in ClaimInput) (Claim, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	eventID := strings.TrimSpace(in.EventID)
	if provider == "" || eventID == "" {
		return Claim{}, invalidInput("idempotency.claim", "provider and event id are required")
	}

	event := &models.ProcessedEvent{
		Provider:        provider,
		ExternalEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     string(in.Payload),
		Outcome:         models.EventOutcomeProcessing,
		Attempts:        1,
	}
	created, stored, err := g.repo.CreateEventIfNotExists(ctx, event)
	if err != nil {
		return Claim{}, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	if created {
		return Claim{Acquired: true, Event: stored}, nil
	}

	switch {
	case stored.Outcome == models.EventOutcomeFailed || g.isStale(stored):
		won, err := g.Reclaim(ctx, stored)
		if err != nil {
			return Claim{}, err
		}
		if won {
			return Claim{Acquired: true, Event: stored}, nil
		}
		return Claim{Reason: ClaimInProgress, Event: stored}, nil
	case stored.Outcome == models.EventOutcomeProcessing:
		return Claim{Reason: ClaimInProgress, Event: stored}, nil
	default:
		return Claim{Reason: ClaimDuplicate, Event: stored}, nil
	}
}

// Complete records the terminal outcome of a claimed event. The write is
// detached from ctx cancellation: a request that timed out must still leave
// the event failed rather than processing.
func (g *Guard) Complete(ctx context.Context, event *models.ProcessedEvent, outcome string, procErr error) error {
	if event == nil || event.ID == 0 {
		return invalidInput("idempotency.complete", "event is required")
	}
	switch outcome {
	case models.EventOutcomeProcessed, models.EventOutcomeIgnored, models.EventOutcomeFailed:
	default:
		return invalidInput("idempotency.complete", "unknown outcome %q", outcome)
	}
	detail := ""
	if procErr != nil {
		detail = procErr.Error()
	}
	ctx, cancel := DetachedContext(ctx)
	defer cancel()
	if err := g.repo.CompleteEvent(ctx, event.ID, outcome, detail); err != nil {
		return fmt.Errorf("complete event %s: %w", event.ExternalEventID, err)
	}
	event.Outcome = outcome
	event.ErrorDetail = detail
	return nil
}

// Release marks a claimed event failed so the next delivery can retry it.
func (g *Guard) Release(ctx context.Context, event *models.ProcessedEvent, cause error) error {
	return g.Complete(ctx, event, models.EventOutcomeFailed, cause)
}

// Load returns the stored event for provider and event ID.
func (g *Guard) Load(ctx context.Context, provider, eventID string) (*models.ProcessedEvent, error) {
	return g.repo.GetEvent(ctx, provider, eventID)
}

// Stats returns event counts per outcome.
func (g *Guard) Stats(ctx context.Context) (map[string]int64, error) {
	return g.repo.CountEventsByOutcome(ctx)
}

// Failed lists failed events older than before that may be retried.
func (g *Guard) Failed(ctx context.Context, before time.Time, maxAttempts, limit int) ([]models.ProcessedEvent, error) {
	return g.repo.ListFailedEvents(ctx, before, maxAttempts, limit)
}

// Stale lists processing events whose lease expired, oldest first.
func (g *Guard) Stale(ctx context.Context, maxAttempts, limit int) ([]models.ProcessedEvent, error) {
	return g.repo.ListStaleEvents(ctx, g.staleBefore(), maxAttempts, limit)
}

// Reclaim takes a failed or stale processing event back for processing. It
// returns false when another worker or a provider redelivery got there first.
func (g *Guard) Reclaim(ctx context.Context, event *models.ProcessedEvent) (bool, error) {
	if event == nil || event.ID == 0 {
		return false, invalidInput("idempotency.reclaim", "event is required")
	}
	var (
		won bool
		err error
	)
	switch event.Outcome {
	case models.EventOutcomeFailed:
		won, err = g.repo.ReclaimFailedEvent(ctx, event.ID)
	case models.EventOutcomeProcessing:
		won, err = g.repo.ReclaimStaleEvent(ctx, event.ID, event.Attempts, g.staleBefore())
	default:
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reclaim event %s: %w", event.ExternalEventID, err)
	}
	if won {
		event.Outcome = models.EventOutcomeProcessing
		event.Attempts++
	}
	return won, nil
}

// DetachedContext keeps the values of ctx but not its deadline or
// cancellation, bounded by a short timeout of its own. Used for bookkeeping
// writes that must land even when the request gave up.
func DetachedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), ledgerWriteTimeout)
}

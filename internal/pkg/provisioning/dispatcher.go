package provisioning

import (
	"context"
	"fmt"
	"time"

	"github.com/elevate-workforce/enrollpay/app/models"
	"github.com/elevate-workforce/enrollpay/internal/pkg/billing"
	"github.com/elevate-workforce/enrollpay/internal/pkg/jobqueue"
	"github.com/gofiber/fiber/v2/log"
)

// Processor runs claimed events through the pipeline and records the
// outcome on the idempotency ledger.
type Processor struct {
	guard    *billing.Guard
	pipeline *Pipeline
}

// NewProcessor creates a processor.
func NewProcessor(guard *billing.Guard, pipeline *Pipeline) *Processor {
	return &Processor{guard: guard, pipeline: pipeline}
}

// Execute parses the stored payload and runs the pipeline. The ledger is
// left untouched.
func (p *Processor) Execute(ctx context.Context, event *models.ProcessedEvent) (*Result, error) {
	ev, err := billing.ParseEvent([]byte(event.PayloadJSON))
	if err != nil {
		return nil, err
	}
	return p.pipeline.Process(ctx, ev)
}

// Complete records the outcome matching res and procErr.
func (p *Processor) Complete(ctx context.Context, event *models.ProcessedEvent, res *Result, procErr error) (string, error) {
	outcome := OutcomeOf(res, procErr)
	return outcome, p.guard.Complete(ctx, event, outcome, procErr)
}

// Handle executes a claimed event and completes it.
func (p *Processor) Handle(ctx context.Context, event *models.ProcessedEvent) (*Result, error) {
	res, err := p.Execute(ctx, event)
	outcome, cerr := p.Complete(ctx, event, res, err)
	if cerr != nil {
		log.Errorf("[Provisioning] Failed to complete event %s: %v", event.ExternalEventID, cerr)
		if err == nil {
			err = cerr
		}
	}
	log.Infof("[Provisioning] Event %s (%s) finished as %s", event.ExternalEventID, event.EventType, outcome)
	return res, err
}

// OutcomeOf maps a pipeline result to a ledger outcome. Malformed payloads
// can never succeed and are ignored rather than retried.
func OutcomeOf(res *Result, err error) string {
	if err != nil {
		if billing.KindOf(err) == billing.KindInvalidInput {
			return models.EventOutcomeIgnored
		}
		return models.EventOutcomeFailed
	}
	if res != nil && res.Outcome == models.EventOutcomeIgnored {
		return models.EventOutcomeIgnored
	}
	return models.EventOutcomeProcessed
}

// Dispatcher hands a claimed event over for processing. A returned error
// means the event was not processed and its claim should be released.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *models.ProcessedEvent) error
}

// InlineDispatcher processes events on the calling goroutine. Used when no
// Redis is available.
type InlineDispatcher struct {
	processor *Processor
}

// NewInlineDispatcher creates an inline dispatcher.
func NewInlineDispatcher(processor *Processor) *InlineDispatcher {
	return &InlineDispatcher{processor: processor}
}

// Dispatch processes the event and reports failed outcomes as errors so the
// provider delivers the event again.
func (d *InlineDispatcher) Dispatch(ctx context.Context, event *models.ProcessedEvent) error {
	res, err := d.processor.Handle(ctx, event)
	if OutcomeOf(res, err) == models.EventOutcomeFailed {
		return err
	}
	return nil
}

// QueueDispatcher enqueues events on the Redis job queue. Only the event key
// travels through Redis; workers reload the payload from the ledger.
type QueueDispatcher struct {
	queue     *jobqueue.Queue
	processor *Processor
}

// NewQueueDispatcher creates a dispatcher and registers its job handler on
// queue.
func NewQueueDispatcher(queue *jobqueue.Queue, processor *Processor) *QueueDispatcher {
	d := &QueueDispatcher{queue: queue, processor: processor}
	queue.Register(jobqueue.JobTypeProcessPaymentEvent, d.HandleJob)
	return d
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, event *models.ProcessedEvent) error {
	payload := jobqueue.PaymentEventJobPayload{Provider: event.Provider, EventID: event.ExternalEventID}
	if _, err := d.queue.EnqueueJob(ctx, jobqueue.JobTypeProcessPaymentEvent, payload.ToMap()); err != nil {
		return fmt.Errorf("enqueue event %s: %w", event.ExternalEventID, err)
	}
	return nil
}

// HandleJob processes one queued event. While the job has retries left a
// failed run keeps the claim and returns the error so the queue retries it;
// the last attempt records the failure on the ledger for the redriver.
func (d *QueueDispatcher) HandleJob(ctx context.Context, job *jobqueue.Job) error {
	payload, err := jobqueue.PaymentEventJobPayloadFromMap(job.Payload)
	if err != nil || payload.EventID == "" {
		log.Errorf("[Provisioning] Job %s has an invalid payload: %v", job.ID, err)
		return nil
	}

	event, err := d.processor.guard.Load(ctx, payload.Provider, payload.EventID)
	if err != nil {
		return fmt.Errorf("load event %s: %w", payload.EventID, err)
	}
	if event.Outcome != models.EventOutcomeProcessing {
		log.Infof("[Provisioning] Event %s is %s, skipping job %s", event.ExternalEventID, event.Outcome, job.ID)
		return nil
	}

	res, procErr := d.processor.Execute(ctx, event)
	lastAttempt := job.RetryCount+1 >= job.MaxRetries
	if OutcomeOf(res, procErr) == models.EventOutcomeFailed && !lastAttempt {
		return procErr
	}

	outcome, err := d.processor.Complete(ctx, event, res, procErr)
	if err != nil {
		return err
	}
	log.Infof("[Provisioning] Event %s (%s) finished as %s", event.ExternalEventID, event.EventType, outcome)
	if outcome == models.EventOutcomeFailed {
		return procErr
	}
	return nil
}

// RedriveOptions limits what the redriver picks up.
type RedriveOptions struct {
	MinAge      time.Duration
	MaxAttempts int
	BatchSize   int
}

// Redriver re-dispatches failed events. The provider stops retrying once a
// delivery was acknowledged, so failures after an enqueue are only retried
// from here.
type Redriver struct {
	guard      *billing.Guard
	dispatcher Dispatcher
	opts       RedriveOptions
	now        func() time.Time
}

// NewRedriver creates a redriver. Zero options fall back to defaults.
func NewRedriver(guard *billing.Guard, dispatcher Dispatcher, opts RedriveOptions) *Redriver {
	if opts.MinAge <= 0 {
		opts.MinAge = 5 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	return &Redriver{guard: guard, dispatcher: dispatcher, opts: opts, now: time.Now}
}

// RedriveFailed re-claims failed events and processing events whose lease
// expired, and dispatches them again. It returns how many were dispatched.
func (r *Redriver) RedriveFailed(ctx context.Context) (int, error) {
	events, err := r.guard.Failed(ctx, r.now().Add(-r.opts.MinAge), r.opts.MaxAttempts, r.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list failed events: %w", err)
	}
	stale, err := r.guard.Stale(ctx, r.opts.MaxAttempts, r.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale events: %w", err)
	}
	for _, event := range stale {
		log.Warnf("[Provisioning] Event %s held its claim past the lease, redriving", event.ExternalEventID)
	}
	events = append(events, stale...)

	dispatched := 0
	for i := range events {
		event := &events[i]
		won, err := r.guard.Reclaim(ctx, event)
		if err != nil {
			return dispatched, err
		}
		if !won {
			continue
		}
		if err := r.dispatcher.Dispatch(ctx, event); err != nil {
			log.Warnf("[Provisioning] Redrive of event %s failed: %v", event.ExternalEventID, err)
			if event.Outcome == models.EventOutcomeProcessing {
				if rerr := r.guard.Release(ctx, event, err); rerr != nil {
					log.Errorf("[Provisioning] Failed to release event %s: %v", event.ExternalEventID, rerr)
				}
			}
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

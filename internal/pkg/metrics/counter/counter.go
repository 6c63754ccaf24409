package counter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Webhook delivery outcomes counted at the HTTP edge.
const (
	WebhookReceived         = "received"
	WebhookAccepted         = "accepted"
	WebhookDuplicate        = "duplicate"
	WebhookInProgress       = "in_progress"
	WebhookSignatureInvalid = "signature_invalid"
	WebhookInvalidPayload   = "invalid_payload"
	WebhookDispatchFailed   = "dispatch_failed"
)

const webhookCountersKey = "enrollpay:counters:webhooks"

// Counters keeps webhook delivery counters in a Redis hash. A nil client
// turns every call into a no-op so the service can run without Redis.
type Counters struct {
	client *redis.Client
	key    string
}

// New creates webhook counters on the given client.
func New(client *redis.Client) *Counters {
	return &Counters{client: client, key: webhookCountersKey}
}

// Add increments the counter for outcome.
func (c *Counters) Add(ctx context.Context, outcome string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.HIncrBy(ctx, c.key, outcome, 1).Err()
}

// Snapshot returns the current counters without resetting them.
func (c *Counters) Snapshot(ctx context.Context) (map[string]int64, error) {
	out := map[string]int64{}
	if c == nil || c.client == nil {
		return out, nil
	}
	data, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, err
	}
	return parseCounts(data), nil
}

// Drain atomically moves the hash to a temporary key and returns its counts,
// so increments that race with the drain land in a fresh hash.
func (c *Counters) Drain(ctx context.Context) (map[string]int64, error) {
	out := map[string]int64{}
	if c == nil || c.client == nil {
		return out, nil
	}

	tmpKey := fmt.Sprintf("%s:tmp:%d", c.key, time.Now().UnixNano())
	if err := c.client.Rename(ctx, c.key, tmpKey).Err(); err != nil {
		// Nothing counted yet
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return out, nil
		}
		return nil, err
	}
	defer c.client.Del(ctx, tmpKey)

	data, err := c.client.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return nil, err
	}
	return parseCounts(data), nil
}

func parseCounts(data map[string]string) map[string]int64 {
	out := make(map[string]int64, len(data))
	for k, v := range data {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out
}

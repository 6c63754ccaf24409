package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83/webhook"
)

const testWebhookSecret = "whsec_test_secret"

var testEventPayload = []byte(`{"id":"evt_123","type":"checkout.session.completed","created":1704902400,"livemode":false,"data":{"object":{"id":"cs_test_1","object":"checkout.session"}}}`)

func fixedVerifier(now time.Time) *Verifier {
	return &Verifier{Secret: testWebhookSecret, Tolerance: 5 * time.Minute, Now: func() time.Time { return now }}
}

func TestVerifyAcceptsStripeSignedPayload(t *testing.T) {
	now := time.Unix(1704902400, 0)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   testEventPayload,
		Secret:    testWebhookSecret,
		Timestamp: now,
		Scheme:    "v1",
	})

	event, err := fixedVerifier(now.Add(30*time.Second)).Verify(testEventPayload, signed.Header)
	require.NoError(t, err)

	assert.Equal(t, "evt_123", event.ID)
	assert.Equal(t, EventCheckoutCompleted, event.Type)
	assert.Equal(t, time.Unix(1704902400, 0).UTC(), event.Created)
	assert.JSONEq(t, `{"id":"cs_test_1","object":"checkout.session"}`, string(event.Object))
	assert.Equal(t, testEventPayload, event.Raw)
}

func TestSignPayloadMatchesStripe(t *testing.T) {
	now := time.Unix(1704902400, 0)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   testEventPayload,
		Secret:    testWebhookSecret,
		Timestamp: now,
		Scheme:    "v1",
	})

	assert.Equal(t, signed.Header, SignPayload(testEventPayload, testWebhookSecret, now))
}

func TestVerifyRejects(t *testing.T) {
	now := time.Unix(1704902400, 0)
	valid := SignPayload(testEventPayload, testWebhookSecret, now)

	tests := []struct {
		name    string
		payload []byte
		header  string
		at      time.Time
	}{
		{name: "missing header", payload: testEventPayload, header: "", at: now},
		{name: "malformed header", payload: testEventPayload, header: "garbage", at: now},
		{name: "missing timestamp", payload: testEventPayload, header: "v1=abcdef", at: now},
		{name: "missing v1", payload: testEventPayload, header: "t=1704902400,v0=abcdef", at: now},
		{name: "bad timestamp", payload: testEventPayload, header: "t=soon,v1=abcdef", at: now},
		{name: "tampered payload", payload: append([]byte(" "), testEventPayload...), header: valid, at: now},
		{name: "wrong secret", payload: testEventPayload, header: SignPayload(testEventPayload, "whsec_other", now), at: now},
		{name: "replayed outside tolerance", payload: testEventPayload, header: valid, at: now.Add(6 * time.Minute)},
		{name: "timestamp in the future", payload: testEventPayload, header: valid, at: now.Add(-6 * time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := fixedVerifier(tt.at).Verify(tt.payload, tt.header)
			require.Error(t, err)
			assert.Nil(t, event)
			assert.Equal(t, KindSignatureInvalid, KindOf(err))
		})
	}
}

func TestVerifyAcceptsAnyMatchingV1(t *testing.T) {
	now := time.Unix(1704902400, 0)
	good := SignPayload(testEventPayload, testWebhookSecret, now)
	header := "t=1704902400,v1=" + "00ff" + "," + good[len("t=1704902400,"):]

	_, err := fixedVerifier(now).Verify(testEventPayload, header)
	assert.NoError(t, err)
}

func TestVerifyRequiresSecret(t *testing.T) {
	now := time.Unix(1704902400, 0)
	v := &Verifier{Now: func() time.Time { return now }}

	_, err := v.Verify(testEventPayload, SignPayload(testEventPayload, "", now))
	assert.Equal(t, KindSignatureInvalid, KindOf(err))
}

func TestVerifyRejectsUnparsableEventAfterValidSignature(t *testing.T) {
	now := time.Unix(1704902400, 0)

	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "not json", payload: []byte(`not-json`)},
		{name: "missing id", payload: []byte(`{"type":"checkout.session.completed"}`)},
		{name: "missing type", payload: []byte(`{"id":"evt_1"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fixedVerifier(now).Verify(tt.payload, SignPayload(tt.payload, testWebhookSecret, now))
			require.Error(t, err)
			assert.Equal(t, KindInvalidInput, KindOf(err))
		})
	}
}

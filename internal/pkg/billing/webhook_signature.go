package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// DefaultSignatureTolerance is the replay window for signed webhooks.
const DefaultSignatureTolerance = 5 * time.Minute

// Verifier authenticates Stripe-style signed webhook deliveries. The header
// looks like "t=1700000000,v1=<hex>,v1=<hex>" and each v1 is an
// HMAC-SHA256 of "<t>.<raw body>" keyed with the endpoint secret.
type Verifier struct {
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

// NewVerifier returns a verifier with the default tolerance and wall clock.
func NewVerifier(secret string) *Verifier {
	return &Verifier{Secret: secret, Tolerance: DefaultSignatureTolerance, Now: time.Now}
}

// Verify checks the signature header against the raw payload and returns the
// parsed event. The payload must be the exact bytes received.
func (v *Verifier) Verify(payload []byte, header string) (*VerifiedEvent, error) {
	if err := v.verifySignature(payload, header); err != nil {
		return nil, err
	}
	return ParseEvent(payload)
}

func (v *Verifier) verifySignature(payload []byte, header string) error {
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return signatureInvalid("webhook secret is not configured")
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return signatureInvalid("missing signature header")
	}

	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}
	age := now().Sub(time.Unix(timestamp, 0))
	if age > tolerance {
		return signatureInvalid("timestamp outside tolerance")
	}
	if age < -tolerance {
		return signatureInvalid("timestamp in the future")
	}

	expected := computeSignature(payload, timestamp, secret)
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return signatureInvalid("no matching v1 signature")
}

func parseSignatureHeader(header string) (int64, [][]byte, error) {
	var (
		timestamp    int64
		hasTimestamp bool
		signatures   [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return 0, nil, signatureInvalid("malformed signature header")
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, signatureInvalid("malformed timestamp")
			}
			timestamp = ts
			hasTimestamp = true
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}
	if !hasTimestamp {
		return 0, nil, signatureInvalid("missing timestamp")
	}
	if len(signatures) == 0 {
		return 0, nil, signatureInvalid("missing v1 signature")
	}
	return timestamp, signatures, nil
}

func computeSignature(payload []byte, timestamp int64, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// SignPayload builds a valid signature header for payload. Used by local
// tooling and tests to simulate provider deliveries.
func SignPayload(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	return "t=" + strconv.FormatInt(ts, 10) + ",v1=" + hex.EncodeToString(computeSignature(payload, ts, secret))
}

package billing

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
)

// Event types handled by the pipeline.
const (
	EventCheckoutCompleted       = "checkout.session.completed"
	EventCheckoutAsyncSucceeded  = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncFailed     = "checkout.session.async_payment_failed"
	EventCheckoutExpired         = "checkout.session.expired"
	EventDisputeCreated          = "charge.dispute.created"
	EventDisputeFundsWithdrawn   = "charge.dispute.funds_withdrawn"
	EventChargeRefunded          = "charge.refunded"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaid             = "invoice.paid"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
)

// MetadataKindApprenticeship tags checkout sessions created by this service.
const MetadataKindApprenticeship = "apprenticeship_enrollment"

const (
	metadataKeyKind               = "kind"
	metadataKeyUserID             = "user_id"
	metadataKeyEnrollmentID       = "enrollment_id"
	metadataKeyHoursPerWeek       = "hours_per_week"
	metadataKeyTransferredHours   = "transferred_hours"
	metadataKeyWeeklyPaymentCents = "weekly_payment_cents"
	metadataKeyWeeksRemaining     = "weeks_remaining"
	metadataKeySetupFeeCents      = "setup_fee_cents"
	metadataKeyBillingAnchor      = "billing_anchor"
	metadataKeyProgramSlug        = "program_slug"

	checkoutPaymentStatusPaid      = "paid"
	checkoutPaymentStatusNoPayment = "no_payment_required"
)

// VerifiedEvent is a webhook event whose signature has been checked.
type VerifiedEvent struct {
	ID       string
	Type     string
	Created  time.Time
	Livemode bool
	Object   json.RawMessage
	Raw      []byte
}

type eventEnvelope struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Created  int64  `json:"created"`
	Livemode bool   `json:"livemode"`
	Data     struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseEvent decodes a raw webhook body. It does not check signatures; use
// Verifier.Verify for untrusted input.
func ParseEvent(payload []byte) (*VerifiedEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, &Error{Kind: KindInvalidInput, Op: "webhook.parse", Detail: "payload is not valid JSON", Err: err}
	}
	if strings.TrimSpace(env.ID) == "" || strings.TrimSpace(env.Type) == "" {
		return nil, invalidInput("webhook.parse", "event id and type are required")
	}
	return &VerifiedEvent{
		ID:       env.ID,
		Type:     env.Type,
		Created:  time.Unix(env.Created, 0).UTC(),
		Livemode: env.Livemode,
		Object:   env.Data.Object,
		Raw:      payload,
	}, nil
}

func (e *VerifiedEvent) decode(op string, v any) error {
	if len(e.Object) == 0 {
		return invalidInput(op, "event %s has no data object", e.ID)
	}
	if err := json.Unmarshal(e.Object, v); err != nil {
		return &Error{Kind: KindInvalidInput, Op: op, Detail: "cannot decode event object", Err: err}
	}
	return nil
}

// CheckoutSession decodes the event object as a checkout session.
func (e *VerifiedEvent) CheckoutSession() (*stripe.CheckoutSession, error) {
	var cs stripe.CheckoutSession
	if err := e.decode("webhook.checkout_session", &cs); err != nil {
		return nil, err
	}
	return &cs, nil
}

// Dispute decodes the event object as a dispute.
func (e *VerifiedEvent) Dispute() (*stripe.Dispute, error) {
	var d stripe.Dispute
	if err := e.decode("webhook.dispute", &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Charge decodes the event object as a charge.
func (e *VerifiedEvent) Charge() (*stripe.Charge, error) {
	var c stripe.Charge
	if err := e.decode("webhook.charge", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Invoice decodes the event object as an invoice.
func (e *VerifiedEvent) Invoice() (*stripe.Invoice, error) {
	var inv stripe.Invoice
	if err := e.decode("webhook.invoice", &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// IsProvisioningEvent reports whether the event may trigger provisioning.
func IsProvisioningEvent(eventType string) bool {
	return eventType == EventCheckoutCompleted || eventType == EventCheckoutAsyncSucceeded
}

// IsPaidCheckout reports whether a completed checkout has collected payment.
func IsPaidCheckout(cs *stripe.CheckoutSession) bool {
	switch string(cs.PaymentStatus) {
	case checkoutPaymentStatusPaid, checkoutPaymentStatusNoPayment:
		return true
	default:
		return false
	}
}

// EnrollmentMetadata is the state carried on a checkout session so the
// webhook can rebuild the enrollment without the local pending row.
type EnrollmentMetadata struct {
	Kind               string
	UserID             string
	EnrollmentID       string
	ProgramSlug        string
	HoursPerWeek       int
	TransferredHours   int
	WeeklyPaymentCents int64
	WeeksRemaining     int
	SetupFeeCents      int64
	BillingAnchor      time.Time
}

// IsApprenticeship reports whether the metadata belongs to an enrollment checkout.
func (m EnrollmentMetadata) IsApprenticeship() bool {
	return m.Kind == MetadataKindApprenticeship
}

// ToMap renders the metadata as provider key/value pairs.
func (m EnrollmentMetadata) ToMap() map[string]string {
	out := map[string]string{
		metadataKeyKind:               m.Kind,
		metadataKeyUserID:             m.UserID,
		metadataKeyProgramSlug:        m.ProgramSlug,
		metadataKeyHoursPerWeek:       strconv.Itoa(m.HoursPerWeek),
		metadataKeyTransferredHours:   strconv.Itoa(m.TransferredHours),
		metadataKeyWeeklyPaymentCents: strconv.FormatInt(m.WeeklyPaymentCents, 10),
		metadataKeyWeeksRemaining:     strconv.Itoa(m.WeeksRemaining),
		metadataKeySetupFeeCents:      strconv.FormatInt(m.SetupFeeCents, 10),
	}
	if m.EnrollmentID != "" {
		out[metadataKeyEnrollmentID] = m.EnrollmentID
	}
	if !m.BillingAnchor.IsZero() {
		out[metadataKeyBillingAnchor] = strconv.FormatInt(m.BillingAnchor.Unix(), 10)
	}
	return out
}

// ParseEnrollmentMetadata reads enrollment metadata back from provider
// key/value pairs. Missing numeric values are left at zero.
func ParseEnrollmentMetadata(md map[string]string) EnrollmentMetadata {
	m := EnrollmentMetadata{
		Kind:         md[metadataKeyKind],
		UserID:       md[metadataKeyUserID],
		EnrollmentID: md[metadataKeyEnrollmentID],
		ProgramSlug:  md[metadataKeyProgramSlug],
	}
	m.HoursPerWeek, _ = strconv.Atoi(md[metadataKeyHoursPerWeek])
	m.TransferredHours, _ = strconv.Atoi(md[metadataKeyTransferredHours])
	m.WeeksRemaining, _ = strconv.Atoi(md[metadataKeyWeeksRemaining])
	m.WeeklyPaymentCents, _ = strconv.ParseInt(md[metadataKeyWeeklyPaymentCents], 10, 64)
	m.SetupFeeCents, _ = strconv.ParseInt(md[metadataKeySetupFeeCents], 10, 64)
	if ts, err := strconv.ParseInt(md[metadataKeyBillingAnchor], 10, 64); err == nil && ts > 0 {
		m.BillingAnchor = time.Unix(ts, 0).UTC()
	}
	if m.ProgramSlug == "" {
		m.ProgramSlug = ProgramApprenticeship
	}
	return m
}

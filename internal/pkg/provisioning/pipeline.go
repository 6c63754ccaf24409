package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/elevate-workforce/enrollpay/app/models"
	"github.com/elevate-workforce/enrollpay/app/repository"
	"github.com/elevate-workforce/enrollpay/internal/pkg/billing"
	"github.com/elevate-workforce/enrollpay/internal/pkg/mail"
	"github.com/elevate-workforce/enrollpay/internal/pkg/mq"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Config holds the pipeline settings that do not come from the event.
type Config struct {
	Provider          string
	Pricing           billing.Pricing
	ActivationBaseURL string
}

// Pipeline turns verified payment events into provisioned tenants, licenses
// and admin accounts. Every side effect is find-or-create on a unique key and
// is followed by an audit entry, so a run can be repeated after any crash.
type Pipeline struct {
	repos     *repository.Repositories
	provider  billing.PaymentsProvider
	mailer    Mailer
	publisher Publisher
	cfg       Config
	now       func() time.Time
}

// NewPipeline creates a pipeline. provider and publisher may be nil.
func NewPipeline(repos *repository.Repositories, provider billing.PaymentsProvider, mailer Mailer, publisher Publisher, cfg Config) *Pipeline {
	if cfg.Provider == "" {
		cfg.Provider = models.BillingProviderStripe
	}
	if mailer == nil {
		mailer = mail.LogMailer{}
	}
	return &Pipeline{
		repos:     repos,
		provider:  provider,
		mailer:    mailer,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithClock replaces the wall clock, for tests.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Process routes a verified event to its handler.
func (p *Pipeline) Process(ctx context.Context, ev *billing.VerifiedEvent) (*Result, error) {
	switch ev.Type {
	case billing.EventCheckoutCompleted, billing.EventCheckoutAsyncSucceeded:
		return p.Provision(ctx, ev)
	case billing.EventCheckoutAsyncFailed:
		return p.CloseCheckout(ctx, ev, models.PaymentSessionStatusFailed)
	case billing.EventCheckoutExpired:
		return p.CloseCheckout(ctx, ev, models.PaymentSessionStatusExpired)
	case billing.EventDisputeCreated, billing.EventDisputeFundsWithdrawn, billing.EventChargeRefunded:
		return p.Suspend(ctx, ev)
	case billing.EventInvoicePaymentSucceeded, billing.EventInvoicePaid:
		return p.RecordInvoicePayment(ctx, ev)
	case billing.EventInvoicePaymentFailed:
		return p.RecordInvoiceFailure(ctx, ev)
	default:
		return ignored(newResult(ev), "unhandled event type"), nil
	}
}

// enrollment is the state carried between provisioning steps.
type enrollment struct {
	event    *billing.VerifiedEvent
	checkout *stripe.CheckoutSession
	meta     billing.EnrollmentMetadata
	email    string
	name     string
	session  *models.PaymentSession
	tenant   *models.Tenant
	license  *models.License
	admin    *models.User
}

func (e *enrollment) refs() auditRefs {
	var r auditRefs
	if e.session != nil {
		r.SessionID = e.session.ID
	}
	if e.tenant != nil {
		r.TenantID = e.tenant.ID
	}
	if e.license != nil {
		r.LicenseID = e.license.ID
	}
	return r
}

type step struct {
	name string
	run  func(ctx context.Context, e *enrollment) (map[string]interface{}, error)
	// load restores the step's output when the step was audited by an
	// earlier run.
	load func(ctx context.Context, e *enrollment) error
}

func (p *Pipeline) steps() []step {
	return []step{
		{name: models.AuditStepPaymentReceived, run: p.recordPayment, load: p.loadSession},
		{name: models.AuditStepTenantCreated, run: p.createTenant, load: p.loadTenant},
		{name: models.AuditStepLicenseCreated, run: p.createLicense, load: p.loadLicense},
		{name: models.AuditStepAdminCreated, run: p.createAdmin, load: p.loadAdmin},
		{name: models.AuditStepEmailSent, run: p.sendWelcome},
		{name: models.AuditStepComplete, run: p.finish},
	}
}

// Provision runs the provisioning steps for a paid enrollment checkout.
// Steps already audited for the event are skipped, so a redelivered or
// redriven event resumes where the last attempt stopped.
func (p *Pipeline) Provision(ctx context.Context, ev *billing.VerifiedEvent) (*Result, error) {
	res := newResult(ev)

	cs, err := ev.CheckoutSession()
	if err != nil {
		return res, err
	}
	if !billing.IsPaidCheckout(cs) {
		return ignored(res, "payment not settled yet"), nil
	}
	meta := billing.ParseEnrollmentMetadata(cs.Metadata)
	if !meta.IsApprenticeship() {
		return ignored(res, "not an enrollment checkout"), nil
	}
	if strings.TrimSpace(meta.UserID) == "" {
		return res, billing.NewError(billing.KindInvalidInput, "provisioning.provision", errors.New("checkout metadata has no user_id"))
	}

	done, err := p.repos.Audit.CompletedSteps(ctx, ev.ID)
	if err != nil {
		return res, fmt.Errorf("load audit trail: %w", err)
	}
	if _, ok := done[models.AuditStepComplete]; ok {
		res.Outcome = models.EventOutcomeProcessed
		res.Reason = "already provisioned"
		return res, nil
	}

	e := &enrollment{event: ev, checkout: cs, meta: meta}
	p.resolveContact(ctx, e)

	for _, s := range p.steps() {
		if _, ok := done[s.name]; ok {
			if s.load != nil {
				if err := s.load(ctx, e); err != nil {
					return res, p.fail(ctx, e, s.name, err)
				}
			}
			res.Skipped = append(res.Skipped, s.name)
			continue
		}

		detail, err := s.run(ctx, e)
		if err != nil {
			return res, p.fail(ctx, e, s.name, err)
		}
		if err := p.audit(ctx, ev.ID, s.name, e.refs(), detail, ""); err != nil {
			return res, p.fail(ctx, e, s.name, fmt.Errorf("write audit entry: %w", err))
		}
		res.Steps = append(res.Steps, s.name)
	}

	res.Outcome = models.EventOutcomeProcessed
	res.TenantID = e.tenant.ID
	res.LicenseID = e.license.ID
	log.Infof("[Provisioning] Event %s provisioned tenant %d with license %d", ev.ID, e.tenant.ID, e.license.ID)
	return res, nil
}

// resolveContact picks the admin email and name from the checkout, falling
// back to the billing account stored at checkout time.
func (p *Pipeline) resolveContact(ctx context.Context, e *enrollment) {
	if d := e.checkout.CustomerDetails; d != nil {
		e.email = d.Email
		e.name = d.Name
	}
	if e.email == "" {
		e.email = e.checkout.CustomerEmail
	}
	if e.email == "" {
		account, err := p.repos.Billing.GetBillingAccount(ctx, e.meta.UserID, p.cfg.Provider)
		if err == nil {
			e.email = account.Email
		}
	}
	e.email = strings.ToLower(strings.TrimSpace(e.email))
}

func (p *Pipeline) recordPayment(ctx context.Context, e *enrollment) (map[string]interface{}, error) {
	sessions := p.repos.PaymentSession

	ps, err := sessions.GetByExternalID(ctx, p.cfg.Provider, e.checkout.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("[Provisioning] No pending session for %s, rebuilding it from metadata", e.checkout.ID)
		ps, _, err = sessions.CreateIfNotExists(ctx, p.sessionFromMetadata(e), "recovered from webhook metadata")
	}
	if err != nil {
		return nil, fmt.Errorf("load payment session: %w", err)
	}

	customerID, subscriptionID, paymentIntentID := checkoutRefs(e.checkout)
	if ps.Status == models.PaymentSessionStatusPending {
		fields := map[string]interface{}{"completed_at": p.now()}
		if customerID != "" {
			fields["customer_id"] = customerID
		}
		if subscriptionID != "" {
			fields["subscription_id"] = subscriptionID
		}
		if paymentIntentID != "" {
			fields["payment_intent_id"] = paymentIntentID
		}
		if e.checkout.AmountTotal > 0 {
			fields["amount_total_cents"] = e.checkout.AmountTotal
		}
		if _, err := sessions.Transition(ctx, ps, models.PaymentSessionStatusCompleted, e.event.ID, "payment received", fields); err != nil {
			return nil, fmt.Errorf("complete payment session: %w", err)
		}
	} else if err := sessions.UpdateRefs(ctx, ps.ID, customerID, subscriptionID, paymentIntentID); err != nil {
		return nil, fmt.Errorf("update payment refs: %w", err)
	}

	if err := p.loadSession(ctx, e); err != nil {
		return nil, err
	}
	if e.session.Status != models.PaymentSessionStatusCompleted {
		return nil, fmt.Errorf("payment session %s is %s", e.session.ExternalSessionID, e.session.Status)
	}
	return map[string]interface{}{
		"session_id":  e.session.ExternalSessionID,
		"customer_id": e.session.CustomerID,
		"amount":      e.session.AmountTotalCents,
	}, nil
}

func (p *Pipeline) loadSession(ctx context.Context, e *enrollment) error {
	ps, err := p.repos.PaymentSession.GetByExternalID(ctx, p.cfg.Provider, e.checkout.ID)
	if err != nil {
		return fmt.Errorf("load payment session: %w", err)
	}
	e.session = ps
	return nil
}

func (p *Pipeline) sessionFromMetadata(e *enrollment) *models.PaymentSession {
	m := e.meta
	anchor := m.BillingAnchor
	if anchor.IsZero() {
		anchor = billing.NextBillingAnchor(e.event.Created, p.cfg.Pricing.Anchor)
	}
	ps := &models.PaymentSession{
		Provider:           p.cfg.Provider,
		ExternalSessionID:  e.checkout.ID,
		UserID:             m.UserID,
		EnrollmentID:       m.EnrollmentID,
		ProgramSlug:        m.ProgramSlug,
		Status:             models.PaymentSessionStatusPending,
		SetupFeeCents:      m.SetupFeeCents,
		WeeklyPaymentCents: m.WeeklyPaymentCents,
		WeeksRemaining:     m.WeeksRemaining,
		HoursPerWeek:       m.HoursPerWeek,
		TransferredHours:   m.TransferredHours,
		BillingAnchorAt:    anchor.UTC(),
	}
	if schedule, err := p.cfg.Pricing.Compute(m.HoursPerWeek, m.TransferredHours); err == nil {
		ps.HoursRemaining = schedule.HoursRemaining
		if b, err := json.Marshal(schedule); err == nil {
			ps.ScheduleSnapshot = datatypes.JSON(b)
		}
	}
	return ps
}

func (p *Pipeline) createTenant(ctx context.Context, e *enrollment) (map[string]interface{}, error) {
	tenant, created, err := p.repos.Tenant.FindOrCreate(ctx, &models.Tenant{
		PublicID:         uuid.NewString(),
		Name:             tenantName(e),
		ProgramSlug:      e.session.ProgramSlug,
		OwnerUserID:      e.session.UserID,
		SourcePaymentRef: e.session.ExternalSessionID,
		Status:           models.TenantStatusActive,
	})
	if err != nil {
		return nil, fmt.Errorf("create tenant: %w", err)
	}
	e.tenant = tenant
	return map[string]interface{}{"tenant_id": tenant.ID, "public_id": tenant.PublicID, "created": created}, nil
}

func (p *Pipeline) loadTenant(ctx context.Context, e *enrollment) error {
	tenant, err := p.repos.Tenant.GetBySourcePaymentRef(ctx, e.checkout.ID)
	if err != nil {
		return fmt.Errorf("load tenant: %w", err)
	}
	e.tenant = tenant
	return nil
}

func (p *Pipeline) createLicense(ctx context.Context, e *enrollment) (map[string]interface{}, error) {
	ps := e.session
	license := &models.License{
		TenantID:             e.tenant.ID,
		PaymentSessionID:     ps.ID,
		ProgramSlug:          ps.ProgramSlug,
		Status:               models.LicenseStatusActive,
		StripeCustomerID:     ps.CustomerID,
		StripeSubscriptionID: ps.SubscriptionID,
		WeeksTotal:           ps.WeeksRemaining,
		WeeklyPaymentCents:   ps.WeeklyPaymentCents,
	}
	if ps.DisputedAt != nil {
		license.Status = models.LicenseStatusSuspended
		license.SuspendedAt = ps.DisputedAt
		license.SuspendedReason = "payment disputed before provisioning"
	}

	stored, created, err := p.repos.License.FindOrCreate(ctx, license)
	if err != nil {
		return nil, fmt.Errorf("create license: %w", err)
	}
	e.license = stored

	// A dispute may have flagged the session while the license was inserted.
	if created && stored.Status == models.LicenseStatusActive {
		if fresh, err := p.repos.PaymentSession.GetByExternalID(ctx, p.cfg.Provider, ps.ExternalSessionID); err == nil && fresh.DisputedAt != nil {
			if _, err := p.repos.License.UpdateStatus(ctx, stored.ID, []string{models.LicenseStatusActive}, models.LicenseStatusSuspended, map[string]interface{}{
				"suspended_at":     *fresh.DisputedAt,
				"suspended_reason": "payment disputed before provisioning",
			}); err != nil {
				return nil, fmt.Errorf("suspend disputed license: %w", err)
			}
			stored.Status = models.LicenseStatusSuspended
		}
	}

	detail := map[string]interface{}{
		"license_id":  stored.ID,
		"status":      stored.Status,
		"weeks_total": stored.WeeksTotal,
		"created":     created,
	}

	if p.provider != nil && stored.StripeSubscriptionID != "" && stored.WeeksTotal > 0 {
		cancelAt := billing.SubscriptionEnd(ps.BillingAnchorAt, stored.WeeksTotal)
		if err := p.provider.SetSubscriptionEnd(ctx, stored.StripeSubscriptionID, cancelAt); err != nil {
			return nil, err
		}
		detail["cancel_at"] = cancelAt.UTC().Format(time.RFC3339)
	}

	if created && stored.Status == models.LicenseStatusSuspended {
		p.alert(ctx, mq.TopicLicenseSuspended, SuspensionAlert{
			EventID:   e.event.ID,
			EventType: e.event.Type,
			LicenseID: stored.ID,
			TenantID:  stored.TenantID,
			Reason:    "payment disputed before provisioning",
		})
	}
	return detail, nil
}

func (p *Pipeline) loadLicense(ctx context.Context, e *enrollment) error {
	license, err := p.repos.License.GetByPaymentSession(ctx, e.session.ID)
	if err != nil {
		return fmt.Errorf("load license: %w", err)
	}
	e.license = license
	return nil
}

func (p *Pipeline) createAdmin(ctx context.Context, e *enrollment) (map[string]interface{}, error) {
	if e.email == "" {
		return nil, fmt.Errorf("checkout %s has no customer email", e.checkout.ID)
	}
	admin, err := models.NewTenantAdmin(e.session.UserID, e.name, e.email, e.tenant.ID)
	if err != nil {
		return nil, fmt.Errorf("build tenant admin: %w", err)
	}

	stored, created, err := p.repos.User.FindOrCreateByEmail(ctx, admin)
	if err != nil {
		return nil, fmt.Errorf("create tenant admin: %w", err)
	}
	if !created && stored.TenantID == nil {
		if err := p.repos.User.LinkTenant(ctx, stored.ID, e.tenant.ID); err != nil {
			return nil, fmt.Errorf("link tenant admin: %w", err)
		}
		tenantID := e.tenant.ID
		stored.TenantID = &tenantID
	}
	e.admin = stored
	return map[string]interface{}{"user_id": stored.ID, "created": created}, nil
}

func (p *Pipeline) loadAdmin(ctx context.Context, e *enrollment) error {
	if e.email == "" {
		return fmt.Errorf("checkout %s has no customer email", e.checkout.ID)
	}
	admin, err := p.repos.User.GetByEmail(ctx, e.email)
	if err != nil {
		return fmt.Errorf("load tenant admin: %w", err)
	}
	e.admin = admin
	return nil
}

func (p *Pipeline) sendWelcome(ctx context.Context, e *enrollment) (map[string]interface{}, error) {
	activation := ""
	if !e.admin.IsActive() && e.admin.ActivationToken != "" && p.cfg.ActivationBaseURL != "" {
		activation = strings.TrimRight(p.cfg.ActivationBaseURL, "/") + "/" + e.admin.ActivationToken
	}
	firstBilling := e.session.BillingAnchorAt
	if loc := p.cfg.Pricing.Anchor.Location; loc != nil {
		firstBilling = firstBilling.In(loc)
	}

	err := p.mailer.SendWelcome(ctx, mail.Welcome{
		To:                 e.admin.Email,
		Name:               e.admin.Name,
		ProgramSlug:        e.session.ProgramSlug,
		ActivationURL:      activation,
		SetupFeeCents:      e.session.SetupFeeCents,
		WeeklyPaymentCents: e.session.WeeklyPaymentCents,
		WeeksRemaining:     e.session.WeeksRemaining,
		FirstBillingDate:   firstBilling,
	})
	if err != nil {
		return nil, fmt.Errorf("send welcome email: %w", err)
	}
	if err := p.repos.User.MarkActivationSent(ctx, e.admin.ID, p.now()); err != nil {
		log.Warnf("[Provisioning] Failed to stamp activation mail for user %d: %v", e.admin.ID, err)
	}
	return map[string]interface{}{"to": e.admin.Email, "activation": activation != ""}, nil
}

func (p *Pipeline) finish(_ context.Context, e *enrollment) (map[string]interface{}, error) {
	return map[string]interface{}{
		"tenant_id":  e.tenant.ID,
		"license_id": e.license.ID,
		"user_id":    e.admin.ID,
	}, nil
}

// fail records a failed step, alerts operators and returns the typed error.
func (p *Pipeline) fail(ctx context.Context, e *enrollment, stepName string, cause error) error {
	log.Errorf("[Provisioning] Step %s failed for event %s: %v", stepName, e.event.ID, cause)

	// the step may have failed because ctx expired
	ctx, cancel := billing.DetachedContext(ctx)
	defer cancel()

	if err := p.audit(ctx, e.event.ID, models.AuditStepProvisioningFailed, e.refs(),
		map[string]interface{}{"step": stepName}, cause.Error()); err != nil {
		log.Errorf("[Provisioning] Failed to audit failure of event %s: %v", e.event.ID, err)
	}

	alert := FailureAlert{
		EventID:   e.event.ID,
		EventType: e.event.Type,
		Step:      stepName,
		Error:     cause.Error(),
		SessionID: e.checkout.ID,
		UserID:    e.meta.UserID,
	}
	p.alert(ctx, mq.TopicProvisioningFailed, alert)

	return billing.NewError(billing.KindProvisioningStepFailure, "provisioning."+stepName, cause)
}

type auditRefs struct {
	SessionID uint
	TenantID  uint
	LicenseID uint
}

func (p *Pipeline) audit(ctx context.Context, correlationID, stepName string, refs auditRefs, detail map[string]interface{}, errorDetail string) error {
	entry := &models.ProvisioningAuditEntry{
		CorrelationID:    correlationID,
		Step:             stepName,
		PaymentSessionID: optionalID(refs.SessionID),
		TenantID:         optionalID(refs.TenantID),
		LicenseID:        optionalID(refs.LicenseID),
		ErrorDetail:      errorDetail,
	}
	if detail != nil {
		b, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("marshal audit detail: %w", err)
		}
		entry.Detail = datatypes.JSON(b)
	}
	return p.repos.Audit.Append(ctx, entry)
}

func (p *Pipeline) alert(ctx context.Context, topic string, v any) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishJSON(ctx, topic, v); err != nil {
		log.Errorf("[Provisioning] Failed to publish %s alert: %v", topic, err)
	}
}

func newResult(ev *billing.VerifiedEvent) *Result {
	return &Result{EventID: ev.ID, EventType: ev.Type}
}

func ignored(res *Result, reason string) *Result {
	res.Outcome = models.EventOutcomeIgnored
	res.Reason = reason
	return res
}

func optionalID(id uint) *uint {
	if id == 0 {
		return nil
	}
	return &id
}

func tenantName(e *enrollment) string {
	switch {
	case e.name != "":
		return e.name
	case e.email != "":
		return e.email
	default:
		return "Enrollment " + e.meta.UserID
	}
}

func checkoutRefs(cs *stripe.CheckoutSession) (customerID, subscriptionID, paymentIntentID string) {
	if cs.Customer != nil {
		customerID = cs.Customer.ID
	}
	if cs.Subscription != nil {
		subscriptionID = cs.Subscription.ID
	}
	if cs.PaymentIntent != nil {
		paymentIntentID = cs.PaymentIntent.ID
	}
	return customerID, subscriptionID, paymentIntentID
}

package provisioning

import (
	"context"
	"errors"
	"fmt"

	"github.com/elevate-workforce/enrollpay/app/models"
	"github.com/elevate-workforce/enrollpay/internal/pkg/billing"
	"github.com/elevate-workforce/enrollpay/internal/pkg/mq"
	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v83"
	"gorm.io/gorm"
)

// chargeRef identifies the payment a revenue-protection event is about.
type chargeRef struct {
	ChargeID        string
	PaymentIntentID string
	CustomerID      string
}

// Suspend handles disputes and full refunds. The license of the disputed
// payment moves from active or past_due to suspended. When provisioning has
// not produced a license yet, the payment session is flagged so the license
// is created suspended.
func (p *Pipeline) Suspend(ctx context.Context, ev *billing.VerifiedEvent) (*Result, error) {
	res := newResult(ev)

	ref, reason, err := revenueTarget(ev)
	if err != nil {
		return res, err
	}
	if ref == nil {
		return ignored(res, "charge not fully refunded"), nil
	}

	ps, license, err := p.resolveLicense(ctx, ref)
	if err != nil {
		return res, err
	}
	now := p.now()

	switch {
	case license != nil:
		res.LicenseID = license.ID
		res.TenantID = license.TenantID
		moved, err := p.repos.License.UpdateStatus(ctx, license.ID,
			[]string{models.LicenseStatusActive, models.LicenseStatusPastDue},
			models.LicenseStatusSuspended,
			map[string]interface{}{"suspended_at": now, "suspended_reason": reason})
		if err != nil {
			return res, fmt.Errorf("suspend license %d: %w", license.ID, err)
		}
		if !moved {
			res.Outcome = models.EventOutcomeProcessed
			res.Reason = "license already " + license.Status
			return res, nil
		}

		refs := auditRefs{SessionID: license.PaymentSessionID, TenantID: license.TenantID, LicenseID: license.ID}
		if err := p.audit(ctx, ev.ID, models.AuditStepLicenseSuspended, refs, map[string]interface{}{
			"reason":          reason,
			"previous_status": license.Status,
			"charge_id":       ref.ChargeID,
		}, ""); err != nil {
			return res, fmt.Errorf("audit suspension: %w", err)
		}
		p.alert(ctx, mq.TopicLicenseSuspended, SuspensionAlert{
			EventID:   ev.ID,
			EventType: ev.Type,
			LicenseID: license.ID,
			TenantID:  license.TenantID,
			Reason:    reason,
		})
		log.Warnf("[Provisioning] License %d suspended: %s", license.ID, reason)
		res.Steps = append(res.Steps, models.AuditStepLicenseSuspended)

	case ps != nil:
		if err := p.repos.PaymentSession.MarkDisputed(ctx, ps.ID, now); err != nil {
			return res, fmt.Errorf("flag disputed session %d: %w", ps.ID, err)
		}
		if err := p.audit(ctx, ev.ID, models.AuditStepLicenseSuspended, auditRefs{SessionID: ps.ID}, map[string]interface{}{
			"reason":   reason,
			"deferred": true,
		}, ""); err != nil {
			return res, fmt.Errorf("audit suspension: %w", err)
		}
		log.Warnf("[Provisioning] Payment session %s disputed before provisioning", ps.ExternalSessionID)
		res.Reason = "license not provisioned yet, session flagged"
		res.Steps = append(res.Steps, models.AuditStepLicenseSuspended)

	default:
		log.Warnf("[Provisioning] No enrollment found for %s on charge %s", ev.Type, ref.ChargeID)
		return ignored(res, "no matching enrollment"), nil
	}

	res.Outcome = models.EventOutcomeProcessed
	return res, nil
}

func revenueTarget(ev *billing.VerifiedEvent) (*chargeRef, string, error) {
	switch ev.Type {
	case billing.EventChargeRefunded:
		c, err := ev.Charge()
		if err != nil {
			return nil, "", err
		}
		if !c.Refunded {
			return nil, "", nil
		}
		ref := &chargeRef{ChargeID: c.ID}
		if c.PaymentIntent != nil {
			ref.PaymentIntentID = c.PaymentIntent.ID
		}
		if c.Customer != nil {
			ref.CustomerID = c.Customer.ID
		}
		return ref, "charge refunded", nil
	default:
		d, err := ev.Dispute()
		if err != nil {
			return nil, "", err
		}
		ref := &chargeRef{}
		if d.Charge != nil {
			ref.ChargeID = d.Charge.ID
		}
		if d.PaymentIntent != nil {
			ref.PaymentIntentID = d.PaymentIntent.ID
		}
		reason := "payment disputed"
		if d.Reason != "" {
			reason += ": " + string(d.Reason)
		}
		return ref, reason, nil
	}
}

// resolveLicense finds the payment session and license a charge belongs to,
// first by payment intent, then by customer. Disputes carry no customer, so
// the charge is looked up at the provider.
func (p *Pipeline) resolveLicense(ctx context.Context, ref *chargeRef) (*models.PaymentSession, *models.License, error) {
	ps, err := p.findSessionByIntent(ctx, ref.PaymentIntentID)
	if err != nil {
		return nil, nil, err
	}

	if ps == nil && ref.CustomerID == "" && ref.ChargeID != "" && p.provider != nil {
		customerID, paymentIntentID, err := p.provider.ChargeCustomer(ctx, ref.ChargeID)
		if err != nil {
			return nil, nil, err
		}
		ref.CustomerID = customerID
		if ref.PaymentIntentID == "" && paymentIntentID != "" {
			ref.PaymentIntentID = paymentIntentID
			if ps, err = p.findSessionByIntent(ctx, paymentIntentID); err != nil {
				return nil, nil, err
			}
		}
	}

	if ps != nil {
		license, err := p.repos.License.GetByPaymentSession(ctx, ps.ID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ps, nil, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("load license: %w", err)
		}
		return ps, license, nil
	}

	if ref.CustomerID == "" {
		return nil, nil, nil
	}
	license, err := p.repos.License.GetLatestByCustomer(ctx, ref.CustomerID)
	if err == nil {
		return nil, license, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("load license: %w", err)
	}
	ps, err = p.repos.PaymentSession.GetLatestByCustomer(ctx, ref.CustomerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load payment session: %w", err)
	}
	return ps, nil, nil
}

func (p *Pipeline) findSessionByIntent(ctx context.Context, paymentIntentID string) (*models.PaymentSession, error) {
	if paymentIntentID == "" {
		return nil, nil
	}
	ps, err := p.repos.PaymentSession.GetByPaymentIntent(ctx, paymentIntentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load payment session: %w", err)
	}
	return ps, nil
}

// RecordInvoicePayment counts a settled weekly invoice and lifts a past_due
// license back to active. invoice.paid and invoice.payment_succeeded arrive
// for the same invoice under different event IDs; the license_payments
// unique key counts it once.
func (p *Pipeline) RecordInvoicePayment(ctx context.Context, ev *billing.VerifiedEvent) (*Result, error) {
	res := newResult(ev)
	inv, license, err := p.invoiceLicense(ctx, ev)
	if err != nil {
		return res, err
	}
	if inv.BillingReason == stripe.InvoiceBillingReasonSubscriptionCreate {
		return ignored(res, "initial invoice"), nil
	}
	if license == nil {
		return ignored(res, "no license for customer"), nil
	}
	res.LicenseID = license.ID
	res.TenantID = license.TenantID

	paidAt := ev.Created
	if paidAt.IsZero() || paidAt.Unix() == 0 {
		paidAt = p.now()
	}
	recorded, err := p.repos.License.RecordPayment(ctx, &models.LicensePayment{
		LicenseID:         license.ID,
		Provider:          p.cfg.Provider,
		ExternalInvoiceID: inv.ID,
		EventID:           ev.ID,
		AmountPaidCents:   inv.AmountPaid,
		PaidAt:            paidAt.UTC(),
	})
	if err != nil {
		return res, fmt.Errorf("record weekly payment: %w", err)
	}
	if !recorded {
		res.Outcome = models.EventOutcomeProcessed
		res.Reason = "invoice already recorded"
		return res, nil
	}

	reactivated, err := p.repos.License.UpdateStatus(ctx, license.ID,
		[]string{models.LicenseStatusPastDue}, models.LicenseStatusActive, nil)
	if err != nil {
		return res, fmt.Errorf("reactivate license: %w", err)
	}

	refs := auditRefs{SessionID: license.PaymentSessionID, TenantID: license.TenantID, LicenseID: license.ID}
	if err := p.audit(ctx, "invoice:"+inv.ID, models.AuditStepWeeklyPaymentRecorded, refs, map[string]interface{}{
		"event_id":    ev.ID,
		"amount_paid": inv.AmountPaid,
		"reactivated": reactivated,
	}, ""); err != nil {
		return res, fmt.Errorf("audit weekly payment: %w", err)
	}

	res.Outcome = models.EventOutcomeProcessed
	res.Steps = append(res.Steps, models.AuditStepWeeklyPaymentRecorded)
	return res, nil
}

// RecordInvoiceFailure moves an active license to past_due.
func (p *Pipeline) RecordInvoiceFailure(ctx context.Context, ev *billing.VerifiedEvent) (*Result, error) {
	res := newResult(ev)
	inv, license, err := p.invoiceLicense(ctx, ev)
	if err != nil {
		return res, err
	}
	if license == nil {
		return ignored(res, "no license for customer"), nil
	}
	res.LicenseID = license.ID
	res.TenantID = license.TenantID

	moved, err := p.repos.License.UpdateStatus(ctx, license.ID,
		[]string{models.LicenseStatusActive}, models.LicenseStatusPastDue, nil)
	if err != nil {
		return res, fmt.Errorf("mark license past due: %w", err)
	}
	res.Outcome = models.EventOutcomeProcessed
	if !moved {
		res.Reason = "license already " + license.Status
		return res, nil
	}

	refs := auditRefs{SessionID: license.PaymentSessionID, TenantID: license.TenantID, LicenseID: license.ID}
	if err := p.audit(ctx, "invoice:"+inv.ID, models.AuditStepWeeklyPaymentFailed, refs, map[string]interface{}{
		"event_id":    ev.ID,
		"amount_due":  inv.AmountDue,
		"attempt":     inv.AttemptCount,
		"prev_status": license.Status,
	}, ""); err != nil {
		return res, fmt.Errorf("audit weekly payment failure: %w", err)
	}
	log.Warnf("[Provisioning] License %d past due after failed invoice %s", license.ID, inv.ID)
	res.Steps = append(res.Steps, models.AuditStepWeeklyPaymentFailed)
	return res, nil
}

func (p *Pipeline) invoiceLicense(ctx context.Context, ev *billing.VerifiedEvent) (*stripe.Invoice, *models.License, error) {
	inv, err := ev.Invoice()
	if err != nil {
		return nil, nil, err
	}
	if inv.Customer == nil || inv.Customer.ID == "" {
		return inv, nil, nil
	}
	license, err := p.repos.License.GetLatestByCustomer(ctx, inv.Customer.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return inv, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load license: %w", err)
	}
	return inv, license, nil
}

// CloseCheckout moves a pending payment session to a terminal failure
// status for expired or failed asynchronous checkouts.
func (p *Pipeline) CloseCheckout(ctx context.Context, ev *billing.VerifiedEvent, status string) (*Result, error) {
	res := newResult(ev)
	cs, err := ev.CheckoutSession()
	if err != nil {
		return res, err
	}

	ps, err := p.repos.PaymentSession.GetByExternalID(ctx, p.cfg.Provider, cs.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ignored(res, "unknown checkout session"), nil
	}
	if err != nil {
		return res, fmt.Errorf("load payment session: %w", err)
	}

	moved, err := p.repos.PaymentSession.Transition(ctx, ps, status, ev.ID, closeReason(ev.Type), map[string]interface{}{})
	if err != nil {
		return res, fmt.Errorf("close payment session: %w", err)
	}
	res.Outcome = models.EventOutcomeProcessed
	if !moved {
		res.Reason = "session already " + ps.Status
	}
	return res, nil
}

func closeReason(eventType string) string {
	if eventType == billing.EventCheckoutExpired {
		return "checkout expired"
	}
	return "asynchronous payment failed"
}

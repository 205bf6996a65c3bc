/**
 * @description
 * Side-effect dispatcher for the subscription-payment flow: renewal on
 * success, grace-period demotion on failure.
 *
 * Renewal advances next_billing_at by the plan interval from *now*, not from
 * the old anchor - a late payment should not compound drift into the next
 * cycle. The renewal update is keyed on the settling payment id, so retries
 * of the same settlement are no-ops and publish no duplicate notification.
 */
package app

import (
	"context"
	"errors"
	"log"

	"github.com/lipabooks/payments-service/internal/domain"
	"github.com/lipabooks/payments-service/internal/store"
)

// dispatchSubscriptionRenewal applies a successful subscription payment:
// reactivation if lapsed, billing anchor advance, renewal notification.
func (s *Service) dispatchSubscriptionRenewal(ctx context.Context, payment *domain.Payment, cb *domain.GatewayCallback) error {
	reference := payment.AccountReference
	if reference == "" {
		reference = cb.AccountReference
	}
	subscriptionID, ok := SubscriptionIDFromReference(reference)
	if !ok {
		log.Printf("level=error component=subscription_dispatcher msg=\"subscription reference is not resolvable\" payment_id=%s reference=%q",
			payment.ID, reference)
		return nil
	}

	sub, err := s.repo.FindSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			log.Printf("level=error component=subscription_dispatcher msg=\"settled payment references unknown subscription\" payment_id=%s subscription_id=%s",
				payment.ID, subscriptionID)
			return nil
		}
		return transient("subscription lookup", err)
	}

	plan, err := s.repo.FindPlanByID(ctx, sub.PlanID)
	if err != nil {
		if errors.Is(err, store.ErrPlanNotFound) {
			log.Printf("level=error component=subscription_dispatcher msg=\"subscription references unknown plan\" subscription_id=%s plan_id=%s",
				sub.ID, sub.PlanID)
			return nil
		}
		return transient("plan lookup", err)
	}

	reactivated := sub.CanReactivate()
	nextBillingAt := s.now().AddDate(0, 0, plan.BillingIntervalDays)

	renewed, err := s.repo.RenewSubscription(ctx, sub.ID, payment.ID, nextBillingAt)
	if err != nil {
		return transient("subscription renewal", err)
	}
	if !renewed {
		log.Printf("level=info component=subscription_dispatcher msg=\"subscription already renewed by this payment\" subscription_id=%s payment_id=%s",
			sub.ID, payment.ID)
		return nil
	}

	log.Printf("level=info component=subscription_dispatcher msg=\"subscription renewed\" subscription_id=%s payment_id=%s next_billing_at=%s reactivated=%t",
		sub.ID, payment.ID, nextBillingAt, reactivated)

	s.publish(ctx, domain.EventSubscriptionRenewed, domain.SubscriptionRenewedEvent{
		SubscriptionID: sub.ID,
		CompanyID:      sub.CompanyID,
		PaymentID:      payment.ID,
		NextBillingAt:  nextBillingAt,
		Reactivated:    reactivated,
		Timestamp:      s.now(),
	})
	return nil
}

// dispatchSubscriptionRenewalFailure demotes the subscription to its grace
// period after an explicit gateway failure. The demotion only matches an
// active subscription, so replays and already-lapsed rows are no-ops.
func (s *Service) dispatchSubscriptionRenewalFailure(ctx context.Context, payment *domain.Payment, cb *domain.GatewayCallback) error {
	reference := payment.AccountReference
	if reference == "" {
		reference = cb.AccountReference
	}
	subscriptionID, ok := SubscriptionIDFromReference(reference)
	if !ok {
		log.Printf("level=error component=subscription_dispatcher msg=\"failed renewal reference is not resolvable\" payment_id=%s reference=%q",
			payment.ID, reference)
		return nil
	}

	sub, err := s.repo.FindSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			log.Printf("level=error component=subscription_dispatcher msg=\"failed renewal references unknown subscription\" payment_id=%s subscription_id=%s",
				payment.ID, subscriptionID)
			return nil
		}
		return transient("subscription lookup", err)
	}

	endsAt := s.now().Add(s.cfg.GracePeriod)
	demoted, err := s.repo.MarkSubscriptionGracePeriod(ctx, sub.ID, endsAt)
	if err != nil {
		return transient("grace period transition", err)
	}
	if !demoted {
		log.Printf("level=info component=subscription_dispatcher msg=\"subscription not active; grace demotion skipped\" subscription_id=%s status=%s",
			sub.ID, sub.Status)
		return nil
	}

	log.Printf("level=warn component=subscription_dispatcher msg=\"renewal failed; subscription in grace period\" subscription_id=%s ends_at=%s reason=%q",
		sub.ID, endsAt, cb.ResultDesc)

	s.publish(ctx, domain.EventSubscriptionGrace, domain.SubscriptionGraceEvent{
		SubscriptionID: sub.ID,
		CompanyID:      sub.CompanyID,
		EndsAt:         endsAt,
		Reason:         cb.ResultDesc,
		Timestamp:      s.now(),
	})
	return nil
}

/**
 * @description
 * This file contains the reconciliation engine: the state machine that turns
 * at-least-once gateway callbacks into exactly-one payment transitions and
 * side effects. The engine's correctness rests on two-phase idempotency:
 *
 *  1. The payment transition is a compare-and-set guarded by the pending
 *     status - exactly one delivery of a correlation id wins it, all others
 *     observe the terminal row and take the idempotent-replay branch.
 *  2. Each side effect is independently idempotent (fee keyed on invoice,
 *     renewal keyed on settling payment), so the internal retry path can
 *     safely re-attempt effects without re-running the transition.
 *
 * The durable store is the only synchronization point; no ordering is
 * assumed between distinct correlation ids.
 *
 * @dependencies
 * - context, errors, log, time: Standard Go libraries.
 * - github.com/shopspring/decimal: Platform fee arithmetic.
 * - internal/domain, internal/store: Domain models and data access.
 * - pkg/rabbitmq: The notification/audit event producer.
 */

package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lipabooks/payments-service/internal/domain"
	"github.com/lipabooks/payments-service/internal/store"
	"github.com/lipabooks/payments-service/pkg/rabbitmq"
	"github.com/shopspring/decimal"
)

// TransitionOutcome is the result of attempting to reconcile a callback
// against the payment store. Callers branch on these variants instead of
// catching errors.
type TransitionOutcome int

const (
	// OutcomeApplied means this delivery won the state transition.
	OutcomeApplied TransitionOutcome = iota
	// OutcomeAlreadyTerminal means the payment had already settled; the
	// delivery was an idempotent replay.
	OutcomeAlreadyTerminal
	// OutcomeNotFound means no payment intent matched the correlation id.
	OutcomeNotFound
)

// EngineConfig carries the tunables injected into the engine at construction
// time. Nothing in the engine reads ambient configuration.
type EngineConfig struct {
	FeeRate        decimal.Decimal
	GracePeriod    time.Duration
	EventsExchange string
}

// Service is the reconciliation engine.
type Service struct {
	repo        store.Repository
	publisher   rabbitmq.Publisher
	retry       RetryScheduler
	replayGuard ReplayGuard
	cfg         EngineConfig
	now         func() time.Time
}

// NewService creates the reconciliation engine.
func NewService(repo store.Repository, publisher rabbitmq.Publisher, retry RetryScheduler, cfg EngineConfig) *Service {
	if publisher == nil {
		publisher = &rabbitmq.NoopPublisher{}
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		retry:     retry,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetReplayGuard wires the optional Redis replay guard.
func (s *Service) SetReplayGuard(guard ReplayGuard) {
	s.replayGuard = guard
}

// SetClock overrides the engine's clock. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// HandleCallback processes a freshly delivered gateway callback and returns
// the acknowledgment envelope for the HTTP response. Transient failures are
// absorbed here: the callback is parked with the retry scheduler and the
// gateway still receives a success-shaped acknowledgment, because its own
// redelivery is independent of our internal retry and must not stack an
// external retry storm on top of it.
func (s *Service) HandleCallback(ctx context.Context, cb *domain.GatewayCallback) *domain.CallbackAck {
	if status, seen := s.seenRecently(ctx, cb); seen {
		log.Printf("level=info component=reconciliation msg=\"replay short-circuited by guard\" gateway=%s correlation_id=%s status=%s",
			cb.Gateway, cb.CorrelationID, status)
		return domain.AckAccepted()
	}

	_, err := s.reconcile(ctx, cb, false)
	if err != nil {
		if IsTransient(err) {
			if schedErr := s.retry.Schedule(ctx, cb, 1, err); schedErr != nil {
				log.Printf("level=error component=reconciliation msg=\"retry scheduling failed; relying on gateway redelivery\" gateway=%s correlation_id=%s err=%v",
					cb.Gateway, cb.CorrelationID, schedErr)
			}
			return domain.AckAccepted()
		}
		log.Printf("level=error component=reconciliation msg=\"callback processing failed\" gateway=%s correlation_id=%s err=%v",
			cb.Gateway, cb.CorrelationID, err)
		return domain.AckRejected("Processing failed")
	}
	return domain.AckAccepted()
}

// RetryCallback re-drives a parked callback from the retry queue. Unlike the
// HTTP path it re-applies side effects (they are idempotent) and propagates
// transient errors so the job runner owns the reschedule/dead-letter
// decision.
func (s *Service) RetryCallback(ctx context.Context, cb *domain.GatewayCallback) error {
	_, err := s.reconcile(ctx, cb, true)
	return err
}

// GetPaymentStatus returns the read-only status projection for UI polling.
func (s *Service) GetPaymentStatus(ctx context.Context, paymentID uuid.UUID) (*domain.PaymentStatusProjection, error) {
	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return payment.Projection(), nil
}

// reconcile is the core transition function. reapplyEffects distinguishes
// the internal retry path, which may re-run (idempotent) side effects for a
// payment whose transition already succeeded.
func (s *Service) reconcile(ctx context.Context, cb *domain.GatewayCallback, reapplyEffects bool) (TransitionOutcome, error) {
	flow := ClassifyReference(cb.AccountReference)

	payment, err := s.repo.FindPaymentByCorrelationID(ctx, cb.Gateway, cb.CorrelationID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			s.handleUnmatchedCallback(ctx, flow, cb)
			return OutcomeNotFound, nil
		}
		return OutcomeNotFound, transient("payment lookup", err)
	}

	// Prefer the reference stored at checkout time; the callback copy is a
	// fallback for gateways that echo it.
	if payment.AccountReference != "" {
		flow = ClassifyReference(payment.AccountReference)
	}

	if payment.IsTerminal() {
		if !reapplyEffects {
			log.Printf("level=info component=reconciliation msg=\"idempotent replay; payment already terminal\" gateway=%s correlation_id=%s status=%s",
				cb.Gateway, cb.CorrelationID, payment.Status)
			s.remember(ctx, cb, payment.Status)
			return OutcomeAlreadyTerminal, nil
		}
		// Retry path: the transition is done, only the effects may be
		// outstanding. Every dispatcher is a no-op when its effect already
		// applied.
		if payment.Status == domain.PaymentStatusCompleted {
			if err := s.applySuccessEffects(ctx, flow, payment, cb); err != nil {
				return OutcomeAlreadyTerminal, err
			}
		} else if payment.Status == domain.PaymentStatusFailed {
			if err := s.applyFailureEffects(ctx, flow, payment, cb, false); err != nil {
				return OutcomeAlreadyTerminal, err
			}
		}
		return OutcomeAlreadyTerminal, nil
	}

	target := domain.PaymentStatusFailed
	if cb.Succeeded() {
		target = domain.PaymentStatusCompleted
	}

	params := store.TransitionPaymentParams{
		PaymentID:       payment.ID,
		FromStatus:      domain.PaymentStatusPending,
		ToStatus:        target,
		GatewayMetadata: cb.Raw,
	}
	if target == domain.PaymentStatusCompleted {
		paidAt := s.now()
		params.PaidAt = &paidAt
		if cb.GatewayTransactionID != "" {
			txnID := cb.GatewayTransactionID
			params.GatewayTransactionID = &txnID
		}
	}

	won, err := s.repo.TransitionPaymentStatus(ctx, params)
	if err != nil {
		return OutcomeNotFound, transient("payment transition", err)
	}
	if !won {
		// A concurrent delivery of the same correlation id won the CAS.
		log.Printf("level=info component=reconciliation msg=\"lost transition race; treating as replay\" gateway=%s correlation_id=%s",
			cb.Gateway, cb.CorrelationID)
		s.remember(ctx, cb, target)
		return OutcomeAlreadyTerminal, nil
	}

	payment.Status = target
	payment.PaidAt = params.PaidAt
	if params.GatewayTransactionID != nil {
		payment.GatewayTransactionID = params.GatewayTransactionID
	}

	if target == domain.PaymentStatusCompleted {
		if err := s.applySuccessEffects(ctx, flow, payment, cb); err != nil {
			// The payment is durably completed; only the effect retries.
			return OutcomeApplied, err
		}
	} else {
		if err := s.applyFailureEffects(ctx, flow, payment, cb, true); err != nil {
			return OutcomeApplied, err
		}
	}

	s.remember(ctx, cb, target)
	return OutcomeApplied, nil
}

// applySuccessEffects routes a settled payment to its flow dispatcher.
func (s *Service) applySuccessEffects(ctx context.Context, flow FlowKind, payment *domain.Payment, cb *domain.GatewayCallback) error {
	if flow == FlowSubscription {
		return s.dispatchSubscriptionRenewal(ctx, payment, cb)
	}
	return s.dispatchInvoicePaid(ctx, payment)
}

// applyFailureEffects handles an explicit gateway failure: audit logging for
// every flow, plus the grace-period demotion for failed subscription
// renewals. No financial side effects run on this path. firstTransition is
// true only for the delivery that won the CAS, gating the one-shot audit
// event.
func (s *Service) applyFailureEffects(ctx context.Context, flow FlowKind, payment *domain.Payment, cb *domain.GatewayCallback, firstTransition bool) error {
	if firstTransition {
		event := domain.PaymentFailedEvent{
			PaymentID:     payment.ID,
			CompanyID:     payment.CompanyID,
			Gateway:       payment.Gateway,
			CorrelationID: payment.GatewayCorrelationID,
			ResultCode:    cb.ResultCode,
			Reason:        cb.ResultDesc,
			Timestamp:     s.now(),
		}
		s.publish(ctx, domain.EventPaymentFailed, event)
	}

	if flow == FlowSubscription {
		return s.dispatchSubscriptionRenewalFailure(ctx, payment, cb)
	}
	return nil
}

// handleUnmatchedCallback deals with a callback that matched no payment
// intent. Redelivery cannot help, so the gateway is acknowledged either way;
// the error-severity log line is the trigger for manual investigation. The
// subscription flow additionally records an orphaned-payment entry so the
// funds stay visible to an operator.
func (s *Service) handleUnmatchedCallback(ctx context.Context, flow FlowKind, cb *domain.GatewayCallback) {
	log.Printf("level=error component=reconciliation msg=\"no payment matches callback\" gateway=%s correlation_id=%s flow=%s reference=%q",
		cb.Gateway, cb.CorrelationID, flow, cb.AccountReference)

	if flow != FlowSubscription {
		return
	}

	var subscriptionID *uuid.UUID
	if id, ok := SubscriptionIDFromReference(cb.AccountReference); ok {
		if sub, err := s.repo.FindSubscriptionByID(ctx, id); err == nil {
			subscriptionID = &sub.ID
		}
	}

	raw, _ := cb.Marshal()
	orphan := store.OrphanedPaymentParams{
		Gateway:          cb.Gateway,
		CorrelationID:    cb.CorrelationID,
		AccountReference: cb.AccountReference,
		Amount:           cb.Amount,
		SubscriptionID:   subscriptionID,
		RawPayload:       raw,
	}
	if err := s.repo.RecordOrphanedPayment(ctx, orphan); err != nil {
		log.Printf("level=error component=reconciliation msg=\"failed to record orphaned payment\" gateway=%s correlation_id=%s err=%v",
			cb.Gateway, cb.CorrelationID, err)
	}

	s.publish(ctx, domain.EventPaymentOrphaned, domain.PaymentOrphanedEvent{
		Gateway:          cb.Gateway,
		CorrelationID:    cb.CorrelationID,
		AccountReference: cb.AccountReference,
		Amount:           cb.Amount,
		SubscriptionID:   subscriptionID,
		Timestamp:        s.now(),
	})
}

func (s *Service) seenRecently(ctx context.Context, cb *domain.GatewayCallback) (string, bool) {
	if s.replayGuard == nil {
		return "", false
	}
	return s.replayGuard.Seen(ctx, cb.Gateway, cb.CorrelationID)
}

func (s *Service) remember(ctx context.Context, cb *domain.GatewayCallback, status string) {
	if s.replayGuard == nil {
		return
	}
	s.replayGuard.Remember(ctx, cb.Gateway, cb.CorrelationID, status)
}

func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if err := s.publisher.Publish(ctx, s.cfg.EventsExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=reconciliation msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

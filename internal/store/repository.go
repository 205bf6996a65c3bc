/**
 * @description
 * This file defines the `Repository` interface: the contract for all data
 * access the reconciliation engine needs. The interface decouples the
 * business logic in internal/app from PostgreSQL so the engine's state
 * machine can be tested against in-memory stubs.
 *
 * The durable store is the single source of truth and the sole
 * synchronization point between concurrent callback deliveries. All mutating
 * operations that guard a state transition return a bool reporting whether
 * this caller actually won the transition, so the engine can branch on data
 * instead of catching errors.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For entity identifiers.
 * - internal/domain: The service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lipabooks/payments-service/internal/domain"
)

// TransitionPaymentParams carries the compare-and-set update applied to a
// payment row. The update only takes effect while the row still holds
// FromStatus; exactly one of two concurrent deliveries can win it.
type TransitionPaymentParams struct {
	PaymentID            uuid.UUID
	FromStatus           string
	ToStatus             string
	GatewayTransactionID *string
	PaidAt               *time.Time
	GatewayMetadata      map[string]interface{}
}

// OrphanedPaymentParams records a subscription callback that matched no
// pending payment intent, retained for manual reconciliation.
type OrphanedPaymentParams struct {
	Gateway          string
	CorrelationID    string
	AccountReference string
	Amount           int64
	SubscriptionID   *uuid.UUID
	RawPayload       []byte
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Payment methods
	FindPaymentByCorrelationID(ctx context.Context, gateway, correlationID string) (*domain.Payment, error)
	FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	// TransitionPaymentStatus atomically moves a payment from FromStatus to
	// ToStatus. It returns false (and no error) when the row was no longer in
	// FromStatus, i.e. another delivery already won the transition.
	TransitionPaymentStatus(ctx context.Context, params TransitionPaymentParams) (bool, error)

	// Invoice and platform fee methods
	FindInvoiceByID(ctx context.Context, invoiceID uuid.UUID) (*domain.Invoice, error)
	// MarkInvoicePaid flips the invoice to paid; returns false when the
	// invoice was already paid.
	MarkInvoicePaid(ctx context.Context, invoiceID uuid.UUID, paidAt time.Time) (bool, error)
	// CreatePlatformFee inserts a fee row unless one already exists for the
	// invoice; returns false when the fee was already present.
	CreatePlatformFee(ctx context.Context, fee *domain.PlatformFee) (bool, error)

	// Subscription methods
	FindSubscriptionByID(ctx context.Context, subscriptionID uuid.UUID) (*domain.Subscription, error)
	FindPlanByID(ctx context.Context, planID uuid.UUID) (*domain.Plan, error)
	// RenewSubscription reactivates the subscription, advances its billing
	// anchor and stamps the settling payment. Returns false when the
	// subscription was already renewed by this exact payment.
	RenewSubscription(ctx context.Context, subscriptionID, paymentID uuid.UUID, nextBillingAt time.Time) (bool, error)
	// MarkSubscriptionGracePeriod demotes an active subscription after a
	// failed renewal; returns false when the subscription was not active.
	MarkSubscriptionGracePeriod(ctx context.Context, subscriptionID uuid.UUID, endsAt time.Time) (bool, error)
	// ExpireLapsedSubscriptions transitions grace-period subscriptions whose
	// deadline has passed and returns the rows it expired.
	ExpireLapsedSubscriptions(ctx context.Context, now time.Time) ([]domain.Subscription, error)

	// Orphaned payment methods
	RecordOrphanedPayment(ctx context.Context, params OrphanedPaymentParams) error

	// Retry queue methods
	EnqueueRetryTask(ctx context.Context, task *domain.RetryTask) error
	// ClaimDueRetryTasks atomically claims a batch of due pending tasks by
	// pushing their next_attempt_at past a claim lease in the same statement
	// that selects them. Concurrent or overlapping drains see claimed rows as
	// not yet due, so each task is delivered to exactly one drain per lease.
	ClaimDueRetryTasks(ctx context.Context, now time.Time, limit int) ([]domain.RetryTask, error)
	DeleteRetryTask(ctx context.Context, taskID uuid.UUID) error
	RescheduleRetryTask(ctx context.Context, taskID uuid.UUID, attempt int, nextAttemptAt time.Time, lastError string) error
	MarkRetryTaskDead(ctx context.Context, taskID uuid.UUID, lastError string) error
}

/**
 * @description
 * Event payloads published to the notification/audit exchange. Downstream
 * consumers (mailer, in-app notification feed, audit log) bind to the routing
 * keys listed here; this service never blocks on their processing.
 *
 * @dependencies
 * - time: Standard Go library.
 * - github.com/google/uuid: For entity identifiers.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys published by the reconciliation engine.
const (
	EventInvoicePaid         = "payment.invoice.paid"
	EventPaymentFailed       = "payment.failed"
	EventSubscriptionRenewed = "subscription.renewed"
	EventSubscriptionGrace   = "subscription.renewal_failed"
	EventSubscriptionExpired = "subscription.expired"
	EventPaymentOrphaned     = "payment.orphaned"
	EventCallbackDeadLetter  = "payment.callback.dead_letter"
)

// InvoicePaidEvent is published exactly once per paid invoice.
type InvoicePaidEvent struct {
	InvoiceID  uuid.UUID `json:"invoice_id"`
	CompanyID  uuid.UUID `json:"company_id"`
	PaymentID  uuid.UUID `json:"payment_id"`
	Amount     int64     `json:"amount"`
	FeeAmount  int64     `json:"fee_amount"`
	Currency   string    `json:"currency"`
	PaidAt     time.Time `json:"paid_at"`
	ReceivedAt time.Time `json:"received_at"`
}

// PaymentFailedEvent records an explicit gateway failure for audit.
type PaymentFailedEvent struct {
	PaymentID     uuid.UUID `json:"payment_id"`
	CompanyID     uuid.UUID `json:"company_id"`
	Gateway       string    `json:"gateway"`
	CorrelationID string    `json:"correlation_id"`
	ResultCode    int       `json:"result_code"`
	Reason        string    `json:"reason"`
	Timestamp     time.Time `json:"timestamp"`
}

// SubscriptionRenewedEvent is published once per successful renewal.
type SubscriptionRenewedEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	CompanyID      uuid.UUID `json:"company_id"`
	PaymentID      uuid.UUID `json:"payment_id"`
	NextBillingAt  time.Time `json:"next_billing_at"`
	Reactivated    bool      `json:"reactivated"`
	Timestamp      time.Time `json:"timestamp"`
}

// SubscriptionGraceEvent is published when a renewal fails and the
// subscription enters its grace period.
type SubscriptionGraceEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	CompanyID      uuid.UUID `json:"company_id"`
	EndsAt         time.Time `json:"ends_at"`
	Reason         string    `json:"reason"`
	Timestamp      time.Time `json:"timestamp"`
}

// SubscriptionExpiredEvent is published by the expiry sweep when a grace
// deadline passes without payment.
type SubscriptionExpiredEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	CompanyID      uuid.UUID `json:"company_id"`
	ExpiredAt      time.Time `json:"expired_at"`
}

// PaymentOrphanedEvent surfaces a subscription callback that matched no
// pending payment, so an operator can reconcile the funds manually.
type PaymentOrphanedEvent struct {
	Gateway          string     `json:"gateway"`
	CorrelationID    string     `json:"correlation_id"`
	AccountReference string     `json:"account_reference"`
	Amount           int64      `json:"amount"`
	SubscriptionID   *uuid.UUID `json:"subscription_id,omitempty"`
	Timestamp        time.Time  `json:"timestamp"`
}

// CallbackDeadLetterEvent is published when a retry task exhausts its
// attempts. The full original payload rides along so nothing is lost.
type CallbackDeadLetterEvent struct {
	TaskID        uuid.UUID `json:"task_id"`
	Gateway       string    `json:"gateway"`
	CorrelationID string    `json:"correlation_id"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error"`
	Payload       string    `json:"payload"`
	Timestamp     time.Time `json:"timestamp"`
}

/**
 * @description
 * Domain model for payment intents. A Payment row is created when a checkout
 * is initiated (outside this service) and reconciled here when the gateway's
 * async callback arrives. The (gateway, gateway_correlation_id) pair is
 * unique, which is what makes reconciliation idempotent under at-least-once
 * delivery.
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

// Payment status values. completed and failed are terminal and immutable;
// reversed is reserved for manual operator action and is also terminal.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusReversed  = "reversed"
)

// Payment is a pending or settled payment intent.
type Payment struct {
	ID                   uuid.UUID              `json:"id"`
	CompanyID            uuid.UUID              `json:"company_id"`
	InvoiceID            *uuid.UUID             `json:"invoice_id,omitempty"` // nil for subscription payments
	Gateway              string                 `json:"gateway"`
	GatewayTransactionID *string                `json:"gateway_transaction_id,omitempty"`
	GatewayCorrelationID string                 `json:"gateway_correlation_id"`
	AccountReference     string                 `json:"account_reference"`
	Amount               int64                  `json:"amount"` // minor currency units
	Currency             string                 `json:"currency"`
	Status               string                 `json:"status"`
	PaidAt               *time.Time             `json:"paid_at,omitempty"`
	GatewayMetadata      map[string]interface{} `json:"gateway_metadata,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
}

// IsTerminal reports whether the payment has reached a final status.
func (p *Payment) IsTerminal() bool {
	return p.Status == PaymentStatusCompleted ||
		p.Status == PaymentStatusFailed ||
		p.Status == PaymentStatusReversed
}

// PaymentStatusProjection is the read-only view served to collaborating
// services polling for payment completion. It never exposes internal retry
// state; callers only observe the durable status.
type PaymentStatusProjection struct {
	ID                   uuid.UUID              `json:"id"`
	Status               string                 `json:"status"`
	Gateway              string                 `json:"gateway"`
	GatewayTransactionID *string                `json:"gateway_transaction_id,omitempty"`
	Amount               int64                  `json:"amount"`
	Currency             string                 `json:"currency"`
	IsTerminal           bool                   `json:"is_terminal"`
	PaidAt               *time.Time             `json:"paid_at,omitempty"`
	GatewayMetadata      map[string]interface{} `json:"gateway_metadata,omitempty"`
}

// Projection builds the collaborator-facing view of this payment.
func (p *Payment) Projection() *PaymentStatusProjection {
	return &PaymentStatusProjection{
		ID:                   p.ID,
		Status:               p.Status,
		Gateway:              p.Gateway,
		GatewayTransactionID: p.GatewayTransactionID,
		Amount:               p.Amount,
		Currency:             p.Currency,
		IsTerminal:           p.IsTerminal(),
		PaidAt:               p.PaidAt,
		GatewayMetadata:      p.GatewayMetadata,
	}
}

/**
 * @description
 * The slice of the invoice model this service needs. Invoices are owned by
 * the invoicing application; the reconciliation engine only reads totals and
 * flips the status to paid when a payment settles.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Invoice status values the engine cares about.
const (
	InvoiceStatusSent = "sent"
	InvoiceStatusPaid = "paid"
)

// Invoice is the engine's view of an invoice.
type Invoice struct {
	ID          uuid.UUID  `json:"id"`
	CompanyID   uuid.UUID  `json:"company_id"`
	TotalAmount int64      `json:"total_amount"` // minor currency units
	Currency    string     `json:"currency"`
	Status      string     `json:"status"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
}

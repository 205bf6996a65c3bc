/**
 * @description
 * Domain model for platform fees: the percentage-based charge the platform
 * takes on every successfully paid invoice. At most one fee row may ever
 * exist per invoice, enforced by a unique constraint on invoice_id, so fee
 * creation is idempotent across callback replays and internal retries.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Platform fee status values.
const (
	FeeStatusPending = "pending"
	FeeStatusPaid    = "paid"
	FeeStatusWaived  = "waived"
)

// PlatformFee is the platform's charge for a paid invoice.
type PlatformFee struct {
	ID        uuid.UUID `json:"id"`
	InvoiceID uuid.UUID `json:"invoice_id"`
	CompanyID uuid.UUID `json:"company_id"`
	FeeAmount int64     `json:"fee_amount"` // minor currency units
	Currency  string    `json:"currency"`
	FeeStatus string    `json:"fee_status"`
	CreatedAt time.Time `json:"created_at"`
}

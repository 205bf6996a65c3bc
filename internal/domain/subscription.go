/**
 * @description
 * Domain models for recurring subscription billing. Subscriptions are only
 * ever mutated through the transition operations exposed by the repository
 * (renew, demote to grace period, expire) so the lifecycle below is enforced
 * in one place.
 *
 * Lifecycle: active -> grace_period (renewal failure) -> expired (grace
 * deadline passes) with reactivation back to active on any later successful
 * payment, and cancelled as a terminal operator-driven state.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Subscription status values.
const (
	SubscriptionStatusActive      = "active"
	SubscriptionStatusGracePeriod = "grace_period"
	SubscriptionStatusExpired     = "expired"
	SubscriptionStatusCancelled   = "cancelled"
)

// Subscription is a company's recurring billing record.
type Subscription struct {
	ID            uuid.UUID  `json:"id"`
	CompanyID     uuid.UUID  `json:"company_id"`
	PlanID        uuid.UUID  `json:"plan_id"`
	Status        string     `json:"status"`
	NextBillingAt time.Time  `json:"next_billing_at"`
	EndsAt        *time.Time `json:"ends_at,omitempty"` // grace deadline; nil while active
	LastPaymentID *uuid.UUID `json:"last_payment_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CanReactivate reports whether a successful payment should bring the
// subscription back to active.
func (s *Subscription) CanReactivate() bool {
	return s.Status == SubscriptionStatusGracePeriod || s.Status == SubscriptionStatusExpired
}

// Plan describes what a subscription bills for and how often.
type Plan struct {
	ID                  uuid.UUID `json:"id"`
	Name                string    `json:"name"`
	Amount              int64     `json:"amount"` // minor currency units
	Currency            string    `json:"currency"`
	BillingIntervalDays int       `json:"billing_interval_days"`
}

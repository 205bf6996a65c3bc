/**
 * @description
 * Domain model for the durable retry queue. When callback processing hits a
 * transient failure (downstream store or broker unavailable), the serialized
 * callback is parked here and re-driven by the scheduler with exponential
 * backoff. Tasks that exhaust their attempts are dead-lettered, never
 * silently dropped.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Retry task status values.
const (
	RetryTaskStatusPending = "pending"
	RetryTaskStatusDead    = "dead"
)

// RetryTask is one parked callback awaiting redelivery.
type RetryTask struct {
	ID                 uuid.UUID `json:"id"`
	Gateway            string    `json:"gateway"`
	SerializedCallback []byte    `json:"serialized_callback"`
	Attempt            int       `json:"attempt"` // attempts already made, starts at 1
	Status             string    `json:"status"`
	NextAttemptAt      time.Time `json:"next_attempt_at"`
	LastError          *string   `json:"last_error,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

/**
 * @description
 * Retry scheduling for transiently failed callback processing. Scheduling is
 * decoupled from execution: Schedule parks the serialized callback in the
 * durable retry_tasks table with an exponential-backoff timestamp, and the
 * cron job in jobs.go drains due tasks. The gateway's own redelivery and
 * this internal queue can both replay the same callback; the engine's
 * idempotency absorbs the overlap, so nothing here tries to suppress it.
 *
 * @dependencies
 * - github.com/google/uuid: Task identifiers.
 * - internal/domain, internal/store: Task model and persistence.
 */
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lipabooks/payments-service/internal/domain"
	"github.com/lipabooks/payments-service/internal/store"
)

// backoffCeiling caps the delay so exhausted-attempt math cannot overflow
// into a far-future timestamp.
const backoffCeiling = 6 * time.Hour

// Backoff returns the delay before the given attempt number is retried:
// base doubling per attempt, capped at the ceiling. Shared by the scheduler
// that parks callbacks and the job that reschedules them.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Minute
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= backoffCeiling {
			return backoffCeiling
		}
	}
	return delay
}

// RetryScheduler re-enqueues callbacks that failed transiently.
type RetryScheduler interface {
	Schedule(ctx context.Context, cb *domain.GatewayCallback, attempt int, cause error) error
}

// StoreRetryScheduler implements RetryScheduler on the retry_tasks table.
type StoreRetryScheduler struct {
	repo        store.Repository
	backoffBase time.Duration
}

// NewStoreRetryScheduler creates a scheduler with the configured base delay.
func NewStoreRetryScheduler(repo store.Repository, backoffBase time.Duration) *StoreRetryScheduler {
	if backoffBase <= 0 {
		backoffBase = time.Minute
	}
	return &StoreRetryScheduler{repo: repo, backoffBase: backoffBase}
}

// Schedule parks the callback for redelivery after the backoff delay.
func (s *StoreRetryScheduler) Schedule(ctx context.Context, cb *domain.GatewayCallback, attempt int, cause error) error {
	payload, err := cb.Marshal()
	if err != nil {
		return fmt.Errorf("failed to serialize callback for retry: %w", err)
	}

	lastError := cause.Error()
	task := &domain.RetryTask{
		ID:                 uuid.New(),
		Gateway:            cb.Gateway,
		SerializedCallback: payload,
		Attempt:            attempt,
		Status:             domain.RetryTaskStatusPending,
		NextAttemptAt:      time.Now().UTC().Add(Backoff(s.backoffBase, attempt)),
		LastError:          &lastError,
	}

	if err := s.repo.EnqueueRetryTask(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue retry task: %w", err)
	}

	log.Printf("level=info component=retry_scheduler msg=\"callback scheduled for retry\" gateway=%s correlation_id=%s attempt=%d next_attempt_at=%s",
		cb.Gateway, cb.CorrelationID, attempt, task.NextAttemptAt.Format(time.RFC3339))
	return nil
}

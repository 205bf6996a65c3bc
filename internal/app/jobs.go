/**
 * @description
 * Scheduled job implementations: draining the durable retry queue and
 * sweeping lapsed grace-period subscriptions into the expired state. Jobs
 * run on the cron scheduler in scheduler.go, fully decoupled from the HTTP
 * handlers that enqueue the work.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lipabooks/payments-service/internal/domain"
)

// RetryQueueRepository defines the database operations the jobs need.
type RetryQueueRepository interface {
	ClaimDueRetryTasks(ctx context.Context, now time.Time, limit int) ([]domain.RetryTask, error)
	DeleteRetryTask(ctx context.Context, taskID uuid.UUID) error
	RescheduleRetryTask(ctx context.Context, taskID uuid.UUID, attempt int, nextAttemptAt time.Time, lastError string) error
	MarkRetryTaskDead(ctx context.Context, taskID uuid.UUID, lastError string) error
	ExpireLapsedSubscriptions(ctx context.Context, now time.Time) ([]domain.Subscription, error)
}

// CallbackRetrier re-drives a parked callback through the engine.
type CallbackRetrier interface {
	RetryCallback(ctx context.Context, cb *domain.GatewayCallback) error
}

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// JobsConfig carries the retry policy the queue drainer enforces.
type JobsConfig struct {
	MaxAttempts    int
	BatchSize      int
	BackoffBase    time.Duration
	EventsExchange string
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo      RetryQueueRepository
	retrier   CallbackRetrier
	publisher EventPublisher
	logger    *slog.Logger
	cfg       JobsConfig
	now       func() time.Time
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo RetryQueueRepository, retrier CallbackRetrier, publisher EventPublisher, logger *slog.Logger, cfg JobsConfig) *Jobs {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Jobs{
		repo:      repo,
		retrier:   retrier,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the job clock. Used by tests.
func (j *Jobs) SetClock(now func() time.Time) {
	if now != nil {
		j.now = now
	}
}

// ProcessRetryQueue drains due retry tasks: success deletes the task,
// another transient failure reschedules it with backoff, and exhausting the
// attempt budget dead-letters it with the full original payload so no
// notification is ever lost without a trace.
func (j *Jobs) ProcessRetryQueue() {
	ctx := context.Background()
	now := j.now()

	tasks, err := j.repo.ClaimDueRetryTasks(ctx, now, j.cfg.BatchSize)
	if err != nil {
		j.logger.Error("failed to load due retry tasks", "error", err)
		return
	}
	if len(tasks) == 0 {
		return
	}

	j.logger.Info("processing retry queue", "due_tasks", len(tasks))

	for _, task := range tasks {
		cb, err := domain.UnmarshalGatewayCallback(task.SerializedCallback)
		if err != nil {
			// A stored payload that no longer deserializes can never succeed.
			j.deadLetter(ctx, task, "stored callback is unreadable: "+err.Error())
			continue
		}

		err = j.retrier.RetryCallback(ctx, cb)
		if err == nil {
			if delErr := j.repo.DeleteRetryTask(ctx, task.ID); delErr != nil {
				j.logger.Error("failed to delete completed retry task", "task_id", task.ID, "error", delErr)
			}
			continue
		}

		if !IsTransient(err) {
			j.deadLetter(ctx, task, err.Error())
			continue
		}

		nextAttempt := task.Attempt + 1
		if nextAttempt > j.cfg.MaxAttempts {
			j.deadLetter(ctx, task, err.Error())
			continue
		}

		nextAttemptAt := now.Add(Backoff(j.cfg.BackoffBase, nextAttempt))
		if reschedErr := j.repo.RescheduleRetryTask(ctx, task.ID, nextAttempt, nextAttemptAt, err.Error()); reschedErr != nil {
			j.logger.Error("failed to reschedule retry task", "task_id", task.ID, "error", reschedErr)
			continue
		}
		j.logger.Info("retry task rescheduled", "task_id", task.ID, "attempt", nextAttempt, "next_attempt_at", nextAttemptAt)
	}
}

// deadLetter parks an exhausted task for manual inspection. The full payload
// lands in the error log and the audit event.
func (j *Jobs) deadLetter(ctx context.Context, task domain.RetryTask, lastError string) {
	if err := j.repo.MarkRetryTaskDead(ctx, task.ID, lastError); err != nil {
		j.logger.Error("failed to dead-letter retry task", "task_id", task.ID, "error", err)
		return
	}

	j.logger.Error("retry task dead-lettered",
		"task_id", task.ID,
		"gateway", task.Gateway,
		"attempts", task.Attempt,
		"last_error", lastError,
		"payload", string(task.SerializedCallback),
	)

	correlationID := ""
	if cb, err := domain.UnmarshalGatewayCallback(task.SerializedCallback); err == nil {
		correlationID = cb.CorrelationID
	}

	if err := j.publisher.Publish(ctx, j.cfg.EventsExchange, domain.EventCallbackDeadLetter, domain.CallbackDeadLetterEvent{
		TaskID:        task.ID,
		Gateway:       task.Gateway,
		CorrelationID: correlationID,
		Attempts:      task.Attempt,
		LastError:     lastError,
		Payload:       string(task.SerializedCallback),
		Timestamp:     j.now(),
	}); err != nil {
		j.logger.Warn("failed to publish dead-letter event", "task_id", task.ID, "error", err)
	}
}

// ExpireLapsedSubscriptions moves grace-period subscriptions whose deadline
// has passed to expired and notifies each affected company.
func (j *Jobs) ExpireLapsedSubscriptions() {
	ctx := context.Background()
	now := j.now()

	expired, err := j.repo.ExpireLapsedSubscriptions(ctx, now)
	if err != nil {
		j.logger.Error("failed to expire lapsed subscriptions", "error", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	j.logger.Info("expired lapsed subscriptions", "count", len(expired))

	for _, sub := range expired {
		if err := j.publisher.Publish(ctx, j.cfg.EventsExchange, domain.EventSubscriptionExpired, domain.SubscriptionExpiredEvent{
			SubscriptionID: sub.ID,
			CompanyID:      sub.CompanyID,
			ExpiredAt:      now,
		}); err != nil {
			j.logger.Warn("failed to publish subscription expired event", "subscription_id", sub.ID, "error", err)
		}
	}
}

/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all SQL for the payments, invoices, platform_fees,
 * subscriptions, plans, orphaned_payments and retry_tasks tables.
 *
 * Concurrency notes:
 * - TransitionPaymentStatus is a single conditional UPDATE guarded by the
 *   current status. No row locks are held across statements and no two
 *   resources are ever locked together, so the engine cannot deadlock.
 * - CreatePlatformFee relies on the unique index on platform_fees.invoice_id
 *   via ON CONFLICT DO NOTHING, making fee creation idempotent per invoice.
 * - RenewSubscription is guarded by last_payment_id so replaying the same
 *   settlement is a no-op.
 *
 * @dependencies
 * - context, encoding/json, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver.
 * - github.com/google/uuid: For entity identifiers.
 * - internal/domain: Domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lipabooks/payments-service/internal/domain"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrInvoiceNotFound      = errors.New("invoice not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPlanNotFound         = errors.New("plan not found")
	ErrRetryTaskNotFound    = errors.New("retry task not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const paymentColumns = `id, company_id, invoice_id, gateway, gateway_transaction_id,
	gateway_correlation_id, account_reference, amount, currency, status, paid_at,
	gateway_metadata, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	var metadata []byte
	err := row.Scan(
		&p.ID,
		&p.CompanyID,
		&p.InvoiceID,
		&p.Gateway,
		&p.GatewayTransactionID,
		&p.GatewayCorrelationID,
		&p.AccountReference,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.PaidAt,
		&metadata,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.GatewayMetadata); err != nil {
			return nil, fmt.Errorf("failed to decode gateway metadata for payment %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

// FindPaymentByCorrelationID looks up a payment by the gateway's correlation id.
// The (gateway, gateway_correlation_id) pair is unique, which is what makes
// at-least-once callback delivery reconcile to exactly one payment.
func (r *PostgresRepository) FindPaymentByCorrelationID(ctx context.Context, gateway, correlationID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE gateway = $1 AND gateway_correlation_id = $2`
	payment, err := scanPayment(r.db.QueryRow(ctx, query, gateway, correlationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return payment, nil
}

// FindPaymentByID retrieves a payment by its internal id.
func (r *PostgresRepository) FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	payment, err := scanPayment(r.db.QueryRow(ctx, query, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return payment, nil
}

// TransitionPaymentStatus applies the compare-and-set status transition. The
// WHERE clause on the current status is the sole ordering primitive between
// concurrent deliveries of the same correlation id: exactly one UPDATE
// matches, every other caller observes zero rows affected.
func (r *PostgresRepository) TransitionPaymentStatus(ctx context.Context, params TransitionPaymentParams) (bool, error) {
	var metadata []byte
	if params.GatewayMetadata != nil {
		encoded, err := json.Marshal(params.GatewayMetadata)
		if err != nil {
			return false, fmt.Errorf("failed to encode gateway metadata: %w", err)
		}
		metadata = encoded
	}

	query := `
		UPDATE payments
		SET status = $1,
		    gateway_transaction_id = COALESCE($2, gateway_transaction_id),
		    paid_at = COALESCE($3, paid_at),
		    gateway_metadata = COALESCE($4, gateway_metadata),
		    updated_at = NOW()
		WHERE id = $5 AND status = $6
	`
	tag, err := r.db.Exec(ctx, query,
		params.ToStatus,
		params.GatewayTransactionID,
		params.PaidAt,
		metadata,
		params.PaymentID,
		params.FromStatus,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FindInvoiceByID retrieves the engine's view of an invoice.
func (r *PostgresRepository) FindInvoiceByID(ctx context.Context, invoiceID uuid.UUID) (*domain.Invoice, error) {
	var inv domain.Invoice
	query := `SELECT id, company_id, total_amount, currency, status, paid_at FROM invoices WHERE id = $1`
	err := r.db.QueryRow(ctx, query, invoiceID).Scan(
		&inv.ID, &inv.CompanyID, &inv.TotalAmount, &inv.Currency, &inv.Status, &inv.PaidAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// MarkInvoicePaid flips the invoice status to paid. The guard on the current
// status makes the update a no-op for replays.
func (r *PostgresRepository) MarkInvoicePaid(ctx context.Context, invoiceID uuid.UUID, paidAt time.Time) (bool, error) {
	query := `UPDATE invoices SET status = 'paid', paid_at = $1, updated_at = NOW() WHERE id = $2 AND status <> 'paid'`
	tag, err := r.db.Exec(ctx, query, paidAt, invoiceID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CreatePlatformFee inserts the fee row for an invoice. The unique index on
// invoice_id plus ON CONFLICT DO NOTHING guarantees at most one fee per
// invoice no matter how many times the settlement is replayed.
func (r *PostgresRepository) CreatePlatformFee(ctx context.Context, fee *domain.PlatformFee) (bool, error) {
	query := `
		INSERT INTO platform_fees (id, invoice_id, company_id, fee_amount, currency, fee_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (invoice_id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query, fee.ID, fee.InvoiceID, fee.CompanyID, fee.FeeAmount, fee.Currency, fee.FeeStatus)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FindSubscriptionByID retrieves a subscription.
func (r *PostgresRepository) FindSubscriptionByID(ctx context.Context, subscriptionID uuid.UUID) (*domain.Subscription, error) {
	var sub domain.Subscription
	query := `
		SELECT id, company_id, plan_id, status, next_billing_at, ends_at, last_payment_id, created_at, updated_at
		FROM subscriptions
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, subscriptionID).Scan(
		&sub.ID, &sub.CompanyID, &sub.PlanID, &sub.Status,
		&sub.NextBillingAt, &sub.EndsAt, &sub.LastPaymentID,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// FindPlanByID retrieves a billing plan.
func (r *PostgresRepository) FindPlanByID(ctx context.Context, planID uuid.UUID) (*domain.Plan, error) {
	var plan domain.Plan
	query := `SELECT id, name, amount, currency, billing_interval_days FROM plans WHERE id = $1`
	err := r.db.QueryRow(ctx, query, planID).Scan(
		&plan.ID, &plan.Name, &plan.Amount, &plan.Currency, &plan.BillingIntervalDays,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

// RenewSubscription reactivates the subscription and advances its billing
// anchor. Guarding on last_payment_id makes the renewal idempotent per
// settling payment: a replayed effect matches zero rows.
func (r *PostgresRepository) RenewSubscription(ctx context.Context, subscriptionID, paymentID uuid.UUID, nextBillingAt time.Time) (bool, error) {
	query := `
		UPDATE subscriptions
		SET status = 'active',
		    next_billing_at = $1,
		    ends_at = NULL,
		    last_payment_id = $2,
		    updated_at = NOW()
		WHERE id = $3
		  AND status IN ('active', 'grace_period', 'expired')
		  AND last_payment_id IS DISTINCT FROM $2
	`
	tag, err := r.db.Exec(ctx, query, nextBillingAt, paymentID, subscriptionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkSubscriptionGracePeriod demotes an active subscription after a failed
// renewal attempt and records the grace deadline.
func (r *PostgresRepository) MarkSubscriptionGracePeriod(ctx context.Context, subscriptionID uuid.UUID, endsAt time.Time) (bool, error) {
	query := `
		UPDATE subscriptions
		SET status = 'grace_period', ends_at = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'active'
	`
	tag, err := r.db.Exec(ctx, query, endsAt, subscriptionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ExpireLapsedSubscriptions moves grace-period subscriptions whose deadline
// has passed to expired and returns the affected rows.
func (r *PostgresRepository) ExpireLapsedSubscriptions(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'grace_period' AND ends_at IS NOT NULL AND ends_at <= $1
		RETURNING id, company_id, plan_id, status, next_billing_at, ends_at, last_payment_id, created_at, updated_at
	`
	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expired []domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		if err := rows.Scan(
			&sub.ID, &sub.CompanyID, &sub.PlanID, &sub.Status,
			&sub.NextBillingAt, &sub.EndsAt, &sub.LastPaymentID,
			&sub.CreatedAt, &sub.UpdatedAt,
		); err != nil {
			return nil, err
		}
		expired = append(expired, sub)
	}
	return expired, rows.Err()
}

// RecordOrphanedPayment persists a subscription callback that matched no
// pending payment intent so an operator can reconcile it later.
func (r *PostgresRepository) RecordOrphanedPayment(ctx context.Context, params OrphanedPaymentParams) error {
	query := `
		INSERT INTO orphaned_payments (id, gateway, correlation_id, account_reference, amount, subscription_id, raw_payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (gateway, correlation_id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query,
		uuid.New(), params.Gateway, params.CorrelationID, params.AccountReference,
		params.Amount, params.SubscriptionID, params.RawPayload,
	)
	return err
}

// EnqueueRetryTask parks a serialized callback for later redelivery.
func (r *PostgresRepository) EnqueueRetryTask(ctx context.Context, task *domain.RetryTask) error {
	query := `
		INSERT INTO retry_tasks (id, gateway, serialized_callback, attempt, status, next_attempt_at, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`
	_, err := r.db.Exec(ctx, query,
		task.ID, task.Gateway, task.SerializedCallback, task.Attempt,
		task.Status, task.NextAttemptAt, task.LastError,
	)
	return err
}

// retryClaimLease bounds how long a claimed task stays invisible to other
// drains. A drain that dies mid-batch loses its claim after the lease and the
// task becomes due again.
const retryClaimLease = 5 * time.Minute

// ClaimDueRetryTasks claims a batch of due pending tasks. The claim is the
// UPDATE itself: next_attempt_at moves past the lease in the same statement
// that selects the rows, so a concurrent drain's identical statement no
// longer sees them as due. FOR UPDATE SKIP LOCKED keeps two simultaneous
// claims from blocking on each other's rows. Resolution (delete, reschedule,
// dead-letter) overwrites the lease timestamp.
func (r *PostgresRepository) ClaimDueRetryTasks(ctx context.Context, now time.Time, limit int) ([]domain.RetryTask, error) {
	query := `
		UPDATE retry_tasks
		SET next_attempt_at = $2
		WHERE id IN (
			SELECT id FROM retry_tasks
			WHERE status = 'pending' AND next_attempt_at <= $1
			ORDER BY next_attempt_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, gateway, serialized_callback, attempt, status, next_attempt_at, last_error, created_at
	`
	rows, err := r.db.Query(ctx, query, now, now.Add(retryClaimLease), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.RetryTask
	for rows.Next() {
		var task domain.RetryTask
		if err := rows.Scan(
			&task.ID, &task.Gateway, &task.SerializedCallback, &task.Attempt,
			&task.Status, &task.NextAttemptAt, &task.LastError, &task.CreatedAt,
		); err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// DeleteRetryTask removes a task after successful redelivery.
func (r *PostgresRepository) DeleteRetryTask(ctx context.Context, taskID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM retry_tasks WHERE id = $1`, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRetryTaskNotFound
	}
	return nil
}

// RescheduleRetryTask bumps the attempt counter and pushes the task out to
// its next backoff slot.
func (r *PostgresRepository) RescheduleRetryTask(ctx context.Context, taskID uuid.UUID, attempt int, nextAttemptAt time.Time, lastError string) error {
	query := `
		UPDATE retry_tasks
		SET attempt = $1, next_attempt_at = $2, last_error = $3
		WHERE id = $4 AND status = 'pending'
	`
	tag, err := r.db.Exec(ctx, query, attempt, nextAttemptAt, lastError, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRetryTaskNotFound
	}
	return nil
}

// MarkRetryTaskDead moves an exhausted task to the dead-letter state. The row
// is kept for manual inspection, never deleted.
func (r *PostgresRepository) MarkRetryTaskDead(ctx context.Context, taskID uuid.UUID, lastError string) error {
	query := `UPDATE retry_tasks SET status = 'dead', last_error = $1 WHERE id = $2 AND status = 'pending'`
	tag, err := r.db.Exec(ctx, query, lastError, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRetryTaskNotFound
	}
	return nil
}

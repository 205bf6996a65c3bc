package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lipabooks/payments-service/internal/domain"
)

type retrierStub struct {
	err   error
	calls int
}

func (r *retrierStub) RetryCallback(ctx context.Context, cb *domain.GatewayCallback) error {
	r.calls++
	return r.err
}

func newTestJobs(repo *repoStub, retrier CallbackRetrier, publisher *publisherStub, maxAttempts int) *Jobs {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jobs := NewJobs(repo, retrier, publisher, logger, JobsConfig{
		MaxAttempts:    maxAttempts,
		BatchSize:      50,
		BackoffBase:    time.Minute,
		EventsExchange: "test.events",
	})
	jobs.SetClock(func() time.Time { return testNow })
	return jobs
}

func parkTask(repo *repoStub, attempt int, dueAt time.Time) *domain.RetryTask {
	payload, _ := successCallback("CHK001", "INV-0042").Marshal()
	task := &domain.RetryTask{
		ID:                 uuid.New(),
		Gateway:            domain.GatewayMpesa,
		SerializedCallback: payload,
		Attempt:            attempt,
		Status:             domain.RetryTaskStatusPending,
		NextAttemptAt:      dueAt,
	}
	repo.tasks = append(repo.tasks, task)
	return task
}

func TestProcessRetryQueue_SuccessDeletesTask(t *testing.T) {
	repo := newRepoStub()
	retrier := &retrierStub{}
	jobs := newTestJobs(repo, retrier, &publisherStub{}, 5)

	parkTask(repo, 1, testNow.Add(-time.Second))
	jobs.ProcessRetryQueue()

	if retrier.calls != 1 {
		t.Fatalf("expected one retry attempt, got %d", retrier.calls)
	}
	if len(repo.tasks) != 0 {
		t.Fatalf("expected completed task deleted, %d remain", len(repo.tasks))
	}
}

func TestProcessRetryQueue_SkipsTasksNotYetDue(t *testing.T) {
	repo := newRepoStub()
	retrier := &retrierStub{}
	jobs := newTestJobs(repo, retrier, &publisherStub{}, 5)

	parkTask(repo, 1, testNow.Add(time.Hour))
	jobs.ProcessRetryQueue()

	if retrier.calls != 0 {
		t.Fatalf("task not yet due was attempted %d times", retrier.calls)
	}
	if len(repo.tasks) != 1 {
		t.Fatal("pending future task must remain parked")
	}
}

func TestProcessRetryQueue_TransientFailureReschedulesWithBackoff(t *testing.T) {
	repo := newRepoStub()
	retrier := &retrierStub{err: transient("payment lookup", errors.New("connection refused"))}
	jobs := newTestJobs(repo, retrier, &publisherStub{}, 5)

	task := parkTask(repo, 1, testNow.Add(-time.Second))
	jobs.ProcessRetryQueue()

	if len(repo.tasks) != 1 {
		t.Fatalf("expected task kept for another attempt, got %d tasks", len(repo.tasks))
	}
	stored := repo.tasks[0]
	if stored.ID != task.ID || stored.Attempt != 2 {
		t.Fatalf("expected attempt bumped to 2, got %d", stored.Attempt)
	}
	// Second attempt waits one doubling of the base delay.
	want := testNow.Add(2 * time.Minute)
	if !stored.NextAttemptAt.Equal(want) {
		t.Fatalf("expected next attempt at %s, got %s", want, stored.NextAttemptAt)
	}
	if stored.Status != domain.RetryTaskStatusPending {
		t.Fatalf("rescheduled task must stay pending, got %s", stored.Status)
	}
}

func TestProcessRetryQueue_ExhaustedAttemptsDeadLetters(t *testing.T) {
	repo := newRepoStub()
	retrier := &retrierStub{err: transient("payment lookup", errors.New("still down"))}
	publisher := &publisherStub{}
	jobs := newTestJobs(repo, retrier, publisher, 3)

	parkTask(repo, 3, testNow.Add(-time.Second)) // final allowed attempt already made
	jobs.ProcessRetryQueue()

	if len(repo.tasks) != 1 {
		t.Fatalf("dead-lettered task must remain visible, got %d tasks", len(repo.tasks))
	}
	stored := repo.tasks[0]
	if stored.Status != domain.RetryTaskStatusDead {
		t.Fatalf("expected dead status, got %s", stored.Status)
	}
	if stored.LastError == nil || *stored.LastError == "" {
		t.Fatal("expected last error recorded on the dead task")
	}
	if got := publisher.count(domain.EventCallbackDeadLetter); got != 1 {
		t.Fatalf("expected exactly one dead-letter event, got %d", got)
	}

	// The dead task must never be retried again.
	retrier.calls = 0
	jobs.ProcessRetryQueue()
	if retrier.calls != 0 {
		t.Fatalf("dead task was retried %d times", retrier.calls)
	}
}

func TestProcessRetryQueue_NonTransientFailureDeadLettersImmediately(t *testing.T) {
	repo := newRepoStub()
	retrier := &retrierStub{err: errors.New("invariant violated")}
	publisher := &publisherStub{}
	jobs := newTestJobs(repo, retrier, publisher, 5)

	parkTask(repo, 1, testNow.Add(-time.Second))
	jobs.ProcessRetryQueue()

	if repo.tasks[0].Status != domain.RetryTaskStatusDead {
		t.Fatalf("expected immediate dead-letter, got %s", repo.tasks[0].Status)
	}
	if got := publisher.count(domain.EventCallbackDeadLetter); got != 1 {
		t.Fatalf("expected one dead-letter event, got %d", got)
	}
}

func TestProcessRetryQueue_UnreadablePayloadDeadLetters(t *testing.T) {
	repo := newRepoStub()
	retrier := &retrierStub{}
	publisher := &publisherStub{}
	jobs := newTestJobs(repo, retrier, publisher, 5)

	repo.tasks = append(repo.tasks, &domain.RetryTask{
		ID:                 uuid.New(),
		Gateway:            domain.GatewayMpesa,
		SerializedCallback: []byte("{corrupt"),
		Attempt:            1,
		Status:             domain.RetryTaskStatusPending,
		NextAttemptAt:      testNow.Add(-time.Second),
	})
	jobs.ProcessRetryQueue()

	if retrier.calls != 0 {
		t.Fatal("unreadable payload must not reach the engine")
	}
	if repo.tasks[0].Status != domain.RetryTaskStatusDead {
		t.Fatalf("expected dead status, got %s", repo.tasks[0].Status)
	}
}

// reentrantRetrier triggers a second queue drain while the first is still
// processing its batch, simulating overlapping drains.
type reentrantRetrier struct {
	jobs  *Jobs
	inner *retrierStub
}

func (r *reentrantRetrier) RetryCallback(ctx context.Context, cb *domain.GatewayCallback) error {
	r.jobs.ProcessRetryQueue()
	return r.inner.RetryCallback(ctx, cb)
}

func TestProcessRetryQueue_OverlappingDrainDoesNotRedeliver(t *testing.T) {
	repo := newRepoStub()
	inner := &retrierStub{err: transient("payment lookup", errors.New("still down"))}
	retrier := &reentrantRetrier{inner: inner}
	jobs := newTestJobs(repo, retrier, &publisherStub{}, 5)
	retrier.jobs = jobs

	parkTask(repo, 1, testNow.Add(-time.Second))
	jobs.ProcessRetryQueue()

	if inner.calls != 1 {
		t.Fatalf("task was delivered %d times across overlapping drains", inner.calls)
	}
	// The attempt counter advanced once per real delivery.
	if got := repo.tasks[0].Attempt; got != 2 {
		t.Fatalf("expected attempt 2 after one delivery, got %d", got)
	}
}

func TestClaimDueRetryTasks_EachTaskClaimedOnce(t *testing.T) {
	repo := newRepoStub()
	parkTask(repo, 1, testNow.Add(-time.Second))

	first, err := repo.ClaimDueRetryTasks(context.Background(), testNow, 10)
	if err != nil || len(first) != 1 {
		t.Fatalf("expected one task from the first claim, got %d (err %v)", len(first), err)
	}
	second, err := repo.ClaimDueRetryTasks(context.Background(), testNow, 10)
	if err != nil || len(second) != 0 {
		t.Fatalf("claimed task must be invisible to a second claim, got %d (err %v)", len(second), err)
	}
}

func TestExpireLapsedSubscriptions(t *testing.T) {
	repo := newRepoStub()
	publisher := &publisherStub{}
	jobs := newTestJobs(repo, &retrierStub{}, publisher, 5)

	lapsedEndsAt := testNow.Add(-time.Hour)
	lapsed := &domain.Subscription{ID: uuid.New(), CompanyID: uuid.New(), Status: domain.SubscriptionStatusGracePeriod, EndsAt: &lapsedEndsAt}
	repo.subs[lapsed.ID] = lapsed

	stillInGraceEndsAt := testNow.Add(time.Hour)
	stillInGrace := &domain.Subscription{ID: uuid.New(), CompanyID: uuid.New(), Status: domain.SubscriptionStatusGracePeriod, EndsAt: &stillInGraceEndsAt}
	repo.subs[stillInGrace.ID] = stillInGrace

	active := &domain.Subscription{ID: uuid.New(), CompanyID: uuid.New(), Status: domain.SubscriptionStatusActive}
	repo.subs[active.ID] = active

	jobs.ExpireLapsedSubscriptions()

	if repo.subs[lapsed.ID].Status != domain.SubscriptionStatusExpired {
		t.Fatalf("expected lapsed subscription expired, got %s", repo.subs[lapsed.ID].Status)
	}
	if repo.subs[stillInGrace.ID].Status != domain.SubscriptionStatusGracePeriod {
		t.Fatal("subscription inside its grace window must not expire")
	}
	if repo.subs[active.ID].Status != domain.SubscriptionStatusActive {
		t.Fatal("active subscription must not expire")
	}
	if got := publisher.count(domain.EventSubscriptionExpired); got != 1 {
		t.Fatalf("expected one expiry event, got %d", got)
	}

	// The sweep is idempotent.
	jobs.ExpireLapsedSubscriptions()
	if got := publisher.count(domain.EventSubscriptionExpired); got != 1 {
		t.Fatalf("expected no further expiry events, got %d", got)
	}
}

package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docrender/internal/queue"
	"github.com/kiranshivaraju/docrender/internal/worker"
	"github.com/kiranshivaraju/docrender/pkg/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func message() models.QueueMessage {
	return models.QueueMessage{
		JobID:   uuid.New(),
		OwnerID: "owner-1",
		Kind:    models.JobKindRender,
		Payload: renderPayload(map[string]any{"n": 1}),
	}
}

func runPool(t *testing.T, q queue.Queue, h worker.Handler, wantCalls int32, calls *atomic.Int32) {
	t.Helper()
	pool := worker.NewPool([]queue.Queue{q}, h, zerolog.Nop(),
		worker.WithPoolConcurrency(2), worker.WithPollInterval(5*time.Millisecond))
	require.NoError(t, pool.Start(context.Background()))
	require.Eventually(t, func() bool { return calls.Load() >= wantCalls }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, pool.Stop(ctx))
}

func TestPool_AcksHandledDeliveries(t *testing.T) {
	clock := &fakeClock{t: fixedNow}
	q := queue.NewMemoryQueue(queue.Options{Name: "render", Visibility: time.Minute, MaxReceives: 3, Now: clock.Now})
	require.NoError(t, q.Enqueue(context.Background(), message()))
	require.NoError(t, q.Enqueue(context.Background(), message()))

	var calls atomic.Int32
	h := worker.HandlerFunc(func(context.Context, *queue.Delivery) error {
		calls.Add(1)
		return nil
	})
	runPool(t, q, h, 2, &calls)

	clock.Advance(2 * time.Minute)
	_, err := q.Receive(context.Background())
	assert.ErrorIs(t, err, queue.ErrEmpty)
}

func TestPool_LeavesFailedHandlingForRedelivery(t *testing.T) {
	clock := &fakeClock{t: fixedNow}
	q := queue.NewMemoryQueue(queue.Options{Name: "render", Visibility: time.Minute, MaxReceives: 3, Now: clock.Now})
	msg := message()
	require.NoError(t, q.Enqueue(context.Background(), msg))

	var calls atomic.Int32
	h := worker.HandlerFunc(func(context.Context, *queue.Delivery) error {
		calls.Add(1)
		return errors.New("worker crashed")
	})
	runPool(t, q, h, 1, &calls)
	assert.Equal(t, int32(1), calls.Load())

	clock.Advance(2 * time.Minute)
	d, err := q.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, msg.JobID, d.Message.JobID)
	assert.Equal(t, 2, d.ReceiveCount)
}

func TestPool_StopCancelsActiveJobsAfterDeadline(t *testing.T) {
	q := queue.NewMemoryQueue(queue.Options{Name: "ai", Visibility: time.Minute, MaxReceives: 2})
	require.NoError(t, q.Enqueue(context.Background(), message()))

	started := make(chan struct{})
	cancelled := make(chan struct{})
	h := worker.HandlerFunc(func(ctx context.Context, _ *queue.Delivery) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})
	pool := worker.NewPool([]queue.Queue{q}, h, zerolog.Nop(), worker.WithPollInterval(5*time.Millisecond))
	require.NoError(t, pool.Start(context.Background()))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, pool.Stop(ctx))

	select {
	case <-cancelled:
	default:
		t.Fatal("active job was not cancelled")
	}
}

func TestPool_StartWithoutQueues(t *testing.T) {
	pool := worker.NewPool(nil, worker.HandlerFunc(func(context.Context, *queue.Delivery) error { return nil }), zerolog.Nop())
	assert.Error(t, pool.Start(context.Background()))
}

func TestPool_DeadLetterFailsJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, worker.Options{})
	d := f.seed(t, "owner-1", renderPayload(map[string]any{"n": 1}))

	clock := &fakeClock{t: fixedNow}
	q := queue.NewMemoryQueue(queue.Options{
		Name:         "render",
		Visibility:   time.Minute,
		MaxReceives:  1,
		OnDeadLetter: f.proc.HandleDeadLetter,
		Now:          clock.Now,
	})
	require.NoError(t, q.Enqueue(ctx, d.Message))

	// First receipt is never acked, as after a crash.
	_, err := q.Receive(ctx)
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, queue.ErrEmpty)

	job := f.job(t, d.Message.JobID)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.Failure)
	assert.Equal(t, models.ErrCodeGenerationError, job.Failure.Code)

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, d.Message.JobID, dead[0].Message.JobID)
}

package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docrender/internal/queue"
	"github.com/rs/zerolog"
)

// Handler processes one delivery. Returning nil acks it.
type Handler interface {
	Handle(ctx context.Context, d *queue.Delivery) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, d *queue.Delivery) error

func (f HandlerFunc) Handle(ctx context.Context, d *queue.Delivery) error { return f(ctx, d) }

// Pool runs a fixed number of goroutines, each receiving one message at a
// time from the configured queues.
type Pool struct {
	queues       []queue.Queue
	handler      Handler
	concurrency  int
	pollInterval time.Duration
	logger       zerolog.Logger

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent receive loops.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPollInterval sets how long a loop sleeps after finding every queue empty.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// NewPool creates a pool over queues.
func NewPool(queues []queue.Queue, handler Handler, logger zerolog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		queues:       queues,
		handler:      handler,
		concurrency:  1,
		pollInterval: time.Second,
		logger:       logger,
		stopCh:       make(chan struct{}),
		activeJobs:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the receive loops. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	if len(p.queues) == 0 {
		return errors.New("worker pool has no queues")
	}
	p.running = true

	names := make([]string, 0, len(p.queues))
	for _, q := range p.queues {
		names = append(names, q.Name())
	}
	p.logger.Info().
		Int("concurrency", p.concurrency).
		Strs("queues", names).
		Msg("worker pool starting")

	for i := range p.concurrency {
		p.wg.Add(1)
		go p.receiveLoop(i)
	}
	return nil
}

// Stop signals the loops to stop and waits for in-flight jobs. When ctx ends
// first, in-flight jobs are cancelled; their messages stay unacked and are
// redelivered after the visibility timeout.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info().Msg("worker pool stopping")
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info().Msg("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn().Msg("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}
	return nil
}

// receiveLoop polls the queues round-robin, starting at a different queue
// per loop so one busy queue cannot starve the others.
func (p *Pool) receiveLoop(idx int) {
	defer p.wg.Done()

	next := idx % len(p.queues)
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		got := false
		for i := range p.queues {
			q := p.queues[(next+i)%len(p.queues)]
			d, err := q.Receive(context.Background())
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			if err != nil {
				p.logger.Error().Err(err).Str("queue", q.Name()).Msg("receive failed")
				continue
			}
			got = true
			p.process(q, d)
			break
		}
		next = (next + 1) % len(p.queues)

		if !got {
			p.sleep()
		}
	}
}

func (p *Pool) process(q queue.Queue, d *queue.Delivery) {
	ctx, cancel := context.WithCancel(context.Background())
	key := uuid.NewString()
	p.trackJob(key, cancel)
	defer func() {
		p.untrackJob(key)
		cancel()
	}()

	err := p.handler.Handle(ctx, d)
	if err != nil {
		p.logger.Warn().Err(err).
			Str("queue", q.Name()).
			Str("job_id", d.Message.JobID.String()).
			Int("receive_count", d.ReceiveCount).
			Msg("delivery left for redelivery")
		return
	}

	if err := q.Ack(context.Background(), d); err != nil {
		if errors.Is(err, queue.ErrStaleReceipt) {
			p.logger.Warn().Str("queue", q.Name()).
				Str("job_id", d.Message.JobID.String()).
				Msg("ack after visibility timeout lapsed")
			return
		}
		p.logger.Error().Err(err).Str("queue", q.Name()).Msg("ack failed")
	}
}

func (p *Pool) sleep() {
	t := time.NewTimer(p.pollInterval)
	defer t.Stop()
	select {
	case <-p.stopCh:
	case <-t.C:
	}
}

func (p *Pool) trackJob(key string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[key] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(key string) {
	p.activeMu.Lock()
	delete(p.activeJobs, key)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for _, cancel := range p.activeJobs {
		cancel()
	}
}

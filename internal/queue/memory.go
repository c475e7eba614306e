package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docrender/internal/metrics"
	"github.com/kiranshivaraju/docrender/pkg/models"
)

// MemoryQueue is an in-process Queue with the same delivery semantics as
// RedisQueue. Messages do not survive the process.
type MemoryQueue struct {
	opts Options
	now  func() time.Time

	mu       sync.Mutex
	seq      int64
	messages map[string]*memMessage
	dead     []DeadLetter
}

type memMessage struct {
	id        string
	seq       int64
	msg       models.QueueMessage
	visibleAt time.Time
	receives  int
	receipt   string
}

// NewMemoryQueue creates a MemoryQueue.
func NewMemoryQueue(opts Options) *MemoryQueue {
	opts = opts.withDefaults()
	return &MemoryQueue{
		opts:     opts,
		now:      opts.Now,
		messages: make(map[string]*memMessage),
	}
}

func (q *MemoryQueue) Name() string { return q.opts.Name }

func (q *MemoryQueue) Enqueue(_ context.Context, msg models.QueueMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	id := uuid.NewString()
	q.messages[id] = &memMessage{id: id, seq: q.seq, msg: msg, visibleAt: q.now()}
	metrics.IncQueueEvent(q.opts.Name, "enqueued")
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context) (*Delivery, error) {
	d, dead := q.receive()
	for _, dl := range dead {
		metrics.IncQueueEvent(q.opts.Name, "dead_lettered")
		if q.opts.OnDeadLetter != nil {
			q.opts.OnDeadLetter(ctx, dl)
		}
	}
	if d == nil {
		return nil, ErrEmpty
	}
	metrics.IncQueueEvent(q.opts.Name, "received")
	return d, nil
}

func (q *MemoryQueue) receive() (*Delivery, []DeadLetter) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	visible := make([]*memMessage, 0, len(q.messages))
	for _, m := range q.messages {
		if !m.visibleAt.After(now) {
			visible = append(visible, m)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		if !visible[i].visibleAt.Equal(visible[j].visibleAt) {
			return visible[i].visibleAt.Before(visible[j].visibleAt)
		}
		return visible[i].seq < visible[j].seq
	})

	var dead []DeadLetter
	for _, m := range visible {
		if m.receives+1 > q.opts.MaxReceives {
			delete(q.messages, m.id)
			dl := DeadLetter{MessageID: m.id, ReceiveCount: m.receives, DeadLetteredAt: now, Message: m.msg}
			q.dead = append([]DeadLetter{dl}, q.dead...)
			if len(q.dead) > q.opts.DeadLetterCap {
				q.dead = q.dead[:q.opts.DeadLetterCap]
			}
			dead = append(dead, dl)
			continue
		}
		m.receives++
		m.receipt = uuid.NewString()
		m.visibleAt = now.Add(q.opts.Visibility)
		return &Delivery{
			Queue:        q.opts.Name,
			MessageID:    m.id,
			Receipt:      m.receipt,
			ReceiveCount: m.receives,
			Message:      m.msg,
		}, dead
	}
	return nil, dead
}

func (q *MemoryQueue) Ack(_ context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, ok := q.messages[d.MessageID]
	if !ok || m.receipt != d.Receipt {
		return ErrStaleReceipt
	}
	delete(q.messages, d.MessageID)
	metrics.IncQueueEvent(q.opts.Name, "acked")
	return nil
}

// DeadLetters returns up to limit entries, newest first.
func (q *MemoryQueue) DeadLetters(_ context.Context, limit int) ([]DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if limit <= 0 || limit > len(q.dead) {
		limit = len(q.dead)
	}
	out := make([]DeadLetter, limit)
	copy(out, q.dead[:limit])
	return out, nil
}

// Len reports messages not yet acked or dead-lettered, visible or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Package queue is an at-least-once job queue with a visibility timeout and
// dead-letter routing.
//
// A received message stays invisible to other receivers until it is acked or
// its visibility timeout lapses. Each receipt increments the message's
// receive count; a message whose count would exceed MaxReceives is moved to
// the dead-letter list instead of being delivered again.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/kiranshivaraju/docrender/pkg/models"
)

var (
	// ErrEmpty is returned by Receive when no message is visible.
	ErrEmpty = errors.New("queue: no visible message")
	// ErrStaleReceipt is returned by Ack when the delivery's visibility
	// lapsed and the message was received again or dead-lettered.
	ErrStaleReceipt = errors.New("queue: stale receipt")
)

// Queue is the job queue. Implementations must be safe for concurrent use.
type Queue interface {
	Name() string
	Enqueue(ctx context.Context, msg models.QueueMessage) error
	Receive(ctx context.Context) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
}

// Delivery is one receipt of a message.
type Delivery struct {
	Queue        string
	MessageID    string
	Receipt      string
	ReceiveCount int
	Message      models.QueueMessage
}

// DeadLetter is a message that exhausted its receive budget.
type DeadLetter struct {
	MessageID      string              `json:"message_id"`
	ReceiveCount   int                 `json:"receive_count"`
	DeadLetteredAt time.Time           `json:"dead_lettered_at"`
	Message        models.QueueMessage `json:"message"`
}

// DeadLetterFunc is called once for every message routed to the dead-letter
// list. It runs on the receiving goroutine.
type DeadLetterFunc func(ctx context.Context, dl DeadLetter)

// Options configures a queue.
type Options struct {
	Name         string
	Visibility   time.Duration
	MaxReceives  int
	OnDeadLetter DeadLetterFunc
	// DeadLetterCap bounds the retained dead-letter list. Zero means 1000.
	DeadLetterCap int
	// Now overrides the clock used for visibility deadlines.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Visibility <= 0 {
		o.Visibility = 30 * time.Second
	}
	if o.MaxReceives <= 0 {
		o.MaxReceives = 1
	}
	if o.DeadLetterCap <= 0 {
		o.DeadLetterCap = 1000
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

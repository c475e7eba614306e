package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docrender/internal/metrics"
	"github.com/kiranshivaraju/docrender/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Redis layout, per queue name:
//
//	docrender:queue:{name}:ready      ZSET  message id -> visible-at (unix ms)
//	docrender:queue:{name}:msg:{id}   HASH  body, receives, receipt
//	docrender:queue:{name}:dlq        LIST  dead-letter entries, newest first
//
// Receive touches message hashes it discovers inside the script, so the
// queue requires a single Redis node (not Redis Cluster).
const keyPrefix = "docrender:queue:"

func readyKey(name string) string { return keyPrefix + name + ":ready" }

func messagePrefix(name string) string { return keyPrefix + name + ":msg:" }

func messageKey(name, id string) string { return messagePrefix(name) + id }

func deadLetterKey(name string) string { return keyPrefix + name + ":dlq" }

// receiveScript claims the oldest visible message. Messages whose receive
// count would exceed the maximum are moved to the dead-letter list on the way.
//
// KEYS[1] ready zset, KEYS[2] dead-letter list
// ARGV[1] now ms, ARGV[2] visibility ms, ARGV[3] max receives,
// ARGV[4] receipt, ARGV[5] message key prefix, ARGV[6] dead-letter cap
var receiveScript = redis.NewScript(`
local dead = {}
while true do
  local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
  if #ids == 0 then
    return {'', '', 0, dead}
  end
  local id = ids[1]
  local mk = ARGV[5] .. id
  local body = redis.call('HGET', mk, 'body')
  if not body then
    redis.call('ZREM', KEYS[1], id)
  else
    local n = redis.call('HINCRBY', mk, 'receives', 1)
    if n > tonumber(ARGV[3]) then
      redis.call('ZREM', KEYS[1], id)
      redis.call('DEL', mk)
      local entry = cjson.encode({id = id, body = body, receives = n - 1, at = ARGV[1]})
      redis.call('LPUSH', KEYS[2], entry)
      redis.call('LTRIM', KEYS[2], 0, tonumber(ARGV[6]) - 1)
      table.insert(dead, entry)
    else
      redis.call('ZADD', KEYS[1], tonumber(ARGV[1]) + tonumber(ARGV[2]), id)
      redis.call('HSET', mk, 'receipt', ARGV[4])
      return {id, body, n, dead}
    end
  end
end
`)

// ackScript deletes a message only if the receipt still matches.
//
// KEYS[1] ready zset, KEYS[2] message hash; ARGV[1] receipt, ARGV[2] message id
var ackScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], 'receipt') == ARGV[1] then
  redis.call('ZREM', KEYS[1], ARGV[2])
  redis.call('DEL', KEYS[2])
  return 1
end
return 0
`)

// RedisQueue implements Queue on Redis.
type RedisQueue struct {
	client *redis.Client
	opts   Options
	now    func() time.Time
}

// NewRedisQueue creates a RedisQueue on an existing client.
func NewRedisQueue(client *redis.Client, opts Options) *RedisQueue {
	opts = opts.withDefaults()
	return &RedisQueue{client: client, opts: opts, now: opts.Now}
}

func (q *RedisQueue) Name() string { return q.opts.Name }

func (q *RedisQueue) Enqueue(ctx context.Context, msg models.QueueMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: encode message: %w", err)
	}
	id := uuid.NewString()

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, messageKey(q.opts.Name, id), "body", body, "receives", 0)
	pipe.ZAdd(ctx, readyKey(q.opts.Name), redis.Z{Score: float64(q.now().UnixMilli()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	metrics.IncQueueEvent(q.opts.Name, "enqueued")
	return nil
}

func (q *RedisQueue) Receive(ctx context.Context) (*Delivery, error) {
	receipt := uuid.NewString()
	res, err := receiveScript.Run(ctx, q.client,
		[]string{readyKey(q.opts.Name), deadLetterKey(q.opts.Name)},
		q.now().UnixMilli(),
		q.opts.Visibility.Milliseconds(),
		q.opts.MaxReceives,
		receipt,
		messagePrefix(q.opts.Name),
		q.opts.DeadLetterCap,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("queue: receive: %w", err)
	}
	if len(res) != 4 {
		return nil, fmt.Errorf("queue: receive: unexpected reply of %d elements", len(res))
	}

	if dead, ok := res[3].([]any); ok {
		for _, raw := range dead {
			dl, err := decodeDeadLetter(raw)
			if err != nil {
				return nil, err
			}
			metrics.IncQueueEvent(q.opts.Name, "dead_lettered")
			if q.opts.OnDeadLetter != nil {
				q.opts.OnDeadLetter(ctx, dl)
			}
		}
	}

	id, _ := res[0].(string)
	if id == "" {
		return nil, ErrEmpty
	}
	body, _ := res[1].(string)
	count, _ := res[2].(int64)

	d := &Delivery{Queue: q.opts.Name, MessageID: id, Receipt: receipt, ReceiveCount: int(count)}
	if err := json.Unmarshal([]byte(body), &d.Message); err != nil {
		return nil, fmt.Errorf("queue: decode message %s: %w", id, err)
	}
	metrics.IncQueueEvent(q.opts.Name, "received")
	return d, nil
}

func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	n, err := ackScript.Run(ctx, q.client,
		[]string{readyKey(q.opts.Name), messageKey(q.opts.Name, d.MessageID)},
		d.Receipt, d.MessageID,
	).Int()
	if err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	if n == 0 {
		return ErrStaleReceipt
	}
	metrics.IncQueueEvent(q.opts.Name, "acked")
	return nil
}

// DeadLetters returns up to limit entries, newest first.
func (q *RedisQueue) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = q.opts.DeadLetterCap
	}
	raws, err := q.client.LRange(ctx, deadLetterKey(q.opts.Name), 0, int64(limit-1)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("queue: list dead letters: %w", err)
	}
	out := make([]DeadLetter, 0, len(raws))
	for _, raw := range raws {
		dl, err := decodeDeadLetter(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, nil
}

type deadLetterEntry struct {
	ID       string `json:"id"`
	Body     string `json:"body"`
	Receives int    `json:"receives"`
	At       string `json:"at"`
}

func decodeDeadLetter(raw any) (DeadLetter, error) {
	s, ok := raw.(string)
	if !ok {
		return DeadLetter{}, fmt.Errorf("queue: dead letter entry of type %T", raw)
	}
	var e deadLetterEntry
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return DeadLetter{}, fmt.Errorf("queue: decode dead letter: %w", err)
	}
	ms, err := strconv.ParseInt(e.At, 10, 64)
	if err != nil {
		return DeadLetter{}, fmt.Errorf("queue: dead letter timestamp %q: %w", e.At, err)
	}
	dl := DeadLetter{MessageID: e.ID, ReceiveCount: e.Receives, DeadLetteredAt: time.UnixMilli(ms).UTC()}
	if err := json.Unmarshal([]byte(e.Body), &dl.Message); err != nil {
		return DeadLetter{}, fmt.Errorf("queue: decode dead letter body: %w", err)
	}
	return dl, nil
}

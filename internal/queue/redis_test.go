package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/kiranshivaraju/docrender/internal/queue"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisQueue_VisibilityAndAck(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	client := setupRedis(t)
	clock := newFakeClock()
	q := queue.NewRedisQueue(client, queue.Options{Name: "render", Visibility: time.Minute, MaxReceives: 3, Now: clock.Now})
	ctx := context.Background()

	msg := renderMessage()
	require.NoError(t, q.Enqueue(ctx, msg))

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, msg.JobID, d.Message.JobID)
	assert.Equal(t, 1, d.ReceiveCount)
	require.NotNil(t, d.Message.Payload.Render)
	assert.Equal(t, "invoice", d.Message.Payload.Render.TemplateID)

	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, queue.ErrEmpty)

	clock.Advance(time.Minute)
	again, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, again.ReceiveCount)

	assert.ErrorIs(t, q.Ack(ctx, d), queue.ErrStaleReceipt)
	require.NoError(t, q.Ack(ctx, again))

	clock.Advance(time.Hour)
	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, queue.ErrEmpty)
}

func TestRedisQueue_DeadLettersAfterMaxReceives(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	client := setupRedis(t)
	clock := newFakeClock()
	var routed []queue.DeadLetter
	q := queue.NewRedisQueue(client, queue.Options{
		Name:        "render",
		Visibility:  time.Minute,
		MaxReceives: 3,
		Now:         clock.Now,
		OnDeadLetter: func(_ context.Context, dl queue.DeadLetter) {
			routed = append(routed, dl)
		},
	})
	ctx := context.Background()

	msg := renderMessage()
	require.NoError(t, q.Enqueue(ctx, msg))

	for i := 1; i <= 3; i++ {
		d, err := q.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, d.ReceiveCount)
		clock.Advance(time.Minute)
	}

	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, queue.ErrEmpty)

	require.Len(t, routed, 1)
	assert.Equal(t, msg.JobID, routed[0].Message.JobID)
	assert.Equal(t, 3, routed[0].ReceiveCount)
	assert.Equal(t, clock.Now().UnixMilli(), routed[0].DeadLetteredAt.UnixMilli())

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, msg.JobID, dead[0].Message.JobID)

	ready, err := client.ZCard(ctx, "docrender:queue:render:ready").Result()
	require.NoError(t, err)
	assert.Zero(t, ready)
}

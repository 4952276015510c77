package offline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clientkit/syncstore/internal/models"
	"github.com/clientkit/syncstore/internal/storage/memory"
	"github.com/clientkit/syncstore/internal/transport"
)

func TestQueue_DrainSummary(t *testing.T) {
	ctx := context.Background()
	q, err := NewQueue(ctx, memory.New(), 0, nil)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(ctx, transport.Message{Type: "CREATE_ORDER", Topic: "orders"}, 2))
	require.NoError(t, q.Enqueue(ctx, transport.Message{Type: "BROKEN", Topic: "orders"}, 2))
	require.NoError(t, q.Enqueue(ctx, transport.Message{Type: "UPDATE_ORDER", Topic: "orders"}, 2))
	require.Equal(t, 3, q.Len())

	summary := q.Drain(ctx, func(ctx context.Context, msg transport.Message) error {
		if msg.Type == "BROKEN" {
			return errors.New("server rejects payload")
		}
		return nil
	})

	assert.Equal(t, models.ReplaySummary{Successful: 2, Failed: 1, Remaining: 0}, summary)
	assert.Zero(t, q.Len())
}

func TestQueue_DrainRetriesBeforeGivingUp(t *testing.T) {
	ctx := context.Background()
	q, err := NewQueue(ctx, nil, 0, nil)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(ctx, transport.Message{Type: "CREATE_ORDER"}, 3))

	attempts := 0
	summary := q.Drain(ctx, func(ctx context.Context, msg transport.Message) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	// Третья попытка успела до исчерпания бюджета
	assert.Equal(t, 3, attempts)
	assert.Equal(t, models.ReplaySummary{Successful: 1}, summary)
}

func TestQueue_CapacityDropsNewest(t *testing.T) {
	ctx := context.Background()
	q, err := NewQueue(ctx, nil, 2, nil)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(ctx, transport.Message{Type: "FIRST"}, 1))
	require.NoError(t, q.Enqueue(ctx, transport.Message{Type: "SECOND"}, 1))
	require.NoError(t, q.Enqueue(ctx, transport.Message{Type: "THIRD"}, 1))
	require.Equal(t, 2, q.Len())

	var delivered []string
	q.Drain(ctx, func(ctx context.Context, msg transport.Message) error {
		delivered = append(delivered, msg.Type)
		return nil
	})

	// Вытеснен хвост: новейшее сообщение, не накопленный буфер
	assert.Equal(t, []string{"FIRST", "SECOND"}, delivered)
}

func TestQueue_PersistenceSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()

	q, err := NewQueue(ctx, kv, 0, nil)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, transport.Message{Type: "CREATE_ORDER"}, 1))
	require.NoError(t, q.Enqueue(ctx, transport.Message{Type: "UPDATE_ORDER"}, 1))

	// Новый экземпляр на том же хранилище видит буфер
	reloaded, err := NewQueue(ctx, kv, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.Len())
}

func TestQueue_CanceledContextKeepsMessages(t *testing.T) {
	q, err := NewQueue(context.Background(), nil, 0, nil)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(context.Background(), transport.Message{Type: "CREATE_ORDER"}, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := q.Drain(ctx, func(ctx context.Context, msg transport.Message) error {
		t.Fatal("send must not be called with canceled context")
		return nil
	})

	assert.Equal(t, models.ReplaySummary{Remaining: 1}, summary)
	assert.Equal(t, 1, q.Len())
}

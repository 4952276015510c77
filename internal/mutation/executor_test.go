package mutation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clientkit/syncstore/internal/events"
	"github.com/clientkit/syncstore/internal/models"
	"github.com/clientkit/syncstore/internal/resolver"
)

func newTestExecutor(t *testing.T) (*Executor, *events.Emitter) {
	t.Helper()

	emitter := events.NewEmitter()
	res := resolver.New(resolver.Config{}, nil)
	exec := New(res, emitter, nil)

	// Повторы в тестах не ждут настоящих задержек
	exec.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return exec, emitter
}

func TestExecute_OptimisticCreateSuccess(t *testing.T) {
	exec, _ := newTestExecutor(t)

	data := models.Entity{"id": "o-1", "status": "CHO_XAC_NHAN", "version": 1}

	var applied, committed models.Entity
	remoteCalled := false

	result, err := exec.Execute(context.Background(), Request{
		Kind:       models.MutationCreate,
		EntityName: "orders",
		Data:       data,
		Apply: func(d models.Entity) {
			// Оптимистичное применение происходит до remote-вызова
			assert.False(t, remoteCalled)
			applied = d
		},
		Remote: func(ctx context.Context, d models.Entity) (models.RemoteResponse, error) {
			remoteCalled = true
			return models.RemoteResponse{Success: true, Data: d}, nil
		},
		Commit: func(confirmed models.Entity) { committed = confirmed },
	}, Options{})
	require.NoError(t, err)

	require.True(t, result.Success)
	assert.NotEmpty(t, result.MutationID)
	assert.Equal(t, "o-1", applied.ID())
	assert.Equal(t, "o-1", committed.ID())

	// Жизненный цикл замкнут: активный набор пуст, история хранит итог
	assert.Zero(t, exec.ActiveCount())
	assert.False(t, exec.IsActive(result.MutationID))

	history := exec.History()
	require.Len(t, history, 1)
	assert.Equal(t, models.MutationConfirmed, history[0].State)
	assert.True(t, history[0].State.Terminal())
	assert.Nil(t, history[0].RollbackSnapshot, "history keeps stripped contexts")
}

func TestExecute_RemoteRejectionRollsBack(t *testing.T) {
	exec, emitter := newTestExecutor(t)

	var eventTypes []events.Type
	for _, et := range []events.Type{events.OptimisticRollback, events.MutationFailed, events.RetryScheduled} {
		et := et
		emitter.Subscribe(et, func(events.Event) { eventTypes = append(eventTypes, et) })
	}

	snapshot := []models.Entity{{"id": "o-1", "note": "before"}}
	var restored any
	commitCalled := false

	result, err := exec.Execute(context.Background(), Request{
		Kind:       models.MutationUpdate,
		EntityName: "orders",
		Data:       models.Entity{"id": "o-1", "note": "after"},
		Snapshot:   func() any { return snapshot },
		Remote: func(ctx context.Context, d models.Entity) (models.RemoteResponse, error) {
			return models.RemoteResponse{Success: false, Message: "insufficient stock"}, nil
		},
		Rollback: func(s any) { restored = s },
		Commit:   func(models.Entity) { commitCalled = true },
	}, Options{MaxRetries: 5})
	require.NoError(t, err)

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "insufficient stock")
	assert.False(t, commitCalled)

	// Откат восстановил именно снимок, без повторов на структурированный отказ
	assert.Equal(t, snapshot, restored)
	assert.Equal(t, []events.Type{events.OptimisticRollback, events.MutationFailed}, eventTypes)

	history := exec.History()
	require.Len(t, history, 1)
	assert.Equal(t, models.MutationFailed, history[0].State)
	assert.Zero(t, history[0].RetryCount)
}

func TestExecute_RetryThenSuccess(t *testing.T) {
	exec, emitter := newTestExecutor(t)

	var delays []time.Duration
	exec.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	retriesScheduled := 0
	emitter.Subscribe(events.RetryScheduled, func(events.Event) { retriesScheduled++ })

	attempts := 0
	rollbackCalled := false

	result, err := exec.Execute(context.Background(), Request{
		Kind:       models.MutationUpdate,
		EntityName: "orders",
		Data:       models.Entity{"id": "o-1", "total": 100},
		Remote: func(ctx context.Context, d models.Entity) (models.RemoteResponse, error) {
			attempts++
			if attempts < 3 {
				return models.RemoteResponse{}, errors.New("connection reset")
			}
			return models.RemoteResponse{Success: true}, nil
		},
		Rollback: func(any) { rollbackCalled = true },
	}, Options{MaxRetries: 3, Backoff: 200 * time.Millisecond})
	require.NoError(t, err)

	require.True(t, result.Success)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, retriesScheduled)
	assert.False(t, rollbackCalled, "no rollback between retries")

	// Экспоненциальный рост задержки
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, delays)
}

func TestExecute_RetriesExhausted(t *testing.T) {
	exec, _ := newTestExecutor(t)
	exec.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	attempts := 0
	rollbackCalled := false

	result, err := exec.Execute(context.Background(), Request{
		Kind: models.MutationUpdate,
		Data: models.Entity{"id": "o-1"},
		Remote: func(ctx context.Context, d models.Entity) (models.RemoteResponse, error) {
			attempts++
			return models.RemoteResponse{}, errors.New("network unreachable")
		},
		Rollback: func(any) { rollbackCalled = true },
	}, Options{MaxRetries: 2})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 3, attempts, "first attempt plus two retries")
	assert.True(t, rollbackCalled)
}

func TestExecute_PermanentErrorNotRetried(t *testing.T) {
	exec, _ := newTestExecutor(t)

	attempts := 0
	result, err := exec.Execute(context.Background(), Request{
		Kind: models.MutationDelete,
		Data: models.Entity{"id": "o-1"},
		Remote: func(ctx context.Context, d models.Entity) (models.RemoteResponse, error) {
			attempts++
			return models.RemoteResponse{}, fmt.Errorf("%w: entity gone", ErrPermanent)
		},
	}, Options{MaxRetries: 5})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 1, attempts)
}

func TestExecute_ReconcilesConfirmedEntity(t *testing.T) {
	exec, _ := newTestExecutor(t)

	optimistic := models.Entity{"id": "o-1", "status": "XAC_NHAN", "note": "keep me", "version": 2}
	serverSide := models.Entity{"id": "o-1", "status": "XAC_NHAN", "total": 150, "version": 3}

	var committed models.Entity
	result, err := exec.Execute(context.Background(), Request{
		Kind:       models.MutationUpdate,
		EntityName: "orders",
		Data:       optimistic,
		Remote: func(ctx context.Context, d models.Entity) (models.RemoteResponse, error) {
			return models.RemoteResponse{Success: true, Data: serverSide}, nil
		},
		Commit: func(confirmed models.Entity) { committed = confirmed },
	}, Options{Strategy: models.StrategyMergeShallow})
	require.NoError(t, err)

	require.True(t, result.Success)
	// Сверка через резолвер: поля обеих сторон выживают
	assert.Equal(t, "keep me", committed["note"])
	assert.Equal(t, 150, committed["total"])
}

func TestExecute_NilRemote(t *testing.T) {
	exec, _ := newTestExecutor(t)

	result, err := exec.Execute(context.Background(), Request{Kind: models.MutationCreate}, Options{})
	require.ErrorIs(t, err, ErrNilRemote)
	assert.Nil(t, result)
}

func TestExecute_RemoteIgnoringContextTimesOut(t *testing.T) {
	exec, _ := newTestExecutor(t)

	// Remote зависает и не реагирует на отмену контекста
	release := make(chan struct{})
	defer close(release)

	rollbackCalled := false
	start := time.Now()

	result, err := exec.Execute(context.Background(), Request{
		Kind:       models.MutationUpdate,
		EntityName: "orders",
		Data:       models.Entity{"id": "o-1"},
		Remote: func(ctx context.Context, d models.Entity) (models.RemoteResponse, error) {
			<-release
			return models.RemoteResponse{Success: true, Data: d}, nil
		},
		Rollback: func(any) { rollbackCalled = true },
	}, Options{Timeout: 30 * time.Millisecond})
	require.NoError(t, err)

	// Попытка брошена по таймауту, исполнитель не ждет зависший вызов
	assert.Less(t, time.Since(start), 5*time.Second)
	require.False(t, result.Success)
	assert.Contains(t, result.Error, context.DeadlineExceeded.Error())
	assert.True(t, rollbackCalled)
	assert.Zero(t, exec.ActiveCount())
}

func TestExecute_ContextCanceledNotRetried(t *testing.T) {
	exec, _ := newTestExecutor(t)

	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	result, err := exec.Execute(ctx, Request{
		Kind: models.MutationUpdate,
		Data: models.Entity{"id": "o-1"},
		Remote: func(ctx context.Context, d models.Entity) (models.RemoteResponse, error) {
			attempts++
			cancel()
			return models.RemoteResponse{}, context.Canceled
		},
	}, Options{MaxRetries: 5})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 1, attempts)
}

func TestBackoffDelay_Capped(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, backoffDelay(200*time.Millisecond, 0))
	assert.Equal(t, 1600*time.Millisecond, backoffDelay(200*time.Millisecond, 3))
	assert.Equal(t, maxBackoff, backoffDelay(200*time.Millisecond, 40))
}

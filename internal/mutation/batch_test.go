package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clientkit/syncstore/internal/models"
)

func okItem(id string) BatchItem {
	return BatchItem{Request: Request{
		Kind: models.MutationUpdate,
		Data: models.Entity{"id": id},
		Remote: func(ctx context.Context, d models.Entity) (models.RemoteResponse, error) {
			return models.RemoteResponse{Success: true, Data: d}, nil
		},
	}}
}

func failItem(id string) BatchItem {
	return BatchItem{Request: Request{
		Kind: models.MutationUpdate,
		Data: models.Entity{"id": id},
		Remote: func(ctx context.Context, d models.Entity) (models.RemoteResponse, error) {
			return models.RemoteResponse{}, fmt.Errorf("%w: out of stock", ErrPermanent)
		},
	}}
}

func TestExecuteBatch_Sequential(t *testing.T) {
	exec, _ := newTestExecutor(t)

	summary, err := exec.ExecuteBatch(context.Background(),
		[]BatchItem{okItem("o-1"), failItem("o-2"), okItem("o-3")},
		BatchOptions{Sequential: true})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Results, 3)
	assert.True(t, summary.Results[0].Success)
	assert.False(t, summary.Results[1].Success)
	assert.True(t, summary.Results[2].Success)
}

func TestExecuteBatch_SequentialStopOnError(t *testing.T) {
	exec, _ := newTestExecutor(t)

	summary, err := exec.ExecuteBatch(context.Background(),
		[]BatchItem{okItem("o-1"), failItem("o-2"), okItem("o-3")},
		BatchOptions{Sequential: true, StopOnError: true})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	// Третья мутация не запускалась
	assert.Nil(t, summary.Results[2])
}

func TestExecuteBatch_Concurrent(t *testing.T) {
	exec, _ := newTestExecutor(t)

	var inFlight, peak atomic.Int32
	slow := func(id string) BatchItem {
		return BatchItem{Request: Request{
			Kind: models.MutationUpdate,
			Data: models.Entity{"id": id},
			Remote: func(ctx context.Context, d models.Entity) (models.RemoteResponse, error) {
				n := inFlight.Add(1)
				if n > peak.Load() {
					peak.Store(n)
				}
				defer inFlight.Add(-1)
				return models.RemoteResponse{Success: true}, nil
			},
		}}
	}

	items := []BatchItem{slow("o-1"), slow("o-2"), slow("o-3"), slow("o-4"), slow("o-5")}
	summary, err := exec.ExecuteBatch(context.Background(), items, BatchOptions{Concurrency: 2})
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestExecuteBatch_ConcurrentStopOnError(t *testing.T) {
	exec, _ := newTestExecutor(t)

	blocked := BatchItem{Request: Request{
		Kind: models.MutationUpdate,
		Data: models.Entity{"id": "o-3"},
		Remote: func(ctx context.Context, d models.Entity) (models.RemoteResponse, error) {
			// Отмена пакета делает попытку неуспешной
			<-ctx.Done()
			return models.RemoteResponse{}, context.Cause(ctx)
		},
	}}

	summary, err := exec.ExecuteBatch(context.Background(),
		[]BatchItem{failItem("o-1"), blocked},
		BatchOptions{Concurrency: 1, StopOnError: true})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, summary.Failed, 1)
	assert.False(t, summary.Results[0].Success)
}

func TestRetryable(t *testing.T) {
	assert.False(t, retryable(ErrRemoteRejected))
	assert.False(t, retryable(fmt.Errorf("%w: gone", ErrPermanent)))
	assert.False(t, retryable(context.Canceled))
	assert.True(t, retryable(context.DeadlineExceeded))
	assert.True(t, retryable(errors.New("connection refused")))
}

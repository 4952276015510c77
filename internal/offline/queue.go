// Package offline реализует офлайн-очередь исходящих сообщений
// и менеджер, объединяющий координаторы коллекций, транспорт и очередь.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clientkit/syncstore/internal/models"
	"github.com/clientkit/syncstore/internal/storage"
	"github.com/clientkit/syncstore/internal/transport"
)

const (
	defaultCapacity    = 100
	defaultSendRetries = 3
	queueKey           = "queue:offline"
)

// SendFunc доставляет одно сообщение при воспроизведении очереди.
type SendFunc func(ctx context.Context, msg transport.Message) error

// Queue — ограниченная персистентная FIFO-очередь исходящих сообщений.
type Queue struct {
	kv       storage.KVStore
	logger   *slog.Logger
	now      func() time.Time
	messages []models.QueuedMessage
	capacity int
	mu       sync.Mutex
}

// NewQueue создает очередь и загружает сохраненные сообщения.
// capacity <= 0 означает вместимость по умолчанию.
func NewQueue(ctx context.Context, kv storage.KVStore, capacity int, logger *slog.Logger) (*Queue, error) {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{
		kv:       kv,
		logger:   logger,
		now:      time.Now,
		capacity: capacity,
	}

	if err := q.load(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) load(ctx context.Context) error {
	if q.kv == nil {
		return nil
	}

	raw, err := q.kv.Get(ctx, queueKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load offline queue: %w", err)
	}

	if err := json.Unmarshal(raw, &q.messages); err != nil {
		// Поврежденная очередь отбрасывается: лучше потерять буфер,
		// чем отказать в работе
		q.logger.Warn("discarding corrupted offline queue", "error", err)
		q.messages = nil
	}
	return nil
}

func (q *Queue) persistLocked(ctx context.Context) {
	if q.kv == nil {
		return
	}

	raw, err := json.Marshal(q.messages)
	if err != nil {
		q.logger.Warn("failed to encode offline queue", "error", err)
		return
	}
	if err := q.kv.Set(ctx, queueKey, raw); err != nil {
		q.logger.Warn("failed to persist offline queue", "error", err)
	}
}

// Enqueue буферизует сообщение. Переполненная очередь отбрасывает новейшее
// сообщение: накопленный хвост старых важнее свежего при долгом офлайне.
func (q *Queue) Enqueue(ctx context.Context, msg transport.Message, maxRetries int) error {
	if maxRetries <= 0 {
		maxRetries = defaultSendRetries
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode queued message: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) >= q.capacity {
		q.logger.Warn("offline queue full, dropping newest message",
			"capacity", q.capacity,
			"type", msg.Type)
		return nil
	}

	q.messages = append(q.messages, models.QueuedMessage{
		ID:         uuid.NewString(),
		QueuedAt:   q.now(),
		Original:   raw,
		MaxRetries: maxRetries,
	})
	q.persistLocked(ctx)
	return nil
}

// Len возвращает число буферизованных сообщений.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Drain воспроизводит очередь по порядку. Каждое сообщение получает
// до MaxRetries попыток; успешные и исчерпавшие бюджет удаляются,
// остальные остаются до следующего прогона.
func (q *Queue) Drain(ctx context.Context, send SendFunc) models.ReplaySummary {
	q.mu.Lock()
	pending := q.messages
	q.messages = nil
	q.mu.Unlock()

	var summary models.ReplaySummary
	var remaining []models.QueuedMessage

	for i, qm := range pending {
		if ctx.Err() != nil {
			remaining = append(remaining, pending[i:]...)
			break
		}

		var msg transport.Message
		if err := json.Unmarshal(qm.Original, &msg); err != nil {
			q.logger.Warn("dropping undecodable queued message", "id", qm.ID, "error", err)
			summary.Failed++
			continue
		}

		delivered := false
		for qm.RetryCount < qm.MaxRetries {
			qm.RetryCount++
			if err := send(ctx, msg); err == nil {
				delivered = true
				break
			} else if ctx.Err() != nil {
				break
			}
		}

		switch {
		case delivered:
			summary.Successful++
		case qm.RetryCount >= qm.MaxRetries:
			q.logger.Warn("queued message exhausted retries",
				"id", qm.ID,
				"retries", qm.RetryCount)
			summary.Failed++
		default:
			remaining = append(remaining, qm)
		}
	}

	q.mu.Lock()
	// Новые сообщения, поставленные во время прогона, сохраняют порядок
	// после невоспроизведенных
	q.messages = append(remaining, q.messages...)
	summary.Remaining = len(q.messages)
	q.persistLocked(ctx)
	q.mu.Unlock()

	return summary
}

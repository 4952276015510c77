package broadcast

import (
	"sync"

	"github.com/clientkit/syncstore/internal/models"
)

// Bus — внутрипроцессная шина именованных тем. Используется в тестах и
// демонстрациях, где несколько «вкладок» живут в одном процессе; в браузерной
// среде ее место занимает нативный широковещательный канал.
type Bus struct {
	topics map[string]map[int]Handler
	nextID int
	closed bool
	mu     sync.RWMutex
}

// NewBus создает пустую шину.
func NewBus() *Bus {
	return &Bus{
		topics: make(map[string]map[int]Handler),
	}
}

// Channel возвращает канал для темы. Каналы одной темы разделяют подписчиков.
func (b *Bus) Channel(topic string) Channel {
	return &busChannel{bus: b, topic: topic}
}

// Close закрывает шину; дальнейшие публикации и подписки возвращают ошибку.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.topics = make(map[string]map[int]Handler)
	return nil
}

type busChannel struct {
	bus   *Bus
	topic string
}

func (c *busChannel) Publish(env models.SyncEnvelope) error {
	b := c.bus

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	handlers := make([]Handler, 0, len(b.topics[c.topic]))
	for _, h := range b.topics[c.topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	// Синхронная доставка всем подписчикам темы, включая публикующего:
	// эхо отфильтрует сам получатель по SourceTabID.
	for _, h := range handlers {
		h(env)
	}
	return nil
}

func (c *busChannel) Subscribe(h Handler) (func(), error) {
	b := c.bus

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	b.nextID++
	id := b.nextID
	if b.topics[c.topic] == nil {
		b.topics[c.topic] = make(map[int]Handler)
	}
	b.topics[c.topic][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.topics[c.topic], id)
	}, nil
}

func (c *busChannel) Close() error {
	return nil
}

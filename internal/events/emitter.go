// Package events предоставляет типизированный синхронный эмиттер
// семантических событий ядра. Внешний UI-слой подписывается на события
// и выполняет побочные эффекты (обновление экрана, уведомления);
// само ядро никаких побочных эффектов не производит.
package events

import (
	"sync"
	"time"
)

// Type — тип семантического события.
type Type string

const (
	CacheInvalidated   Type = "CACHE_INVALIDATED"
	StateSynced        Type = "STATE_SYNCED"
	ConflictResolved   Type = "CONFLICT_RESOLVED"
	OptimisticRollback Type = "OPTIMISTIC_UPDATE_ROLLBACK"
	MutationFailed     Type = "MUTATION_FAILED"
	RetryScheduled     Type = "RETRY_SCHEDULED"
	SyncError          Type = "SYNC_ERROR"
	OfflineReplayDone  Type = "OFFLINE_REPLAY_DONE"
	Notification       Type = "NOTIFICATION"
)

// Event — одно семантическое событие ядра.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	Payload    any       `json:"payload,omitempty"`
	Type       Type      `json:"type"`
	EntityName string    `json:"entityName,omitempty"`
}

// Handler обрабатывает событие. Вызывается синхронно в потоке эмиттера.
type Handler func(Event)

// Emitter — реестр подписок с доставкой по типу события.
type Emitter struct {
	subs   map[Type]map[int]Handler
	nextID int
	mu     sync.RWMutex
}

// NewEmitter создает пустой эмиттер.
func NewEmitter() *Emitter {
	return &Emitter{
		subs: make(map[Type]map[int]Handler),
	}
}

// Subscribe регистрирует обработчик для типа события и возвращает функцию
// отписки. Отписка идемпотентна.
func (e *Emitter) Subscribe(t Type, h Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	if e.subs[t] == nil {
		e.subs[t] = make(map[int]Handler)
	}
	e.subs[t][id] = h

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs[t], id)
	}
}

// Emit доставляет событие всем подписчикам его типа.
// Обработчики снимаются под блокировкой, вызываются вне ее,
// поэтому обработчик может подписываться и отписываться.
func (e *Emitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.subs[ev.Type]))
	for _, h := range e.subs[ev.Type] {
		handlers = append(handlers, h)
	}
	e.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

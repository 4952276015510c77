package offline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/clientkit/syncstore/internal/broadcast"
	"github.com/clientkit/syncstore/internal/events"
	"github.com/clientkit/syncstore/internal/models"
	"github.com/clientkit/syncstore/internal/syncer"
	"github.com/clientkit/syncstore/internal/transport"
)

// Manager объединяет координаторы коллекций, транспорт и офлайн-очередь:
// единая точка маршрутизации серверных push-сообщений и исходящей отправки
// с деградацией в очередь при потере соединения.
type Manager struct {
	coordinators map[string]*syncer.Coordinator
	queue        *Queue
	push         transport.Push
	emitter      *events.Emitter
	logger       *slog.Logger

	// seen хранит id уже показанных уведомлений
	seen        map[string]struct{}
	notifyUnsub func()
	connected   bool

	mu sync.Mutex
}

// NewManager создает менеджер вокруг очереди и эмиттера событий.
func NewManager(queue *Queue, emitter *events.Emitter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = events.NewEmitter()
	}
	return &Manager{
		coordinators: make(map[string]*syncer.Coordinator),
		queue:        queue,
		emitter:      emitter,
		logger:       logger,
		seen:         make(map[string]struct{}),
	}
}

// Register связывает серверную тему с координатором коллекции.
func (m *Manager) Register(topic string, c *syncer.Coordinator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coordinators[topic] = c
}

// SetTransport задает канал push-сообщений.
func (m *Manager) SetTransport(push transport.Push) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.push = push
	m.connected = push != nil && push.Connected()
}

// Connected сообщает текущее состояние соединения.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Send отправляет сообщение серверу или буферизует его в офлайне.
// Неудачная отправка тоже уходит в очередь: вызывающий не обязан
// различать деградацию и офлайн.
func (m *Manager) Send(ctx context.Context, msg transport.Message) error {
	m.mu.Lock()
	push, connected := m.push, m.connected
	m.mu.Unlock()

	if connected && push != nil {
		err := push.Send(ctx, msg)
		if err == nil {
			return nil
		}
		m.logger.Warn("send failed, queueing message", "type", msg.Type, "error", err)
	}

	if m.queue == nil {
		return transport.ErrNotConnected
	}
	return m.queue.Enqueue(ctx, msg, 0)
}

// SetConnected переключает состояние соединения. Восстановление запускает
// воспроизведение очереди и публикует единственную сводку.
func (m *Manager) SetConnected(ctx context.Context, connected bool) {
	m.mu.Lock()
	m.connected = connected
	push := m.push
	m.mu.Unlock()

	if !connected || m.queue == nil || push == nil {
		return
	}
	if m.queue.Len() == 0 {
		return
	}

	summary := m.queue.Drain(ctx, push.Send)
	m.logger.Info("offline queue replayed",
		"successful", summary.Successful,
		"failed", summary.Failed,
		"remaining", summary.Remaining)
	m.emitter.Emit(events.Event{
		Type:    events.OfflineReplayDone,
		Payload: summary,
	})
}

// Route доставляет серверное сообщение координатору его темы.
func (m *Manager) Route(ctx context.Context, msg transport.Message) {
	m.mu.Lock()
	c, ok := m.coordinators[msg.Topic]
	m.mu.Unlock()

	if !ok {
		m.logger.Debug("no coordinator for topic", "topic", msg.Topic, "type", msg.Type)
		return
	}

	if err := c.HandleMessage(ctx, msg); err != nil {
		m.logger.Warn("push handling failed",
			"topic", msg.Topic,
			"type", msg.Type,
			"error", err)
		m.emitter.Emit(events.Event{
			Type:    events.SyncError,
			Payload: err.Error(),
		})
	}
}

// notificationPayload — форма межвкладочного уведомления.
type notificationPayload struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// AttachNotifications подписывает менеджер на межвкладочный канал
// уведомлений с дедупликацией по id.
func (m *Manager) AttachNotifications(ch broadcast.Channel) error {
	unsubscribe, err := ch.Subscribe(m.HandleNotification)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.notifyUnsub = unsubscribe
	m.mu.Unlock()
	return nil
}

// HandleNotification показывает уведомление ровно один раз, сколько бы
// вкладок его ни разослало. Повторная рассылка не выполняется.
func (m *Manager) HandleNotification(env models.SyncEnvelope) {
	if env.Type != models.EnvelopeNotification {
		return
	}

	var note notificationPayload
	if err := json.Unmarshal(env.Payload, &note); err != nil {
		m.logger.Warn("dropping malformed notification", "error", err)
		return
	}
	if note.ID == "" {
		return
	}

	m.mu.Lock()
	if _, dup := m.seen[note.ID]; dup {
		m.mu.Unlock()
		return
	}
	m.seen[note.ID] = struct{}{}
	m.mu.Unlock()

	m.emitter.Emit(events.Event{
		Type:       events.Notification,
		EntityName: env.EntityName,
		Payload:    note,
	})
}

// Close отписывается от канала уведомлений.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.notifyUnsub != nil {
		m.notifyUnsub()
		m.notifyUnsub = nil
	}
	return nil
}

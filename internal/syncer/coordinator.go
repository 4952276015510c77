package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clientkit/syncstore/internal/broadcast"
	"github.com/clientkit/syncstore/internal/events"
	"github.com/clientkit/syncstore/internal/models"
	"github.com/clientkit/syncstore/internal/resolver"
	"github.com/clientkit/syncstore/internal/storage"
	"github.com/clientkit/syncstore/internal/store"
	"github.com/clientkit/syncstore/internal/transport"
)

const defaultConfirmWindow = 5 * time.Second

// ErrCoordinatorClosed возвращается операциями над закрытым координатором.
var ErrCoordinatorClosed = errors.New("sync coordinator is closed")

// Migration переводит снимок со схемы N на схему N+1.
// Ошибка миграции приводит к отбрасыванию снимка: хранилище стартует пустым.
type Migration func(entities []models.Entity) ([]models.Entity, error)

// Config настраивает координатор одной коллекции.
type Config struct {
	// Migrations — цепочка миграций по исходной версии схемы.
	Migrations map[int]Migration
	// Validate проверяет состояние-кандидат перед фиксацией.
	// Отказ валидации оставляет хранилище нетронутым.
	Validate func(entities []models.Entity) error
	// Topics сопоставляет серверные темы областям инвалидации кэша.
	Topics map[string]string
	// Now внедряется в тестах.
	Now func() time.Time

	EntityName string
	StoreKey   string
	// Strategy разрешения конфликтов на путях слияния.
	Strategy models.Strategy
	// ConfirmWindow — время жизни неподтвержденной оптимистичной подсказки.
	ConfirmWindow time.Duration
	// SchemaVersion — текущая версия схемы персистентного снимка.
	SchemaVersion int
}

// Deps — внешние зависимости координатора. Nil-поля заменяются безопасными
// значениями по умолчанию (no-op канал, резолвер без правил).
type Deps struct {
	KV       storage.KVStore
	Channels broadcast.Provider
	Resolver *resolver.Resolver
	Emitter  *events.Emitter
	Logger   *slog.Logger
}

// pendingHint хранит снимок записи до применения оптимистичной подсказки.
type pendingHint struct {
	timer    *time.Timer
	prev     models.Entity
	entityID string
	existed  bool
}

// persistedState — формат версионированного снимка в KV-хранилище.
type persistedState struct {
	Entities      []models.Entity `json:"entities"`
	SchemaVersion int             `json:"schemaVersion"`
	SavedAt       int64           `json:"savedAt"`
}

// Coordinator синхронизирует одну коллекцию между вкладками, сервером
// и персистентным хранилищем.
type Coordinator struct {
	cfg      Config
	kv       storage.KVStore
	channel  broadcast.Channel
	resolver *resolver.Resolver
	emitter  *events.Emitter
	logger   *slog.Logger
	store    *store.Store[models.Entity]

	tabID       string
	state       store.State[models.Entity]
	pending     map[string]*pendingHint
	unsubscribe func()
	closed      bool

	mu sync.Mutex
}

// New создает координатор: загружает персистентный снимок через цепочку
// миграций и подписывается на межвкладочный канал коллекции.
func New(ctx context.Context, cfg Config, deps Deps) (*Coordinator, error) {
	if cfg.EntityName == "" {
		return nil, errors.New("entity name is required")
	}
	if cfg.StoreKey == "" {
		cfg.StoreKey = "main"
	}
	if cfg.ConfirmWindow <= 0 {
		cfg.ConfirmWindow = defaultConfirmWindow
	}
	if cfg.Strategy == "" {
		cfg.Strategy = models.StrategyBusinessRules
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Resolver == nil {
		deps.Resolver = resolver.New(resolver.Config{Now: cfg.Now}, deps.Logger)
	}
	if deps.Emitter == nil {
		deps.Emitter = events.NewEmitter()
	}
	if deps.Channels == nil {
		deps.Channels = broadcast.NoopProvider{}
	}

	c := &Coordinator{
		cfg:      cfg,
		kv:       deps.KV,
		resolver: deps.Resolver,
		emitter:  deps.Emitter,
		logger: deps.Logger.With(
			"entity", cfg.EntityName,
			"store_key", cfg.StoreKey,
		),
		store: store.New[models.Entity](
			func(e models.Entity) string { return e.ID() },
			store.WithMerge[models.Entity](models.Merge),
		),
		tabID:   uuid.NewString(),
		pending: make(map[string]*pendingHint),
	}

	c.state = c.load(ctx)

	c.channel = deps.Channels.Channel(c.ChannelName())
	unsubscribe, err := c.channel.Subscribe(c.HandleEnvelope)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to broadcast channel: %w", err)
	}
	c.unsubscribe = unsubscribe

	return c, nil
}

// ChannelName возвращает имя межвкладочного канала коллекции.
func (c *Coordinator) ChannelName() string {
	return fmt.Sprintf("sync:%s:%s", c.cfg.EntityName, c.cfg.StoreKey)
}

// TabID возвращает идентификатор этой вкладки.
func (c *Coordinator) TabID() string {
	return c.tabID
}

func (c *Coordinator) persistKey() string {
	return fmt.Sprintf("state:%s:%s", c.cfg.EntityName, c.cfg.StoreKey)
}

// load читает снимок и проводит его через цепочку миграций.
// Любой сбой приводит к пустому старту: персистентный кэш — ускорение,
// а не источник истины.
func (c *Coordinator) load(ctx context.Context) store.State[models.Entity] {
	initial := c.store.InitialState()
	if c.kv == nil {
		return initial
	}

	raw, err := c.kv.Get(ctx, c.persistKey())
	if errors.Is(err, storage.ErrKeyNotFound) {
		return initial
	}
	if err != nil {
		c.logger.Warn("failed to load persisted state", "error", err)
		return initial
	}

	var snap persistedState
	if err := json.Unmarshal(raw, &snap); err != nil {
		c.logger.Warn("discarding corrupted persisted state", "error", err)
		return initial
	}

	entities, err := c.migrate(snap)
	if err != nil {
		c.logger.Warn("discarding persisted state",
			"from_schema", snap.SchemaVersion,
			"to_schema", c.cfg.SchemaVersion,
			"error", err)
		return initial
	}

	return c.store.SetAll(initial, entities)
}

func (c *Coordinator) migrate(snap persistedState) ([]models.Entity, error) {
	if snap.SchemaVersion > c.cfg.SchemaVersion {
		return nil, fmt.Errorf("snapshot schema %d is newer than supported %d",
			snap.SchemaVersion, c.cfg.SchemaVersion)
	}

	entities := snap.Entities
	for v := snap.SchemaVersion; v < c.cfg.SchemaVersion; v++ {
		step, ok := c.cfg.Migrations[v]
		if !ok {
			return nil, fmt.Errorf("no migration from schema %d", v)
		}

		migrated, err := step(entities)
		if err != nil {
			return nil, fmt.Errorf("migration from schema %d failed: %w", v, err)
		}
		entities = migrated
	}
	return entities, nil
}

// persist сохраняет версионированный снимок. Сбой записи не фатален:
// следующее успешное слияние перезапишет снимок целиком.
func (c *Coordinator) persist(ctx context.Context) {
	if c.kv == nil {
		return
	}

	snap := persistedState{
		SchemaVersion: c.cfg.SchemaVersion,
		SavedAt:       c.cfg.Now().UnixMilli(),
		Entities:      c.store.SelectAll(c.state),
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		c.logger.Warn("failed to encode state snapshot", "error", err)
		return
	}
	if err := c.kv.Set(ctx, c.persistKey(), raw); err != nil {
		c.logger.Warn("failed to persist state snapshot", "error", err)
	}
}

// Snapshot возвращает текущее состояние. Вызывающий обязан обращаться
// с ним как с неизменяемым.
func (c *Coordinator) Snapshot() store.State[models.Entity] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Entities возвращает записи в порядке отображения.
func (c *Coordinator) Entities() []models.Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.SelectAll(c.state)
}

// ApplyLocal применяет оптимистичное изменение к локальному состоянию
// и сразу рассылает его вкладкам, не дожидаясь подтверждения сервера.
// Персистентность откладывается до подтверждения.
func (c *Coordinator) ApplyLocal(entity models.Entity) error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return ErrCoordinatorClosed
	}

	next := c.store.UpsertOne(c.state, entity)
	if err := c.validate(next); err != nil {
		c.mu.Unlock()
		c.logger.Warn("optimistic change rejected by validation", "error", err)
		return err
	}
	c.state = next
	c.mu.Unlock()

	c.broadcastEntity(models.EnvelopeEntityUpsert, entity)
	return nil
}

// Restore заменяет локальное состояние снимком и рассылает восстановленную
// коллекцию вкладкам: откат оптимистичной мутации обязан откатить и тех,
// кто видел ее через ApplyLocal.
func (c *Coordinator) Restore(state store.State[models.Entity]) {
	c.mu.Lock()
	c.state = state
	entities := c.store.SelectAll(state)
	c.mu.Unlock()

	payload, err := json.Marshal(entities)
	if err != nil {
		c.logger.Warn("failed to encode restored state", "error", err)
		return
	}
	c.publish(models.SyncEnvelope{
		Type:        models.EnvelopeStateUpdate,
		SourceTabID: c.tabID,
		EntityName:  c.cfg.EntityName,
		Timestamp:   c.cfg.Now().UnixMilli(),
		Payload:     payload,
	})
}

// CommitConfirmed фиксирует подтвержденную сервером запись: слияние через
// резолвер, персистентность, рассылка вкладкам и событие синхронизации.
func (c *Coordinator) CommitConfirmed(ctx context.Context, confirmed models.Entity) (models.Entity, error) {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return nil, ErrCoordinatorClosed
	}

	resolved, detection, err := c.mergeLocked(confirmed)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.persist(ctx)
	c.mu.Unlock()

	c.afterMerge(detection, resolved)
	return resolved, nil
}

// RemoveLocal удаляет запись, сохраняет снимок и оповещает вкладки.
func (c *Coordinator) RemoveLocal(ctx context.Context, id string) error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return ErrCoordinatorClosed
	}

	c.state = c.store.RemoveOne(c.state, id)
	c.persist(ctx)
	c.mu.Unlock()

	payload, _ := json.Marshal(map[string]string{"id": id})
	c.publish(models.SyncEnvelope{
		Type:        models.EnvelopeEntityRemove,
		SourceTabID: c.tabID,
		EntityName:  c.cfg.EntityName,
		Timestamp:   c.cfg.Now().UnixMilli(),
		Payload:     payload,
	})
	return nil
}

// mergeLocked сливает входящую запись с текущей через резолвер.
// Вызывается под мьютексом; рассылку и события по результату выполняет
// вызывающая сторона уже после снятия блокировки — шина доставляет
// синхронно, и обработчик другой вкладки берет собственный мьютекс.
func (c *Coordinator) mergeLocked(incoming models.Entity) (models.Entity, models.Detection, error) {
	resolved := incoming
	var detection models.Detection

	current, exists := c.store.SelectByID(c.state, incoming.ID())
	if exists {
		detection = c.resolver.DetectConflicts(current, incoming)
		if detection.HasConflicts {
			resolved = c.resolver.Resolve(current, incoming, c.cfg.Strategy)
		}
	}

	next := c.store.UpsertOne(c.state, resolved)
	if err := c.validate(next); err != nil {
		c.logger.Warn("merge rejected by validation",
			"entity_id", incoming.ID(),
			"error", err)
		return nil, detection, err
	}

	c.state = next
	return resolved, detection, nil
}

// afterMerge публикует конверт и события успешного слияния.
// Вызывается без блокировки.
func (c *Coordinator) afterMerge(detection models.Detection, resolved models.Entity) {
	if detection.HasConflicts {
		c.emitter.Emit(events.Event{
			Type:       events.ConflictResolved,
			EntityName: c.cfg.EntityName,
			Payload:    detection,
		})
	}
	c.broadcastEntity(models.EnvelopeEntityUpsert, resolved)
	c.emitter.Emit(events.Event{
		Type:       events.StateSynced,
		EntityName: c.cfg.EntityName,
		Payload:    []models.Entity{resolved},
	})
}

func (c *Coordinator) validate(next store.State[models.Entity]) error {
	if c.cfg.Validate == nil {
		return nil
	}
	return c.cfg.Validate(c.store.SelectAll(next))
}

// HandleEnvelope обрабатывает межвкладочный конверт. Конверты собственной
// вкладки игнорируются.
func (c *Coordinator) HandleEnvelope(env models.SyncEnvelope) {
	if env.SourceTabID == c.tabID {
		return
	}

	ctx := context.Background()

	switch env.Type {
	case models.EnvelopeEntityUpsert:
		entity, err := decodeEntity(env.Payload)
		if err != nil {
			c.logger.Warn("dropping malformed envelope", "type", env.Type, "error", err)
			return
		}
		c.mu.Lock()
		resolved, detection, err := c.mergeLocked(entity)
		if err != nil {
			c.mu.Unlock()
			return
		}
		c.persist(ctx)
		c.mu.Unlock()
		if detection.HasConflicts {
			c.emitter.Emit(events.Event{
				Type:       events.ConflictResolved,
				EntityName: c.cfg.EntityName,
				Payload:    detection,
			})
		}
		c.emitter.Emit(events.Event{
			Type:       events.StateSynced,
			EntityName: c.cfg.EntityName,
			Payload:    []models.Entity{resolved},
		})

	case models.EnvelopeEntityRemove:
		var ref struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(env.Payload, &ref); err != nil {
			c.logger.Warn("dropping malformed envelope", "type", env.Type, "error", err)
			return
		}
		c.mu.Lock()
		c.state = c.store.RemoveOne(c.state, ref.ID)
		c.persist(ctx)
		c.mu.Unlock()

	case models.EnvelopeStateUpdate:
		var entities []models.Entity
		if err := json.Unmarshal(env.Payload, &entities); err != nil {
			c.logger.Warn("dropping malformed envelope", "type", env.Type, "error", err)
			return
		}
		c.mu.Lock()
		ok := c.replaceLocked(ctx, entities)
		c.mu.Unlock()
		if ok {
			c.emitter.Emit(events.Event{
				Type:       events.StateSynced,
				EntityName: c.cfg.EntityName,
				Payload:    entities,
			})
		}

	case models.EnvelopeCacheInvalidation:
		var ci CacheInvalidation
		if err := json.Unmarshal(env.Payload, &ci); err != nil {
			c.logger.Warn("dropping malformed envelope", "type", env.Type, "error", err)
			return
		}
		c.emitter.Emit(events.Event{
			Type:       events.CacheInvalidated,
			EntityName: c.cfg.EntityName,
			Payload:    ci,
		})

	case models.EnvelopeNotification:
		// Уведомления дедуплицирует и доставляет менеджер

	default:
		c.logger.Debug("dropping envelope of unknown type", "type", env.Type)
	}
}

// replaceLocked заменяет коллекцию целиком. Вызывается под мьютексом;
// рассылку и события выполняет вызывающая сторона после разблокировки.
func (c *Coordinator) replaceLocked(ctx context.Context, entities []models.Entity) bool {
	next := c.store.SetAll(c.state, entities)
	if err := c.validate(next); err != nil {
		c.logger.Warn("state update rejected by validation", "error", err)
		return false
	}

	c.state = next
	c.persist(ctx)
	return true
}

// HandlePush обрабатывает классифицированное серверное сообщение.
func (c *Coordinator) HandlePush(ctx context.Context, in Inbound) error {
	switch in := in.(type) {
	case CacheInvalidation:
		return c.InvalidateScope(ctx, in)

	case StateUpdate:
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrCoordinatorClosed
		}
		ok := c.replaceLocked(ctx, in.Entities)
		c.mu.Unlock()
		if !ok {
			return nil
		}
		if payload, err := json.Marshal(in.Entities); err == nil {
			c.publish(models.SyncEnvelope{
				Type:        models.EnvelopeStateUpdate,
				SourceTabID: c.tabID,
				EntityName:  c.cfg.EntityName,
				Timestamp:   c.cfg.Now().UnixMilli(),
				Payload:     payload,
			})
		}
		c.emitter.Emit(events.Event{
			Type:       events.StateSynced,
			EntityName: c.cfg.EntityName,
			Payload:    in.Entities,
		})
		return nil

	case PriceChanged:
		return c.mergeAndShare(ctx, in.Entity)

	case VoucherChanged:
		return c.mergeAndShare(ctx, in.Entity)

	case OrderChanged:
		if err := c.mergeAndShare(ctx, in.Entity); err != nil {
			return err
		}
		c.emitter.Emit(events.Event{
			Type:       events.Notification,
			EntityName: c.cfg.EntityName,
			Payload:    in.Entity,
		})
		return nil

	case OptimisticHint:
		return c.applyHint(in)

	case UpdateConfirmed:
		c.confirmHint(ctx, in.MutationID)
		return nil

	default:
		c.logger.Debug("dropping unclassified push")
		return nil
	}
}

// HandleMessage классифицирует серверное сообщение и обрабатывает его.
// Неклассифицируемые сообщения отбрасываются с отладочной записью.
func (c *Coordinator) HandleMessage(ctx context.Context, msg transport.Message) error {
	in, err := Classify(msg, c.cfg.Topics)
	if err != nil {
		c.logger.Debug("dropping unclassifiable push", "type", msg.Type, "error", err)
		return nil
	}
	return c.HandlePush(ctx, in)
}

// mergeAndShare — общий путь слияния серверной записи: резолвер,
// персистентность, рассылка вкладкам, событие синхронизации.
func (c *Coordinator) mergeAndShare(ctx context.Context, entity models.Entity) error {
	_, err := c.CommitConfirmed(ctx, entity)
	return err
}

// applyHint применяет оптимистичную подсказку предварительно и взводит
// таймер окна подтверждения.
func (c *Coordinator) applyHint(hint OptimisticHint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCoordinatorClosed
	}
	if hint.MutationID == "" {
		return errors.New("optimistic hint without mutation id")
	}

	entityID := hint.Entity.ID()
	prev, existed := c.store.SelectByID(c.state, entityID)

	next := c.store.UpsertOne(c.state, hint.Entity)
	if err := c.validate(next); err != nil {
		c.logger.Warn("optimistic hint rejected by validation", "error", err)
		return err
	}
	c.state = next

	c.pending[hint.MutationID] = &pendingHint{
		prev:     prev,
		existed:  existed,
		entityID: entityID,
		timer: time.AfterFunc(c.cfg.ConfirmWindow, func() {
			c.expireHint(hint.MutationID)
		}),
	}
	return nil
}

// confirmHint отменяет таймер: подсказка стала фактом.
func (c *Coordinator) confirmHint(ctx context.Context, mutationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hint, ok := c.pending[mutationID]
	if !ok {
		// Подтверждение неизвестной мутации: подсказка истекла или чужая
		c.logger.Debug("confirmation for unknown mutation", "mutation_id", mutationID)
		return
	}

	hint.timer.Stop()
	delete(c.pending, mutationID)
	c.persist(ctx)
}

// expireHint откатывает неподтвержденную подсказку к снимку до применения.
func (c *Coordinator) expireHint(mutationID string) {
	c.mu.Lock()
	hint, ok := c.pending[mutationID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, mutationID)

	// Точное восстановление с сохранением позиции в порядке отображения
	if hint.existed {
		c.state = c.store.ReplaceOne(c.state, hint.prev)
	} else {
		c.state = c.store.RemoveOne(c.state, hint.entityID)
	}
	c.mu.Unlock()

	c.logger.Warn("optimistic hint expired without confirmation",
		"mutation_id", mutationID,
		"entity_id", hint.entityID)
	c.emitter.Emit(events.Event{
		Type:       events.OptimisticRollback,
		EntityName: c.cfg.EntityName,
		Payload:    mutationID,
	})
}

// InvalidateScope оповещает подписчиков и другие вкладки о протухшей
// области кэша.
func (c *Coordinator) InvalidateScope(ctx context.Context, ci CacheInvalidation) error {
	c.emitter.Emit(events.Event{
		Type:       events.CacheInvalidated,
		EntityName: c.cfg.EntityName,
		Payload:    ci,
	})

	payload, err := json.Marshal(ci)
	if err != nil {
		return fmt.Errorf("failed to encode invalidation: %w", err)
	}
	c.publish(models.SyncEnvelope{
		Type:        models.EnvelopeCacheInvalidation,
		SourceTabID: c.tabID,
		EntityName:  c.cfg.EntityName,
		Timestamp:   c.cfg.Now().UnixMilli(),
		Payload:     payload,
	})
	return nil
}

func (c *Coordinator) broadcastEntity(envType models.EnvelopeType, entity models.Entity) {
	payload, err := json.Marshal(entity)
	if err != nil {
		c.logger.Warn("failed to encode entity for broadcast", "error", err)
		return
	}
	c.publish(models.SyncEnvelope{
		Type:        envType,
		SourceTabID: c.tabID,
		EntityName:  c.cfg.EntityName,
		Timestamp:   c.cfg.Now().UnixMilli(),
		Payload:     payload,
	})
}

func (c *Coordinator) publish(env models.SyncEnvelope) {
	if err := c.channel.Publish(env); err != nil {
		c.logger.Warn("broadcast publish failed", "type", env.Type, "error", err)
	}
}

// Close отменяет таймеры подсказок и отписывается от канала.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	for id, hint := range c.pending {
		hint.timer.Stop()
		delete(c.pending, id)
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	return c.channel.Close()
}

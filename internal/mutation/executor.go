// Package mutation реализует исполнитель оптимистичных мутаций:
// мгновенное локальное применение, удаленное подтверждение с повторами
// и откат из снимка при окончательном отказе.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clientkit/syncstore/internal/events"
	"github.com/clientkit/syncstore/internal/models"
	"github.com/clientkit/syncstore/internal/resolver"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultBackoffBase  = 200 * time.Millisecond
	maxBackoff          = 30 * time.Second
	defaultHistoryLimit = 20
)

// Errors of the mutation executor
var (
	// ErrPermanent помечает ошибку remote-вызова как неповторяемую.
	// Обернутая в нее ошибка ведет сразу к откату, минуя повторы.
	ErrPermanent = errors.New("permanent mutation failure")

	// ErrRemoteRejected возвращается, когда удаленная сторона ответила
	// структурированным отказом (Success=false).
	ErrRemoteRejected = errors.New("mutation rejected by remote")

	// ErrNilRemote возвращается для запроса без remote-вызова.
	ErrNilRemote = errors.New("mutation request has no remote call")
)

// Request описывает одну оптимистичную мутацию. Remote обязателен,
// остальные хуки опциональны: исполнитель вызывает только заданные.
type Request struct {
	// Snapshot снимает состояние до оптимистичного применения.
	// Результат передается в Rollback без интерпретации.
	Snapshot func() any

	// Apply применяет изменение к локальному состоянию немедленно.
	Apply func(data models.Entity)

	// Remote выполняет удаленную операцию. Контекст несет таймаут попытки.
	Remote func(ctx context.Context, data models.Entity) (models.RemoteResponse, error)

	// Rollback восстанавливает состояние из снимка при окончательном отказе.
	Rollback func(snapshot any)

	// Commit фиксирует подтвержденную запись. Вызывается не более одного раза.
	Commit func(confirmed models.Entity)

	Data       models.Entity
	EntityName string
	Kind       models.MutationKind
}

// Options настраивают попытку. Нулевые Timeout, Backoff и Strategy получают
// значения по умолчанию; нулевой MaxRetries означает отсутствие повторов.
type Options struct {
	// Timeout одной remote-попытки.
	Timeout time.Duration
	// Backoff — базовая задержка перед повтором, растет экспоненциально.
	Backoff time.Duration
	// MaxRetries — число повторов после первой попытки.
	MaxRetries int
	// Strategy сверки подтвержденной записи с оптимистичной.
	Strategy models.Strategy
}

func (o *Options) applyDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.Backoff <= 0 {
		o.Backoff = defaultBackoffBase
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Strategy == "" {
		o.Strategy = models.StrategyBusinessRules
	}
}

// Result — итог мутации.
type Result struct {
	Data       models.Entity `json:"data,omitempty"`
	Error      string        `json:"error,omitempty"`
	MutationID string        `json:"mutationId"`
	Success    bool          `json:"success"`
}

// Executor управляет активным набором мутаций и их жизненным циклом.
type Executor struct {
	resolver *resolver.Resolver
	emitter  *events.Emitter
	logger   *slog.Logger

	active       map[string]*models.MutationContext
	history      []models.MutationContext
	historyLimit int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu sync.Mutex
}

// New создает исполнитель. Resolver используется для сверки подтвержденной
// записи с оптимистичной; emitter — для семантических событий.
func New(res *resolver.Resolver, emitter *events.Emitter, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		resolver:     res,
		emitter:      emitter,
		logger:       logger,
		active:       make(map[string]*models.MutationContext),
		historyLimit: defaultHistoryLimit,
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute проводит мутацию через полный жизненный цикл:
// pending → optimistic → confirmed, либо повторы и откат из снимка.
// Ошибка возвращается только для некорректного запроса; отказ удаленной
// стороны выражается через Result{Success: false}.
func (e *Executor) Execute(ctx context.Context, req Request, opts Options) (*Result, error) {
	if req.Remote == nil {
		return nil, ErrNilRemote
	}
	opts.applyDefaults()

	mctx := &models.MutationContext{
		ID:         uuid.NewString(),
		Kind:       req.Kind,
		EntityName: req.EntityName,
		State:      models.MutationPending,
		StartTime:  e.now(),
		Timeout:    opts.Timeout,
		MaxRetries: opts.MaxRetries,
	}

	if req.Snapshot != nil {
		mctx.RollbackSnapshot = req.Snapshot()
	}

	e.mu.Lock()
	e.active[mctx.ID] = mctx
	e.mu.Unlock()

	// Контекст покидает активный набор при любом исходе
	defer e.finish(mctx)

	// Оптимистичное применение: UI видит изменение до ответа сервера
	if req.Apply != nil {
		req.Apply(req.Data)
	}
	mctx.State = models.MutationOptimistic

	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := e.callRemote(ctx, req, opts.Timeout)
		if err == nil && resp.Success {
			confirmed := e.reconcile(req, resp, opts.Strategy)
			e.commit(mctx, req, confirmed)
			return &Result{Success: true, Data: confirmed, MutationID: mctx.ID}, nil
		}

		lastErr = classify(resp, err)
		mctx.LastError = lastErr.Error()

		if !retryable(lastErr) || attempt >= opts.MaxRetries {
			break
		}

		mctx.RetryCount++
		delay := backoffDelay(opts.Backoff, attempt)
		e.logger.Warn("mutation retry scheduled",
			"mutation_id", mctx.ID,
			"entity", req.EntityName,
			"attempt", attempt+1,
			"delay", delay,
			"error", lastErr)
		e.emitter.Emit(events.Event{
			Type:       events.RetryScheduled,
			EntityName: req.EntityName,
			Payload:    mctx.Strip(),
		})

		// Откат не выполняется между повторами: оптимистичное состояние
		// остается видимым, пока исход не станет окончательным
		if err := e.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	e.rollback(mctx, req, lastErr)
	return &Result{Success: false, Error: lastErr.Error(), MutationID: mctx.ID}, nil
}

// callRemote выполняет одну попытку remote-вызова с таймаутом. Вызов
// выполняется в отдельной горутине: remote, игнорирующий контекст, не имеет
// права удерживать исполнитель дольше таймаута попытки. Опоздавший ответ
// брошенной попытки отбрасывается, его фиксацию отсекает commit.
func (e *Executor) callRemote(ctx context.Context, req Request, timeout time.Duration) (models.RemoteResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type attempt struct {
		resp models.RemoteResponse
		err  error
	}
	done := make(chan attempt, 1)
	go func() {
		resp, err := req.Remote(attemptCtx, req.Data)
		done <- attempt{resp: resp, err: err}
	}()

	select {
	case res := <-done:
		return res.resp, res.err
	case <-attemptCtx.Done():
		return models.RemoteResponse{}, attemptCtx.Err()
	}
}

// reconcile сверяет подтвержденную сервером запись с оптимистичной.
// Совпадающие или пустые ответы принимаются как есть; расхождения
// проходят через резолвер.
func (e *Executor) reconcile(req Request, resp models.RemoteResponse, strategy models.Strategy) models.Entity {
	if resp.Data == nil {
		return req.Data
	}
	if req.Data == nil || models.EntityEqual(req.Data, resp.Data) {
		return resp.Data
	}

	detection := e.resolver.DetectConflicts(req.Data, resp.Data)
	if !detection.HasConflicts {
		return resp.Data
	}

	e.logger.Info("reconciling confirmed entity with optimistic state",
		"entity", req.EntityName,
		"conflicts", len(detection.Conflicts),
		"strategy", strategy)
	resolved := e.resolver.Resolve(req.Data, resp.Data, strategy)

	e.emitter.Emit(events.Event{
		Type:       events.ConflictResolved,
		EntityName: req.EntityName,
		Payload:    detection,
	})
	return resolved
}

// commit фиксирует подтвержденную запись ровно один раз. Поздний ответ для
// уже неактивной мутации игнорируется.
func (e *Executor) commit(mctx *models.MutationContext, req Request, confirmed models.Entity) {
	e.mu.Lock()
	_, isActive := e.active[mctx.ID]
	e.mu.Unlock()

	if !isActive {
		e.logger.Debug("ignoring late confirmation for inactive mutation",
			"mutation_id", mctx.ID)
		return
	}

	if req.Commit != nil {
		req.Commit(confirmed)
	}
	mctx.State = models.MutationConfirmed
}

// rollback восстанавливает состояние из снимка и помечает мутацию отказавшей.
func (e *Executor) rollback(mctx *models.MutationContext, req Request, cause error) {
	mctx.State = models.MutationRolledBack
	if req.Rollback != nil {
		req.Rollback(mctx.RollbackSnapshot)
	}

	e.logger.Error("mutation failed, optimistic state rolled back",
		"mutation_id", mctx.ID,
		"entity", req.EntityName,
		"retries", mctx.RetryCount,
		"error", cause)

	e.emitter.Emit(events.Event{
		Type:       events.OptimisticRollback,
		EntityName: req.EntityName,
		Payload:    mctx.Strip(),
	})
	e.emitter.Emit(events.Event{
		Type:       events.MutationFailed,
		EntityName: req.EntityName,
		Payload:    mctx.Strip(),
	})

	mctx.State = models.MutationFailed
}

// finish выводит мутацию из активного набора и добавляет облегченную копию
// в ограниченную историю.
func (e *Executor) finish(mctx *models.MutationContext) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.active, mctx.ID)
	e.history = append(e.history, mctx.Strip())
	if len(e.history) > e.historyLimit {
		e.history = e.history[len(e.history)-e.historyLimit:]
	}
}

// classify сводит исход неудачной попытки к одной ошибке.
func classify(resp models.RemoteResponse, err error) error {
	if err == nil {
		if resp.Message != "" {
			return fmt.Errorf("%w: %s", ErrRemoteRejected, resp.Message)
		}
		return ErrRemoteRejected
	}
	return err
}

// retryable решает, имеет ли смысл повтор. Структурированный отказ сервера,
// отмена вызывающей стороны и явно постоянные ошибки не повторяются;
// таймауты и сетевые сбои — повторяются.
func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrRemoteRejected):
		return false
	case errors.Is(err, ErrPermanent):
		return false
	case errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base << attempt
	if delay > maxBackoff || delay <= 0 {
		return maxBackoff
	}
	return delay
}

// ActiveCount возвращает число незавершенных мутаций.
func (e *Executor) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// IsActive сообщает, выполняется ли мутация с данным id.
func (e *Executor) IsActive(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[id]
	return ok
}

// History возвращает копию истории завершенных мутаций.
func (e *Executor) History() []models.MutationContext {
	e.mu.Lock()
	defer e.mu.Unlock()

	history := make([]models.MutationContext, len(e.history))
	copy(history, e.history)
	return history
}

// Package resolver реализует детерминированное разрешение конфликтов между
// двумя кандидатами на одно и то же состояние записи. Ни одна из сторон не
// считается заведомо «правильной»: детектор описывает расхождения, а стратегия
// тотально выбирает результирующее значение для каждого из них.
package resolver

import (
	"log/slog"
	"sync"
	"time"

	"github.com/clientkit/syncstore/internal/models"
)

const (
	defaultConcurrentWindow = time.Second
	defaultHistoryLimit     = 50
	defaultFieldPriority    = 10

	// Бонус к приоритету непустого значения в стратегии field_level:
	// заполненное поле не должно затираться пустым.
	nonEmptyBonus = 5
)

// Check — подключаемая бизнес-проверка пары состояний. Возвращает описание
// нарушения или nil. Нарушение бизнес-правила фиксируется независимо от
// временных меток.
type Check func(current, incoming models.Entity) *models.Conflict

// RuleContext передается в FieldResolver при разрешении конкретного поля.
type RuleContext struct {
	Current  models.Entity
	Incoming models.Entity
	Now      time.Time
	Field    string
}

// FieldResolver выбирает результирующее значение одного конфликтующего поля
// в стратегии business_rules.
type FieldResolver func(current, incoming any, ctx RuleContext) any

// Config настраивает Resolver. Нулевые значения замещаются умолчаниями.
type Config struct {
	// FieldPriorities — таблица приоритетов полей: критичные поля статуса
	// и идентичности выше описательных. Поля вне таблицы получают
	// DefaultPriority.
	FieldPriorities map[string]int
	FieldResolvers  map[string]FieldResolver
	Checks          []Check
	Now             func() time.Time
	// ConcurrentWindow — окно, внутри которого две временные метки считаются
	// одновременными (нельзя полагаться на их порядок).
	ConcurrentWindow time.Duration
	DefaultPriority  int
	HistoryLimit     int
}

// Resolver выполняет обнаружение и разрешение конфликтов и ведет
// ограниченную историю разрешений для диагностики.
type Resolver struct {
	cfg     Config
	logger  *slog.Logger
	history []models.ResolutionRecord
	mu      sync.Mutex
}

// New создает Resolver с заданной конфигурацией.
func New(cfg Config, logger *slog.Logger) *Resolver {
	if cfg.ConcurrentWindow <= 0 {
		cfg.ConcurrentWindow = defaultConcurrentWindow
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.DefaultPriority <= 0 {
		cfg.DefaultPriority = defaultFieldPriority
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cfg: cfg, logger: logger}
}

// DetectConflicts сравнивает два кандидата на одно состояние и возвращает
// список расхождений:
//  1. расхождение поля version ⇒ version_mismatch;
//  2. временные метки внутри ConcurrentWindow при наличии расхождений
//     полей ⇒ concurrent_update (порядок не определен);
//  3. глубокое сравнение каждого поля, присутствующего хотя бы в одном
//     состоянии (кроме системных), ⇒ field_conflict с приоритетом и
//     серьезностью из таблицы приоритетов;
//  4. подключаемые бизнес-проверки ⇒ business_rule_violation.
//
// Идентичные значения конфликтом не считаются; nil против заполненного —
// всегда конфликт.
func (r *Resolver) DetectConflicts(current, incoming models.Entity) models.Detection {
	conflicts := make([]models.Conflict, 0, 4)

	if current.HasVersion() && incoming.HasVersion() && current.Version() != incoming.Version() {
		conflicts = append(conflicts, models.Conflict{
			Type:          models.ConflictVersionMismatch,
			Field:         models.FieldVersion,
			CurrentValue:  current.Version(),
			IncomingValue: incoming.Version(),
			Severity:      models.SeverityHigh,
			Priority:      100,
		})
	}

	fieldConflicts := r.detectFieldConflicts(current, incoming)

	if len(fieldConflicts) > 0 {
		currentAt, incomingAt := current.UpdatedAt(), incoming.UpdatedAt()
		if !currentAt.IsZero() && !incomingAt.IsZero() {
			delta := currentAt.Sub(incomingAt)
			if delta < 0 {
				delta = -delta
			}
			if delta <= r.cfg.ConcurrentWindow {
				conflicts = append(conflicts, models.Conflict{
					Type:          models.ConflictConcurrentUpdate,
					Field:         models.FieldUpdatedAt,
					CurrentValue:  currentAt,
					IncomingValue: incomingAt,
					Severity:      models.SeverityMedium,
					Priority:      50,
				})
			}
		}
	}

	conflicts = append(conflicts, fieldConflicts...)

	for _, check := range r.cfg.Checks {
		if violation := check(current, incoming); violation != nil {
			conflicts = append(conflicts, *violation)
		}
	}

	return models.Detection{
		HasConflicts: len(conflicts) > 0,
		Conflicts:    conflicts,
	}
}

func (r *Resolver) detectFieldConflicts(current, incoming models.Entity) []models.Conflict {
	fields := make(map[string]struct{}, len(current)+len(incoming))
	for field := range current {
		fields[field] = struct{}{}
	}
	for field := range incoming {
		fields[field] = struct{}{}
	}

	conflicts := make([]models.Conflict, 0)
	for field := range fields {
		if models.IsSystemField(field) {
			continue
		}
		currentValue, inCurrent := current[field]
		incomingValue, inIncoming := incoming[field]
		if inCurrent && inIncoming && models.ValueEqual(currentValue, incomingValue) {
			continue
		}
		if !inCurrent && !inIncoming {
			continue
		}
		// Поле, присутствующее только с одной стороны, тоже расхождение:
		// отсутствие против заполненного значения.
		priority := r.fieldPriority(field)
		conflicts = append(conflicts, models.Conflict{
			Type:          models.ConflictFieldConflict,
			Field:         field,
			CurrentValue:  currentValue,
			IncomingValue: incomingValue,
			Severity:      severityFor(priority),
			Priority:      priority,
		})
	}
	return conflicts
}

func (r *Resolver) fieldPriority(field string) int {
	if priority, ok := r.cfg.FieldPriorities[field]; ok {
		return priority
	}
	return r.cfg.DefaultPriority
}

func severityFor(priority int) models.Severity {
	switch {
	case priority >= 100:
		return models.SeverityCritical
	case priority >= 50:
		return models.SeverityHigh
	case priority >= 20:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

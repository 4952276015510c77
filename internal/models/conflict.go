package models

import "time"

// ConflictType классифицирует обнаруженное расхождение между двумя
// кандидатами на одно и то же логическое состояние записи.
type ConflictType string

const (
	ConflictConcurrentUpdate      ConflictType = "concurrent_update"
	ConflictVersionMismatch       ConflictType = "version_mismatch"
	ConflictFieldConflict         ConflictType = "field_conflict"
	ConflictBusinessRuleViolation ConflictType = "business_rule_violation"
	ConflictCrossTab              ConflictType = "cross_tab_conflict"
)

// Severity определяет серьезность конфликта. Вычисляется из приоритета поля.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Conflict описывает одно расхождение между текущим и входящим состоянием.
// Создается детектором конфликтов и живет только до конца разрешения
// (плюс ограниченная история для диагностики).
type Conflict struct {
	CurrentValue  any          `json:"currentValue"`
	IncomingValue any          `json:"incomingValue"`
	Type          ConflictType `json:"type"`
	Field         string       `json:"field,omitempty"`
	Severity      Severity     `json:"severity"`
	Priority      int          `json:"priority"`
}

// Detection содержит результат поиска конфликтов между двумя состояниями.
type Detection struct {
	Conflicts    []Conflict `json:"conflicts"`
	HasConflicts bool       `json:"hasConflicts"`
}

// Strategy задает правило выбора значения при расхождении двух состояний.
type Strategy string

const (
	StrategyLastWriteWins  Strategy = "last_write_wins"
	StrategyFirstWriteWins Strategy = "first_write_wins"
	StrategyMergeDeep      Strategy = "merge_deep"
	StrategyMergeShallow   Strategy = "merge_shallow"
	StrategyFieldLevel     Strategy = "field_level"
	StrategyBusinessRules  Strategy = "business_rules"
)

// Valid проверяет, что стратегия входит в поддерживаемый набор.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyLastWriteWins, StrategyFirstWriteWins, StrategyMergeDeep,
		StrategyMergeShallow, StrategyFieldLevel, StrategyBusinessRules:
		return true
	default:
		return false
	}
}

// ResolutionRecord — запись ограниченной истории разрешений конфликтов.
// История нужна только для диагностики и статистики, не как источник истины.
type ResolutionRecord struct {
	ResolvedAt time.Time      `json:"resolvedAt"`
	EntityID   string         `json:"entityId"`
	Strategy   Strategy       `json:"strategy"`
	Conflicts  int            `json:"conflicts"`
	Types      []ConflictType `json:"types,omitempty"`
}

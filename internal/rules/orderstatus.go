// Package rules содержит доменные бизнес-правила, разделяемые между
// резолвером конфликтов и доменной валидацией координатора. Таблица
// переходов определена здесь ровно один раз.
package rules

import (
	"github.com/clientkit/syncstore/internal/models"
	"github.com/clientkit/syncstore/internal/resolver"
)

// FieldOrderStatus — поле статуса заказа в записях сущности "orders".
const FieldOrderStatus = "status"

// Статусы заказа админ-панели.
const (
	StatusPending   = "CHO_XAC_NHAN" // ожидает подтверждения
	StatusConfirmed = "XAC_NHAN"     // подтвержден
	StatusShipping  = "DANG_GIAO"    // в доставке
	StatusCompleted = "HOAN_THANH"   // завершен
	StatusCancelled = "HUY"          // отменен, терминальный
)

// orderStatusTransitions — легальные переходы конечного автомата статуса.
// HOAN_THANH и HUY терминальны.
var orderStatusTransitions = map[string][]string{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusShipping, StatusCancelled},
	StatusShipping:  {StatusCompleted},
	StatusCompleted: {},
	StatusCancelled: {},
}

// KnownStatus сообщает, входит ли статус в конечный автомат.
func KnownStatus(status string) bool {
	_, ok := orderStatusTransitions[status]
	return ok
}

// IsTerminal сообщает, терминален ли статус.
func IsTerminal(status string) bool {
	next, ok := orderStatusTransitions[status]
	return ok && len(next) == 0
}

// CanTransition проверяет легальность перехода from → to.
// Отсутствие перехода (from == to) всегда легально. Неизвестные статусы
// пропускаются: валидация формата — не задача конечного автомата.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	if !KnownStatus(from) || !KnownStatus(to) {
		return true
	}
	for _, allowed := range orderStatusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// OrderStatusCheck — бизнес-проверка для детектора конфликтов: входящий
// нелегальный переход статуса является нарушением бизнес-правила независимо
// от временных меток.
func OrderStatusCheck(current, incoming models.Entity) *models.Conflict {
	currentStatus, currentOK := current[FieldOrderStatus].(string)
	incomingStatus, incomingOK := incoming[FieldOrderStatus].(string)
	if !currentOK || !incomingOK || currentStatus == incomingStatus {
		return nil
	}
	if CanTransition(currentStatus, incomingStatus) {
		return nil
	}
	return &models.Conflict{
		Type:          models.ConflictBusinessRuleViolation,
		Field:         FieldOrderStatus,
		CurrentValue:  currentStatus,
		IncomingValue: incomingStatus,
		Severity:      models.SeverityCritical,
		Priority:      100,
	}
}

// ResolveOrderStatus — FieldResolver для стратегии business_rules:
// входящий статус принимается только если переход легален, иначе
// сохраняется текущий.
func ResolveOrderStatus(current, incoming any, _ resolver.RuleContext) any {
	currentStatus, currentOK := current.(string)
	incomingStatus, incomingOK := incoming.(string)
	if !currentOK {
		return incoming
	}
	if !incomingOK {
		return current
	}
	if CanTransition(currentStatus, incomingStatus) {
		return incomingStatus
	}
	return currentStatus
}

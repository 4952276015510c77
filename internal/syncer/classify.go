// Package syncer реализует координатор синхронизации одной коллекции:
// межвкладочная рассылка, персистентность снимков с миграциями,
// классификация серверных push-сообщений и оптимистичные подсказки
// с окном подтверждения.
package syncer

import (
	"encoding/json"
	"fmt"

	"github.com/clientkit/syncstore/internal/models"
	"github.com/clientkit/syncstore/internal/transport"
)

// Известные типы серверных push-сообщений.
const (
	PushCacheInvalidated   = "CACHE_INVALIDATED"
	PushStateUpdate        = "STATE_UPDATE"
	PushPriceChanged       = "PRICE_CHANGED"
	PushVoucherChanged     = "VOUCHER_CHANGED"
	PushOrderStatusChanged = "ORDER_STATUS_CHANGED"
	PushOptimisticUpdate   = "OPTIMISTIC_UPDATE"
	PushUpdateConfirmed    = "UPDATE_CONFIRMED"
)

// Inbound — классифицированное входящее сообщение. Закрытый набор
// вариантов: обработчик обязан разобрать каждый.
type Inbound interface {
	inbound()
}

// CacheInvalidation сигнализирует о протухании области кэша.
type CacheInvalidation struct {
	Scope           string `json:"scope"`
	EntityID        string `json:"entityId,omitempty"`
	RequiresRefresh bool   `json:"requiresRefresh"`
}

// StateUpdate несет полный авторитетный снимок коллекции.
type StateUpdate struct {
	Entities []models.Entity `json:"entities"`
}

// PriceChanged несет запись с обновленной ценой.
type PriceChanged struct {
	Entity models.Entity `json:"entity"`
}

// VoucherChanged несет обновленный ваучер.
type VoucherChanged struct {
	Entity models.Entity `json:"entity"`
}

// OrderChanged несет заказ с новым статусом. Помимо слияния порождает
// семантическое событие уведомления.
type OrderChanged struct {
	Entity models.Entity `json:"entity"`
}

// OptimisticHint — серверная подсказка о незавершенной чужой мутации:
// применяется предварительно, до подтверждения в окне ожидания.
type OptimisticHint struct {
	Entity     models.Entity `json:"entity"`
	MutationID string        `json:"mutationId"`
}

// UpdateConfirmed подтверждает ранее присланную подсказку.
type UpdateConfirmed struct {
	MutationID string `json:"mutationId"`
}

func (CacheInvalidation) inbound() {}
func (StateUpdate) inbound()       {}
func (PriceChanged) inbound()      {}
func (VoucherChanged) inbound()    {}
func (OrderChanged) inbound()      {}
func (OptimisticHint) inbound()    {}
func (UpdateConfirmed) inbound()   {}

// Classify разбирает серверное сообщение в типизированный вариант.
// Неизвестный тип сводится к инвалидации кэша, если тема есть в таблице
// topics (тема → область кэша); иначе сообщение отбрасывается.
func Classify(msg transport.Message, topics map[string]string) (Inbound, error) {
	switch msg.Type {
	case PushCacheInvalidated:
		var in CacheInvalidation
		if err := json.Unmarshal(msg.Payload, &in); err != nil {
			return nil, fmt.Errorf("failed to decode cache invalidation: %w", err)
		}
		return in, nil

	case PushStateUpdate:
		var in StateUpdate
		if err := json.Unmarshal(msg.Payload, &in); err != nil {
			return nil, fmt.Errorf("failed to decode state update: %w", err)
		}
		return in, nil

	case PushPriceChanged:
		entity, err := decodeEntity(msg.Payload)
		if err != nil {
			return nil, err
		}
		return PriceChanged{Entity: entity}, nil

	case PushVoucherChanged:
		entity, err := decodeEntity(msg.Payload)
		if err != nil {
			return nil, err
		}
		return VoucherChanged{Entity: entity}, nil

	case PushOrderStatusChanged:
		entity, err := decodeEntity(msg.Payload)
		if err != nil {
			return nil, err
		}
		return OrderChanged{Entity: entity}, nil

	case PushOptimisticUpdate:
		var in OptimisticHint
		if err := json.Unmarshal(msg.Payload, &in); err != nil {
			return nil, fmt.Errorf("failed to decode optimistic hint: %w", err)
		}
		return in, nil

	case PushUpdateConfirmed:
		var in UpdateConfirmed
		if err := json.Unmarshal(msg.Payload, &in); err != nil {
			return nil, fmt.Errorf("failed to decode confirmation: %w", err)
		}
		return in, nil

	default:
		// Неизвестный тип на известной теме деградирует до инвалидации:
		// лучше лишний рефетч, чем незаметно устаревший кэш
		if scope, ok := topics[msg.Topic]; ok {
			return CacheInvalidation{Scope: scope, RequiresRefresh: true}, nil
		}
		return nil, fmt.Errorf("unknown push type %q on topic %q", msg.Type, msg.Topic)
	}
}

func decodeEntity(payload json.RawMessage) (models.Entity, error) {
	var entity models.Entity
	if err := json.Unmarshal(payload, &entity); err != nil {
		return nil, fmt.Errorf("failed to decode entity payload: %w", err)
	}
	return entity, nil
}

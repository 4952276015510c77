package models

import "time"

// MutationKind определяет вид оптимистичной мутации.
type MutationKind string

const (
	MutationCreate MutationKind = "create"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
	MutationBatch  MutationKind = "batch"
	MutationCustom MutationKind = "custom"
)

// MutationState описывает состояние жизненного цикла мутации.
// Допустимые переходы: pending → optimistic → {confirmed | failed};
// failed после исчерпания повторов проходит через rolled_back.
type MutationState string

const (
	MutationPending    MutationState = "pending"
	MutationOptimistic MutationState = "optimistic"
	MutationConfirmed  MutationState = "confirmed"
	MutationFailed     MutationState = "failed"
	MutationRolledBack MutationState = "rolled_back"
)

// Terminal сообщает, является ли состояние конечным.
func (s MutationState) Terminal() bool {
	return s == MutationConfirmed || s == MutationFailed
}

// MutationContext представляет одну незавершенную оптимистичную операцию.
// Создается при старте мутации, удаляется из активного набора после
// подтверждения, окончательного отказа или отката. RollbackSnapshot хранит
// состояние до применения оптимистичного изменения, чтобы откат восстановил
// его в точности, а не инверсию изменения.
type MutationContext struct {
	StartTime        time.Time     `json:"startTime"`
	RollbackSnapshot any           `json:"-"`
	ID               string        `json:"id"`
	EntityName       string        `json:"entityName,omitempty"`
	Kind             MutationKind  `json:"kind"`
	State            MutationState `json:"state"`
	LastError        string        `json:"lastError,omitempty"`
	Timeout          time.Duration `json:"timeout"`
	RetryCount       int           `json:"retryCount"`
	MaxRetries       int           `json:"maxRetries"`
}

// Strip возвращает копию контекста без тяжелых полезных нагрузок.
// Используется перед добавлением в историю мутаций.
func (c *MutationContext) Strip() MutationContext {
	stripped := *c
	stripped.RollbackSnapshot = nil
	return stripped
}

// RemoteResponse — единая форма ответа удаленной операции, которую обязан
// соблюдать каждый remote-вызов исполнителя мутаций.
type RemoteResponse struct {
	Data    Entity `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Success bool   `json:"success"`
}

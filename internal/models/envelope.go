package models

import "encoding/json"

// EnvelopeType определяет вид межвкладочного сообщения.
type EnvelopeType string

const (
	// EnvelopeStateUpdate несет полный авторитетный снимок коллекции.
	EnvelopeStateUpdate EnvelopeType = "state_update"
	// EnvelopeEntityUpsert несет одну подтвержденную запись для слияния.
	EnvelopeEntityUpsert EnvelopeType = "entity_upsert"
	// EnvelopeEntityRemove несет идентификатор удаленной записи.
	EnvelopeEntityRemove EnvelopeType = "entity_remove"
	// EnvelopeCacheInvalidation сигнализирует о протухшем кэше некоторого scope.
	EnvelopeCacheInvalidation EnvelopeType = "cache_invalidation"
	// EnvelopeNotification несет пользовательское уведомление для дедупликации.
	EnvelopeNotification EnvelopeType = "notification"
)

// SourceServer — значение SourceTabID для сообщений, пришедших с сервера.
const SourceServer = "server"

// SyncEnvelope — единица широковещательной рассылки между вкладками.
// Каждый конверт атрибутирован источником (id вкладки или "server"),
// поэтому получатель может игнорировать эхо собственных рассылок.
type SyncEnvelope struct {
	Payload     json.RawMessage `json:"payload,omitempty"`
	Type        EnvelopeType    `json:"type"`
	SourceTabID string          `json:"sourceTabId"`
	EntityName  string          `json:"entityName"`
	Timestamp   int64           `json:"timestamp"`
}

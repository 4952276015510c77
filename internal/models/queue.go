package models

import (
	"encoding/json"
	"time"
)

// QueuedMessage — исходящее сообщение, буферизованное на время отсутствия
// соединения. Создается при попытке отправки в офлайне, уничтожается после
// успешной доставки или исчерпания бюджета повторов.
type QueuedMessage struct {
	QueuedAt   time.Time       `json:"queuedAt"`
	ID         string          `json:"id"`
	Original   json.RawMessage `json:"original"`
	RetryCount int             `json:"retryCount"`
	MaxRetries int             `json:"maxRetries"`
}

// ReplaySummary — сводка одного прогона очереди после восстановления
// соединения. Отдается одним уведомлением вместо шторма по каждому сообщению.
type ReplaySummary struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Remaining  int `json:"remaining"`
}

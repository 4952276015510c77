// Package transport определяет контракт канала серверных push-сообщений.
// Ядро синхронизации не знает, чем канал реализован: websocket в рантайме,
// мок в тестах.
package transport

import (
	"context"
	"encoding/json"
	"errors"
)

//go:generate moq -out push_mock.go . Push

// ErrNotConnected возвращается при отправке в отключенный канал.
var ErrNotConnected = errors.New("transport is not connected")

// Message — единица обмена с сервером.
type Message struct {
	Payload   json.RawMessage `json:"payload,omitempty"`
	Type      string          `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// Handler обрабатывает входящее сообщение сервера.
type Handler func(msg Message)

// Push — двунаправленный канал push-сообщений.
type Push interface {
	// Send отправляет сообщение серверу.
	Send(ctx context.Context, msg Message) error

	// Connected сообщает текущее состояние соединения.
	Connected() bool

	// Close завершает соединение.
	Close() error
}

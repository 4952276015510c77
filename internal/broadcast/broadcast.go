// Package broadcast абстрагирует межвкладочную широковещательную рассылку
// за capability-интерфейсом. Реализация выбирается при конструировании:
// внутрипроцессная шина для окружений с поддержкой каналов и no-op заглушка
// для деградации в одновкладочный режим.
package broadcast

import (
	"errors"

	"github.com/clientkit/syncstore/internal/models"
)

//go:generate moq -out channel_mock.go . Channel

// ErrBusClosed возвращается операциями над закрытой шиной.
var ErrBusClosed = errors.New("broadcast bus is closed")

// Handler принимает входящий конверт. Вызывается синхронно.
type Handler func(models.SyncEnvelope)

// Provider выдает канал по имени темы. Реализуется внутрипроцессной шиной
// и no-op провайдером для одновкладочного режима.
type Provider interface {
	Channel(topic string) Channel
}

// Channel — именованный широковещательный канал.
// Подавление эха своих сообщений — обязанность подписчика (по SourceTabID):
// канал доставляет конверты всем подписчикам темы без исключений.
type Channel interface {
	// Publish рассылает конверт всем подписчикам темы.
	Publish(env models.SyncEnvelope) error

	// Subscribe регистрирует обработчик и возвращает функцию отписки.
	Subscribe(h Handler) (func(), error)

	// Close освобождает ресурсы канала.
	Close() error
}

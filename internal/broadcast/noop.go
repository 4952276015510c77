package broadcast

import "github.com/clientkit/syncstore/internal/models"

// NoopChannel — заглушка для одновкладочного режима: публикации
// проглатываются, подписчики не получают ничего. Координатор работает
// поверх нее без специальных веток.
type NoopChannel struct{}

func NewNoop() NoopChannel { return NoopChannel{} }

func (NoopChannel) Publish(models.SyncEnvelope) error { return nil }

func (NoopChannel) Subscribe(Handler) (func(), error) {
	return func() {}, nil
}

func (NoopChannel) Close() error { return nil }

// NoopProvider выдает no-op каналы для любой темы.
type NoopProvider struct{}

func (NoopProvider) Channel(string) Channel { return NoopChannel{} }

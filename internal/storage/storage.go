// Package storage определяет интерфейс ключ-значение хранилища снимков
// состояния и офлайн-очереди. Реализации: boltdb для клиентского файла,
// sqlite для инструментов с SQL-доступом, memory для тестов и сред без
// персистентности.
package storage

import (
	"context"
	"errors"
)

//go:generate moq -out kv_mock.go . KVStore

// Common storage errors
var (
	// ErrKeyNotFound indicates that no value exists for the key
	ErrKeyNotFound = errors.New("key not found")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)

// KVStore — минимальный контракт персистентности. Значения непрозрачны
// для хранилища: сериализацию выполняет вызывающая сторона.
type KVStore interface {
	// Get возвращает значение по ключу или ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set записывает значение по ключу, перезаписывая существующее.
	Set(ctx context.Context, key string, value []byte) error

	// Delete удаляет ключ. Отсутствие ключа не является ошибкой.
	Delete(ctx context.Context, key string) error

	// Close закрывает хранилище.
	Close() error
}

// Package memory реализует KVStore в памяти процесса. Используется в тестах
// и в средах, где персистентность недоступна: данные живут до Close.
package memory

import (
	"context"
	"sync"

	"github.com/clientkit/syncstore/internal/storage"
)

// Storage — потокобезопасное in-memory хранилище.
type Storage struct {
	data   map[string][]byte
	closed bool
	mu     sync.RWMutex
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		data: make(map[string][]byte),
	}
}

// Get возвращает значение по ключу или storage.ErrKeyNotFound.
func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrStorageClosed
	}

	value, ok := s.data[key]
	if !ok {
		return nil, storage.ErrKeyNotFound
	}

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set записывает значение по ключу.
func (s *Storage) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrStorageClosed
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = stored
	return nil
}

// Delete удаляет ключ. Отсутствие ключа не является ошибкой.
func (s *Storage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrStorageClosed
	}

	delete(s.data, key)
	return nil
}

// Close закрывает хранилище и освобождает данные.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.data = nil
	return nil
}

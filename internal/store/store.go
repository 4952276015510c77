// Package store реализует нормализованное хранилище сущностей:
// упорядоченный список идентификаторов плюс карта id → запись.
// Все операции чистые: принимают значение состояния и возвращают новое,
// ничего не мутируя. Это позволяет безопасно чередовать локальные
// оптимистичные мутации, подтверждения сервера и межвкладочные слияния —
// порядок чередования влияет только на то, какие конфликты возникнут,
// но не может повредить структуру.
package store

import "sort"

// State — нормализованное состояние коллекции.
// Инвариант: каждый id из IDs имеет запись в Entities и наоборот,
// дубликатов идентификаторов нет.
type State[T any] struct {
	Entities map[string]T `json:"entities"`
	IDs      []string     `json:"ids"`
}

// Store задает операции над нормализованным состоянием для конкретного
// типа записи. Сам Store не хранит состояние — только selectID и настройки.
type Store[T any] struct {
	selectID func(T) string
	less     func(a, b T) bool
	merge    func(existing, incoming T) T
}

// Option настраивает Store при создании.
type Option[T any] func(*Store[T])

// WithSortComparer задает компаратор порядка отображения.
// При его наличии IDs пересортировываются после каждой модификации.
func WithSortComparer[T any](less func(a, b T) bool) Option[T] {
	return func(s *Store[T]) {
		s.less = less
	}
}

// WithMerge задает функцию слияния существующей и входящей записи
// для UpdateOne/UpsertOne. По умолчанию входящая запись замещает
// существующую целиком.
func WithMerge[T any](merge func(existing, incoming T) T) Option[T] {
	return func(s *Store[T]) {
		s.merge = merge
	}
}

// New создает Store с функцией извлечения идентификатора.
func New[T any](selectID func(T) string, opts ...Option[T]) *Store[T] {
	s := &Store[T]{
		selectID: selectID,
		merge: func(existing, incoming T) T {
			return incoming
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitialState возвращает пустое состояние.
func (s *Store[T]) InitialState() State[T] {
	return State[T]{
		IDs:      []string{},
		Entities: map[string]T{},
	}
}

// clone возвращает копию состояния, которую можно безопасно модифицировать.
// Записи копируются по ссылке: операции никогда не изменяют запись на месте,
// только заменяют ее в карте.
func (s *Store[T]) clone(state State[T]) State[T] {
	ids := make([]string, len(state.IDs))
	copy(ids, state.IDs)
	entities := make(map[string]T, len(state.Entities))
	for id, entity := range state.Entities {
		entities[id] = entity
	}
	return State[T]{IDs: ids, Entities: entities}
}

func (s *Store[T]) resort(state *State[T]) {
	if s.less == nil {
		return
	}
	sort.SliceStable(state.IDs, func(i, j int) bool {
		return s.less(state.Entities[state.IDs[i]], state.Entities[state.IDs[j]])
	})
}

// AddOne добавляет запись. Если id уже присутствует, возвращает состояние
// без изменений — повторное добавление идемпотентно.
func (s *Store[T]) AddOne(state State[T], entity T) State[T] {
	id := s.selectID(entity)
	if id == "" {
		return state
	}
	if _, exists := state.Entities[id]; exists {
		return state
	}
	next := s.clone(state)
	next.IDs = append(next.IDs, id)
	next.Entities[id] = entity
	s.resort(&next)
	return next
}

// AddMany добавляет набор записей, пропуская уже существующие id.
func (s *Store[T]) AddMany(state State[T], entities []T) State[T] {
	next := s.clone(state)
	changed := false
	for _, entity := range entities {
		id := s.selectID(entity)
		if id == "" {
			continue
		}
		if _, exists := next.Entities[id]; exists {
			continue
		}
		next.IDs = append(next.IDs, id)
		next.Entities[id] = entity
		changed = true
	}
	if !changed {
		return state
	}
	s.resort(&next)
	return next
}

// SetAll полностью замещает коллекцию — семантика «авторитетное обновление
// с сервера». Дубликаты id схлопываются, побеждает последняя запись.
func (s *Store[T]) SetAll(state State[T], entities []T) State[T] {
	next := State[T]{
		IDs:      make([]string, 0, len(entities)),
		Entities: make(map[string]T, len(entities)),
	}
	for _, entity := range entities {
		id := s.selectID(entity)
		if id == "" {
			continue
		}
		if _, exists := next.Entities[id]; !exists {
			next.IDs = append(next.IDs, id)
		}
		next.Entities[id] = entity
	}
	s.resort(&next)
	return next
}

// UpdateOne сливает changes в существующую запись через функцию merge.
// Если id отсутствует, возвращает состояние без изменений (не создает).
func (s *Store[T]) UpdateOne(state State[T], id string, changes T) State[T] {
	existing, exists := state.Entities[id]
	if !exists {
		return state
	}
	next := s.clone(state)
	next.Entities[id] = s.merge(existing, changes)
	s.resort(&next)
	return next
}

// UpsertOne обновляет запись, если id присутствует, иначе добавляет.
// Основная точка входа для слияния подтвержденных сервером или доставленных
// push-сообщением записей: вызывающему не нужно знать заранее, существует ли
// запись локально.
func (s *Store[T]) UpsertOne(state State[T], entity T) State[T] {
	id := s.selectID(entity)
	if id == "" {
		return state
	}
	if _, exists := state.Entities[id]; exists {
		return s.UpdateOne(state, id, entity)
	}
	return s.AddOne(state, entity)
}

// UpsertMany применяет UpsertOne к каждому элементу набора.
func (s *Store[T]) UpsertMany(state State[T], entities []T) State[T] {
	next := s.clone(state)
	for _, entity := range entities {
		id := s.selectID(entity)
		if id == "" {
			continue
		}
		if existing, exists := next.Entities[id]; exists {
			next.Entities[id] = s.merge(existing, entity)
		} else {
			next.IDs = append(next.IDs, id)
			next.Entities[id] = entity
		}
	}
	s.resort(&next)
	return next
}

// ReplaceOne замещает существующую запись целиком, без слияния, сохраняя
// позицию id в порядке отображения. Отсутствующий id — no-op. Используется
// для точного восстановления записи из снимка.
func (s *Store[T]) ReplaceOne(state State[T], entity T) State[T] {
	id := s.selectID(entity)
	if id == "" {
		return state
	}
	if _, exists := state.Entities[id]; !exists {
		return state
	}
	next := s.clone(state)
	next.Entities[id] = entity
	s.resort(&next)
	return next
}

// RemoveOne удаляет запись по id. Отсутствующий id — no-op.
func (s *Store[T]) RemoveOne(state State[T], id string) State[T] {
	if _, exists := state.Entities[id]; !exists {
		return state
	}
	next := s.clone(state)
	delete(next.Entities, id)
	for i, existing := range next.IDs {
		if existing == id {
			next.IDs = append(next.IDs[:i], next.IDs[i+1:]...)
			break
		}
	}
	return next
}

// RemoveMany удаляет набор записей, пропуская отсутствующие id.
func (s *Store[T]) RemoveMany(state State[T], ids []string) State[T] {
	toRemove := make(map[string]struct{}, len(ids))
	changed := false
	for _, id := range ids {
		if _, exists := state.Entities[id]; exists {
			toRemove[id] = struct{}{}
			changed = true
		}
	}
	if !changed {
		return state
	}
	next := State[T]{
		IDs:      make([]string, 0, len(state.IDs)-len(toRemove)),
		Entities: make(map[string]T, len(state.Entities)-len(toRemove)),
	}
	for _, id := range state.IDs {
		if _, removed := toRemove[id]; removed {
			continue
		}
		next.IDs = append(next.IDs, id)
		next.Entities[id] = state.Entities[id]
	}
	return next
}

// RemoveAll возвращает пустое состояние.
func (s *Store[T]) RemoveAll(State[T]) State[T] {
	return s.InitialState()
}

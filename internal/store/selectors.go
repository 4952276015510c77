package store

// Селекторы — чистые проекции состояния. Никогда не мутируют вход
// и возвращают копии срезов/карт, чтобы вызывающий не мог нарушить
// инвариант ids ↔ entities.

// SelectAll возвращает все записи в порядке IDs.
func (s *Store[T]) SelectAll(state State[T]) []T {
	result := make([]T, 0, len(state.IDs))
	for _, id := range state.IDs {
		result = append(result, state.Entities[id])
	}
	return result
}

// SelectByID возвращает запись по id.
func (s *Store[T]) SelectByID(state State[T], id string) (T, bool) {
	entity, ok := state.Entities[id]
	return entity, ok
}

// SelectByIDs возвращает записи для перечисленных id, пропуская отсутствующие.
func (s *Store[T]) SelectByIDs(state State[T], ids []string) []T {
	result := make([]T, 0, len(ids))
	for _, id := range ids {
		if entity, ok := state.Entities[id]; ok {
			result = append(result, entity)
		}
	}
	return result
}

// SelectTotal возвращает количество записей.
func (s *Store[T]) SelectTotal(state State[T]) int {
	return len(state.IDs)
}

// SelectIDs возвращает копию упорядоченного списка идентификаторов.
func (s *Store[T]) SelectIDs(state State[T]) []string {
	ids := make([]string, len(state.IDs))
	copy(ids, state.IDs)
	return ids
}

// SelectEntities возвращает копию карты id → запись.
func (s *Store[T]) SelectEntities(state State[T]) map[string]T {
	entities := make(map[string]T, len(state.Entities))
	for id, entity := range state.Entities {
		entities[id] = entity
	}
	return entities
}

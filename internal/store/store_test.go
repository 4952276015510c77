package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clientkit/syncstore/internal/models"
)

// order — типизированная запись для проверки generic-хранилища.
type order struct {
	ID        string
	Status    string
	UpdatedAt int64
}

func newOrderStore() *Store[order] {
	return New(
		func(o order) string { return o.ID },
		WithSortComparer[order](func(a, b order) bool {
			// Свежие записи первыми
			return a.UpdatedAt > b.UpdatedAt
		}),
	)
}

func newEntityStore() *Store[models.Entity] {
	return New(
		func(e models.Entity) string { return e.ID() },
		WithMerge[models.Entity](models.Merge),
	)
}

func TestStore_AddOne_Idempotent(t *testing.T) {
	s := newOrderStore()
	state := s.InitialState()

	e := order{ID: "o1", Status: "CHO_XAC_NHAN", UpdatedAt: 10}
	once := s.AddOne(state, e)
	twice := s.AddOne(once, e)

	assert.Equal(t, 1, s.SelectTotal(once))
	assert.Equal(t, once, twice, "repeated AddOne must be a no-op")
}

func TestStore_AddOne_DoesNotMutateInput(t *testing.T) {
	s := newOrderStore()
	state := s.AddOne(s.InitialState(), order{ID: "o1", UpdatedAt: 1})

	idsBefore := s.SelectIDs(state)
	_ = s.AddOne(state, order{ID: "o2", UpdatedAt: 2})
	_ = s.RemoveOne(state, "o1")
	_ = s.UpdateOne(state, "o1", order{ID: "o1", Status: "HUY", UpdatedAt: 3})

	assert.Equal(t, idsBefore, s.SelectIDs(state), "input state must stay unchanged")
	_, ok := s.SelectByID(state, "o1")
	require.True(t, ok)
}

func TestStore_SortComparer_OrdersIDs(t *testing.T) {
	s := newOrderStore()
	state := s.InitialState()

	state = s.AddOne(state, order{ID: "old", UpdatedAt: 1})
	state = s.AddOne(state, order{ID: "new", UpdatedAt: 100})
	state = s.AddOne(state, order{ID: "mid", UpdatedAt: 50})

	assert.Equal(t, []string{"new", "mid", "old"}, s.SelectIDs(state))

	// Обновление сортозначимого поля пересортировывает
	state = s.UpdateOne(state, "old", order{ID: "old", UpdatedAt: 200})
	assert.Equal(t, []string{"old", "new", "mid"}, s.SelectIDs(state))
}

func TestStore_SetAll_ReplacesEverything(t *testing.T) {
	s := newOrderStore()
	state := s.AddOne(s.InitialState(), order{ID: "stale", UpdatedAt: 1})

	state = s.SetAll(state, []order{
		{ID: "a", UpdatedAt: 2},
		{ID: "b", UpdatedAt: 3},
	})

	assert.Equal(t, 2, s.SelectTotal(state))
	_, ok := s.SelectByID(state, "stale")
	assert.False(t, ok)
}

func TestStore_ReplaceOne_KeepsPositionAndReplacesWholly(t *testing.T) {
	s := newEntityStore()
	state := s.InitialState()

	for _, id := range []string{"o1", "o2", "o3"} {
		state = s.AddOne(state, models.Entity{"id": id, "note": "kept"})
	}
	idsBefore := s.SelectIDs(state)

	// Замещение целиком, без слияния: лишние поля исчезают
	state = s.ReplaceOne(state, models.Entity{"id": "o2", "status": "HUY"})

	assert.Equal(t, idsBefore, s.SelectIDs(state), "replace must not reorder ids")
	got, ok := s.SelectByID(state, "o2")
	require.True(t, ok)
	assert.Equal(t, "HUY", got["status"])
	assert.NotContains(t, got, "note")

	// Отсутствующий id — no-op
	same := s.ReplaceOne(state, models.Entity{"id": "ghost"})
	assert.Equal(t, state, same)
}

func TestStore_UpdateOne_AbsentIsNoop(t *testing.T) {
	s := newOrderStore()
	state := s.InitialState()

	next := s.UpdateOne(state, "ghost", order{ID: "ghost", Status: "XAC_NHAN"})

	assert.Equal(t, 0, s.SelectTotal(next), "UpdateOne must not create entities")
}

func TestStore_UpsertOne_Totality(t *testing.T) {
	s := newEntityStore()
	state := s.InitialState()

	// Upsert несуществующей записи добавляет ее
	e := models.Entity{"id": "p1", "price": float64(100)}
	state = s.UpsertOne(state, e)
	got, ok := s.SelectByID(state, "p1")
	require.True(t, ok)
	assert.Equal(t, float64(100), got["price"])
	assert.Equal(t, 1, s.SelectTotal(state))

	// Upsert существующей сливает поля, total не растет
	state = s.UpsertOne(state, models.Entity{"id": "p1", "name": "ao thun"})
	got, ok = s.SelectByID(state, "p1")
	require.True(t, ok)
	assert.Equal(t, float64(100), got["price"], "merge must keep existing fields")
	assert.Equal(t, "ao thun", got["name"])
	assert.Equal(t, 1, s.SelectTotal(state))
}

func TestStore_RemoveMany(t *testing.T) {
	s := newOrderStore()
	state := s.SetAll(s.InitialState(), []order{
		{ID: "a", UpdatedAt: 3},
		{ID: "b", UpdatedAt: 2},
		{ID: "c", UpdatedAt: 1},
	})

	state = s.RemoveMany(state, []string{"a", "c", "ghost"})

	assert.Equal(t, []string{"b"}, s.SelectIDs(state))
	assert.Equal(t, 1, len(s.SelectEntities(state)))
}

func TestStore_Selectors_ReturnCopies(t *testing.T) {
	s := newOrderStore()
	state := s.AddOne(s.InitialState(), order{ID: "o1", UpdatedAt: 1})

	ids := s.SelectIDs(state)
	ids[0] = "hacked"
	entities := s.SelectEntities(state)
	delete(entities, "o1")

	assert.Equal(t, []string{"o1"}, state.IDs)
	_, ok := s.SelectByID(state, "o1")
	assert.True(t, ok)
}

func TestStore_SelectByIDs_SkipsMissing(t *testing.T) {
	s := newOrderStore()
	state := s.SetAll(s.InitialState(), []order{
		{ID: "a", UpdatedAt: 2},
		{ID: "b", UpdatedAt: 1},
	})

	got := s.SelectByIDs(state, []string{"b", "ghost", "a"})
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
}

func TestStore_IDsEntitiesInvariant(t *testing.T) {
	s := newEntityStore()
	state := s.InitialState()

	state = s.UpsertMany(state, []models.Entity{
		{"id": "a"}, {"id": "b"}, {"id": "a", "dup": true},
	})
	state = s.RemoveOne(state, "b")

	assert.Len(t, state.IDs, len(state.Entities))
	for _, id := range state.IDs {
		_, ok := state.Entities[id]
		assert.True(t, ok, "every id must have an entity")
	}
}

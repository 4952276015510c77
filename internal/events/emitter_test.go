package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitter_SubscribeEmitUnsubscribe(t *testing.T) {
	e := NewEmitter()

	var got []Event
	unsubscribe := e.Subscribe(StateSynced, func(ev Event) {
		got = append(got, ev)
	})

	e.Emit(Event{Type: StateSynced, EntityName: "orders"})
	e.Emit(Event{Type: CacheInvalidated, EntityName: "orders"}) // другой тип — не доставляется

	assert.Len(t, got, 1)
	assert.Equal(t, "orders", got[0].EntityName)
	assert.False(t, got[0].Timestamp.IsZero(), "Emit must stamp missing timestamps")

	unsubscribe()
	unsubscribe() // повторная отписка безопасна
	e.Emit(Event{Type: StateSynced})

	assert.Len(t, got, 1, "no delivery after unsubscribe")
}

func TestEmitter_MultipleSubscribers(t *testing.T) {
	e := NewEmitter()

	first, second := 0, 0
	e.Subscribe(Notification, func(Event) { first++ })
	e.Subscribe(Notification, func(Event) { second++ })

	e.Emit(Event{Type: Notification})

	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

func TestEmitter_HandlerMayUnsubscribeItself(t *testing.T) {
	e := NewEmitter()

	calls := 0
	var unsubscribe func()
	unsubscribe = e.Subscribe(MutationFailed, func(Event) {
		calls++
		unsubscribe()
	})

	e.Emit(Event{Type: MutationFailed})
	e.Emit(Event{Type: MutationFailed})

	assert.Equal(t, 1, calls)
}

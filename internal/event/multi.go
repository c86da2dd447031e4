// Package event provides the single-threaded multicast events used between data
// items, their records and their observers.
package event

// ID identifies a subscribed handler.
type ID uint64

type entry[T any] struct {
	id      ID
	handler func(T)
}

// Multi is a multicast event. The zero value is ready to use. Not safe for
// concurrent use: every call must come from the engine goroutine.
type Multi[T any] struct {
	nextID   ID
	handlers []entry[T]
}

// Subscribe adds a handler and returns its id.
func (m *Multi[T]) Subscribe(handler func(T)) ID {
	m.nextID++
	m.handlers = append(m.handlers, entry[T]{id: m.nextID, handler: handler})
	return m.nextID
}

// Unsubscribe removes a handler. Unknown ids are ignored.
func (m *Multi[T]) Unsubscribe(id ID) {
	for i, e := range m.handlers {
		if e.id == id {
			m.handlers = append(m.handlers[:i:i], m.handlers[i+1:]...)
			return
		}
	}
}

// Notify calls every handler subscribed at the time of the call. Handlers may
// subscribe or unsubscribe while being notified.
func (m *Multi[T]) Notify(v T) {
	if len(m.handlers) == 0 {
		return
	}
	snapshot := m.handlers
	for _, e := range snapshot {
		if !m.has(e.id) {
			continue
		}
		e.handler(v)
	}
}

// Count returns the number of subscribed handlers.
func (m *Multi[T]) Count() int {
	return len(m.handlers)
}

func (m *Multi[T]) has(id ID) bool {
	for _, e := range m.handlers {
		if e.id == id {
			return true
		}
	}
	return false
}

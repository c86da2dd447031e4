package reconcile

import (
	"fmt"

	"marketsub/internal/event"
	"marketsub/internal/logger"
)

const (
	CodeAddExists      = "RCAE10001"
	CodeUpdateNotFound = "RCUN10002"
	CodeRemoveNotFound = "RCRN10003"
	CodeUnknownKind    = "RCUK10004"
)

// Record is a list element owned by a List.
type Record[P any] interface {
	// Apply mutates the record in place and emits its own field-level notification.
	Apply(payload P)
	// Destroy is called once the record has left the list.
	Destroy()
}

// Element is a Record with identity. Records are pointers in practice.
type Element[P any] interface {
	comparable
	Record[P]
}

// List is an ordered record list with a key index. Order is first-seen Add order;
// list position is the only positional identity exposed.
type List[K comparable, P any, R Element[P]] struct {
	name    string
	create  func(key K, payload P) R
	sink    logger.Sink
	records []R
	byKey   map[K]R
	changes event.Multi[ListChange]

	// pending add run, changes[addStart:i]
	addStart int
	addKeys  map[K]struct{}
}

// NewList creates an empty list. name is used as log context.
func NewList[K comparable, P any, R Element[P]](name string, create func(key K, payload P) R, sink logger.Sink) *List[K, P, R] {
	return &List[K, P, R]{
		name:     name,
		create:   create,
		sink:     logger.Or(sink),
		byKey:    make(map[K]R),
		addStart: -1,
		addKeys:  make(map[K]struct{}),
	}
}

// Apply scans the batch once. Consecutive Adds are materialised together with one
// Insert notification when a non-Add change or the end of the batch interrupts them.
// Protocol errors are logged and the offending change is skipped.
func (l *List[K, P, R]) Apply(changes []Change[K, P]) {
	for i, c := range changes {
		switch c.Kind {
		case KindAdd:
			if l.exists(c.Key) {
				l.flushAdds(changes, i)
				l.sink.Error(CodeAddExists, l.context(c.Key))
				continue
			}
			if l.addStart < 0 {
				l.addStart = i
			}
			l.addKeys[c.Key] = struct{}{}
		case KindUpdate:
			l.flushAdds(changes, i)
			record, ok := l.byKey[c.Key]
			if !ok {
				l.sink.Error(CodeUpdateNotFound, l.context(c.Key))
				continue
			}
			record.Apply(c.Payload)
		case KindRemove:
			l.flushAdds(changes, i)
			index := l.IndexOf(c.Key)
			if index < 0 {
				l.sink.Error(CodeRemoveNotFound, l.context(c.Key))
				continue
			}
			l.removeAt(index, c.Key)
		case KindClear:
			l.flushAdds(changes, i)
			l.Clear()
		default:
			l.flushAdds(changes, i)
			l.sink.Error(CodeUnknownKind, fmt.Sprintf("%s: kind %d", l.name, c.Kind))
		}
	}
	l.flushAdds(changes, len(changes))
}

func (l *List[K, P, R]) exists(key K) bool {
	if _, ok := l.byKey[key]; ok {
		return true
	}
	_, ok := l.addKeys[key]
	return ok
}

// flushAdds materialises the pending add run changes[addStart:end].
func (l *List[K, P, R]) flushAdds(changes []Change[K, P], end int) {
	if l.addStart < 0 {
		return
	}
	run := changes[l.addStart:end]
	l.addStart = -1
	clear(l.addKeys)

	index := len(l.records)
	l.records = append(l.records, make([]R, len(run))...)
	for i, c := range run {
		record := l.create(c.Key, c.Payload)
		l.records[index+i] = record
		l.byKey[c.Key] = record
	}
	l.changes.Notify(ListChange{Type: ListChangeInsert, Index: index, Count: len(run)})
}

func (l *List[K, P, R]) removeAt(index int, key K) {
	record := l.records[index]
	l.changes.Notify(ListChange{Type: ListChangeRemove, Index: index, Count: 1})
	record.Destroy()
	l.records = append(l.records[:index], l.records[index+1:]...)
	delete(l.byKey, key)
}

// Clear empties the list with a single Clear notification.
func (l *List[K, P, R]) Clear() {
	count := len(l.records)
	l.changes.Notify(ListChange{Type: ListChangeClear, Index: 0, Count: count})
	for _, record := range l.records {
		record.Destroy()
	}
	clear(l.records)
	l.records = l.records[:0]
	clear(l.byKey)
}

// IndexOf resolves the list position of key, or -1. It scans the list, O(n).
func (l *List[K, P, R]) IndexOf(key K) int {
	record, ok := l.byKey[key]
	if !ok {
		return -1
	}
	for i := range l.records {
		if l.records[i] == record {
			return i
		}
	}
	return -1
}

func (l *List[K, P, R]) Len() int {
	return len(l.records)
}

// At returns the record at index.
func (l *List[K, P, R]) At(index int) R {
	return l.records[index]
}

// Get returns the record with key.
func (l *List[K, P, R]) Get(key K) (R, bool) {
	record, ok := l.byKey[key]
	return record, ok
}

// Records returns a copy of the records in list order.
func (l *List[K, P, R]) Records() []R {
	result := make([]R, len(l.records))
	copy(result, l.records)
	return result
}

// SubscribeChanges registers a list-level change handler.
func (l *List[K, P, R]) SubscribeChanges(handler func(ListChange)) event.ID {
	return l.changes.Subscribe(handler)
}

func (l *List[K, P, R]) UnsubscribeChanges(id event.ID) {
	l.changes.Unsubscribe(id)
}

func (l *List[K, P, R]) context(key K) string {
	return fmt.Sprintf("%s: %v", l.name, key)
}

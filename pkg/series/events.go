package series

import "github.com/vjranagit/plotbuffer/pkg/types"

// Event is emitted by a Buffer on structural change. Indices carried by an
// event are valid only at emission time; any later mutation invalidates them.
type Event interface {
	isEvent()
}

// AddEvent reports a point inserted at Index.
type AddEvent struct {
	Point  *types.Point
	Index  int
	Buffer *Buffer
}

// RemoveEvent reports a point excised from its former Index.
type RemoveEvent struct {
	Point  *types.Point
	Index  int
	Buffer *Buffer
}

// ResetEvent reports that the buffer was cleared. Any seed points follow as
// individual AddEvents.
type ResetEvent struct {
	Buffer *Buffer
}

// LoadEvent reports that a historical fetch completed.
type LoadEvent struct {
	Buffer *Buffer
}

func (AddEvent) isEvent()    {}
func (RemoveEvent) isEvent() {}
func (ResetEvent) isEvent()  {}
func (LoadEvent) isEvent()   {}

type subscriber struct {
	id int
	fn func(Event)
}

// Subscribe registers fn to receive every event the buffer emits, synchronously
// and in registration order. The returned function unsubscribes.
func (b *Buffer) Subscribe(fn func(Event)) func() {
	b.nextSubID++
	id := b.nextSubID
	b.subs = append(b.subs, subscriber{id: id, fn: fn})

	return func() {
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

func (b *Buffer) emit(ev Event) {
	for _, s := range b.subs {
		s.fn(ev)
	}
}

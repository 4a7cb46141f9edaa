package record

// Buffer is a bounded batch of entries. Processors hand one buffer to a
// provider per step, so one busy provider cannot starve the others.
type Buffer struct {
	entries  []Entry
	capacity int
}

// DefaultCapacity is the batch size used when none is configured.
const DefaultCapacity = 1000

// NewBuffer creates a buffer that holds at most capacity entries.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Buffer{entries: make([]Entry, 0, min(capacity, 1024)), capacity: capacity}
}

// Add appends e and reports whether it fit.
func (b *Buffer) Add(e Entry) bool {
	if len(b.entries) >= b.capacity {
		return false
	}
	b.entries = append(b.entries, e)

	return true
}

// Full reports whether the buffer reached its capacity.
func (b *Buffer) Full() bool {
	return len(b.entries) >= b.capacity
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int {
	return len(b.entries)
}

// Capacity returns the maximum number of entries.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Entries returns the buffered entries. The slice is reused after Clear.
func (b *Buffer) Entries() []Entry {
	return b.entries
}

// Clear removes all entries.
func (b *Buffer) Clear() {
	clear(b.entries)
	b.entries = b.entries[:0]
}

// Listener is notified when a provider has entries to retrieve.
type Listener interface {
	RecordsAvailable(p Provider)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(p Provider)

func (f ListenerFunc) RecordsAvailable(p Provider) { f(p) }

// Provider hands out buffered entries.
type Provider interface {
	// Retrieve moves entries into sink until it is full or the provider
	// is drained, and reports whether more entries remain.
	Retrieve(sink *Buffer) bool

	// SetListener installs the listener signalled when entries become
	// available; nil removes it.
	SetListener(l Listener)
}

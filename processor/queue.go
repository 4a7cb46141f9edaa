package processor

import (
	"sync"

	"github.com/devexperts/QD-sub012/record"
)

// QueueProvider is a FIFO provider filled by producers. It signals its
// listener when it turns from empty to non-empty, and on SetListener when it
// already holds entries.
type QueueProvider struct {
	mu       sync.Mutex
	entries  []record.Entry
	head     int
	listener record.Listener
}

var _ record.Provider = (*QueueProvider)(nil)

// NewQueueProvider creates an empty queue.
func NewQueueProvider() *QueueProvider {
	return &QueueProvider{}
}

// Add appends entries. The listener is called outside the lock.
func (q *QueueProvider) Add(entries ...record.Entry) {
	if len(entries) == 0 {
		return
	}

	q.mu.Lock()
	wasEmpty := q.head == len(q.entries)
	if q.head > 0 && q.head >= len(q.entries)/2 {
		n := copy(q.entries, q.entries[q.head:])
		clear(q.entries[n:])
		q.entries = q.entries[:n]
		q.head = 0
	}
	q.entries = append(q.entries, entries...)
	l := q.listener
	q.mu.Unlock()

	if wasEmpty && l != nil {
		l.RecordsAvailable(q)
	}
}

// Len returns the number of queued entries.
func (q *QueueProvider) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries) - q.head
}

func (q *QueueProvider) Retrieve(sink *record.Buffer) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.head < len(q.entries) && sink.Add(q.entries[q.head]) {
		q.entries[q.head] = record.Entry{}
		q.head++
	}
	if q.head == len(q.entries) {
		q.entries = q.entries[:0]
		q.head = 0

		return false
	}

	return true
}

func (q *QueueProvider) SetListener(l record.Listener) {
	q.mu.Lock()
	q.listener = l
	pending := q.head < len(q.entries)
	q.mu.Unlock()

	if pending && l != nil {
		l.RecordsAvailable(q)
	}
}

package broadcastcache

// clientQueue buffers envelopes for a single subscriber in arrival order and
// remembers which message ids it currently holds, so a concurrent re-insert
// of the same publish event can be rejected. Only the Store touches a
// clientQueue, and always under the store's mutex.
type clientQueue[T any] struct {
	queue []*Envelope[T]
	seen  map[string]struct{}
}

func newClientQueue[T any]() *clientQueue[T] {
	return &clientQueue[T]{
		seen: make(map[string]struct{}),
	}
}

func (q *clientQueue[T]) has(messageID string) bool {
	_, ok := q.seen[messageID]
	return ok
}

func (q *clientQueue[T]) append(msg *Envelope[T]) {
	q.queue = append(q.queue, msg)
	q.seen[msg.ID] = struct{}{}
}

// remove drops the envelope with the given id, if present, preserving the
// order of the remaining entries.
func (q *clientQueue[T]) remove(messageID string) {
	for i, msg := range q.queue {
		if msg.ID == messageID {
			q.queue = append(q.queue[:i], q.queue[i+1:]...)
			delete(q.seen, messageID)
			return
		}
	}
}

// payloads copies the buffered payloads out in FIFO order.
func (q *clientQueue[T]) payloads() []T {
	out := make([]T, 0, len(q.queue))
	for _, msg := range q.queue {
		out = append(out, msg.Payload)
	}
	return out
}

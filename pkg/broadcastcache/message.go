package broadcastcache

import (
	"time"

	"github.com/google/uuid"
)

// Envelope wraps a single published payload together with the identity used
// for duplicate suppression. Two envelopes carrying the same ID represent the
// same publish event; the ID is assigned once, at publish time, and never
// changes.
type Envelope[T any] struct {
	// ID is the unique identifier for this publish event.
	ID string

	// Payload is the published message value.
	Payload T

	// CreatedAt is the time the message entered the cache.
	CreatedAt time.Time
}

func newEnvelope[T any](payload T, now time.Time) *Envelope[T] {
	return &Envelope[T]{
		ID:        uuid.NewString(),
		Payload:   payload,
		CreatedAt: now,
	}
}

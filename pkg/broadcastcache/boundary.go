package broadcastcache

import "context"

// ====================================================================================
// This file defines the contracts the cache consumes from the host's
// transport and broadcaster layers. The cache never dials or accepts
// connections itself; it only asks these collaborators about subscriber
// identity, liveness, and channel membership.
// ====================================================================================

// Subscriber is the transport layer's handle for one subscriber connection.
type Subscriber interface {
	// ID returns the stable identity of the logical subscriber. It must not
	// change across reconnects or transport switches (e.g. a streaming and a
	// polling connection for the same client resolve to the same ID).
	ID() string

	// IsLive reports whether the connection is still attached and in scope.
	// A publish racing a disconnect may carry a handle whose connection has
	// already dropped; IsLive returning false routes the message into that
	// subscriber's buffer instead of the channel-wide fan-out.
	IsLive() bool
}

// ChannelRegistry reports which subscribers are currently attached to a
// broadcast channel. Implementations may be local (see pkg/presence) or
// backed by whatever membership store the host transport uses.
type ChannelRegistry interface {
	// Members returns the IDs of the subscribers currently attached to the
	// given channel. An unknown channel is not an error; it has no members.
	Members(ctx context.Context, channelID string) ([]string, error)
}

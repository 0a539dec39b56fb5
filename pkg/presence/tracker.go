// Package presence tracks which subscribers are currently attached to which
// broadcast channels. Trackers hold ephemeral, real-time state only; nothing
// here survives the subscribers it describes.
package presence

import (
	"context"
	"io"
)

// Tracker defines the contract for recording live channel attachments. The
// transport layer attaches a subscriber when its connection is established
// and detaches it when the connection drops; Members answers the cache's
// channel-membership query, so every Tracker also satisfies
// broadcastcache.ChannelRegistry.
type Tracker interface {
	// Attach records the subscriber as currently connected to the channel.
	Attach(ctx context.Context, channelID, subscriberID string) error
	// Detach removes the subscriber from the channel.
	Detach(ctx context.Context, channelID, subscriberID string) error
	// Members returns the IDs of the subscribers attached to the channel.
	Members(ctx context.Context, channelID string) ([]string, error)
	// Closer is included for implementations that manage network connections.
	io.Closer
}

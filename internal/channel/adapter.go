package channel

import (
	"context"

	"waroute/internal/store"
)

// Adapter is the capability shared by all channel variants.
//
// Send blocks for the duration of the underlying transport call (network
// round trip or interactive UI wait); callers must not hold shared locks
// across it.
type Adapter interface {
	Kind() store.ChannelKind

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Connected() bool

	// Send delivers text to address and returns the provider's message
	// reference. Failures are *SendError values.
	Send(ctx context.Context, address, text string) (string, error)
}

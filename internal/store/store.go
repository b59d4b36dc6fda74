package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrDisabled = errors.New("storage disabled")
)

// Store is the persistence boundary for contacts, messages and channels.
//
// Read-after-write consistency within the process is the only contract;
// callers layer their own invariants (routing, dedup, scoring) on top.
type Store interface {
	CreateContact(ctx context.Context, c *Contact) error
	ContactByID(ctx context.Context, id int64) (*Contact, error)
	ContactByAddress(ctx context.Context, address string) (*Contact, error)
	UpdateContact(ctx context.Context, c *Contact) error
	ListContacts(ctx context.Context, f ContactFilter) ([]*Contact, error)

	// AppendMessage assigns ID and clamps Timestamp so a contact's history
	// stays monotonically non-decreasing in insertion order.
	AppendMessage(ctx context.Context, m *Message) error
	Messages(ctx context.Context, contactID int64, f MessageFilter) ([]*Message, error)
	// InboundSince returns received messages newer than since, across contacts,
	// oldest first.
	InboundSince(ctx context.Context, since time.Time) ([]*Message, error)
	// UpdateMessageStatus applies a delivery receipt by provider ref.
	// Regressions on the sent->delivered->read ladder are ignored.
	UpdateMessageStatus(ctx context.Context, providerRef string, status MessageStatus) error
	CountMessages(ctx context.Context, since, until time.Time, sender Sender) (int, error)

	CreateChannel(ctx context.Context, ch *Channel) error
	ListChannels(ctx context.Context) ([]*Channel, error)
	UpdateChannel(ctx context.Context, ch *Channel) error

	LeadDistribution(ctx context.Context) (map[Tag]int, error)

	Close() error
}

type Config struct {
	Driver string // "memory" or "sqlite"
	Path   string
	// BusyTimeout applies to the sqlite driver only.
	BusyTimeout time.Duration
}

// Open builds a Store from config. Unknown drivers default to memory so a
// bare config still yields a working process.
func Open(cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return openSQLite(cfg)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}

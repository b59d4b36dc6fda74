package store

import "time"

// Tag is a contact's funnel position.
type Tag string

const (
	TagColdLead   Tag = "cold_lead"
	TagWarmLead   Tag = "warm_lead"
	TagHotLead    Tag = "hot_lead"
	TagRegistered Tag = "registered"
)

func (t Tag) Valid() bool {
	switch t {
	case TagColdLead, TagWarmLead, TagHotLead, TagRegistered:
		return true
	}
	return false
}

// Sender identifies who authored a message.
type Sender string

const (
	SenderContact    Sender = "contact"
	SenderAutomation Sender = "automation"
	SenderOperator   Sender = "operator"
)

// MessageStatus follows the delivery-receipt ladder for outbound messages
// (sent -> delivered -> read); inbound messages are "received".
type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageReceived  MessageStatus = "received"
)

// rank orders the outbound receipt ladder so status updates never move backwards.
func (s MessageStatus) rank() int {
	switch s {
	case MessageSent:
		return 1
	case MessageDelivered:
		return 2
	case MessageRead:
		return 3
	}
	return 0
}

type ChannelKind string

const (
	KindDirect  ChannelKind = "direct"
	KindSession ChannelKind = "session"
)

type ChannelStatus string

const (
	ChannelStandby ChannelStatus = "standby"
	ChannelActive  ChannelStatus = "active"
	ChannelBlocked ChannelStatus = "blocked"
)

type Contact struct {
	ID              int64
	Name            string
	Address         string
	City            string
	Tag             Tag
	Score           int
	LastInteraction time.Time
	CreatedAt       time.Time
}

type Message struct {
	ID          int64
	ContactID   int64
	ChannelID   int64
	Sender      Sender
	Body        string
	Kind        string // "text", "image", "document", "audio"
	Status      MessageStatus
	ProviderRef string
	Timestamp   time.Time
}

type Channel struct {
	ID         int64
	Address    string
	Kind       ChannelKind
	Status     ChannelStatus
	SentCount  int64
	LastActive time.Time
	CreatedAt  time.Time
}

// ContactFilter narrows ListContacts. Zero values mean "no constraint".
type ContactFilter struct {
	Tags                  []Tag
	LastInteractionBefore time.Time
	Limit                 int
}

// MessageFilter narrows Messages for one contact.
type MessageFilter struct {
	// NotBefore keeps messages with Timestamp >= NotBefore. Inclusive on
	// purpose: an automated reply appended in the same clamped instant as the
	// inbound message it answers must still count as a later reply.
	NotBefore time.Time
	Senders   []Sender
	Status    MessageStatus
	Limit     int
}

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store. It backs tests and small single-node
// deployments; the sqlite driver is the durable option.
type Memory struct {
	mu sync.Mutex

	nextContact int64
	nextMessage int64
	nextChannel int64

	contacts map[int64]*Contact
	messages map[int64]*Message
	channels map[int64]*Channel
}

func NewMemory() *Memory {
	return &Memory{
		contacts: map[int64]*Contact{},
		messages: map[int64]*Message{},
		channels: map[int64]*Channel{},
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) CreateContact(_ context.Context, c *Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextContact++
	c.ID = m.nextContact
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Tag == "" {
		c.Tag = TagColdLead
	}
	cp := *c
	m.contacts[c.ID] = &cp
	return nil
}

func (m *Memory) ContactByID(_ context.Context, id int64) (*Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) ContactByAddress(_ context.Context, address string) (*Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contacts {
		if strings.EqualFold(c.Address, address) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) UpdateContact(_ context.Context, c *Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contacts[c.ID]; !ok {
		return ErrNotFound
	}
	cp := *c
	m.contacts[c.ID] = &cp
	return nil
}

func (m *Memory) ListContacts(_ context.Context, f ContactFilter) ([]*Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Contact, 0, len(m.contacts))
	for _, c := range m.contacts {
		if len(f.Tags) > 0 && !containsTag(f.Tags, c.Tag) {
			continue
		}
		if !f.LastInteractionBefore.IsZero() && !c.LastInteraction.Before(f.LastInteractionBefore) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) AppendMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	// Clamp so per-contact history never goes backwards.
	if last := m.lastTimestampLocked(msg.ContactID); msg.Timestamp.Before(last) {
		msg.Timestamp = last
	}
	m.nextMessage++
	msg.ID = m.nextMessage
	if msg.Kind == "" {
		msg.Kind = "text"
	}
	cp := *msg
	m.messages[msg.ID] = &cp
	return nil
}

func (m *Memory) lastTimestampLocked(contactID int64) time.Time {
	var last time.Time
	for _, msg := range m.messages {
		if msg.ContactID == contactID && msg.Timestamp.After(last) {
			last = msg.Timestamp
		}
	}
	return last
}

func (m *Memory) Messages(_ context.Context, contactID int64, f MessageFilter) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Message, 0, 16)
	for _, msg := range m.messages {
		if msg.ContactID != contactID {
			continue
		}
		if !f.NotBefore.IsZero() && msg.Timestamp.Before(f.NotBefore) {
			continue
		}
		if f.Status != "" && msg.Status != f.Status {
			continue
		}
		if len(f.Senders) > 0 && !containsSender(f.Senders, msg.Sender) {
			continue
		}
		cp := *msg
		out = append(out, &cp)
	}
	sortMessages(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) InboundSince(_ context.Context, since time.Time) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Message, 0, 16)
	for _, msg := range m.messages {
		if msg.Status != MessageReceived || msg.Sender != SenderContact {
			continue
		}
		if msg.Timestamp.Before(since) {
			continue
		}
		cp := *msg
		out = append(out, &cp)
	}
	sortMessages(out)
	return out, nil
}

func (m *Memory) UpdateMessageStatus(_ context.Context, providerRef string, status MessageStatus) error {
	if providerRef == "" || status.rank() == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ProviderRef == providerRef {
			if status.rank() > msg.Status.rank() {
				msg.Status = status
			}
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) CountMessages(_ context.Context, since, until time.Time, sender Sender) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.messages {
		if msg.Timestamp.Before(since) {
			continue
		}
		if !until.IsZero() && !msg.Timestamp.Before(until) {
			continue
		}
		if sender != "" && msg.Sender != sender {
			continue
		}
		n++
	}
	return n, nil
}

func (m *Memory) CreateChannel(_ context.Context, ch *Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextChannel++
	ch.ID = m.nextChannel
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	if ch.Status == "" {
		ch.Status = ChannelStandby
	}
	cp := *ch
	m.channels[ch.ID] = &cp
	return nil
}

func (m *Memory) ListChannels(_ context.Context) ([]*Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		cp := *ch
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateChannel(_ context.Context, ch *Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[ch.ID]; !ok {
		return ErrNotFound
	}
	cp := *ch
	m.channels[ch.ID] = &cp
	return nil
}

func (m *Memory) LeadDistribution(_ context.Context) (map[Tag]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[Tag]int{}
	for _, c := range m.contacts {
		out[c.Tag]++
	}
	return out, nil
}

func sortMessages(ms []*Message) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Timestamp.Equal(ms[j].Timestamp) {
			return ms[i].ID < ms[j].ID
		}
		return ms[i].Timestamp.Before(ms[j].Timestamp)
	})
}

func containsTag(tags []Tag, t Tag) bool {
	for _, x := range tags {
		if x == t {
			return true
		}
	}
	return false
}

func containsSender(ss []Sender, s Sender) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

package inbound

import (
	"context"
	"errors"
	"strings"

	"waroute/internal/store"
	"waroute/pkg/logx"
)

// Writer persists inbound events: messages become Received rows under a
// found-or-created contact, receipts update message status by provider ref.
//
// OnStored, when set, runs after a message row is written. Reactive
// automation hangs off it so it always sees a stored message.
type Writer struct {
	log      logx.Logger
	st       store.Store
	OnStored func(ctx context.Context, m *store.Message)
}

func NewWriter(st store.Store, log logx.Logger) *Writer {
	return &Writer{log: log.With(logx.String("component", "inbound-writer")), st: st}
}

// Handle implements the dispatcher Handler contract.
func (w *Writer) Handle(ctx context.Context, ev Event) {
	switch {
	case ev.Message != nil:
		w.handleMessage(ctx, ev.Message)
	case ev.Status != nil:
		w.handleStatus(ctx, ev.Status)
	}
}

func (w *Writer) handleMessage(ctx context.Context, in *InboundMessage) {
	contact, err := w.findOrCreateContact(ctx, in)
	if err != nil {
		w.log.Warn("inbound contact resolve failed",
			logx.String("address", in.Address), logx.Err(err))
		return
	}

	msg := &store.Message{
		ContactID: contact.ID,
		Sender:    store.SenderContact,
		Body:      in.Body,
		Kind:      in.Kind,
		Status:    store.MessageReceived,
		Timestamp: in.At.UTC(),
	}
	if err := w.st.AppendMessage(ctx, msg); err != nil {
		w.log.Warn("inbound append failed",
			logx.Int64("contact_id", contact.ID), logx.Err(err))
		return
	}

	contact.LastInteraction = msg.Timestamp
	if err := w.st.UpdateContact(ctx, contact); err != nil {
		w.log.Warn("contact touch failed",
			logx.Int64("contact_id", contact.ID), logx.Err(err))
	}

	w.log.Debug("inbound stored",
		logx.Int64("contact_id", contact.ID),
		logx.Int64("message_id", msg.ID))

	if w.OnStored != nil {
		w.OnStored(ctx, msg)
	}
}

func (w *Writer) handleStatus(ctx context.Context, su *StatusUpdate) {
	err := w.st.UpdateMessageStatus(ctx, su.ProviderRef, su.Status)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		w.log.Warn("receipt update failed",
			logx.String("provider_ref", su.ProviderRef), logx.Err(err))
	}
}

func (w *Writer) findOrCreateContact(ctx context.Context, in *InboundMessage) (*store.Contact, error) {
	c, err := w.st.ContactByAddress(ctx, in.Address)
	if err == nil {
		if name := strings.TrimSpace(in.Name); name != "" && c.Name != name && strings.HasPrefix(c.Name, "contact-") {
			// Upgrade placeholder names as soon as the transport tells us one.
			c.Name = name
			if err := w.st.UpdateContact(ctx, c); err != nil {
				w.log.Warn("contact rename failed", logx.Int64("contact_id", c.ID), logx.Err(err))
			}
		}
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = placeholderName(in.Address)
	}
	c = &store.Contact{
		Name:    name,
		Address: in.Address,
		Tag:     store.TagColdLead,
	}
	if err := w.st.CreateContact(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func placeholderName(address string) string {
	if n := len(address); n > 4 {
		return "contact-" + address[n-4:]
	}
	return "contact-" + address
}

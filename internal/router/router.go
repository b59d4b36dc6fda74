package router

import (
	"context"
	"errors"
	"strings"
	"time"

	"waroute/internal/channel"
	"waroute/internal/store"
	"waroute/pkg/logx"
)

var ErrEmptyMessage = errors.New("message text is empty")

// Request is one outbound send.
type Request struct {
	Address string
	Text    string
	Sender  store.Sender // Automation or Operator
	// PreferredKind restricts selection to a channel kind when at least one
	// active channel of that kind exists. Empty means no preference.
	PreferredKind store.ChannelKind
}

// Result reports a completed send.
type Result struct {
	ChannelID   int64
	ContactID   int64
	MessageID   int64
	ProviderRef string
}

// Router selects a channel for each send, invokes the adapter, records the
// outcome and fails over on transient errors.
type Router struct {
	log logx.Logger
	st  store.Store
	reg *channel.Registry
	now func() time.Time
}

func New(st store.Store, reg *channel.Registry, log logx.Logger) *Router {
	return &Router{
		log: log.With(logx.String("component", "router")),
		st:  st,
		reg: reg,
		now: time.Now,
	}
}

// Send routes one message. Selection order: preferred kind when available,
// then direct over session, then first by registration order. On a transient
// failure the selected channel is blocked, one standby is promoted and
// selection is retried exactly once.
//
// Send blocks for the duration of the transport call; no shared lock is held
// across it.
func (r *Router) Send(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Result{}, ErrEmptyMessage
	}
	if req.Sender == "" {
		req.Sender = store.SenderOperator
	}

	id, ok := r.selectChannel(req.PreferredKind)
	if !ok {
		return Result{}, channel.ErrNoChannelAvailable
	}

	ref, err := r.attempt(ctx, id, req)
	if err != nil {
		if !channel.IsTransient(err) {
			// Address-level rejection: surface verbatim, no failover.
			return Result{}, err
		}
		r.log.Warn("send failed, failing over",
			logx.Int64("channel_id", id), logx.Err(err))
		_ = r.reg.MarkBlocked(ctx, id)
		r.reg.PromoteStandbyToActive(ctx)

		id, ok = r.selectChannel(req.PreferredKind)
		if !ok {
			return Result{}, channel.ErrNoChannelAvailable
		}
		ref, err = r.attempt(ctx, id, req)
		if err != nil {
			if channel.IsTransient(err) {
				_ = r.reg.MarkBlocked(ctx, id)
			}
			return Result{}, err
		}
	}

	return r.recordSuccess(ctx, id, ref, req)
}

func (r *Router) selectChannel(preferred store.ChannelKind) (int64, bool) {
	if preferred != "" {
		if ids := r.reg.ListActive(preferred); len(ids) > 0 {
			return ids[0], true
		}
	}
	// Direct channels are cheaper and more reliable; prefer them.
	if ids := r.reg.ListActive(store.KindDirect); len(ids) > 0 {
		return ids[0], true
	}
	if ids := r.reg.ListActive(""); len(ids) > 0 {
		return ids[0], true
	}
	return 0, false
}

func (r *Router) attempt(ctx context.Context, id int64, req Request) (string, error) {
	ad, err := r.reg.AdapterOf(id)
	if err != nil {
		return "", err
	}
	return ad.Send(ctx, req.Address, req.Text)
}

func (r *Router) recordSuccess(ctx context.Context, id int64, providerRef string, req Request) (Result, error) {
	_ = r.reg.RecordUsage(ctx, id)

	now := r.now().UTC()
	contact, err := r.findOrCreateContact(ctx, req.Address)
	if err != nil {
		return Result{}, err
	}

	msg := &store.Message{
		ContactID:   contact.ID,
		ChannelID:   id,
		Sender:      req.Sender,
		Body:        req.Text,
		Status:      store.MessageSent,
		ProviderRef: providerRef,
		Timestamp:   now,
	}
	if err := r.st.AppendMessage(ctx, msg); err != nil {
		return Result{}, err
	}

	contact.LastInteraction = now
	if err := r.st.UpdateContact(ctx, contact); err != nil {
		r.log.Warn("contact touch failed", logx.Int64("contact_id", contact.ID), logx.Err(err))
	}

	r.log.Debug("message sent",
		logx.Int64("channel_id", id),
		logx.Int64("contact_id", contact.ID),
		logx.String("provider_ref", providerRef))

	return Result{
		ChannelID:   id,
		ContactID:   contact.ID,
		MessageID:   msg.ID,
		ProviderRef: providerRef,
	}, nil
}

func (r *Router) findOrCreateContact(ctx context.Context, address string) (*store.Contact, error) {
	c, err := r.st.ContactByAddress(ctx, address)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	c = &store.Contact{
		Name:    placeholderName(address),
		Address: address,
		Tag:     store.TagColdLead,
	}
	if err := r.st.CreateContact(ctx, c); err != nil {
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

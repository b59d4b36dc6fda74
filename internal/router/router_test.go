package router

import (
	"context"
	"errors"
	"testing"

	"waroute/internal/channel"
	"waroute/internal/store"
	"waroute/pkg/logx"
)

type scriptedAdapter struct {
	kind      store.ChannelKind
	connected bool
	refs      []string
	errs      []error
	sends     int
}

func (a *scriptedAdapter) Kind() store.ChannelKind       { return a.kind }
func (a *scriptedAdapter) Connect(context.Context) error { a.connected = true; return nil }

func (a *scriptedAdapter) Disconnect(context.Context) error {
	a.connected = false
	return nil
}

func (a *scriptedAdapter) Connected() bool { return a.connected }

func (a *scriptedAdapter) Send(context.Context, string, string) (string, error) {
	i := a.sends
	a.sends++
	var err error
	if i < len(a.errs) {
		err = a.errs[i]
	}
	if err != nil {
		return "", err
	}
	ref := "ref"
	if i < len(a.refs) {
		ref = a.refs[i]
	}
	return ref, nil
}

func transientErr() error {
	return &channel.SendError{Kind: channel.SendTimeout, Err: errors.New("slow")}
}

func rejectedErr() error {
	return &channel.SendError{Kind: channel.SendRejected, Err: errors.New("bad address")}
}

func setup(t *testing.T) (*Router, *channel.Registry, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	reg := channel.NewRegistry(st, logx.Nop())
	return New(st, reg, logx.Nop()), reg, st
}

func TestSendNoChannelAvailable(t *testing.T) {
	r, _, _ := setup(t)
	_, err := r.Send(context.Background(), Request{Address: "100", Text: "hi"})
	if !errors.Is(err, channel.ErrNoChannelAvailable) {
		t.Fatalf("got %v", err)
	}
}

func TestSendEmptyText(t *testing.T) {
	r, _, _ := setup(t)
	_, err := r.Send(context.Background(), Request{Address: "100", Text: "   "})
	if !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("got %v", err)
	}
}

func TestSendPrefersDirectAndIsDeterministic(t *testing.T) {
	r, reg, _ := setup(t)
	ctx := context.Background()

	sess := &scriptedAdapter{kind: store.KindSession, connected: true}
	direct1 := &scriptedAdapter{kind: store.KindDirect, connected: true}
	direct2 := &scriptedAdapter{kind: store.KindDirect, connected: true}

	if _, err := reg.Register(ctx, store.Channel{Address: "s"}, sess); err != nil {
		t.Fatalf("Register: %v", err)
	}
	d1, _ := reg.Register(ctx, store.Channel{Address: "d1"}, direct1)
	if _, err := reg.Register(ctx, store.Channel{Address: "d2"}, direct2); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for i := 0; i < 3; i++ {
		res, err := r.Send(ctx, Request{Address: "100", Text: "hi"})
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		if res.ChannelID != d1 {
			t.Fatalf("send %d used channel %d, want %d", i, res.ChannelID, d1)
		}
	}
	if sess.sends != 0 || direct2.sends != 0 {
		t.Fatalf("only the first direct channel should carry traffic")
	}
}

func TestSendPreferredKindWins(t *testing.T) {
	r, reg, _ := setup(t)
	ctx := context.Background()

	direct := &scriptedAdapter{kind: store.KindDirect, connected: true}
	sess := &scriptedAdapter{kind: store.KindSession, connected: true}
	reg.Register(ctx, store.Channel{Address: "d"}, direct)
	sid, _ := reg.Register(ctx, store.Channel{Address: "s"}, sess)

	res, err := r.Send(ctx, Request{Address: "100", Text: "hi", PreferredKind: store.KindSession})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.ChannelID != sid {
		t.Fatalf("used channel %d, want session %d", res.ChannelID, sid)
	}
}

func TestSendFailsOverOnce(t *testing.T) {
	r, reg, st := setup(t)
	ctx := context.Background()

	failing := &scriptedAdapter{kind: store.KindDirect, connected: true, errs: []error{transientErr()}}
	backup := &scriptedAdapter{kind: store.KindSession}

	failID, _ := reg.Register(ctx, store.Channel{Address: "d"}, failing)
	backupID, _ := reg.Register(ctx, store.Channel{Address: "s"}, backup)

	res, err := r.Send(ctx, Request{Address: "100", Text: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.ChannelID != backupID {
		t.Fatalf("failover used channel %d, want %d", res.ChannelID, backupID)
	}

	ch, _ := reg.Channel(failID)
	if ch.Status != store.ChannelBlocked {
		t.Fatalf("failed channel must be blocked, got %s", ch.Status)
	}
	ch, _ = reg.Channel(backupID)
	if ch.Status != store.ChannelActive {
		t.Fatalf("promoted channel must be active, got %s", ch.Status)
	}

	// Exactly one message row, on the surviving channel.
	contact, err := st.ContactByAddress(ctx, "100")
	if err != nil {
		t.Fatalf("ContactByAddress: %v", err)
	}
	msgs, _ := st.Messages(ctx, contact.ID, store.MessageFilter{})
	if len(msgs) != 1 || msgs[0].ChannelID != backupID {
		t.Fatalf("unexpected history: %d messages", len(msgs))
	}
}

func TestSendSecondTransientFailureSurfaces(t *testing.T) {
	r, reg, _ := setup(t)
	ctx := context.Background()

	a := &scriptedAdapter{kind: store.KindDirect, connected: true, errs: []error{transientErr()}}
	b := &scriptedAdapter{kind: store.KindSession, errs: []error{transientErr()}}
	aID, _ := reg.Register(ctx, store.Channel{Address: "a"}, a)
	bID, _ := reg.Register(ctx, store.Channel{Address: "b"}, b)

	_, err := r.Send(ctx, Request{Address: "100", Text: "hi"})
	var se *channel.SendError
	if !errors.As(err, &se) {
		t.Fatalf("expected SendError, got %v", err)
	}
	for _, id := range []int64{aID, bID} {
		ch, _ := reg.Channel(id)
		if ch.Status != store.ChannelBlocked {
			t.Fatalf("channel %d status %s, want blocked", id, ch.Status)
		}
	}
}

func TestSendRejectedDoesNotFailOver(t *testing.T) {
	r, reg, _ := setup(t)
	ctx := context.Background()

	a := &scriptedAdapter{kind: store.KindDirect, connected: true, errs: []error{rejectedErr()}}
	backup := &scriptedAdapter{kind: store.KindSession}
	aID, _ := reg.Register(ctx, store.Channel{Address: "a"}, a)
	reg.Register(ctx, store.Channel{Address: "b"}, backup)

	_, err := r.Send(ctx, Request{Address: "bad", Text: "hi"})
	var se *channel.SendError
	if !errors.As(err, &se) || se.Kind != channel.SendRejected {
		t.Fatalf("got %v", err)
	}
	if backup.sends != 0 {
		t.Fatalf("rejected sends must not fail over")
	}
	ch, _ := reg.Channel(aID)
	if ch.Status != store.ChannelActive {
		t.Fatalf("rejection must not block the channel, got %s", ch.Status)
	}
}

func TestSendCreatesContactAndTouchesInteraction(t *testing.T) {
	r, reg, st := setup(t)
	ctx := context.Background()

	reg.Register(ctx, store.Channel{Address: "d"}, &scriptedAdapter{kind: store.KindDirect, connected: true, refs: []string{"wamid.1"}})

	res, err := r.Send(ctx, Request{Address: "6281234", Text: "hi", Sender: store.SenderAutomation})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	c, err := st.ContactByID(ctx, res.ContactID)
	if err != nil {
		t.Fatalf("ContactByID: %v", err)
	}
	if c.Tag != store.TagColdLead {
		t.Fatalf("new contact tag = %s", c.Tag)
	}
	if c.Name != "contact-1234" {
		t.Fatalf("placeholder name = %q", c.Name)
	}
	if c.LastInteraction.IsZero() {
		t.Fatalf("last interaction not touched")
	}
	msgs, _ := st.Messages(ctx, c.ID, store.MessageFilter{})
	if len(msgs) != 1 || msgs[0].Sender != store.SenderAutomation || msgs[0].ProviderRef != "wamid.1" {
		t.Fatalf("unexpected message row: %+v", msgs[0])
	}
}

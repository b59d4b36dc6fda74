package channel

import (
	"context"
	"sync"
	"time"

	"waroute/internal/store"
	"waroute/pkg/logx"
)

// Registry owns the channel pool: lifecycle status, usage counters and the
// failover promotion policy. It is the single source of truth for which
// channels are active; callers never mutate a Channel directly.
//
// Selection and promotion order is registration order, which keeps routing
// deterministic.
type Registry struct {
	log logx.Logger
	st  store.Store
	now func() time.Time

	mu      sync.Mutex
	entries []*entry
	byID    map[int64]*entry
}

type entry struct {
	ch      store.Channel
	adapter Adapter
}

func NewRegistry(st store.Store, log logx.Logger) *Registry {
	return &Registry{
		log:  log.With(logx.String("component", "registry")),
		st:   st,
		now:  time.Now,
		byID: map[int64]*entry{},
	}
}

// Register adds a channel to the pool. A zero ID creates the store record.
// The channel starts Standby, or Active when the adapter already reports a
// live connection.
func (r *Registry) Register(ctx context.Context, ch store.Channel, ad Adapter) (int64, error) {
	if ch.Kind == "" {
		ch.Kind = ad.Kind()
	}
	ch.Status = store.ChannelStandby
	if ad.Connected() {
		ch.Status = store.ChannelActive
	}
	if ch.ID == 0 {
		if err := r.st.CreateChannel(ctx, &ch); err != nil {
			return 0, err
		}
	} else if err := r.st.UpdateChannel(ctx, &ch); err != nil {
		return 0, err
	}

	r.mu.Lock()
	e := &entry{ch: ch, adapter: ad}
	r.entries = append(r.entries, e)
	r.byID[ch.ID] = e
	r.mu.Unlock()

	r.log.Info("channel registered",
		logx.Int64("channel_id", ch.ID),
		logx.String("kind", string(ch.Kind)),
		logx.String("status", string(ch.Status)))
	return ch.ID, nil
}

// ListActive returns active channel ids in registration order, optionally
// filtered by kind (empty kind = any).
func (r *Registry) ListActive(kind store.ChannelKind) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, 0, len(r.entries))
	for _, e := range r.entries {
		if e.ch.Status != store.ChannelActive {
			continue
		}
		if kind != "" && e.ch.Kind != kind {
			continue
		}
		out = append(out, e.ch.ID)
	}
	return out
}

func (r *Registry) Channel(id int64) (store.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return store.Channel{}, ErrChannelNotFound
	}
	return e.ch, nil
}

func (r *Registry) AdapterOf(id int64) (Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, ErrChannelNotFound
	}
	return e.adapter, nil
}

// MarkActive, MarkBlocked and MarkStandby are idempotent; repeating a
// transition is a no-op, not an error.
func (r *Registry) MarkActive(ctx context.Context, id int64) error {
	return r.setStatus(ctx, id, store.ChannelActive)
}

func (r *Registry) MarkBlocked(ctx context.Context, id int64) error {
	return r.setStatus(ctx, id, store.ChannelBlocked)
}

func (r *Registry) MarkStandby(ctx context.Context, id int64) error {
	return r.setStatus(ctx, id, store.ChannelStandby)
}

func (r *Registry) setStatus(ctx context.Context, id int64, status store.ChannelStatus) error {
	r.mu.Lock()
	e, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return ErrChannelNotFound
	}
	if e.ch.Status == status {
		r.mu.Unlock()
		return nil
	}
	prev := e.ch.Status
	e.ch.Status = status
	// Persist under the lock so store rows follow transition order.
	r.persist(ctx, e.ch)
	r.mu.Unlock()

	r.log.Info("channel status changed",
		logx.Int64("channel_id", id),
		logx.String("from", string(prev)),
		logx.String("to", string(status)))
	return nil
}

// PromoteStandbyToActive activates the first standby channel (registration
// order) whose adapter connects. Used by failover.
func (r *Registry) PromoteStandbyToActive(ctx context.Context) (int64, bool) {
	r.mu.Lock()
	standby := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.ch.Status == store.ChannelStandby {
			standby = append(standby, e)
		}
	}
	r.mu.Unlock()

	for _, e := range standby {
		ad := e.adapter
		// Connect can block (login, QR wait); never under the registry lock.
		if !ad.Connected() {
			if err := ad.Connect(ctx); err != nil {
				r.log.Warn("standby connect failed",
					logx.Int64("channel_id", e.ch.ID), logx.Err(err))
				continue
			}
		}
		if err := r.MarkActive(ctx, e.ch.ID); err != nil {
			continue
		}
		return e.ch.ID, true
	}
	return 0, false
}

// RecordUsage bumps the sent counter and last-active timestamp.
func (r *Registry) RecordUsage(ctx context.Context, id int64) error {
	r.mu.Lock()
	e, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return ErrChannelNotFound
	}
	e.ch.SentCount++
	e.ch.LastActive = r.now().UTC()
	r.persist(ctx, e.ch)
	r.mu.Unlock()
	return nil
}

// Restart moves a channel (typically Blocked) back through Standby and
// attempts a fresh connect. On success the channel is Active again; on
// failure it stays Standby and the error is returned.
func (r *Registry) Restart(ctx context.Context, id int64) error {
	ad, err := r.AdapterOf(id)
	if err != nil {
		return err
	}
	if err := r.MarkStandby(ctx, id); err != nil {
		return err
	}
	_ = ad.Disconnect(ctx)
	if err := ad.Connect(ctx); err != nil {
		return err
	}
	return r.MarkActive(ctx, id)
}

// Snapshot copies the pool state in registration order.
func (r *Registry) Snapshot() []store.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]store.Channel, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.ch)
	}
	return out
}

// CountActive reports how many channels are currently active.
func (r *Registry) CountActive() int {
	return len(r.ListActive(""))
}

func (r *Registry) persist(ctx context.Context, ch store.Channel) {
	if err := r.st.UpdateChannel(ctx, &ch); err != nil {
		r.log.Warn("channel persist failed", logx.Int64("channel_id", ch.ID), logx.Err(err))
	}
}

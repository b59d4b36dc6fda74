package inbound

import (
	"context"
	"sync"
	"time"

	"waroute/internal/store"
	"waroute/pkg/logx"
)

// InboundMessage is one message received from a contact, before storage.
type InboundMessage struct {
	Address string
	Name    string
	Body    string
	Kind    string // "text", "image", "document", "audio"
	At      time.Time
}

// StatusUpdate is a delivery receipt for a previously sent message.
type StatusUpdate struct {
	ProviderRef string
	Status      store.MessageStatus
	At          time.Time
}

// Event carries exactly one of its members.
type Event struct {
	Message *InboundMessage
	Status  *StatusUpdate
}

// Handler consumes one event. Handlers run on the publisher's goroutine via a
// per-handler queue; a slow handler drops events rather than blocking the
// producer.
type Handler func(ctx context.Context, ev Event)

type subscriber struct {
	name string
	ch   chan Event
}

// Dispatcher fans inbound events out to subscribed handlers. Publish never
// blocks; each subscriber has a bounded queue drained by its own goroutine.
type Dispatcher struct {
	log logx.Logger

	mu   sync.Mutex
	subs []*subscriber

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewDispatcher(log logx.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		log:    log.With(logx.String("component", "inbound")),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscribe registers a named handler. The name is only used in logs.
func (d *Dispatcher) Subscribe(name string, h Handler) {
	sub := &subscriber{name: name, ch: make(chan Event, 64)}
	d.mu.Lock()
	d.subs = append(d.subs, sub)
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-d.ctx.Done():
				return
			case ev := <-sub.ch:
				d.deliver(sub.name, h, ev)
			}
		}
	}()
}

func (d *Dispatcher) deliver(name string, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panicked",
				logx.String("handler", name), logx.Any("panic", r))
		}
	}()
	h(d.ctx, ev)
}

// Publish hands the event to every subscriber. A full queue drops the event
// for that subscriber with a warning; the producer is never blocked.
func (d *Dispatcher) Publish(ev Event) {
	d.mu.Lock()
	subs := d.subs
	d.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			d.log.Warn("subscriber queue full, event dropped",
				logx.String("handler", sub.name))
		}
	}
}

// Close stops delivery and waits for handler goroutines to drain.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

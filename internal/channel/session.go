package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"waroute/internal/store"
)

// LoginState is the session driver's authentication state.
type LoginState int

const (
	LoginUnknown LoginState = iota
	LoginQRCode             // waiting for the operator to scan
	LoggedIn
)

// DriverMessage is one inbound message observed by the driver.
type DriverMessage struct {
	From string
	Body string
	At   time.Time
}

// Driver abstracts the interactive automation surface (the browser mechanics
// themselves are out of scope; this is the narrow interface the session
// adapter drives).
type Driver interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error

	LoginState(ctx context.Context) (LoginState, error)
	QRCode(ctx context.Context) (string, error)

	OpenConversation(ctx context.Context, address string) error
	Type(ctx context.Context, text string) error
	// Submit sends the typed text and reports whether the "submitted" UI
	// signal was observed.
	Submit(ctx context.Context) (bool, error)

	UnreadMessages(ctx context.Context) ([]DriverMessage, error)
}

// SessionConfig tunes the interactive adapter's waits.
type SessionConfig struct {
	LoginWait  time.Duration // default 60s
	SubmitWait time.Duration // default 10s
	PollEvery  time.Duration // inbound monitor poll interval, default 5s
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.LoginWait <= 0 {
		c.LoginWait = 60 * time.Second
	}
	if c.SubmitWait <= 0 {
		c.SubmitWait = 10 * time.Second
	}
	if c.PollEvery <= 0 {
		c.PollEvery = 5 * time.Second
	}
	return c
}

// Session drives an interactive conversation surface through a Driver.
type Session struct {
	cfg    SessionConfig
	driver Driver

	mu       sync.Mutex
	loggedIn bool
}

func NewSession(cfg SessionConfig, driver Driver) *Session {
	return &Session{cfg: cfg.withDefaults(), driver: driver}
}

func (s *Session) Kind() store.ChannelKind { return store.KindSession }

// Connect opens the driver and waits up to LoginWait for an authenticated
// session. A pending QR code is not an error here; the channel simply stays
// standby until the code is scanned and Connect is retried.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.driver.Open(ctx); err != nil {
		return err
	}

	deadline := time.Now().Add(s.cfg.LoginWait)
	for {
		st, err := s.driver.LoginState(ctx)
		if err != nil {
			return err
		}
		if st == LoggedIn {
			s.mu.Lock()
			s.loggedIn = true
			s.mu.Unlock()
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("session login timed out")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	s.loggedIn = false
	s.mu.Unlock()
	return s.driver.Close(ctx)
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

// QRCode surfaces the pending login code, if any.
func (s *Session) QRCode(ctx context.Context) (string, error) {
	return s.driver.QRCode(ctx)
}

func (s *Session) Send(ctx context.Context, address, text string) (string, error) {
	if !s.Connected() {
		return "", sendErr(SendNotConnected, errors.New("session not logged in"))
	}

	if err := s.driver.OpenConversation(ctx, address); err != nil {
		// A conversation that cannot be opened is an address problem, not a
		// channel problem.
		return "", sendErr(SendRejected, fmt.Errorf("open conversation %s: %w", address, err))
	}
	if err := s.driver.Type(ctx, text); err != nil {
		return "", sendErr(SendUnknown, err)
	}

	subCtx, cancel := context.WithTimeout(ctx, s.cfg.SubmitWait)
	defer cancel()
	ok, err := s.driver.Submit(subCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", sendErr(SendTimeout, err)
		}
		return "", sendErr(SendUnknown, err)
	}
	if !ok {
		return "", sendErr(SendTimeout, errors.New("submit signal not observed"))
	}

	// The UI gives no provider id; mint a local reference so receipts and
	// history can still correlate.
	return "session:" + uuid.NewString(), nil
}

// Monitor polls the driver for unread inbound messages and hands them to
// publish until ctx is cancelled. It is resilient to driver errors: a failed
// poll is logged by the caller's wrapper and retried on the next tick.
func (s *Session) Monitor(ctx context.Context, publish func(DriverMessage)) error {
	t := time.NewTicker(s.cfg.PollEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if !s.Connected() {
			continue
		}
		msgs, err := s.driver.UnreadMessages(ctx)
		if err != nil {
			continue
		}
		for _, m := range msgs {
			publish(m)
		}
	}
}

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"waroute/internal/inbound"
	"waroute/internal/store"
	"waroute/pkg/logx"
)

// Config tunes the receiver.
type Config struct {
	Addr        string // default :8090
	VerifyToken string
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8090"
	}
	return c
}

// Server receives provider callbacks: the GET verification handshake and
// POSTed message/receipt notifications. Parsed events go to the dispatcher;
// the server itself never touches storage.
type Server struct {
	log  logx.Logger
	cfg  Config
	disp *inbound.Dispatcher
	srv  *http.Server
}

func NewServer(cfg Config, disp *inbound.Dispatcher, log logx.Logger) *Server {
	s := &Server{
		log:  log.With(logx.String("component", "webhook")),
		cfg:  cfg.withDefaults(),
		disp: disp,
	}
	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the HTTP surface. Exposed separately so tests can drive it
// with httptest without binding a port.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logRequests)
	r.Get("/webhook", s.handleVerify)
	r.Post("/webhook", s.handleNotify)
	return r
}

func (s *Server) Start() {
	go func() {
		s.log.Info("webhook listening", logx.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("webhook server failed", logx.Err(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Duration("took", time.Since(start)))
	})
}

// handleVerify answers the provider's subscription handshake: echo the
// challenge when mode and token match, 403 otherwise.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "subscribe" && token != "" && token == s.cfg.VerifyToken {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
		return
	}
	s.log.Warn("webhook verification rejected", logx.String("mode", mode))
	http.Error(w, "verification failed", http.StatusForbidden)
}

type notifyPayload struct {
	Entry []struct {
		Changes []struct {
			Field string       `json:"field"`
			Value notifyChange `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type notifyChange struct {
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []struct {
		From      string `json:"from"`
		ID        string `json:"id"`
		Timestamp string `json:"timestamp"`
		Type      string `json:"type"`
		Text      struct {
			Body string `json:"body"`
		} `json:"text"`
	} `json:"messages"`
	Statuses []struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	} `json:"statuses"`
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var payload notifyPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			s.publishChange(change.Value)
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) publishChange(v notifyChange) {
	names := map[string]string{}
	for _, c := range v.Contacts {
		names[c.WaID] = c.Profile.Name
	}

	for _, m := range v.Messages {
		s.disp.Publish(inbound.Event{Message: &inbound.InboundMessage{
			Address: m.From,
			Name:    names[m.From],
			Body:    messageBody(m.Type, m.Text.Body),
			Kind:    m.Type,
			At:      parseEpoch(m.Timestamp),
		}})
	}
	for _, st := range v.Statuses {
		status, ok := receiptStatus(st.Status)
		if !ok {
			s.log.Debug("unknown receipt status", logx.String("status", st.Status))
			continue
		}
		s.disp.Publish(inbound.Event{Status: &inbound.StatusUpdate{
			ProviderRef: st.ID,
			Status:      status,
			At:          parseEpoch(st.Timestamp),
		}})
	}
}

// messageBody maps non-text message types to bracketed placeholders so
// history stays text-only.
func messageBody(kind, text string) string {
	switch kind {
	case "", "text":
		return text
	case "image":
		return "[Image]"
	case "document":
		return "[Document]"
	case "audio":
		return "[Audio]"
	default:
		return "[" + kind + "]"
	}
}

func receiptStatus(s string) (store.MessageStatus, bool) {
	switch s {
	case "sent":
		return store.MessageSent, true
	case "delivered":
		return store.MessageDelivered, true
	case "read":
		return store.MessageRead, true
	}
	return "", false
}

func parseEpoch(s string) time.Time {
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil && sec > 0 {
		return time.Unix(sec, 0).UTC()
	}
	return time.Now().UTC()
}

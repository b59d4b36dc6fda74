package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"waroute/internal/inbound"
	"waroute/internal/store"
	"waroute/pkg/logx"
)

func TestVerifyHandshake(t *testing.T) {
	disp := inbound.NewDispatcher(logx.Nop())
	defer disp.Close()
	s := NewServer(Config{VerifyToken: "secret"}, disp, logx.Nop())
	router := s.Router()

	cases := []struct {
		name     string
		query    string
		wantCode int
		wantBody string
	}{
		{"accepted", "hub.mode=subscribe&hub.verify_token=secret&hub.challenge=12345", http.StatusOK, "12345"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=secret&hub.challenge=12345", http.StatusForbidden, ""},
		{"empty token", "hub.mode=subscribe&hub.verify_token=&hub.challenge=12345", http.StatusForbidden, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/webhook?"+tc.query, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tc.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tc.wantCode)
			}
			if tc.wantBody != "" && rec.Body.String() != tc.wantBody {
				t.Fatalf("body = %q, want challenge echo", rec.Body.String())
			}
		})
	}
}

func TestNotifyParsesMessagesAndStatuses(t *testing.T) {
	disp := inbound.NewDispatcher(logx.Nop())
	defer disp.Close()

	var mu sync.Mutex
	var events []inbound.Event
	got := make(chan struct{}, 16)
	disp.Subscribe("capture", func(_ context.Context, ev inbound.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		got <- struct{}{}
	})

	s := NewServer(Config{VerifyToken: "secret"}, disp, logx.Nop())
	router := s.Router()

	payload := `{
	  "entry": [{
	    "changes": [{
	      "field": "messages",
	      "value": {
	        "contacts": [{"wa_id": "628111", "profile": {"name": "Asha"}}],
	        "messages": [
	          {"from": "628111", "id": "wamid.A", "timestamp": "1767225600", "type": "text", "text": {"body": "hello"}},
	          {"from": "628111", "id": "wamid.B", "timestamp": "1767225601", "type": "image"}
	        ],
	        "statuses": [
	          {"id": "wamid.OUT", "status": "delivered", "timestamp": "1767225602"},
	          {"id": "wamid.OUT2", "status": "weird", "timestamp": "1767225603"}
	        ]
	      }
	    }, {
	      "field": "other",
	      "value": {"messages": [{"from": "999", "type": "text", "text": {"body": "ignored"}}]}
	    }]
	  }]
	}`

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}

	for i := 0; i < 3; i++ {
		select {
		case <-got:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3 (unknown status and wrong field dropped)", len(events))
	}

	var msgs []*inbound.InboundMessage
	var sts []*inbound.StatusUpdate
	for _, ev := range events {
		if ev.Message != nil {
			msgs = append(msgs, ev.Message)
		}
		if ev.Status != nil {
			sts = append(sts, ev.Status)
		}
	}
	if len(msgs) != 2 || len(sts) != 1 {
		t.Fatalf("msgs = %d, statuses = %d", len(msgs), len(sts))
	}
	if msgs[0].Name != "Asha" || msgs[0].Body != "hello" || msgs[0].Kind != "text" {
		t.Fatalf("text message = %+v", msgs[0])
	}
	if msgs[0].At.Unix() != 1767225600 {
		t.Fatalf("timestamp = %v", msgs[0].At)
	}
	if msgs[1].Body != "[Image]" {
		t.Fatalf("image body = %q, want placeholder", msgs[1].Body)
	}
	if sts[0].ProviderRef != "wamid.OUT" || sts[0].Status != store.MessageDelivered {
		t.Fatalf("status = %+v", sts[0])
	}
}

func TestNotifyBadPayload(t *testing.T) {
	disp := inbound.NewDispatcher(logx.Nop())
	defer disp.Close()
	s := NewServer(Config{}, disp, logx.Nop())

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", rec.Code)
	}
}

func TestMessageBodyPlaceholders(t *testing.T) {
	cases := []struct {
		kind, text, want string
	}{
		{"text", "hi", "hi"},
		{"", "hi", "hi"},
		{"image", "", "[Image]"},
		{"document", "", "[Document]"},
		{"audio", "", "[Audio]"},
		{"sticker", "", "[sticker]"},
	}
	for _, tc := range cases {
		if got := messageBody(tc.kind, tc.text); got != tc.want {
			t.Fatalf("messageBody(%q) = %q, want %q", tc.kind, got, tc.want)
		}
	}
}

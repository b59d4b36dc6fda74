package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"waroute/pkg/logx"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

const validJSON = `{
  "logging": {"level": "debug"},
  "storage": {"driver": "sqlite", "path": "/tmp/waroute.db", "busy_timeout": "5s"},
  "channels": [
    {"kind": "direct", "address": "+62811", "direct": {"phone_number_id": "12345", "access_token": "tok", "timeout": "10s"}},
    {"kind": "session", "address": "+62822"}
  ],
  "webhook": {"enabled": true, "addr": ":9000", "verify_token": "secret"},
  "scheduler": {"tick": "10s", "health_at": "08:30"},
  "automation": {"auto_reply_enabled": false, "bulk_interval": "1s"}
}`

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", validJSON)
	cfg, err := NewManager(path, logx.Nop()).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
	if len(cfg.Channels) != 2 || cfg.Channels[0].Direct.PhoneNumberID != "12345" {
		t.Fatalf("channels = %+v", cfg.Channels)
	}
	if !cfg.Webhook.Enabled || cfg.Webhook.VerifyToken != "secret" {
		t.Fatalf("webhook = %+v", cfg.Webhook)
	}
	if got := BoolOr(cfg.Automation.AutoReplyEnabled, true); got {
		t.Fatalf("auto_reply_enabled should be false")
	}
	if got := BoolOr(cfg.Automation.FollowUpEnabled, true); !got {
		t.Fatalf("unset toggle must default true")
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
logging:
  level: info
storage:
  driver: memory
channels:
  - kind: direct
    address: "+62811"
    direct:
      phone_number_id: "12345"
      access_token: tok
scheduler:
  tick: 45s
`)
	cfg, err := NewManager(path, logx.Nop()).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tick, err := ParseDurationOrDefault("scheduler.tick", cfg.Scheduler.Tick, 30*time.Second)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if tick != 45*time.Second {
		t.Fatalf("tick = %v", tick)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "config.json", `{"logging": {"level": "info", "colour": true}}`)
	if _, err := NewManager(path, logx.Nop()).Load(); err == nil {
		t.Fatalf("unknown field accepted")
	}
}

func TestLoadRejectsTrailingData(t *testing.T) {
	path := writeFile(t, "config.json", `{"logging": {"level": "info"}}{"extra": 1}`)
	if _, err := NewManager(path, logx.Nop()).Load(); err == nil {
		t.Fatalf("trailing document accepted")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"direct without token", `{"channels": [{"kind": "direct", "address": "a", "direct": {"phone_number_id": "1", "access_token": ""}}]}`},
		{"direct without section", `{"channels": [{"kind": "direct", "address": "a"}]}`},
		{"unknown kind", `{"channels": [{"kind": "smoke", "address": "a"}]}`},
		{"webhook without token", `{"webhook": {"enabled": true}}`},
		{"bad health time", `{"scheduler": {"health_at": "25:99"}}`},
		{"bad duration", `{"scheduler": {"tick": "soon"}}`},
		{"negative duration", `{"automation": {"offer_delay": "-5s"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, "config.json", tc.content)
			if _, err := NewManager(path, logx.Nop()).Load(); err == nil {
				t.Fatalf("invalid config accepted")
			}
		})
	}
}

func TestReloadCommitsOnlyValidConfig(t *testing.T) {
	path := writeFile(t, "config.json", validJSON)
	m := NewManager(path, logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	applied := make(chan *Config, 1)
	m.OnChange(func(cfg *Config) { applied <- cfg })

	// Broken rewrite must be rejected, keeping the old config.
	if err := os.WriteFile(path, []byte(`{"logging": {"level"`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	m.reload()
	if m.Get().Logging.Level != "debug" {
		t.Fatalf("broken reload committed")
	}

	good := `{"logging": {"level": "warn"}}`
	if err := os.WriteFile(path, []byte(good), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	m.reload()
	select {
	case cfg := <-applied:
		if cfg.Logging.Level != "warn" {
			t.Fatalf("applied level = %q", cfg.Logging.Level)
		}
	default:
		t.Fatalf("OnChange not invoked")
	}

	// Same content again: hash short-circuit, no second publish.
	m.reload()
	select {
	case <-applied:
		t.Fatalf("unchanged config republished")
	default:
	}
}

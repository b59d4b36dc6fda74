package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the full daemon configuration. Decoding is strict: unknown fields
// are rejected so typos surface at load time instead of silently defaulting.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Channels   []ChannelConfig  `json:"channels"`
	Webhook    WebhookConfig    `json:"webhook"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Automation AutomationConfig `json:"automation"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console *bool  `json:"console,omitempty"`
	File    string `json:"file,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver"` // "memory" or "sqlite"
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// ChannelConfig declares one channel. Kind selects which of the nested
// sections applies.
type ChannelConfig struct {
	Kind    string `json:"kind"` // "direct" or "session"
	Address string `json:"address"`

	Direct  *DirectChannelConfig  `json:"direct,omitempty"`
	Session *SessionChannelConfig `json:"session,omitempty"`
}

type DirectChannelConfig struct {
	BaseURL       string `json:"base_url,omitempty"`
	APIVersion    string `json:"api_version,omitempty"`
	PhoneNumberID string `json:"phone_number_id"`
	AccessToken   string `json:"access_token"`
	Timeout       string `json:"timeout,omitempty"`
}

type SessionChannelConfig struct {
	LoginWait  string `json:"login_wait,omitempty"`
	SubmitWait string `json:"submit_wait,omitempty"`
	PollEvery  string `json:"poll_every,omitempty"`
}

type WebhookConfig struct {
	Enabled     bool   `json:"enabled"`
	Addr        string `json:"addr,omitempty"`
	VerifyToken string `json:"verify_token,omitempty"`
}

type SchedulerConfig struct {
	Tick        string `json:"tick,omitempty"`
	AutoStart   *bool  `json:"auto_start,omitempty"`
	HealthAt    string `json:"health_at,omitempty"` // "HH:MM", default 09:00
	AutoReply   string `json:"auto_reply_every,omitempty"`
	LeadScoring string `json:"lead_scoring_every,omitempty"`
	FollowUp    string `json:"follow_up_every,omitempty"`
}

type AutomationConfig struct {
	AutoReplyEnabled   *bool  `json:"auto_reply_enabled,omitempty"`
	FollowUpEnabled    *bool  `json:"follow_up_enabled,omitempty"`
	LeadScoringEnabled *bool  `json:"lead_scoring_enabled,omitempty"`
	FollowUpIdle       string `json:"follow_up_idle,omitempty"`
	BulkInterval       string `json:"bulk_interval,omitempty"`
	OfferDelay         string `json:"offer_delay,omitempty"`
}

// Validate checks cross-field constraints that strict decoding cannot.
func (c *Config) Validate() error {
	for i, ch := range c.Channels {
		switch strings.ToLower(ch.Kind) {
		case "direct":
			if ch.Direct == nil {
				return fmt.Errorf("channels[%d]: direct section is required", i)
			}
			if strings.TrimSpace(ch.Direct.AccessToken) == "" || strings.TrimSpace(ch.Direct.PhoneNumberID) == "" {
				return fmt.Errorf("channels[%d]: access_token and phone_number_id are required", i)
			}
		case "session":
			// Session channels work with all-default waits.
		default:
			return fmt.Errorf("channels[%d]: unknown kind %q", i, ch.Kind)
		}
	}
	if c.Webhook.Enabled && strings.TrimSpace(c.Webhook.VerifyToken) == "" {
		return fmt.Errorf("webhook: verify_token is required when enabled")
	}
	if c.Scheduler.HealthAt != "" {
		if _, _, err := parseHHMM(c.Scheduler.HealthAt); err != nil {
			return fmt.Errorf("scheduler.health_at: %w", err)
		}
	}
	durationFields := []struct{ path, raw string }{
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"scheduler.tick", c.Scheduler.Tick},
		{"scheduler.auto_reply_every", c.Scheduler.AutoReply},
		{"scheduler.lead_scoring_every", c.Scheduler.LeadScoring},
		{"scheduler.follow_up_every", c.Scheduler.FollowUp},
		{"automation.follow_up_idle", c.Automation.FollowUpIdle},
		{"automation.bulk_interval", c.Automation.BulkInterval},
		{"automation.offer_delay", c.Automation.OfferDelay},
	}
	for _, f := range durationFields {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}

// BoolOr resolves an optional bool with a default.
func BoolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func parseHHMM(s string) (int, int, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("time %q out of range", s)
	}
	return h, m, nil
}

// ParseDurationField parses a Go duration string config value. Empty means
// zero (use the default downstream).
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for the
// zero/empty case.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

package automation

import "sync"

// SettingsView is a point-in-time copy of the automation toggles.
type SettingsView struct {
	AutoReply   bool `json:"auto_reply_enabled"`
	FollowUp    bool `json:"follow_up_enabled"`
	LeadScoring bool `json:"lead_scoring_enabled"`
	Running     bool `json:"is_running"`
}

// Settings holds the automation toggles. Jobs read a snapshot at the start of
// each run, so a toggle flipped mid-run applies from the next run on.
type Settings struct {
	mu sync.Mutex
	v  SettingsView
}

// NewSettings starts with every feature enabled and the engine stopped.
func NewSettings() *Settings {
	return &Settings{v: SettingsView{AutoReply: true, FollowUp: true, LeadScoring: true}}
}

func (s *Settings) View() SettingsView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v
}

// Apply replaces the feature toggles, leaving the running flag alone.
func (s *Settings) Apply(autoReply, followUp, leadScoring bool) {
	s.mu.Lock()
	s.v.AutoReply = autoReply
	s.v.FollowUp = followUp
	s.v.LeadScoring = leadScoring
	s.mu.Unlock()
}

func (s *Settings) SetRunning(running bool) {
	s.mu.Lock()
	s.v.Running = running
	s.mu.Unlock()
}

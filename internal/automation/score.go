package automation

import (
	"context"
	"strings"
	"time"

	"waroute/internal/store"
)

// LeadScorer computes a contact's engagement score from their history.
// Scores are capped at 10; tag thresholds live in tagForScore.
type LeadScorer interface {
	Score(ctx context.Context, c *store.Contact, msgs []*store.Message, now time.Time) int
}

var (
	highIntentKeywords   = []string{"buy", "purchase", "order", "urgent", "immediately", "asap"}
	mediumIntentKeywords = []string{"interested", "want", "need", "looking for", "require"}
	lowIntentKeywords    = []string{"maybe", "thinking", "considering", "future"}
)

// HeuristicScorer weighs message volume, intent keywords in the contact's own
// messages, and recency of the last interaction.
type HeuristicScorer struct{}

func NewHeuristicScorer() *HeuristicScorer { return &HeuristicScorer{} }

func (s *HeuristicScorer) Score(_ context.Context, _ *store.Contact, msgs []*store.Message, now time.Time) int {
	score := 1

	switch n := len(msgs); {
	case n >= 5:
		score += 3
	case n >= 3:
		score += 2
	case n >= 1:
		score += 1
	}

	var b strings.Builder
	var last time.Time
	for _, m := range msgs {
		if m.Sender == store.SenderContact {
			b.WriteString(strings.ToLower(m.Body))
			b.WriteByte(' ')
		}
		if m.Timestamp.After(last) {
			last = m.Timestamp
		}
	}
	text := b.String()

	for _, kw := range highIntentKeywords {
		if strings.Contains(text, kw) {
			score += 3
		}
	}
	for _, kw := range mediumIntentKeywords {
		if strings.Contains(text, kw) {
			score += 2
		}
	}
	for _, kw := range lowIntentKeywords {
		if strings.Contains(text, kw) {
			score++
		}
	}

	if !last.IsZero() {
		switch age := now.Sub(last); {
		case age <= 24*time.Hour:
			score += 2
		case age <= 7*24*time.Hour:
			score++
		}
	}

	if score > 10 {
		score = 10
	}
	return score
}

// tagForScore maps a score onto the funnel tags. Registered is sticky: once a
// contact converts, recomputed scores never move them back into the funnel.
func tagForScore(score int, current store.Tag) store.Tag {
	if current == store.TagRegistered {
		return store.TagRegistered
	}
	switch {
	case score >= 8:
		return store.TagHotLead
	case score >= 5:
		return store.TagWarmLead
	default:
		return store.TagColdLead
	}
}

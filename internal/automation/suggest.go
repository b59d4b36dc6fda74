package automation

import (
	"context"
	"math/rand"
	"regexp"

	"waroute/internal/store"
)

// Suggestion is a candidate reply with the engine's confidence in it.
// Callers gate on Confidence before sending.
type Suggestion struct {
	Text       string
	Category   string
	Confidence float64
}

// ReplySuggester proposes a reply for one inbound message.
type ReplySuggester interface {
	Suggest(ctx context.Context, text string, c *store.Contact) Suggestion
}

type pattern struct {
	category   string
	re         *regexp.Regexp
	replies    []string
	confidence float64
}

// PatternSuggester matches inbound text against a fixed keyword table and
// answers from canned reply pools. Unmatched text gets a generic
// acknowledgement at low confidence so the auto-reply gate filters it out.
type PatternSuggester struct {
	patterns []pattern
	fallback []string
}

func NewPatternSuggester() *PatternSuggester {
	return &PatternSuggester{
		patterns: []pattern{
			{
				category:   "greeting",
				re:         regexp.MustCompile(`(?i)\b(hello|hi|hey|good morning|good afternoon|good evening)\b`),
				confidence: 0.85,
				replies: []string{
					"Hello! Thank you for contacting us. How can I help you today?",
					"Hi there! What can I assist you with?",
					"Hello! Thanks for reaching out. How may I help you?",
				},
			},
			{
				category:   "pricing",
				re:         regexp.MustCompile(`(?i)\b(price|cost|rate|pricing|expensive|cheap|budget)\b`),
				confidence: 0.85,
				replies: []string{
					"I understand you're interested in pricing. Let me connect you with our sales team for details.",
					"For pricing details our sales representative will contact you shortly. Can you share your requirements?",
					"Pricing varies with your specific needs. Would you like me to schedule a call with our sales team?",
				},
			},
			{
				category:   "catalogue",
				re:         regexp.MustCompile(`(?i)\b(catalogue|catalog|brochure|products|instruments|equipment)\b`),
				confidence: 0.85,
				replies: []string{
					"I can send you our latest product catalogue. Would you like the PDF version?",
					"Our full catalogue is available. Shall I share it with you?",
					"We carry an extensive product range. Let me send you our catalogue.",
				},
			},
			{
				category:   "interest",
				re:         regexp.MustCompile(`(?i)\b(interested|want|need|require|looking for)\b`),
				confidence: 0.85,
				replies: []string{
					"That's great! I'd love to help you find the right products.",
					"Wonderful! Can you tell me more about your specific requirements?",
					"Perfect! Let me know what you're looking for.",
				},
			},
			{
				category:   "quality",
				re:         regexp.MustCompile(`(?i)\b(quality|standard|certification|ISO|warranty)\b`),
				confidence: 0.85,
				replies: []string{
					"All our products meet international quality standards and certifications.",
					"Quality is our top priority. Everything we ship is manufactured to the highest standards.",
					"We maintain strict quality control and all products carry international certification.",
				},
			},
		},
		fallback: []string{
			"Thank you for your message. Our team will get back to you shortly.",
			"I appreciate your inquiry. Let me connect you with the right person to assist you.",
			"Thanks for reaching out! How can we help you?",
		},
	}
}

func (p *PatternSuggester) Suggest(_ context.Context, text string, _ *store.Contact) Suggestion {
	for _, pat := range p.patterns {
		if pat.re.MatchString(text) {
			return Suggestion{
				Text:       pick(pat.replies),
				Category:   pat.category,
				Confidence: pat.confidence,
			}
		}
	}
	return Suggestion{Text: pick(p.fallback), Category: "general", Confidence: 0.6}
}

func pick(options []string) string {
	return options[rand.Intn(len(options))]
}

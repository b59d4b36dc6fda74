package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"waroute/internal/router"
	"waroute/internal/scheduler"
	"waroute/internal/store"
	"waroute/pkg/logx"
)

// MessageSender is the outbound surface the coordinator drives. Satisfied by
// *router.Router.
type MessageSender interface {
	Send(ctx context.Context, req router.Request) (router.Result, error)
}

// ChannelPool reports channel availability for health checks. Satisfied by
// *channel.Registry.
type ChannelPool interface {
	CountActive() int
}

// Delayer schedules cancellable one-off tasks. Satisfied by
// *scheduler.Service.
type Delayer interface {
	Once(name string, delay time.Duration, job scheduler.Job) scheduler.Handle
}

type Config struct {
	AutoReplyWindow time.Duration // default 5m
	FollowUpIdle    time.Duration // default 72h
	FollowUpCap     int           // follow-ups per run, default 5
	BulkInterval    time.Duration // min spacing between bulk sends, default 2s
	OfferDelay      time.Duration // default 60s
}

func (c Config) withDefaults() Config {
	if c.AutoReplyWindow <= 0 {
		c.AutoReplyWindow = 5 * time.Minute
	}
	if c.FollowUpIdle <= 0 {
		c.FollowUpIdle = 72 * time.Hour
	}
	if c.FollowUpCap <= 0 {
		c.FollowUpCap = 5
	}
	if c.BulkInterval <= 0 {
		c.BulkInterval = 2 * time.Second
	}
	if c.OfferDelay <= 0 {
		c.OfferDelay = 60 * time.Second
	}
	return c
}

// Coordinator owns the automation job bodies: auto-reply, lead scoring,
// follow-ups, bulk sends, the daily health check and the reactive inbound
// path. Each body is safe to call concurrently with the others; shared state
// lives behind the store and the Settings mutex.
type Coordinator struct {
	log       logx.Logger
	cfg       Config
	st        store.Store
	sender    MessageSender
	pool      ChannelPool
	delayer   Delayer
	suggester ReplySuggester
	scorer    LeadScorer
	settings  *Settings
	catalogue *Catalogue
	limiter   *rate.Limiter
	now       func() time.Time
}

func NewCoordinator(cfg Config, st store.Store, sender MessageSender, pool ChannelPool, delayer Delayer, settings *Settings, log logx.Logger) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		log:       log.With(logx.String("component", "automation")),
		cfg:       cfg,
		st:        st,
		sender:    sender,
		pool:      pool,
		delayer:   delayer,
		suggester: NewPatternSuggester(),
		scorer:    NewHeuristicScorer(),
		settings:  settings,
		catalogue: NewCatalogue(),
		limiter:   rate.NewLimiter(rate.Every(cfg.BulkInterval), 1),
		now:       time.Now,
	}
}

func (c *Coordinator) Settings() *Settings { return c.settings }

// ProcessAutoReplies answers recent inbound messages that have no reply yet.
// Only suggestions above the confidence gate go out; low-confidence matches
// are left for an operator. Idempotent across overlapping windows: a message
// already answered by automation or an operator is skipped.
func (c *Coordinator) ProcessAutoReplies(ctx context.Context) error {
	if !c.settings.View().AutoReply {
		return nil
	}
	now := c.now().UTC()
	inbound, err := c.st.InboundSince(ctx, now.Add(-c.cfg.AutoReplyWindow))
	if err != nil {
		return err
	}

	for _, m := range inbound {
		// A reply appended in the same clamped instant still counts, hence
		// the inclusive filter bound.
		replies, err := c.st.Messages(ctx, m.ContactID, store.MessageFilter{
			NotBefore: m.Timestamp,
			Senders:   []store.Sender{store.SenderAutomation, store.SenderOperator},
			Limit:     1,
		})
		if err != nil {
			return err
		}
		if len(replies) > 0 {
			continue
		}

		contact, err := c.st.ContactByID(ctx, m.ContactID)
		if err != nil {
			c.log.Warn("auto-reply contact lookup failed",
				logx.Int64("contact_id", m.ContactID), logx.Err(err))
			continue
		}

		sug := c.suggester.Suggest(ctx, m.Body, contact)
		if sug.Confidence <= 0.7 {
			c.log.Debug("suggestion below gate",
				logx.Int64("contact_id", contact.ID),
				logx.String("category", sug.Category),
				logx.Float64("confidence", sug.Confidence))
			continue
		}

		if _, err := c.sender.Send(ctx, router.Request{
			Address: contact.Address,
			Text:    sug.Text,
			Sender:  store.SenderAutomation,
		}); err != nil {
			c.log.Warn("auto-reply send failed",
				logx.Int64("contact_id", contact.ID), logx.Err(err))
			continue
		}
		c.log.Info("auto-reply sent",
			logx.Int64("contact_id", contact.ID),
			logx.String("category", sug.Category))
	}
	return nil
}

// UpdateLeadScores recomputes every contact's score and retags them.
// Registered contacts keep their tag regardless of score.
func (c *Coordinator) UpdateLeadScores(ctx context.Context) error {
	if !c.settings.View().LeadScoring {
		return nil
	}
	contacts, err := c.st.ListContacts(ctx, store.ContactFilter{})
	if err != nil {
		return err
	}
	now := c.now().UTC()
	for _, contact := range contacts {
		if err := c.rescore(ctx, contact, now); err != nil {
			c.log.Warn("rescore failed", logx.Int64("contact_id", contact.ID), logx.Err(err))
		}
	}
	return nil
}

func (c *Coordinator) rescore(ctx context.Context, contact *store.Contact, now time.Time) error {
	msgs, err := c.st.Messages(ctx, contact.ID, store.MessageFilter{})
	if err != nil {
		return err
	}
	score := c.scorer.Score(ctx, contact, msgs, now)
	tag := tagForScore(score, contact.Tag)
	if score == contact.Score && tag == contact.Tag {
		return nil
	}
	c.log.Debug("lead rescored",
		logx.Int64("contact_id", contact.ID),
		logx.Int("from", contact.Score),
		logx.Int("to", score),
		logx.String("tag", string(tag)))
	contact.Score = score
	contact.Tag = tag
	return c.st.UpdateContact(ctx, contact)
}

// SendFollowUps nudges warm and hot leads idle for longer than the cutoff,
// at most FollowUpCap per run.
func (c *Coordinator) SendFollowUps(ctx context.Context) error {
	if !c.settings.View().FollowUp {
		return nil
	}
	now := c.now().UTC()
	candidates, err := c.st.ListContacts(ctx, store.ContactFilter{
		Tags:                  []store.Tag{store.TagWarmLead, store.TagHotLead},
		LastInteractionBefore: now.Add(-c.cfg.FollowUpIdle),
	})
	if err != nil {
		return err
	}

	sent := 0
	for _, contact := range candidates {
		if sent >= c.cfg.FollowUpCap {
			break
		}
		if _, err := c.sender.Send(ctx, router.Request{
			Address: contact.Address,
			Text:    followUpMessage(contact),
			Sender:  store.SenderAutomation,
		}); err != nil {
			c.log.Warn("follow-up send failed",
				logx.Int64("contact_id", contact.ID), logx.Err(err))
			continue
		}
		sent++
		c.log.Info("follow-up sent", logx.Int64("contact_id", contact.ID))
	}
	return nil
}

// BulkReport summarizes one bulk send run.
type BulkReport struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
}

// SendBulk sends text to every contact matching the tag filter (all contacts
// when tags is empty), paced by the rate limiter. Per-recipient failures are
// logged and counted, never fatal.
func (c *Coordinator) SendBulk(ctx context.Context, text string, tags []store.Tag, limit int) (BulkReport, error) {
	contacts, err := c.st.ListContacts(ctx, store.ContactFilter{Tags: tags, Limit: limit})
	if err != nil {
		return BulkReport{}, err
	}

	var rep BulkReport
	for _, contact := range contacts {
		if err := c.limiter.Wait(ctx); err != nil {
			return rep, err
		}
		rep.Attempted++
		if _, err := c.sender.Send(ctx, router.Request{
			Address: contact.Address,
			Text:    text,
			Sender:  store.SenderOperator,
		}); err != nil {
			c.log.Warn("bulk send failed",
				logx.Int64("contact_id", contact.ID), logx.Err(err))
			continue
		}
		rep.Succeeded++
	}
	c.log.Info("bulk send finished",
		logx.Int("attempted", rep.Attempted),
		logx.Int("succeeded", rep.Succeeded))
	return rep, nil
}

// HealthReport is the daily operational snapshot.
type HealthReport struct {
	Date           string            `json:"date"`
	ActiveChannels int               `json:"active_channels"`
	MessagesToday  int               `json:"messages_today"`
	HotLeads       int               `json:"hot_leads"`
	WarmLeads      int               `json:"warm_leads"`
	Healthy        bool              `json:"healthy"`
	Leads          map[store.Tag]int `json:"-"`
}

// HealthCheck builds the report. Healthy means at least one active channel.
func (c *Coordinator) HealthCheck(ctx context.Context) (HealthReport, error) {
	now := c.now().UTC()
	dayStart := now.Truncate(24 * time.Hour)

	total, err := c.st.CountMessages(ctx, dayStart, now, "")
	if err != nil {
		return HealthReport{}, err
	}
	dist, err := c.st.LeadDistribution(ctx)
	if err != nil {
		return HealthReport{}, err
	}

	rep := HealthReport{
		Date:           now.Format("2006-01-02"),
		ActiveChannels: c.pool.CountActive(),
		MessagesToday:  total,
		HotLeads:       dist[store.TagHotLead],
		WarmLeads:      dist[store.TagWarmLead],
		Leads:          dist,
	}
	rep.Healthy = rep.ActiveChannels > 0
	return rep, nil
}

// RunHealthCheck is the scheduled wrapper; it logs the report at a level
// matching its outcome.
func (c *Coordinator) RunHealthCheck(ctx context.Context) error {
	rep, err := c.HealthCheck(ctx)
	if err != nil {
		return err
	}
	fields := []logx.Field{
		logx.String("date", rep.Date),
		logx.Int("active_channels", rep.ActiveChannels),
		logx.Int("messages_today", rep.MessagesToday),
		logx.Int("hot_leads", rep.HotLeads),
		logx.Int("warm_leads", rep.WarmLeads),
	}
	if rep.Healthy {
		c.log.Info("daily health check", fields...)
	} else {
		c.log.Warn("daily health check: no active channels", fields...)
	}
	return nil
}

var highIntentOfferKeywords = []string{"buy", "purchase", "order", "interested", "price"}
var inquiryKeywords = []string{"catalogue", "catalog", "products", "instruments", "price"}

// HandleInbound reacts to one stored inbound message: immediate rescore,
// product-inquiry reply, and for warm/hot leads showing buying intent a
// delayed personalized offer.
func (c *Coordinator) HandleInbound(ctx context.Context, m *store.Message) {
	contact, err := c.st.ContactByID(ctx, m.ContactID)
	if err != nil {
		c.log.Warn("inbound contact lookup failed",
			logx.Int64("contact_id", m.ContactID), logx.Err(err))
		return
	}

	if c.settings.View().LeadScoring {
		if err := c.rescore(ctx, contact, c.now().UTC()); err != nil {
			c.log.Warn("inbound rescore failed",
				logx.Int64("contact_id", contact.ID), logx.Err(err))
		}
	}

	text := strings.ToLower(m.Body)

	if containsAny(text, inquiryKeywords) {
		if reply := inquiryReply(c.catalogue.Search(text)); reply != "" {
			if _, err := c.sender.Send(ctx, router.Request{
				Address: contact.Address,
				Text:    reply,
				Sender:  store.SenderAutomation,
			}); err != nil {
				c.log.Warn("inquiry reply failed",
					logx.Int64("contact_id", contact.ID), logx.Err(err))
			}
		}
	}

	if containsAny(text, highIntentOfferKeywords) &&
		(contact.Tag == store.TagWarmLead || contact.Tag == store.TagHotLead) {
		c.scheduleOffer(contact)
	}
}

// scheduleOffer queues a one-off offer send. The delay keeps the offer from
// landing in the same breath as the auto-reply.
func (c *Coordinator) scheduleOffer(contact *store.Contact) {
	id := contact.ID
	address := contact.Address
	c.delayer.Once(fmt.Sprintf("offer-contact-%d", id), c.cfg.OfferDelay, func(ctx context.Context) error {
		target, err := c.st.ContactByID(ctx, id)
		if err != nil {
			return err
		}
		msgs, err := c.st.Messages(ctx, id, store.MessageFilter{})
		if err != nil {
			return err
		}
		_, err = c.sender.Send(ctx, router.Request{
			Address: address,
			Text:    offerMessage(target, len(msgs)),
			Sender:  store.SenderAutomation,
		})
		return err
	})
	c.log.Debug("offer scheduled",
		logx.Int64("contact_id", id),
		logx.Duration("delay", c.cfg.OfferDelay))
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Report is the analytics rollup.
type Report struct {
	MessagesToday     int               `json:"messages_today"`
	MessagesYesterday int               `json:"messages_yesterday"`
	AutomationToday   int               `json:"automation_messages_today"`
	AutomationRate    float64           `json:"automation_rate"`
	LeadDistribution  map[store.Tag]int `json:"lead_distribution"`
	SystemStatus      string            `json:"system_status"`
}

// Analytics aggregates message volume, automation share and the lead funnel.
func (c *Coordinator) Analytics(ctx context.Context) (Report, error) {
	now := c.now().UTC()
	today := now.Truncate(24 * time.Hour)
	yesterday := today.Add(-24 * time.Hour)

	messagesToday, err := c.st.CountMessages(ctx, today, now, "")
	if err != nil {
		return Report{}, err
	}
	messagesYesterday, err := c.st.CountMessages(ctx, yesterday, today, "")
	if err != nil {
		return Report{}, err
	}
	automationToday, err := c.st.CountMessages(ctx, today, now, store.SenderAutomation)
	if err != nil {
		return Report{}, err
	}
	dist, err := c.st.LeadDistribution(ctx)
	if err != nil {
		return Report{}, err
	}

	rep := Report{
		MessagesToday:     messagesToday,
		MessagesYesterday: messagesYesterday,
		AutomationToday:   automationToday,
		LeadDistribution:  dist,
		SystemStatus:      "inactive",
	}
	denom := messagesToday
	if denom == 0 {
		denom = 1
	}
	rep.AutomationRate = float64(automationToday) / float64(denom) * 100
	if c.settings.View().Running {
		rep.SystemStatus = "active"
	}
	return rep, nil
}

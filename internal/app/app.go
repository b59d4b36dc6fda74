package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"waroute/internal/automation"
	"waroute/internal/channel"
	"waroute/internal/config"
	"waroute/internal/inbound"
	"waroute/internal/router"
	"waroute/internal/scheduler"
	"waroute/internal/store"
	"waroute/internal/webhook"
	"waroute/pkg/logx"
)

const (
	jobAutoReply   = "auto-reply"
	jobLeadScoring = "lead-scoring"
	jobFollowUp    = "follow-up"
	jobHealthCheck = "daily-health-check"
)

// Options carries collaborators the config file cannot express.
type Options struct {
	// SessionDriver constructs the driver behind each session channel. Nil
	// means session channels in the config are skipped.
	SessionDriver func() channel.Driver
}

// App is the composition root: it builds every component from config and owns
// their lifecycle. No package-level state; everything hangs off this struct.
type App struct {
	log    logx.Logger
	logSvc *logx.Service

	cfgMgr   *config.Manager
	st       store.Store
	reg      *channel.Registry
	router   *router.Router
	sched    *scheduler.Service
	settings *automation.Settings
	coord    *automation.Coordinator
	disp     *inbound.Dispatcher
	writer   *inbound.Writer
	hook     *webhook.Server

	sessions []*channel.Session

	cancel context.CancelFunc
}

// New loads the config file and wires the full object graph. Nothing is
// started yet; call Start.
func New(cfgPath string, opts Options) (*App, error) {
	mgr := config.NewManager(cfgPath, logx.Nop())
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logConfig(cfg))
	a := &App{log: log, logSvc: logSvc, cfgMgr: mgr}
	mgr.OnChange(a.applyConfig)

	busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	a.st, err = store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	})
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	a.reg = channel.NewRegistry(a.st, log)
	a.router = router.New(a.st, a.reg, log)

	tick, err := config.ParseDurationOrDefault("scheduler.tick", cfg.Scheduler.Tick, 30*time.Second)
	if err != nil {
		return nil, err
	}
	a.sched = scheduler.New(scheduler.Config{Tick: tick}, log)

	a.settings = automation.NewSettings()
	a.settings.Apply(
		config.BoolOr(cfg.Automation.AutoReplyEnabled, true),
		config.BoolOr(cfg.Automation.FollowUpEnabled, true),
		config.BoolOr(cfg.Automation.LeadScoringEnabled, true),
	)

	idle, _ := config.ParseDurationField("automation.follow_up_idle", cfg.Automation.FollowUpIdle)
	bulk, _ := config.ParseDurationField("automation.bulk_interval", cfg.Automation.BulkInterval)
	offer, _ := config.ParseDurationField("automation.offer_delay", cfg.Automation.OfferDelay)
	a.coord = automation.NewCoordinator(automation.Config{
		FollowUpIdle: idle,
		BulkInterval: bulk,
		OfferDelay:   offer,
	}, a.st, a.router, a.reg, a.sched, a.settings, log)

	a.disp = inbound.NewDispatcher(log)
	a.writer = inbound.NewWriter(a.st, log)
	a.writer.OnStored = a.coord.HandleInbound
	a.disp.Subscribe("store-writer", a.writer.Handle)

	if cfg.Webhook.Enabled {
		a.hook = webhook.NewServer(webhook.Config{
			Addr:        cfg.Webhook.Addr,
			VerifyToken: cfg.Webhook.VerifyToken,
		}, a.disp, log)
	}

	if err := a.buildChannels(cfg, opts); err != nil {
		a.st.Close()
		logSvc.Close()
		return nil, err
	}
	if err := a.registerJobs(cfg); err != nil {
		a.st.Close()
		logSvc.Close()
		return nil, err
	}
	return a, nil
}

func logConfig(cfg *config.Config) logx.Config {
	lc := logx.Config{
		Level:   cfg.Logging.Level,
		Console: config.BoolOr(cfg.Logging.Console, true),
	}
	if cfg.Logging.File != "" {
		lc.File = logx.FileConfig{Enabled: true, Path: cfg.Logging.File}
	}
	return lc
}

func (a *App) buildChannels(cfg *config.Config, opts Options) error {
	for i, cc := range cfg.Channels {
		switch cc.Kind {
		case "direct":
			timeout, err := config.ParseDurationField(
				fmt.Sprintf("channels[%d].direct.timeout", i), cc.Direct.Timeout)
			if err != nil {
				return err
			}
			ad := channel.NewDirect(channel.DirectConfig{
				BaseURL:       cc.Direct.BaseURL,
				APIVersion:    cc.Direct.APIVersion,
				PhoneNumberID: cc.Direct.PhoneNumberID,
				AccessToken:   cc.Direct.AccessToken,
				Timeout:       timeout,
			})
			if _, err := a.reg.Register(context.Background(), store.Channel{Address: cc.Address}, ad); err != nil {
				return err
			}
		case "session":
			if opts.SessionDriver == nil {
				a.log.Warn("session channel skipped, no driver installed",
					logx.String("address", cc.Address))
				continue
			}
			var sc channel.SessionConfig
			if cc.Session != nil {
				sc.LoginWait, _ = config.ParseDurationField("login_wait", cc.Session.LoginWait)
				sc.SubmitWait, _ = config.ParseDurationField("submit_wait", cc.Session.SubmitWait)
				sc.PollEvery, _ = config.ParseDurationField("poll_every", cc.Session.PollEvery)
			}
			sess := channel.NewSession(sc, opts.SessionDriver())
			if _, err := a.reg.Register(context.Background(), store.Channel{Address: cc.Address}, sess); err != nil {
				return err
			}
			a.sessions = append(a.sessions, sess)
		}
	}
	return nil
}

func (a *App) registerJobs(cfg *config.Config) error {
	autoReply, err := config.ParseDurationOrDefault("scheduler.auto_reply_every", cfg.Scheduler.AutoReply, 5*time.Minute)
	if err != nil {
		return err
	}
	scoring, err := config.ParseDurationOrDefault("scheduler.lead_scoring_every", cfg.Scheduler.LeadScoring, time.Hour)
	if err != nil {
		return err
	}
	followUp, err := config.ParseDurationOrDefault("scheduler.follow_up_every", cfg.Scheduler.FollowUp, 6*time.Hour)
	if err != nil {
		return err
	}
	healthAt := cfg.Scheduler.HealthAt
	if healthAt == "" {
		healthAt = "09:00"
	}

	if err := a.sched.AddEvery(jobAutoReply, autoReply, a.coord.ProcessAutoReplies); err != nil {
		return err
	}
	if err := a.sched.AddEvery(jobLeadScoring, scoring, a.coord.UpdateLeadScores); err != nil {
		return err
	}
	if err := a.sched.AddEvery(jobFollowUp, followUp, a.coord.SendFollowUps); err != nil {
		return err
	}
	return a.sched.AddDailyAt(jobHealthCheck, healthAt, a.coord.RunHealthCheck)
}

// Start connects the channel pool and launches the background machinery:
// scheduler, webhook receiver, session monitors, config watcher.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	for _, ch := range a.reg.Snapshot() {
		ad, err := a.reg.AdapterOf(ch.ID)
		if err != nil {
			continue
		}
		if ad.Connected() {
			continue
		}
		if err := ad.Connect(runCtx); err != nil {
			a.log.Warn("channel connect failed, staying standby",
				logx.Int64("channel_id", ch.ID), logx.Err(err))
			continue
		}
		if err := a.reg.MarkActive(runCtx, ch.ID); err != nil {
			a.log.Warn("channel activate failed",
				logx.Int64("channel_id", ch.ID), logx.Err(err))
		}
	}
	if a.reg.CountActive() == 0 {
		a.log.Warn("no channels active at startup")
	}

	if config.BoolOr(a.cfgMgr.Get().Scheduler.AutoStart, true) {
		a.StartScheduler(runCtx)
	}
	if a.hook != nil {
		a.hook.Start()
	}
	for _, sess := range a.sessions {
		sess := sess
		go func() {
			_ = sess.Monitor(runCtx, func(m channel.DriverMessage) {
				a.disp.Publish(inbound.Event{Message: &inbound.InboundMessage{
					Address: m.From,
					Body:    m.Body,
					Kind:    "text",
					At:      m.At,
				}})
			})
		}()
	}
	go func() {
		if err := a.cfgMgr.Watch(runCtx); err != nil {
			a.log.Warn("config watcher exited", logx.Err(err))
		}
	}()

	a.log.Info("started",
		logx.Int("channels", len(a.reg.Snapshot())),
		logx.Int("active", a.reg.CountActive()))
	return nil
}

// Stop shuts everything down in reverse order of Start.
func (a *App) Stop(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	a.StopScheduler(ctx)
	if a.hook != nil {
		if err := a.hook.Stop(ctx); err != nil {
			a.log.Warn("webhook stop failed", logx.Err(err))
		}
	}
	a.disp.Close()
	for _, ch := range a.reg.Snapshot() {
		if ad, err := a.reg.AdapterOf(ch.ID); err == nil {
			_ = ad.Disconnect(ctx)
		}
	}
	if err := a.st.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	a.log.Info("stopped")
	a.logSvc.Close()
}

// applyConfig handles hot reloads: log level/output and automation toggles
// change live, everything else needs a restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logSvc.Apply(logConfig(cfg))
	a.settings.Apply(
		config.BoolOr(cfg.Automation.AutoReplyEnabled, true),
		config.BoolOr(cfg.Automation.FollowUpEnabled, true),
		config.BoolOr(cfg.Automation.LeadScoringEnabled, true),
	)
	a.log.Info("runtime settings applied")
}

// ---- external surface ----

func (a *App) StartScheduler(ctx context.Context) {
	a.sched.Start(ctx)
	a.settings.SetRunning(true)
}

func (a *App) StopScheduler(ctx context.Context) {
	a.sched.Stop(ctx)
	a.settings.SetRunning(false)
}

// SchedulerStatus reports the settings snapshot, the job table and recent
// runs.
func (a *App) SchedulerStatus() (automation.SettingsView, []scheduler.JobInfo, []scheduler.RunRecord) {
	jobs, hist := a.sched.Snapshot()
	return a.settings.View(), jobs, hist
}

// UpdateSettings flips the automation toggles at runtime.
func (a *App) UpdateSettings(autoReply, followUp, leadScoring bool) {
	a.settings.Apply(autoReply, followUp, leadScoring)
}

// Manual one-shot triggers. Each returns the job's error verbatim.

func (a *App) TriggerAutoReply(ctx context.Context) error   { return a.coord.ProcessAutoReplies(ctx) }
func (a *App) TriggerLeadScoring(ctx context.Context) error { return a.coord.UpdateLeadScores(ctx) }
func (a *App) TriggerFollowUps(ctx context.Context) error   { return a.coord.SendFollowUps(ctx) }

func (a *App) TriggerHealthCheck(ctx context.Context) (automation.HealthReport, error) {
	return a.coord.HealthCheck(ctx)
}

// Send routes one operator message to the contact's address. The contact must
// exist; unknown ids surface store.ErrNotFound.
func (a *App) Send(ctx context.Context, contactID int64, text string) (router.Result, error) {
	c, err := a.st.ContactByID(ctx, contactID)
	if err != nil {
		return router.Result{}, fmt.Errorf("contact %d: %w", contactID, err)
	}
	return a.router.Send(ctx, router.Request{Address: c.Address, Text: text, Sender: store.SenderOperator})
}

// SendBulk fans text out to contacts matching the tag filter.
func (a *App) SendBulk(ctx context.Context, text string, tags []store.Tag, limit int) (automation.BulkReport, error) {
	return a.coord.SendBulk(ctx, text, tags, limit)
}

// RestartChannel forces a blocked or standby channel through a reconnect.
func (a *App) RestartChannel(ctx context.Context, id int64) error {
	err := a.reg.Restart(ctx, id)
	if err != nil && !errors.Is(err, channel.ErrChannelNotFound) {
		a.log.Warn("channel restart failed", logx.Int64("channel_id", id), logx.Err(err))
	}
	return err
}

// Channels lists the pool state.
func (a *App) Channels() []store.Channel { return a.reg.Snapshot() }

// Analytics returns the automation rollup.
func (a *App) Analytics(ctx context.Context) (automation.Report, error) {
	return a.coord.Analytics(ctx)
}

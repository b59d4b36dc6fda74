package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"waroute/pkg/logx"
)

// Clock abstracts time so job cadences are testable without wall-clock waits.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Job is one unit of scheduled work. Errors are boundary-caught by the loop;
// they never stop the scheduler.
type Job func(ctx context.Context) error

type Config struct {
	// Tick is the poll granularity (coarser than the shortest job interval).
	Tick        time.Duration // default 30s
	HistorySize int           // default 100
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = 30 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	return c
}

type RunRecord struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

type def struct {
	name  string
	sched cron.Schedule // nil for one-offs
	next  time.Time
	job   Job
	once  bool
}

// JobInfo is a read-only view of one table entry.
type JobInfo struct {
	Name string
	Next time.Time
	Once bool
}

// Service runs a fixed table of named jobs on one background goroutine.
// Due periodic jobs run inline, sequentially; one-off delayed tasks fire on
// their own goroutine so they never block the poll loop.
type Service struct {
	log   logx.Logger
	cfg   Config
	clock Clock

	mu      sync.Mutex
	defs    []*def
	byName  map[string]*def
	onceSeq int
	stopCh  chan struct{}

	hmu     sync.Mutex
	history []RunRecord

	wg sync.WaitGroup
}

func New(cfg Config, log logx.Logger) *Service {
	return &Service{
		log:    log.With(logx.String("component", "scheduler")),
		cfg:    cfg.withDefaults(),
		clock:  realClock{},
		byName: map[string]*def{},
	}
}

// SetClock swaps the time source. Call before Start.
func (s *Service) SetClock(c Clock) { s.clock = c }

// AddEvery registers a fixed-interval job.
func (s *Service) AddEvery(name string, every time.Duration, job Job) error {
	if every <= 0 {
		return fmt.Errorf("job %q: interval must be positive", name)
	}
	return s.add(name, cron.Every(every), job)
}

// AddDailyAt registers a job that runs once a day at the given HH:MM (UTC).
func (s *Service) AddDailyAt(name, atHHMM string, job Job) error {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return err
	}
	sched, err := cron.ParseStandard(fmt.Sprintf("CRON_TZ=UTC %d %d * * *", m, h))
	if err != nil {
		return err
	}
	return s.add(name, sched, job)
}

func (s *Service) add(name string, sched cron.Schedule, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	d := &def{name: name, sched: sched, next: sched.Next(s.clock.Now()), job: job}
	s.defs = append(s.defs, d)
	s.byName[name] = d
	return nil
}

// Handle cancels a pending one-off task. Cancelling after the task has fired
// (or twice) is a no-op.
type Handle struct {
	cancel func()
}

func (h Handle) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

// Once schedules a single-shot task after delay. The entry lives in the job
// table (visible in Snapshot, cancellable) and is removed when it fires.
func (s *Service) Once(name string, delay time.Duration, job Job) Handle {
	s.mu.Lock()
	s.onceSeq++
	key := fmt.Sprintf("%s#%d", name, s.onceSeq)
	d := &def{name: key, next: s.clock.Now().Add(delay), job: job, once: true}
	s.defs = append(s.defs, d)
	s.byName[key] = d
	s.mu.Unlock()

	return Handle{cancel: func() { s.remove(key) }}
}

func (s *Service) remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byName[name]
	if !ok {
		return
	}
	delete(s.byName, name)
	for i, x := range s.defs {
		if x == d {
			s.defs = append(s.defs[:i], s.defs[i+1:]...)
			break
		}
	}
}

// Start launches the poll loop. Starting a running scheduler is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		s.log.Debug("start ignored, already running")
		return
	}
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	// Reset next-run times so a stop/start cycle doesn't fire a backlog.
	now := s.clock.Now()
	for _, d := range s.defs {
		if d.sched != nil {
			d.next = d.sched.Next(now)
		}
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx, stopCh)
	}()
	s.log.Info("scheduler started", logx.Duration("tick", s.cfg.Tick))
}

// Stop requests a cooperative stop, observed at the next poll boundary.
// A job already in flight completes before the loop exits.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh != nil
}

func (s *Service) loop(ctx context.Context, stopCh chan struct{}) {
	t := time.NewTicker(s.cfg.Tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-t.C:
			s.runDue(ctx, s.clock.Now())
		}
	}
}

// runDue executes every job whose next-run time has elapsed. Periodic jobs
// run inline and are rescheduled first (so a slow job cannot double-fire);
// one-offs are removed from the table and fired on their own goroutine.
func (s *Service) runDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var periodic []*def
	var onces []*def
	for _, d := range s.defs {
		if d.next.After(now) {
			continue
		}
		if d.once {
			onces = append(onces, d)
			continue
		}
		d.next = d.sched.Next(now)
		periodic = append(periodic, d)
	}
	for _, d := range onces {
		delete(s.byName, d.name)
		for i, x := range s.defs {
			if x == d {
				s.defs = append(s.defs[:i], s.defs[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	for _, d := range periodic {
		s.execOne(ctx, d)
	}
	for _, d := range onces {
		d := d
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.execOne(ctx, d)
		}()
	}
}

func (s *Service) execOne(ctx context.Context, d *def) {
	start := s.clock.Now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("job panicked",
					logx.String("job", d.name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
		}()
		return d.job(ctx)
	}()

	rec := RunRecord{Name: d.name, Started: start, Duration: s.clock.Now().Sub(start)}
	if err != nil && !errors.Is(err, context.Canceled) {
		rec.Error = err.Error()
		s.log.Warn("job failed", logx.String("job", d.name), logx.Err(err))
	} else {
		s.log.Debug("job ok", logx.String("job", d.name))
	}

	s.hmu.Lock()
	s.history = append(s.history, rec)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.hmu.Unlock()
}

// Snapshot lists the job table and recent run history.
func (s *Service) Snapshot() ([]JobInfo, []RunRecord) {
	s.mu.Lock()
	jobs := make([]JobInfo, 0, len(s.defs))
	for _, d := range s.defs {
		jobs = append(jobs, JobInfo{Name: d.name, Next: d.next, Once: d.once})
	}
	s.mu.Unlock()

	s.hmu.Lock()
	hist := append([]RunRecord(nil), s.history...)
	s.hmu.Unlock()
	return jobs, hist
}

func parseHHMM(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

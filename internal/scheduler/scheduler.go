// Package scheduler runs named recurring jobs off a single poll loop.
//
// Jobs are evaluated in registration order on every wake-up; a job's
// failure (error or panic) is contained at the invocation boundary and
// never deregisters the job or stops the loop. The poll granularity
// deliberately trades timer precision for simplicity: a job may run up to
// one poll interval after its nominal trigger time.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"pricewatch/pkg/logx"
)

type Config struct {
	// PollInterval is how often the loop checks for due jobs.
	PollInterval time.Duration
	// JobTimeout bounds one action invocation so an unresponsive job
	// cannot stall all future due-checks.
	JobTimeout time.Duration
}

type job struct {
	name   string
	trig   Trigger
	action func(ctx context.Context) error
	next   time.Time
	runs   int
	fails  int
}

type Scheduler struct {
	cfg Config
	log logx.Logger
	now func() time.Time

	mu   sync.Mutex
	jobs []*job
}

func New(cfg Config, log logx.Logger) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	return &Scheduler{cfg: cfg, log: log, now: time.Now}
}

// SetClock overrides the wall clock. Tests drive Poll directly with
// virtual times instead of sleeping.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// AddJob registers a named recurring job. The first due time is the
// trigger's next occurrence after registration.
func (s *Scheduler) AddJob(name string, trig Trigger, action func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := &job{name: name, trig: trig, action: action, next: trig.Next(s.now())}
	s.jobs = append(s.jobs, j)
	s.log.Info("job registered", logx.String("job", name), logx.Time("next", j.next))
}

// Jobs returns the registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		names[i] = j.name
	}
	return names
}

// NextDue reports the next scheduled time for a named job.
func (s *Scheduler) NextDue(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.name == name {
			return j.next, true
		}
	}
	return time.Time{}, false
}

// Run blocks until ctx is done, polling for due jobs at the configured
// interval.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler started",
		logx.Duration("poll_interval", s.cfg.PollInterval),
		logx.Int("jobs", len(s.Jobs())),
	)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.mu.Lock()
			now := s.now()
			s.mu.Unlock()
			s.Poll(ctx, now)
		}
	}
}

// Poll runs every due job once, in registration order. A completed run,
// successful or not, reschedules the job for the trigger's next
// occurrence after now.
func (s *Scheduler) Poll(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if !now.Before(j.next) {
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		err := s.invoke(ctx, j)

		s.mu.Lock()
		j.runs++
		if err != nil {
			j.fails++
		}
		j.next = j.trig.Next(now)
		next := j.next
		s.mu.Unlock()

		if err != nil {
			s.log.Warn("job failed", logx.String("job", j.name), logx.Err(err), logx.Time("next", next))
		} else {
			s.log.Debug("job done", logx.String("job", j.name), logx.Time("next", next))
		}
	}
}

// invoke runs one job action with a bounded timeout and panic recovery.
// This is the isolation boundary of the control loop.
func (s *Scheduler) invoke(ctx context.Context, j *job) (err error) {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("panic in job",
				logx.String("job", j.name),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()

	start := time.Now()
	err = j.action(runCtx)
	if err == nil {
		s.log.Debug("job completed", logx.String("job", j.name), logx.Duration("took", time.Since(start)))
	}
	return err
}

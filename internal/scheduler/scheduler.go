// Package scheduler runs one poll job per platform, never overlapping with itself.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samvad-hq/samvad-notifier/internal/logger"
)

// Job is one poll cycle. It must honour ctx cancellation.
type Job func(ctx context.Context) error

type job struct {
	name    string
	spec    string
	run     Job
	running atomic.Bool
	entry   cron.EntryID
}

// Scheduler wraps robfig/cron with a per-job in-flight guard: a trigger that fires
// while the previous run of the same job is still going is skipped, not queued.
type Scheduler struct {
	cron *cron.Cron
	log  logger.Logger

	mu   sync.Mutex
	jobs map[string]*job
	ctx  context.Context
}

// New builds an idle scheduler.
func New(log logger.Logger) *Scheduler {
	log = logger.Ensure(log)
	cl := logger.CronLogger(log)
	return &Scheduler{
		cron: cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		log:  log,
		jobs: make(map[string]*job),
		ctx:  context.Background(),
	}
}

// Register adds a job under a unique name. spec uses robfig/cron syntax
// ("@every 60s", "*/5 * * * *").
func (s *Scheduler) Register(name, spec string, fn Job) error {
	if fn == nil {
		return fmt.Errorf("job %q is nil", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}

	j := &job{name: name, spec: spec, run: fn}
	id, err := s.cron.AddFunc(spec, func() { s.trigger(s.context(), j) })
	if err != nil {
		return fmt.Errorf("schedule job %q (%s): %w", name, spec, err)
	}
	j.entry = id
	s.jobs[name] = j
	return nil
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// trigger runs j unless it is already running. It reports whether the job ran.
func (s *Scheduler) trigger(ctx context.Context, j *job) (ran bool, err error) {
	if !j.running.CompareAndSwap(false, true) {
		s.log.WarnObj("job still running, skipping trigger", "scheduler_skip", map[string]any{
			"job": j.name,
		})
		return false, nil
	}
	defer j.running.Store(false)

	start := time.Now()
	err = j.run(ctx)
	fields := map[string]any{
		"job":         j.name,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		s.log.ErrorObj("job finished with errors", "scheduler_run", fields)
	} else {
		s.log.DebugObj("job finished", "scheduler_run", fields)
	}
	return true, err
}

// RunNow runs the named job synchronously, subject to the same overlap guard as
// scheduled triggers.
func (s *Scheduler) RunNow(ctx context.Context, name string) (ran bool, err error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("job %q not registered", name)
	}

	defer func() {
		if r := recover(); r != nil {
			ran, err = true, fmt.Errorf("job %q panicked: %v", name, r)
		}
	}()
	return s.trigger(ctx, j)
}

// Jobs returns registered job names with their next activation (zero before Start).
func (s *Scheduler) Jobs() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.jobs))
	for name, j := range s.jobs {
		out[name] = s.cron.Entry(j.entry).Next
	}
	return out
}

// Start begins firing triggers; ctx is handed to every scheduled run. Runs missed
// while the process was down are not replayed.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop halts triggers and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

/*
Package scheduler runs the periodic correction passes.

PURPOSE:
  Once a minute, for every organization with an active policy:
  - reminder:     nudge employees who haven't checked in before the shift
  - autocomplete: close days left open past office end + grace
  - expiry:       expire punch requests and record missed responses

DESIGN:
  - robfig/cron drives the minute cadence; RunOnce is the unit of work and
    can be invoked directly (admin endpoint, tests)
  - Organizations are processed in parallel, bounded by Parallelism
  - A failing organization is logged and counted; the others continue
  - Reminder and autocomplete claim (org, pass, target date) in the
    RunStore first, so a second invocation in the same minute does nothing
  - Synthesis re-checks the employee's state under the day lock before
    writing; an already-closed day gets no second CHECK_OUT

USAGE:
  s := scheduler.New(store, scheduler.Options{Locker: locker, Notifier: n})
  s.Start()
  // ... later
  s.Stop()

SEE ALSO:
  - trigger.go: Trigger instants
  - punch/service.go: Shares the day lock with punch admission
*/
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/metrics"
)

const (
	PassReminder     = "reminder"
	PassAutoComplete = "autocomplete"
	PassExpiry       = "expiry"

	DefaultSpec = "* * * * *"
)

// Options tune a Scheduler. Zero values select defaults.
type Options struct {
	Clock       attendance.Clock
	Locker      attendance.Locker
	Notifier    attendance.Notifier
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Spec        string
	Parallelism int
}

type Scheduler struct {
	store     attendance.Store
	ledger    *attendance.Ledger
	projector *attendance.Projector
	locker    attendance.Locker
	notifier  attendance.Notifier
	clock     attendance.Clock
	logger    *zap.Logger
	metrics   *metrics.Metrics

	spec        string
	parallelism int

	mu   sync.Mutex
	cron *cron.Cron
}

func New(store attendance.Store, opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = attendance.SystemClock{}
	}
	if opts.Locker == nil {
		opts.Locker = attendance.NewKeyedMutex()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = &attendance.LogNotifier{Logger: opts.Logger}
	}
	if opts.Spec == "" {
		opts.Spec = DefaultSpec
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}

	ledger := attendance.NewLedger(store, opts.Clock)
	return &Scheduler{
		store:       store,
		ledger:      ledger,
		projector:   &attendance.Projector{Ledger: ledger, Days: store, Clock: opts.Clock},
		locker:      opts.Locker,
		notifier:    opts.Notifier,
		clock:       opts.Clock,
		logger:      opts.Logger.Named("scheduler"),
		metrics:     opts.Metrics,
		spec:        opts.Spec,
		parallelism: opts.Parallelism,
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start registers RunOnce on the cron spec and starts the cron loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	cronLogger := cron.PrintfLogger(zap.NewStdLog(s.logger))
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger), cron.Recover(cronLogger)))
	if _, err := c.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Second)
		defer cancel()
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("run failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", s.spec, err)
	}
	c.Start()
	s.cron = c

	s.logger.Info("started", zap.String("spec", s.spec), zap.Int("parallelism", s.parallelism))
	return nil
}

// Stop halts the cron loop and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.logger.Info("stopped")
}

// =============================================================================
// RUN
// =============================================================================

// Report summarizes one RunOnce.
type Report struct {
	At            time.Time `json:"at"`
	Organizations int       `json:"organizations"`
	Reminded      int       `json:"reminded"`
	AutoCompleted int       `json:"auto_completed"`
	Expired       int       `json:"expired"`
	Failures      int       `json:"failures"`
}

// RunOnce evaluates every pass for every active organization at the
// current clock minute. Only listing the organizations can fail it.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	now := s.clock.Now()
	report := Report{At: attendance.TruncateMinute(now)}

	policies, err := s.store.ActivePolicies(ctx)
	if err != nil {
		return report, fmt.Errorf("list active policies: %w", err)
	}
	report.Organizations = len(policies)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.parallelism)
	for _, policy := range policies {
		policy := policy
		g.Go(func() error {
			r := s.runOrg(ctx, policy, now)
			mu.Lock()
			report.Reminded += r.Reminded
			report.AutoCompleted += r.AutoCompleted
			report.Expired += r.Expired
			report.Failures += r.Failures
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if report.Reminded+report.AutoCompleted+report.Expired+report.Failures > 0 {
		s.logger.Info("run completed",
			zap.Time("minute", report.At),
			zap.Int("organizations", report.Organizations),
			zap.Int("reminded", report.Reminded),
			zap.Int("auto_completed", report.AutoCompleted),
			zap.Int("expired", report.Expired),
			zap.Int("failures", report.Failures))
	}
	return report, nil
}

func (s *Scheduler) runOrg(ctx context.Context, policy attendance.Policy, now time.Time) Report {
	var r Report
	org := policy.OrgID

	hours, err := s.store.OfficeHours(ctx, org)
	if err != nil {
		s.orgFailed(org, "office_hours", err)
		r.Failures++
		return r
	}

	if date, ok := ReminderTarget(now, hours, policy.NotifyBeforeShiftStartMin); ok {
		n, err := s.claimed(ctx, org, PassReminder, date.String(), now, func() (int, error) {
			return s.remind(ctx, org, hours, date)
		})
		if err != nil {
			r.Failures++
		}
		r.Reminded += n
	}

	if date, ok := AutoCompletionTarget(now, hours, policy.MaxCheckOutAfterEndMin); ok {
		n, err := s.claimed(ctx, org, PassAutoComplete, date.String(), now, func() (int, error) {
			return s.CompleteDay(ctx, org, date)
		})
		if err != nil {
			r.Failures++
		}
		r.AutoCompleted += n
	}

	// Expiry is not claimed: it only touches requests still PENDING and its
	// missed-punch events carry idempotency keys.
	n, err := s.expire(ctx, org, hours, now)
	if err != nil {
		s.orgFailed(org, PassExpiry, err)
		r.Failures++
	}
	r.Expired += n
	return r
}

// claimed runs fn once per (org, pass, key). A run that was already claimed
// is skipped silently.
func (s *Scheduler) claimed(ctx context.Context, org attendance.OrgID, pass, key string, now time.Time, fn func() (int, error)) (int, error) {
	run := attendance.SchedulerRun{
		ID:        uuid.NewString(),
		OrgID:     org,
		Pass:      pass,
		Key:       key,
		Status:    attendance.RunRunning,
		StartedAt: now,
	}
	if err := s.store.ClaimRun(ctx, run); err != nil {
		if errors.Is(err, attendance.ErrRunAlreadyClaimed) {
			return 0, nil
		}
		s.orgFailed(org, pass, err)
		return 0, err
	}

	processed, runErr := fn()

	completed := s.clock.Now()
	run.CompletedAt = &completed
	run.Processed = processed
	run.Status = attendance.RunCompleted
	if runErr != nil {
		run.Status = attendance.RunFailed
		run.Error = runErr.Error()
		run.Failed = 1
		s.orgFailed(org, pass, runErr)
	}
	if err := s.store.FinishRun(ctx, run); err != nil {
		s.logger.Error("finish run",
			zap.String("org_id", string(org)),
			zap.String("pass", pass),
			zap.Error(err))
	}
	s.metrics.SchedulerRun(pass, string(run.Status))

	if runErr == nil && processed > 0 {
		s.logger.Info("pass completed",
			zap.String("org_id", string(org)),
			zap.String("pass", pass),
			zap.String("key", key),
			zap.Int("processed", processed))
	}
	return processed, runErr
}

func (s *Scheduler) orgFailed(org attendance.OrgID, pass string, err error) {
	s.logger.Error("organization failed",
		zap.String("org_id", string(org)),
		zap.String("pass", pass),
		zap.Error(err))
	s.metrics.OrgFailure(pass)
}

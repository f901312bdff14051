package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/marketjobs/pkg/logger"
	"github.com/dmitrymomot/marketjobs/pkg/statemachine"
)

// Recurring registers a job enqueued on a cron schedule.
type Recurring struct {
	Queue   string
	JobType string

	// Cron is a standard 5-field pattern ("0 6 * * *").
	Cron string

	// DedupeKey identifies the registration. A firing is skipped while a job
	// with this key is still outstanding.
	DedupeKey string

	// Location evaluates the pattern in this zone. Defaults to UTC.
	Location *time.Location

	// Payload builds the job payload for a firing. Defaults to {"fired_at": ...}.
	Payload func(firedAt time.Time) any
}

// FireOutcome tells what a firing did.
type FireOutcome string

const (
	FireEnqueued FireOutcome = "enqueued"
	FireSkipped  FireOutcome = "skipped"
)

// Entry lifecycle: idle, then enqueuing while a firing runs, then pending
// while the job it produced is outstanding, then idle again once the job
// completes or is dead-lettered.
var (
	entryIdle      = statemachine.StringState("idle")
	entryEnqueuing = statemachine.StringState("enqueuing")
	entryPending   = statemachine.StringState("pending")

	eventFire     = statemachine.StringEvent("fire")
	eventEnqueued = statemachine.StringEvent("enqueued")
	eventSkipped  = statemachine.StringEvent("skipped")
	eventFailed   = statemachine.StringEvent("failed")
	eventSettle   = statemachine.StringEvent("settle")
)

// jobSettled lets a pending entry return to idle. data is the result of the
// broker's Outstanding check.
func jobSettled(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	outstanding, ok := data.(bool)
	return ok && !outstanding
}

func newEntryMachine(log *slog.Logger) (*statemachine.Machine, error) {
	trace := statemachine.WithAction(func(ctx context.Context, from, to statemachine.State, ev statemachine.Event, _ any) error {
		log.DebugContext(ctx, "recurring job state changed",
			slog.String("from", from.Name()),
			slog.String("to", to.Name()),
			slog.String("event", ev.Name()))
		return nil
	})
	return statemachine.New(entryIdle,
		statemachine.WithTransition(entryIdle, entryEnqueuing, eventFire, trace),
		statemachine.WithTransition(entryEnqueuing, entryPending, eventEnqueued, trace),
		// Another scheduler instance or a manual enqueue already holds the key.
		statemachine.WithTransition(entryEnqueuing, entryPending, eventSkipped, trace),
		statemachine.WithTransition(entryEnqueuing, entryIdle, eventFailed, trace),
		statemachine.WithTransition(entryPending, entryIdle, eventSettle, statemachine.WithGuard(jobSettled), trace),
	)
}

type scheduledEntry struct {
	Recurring
	schedule    cron.Schedule
	machine     *statemachine.Machine
	next        time.Time
	lastFiredAt time.Time
	lastOutcome FireOutcome
	lastJobID   uuid.UUID
}

// EntryInfo is a snapshot of a scheduled entry.
type EntryInfo struct {
	DedupeKey   string      `json:"dedupe_key"`
	Queue       string      `json:"queue"`
	JobType     string      `json:"job_type"`
	Cron        string      `json:"cron"`
	State       string      `json:"state"`
	Next        time.Time   `json:"next"`
	LastFiredAt time.Time   `json:"last_fired_at,omitzero"`
	LastOutcome FireOutcome `json:"last_outcome,omitempty"`
	LastJobID   uuid.UUID   `json:"last_job_id,omitzero"`
}

// Scheduler enqueues recurring jobs. It never waits for a job to complete.
type Scheduler struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*scheduledEntry

	stateMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithCheckInterval sets how often due entries are looked up.
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSchedulerClock overrides the scheduler's time source.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSchedulerLogger sets the logger for the scheduler.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScheduler creates a scheduler enqueueing through registry.
func NewScheduler(registry *Registry, opts ...SchedulerOption) (*Scheduler, error) {
	if registry == nil {
		return nil, ErrRegistryNil
	}
	s := &Scheduler{
		registry: registry,
		interval: 30 * time.Second,
		logger:   slog.Default(),
		now:      time.Now,
		entries:  make(map[string]*scheduledEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("scheduler"))
	return s, nil
}

// Register adds recurring registrations.
func (s *Scheduler) Register(recs ...Recurring) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range recs {
		if _, ok := s.registry.Definition(r.Queue); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownQueue, r.Queue)
		}
		if r.JobType == "" {
			return ErrEmptyJobType
		}
		if r.DedupeKey == "" {
			return fmt.Errorf("%w: recurring job for %s needs a dedupe key", ErrInvalidSchedule, r.JobType)
		}
		if _, ok := s.entries[r.DedupeKey]; ok {
			return fmt.Errorf("%w: %s", ErrScheduleAlreadyRegistered, r.DedupeKey)
		}

		sched, err := cron.ParseStandard(r.Cron)
		if err != nil {
			return errors.Join(ErrInvalidSchedule, fmt.Errorf("%q: %w", r.Cron, err))
		}
		if r.Location == nil {
			r.Location = time.UTC
		}

		machine, err := newEntryMachine(s.logger.With(logger.DedupeKey(r.DedupeKey)))
		if err != nil {
			return err
		}
		s.entries[r.DedupeKey] = &scheduledEntry{
			Recurring: r,
			schedule:  sched,
			machine:   machine,
			next:      sched.Next(s.now().In(r.Location)),
		}
	}
	return nil
}

// Entries returns a snapshot of all registrations sorted by dedupe key.
func (s *Scheduler) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]EntryInfo, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, EntryInfo{
			DedupeKey:   e.DedupeKey,
			Queue:       e.Queue,
			JobType:     e.JobType,
			Cron:        e.Cron,
			State:       e.machine.Current().Name(),
			Next:        e.next,
			LastFiredAt: e.lastFiredAt,
			LastOutcome: e.lastOutcome,
			LastJobID:   e.lastJobID,
		})
	}
	slices.SortFunc(out, func(a, b EntryInfo) int {
		if a.DedupeKey < b.DedupeKey {
			return -1
		}
		if a.DedupeKey > b.DedupeKey {
			return 1
		}
		return 0
	})
	return out
}

// Fire runs one firing of the registration now, regardless of its schedule.
// It is skipped while the entry's previous job is outstanding.
func (s *Scheduler) Fire(ctx context.Context, dedupeKey string) (FireOutcome, error) {
	s.mu.Lock()
	e, ok := s.entries[dedupeKey]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrScheduleNotFound, dedupeKey)
	}

	settled, err := s.settle(ctx, e)
	if err != nil {
		return "", err
	}
	if !settled {
		s.logger.InfoContext(ctx, "recurring job skipped, previous run still outstanding", logger.DedupeKey(dedupeKey))
		return FireSkipped, nil
	}
	if err := e.machine.Fire(ctx, eventFire, nil); err != nil {
		s.logger.InfoContext(ctx, "recurring job skipped, firing already in progress", logger.DedupeKey(dedupeKey))
		return FireSkipped, nil
	}

	firedAt := s.now().In(e.Location)
	outcome, jobID, err := s.enqueue(ctx, e.Recurring, firedAt)

	s.mu.Lock()
	defer s.mu.Unlock()

	e.lastFiredAt = firedAt
	switch {
	case err != nil:
		_ = e.machine.Fire(ctx, eventFailed, nil)
		return "", err
	case outcome == FireSkipped:
		_ = e.machine.Fire(ctx, eventSkipped, nil)
	default:
		_ = e.machine.Fire(ctx, eventEnqueued, nil)
		e.lastJobID = jobID
	}
	e.lastOutcome = outcome
	return outcome, nil
}

// settle moves a pending entry back to idle once its job is no longer
// outstanding. It reports whether the entry is idle afterwards.
func (s *Scheduler) settle(ctx context.Context, e *scheduledEntry) (bool, error) {
	if e.machine.Current() != entryPending {
		return true, nil
	}

	outstanding, err := s.registry.Broker().Outstanding(ctx, e.Queue, e.DedupeKey)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to check outstanding recurring job",
			logger.DedupeKey(e.DedupeKey), logger.Error(err))
		return false, err
	}

	err = e.machine.Fire(ctx, eventSettle, outstanding)
	switch {
	case err == nil:
		return true, nil
	case statemachine.IsTransitionRejectedError(err):
		return false, nil
	default:
		// A concurrent call settled or fired the entry first.
		return e.machine.Current() == entryIdle, nil
	}
}

func (s *Scheduler) enqueue(ctx context.Context, rec Recurring, firedAt time.Time) (FireOutcome, uuid.UUID, error) {
	attrs := []any{
		logger.DedupeKey(rec.DedupeKey),
		logger.Queue(rec.Queue),
		logger.JobType(rec.JobType),
	}

	outstanding, err := s.registry.Broker().Outstanding(ctx, rec.Queue, rec.DedupeKey)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to check outstanding recurring job", append(attrs, logger.Error(err))...)
		return "", uuid.Nil, err
	}
	if outstanding {
		s.logger.InfoContext(ctx, "recurring job skipped, previous run still outstanding", attrs...)
		return FireSkipped, uuid.Nil, nil
	}

	var payload any = map[string]any{"fired_at": firedAt.UTC()}
	if rec.Payload != nil {
		payload = rec.Payload(firedAt)
	}

	id, err := s.registry.Enqueue(ctx, rec.Queue, rec.JobType, payload, WithDedupeKey(rec.DedupeKey))
	if errors.Is(err, ErrDuplicateJob) {
		s.logger.InfoContext(ctx, "recurring job skipped, previous run still outstanding", attrs...)
		return FireSkipped, uuid.Nil, nil
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to enqueue recurring job", append(attrs, logger.Error(err))...)
		return "", uuid.Nil, err
	}

	s.logger.InfoContext(ctx, "recurring job enqueued", append(attrs, logger.JobID(id))...)
	return FireEnqueued, id, nil
}

// Tick returns pending entries whose job finished to idle, then fires every
// entry whose next run time has passed and advances its schedule. It is
// called by the run loop and exposed for tests.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []string
	var waiting []*scheduledEntry
	for key, e := range s.entries {
		if e.next.After(now) {
			waiting = append(waiting, e)
			continue
		}
		due = append(due, key)
		e.next = e.schedule.Next(now.In(e.Location))
	}
	s.mu.Unlock()

	for _, e := range waiting {
		if _, err := s.settle(ctx, e); err != nil {
			s.logger.WarnContext(ctx, "recurring job state not refreshed", logger.DedupeKey(e.DedupeKey), logger.Error(err))
		}
	}

	slices.Sort(due)
	for _, key := range due {
		if _, err := s.Fire(ctx, key); err != nil {
			s.logger.ErrorContext(ctx, "recurring job firing failed", logger.DedupeKey(key), logger.Error(err))
		}
	}
}

// Start begins checking schedules in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("scheduler already started")
	}

	s.mu.Lock()
	n := len(s.entries)
	s.mu.Unlock()
	if n == 0 {
		return ErrSchedulerNotConfigured
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx, s.done)

	s.logger.Info("scheduler started",
		slog.Int("entries", n),
		slog.Duration("check_interval", s.interval))

	return nil
}

// Stop stops the scheduler. A firing in progress completes first.
func (s *Scheduler) Stop() {
	s.stateMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.stateMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("scheduler stopped")
}

// Run starts the scheduler and returns a function suitable for errgroup
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		if err := s.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		s.Stop()
		return nil
	}
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(context.WithoutCancel(ctx))
		}
	}
}

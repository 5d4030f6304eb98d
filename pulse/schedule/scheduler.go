package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/teranos/repost/am"
	"github.com/teranos/repost/errors"
	"github.com/teranos/repost/logger"
	"github.com/teranos/repost/pulse/posting"
)

// Runner performs one posting run. *posting.Workflow implements it.
type Runner interface {
	Run(ctx context.Context, cred posting.Credential, listing posting.Listing) posting.Outcome
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context, cred posting.Credential, listing posting.Listing) posting.Outcome

// Run implements Runner
func (f RunnerFunc) Run(ctx context.Context, cred posting.Credential, listing posting.Listing) posting.Outcome {
	return f(ctx, cred, listing)
}

// Config contains configuration for the Pulse scheduler
type Config struct {
	TickInterval      time.Duration // How often due triggers are checked (default: 1 second)
	MisfireGrace      time.Duration // A late slot still fires once within this window
	MaxConcurrentRuns int           // 0 = unbounded
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		TickInterval: time.Second,
		MisfireGrace: time.Hour,
	}
}

// ConfigFromAM maps the [scheduler] config section
func ConfigFromAM(cfg am.SchedulerConfig) Config {
	c := DefaultConfig()
	if cfg.TickInterval > 0 {
		c.TickInterval = cfg.TickInterval
	}
	if cfg.MisfireGrace > 0 {
		c.MisfireGrace = cfg.MisfireGrace
	}
	c.MaxConcurrentRuns = cfg.MaxConcurrentRuns
	return c
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock sets the clock driving ticks and trigger times
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithExecutionStore records run history
func WithExecutionStore(es ExecutionRecorder) Option {
	return func(s *Scheduler) { s.executions = es }
}

// Stats is a snapshot of dispatcher activity
type Stats struct {
	Running         bool      `json:"running"`
	LastTickAt      time.Time `json:"last_tick_at"`
	TicksSinceStart int64     `json:"ticks_since_start"`
	InFlight        int       `json:"in_flight"`
	TickInterval    string    `json:"tick_interval"`
}

// Scheduler fires posting runs for persisted triggers.
// Trigger mutations and due-job decisions are serialized by mu; runs
// execute outside it, at most one per schedule ID.
type Scheduler struct {
	store      TriggerStore
	executions ExecutionRecorder
	runner     Runner
	cfg        Config
	clock      clockwork.Clock
	sem        *semaphore.Weighted
	logger     *zap.SugaredLogger
	pulseLog   *zap.SugaredLogger // Logger with Pulse symbol pre-attached

	mu sync.Mutex // trigger table and dispatch decisions

	stateMu         sync.Mutex
	inflight        map[string]string // schedule ID -> execution ID
	running         bool
	lastTickAt      time.Time
	ticksSinceStart int64

	loopCancel context.CancelFunc
	loopDone   chan struct{}
	runCtx     context.Context
	runCancel  context.CancelFunc
	runs       sync.WaitGroup
}

// NewScheduler creates a scheduler over store. Call Start to begin firing.
func NewScheduler(store TriggerStore, runner Runner, cfg Config, log *zap.SugaredLogger, opts ...Option) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Scheduler{
		store:    store,
		runner:   runner,
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		logger:   log,
		pulseLog: logger.AddPulseSymbol(log),
		inflight: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.MaxConcurrentRuns > 0 {
		s.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentRuns))
	}
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	return s
}

// Start recovers persisted triggers, serves any slot missed while the
// process was down, and begins the dispatch loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.stateMu.Lock()
	if s.running {
		s.stateMu.Unlock()
		return errors.Mark(errors.New("scheduler already started"), errors.ErrConflict)
	}
	s.running = true
	if s.runCtx.Err() != nil {
		// a previous Stop cancelled the runs of its lifecycle
		s.runCtx, s.runCancel = context.WithCancel(context.Background())
	}
	s.stateMu.Unlock()

	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		s.stateMu.Lock()
		s.running = false
		s.stateMu.Unlock()
		return errors.Wrap(err, "recover scheduled jobs")
	}
	active := 0
	for _, j := range jobs {
		if j.State == StateActive {
			active++
		}
	}
	logger.AddPulseOpenSymbol(s.logger).Infow("Pulse scheduler started",
		"jobs", len(jobs),
		"active", active,
		logger.FieldInterval, s.cfg.TickInterval,
		"misfire_grace", s.cfg.MisfireGrace)

	if err := s.tick(ctx); err != nil {
		s.pulseLog.Warnw("Catch-up tick failed", logger.FieldError, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.loopCancel = cancel
	s.loopDone = make(chan struct{})
	go s.loop(loopCtx)
	return nil
}

// Stop stops firing and waits for in-flight runs until ctx is done.
// Runs still executing when ctx expires are cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stateMu.Lock()
	if !s.running {
		s.stateMu.Unlock()
		return nil
	}
	s.running = false
	inflight := len(s.inflight)
	s.stateMu.Unlock()

	closeLog := logger.AddPulseCloseSymbol(s.logger)
	s.loopCancel()
	<-s.loopDone

	if inflight > 0 {
		closeLog.Infow("Waiting for in-flight runs", "in_flight", inflight)
	}

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		closeLog.Infow("Pulse scheduler stopped")
		return nil
	case <-ctx.Done():
		s.runCancel()
		<-done
		closeLog.Warnw("Pulse scheduler stopped before in-flight runs finished", logger.FieldError, ctx.Err())
		return errors.Wrap(ctx.Err(), "in-flight runs cancelled")
	}
}

// loop is the main dispatch loop
func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.loopDone)

	ticker := s.clock.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := s.tick(ctx); err != nil && ctx.Err() == nil {
				// Don't spam logs - log errors at warn level
				s.pulseLog.Warnw("Pulse tick error", logger.FieldError, err)
			}
		}
	}
}

// launch is a run decided under mu and started after it is released
type launch struct {
	job  *Job
	exec *Execution
}

// tick fires every due trigger once
func (s *Scheduler) tick(ctx context.Context) error {
	now := s.clock.Now()

	s.stateMu.Lock()
	s.lastTickAt = now
	s.ticksSinceStart++
	s.stateMu.Unlock()

	s.mu.Lock()
	jobs, err := s.store.ListJobsDue(ctx, now)
	if err != nil {
		s.mu.Unlock()
		return errors.Wrap(err, "failed to list due jobs")
	}

	var launches []launch
	var skipped []*Execution
	for _, job := range jobs {
		d := Decide(job.AnchorAt, job.Interval, s.cfg.MisfireGrace, job.NextRunAt, now)
		log := s.pulseLog.With(logger.FieldScheduleID, job.ID)

		if !d.Fire {
			if err := s.store.AdvanceJob(ctx, job.ID, d.Next, nil, ""); err != nil {
				log.Errorw("Failed to advance dropped trigger", logger.FieldError, err)
				continue
			}
			log.Debugw("Missed slot outside grace, dropped",
				"slot", d.Slot,
				logger.FieldLateness, d.Lateness,
				logger.FieldNextRunAt, d.Next)
			continue
		}

		if execID, busy := s.inFlight(job.ID); busy {
			if err := s.store.AdvanceJob(ctx, job.ID, d.Next, nil, ""); err != nil {
				log.Errorw("Failed to advance skipped trigger", logger.FieldError, err)
				continue
			}
			log.Infow("Previous run still in flight, skipping slot",
				"slot", d.Slot,
				"running_execution_id", execID,
				logger.FieldNextRunAt, d.Next)
			completed := now
			zero := int64(0)
			skipped = append(skipped, &Execution{
				ID:           uuid.NewString(),
				ScheduleID:   job.ID,
				Status:       ExecutionStatusSkipped,
				ErrorMessage: "previous run still in flight: " + execID,
				ScheduledFor: d.Slot,
				StartedAt:    now,
				CompletedAt:  &completed,
				DurationMs:   &zero,
			})
			continue
		}

		exec := &Execution{
			ID:           uuid.NewString(),
			ScheduleID:   job.ID,
			Status:       ExecutionStatusRunning,
			ScheduledFor: d.Slot,
			StartedAt:    now,
		}
		if err := s.store.AdvanceJob(ctx, job.ID, d.Next, &now, exec.ID); err != nil {
			// Left due; the next tick retries
			log.Errorw("Failed to advance trigger, not firing", logger.FieldError, err)
			continue
		}

		s.stateMu.Lock()
		s.inflight[job.ID] = exec.ID
		s.stateMu.Unlock()
		s.runs.Add(1)

		launches = append(launches, launch{job: job, exec: exec})
		if d.Lateness > s.cfg.TickInterval {
			log.Infow("Firing late slot once",
				"slot", d.Slot,
				logger.FieldLateness, d.Lateness.Round(time.Second),
				logger.FieldNextRunAt, d.Next)
		}
	}
	s.mu.Unlock()

	for _, exec := range skipped {
		s.recordCreate(exec)
	}
	for _, l := range launches {
		s.recordCreate(l.exec)
		go s.execute(l.job, l.exec)
	}
	return nil
}

// StageRunSlot marks a run cancelled while it waited for a concurrency slot
const StageRunSlot posting.Stage = "run-slot"

// execute runs one posting session and records its outcome
func (s *Scheduler) execute(job *Job, exec *Execution) {
	defer s.runs.Done()
	defer func() {
		s.stateMu.Lock()
		delete(s.inflight, job.ID)
		s.stateMu.Unlock()
	}()

	ctx := logger.WithScheduleID(s.runCtx, job.ID)
	ctx = logger.WithExecutionID(ctx, exec.ID)
	log := logger.FromContext(ctx, s.pulseLog)

	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.finish(exec, posting.Outcome{Stage: StageRunSlot, Err: errors.Wrap(err, "waiting for a run slot")}, log)
			return
		}
		defer s.sem.Release(1)
	}

	log.Infow("Pulse executing scheduled post",
		logger.FieldAccount, job.Credential.Identifier,
		logger.FieldTitle, job.Listing.Title,
		"slot", exec.ScheduledFor)

	out := s.runner.Run(ctx, job.Credential, job.Listing)
	s.finish(exec, out, log)

	if out.Success {
		if err := s.store.RecordSuccess(context.WithoutCancel(ctx), job.ID, s.clock.Now()); err != nil && !errors.IsNotFoundError(err) {
			log.Errorw("Failed to record successful publication", logger.FieldError, err)
		}
	}
}

func (s *Scheduler) finish(exec *Execution, out posting.Outcome, log *zap.SugaredLogger) {
	completed := s.clock.Now()
	duration := completed.Sub(exec.StartedAt).Milliseconds()
	exec.CompletedAt = &completed
	exec.DurationMs = &duration
	exec.Stage = string(out.Stage)
	exec.Artifact = out.Artifact

	if out.Success {
		exec.Status = ExecutionStatusCompleted
		log.Infow("Pulse OK", logger.FieldDurationMS, duration)
	} else {
		exec.Status = ExecutionStatusFailed
		exec.ErrorMessage = out.ErrorMessage()
		log.Errorw("Pulse FAILED",
			logger.FieldStage, out.Stage,
			logger.FieldArtifact, out.Artifact,
			logger.FieldDurationMS, duration,
			logger.FieldError, out.Err)
	}
	s.recordUpdate(exec)
}

func (s *Scheduler) recordCreate(exec *Execution) {
	if s.executions == nil {
		return
	}
	if err := s.executions.CreateExecution(context.Background(), exec); err != nil {
		// Not critical - history is best-effort
		s.pulseLog.Errorw("Failed to create execution record",
			logger.FieldExecutionID, exec.ID,
			logger.FieldError, err)
	}
}

func (s *Scheduler) recordUpdate(exec *Execution) {
	if s.executions == nil {
		return
	}
	if err := s.executions.UpdateExecution(context.Background(), exec); err != nil {
		s.pulseLog.Errorw("Failed to update execution record",
			logger.FieldExecutionID, exec.ID,
			logger.FieldError, err)
	}
}

// Upsert installs or replaces the trigger for id, anchored at now.
// The trigger is persisted before it can fire; a store failure is returned
// and leaves the previous trigger (if any) unchanged. Runs already in
// flight are not interrupted.
func (s *Scheduler) Upsert(ctx context.Context, id string, interval time.Duration, cred posting.Credential, listing posting.Listing) error {
	return s.Install(ctx, id, interval, cred, listing, true)
}

// Install is Upsert with an initial state. An inactive trigger is written
// in the same statement and does not fire until resumed.
func (s *Scheduler) Install(ctx context.Context, id string, interval time.Duration, cred posting.Credential, listing posting.Listing, active bool) error {
	if id == "" {
		return errors.NewInvalidRequestError("schedule id is required")
	}
	if interval <= 0 {
		return errors.Wrapf(ErrInvalidInterval, "%s must be positive", interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := StateActive
	if !active {
		state = StateInactive
	}

	now := s.clock.Now()
	job := &Job{
		ID:         id,
		Interval:   interval,
		Credential: cred,
		Listing:    listing,
		State:      state,
		AnchorAt:   now,
		NextRunAt:  now.Add(interval),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.UpsertJob(ctx, job); err != nil {
		return errors.Wrapf(err, "persist schedule %s", id)
	}

	s.pulseLog.Infow("Schedule installed",
		logger.FieldScheduleID, id,
		logger.FieldInterval, interval,
		logger.FieldAccount, cred.Identifier,
		logger.FieldState, state,
		logger.FieldNextRunAt, job.NextRunAt)
	return nil
}

// Remove deletes the trigger for id. An unknown id is a logged no-op.
// A run already in flight completes.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted, err := s.store.DeleteJob(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "remove schedule %s", id)
	}
	if !deleted {
		s.pulseLog.Warnw("Attempted to remove non-existent schedule", logger.FieldScheduleID, id)
		return nil
	}
	s.pulseLog.Infow("Schedule removed", logger.FieldScheduleID, id)
	return nil
}

// SetActive pauses or resumes a trigger without deleting it.
// Resuming re-anchors the trigger at now.
func (s *Scheduler) SetActive(ctx context.Context, id string, active bool) error {
	return s.Update(ctx, id, Changes{Active: &active})
}

// Changes is a partial update of an existing trigger. Nil fields are kept.
type Changes struct {
	Interval *time.Duration
	Active   *bool
}

// Update applies changes to the trigger for id in a single write, keeping
// its credential and listing. A new interval or a resume re-anchors the
// trigger at now.
func (s *Scheduler) Update(ctx context.Context, id string, ch Changes) error {
	if ch.Interval == nil && ch.Active == nil {
		return errors.NewInvalidRequestError("no changes for schedule %s", id)
	}
	if ch.Interval != nil && *ch.Interval <= 0 {
		return errors.Wrapf(ErrInvalidInterval, "%s must be positive", *ch.Interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}

	if ch.Active != nil {
		job.State = StateInactive
		if *ch.Active {
			job.State = StateActive
		}
	}
	if ch.Interval != nil || (ch.Active != nil && *ch.Active) {
		now := s.clock.Now()
		if ch.Interval != nil {
			job.Interval = *ch.Interval
		}
		job.AnchorAt, job.NextRunAt = now, now.Add(job.Interval)
	}

	if ch.Interval != nil {
		job.UpdatedAt = s.clock.Now()
		err = s.store.UpsertJob(ctx, job)
	} else {
		err = s.store.SetState(ctx, id, job.State, job.AnchorAt, job.NextRunAt)
	}
	if err != nil {
		return errors.Wrapf(err, "update schedule %s", id)
	}
	s.pulseLog.Infow("Schedule updated",
		logger.FieldScheduleID, id,
		logger.FieldInterval, job.Interval,
		logger.FieldState, job.State,
		logger.FieldNextRunAt, job.NextRunAt)
	return nil
}

// Get returns the persisted trigger for id
func (s *Scheduler) Get(ctx context.Context, id string) (*Job, error) {
	return s.store.GetJob(ctx, id)
}

// List returns every persisted trigger
func (s *Scheduler) List(ctx context.Context) ([]*Job, error) {
	return s.store.ListJobs(ctx)
}

// ListExecutions returns recent run history for id, newest first
func (s *Scheduler) ListExecutions(ctx context.Context, id string, limit int) ([]*Execution, error) {
	if s.executions == nil {
		return []*Execution{}, nil
	}
	return s.executions.ListExecutions(ctx, id, limit)
}

// InFlight reports whether a run for id is executing
func (s *Scheduler) InFlight(id string) bool {
	_, ok := s.inFlight(id)
	return ok
}

func (s *Scheduler) inFlight(id string) (string, bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	execID, ok := s.inflight[id]
	return execID, ok
}

// Stats returns dispatcher statistics
func (s *Scheduler) Stats() Stats {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	return Stats{
		Running:         s.running,
		LastTickAt:      s.lastTickAt,
		TicksSinceStart: s.ticksSinceStart,
		InFlight:        len(s.inflight),
		TickInterval:    s.cfg.TickInterval.String(),
	}
}

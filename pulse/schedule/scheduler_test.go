package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/repost/errors"
	"github.com/teranos/repost/pulse/posting"
)

// fakeRunner counts runs and can hold them open until released
type fakeRunner struct {
	started chan posting.Credential
	release chan struct{}
	outcome posting.Outcome
	calls   atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
}

func newFakeRunner(block bool) *fakeRunner {
	r := &fakeRunner{
		started: make(chan posting.Credential, 16),
		outcome: posting.Outcome{Success: true, Stage: posting.StageDone},
	}
	if block {
		r.release = make(chan struct{})
	}
	return r
}

func (r *fakeRunner) Run(ctx context.Context, cred posting.Credential, listing posting.Listing) posting.Outcome {
	r.calls.Add(1)
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		m := r.maxSeen.Load()
		if n <= m || r.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	r.started <- cred

	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return posting.Outcome{Stage: posting.StageLoginCaptcha, Err: ctx.Err()}
		}
	}
	return r.outcome
}

func (r *fakeRunner) awaitStart(t *testing.T) posting.Credential {
	t.Helper()
	select {
	case c := <-r.started:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("run did not start")
		return posting.Credential{}
	}
}

func waitIdle(t *testing.T, s *Scheduler) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runs did not finish")
	}
}

type schedulerFixture struct {
	store *Store
	execs *ExecutionStore
	clock *clockwork.FakeClock
}

func newFixture(t *testing.T) *schedulerFixture {
	store, execs := newTestStores(t)
	return &schedulerFixture{store: store, execs: execs, clock: clockwork.NewFakeClockAt(t0)}
}

func (f *schedulerFixture) scheduler(t *testing.T, runner Runner, log *zap.SugaredLogger) *Scheduler {
	if log == nil {
		log = zaptest.NewLogger(t).Sugar()
	}
	s := NewScheduler(f.store, runner, DefaultConfig(), log,
		WithClock(f.clock),
		WithExecutionStore(f.execs))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func TestUpsertTwiceKeepsOneTrigger(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(t, newFakeRunner(false), nil)
	ctx := context.Background()
	job := testJob("S1", 0, t0)

	require.NoError(t, s.Upsert(ctx, "S1", 12*time.Hour, job.Credential, job.Listing))
	f.clock.Advance(time.Hour)
	require.NoError(t, s.Upsert(ctx, "S1", 6*time.Hour, job.Credential, job.Listing))

	jobs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 6*time.Hour, jobs[0].Interval)
	assert.Equal(t, t0.Add(time.Hour), jobs[0].AnchorAt)
	assert.Equal(t, t0.Add(7*time.Hour), jobs[0].NextRunAt)
}

func TestUpsertRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(t, newFakeRunner(false), nil)
	job := testJob("S1", 0, t0)

	err := s.Upsert(context.Background(), "S1", 0, job.Credential, job.Listing)
	assert.True(t, errors.Is(err, ErrInvalidInterval))

	err = s.Upsert(context.Background(), "", time.Hour, job.Credential, job.Listing)
	assert.True(t, errors.IsInvalidRequestError(err))
}

// failingStore fails every write
type failingStore struct {
	*Store
	err error
}

func (f *failingStore) UpsertJob(ctx context.Context, job *Job) error {
	return f.err
}

func (f *failingStore) DeleteJob(ctx context.Context, id string) (bool, error) {
	return false, f.err
}

func TestUpsertPersistenceFailurePropagates(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("disk full")
	store := &failingStore{Store: f.store, err: boom}
	s := NewScheduler(store, newFakeRunner(false), DefaultConfig(), zaptest.NewLogger(t).Sugar(), WithClock(f.clock))
	job := testJob("S1", 0, t0)

	err := s.Upsert(context.Background(), "S1", time.Hour, job.Credential, job.Listing)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))

	jobs, err := f.store.ListJobs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs, "nothing installed")

	err = s.Remove(context.Background(), "S1")
	assert.True(t, errors.Is(err, boom))
}

func TestRemoveUnknownIsNoOp(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFixture(t)
	s := f.scheduler(t, newFakeRunner(false), zap.New(core).Sugar())

	require.NoError(t, s.Remove(context.Background(), "ghost"))

	entries := logs.FilterMessage("Attempted to remove non-existent schedule").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ghost", entries[0].ContextMap()["schedule_id"])
}

func TestRemoveStopsFiring(t *testing.T) {
	f := newFixture(t)
	runner := newFakeRunner(false)
	s := f.scheduler(t, runner, nil)
	ctx := context.Background()
	job := testJob("S1", 0, t0)

	require.NoError(t, s.Upsert(ctx, "S1", time.Hour, job.Credential, job.Listing))
	require.NoError(t, s.Remove(ctx, "S1"))

	f.clock.Advance(time.Hour)
	require.NoError(t, s.tick(ctx))
	waitIdle(t, s)
	assert.Equal(t, int32(0), runner.calls.Load())
}

func TestTickFiresDueSlotAndAdvances(t *testing.T) {
	f := newFixture(t)
	runner := newFakeRunner(false)
	s := f.scheduler(t, runner, nil)
	ctx := context.Background()
	job := testJob("S1", 0, t0)

	require.NoError(t, s.Upsert(ctx, "S1", time.Hour, job.Credential, job.Listing))

	f.clock.Advance(59 * time.Minute)
	require.NoError(t, s.tick(ctx))
	assert.Equal(t, int32(0), runner.calls.Load(), "not due yet")

	f.clock.Advance(time.Minute)
	require.NoError(t, s.tick(ctx))
	cred := runner.awaitStart(t)
	assert.Equal(t, "S1@example.com", cred.Identifier)
	waitIdle(t, s)

	got, err := s.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(2*time.Hour), got.NextRunAt)
	require.NotNil(t, got.LastRunAt)
	assert.Equal(t, t0.Add(time.Hour), *got.LastRunAt)
	require.NotNil(t, got.LastSuccessAt)

	execs, err := s.ListExecutions(ctx, "S1", 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, ExecutionStatusCompleted, execs[0].Status)
	assert.Equal(t, string(posting.StageDone), execs[0].Stage)
	assert.Equal(t, t0.Add(time.Hour), execs[0].ScheduledFor)
	assert.Equal(t, got.LastExecutionID, execs[0].ID)

	// same instant again: nothing more to do
	require.NoError(t, s.tick(ctx))
	waitIdle(t, s)
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestRestartCatchUpFiresOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := testJob("S1", 0, t0)

	first := f.scheduler(t, newFakeRunner(false), nil)
	require.NoError(t, first.Upsert(ctx, "S1", 12*time.Hour, job.Credential, job.Listing))
	require.NoError(t, first.Stop(ctx))

	// process down across the T0+12h slot
	f.clock.Advance(12*time.Hour + 30*time.Minute)

	runner := newFakeRunner(false)
	second := f.scheduler(t, runner, nil)
	require.NoError(t, second.Start(ctx))
	runner.awaitStart(t)
	waitIdle(t, second)

	require.NoError(t, second.tick(ctx))
	waitIdle(t, second)
	assert.Equal(t, int32(1), runner.calls.Load(), "exactly one catch-up run")

	got, err := second.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(24*time.Hour), got.NextRunAt)

	execs, err := second.ListExecutions(ctx, "S1", 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, t0.Add(12*time.Hour), execs[0].ScheduledFor)
}

func TestRestartBeyondGraceDrops(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := testJob("S1", 0, t0)

	first := f.scheduler(t, newFakeRunner(false), nil)
	require.NoError(t, first.Upsert(ctx, "S1", 12*time.Hour, job.Credential, job.Listing))
	require.NoError(t, first.Stop(ctx))

	f.clock.Advance(50 * time.Hour)

	runner := newFakeRunner(false)
	second := f.scheduler(t, runner, nil)
	require.NoError(t, second.Start(ctx))
	waitIdle(t, second)

	assert.Equal(t, int32(0), runner.calls.Load())
	got, err := second.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(60*time.Hour), got.NextRunAt)
	assert.Nil(t, got.LastRunAt)
}

func TestOverlappingFiringIsSkipped(t *testing.T) {
	f := newFixture(t)
	runner := newFakeRunner(true)
	s := f.scheduler(t, runner, nil)
	ctx := context.Background()
	job := testJob("S1", 0, t0)

	require.NoError(t, s.Upsert(ctx, "S1", time.Minute, job.Credential, job.Listing))

	f.clock.Advance(time.Minute)
	require.NoError(t, s.tick(ctx))
	runner.awaitStart(t)
	assert.True(t, s.InFlight("S1"))

	f.clock.Advance(time.Minute)
	require.NoError(t, s.tick(ctx))
	f.clock.Advance(time.Minute)
	require.NoError(t, s.tick(ctx))

	assert.Equal(t, int32(1), runner.calls.Load(), "one in-flight session per schedule")

	close(runner.release)
	waitIdle(t, s)
	assert.False(t, s.InFlight("S1"))
	assert.Equal(t, int32(1), runner.maxSeen.Load())

	execs, err := s.ListExecutions(ctx, "S1", 10)
	require.NoError(t, err)
	var completed, skipped int
	for _, e := range execs {
		switch e.Status {
		case ExecutionStatusCompleted:
			completed++
		case ExecutionStatusSkipped:
			skipped++
		}
	}
	assert.Equal(t, 1, completed)
	assert.Equal(t, 2, skipped)

	got, err := s.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(4*time.Minute), got.NextRunAt, "skipped slots still advance")
}

func TestFailedRunIsRecordedAndDispatchContinues(t *testing.T) {
	f := newFixture(t)
	runner := newFakeRunner(false)
	runner.outcome = posting.Outcome{
		Stage:    posting.StageLoginTimeout,
		Artifact: "diagnostics/login-timeout.png",
		Err:      errors.New("login not confirmed within 15s"),
	}
	s := f.scheduler(t, runner, nil)
	ctx := context.Background()
	a, b := testJob("A", 0, t0), testJob("B", 0, t0)

	require.NoError(t, s.Upsert(ctx, "A", time.Hour, a.Credential, a.Listing))
	require.NoError(t, s.Upsert(ctx, "B", time.Hour, b.Credential, b.Listing))

	f.clock.Advance(time.Hour)
	require.NoError(t, s.tick(ctx))
	waitIdle(t, s)
	assert.Equal(t, int32(2), runner.calls.Load())

	execs, err := s.ListExecutions(ctx, "A", 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, ExecutionStatusFailed, execs[0].Status)
	assert.Equal(t, "login-timeout", execs[0].Stage)
	assert.Equal(t, "diagnostics/login-timeout.png", execs[0].Artifact)
	assert.Contains(t, execs[0].ErrorMessage, "login not confirmed")

	got, err := s.Get(ctx, "A")
	require.NoError(t, err)
	assert.Nil(t, got.LastSuccessAt)
	assert.Equal(t, t0.Add(2*time.Hour), got.NextRunAt)
}

func TestSetActive(t *testing.T) {
	f := newFixture(t)
	runner := newFakeRunner(false)
	s := f.scheduler(t, runner, nil)
	ctx := context.Background()
	job := testJob("S1", 0, t0)

	require.NoError(t, s.Upsert(ctx, "S1", time.Hour, job.Credential, job.Listing))
	require.NoError(t, s.SetActive(ctx, "S1", false))

	f.clock.Advance(3 * time.Hour)
	require.NoError(t, s.tick(ctx))
	waitIdle(t, s)
	assert.Equal(t, int32(0), runner.calls.Load(), "inactive triggers do not fire")

	require.NoError(t, s.SetActive(ctx, "S1", true))
	got, err := s.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, StateActive, got.State)
	assert.Equal(t, t0.Add(3*time.Hour), got.AnchorAt, "re-anchored at activation")
	assert.Equal(t, t0.Add(4*time.Hour), got.NextRunAt)

	err = s.SetActive(ctx, "ghost", true)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestConcurrencyCap(t *testing.T) {
	f := newFixture(t)
	runner := newFakeRunner(true)
	cfg := DefaultConfig()
	cfg.MaxConcurrentRuns = 1
	s := NewScheduler(f.store, runner, cfg, zaptest.NewLogger(t).Sugar(), WithClock(f.clock))
	ctx := context.Background()

	for _, id := range []string{"A", "B", "C"} {
		j := testJob(id, 0, t0)
		require.NoError(t, s.Upsert(ctx, id, time.Hour, j.Credential, j.Listing))
	}
	f.clock.Advance(time.Hour)
	require.NoError(t, s.tick(ctx))

	runner.awaitStart(t)
	assert.Equal(t, int32(1), runner.calls.Load(), "other runs wait for the semaphore")
	assert.True(t, s.InFlight("A") && s.InFlight("B") && s.InFlight("C"))

	close(runner.release)
	waitIdle(t, s)
	assert.Equal(t, int32(3), runner.calls.Load())
	assert.Equal(t, int32(1), runner.maxSeen.Load())
}

func TestStartLoopFiresOnTicker(t *testing.T) {
	f := newFixture(t)
	runner := newFakeRunner(false)
	s := f.scheduler(t, runner, nil)
	ctx := context.Background()
	job := testJob("S1", 0, t0)

	require.NoError(t, s.Upsert(ctx, "S1", time.Minute, job.Credential, job.Listing))
	require.NoError(t, s.Start(ctx))
	assert.True(t, s.Stats().Running)

	bctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(bctx, 1))
	f.clock.Advance(time.Minute)

	runner.awaitStart(t)
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.Stats().Running)
	assert.Positive(t, s.Stats().TicksSinceStart)
}

func TestStopWaitsForInFlightRun(t *testing.T) {
	f := newFixture(t)
	runner := newFakeRunner(true)
	s := f.scheduler(t, runner, nil)
	ctx := context.Background()
	job := testJob("S1", 0, t0)

	require.NoError(t, s.Upsert(ctx, "S1", time.Minute, job.Credential, job.Listing))
	f.clock.Advance(time.Minute)
	require.NoError(t, s.Start(ctx))
	runner.awaitStart(t)

	var stopped sync.WaitGroup
	stopped.Add(1)
	var stopErr error
	go func() {
		defer stopped.Done()
		stopErr = s.Stop(ctx)
	}()

	close(runner.release)
	stopped.Wait()
	require.NoError(t, stopErr)

	execs, err := s.ListExecutions(ctx, "S1", 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, ExecutionStatusCompleted, execs[0].Status)
}

func TestStopDeadlineCancelsRuns(t *testing.T) {
	f := newFixture(t)
	runner := newFakeRunner(true)
	s := f.scheduler(t, runner, nil)
	ctx := context.Background()
	job := testJob("S1", 0, t0)

	require.NoError(t, s.Upsert(ctx, "S1", time.Minute, job.Credential, job.Listing))
	f.clock.Advance(time.Minute)
	require.NoError(t, s.Start(ctx))
	runner.awaitStart(t)

	stopCtx, cancel := context.WithCancel(ctx)
	cancel()
	err := s.Stop(stopCtx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	execs, err := s.ListExecutions(ctx, "S1", 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, ExecutionStatusFailed, execs[0].Status)
}

// writeCountingStore counts trigger writes
type writeCountingStore struct {
	*Store
	upserts   int
	setStates int
}

func (w *writeCountingStore) UpsertJob(ctx context.Context, job *Job) error {
	w.upserts++
	return w.Store.UpsertJob(ctx, job)
}

func (w *writeCountingStore) SetState(ctx context.Context, id, state string, anchor, next time.Time) error {
	w.setStates++
	return w.Store.SetState(ctx, id, state, anchor, next)
}

func TestInstallPausedIsOneWrite(t *testing.T) {
	f := newFixture(t)
	store := &writeCountingStore{Store: f.store}
	runner := newFakeRunner(false)
	s := NewScheduler(store, runner, DefaultConfig(), zaptest.NewLogger(t).Sugar(), WithClock(f.clock))
	ctx := context.Background()
	job := testJob("S1", 0, t0)

	require.NoError(t, s.Install(ctx, "S1", time.Hour, job.Credential, job.Listing, false))
	assert.Equal(t, 1, store.upserts)
	assert.Zero(t, store.setStates)

	got, err := s.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, StateInactive, got.State)

	f.clock.Advance(2 * time.Hour)
	require.NoError(t, s.tick(ctx))
	waitIdle(t, s)
	assert.Zero(t, runner.calls.Load(), "paused install does not fire")
}

func TestUpdateInterval(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(t, newFakeRunner(false), nil)
	ctx := context.Background()
	job := testJob("S1", 0, t0)

	require.NoError(t, s.Upsert(ctx, "S1", 12*time.Hour, job.Credential, job.Listing))
	f.clock.Advance(time.Hour)

	six := 6 * time.Hour
	require.NoError(t, s.Update(ctx, "S1", Changes{Interval: &six}))

	got, err := s.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, six, got.Interval)
	assert.Equal(t, StateActive, got.State)
	assert.Equal(t, t0.Add(time.Hour), got.AnchorAt)
	assert.Equal(t, t0.Add(7*time.Hour), got.NextRunAt)
	assert.Equal(t, job.Credential, got.Credential, "stored credential is kept")
	assert.Equal(t, job.Listing, got.Listing)
	assert.Equal(t, t0, got.CreatedAt)

	off := false
	two := 2 * time.Hour
	require.NoError(t, s.Update(ctx, "S1", Changes{Interval: &two, Active: &off}))
	got, err = s.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, two, got.Interval)
	assert.Equal(t, StateInactive, got.State)

	zero := time.Duration(0)
	assert.True(t, errors.Is(s.Update(ctx, "S1", Changes{Interval: &zero}), ErrInvalidInterval))
	assert.True(t, errors.IsInvalidRequestError(s.Update(ctx, "S1", Changes{})))
	assert.True(t, errors.IsNotFoundError(s.Update(ctx, "ghost", Changes{Interval: &two})))
}

func TestRestartAfterCancelledStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var calls atomic.Int32
	started := make(chan struct{}, 1)
	secondCtxErr := make(chan error, 1)
	runner := RunnerFunc(func(ctx context.Context, cred posting.Credential, l posting.Listing) posting.Outcome {
		if calls.Add(1) == 1 {
			started <- struct{}{}
			<-ctx.Done()
			return posting.Outcome{Stage: posting.StageLoginCaptcha, Err: ctx.Err()}
		}
		secondCtxErr <- ctx.Err()
		return posting.Outcome{Success: true, Stage: posting.StageDone}
	})
	s := f.scheduler(t, runner, nil)
	job := testJob("S1", 0, t0)

	require.NoError(t, s.Upsert(ctx, "S1", time.Minute, job.Credential, job.Listing))
	f.clock.Advance(time.Minute)
	require.NoError(t, s.Start(ctx))
	<-started

	stopCtx, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, s.Stop(stopCtx))

	f.clock.Advance(time.Minute)
	require.NoError(t, s.Start(ctx))
	select {
	case err := <-secondCtxErr:
		assert.NoError(t, err, "runs after a restart get a live context")
	case <-time.After(5 * time.Second):
		t.Fatal("run did not start after restart")
	}
	waitIdle(t, s)

	execs, err := s.ListExecutions(ctx, "S1", 10)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, ExecutionStatusCompleted, execs[0].Status)
}

func TestCancelledWhileWaitingForSlot(t *testing.T) {
	f := newFixture(t)
	runner := newFakeRunner(true)
	cfg := DefaultConfig()
	cfg.MaxConcurrentRuns = 1
	s := NewScheduler(f.store, runner, cfg, zaptest.NewLogger(t).Sugar(),
		WithClock(f.clock), WithExecutionStore(f.execs))
	ctx := context.Background()

	for _, id := range []string{"A", "B"} {
		j := testJob(id, 0, t0)
		require.NoError(t, s.Upsert(ctx, id, time.Hour, j.Credential, j.Listing))
	}
	f.clock.Advance(time.Hour)
	require.NoError(t, s.Start(ctx))
	first := runner.awaitStart(t)

	stopCtx, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, s.Stop(stopCtx))

	waiting := "A"
	if first.Identifier == "A@example.com" {
		waiting = "B"
	}
	execs, err := s.ListExecutions(ctx, waiting, 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, ExecutionStatusFailed, execs[0].Status)
	assert.Equal(t, string(StageRunSlot), execs[0].Stage)
	assert.Contains(t, execs[0].ErrorMessage, "run slot")
	assert.Equal(t, int32(1), runner.calls.Load())
}

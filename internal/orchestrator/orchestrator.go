// Package orchestrator drives one backup attempt through dump, upload and
// notification, and owns the single-retry policy.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/kebairia/backupd/internal/artifact"
	"github.com/kebairia/backupd/internal/dump"
	"github.com/kebairia/backupd/internal/notify"
	"github.com/kebairia/backupd/internal/storage"
	"gopkg.in/tomb.v2"
)

const (
	// MaxAttempts bounds a cadence cycle: the first run plus one retry.
	MaxAttempts = 2

	queueSize     = 2
	notifyTimeout = time.Minute
)

// ErrPanic wraps a panic recovered inside an attempt.
var ErrPanic = errors.New("backup attempt panicked")

// Dumper produces the local artifact.
type Dumper interface {
	Run(ctx context.Context) (dump.Result, error)
}

// Uploader pushes the artifact to the object store.
type Uploader interface {
	Upload(ctx context.Context, destinationName, localPath, region, bucket string) (storage.Locator, error)
}

// Config holds the orchestrator's collaborators and constants.
type Config struct {
	Product    string
	Region     string
	Bucket     string
	RetryDelay time.Duration

	// Namer.Ext may be left empty to follow the dumped artifact's extension.
	Namer artifact.Namer

	Dumper   Dumper
	Uploader Uploader
	Notifier notify.Notifier

	Clock clock.Clock
	Sink  Sink
}

// Validate returns an error if the config cannot drive an orchestrator.
func (c Config) Validate() error {
	if c.Product == "" {
		return errors.New("empty Product not valid")
	}
	if c.Bucket == "" {
		return errors.New("empty Bucket not valid")
	}
	if c.RetryDelay <= 0 {
		return errors.New("non-positive RetryDelay not valid")
	}
	if c.Dumper == nil {
		return errors.New("nil Dumper not valid")
	}
	if c.Uploader == nil {
		return errors.New("nil Uploader not valid")
	}
	if c.Notifier == nil {
		return errors.New("nil Notifier not valid")
	}
	return nil
}

type workItem struct {
	attempt int
}

// Orchestrator runs backup attempts on a single worker. Ticks and the
// retry are work items on the same queue, so at most one attempt runs at
// a time and at most one retry is ever pending.
type Orchestrator struct {
	cfg   Config
	clock clock.Clock
	sink  Sink
	queue chan workItem

	tomb    tomb.Tomb
	started bool

	mu    sync.Mutex
	state State
	retry clock.Timer
}

// New validates cfg and returns an idle Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Namer.Product == "" {
		cfg.Namer.Product = cfg.Product
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	sink := cfg.Sink
	if sink == nil {
		sink = Sinks(nil)
	}
	return &Orchestrator{
		cfg:   cfg,
		clock: clk,
		sink:  sink,
		queue: make(chan workItem, queueSize),
		state: StateIdle,
	}, nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) emit(e Event) {
	e.Time = o.clock.Now()
	o.sink.Emit(e)
}

// RunAttempt executes one attempt synchronously and notifies the operator
// exactly once. It does not schedule a retry.
func (o *Orchestrator) RunAttempt(ctx context.Context, attempt int) BackupRun {
	run := BackupRun{
		ID:          uuid.NewString(),
		TriggeredAt: o.clock.Now(),
		Attempt:     attempt,
	}
	o.setState(StateRunning)
	o.emit(Event{Kind: EventRunStarted, RunID: run.ID, Attempt: attempt})

	o.execute(ctx, &run)
	run.Duration = o.clock.Now().Sub(run.TriggeredAt)

	if run.Succeeded() {
		o.setState(StateSucceeded)
		o.emit(Event{Kind: EventRunSucceeded, RunID: run.ID, Attempt: attempt,
			Detail: run.Locator.URL, Duration: run.Duration})
	} else {
		o.setState(StateFailed)
		o.emit(Event{Kind: EventRunFailed, RunID: run.ID, Attempt: attempt,
			Err: run.Err, Duration: run.Duration})
	}

	o.report(ctx, run)
	return run
}

func (o *Orchestrator) execute(ctx context.Context, run *BackupRun) {
	defer func() {
		if r := recover(); r != nil {
			run.fail(fmt.Errorf("%w: %v", ErrPanic, r))
		}
	}()

	res, err := o.cfg.Dumper.Run(ctx)
	if err != nil {
		o.emit(Event{Kind: EventDumpFailed, RunID: run.ID, Attempt: run.Attempt, Err: err})
		run.fail(err)
		return
	}
	if res.ArtifactPath == "" {
		err := fmt.Errorf("%w: no artifact reported", dump.ErrDumpFailed)
		o.emit(Event{Kind: EventDumpFailed, RunID: run.ID, Attempt: run.Attempt, Err: err})
		run.fail(err)
		return
	}
	o.emit(Event{Kind: EventDumpCompleted, RunID: run.ID, Attempt: run.Attempt,
		Detail: res.ArtifactPath, Duration: res.Duration})

	namer := o.cfg.Namer
	if namer.Ext == "" {
		namer = namer.WithExt(artifact.ExtOf(res.ArtifactPath))
	}
	run.ArtifactName = namer.Name(o.clock.Now())

	loc, err := o.cfg.Uploader.Upload(ctx, run.ArtifactName, res.ArtifactPath, o.cfg.Region, o.cfg.Bucket)
	if err != nil {
		o.emit(Event{Kind: EventUploadFailed, RunID: run.ID, Attempt: run.Attempt, Err: err})
		run.fail(err)
		return
	}
	o.emit(Event{Kind: EventUploadCompleted, RunID: run.ID, Attempt: run.Attempt, Detail: loc.URL})

	run.Locator = &loc
	run.Outcome = OutcomeSucceeded
}

// Subject returns the report subject for an outcome.
func Subject(product string, outcome Outcome) string {
	if outcome == OutcomeSucceeded {
		return fmt.Sprintf("%s database backup succeed", product)
	}
	return fmt.Sprintf("%s database backup failed!", product)
}

// report sends the single notification for run. Delivery problems are
// emitted and otherwise ignored.
func (o *Orchestrator) report(ctx context.Context, run BackupRun) {
	subject := Subject(o.cfg.Product, run.Outcome)

	detail := run.Failure()
	if run.Succeeded() {
		data, err := json.MarshalIndent(run.Locator, "", "  ")
		if err != nil {
			detail = fmt.Sprintf("%+v", *run.Locator)
		} else {
			detail = string(data)
		}
	}

	// Report even when the attempt was cancelled by shutdown.
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := o.notify(nctx, subject, notify.Compose(subject, detail)); err != nil {
		o.emit(Event{Kind: EventNotifyFailed, RunID: run.ID, Attempt: run.Attempt, Err: err})
	}
}

func (o *Orchestrator) notify(ctx context.Context, subject, body string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: notifier: %v", ErrPanic, r)
		}
	}()
	return o.cfg.Notifier.Notify(ctx, subject, body)
}

// RunCycle runs the first attempt and, if it fails, waits the retry delay
// on the clock and runs the second. It is meant for one-shot use and must
// not be mixed with Start on the same Orchestrator.
func (o *Orchestrator) RunCycle(ctx context.Context) []BackupRun {
	first := o.RunAttempt(ctx, 1)
	runs := []BackupRun{first}
	if first.Succeeded() {
		return runs
	}

	o.setState(StateRetryScheduled)
	o.emit(Event{Kind: EventRetryScheduled, RunID: first.ID, Attempt: first.Attempt,
		Detail: "retry in " + o.cfg.RetryDelay.String()})

	select {
	case <-ctx.Done():
		o.emit(Event{Kind: EventRetryDropped, RunID: first.ID, Attempt: first.Attempt, Err: ctx.Err()})
		return runs
	case <-o.clock.After(o.cfg.RetryDelay):
	}
	return append(runs, o.RunAttempt(ctx, 2))
}

// Start launches the worker.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return
	}
	o.started = true
	o.tomb.Go(o.loop)
}

// Trigger enqueues a first attempt. It never blocks; a tick that finds the
// queue full is dropped. Suitable as a scheduler callback.
func (o *Orchestrator) Trigger() {
	o.enqueue(workItem{attempt: 1})
}

func (o *Orchestrator) enqueue(item workItem) bool {
	select {
	case <-o.tomb.Dying():
		// Ticks racing shutdown are ignored; a retry is still accounted for.
		if item.attempt > 1 {
			o.emit(Event{Kind: EventRetryDropped, Attempt: item.attempt, Detail: "shutdown"})
		}
		return false
	default:
	}
	select {
	case o.queue <- item:
		return true
	default:
		o.drop(item, "worker busy")
		return false
	}
}

func (o *Orchestrator) drop(item workItem, reason string) {
	kind := EventTickDropped
	if item.attempt > 1 {
		kind = EventRetryDropped
	}
	o.emit(Event{Kind: kind, Attempt: item.attempt, Detail: reason})
}

func (o *Orchestrator) loop() error {
	ctx := o.tomb.Context(nil)
	for {
		select {
		case <-o.tomb.Dying():
			return nil
		case item := <-o.queue:
			select {
			case <-o.tomb.Dying():
				o.drop(item, "shutdown")
				return nil
			default:
			}
			run := o.RunAttempt(ctx, item.attempt)
			if !run.Succeeded() && item.attempt < MaxAttempts {
				o.scheduleRetry(run)
			}
		}
	}
}

func (o *Orchestrator) scheduleRetry(failed BackupRun) {
	o.mu.Lock()
	if o.retry != nil {
		o.mu.Unlock()
		o.emit(Event{Kind: EventRetryDropped, RunID: failed.ID, Attempt: failed.Attempt,
			Detail: "retry already pending"})
		return
	}
	o.state = StateRetryScheduled
	o.retry = o.clock.AfterFunc(o.cfg.RetryDelay, func() {
		o.mu.Lock()
		o.retry = nil
		o.mu.Unlock()
		o.enqueue(workItem{attempt: failed.Attempt + 1})
	})
	o.mu.Unlock()

	o.emit(Event{Kind: EventRetryScheduled, RunID: failed.ID, Attempt: failed.Attempt,
		Detail: "retry in " + o.cfg.RetryDelay.String()})
}

// RetryPending reports whether a retry timer is armed.
func (o *Orchestrator) RetryPending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.retry != nil
}

// Stop cancels the in-flight attempt, waits for the worker and drops any
// pending retry. Pending retries are not persisted.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	started := o.started
	o.mu.Unlock()

	o.tomb.Kill(nil)
	var err error
	if started {
		err = o.tomb.Wait()
	}

	o.mu.Lock()
	t := o.retry
	o.retry = nil
	o.mu.Unlock()
	if t != nil && t.Stop() {
		o.emit(Event{Kind: EventRetryDropped, Detail: "shutdown"})
	}
	return err
}

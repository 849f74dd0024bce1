package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fecingest/internal/config"
	"fecingest/internal/envelope"
	"fecingest/internal/handoff"
	"fecingest/internal/ledger"
	"fecingest/internal/logging"
	"fecingest/internal/notifications"
	"fecingest/internal/pipeline"
	"fecingest/internal/pipelines"
	"fecingest/internal/services"
)

// Dispatcher runs ledger rows through registered pipelines.
type Dispatcher struct {
	cfg      *config.Config
	store    *ledger.Store
	logger   *slog.Logger
	notifier notifications.Service
	external handoff.Trigger
	locks    *KeyLocks
	runner   *pipeline.Runner

	workers      int
	pollInterval time.Duration
	stuckAfter   time.Duration
	heartbeat    time.Duration

	catalog *pipelines.Catalog
	router  *handoff.Router
	wake    chan struct{}

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	lastRun *ledger.Run
}

// Option configures optional Dispatcher behavior.
type Option func(*Dispatcher)

// WithNotifier replaces the ntfy notifier built from config.
func WithNotifier(n notifications.Service) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

// WithExternal sets the trigger for targets that are not local pipelines.
// The default records them in the ledger's handoffs table.
func WithExternal(t handoff.Trigger) Option {
	return func(d *Dispatcher) { d.external = t }
}

// WithSleep replaces the retry wait of the pipeline runner.
func WithSleep(sleep pipeline.SleepFunc) Option {
	return func(d *Dispatcher) { d.runner.Sleep = sleep }
}

// WithPollInterval overrides scheduler.poll_interval.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Dispatcher) { d.pollInterval = interval }
}

// WithHeartbeat overrides the interval at which workers refresh the runs they
// own.
func WithHeartbeat(interval time.Duration) Option {
	return func(d *Dispatcher) { d.heartbeat = interval }
}

// New constructs a Dispatcher. Register must be called before Start.
func New(cfg *config.Config, store *ledger.Store, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String("component", "dispatcher"))
	d := &Dispatcher{
		cfg:          cfg,
		store:        store,
		logger:       logger,
		notifier:     notifications.NewService(cfg),
		external:     handoff.NewLedgerOutbox(store, logger),
		locks:        NewKeyLocks(cfg.LockDir()),
		runner:       pipeline.NewRunner(logger, cfg.Pipelines.StrictEnvelope, ledger.NewStageRecorder(store)),
		workers:      cfg.Scheduler.Workers,
		pollInterval: cfg.PollInterval(),
		stuckAfter:   cfg.StuckAfter(),
		heartbeat:    cfg.HeartbeatInterval(),
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.workers < 1 {
		d.workers = 1
	}
	if d.pollInterval <= 0 {
		d.pollInterval = time.Second
	}
	return d
}

// Register installs the pipelines the dispatcher runs locally. Every other
// hand-off target goes to the external trigger.
func (d *Dispatcher) Register(catalog *pipelines.Catalog) {
	local := handoff.Func(d.enqueueHandoff)
	router := handoff.NewRouter(d.external)
	for _, id := range catalog.IDs() {
		router.Route(id, local)
	}
	d.mu.Lock()
	d.catalog = catalog
	d.router = router
	d.mu.Unlock()
}

// Trigger implements handoff.Trigger.
func (d *Dispatcher) Trigger(ctx context.Context, target string, env envelope.Envelope) error {
	d.mu.RLock()
	router := d.router
	d.mu.RUnlock()
	if router == nil {
		return services.Wrap(services.ErrHandoff, "handoff", "trigger "+target, "dispatcher has no pipelines registered", nil)
	}
	return router.Trigger(ctx, target, env)
}

func (d *Dispatcher) enqueueHandoff(ctx context.Context, target string, env envelope.Envelope) error {
	record := handoff.NewRecord(ctx, target, env)
	run, created, err := d.store.Enqueue(ctx, ledger.Submission{
		Pipeline:       target,
		Conf:           env.RawMap(),
		UpstreamRunID:  record.UpstreamRunID,
		IdempotencyKey: record.IdempotencyKey,
	})
	if err != nil {
		return services.Wrap(services.ErrHandoff, "handoff", "enqueue "+target, "", err)
	}
	logger := logging.WithContext(ctx, d.logger)
	if !created {
		logger.Info("duplicate handoff ignored",
			logging.String(logging.FieldEventType, "handoff_duplicate"),
			logging.String("target", target),
			logging.String("existing_run_id", run.ID),
		)
		return nil
	}
	logger.Info("downstream run queued",
		logging.String(logging.FieldEventType, "handoff_enqueued"),
		logging.String("target", target),
		logging.String("downstream_run_id", run.ID),
	)
	d.signal()
	return nil
}

// Submit enqueues a manually requested run.
func (d *Dispatcher) Submit(ctx context.Context, pipelineID string, conf map[string]any) (*ledger.Run, error) {
	d.mu.RLock()
	catalog := d.catalog
	d.mu.RUnlock()
	if catalog == nil {
		return nil, errors.New("dispatcher has no pipelines registered")
	}
	if _, err := catalog.Get(pipelineID); err != nil {
		return nil, err
	}
	run, _, err := d.store.Enqueue(ctx, ledger.Submission{Pipeline: pipelineID, Conf: conf})
	if err != nil {
		return nil, err
	}
	d.logger.Info("run submitted",
		logging.String(logging.FieldEventType, "run_submitted"),
		logging.String(logging.FieldRunID, run.ID),
		logging.String(logging.FieldPipeline, pipelineID),
		logging.String(logging.FieldName, run.Name),
		logging.String(logging.FieldCycle, run.Cycle),
	)
	d.signal()
	return run, nil
}

// Notifier returns the notification service runs report to.
func (d *Dispatcher) Notifier() notifications.Service {
	return d.notifier
}

func (d *Dispatcher) recoveryGrace() time.Duration {
	if d.heartbeat > 0 {
		return 2 * d.heartbeat
	}
	return d.stuckAfter
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// RecoverInterrupted returns runs left in running state by a previous
// process to pending. A run counts as interrupted once it has missed two
// heartbeats, so runs still owned by another process, such as a concurrent
// CLI drain, are left alone.
func (d *Dispatcher) RecoverInterrupted(ctx context.Context) (int64, error) {
	reset, err := d.store.ResetStuck(ctx, d.recoveryGrace())
	if err != nil {
		return 0, err
	}
	if reset > 0 {
		d.logger.Info("interrupted runs requeued",
			logging.String(logging.FieldEventType, "runs_recovered"),
			logging.Int64("count", reset),
		)
		d.signal()
	}
	return reset, nil
}

// Start launches the worker pool.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("dispatcher already running")
	}
	if d.catalog == nil {
		d.mu.Unlock()
		return errors.New("dispatcher has no pipelines registered")
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.wg.Add(d.workers)
	d.mu.Unlock()

	for i := 0; i < d.workers; i++ {
		go d.worker(runCtx, i+1)
	}
	d.logger.Info("dispatcher started",
		logging.Int("workers", d.workers),
		logging.Duration("poll_interval", d.pollInterval),
	)
	return nil
}

// Stop cancels the workers and waits for in-flight runs to return.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	cancel()
	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

// Drain starts the workers, waits until the ledger has no pending or running
// runs, and stops them.
func (d *Dispatcher) Drain(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	defer d.Stop()

	check := d.pollInterval / 4
	if check <= 0 || check > 250*time.Millisecond {
		check = 250 * time.Millisecond
	}
	ticker := time.NewTicker(check)
	defer ticker.Stop()
	for {
		active, err := d.store.HasActive(ctx)
		if err != nil {
			return fmt.Errorf("check active runs: %w", err)
		}
		if !active {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// StatusSummary reports dispatcher diagnostics.
type StatusSummary struct {
	Running   bool
	Workers   int
	LastError string
	LastRun   *ledger.Run
	Runs      map[pipeline.State]int
}

// Status returns the latest dispatcher information.
func (d *Dispatcher) Status(ctx context.Context) StatusSummary {
	d.mu.RLock()
	summary := StatusSummary{Running: d.running, Workers: d.workers}
	if d.lastErr != nil {
		summary.LastError = d.lastErr.Error()
	}
	if d.lastRun != nil {
		last := *d.lastRun
		summary.LastRun = &last
	}
	d.mu.RUnlock()

	stats, err := d.store.Stats(ctx)
	if err != nil {
		d.logger.Warn("failed to read ledger stats", logging.Error(err))
	}
	summary.Runs = stats
	return summary
}

func (d *Dispatcher) setLastError(err error) {
	d.mu.Lock()
	d.lastErr = err
	d.mu.Unlock()
}

func (d *Dispatcher) setLastRun(run *ledger.Run) {
	d.mu.Lock()
	if run != nil {
		snapshot := *run
		d.lastRun = &snapshot
	} else {
		d.lastRun = nil
	}
	d.mu.Unlock()
}

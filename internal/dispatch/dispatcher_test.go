package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fecingest/internal/blobsink"
	"fecingest/internal/config"
	"fecingest/internal/envelope"
	"fecingest/internal/ledger"
	"fecingest/internal/pipeline"
	"fecingest/internal/pipelines"
	"fecingest/internal/services"
	"fecingest/internal/stage"
	"fecingest/internal/testsupport"
	"fecingest/internal/workspace"
)

func noRetry() pipelines.Policies {
	return pipelines.Policies{Stage: pipeline.NoRetry(), Handoff: pipeline.NoRetry()}
}

func noSleep(context.Context, time.Duration) error { return nil }

func conf(cfg *config.Config, name string) map[string]any {
	return map[string]any{
		"name":      name,
		"fec_code":  name,
		"cycle":     "2024",
		"run_date":  "2024-01-01",
		"extension": ".csv",
		"temp_dir":  cfg.Paths.TempDir + string(filepath.Separator),
	}
}

func writeOutput(_ context.Context, _ envelope.Envelope, paths workspace.Paths) (string, error) {
	out := filepath.Join(paths.OutputDir, paths.OutputArtifactName)
	return out, os.WriteFile(out, []byte("CMTE_ID\nC001\n"), 0o644)
}

type harness struct {
	cfg   *config.Config
	store *ledger.Store
	d     *Dispatcher
}

func newHarness(t *testing.T, transform pipeline.Transform) *harness {
	t.Helper()
	return newTunedHarness(t, transform, nil)
}

func newTunedHarness(t *testing.T, transform pipeline.Transform, cfgOpts []testsupport.ConfigOption, opts ...Option) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, cfgOpts...)
	store := testsupport.MustOpenLedger(t, cfg)
	opts = append([]Option{WithPollInterval(20 * time.Millisecond), WithSleep(noSleep)}, opts...)
	d := New(cfg, store, nil, opts...)

	sink, err := blobsink.NewDirSink(cfg.Storage.Dir, "")
	require.NoError(t, err)
	uploader := stage.NewUploader(sink, cfg.Storage.Namespace, "", nil)
	d.Register(pipelines.NewCatalog(
		pipelines.Fetch(transform, d, cfg.Pipelines.StageTarget, noRetry()),
		pipelines.Stage(uploader, d, cfg.Pipelines.DownstreamTarget, noRetry()),
	))
	return &harness{cfg: cfg, store: store, d: d}
}

func drain(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, d.Drain(ctx))
}

func TestDrainRunsFetchThenStageThenRecordsDownstream(t *testing.T) {
	h := newHarness(t, pipeline.TransformFunc(writeOutput))
	ctx := context.Background()

	submitted, err := h.d.Submit(ctx, pipelines.FetchID, conf(h.cfg, "indiv"))
	require.NoError(t, err)
	drain(t, h.d)

	fetchRun, err := h.store.Get(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateSucceeded, fetchRun.Status)

	children, err := h.store.Children(ctx, fetchRun.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	stageRun := children[0]
	assert.Equal(t, pipelines.StageID, stageRun.Pipeline)
	assert.Equal(t, pipeline.StateSucceeded, stageRun.Status)
	assert.True(t, stageRun.Envelope().Equal(fetchRun.Envelope()))

	object := filepath.Join(h.cfg.Storage.Dir, "raw", h.cfg.Storage.Namespace, "2024-01-01_indiv_2024.csv")
	data, err := os.ReadFile(object)
	require.NoError(t, err)
	assert.Equal(t, "CMTE_ID\nC001\n", string(data))

	records, err := h.store.ListHandoffs(ctx, "load_data", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, stageRun.ID, records[0].UpstreamRunID)
	assert.True(t, records[0].Envelope().Equal(fetchRun.Envelope()))
}

func TestTriggerIgnoresDuplicateHandoff(t *testing.T) {
	h := newHarness(t, pipeline.TransformFunc(writeOutput))
	ctx := services.WithRunID(context.Background(), "upstream-1")
	env := envelope.FromRawMap(conf(h.cfg, "indiv"))

	require.NoError(t, h.d.Trigger(ctx, pipelines.StageID, env))
	require.NoError(t, h.d.Trigger(ctx, pipelines.StageID, env))

	children, err := h.store.Children(ctx, "upstream-1")
	require.NoError(t, err)
	assert.Len(t, children, 1)
}

func TestTriggerWithoutRegistrationFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	d := New(cfg, store, nil)

	err := d.Trigger(context.Background(), pipelines.StageID, envelope.FromRawMap(conf(cfg, "indiv")))
	require.Error(t, err)
	assert.Equal(t, services.KindHandoff, services.Kind(err))
}

func TestFailedTransformMarksRunFailed(t *testing.T) {
	failing := pipeline.TransformFunc(func(context.Context, envelope.Envelope, workspace.Paths) (string, error) {
		return "", services.Wrap(services.ErrTransform, "transform", "download", "404", nil)
	})
	h := newHarness(t, failing)
	ctx := context.Background()

	submitted, err := h.d.Submit(ctx, pipelines.FetchID, conf(h.cfg, "indiv"))
	require.NoError(t, err)
	drain(t, h.d)

	run, err := h.store.Get(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateFailed, run.Status)
	assert.Equal(t, "transform", run.FailedStage)
	assert.Equal(t, services.KindTransform, run.ErrorKindOf())

	children, err := h.store.Children(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Empty(t, children)

	status := h.d.Status(ctx)
	assert.False(t, status.Running)
	assert.NotEmpty(t, status.LastError)
	assert.Equal(t, 1, status.Runs[pipeline.StateFailed])
}

func TestUnknownPipelineFailsAtProcessConfig(t *testing.T) {
	h := newHarness(t, pipeline.TransformFunc(writeOutput))
	ctx := context.Background()

	run, _, err := h.store.Enqueue(ctx, ledger.Submission{Pipeline: "nope", Conf: conf(h.cfg, "indiv")})
	require.NoError(t, err)
	drain(t, h.d)

	got, err := h.store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateFailed, got.Status)
	assert.Equal(t, pipeline.ProcessConfigStage, got.FailedStage)
	assert.Equal(t, services.KindConfiguration, got.ErrorKindOf())
}

func TestSubmitRejectsUnknownPipeline(t *testing.T) {
	h := newHarness(t, pipeline.TransformFunc(writeOutput))
	_, err := h.d.Submit(context.Background(), "nope", conf(h.cfg, "indiv"))
	require.Error(t, err)
}

func TestBusyWorkspaceDefersRun(t *testing.T) {
	var calls atomic.Int32
	counting := pipeline.TransformFunc(func(ctx context.Context, env envelope.Envelope, paths workspace.Paths) (string, error) {
		calls.Add(1)
		return writeOutput(ctx, env, paths)
	})
	h := newHarness(t, counting)
	ctx := context.Background()

	held := NewKeyLocks(h.cfg.LockDir())
	release, ok, err := held.TryLock("indiv_2024")
	require.NoError(t, err)
	require.True(t, ok)

	submitted, err := h.d.Submit(ctx, pipelines.FetchID, conf(h.cfg, "indiv"))
	require.NoError(t, err)
	require.NoError(t, h.d.Start(ctx))

	require.Eventually(t, func() bool {
		run, err := h.store.Get(ctx, submitted.ID)
		return err == nil && run.Claims >= 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	run, err := h.store.Get(ctx, submitted.ID)
	require.NoError(t, err)
	assert.False(t, run.Status.Terminal())

	release()
	require.Eventually(t, func() bool {
		run, err := h.store.Get(ctx, submitted.ID)
		return err == nil && run.Status == pipeline.StateSucceeded
	}, 5*time.Second, 10*time.Millisecond)
	h.d.Stop()
	assert.Equal(t, int32(1), calls.Load())
}

func TestStartTwiceFails(t *testing.T) {
	h := newHarness(t, pipeline.TransformFunc(writeOutput))
	ctx := context.Background()
	require.NoError(t, h.d.Start(ctx))
	defer h.d.Stop()
	require.Error(t, h.d.Start(ctx))
}

func TestRecoverInterruptedRequeuesRunningRows(t *testing.T) {
	h := newTunedHarness(t, pipeline.TransformFunc(writeOutput), nil, WithHeartbeat(10*time.Millisecond))
	ctx := context.Background()

	run, _, err := h.store.Enqueue(ctx, ledger.Submission{Pipeline: pipelines.FetchID, Conf: conf(h.cfg, "indiv")})
	require.NoError(t, err)
	claimed, err := h.store.ClaimNext(ctx)
	require.NoError(t, err)
	require.Equal(t, run.ID, claimed.ID)

	require.Eventually(t, func() bool {
		reset, err := h.d.RecoverInterrupted(ctx)
		return err == nil && reset == 1
	}, 5*time.Second, 10*time.Millisecond)

	drain(t, h.d)
	got, err := h.store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateSucceeded, got.Status)
}

func TestRecoverInterruptedLeavesLiveRunsAlone(t *testing.T) {
	started := make(chan struct{})
	finish := make(chan struct{})
	blocking := pipeline.TransformFunc(func(ctx context.Context, env envelope.Envelope, paths workspace.Paths) (string, error) {
		close(started)
		<-finish
		return writeOutput(ctx, env, paths)
	})
	h := newTunedHarness(t, blocking, nil, WithHeartbeat(20*time.Millisecond))
	ctx := context.Background()

	submitted, err := h.d.Submit(ctx, pipelines.FetchID, conf(h.cfg, "indiv"))
	require.NoError(t, err)
	require.NoError(t, h.d.Start(ctx))
	<-started

	for i := 0; i < 10; i++ {
		time.Sleep(20 * time.Millisecond)
		reset, err := h.d.RecoverInterrupted(ctx)
		require.NoError(t, err)
		require.Zero(t, reset, "live run was requeued")
	}

	close(finish)
	require.Eventually(t, func() bool {
		run, err := h.store.Get(ctx, submitted.ID)
		return err == nil && run.Status == pipeline.StateSucceeded
	}, 5*time.Second, 10*time.Millisecond)
	h.d.Stop()

	run, err := h.store.Get(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Claims)
}

func TestStuckSweepSparesLongRunningStage(t *testing.T) {
	var calls atomic.Int32
	slow := pipeline.TransformFunc(func(ctx context.Context, env envelope.Envelope, paths workspace.Paths) (string, error) {
		calls.Add(1)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(2500 * time.Millisecond):
		}
		return writeOutput(ctx, env, paths)
	})
	h := newTunedHarness(t, slow, []testsupport.ConfigOption{testsupport.WithStuckAfter(1), testsupport.WithWorkers(3)})
	ctx := context.Background()

	submitted, err := h.d.Submit(ctx, pipelines.FetchID, conf(h.cfg, "indiv"))
	require.NoError(t, err)
	require.NoError(t, h.d.Start(ctx))

	require.Eventually(t, func() bool {
		run, err := h.store.Get(ctx, submitted.ID)
		return err == nil && run.Status == pipeline.StateSucceeded
	}, 10*time.Second, 20*time.Millisecond)
	h.d.Stop()

	run, err := h.store.Get(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Claims)
	assert.Equal(t, int32(1), calls.Load())
}

package handoff_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fecingest/internal/envelope"
	"fecingest/internal/handoff"
	"fecingest/internal/services"
)

func indiv() envelope.Envelope {
	return envelope.FromRawMap(map[string]any{
		"name": "indiv", "fec_code": "indiv", "cycle": "2024",
		"run_date": "2024-01-01", "extension": ".csv", "temp_dir": "/tmp/",
	})
}

type memoryRecorder struct {
	mu      sync.Mutex
	records map[string]handoff.Record
	err     error
}

func (m *memoryRecorder) InsertHandoff(_ context.Context, record handoff.Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.records == nil {
		m.records = make(map[string]handoff.Record)
	}
	if _, ok := m.records[record.IdempotencyKey]; ok {
		return false, nil
	}
	m.records[record.IdempotencyKey] = record
	return true, nil
}

func TestNewRecordCarriesEnvelopeVerbatim(t *testing.T) {
	env := indiv()
	ctx := services.WithRunID(context.Background(), "run-1")

	rec := handoff.NewRecord(ctx, "stage", env)

	assert.Equal(t, "stage", rec.Target)
	assert.Equal(t, "run-1", rec.UpstreamRunID)
	assert.Equal(t, env.Conf(), rec.Conf)
	assert.Equal(t, env.Hash(), rec.EnvelopeHash)
	assert.True(t, env.Equal(rec.Envelope()))
	assert.Equal(t, handoff.IdempotencyKey("stage", env.Hash(), "run-1"), rec.IdempotencyKey)
}

func TestIdempotencyKeyVariesByInput(t *testing.T) {
	base := handoff.IdempotencyKey("stage", "h", "r")
	assert.Equal(t, base, handoff.IdempotencyKey("stage", "h", "r"))
	assert.NotEqual(t, base, handoff.IdempotencyKey("load_data", "h", "r"))
	assert.NotEqual(t, base, handoff.IdempotencyKey("stage", "h2", "r"))
	assert.NotEqual(t, base, handoff.IdempotencyKey("stage", "h", "r2"))
}

func TestRouterDispatchesByTarget(t *testing.T) {
	var got []string
	record := func(label string) handoff.Func {
		return func(_ context.Context, target string, _ envelope.Envelope) error {
			got = append(got, label+":"+target)
			return nil
		}
	}
	router := handoff.NewRouter(record("fallback")).
		Route("fetch", record("local")).
		Route("stage", record("local"))

	ctx := context.Background()
	require.NoError(t, router.Trigger(ctx, "stage", indiv()))
	require.NoError(t, router.Trigger(ctx, "load_data", indiv()))

	assert.Equal(t, []string{"local:stage", "fallback:load_data"}, got)
	assert.Equal(t, []string{"fetch", "stage"}, router.Targets())
}

func TestRouterUnknownTargetWithoutFallback(t *testing.T) {
	router := handoff.NewRouter(nil)
	err := router.Trigger(context.Background(), "load_data", indiv())
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrHandoff))
	assert.Contains(t, err.Error(), "load_data")

	err = router.Trigger(context.Background(), "  ", indiv())
	assert.True(t, errors.Is(err, services.ErrHandoff))
}

func TestOutboxDeduplicatesIdenticalHandoffs(t *testing.T) {
	recorder := &memoryRecorder{}
	outbox := handoff.NewLedgerOutbox(recorder, nil)
	ctx := services.WithRunID(context.Background(), "run-7")

	require.NoError(t, outbox.Trigger(ctx, "load_data", indiv()))
	require.NoError(t, outbox.Trigger(ctx, "load_data", indiv()))
	assert.Len(t, recorder.records, 1)

	other := services.WithRunID(context.Background(), "run-8")
	require.NoError(t, outbox.Trigger(other, "load_data", indiv()))
	assert.Len(t, recorder.records, 2)
}

func TestOutboxFailureIsHandoffError(t *testing.T) {
	cause := errors.New("disk I/O error")
	outbox := handoff.NewLedgerOutbox(&memoryRecorder{err: cause}, nil)

	err := outbox.Trigger(context.Background(), "load_data", indiv())
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrHandoff))
	assert.True(t, errors.Is(err, cause))
}

func TestPostgresConfigValidate(t *testing.T) {
	valid := handoff.PostgresConfig{URL: "postgres://localhost/fec", Table: "pipeline_triggers", PingTimeout: 1}
	require.NoError(t, valid.Validate())

	bad := valid
	bad.Table = "triggers; drop table x"
	assert.Error(t, bad.Validate())

	bad = valid
	bad.URL = ""
	assert.Error(t, bad.Validate())

	_, err := handoff.NewPostgresRecorder(nil, "pipeline_triggers")
	assert.Error(t, err)
}

package ledger

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fecingest/internal/envelope"
	"fecingest/internal/handoff"
	"fecingest/internal/pipeline"
	"fecingest/internal/services"
	"fecingest/internal/workspace"
)

// Run is one row of the runs table.
type Run struct {
	ID             string
	Pipeline       string
	Conf           map[string]any
	EnvelopeHash   string
	IdempotencyKey string
	UpstreamRunID  string
	WorkspaceKey   string
	Name           string
	Cycle          string
	Status         pipeline.State
	Stage          string
	FailedStage    string
	ErrorKind      string
	ErrorMessage   string
	Claims         int
	NotBefore      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// Envelope rebuilds the run's envelope from its stored conf.
func (r *Run) Envelope() envelope.Envelope {
	return envelope.FromRawMap(r.Conf)
}

// Submission describes a run to enqueue.
type Submission struct {
	Pipeline string
	Conf     map[string]any
	// UpstreamRunID is set for runs created by a hand-off.
	UpstreamRunID string
	// IdempotencyKey deduplicates submissions. When empty a key unique to
	// this submission is generated.
	IdempotencyKey string
}

// ListOptions filters List.
type ListOptions struct {
	Statuses []pipeline.State
	Pipeline string
	Limit    int
}

const runColumns = `id, pipeline, conf_json, envelope_hash, idempotency_key, upstream_run_id,
    workspace_key, name, cycle, status, stage, failed_stage, error_kind, error_message,
    claims, not_before, created_at, updated_at, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(scanner rowScanner) (*Run, error) {
	var (
		run                          Run
		confJSON, status             string
		notBefore, created, updated  string
		started, finished            sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.Pipeline,
		&confJSON,
		&run.EnvelopeHash,
		&run.IdempotencyKey,
		&run.UpstreamRunID,
		&run.WorkspaceKey,
		&run.Name,
		&run.Cycle,
		&status,
		&run.Stage,
		&run.FailedStage,
		&run.ErrorKind,
		&run.ErrorMessage,
		&run.Claims,
		&notBefore,
		&created,
		&updated,
		&started,
		&finished,
	); err != nil {
		return nil, err
	}
	conf, err := decodeConf(confJSON)
	if err != nil {
		return nil, fmt.Errorf("decode conf for run %s: %w", run.ID, err)
	}
	run.Conf = conf
	run.Status = pipeline.State(status)
	run.NotBefore = parseTime(notBefore)
	run.CreatedAt = parseTime(created)
	run.UpdatedAt = parseTime(updated)
	run.StartedAt = parseNullTime(started)
	run.FinishedAt = parseNullTime(finished)
	return &run, nil
}

func decodeConf(raw string) (map[string]any, error) {
	conf := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return conf, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(&conf); err != nil {
		return nil, err
	}
	return conf, nil
}

// Enqueue inserts a pending run. When a run with the same idempotency key
// exists, nothing is inserted and the existing run is returned with
// created=false.
func (s *Store) Enqueue(ctx context.Context, sub Submission) (*Run, bool, error) {
	if strings.TrimSpace(sub.Pipeline) == "" {
		return nil, false, errors.New("enqueue: pipeline is required")
	}
	conf := sub.Conf
	if conf == nil {
		conf = map[string]any{}
	}
	confJSON, err := json.Marshal(conf)
	if err != nil {
		return nil, false, fmt.Errorf("encode conf: %w", err)
	}

	env := envelope.FromRawMap(conf)
	id := uuid.NewString()
	key := strings.TrimSpace(sub.IdempotencyKey)
	if key == "" {
		key = handoff.IdempotencyKey(sub.Pipeline, env.Hash(), "submit:"+id)
	}
	now := formatTime(s.now())

	res, err := s.execWithRetry(ctx, `INSERT INTO runs (
            id, pipeline, conf_json, envelope_hash, idempotency_key, upstream_run_id,
            workspace_key, name, cycle, status, not_before, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(idempotency_key) DO NOTHING`,
		id,
		sub.Pipeline,
		string(confJSON),
		env.Hash(),
		key,
		sub.UpstreamRunID,
		workspace.Key(env),
		env.Name(),
		env.Cycle(),
		string(pipeline.StatePending),
		now,
		now,
		now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert run rows affected: %w", err)
	}
	if affected == 0 {
		existing, err := s.GetByIdempotencyKey(ctx, key)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	run, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return run, true, nil
}

// Get fetches a run by ID. It returns nil, nil when the run does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// GetByIdempotencyKey fetches the run created for key, or nil.
func (s *Store) GetByIdempotencyKey(ctx context.Context, key string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE idempotency_key = ?`, key)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run by key: %w", err)
	}
	return run, nil
}

// ClaimNext atomically moves the oldest due pending run to running and
// returns it. It returns nil, nil when nothing is due.
func (s *Store) ClaimNext(ctx context.Context) (*Run, error) {
	now := formatTime(s.now())
	var run *Run
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `UPDATE runs
            SET status = ?, started_at = ?, updated_at = ?, claims = claims + 1,
                stage = '', failed_stage = '', error_kind = '', error_message = ''
            WHERE id = (
                SELECT id FROM runs
                WHERE status = ? AND not_before <= ?
                ORDER BY created_at, rowid
                LIMIT 1
            )
            RETURNING `+runColumns,
			string(pipeline.StateRunning), now, now,
			string(pipeline.StatePending), now,
		)
		claimed, scanErr := scanRun(row)
		if errors.Is(scanErr, sql.ErrNoRows) {
			run = nil
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		run = claimed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim next run: %w", err)
	}
	return run, nil
}

// ErrClaimLost reports that a run is no longer held by the claim that tried
// to change it: it was swept back to pending, reclaimed, or already finished.
var ErrClaimLost = errors.New("run claim lost")

// Requeue returns a claimed run to pending, due no earlier than notBefore.
// claim is the Claims value returned by ClaimNext.
func (s *Store) Requeue(ctx context.Context, id string, claim int, notBefore time.Time) error {
	res, err := s.execWithRetry(ctx, `UPDATE runs
        SET status = ?, not_before = ?, updated_at = ?, started_at = NULL
        WHERE id = ? AND status = ? AND claims = ?`,
		string(pipeline.StatePending),
		formatTime(notBefore),
		formatTime(s.now()),
		id,
		string(pipeline.StateRunning),
		claim,
	)
	if err != nil {
		return fmt.Errorf("requeue run %s: %w", id, err)
	}
	return requireOwned(res, id)
}

// Heartbeat refreshes updated_at of a running run so ResetStuck leaves it
// alone.
func (s *Store) Heartbeat(ctx context.Context, id string, claim int) error {
	res, err := s.execWithRetry(ctx, `UPDATE runs SET updated_at = ?
        WHERE id = ? AND status = ? AND claims = ?`,
		formatTime(s.now()), id, string(pipeline.StateRunning), claim)
	if err != nil {
		return fmt.Errorf("heartbeat run %s: %w", id, err)
	}
	return requireOwned(res, id)
}

func requireOwned(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("run %s rows affected: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("run %s: %w", id, ErrClaimLost)
	}
	return nil
}

// Retry resets a failed run to pending so a worker picks it up again.
func (s *Store) Retry(ctx context.Context, id string) (bool, error) {
	now := formatTime(s.now())
	res, err := s.execWithRetry(ctx, `UPDATE runs
        SET status = ?, not_before = ?, updated_at = ?, stage = '', failed_stage = '',
            error_kind = '', error_message = '', started_at = NULL, finished_at = NULL
        WHERE id = ? AND status = ?`,
		string(pipeline.StatePending), now, now,
		id, string(pipeline.StateFailed),
	)
	if err != nil {
		return false, fmt.Errorf("retry run %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// UpdateStage records the stage a running run is executing.
func (s *Store) UpdateStage(ctx context.Context, id, stage string) error {
	_, err := s.execWithRetry(ctx, `UPDATE runs SET stage = ?, updated_at = ? WHERE id = ?`,
		stage, formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("update stage for run %s: %w", id, err)
	}
	return nil
}

// Complete writes the terminal state of a run from its result. It fails with
// ErrClaimLost unless claim still owns the running row.
func (s *Store) Complete(ctx context.Context, id string, claim int, result pipeline.Result) error {
	status := result.State
	if !status.Terminal() {
		status = pipeline.StateFailed
	}
	var kind, message string
	if result.Err != nil {
		kind = string(result.Err.Kind)
		message = result.Err.Error()
	}
	finished := result.Finished
	if finished.IsZero() {
		finished = s.now()
	}
	res, err := s.execWithRetry(ctx, `UPDATE runs
        SET status = ?, failed_stage = ?, error_kind = ?, error_message = ?,
            finished_at = ?, updated_at = ?
        WHERE id = ? AND status = ? AND claims = ?`,
		string(status),
		result.FailedStage,
		kind,
		message,
		formatTime(finished),
		formatTime(s.now()),
		id,
		string(pipeline.StateRunning),
		claim,
	)
	if err != nil {
		return fmt.Errorf("complete run %s: %w", id, err)
	}
	return requireOwned(res, id)
}

// List returns runs newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*Run, error) {
	var (
		clauses []string
		args    []any
	)
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ",")+")")
	}
	if opts.Pipeline != "" {
		clauses = append(clauses, "pipeline = ?")
		args = append(args, opts.Pipeline)
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Children returns the runs created by hand-offs from upstreamRunID.
func (s *Store) Children(ctx context.Context, upstreamRunID string) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE upstream_run_id = ? ORDER BY created_at, rowid`,
		upstreamRunID)
	if err != nil {
		return nil, fmt.Errorf("list child runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Stats returns run counts grouped by status.
func (s *Store) Stats(ctx context.Context) (map[pipeline.State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("stats query: %w", err)
	}
	defer rows.Close()

	stats := make(map[pipeline.State]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("stats scan: %w", err)
		}
		stats[pipeline.State(status)] = count
	}
	return stats, rows.Err()
}

// HasActive reports whether any run is pending or running.
func (s *Store) HasActive(ctx context.Context) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE status IN (?, ?)`,
		string(pipeline.StatePending), string(pipeline.StateRunning),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count active runs: %w", err)
	}
	return count > 0, nil
}

// NextDue returns the earliest not_before among pending runs, if any.
func (s *Store) NextDue(ctx context.Context) (time.Time, bool, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(not_before) FROM runs WHERE status = ?`,
		string(pipeline.StatePending),
	).Scan(&raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("next due run: %w", err)
	}
	if !raw.Valid || raw.String == "" {
		return time.Time{}, false, nil
	}
	return parseTime(raw.String), true, nil
}

// ResetStuck returns running runs not updated within olderThan to pending.
// Live runs heartbeat, so only rows whose worker died match.
func (s *Store) ResetStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := s.now()
	cutoff := formatTime(now.Add(-olderThan))
	res, err := s.execWithRetry(ctx, `UPDATE runs
        SET status = ?, not_before = ?, updated_at = ?, started_at = NULL
        WHERE status = ? AND updated_at < ?`,
		string(pipeline.StatePending), formatTime(now), formatTime(now),
		string(pipeline.StateRunning), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck runs: %w", err)
	}
	return res.RowsAffected()
}

// ErrorKindOf maps a stored error kind back to the service kind.
func (r *Run) ErrorKindOf() services.ErrorKind {
	return services.ErrorKind(r.ErrorKind)
}

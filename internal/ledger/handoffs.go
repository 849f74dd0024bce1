package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"fecingest/internal/handoff"
)

// InsertHandoff appends record to the outbox table. A record whose
// idempotency key is already present inserts nothing and reports false.
func (s *Store) InsertHandoff(ctx context.Context, record handoff.Record) (bool, error) {
	confJSON, err := json.Marshal(record.Conf)
	if err != nil {
		return false, fmt.Errorf("encode handoff conf: %w", err)
	}
	created := record.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	res, err := s.execWithRetry(ctx, `INSERT INTO handoffs (
            idempotency_key, target, conf_json, envelope_hash, upstream_run_id, created_at
        ) VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(idempotency_key) DO NOTHING`,
		record.IdempotencyKey,
		record.Target,
		string(confJSON),
		record.EnvelopeHash,
		record.UpstreamRunID,
		formatTime(created),
	)
	if err != nil {
		return false, fmt.Errorf("insert handoff: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert handoff rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListHandoffs returns outbox records newest first. A non-empty target
// filters by target.
func (s *Store) ListHandoffs(ctx context.Context, target string, limit int) ([]handoff.Record, error) {
	query := `SELECT idempotency_key, target, conf_json, envelope_hash, upstream_run_id, created_at
        FROM handoffs`
	var args []any
	if target != "" {
		query += " WHERE target = ?"
		args = append(args, target)
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list handoffs: %w", err)
	}
	defer rows.Close()

	var records []handoff.Record
	for rows.Next() {
		record, err := scanHandoff(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate handoffs: %w", err)
	}
	return records, nil
}

func scanHandoff(rows *sql.Rows) (handoff.Record, error) {
	var (
		record   handoff.Record
		confJSON string
		created  string
	)
	if err := rows.Scan(
		&record.IdempotencyKey,
		&record.Target,
		&confJSON,
		&record.EnvelopeHash,
		&record.UpstreamRunID,
		&created,
	); err != nil {
		return handoff.Record{}, fmt.Errorf("scan handoff: %w", err)
	}
	record.Conf = map[string]string{}
	if err := json.Unmarshal([]byte(confJSON), &record.Conf); err != nil {
		return handoff.Record{}, fmt.Errorf("decode handoff conf: %w", err)
	}
	record.CreatedAt = parseTime(created)
	return record, nil
}

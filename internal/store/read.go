package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/merlin/internal/ir"
)

const runColumns = `id, plan_name, plan_digest, horizon, end_instant, status, error, seq`

// ReadRun retrieves a single run summary by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, id string) (ir.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// LatestRun retrieves the run with the highest seq.
// Returns sql.ErrNoRows if the store is empty.
func (s *Store) LatestRun(ctx context.Context) (ir.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY seq DESC, id COLLATE BINARY DESC
		LIMIT 1
	`)
	return scanRun(row)
}

// ListRuns returns every run summary, ordered by seq ASC, id ASC.
// Returns an empty slice (not nil) if the store is empty.
func (s *Store) ListRuns(ctx context.Context) ([]ir.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []ir.RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadPlan returns the plan a run simulated.
// Returns sql.ErrNoRows if the run is not found.
func (s *Store) ReadPlan(ctx context.Context, runID string) (*ir.Plan, error) {
	var data string
	if err := s.db.QueryRowContext(ctx, `SELECT plan FROM runs WHERE id = ?`, runID).Scan(&data); err != nil {
		return nil, err
	}
	return unmarshalPlan(data)
}

// ReadSpans returns a run's spans in the order they were written.
// Returns an empty slice (not nil) if none exist.
func (s *Store) ReadSpans(ctx context.Context, runID string) ([]ir.SpanRecord, error) {
	return s.querySpans(ctx, `
		SELECT activity_id, type, parent_id, start_us, end_us, status, attempts, result, error
		FROM spans
		WHERE run_id = ?
		ORDER BY seq ASC, activity_id COLLATE BINARY ASC
	`, runID)
}

// ReadChildSpans returns the spans spawned by parentID.
func (s *Store) ReadChildSpans(ctx context.Context, runID, parentID string) ([]ir.SpanRecord, error) {
	return s.querySpans(ctx, `
		SELECT activity_id, type, parent_id, start_us, end_us, status, attempts, result, error
		FROM spans
		WHERE run_id = ? AND parent_id = ?
		ORDER BY seq ASC, activity_id COLLATE BINARY ASC
	`, runID, parentID)
}

// ReadSpan retrieves one span.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadSpan(ctx context.Context, runID, activityID string) (ir.SpanRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT activity_id, type, parent_id, start_us, end_us, status, attempts, result, error
		FROM spans
		WHERE run_id = ? AND activity_id = ?
	`, runID, activityID)
	return scanSpan(row)
}

func (s *Store) querySpans(ctx context.Context, query string, args ...any) ([]ir.SpanRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query spans: %w", err)
	}
	defer rows.Close()

	spans := []ir.SpanRecord{}
	for rows.Next() {
		sp, err := scanSpan(rows)
		if err != nil {
			return nil, err
		}
		spans = append(spans, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spans: %w", err)
	}
	return spans, nil
}

// ReadTranscripts returns a run's transcripts in the order they were
// written. Returns an empty slice (not nil) if none exist.
func (s *Store) ReadTranscripts(ctx context.Context, runID string) ([]ir.TranscriptRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT activity_id, digest, entries
		FROM transcripts
		WHERE run_id = ?
		ORDER BY seq ASC, activity_id COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	out := []ir.TranscriptRecord{}
	for rows.Next() {
		var tr ir.TranscriptRecord
		var entries string
		if err := rows.Scan(&tr.ActivityID, &tr.Digest, &entries); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		if tr.Entries, err = unmarshalEntries(entries); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcripts: %w", err)
	}
	return out, nil
}

// ReadSamples returns a run's samples in the order they were written. A
// non-empty cell restricts the result to that cell.
func (s *Store) ReadSamples(ctx context.Context, runID, cell string) ([]ir.SampleRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cell, instant, value
		FROM samples
		WHERE run_id = ? AND (? = '' OR cell = ?)
		ORDER BY seq ASC
	`, runID, cell, cell)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	out := []ir.SampleRecord{}
	for rows.Next() {
		var sm ir.SampleRecord
		var instant int64
		var value string
		if err := rows.Scan(&sm.Cell, &instant, &value); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		sm.Instant = ir.Duration(instant)
		if sm.Value, err = unmarshalValue(value); err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}
	return out, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (ir.RunRecord, error) {
	var run ir.RunRecord
	var horizon, end int64
	var status string
	err := row.Scan(&run.ID, &run.PlanName, &run.PlanDigest, &horizon, &end, &status, &run.Error, &run.Seq)
	if err == sql.ErrNoRows {
		return ir.RunRecord{}, err
	}
	if err != nil {
		return ir.RunRecord{}, fmt.Errorf("scan run: %w", err)
	}
	run.Horizon = ir.Duration(horizon)
	run.EndInstant = ir.Duration(end)
	run.Status = ir.RunStatus(status)
	return run, nil
}

func scanSpan(row scanner) (ir.SpanRecord, error) {
	var sp ir.SpanRecord
	var start, end int64
	var status, result string
	err := row.Scan(&sp.ActivityID, &sp.Type, &sp.ParentID, &start, &end, &status, &sp.Attempts, &result, &sp.Error)
	if err == sql.ErrNoRows {
		return ir.SpanRecord{}, err
	}
	if err != nil {
		return ir.SpanRecord{}, fmt.Errorf("scan span: %w", err)
	}
	sp.Start = ir.Duration(start)
	sp.End = ir.Duration(end)
	sp.Status = ir.SpanStatus(status)
	if sp.Result, err = unmarshalValue(result); err != nil {
		return ir.SpanRecord{}, err
	}
	return sp, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/merlin/internal/ir"
)

// RunData is everything stored for one run.
type RunData struct {
	Run         ir.RunRecord
	Plan        *ir.Plan
	Spans       []ir.SpanRecord
	Transcripts []ir.TranscriptRecord
	Samples     []ir.SampleRecord

	// Replace deletes any stored run with the same id in the same
	// transaction. Without it a duplicate id leaves the stored run as is.
	Replace bool
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// WriteResultsAtomic writes a run and all its records in a single
// transaction. A zero Run.Seq is replaced by the next free seq. Returns the
// stored run record.
func (s *Store) WriteResultsAtomic(ctx context.Context, data RunData) (ir.RunRecord, error) {
	run := data.Run
	err := retryOp(ctx, defaultRetryConfig, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() // No-op if committed

		if data.Replace {
			if _, err := deleteRun(ctx, tx, run.ID); err != nil {
				return err
			}
		}
		if run.Seq == 0 {
			if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&run.Seq); err != nil {
				return fmt.Errorf("next run seq: %w", err)
			}
		}
		if err := writeRun(ctx, tx, run, data.Plan); err != nil {
			return err
		}
		if err := writeSpans(ctx, tx, run.ID, data.Spans); err != nil {
			return err
		}
		if err := writeTranscripts(ctx, tx, run.ID, data.Transcripts); err != nil {
			return err
		}
		if err := writeSamples(ctx, tx, run.ID, data.Samples); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
	if err != nil {
		return ir.RunRecord{}, fmt.Errorf("atomic write results: %w", err)
	}
	return run, nil
}

// DeleteRun removes a run and every record hanging off it. Reports whether
// the run existed.
func (s *Store) DeleteRun(ctx context.Context, runID string) (bool, error) {
	var existed bool
	err := retryOp(ctx, defaultRetryConfig, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		existed, err = deleteRun(ctx, tx, runID)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return false, fmt.Errorf("delete run %s: %w", runID, err)
	}
	return existed, nil
}

func deleteRun(ctx context.Context, ex execer, runID string) (bool, error) {
	for _, table := range []string{"samples", "transcripts", "spans"} {
		if _, err := ex.ExecContext(ctx, "DELETE FROM "+table+" WHERE run_id = ?", runID); err != nil {
			return false, fmt.Errorf("delete %s: %w", table, err)
		}
	}
	res, err := ex.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return false, fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func writeRun(ctx context.Context, ex execer, run ir.RunRecord, plan *ir.Plan) error {
	if plan == nil {
		plan = &ir.Plan{Name: run.PlanName, Horizon: run.Horizon}
	}
	planJSON, err := marshalPlan(plan)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO runs
		(id, plan_name, plan_digest, plan, horizon, end_instant, status, error, seq, kernel_version, record_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.PlanName,
		run.PlanDigest,
		planJSON,
		int64(run.Horizon),
		int64(run.EndInstant),
		string(run.Status),
		run.Error,
		run.Seq,
		ir.KernelVersion,
		ir.RecordVersion,
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

func writeSpans(ctx context.Context, ex execer, runID string, spans []ir.SpanRecord) error {
	for i, sp := range spans {
		result, err := marshalValue(sp.Result)
		if err != nil {
			return fmt.Errorf("write span %s: %w", sp.ActivityID, err)
		}
		_, err = ex.ExecContext(ctx, `
			INSERT INTO spans
			(run_id, activity_id, type, parent_id, start_us, end_us, status, attempts, result, error, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, activity_id) DO NOTHING
		`,
			runID,
			sp.ActivityID,
			sp.Type,
			sp.ParentID,
			int64(sp.Start),
			int64(sp.End),
			string(sp.Status),
			sp.Attempts,
			result,
			sp.Error,
			int64(i),
		)
		if err != nil {
			return fmt.Errorf("write span %s: %w", sp.ActivityID, err)
		}
	}
	return nil
}

func writeTranscripts(ctx context.Context, ex execer, runID string, transcripts []ir.TranscriptRecord) error {
	for i, tr := range transcripts {
		entries, err := marshalEntries(tr.Entries)
		if err != nil {
			return fmt.Errorf("write transcript %s: %w", tr.ActivityID, err)
		}
		_, err = ex.ExecContext(ctx, `
			INSERT INTO transcripts
			(run_id, activity_id, digest, entries, seq)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(run_id, activity_id) DO NOTHING
		`,
			runID,
			tr.ActivityID,
			tr.Digest,
			entries,
			int64(i),
		)
		if err != nil {
			return fmt.Errorf("write transcript %s: %w", tr.ActivityID, err)
		}
	}
	return nil
}

func writeSamples(ctx context.Context, ex execer, runID string, samples []ir.SampleRecord) error {
	for i, sm := range samples {
		value, err := marshalValue(sm.Value)
		if err != nil {
			return fmt.Errorf("write sample %d: %w", i, err)
		}
		if value == "" {
			value = "null"
		}
		_, err = ex.ExecContext(ctx, `
			INSERT INTO samples
			(run_id, seq, cell, instant, value)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(run_id, seq) DO NOTHING
		`,
			runID,
			int64(i),
			sm.Cell,
			int64(sm.Instant),
			value,
		)
		if err != nil {
			return fmt.Errorf("write sample %d: %w", i, err)
		}
	}
	return nil
}

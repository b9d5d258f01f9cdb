package store

import (
	"context"
	"testing"

	"github.com/roach88/merlin/internal/ir"
)

func TestWriteRun_Basic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	run := createTestRun("run-1", 1)
	if err := writeRun(ctx, s.db, run, createTestPlan()); err != nil {
		t.Fatalf("writeRun() failed: %v", err)
	}

	var planName, status, kernel, record string
	var horizon, seq int64
	err := s.db.QueryRow(`
		SELECT plan_name, status, horizon, seq, kernel_version, record_version
		FROM runs
		WHERE id = ?
	`, run.ID).Scan(&planName, &status, &horizon, &seq, &kernel, &record)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	if planName != "demo" {
		t.Errorf("plan_name = %q, want %q", planName, "demo")
	}
	if status != string(ir.RunCompleted) {
		t.Errorf("status = %q, want %q", status, ir.RunCompleted)
	}
	if horizon != int64(ir.Hour) {
		t.Errorf("horizon = %d, want %d", horizon, ir.Hour)
	}
	if seq != 1 {
		t.Errorf("seq = %d, want 1", seq)
	}
	if kernel != ir.KernelVersion || record != ir.RecordVersion {
		t.Errorf("versions = %q/%q, want %q/%q", kernel, record, ir.KernelVersion, ir.RecordVersion)
	}
}

func TestWriteRun_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	run := createTestRun("run-1", 1)
	if err := writeRun(ctx, s.db, run, nil); err != nil {
		t.Fatalf("first writeRun() failed: %v", err)
	}

	dup := run
	dup.PlanName = "other"
	if err := writeRun(ctx, s.db, dup, nil); err != nil {
		t.Fatalf("duplicate writeRun() should not error: %v", err)
	}

	var count int
	var planName string
	if err := s.db.QueryRow("SELECT COUNT(*), MAX(plan_name) FROM runs").Scan(&count, &planName); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1", count)
	}
	if planName != "demo" {
		t.Errorf("plan_name = %q, first write should win", planName)
	}
}

func TestWriteSpans_RequiresRun(t *testing.T) {
	s := createTestStore(t)

	spans := []ir.SpanRecord{{ActivityID: "a", Type: "t", Status: ir.SpanCompleted}}
	if err := writeSpans(context.Background(), s.db, "missing", spans); err == nil {
		t.Error("expected foreign key error for missing run, got nil")
	}
}

func TestWriteSpans_AssignsSeqByPosition(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := writeRun(ctx, s.db, createTestRun("run-1", 1), nil); err != nil {
		t.Fatalf("writeRun() failed: %v", err)
	}
	spans := []ir.SpanRecord{
		{ActivityID: "z", Type: "t", Status: ir.SpanCompleted},
		{ActivityID: "a", Type: "t", Status: ir.SpanCompleted},
	}
	if err := writeSpans(ctx, s.db, "run-1", spans); err != nil {
		t.Fatalf("writeSpans() failed: %v", err)
	}

	var seq int64
	if err := s.db.QueryRow("SELECT seq FROM spans WHERE activity_id = 'z'").Scan(&seq); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("seq of first span = %d, want 0", seq)
	}
}

func TestWriteResultsAtomic_SeqContinuesFromMax(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.WriteResultsAtomic(ctx, RunData{Run: createTestRun("run-1", 7)}); err != nil {
		t.Fatalf("WriteResultsAtomic() failed: %v", err)
	}
	next, err := s.WriteResultsAtomic(ctx, RunData{Run: createTestRun("run-2", 0)})
	if err != nil {
		t.Fatalf("WriteResultsAtomic() failed: %v", err)
	}
	if next.Seq != 8 {
		t.Errorf("seq = %d, want 8", next.Seq)
	}
}

func TestWriteResultsAtomic_AssignsSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first, err := s.WriteResultsAtomic(ctx, RunData{Run: createTestRun("run-1", 0)})
	if err != nil {
		t.Fatalf("WriteResultsAtomic() failed: %v", err)
	}
	second, err := s.WriteResultsAtomic(ctx, RunData{Run: createTestRun("run-2", 0)})
	if err != nil {
		t.Fatalf("WriteResultsAtomic() failed: %v", err)
	}

	if first.Seq != 1 || second.Seq != 2 {
		t.Errorf("seqs = %d, %d; want 1, 2", first.Seq, second.Seq)
	}
}

func TestWriteResultsAtomic_RollsBackOnError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Samples are written last; a missing table fails the transaction after
	// the run and its spans were inserted.
	if _, err := s.db.Exec("DROP TABLE samples"); err != nil {
		t.Fatalf("drop samples: %v", err)
	}

	data := RunData{
		Run:     createTestRun("run-1", 1),
		Spans:   []ir.SpanRecord{{ActivityID: "a", Type: "t", Status: ir.SpanCompleted}},
		Samples: []ir.SampleRecord{{Cell: "c", Value: ir.Int(1)}},
	}
	if _, err := s.WriteResultsAtomic(ctx, data); err == nil {
		t.Fatal("expected error writing samples, got nil")
	}

	for _, table := range []string{"runs", "spans"} {
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if count != 0 {
			t.Errorf("%s rows after rollback = %d, want 0", table, count)
		}
	}
}

func TestDeleteRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	data := RunData{
		Run:         createTestRun("run-1", 1),
		Spans:       []ir.SpanRecord{{ActivityID: "a", Type: "t", Status: ir.SpanCompleted}},
		Transcripts: []ir.TranscriptRecord{{ActivityID: "a", Digest: "d"}},
		Samples:     []ir.SampleRecord{{Cell: "c", Value: ir.Int(1)}},
	}
	if _, err := s.WriteResultsAtomic(ctx, data); err != nil {
		t.Fatalf("WriteResultsAtomic() failed: %v", err)
	}

	existed, err := s.DeleteRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("DeleteRun() failed: %v", err)
	}
	if !existed {
		t.Error("DeleteRun() reported missing run")
	}

	for _, table := range []string{"runs", "spans", "transcripts", "samples"} {
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if count != 0 {
			t.Errorf("%s rows after delete = %d, want 0", table, count)
		}
	}

	existed, err = s.DeleteRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("second DeleteRun() failed: %v", err)
	}
	if existed {
		t.Error("second DeleteRun() reported existing run")
	}
}

func TestWriteResultsAtomic_DuplicateKeepsStoredRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := RunData{
		Run:   createTestRun("run-1", 0),
		Spans: []ir.SpanRecord{{ActivityID: "a", Type: "t", Status: ir.SpanCompleted}},
	}
	if _, err := s.WriteResultsAtomic(ctx, first); err != nil {
		t.Fatalf("WriteResultsAtomic() failed: %v", err)
	}

	second := RunData{
		Run:   createTestRun("run-1", 0),
		Spans: []ir.SpanRecord{{ActivityID: "b", Type: "t", Status: ir.SpanFailed}},
	}
	second.Run.Status = ir.RunFailed
	if _, err := s.WriteResultsAtomic(ctx, second); err != nil {
		t.Fatalf("duplicate WriteResultsAtomic() failed: %v", err)
	}

	run, err := s.ReadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if run.Status != ir.RunCompleted {
		t.Errorf("status = %q, first write should win", run.Status)
	}
}

func TestWriteResultsAtomic_Replace(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := RunData{
		Run:     createTestRun("run-1", 0),
		Spans:   []ir.SpanRecord{{ActivityID: "a", Type: "t", Status: ir.SpanCompleted}},
		Samples: []ir.SampleRecord{{Cell: "c", Value: ir.Int(1)}, {Cell: "c", Value: ir.Int(2)}},
	}
	if _, err := s.WriteResultsAtomic(ctx, first); err != nil {
		t.Fatalf("WriteResultsAtomic() failed: %v", err)
	}

	second := RunData{
		Run:     createTestRun("run-1", 0),
		Spans:   []ir.SpanRecord{{ActivityID: "b", Type: "t", Status: ir.SpanFailed}},
		Samples: []ir.SampleRecord{{Cell: "c", Value: ir.Int(9)}},
		Replace: true,
	}
	second.Run.Status = ir.RunFailed
	stored, err := s.WriteResultsAtomic(ctx, second)
	if err != nil {
		t.Fatalf("replacing WriteResultsAtomic() failed: %v", err)
	}
	if stored.Seq != 1 {
		t.Errorf("seq = %d, want 1", stored.Seq)
	}

	run, err := s.ReadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if run.Status != ir.RunFailed {
		t.Errorf("status = %q, want %q", run.Status, ir.RunFailed)
	}

	spans, err := s.ReadSpans(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadSpans() failed: %v", err)
	}
	if len(spans) != 1 || spans[0].ActivityID != "b" {
		t.Errorf("spans = %+v, want only b", spans)
	}

	samples, err := s.ReadSamples(ctx, "run-1", "")
	if err != nil {
		t.Fatalf("ReadSamples() failed: %v", err)
	}
	if len(samples) != 1 {
		t.Errorf("samples = %d, want 1", len(samples))
	}
}

package storage

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "pixelmind.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestJobLifecycle(t *testing.T) {
	s := openStore(t)
	if err := s.RecordJobQueued(JobRecord{ID: "j1", JobType: "batch", Status: "queued", InputPath: "in", OutputPath: "out", OptionsJSON: "{}"}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := s.RecordJobStart("j1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.RecordJobResult("j1", "completed", map[string]any{"done": 4}, ""); err != nil {
		t.Fatalf("result: %v", err)
	}
	jobs, err := s.RecentJobs(10)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("recent jobs: %v %d", err, len(jobs))
	}
	if jobs[0].Status != "completed" || jobs[0].StartedAt == nil || jobs[0].CompletedAt == nil {
		t.Fatalf("unexpected job record %+v", jobs[0])
	}
	meta, err := s.JobMeta("j1")
	if err != nil || meta["done"] != float64(4) {
		t.Fatalf("meta: %v %v", meta, err)
	}
}

func TestBatchItemsAndTotals(t *testing.T) {
	s := openStore(t)
	recs := []BatchItemRecord{
		{JobID: "b", Position: 1, SourceName: "b.png", Status: "failed", InputBytes: 10, Error: "decode image"},
		{JobID: "b", Position: 0, SourceName: "a.png", Status: "done", OutputName: "a_processed.jpeg", InputBytes: 100, OutputBytes: 40, Width: 8, Height: 6},
		{JobID: "other", Position: 0, SourceName: "z.png", Status: "done", InputBytes: 1},
	}
	for _, r := range recs {
		if err := s.RecordBatchItem(r); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	got, err := s.BatchItems("b")
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if diff := cmp.Diff([]BatchItemRecord{recs[1], recs[0]}, got); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}
	done, failed, in, out, err := s.BatchTotals("b")
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if done != 1 || failed != 1 || in != 110 || out != 40 {
		t.Fatalf("unexpected totals %d %d %d %d", done, failed, in, out)
	}
}

func TestSources(t *testing.T) {
	s := openStore(t)
	if err := s.RecordSource(SourceRecord{ID: "s1", Name: "a.png", MIME: "image/png", Size: 12, Origin: "upload"}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordSource(SourceRecord{ID: "s2", Name: "b.jpg", MIME: "image/jpeg", Size: 30, Origin: "inbox"}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteSource("s1"); err != nil {
		t.Fatal(err)
	}
	got, err := s.RecentSources(10)
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	if len(got) != 1 || got[0].ID != "s2" || got[0].Origin != "inbox" {
		t.Fatalf("unexpected sources %+v", got)
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	var s *Store
	if err := s.RecordBatchItem(BatchItemRecord{}); err != nil {
		t.Fatalf("nil store should ignore writes, got %v", err)
	}
	if _, err := s.BatchItems("x"); err == nil {
		t.Fatalf("nil store reads should fail")
	}
}

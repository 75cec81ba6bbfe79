package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFile(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "status_report.csv"))
	if err := s.Load(); err != nil {
		t.Fatalf("Load() on missing file returned error: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d records", s.Len())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status_report.csv")
	s := New(path)

	s.Put(Record{
		Name:         "mol_b",
		Status:       StatusRunning,
		CurrentStage: "Gaussian S0 Done",
		LastUpdated:  "2026-08-01 10:00:00",
		Remark:       "Processing",
		StartTime:    "2026-08-01 08:00:00",
	})
	s.Put(Record{
		Name:        "mol_a",
		Status:      StatusPending,
		LastUpdated: "2026-08-01 10:05:00",
		Remark:      "Newly added",
	})

	if err := s.Save(); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded := New(path)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", loaded.Len())
	}

	rec, ok := loaded.Get("mol_b")
	if !ok {
		t.Fatal("mol_b missing after round trip")
	}
	if rec.Status != StatusRunning {
		t.Errorf("Status = %q, want %q", rec.Status, StatusRunning)
	}
	if rec.CurrentStage != "Gaussian S0 Done" {
		t.Errorf("CurrentStage = %q, want %q", rec.CurrentStage, "Gaussian S0 Done")
	}
	if rec.StartTime != "2026-08-01 08:00:00" {
		t.Errorf("StartTime = %q, want %q", rec.StartTime, "2026-08-01 08:00:00")
	}
}

func TestSaveSortsByName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status_report.csv")
	s := New(path)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		s.Put(Record{Name: name, Status: StatusPending})
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading saved file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header + 3 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "Name,Status,Current_Stage,Last_Updated,Remark,Start_Time") {
		t.Errorf("unexpected header: %q", lines[0])
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if !strings.HasPrefix(lines[i+1], want+",") {
			t.Errorf("row %d = %q, want name %q", i+1, lines[i+1], want)
		}
	}
}

func TestLoadLegacyFileWithoutStartTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status_report.csv")
	legacy := "Name,Status,Current_Stage,Last_Updated,Remark\n" +
		"mol_x,RUNNING,Init,2026-08-01 10:00:00,Processing\n"
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(path)
	if err := s.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	rec, ok := s.Get("mol_x")
	if !ok {
		t.Fatal("mol_x not loaded")
	}
	if rec.StartTime != "" {
		t.Errorf("StartTime = %q, want empty for legacy file", rec.StartTime)
	}
}

func TestNamesByStatusPreservesDiscoveryOrder(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "status_report.csv"))
	for _, name := range []string{"third", "first", "second"} {
		s.Put(Record{Name: name, Status: StatusPending})
	}

	got := s.NamesByStatus(StatusPending)
	want := []string{"third", "first", "second"}
	if len(got) != len(want) {
		t.Fatalf("got %d names, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("NamesByStatus[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSortedNamesByStatus(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "status_report.csv"))
	for _, name := range []string{"zz", "aa", "mm"} {
		s.Put(Record{Name: name, Status: StatusRunning})
	}

	got := s.SortedNamesByStatus(StatusRunning)
	want := []string{"aa", "mm", "zz"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SortedNamesByStatus[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestUpdateAndCount(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "status_report.csv"))
	s.Put(Record{Name: "mol", Status: StatusPending})

	if !s.Update("mol", func(r *Record) { r.Status = StatusRunning }) {
		t.Fatal("Update() returned false for existing record")
	}
	if s.Update("ghost", func(r *Record) {}) {
		t.Error("Update() returned true for missing record")
	}
	if got := s.Count(StatusRunning); got != 1 {
		t.Errorf("Count(RUNNING) = %d, want 1", got)
	}
	if got := s.Count(StatusPending); got != 0 {
		t.Errorf("Count(PENDING) = %d, want 0", got)
	}
}

func TestTouch(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "status_report.csv"))
	s.Put(Record{Name: "mol", Status: StatusRunning})

	now := time.Date(2026, 8, 29, 12, 30, 0, 0, time.UTC)
	s.Touch("mol", now)

	rec, _ := s.Get("mol")
	if rec.LastUpdated != "2026-08-29 12:30:00" {
		t.Errorf("LastUpdated = %q, want %q", rec.LastUpdated, "2026-08-29 12:30:00")
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status_report.csv")
	s := New(path)
	s.Put(Record{Name: "mol", Status: StatusPending})

	if err := s.Save(); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after save")
	}
}

// Package store persists per-molecule progress records to a CSV file. The
// file is the single source of truth across controller restarts: the batch
// controller is its only writer, and every save rewrites the full table
// atomically, sorted by molecule name.
package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Unit statuses. Transitions are monotone except the RUNNING self-loop;
// COMPLETED and FAILED are terminal, ERROR keeps the unit schedulable.
const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusError     = "ERROR"
)

// TimeLayout is the timestamp format used in the status file.
const TimeLayout = "2006-01-02 15:04:05"

// Record is one molecule's row in the status file.
type Record struct {
	Name         string
	Status       string
	CurrentStage string
	LastUpdated  string
	Remark       string
	StartTime    string
}

// Store is the durable molecule-status table.
type Store struct {
	mu sync.RWMutex

	records map[string]*Record
	// order preserves discovery order for FIFO admission. Names are
	// appended exactly once, on first insert, and never removed.
	order []string

	filePath string
}

// New creates a store backed by the given CSV file.
func New(filePath string) *Store {
	return &Store{
		records:  make(map[string]*Record),
		filePath: filePath,
	}
}

// Load reads the status file. A missing file yields an empty store. Files
// written before the Start_Time column was added load with an empty
// StartTime.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.records = make(map[string]*Record)
			s.order = nil
			return nil
		}
		return fmt.Errorf("failed to open status file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read status file: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	header := rows[0]
	headerMap := make(map[string]int)
	for i, col := range header {
		headerMap[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range []string{"name", "status", "current_stage", "last_updated", "remark"} {
		if _, ok := headerMap[col]; !ok {
			return fmt.Errorf("status file missing required column: %s", col)
		}
	}

	s.records = make(map[string]*Record)
	s.order = nil

	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}

		getCol := func(name string) string {
			if idx, ok := headerMap[name]; ok && idx < len(row) {
				return strings.TrimSpace(row[idx])
			}
			return ""
		}

		rec := &Record{
			Name:         getCol("name"),
			Status:       getCol("status"),
			CurrentStage: getCol("current_stage"),
			LastUpdated:  getCol("last_updated"),
			Remark:       getCol("remark"),
			StartTime:    getCol("start_time"),
		}
		if rec.Name == "" {
			continue
		}
		if _, exists := s.records[rec.Name]; !exists {
			s.order = append(s.order, rec.Name)
		}
		s.records[rec.Name] = rec
	}

	return nil
}

// Save writes the table, sorted by name, using a temp file + rename so a
// crash mid-save cannot corrupt the previous snapshot.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := filepath.Dir(s.filePath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create status directory: %w", err)
		}
	}

	tmpPath := s.filePath + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create status file: %w", err)
	}

	writer := csv.NewWriter(file)
	header := []string{"Name", "Status", "Current_Stage", "Last_Updated", "Remark", "Start_Time"}
	if err := writer.Write(header); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write header: %w", err)
	}

	names := make([]string, 0, len(s.records))
	for name := range s.records {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rec := s.records[name]
		row := []string{rec.Name, rec.Status, rec.CurrentStage, rec.LastUpdated, rec.Remark, rec.StartTime}
		if err := writer.Write(row); err != nil {
			file.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("failed to write row for %s: %w", name, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to flush status file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close status file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename status file: %w", err)
	}
	return nil
}

// Get returns a copy of the record for name, if present.
func (s *Store) Get(name string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[name]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Has reports whether a record exists for name.
func (s *Store) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[name]
	return ok
}

// Put inserts or replaces a record.
func (s *Store) Put(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.Name]; !exists {
		s.order = append(s.order, rec.Name)
	}
	cp := rec
	s.records[rec.Name] = &cp
}

// Update applies fn to the record for name, if present.
func (s *Store) Update(name string, fn func(*Record)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[name]
	if !ok {
		return false
	}
	fn(rec)
	return true
}

// Touch stamps the record's LastUpdated with now.
func (s *Store) Touch(name string, now time.Time) {
	s.Update(name, func(r *Record) {
		r.LastUpdated = now.Format(TimeLayout)
	})
}

// NamesByStatus returns the names of records with the given status, in
// discovery order.
func (s *Store) NamesByStatus(status string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for _, name := range s.order {
		if s.records[name].Status == status {
			names = append(names, name)
		}
	}
	return names
}

// SortedNamesByStatus returns the names of records with the given status,
// sorted by name. Per-cycle processing uses this order so cycles are
// deterministic and reproducible.
func (s *Store) SortedNamesByStatus(status string) []string {
	names := s.NamesByStatus(status)
	sort.Strings(names)
	return names
}

// Count returns the number of records with the given status.
func (s *Store) Count(status string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.records {
		if rec.Status == status {
			n++
		}
	}
	return n
}

// Len returns the total number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// All returns copies of every record, sorted by name.
func (s *Store) All() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.records))
	for name := range s.records {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Record, 0, len(names))
	for _, name := range names {
		out = append(out, *s.records[name])
	}
	return out
}

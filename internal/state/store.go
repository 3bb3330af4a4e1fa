package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store reads and writes the crawl state document. Writes go through a
// temporary file followed by a rename so a reader never observes a partial
// document. There is no cross-process locking: two processes sharing the
// same path can race each other.
type Store struct {
	path string
}

// NewStore builds a Store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the backing document. A missing or malformed file yields a
// fresh default state rather than an error.
func (st *Store) Load() *CrawlState {
	data, err := os.ReadFile(st.path)
	if err != nil {
		return NewCrawlState()
	}
	var s CrawlState
	if err := json.Unmarshal(data, &s); err != nil {
		return NewCrawlState()
	}
	if s.SeenURLHashes == nil {
		s.SeenURLHashes = []string{}
	}
	if s.History == nil {
		s.History = []RunStats{}
	}
	return &s
}

// Save writes the full document atomically.
func (st *Store) Save(s *CrawlState) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if dir := filepath.Dir(st.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	tmp := st.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := os.Rename(tmp, st.path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

// UpdateRun rewrites one history record by run id. It is an out-of-band
// correction path; the record is otherwise immutable once appended.
func (st *Store) UpdateRun(runID string, mutate func(*RunStats)) error {
	s := st.Load()
	for i := range s.History {
		if s.History[i].RunID == runID {
			mutate(&s.History[i])
			return st.Save(s)
		}
	}
	return fmt.Errorf("run %s not found in history", runID)
}

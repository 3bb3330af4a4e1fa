// Package state persists crawl progress and run history as a single JSON
// document written atomically.
package state

// Caps on the state document. Oldest entries are dropped first.
const (
	MaxSeenHashes = 10000
	MaxHistory    = 10
)

// RunStatus is the lifecycle state of one crawl run.
type RunStatus string

// Run status values recorded in history.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Mode selects between incremental and full crawls.
type Mode string

// Crawl modes.
const (
	ModeIncremental Mode = "incremental"
	ModeFull        Mode = "full"
)

// RunStats tracks counters for one crawl run. It is created at run start,
// mutated throughout the run and appended to history on completion.
type RunStats struct {
	RunID         string    `json:"run_id"`
	StartTime     float64   `json:"start_time"`
	EndTime       float64   `json:"end_time,omitempty"`
	Status        RunStatus `json:"status"`
	Mode          Mode      `json:"mode"`
	FetchedCount  int       `json:"fetched_count"`
	IngestedCount int       `json:"ingested_count"`
	SkippedCount  int       `json:"skipped_count"`
	ErrorCount    int       `json:"error_count"`
	Errors        []string  `json:"errors"`
}

// CrawlState is the durable crawl progress document.
type CrawlState struct {
	LastSyncDate  string     `json:"last_sync_date,omitempty"`
	LastSyncTS    float64    `json:"last_sync_ts"`
	SeenURLHashes []string   `json:"seen_url_hashes"`
	History       []RunStats `json:"history"`
}

// NewCrawlState returns an empty default state.
func NewCrawlState() *CrawlState {
	return &CrawlState{
		SeenURLHashes: []string{},
		History:       []RunStats{},
	}
}

// HasSeen reports whether hash is in the seen set.
func (s *CrawlState) HasSeen(hash string) bool {
	for _, h := range s.SeenURLHashes {
		if h == hash {
			return true
		}
	}
	return false
}

// MarkSeen appends hash, dropping the oldest entries past the cap.
func (s *CrawlState) MarkSeen(hash string) {
	s.SeenURLHashes = append(s.SeenURLHashes, hash)
	if n := len(s.SeenURLHashes); n > MaxSeenHashes {
		s.SeenURLHashes = s.SeenURLHashes[n-MaxSeenHashes:]
	}
}

// AppendHistory records a finished run, dropping the oldest past the cap.
func (s *CrawlState) AppendHistory(run RunStats) {
	s.History = append(s.History, run)
	if n := len(s.History); n > MaxHistory {
		s.History = s.History[n-MaxHistory:]
	}
}

// LastRun returns the most recent history record, or nil.
func (s *CrawlState) LastRun() *RunStats {
	if len(s.History) == 0 {
		return nil
	}
	return &s.History[len(s.History)-1]
}

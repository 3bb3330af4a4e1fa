package crawl

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wfan24990-glitch/rag-fastapi/internal/state"
)

// ErrRunInProgress is returned by Start while a previous run is active.
var ErrRunInProgress = errors.New("a crawl run is already in progress")

// Runner owns asynchronous execution of crawl runs. At most one run is
// active at a time; Start returns the run id immediately and the run
// proceeds in the background.
type Runner struct {
	spider *Spider
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	last    *state.RunStats
}

// NewRunner builds a Runner around the given spider.
func NewRunner(spider *Spider, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{spider: spider, logger: logger}
}

// Start launches a run in the background and returns its id. The context
// governs the whole background run, so callers pass a long-lived one
// rather than a request context.
func (r *Runner) Start(ctx context.Context, params Params) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return "", ErrRunInProgress
	}

	params.RunID = uuid.New().String()
	r.running = true
	snapshot := state.RunStats{
		RunID:  params.RunID,
		Status: state.RunStatusRunning,
		Mode:   params.Mode,
	}
	r.last = &snapshot

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("crawl run panicked", zap.String("run_id", params.RunID), zap.Any("panic", rec))
			}
			r.mu.Lock()
			r.running = false
			r.mu.Unlock()
		}()
		stats := r.spider.Run(ctx, params)
		r.mu.Lock()
		r.last = &stats
		r.mu.Unlock()
	}()

	return params.RunID, nil
}

// Running reports whether a run is currently active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// LastRun returns a copy of the most recent run's stats, live or
// finished, or nil when no run has been started this process.
func (r *Runner) LastRun() *state.RunStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return nil
	}
	cp := *r.last
	return &cp
}

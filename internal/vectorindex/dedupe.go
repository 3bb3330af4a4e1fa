package vectorindex

import (
	"fmt"

	"go.uber.org/zap"
)

// Deduplicate collapses exact-text duplicates within each source group and
// rebuilds the index with contiguous ids.
//
// Purely numeric source labels are first canonicalized to "<label>.json"
// so re-ingestions of the same document under differently formatted labels
// land in one group. Within a group the first occurrence of each distinct
// text wins; identical text under different sources is never merged.
// Returns the number of removed records. A reconstruction failure aborts
// with zero removed and the live index untouched.
func (ix *Index) Deduplicate() (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	n := ix.ntotalLocked()
	if n == 0 {
		return 0, nil
	}

	// Canonical labels computed up front; committed only on success.
	canonical := make(map[int]string, n)
	for id := 0; id < n; id++ {
		m, ok := ix.metas[id]
		if !ok {
			return 0, fmt.Errorf("metadata missing for id %d", id)
		}
		source := m.Source
		if isNumeric(source) {
			source += ".json"
		}
		canonical[id] = source
	}

	seen := map[string]map[string]bool{} // source -> texts kept
	keep := make([]int, 0, n)
	for id := 0; id < n; id++ {
		source := canonical[id]
		texts := seen[source]
		if texts == nil {
			texts = map[string]bool{}
			seen[source] = texts
		}
		text := ix.metas[id].Text
		if texts[text] {
			continue
		}
		texts[text] = true
		keep = append(keep, id)
	}

	removed := n - len(keep)

	// Rebuild from reconstructed vectors in retained order before touching
	// the live structures.
	newVectors := make([]float32, 0, len(keep)*ix.dim)
	newMetas := make(map[int]Meta, len(keep))
	for newID, oldID := range keep {
		row, err := ix.reconstructLocked(oldID)
		if err != nil {
			ix.logger.Error("dedup reconstruction failed", zap.Int("id", oldID), zap.Error(err))
			return 0, fmt.Errorf("reconstruct id %d: %w", oldID, err)
		}
		newVectors = append(newVectors, row...)
		meta := ix.metas[oldID]
		meta.Source = canonical[oldID]
		newMetas[newID] = meta
	}

	ix.vectors = newVectors
	ix.metas = newMetas

	if err := ix.persistLocked(); err != nil {
		return removed, fmt.Errorf("persist after dedup: %w", err)
	}
	ix.logger.Info("index deduplicated", zap.Int("removed", removed), zap.Int("ntotal", len(keep)))
	return removed, nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

package deployment

import "github.com/artpar/berth/internal/core/domain"

// =============================================================================
// Retention Selection
// =============================================================================

// DefaultKeepCount is how many deployment records a project retains when the
// caller does not say otherwise.
const DefaultKeepCount = 5

// SplitByRetention splits a project's records into the ones to retain and the
// ones to evict. The input must be ordered newest-first, as the registry
// returns it; the first keepCount records are retained. A non-positive
// keepCount falls back to DefaultKeepCount.
//
// Example:
//
//	retained, evicted := SplitByRetention(records, 2)
//	// len(retained) == min(2, len(records)), evicted holds the rest
func SplitByRetention(records []*domain.Deployment, keepCount int) (retained, evicted []*domain.Deployment) {
	if keepCount <= 0 {
		keepCount = DefaultKeepCount
	}
	if len(records) <= keepCount {
		return records, nil
	}
	return records[:keepCount], records[keepCount:]
}

package planner

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// FallbackSeed derives the deterministic fallback ordering seed for one
// session. It is independent of the selection seed so a replanned session
// falls back to the same order every time.
func FallbackSeed(learnerID string, sequence int) uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%s:%d:fallback", learnerID, sequence))
}

// FallbackOrder permutes candidates deterministically: each id is ranked by
// the hash of the id keyed with the seed, ties broken by the id itself. The
// result is always membership-equal to the input.
func FallbackOrder(candidates []string, seed uint64) []string {
	type ranked struct {
		id   string
		rank uint64
	}

	rankedIDs := make([]ranked, len(candidates))
	for i, id := range candidates {
		rankedIDs[i] = ranked{
			id:   id,
			rank: xxhash.Sum64String(fmt.Sprintf("%s:%d", id, seed)),
		}
	}

	sort.Slice(rankedIDs, func(i, j int) bool {
		if rankedIDs[i].rank != rankedIDs[j].rank {
			return rankedIDs[i].rank < rankedIDs[j].rank
		}
		return rankedIDs[i].id < rankedIDs[j].id
	})

	order := make([]string, len(rankedIDs))
	for i, r := range rankedIDs {
		order[i] = r.id
	}
	return order
}

// Package selector produces deterministic candidate selections for a
// learner session. Selection never walks the full inventory: items carry
// precomputed shuffle keys, and each draw is a seeded wraparound range scan
// over the shuffle-key index.
package selector

import (
	"context"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"packplan/internal/contract"
	"packplan/internal/logging"
	"packplan/internal/store"
)

// StrategyName labels the selection strategy in diagnostics.
const StrategyName = "quota_wraparound_v1"

// ErrNoEligibleItems is returned when the inventory has nothing eligible.
var ErrNoEligibleItems = errors.New("no eligible items in inventory")

// Selector draws candidate items from an ItemStore under the pack quotas.
type Selector struct {
	items  store.ItemStore
	logger logging.Logger
}

// NewSelector creates a selector over the given item store.
func NewSelector(items store.ItemStore) *Selector {
	return &Selector{
		items:  items,
		logger: logging.NewComponentLogger("Selector"),
	}
}

// DeriveSeed maps a (learner, session sequence) pair into the shuffle-key
// space. The same pair always yields the same seed, so replanning a session
// reproduces its candidate pool.
func DeriveSeed(learnerID string, sequence int) uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%s:%d", learnerID, sequence)) % store.ShuffleKeySpace
}

// subSeed decorrelates the per-band and per-tier draws of one selection so
// they do not all start at the same index position.
func subSeed(learnerID string, sequence int, label string) uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%s:%d:%s", learnerID, sequence, label)) % store.ShuffleKeySpace
}

// Select builds the candidate selection for one session: two items at each of
// the top and high frequency tiers, then each difficulty band filled to its
// quota, then an unconstrained filler draw. Inventory shortfalls degrade the
// selection instead of failing it; quota gaps surface later in the
// constraint report.
func (s *Selector) Select(ctx context.Context, learnerID string, sequence int) (contract.CandidateSelection, error) {
	seed := DeriveSeed(learnerID, sequence)

	picked := make([]store.ItemRef, 0, contract.PackSize)
	taken := make(map[string]bool, contract.PackSize)
	bandCounts := make(map[contract.DifficultyBand]int)
	tierCounts := make(map[contract.FrequencyTier]int)

	add := func(refs []store.ItemRef) {
		for _, ref := range refs {
			picked = append(picked, ref)
			taken[ref.ID] = true
			bandCounts[ref.Band]++
			tierCounts[ref.Tier]++
		}
	}

	for _, tier := range []contract.FrequencyTier{contract.TierTop, contract.TierHigh} {
		refs, err := s.drawWrapped(ctx,
			store.DrawFilter{Tier: tier},
			subSeed(learnerID, sequence, "tier:"+string(tier)),
			contract.MinPerTopTier, taken)
		if err != nil {
			return contract.CandidateSelection{}, err
		}
		add(refs)
	}

	bandQuotas := []struct {
		band  contract.DifficultyBand
		quota int
	}{
		{contract.BandEasy, contract.EasyQuota},
		{contract.BandMedium, contract.MediumQuota},
		{contract.BandHard, contract.HardQuota},
	}
	for _, bq := range bandQuotas {
		need := bq.quota - bandCounts[bq.band]
		if need <= 0 {
			continue
		}
		refs, err := s.drawWrapped(ctx,
			store.DrawFilter{Band: bq.band},
			subSeed(learnerID, sequence, "band:"+string(bq.band)),
			need, taken)
		if err != nil {
			return contract.CandidateSelection{}, err
		}
		add(refs)
	}

	fillerUsed := 0
	if len(picked) < contract.PackSize {
		refs, err := s.drawWrapped(ctx, store.DrawFilter{}, seed, contract.PackSize-len(picked), taken)
		if err != nil {
			return contract.CandidateSelection{}, err
		}
		fillerUsed = len(refs)
		add(refs)
	}

	if len(picked) == 0 {
		return contract.CandidateSelection{}, ErrNoEligibleItems
	}

	// Tier draws can push a band past its quota; band draws never top the
	// remaining bands past theirs, so at most one item spills over.
	if len(picked) > contract.PackSize {
		for _, ref := range picked[contract.PackSize:] {
			bandCounts[ref.Band]--
			tierCounts[ref.Tier]--
		}
		picked = picked[:contract.PackSize]
	}

	if len(picked) < contract.PackSize {
		s.logger.Warn("Inventory shortfall for learner %s sequence %d: selected %d of %d",
			learnerID, sequence, len(picked), contract.PackSize)
	}

	ids := make([]string, len(picked))
	for i, ref := range picked {
		ids[i] = ref.ID
	}

	return contract.CandidateSelection{
		IDs:  ids,
		Seed: seed,
		Meta: contract.SelectionMeta{
			Strategy:   StrategyName,
			BandCounts: bandCounts,
			TierCounts: tierCounts,
			FillerUsed: fillerUsed,
		},
	}, nil
}

// drawWrapped scans forward from start and, on shortfall, wraps around from
// the bottom of the key space, excluding everything already drawn. Two
// indexed scans at most, each bounded by limit.
func (s *Selector) drawWrapped(ctx context.Context, filter store.DrawFilter, start uint64, limit int, taken map[string]bool) ([]store.ItemRef, error) {
	if limit <= 0 {
		return nil, nil
	}

	exclude := make([]string, 0, len(taken))
	for id := range taken {
		exclude = append(exclude, id)
	}

	refs, err := s.items.ScanShuffleRange(ctx, filter, start, limit, exclude)
	if err != nil {
		return nil, err
	}
	if len(refs) >= limit || start == 0 {
		return refs, nil
	}

	for _, ref := range refs {
		exclude = append(exclude, ref.ID)
	}
	wrapped, err := s.items.ScanShuffleRange(ctx, filter, 0, limit-len(refs), exclude)
	if err != nil {
		return nil, err
	}
	return append(refs, wrapped...), nil
}

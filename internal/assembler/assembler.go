// Package assembler turns an ordered id list into the learner-facing pack.
// Item records are re-read from the store on every assembly and legacy
// encodings are normalized at this boundary, so nothing upstream ever sees a
// raw stored shape.
package assembler

import (
	"context"
	"fmt"

	"packplan/internal/contract"
	"packplan/internal/logging"
	"packplan/internal/store"
)

// Assembler materializes packs from the item store.
type Assembler struct {
	items  store.ItemStore
	logger logging.Logger
}

// NewAssembler creates an assembler over the given item store.
func NewAssembler(items store.ItemStore) *Assembler {
	return &Assembler{
		items:  items,
		logger: logging.NewComponentLogger("Assembler"),
	}
}

// Assemble fetches the full records for orderedIDs in one batched read,
// builds the pack in that order, and evaluates the quota constraints.
//
// Constraint violations degrade, not fail: a short or unbalanced pack is
// returned with the gaps named in the report. An id with no backing record
// is different, that is an inventory inconsistency and an error.
func (a *Assembler) Assemble(ctx context.Context, orderedIDs []string, selection contract.CandidateSelection, outcome contract.PlannerOutcome) (contract.Pack, contract.ConstraintReport, error) {
	records, err := a.items.FetchByIDs(ctx, orderedIDs)
	if err != nil {
		return contract.Pack{}, contract.ConstraintReport{}, fmt.Errorf("fetch items: %w", err)
	}

	byID := make(map[string]store.ItemRecord, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	items := make([]contract.PackItem, 0, len(orderedIDs))
	bandCounts := make(map[contract.DifficultyBand]int)
	tierCounts := make(map[contract.FrequencyTier]int)

	for _, id := range orderedIDs {
		rec, ok := byID[id]
		if !ok {
			return contract.Pack{}, contract.ConstraintReport{}, fmt.Errorf("inventory inconsistency: item %q has no stored record", id)
		}

		choices, err := NormalizeChoices(rec.RawChoices)
		if err != nil {
			return contract.Pack{}, contract.ConstraintReport{}, fmt.Errorf("item %q: %w", id, err)
		}
		tags, err := NormalizeTags(rec.RawTags)
		if err != nil {
			return contract.Pack{}, contract.ConstraintReport{}, fmt.Errorf("item %q: %w", id, err)
		}

		items = append(items, contract.PackItem{
			ID:          rec.ID,
			Content:     rec.Content,
			Choices:     choices,
			Answer:      rec.Answer,
			Explanation: rec.Explanation,
			Difficulty:  rec.Band,
			Tier:        rec.Tier,
			Topic:       rec.Topic,
			ItemType:    rec.ItemType,
			ConceptTags: tags,
		})
		bandCounts[rec.Band]++
		tierCounts[rec.Tier]++
	}

	report := buildReport(len(items), bandCounts, tierCounts, outcome)
	if len(report.Violated) > 0 {
		a.logger.Warn("Pack assembled with constraint violations: %v", report.Violated)
	}

	pack := contract.Pack{
		Items: items,
		Seed:  selection.Seed,
		Meta:  selection.Meta,
	}
	return pack, report, nil
}

func buildReport(size int, bandCounts map[contract.DifficultyBand]int, tierCounts map[contract.FrequencyTier]int, outcome contract.PlannerOutcome) contract.ConstraintReport {
	report := contract.ConstraintReport{
		BandCounts: bandCounts,
		TierCounts: tierCounts,
		Planner:    outcome,
	}

	check := func(name string, ok bool) {
		if ok {
			report.Met = append(report.Met, name)
		} else {
			report.Violated = append(report.Violated, name)
		}
	}

	check(contract.ConstraintPackSize, size == contract.PackSize)
	check(contract.ConstraintEasyCount, bandCounts[contract.BandEasy] == contract.EasyQuota)
	check(contract.ConstraintMediumCount, bandCounts[contract.BandMedium] == contract.MediumQuota)
	check(contract.ConstraintHardCount, bandCounts[contract.BandHard] == contract.HardQuota)
	check(contract.ConstraintTopTierMin, tierCounts[contract.TierTop] >= contract.MinPerTopTier)
	check(contract.ConstraintHighTierMin, tierCounts[contract.TierHigh] >= contract.MinPerTopTier)

	return report
}

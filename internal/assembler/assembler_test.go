package assembler

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packplan/internal/contract"
	"packplan/internal/store"
	"packplan/internal/store/memstore"
)

func seedBalancedInventory(t *testing.T) (*memstore.ItemStore, []string) {
	t.Helper()
	items := memstore.NewItemStore()

	specs := []struct {
		band contract.DifficultyBand
		tier contract.FrequencyTier
		n    int
	}{
		{contract.BandEasy, contract.TierTop, 3},
		{contract.BandMedium, contract.TierHigh, 2},
		{contract.BandMedium, contract.TierMid, 4},
		{contract.BandHard, contract.TierLow, 3},
	}

	var ids []string
	key := uint64(0)
	for _, spec := range specs {
		for i := 0; i < spec.n; i++ {
			id := fmt.Sprintf("%s-%s-%d", spec.band, spec.tier, i)
			items.Add(store.ItemRecord{
				ID:          id,
				Content:     "question " + id,
				Answer:      "A",
				Explanation: "because",
				Band:        spec.band,
				Tier:        spec.tier,
				Topic:       "grammar",
				ItemType:    "multiple_choice",
				RawChoices:  json.RawMessage(`["alpha","beta","gamma","delta"]`),
				RawTags:     json.RawMessage(`["tag-a","tag-b"]`),
				ShuffleKey:  key,
				Eligible:    true,
			})
			ids = append(ids, id)
			key++
		}
	}
	return items, ids
}

func TestAssemble_FullPack(t *testing.T) {
	items, ids := seedBalancedInventory(t)
	a := NewAssembler(items)

	selection := contract.CandidateSelection{IDs: ids, Seed: 99, Meta: contract.SelectionMeta{Strategy: "test"}}
	outcome := contract.PlannerOutcome{Order: ids, Status: contract.StatusSuccess, Model: "reasoner-test"}

	pack, report, err := a.Assemble(context.Background(), ids, selection, outcome)
	require.NoError(t, err)

	require.Len(t, pack.Items, contract.PackSize)
	for i, item := range pack.Items {
		assert.Equal(t, ids[i], item.ID, "pack order must follow the ordered ids")
		assert.Len(t, item.Choices, contract.ChoiceSlots)
		assert.Equal(t, []string{"tag-a", "tag-b"}, item.ConceptTags)
	}
	assert.Equal(t, uint64(99), pack.Seed)

	assert.ElementsMatch(t, []string{
		contract.ConstraintPackSize,
		contract.ConstraintEasyCount,
		contract.ConstraintMediumCount,
		contract.ConstraintHardCount,
		contract.ConstraintTopTierMin,
		contract.ConstraintHighTierMin,
	}, report.Met)
	assert.Empty(t, report.Violated)
	assert.Equal(t, outcome, report.Planner)
}

func TestAssemble_ReportsShortfall(t *testing.T) {
	items, ids := seedBalancedInventory(t)
	a := NewAssembler(items)

	short := ids[:5]
	pack, report, err := a.Assemble(context.Background(), short, contract.CandidateSelection{IDs: short}, contract.PlannerOutcome{})
	require.NoError(t, err)

	assert.Len(t, pack.Items, 5)
	assert.Contains(t, report.Violated, contract.ConstraintPackSize)
	assert.Contains(t, report.Violated, contract.ConstraintMediumCount)
}

func TestAssemble_MissingRecordIsFatal(t *testing.T) {
	items, ids := seedBalancedInventory(t)
	a := NewAssembler(items)

	withGhost := append(append([]string(nil), ids[:11]...), "ghost-item")
	_, _, err := a.Assemble(context.Background(), withGhost, contract.CandidateSelection{IDs: withGhost}, contract.PlannerOutcome{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost-item")
}

func TestNormalizeChoices(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "plain array",
			raw:  `["one","two","three","four"]`,
			want: []string{"one", "two", "three", "four"},
		},
		{
			name: "array with extras dropped",
			raw:  `["one","two","three","four","five"]`,
			want: []string{"one", "two", "three", "four"},
		},
		{
			name: "short array padded",
			raw:  `["one","two"]`,
			want: []string{"one", "two", PlaceholderChoice, PlaceholderChoice},
		},
		{
			name: "object keyed by letter",
			raw:  `{"A":"one","B":"two","C":"three","D":"four"}`,
			want: []string{"one", "two", "three", "four"},
		},
		{
			name: "object with gap padded",
			raw:  `{"A":"one","C":"three"}`,
			want: []string{"one", PlaceholderChoice, "three", PlaceholderChoice},
		},
		{
			name: "object with lowercase keys",
			raw:  `{"a":"one","b":"two","c":"three","d":"four"}`,
			want: []string{"one", "two", "three", "four"},
		},
		{
			name: "pipe delimited with letter prefixes",
			raw:  `"A. one|B. two|C. three|D. four"`,
			want: []string{"one", "two", "three", "four"},
		},
		{
			name: "pipe delimited with paren prefixes",
			raw:  `"A) one|B) two|C) three"`,
			want: []string{"one", "two", "three", PlaceholderChoice},
		},
		{
			name: "pipe delimited without prefixes",
			raw:  `"one|two|three|four"`,
			want: []string{"one", "two", "three", "four"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeChoices(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeChoices_AbsentMeansNotMultipleChoice(t *testing.T) {
	for _, raw := range []string{"", "null", "[]", `""`} {
		got, err := NormalizeChoices(json.RawMessage(raw))
		require.NoError(t, err, "raw=%q", raw)
		assert.Nil(t, got, "raw=%q", raw)
	}
}

func TestNormalizeChoices_RejectsUnknownEncoding(t *testing.T) {
	_, err := NormalizeChoices(json.RawMessage(`42`))
	assert.Error(t, err)
}

func TestNormalizeTags(t *testing.T) {
	got, err := NormalizeTags(json.RawMessage(`["passive voice"," tense "]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"passive voice", "tense"}, got)

	got, err = NormalizeTags(json.RawMessage(`"passive voice, tense"`))
	require.NoError(t, err)
	assert.Equal(t, []string{"passive voice", "tense"}, got)

	got, err = NormalizeTags(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Nil(t, got)
}

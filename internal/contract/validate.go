package contract

import (
	"errors"
	"fmt"
	"sort"
)

// ErrMembership marks any membership-equality violation between the ids sent
// to the ordering step and the ids it returned.
var ErrMembership = errors.New("membership violation")

// ErrSchema marks a structurally invalid order response (wrong version or
// wrong cardinality).
var ErrSchema = errors.New("schema violation")

// ValidateCandidateSelection checks that a selection holds unique ids and no
// more than a full pack's worth. Fewer than PackSize ids is legal: sparse
// inventories degrade rather than fail, and the assembler reports the
// shortfall.
func ValidateCandidateSelection(sel CandidateSelection) error {
	if len(sel.IDs) == 0 {
		return fmt.Errorf("candidate selection is empty")
	}
	if len(sel.IDs) > PackSize {
		return fmt.Errorf("candidate selection has %d ids, want at most %d", len(sel.IDs), PackSize)
	}
	seen := make(map[string]bool, len(sel.IDs))
	for _, id := range sel.IDs {
		if id == "" {
			return fmt.Errorf("candidate selection contains an empty id")
		}
		if seen[id] {
			return fmt.Errorf("candidate selection contains duplicate id %q", id)
		}
		seen[id] = true
	}
	return nil
}

// ValidateOrderResponseSchema checks the structural contract of an order
// response: the expected version tag and exactly want entries. Membership is
// checked separately by CheckMembership.
func ValidateOrderResponseSchema(resp OrderResponse, want int) error {
	if resp.Version != OrderContractVersion {
		return fmt.Errorf("%w: version %q, want %q", ErrSchema, resp.Version, OrderContractVersion)
	}
	if len(resp.Order) != want {
		return fmt.Errorf("%w: %d entries, want %d", ErrSchema, len(resp.Order), want)
	}
	return nil
}

// CheckMembership verifies that output is a permutation of input: same
// elements, no additions, drops, substitutions or duplicates. The ordering
// step may only permute.
func CheckMembership(input, output []string) error {
	if len(output) != len(input) {
		return fmt.Errorf("%w: got %d ids, want %d", ErrMembership, len(output), len(input))
	}

	want := make(map[string]bool, len(input))
	for _, id := range input {
		want[id] = true
	}

	seen := make(map[string]bool, len(output))
	var foreign, duplicated []string
	for _, id := range output {
		if seen[id] {
			duplicated = append(duplicated, id)
			continue
		}
		seen[id] = true
		if !want[id] {
			foreign = append(foreign, id)
		}
	}

	var missing []string
	for _, id := range input {
		if !seen[id] {
			missing = append(missing, id)
		}
	}

	if len(foreign) == 0 && len(missing) == 0 && len(duplicated) == 0 {
		return nil
	}

	sort.Strings(foreign)
	sort.Strings(missing)
	sort.Strings(duplicated)
	return fmt.Errorf("%w: foreign=%v missing=%v duplicated=%v", ErrMembership, foreign, missing, duplicated)
}

// ValidatePlannerOutcome enforces the internal consistency of an outcome:
// a non-success status always carries a fallback order, and the order itself
// must be membership-equal to the candidate set it was derived from.
func ValidatePlannerOutcome(outcome PlannerOutcome, candidates []string) error {
	switch outcome.Status {
	case StatusSuccess:
		if outcome.UsedFallback {
			return fmt.Errorf("success outcome marked as fallback")
		}
	case StatusTimeout, StatusSchemaInvalid, StatusMembershipViolation, StatusFallbackUsed:
		if !outcome.UsedFallback {
			return fmt.Errorf("status %s requires used_fallback", outcome.Status)
		}
		if outcome.Model != FallbackModel {
			return fmt.Errorf("status %s reports model %q, want %q", outcome.Status, outcome.Model, FallbackModel)
		}
	default:
		return fmt.Errorf("unknown planner status %q", outcome.Status)
	}
	return CheckMembership(candidates, outcome.Order)
}

package contract

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("item-%02d", i)
	}
	return out
}

func TestValidateCandidateSelection(t *testing.T) {
	t.Run("full pack is valid", func(t *testing.T) {
		err := ValidateCandidateSelection(CandidateSelection{IDs: ids(PackSize)})
		assert.NoError(t, err)
	})

	t.Run("short selection is valid", func(t *testing.T) {
		err := ValidateCandidateSelection(CandidateSelection{IDs: ids(5)})
		assert.NoError(t, err)
	})

	t.Run("empty selection is rejected", func(t *testing.T) {
		err := ValidateCandidateSelection(CandidateSelection{})
		assert.Error(t, err)
	})

	t.Run("oversized selection is rejected", func(t *testing.T) {
		err := ValidateCandidateSelection(CandidateSelection{IDs: ids(PackSize + 1)})
		assert.Error(t, err)
	})

	t.Run("duplicate ids are rejected", func(t *testing.T) {
		dup := ids(PackSize)
		dup[11] = dup[0]
		err := ValidateCandidateSelection(CandidateSelection{IDs: dup})
		assert.Error(t, err)
	})
}

func TestValidateOrderResponseSchema(t *testing.T) {
	tests := []struct {
		name    string
		resp    OrderResponse
		wantErr bool
	}{
		{"valid", OrderResponse{Version: OrderContractVersion, Order: ids(PackSize)}, false},
		{"wrong version", OrderResponse{Version: "pack-order/v0", Order: ids(PackSize)}, true},
		{"missing version", OrderResponse{Order: ids(PackSize)}, true},
		{"too few entries", OrderResponse{Version: OrderContractVersion, Order: ids(11)}, true},
		{"too many entries", OrderResponse{Version: OrderContractVersion, Order: ids(13)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOrderResponseSchema(tt.resp, PackSize)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrSchema)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckMembership(t *testing.T) {
	input := ids(PackSize)

	t.Run("identity", func(t *testing.T) {
		assert.NoError(t, CheckMembership(input, input))
	})

	t.Run("permutation", func(t *testing.T) {
		reversed := make([]string, len(input))
		for i, id := range input {
			reversed[len(input)-1-i] = id
		}
		assert.NoError(t, CheckMembership(input, reversed))
	})

	t.Run("foreign id", func(t *testing.T) {
		out := append([]string{}, input[:11]...)
		out = append(out, "intruder")
		err := CheckMembership(input, out)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMembership)
		assert.Contains(t, err.Error(), "intruder")
	})

	t.Run("duplicated id", func(t *testing.T) {
		out := append([]string{}, input[:11]...)
		out = append(out, input[0])
		err := CheckMembership(input, out)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMembership)
	})

	t.Run("dropped id", func(t *testing.T) {
		err := CheckMembership(input, input[:11])
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMembership)
	})
}

func TestValidatePlannerOutcome(t *testing.T) {
	candidates := ids(PackSize)

	t.Run("success", func(t *testing.T) {
		outcome := PlannerOutcome{Order: candidates, Status: StatusSuccess, Model: "reasoner-1"}
		assert.NoError(t, ValidatePlannerOutcome(outcome, candidates))
	})

	t.Run("success cannot use fallback", func(t *testing.T) {
		outcome := PlannerOutcome{Order: candidates, Status: StatusSuccess, UsedFallback: true}
		assert.Error(t, ValidatePlannerOutcome(outcome, candidates))
	})

	t.Run("failure must use fallback", func(t *testing.T) {
		outcome := PlannerOutcome{Order: candidates, Status: StatusTimeout}
		assert.Error(t, ValidatePlannerOutcome(outcome, candidates))
	})

	t.Run("fallback outcome", func(t *testing.T) {
		outcome := PlannerOutcome{
			Order:        candidates,
			Status:       StatusMembershipViolation,
			UsedFallback: true,
			Model:        FallbackModel,
		}
		assert.NoError(t, ValidatePlannerOutcome(outcome, candidates))
	})

	t.Run("fallback with foreign order is rejected", func(t *testing.T) {
		order := append([]string{}, candidates[:11]...)
		order = append(order, "foreign")
		outcome := PlannerOutcome{
			Order:        order,
			Status:       StatusFallbackUsed,
			UsedFallback: true,
			Model:        FallbackModel,
		}
		assert.ErrorIs(t, ValidatePlannerOutcome(outcome, candidates), ErrMembership)
	})
}

package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packplan/internal/contract"
)

func candidateIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("item-%02d", i)
	}
	return ids
}

func fullSelection() contract.CandidateSelection {
	return contract.CandidateSelection{
		IDs:  candidateIDs(contract.PackSize),
		Seed: 42,
	}
}

func reversed(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[len(ids)-1-i] = id
	}
	return out
}

func fastConfig() PlanConfig {
	return PlanConfig{Timeout: 200 * time.Millisecond, MaxRetries: 1}
}

func TestPlanOrder_Success(t *testing.T) {
	opt := OptimizerFunc("reasoner-test", func(ctx context.Context, req contract.OrderRequest) (contract.OrderResponse, error) {
		return contract.OrderResponse{
			Version: contract.OrderContractVersion,
			Order:   reversed(req.Candidates),
		}, nil
	})
	p := NewPlanner(opt, fastConfig(), nil)

	sel := fullSelection()
	outcome := p.PlanOrder(context.Background(), "learner-1", 1, sel)

	assert.Equal(t, contract.StatusSuccess, outcome.Status)
	assert.False(t, outcome.UsedFallback)
	assert.Equal(t, "reasoner-test", outcome.Model)
	assert.Equal(t, reversed(sel.IDs), outcome.Order)
	require.NoError(t, contract.ValidatePlannerOutcome(outcome, sel.IDs))
}

func TestPlanOrder_Timeout(t *testing.T) {
	opt := OptimizerFunc("slow", func(ctx context.Context, req contract.OrderRequest) (contract.OrderResponse, error) {
		<-ctx.Done()
		return contract.OrderResponse{}, ctx.Err()
	})
	p := NewPlanner(opt, PlanConfig{Timeout: 20 * time.Millisecond, MaxRetries: 1}, nil)

	sel := fullSelection()
	start := time.Now()
	outcome := p.PlanOrder(context.Background(), "learner-1", 1, sel)

	assert.Less(t, time.Since(start), 2*time.Second, "timeout must bound the call")
	assert.Equal(t, contract.StatusTimeout, outcome.Status)
	assert.True(t, outcome.UsedFallback)
	assert.Equal(t, contract.FallbackModel, outcome.Model)
	require.NoError(t, contract.ValidatePlannerOutcome(outcome, sel.IDs))
}

func TestPlanOrder_SchemaInvalidVersion(t *testing.T) {
	opt := OptimizerFunc("bad", func(ctx context.Context, req contract.OrderRequest) (contract.OrderResponse, error) {
		return contract.OrderResponse{Version: "pack-order/v0", Order: req.Candidates}, nil
	})
	p := NewPlanner(opt, fastConfig(), nil)

	sel := fullSelection()
	outcome := p.PlanOrder(context.Background(), "learner-1", 1, sel)

	assert.Equal(t, contract.StatusSchemaInvalid, outcome.Status)
	assert.True(t, outcome.UsedFallback)
	require.NoError(t, contract.ValidatePlannerOutcome(outcome, sel.IDs))
}

func TestPlanOrder_SchemaInvalidCardinality(t *testing.T) {
	opt := OptimizerFunc("bad", func(ctx context.Context, req contract.OrderRequest) (contract.OrderResponse, error) {
		return contract.OrderResponse{
			Version: contract.OrderContractVersion,
			Order:   req.Candidates[:len(req.Candidates)-1],
		}, nil
	})
	p := NewPlanner(opt, fastConfig(), nil)

	outcome := p.PlanOrder(context.Background(), "learner-1", 1, fullSelection())
	assert.Equal(t, contract.StatusSchemaInvalid, outcome.Status)
	assert.True(t, outcome.UsedFallback)
}

func TestPlanOrder_MembershipViolation(t *testing.T) {
	opt := OptimizerFunc("tamper", func(ctx context.Context, req contract.OrderRequest) (contract.OrderResponse, error) {
		order := append([]string(nil), req.Candidates[:len(req.Candidates)-1]...)
		order = append(order, "foreign-item")
		return contract.OrderResponse{Version: contract.OrderContractVersion, Order: order}, nil
	})
	p := NewPlanner(opt, fastConfig(), nil)

	sel := fullSelection()
	outcome := p.PlanOrder(context.Background(), "learner-1", 1, sel)

	assert.Equal(t, contract.StatusMembershipViolation, outcome.Status)
	assert.True(t, outcome.UsedFallback)
	assert.NotContains(t, outcome.Order, "foreign-item")
	require.NoError(t, contract.ValidatePlannerOutcome(outcome, sel.IDs))
}

func TestPlanOrder_TransportError(t *testing.T) {
	opt := OptimizerFunc("down", func(ctx context.Context, req contract.OrderRequest) (contract.OrderResponse, error) {
		return contract.OrderResponse{}, errors.New("connection refused")
	})
	p := NewPlanner(opt, fastConfig(), nil)

	outcome := p.PlanOrder(context.Background(), "learner-1", 1, fullSelection())
	assert.Equal(t, contract.StatusFallbackUsed, outcome.Status)
	assert.True(t, outcome.UsedFallback)
}

func TestPlanOrder_DegradedSelectionSkipsOptimizer(t *testing.T) {
	var calls atomic.Int32
	opt := OptimizerFunc("unused", func(ctx context.Context, req contract.OrderRequest) (contract.OrderResponse, error) {
		calls.Add(1)
		return contract.OrderResponse{}, nil
	})
	p := NewPlanner(opt, fastConfig(), nil)

	sel := contract.CandidateSelection{IDs: candidateIDs(7)}
	outcome := p.PlanOrder(context.Background(), "learner-1", 1, sel)

	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, contract.StatusFallbackUsed, outcome.Status)
	assert.True(t, outcome.UsedFallback)
	assert.Len(t, outcome.Order, 7)
	require.NoError(t, contract.ValidatePlannerOutcome(outcome, sel.IDs))
}

func TestFallbackOrder_DeterministicPermutation(t *testing.T) {
	ids := candidateIDs(contract.PackSize)
	seed := FallbackSeed("learner-1", 4)

	first := FallbackOrder(ids, seed)
	second := FallbackOrder(ids, seed)
	assert.Equal(t, first, second)
	require.NoError(t, contract.CheckMembership(ids, first))

	other := FallbackOrder(ids, FallbackSeed("learner-1", 5))
	assert.NotEqual(t, first, other)
}

func TestReasoningOptimizer_RoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/pack-order", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req struct {
			Version    string   `json:"version"`
			Candidates []string `json:"candidates"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, contract.OrderContractVersion, req.Version)

		_ = json.NewEncoder(w).Encode(contract.OrderResponse{
			Version: contract.OrderContractVersion,
			Order:   reversed(req.Candidates),
		})
	}))
	defer server.Close()

	opt := NewReasoningOptimizer(ReasoningConfig{BaseURL: server.URL, APIKey: "secret", Model: "reasoner-v2"})
	p := NewPlanner(opt, fastConfig(), nil)

	sel := fullSelection()
	outcome := p.PlanOrder(context.Background(), "learner-1", 1, sel)

	assert.Equal(t, contract.StatusSuccess, outcome.Status)
	assert.Equal(t, "reasoner-v2", outcome.Model)
	assert.Equal(t, reversed(sel.IDs), outcome.Order)
}

func TestReasoningOptimizer_RetriesServerError(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	opt := NewReasoningOptimizer(ReasoningConfig{BaseURL: server.URL, Model: "reasoner-v2"})
	p := NewPlanner(opt, PlanConfig{Timeout: 5 * time.Second, MaxRetries: 1}, nil)

	sel := fullSelection()
	outcome := p.PlanOrder(context.Background(), "learner-1", 1, sel)

	assert.Equal(t, int32(2), hits.Load(), "one retry after the first failure")
	assert.Equal(t, contract.StatusFallbackUsed, outcome.Status)
	assert.True(t, outcome.UsedFallback)
}

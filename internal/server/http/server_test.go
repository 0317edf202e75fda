package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packplan/internal/assembler"
	"packplan/internal/contract"
	"packplan/internal/lifecycle"
	"packplan/internal/planner"
	"packplan/internal/selector"
	"packplan/internal/store"
	"packplan/internal/store/memstore"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	items := memstore.NewItemStore()
	key := uint64(0)
	add := func(prefix string, n int, band contract.DifficultyBand, tier contract.FrequencyTier) {
		for i := 0; i < n; i++ {
			key++
			items.Add(store.ItemRecord{
				ID:         fmt.Sprintf("%s-%d", prefix, i),
				Content:    "q",
				Band:       band,
				Tier:       tier,
				ShuffleKey: key * 11,
				Eligible:   true,
			})
		}
	}
	add("top", 4, contract.BandMedium, contract.TierTop)
	add("high", 4, contract.BandMedium, contract.TierHigh)
	add("easy", 6, contract.BandEasy, contract.TierMid)
	add("med", 8, contract.BandMedium, contract.TierLow)
	add("hard", 6, contract.BandHard, contract.TierMid)

	opt := planner.OptimizerFunc("reasoner-test", func(ctx context.Context, req contract.OrderRequest) (contract.OrderResponse, error) {
		return contract.OrderResponse{Version: contract.OrderContractVersion, Order: req.Candidates}, nil
	})

	service := lifecycle.NewService(
		selector.NewSelector(items),
		planner.NewPlanner(opt, planner.PlanConfig{Timeout: time.Second}, nil),
		assembler.NewAssembler(items),
		memstore.NewPlanStore(),
		nil,
		nil,
	)
	return NewServer(service, nil, Options{Host: "127.0.0.1", Port: 0})
}

func doJSON(t *testing.T, srv *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestPlanEndpoint_CreatesAndReplays(t *testing.T) {
	srv := newTestServer(t)
	path := "/api/learners/l1/sessions/s1/plan"
	body := map[string]any{"sequence": 1}
	headers := map[string]string{"Idempotency-Key": "k1"}

	rec := doJSON(t, srv, http.MethodPost, path, body, headers)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Replayed bool `json:"replayed"`
		Pack     struct {
			Items []struct {
				ID string `json:"id"`
			} `json:"items"`
		} `json:"pack"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.False(t, created.Replayed)
	assert.Len(t, created.Pack.Items, contract.PackSize)

	rec = doJSON(t, srv, http.MethodPost, path, body, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	var replayed struct {
		Replayed bool `json:"replayed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &replayed))
	assert.True(t, replayed.Replayed)
}

func TestPlanEndpoint_IdempotencyKeyConflict(t *testing.T) {
	srv := newTestServer(t)
	path := "/api/learners/l1/sessions/s1/plan"
	body := map[string]any{"sequence": 1}

	rec := doJSON(t, srv, http.MethodPost, path, body, map[string]string{"Idempotency-Key": "k1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, path, body, map[string]string{"Idempotency-Key": "k2"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPackEndpoint_NotFound(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/learners/l1/sessions/ghost/pack", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlanEndpoint_RequiresIdempotencyKey(t *testing.T) {
	srv := newTestServer(t)
	body := map[string]any{"sequence": 1}

	rec := doJSON(t, srv, http.MethodPost, "/api/learners/l1/sessions/s1/plan", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestLifecycleEndpoints(t *testing.T) {
	srv := newTestServer(t)
	body := map[string]any{"sequence": 1}
	headers := map[string]string{"Idempotency-Key": "k1"}

	rec := doJSON(t, srv, http.MethodPost, "/api/learners/l1/sessions/s1/plan", body, headers)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/learners/l1/sessions/s1/served", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/learners/l1/sessions/s1/completed", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Serving after completion is an invalid transition.
	rec = doJSON(t, srv, http.MethodPost, "/api/learners/l1/sessions/s1/served", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/learners/l1/sessions/s1/pack", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var fetched struct {
		Status contract.PlanStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, contract.PlanStatusCompleted, fetched.Status)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

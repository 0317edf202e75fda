// Package planner drives the order-optimization step: it asks the external
// reasoning service to permute a candidate selection and enforces the strict
// contract around that call. Every violation, timeout, malformed schema or
// tampered membership, degrades to the deterministic fallback order so the
// pipeline never fails and never blocks on the external service.
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"packplan/internal/contract"
	packerrors "packplan/internal/errors"
	"packplan/internal/logging"
)

// Optimizer produces an ordering for a candidate set. Implementations must
// treat the candidates as opaque ids; only a permutation is acceptable, and
// the planner verifies that.
type Optimizer interface {
	Optimize(ctx context.Context, req contract.OrderRequest) (contract.OrderResponse, error)
	Model() string
}

// ReasoningConfig configures the HTTP client for the reasoning service.
type ReasoningConfig struct {
	BaseURL string            `yaml:"base_url" json:"base_url"`
	APIKey  string            `yaml:"api_key" json:"api_key"`
	Model   string            `yaml:"model" json:"model"`
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// reasoningOptimizer speaks the pack-order HTTP API of the reasoning service.
type reasoningOptimizer struct {
	baseURL    string
	apiKey     string
	model      string
	headers    map[string]string
	httpClient *http.Client
	logger     logging.Logger
}

// NewReasoningOptimizer constructs the HTTP-backed optimizer. The client
// carries no timeout of its own; the planner bounds every call through the
// request context.
func NewReasoningOptimizer(config ReasoningConfig) Optimizer {
	return &reasoningOptimizer{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		model:      config.Model,
		headers:    config.Headers,
		httpClient: &http.Client{},
		logger:     logging.NewComponentLogger("ReasoningOptimizer"),
	}
}

func (c *reasoningOptimizer) Model() string {
	return c.model
}

func (c *reasoningOptimizer) Optimize(ctx context.Context, req contract.OrderRequest) (contract.OrderResponse, error) {
	body, err := json.Marshal(map[string]any{
		"version":     req.Version,
		"model":       c.model,
		"candidates":  req.Candidates,
		"instruction": req.Instruction,
		"learner_id":  req.LearnerID,
		"sequence":    req.Sequence,
	})
	if err != nil {
		return contract.OrderResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/v1/pack-order"
	c.logger.Debug("POST %s candidates=%d learner=%s", endpoint, len(req.Candidates), req.LearnerID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return contract.OrderResponse{}, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Debug("HTTP request failed: %v", err)
		return contract.OrderResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return contract.OrderResponse{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("Error response %d: %s", resp.StatusCode, string(respBody))
		return contract.OrderResponse{}, packerrors.NewHTTPStatusError(resp.StatusCode, resp.Status, string(respBody))
	}

	var orderResp contract.OrderResponse
	if err := json.Unmarshal(respBody, &orderResp); err != nil {
		return contract.OrderResponse{}, fmt.Errorf("%w: undecodable body: %v", contract.ErrSchema, err)
	}
	return orderResp, nil
}

// staticModelOptimizer wraps a function as an Optimizer, for tests and wiring.
type staticModelOptimizer struct {
	model string
	fn    func(ctx context.Context, req contract.OrderRequest) (contract.OrderResponse, error)
}

// OptimizerFunc adapts a function to the Optimizer interface under a fixed
// model name.
func OptimizerFunc(model string, fn func(ctx context.Context, req contract.OrderRequest) (contract.OrderResponse, error)) Optimizer {
	return &staticModelOptimizer{model: model, fn: fn}
}

func (o *staticModelOptimizer) Model() string { return o.model }

func (o *staticModelOptimizer) Optimize(ctx context.Context, req contract.OrderRequest) (contract.OrderResponse, error) {
	return o.fn(ctx, req)
}

// defaultInstruction is the ordering guidance sent with every request.
const defaultInstruction = "Order the candidate practice items for engagement: " +
	"open approachable, build difficulty gradually, close with consolidation. " +
	"Return a permutation of the candidate ids, nothing else."

// NewOrderRequest builds the wire request for one session's candidates.
func NewOrderRequest(learnerID string, sequence int, candidates []string) contract.OrderRequest {
	return contract.OrderRequest{
		Version:     contract.OrderContractVersion,
		Candidates:  candidates,
		Instruction: defaultInstruction,
		LearnerID:   learnerID,
		Sequence:    sequence,
	}
}

// requestTimeout is the hard budget for one optimization attempt, retry
// included. The lifecycle controller relies on this bound to keep plan-next
// latency predictable.
const requestTimeout = 12 * time.Second

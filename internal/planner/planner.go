package planner

import (
	"context"
	"errors"
	"time"

	"packplan/internal/contract"
	packerrors "packplan/internal/errors"
	"packplan/internal/logging"
	"packplan/internal/observability"
)

// PlanConfig bounds one order-optimization call.
type PlanConfig struct {
	// Timeout is the hard budget for the call, retries included.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
}

// DefaultPlanConfig returns the contract defaults: a 12 second budget and at
// most one retry.
func DefaultPlanConfig() PlanConfig {
	return PlanConfig{
		Timeout:    requestTimeout,
		MaxRetries: 1,
	}
}

// Planner runs the order-optimization step and enforces its contract. It
// never returns an error: every failure mode degrades to the deterministic
// fallback order, tagged with the status that triggered it.
type Planner struct {
	optimizer Optimizer
	config    PlanConfig
	metrics   *observability.MetricsCollector
	logger    logging.Logger
}

// NewPlanner creates a planner around the given optimizer. metrics may be
// nil.
func NewPlanner(optimizer Optimizer, config PlanConfig, metrics *observability.MetricsCollector) *Planner {
	if config.Timeout <= 0 {
		config.Timeout = requestTimeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &Planner{
		optimizer: optimizer,
		config:    config,
		metrics:   metrics,
		logger:    logging.NewComponentLogger("Planner"),
	}
}

// PlanOrder produces the final item order for one session's candidates.
//
// A full candidate set goes to the reasoning service under the configured
// timeout and retry budget; the response must carry the expected version,
// exactly one entry per candidate, and be membership-equal to the input.
// Anything else, and any degraded selection below a full pack, takes the
// deterministic fallback order instead.
func (p *Planner) PlanOrder(ctx context.Context, learnerID string, sequence int, selection contract.CandidateSelection) contract.PlannerOutcome {
	start := time.Now()
	candidates := selection.IDs

	if len(candidates) != contract.PackSize {
		p.logger.Info("Degraded selection of %d items for learner %s, using fallback order", len(candidates), learnerID)
		return p.finish(ctx, learnerID, sequence, candidates, contract.StatusFallbackUsed, 0, start)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	retryConfig := packerrors.RetryConfig{
		MaxAttempts:  p.config.MaxRetries,
		BaseDelay:    200 * time.Millisecond,
		MaxDelay:     time.Second,
		JitterFactor: 0.2,
	}

	req := NewOrderRequest(learnerID, sequence, candidates)

	attempts := 0
	resp, err := packerrors.RetryWithResultAndLog(callCtx, retryConfig, func(ctx context.Context) (contract.OrderResponse, error) {
		attempts++
		return p.optimizer.Optimize(ctx, req)
	}, p.logger)

	retries := attempts - 1
	if retries < 0 {
		retries = 0
	}

	if err != nil {
		status := contract.StatusFallbackUsed
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			status = contract.StatusTimeout
		case errors.Is(err, contract.ErrSchema):
			status = contract.StatusSchemaInvalid
		}
		p.logger.Warn("Order optimization failed for learner %s session seq %d (%s): %v", learnerID, sequence, status, err)
		return p.finish(ctx, learnerID, sequence, candidates, status, retries, start)
	}

	if err := contract.ValidateOrderResponseSchema(resp, len(candidates)); err != nil {
		p.logger.Warn("Order response failed schema validation: %v", err)
		return p.finish(ctx, learnerID, sequence, candidates, contract.StatusSchemaInvalid, retries, start)
	}
	if err := contract.CheckMembership(candidates, resp.Order); err != nil {
		p.logger.Warn("Order response failed membership check: %v", err)
		return p.finish(ctx, learnerID, sequence, candidates, contract.StatusMembershipViolation, retries, start)
	}

	outcome := contract.PlannerOutcome{
		Order:       resp.Order,
		Status:      contract.StatusSuccess,
		ElapsedMs:   time.Since(start).Milliseconds(),
		RetriesUsed: retries,
		Model:       p.optimizer.Model(),
	}
	p.metrics.RecordPlannerRequest(ctx, outcome.Model, string(outcome.Status), false, time.Since(start))
	return outcome
}

// finish builds a fallback outcome for the given terminal status and records
// it.
func (p *Planner) finish(ctx context.Context, learnerID string, sequence int, candidates []string, status contract.PlannerStatus, retries int, start time.Time) contract.PlannerOutcome {
	outcome := contract.PlannerOutcome{
		Order:        FallbackOrder(candidates, FallbackSeed(learnerID, sequence)),
		Status:       status,
		UsedFallback: true,
		ElapsedMs:    time.Since(start).Milliseconds(),
		RetriesUsed:  retries,
		Model:        contract.FallbackModel,
	}
	p.metrics.RecordPlannerRequest(ctx, contract.FallbackModel, string(status), true, time.Since(start))
	return outcome
}

// Package lifecycle is the session plan controller: it runs the selection,
// ordering and assembly pipeline for plan-next, persists the result exactly
// once per (learner, session), and drives the served/completed transitions.
package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"packplan/internal/assembler"
	"packplan/internal/contract"
	"packplan/internal/logging"
	"packplan/internal/observability"
	"packplan/internal/planner"
	"packplan/internal/selector"
	"packplan/internal/store"
	"packplan/internal/summarizer"
)

var (
	// ErrInvalidRequest marks malformed plan requests.
	ErrInvalidRequest = errors.New("invalid plan request")
	// ErrIdempotencyConflict is returned when a session is replayed with a
	// different idempotency key or a different request payload.
	ErrIdempotencyConflict = errors.New("idempotency conflict")
	// ErrPlanNotFound re-exports the store sentinel for callers outside the
	// persistence layer.
	ErrPlanNotFound = store.ErrNotFound
	// ErrLifecycleConflict re-exports the invalid-transition sentinel.
	ErrLifecycleConflict = store.ErrConflict
	// ErrNoEligibleItems re-exports the empty-inventory sentinel.
	ErrNoEligibleItems = selector.ErrNoEligibleItems
)

// PlanRequest asks for the next session's pack to be planned.
type PlanRequest struct {
	LearnerID         string
	SessionID         string
	PreviousSessionID string
	Sequence          int
	IdempotencyKey    string
}

// PlanResult is a planned (or replayed) session pack.
type PlanResult struct {
	Record   *contract.PlanRecord
	Replayed bool
}

// Service coordinates the planning pipeline and the plan store.
type Service struct {
	selector   *selector.Selector
	planner    *planner.Planner
	assembler  *assembler.Assembler
	plans      store.PlanStore
	summarizer summarizer.Notifier
	metrics    *observability.MetricsCollector
	logger     logging.Logger
	group      singleflight.Group
	now        func() time.Time
}

// NewService wires the pipeline stages together. notifier and metrics may be
// nil.
func NewService(sel *selector.Selector, pln *planner.Planner, asm *assembler.Assembler, plans store.PlanStore, notifier summarizer.Notifier, metrics *observability.MetricsCollector) *Service {
	if notifier == nil {
		notifier = summarizer.Nop()
	}
	return &Service{
		selector:   sel,
		planner:    pln,
		assembler:  asm,
		plans:      plans,
		summarizer: notifier,
		metrics:    metrics,
		logger:     logging.NewComponentLogger("Lifecycle"),
		now:        time.Now,
	}
}

// PlanNext plans the pack for one session, exactly once. Replays of an
// already-planned session return the stored plan unchanged; a replay whose
// idempotency key or payload differs from the stored one is a conflict.
//
// Identical concurrent calls collapse: in-process through singleflight, and
// across processes through the plan store's duplicate-insert sentinel.
func (s *Service) PlanNext(ctx context.Context, req PlanRequest) (PlanResult, error) {
	if err := validatePlanRequest(req); err != nil {
		return PlanResult{}, err
	}
	sig := requestSignature(req)

	// A learner disconnecting mid-plan must not abort the reasoning call or
	// leave a half-planned session behind.
	ctx = context.WithoutCancel(ctx)

	if existing, err := s.plans.Get(ctx, req.LearnerID, req.SessionID); err == nil {
		return s.replay(ctx, existing, req, sig)
	} else if !errors.Is(err, store.ErrNotFound) {
		return PlanResult{}, err
	}

	key := req.LearnerID + "/" + req.SessionID
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.buildAndPersist(ctx, req, sig)
	})
	if err != nil {
		return PlanResult{}, err
	}
	return v.(PlanResult), nil
}

func (s *Service) buildAndPersist(ctx context.Context, req PlanRequest, sig string) (PlanResult, error) {
	selection, err := s.selector.Select(ctx, req.LearnerID, req.Sequence)
	if err != nil {
		return PlanResult{}, err
	}
	if err := contract.ValidateCandidateSelection(selection); err != nil {
		return PlanResult{}, fmt.Errorf("candidate selection: %w", err)
	}

	outcome := s.planner.PlanOrder(ctx, req.LearnerID, req.Sequence, selection)
	if err := contract.ValidatePlannerOutcome(outcome, selection.IDs); err != nil {
		return PlanResult{}, fmt.Errorf("planner outcome: %w", err)
	}

	pack, report, err := s.assembler.Assemble(ctx, outcome.Order, selection, outcome)
	if err != nil {
		return PlanResult{}, err
	}

	record := &contract.PlanRecord{
		LearnerID:         req.LearnerID,
		SessionID:         req.SessionID,
		PreviousSessionID: req.PreviousSessionID,
		Sequence:          req.Sequence,
		Status:            contract.PlanStatusPlanned,
		IdempotencyKey:    req.IdempotencyKey,
		RequestSignature:  sig,
		Pack:              pack,
		Report:            report,
		Outcome:           outcome,
		PlannedAt:         s.now().UTC(),
	}

	if err := s.plans.Insert(ctx, record); err != nil {
		if errors.Is(err, store.ErrDuplicatePlan) {
			// Another process won the race; serve its plan.
			existing, getErr := s.plans.Get(ctx, req.LearnerID, req.SessionID)
			if getErr != nil {
				return PlanResult{}, getErr
			}
			return s.replay(ctx, existing, req, sig)
		}
		return PlanResult{}, err
	}

	s.metrics.RecordPlanCreated(ctx)
	s.logger.Info("Planned session %s/%s: %d items, planner=%s fallback=%t",
		req.LearnerID, req.SessionID, len(pack.Items), outcome.Status, outcome.UsedFallback)
	return PlanResult{Record: record}, nil
}

func (s *Service) replay(ctx context.Context, existing *contract.PlanRecord, req PlanRequest, sig string) (PlanResult, error) {
	if req.IdempotencyKey != existing.IdempotencyKey {
		return PlanResult{}, fmt.Errorf("%w: session %s already planned under a different key", ErrIdempotencyConflict, req.SessionID)
	}
	if existing.RequestSignature != sig {
		return PlanResult{}, fmt.Errorf("%w: session %s already planned with a different payload", ErrIdempotencyConflict, req.SessionID)
	}
	s.metrics.RecordPlanReplay(ctx)
	s.logger.Debug("Replaying stored plan for %s/%s", req.LearnerID, req.SessionID)
	return PlanResult{Record: existing, Replayed: true}, nil
}

// FetchPack returns the stored plan for a session.
func (s *Service) FetchPack(ctx context.Context, learnerID, sessionID string) (*contract.PlanRecord, error) {
	return s.plans.Get(ctx, learnerID, sessionID)
}

// MarkServed stamps the moment the pack was handed to the learner. Repeats
// return the original stamp; a completed session cannot go back to served.
func (s *Service) MarkServed(ctx context.Context, learnerID, sessionID string) (time.Time, error) {
	return s.plans.MarkServed(ctx, learnerID, sessionID, s.now().UTC())
}

// Complete finishes a session and, on the first completion only, notifies
// the summarizer. Notification failures are logged and swallowed; completion
// has already been persisted.
func (s *Service) Complete(ctx context.Context, learnerID, sessionID string) (time.Time, error) {
	stamped, transitioned, err := s.plans.MarkCompleted(ctx, learnerID, sessionID, s.now().UTC())
	if err != nil {
		return time.Time{}, err
	}
	if !transitioned {
		return stamped, nil
	}

	record, err := s.plans.Get(ctx, learnerID, sessionID)
	if err != nil {
		s.logger.Warn("Completed %s/%s but could not load record for summary: %v", learnerID, sessionID, err)
		return stamped, nil
	}

	summary := summarizer.CompletionSummary{
		LearnerID:   learnerID,
		SessionID:   sessionID,
		Sequence:    record.Sequence,
		CompletedAt: stamped,
		BandCounts:  record.Report.BandCounts,
		TierCounts:  record.Report.TierCounts,
		Violated:    record.Report.Violated,
	}
	if err := s.summarizer.NotifyCompleted(context.WithoutCancel(ctx), summary); err != nil {
		s.logger.Warn("Summarizer notification failed for %s/%s: %v", learnerID, sessionID, err)
	}
	return stamped, nil
}

func validatePlanRequest(req PlanRequest) error {
	if req.LearnerID == "" {
		return fmt.Errorf("%w: learner id is required", ErrInvalidRequest)
	}
	if req.SessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidRequest)
	}
	if req.Sequence < 0 {
		return fmt.Errorf("%w: sequence must be non-negative", ErrInvalidRequest)
	}
	if req.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency key is required", ErrInvalidRequest)
	}
	return nil
}

// requestSignature fingerprints the planning-relevant request fields so
// replays with a mutated payload are detectable.
func requestSignature(req PlanRequest) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d",
		req.LearnerID, req.SessionID, req.PreviousSessionID, req.Sequence)))
	return hex.EncodeToString(sum[:])
}

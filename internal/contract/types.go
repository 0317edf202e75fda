// Package contract defines the shared data shapes and validators used by the
// pack planning pipeline: candidate selections, order exchanges with the
// reasoning service, assembled packs and constraint reports.
//
// The package is the dependency-free leaf of the pipeline; everything else
// imports it and nothing here reaches outside the standard library.
package contract

import "time"

// PackSize is the fixed number of items in every planned pack.
const PackSize = 12

// OrderContractVersion tags the order exchange with the reasoning service.
// Responses declaring any other version are rejected as schema violations.
const OrderContractVersion = "pack-order/v1"

// DifficultyBand buckets an item by difficulty.
type DifficultyBand string

const (
	BandEasy   DifficultyBand = "easy"
	BandMedium DifficultyBand = "medium"
	BandHard   DifficultyBand = "hard"
)

// Per-band quotas for a full pack. They sum to PackSize.
const (
	EasyQuota   = 3
	MediumQuota = 6
	HardQuota   = 3
)

// FrequencyTier summarizes how often an item's underlying concept has
// appeared in past real exams.
type FrequencyTier string

const (
	TierTop  FrequencyTier = "top"
	TierHigh FrequencyTier = "high"
	TierMid  FrequencyTier = "mid"
	TierLow  FrequencyTier = "low"
)

// MinPerTopTier is the minimum number of pack items required at each of the
// two highest frequency tiers (TierTop and TierHigh).
const MinPerTopTier = 2

// ChoiceSlots is the fixed number of multiple-choice options after
// normalization, regardless of the legacy storage shape.
const ChoiceSlots = 4

// SelectionMeta carries free-form diagnostics about how a candidate
// selection was produced.
type SelectionMeta struct {
	Strategy   string                 `json:"strategy"`
	BandCounts map[DifficultyBand]int `json:"band_counts"`
	TierCounts map[FrequencyTier]int  `json:"tier_counts"`
	FillerUsed int                    `json:"filler_used"`
}

// CandidateSelection is the intermediate result of candidate selection:
// an ordered list of eligible item identifiers plus the seed that produced
// it. It is never persisted independently.
type CandidateSelection struct {
	IDs  []string      `json:"ids"`
	Seed uint64        `json:"seed"`
	Meta SelectionMeta `json:"meta"`
}

// OrderRequest is the payload sent to the external reasoning service.
type OrderRequest struct {
	Version     string   `json:"version"`
	Candidates  []string `json:"candidates"`
	Instruction string   `json:"instruction"`
	LearnerID   string   `json:"learner_id"`
	Sequence    int      `json:"sequence"`
}

// OrderResponse is the payload expected back from the reasoning service,
// or synthesized by the deterministic fallback generator.
type OrderResponse struct {
	Version string   `json:"version"`
	Order   []string `json:"order"`
}

// PlannerStatus is the terminal state of one order-optimization request.
type PlannerStatus string

const (
	StatusSuccess             PlannerStatus = "success"
	StatusTimeout             PlannerStatus = "timeout"
	StatusSchemaInvalid       PlannerStatus = "schema_invalid"
	StatusMembershipViolation PlannerStatus = "membership_violation"
	// StatusFallbackUsed covers transport-level failures that are neither a
	// timeout nor a malformed body (connection refused, 5xx after retry).
	StatusFallbackUsed PlannerStatus = "fallback_used"
)

// FallbackModel identifies the deterministic fallback ordering in planner
// outcomes, in place of a reasoning backend name.
const FallbackModel = "deterministic_fallback"

// PlannerOutcome records how the final order was obtained. It is ephemeral:
// returned to the lifecycle controller and folded into the stored plan for
// traceability.
type PlannerOutcome struct {
	Order        []string      `json:"order"`
	Status       PlannerStatus `json:"status"`
	UsedFallback bool          `json:"used_fallback"`
	ElapsedMs    int64         `json:"elapsed_ms"`
	RetriesUsed  int           `json:"retries_used"`
	Model        string        `json:"model"`
}

// PackItem is the full learner-facing record for one item. It is rebuilt
// from the backing store on every assembly, never cached.
type PackItem struct {
	ID          string         `json:"id"`
	Content     string         `json:"content"`
	Choices     []string       `json:"choices"`
	Answer      string         `json:"answer"`
	Explanation string         `json:"explanation"`
	Difficulty  DifficultyBand `json:"difficulty"`
	Tier        FrequencyTier  `json:"tier"`
	Topic       string         `json:"topic"`
	ItemType    string         `json:"item_type"`
	ConceptTags []string       `json:"concept_tags"`
}

// Pack is the ordered set of items served to a learner for one session.
type Pack struct {
	Items []PackItem    `json:"items"`
	Seed  uint64        `json:"seed"`
	Meta  SelectionMeta `json:"meta"`
}

// ConstraintReport names which pack constraints were met and which were
// violated. Violations are reported, never hidden.
type ConstraintReport struct {
	Met        []string               `json:"met"`
	Violated   []string               `json:"violated"`
	BandCounts map[DifficultyBand]int `json:"band_counts"`
	TierCounts map[FrequencyTier]int  `json:"tier_counts"`
	Planner    PlannerOutcome         `json:"planner"`
}

// Named constraints checked by the assembler.
const (
	ConstraintPackSize    = "pack_size_12"
	ConstraintEasyCount   = "easy_count_3"
	ConstraintMediumCount = "medium_count_6"
	ConstraintHardCount   = "hard_count_3"
	ConstraintTopTierMin  = "top_tier_min_2"
	ConstraintHighTierMin = "high_tier_min_2"
)

// PlanStatus is the lifecycle state of a persisted session pack plan.
type PlanStatus string

const (
	PlanStatusPlanned   PlanStatus = "planned"
	PlanStatusServed    PlanStatus = "served"
	PlanStatusCompleted PlanStatus = "completed"
)

// PlanRecord is the persisted session-pack-plan, keyed by
// (LearnerID, SessionID). Created by plan-next, transitioned by mark-served
// and completion; never deleted by the core.
type PlanRecord struct {
	LearnerID         string           `json:"learner_id"`
	SessionID         string           `json:"session_id"`
	PreviousSessionID string           `json:"previous_session_id"`
	Sequence          int              `json:"sequence"`
	Status            PlanStatus       `json:"status"`
	IdempotencyKey    string           `json:"idempotency_key"`
	RequestSignature  string           `json:"request_signature"`
	Pack              Pack             `json:"pack"`
	Report            ConstraintReport `json:"report"`
	Outcome           PlannerOutcome   `json:"outcome"`
	PlannedAt         time.Time        `json:"planned_at"`
	ServedAt          *time.Time       `json:"served_at,omitempty"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
}

// Package store defines the persistence boundary of the planning pipeline:
// the item store queried by the candidate selector and pack assembler, and
// the plan store that persists session pack plans.
//
// Implementations live in the postgres and memstore subpackages.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"packplan/internal/contract"
)

// ShuffleKeySpace bounds the precomputed per-item shuffle keys and the seeds
// derived for range scans: every shuffle key and every scan seed lies in
// [0, ShuffleKeySpace).
const ShuffleKeySpace uint64 = 1 << 31

var (
	// ErrNotFound is returned when no plan exists for a (learner, session) pair.
	ErrNotFound = errors.New("plan not found")
	// ErrDuplicatePlan is returned when an insert collides with an existing
	// plan for the same (learner, session) pair. It is the serialization
	// point for concurrent plan-next calls.
	ErrDuplicatePlan = errors.New("plan already exists")
	// ErrConflict is returned for invalid lifecycle transitions, such as
	// marking a completed session as served.
	ErrConflict = errors.New("conflicting plan state")
)

// ItemRef is the lightweight item view used during candidate selection.
type ItemRef struct {
	ID         string
	ShuffleKey uint64
	Band       contract.DifficultyBand
	Tier       contract.FrequencyTier
}

// ItemRecord is the full stored item, with legacy-shaped fields left raw for
// the assembler to normalize.
type ItemRecord struct {
	ID          string
	Content     string
	Answer      string
	Explanation string
	Band        contract.DifficultyBand
	Tier        contract.FrequencyTier
	Topic       string
	ItemType    string
	RawChoices  json.RawMessage
	RawTags     json.RawMessage
	ShuffleKey  uint64
	Eligible    bool
}

// DrawFilter restricts a shuffle-key scan to a difficulty band and/or a
// frequency tier. Zero values mean no restriction.
type DrawFilter struct {
	Band contract.DifficultyBand
	Tier contract.FrequencyTier
}

// ItemStore is the queryable item inventory.
type ItemStore interface {
	// ScanShuffleRange returns up to limit eligible items matching filter
	// with shuffle key >= fromKey, in ascending shuffle-key order, skipping
	// the given ids. It performs a single indexed range scan; wraparound is
	// the caller's concern.
	ScanShuffleRange(ctx context.Context, filter DrawFilter, fromKey uint64, limit int, excludeIDs []string) ([]ItemRef, error)

	// FetchByIDs returns the full records for the given ids in one batched
	// query. Missing ids are simply absent from the result; callers decide
	// whether that is fatal.
	FetchByIDs(ctx context.Context, ids []string) ([]ItemRecord, error)
}

// PlanStore persists session pack plans keyed by (learner, session).
type PlanStore interface {
	// Insert stores a new plan. Returns ErrDuplicatePlan if a plan already
	// exists for the same (learner, session) pair.
	Insert(ctx context.Context, rec *contract.PlanRecord) error

	// Get returns the plan for (learnerID, sessionID) or ErrNotFound.
	Get(ctx context.Context, learnerID, sessionID string) (*contract.PlanRecord, error)

	// MarkServed transitions a planned record to served, stamping at. The
	// transition is idempotent: a record already served keeps its original
	// timestamp, which is returned. A completed record yields ErrConflict.
	MarkServed(ctx context.Context, learnerID, sessionID string, at time.Time) (time.Time, error)

	// MarkCompleted transitions a planned or served record to completed,
	// stamping at. Idempotent like MarkServed; the returned bool reports
	// whether this call performed the transition.
	MarkCompleted(ctx context.Context, learnerID, sessionID string, at time.Time) (time.Time, bool, error)
}

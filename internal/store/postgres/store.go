// Package postgres implements the item and plan stores on PostgreSQL via
// pgx. The (learner_id, session_id) unique constraint on session_packs is
// the serialization point for concurrent plan-next calls.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"packplan/internal/contract"
	"packplan/internal/logging"
	"packplan/internal/store"
)

const (
	itemTable = "items"
	planTable = "session_packs"
)

const uniqueViolationCode = "23505"

// Store implements store.ItemStore and store.PlanStore on a pgx pool.
type Store struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// New constructs a Postgres-backed store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:   pool,
		logger: logging.NewComponentLogger("PostgresStore"),
	}
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("store not initialized")
	}
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the tables and indexes if they do not exist. The
// shuffle_key index is what keeps candidate draws O(limit); the unique
// constraint on (learner_id, session_id) backs the idempotency contract.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("store not initialized")
	}

	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    answer TEXT NOT NULL DEFAULT '',
    explanation TEXT NOT NULL DEFAULT '',
    difficulty TEXT NOT NULL,
    frequency_tier TEXT NOT NULL,
    topic TEXT NOT NULL DEFAULT '',
    item_type TEXT NOT NULL DEFAULT '',
    choices JSONB,
    concept_tags JSONB,
    shuffle_key BIGINT NOT NULL,
    eligible BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_items_shuffle_key ON %s (shuffle_key);
CREATE INDEX IF NOT EXISTS idx_items_band_shuffle ON %s (difficulty, shuffle_key);
CREATE INDEX IF NOT EXISTS idx_items_tier_shuffle ON %s (frequency_tier, shuffle_key);

CREATE TABLE IF NOT EXISTS %s (
    learner_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    previous_session_id TEXT NOT NULL DEFAULT '',
    sequence INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    idempotency_key TEXT NOT NULL,
    request_signature TEXT NOT NULL,
    pack JSONB NOT NULL,
    report JSONB NOT NULL,
    outcome JSONB NOT NULL,
    planned_at TIMESTAMPTZ NOT NULL,
    served_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    PRIMARY KEY (learner_id, session_id)
);
`, itemTable, itemTable, itemTable, itemTable, planTable)

	_, err := s.pool.Exec(ctx, query)
	return err
}

// UpsertItem inserts or replaces an item record. Used by seeding tooling;
// the core pipeline never writes items.
func (s *Store) UpsertItem(ctx context.Context, rec store.ItemRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, content, answer, explanation, difficulty, frequency_tier, topic, item_type, choices, concept_tags, shuffle_key, eligible)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10::jsonb, $11, $12)
ON CONFLICT (id) DO UPDATE SET
    content = EXCLUDED.content,
    answer = EXCLUDED.answer,
    explanation = EXCLUDED.explanation,
    difficulty = EXCLUDED.difficulty,
    frequency_tier = EXCLUDED.frequency_tier,
    topic = EXCLUDED.topic,
    item_type = EXCLUDED.item_type,
    choices = EXCLUDED.choices,
    concept_tags = EXCLUDED.concept_tags,
    shuffle_key = EXCLUDED.shuffle_key,
    eligible = EXCLUDED.eligible
`, itemTable)

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Content, rec.Answer, rec.Explanation,
		string(rec.Band), string(rec.Tier), rec.Topic, rec.ItemType,
		nullableJSON(rec.RawChoices), nullableJSON(rec.RawTags),
		int64(rec.ShuffleKey), rec.Eligible,
	)
	return err
}

// ScanShuffleRange implements store.ItemStore with a single indexed range
// scan ordered by shuffle key.
func (s *Store) ScanShuffleRange(ctx context.Context, filter store.DrawFilter, fromKey uint64, limit int, excludeIDs []string) ([]store.ItemRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
SELECT id, shuffle_key, difficulty, frequency_tier
FROM %s
WHERE eligible AND shuffle_key >= $1
`, itemTable)
	args := []any{int64(fromKey)}

	if filter.Band != "" {
		args = append(args, string(filter.Band))
		query += fmt.Sprintf(" AND difficulty = $%d", len(args))
	}
	if filter.Tier != "" {
		args = append(args, string(filter.Tier))
		query += fmt.Sprintf(" AND frequency_tier = $%d", len(args))
	}
	if len(excludeIDs) > 0 {
		args = append(args, excludeIDs)
		query += fmt.Sprintf(" AND NOT (id = ANY($%d))", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY shuffle_key, id LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []store.ItemRef
	for rows.Next() {
		var (
			ref  store.ItemRef
			key  int64
			band string
			tier string
		)
		if err := rows.Scan(&ref.ID, &key, &band, &tier); err != nil {
			return nil, err
		}
		ref.ShuffleKey = uint64(key)
		ref.Band = contract.DifficultyBand(band)
		ref.Tier = contract.FrequencyTier(tier)
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// FetchByIDs implements store.ItemStore with one batched id-set query.
func (s *Store) FetchByIDs(ctx context.Context, ids []string) ([]store.ItemRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
SELECT id, content, answer, explanation, difficulty, frequency_tier, topic, item_type, choices, concept_tags, shuffle_key, eligible
FROM %s
WHERE id = ANY($1)
`, itemTable)

	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []store.ItemRecord
	for rows.Next() {
		var (
			rec     store.ItemRecord
			band    string
			tier    string
			choices []byte
			tags    []byte
			key     int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.Content, &rec.Answer, &rec.Explanation,
			&band, &tier, &rec.Topic, &rec.ItemType,
			&choices, &tags, &key, &rec.Eligible,
		); err != nil {
			return nil, err
		}
		rec.Band = contract.DifficultyBand(band)
		rec.Tier = contract.FrequencyTier(tier)
		rec.RawChoices = choices
		rec.RawTags = tags
		rec.ShuffleKey = uint64(key)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Insert implements store.PlanStore. A unique violation on the
// (learner_id, session_id) primary key maps to store.ErrDuplicatePlan so the
// lifecycle controller can re-read the first writer's row.
func (s *Store) Insert(ctx context.Context, rec *contract.PlanRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("plan record cannot be nil")
	}

	pack, err := json.Marshal(rec.Pack)
	if err != nil {
		return fmt.Errorf("encode pack: %w", err)
	}
	report, err := json.Marshal(rec.Report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	outcome, err := json.Marshal(rec.Outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (learner_id, session_id, previous_session_id, sequence, status, idempotency_key, request_signature, pack, report, outcome, planned_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10::jsonb, $11)
`, planTable)

	_, err = s.pool.Exec(ctx, query,
		rec.LearnerID, rec.SessionID, rec.PreviousSessionID, rec.Sequence,
		string(rec.Status), rec.IdempotencyKey, rec.RequestSignature,
		pack, report, outcome, rec.PlannedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return store.ErrDuplicatePlan
		}
		s.logger.Error("Failed to persist plan %s/%s: %v", rec.LearnerID, rec.SessionID, err)
		return err
	}
	return nil
}

// Get implements store.PlanStore.
func (s *Store) Get(ctx context.Context, learnerID, sessionID string) (*contract.PlanRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
SELECT learner_id, session_id, previous_session_id, sequence, status, idempotency_key, request_signature, pack, report, outcome, planned_at, served_at, completed_at
FROM %s
WHERE learner_id = $1 AND session_id = $2
`, planTable)

	var (
		rec     contract.PlanRecord
		status  string
		pack    []byte
		report  []byte
		outcome []byte
	)
	err := s.pool.QueryRow(ctx, query, learnerID, sessionID).Scan(
		&rec.LearnerID, &rec.SessionID, &rec.PreviousSessionID, &rec.Sequence,
		&status, &rec.IdempotencyKey, &rec.RequestSignature,
		&pack, &report, &outcome,
		&rec.PlannedAt, &rec.ServedAt, &rec.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	rec.Status = contract.PlanStatus(status)
	if err := json.Unmarshal(pack, &rec.Pack); err != nil {
		return nil, fmt.Errorf("decode pack: %w", err)
	}
	if err := json.Unmarshal(report, &rec.Report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	if err := json.Unmarshal(outcome, &rec.Outcome); err != nil {
		return nil, fmt.Errorf("decode outcome: %w", err)
	}
	return &rec, nil
}

// MarkServed implements store.PlanStore. The guarded UPDATE stamps the
// timestamp exactly once; replays read back the original stamp.
func (s *Store) MarkServed(ctx context.Context, learnerID, sessionID string, at time.Time) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}

	query := fmt.Sprintf(`
UPDATE %s
SET status = $3, served_at = $4
WHERE learner_id = $1 AND session_id = $2 AND status = $5
RETURNING served_at
`, planTable)

	var stamped time.Time
	err := s.pool.QueryRow(ctx, query,
		learnerID, sessionID,
		string(contract.PlanStatusServed), at, string(contract.PlanStatusPlanned),
	).Scan(&stamped)
	if err == nil {
		return stamped, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, err
	}

	// No planned row matched: distinguish replay, conflict and not-found.
	rec, err := s.Get(ctx, learnerID, sessionID)
	if err != nil {
		return time.Time{}, err
	}
	if rec.Status == contract.PlanStatusServed && rec.ServedAt != nil {
		return *rec.ServedAt, nil
	}
	return time.Time{}, store.ErrConflict
}

// MarkCompleted implements store.PlanStore.
func (s *Store) MarkCompleted(ctx context.Context, learnerID, sessionID string, at time.Time) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}

	query := fmt.Sprintf(`
UPDATE %s
SET status = $3, completed_at = $4
WHERE learner_id = $1 AND session_id = $2 AND status = ANY($5)
RETURNING completed_at
`, planTable)

	from := []string{string(contract.PlanStatusPlanned), string(contract.PlanStatusServed)}

	var stamped time.Time
	err := s.pool.QueryRow(ctx, query,
		learnerID, sessionID,
		string(contract.PlanStatusCompleted), at, from,
	).Scan(&stamped)
	if err == nil {
		return stamped, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, err
	}

	rec, err := s.Get(ctx, learnerID, sessionID)
	if err != nil {
		return time.Time{}, false, err
	}
	if rec.Status == contract.PlanStatusCompleted && rec.CompletedAt != nil {
		return *rec.CompletedAt, false, nil
	}
	return time.Time{}, false, store.ErrConflict
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

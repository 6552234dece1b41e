package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// ActivityStore implements domain.ActivityStore using PostgreSQL.
type ActivityStore struct {
	pool *pgxpool.Pool
}

// NewActivityStore creates a new ActivityStore backed by the given connection pool.
func NewActivityStore(pool *pgxpool.Pool) *ActivityStore {
	return &ActivityStore{pool: pool}
}

const activitySelectCols = `id, leader, condition_id, asset_id, side, size,
	usdc_size, price, timestamp, tx_hash, bot_executed_time, bot,
	name, pseudonym, bio, profile_image`

func scanActivityFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Activity, error) {
	var a domain.Activity
	var side string
	var sentinel int64

	err := scanner.Scan(
		&a.ID, &a.Leader, &a.ConditionID, &a.AssetID, &side, &a.Size,
		&a.UsdcSize, &a.Price, &a.Timestamp, &a.TxHash, &sentinel, &a.Bot,
		&a.Name, &a.Pseudonym, &a.Bio, &a.ProfileImage,
	)
	if err != nil {
		return domain.Activity{}, err
	}

	a.Side = domain.Side(side)
	a.Marker = domain.MarkerFromSentinel(sentinel)
	return a, nil
}

func scanActivityRows(rows pgx.Rows) ([]domain.Activity, error) {
	var activities []domain.Activity
	for rows.Next() {
		a, err := scanActivityFromRow(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

// InsertBatch inserts multiple activities using pgx Batch. Rows already
// present (same id) are silently skipped via ON CONFLICT DO NOTHING, which
// lets the poller and the live stream overlap freely. Returns the number of
// rows actually inserted.
func (s *ActivityStore) InsertBatch(ctx context.Context, activities []domain.Activity) (int, error) {
	if len(activities) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO activities (
			id, leader, condition_id, asset_id, side, size,
			usdc_size, price, timestamp, tx_hash, bot_executed_time, bot,
			name, pseudonym, bio, profile_image
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16
		) ON CONFLICT (id) DO NOTHING`

	for _, a := range activities {
		batch.Queue(query,
			a.ID, a.Leader, a.ConditionID, a.AssetID, string(a.Side), a.Size,
			a.UsdcSize, a.Price, a.Timestamp, a.TxHash, a.Marker.Sentinel(), a.Bot,
			a.Name, a.Pseudonym, a.Bio, a.ProfileImage,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for i := range activities {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("postgres: insert activity batch item %d: %w", i, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// GetByID retrieves a single activity by ID.
func (s *ActivityStore) GetByID(ctx context.Context, id string) (domain.Activity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+activitySelectCols+` FROM activities WHERE id = $1`, id)

	a, err := scanActivityFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Activity{}, domain.ErrNotFound
		}
		return domain.Activity{}, fmt.Errorf("postgres: get activity %s: %w", id, err)
	}
	return a, nil
}

// ListUnprocessed returns activities still UNSEEN, oldest first. Used on
// startup to re-enqueue rows a previous run ingested but never picked up.
func (s *ActivityStore) ListUnprocessed(ctx context.Context, limit int) ([]domain.Activity, error) {
	query := `SELECT ` + activitySelectCols + ` FROM activities
		WHERE bot_executed_time = 0 ORDER BY timestamp ASC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unprocessed activities: %w", err)
	}
	defer rows.Close()

	activities, err := scanActivityRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan unprocessed activities: %w", err)
	}
	return activities, nil
}

// LastTimestamp returns the most recent activity timestamp, or the zero time
// if no activities exist.
func (s *ActivityStore) LastTimestamp(ctx context.Context) (time.Time, error) {
	var ts *time.Time
	err := s.pool.QueryRow(ctx,
		"SELECT MAX(timestamp) FROM activities").Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: last activity timestamp: %w", err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}

// MarkInFlight is the pickup compare-and-set. It writes the pickup time into
// the marker column only when the row is still UNSEEN and reports whether
// this caller won the row. Concurrent pickups of the same activity resolve
// to exactly one winner.
func (s *ActivityStore) MarkInFlight(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE activities SET bot_executed_time = $2
		 WHERE id = $1 AND bot_executed_time = 0`,
		id, at.Unix())
	if err != nil {
		return false, fmt.Errorf("postgres: mark activity %s in flight: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCompleted stamps the completion time on an activity that was picked
// up. The marker never moves backward: only rows holding a pickup time can
// complete.
func (s *ActivityStore) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE activities SET bot_executed_time = $2
		 WHERE id = $1 AND bot_executed_time > 0`,
		id, at.Unix())
	if err != nil {
		return fmt.Errorf("postgres: mark activity %s completed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkSkipped marks a picked-up activity as deliberately not mirrored.
func (s *ActivityStore) MarkSkipped(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE activities SET bot_executed_time = -1
		 WHERE id = $1 AND bot_executed_time > 0`,
		id)
	if err != nil {
		return fmt.Errorf("postgres: mark activity %s skipped: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// FlagAggregatorSkipped sets the bot flag on the given activities, recording
// that the aggregator dropped their bucket below the minimum order size.
func (s *ActivityStore) FlagAggregatorSkipped(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE activities SET bot = TRUE WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("postgres: flag aggregator skipped: %w", err)
	}
	return nil
}

// ListProcessedBefore returns activities past UNSEEN with a timestamp before
// the given time, oldest first (for archiving).
func (s *ActivityStore) ListProcessedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Activity, error) {
	query := `SELECT ` + activitySelectCols + ` FROM activities
		WHERE bot_executed_time <> 0 AND timestamp < $1 ORDER BY timestamp ASC`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list processed activities before: %w", err)
	}
	defer rows.Close()

	activities, err := scanActivityRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan processed activities before: %w", err)
	}
	return activities, nil
}

// DeleteProcessedBefore deletes processed activities with a timestamp before
// the given time. UNSEEN rows are never pruned. Returns the number deleted.
func (s *ActivityStore) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM activities WHERE bot_executed_time <> 0 AND timestamp < $1`,
		before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete processed activities before: %w", err)
	}
	return tag.RowsAffected(), nil
}

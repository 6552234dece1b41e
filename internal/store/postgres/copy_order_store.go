package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// CopyOrderStore implements domain.CopyOrderStore using PostgreSQL.
type CopyOrderStore struct {
	pool *pgxpool.Pool
}

// NewCopyOrderStore creates a new CopyOrderStore backed by the given connection pool.
func NewCopyOrderStore(pool *pgxpool.Pool) *CopyOrderStore {
	return &CopyOrderStore{pool: pool}
}

const copyOrderSelectCols = `id, condition_id, asset_id, side, size_usd, price,
	order_type, status, exchange_id, activity_ids, created_at`

func scanCopyOrderFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.CopyOrder, error) {
	var o domain.CopyOrder
	var side, orderType, status string

	err := scanner.Scan(
		&o.ID, &o.ConditionID, &o.AssetID, &side, &o.SizeUSD, &o.Price,
		&orderType, &status, &o.ExchangeID, &o.ActivityIDs, &o.CreatedAt,
	)
	if err != nil {
		return domain.CopyOrder{}, err
	}

	o.Side = domain.Side(side)
	o.Type = domain.OrderType(orderType)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

func scanCopyOrderRows(rows pgx.Rows) ([]domain.CopyOrder, error) {
	var orders []domain.CopyOrder
	for rows.Next() {
		o, err := scanCopyOrderFromRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Insert records a copy order after it has been posted (or failed).
func (s *CopyOrderStore) Insert(ctx context.Context, o domain.CopyOrder) error {
	const query = `
		INSERT INTO copy_orders (
			id, condition_id, asset_id, side, size_usd, price,
			order_type, status, exchange_id, activity_ids, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11
		)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.ConditionID, o.AssetID, string(o.Side), o.SizeUSD, o.Price,
		string(o.Type), string(o.Status), o.ExchangeID, o.ActivityIDs, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert copy order %s: %w", o.ID, err)
	}
	return nil
}

// PositionSizeUSD returns the follower's net posted exposure for one asset:
// posted buys minus posted sells, floored at zero. Failed orders do not
// count toward exposure.
func (s *CopyOrderStore) PositionSizeUSD(ctx context.Context, assetID string) (float64, error) {
	var net float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN side = 'BUY' THEN size_usd ELSE -size_usd END), 0)
		 FROM copy_orders
		 WHERE asset_id = $1 AND status = 'posted'`,
		assetID).Scan(&net)
	if err != nil {
		return 0, fmt.Errorf("postgres: position size for asset %s: %w", assetID, err)
	}
	if net < 0 {
		return 0, nil
	}
	return net, nil
}

// ListRecent returns the most recently created copy orders, newest first.
func (s *CopyOrderStore) ListRecent(ctx context.Context, limit int) ([]domain.CopyOrder, error) {
	query := `SELECT ` + copyOrderSelectCols + ` FROM copy_orders ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent copy orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanCopyOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent copy orders: %w", err)
	}
	return orders, nil
}

// ListBefore returns copy orders created before the given time, oldest first
// (for archiving).
func (s *CopyOrderStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.CopyOrder, error) {
	query := `SELECT ` + copyOrderSelectCols + ` FROM copy_orders
		WHERE created_at < $1 ORDER BY created_at ASC`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list copy orders before: %w", err)
	}
	defer rows.Close()

	orders, err := scanCopyOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan copy orders before: %w", err)
	}
	return orders, nil
}

// DeleteBefore deletes copy orders created before the given time. Returns the
// number deleted.
func (s *CopyOrderStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM copy_orders WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete copy orders before: %w", err)
	}
	return tag.RowsAffected(), nil
}

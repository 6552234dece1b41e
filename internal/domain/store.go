package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ActivityStore persists leader activities and their processing markers.
// MarkInFlight is the pickup compare-and-set: it succeeds only for a row
// whose stored marker is still UNSEEN, and exactly one caller wins.
type ActivityStore interface {
	InsertBatch(ctx context.Context, activities []Activity) (int, error)
	GetByID(ctx context.Context, id string) (Activity, error)
	ListUnprocessed(ctx context.Context, limit int) ([]Activity, error)
	LastTimestamp(ctx context.Context) (time.Time, error)
	MarkInFlight(ctx context.Context, id string, at time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id string, at time.Time) error
	MarkSkipped(ctx context.Context, id string) error
	FlagAggregatorSkipped(ctx context.Context, ids []string) error
	ListProcessedBefore(ctx context.Context, before time.Time, limit int) ([]Activity, error)
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

// CopyOrderStore persists posted copy orders.
type CopyOrderStore interface {
	Insert(ctx context.Context, order CopyOrder) error
	PositionSizeUSD(ctx context.Context, assetID string) (float64, error)
	ListRecent(ctx context.Context, limit int) ([]CopyOrder, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]CopyOrder, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

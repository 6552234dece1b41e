package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// multipartThreshold is the payload size above which uploads switch to the
// multipart manager.
const multipartThreshold = 8 * 1024 * 1024

// Archiver implements domain.Archiver: it exports processed rows older than
// a cutoff to JSONL objects under archive/<kind>/YYYY-MM.jsonl, verifies the
// upload landed, prunes the exported rows from Postgres, and records the run
// in the audit log. Pruning only happens after a successful existence check,
// so a failed upload never loses data.
type Archiver struct {
	writer     domain.BlobWriter
	reader     domain.BlobReader
	activities domain.ActivityStore
	orders     domain.CopyOrderStore
	audit      domain.AuditStore
}

// NewArchiver creates a new Archiver.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	activities domain.ActivityStore,
	orders domain.CopyOrderStore,
	audit domain.AuditStore,
) *Archiver {
	return &Archiver{
		writer:     writer,
		reader:     reader,
		activities: activities,
		orders:     orders,
		audit:      audit,
	}
}

// activityExport is the JSONL row shape for archived activities. Field names
// match the exchange payloads, including the misspelled botExcutedTime the
// export format has always used.
type activityExport struct {
	ID             string  `json:"id"`
	ProxyWallet    string  `json:"proxyWallet"`
	ConditionID    string  `json:"conditionId"`
	Asset          string  `json:"asset"`
	Side           string  `json:"side"`
	Size           float64 `json:"size"`
	UsdcSize       float64 `json:"usdcSize"`
	Price          float64 `json:"price"`
	Timestamp      int64   `json:"timestamp"`
	TxHash         string  `json:"transactionHash"`
	BotExecutedVal int64   `json:"botExcutedTime"`
	Bot            bool    `json:"bot"`
	Name           string  `json:"name,omitempty"`
	Pseudonym      string  `json:"pseudonym,omitempty"`
	Bio            string  `json:"bio,omitempty"`
	ProfileImage   string  `json:"profileImage,omitempty"`
}

type orderExport struct {
	ID          string   `json:"id"`
	ConditionID string   `json:"conditionId,omitempty"`
	Asset       string   `json:"asset"`
	Side        string   `json:"side"`
	SizeUSD     float64  `json:"sizeUsd"`
	Price       float64  `json:"price"`
	OrderType   string   `json:"orderType"`
	Status      string   `json:"status"`
	ExchangeID  string   `json:"exchangeOrderId,omitempty"`
	ActivityIDs []string `json:"activityIds"`
	CreatedAt   string   `json:"createdAt"`
}

type auditExport struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

// ArchiveActivities exports processed activities older than the cutoff to
// archive/activities/YYYY-MM.jsonl, then prunes them. UNSEEN rows are never
// touched. Returns the number of records archived.
func (a *Archiver) ArchiveActivities(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.activities.ListProcessedBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive activities query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	exports := make([]activityExport, len(rows))
	for i, act := range rows {
		exports[i] = activityExport{
			ID:             act.ID,
			ProxyWallet:    act.Leader,
			ConditionID:    act.ConditionID,
			Asset:          act.AssetID,
			Side:           string(act.Side),
			Size:           act.Size,
			UsdcSize:       act.UsdcSize,
			Price:          act.Price,
			Timestamp:      act.Timestamp.Unix(),
			TxHash:         act.TxHash,
			BotExecutedVal: act.Marker.Sentinel(),
			Bot:            act.Bot,
			Name:           act.Name,
			Pseudonym:      act.Pseudonym,
			Bio:            act.Bio,
			ProfileImage:   act.ProfileImage,
		}
	}

	path, err := uploadVerified(ctx, a, "activities", exports, before)
	if err != nil {
		return 0, err
	}

	pruned, err := a.activities.DeleteProcessedBefore(ctx, before)
	if err != nil {
		return int64(len(rows)), fmt.Errorf("s3blob: archive activities prune: %w", err)
	}

	count := int64(len(rows))
	if err := a.audit.Log(ctx, "archive.activities", map[string]any{
		"path":   path,
		"count":  count,
		"pruned": pruned,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive activities audit log: %w", err)
	}
	return count, nil
}

// ArchiveOrders exports copy orders older than the cutoff to
// archive/orders/YYYY-MM.jsonl, then prunes them. Returns the number of
// records archived.
func (a *Archiver) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.orders.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	exports := make([]orderExport, len(rows))
	for i, o := range rows {
		exports[i] = orderExport{
			ID:          o.ID,
			ConditionID: o.ConditionID,
			Asset:       o.AssetID,
			Side:        string(o.Side),
			SizeUSD:     o.SizeUSD,
			Price:       o.Price,
			OrderType:   string(o.Type),
			Status:      string(o.Status),
			ExchangeID:  o.ExchangeID,
			ActivityIDs: o.ActivityIDs,
			CreatedAt:   o.CreatedAt.UTC().Format(time.RFC3339),
		}
	}

	path, err := uploadVerified(ctx, a, "orders", exports, before)
	if err != nil {
		return 0, err
	}

	pruned, err := a.orders.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(rows)), fmt.Errorf("s3blob: archive orders prune: %w", err)
	}

	count := int64(len(rows))
	if err := a.audit.Log(ctx, "archive.orders", map[string]any{
		"path":   path,
		"count":  count,
		"pruned": pruned,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive orders audit log: %w", err)
	}
	return count, nil
}

// ArchiveAuditLog exports audit entries older than the cutoff to
// archive/audit/YYYY-MM.jsonl, then prunes them. The entries recording this
// run are created after the cutoff and survive. Returns the number of
// records archived.
func (a *Archiver) ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.audit.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	exports := make([]auditExport, len(rows))
	for i, e := range rows {
		exports[i] = auditExport{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		}
	}

	path, err := uploadVerified(ctx, a, "audit", exports, before)
	if err != nil {
		return 0, err
	}

	pruned, err := a.audit.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(rows)), fmt.Errorf("s3blob: archive audit prune: %w", err)
	}

	count := int64(len(rows))
	if err := a.audit.Log(ctx, "archive.audit", map[string]any{
		"path":   path,
		"count":  count,
		"pruned": pruned,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}
	return count, nil
}

// uploadVerified marshals records to JSONL, uploads them under the kind's
// year-month key, and confirms the object exists before reporting success.
func uploadVerified[T any](ctx context.Context, a *Archiver, kind string, records []T, before time.Time) (string, error) {
	buf, err := marshalJSONL(records)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)

	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s verify: %w", kind, err)
	}
	if !exists {
		return "", fmt.Errorf("s3blob: archive %s verify: object %s missing after upload", kind, path)
	}

	return path, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/activities/2025-01.jsonl
//	archive/orders/2025-01.jsonl
//	archive/audit/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

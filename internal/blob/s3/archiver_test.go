package s3blob

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

type putCall struct {
	path        string
	body        []byte
	contentType string
}

type fakeBlobWriter struct {
	puts   []putCall
	putErr error
}

func (f *fakeBlobWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.puts = append(f.puts, putCall{path: path, body: body, contentType: contentType})
	return nil
}

func (f *fakeBlobWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.puts = append(f.puts, putCall{path: path, body: body, contentType: "multipart"})
	return nil
}

type fakeBlobReader struct {
	exists    bool
	existsErr error
}

func (f *fakeBlobReader) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeBlobReader) List(context.Context, string) ([]domain.BlobInfo, error) {
	return nil, nil
}

func (f *fakeBlobReader) Exists(context.Context, string) (bool, error) {
	return f.exists, f.existsErr
}

type fakeActivityArchive struct {
	rows          []domain.Activity
	deletedBefore *time.Time
}

func (f *fakeActivityArchive) InsertBatch(context.Context, []domain.Activity) (int, error) {
	return 0, nil
}

func (f *fakeActivityArchive) GetByID(context.Context, string) (domain.Activity, error) {
	return domain.Activity{}, domain.ErrNotFound
}

func (f *fakeActivityArchive) ListUnprocessed(context.Context, int) ([]domain.Activity, error) {
	return nil, nil
}

func (f *fakeActivityArchive) LastTimestamp(context.Context) (time.Time, error) {
	return time.Time{}, nil
}

func (f *fakeActivityArchive) MarkInFlight(context.Context, string, time.Time) (bool, error) {
	return false, nil
}

func (f *fakeActivityArchive) MarkCompleted(context.Context, string, time.Time) error { return nil }
func (f *fakeActivityArchive) MarkSkipped(context.Context, string) error              { return nil }
func (f *fakeActivityArchive) FlagAggregatorSkipped(context.Context, []string) error  { return nil }

func (f *fakeActivityArchive) ListProcessedBefore(_ context.Context, _ time.Time, _ int) ([]domain.Activity, error) {
	return f.rows, nil
}

func (f *fakeActivityArchive) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	f.deletedBefore = &before
	return int64(len(f.rows)), nil
}

type fakeOrderArchive struct {
	rows          []domain.CopyOrder
	deletedBefore *time.Time
}

func (f *fakeOrderArchive) Insert(context.Context, domain.CopyOrder) error { return nil }

func (f *fakeOrderArchive) PositionSizeUSD(context.Context, string) (float64, error) {
	return 0, nil
}

func (f *fakeOrderArchive) ListRecent(context.Context, int) ([]domain.CopyOrder, error) {
	return nil, nil
}

func (f *fakeOrderArchive) ListBefore(_ context.Context, _ time.Time, _ int) ([]domain.CopyOrder, error) {
	return f.rows, nil
}

func (f *fakeOrderArchive) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	f.deletedBefore = &before
	return int64(len(f.rows)), nil
}

type fakeAuditArchive struct {
	rows          []domain.AuditEntry
	events        []string
	deletedBefore *time.Time
}

func (f *fakeAuditArchive) Log(_ context.Context, event string, _ map[string]any) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAuditArchive) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (f *fakeAuditArchive) ListBefore(_ context.Context, _ time.Time, _ int) ([]domain.AuditEntry, error) {
	return f.rows, nil
}

func (f *fakeAuditArchive) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	f.deletedBefore = &before
	return int64(len(f.rows)), nil
}

func jsonlLines(t *testing.T, body []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestArchiveActivitiesExportsAndPrunes(t *testing.T) {
	completedAt := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	activities := []domain.Activity{
		{
			ID:        "0xtx1:7141:BUY",
			Leader:    "0xleader",
			AssetID:   "7141",
			Side:      domain.SideBuy,
			UsdcSize:  40,
			Price:     0.4,
			Timestamp: completedAt.Add(-time.Hour),
			TxHash:    "0xtx1",
			Marker:    domain.Marker{State: domain.MarkerCompleted, At: completedAt},
		},
		{
			ID:        "0xtx2:7141:SELL",
			Leader:    "0xleader",
			AssetID:   "7141",
			Side:      domain.SideSell,
			UsdcSize:  10,
			Price:     0.6,
			Timestamp: completedAt.Add(-2 * time.Hour),
			TxHash:    "0xtx2",
			Marker:    domain.Marker{State: domain.MarkerSkipped},
			Bot:       true,
		},
	}

	writer := &fakeBlobWriter{}
	store := &fakeActivityArchive{rows: activities}
	audit := &fakeAuditArchive{}
	arch := NewArchiver(writer, &fakeBlobReader{exists: true}, store, &fakeOrderArchive{}, audit)

	before := time.Date(2024, 6, 15, 3, 0, 0, 0, time.UTC)
	count, err := arch.ArchiveActivities(context.Background(), before)

	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.Len(t, writer.puts, 1)
	assert.Equal(t, "archive/activities/2024-06.jsonl", writer.puts[0].path)
	assert.Equal(t, "application/x-ndjson", writer.puts[0].contentType)

	lines := jsonlLines(t, writer.puts[0].body)
	require.Len(t, lines, 2)
	assert.Equal(t, "0xleader", lines[0]["proxyWallet"])
	assert.EqualValues(t, completedAt.Unix(), lines[0]["botExcutedTime"])
	assert.EqualValues(t, -1, lines[1]["botExcutedTime"])
	assert.Equal(t, true, lines[1]["bot"])

	require.NotNil(t, store.deletedBefore)
	assert.Equal(t, before, *store.deletedBefore)
	assert.Contains(t, audit.events, "archive.activities")
}

func TestArchiveActivitiesEmpty(t *testing.T) {
	writer := &fakeBlobWriter{}
	store := &fakeActivityArchive{}
	arch := NewArchiver(writer, &fakeBlobReader{exists: true}, store, &fakeOrderArchive{}, &fakeAuditArchive{})

	count, err := arch.ArchiveActivities(context.Background(), time.Now())

	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.puts)
	assert.Nil(t, store.deletedBefore)
}

func TestArchiveActivitiesVerifyFailureSkipsPrune(t *testing.T) {
	store := &fakeActivityArchive{rows: []domain.Activity{{
		ID: "0xtx1:7141:BUY", Timestamp: time.Now().Add(-time.Hour),
		Marker: domain.Marker{State: domain.MarkerSkipped},
	}}}
	arch := NewArchiver(&fakeBlobWriter{}, &fakeBlobReader{exists: false}, store, &fakeOrderArchive{}, &fakeAuditArchive{})

	_, err := arch.ArchiveActivities(context.Background(), time.Now())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing after upload")
	assert.Nil(t, store.deletedBefore, "rows must survive an unverified upload")
}

func TestArchiveActivitiesUploadFailureSkipsPrune(t *testing.T) {
	store := &fakeActivityArchive{rows: []domain.Activity{{
		ID: "0xtx1:7141:BUY", Timestamp: time.Now().Add(-time.Hour),
		Marker: domain.Marker{State: domain.MarkerSkipped},
	}}}
	writer := &fakeBlobWriter{putErr: errors.New("bucket gone")}
	arch := NewArchiver(writer, &fakeBlobReader{exists: true}, store, &fakeOrderArchive{}, &fakeAuditArchive{})

	_, err := arch.ArchiveActivities(context.Background(), time.Now())

	require.Error(t, err)
	assert.Nil(t, store.deletedBefore)
}

func TestArchiveOrders(t *testing.T) {
	created := time.Date(2024, 5, 20, 14, 0, 0, 0, time.UTC)
	orders := []domain.CopyOrder{{
		ID:          "ord-1",
		AssetID:     "7141",
		Side:        domain.SideBuy,
		SizeUSD:     25.5,
		Price:       0.42,
		Type:        domain.OrderTypeFOK,
		Status:      domain.OrderStatusPosted,
		ExchangeID:  "0xexch",
		ActivityIDs: []string{"0xtx1:7141:BUY"},
		CreatedAt:   created,
	}}

	writer := &fakeBlobWriter{}
	store := &fakeOrderArchive{rows: orders}
	audit := &fakeAuditArchive{}
	arch := NewArchiver(writer, &fakeBlobReader{exists: true}, &fakeActivityArchive{}, store, audit)

	before := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	count, err := arch.ArchiveOrders(context.Background(), before)

	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.Len(t, writer.puts, 1)
	assert.Equal(t, "archive/orders/2024-06.jsonl", writer.puts[0].path)

	lines := jsonlLines(t, writer.puts[0].body)
	require.Len(t, lines, 1)
	assert.Equal(t, "FOK", lines[0]["orderType"])
	assert.EqualValues(t, 25.5, lines[0]["sizeUsd"])
	assert.Equal(t, []any{"0xtx1:7141:BUY"}, lines[0]["activityIds"])

	require.NotNil(t, store.deletedBefore)
	assert.Contains(t, audit.events, "archive.orders")
}

func TestArchiveAuditLog(t *testing.T) {
	entries := []domain.AuditEntry{{
		ID:        7,
		Event:     "order_executed",
		Detail:    map[string]any{"order_id": "ord-1"},
		CreatedAt: time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC),
	}}

	writer := &fakeBlobWriter{}
	audit := &fakeAuditArchive{rows: entries}
	arch := NewArchiver(writer, &fakeBlobReader{exists: true}, &fakeActivityArchive{}, &fakeOrderArchive{}, audit)

	count, err := arch.ArchiveAuditLog(context.Background(), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	lines := jsonlLines(t, writer.puts[0].body)
	assert.Equal(t, "order_executed", lines[0]["event"])

	require.NotNil(t, audit.deletedBefore)
	assert.Contains(t, audit.events, "archive.audit")
}

func TestArchivePathMonthPartition(t *testing.T) {
	before := time.Date(2025, 1, 31, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "archive/activities/2025-01.jsonl", archivePath("activities", before))
}

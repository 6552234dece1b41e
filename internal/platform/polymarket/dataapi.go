// Package polymarket contains the REST and WebSocket clients for the
// Polymarket exchange surfaces: the Data API for leader activity, the CLOB
// API for order placement, and the live-data feed for push delivery.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/breaker"
	"github.com/alanyoungcy/copytraderbot/internal/domain"
	"github.com/alanyoungcy/copytraderbot/internal/fetch"
)

// DataClient queries the Polymarket Data API for on-chain user activity.
// Requests go through the retrying fetcher and a shared circuit breaker so a
// flapping endpoint degrades to fast fails instead of piling up timeouts.
type DataClient struct {
	host    string
	fetcher *fetch.Fetcher
	breaker *breaker.Breaker
	logger  *slog.Logger
}

// NewDataClient creates a Data API client.
//
// host is the API root, e.g. "https://data-api.polymarket.com".
func NewDataClient(host string, fetcher *fetch.Fetcher, br *breaker.Breaker, logger *slog.Logger) *DataClient {
	return &DataClient{
		host:    strings.TrimRight(host, "/"),
		fetcher: fetcher,
		breaker: br,
		logger:  logger.With(slog.String("component", "data_api")),
	}
}

// UserActivity returns TRADE activity for the given wallet, oldest first.
// since bounds the query to records at or after that time; zero means no
// lower bound. Records of other types (splits, merges, redeems) are dropped.
func (c *DataClient) UserActivity(ctx context.Context, user string, since time.Time, limit int) ([]domain.Activity, error) {
	if limit <= 0 {
		limit = 100
	}

	q := url.Values{}
	q.Set("user", strings.ToLower(user))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("type", "TRADE")
	if !since.IsZero() {
		q.Set("start", strconv.FormatInt(since.Unix(), 10))
	}
	reqURL := c.host + "/activity?" + q.Encode()

	body, err := breaker.Call(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
		return c.fetcher.Get(ctx, reqURL)
	})
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: user activity for %s: %w", user, err)
	}

	var records []APIActivity
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, domain.NewAPIError("MALFORMED_RESPONSE",
			fmt.Sprintf("polymarket/data: decode activity for %s", user), err)
	}

	activities := make([]domain.Activity, 0, len(records))
	for i := range records {
		if !strings.EqualFold(records[i].Type, "TRADE") {
			continue
		}
		activities = append(activities, records[i].ToDomainActivity())
	}

	// The API returns newest first; callers ingest in leader time order.
	sort.Slice(activities, func(i, j int) bool {
		return activities[i].Timestamp.Before(activities[j].Timestamp)
	})

	c.logger.DebugContext(ctx, "fetched user activity",
		slog.String("user", user),
		slog.Int("records", len(records)),
		slog.Int("trades", len(activities)),
	)

	return activities, nil
}

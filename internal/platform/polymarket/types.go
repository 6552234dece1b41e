package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// flexFloat unmarshals from a JSON number or string ("12.5") so Data API
// responses work whether numeric fields are sent quoted or bare.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		*f = flexFloat(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexInt64 unmarshals from a JSON number or string, mirroring flexFloat for
// unix timestamps.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	var v int64
	if err := json.Unmarshal(data, &v); err == nil {
		*f = flexInt64(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Some endpoints send fractional epoch seconds as strings.
		fv, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return err
		}
		v = int64(fv)
	}
	*f = flexInt64(v)
	return nil
}

// --------------------------------------------------------------------------
// Data API DTOs
// --------------------------------------------------------------------------

// APIActivity is one record from the Data API /activity endpoint. Field names
// mirror the public wire format.
type APIActivity struct {
	ProxyWallet     string    `json:"proxyWallet"`
	Timestamp       flexInt64 `json:"timestamp"`
	ConditionID     string    `json:"conditionId"`
	Type            string    `json:"type"` // "TRADE", "SPLIT", "MERGE", "REDEEM", ...
	Size            flexFloat `json:"size"`
	UsdcSize        flexFloat `json:"usdcSize"`
	TransactionHash string    `json:"transactionHash"`
	Price           flexFloat `json:"price"`
	Asset           string    `json:"asset"`
	Side            string    `json:"side"` // "BUY" or "SELL"
	OutcomeIndex    int       `json:"outcomeIndex"`
	Title           string    `json:"title"`
	Slug            string    `json:"slug"`
	Outcome         string    `json:"outcome"`
	Name            string    `json:"name"`
	Pseudonym       string    `json:"pseudonym"`
	Bio             string    `json:"bio"`
	ProfileImage    string    `json:"profileImage"`
}

// ActivityID derives the stable record identifier. The Data API does not
// assign IDs, and one transaction can carry fills on both outcome legs, so
// the hash alone is not unique.
func (a *APIActivity) ActivityID() string {
	return a.TransactionHash + ":" + a.Asset + ":" + strings.ToUpper(a.Side)
}

// ToDomainActivity converts a wire record to a domain.Activity. The marker
// starts UNSEEN; the store's conflict handling drops records already ingested.
func (a *APIActivity) ToDomainActivity() domain.Activity {
	act := domain.Activity{
		ID:           a.ActivityID(),
		Leader:       strings.ToLower(a.ProxyWallet),
		ConditionID:  a.ConditionID,
		AssetID:      a.Asset,
		Size:         float64(a.Size),
		UsdcSize:     float64(a.UsdcSize),
		Price:        float64(a.Price),
		TxHash:       a.TransactionHash,
		Name:         a.Name,
		Pseudonym:    a.Pseudonym,
		Bio:          a.Bio,
		ProfileImage: a.ProfileImage,
		Marker:       domain.Marker{State: domain.MarkerUnseen},
	}

	switch strings.ToUpper(a.Side) {
	case "SELL":
		act.Side = domain.SideSell
	default:
		act.Side = domain.SideBuy
	}

	if a.Timestamp > 0 {
		act.Timestamp = time.Unix(int64(a.Timestamp), 0).UTC()
	}

	return act
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	TransactID  string `json:"transactID,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// ToDomainOrderResult converts an APIOrderResult to a domain.OrderResult.
// Orders are atomic at this layer, so any accepted status maps to posted.
func (r *APIOrderResult) ToDomainOrderResult() domain.OrderResult {
	result := domain.OrderResult{
		Success: r.Success,
		OrderID: r.OrderID,
		Message: r.ErrorMsg,
	}
	if r.Success {
		result.Status = domain.OrderStatusPosted
	} else {
		result.Status = domain.OrderStatusFailed
	}
	return result
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSSubscription is one topic subscription inside a WSCommand.
type WSSubscription struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Filters string `json:"filters,omitempty"`
}

// WSCommand is the JSON payload sent to the live-data WebSocket to
// subscribe or unsubscribe.
type WSCommand struct {
	Action        string           `json:"action"` // "subscribe" or "unsubscribe"
	Subscriptions []WSSubscription `json:"subscriptions"`
}

// WSMessage is the outer envelope of every frame from the live-data feed.
// Payload decoding is deferred until the topic is known.
type WSMessage struct {
	Topic     string          `json:"topic"`
	Type      string          `json:"type"`
	Timestamp flexInt64       `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// TradeFilters builds the subscription filter string for the trades topic:
// a JSON array of lowercased leader wallets.
func TradeFilters(leaders []string) string {
	lowered := make([]string, 0, len(leaders))
	for _, l := range leaders {
		if l == "" {
			continue
		}
		lowered = append(lowered, strings.ToLower(l))
	}
	b, err := json.Marshal(lowered)
	if err != nil {
		return "[]"
	}
	return string(b)
}

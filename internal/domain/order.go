package domain

import "time"

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
	OrderTypeFAK OrderType = "FAK" // Fill-And-Kill
)

// OrderStatus tracks the copy order lifecycle. Orders are atomic at this
// layer; there is no partial-fill state.
type OrderStatus string

const (
	OrderStatusPosted OrderStatus = "posted"
	OrderStatusFailed OrderStatus = "failed"
)

// CopyOrder is the single order shape posted to the exchange on behalf of the
// follower. ActivityIDs lists the contributing leader fills (one entry unless
// the order came out of the aggregator).
type CopyOrder struct {
	ID          string // client-generated uuid
	ConditionID string
	AssetID     string
	Side        Side
	SizeUSD     float64
	Price       float64
	Type        OrderType
	Status      OrderStatus
	ExchangeID  string // exchange-assigned id after posting
	ActivityIDs []string
	CreatedAt   time.Time
}

// OrderResult wraps the exchange response after order submission.
type OrderResult struct {
	Success bool
	OrderID string
	Status  OrderStatus
	Message string
}

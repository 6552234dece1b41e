package domain

import "time"

// Side is the direction of a fill or order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// MarkerState is the processing stage of an activity.
type MarkerState int

const (
	MarkerUnseen MarkerState = iota
	MarkerInFlight
	MarkerSkipped
	MarkerCompleted
)

func (s MarkerState) String() string {
	switch s {
	case MarkerUnseen:
		return "UNSEEN"
	case MarkerInFlight:
		return "IN_FLIGHT"
	case MarkerSkipped:
		return "SKIPPED"
	case MarkerCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// Marker tags an activity for at-most-once mirroring. In memory it carries an
// explicit state plus the transition time; at rest it maps to the historical
// sentinel encoding (see Sentinel). Lifecycle: UNSEEN -> IN_FLIGHT ->
// {SKIPPED, COMPLETED}, never backward.
type Marker struct {
	State MarkerState
	At    time.Time // set for IN_FLIGHT and COMPLETED
}

// Sentinel returns the persisted encoding: 0 for UNSEEN, the pickup unix
// time for IN_FLIGHT, -1 for SKIPPED, the completion unix time for COMPLETED.
func (m Marker) Sentinel() int64 {
	switch m.State {
	case MarkerInFlight, MarkerCompleted:
		return m.At.Unix()
	case MarkerSkipped:
		return -1
	default:
		return 0
	}
}

// MarkerFromSentinel decodes the persisted encoding. A positive value decodes
// as IN_FLIGHT: the at-rest format cannot tell a pickup from a completion,
// and pickup only needs "non-UNSEEN".
func MarkerFromSentinel(v int64) Marker {
	switch {
	case v == 0:
		return Marker{State: MarkerUnseen}
	case v < 0:
		return Marker{State: MarkerSkipped}
	default:
		return Marker{State: MarkerInFlight, At: time.Unix(v, 0).UTC()}
	}
}

// Processed reports whether the activity has been picked up at least once.
func (m Marker) Processed() bool { return m.State != MarkerUnseen }

// Activity is a single leader fill ingested from the exchange. Immutable once
// received; only the marker and the aggregator-skip flag ever change.
type Activity struct {
	ID          string
	Leader      string // leader proxy wallet
	ConditionID string
	AssetID     string
	Side        Side
	Size        float64 // outcome units
	UsdcSize    float64
	Price       float64
	Timestamp   time.Time // leader's claimed time
	TxHash      string
	Marker      Marker
	Bot         bool // set when the aggregator skipped a below-minimum bucket

	// Leader profile fields, carried through opaquely.
	Name         string
	Pseudonym    string
	Bio          string
	ProfileImage string
}

package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
	"github.com/alanyoungcy/copytraderbot/internal/sizing"
)

const (
	follower = "0x1111111111111111111111111111111111111111"
	leader   = "0x2222222222222222222222222222222222222222"
)

func testSizingConfig() sizing.Config {
	return sizing.Config{
		Strategy:        domain.StrategyPercentage,
		CopySize:        10, // 10% of the leader fill
		MaxOrderSizeUSD: 100,
		MinOrderSizeUSD: 1,
	}
}

func testActivity() domain.Activity {
	return domain.Activity{
		ID:          "0xtx1:7141:BUY",
		Leader:      leader,
		ConditionID: "0xcond",
		AssetID:     "7141",
		Side:        domain.SideBuy,
		Size:        250,
		UsdcSize:    100,
		Price:       0.4,
		Timestamp:   time.Now().Add(-time.Minute),
		TxHash:      "0xtx1",
		Marker:      domain.Marker{State: domain.MarkerUnseen},
	}
}

func newTestValidator(prober *fakeProber, positions *fakeOrderStore) (*Validator, *MemoryTxGuard) {
	guard := NewMemoryTxGuard()
	v := NewValidator(testSizingConfig(), time.Hour, guard, prober, positions, discardLogger())
	return v, guard
}

func TestValidateTradeValid(t *testing.T) {
	prober := &fakeProber{balances: map[string]float64{follower: 1000, leader: 500}}
	v, _ := newTestValidator(prober, &fakeOrderStore{})

	result, err := v.ValidateTrade(context.Background(), testActivity(), follower)
	require.NoError(t, err)

	assert.True(t, result.Valid)
	assert.Empty(t, result.Reason)
	assert.Equal(t, 10.0, result.Intent.FinalAmount, "10%% of 100 USDC")
	assert.Equal(t, 1000.0, result.MyBalance)
	assert.Equal(t, 500.0, result.UserBalance)
	assert.Zero(t, result.UserPosition)
}

func TestValidateTradeAlreadyProcessed(t *testing.T) {
	prober := &fakeProber{balances: map[string]float64{follower: 1000}}
	v, _ := newTestValidator(prober, &fakeOrderStore{})

	a := testActivity()
	a.Marker = domain.Marker{State: domain.MarkerCompleted, At: time.Now()}

	result, err := v.ValidateTrade(context.Background(), a, follower)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, "Already processed", result.Reason)
}

func TestValidateTradeStale(t *testing.T) {
	prober := &fakeProber{balances: map[string]float64{follower: 1000}}
	v, _ := newTestValidator(prober, &fakeOrderStore{})

	a := testActivity()
	a.Timestamp = time.Now().Add(-2 * time.Hour)

	result, err := v.ValidateTrade(context.Background(), a, follower)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, "Trade too old", result.Reason)
}

func TestValidateTradeZeroFreshnessDisablesStaleness(t *testing.T) {
	prober := &fakeProber{balances: map[string]float64{follower: 1000}}
	guard := NewMemoryTxGuard()
	v := NewValidator(testSizingConfig(), 0, guard, prober, &fakeOrderStore{}, discardLogger())

	a := testActivity()
	a.Timestamp = time.Now().Add(-240 * time.Hour)

	result, err := v.ValidateTrade(context.Background(), a, follower)
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestValidateTradeDuplicate(t *testing.T) {
	prober := &fakeProber{balances: map[string]float64{follower: 1000}}
	v, guard := newTestValidator(prober, &fakeOrderStore{})

	_, _, err := guard.Claim(context.Background(), "0xtx1", time.Hour)
	require.NoError(t, err)

	result, err := v.ValidateTrade(context.Background(), testActivity(), follower)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, "Duplicate transaction", result.Reason)
}

func TestValidateTradeBelowMinimum(t *testing.T) {
	prober := &fakeProber{balances: map[string]float64{follower: 1000}}
	v, _ := newTestValidator(prober, &fakeOrderStore{})

	a := testActivity()
	a.UsdcSize = 5 // 10% -> 0.5, below the 1 USD minimum

	result, err := v.ValidateTrade(context.Background(), a, follower)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, "Below minimum", result.Reason)
	assert.Zero(t, result.Intent.FinalAmount)
}

func TestValidateTradeInsufficientBalance(t *testing.T) {
	// Sized amount survives the caps but the balance reduction zeroes it.
	prober := &fakeProber{balances: map[string]float64{follower: 0.5}}
	v, _ := newTestValidator(prober, &fakeOrderStore{})

	result, err := v.ValidateTrade(context.Background(), testActivity(), follower)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, "Insufficient balance", result.Reason)
	assert.True(t, result.Intent.ReducedByBalance)
}

func TestValidateTradeProbeFailure(t *testing.T) {
	prober := &fakeProber{err: errors.New("rpc down"), errFor: follower}
	v, _ := newTestValidator(prober, &fakeOrderStore{})

	_, err := v.ValidateTrade(context.Background(), testActivity(), follower)
	require.Error(t, err, "follower probe failure must surface as an error")
}

func TestValidateTradeLeaderProbeDegrades(t *testing.T) {
	prober := &fakeProber{
		balances: map[string]float64{follower: 1000},
		err:      errors.New("rpc down"),
		errFor:   leader,
	}
	v, _ := newTestValidator(prober, &fakeOrderStore{})

	result, err := v.ValidateTrade(context.Background(), testActivity(), follower)
	require.NoError(t, err, "leader probe is informational only")
	assert.True(t, result.Valid)
	assert.Zero(t, result.UserBalance)
}

func TestValidateTradePositionFailure(t *testing.T) {
	prober := &fakeProber{balances: map[string]float64{follower: 1000}}
	positions := &fakeOrderStore{posErr: errors.New("db down")}
	v, _ := newTestValidator(prober, positions)

	_, err := v.ValidateTrade(context.Background(), testActivity(), follower)
	require.Error(t, err)
}

func TestValidateTradePositionCap(t *testing.T) {
	maxPos := 12.0
	cfg := testSizingConfig()
	cfg.MaxPositionSizeUSD = &maxPos

	prober := &fakeProber{balances: map[string]float64{follower: 1000}}
	positions := &fakeOrderStore{position: 8}
	guard := NewMemoryTxGuard()
	v := NewValidator(cfg, time.Hour, guard, prober, positions, discardLogger())

	result, err := v.ValidateTrade(context.Background(), testActivity(), follower)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 4.0, result.Intent.FinalAmount, "clipped to the remaining position room")
	assert.Equal(t, 8.0, result.MyPosition)
}

// Package polygon provides the on-chain USDC balance probe used by trade
// validation. Balances are read through a JSON-RPC provider with an ERC-20
// balanceOf call.
package polygon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/copytraderbot/internal/breaker"
	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// usdcDecimals divides raw balanceOf output into whole USDC.
const usdcDecimals = 1e6

const erc20BalanceOfABI = `[{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"}]`

// BalanceChecker reads USDC balances from the Polygon chain. Calls run under
// a shared circuit breaker so a failing RPC endpoint degrades to fast fails.
type BalanceChecker struct {
	client   *ethclient.Client
	erc20    abi.ABI
	contract common.Address
	breaker  *breaker.Breaker
	logger   *slog.Logger
}

// NewBalanceChecker dials the JSON-RPC endpoint and prepares the ERC-20 call
// ABI. usdcContract is the token contract address on the target chain.
func NewBalanceChecker(ctx context.Context, rpcURL, usdcContract string, br *breaker.Breaker, logger *slog.Logger) (*BalanceChecker, error) {
	if !common.IsHexAddress(usdcContract) {
		return nil, domain.NewConfigurationError("INVALID_CONTRACT",
			fmt.Sprintf("polygon: %q is not a hex address", usdcContract), nil)
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("polygon: dial rpc: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20BalanceOfABI))
	if err != nil {
		return nil, fmt.Errorf("polygon: parse erc20 abi: %w", err)
	}

	return &BalanceChecker{
		client:   client,
		erc20:    parsed,
		contract: common.HexToAddress(usdcContract),
		breaker:  br,
		logger:   logger.With(slog.String("component", "balance_checker")),
	}, nil
}

// UsdcBalance returns the USDC balance of the given wallet in whole dollars.
// RPC failures surface as API errors carrying the redacted address; an open
// breaker fails fast with its own CIRCUIT_BREAKER error.
func (c *BalanceChecker) UsdcBalance(ctx context.Context, address string) (float64, error) {
	raw, err := breaker.Call(ctx, c.breaker, func(ctx context.Context) (*big.Int, error) {
		return c.balanceOf(ctx, address)
	})
	if err != nil {
		var be *domain.BotError
		if errors.As(err, &be) && be.Kind == domain.KindCircuitBreaker {
			return 0, err
		}
		return 0, domain.NewAPIError("BALANCE_PROBE_FAILED",
			fmt.Sprintf("polygon: usdc balance for %s", redactAddress(address)), err)
	}

	bal, _ := new(big.Float).Quo(
		new(big.Float).SetInt(raw),
		big.NewFloat(usdcDecimals),
	).Float64()

	c.logger.DebugContext(ctx, "usdc balance read",
		slog.String("address", redactAddress(address)),
		slog.Float64("balance", bal),
	)

	return bal, nil
}

// Close releases the underlying RPC connection.
func (c *BalanceChecker) Close() {
	c.client.Close()
}

func (c *BalanceChecker) balanceOf(ctx context.Context, address string) (*big.Int, error) {
	data, err := c.erc20.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}

	out, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &c.contract,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("call balanceOf: %w", err)
	}

	results, err := c.erc20.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("unpack balanceOf: %d outputs", len(results))
	}
	bal, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack balanceOf: unexpected output type %T", results[0])
	}

	return bal, nil
}

// redactAddress keeps the first six and last four characters of a wallet
// address for logs and error messages.
func redactAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}

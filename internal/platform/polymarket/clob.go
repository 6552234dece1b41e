package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/copytraderbot/internal/crypto"
	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// zeroAddress is the public taker for open orders.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// sixDecimals is the fixed-point scale for CLOB amounts (USDC and outcome
// tokens both carry six decimals).
const sixDecimals = 1e6

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API. It signs and submits copy orders.
type ClobClient struct {
	baseURL       string
	httpClient    *http.Client
	signer        *crypto.Signer
	hmacAuth      *crypto.HMACAuth
	signatureType int
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
// signer is the EIP-712 signer for order signatures and auth messages.
// hmac is the HMAC authenticator for API requests (obtained after DeriveAPIKey).
func NewClobClient(baseURL string, signer *crypto.Signer, hmac *crypto.HMACAuth) *ClobClient {
	return &ClobClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:   signer,
		hmacAuth: hmac,
	}
}

// SetSignatureType selects the CLOB signature type: 0 = EOA (default),
// 1 = POLY_PROXY, 2 = POLY_GNOSIS_SAFE.
func (c *ClobClient) SetSignatureType(t int) {
	c.signatureType = t
}

// PostOrder signs and submits a copy order to the CLOB API. The payload is
// built from the order's USD size and price: six-decimal fixed-point maker
// and taker amounts, uuid-derived salt, immediate expiration semantics
// (expiration and nonce zero).
func (c *ClobClient) PostOrder(ctx context.Context, order domain.CopyOrder) (domain.OrderResult, error) {
	payload, err := c.buildOrderPayload(order)
	if err != nil {
		return domain.OrderResult{}, err
	}

	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderResult{}, domain.NewExecutionError("ORDER_SIGNING_FAILED",
			fmt.Sprintf("polymarket/clob: sign order %s", order.ID),
			fmt.Errorf("%w: %v", domain.ErrSigningFailed, err))
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
			"tokenID":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"expiration":    payload.Expiration,
			"nonce":         payload.Nonce,
			"feeRateBps":    payload.FeeRateBps,
			"side":          string(order.Side),
			"signatureType": payload.SignatureType,
			"signature":     sig,
		},
		"owner":     payload.Maker,
		"orderType": string(order.Type),
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var apiResult APIOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, domain.NewAPIError("MALFORMED_RESPONSE",
			"polymarket/clob: decode order result", err)
	}

	result := apiResult.ToDomainOrderResult()
	if !result.Success {
		be := domain.NewExecutionError("ORDER_REJECTED",
			fmt.Sprintf("polymarket/clob: order rejected: %s", result.Message), nil)
		be.Retryable = apiResult.ShouldRetry
		return result, be
	}

	return result, nil
}

// DeriveAPIKey performs the CLOB auth flow to obtain an HMAC API key. It
// signs a ClobAuth EIP-712 message and sends it with L1 headers to the
// derive-api-key endpoint. Per Polymarket docs, L1 requires POLY_ADDRESS,
// POLY_SIGNATURE, POLY_TIMESTAMP, POLY_NONCE. On success it populates the
// client's hmacAuth field.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", fmt.Sprintf("%d", timestamp))
	req.Header.Set("POLY_NONCE", fmt.Sprintf("%d", nonce))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket/clob: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}

	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildOrderPayload converts a copy order into the EIP-712 order struct.
// BUY gives USDC for outcome tokens; SELL the reverse.
func (c *ClobClient) buildOrderPayload(order domain.CopyOrder) (crypto.OrderPayload, error) {
	if order.Price <= 0 || order.Price > 1 {
		return crypto.OrderPayload{}, domain.NewValidationError("INVALID_PRICE",
			fmt.Sprintf("polymarket/clob: price %.4f outside (0,1]", order.Price),
			domain.ErrInvalidOrder)
	}
	if order.SizeUSD <= 0 {
		return crypto.OrderPayload{}, domain.NewValidationError("INVALID_SIZE",
			fmt.Sprintf("polymarket/clob: size %.2f must be positive", order.SizeUSD),
			domain.ErrInvalidOrder)
	}

	usdcUnits := int64(math.Round(order.SizeUSD * sixDecimals))
	shareUnits := int64(math.Round(order.SizeUSD / order.Price * sixDecimals))

	var makerAmount, takerAmount int64
	var side int
	if order.Side == domain.SideSell {
		makerAmount, takerAmount = shareUnits, usdcUnits
		side = 1
	} else {
		makerAmount, takerAmount = usdcUnits, shareUnits
		side = 0
	}

	// The salt only needs to be unique per order; a uuid fits in uint256.
	u := uuid.New()
	salt := new(big.Int).SetBytes(u[:]).String()

	addr := c.signer.Address().Hex()
	return crypto.OrderPayload{
		Salt:          salt,
		Maker:         addr,
		Signer:        addr,
		Taker:         zeroAddress,
		TokenID:       order.AssetID,
		MakerAmount:   strconv.FormatInt(makerAmount, 10),
		TakerAmount:   strconv.FormatInt(takerAmount, 10),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          side,
		SignatureType: c.signatureType,
	}, nil
}

// doAuthenticatedRequest builds, signs (HMAC), sends, and reads an HTTP
// request against the CLOB API. It returns the raw response body.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Apply HMAC authentication headers.
	if c.hmacAuth != nil {
		address := c.signer.Address().Hex()
		headers := c.hmacAuth.L2Headers(address, method, path, bodyStr)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewNetworkError("NETWORK_FAILURE",
			fmt.Sprintf("%s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewNetworkError("BODY_READ_FAILED",
			fmt.Sprintf("read response from %s", path), err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkHTTPStatus maps non-2xx responses to classified errors, wrapping the
// matching sentinel so errors.Is keeps working at call sites.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(body))

	var cause error
	switch statusCode {
	case http.StatusNotFound:
		cause = domain.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		cause = domain.ErrUnauthorized
	case http.StatusTooManyRequests:
		cause = domain.ErrRateLimited
	case http.StatusBadRequest:
		cause = domain.ErrInvalidOrder
	}

	be := domain.NewAPIError(fmt.Sprintf("HTTP_%d", statusCode),
		fmt.Sprintf("HTTP %d: %s", statusCode, msg), cause)
	// Client errors do not clear on retry; 429 does once the window passes.
	if statusCode < 500 && statusCode != http.StatusTooManyRequests {
		be.Retryable = false
	}
	return be
}

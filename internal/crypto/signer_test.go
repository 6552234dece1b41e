package crypto

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known throwaway development key, never funded.
const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

const testKeyAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func testOrder() OrderPayload {
	return OrderPayload{
		Salt:          "12345",
		Maker:         testKeyAddress,
		Signer:        testKeyAddress,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       "71411747721177",
		MakerAmount:   "50000000",
		TakerAmount:   "83333333",
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0,
		SignatureType: 0,
	}
}

func TestNewSignerDerivesAddress(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)
	assert.Equal(t, testKeyAddress, s.Address().Hex())

	// The 0x prefix must be tolerated.
	s2, err := NewSigner("0x"+testKeyHex, 137)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), s2.Address())
}

func TestNewSignerRejectsBadKey(t *testing.T) {
	_, err := NewSigner("zz", 137)
	require.Error(t, err)
}

func TestSignOrderRecoversSigner(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)

	sigHex, err := s.SignOrder(testOrder())
	require.NoError(t, err)

	sig, err := hexutil.Decode(sigHex)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	// Recover the public key from the digest the signer would have produced.
	structHash, err := orderStructHash(testOrder())
	require.NoError(t, err)
	digest := eip712Hash(s.orderDomainSep, structHash)

	sig[64] -= 27
	pub, err := ethcrypto.SigToPub(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, testKeyAddress, ethcrypto.PubkeyToAddress(*pub).Hex())
}

func TestSignOrderDistinctDomains(t *testing.T) {
	// Orders and auth messages must not share a domain separator, or an auth
	// signature could be replayed as an order.
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)
	assert.NotEqual(t, s.authDomainSep, s.orderDomainSep)

	// Chain ID participates in both separators.
	s2, err := NewSigner(testKeyHex, 80002)
	require.NoError(t, err)
	assert.NotEqual(t, s.orderDomainSep, s2.orderDomainSep)
}

func TestSignOrderRejectsBadNumbers(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)

	o := testOrder()
	o.Salt = "not-a-number"
	_, err = s.SignOrder(o)
	require.Error(t, err)

	o = testOrder()
	o.TokenID = ""
	_, err = s.SignOrder(o)
	require.Error(t, err)
}

func TestSignAuthMessageRecoversSigner(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)

	sigHex, err := s.SignAuthMessage(testKeyAddress, 1700000000, 0)
	require.NoError(t, err)

	sig, err := hexutil.Decode(sigHex)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	structHash := ethcrypto.Keccak256(
		concatBytes(
			clobAuthTypeHash,
			common.LeftPadBytes(common.HexToAddress(testKeyAddress).Bytes(), 32),
			bigIntTo32Bytes(big.NewInt(1700000000)),
			bigIntTo32Bytes(big.NewInt(0)),
		),
	)
	digest := eip712Hash(s.authDomainSep, structHash)

	sig[64] -= 27
	pub, err := ethcrypto.SigToPub(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, testKeyAddress, ethcrypto.PubkeyToAddress(*pub).Hex())
}

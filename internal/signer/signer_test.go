package signer

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPolymarket/astervol/internal/model"
	"github.com/GoPolymarket/astervol/internal/pkg/apperrors"
)

func TestHMACSigner_KnownVector(t *testing.T) {
	// Reference request from the Binance-compatible API documentation.
	s, err := NewHMACSigner("key", "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j", 5000, nil)
	require.NoError(t, err)

	p := NewPayload().
		Set("symbol", "LTCBTC").
		Set("side", "BUY").
		Set("type", "LIMIT").
		Set("timeInForce", "GTC").
		Set("quantity", "1").
		Set("price", "0.1").
		Set("recvWindow", 5000)

	signed, err := s.Sign(p, Stamp{TimestampMs: 1499827319559})
	require.NoError(t, err)

	assert.Equal(t, "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71", signed.Get("signature"))
	assert.Equal(t,
		"symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559&signature=c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71",
		signed.Encode())
}

func TestHMACSigner_DefaultsAndDroppedValues(t *testing.T) {
	s, err := NewHMACSigner("key", "secret", 0, nil)
	require.NoError(t, err)

	var missing *string
	p := NewPayload().
		Set("symbol", "BTCUSDT").
		Set("reduceOnly", nil).
		Set("note", missing).
		Set("quantity", decimal.RequireFromString("0.010")).
		Set("side", model.SideBuy)

	signed, err := s.Sign(p, Stamp{TimestampMs: 42})
	require.NoError(t, err)

	assert.Equal(t, []string{"symbol", "quantity", "side", "recvWindow", "timestamp", "signature"}, signed.Keys())
	assert.Equal(t, "5000", signed.Get("recvWindow"))
	assert.Equal(t, "42", signed.Get("timestamp"))
	assert.Equal(t, "0.01", signed.Get("quantity"))
	assert.Equal(t, "BUY", signed.Get("side"))
	assert.Equal(t, "key", s.Header().Get(APIKeyHeader))
	assert.Len(t, signed.Get("signature"), 64)
}

func TestHMACSigner_Deterministic(t *testing.T) {
	s, _ := NewHMACSigner("key", "secret", 5000, nil)
	other, _ := NewHMACSigner("key", "secret2", 5000, nil)
	p := NewPayload().Set("symbol", "BTCUSDT")

	a, err := s.Sign(p, Stamp{TimestampMs: 1000})
	require.NoError(t, err)
	b, err := s.Sign(p, Stamp{TimestampMs: 1000})
	require.NoError(t, err)
	c, _ := s.Sign(p, Stamp{TimestampMs: 1001})
	d, _ := other.Sign(p, Stamp{TimestampMs: 1000})
	e, _ := s.Sign(NewPayload().Set("symbol", "ETHUSDT"), Stamp{TimestampMs: 1000})

	assert.Equal(t, a.Get("signature"), b.Get("signature"))
	assert.NotEqual(t, a.Get("signature"), c.Get("signature"))
	assert.NotEqual(t, a.Get("signature"), d.Get("signature"))
	assert.NotEqual(t, a.Get("signature"), e.Get("signature"))
}

func TestHMACSigner_RequiresCredentials(t *testing.T) {
	_, err := NewHMACSigner("", "secret", 0, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrSigning))
}

func newTestAgent(t *testing.T) (*AgentSigner, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	keyHex := hexutil.Encode(crypto.FromECDSA(key))
	addr := crypto.PubkeyToAddress(key.PublicKey)

	s, err := NewAgentSigner(
		"0x63dd5acc6b1aa0f563956c0e534dd30b6dcf7c4e",
		strings.ToLower(addr.Hex()),
		keyHex, 0, nil)
	require.NoError(t, err)
	return s, addr
}

func TestAgentSigner_FieldsAndChecksum(t *testing.T) {
	s, addr := newTestAgent(t)

	p := NewPayload().
		Set("symbol", "SANDUSDT").
		Set("side", "BUY").
		Set("quantity", "190")

	signed, err := s.Sign(p, Stamp{TimestampMs: 1749545309665, NonceUs: 1748310859508867})
	require.NoError(t, err)

	assert.Equal(t, "1749545309665", signed.Get("timestamp"))
	assert.Equal(t, "50000", signed.Get("recvWindow"))
	assert.Equal(t, "1748310859508867", signed.Get("nonce"))
	assert.Equal(t, "0x63DD5aCC6b1aa0f563956C0e534DD30B6dcF7C4e", signed.Get("user"))
	assert.Equal(t, addr.Hex(), signed.Get("signer"))
	assert.True(t, strings.HasPrefix(signed.Get("signature"), "0x"))
	assert.Len(t, signed.Get("signature"), 132)
	assert.Empty(t, s.Header().Get(APIKeyHeader))
}

func TestAgentSigner_SignatureRecoversSigner(t *testing.T) {
	s, addr := newTestAgent(t)

	p := NewPayload().Set("symbol", "BTCUSDT").Set("type", "MARKET")
	signed, err := s.Sign(p, Stamp{TimestampMs: 1000, NonceUs: 2000})
	require.NoError(t, err)

	jsonPayload, err := canonicalJSON(map[string]string{
		"symbol":     "BTCUSDT",
		"type":       "MARKET",
		"recvWindow": "50000",
		"timestamp":  "1000",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"recvWindow":"50000","symbol":"BTCUSDT","timestamp":"1000","type":"MARKET"}`, jsonPayload)

	hash, err := MessageHash(jsonPayload, common.HexToAddress(signed.Get("user")), addr, 2000)
	require.NoError(t, err)

	sig := hexutil.MustDecode(signed.Get("signature"))
	sig[64] -= 27
	pub, err := crypto.SigToPub(PersonalDigest(hash), sig)
	require.NoError(t, err)
	assert.Equal(t, addr, crypto.PubkeyToAddress(*pub))
}

func TestAgentSigner_DeterministicAndSensitive(t *testing.T) {
	s, _ := newTestAgent(t)
	p := NewPayload().Set("symbol", "BTCUSDT")

	a, _ := s.Sign(p, Stamp{TimestampMs: 10, NonceUs: 20})
	b, _ := s.Sign(p, Stamp{TimestampMs: 10, NonceUs: 20})
	c, _ := s.Sign(p, Stamp{TimestampMs: 10, NonceUs: 21})
	d, _ := s.Sign(p, Stamp{TimestampMs: 11, NonceUs: 20})
	e, _ := s.Sign(NewPayload().Set("symbol", "ETHUSDT"), Stamp{TimestampMs: 10, NonceUs: 20})

	assert.Equal(t, a.Get("signature"), b.Get("signature"))
	assert.NotEqual(t, a.Get("signature"), c.Get("signature"))
	assert.NotEqual(t, a.Get("signature"), d.Get("signature"))
	assert.NotEqual(t, a.Get("signature"), e.Get("signature"))
}

func TestAgentSigner_FlattensNestedValues(t *testing.T) {
	s, _ := newTestAgent(t)
	p := NewPayload().
		Set("batchOrders", []map[string]string{{"symbol": "BTCUSDT", "side": "BUY"}}).
		Set("meta", map[string]any{"a": 1})

	signed, err := s.Sign(p, Stamp{TimestampMs: 1, NonceUs: 1})
	require.NoError(t, err)
	assert.Equal(t, `[{"side":"BUY","symbol":"BTCUSDT"}]`, signed.Get("batchOrders"))
	assert.Equal(t, `{"a":1}`, signed.Get("meta"))
}

func TestAgentSigner_RejectsMalformedKeys(t *testing.T) {
	user := "0x0000000000000000000000000000000000000001"
	signerAddr := "0x0000000000000000000000000000000000000002"

	cases := map[string]struct{ user, signer, key string }{
		"missing 0x":   {user, signerAddr, "4fd0a42218f3eae43a6ce26d22544e986139a01e5b34a62db53757ffca81bae1"},
		"short key":    {user, signerAddr, "0x1234"},
		"non hex key":  {user, signerAddr, "0xzz0a42218f3eae43a6ce26d22544e986139a01e5b34a62db53757ffca81bae1"},
		"bad user":     {"0x123", signerAddr, "0x4fd0a42218f3eae43a6ce26d22544e986139a01e5b34a62db53757ffca81bae1"},
		"bare address": {"0000000000000000000000000000000000000001", signerAddr, "0x4fd0a42218f3eae43a6ce26d22544e986139a01e5b34a62db53757ffca81bae1"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewAgentSigner(tc.user, tc.signer, tc.key, 0, nil)
			assert.True(t, apperrors.Is(err, apperrors.ErrSigning), "got %v", err)
		})
	}
}

func TestNewSelectsScheme(t *testing.T) {
	h, err := New(model.Account{Name: "a", APIKey: "k", APISecret: "s"}, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, model.SchemeHMAC, h.Scheme())

	a, err := New(model.Account{
		Name:       "b",
		User:       "0x0000000000000000000000000000000000000003",
		Signer:     "0x0000000000000000000000000000000000000004",
		PrivateKey: "0x0000000000000000000000000000000000000000000000000000000000000001",
	}, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, model.SchemeAgent, a.Scheme())

	assert.Error(t, Validate(model.Account{Name: "c", User: "0x1"}))
}

func BenchmarkAgentSign(b *testing.B) {
	key, _ := crypto.GenerateKey()
	keyHex := hexutil.Encode(crypto.FromECDSA(key))
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	s, _ := NewAgentSigner(addr, addr, keyHex, 0, nil)
	p := NewPayload().Set("symbol", "BTCUSDT").Set("quantity", "0.010")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.Sign(p, Stamp{})
	}
}

// Reference vector from the exchange's agent-signature documentation.
func TestAgentSigner_DocumentedVector(t *testing.T) {
	s, err := NewAgentSigner(
		"0x63DD5aCC6b1aa0f563956C0e534DD30B6dcF7C4e",
		"0x21cF8Ae13Bb72632562c6Fff438652Ba1a151bb0",
		"0x4fd0a42218f3eae43a6ce26d22544e986139a01e5b34a62db53757ffca81bae1",
		0, nil,
	)
	require.NoError(t, err)

	p := NewPayload().
		Set("symbol", "SANDUSDT").
		Set("side", "BUY").
		Set("type", "LIMIT").
		Set("timeInForce", "GTC").
		Set("positionSide", "BOTH").
		Set("quantity", "190").
		Set("price", "0.28694")

	signed, err := s.Sign(p, Stamp{TimestampMs: 1749545309665, NonceUs: 1748310859508867})
	require.NoError(t, err)

	assert.Equal(t, "1749545309665", signed.Get("timestamp"))
	assert.Equal(t, "50000", signed.Get("recvWindow"))
	assert.Equal(t, "1748310859508867", signed.Get("nonce"))
	assert.Equal(t, common.HexToAddress("0x63DD5aCC6b1aa0f563956C0e534DD30B6dcF7C4e").Hex(), signed.Get("user"))
	assert.Equal(t, common.HexToAddress("0x21cF8Ae13Bb72632562c6Fff438652Ba1a151bb0").Hex(), signed.Get("signer"))
	assert.Equal(t,
		"0x0337dd720a21543b80ff861cd3c26646b75b3a6a4b5d45805d4c1d6ad6fc33e65f0722778dd97525466560c69fbddbe6874eb4ed6f5fa7e576e486d9b5da67f31b",
		signed.Get("signature"))
}

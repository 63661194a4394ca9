package signer

import (
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/GoPolymarket/astervol/internal/manager"
	"github.com/GoPolymarket/astervol/internal/model"
)

var privateKeyPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// AgentSigner authorises requests with an ECDSA signature over the hashed
// payload, the account owner (user), the agent address (signer) and a nonce.
type AgentSigner struct {
	user       common.Address
	signer     common.Address
	key        *ecdsa.PrivateKey
	recvWindow int64
	clock      *manager.NonceSource
}

func NewAgentSigner(user, signerAddr, privateKeyHex string, recvWindow int64, clock *manager.NonceSource) (*AgentSigner, error) {
	userAddr, err := parseAddress("user", user)
	if err != nil {
		return nil, err
	}
	agentAddr, err := parseAddress("signer", signerAddr)
	if err != nil {
		return nil, err
	}

	privateKeyHex = strings.TrimSpace(privateKeyHex)
	if privateKeyHex == "" {
		return nil, signingError("private key is required", nil)
	}
	if !privateKeyPattern.MatchString(privateKeyHex) {
		return nil, signingError("private key must be 0x-prefixed 32-byte hex", nil)
	}
	key, err := crypto.HexToECDSA(privateKeyHex[2:])
	if err != nil {
		return nil, signingError("invalid private key", err)
	}

	if recvWindow <= 0 {
		recvWindow = DefaultAgentRecvWindow
	}
	if clock == nil {
		clock = manager.NewNonceSource()
	}
	return &AgentSigner{
		user:       userAddr,
		signer:     agentAddr,
		key:        key,
		recvWindow: recvWindow,
		clock:      clock,
	}, nil
}

func parseAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return common.Address{}, signingError(field+" address is required", nil)
	}
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		return common.Address{}, signingError(field+" address must be 0x-prefixed", nil)
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, signingError(fmt.Sprintf("invalid %s address %q", field, raw), nil)
	}
	return common.HexToAddress(raw), nil
}

func (s *AgentSigner) Scheme() model.Scheme { return model.SchemeAgent }

// Header is empty: the agent scheme carries its credentials in the body.
func (s *AgentSigner) Header() http.Header { return http.Header{} }

func (s *AgentSigner) Sign(p *Payload, at Stamp) (*SignedRequest, error) {
	out := newSignedRequest()
	if p != nil {
		for _, k := range p.keys {
			v := p.values[k]
			if isNil(v) {
				continue
			}
			str, err := stringify(v)
			if err != nil {
				return nil, signingError("encode "+k, err)
			}
			out.set(k, str)
		}
	}

	if !out.has("recvWindow") {
		out.set("recvWindow", strconv.FormatInt(s.recvWindow, 10))
	}
	ts := at.TimestampMs
	if ts == 0 {
		ts = s.clock.NextTimestamp()
	}
	out.set("timestamp", strconv.FormatInt(ts, 10))

	jsonPayload, err := canonicalJSON(out.values)
	if err != nil {
		return nil, signingError("canonicalise payload", err)
	}

	nonce := at.NonceUs
	if nonce == 0 {
		nonce = s.clock.NextNonce()
	}
	s.clock.Observe(ts, nonce)

	hash, err := MessageHash(jsonPayload, s.user, s.signer, nonce)
	if err != nil {
		return nil, signingError("abi encode", err)
	}
	sig, err := crypto.Sign(PersonalDigest(hash), s.key)
	if err != nil {
		return nil, signingError("sign", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}

	out.set("nonce", strconv.FormatInt(nonce, 10))
	out.set("user", s.user.Hex())
	out.set("signer", s.signer.Hex())
	out.set("signature", "0x"+common.Bytes2Hex(sig))
	return out, nil
}

package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"github.com/GoPolymarket/astervol/internal/manager"
	"github.com/GoPolymarket/astervol/internal/model"
)

// HMACSigner signs the canonical query string with the account secret.
type HMACSigner struct {
	apiKey     string
	secret     string
	recvWindow int64
	clock      *manager.NonceSource
}

func NewHMACSigner(apiKey, secret string, recvWindow int64, clock *manager.NonceSource) (*HMACSigner, error) {
	apiKey = strings.TrimSpace(apiKey)
	secret = strings.TrimSpace(secret)
	if apiKey == "" || secret == "" {
		return nil, signingError("api_key and api_secret are both required", nil)
	}
	if recvWindow <= 0 {
		recvWindow = DefaultHMACRecvWindow
	}
	if clock == nil {
		clock = manager.NewNonceSource()
	}
	return &HMACSigner{apiKey: apiKey, secret: secret, recvWindow: recvWindow, clock: clock}, nil
}

func (s *HMACSigner) Scheme() model.Scheme { return model.SchemeHMAC }

func (s *HMACSigner) Header() http.Header {
	h := http.Header{}
	h.Set(APIKeyHeader, s.apiKey)
	return h
}

func (s *HMACSigner) Sign(p *Payload, at Stamp) (*SignedRequest, error) {
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
	} else {
		s.clock.Observe(ts, 0)
	}
	out.set("timestamp", strconv.FormatInt(ts, 10))

	out.set("signature", hmacHex(s.secret, out.Encode()))
	return out, nil
}

func hmacHex(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

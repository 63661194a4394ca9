package signer

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/GoPolymarket/astervol/internal/manager"
	"github.com/GoPolymarket/astervol/internal/model"
	"github.com/GoPolymarket/astervol/internal/pkg/apperrors"
)

const (
	DefaultHMACRecvWindow  int64 = 5_000
	DefaultAgentRecvWindow int64 = 50_000

	APIKeyHeader = "X-MBX-APIKEY"
)

// Signer turns a request payload into the authenticated field set the
// exchange expects. Implementations hold no mutable state besides the
// account's monotonic clock, so signing the same payload with the same
// Stamp always yields the same result.
type Signer interface {
	Sign(p *Payload, at Stamp) (*SignedRequest, error)
	Header() http.Header
	Scheme() model.Scheme
}

// Stamp pins the replay-protection values of a request. Zero fields are
// drawn from the signer's clock.
type Stamp struct {
	TimestampMs int64
	NonceUs     int64
}

// New builds the signer matching the account's credentials. It is the only
// place key material is parsed, so malformed keys surface here as
// SIGNING_ERROR rather than on the first request.
func New(acct model.Account, recvWindow int64, clock *manager.NonceSource) (Signer, error) {
	if clock == nil {
		clock = manager.NewNonceSource()
	}
	switch acct.Scheme() {
	case model.SchemeHMAC:
		return NewHMACSigner(acct.APIKey, acct.APISecret, recvWindow, clock)
	default:
		return NewAgentSigner(acct.User, acct.Signer, acct.PrivateKey, recvWindow, clock)
	}
}

// Validate checks the account's key material without keeping a signer.
func Validate(acct model.Account) error {
	_, err := New(acct, 0, manager.NewNonceSource())
	if err != nil {
		return fmt.Errorf("account %s: %w", acct.Name, err)
	}
	return nil
}

// Payload is an insertion-ordered parameter map. Values may be scalars,
// decimals, maps or slices; nil values are dropped at signing time.
type Payload struct {
	keys   []string
	values map[string]any
}

func NewPayload() *Payload {
	return &Payload{values: make(map[string]any)}
}

// Set adds or replaces key. A replaced key keeps its original position.
func (p *Payload) Set(key string, value any) *Payload {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
	return p
}

func (p *Payload) Get(key string) (any, bool) {
	v, ok := p.values[key]
	return v, ok
}

func (p *Payload) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

func (p *Payload) Len() int {
	return len(p.keys)
}

// SignedRequest is the flat, ordered string map sent to the exchange.
type SignedRequest struct {
	keys   []string
	values map[string]string
}

func newSignedRequest() *SignedRequest {
	return &SignedRequest{values: make(map[string]string)}
}

func (r *SignedRequest) set(key, value string) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

func (r *SignedRequest) has(key string) bool {
	_, ok := r.values[key]
	return ok
}

func (r *SignedRequest) Get(key string) string {
	return r.values[key]
}

func (r *SignedRequest) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Encode renders the fields as a query string in insertion order.
func (r *SignedRequest) Encode() string {
	var b strings.Builder
	for i, k := range r.keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(r.values[k]))
	}
	return b.String()
}

func (r *SignedRequest) Values() url.Values {
	v := make(url.Values, len(r.keys))
	for _, k := range r.keys {
		v.Set(k, r.values[k])
	}
	return v
}

func signingError(msg string, cause error) error {
	return apperrors.NewSigning(msg, cause)
}

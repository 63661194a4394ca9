package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/GoPolymarket/astervol/internal/manager"
	"github.com/GoPolymarket/astervol/internal/model"
	"github.com/GoPolymarket/astervol/internal/pkg/apperrors"
	"github.com/GoPolymarket/astervol/internal/pkg/logger"
	"github.com/GoPolymarket/astervol/internal/pkg/metrics"
	"github.com/GoPolymarket/astervol/internal/signer"
)

const (
	DefaultBaseURL = "https://fapi.asterdex.com"
	DefaultTimeout = 10 * time.Second

	maxBodyBytes = 4 << 20
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	RecvWindow int64

	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	Burst     int

	// QuantityStep fixes the number of decimals used when sending quantities.
	QuantityStep decimal.Decimal

	HTTPClient *http.Client
	Clock      *manager.NonceSource
}

// Client is a per-account REST wrapper. Every call signs a fresh request;
// nothing but the account's nonce clock is retained between calls.
type Client struct {
	account    model.Account
	signer     signer.Signer
	endpoints  Endpoints
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	qtyPlaces  int32
	log        *slog.Logger
}

func New(acct model.Account, opts Options) (*Client, error) {
	s, err := signer.New(acct, opts.RecvWindow, opts.Clock)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", acct.Label(), err)
	}
	return NewWithSigner(acct, s, opts), nil
}

func NewWithSigner(acct model.Account, s signer.Signer, opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: timeout,
		}
	}

	limit := rate.Limit(opts.RateLimit)
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		account:    acct,
		signer:     s,
		endpoints:  EndpointsFor(s.Scheme()),
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		qtyPlaces:  StepPlaces(opts.QuantityStep),
		log:        logger.With("account", acct.Label()),
	}
}

func (c *Client) Label() string { return c.account.Label() }

// SignedGet sends the signed fields as the query string.
func (c *Client) SignedGet(ctx context.Context, path string, p *signer.Payload, out any) error {
	return c.signedDo(ctx, http.MethodGet, path, p, out)
}

// SignedPost sends the signed fields as a form-encoded body.
func (c *Client) SignedPost(ctx context.Context, path string, p *signer.Payload, out any) error {
	return c.signedDo(ctx, http.MethodPost, path, p, out)
}

func (c *Client) signedDo(ctx context.Context, method, path string, p *signer.Payload, out any) error {
	if p == nil {
		p = signer.NewPayload()
	}
	// Sign after the limiter so the timestamp is fresh when the request leaves.
	if err := c.limiter.Wait(ctx); err != nil {
		return apperrors.NewNetwork("rate limiter wait", err)
	}
	signed, err := c.signer.Sign(p, signer.Stamp{})
	if err != nil {
		return err
	}

	target := c.baseURL + path
	var body io.Reader
	if method == http.MethodGet {
		target += "?" + signed.Encode()
	} else {
		body = strings.NewReader(signed.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	for k, vs := range c.signer.Header() {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return c.execute(req, path, out)
}

// PublicGet issues an unsigned GET against the client's base URL.
func (c *Client) PublicGet(ctx context.Context, path string, query string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperrors.NewNetwork("rate limiter wait", err)
	}
	target := c.baseURL + path
	if query != "" {
		target += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	return c.execute(req, path, out)
}

func (c *Client) execute(req *http.Request, path string, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ExchangeLatency.WithLabelValues(path).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ExchangeErrors.WithLabelValues(path, "network").Inc()
		return apperrors.NewNetwork(fmt.Sprintf("%s %s", req.Method, path), err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		metrics.ExchangeErrors.WithLabelValues(path, "network").Inc()
		return apperrors.NewNetwork("read response body", err)
	}
	if err := CheckResponse(path, resp.StatusCode, b); err != nil {
		metrics.ExchangeErrors.WithLabelValues(path, "exchange").Inc()
		return err
	}
	return decodeBody(path, b, out)
}

type errorEnvelope struct {
	Code *int   `json:"code"`
	Msg  string `json:"msg"`
}

// CheckResponse maps an HTTP status >= 400, or a 2xx body carrying a
// negative error code, to *apperrors.ExchangeError.
func CheckResponse(path string, status int, body []byte) error {
	trimmed := bytes.TrimSpace(body)
	var env errorEnvelope
	isObject := len(trimmed) > 0 && trimmed[0] == '{'
	if isObject {
		_ = json.Unmarshal(trimmed, &env)
	}

	if status >= 400 {
		exErr := &apperrors.ExchangeError{
			Status: status,
			Body:   string(trimmed),
			Path:   path,
		}
		if env.Code != nil {
			exErr.Code = *env.Code
		}
		exErr.Message = env.Msg
		if exErr.Message == "" {
			exErr.Message = string(trimmed)
		}
		return exErr
	}
	if env.Code != nil && *env.Code < 0 {
		return &apperrors.ExchangeError{
			Status:  status,
			Code:    *env.Code,
			Message: env.Msg,
			Body:    string(trimmed),
			Path:    path,
		}
	}
	return nil
}

func decodeBody(path string, b []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return &apperrors.ExchangeError{
			Message: fmt.Sprintf("decode response: %v", err),
			Body:    strings.TrimSpace(string(b)),
			Path:    path,
		}
	}
	return nil
}

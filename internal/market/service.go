package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/astervol/internal/pkg/logger"
)

const (
	WSBaseURL       = "wss://fstream.asterdex.com/ws"
	ReconnBaseDelay = 1 * time.Second
	ReconnMaxDelay  = 30 * time.Second
	PingPeriod      = 15 * time.Second // Keep-alive interval
	DefaultMaxAge   = 10 * time.Second
)

// MarkPriceService keeps the latest mark price of one symbol from the
// <symbol>@markPrice stream. When the stream is down or stale, Price falls
// back to the configured PriceSource.
type MarkPriceService struct {
	url      string
	symbol   string
	fallback PriceSource
	maxAge   time.Duration

	conn        *websocket.Conn
	mu          sync.RWMutex
	writeMu     sync.Mutex
	price       decimal.Decimal
	updatedAt   time.Time
	ctx         context.Context
	cancel      context.CancelFunc
	isConnected bool
}

func MarkPriceURL(base, symbol string) string {
	if base == "" {
		base = WSBaseURL
	}
	return strings.TrimRight(base, "/") + "/" + strings.ToLower(symbol) + "@markPrice"
}

func NewMarkPriceService(wsBase, symbol string, fallback PriceSource) *MarkPriceService {
	ctx, cancel := context.WithCancel(context.Background())
	return &MarkPriceService{
		url:      MarkPriceURL(wsBase, symbol),
		symbol:   strings.ToUpper(symbol),
		fallback: fallback,
		maxAge:   DefaultMaxAge,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the connection loop in a background goroutine
func (s *MarkPriceService) Start() {
	go s.runLoop()
}

// Stop closes the service
func (s *MarkPriceService) Stop() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *MarkPriceService) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isConnected
}

func (s *MarkPriceService) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if strings.EqualFold(symbol, s.symbol) {
		s.mu.RLock()
		price, at := s.price, s.updatedAt
		s.mu.RUnlock()
		if price.Sign() > 0 && time.Since(at) <= s.maxAge {
			return price, nil
		}
	}
	if s.fallback == nil {
		return decimal.Zero, fmt.Errorf("no fresh mark price for %s", symbol)
	}
	return s.fallback.Price(ctx, symbol)
}

func (s *MarkPriceService) runLoop() {
	delay := ReconnBaseDelay

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if err := s.connect(); err != nil {
			logger.Error("mark price connection failed", "error", err, "retry_in", delay)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > ReconnMaxDelay {
				delay = ReconnMaxDelay
			}
			continue
		}

		// Connected successfully
		delay = ReconnBaseDelay
		logger.Info("mark price stream connected", "url", s.url)

		s.readLoop()

		s.mu.Lock()
		s.isConnected = false
		s.mu.Unlock()
	}
}

func (s *MarkPriceService) connect() error {
	conn, _, err := websocket.DefaultDialer.DialContext(s.ctx, s.url, nil)
	if err != nil {
		return err
	}

	// If nothing (data or pong) arrives within PingPeriod + buffer the link is dead.
	readTimeout := PingPeriod + 10*time.Second
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	s.mu.Lock()
	s.conn = conn
	s.isConnected = true
	s.mu.Unlock()

	go s.pinger(conn)
	return nil
}

func (s *MarkPriceService) pinger(conn *websocket.Conn) {
	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			current := s.conn == conn && s.isConnected
			s.mu.RUnlock()
			if !current {
				return
			}
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

type markPriceEvent struct {
	EventType string          `json:"e"`
	EventTime int64           `json:"E"`
	Symbol    string          `json:"s"`
	MarkPrice decimal.Decimal `json:"p"`
}

func (s *MarkPriceService) readLoop() {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	defer conn.Close()

	readTimeout := PingPeriod + 10*time.Second

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				logger.Warn("mark price read error", "error", err)
			}
			return
		}

		var ev markPriceEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			continue
		}
		if ev.Symbol != "" && !strings.EqualFold(ev.Symbol, s.symbol) {
			continue
		}
		s.update(ev.MarkPrice)
	}
}

func (s *MarkPriceService) update(price decimal.Decimal) {
	if price.Sign() <= 0 {
		return
	}
	s.mu.Lock()
	s.price = price
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GoPolymarket/astervol/internal/bot"
	"github.com/GoPolymarket/astervol/internal/model"
	"github.com/GoPolymarket/astervol/internal/pkg/logger"
	"github.com/GoPolymarket/astervol/internal/service"
)

type UsageReader interface {
	GetDailyUsage(ctx context.Context, pair string) (service.Usage, error)
}

type StatusHandler struct {
	symbol string
	acc    *bot.Accumulator
	pairs  []model.Pair
	usage  UsageReader
	stop   context.CancelFunc
}

// NewStatusHandler exposes the run totals. usage and stop may be nil.
func NewStatusHandler(symbol string, acc *bot.Accumulator, pairs []model.Pair, usage UsageReader, stop context.CancelFunc) *StatusHandler {
	return &StatusHandler{symbol: symbol, acc: acc, pairs: pairs, usage: usage, stop: stop}
}

func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type pairStatus struct {
	Pair  string         `json:"pair"`
	Today *service.Usage `json:"today,omitempty"`
}

type statusResponse struct {
	Symbol string       `json:"symbol"`
	Totals bot.Snapshot `json:"totals"`
	Pairs  []pairStatus `json:"pairs"`
}

func (h *StatusHandler) Status(c *gin.Context) {
	resp := statusResponse{
		Symbol: h.symbol,
		Totals: h.acc.Snapshot(),
		Pairs:  make([]pairStatus, 0, len(h.pairs)),
	}
	for _, p := range h.pairs {
		ps := pairStatus{Pair: p.String()}
		if h.usage != nil {
			u, err := h.usage.GetDailyUsage(c.Request.Context(), p.String())
			if err == nil {
				ps.Today = &u
			}
		}
		resp.Pairs = append(resp.Pairs, ps)
	}
	c.JSON(http.StatusOK, resp)
}

// Stop asks the run loop to finish after the pair in progress.
func (h *StatusHandler) Stop(c *gin.Context) {
	if h.stop == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "stop not supported"})
		return
	}
	logger.Info("stop requested via status server", "client_ip", c.ClientIP())
	h.stop()
	c.JSON(http.StatusAccepted, gin.H{"status": "stopping"})
}

package apihttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"signaldesk/internal/analysis/indicator"
	"signaldesk/internal/logger"
	"signaldesk/internal/market"
	"signaldesk/internal/pipeline"
	symbolpkg "signaldesk/internal/pkg/symbol"
	"signaldesk/internal/signal"
	"signaldesk/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Router 暴露运行触发、信号查询与 K 线查询接口。
type Router struct {
	Runner  RunTrigger
	Signals store.SignalStore
	Candles store.CandleStore

	now func() time.Time
}

func NewRouter(runner RunTrigger, signals store.SignalStore, candles store.CandleStore) *Router {
	return &Router{Runner: runner, Signals: signals, Candles: candles, now: time.Now}
}

// Register 将路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/runs", r.handleRun)
	group.GET("/signals", r.handleListSignals)
	group.GET("/signals/:id", r.handleSignalByID)
	group.GET("/candles", r.handleListCandles)
}

// SignalDetail 是单个信号及其指标快照。
type SignalDetail struct {
	Signal   signal.Signal       `json:"signal"`
	Snapshot *indicator.Snapshot `json:"snapshot,omitempty"`
}

// CandleView 标注该 K 线在查询时刻是否已收盘。
type CandleView struct {
	market.Candle
	Closed bool `json:"closed"`
}

func (r *Router) handleRun(c *gin.Context) {
	if r.Runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pipeline not configured"})
		return
	}
	var req pipeline.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if !symbolpkg.IsValid(req.Symbol) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid symbol: " + req.Symbol})
		return
	}
	// 客户端断开不应中断已经开始的运行。
	res := r.Runner.Run(context.WithoutCancel(c.Request.Context()), req)
	status := http.StatusOK
	if res.Kind == pipeline.KindInvalidRequest {
		status = http.StatusBadRequest
	}
	c.JSON(status, res)
}

func queryLimit(c *gin.Context) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}

func (r *Router) handleListSignals(c *gin.Context) {
	if r.Signals == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store not configured"})
		return
	}
	limit := queryLimit(c)
	symbol := strings.TrimSpace(c.Query("symbol"))
	if symbol != "" {
		symbol = symbolpkg.ToBinance(symbol)
	}
	list, err := r.Signals.ListSignals(c.Request.Context(), symbol, limit)
	if err != nil {
		logger.Errorf("list signals failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": list, "count": len(list)})
}

func (r *Router) handleSignalByID(c *gin.Context) {
	if r.Signals == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store not configured"})
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	ctx := c.Request.Context()
	sig, err := r.Signals.GetSignal(ctx, uint(id))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "signal not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	detail := SignalDetail{Signal: sig}
	snap, err := r.Signals.GetIndicatorSnapshot(ctx, sig.ID)
	switch {
	case err == nil:
		detail.Snapshot = &snap
	case !errors.Is(err, store.ErrNotFound):
		logger.Warnf("load snapshot for signal %d failed: %v", sig.ID, err)
	}
	c.JSON(http.StatusOK, detail)
}

func (r *Router) handleListCandles(c *gin.Context) {
	if r.Candles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store not configured"})
		return
	}
	symbol := strings.TrimSpace(c.Query("symbol"))
	if !symbolpkg.IsValid(symbol) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid symbol: " + symbol})
		return
	}
	interval := strings.ToLower(strings.TrimSpace(c.Query("interval")))
	if interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval is required"})
		return
	}
	symbol = symbolpkg.ToBinance(symbol)
	list, err := r.Candles.ListCandles(c.Request.Context(), symbol, interval, queryLimit(c))
	if err != nil {
		logger.Errorf("list candles %s %s failed: %v", symbol, interval, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	now := r.now()
	views := make([]CandleView, 0, len(list))
	for _, k := range list {
		views = append(views, CandleView{Candle: k, Closed: k.Closed(now)})
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "interval": interval, "candles": views, "count": len(views)})
}

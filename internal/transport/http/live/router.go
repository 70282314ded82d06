package livehttp

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"crest/internal/analysis/visual"
	"crest/internal/pkg/symbol"
	"crest/internal/types"
)

// Archive 历史归档的只读查询面，gormstore.Store 是生产实现。
// 两个方法都在内部钳制 limit，handler 只负责透传。
type Archive interface {
	RecentTrades(ctx context.Context, symbol string, limit int) ([]types.TradeRecord, error)
	EquityRange(ctx context.Context, symbol string, sinceMS int64, limit int) ([]types.EquitySnapshot, error)
}

// Router 暴露只读观察接口：状态快照、历史交易、净值曲线与图表。
type Router struct {
	board   *StatusBoard
	archive Archive
}

// NewRouter 构造观察端 router，archive 为 nil 时历史类接口返回 503。
func NewRouter(board *StatusBoard, archive Archive) *Router {
	return &Router{board: board, archive: archive}
}

// Register 将观察接口挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/status", r.handleStatus)
	group.GET("/history/:symbol", r.handleHistory)
	group.GET("/equity/:symbol", r.handleEquity)
	group.GET("/chart/:symbol", r.handleChart)
}

func (r *Router) handleStatus(c *gin.Context) {
	snaps := r.board.All()
	if sym := strings.TrimSpace(c.Query("symbol")); sym != "" {
		norm := symbol.Normalize(sym)
		snap, ok := r.board.Snapshot(norm)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "未知交易对: " + sym})
			return
		}
		snaps = []types.StatusSnapshot{snap}
	}
	c.JSON(http.StatusOK, gin.H{"symbols": snaps})
}

func (r *Router) handleHistory(c *gin.Context) {
	sym, ok := r.symbolParam(c)
	if !ok {
		return
	}
	if r.archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "历史归档未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	trades, err := r.archive.RecentTrades(c.Request.Context(), sym, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": sym, "count": len(trades), "trades": trades})
}

func (r *Router) handleEquity(c *gin.Context) {
	sym, ok := r.symbolParam(c)
	if !ok {
		return
	}
	if r.archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "历史归档未启用"})
		return
	}
	since, _ := strconv.ParseInt(c.DefaultQuery("since_ms", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "1000"))
	points, err := r.archive.EquityRange(c.Request.Context(), sym, since, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": sym, "count": len(points), "equity": points})
}

// handleChart 直接吐净值曲线的交互式 HTML 页面。
func (r *Router) handleChart(c *gin.Context) {
	sym, ok := r.symbolParam(c)
	if !ok {
		return
	}
	if r.archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "历史归档未启用"})
		return
	}
	points, err := r.archive.EquityRange(c.Request.Context(), sym, 0, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(points) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "该交易对暂无净值数据: " + sym})
		return
	}
	html, err := visual.EquityHTML(visual.EquityInput{Symbol: sym, Points: points})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

// symbolParam 解析并规范化路径里的交易对，"BNBUSDT" 与 "BNB/USDT" 等价。
func (r *Router) symbolParam(c *gin.Context) (string, bool) {
	raw := strings.TrimSpace(c.Param("symbol"))
	norm := symbol.Normalize(raw)
	if norm == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无法识别的交易对: " + raw})
		return "", false
	}
	return norm, true
}

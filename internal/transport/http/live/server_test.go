package livehttp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"crest/internal/types"
)

type stubArchive struct {
	trades []types.TradeRecord
	equity []types.EquitySnapshot
	err    error

	lastSym   string
	lastSince int64
	lastLimit int
}

func (s *stubArchive) RecentTrades(ctx context.Context, sym string, limit int) ([]types.TradeRecord, error) {
	s.lastSym, s.lastLimit = sym, limit
	return s.trades, s.err
}

func (s *stubArchive) EquityRange(ctx context.Context, sym string, sinceMS int64, limit int) ([]types.EquitySnapshot, error) {
	s.lastSym, s.lastSince, s.lastLimit = sym, sinceMS, limit
	return s.equity, s.err
}

func newTestServer(t *testing.T, board *StatusBoard, archive Archive) *Server {
	t.Helper()
	srv, err := NewServer(ServerConfig{Board: board, Archive: archive})
	require.NoError(t, err)
	return srv
}

func get(srv *Server, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestStatusBoard(t *testing.T) {
	t.Run("发布递增版本号", func(t *testing.T) {
		b := NewStatusBoard()
		b.Publish(types.StatusSnapshot{Symbol: "BNB/USDT", Price: 600})
		b.Publish(types.StatusSnapshot{Symbol: "BNB/USDT", Price: 610})
		b.Publish(types.StatusSnapshot{Symbol: "ETH/USDT", Price: 3000})

		snap, ok := b.Snapshot("BNB/USDT")
		require.True(t, ok)
		assert.EqualValues(t, 2, snap.Version)
		assert.InDelta(t, 610, snap.Price, 1e-9)

		eth, ok := b.Snapshot("ETH/USDT")
		require.True(t, ok)
		assert.EqualValues(t, 1, eth.Version)
	})

	t.Run("快照为值副本互不影响", func(t *testing.T) {
		b := NewStatusBoard()
		snap := types.StatusSnapshot{Symbol: "BNB/USDT", Price: 600}
		b.Publish(snap)
		snap.Price = 999

		got, ok := b.Snapshot("BNB/USDT")
		require.True(t, ok)
		assert.InDelta(t, 600, got.Price, 1e-9)
	})

	t.Run("All按品种排序", func(t *testing.T) {
		b := NewStatusBoard()
		b.Publish(types.StatusSnapshot{Symbol: "ETH/USDT"})
		b.Publish(types.StatusSnapshot{Symbol: "BNB/USDT"})
		all := b.All()
		require.Len(t, all, 2)
		assert.Equal(t, "BNB/USDT", all[0].Symbol)
		assert.Equal(t, "ETH/USDT", all[1].Symbol)
	})

	t.Run("缺交易对的快照被忽略", func(t *testing.T) {
		b := NewStatusBoard()
		b.Publish(types.StatusSnapshot{})
		assert.Empty(t, b.All())
	})
}

func TestServerRoutes(t *testing.T) {
	t.Run("健康检查", func(t *testing.T) {
		srv := newTestServer(t, NewStatusBoard(), nil)
		w := get(srv, "/healthz")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ok", gjson.Get(w.Body.String(), "status").String())
	})

	t.Run("状态接口返回全部快照", func(t *testing.T) {
		board := NewStatusBoard()
		board.Publish(types.StatusSnapshot{
			Symbol: "BNB/USDT",
			Price:  612.5,
			Regime: types.RegimeStatus{Confirmed: "uptrend", GraceLeft: 2},
			Position: types.PositionStatus{
				Open: true, Side: "long", Size: 0.5, AvgPrice: 600, UnrealizedPnL: 6.25,
			},
		})
		srv := newTestServer(t, board, nil)

		w := get(srv, "/api/status")
		require.Equal(t, http.StatusOK, w.Code)
		body := w.Body.String()
		assert.EqualValues(t, 1, gjson.Get(body, "symbols.#").Int())
		assert.Equal(t, "BNB/USDT", gjson.Get(body, "symbols.0.symbol").String())
		assert.EqualValues(t, 1, gjson.Get(body, "symbols.0.version").Int())
		assert.Equal(t, "uptrend", gjson.Get(body, "symbols.0.regime.confirmed").String())
		assert.True(t, gjson.Get(body, "symbols.0.position.open").Bool())
		assert.InDelta(t, 6.25, gjson.Get(body, "symbols.0.position.unrealized_pnl").Float(), 1e-9)
	})

	t.Run("状态接口按品种过滤", func(t *testing.T) {
		board := NewStatusBoard()
		board.Publish(types.StatusSnapshot{Symbol: "BNB/USDT"})
		board.Publish(types.StatusSnapshot{Symbol: "ETH/USDT"})
		srv := newTestServer(t, board, nil)

		w := get(srv, "/api/status?symbol=BNBUSDT")
		require.Equal(t, http.StatusOK, w.Code)
		body := w.Body.String()
		assert.EqualValues(t, 1, gjson.Get(body, "symbols.#").Int())
		assert.Equal(t, "BNB/USDT", gjson.Get(body, "symbols.0.symbol").String())

		w = get(srv, "/api/status?symbol=DOGEUSDT")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("历史接口透传归档查询", func(t *testing.T) {
		archive := &stubArchive{trades: []types.TradeRecord{{
			Symbol: "BNB/USDT", Side: types.SideLong, NetPnL: 12.5, ClosedAtMS: 1714550400000,
		}}}
		srv := newTestServer(t, NewStatusBoard(), archive)

		w := get(srv, "/api/history/BNBUSDT?limit=20")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "BNB/USDT", archive.lastSym)
		assert.Equal(t, 20, archive.lastLimit)
		body := w.Body.String()
		assert.EqualValues(t, 1, gjson.Get(body, "count").Int())
		assert.InDelta(t, 12.5, gjson.Get(body, "trades.0.net_pnl").Float(), 1e-9)
	})

	t.Run("净值接口透传时间与数量参数", func(t *testing.T) {
		archive := &stubArchive{equity: []types.EquitySnapshot{
			{TimeMS: 1714550400000, Equity: 105.5},
			{TimeMS: 1714554000000, Equity: 108.0},
		}}
		srv := newTestServer(t, NewStatusBoard(), archive)

		w := get(srv, "/api/equity/BNBUSDT?since_ms=1714550000000&limit=50")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "BNB/USDT", archive.lastSym)
		assert.EqualValues(t, 1714550000000, archive.lastSince)
		assert.Equal(t, 50, archive.lastLimit)
		body := w.Body.String()
		assert.EqualValues(t, 2, gjson.Get(body, "count").Int())
		assert.InDelta(t, 105.5, gjson.Get(body, "equity.0.equity").Float(), 1e-9)
	})

	t.Run("图表接口渲染净值页面", func(t *testing.T) {
		archive := &stubArchive{equity: []types.EquitySnapshot{
			{TimeMS: 1714550400000, Equity: 100},
			{TimeMS: 1714554000000, Equity: 104},
		}}
		srv := newTestServer(t, NewStatusBoard(), archive)

		w := get(srv, "/api/chart/BNBUSDT")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, w.Body.String(), "echarts")
	})

	t.Run("图表接口无数据返回404", func(t *testing.T) {
		srv := newTestServer(t, NewStatusBoard(), &stubArchive{})
		w := get(srv, "/api/chart/BNBUSDT")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("归档查询失败返回500", func(t *testing.T) {
		archive := &stubArchive{err: errors.New("db locked")}
		srv := newTestServer(t, NewStatusBoard(), archive)
		w := get(srv, "/api/history/BNBUSDT")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "db locked")
	})

	t.Run("未配置归档的历史类接口返回503", func(t *testing.T) {
		srv := newTestServer(t, NewStatusBoard(), nil)
		for _, path := range []string{"/api/history/BNBUSDT", "/api/equity/BNBUSDT", "/api/chart/BNBUSDT"} {
			w := get(srv, path)
			assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
		}
	})

	t.Run("非法交易对返回400", func(t *testing.T) {
		srv := newTestServer(t, NewStatusBoard(), &stubArchive{})
		w := get(srv, "/api/history/XXXX")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("缺少布告板时拒绝构建", func(t *testing.T) {
		_, err := NewServer(ServerConfig{})
		assert.Error(t, err)
	})
}

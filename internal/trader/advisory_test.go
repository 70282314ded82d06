package trader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crest/internal/advisor"
	"crest/internal/config"
	"crest/internal/types"
)

type fakeAdvisor struct {
	op    advisor.Opinion
	err   error
	calls int
	snaps []advisor.MarketSnapshot
}

func (f *fakeAdvisor) Analyze(_ context.Context, snap advisor.MarketSnapshot, _ int) (advisor.Opinion, error) {
	f.calls++
	f.snaps = append(f.snaps, snap)
	return f.op, f.err
}

// advisoryTrader 构造带顾问通道的交易循环。不触发 Prepare，
// 避免单元测试依赖无头浏览器探测。
func advisoryTrader(t *testing.T, fx *fakeVenue, fa *fakeAdvisor, mutate func(*config.Config)) *Trader {
	t.Helper()
	cfg := config.Default()
	cfg.App.StateDir = t.TempDir()
	cfg.Advisor.Enabled = true
	if mutate != nil {
		mutate(cfg)
	}
	tr := New(Params{
		Config:   cfg,
		Symbol:   "BNBUSDT",
		Exchange: fx,
		Notifier: &recordingNotifier{},
		Advisor:  fa,
	})
	require.NotNil(t, tr.advice)
	return tr
}

// advisoryMarket 顾问快照需要的三个周期，外加过滤周期K线。
func advisoryMarket(fx *fakeVenue) marketData {
	base := int64(1_700_000_000_000)
	for _, interval := range []string{"15m", "1h", "4h"} {
		fx.candles[interval] = buildCandles(base, risingPrices(120, 90, 0.1), nil)
	}
	return marketData{filter: buildCandles(base, risingPrices(60, 95, 0.1), nil)}
}

func TestConsultAdvisor(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)

	t.Run("观望建议不产生任何动作", func(t *testing.T) {
		fx := newFakeVenue()
		fa := &fakeAdvisor{op: advisor.Opinion{Direction: advisor.DirectionNeutral, Confidence: 90, Reason: "wait"}}
		tr := advisoryTrader(t, fx, fa, nil)
		md := advisoryMarket(fx)

		tr.consultAdvisor(context.Background(), md, 100, now)

		assert.Equal(t, 1, fa.calls)
		assert.True(t, tr.advice.asked)
		assert.Equal(t, advisor.DirectionNeutral, tr.advice.lastOp.Direction)
		assert.False(t, tr.ledger.IsOpen())
		assert.Nil(t, tr.advice.paper.Open())
	})

	t.Run("未达实盘门槛转入模拟盘", func(t *testing.T) {
		fx := newFakeVenue()
		fa := &fakeAdvisor{op: advisor.Opinion{
			Direction: advisor.DirectionLong, Confidence: 80,
			Stop: 98.5, Target: 110, Reason: "trend continuation",
		}}
		// 默认实盘门槛 60 分，新档案 50 分不够格
		tr := advisoryTrader(t, fx, fa, nil)
		md := advisoryMarket(fx)

		tr.consultAdvisor(context.Background(), md, 100, now)

		assert.False(t, tr.ledger.IsOpen())
		assert.Empty(t, fx.submitted)
		paper := tr.advice.paper.Open()
		require.NotNil(t, paper)
		assert.Equal(t, types.SideLong, paper.Side)
		assert.InDelta(t, 100.0, paper.Entry, 1e-9)
	})

	t.Run("达标建议实盘开仓并融合价位", func(t *testing.T) {
		fx := newFakeVenue()
		fx.fillPrice = 100
		fx.fillFee = 0.05
		fa := &fakeAdvisor{op: advisor.Opinion{
			Direction: advisor.DirectionLong, Confidence: 80,
			Stop: 98.5, Target: 110, Reason: "trend continuation",
		}}
		tr := advisoryTrader(t, fx, fa, func(cfg *config.Config) {
			cfg.Advisor.LiveScoreThreshold = 40
		})
		md := advisoryMarket(fx)

		tr.consultAdvisor(context.Background(), md, 100, now)

		require.True(t, tr.ledger.IsOpen())
		snap := tr.ledger.Snapshot()
		assert.Equal(t, types.ReasonAdvisor, snap.EntryReason)
		assert.Equal(t, types.SideLong, snap.Side)
		// 止盈采纳建议目标，止损被建议值收紧（98.5 优于 2.5% 初始止损）
		assert.InDelta(t, 110.0, snap.TakeProfit, 1e-9)
		assert.InDelta(t, 98.5, snap.StopLoss, 1e-9)
		assert.Nil(t, tr.advice.paper.Open())
	})

	t.Run("最小间隔内不重复咨询", func(t *testing.T) {
		fx := newFakeVenue()
		fa := &fakeAdvisor{op: advisor.Opinion{Direction: advisor.DirectionNeutral}}
		tr := advisoryTrader(t, fx, fa, nil)
		md := advisoryMarket(fx)

		tr.consultAdvisor(context.Background(), md, 100, now)
		tr.consultAdvisor(context.Background(), md, 100, now.Add(time.Minute))
		assert.Equal(t, 1, fa.calls)

		tr.consultAdvisor(context.Background(), md, 100, now.Add(16*time.Minute))
		assert.Equal(t, 2, fa.calls)
	})

	t.Run("分析失败只告警不计为已咨询结论", func(t *testing.T) {
		fx := newFakeVenue()
		fa := &fakeAdvisor{err: errors.New("upstream 500")}
		tr := advisoryTrader(t, fx, fa, nil)
		md := advisoryMarket(fx)

		tr.consultAdvisor(context.Background(), md, 100, now)

		assert.Equal(t, 1, fa.calls)
		assert.False(t, tr.advice.asked)
		assert.False(t, tr.ledger.IsOpen())
	})
}

func TestPaperTradeSettlesInCycle(t *testing.T) {
	fx := newFakeVenue()
	flatMarket(fx, 111)
	fa := &fakeAdvisor{op: advisor.Opinion{Direction: advisor.DirectionNeutral}}
	tr := advisoryTrader(t, fx, fa, nil)

	require.True(t, tr.advice.paper.Consider(advisor.Opinion{
		Direction: advisor.DirectionLong, Confidence: 80, Stop: 98.5, Target: 110,
	}, 100, 1_700_000_000_000))

	_, err := tr.runCycle(context.Background())
	require.NoError(t, err)

	// 111 已越过 110 目标，按目标价结算并写回绩效窗口
	assert.Nil(t, tr.advice.paper.Open())
	assert.Equal(t, 1, tr.advice.track.SampleCount())
}

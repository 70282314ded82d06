package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crest/internal/config"
	"crest/internal/market"
	"crest/internal/position"
	"crest/internal/regime"
	"crest/internal/types"
)

const filterStepMS = int64(15 * 60 * 1000)

type recordingNotifier struct {
	messages []string
}

func (r *recordingNotifier) SendText(text string) error {
	r.messages = append(r.messages, text)
	return nil
}

// buildCandles 以前收即开、固定步长的方式构造K线序列。
func buildCandles(startMS int64, prices []float64) market.Candles {
	out := make(market.Candles, len(prices))
	prev := prices[0]
	for i, p := range prices {
		high, low := p, prev
		if low > high {
			high, low = low, high
		}
		out[i] = market.Candle{
			OpenTime:  startMS + int64(i)*filterStepMS,
			CloseTime: startMS + int64(i+1)*filterStepMS - 1,
			Open:      prev,
			High:      high,
			Low:       low,
			Close:     p,
			Volume:    100,
		}
		prev = p
	}
	return out
}

func risingPrices(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// steadyFilter 步长为1的上行序列，TR 恒为1、ATR 恒为1。
func steadyFilter() market.Candles {
	return buildCandles(0, risingPrices(80, 100, 1))
}

func newEngine(t *testing.T) (*Engine, *position.Ledger) {
	t.Helper()
	ledger := position.NewLedger("BNB/USDT", t.TempDir())
	eng := New(config.Default(), ledger)
	eng.SetTuning(Tuning{TrailATRMult: 2.0, PyramidTrigger: 1.0})
	return eng, ledger
}

func openLong(t *testing.T, ledger *position.Ledger, ts int64) {
	t.Helper()
	require.NoError(t, ledger.Open(types.SideLong, 100, 2, 0, 95, 0, ts, types.ReasonPullback))
}

func TestCheckExit(t *testing.T) {
	t.Run("多头触及止损或止盈", func(t *testing.T) {
		eng, ledger := newEngine(t)
		require.NoError(t, ledger.Open(types.SideLong, 100, 2, 0, 95, 120, 1000, types.ReasonPullback))

		reason, hit := eng.CheckExit(94.5)
		require.True(t, hit)
		assert.Equal(t, types.CloseTrailingStop, reason)

		reason, hit = eng.CheckExit(120)
		require.True(t, hit)
		assert.Equal(t, types.CloseTakeProfit, reason)

		_, hit = eng.CheckExit(100)
		assert.False(t, hit)
	})

	t.Run("空头方向取反", func(t *testing.T) {
		eng, ledger := newEngine(t)
		require.NoError(t, ledger.Open(types.SideShort, 100, 2, 0, 105, 90, 1000, types.ReasonPullback))

		reason, hit := eng.CheckExit(105)
		require.True(t, hit)
		assert.Equal(t, types.CloseTrailingStop, reason)

		reason, hit = eng.CheckExit(89)
		require.True(t, hit)
		assert.Equal(t, types.CloseTakeProfit, reason)
	})

	t.Run("空仓不触发", func(t *testing.T) {
		eng, _ := newEngine(t)
		_, hit := eng.CheckExit(100)
		assert.False(t, hit)
	})
}

func TestStageOneTrail(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	t.Run("浮盈未达1R不移动", func(t *testing.T) {
		eng, ledger := newEngine(t)
		openLong(t, ledger, 1000)

		eng.ManageStops(steadyFilter(), 104, now)
		assert.InDelta(t, 95.0, ledger.Snapshot().StopLoss, 1e-9)
	})

	t.Run("达到1R后按ATR追踪", func(t *testing.T) {
		eng, ledger := newEngine(t)
		openLong(t, ledger, 1000)

		eng.ManageStops(steadyFilter(), 106, now)
		assert.InDelta(t, 104.0, ledger.Snapshot().StopLoss, 1e-9)
		assert.Equal(t, position.StageTrail, ledger.Snapshot().StopStage)
	})

	t.Run("更新有最小间隔限制", func(t *testing.T) {
		eng, ledger := newEngine(t)
		openLong(t, ledger, 1000)

		eng.ManageStops(steadyFilter(), 106, now)
		require.InDelta(t, 104.0, ledger.Snapshot().StopLoss, 1e-9)

		eng.ManageStops(steadyFilter(), 108, now.Add(10*time.Second))
		assert.InDelta(t, 104.0, ledger.Snapshot().StopLoss, 1e-9)

		eng.ManageStops(steadyFilter(), 108, now.Add(31*time.Second))
		assert.InDelta(t, 106.0, ledger.Snapshot().StopLoss, 1e-9)
	})

	t.Run("初始风险为0时整体跳过", func(t *testing.T) {
		eng, ledger := newEngine(t)
		require.NoError(t, ledger.Open(types.SideLong, 100, 2, 0, 100, 0, 1000, types.ReasonPullback))

		eng.ManageStops(steadyFilter(), 110, now)
		assert.InDelta(t, 100.0, ledger.Snapshot().StopLoss, 1e-9)
	})
}

func TestPromotionToChandelier(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	eng, ledger := newEngine(t)
	openLong(t, ledger, 1000)
	n := &recordingNotifier{}
	eng.SetNotifier(n)

	filter := steadyFilter()
	highest := filter[len(filter)-1].High

	// 浮盈 2R 触发晋升，并在同一周期按吊灯逻辑计算止损
	eng.ManageStops(filter, 110, now)

	pos := ledger.Snapshot()
	assert.Equal(t, position.StageExtremum, pos.StopStage)
	assert.InDelta(t, highest-3.0, pos.StopLoss, 1e-9)
	require.Len(t, n.messages, 1)
	assert.Contains(t, n.messages[0], "吊灯")

	t.Run("晋升只发生一次", func(t *testing.T) {
		eng.ManageStops(filter, 112, now.Add(time.Minute))
		assert.Len(t, n.messages, 1)
	})
}

// exhaustedFilter 先强势上行再温和回落，ADX 从高位连续下滑。
func exhaustedFilter() market.Candles {
	prices := risingPrices(60, 100, 3)
	p := prices[len(prices)-1]
	for i := 0; i < 12; i++ {
		p -= 0.5
		prices = append(prices, p)
	}
	return buildCandles(0, prices)
}

func TestExhaustionLock(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	eng, ledger := newEngine(t)
	openLong(t, ledger, 1000)

	// 浮盈不足以启动追踪，但 ADX 衰竭应把止损锁到保本价
	eng.ManageStops(exhaustedFilter(), 100.5, now)

	pos := ledger.Snapshot()
	assert.Equal(t, position.StageBreakEven, pos.StopStage)
	assert.InDelta(t, 100.0, pos.StopLoss, 1e-9)

	diag := eng.ExhaustionDiagnostics()
	assert.True(t, diag.IsFalling)
	assert.Equal(t, "Exhaustion confirmed", diag.Status)

	t.Run("锁定后不再重复触发", func(t *testing.T) {
		eng.ManageStops(exhaustedFilter(), 100.5, now.Add(time.Minute))
		assert.Equal(t, position.StageBreakEven, ledger.Snapshot().StopStage)
	})
}

func TestAdaptiveWidening(t *testing.T) {
	eng, _ := newEngine(t)

	t.Run("平稳行情使用基准乘数", func(t *testing.T) {
		f := steadyFilter()
		mult := eng.widenedMult(f.Highs(), f.Lows(), f.Closes())
		assert.InDelta(t, 2.0, mult, 1e-9)
	})

	t.Run("波动骤升时封顶于基准的放宽上限", func(t *testing.T) {
		prices := risingPrices(60, 100, 0.1)
		p := prices[len(prices)-1]
		for i := 0; i < 12; i++ {
			p += 50
			prices = append(prices, p)
		}
		f := buildCandles(0, prices)
		mult := eng.widenedMult(f.Highs(), f.Lows(), f.Closes())
		assert.InDelta(t, 4.0, mult, 1e-9)
	})
}

func TestPlanPyramid(t *testing.T) {
	t.Run("浮盈达标产出加仓计划", func(t *testing.T) {
		eng, ledger := newEngine(t)
		openLong(t, ledger, 1000)

		_, ok := eng.PlanPyramid(regime.TrendUp, 104)
		assert.False(t, ok)

		plan, ok := eng.PlanPyramid(regime.TrendUp, 105)
		require.True(t, ok)
		assert.Equal(t, types.SideLong, plan.Side)
		assert.Equal(t, 1, plan.Seq)
		assert.InDelta(t, 1.5, plan.Size, 1e-9)
		assert.InDelta(t, 1.0, plan.TargetR, 1e-9)
	})

	t.Run("门槛随加仓次数抬高", func(t *testing.T) {
		eng, ledger := newEngine(t)
		openLong(t, ledger, 1000)
		require.NoError(t, ledger.Add(105, 1.5, 0, 2000))

		_, ok := eng.PlanPyramid(regime.TrendUp, 109)
		assert.False(t, ok)

		plan, ok := eng.PlanPyramid(regime.TrendUp, 110)
		require.True(t, ok)
		assert.Equal(t, 2, plan.Seq)
		assert.InDelta(t, 1.125, plan.Size, 1e-9)
	})

	t.Run("数量不低于交易所最小值", func(t *testing.T) {
		eng, ledger := newEngine(t)
		openLong(t, ledger, 1000)
		eng.SetMinTradeSize(2.0)

		plan, ok := eng.PlanPyramid(regime.TrendUp, 105)
		require.True(t, ok)
		assert.InDelta(t, 2.0, plan.Size, 1e-9)
	})

	t.Run("趋势不符或次数用尽不加仓", func(t *testing.T) {
		eng, ledger := newEngine(t)
		openLong(t, ledger, 1000)

		_, ok := eng.PlanPyramid(regime.TrendSideways, 110)
		assert.False(t, ok)
		_, ok = eng.PlanPyramid(regime.TrendDown, 110)
		assert.False(t, ok)

		require.NoError(t, ledger.Add(105, 1.5, 0, 2000))
		require.NoError(t, ledger.Add(110, 1.125, 0, 3000))
		_, ok = eng.PlanPyramid(regime.TrendUp, 150)
		assert.False(t, ok)
	})

	t.Run("初始风险为0无法加仓", func(t *testing.T) {
		eng, ledger := newEngine(t)
		require.NoError(t, ledger.Open(types.SideLong, 100, 2, 0, 100, 0, 1000, types.ReasonPullback))
		_, ok := eng.PlanPyramid(regime.TrendUp, 150)
		assert.False(t, ok)
	})
}

func TestSecureAfterAdd(t *testing.T) {
	t.Run("ATR止损更优时采用ATR止损", func(t *testing.T) {
		eng, ledger := newEngine(t)
		require.NoError(t, ledger.Open(types.SideLong, 100, 2, 0.2, 95, 0, 1000, types.ReasonPullback))
		require.NoError(t, ledger.Add(110, 1, 0.1, 2000))

		eng.SecureAfterAdd(steadyFilter(), 111)
		assert.InDelta(t, 109.0, ledger.Snapshot().StopLoss, 1e-9)
	})

	t.Run("保本价更优时采用保本价", func(t *testing.T) {
		eng, ledger := newEngine(t)
		require.NoError(t, ledger.Open(types.SideLong, 100, 2, 0.2, 95, 0, 1000, types.ReasonPullback))
		require.NoError(t, ledger.Add(110, 1, 0.1, 2000))

		breakEven := (100*2 + 110*1 + 0.3) / 3.0
		eng.SecureAfterAdd(steadyFilter(), 104)
		assert.InDelta(t, breakEven, ledger.Snapshot().StopLoss, 1e-9)
	})
}

func TestCheckDisagreement(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	filter := steadyFilter()

	t.Run("计数累加与恢复清零", func(t *testing.T) {
		eng, ledger := newEngine(t)
		openLong(t, ledger, 1000)

		res := eng.CheckDisagreement(regime.TrendDown, filter, 100, now)
		assert.Equal(t, DisagreementNone, res.Action)
		assert.Equal(t, 1, eng.DisagreeCount())

		eng.CheckDisagreement(regime.TrendDown, filter, 100, now)
		assert.Equal(t, 2, eng.DisagreeCount())

		eng.CheckDisagreement(regime.TrendUp, filter, 100, now)
		assert.Equal(t, 0, eng.DisagreeCount())
	})

	t.Run("无方向状态保持计数不变", func(t *testing.T) {
		eng, ledger := newEngine(t)
		openLong(t, ledger, 1000)

		eng.CheckDisagreement(regime.TrendDown, filter, 100, now)
		eng.CheckDisagreement(regime.TrendSideways, filter, 100, now)
		assert.Equal(t, 1, eng.DisagreeCount())
		eng.CheckDisagreement(regime.TrendUncertain, filter, 100, now)
		assert.Equal(t, 1, eng.DisagreeCount())
	})

	t.Run("达到阈值先部分减仓", func(t *testing.T) {
		eng, ledger := newEngine(t)
		openLong(t, ledger, 1000)

		eng.CheckDisagreement(regime.TrendDown, filter, 100, now)
		eng.CheckDisagreement(regime.TrendDown, filter, 100, now)
		res := eng.CheckDisagreement(regime.TrendDown, filter, 100, now)

		assert.Equal(t, DisagreementPartial, res.Action)
		assert.InDelta(t, 0.5, res.Fraction, 1e-9)
		assert.Equal(t, 0, eng.DisagreeCount())
	})

	t.Run("部分减仓已用过则防御性收紧", func(t *testing.T) {
		eng, ledger := newEngine(t)
		openLong(t, ledger, 1000)
		_, err := ledger.PartialClose(0.5)
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			eng.CheckDisagreement(regime.TrendDown, filter, 108, now)
		}
		res := eng.CheckDisagreement(regime.TrendDown, filter, 108, now)

		assert.Equal(t, DisagreementTightened, res.Action)
		assert.InDelta(t, 108-1.8, ledger.Snapshot().StopLoss, 1e-9)
		assert.Equal(t, 0, eng.DisagreeCount())
	})

	t.Run("剩余量低于最小值时跳过减仓不消耗额度", func(t *testing.T) {
		eng, ledger := newEngine(t)
		openLong(t, ledger, 1000)
		eng.SetMinTradeSize(5.0)

		for i := 0; i < 2; i++ {
			eng.CheckDisagreement(regime.TrendDown, filter, 108, now)
		}
		res := eng.CheckDisagreement(regime.TrendDown, filter, 108, now)

		assert.Equal(t, DisagreementTightened, res.Action)
		assert.Equal(t, 0, ledger.Snapshot().PartialExitCount)
	})

	t.Run("ATR不可用时保留计数等待重试", func(t *testing.T) {
		eng, ledger := newEngine(t)
		openLong(t, ledger, 1000)
		_, err := ledger.PartialClose(0.5)
		require.NoError(t, err)

		short := buildCandles(0, risingPrices(5, 100, 1))
		for i := 0; i < 3; i++ {
			res := eng.CheckDisagreement(regime.TrendDown, short, 108, now)
			assert.Equal(t, DisagreementNone, res.Action)
		}
		assert.Equal(t, 3, eng.DisagreeCount())

		res := eng.CheckDisagreement(regime.TrendDown, filter, 108, now)
		assert.Equal(t, DisagreementTightened, res.Action)
		assert.Equal(t, 0, eng.DisagreeCount())
	})

	t.Run("尖峰入场宽限期内豁免", func(t *testing.T) {
		eng, ledger := newEngine(t)
		openedAt := now.Add(-5 * time.Minute).UnixMilli()
		require.NoError(t, ledger.Open(types.SideLong, 100, 2, 0, 95, 0, openedAt, types.ReasonSpikePullback))

		eng.CheckDisagreement(regime.TrendDown, filter, 100, now)
		assert.Equal(t, 0, eng.DisagreeCount())

		eng.CheckDisagreement(regime.TrendDown, filter, 100, now.Add(6*time.Minute))
		assert.Equal(t, 1, eng.DisagreeCount())
	})
}

func TestSecurePartial(t *testing.T) {
	eng, ledger := newEngine(t)
	require.NoError(t, ledger.Open(types.SideLong, 100, 2, 0.2, 95, 0, 1000, types.ReasonPullback))
	_, err := ledger.PartialClose(0.5)
	require.NoError(t, err)

	eng.SecurePartial()
	assert.InDelta(t, 100.1, ledger.Snapshot().StopLoss, 1e-9)
}

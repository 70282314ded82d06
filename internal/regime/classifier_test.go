package regime

import (
	"testing"

	"crest/internal/config"
	"crest/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const candleStepMS = int64(5 * 60 * 1000)

// buildCandles 以前收即开、固定步长的方式构造K线序列。
func buildCandles(startMS int64, prices, volumes []float64) market.Candles {
	out := make(market.Candles, len(prices))
	prev := prices[0]
	for i, p := range prices {
		high, low := p, prev
		if low > high {
			high, low = low, high
		}
		vol := 100.0
		if volumes != nil {
			vol = volumes[i]
		}
		out[i] = market.Candle{
			OpenTime:  startMS + int64(i)*candleStepMS,
			CloseTime: startMS + int64(i+1)*candleStepMS - 1,
			Open:      prev,
			High:      high,
			Low:       low,
			Close:     p,
			Volume:    vol,
		}
		prev = p
	}
	return out
}

func constPrices(n int, price float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
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

func fallingPrices(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start - float64(i)*step
	}
	return out
}

func testClassifier() *Classifier {
	return NewClassifier(config.Default().Regime)
}

func TestEvaluateInsufficientData(t *testing.T) {
	c := testClassifier()
	res := c.Evaluate(Input{
		Signal: buildCandles(0, risingPrices(5, 1000, 1), nil),
		Filter: buildCandles(0, risingPrices(5, 1000, 1), nil),
	})
	assert.Equal(t, TrendSideways, res.Trend)
	assert.False(t, res.Diag.DataOK)
}

func TestGraceDecayAfterConfirmedTrend(t *testing.T) {
	c := testClassifier()
	base := int64(1_700_000_000_000)
	c.Restore(State{Confirmed: TrendUp, GraceLeft: 3, LastCandleMS: base - candleStepMS})

	flatInput := func(shift int) Input {
		start := base + int64(shift)*candleStepMS
		return Input{
			Signal: buildCandles(start, constPrices(60, 1000), nil),
			Filter: buildCandles(start, constPrices(60, 1000), nil),
		}
	}

	t.Run("宽限期内维持原判", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			res := c.Evaluate(flatInput(i))
			require.Equal(t, TrendUp, res.Trend, "第 %d 根宽限K线", i+1)
		}
		assert.Equal(t, 0, c.State().GraceLeft)
		assert.Equal(t, TrendUp, c.State().Confirmed)
	})

	t.Run("同一根K线重复评估不衰减", func(t *testing.T) {
		res := c.Evaluate(flatInput(2))
		assert.Equal(t, TrendUp, res.Trend)
	})

	t.Run("新K线上衰减为横盘", func(t *testing.T) {
		res := c.Evaluate(flatInput(3))
		assert.Equal(t, TrendSideways, res.Trend)
		assert.Equal(t, TrendSideways, c.State().Confirmed)
	})
}

func TestGraceConsumesOncePerCandle(t *testing.T) {
	c := testClassifier()
	base := int64(1_700_000_000_000)
	c.Restore(State{Confirmed: TrendDown, GraceLeft: 3, LastCandleMS: base - candleStepMS})

	in := Input{
		Signal: buildCandles(base, constPrices(60, 1000), nil),
		Filter: buildCandles(base, constPrices(60, 1000), nil),
	}
	for i := 0; i < 5; i++ {
		res := c.Evaluate(in)
		assert.Equal(t, TrendDown, res.Trend)
	}
	assert.Equal(t, 2, c.State().GraceLeft)
}

func TestFreshConfirmationNeedsGates(t *testing.T) {
	base := int64(1_700_000_000_000)
	signalPrices := risingPrices(80, 1000, 1)
	filterPrices := risingPrices(60, 1000, 1)

	t.Run("量能不足拒绝确认", func(t *testing.T) {
		c := testClassifier()
		res := c.Evaluate(Input{
			Signal: buildCandles(base, signalPrices, nil),
			Filter: buildCandles(base, filterPrices, nil),
		})
		assert.Equal(t, TrendSideways, res.Trend)
		assert.Equal(t, TrendUp, res.Diag.Instant)
		assert.True(t, res.Diag.GateChecked)
		assert.False(t, res.Diag.VolumeOK)
		assert.Equal(t, TrendSideways, c.State().Confirmed)
	})

	t.Run("量能与RSI齐备后确认", func(t *testing.T) {
		c := testClassifier()
		volumes := make([]float64, len(signalPrices))
		for i := range volumes {
			volumes[i] = 100
		}
		volumes[len(volumes)-1] = 500
		res := c.Evaluate(Input{
			Signal: buildCandles(base, signalPrices, volumes),
			Filter: buildCandles(base, filterPrices, nil),
		})
		require.Equal(t, TrendUp, res.Trend)
		assert.True(t, res.Diag.VolumeOK)
		assert.True(t, res.Diag.RSIOK)
		assert.Equal(t, TrendUp, c.State().Confirmed)
		assert.Equal(t, c.cfg.GraceCandles, c.State().GraceLeft)
	})

	t.Run("激进窗口折扣放宽量能门槛", func(t *testing.T) {
		c := testClassifier()
		// 量能仅为均量的 0.9 倍，动态门槛(≥1.1)不可能通过，窗口折扣 0.5 可以
		volumes := make([]float64, len(signalPrices))
		for i := range volumes {
			volumes[i] = 100
		}
		volumes[len(volumes)-1] = 95
		res := c.Evaluate(Input{
			Signal:      buildCandles(base, signalPrices, volumes),
			Filter:      buildCandles(base, filterPrices, nil),
			WindowLevel: 2,
			WindowRelax: 0.5,
		})
		assert.Equal(t, TrendUp, res.Trend)
		assert.InDelta(t, 0.5, res.Diag.VolumeMult, 1e-9)
	})
}

func TestFilterDisagreementRejectsSignal(t *testing.T) {
	c := testClassifier()
	base := int64(1_700_000_000_000)
	res := c.Evaluate(Input{
		Signal: buildCandles(base, risingPrices(80, 1000, 1), nil),
		Filter: buildCandles(base, fallingPrices(60, 2000, 2), nil),
	})
	assert.Equal(t, TrendUp, res.Diag.Raw)
	assert.Equal(t, "bearish", res.Diag.FilterBias)
	assert.NotEqual(t, TrendUp, res.Trend)
}

func TestInPositionBypassesMemory(t *testing.T) {
	c := testClassifier()
	base := int64(1_700_000_000_000)
	c.Restore(State{Confirmed: TrendDown, GraceLeft: 3, LastCandleMS: base - candleStepMS})

	res := c.Evaluate(Input{
		Signal:     buildCandles(base, risingPrices(80, 1000, 1), nil),
		Filter:     buildCandles(base, risingPrices(60, 1000, 1), nil),
		InPosition: true,
	})
	// 持仓时返回瞬时趋势，记忆保持不变
	assert.Equal(t, TrendUp, res.Trend)
	assert.Equal(t, TrendDown, c.State().Confirmed)
	assert.Equal(t, 3, c.State().GraceLeft)
}

func TestRejectedStateRangingTiers(t *testing.T) {
	c := testClassifier()
	assert.Equal(t, TrendSideways, c.rejectedState(15, true))
	assert.Equal(t, TrendUncertain, c.rejectedState(22, true))
	assert.Equal(t, TrendSideways, c.rejectedState(30, true))
	assert.Equal(t, TrendSideways, c.rejectedState(0, false))

	offCfg := config.Default().Regime
	offCfg.RangingMode = false
	off := NewClassifier(offCfg)
	assert.Equal(t, TrendSideways, off.rejectedState(22, true))
}

func TestDynamicVolumeMultiplier(t *testing.T) {
	c := testClassifier()

	t.Run("平稳波动回到基准", func(t *testing.T) {
		quiet := buildCandles(0, risingPrices(80, 1000, 1), nil)
		assert.InDelta(t, c.cfg.VolumeBase, c.DynamicVolumeMultiplier(quiet), 0.05)
	})

	t.Run("短期波动放大抬高门槛并封顶", func(t *testing.T) {
		prices := risingPrices(80, 1000, 1)
		// 最后几根放大至 30 倍步长，短期 ATR 远超长期
		for i := 70; i < 80; i++ {
			prices[i] = prices[69] + float64(i-69)*30
		}
		mult := c.DynamicVolumeMultiplier(buildCandles(0, prices, nil))
		assert.Greater(t, mult, c.cfg.VolumeBase)
		assert.LessOrEqual(t, mult, c.cfg.VolumeMax)
	})
}

func TestTrendSideHelpers(t *testing.T) {
	assert.True(t, TrendUp.Directional())
	assert.False(t, TrendUncertain.Directional())
	assert.True(t, TrendUp.Agrees(TrendUp.Side()))
	assert.True(t, TrendDown.Opposes(TrendUp.Side()))
	assert.False(t, TrendSideways.Opposes(TrendUp.Side()))
}

package entry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crest/internal/analysis/indicator"
	"crest/internal/config"
	"crest/internal/market"
	"crest/internal/regime"
	"crest/internal/types"
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

func risingPrices(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func testEngine() *Engine {
	cfg := config.Default()
	cls := regime.NewClassifier(cfg.Regime)
	return NewEngine(cfg.Entry, cfg.Regime, cls)
}

func bullishFilter() market.Candles {
	return buildCandles(0, risingPrices(60, 2000, 2), nil)
}

// spikeClosed 步长为1的上行序列，TR 恒为1，ATR(14) 恒为1。
func spikeClosed() market.Candles {
	return buildCandles(0, risingPrices(30, 100, 1), nil)
}

func formingCandle(open, close, volume float64) market.Candle {
	high, low := close, open
	if low > high {
		high, low = low, high
	}
	return market.Candle{Open: open, High: high, Low: low, Close: close, Volume: volume}
}

func TestDetectSpike(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	t.Run("放量大实体且方向一致时开启二级窗口", func(t *testing.T) {
		e := testEngine()
		w, ok := e.DetectSpike(spikeClosed(), formingCandle(129, 132, 300), bullishFilter(), now)
		require.True(t, ok)
		assert.Equal(t, WindowSpike, w.Level)
		assert.Equal(t, types.SideLong, w.Side)
		assert.Equal(t, types.ReasonSpikePullback, w.Reason)
		assert.Equal(t, now.Add(90*time.Second), w.ExpiresAt)
		assert.Equal(t, "Spike window armed", e.SpikeDiagnostics().Status)

		_, active := e.ActiveWindow(now.Add(89 * time.Second))
		assert.True(t, active)
		_, active = e.ActiveWindow(now.Add(91 * time.Second))
		assert.False(t, active)
	})

	t.Run("实体不足或量能不足都不触发", func(t *testing.T) {
		e := testEngine()
		_, ok := e.DetectSpike(spikeClosed(), formingCandle(129, 130, 300), bullishFilter(), now)
		assert.False(t, ok)
		assert.Equal(t, "Body too small", e.SpikeDiagnostics().Status)

		_, ok = e.DetectSpike(spikeClosed(), formingCandle(129, 132, 200), bullishFilter(), now)
		assert.False(t, ok)
		assert.Equal(t, "Volume too low", e.SpikeDiagnostics().Status)
	})

	t.Run("方向与宏观过滤相悖时不触发", func(t *testing.T) {
		e := testEngine()
		_, ok := e.DetectSpike(spikeClosed(), formingCandle(132, 129, 300), bullishFilter(), now)
		assert.False(t, ok)
		assert.Equal(t, "Against macro filter", e.SpikeDiagnostics().Status)
	})

	t.Run("数据不足时静默跳过", func(t *testing.T) {
		e := testEngine()
		short := buildCandles(0, risingPrices(5, 100, 1), nil)
		_, ok := e.DetectSpike(short, formingCandle(104, 108, 300), bullishFilter(), now)
		assert.False(t, ok)
		assert.Equal(t, "Not enough data", e.SpikeDiagnostics().Status)
	})
}

// breakoutClosed 前段缓慢爬升形成挤压，末根放量突破上轨。
func breakoutClosed() market.Candles {
	prices := risingPrices(90, 100, 0.01)
	prices = append(prices, 103)
	vols := make([]float64, len(prices))
	for i := range vols {
		vols[i] = 100
	}
	vols[len(vols)-1] = 500
	return buildCandles(0, prices, vols)
}

func TestDetectBreakout(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	t.Run("挤压后放量突破开启一级窗口", func(t *testing.T) {
		e := testEngine()
		w, ok := e.DetectBreakout(breakoutClosed(), bullishFilter(), now)
		require.True(t, ok)
		assert.Equal(t, WindowBreakout, w.Level)
		assert.Equal(t, types.SideLong, w.Side)
		assert.Equal(t, types.ReasonBreakoutPullback, w.Reason)
		assert.Equal(t, now.Add(180*time.Second), w.ExpiresAt)
	})

	t.Run("已有窗口时不工作", func(t *testing.T) {
		e := testEngine()
		_, ok := e.DetectBreakout(breakoutClosed(), bullishFilter(), now)
		require.True(t, ok)
		_, ok = e.DetectBreakout(breakoutClosed(), bullishFilter(), now.Add(time.Second))
		assert.False(t, ok)
	})

	t.Run("冷却期内不重复触发", func(t *testing.T) {
		e := testEngine()
		_, ok := e.DetectBreakout(breakoutClosed(), bullishFilter(), now)
		require.True(t, ok)
		e.ClearWindow()

		_, ok = e.DetectBreakout(breakoutClosed(), bullishFilter(), now.Add(5*time.Minute))
		assert.False(t, ok)

		_, ok = e.DetectBreakout(breakoutClosed(), bullishFilter(), now.Add(11*time.Minute))
		assert.True(t, ok)
	})

	t.Run("无挤压的突破不触发", func(t *testing.T) {
		// 波幅逐步放大的序列，突破前带宽处于高位而非低分位
		prices := make([]float64, 0, 91)
		p := 100.0
		for i := 0; i < 90; i++ {
			swing := 2 + float64(i)*0.05
			if i%2 == 0 {
				p += swing
			} else {
				p -= swing - 0.2
			}
			prices = append(prices, p)
		}
		prices = append(prices, p+20)
		vols := make([]float64, len(prices))
		for i := range vols {
			vols[i] = 100
		}
		vols[len(vols)-1] = 500

		e := testEngine()
		_, ok := e.DetectBreakout(buildCandles(0, prices, vols), bullishFilter(), now)
		assert.False(t, ok)
	})

	t.Run("缩量突破被量能确认拦下", func(t *testing.T) {
		prices := risingPrices(90, 100, 0.01)
		prices = append(prices, 103)
		e := testEngine()
		_, ok := e.DetectBreakout(buildCandles(0, prices, nil), bullishFilter(), now)
		assert.False(t, ok)
	})
}

func TestWindowSupersede(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	e := testEngine()

	_, ok := e.DetectBreakout(breakoutClosed(), bullishFilter(), now)
	require.True(t, ok)
	level, relax := e.GateState(now)
	assert.Equal(t, WindowBreakout, level)
	assert.InDelta(t, 0.8, relax, 1e-9)

	_, ok = e.DetectSpike(spikeClosed(), formingCandle(129, 132, 300), bullishFilter(), now.Add(time.Second))
	require.True(t, ok)
	level, relax = e.GateState(now.Add(2 * time.Second))
	assert.Equal(t, WindowSpike, level)
	assert.InDelta(t, 0.5, relax, 1e-9)

	e.ClearWindow()
	level, relax = e.GateState(now.Add(3 * time.Second))
	assert.Equal(t, WindowNone, level)
	assert.Zero(t, relax)
}

// pullbackClosed 带一次早期回撤的上行序列，末端三根连续加速上攻，
// RSI 尾部严格递增。
func pullbackClosed() market.Candles {
	prices := make([]float64, 0, 51)
	p := 100.0
	for i := 0; i < 48; i++ {
		if i == 10 {
			p -= 0.5
		} else {
			p += 0.6
		}
		prices = append(prices, p)
	}
	for _, gain := range []float64{0.8, 1.0, 1.2} {
		p += gain
		prices = append(prices, p)
	}
	return buildCandles(0, prices, nil)
}

func corridor(t *testing.T, closed market.Candles, cfg config.RegimeConfig) (fast, slow float64) {
	t.Helper()
	fast, okF := indicator.EMALast(closed.Closes(), cfg.FastMA)
	slow, okS := indicator.EMALast(closed.Closes(), cfg.SlowMA)
	require.True(t, okF)
	require.True(t, okS)
	return fast, slow
}

func TestScanPullback(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cfg := config.Default()

	t.Run("常规模式命中回调区", func(t *testing.T) {
		e := testEngine()
		closed := pullbackClosed()
		fast, slow := corridor(t, closed, cfg.Regime)
		price := (fast + slow) / 2

		sig, ok := e.ScanPullback(regime.TrendUp, closed, price, 0.4, now)
		require.True(t, ok)
		assert.Equal(t, types.SideLong, sig.Side)
		assert.Equal(t, types.ReasonPullback, sig.Reason)
		assert.Less(t, sig.BandLow, price)
		assert.Greater(t, sig.BandHigh, price)
	})

	t.Run("价格在机会区外不触发", func(t *testing.T) {
		e := testEngine()
		closed := pullbackClosed()
		fast, _ := corridor(t, closed, cfg.Regime)

		_, ok := e.ScanPullback(regime.TrendUp, closed, fast*1.05, 0.4, now)
		assert.False(t, ok)
	})

	t.Run("动量未对齐时放弃", func(t *testing.T) {
		e := testEngine()
		base := pullbackClosed()
		last := base[len(base)-1].Close
		prices := append(base.Closes(), last-1.0)
		closed := buildCandles(0, prices, nil)
		fast, slow := corridor(t, closed, cfg.Regime)

		_, ok := e.ScanPullback(regime.TrendUp, closed, (fast+slow)/2, 0.4, now)
		assert.False(t, ok)
	})

	t.Run("窗口激活时放宽区间并跳过过滤", func(t *testing.T) {
		e := testEngine()
		// 纯单边序列 RSI 恒为100，常规模式会被动量过滤拦下
		closed := buildCandles(0, risingPrices(60, 100, 0.5), nil)
		fast, slow := corridor(t, closed, cfg.Regime)
		low := slow
		if fast < low {
			low = fast
		}
		price := low * (1 - 0.008)

		_, ok := e.ScanPullback(regime.TrendUp, closed, price, 0.4, now)
		require.False(t, ok, "常规模式下该价格在区间外")

		e.window = Window{
			Level:     WindowSpike,
			Side:      types.SideLong,
			Reason:    types.ReasonSpikePullback,
			ArmedAt:   now,
			ExpiresAt: now.Add(90 * time.Second),
		}
		sig, ok := e.ScanPullback(regime.TrendUp, closed, price, 0.4, now)
		require.True(t, ok)
		assert.Equal(t, types.ReasonSpikePullback, sig.Reason)

		_, active := e.ActiveWindow(now)
		assert.False(t, active, "兑现后窗口应被关闭")
	})

	t.Run("无方向或参数非法直接拒绝", func(t *testing.T) {
		e := testEngine()
		closed := pullbackClosed()
		_, ok := e.ScanPullback(regime.TrendSideways, closed, 100, 0.4, now)
		assert.False(t, ok)
		_, ok = e.ScanPullback(regime.TrendUp, closed, 100, 0, now)
		assert.False(t, ok)
	})
}

// vShape 先跌后涨再小幅回落：交叉后以峰值分段，末端4根为回调段。
func vShape(retraceVol float64) market.Candles {
	prices := make([]float64, 0, 64)
	p := 100.0
	for i := 0; i < 30; i++ {
		p -= 1
		prices = append(prices, p)
	}
	for i := 0; i < 30; i++ {
		p += 1.2
		prices = append(prices, p)
	}
	for i := 0; i < 4; i++ {
		p -= 0.3
		prices = append(prices, p)
	}
	vols := make([]float64, len(prices))
	for i := range vols {
		vols[i] = 100
	}
	for i := len(vols) - 4; i < len(vols); i++ {
		vols[i] = retraceVol
	}
	return buildCandles(0, prices, vols)
}

func TestPullbackQuality(t *testing.T) {
	t.Run("回调段放量视为劣质回调", func(t *testing.T) {
		e := testEngine()
		assert.False(t, e.pullbackQualityOK(vShape(300), regime.TrendUp))
	})

	t.Run("回调段缩量视为健康回调", func(t *testing.T) {
		e := testEngine()
		assert.True(t, e.pullbackQualityOK(vShape(50), regime.TrendUp))
	})

	t.Run("无交叉时过滤不生效", func(t *testing.T) {
		e := testEngine()
		ramp := buildCandles(0, risingPrices(60, 100, 0.5), nil)
		assert.True(t, e.pullbackQualityOK(ramp, regime.TrendUp))
	})
}

func TestMomentumAligned(t *testing.T) {
	e := testEngine()

	t.Run("连续加速上攻尾部RSI递增", func(t *testing.T) {
		assert.True(t, e.momentumAligned(pullbackClosed().Closes(), regime.TrendUp))
	})

	t.Run("单边序列RSI走平不算对齐", func(t *testing.T) {
		ramp := risingPrices(60, 100, 0.5)
		assert.False(t, e.momentumAligned(ramp, regime.TrendUp))
	})
}

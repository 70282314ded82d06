package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crest/internal/market"
)

// candlesHL 按给定高低点序列构造K线，收盘取中值。
func candlesHL(highs, lows []float64) market.Candles {
	out := make(market.Candles, len(highs))
	for i := range highs {
		mid := (highs[i] + lows[i]) / 2
		out[i] = market.Candle{
			OpenTime:  int64(i) * 60_000,
			CloseTime: int64(i+1)*60_000 - 1,
			Open:      mid,
			High:      highs[i],
			Low:       lows[i],
			Close:     mid,
			Volume:    10,
		}
	}
	return out
}

func rampCandles(n int, start, slope float64) market.Candles {
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i := range highs {
		base := start + slope*float64(i)
		highs[i] = base + 0.5
		lows[i] = base - 0.5
	}
	return candlesHL(highs, lows)
}

func TestAnalyzeTrendBias(t *testing.T) {
	t.Run("上行序列判多", func(t *testing.T) {
		obs := Analyze(rampCandles(60, 100, 0.5))
		assert.Equal(t, "bullish", obs.Bias)
		assert.Contains(t, obs.TrendLine, "回归斜率")
		assert.Empty(t, obs.Patterns)
		assert.Equal(t, "未发现显著形态", obs.Summary())
	})

	t.Run("下行序列判空", func(t *testing.T) {
		obs := Analyze(rampCandles(60, 130, -0.5))
		assert.Equal(t, "bearish", obs.Bias)
	})

	t.Run("短横盘序列判平且不做形态扫描", func(t *testing.T) {
		obs := Analyze(rampCandles(10, 100, 0))
		assert.Equal(t, "balanced", obs.Bias)
		assert.Empty(t, obs.Patterns)
	})

	t.Run("空序列返回零值", func(t *testing.T) {
		obs := Analyze(nil)
		assert.Empty(t, obs.Bias)
		assert.Empty(t, obs.TrendLine)
	})
}

func TestAnalyzeDoubleBottom(t *testing.T) {
	n := 40
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i := range highs {
		lows[i] = 100 + 0.5*float64(i)
		highs[i] = lows[i] + 1
	}
	// 后半段两次探底，低点相差 0.2。
	lows[25] = 90.0
	lows[35] = 90.2

	obs := Analyze(candlesHL(highs, lows))
	require.Len(t, obs.Patterns, 1)
	assert.Contains(t, obs.Patterns[0], "双底")
	assert.Contains(t, obs.Patterns[0], "90.10")
	assert.Contains(t, obs.Summary(), "双底")
}

func TestAnalyzeDoubleTop(t *testing.T) {
	n := 40
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i := range highs {
		highs[i] = 120 - 0.5*float64(i)
		lows[i] = highs[i] - 1
	}
	highs[25] = 130.0
	highs[35] = 129.8

	obs := Analyze(candlesHL(highs, lows))
	require.Len(t, obs.Patterns, 1)
	assert.Contains(t, obs.Patterns[0], "双顶")
	assert.Contains(t, obs.Patterns[0], "129.90")
}

func TestAnalyzeConvergence(t *testing.T) {
	// 前半段宽幅横盘，后半段高低点同步收敛。
	n := 40
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i := range highs {
		if i < 20 {
			highs[i], lows[i] = 110, 90
			continue
		}
		j := float64(i - 20)
		highs[i] = 102 + 0.2*j
		lows[i] = 98 - 0.2*j
	}

	obs := Analyze(candlesHL(highs, lows))
	assert.Equal(t, "balanced", obs.Bias)
	require.Len(t, obs.Patterns, 2)
	assert.Contains(t, obs.Summary(), "对称三角")
	assert.Contains(t, obs.Summary(), "波动率快速收缩")
}

package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeanLast(t *testing.T) {
	t.Run("正常窗口", func(t *testing.T) {
		v, ok := MeanLast([]float64{1, 2, 3, 4, 5, 6}, 3)
		assert.True(t, ok)
		assert.InDelta(t, 5.0, v, 1e-9)
	})
	t.Run("数据不足", func(t *testing.T) {
		_, ok := MeanLast([]float64{1, 2}, 3)
		assert.False(t, ok)
	})
	t.Run("含非法值", func(t *testing.T) {
		_, ok := MeanLast([]float64{1, math.NaN(), 3}, 3)
		assert.False(t, ok)
	})
}

func TestEMALastInsufficientData(t *testing.T) {
	_, ok := EMALast([]float64{1, 2, 3}, 10)
	assert.False(t, ok)
}

func TestEMASpan(t *testing.T) {
	series := EMASpan([]float64{10, 10, 10, 10}, 5)
	assert.Len(t, series, 4)
	// 常数序列的指数平滑仍为常数
	assert.InDelta(t, 10.0, series[3], 1e-9)

	up := EMASpan([]float64{1, 2, 3, 4, 5, 6, 7, 8}, 3)
	assert.Greater(t, up[7], up[4])
}

func TestTrueRange(t *testing.T) {
	highs := []float64{10, 12, 11}
	lows := []float64{9, 10, 10}
	closes := []float64{9.5, 11.5, 10.5}
	tr := TrueRange(highs, lows, closes)
	assert.Len(t, tr, 3)
	assert.InDelta(t, 1.0, tr[0], 1e-9)
	// 第二根: max(12-10, |12-9.5|, |10-9.5|) = 2.5
	assert.InDelta(t, 2.5, tr[1], 1e-9)
}

func TestATRLast(t *testing.T) {
	n := 60
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		base := 100.0 + float64(i)*0.1
		highs[i] = base + 1
		lows[i] = base - 1
		closes[i] = base
	}
	atr, ok := ATRLast(highs, lows, closes, 14)
	assert.True(t, ok)
	assert.Greater(t, atr, 0.0)
	assert.Less(t, atr, 5.0)

	_, ok = ATRLast(highs[:5], lows[:5], closes[:5], 14)
	assert.False(t, ok)
}

func TestRSIDirection(t *testing.T) {
	n := 40
	rising := make([]float64, n)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	rsi, ok := RSILast(rising, 14)
	assert.True(t, ok)
	assert.Greater(t, rsi, 60.0, "单边上涨时 RSI 应明显偏高")

	falling := make([]float64, n)
	for i := range falling {
		falling[i] = 200 - float64(i)
	}
	rsi, ok = RSILast(falling, 14)
	assert.True(t, ok)
	assert.Less(t, rsi, 40.0, "单边下跌时 RSI 应明显偏低")
}

func TestBandWidthShrinksInQuietMarket(t *testing.T) {
	n := 80
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		if i < 40 {
			// 前半段大幅震荡
			if i%2 == 0 {
				closes[i] = 100 + 5
			} else {
				closes[i] = 100 - 5
			}
		} else {
			// 后半段收敛
			closes[i] = 100 + 0.1*float64(i%2)
		}
	}
	widths := BandWidthSeries(closes, 20, 2.0)
	assert.NotEmpty(t, widths)
	assert.Less(t, widths[len(widths)-1], widths[0])
}

func TestPercentile(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	p25, ok := Percentile(values, 25)
	assert.True(t, ok)
	assert.InDelta(t, 3.25, p25, 1e-9)

	p0, ok := Percentile(values, 0)
	assert.True(t, ok)
	assert.InDelta(t, 1.0, p0, 1e-9)

	p100, ok := Percentile(values, 100)
	assert.True(t, ok)
	assert.InDelta(t, 10.0, p100, 1e-9)

	_, ok = Percentile(nil, 50)
	assert.False(t, ok)
}

func TestADXNeedsWarmup(t *testing.T) {
	n := 100
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		base := 100.0 + float64(i)
		highs[i] = base + 2
		lows[i] = base - 2
		closes[i] = base + 1
	}
	adx, ok := ADXLast(highs, lows, closes, 14)
	assert.True(t, ok)
	assert.Greater(t, adx, 20.0, "持续单边行情的 ADX 应显示强趋势")

	_, ok = ADXLast(highs[:20], lows[:20], closes[:20], 14)
	assert.False(t, ok)
}

package indicator

import (
	"math"
	"sort"

	"github.com/markcheno/go-talib"
)

// 本包是策略各环节共享的指标层：统一基于 go-talib 计算，
// 所有"最新值"访问器都返回 (value, ok)，数据不足时 ok=false，调用方
// 据此走保守分支，绝不 panic。

// EMASeries 返回指数均线序列（已去除前导种子段与非法值）。
func EMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	return trimLeadingZeros(sanitizeSeries(talib.Ema(values, period)))
}

// EMALast 返回最新 EMA 值。
func EMALast(values []float64, period int) (float64, bool) {
	series := EMASeries(values, period)
	return lastValid(series)
}

// SMALast 返回末尾 period 根数据的简单均值。
func SMALast(values []float64, period int) (float64, bool) {
	return MeanLast(values, period)
}

// MeanLast 计算末尾 period 个元素的算术平均（成交量均线等通用场景）。
func MeanLast(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		sum += v
	}
	return sum / float64(period), true
}

// RSISeries 返回 Wilder 平滑的 RSI 序列。
func RSISeries(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period+1 {
		return nil
	}
	return sanitizeSeries(talib.Rsi(closes, period))
}

// RSILast 返回最新 RSI 值。
func RSILast(closes []float64, period int) (float64, bool) {
	return lastValid(RSISeries(closes, period))
}

// ATRSeries 返回 Wilder 平滑的 ATR 序列。
func ATRSeries(highs, lows, closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period+1 {
		return nil
	}
	if len(highs) != len(closes) || len(lows) != len(closes) {
		return nil
	}
	return sanitizeSeries(talib.Atr(highs, lows, closes, period))
}

// ATRLast 返回最新 ATR 值。
func ATRLast(highs, lows, closes []float64, period int) (float64, bool) {
	return lastValid(ATRSeries(highs, lows, closes, period))
}

// TrueRange 返回逐根真实波幅序列，首根以高低差代替。
func TrueRange(highs, lows, closes []float64) []float64 {
	n := len(closes)
	if n == 0 || len(highs) != n || len(lows) != n {
		return nil
	}
	out := make([]float64, n)
	out[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		out[i] = math.Max(hl, math.Max(hc, lc))
	}
	return out
}

// EMASpan 按 span 口径（alpha=2/(span+1)）做指数平滑，保持与信号管道一致。
func EMASpan(values []float64, span int) []float64 {
	if span <= 0 || len(values) == 0 {
		return nil
	}
	alpha := 2.0 / (float64(span) + 1.0)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// ATRSpanLast 返回真实波幅的 span 平滑最新值（趋势阈值使用该口径）。
func ATRSpanLast(highs, lows, closes []float64, span int) (float64, bool) {
	tr := TrueRange(highs, lows, closes)
	if len(tr) < span {
		return 0, false
	}
	return lastValid(EMASpan(tr, span))
}

// ADXSeries 返回 Wilder 平滑的 ADX 序列。
func ADXSeries(highs, lows, closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < 2*period {
		return nil
	}
	if len(highs) != len(closes) || len(lows) != len(closes) {
		return nil
	}
	return trimLeadingZeros(sanitizeSeries(talib.Adx(highs, lows, closes, period)))
}

// ADXLast 返回最新 ADX 值。
func ADXLast(highs, lows, closes []float64, period int) (float64, bool) {
	return lastValid(ADXSeries(highs, lows, closes, period))
}

// MACDLast 返回 MACD 线/信号线/柱的最新值。
func MACDLast(closes []float64, fast, slow, signalPeriod int) (macd, signal, hist float64, ok bool) {
	if fast <= 0 || slow <= fast || signalPeriod <= 0 || len(closes) < slow+signalPeriod {
		return 0, 0, 0, false
	}
	m, s, h := talib.Macd(closes, fast, slow, signalPeriod)
	macd, okM := lastValid(trimLeadingZeros(sanitizeSeries(m)))
	signal, okS := lastValid(trimLeadingZeros(sanitizeSeries(s)))
	hist, okH := lastValid(sanitizeSeries(h))
	return macd, signal, hist, okM && okS && okH
}

// BBands 返回布林带上/中/下轨序列。
func BBands(closes []float64, period int, stdDev float64) (upper, middle, lower []float64) {
	if period <= 0 || len(closes) < period {
		return nil, nil, nil
	}
	u, m, l := talib.BBands(closes, period, stdDev, stdDev, talib.SMA)
	return sanitizeSeries(u), sanitizeSeries(m), sanitizeSeries(l)
}

// BandWidthSeries 返回布林带相对宽度 (上轨-下轨)/中轨 序列，挤压判定使用。
func BandWidthSeries(closes []float64, period int, stdDev float64) []float64 {
	upper, middle, lower := BBands(closes, period, stdDev)
	n := len(middle)
	if n == 0 || len(upper) != n || len(lower) != n {
		return nil
	}
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if middle[i] == 0 {
			continue
		}
		out = append(out, (upper[i]-lower[i])/middle[i])
	}
	return out
}

// Percentile 返回样本的 p 分位值（p 取 0~100，线性插值）。
func Percentile(values []float64, p float64) (float64, bool) {
	if len(values) == 0 || p < 0 || p > 100 {
		return 0, false
	}
	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sorted = append(sorted, v)
	}
	if len(sorted) == 0 {
		return 0, false
	}
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0], true
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo], true
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac, true
}

func sanitizeSeries(src []float64) []float64 {
	out := make([]float64, 0, len(src))
	for _, v := range src {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// trimLeadingZeros drops TALib's zero-seeded warm-up values.
func trimLeadingZeros(series []float64) []float64 {
	start := 0
	for start < len(series) && almostZero(series[start]) {
		start++
	}
	return series[start:]
}

func almostZero(v float64) bool {
	return math.Abs(v) <= 1e-9
}

func lastValid(series []float64) (float64, bool) {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i], true
		}
	}
	return 0, false
}

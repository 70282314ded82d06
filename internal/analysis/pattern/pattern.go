// Package pattern 对K线序列做轻量形态识别：线性回归趋势、双顶双底、
// 三角收敛与波动压缩。结论以中文短语输出，供顾问提示词引用。
package pattern

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"crest/internal/market"
)

const (
	// 两个极值视为同级的相对差。
	twinTolerance = 0.004
	// 后半段振幅低于前半段的这一比例时视为波动压缩。
	squeezeShrink = 0.65
	// 三角收敛要求的最小宽度变化（相对前半段高点）。
	triangleMinDelta = 0.05
)

// Observation 一次形态扫描的结论。Bias 为空表示未做扫描，
// Patterns 为空表示扫描过但没有显著形态。
type Observation struct {
	TrendLine string   `json:"trend_line"`
	Bias      string   `json:"bias"`
	Patterns  []string `json:"patterns"`
}

// Summary 把形态列表折叠成一句话。
func (o Observation) Summary() string {
	if len(o.Patterns) == 0 {
		return "未发现显著形态"
	}
	return strings.Join(o.Patterns, "；")
}

// Analyze 扫描给定K线序列，序列为空时返回零值。
func Analyze(candles market.Candles) Observation {
	if len(candles) == 0 {
		return Observation{}
	}
	closes := candles.Closes()
	highs := candles.Highs()
	lows := candles.Lows()

	slope, intercept := linearFit(closes)
	obs := Observation{
		TrendLine: describeTrendLine(slope, intercept, closes),
		Bias:      classifyBias(slope),
	}
	if desc, ok := doubleBottom(lows); ok {
		obs.Patterns = append(obs.Patterns, desc)
	}
	if desc, ok := doubleTop(highs); ok {
		obs.Patterns = append(obs.Patterns, desc)
	}
	if desc, ok := convergingTriangle(highs, lows); ok {
		obs.Patterns = append(obs.Patterns, desc)
	}
	if desc, ok := volatilityCompression(highs, lows); ok {
		obs.Patterns = append(obs.Patterns, desc)
	}
	return obs
}

func linearFit(series []float64) (slope, intercept float64) {
	if len(series) == 0 {
		return 0, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	n := float64(len(series))
	for i, y := range series {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, series[len(series)-1]
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

func classifyBias(slope float64) string {
	const deadband = 0.0001
	switch {
	case slope > deadband:
		return "bullish"
	case slope < -deadband:
		return "bearish"
	default:
		return "balanced"
	}
}

func describeTrendLine(slope, intercept float64, closes []float64) string {
	last := closes[len(closes)-1]
	ref := intercept + slope*float64(len(closes)-1)
	angle := math.Atan(slope) * 180 / math.Pi
	return fmt.Sprintf("回归斜率 %.6f（%.2f°），现价较基线偏移 %+.2f%%", slope, angle, (last-ref)/ref*100)
}

func doubleBottom(lows []float64) (string, bool) {
	if len(lows) < 20 {
		return "", false
	}
	level, ok := twinLevel(lows[len(lows)/2:], true)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("近段出现双底，支撑约 %.2f", level), true
}

func doubleTop(highs []float64) (string, bool) {
	if len(highs) < 20 {
		return "", false
	}
	level, ok := twinLevel(highs[len(highs)/2:], false)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("双顶压制在 %.2f 附近", level), true
}

// twinLevel 在窗口内找两个相近的极值：先取全局极值，屏蔽其前后
// 两根K线后取次极值，两者相对差在容差内时返回均值。
func twinLevel(window []float64, pickMin bool) (float64, bool) {
	first, idx := extremum(window, pickMin)
	masked := slices.Clone(window)
	for i := idx - 2; i <= idx+2; i++ {
		if i < 0 || i >= len(masked) {
			continue
		}
		if pickMin {
			masked[i] = math.MaxFloat64
		} else {
			masked[i] = -math.MaxFloat64
		}
	}
	second, idx2 := extremum(masked, pickMin)
	if idx2 < 3 {
		return 0, false
	}
	if math.Abs(first-second)/math.Max(first, 1) > twinTolerance {
		return 0, false
	}
	return (first + second) / 2, true
}

func extremum(values []float64, pickMin bool) (float64, int) {
	best, idx := values[0], 0
	for i, v := range values[1:] {
		if (pickMin && v < best) || (!pickMin && v > best) {
			best, idx = v, i+1
		}
	}
	return best, idx
}

func convergingTriangle(highs, lows []float64) (string, bool) {
	if len(highs) < 30 {
		return "", false
	}
	half := len(highs) / 2
	firstHigh, lastHigh := slices.Max(highs[:half]), slices.Max(highs[half:])
	firstLow, lastLow := slices.Min(lows[:half]), slices.Min(lows[half:])
	if lastHigh >= firstHigh || lastLow <= firstLow {
		return "", false
	}
	shrink := (firstHigh - firstLow) - (lastHigh - lastLow)
	if shrink/firstHigh <= triangleMinDelta {
		return "", false
	}
	return "高低点同步收敛，疑似对称三角整理", true
}

func volatilityCompression(highs, lows []float64) (string, bool) {
	if len(highs) < 40 {
		return "", false
	}
	half := len(highs) / 2
	firstRange := (slices.Max(highs[:half]) - slices.Min(lows[:half])) / slices.Max(highs[:half])
	lastRange := (slices.Max(highs[half:]) - slices.Min(lows[half:])) / slices.Max(highs[half:])
	if lastRange >= firstRange*squeezeShrink {
		return "", false
	}
	return "波动率快速收缩，关注突破方向", true
}

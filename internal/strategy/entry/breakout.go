package entry

import (
	"fmt"
	"time"

	"crest/internal/analysis/indicator"
	"crest/internal/market"
	"crest/internal/regime"
	"crest/internal/types"
)

// DetectBreakout 检查最近收盘的 K 线是否在布林带挤压后向宏观
// 方向突破。命中开启一级进攻窗口并进入冷却期；已有任何窗口时
// 本检测不工作。
func (e *Engine) DetectBreakout(closed market.Candles, filter market.Candles, now time.Time) (Window, bool) {
	if _, active := e.ActiveWindow(now); active {
		return Window{}, false
	}
	bc := e.cfg.Breakout
	if !e.lastBreakoutAt.IsZero() && now.Sub(e.lastBreakoutAt) < bc.CooldownDuration() {
		return Window{}, false
	}

	closes := closed.Closes()
	upper, _, lower := indicator.BBands(closes, bc.BBPeriod, bc.BBStdDev)
	n := len(closes)
	if n < bc.BBPeriod+1 || len(upper) != n || len(lower) != n {
		return Window{}, false
	}
	last, ok := closed.Last(1)
	if !ok {
		return Window{}, false
	}

	var dir regime.Trend
	var side types.Side
	switch {
	case upper[n-1] > 0 && last.Close > upper[n-1]:
		dir, side = regime.TrendUp, types.SideLong
	case lower[n-1] > 0 && last.Close < lower[n-1]:
		dir, side = regime.TrendDown, types.SideShort
	default:
		return Window{}, false
	}

	if !e.squeezedBefore(closes) {
		return Window{}, false
	}
	bias, _, okF := e.cls.FilterBias(filter)
	if !okF || !bias.Allows(dir) {
		return Window{}, false
	}
	if bc.ConfirmVolume {
		mult := e.cls.DynamicVolumeMultiplier(closed)
		if !e.cls.ConfirmVolume(closed, mult) {
			return Window{}, false
		}
	}
	if bc.ConfirmRSI && !e.cls.ConfirmRSI(closed, dir) {
		return Window{}, false
	}

	e.lastBreakoutAt = now
	w := Window{
		Level:     WindowBreakout,
		Side:      side,
		Reason:    types.ReasonBreakoutPullback,
		ArmedAt:   now,
		ExpiresAt: now.Add(bc.WindowDuration()),
	}
	e.arm(w, fmt.Sprintf("收盘 %.4f 突破布林 %s 轨", last.Close, sideBand(side)))
	return w, true
}

// squeezedBefore 判断突破前一根 K 线的带宽是否落在回看窗口的
// 低分位内。样本不足一个完整回看窗口时不认定挤压。
func (e *Engine) squeezedBefore(closes []float64) bool {
	bc := e.cfg.Breakout
	widths := indicator.BandWidthSeries(closes, bc.BBPeriod, bc.BBStdDev)
	if len(widths) < bc.SqueezeLookback+1 {
		return false
	}
	prev := widths[len(widths)-2]
	window := widths[len(widths)-1-bc.SqueezeLookback : len(widths)-1]
	threshold, ok := indicator.Percentile(window, bc.SqueezePercentile)
	if !ok {
		return false
	}
	return prev <= threshold
}

func sideBand(side types.Side) string {
	if side == types.SideLong {
		return "上"
	}
	return "下"
}

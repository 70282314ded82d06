package performance

import (
	"math"

	"crest/internal/config"
)

// WinRate 胜率（百分比）。没有任何成交时不可用。
func (t *Tracker) WinRate() (float64, bool) {
	total := len(t.st.Trades)
	if total == 0 {
		return 0, false
	}
	wins := 0
	for _, rec := range t.st.Trades {
		if rec.Win() {
			wins++
		}
	}
	return float64(wins) / float64(total) * 100, true
}

// PayoffRatio 盈亏比：平均盈利 / 平均亏损绝对值。
// 没有亏损时返回 999，没有盈利时返回 0。
func (t *Tracker) PayoffRatio() (float64, bool) {
	if len(t.st.Trades) == 0 {
		return 0, false
	}
	var winSum, lossSum float64
	var winN, lossN int
	for _, rec := range t.st.Trades {
		switch {
		case rec.NetPnL > 0:
			winSum += rec.NetPnL
			winN++
		case rec.NetPnL < 0:
			lossSum += rec.NetPnL
			lossN++
		}
	}
	if lossN == 0 {
		return 999, true
	}
	if winN == 0 {
		return 0, true
	}
	avgWin := winSum / float64(winN)
	avgLoss := math.Abs(lossSum / float64(lossN))
	if avgLoss == 0 {
		return 999, true
	}
	return avgWin / avgLoss, true
}

// MaxDrawdown 净值曲线的最大回撤（百分比）。点数不足两个时不可用。
func (t *Tracker) MaxDrawdown() (float64, bool) {
	if len(t.st.Equity) < 2 {
		return 0, false
	}
	peak := math.Inf(-1)
	maxDD := 0.0
	for _, snap := range t.st.Equity {
		if snap.Equity > peak {
			peak = snap.Equity
		}
		if peak > 0 {
			if dd := (peak - snap.Equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD * 100, true
}

// Score 综合表现得分 [0,1]：胜率、盈亏比（sigmoid 压缩）与回撤加权。
// 成交笔数不足评估门槛时不可用。
func (t *Tracker) Score() (float64, bool) {
	if len(t.st.Trades) < t.cfg.MinTrades {
		return 0, false
	}
	wr, ok := t.WinRate()
	if !ok {
		return 0, false
	}
	pr, ok := t.PayoffRatio()
	if !ok {
		return 0, false
	}
	dd, ok := t.MaxDrawdown()
	if !ok {
		return 0, false
	}
	score := wr/100*t.cfg.WeightWinRate +
		sigmoid(2*(pr-1.5))*t.cfg.WeightPayoff +
		(1-dd/100)*t.cfg.WeightDrawdown
	return clamp01(score), true
}

func sigmoid(x float64) float64 {
	if x > 5 {
		x = 5
	}
	if x < -5 {
		x = -5
	}
	return 1 / (1 + math.Exp(-x))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Tunables 绩效反馈产出的三个动态参数。
type Tunables struct {
	ZonePct      float64
	TrailATRMult float64
	PyramidStep  float64
}

// Interpolate 在防御与激进档位之间按得分线性取值，得分越高越靠近激进端。
func Interpolate(cfg config.PerformanceConfig, score float64) Tunables {
	lerp := func(agg, def float64) float64 { return def + (agg-def)*score }
	return Tunables{
		ZonePct:      lerp(cfg.Aggressive.ZonePct, cfg.Defensive.ZonePct),
		TrailATRMult: lerp(cfg.Aggressive.TrailATRMult, cfg.Defensive.TrailATRMult),
		PyramidStep:  lerp(cfg.Aggressive.PyramidStep, cfg.Defensive.PyramidStep),
	}
}

// Midpoint 档位中点，交易历史不足以评分时的初始参数。
func Midpoint(cfg config.PerformanceConfig) Tunables {
	return Interpolate(cfg, 0.5)
}

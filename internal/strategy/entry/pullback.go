package entry

import (
	"time"

	"crest/internal/analysis/indicator"
	"crest/internal/logger"
	"crest/internal/market"
	"crest/internal/regime"
	"crest/internal/types"
)

// ScanPullback 在已确认趋势方向上扫描回调入场。机会区是快慢 EMA
// 走廊在两侧按 zonePct（百分比）外扩后的区间，进攻窗口激活时外扩
// 倍数放大。常规模式下还需通过动量与回调质量两道过滤；窗口激活
// 时两道过滤跳过。命中时窗口被兑现关闭，入场原因按窗口等级命名。
func (e *Engine) ScanPullback(trend regime.Trend, closed market.Candles, price float64, zonePct float64, now time.Time) (Signal, bool) {
	if !trend.Directional() || price <= 0 || zonePct <= 0 {
		return Signal{}, false
	}

	closes := closed.Closes()
	fast, okF := indicator.EMALast(closes, e.rcfg.FastMA)
	slow, okS := indicator.EMALast(closes, e.rcfg.SlowMA)
	if !okF || !okS || fast <= 0 || slow <= 0 {
		return Signal{}, false
	}

	window, active := e.ActiveWindow(now)
	modeName := "常规"
	if active {
		zonePct *= e.zoneMult(window)
		if window.Level == WindowSpike {
			modeName = "超级激进"
		} else {
			modeName = "激进"
		}
	}

	lowEMA, highEMA := fast, slow
	if lowEMA > highEMA {
		lowEMA, highEMA = highEMA, lowEMA
	}
	zone := zonePct / 100
	bandLow := lowEMA * (1 - zone)
	bandHigh := highEMA * (1 + zone)

	logger.Debugf("回调检查 (模式: %s): 价格=%.4f | 机会区=%s", modeName, price, fmtRange(bandLow, bandHigh))
	if price < bandLow || price > bandHigh {
		return Signal{}, false
	}

	if !active {
		if !e.momentumAligned(closes, trend) {
			logger.Debugf("回调放弃: RSI 动量未与 %s 对齐", trend)
			return Signal{}, false
		}
		if !e.pullbackQualityOK(closed, trend) {
			logger.Infof("回调放弃: 回调段量能高于推动段，疑似反转而非回调")
			return Signal{}, false
		}
	}

	reason := types.ReasonPullback
	if active {
		reason = window.Reason
		e.ClearWindow()
	}
	side := trend.Side()
	logger.Infof("📈 %s 回调入场信号 (%s): 价格 %.4f 进入机会区 %s", side, reason, price, fmtRange(bandLow, bandHigh))
	return Signal{Side: side, Reason: reason, Price: price, BandLow: bandLow, BandHigh: bandHigh}, true
}

// momentumAligned 最近 K 个 RSI 值沿趋势方向严格单调。
func (e *Engine) momentumAligned(closes []float64, trend regime.Trend) bool {
	k := e.cfg.Pullback.MomentumCandles
	if k < 2 {
		return true
	}
	rsi := indicator.RSISeries(closes, e.rcfg.RSIPeriod)
	if len(rsi) < k {
		return false
	}
	tail := rsi[len(rsi)-k:]
	for i := 1; i < len(tail); i++ {
		if trend == regime.TrendUp && tail[i] <= tail[i-1] {
			return false
		}
		if trend == regime.TrendDown && tail[i] >= tail[i-1] {
			return false
		}
	}
	return true
}

// pullbackQualityOK 用量能对比判断回调质量：自最近一次快慢 EMA
// 交叉以来，以价格极值把区间分成推动段与回调段，回调段平均量能
// 不得高于推动段的指定比例。无交叉或分段退化时过滤不生效。
func (e *Engine) pullbackQualityOK(closed market.Candles, trend regime.Trend) bool {
	closes := closed.Closes()
	n := len(closes)
	fast := indicator.EMASeries(closes, e.rcfg.FastMA)
	slow := indicator.EMASeries(closes, e.rcfg.SlowMA)

	// 两条 EMA 序列都与 closes 尾部对齐，取重叠段求差
	m := len(fast)
	if len(slow) < m {
		m = len(slow)
	}
	if m < 2 || m > n {
		return true
	}
	diff := make([]float64, m)
	for j := 0; j < m; j++ {
		diff[j] = fast[len(fast)-m+j] - slow[len(slow)-m+j]
	}

	cross := -1
	for j := m - 1; j > 0; j-- {
		if (diff[j-1] <= 0 && diff[j] > 0) || (diff[j-1] >= 0 && diff[j] < 0) {
			cross = n - m + j
			break
		}
	}
	if cross < 0 {
		return true
	}

	ext := cross
	if trend == regime.TrendUp {
		highs := closed.Highs()
		for i := cross; i < n; i++ {
			if highs[i] > highs[ext] {
				ext = i
			}
		}
	} else {
		lows := closed.Lows()
		for i := cross; i < n; i++ {
			if lows[i] < lows[ext] {
				ext = i
			}
		}
	}

	vols := closed.Volumes()
	impulse := vols[cross : ext+1]
	retrace := vols[ext+1 : n]
	if len(impulse) == 0 || len(retrace) == 0 {
		return true
	}
	impulseAvg := mean(impulse)
	if impulseAvg <= 0 {
		return true
	}
	ratio := mean(retrace) / impulseAvg
	return ratio <= e.cfg.Pullback.QualityMaxRatio
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

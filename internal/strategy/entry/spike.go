package entry

import (
	"fmt"
	"time"

	"crest/internal/analysis/indicator"
	"crest/internal/market"
	"crest/internal/regime"
	"crest/internal/types"
)

// DetectSpike 检查正在形成的 K 线是否构成放量尖峰：实体超过
// ATR 的指定倍数且成交量超过均量的指定倍数，方向与宏观过滤一致。
// 命中开启二级进攻窗口，已有的一级窗口被覆盖。
func (e *Engine) DetectSpike(closed market.Candles, forming market.Candle, filter market.Candles, now time.Time) (Window, bool) {
	sc := e.cfg.Spike
	e.lastSpike = SpikeDiag{Status: "Monitoring"}

	atr, okA := indicator.ATRLast(closed.Highs(), closed.Lows(), closed.Closes(), sc.ATRPeriod)
	vma, okV := indicator.MeanLast(closed.Volumes(), e.rcfg.VolumeMAPeriod)
	if !okA || !okV || atr <= 0 || vma <= 0 {
		e.lastSpike.Status = "Not enough data"
		return Window{}, false
	}

	body := forming.Body()
	bodyThreshold := atr * sc.BodyATRMult
	e.lastSpike.Body = body
	e.lastSpike.BodyThreshold = bodyThreshold
	if body < bodyThreshold {
		e.lastSpike.Status = "Body too small"
		return Window{}, false
	}

	volThreshold := vma * sc.VolumeMult
	e.lastSpike.Volume = forming.Volume
	e.lastSpike.VolumeThreshold = volThreshold
	if forming.Volume < volThreshold {
		e.lastSpike.Status = "Volume too low"
		return Window{}, false
	}

	dir := regime.TrendUp
	side := types.SideLong
	if !forming.Bullish() {
		dir = regime.TrendDown
		side = types.SideShort
	}
	bias, _, okF := e.cls.FilterBias(filter)
	if !okF {
		e.lastSpike.Status = "Filter unavailable"
		return Window{}, false
	}
	if !bias.Allows(dir) {
		e.lastSpike.Status = "Against macro filter"
		return Window{}, false
	}

	e.lastSpike.Status = "Spike window armed"
	w := Window{
		Level:     WindowSpike,
		Side:      side,
		Reason:    types.ReasonSpikePullback,
		ArmedAt:   now,
		ExpiresAt: now.Add(sc.WindowDuration()),
	}
	e.arm(w, fmt.Sprintf("尖峰实体 %.4f >= %.4f, 量能 %.0f >= %.0f", body, bodyThreshold, forming.Volume, volThreshold))
	return w, true
}

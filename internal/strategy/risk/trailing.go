package risk

import (
	"fmt"
	"time"

	"crest/internal/analysis/indicator"
	"crest/internal/logger"
	"crest/internal/market"
	"crest/internal/position"
)

// ManageStops 执行持仓期的止损维护：
//  1. 浮盈达到晋升倍数时升级为吊灯模式（阶段2）；
//  2. 阶段尚未保本锁定时检查 ADX 衰竭，确认后把止损移至保本价（阶段1.5）；
//  3. 按阶段计算追踪止损候选价并尝试有利方向更新，
//     两次候选计算之间有最小间隔限制。
//
// filter 为过滤周期（默认15m）的已收盘K线，所有 ATR 与极值都取自它。
func (e *Engine) ManageStops(filter market.Candles, price float64, now time.Time) {
	if !e.ledger.IsOpen() || price <= 0 {
		return
	}
	pos := e.ledger.Snapshot()
	riskUnit := pos.InitialRiskPerUnit
	if riskUnit <= 0 {
		logger.Debugf("初始风险(1R)为0，跳过追踪止损")
		return
	}

	pnlPerUnit := profitPerUnit(pos, price)
	profitR := pnlPerUnit / riskUnit

	if pos.StopStage < position.StageExtremum && profitR >= e.cfg.PromotionR {
		if e.ledger.AdvanceStage(position.StageExtremum) {
			e.sendText(fmt.Sprintf("💡 %s 止损策略升级为吊灯模式\n浮动盈利已达 %.2fR，超过 %.2fR 门槛。",
				e.ledger.Symbol(), profitR, e.cfg.PromotionR))
			pos = e.ledger.Snapshot()
		}
	}

	if pos.StopStage < position.StageBreakEven && e.adxExhausted(filter) {
		be := pos.BreakEven()
		if be > 0 {
			logger.Warnf("⚠️ ADX 连续回落，趋势疑似衰竭，尝试把止损锁到保本价 %.4f", be)
			e.ledger.UpdateStop(be, "Exhaustion Break-even")
		}
		// 止损已优于保本价时同样推进阶段，避免反复触发
		e.ledger.AdvanceStage(position.StageBreakEven)
		pos = e.ledger.Snapshot()
	}

	if !e.lastTrailEval.IsZero() && now.Sub(e.lastTrailEval) < e.cfg.StopUpdateInterval() {
		return
	}
	e.lastTrailEval = now

	if pos.StopStage >= position.StageExtremum {
		e.chandelierTrail(pos, filter)
		return
	}
	if pnlPerUnit < riskUnit*e.cfg.Stage1ActivationR {
		logger.Debugf("止损阶段 %v: 浮盈 %.4f 未达到激活门槛 %.4f，暂不移动止损",
			pos.StopStage, pnlPerUnit, riskUnit*e.cfg.Stage1ActivationR)
		return
	}
	e.atrTrail(pos, filter, price)
}

// atrTrail 阶段一：以现价为锚的 ATR 追踪，波动放大时自适应加宽。
func (e *Engine) atrTrail(pos position.Position, filter market.Candles, price float64) {
	highs, lows, closes := filter.Highs(), filter.Lows(), filter.Closes()
	atr, ok := indicator.ATRLast(highs, lows, closes, e.cfg.TrailATRPeriod)
	if !ok || atr <= 0 {
		logger.Warnf("ATR 数据不足，本次不更新追踪止损")
		return
	}
	mult := e.widenedMult(highs, lows, closes)
	candidate := offsetStop(pos.Side, price, atr*mult)
	logger.Infof("止损计算 (ATR Trailing): 当前SL=%.4f, 计算SL=%.4f | 市价=%.4f, ATR=%.4f, 乘数=%.2f",
		pos.StopLoss, candidate, price, atr, mult)
	e.ledger.UpdateStop(candidate, "ATR Trailing")
}

// widenedMult 短期波动高于长期时按比值放宽追踪乘数，上限为基准的固定倍数。
func (e *Engine) widenedMult(highs, lows, closes []float64) float64 {
	base := e.tuning.TrailATRMult
	short, okS := indicator.ATRLast(highs, lows, closes, e.cfg.WidenATRShort)
	long, okL := indicator.ATRLast(highs, lows, closes, e.cfg.WidenATRLong)
	if !okS || !okL || long <= 0 || short <= long {
		return base
	}
	mult := base * (short / long)
	if limit := base * e.cfg.AdaptiveWidenCap; mult > limit {
		mult = limit
	}
	return mult
}

// chandelierTrail 阶段二：吊灯止损，以近段极值回撤固定 ATR 倍数。
func (e *Engine) chandelierTrail(pos position.Position, filter market.Candles) {
	highs, lows, closes := filter.Highs(), filter.Lows(), filter.Closes()
	atr, ok := indicator.ATRLast(highs, lows, closes, e.cfg.TrailATRPeriod)
	if !ok || atr <= 0 || len(filter) < e.cfg.ChandelierPeriod {
		logger.Warnf("吊灯止损计算数据不足，跳过本次更新")
		return
	}

	window := filter[len(filter)-e.cfg.ChandelierPeriod:]
	var candidate float64
	var detail string
	if pos.Side.Sign() > 0 {
		highest := window[0].High
		for _, c := range window {
			if c.High > highest {
				highest = c.High
			}
		}
		candidate = offsetStop(pos.Side, highest, atr*e.cfg.ChandelierATRMult)
		detail = fmt.Sprintf("%d周期最高价=%.4f", e.cfg.ChandelierPeriod, highest)
	} else {
		lowest := window[0].Low
		for _, c := range window {
			if c.Low < lowest {
				lowest = c.Low
			}
		}
		candidate = offsetStop(pos.Side, lowest, atr*e.cfg.ChandelierATRMult)
		detail = fmt.Sprintf("%d周期最低价=%.4f", e.cfg.ChandelierPeriod, lowest)
	}
	logger.Infof("止损计算 (Chandelier Exit): 当前SL=%.4f, 计算SL=%.4f | %s, ATR=%.4f",
		pos.StopLoss, candidate, detail, atr)
	e.ledger.UpdateStop(candidate, "Chandelier Exit")
}

// adxExhausted 判断过滤周期 ADX 是否在越过强趋势线后连续回落。
func (e *Engine) adxExhausted(filter market.Candles) bool {
	falls := e.cfg.ExhaustionFallPeriods
	if falls < 1 {
		e.lastExhaust = ExhaustDiag{Status: "Not Active"}
		return false
	}
	series := indicator.ADXSeries(filter.Highs(), filter.Lows(), filter.Closes(), e.adxPeriod)
	if len(series) < falls+1 {
		e.lastExhaust = ExhaustDiag{Status: "Not enough data"}
		return false
	}
	tail := series[len(series)-falls-1:]
	diag := ExhaustDiag{ADX: tail[len(tail)-1]}
	if tail[0] <= e.cfg.ExhaustionADXLevel {
		diag.Status = "Not Active"
		e.lastExhaust = diag
		return false
	}
	for i := 1; i < len(tail); i++ {
		if tail[i] >= tail[i-1] {
			diag.Status = "Active"
			e.lastExhaust = diag
			return false
		}
	}
	diag.Status = "Exhaustion confirmed"
	diag.IsFalling = true
	e.lastExhaust = diag
	return true
}

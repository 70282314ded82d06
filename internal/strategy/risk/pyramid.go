package risk

import (
	"fmt"

	"crest/internal/analysis/indicator"
	"crest/internal/logger"
	"crest/internal/market"
	"crest/internal/regime"
	"crest/internal/types"
)

// AddPlan 一次计划中的金字塔加仓，由交易循环提交、确认成交后
// 再写回账本。
type AddPlan struct {
	Side    types.Side
	Size    float64
	Seq     int
	TargetR float64
}

// PlanPyramid 判断是否满足浮盈加仓条件。门槛随加仓次数抬高：
// 第 n 次加仓要求每单位浮盈达到 riskUnit × 动态触发倍数 × n。
// 数量为上一笔成交的固定比例，不低于交易所最小下单量。
func (e *Engine) PlanPyramid(trend regime.Trend, price float64) (AddPlan, bool) {
	if !e.ledger.IsOpen() || price <= 0 {
		return AddPlan{}, false
	}
	pos := e.ledger.Snapshot()
	if pos.AddCount() >= e.cfg.PyramidMaxAdds {
		return AddPlan{}, false
	}
	if !trend.Agrees(pos.Side) {
		logger.Debugf("加仓检查: 趋势(%s)与持仓(%s)不符，取消加仓", trend, pos.Side)
		return AddPlan{}, false
	}
	riskUnit := pos.InitialRiskPerUnit
	if riskUnit <= 0 {
		logger.Warnf("初始风险(1R)为0，无法计算加仓目标")
		return AddPlan{}, false
	}

	seq := pos.AddCount() + 1
	targetR := e.tuning.PyramidTrigger * float64(seq)
	if profitPerUnit(pos, price) < riskUnit*targetR {
		return AddPlan{}, false
	}

	last, ok := pos.LastEntry()
	if !ok {
		return AddPlan{}, false
	}
	size := scaleSize(last.Size, e.cfg.PyramidSizeRatio)
	if e.minTradeSize > 0 && size < e.minTradeSize {
		size = e.minTradeSize
	}
	if size <= 0 {
		return AddPlan{}, false
	}

	logger.Infof("✅ 满足第 %d 次加仓条件！浮动盈利已达到目标 %.2fR", seq, targetR)
	return AddPlan{Side: pos.Side, Size: size, Seq: seq, TargetR: targetR}, true
}

// SecureAfterAdd 加仓成交后重设止损：在保本价与按现价新算的
// ATR 追踪价之间取对持仓更有利的一个。
func (e *Engine) SecureAfterAdd(filter market.Candles, price float64) {
	if !e.ledger.IsOpen() || price <= 0 {
		return
	}
	pos := e.ledger.Snapshot()
	breakEven := pos.BreakEven()

	atrStop := 0.0
	if atr, ok := indicator.ATRLast(filter.Highs(), filter.Lows(), filter.Closes(), e.cfg.TrailATRPeriod); ok && atr > 0 {
		atrStop = offsetStop(pos.Side, price, atr*e.tuning.TrailATRMult)
	}

	final := preferStop(pos.Side, breakEven, atrStop)
	if final <= 0 {
		return
	}
	logger.Infof("加仓后，比较保本点(%.4f)与ATR止损(%.4f)，选择更优的(%.4f)作为新止损",
		breakEven, atrStop, final)
	e.ledger.UpdateStop(final, "Pyramiding Secure")

	e.sendText(fmt.Sprintf("➕ %s 浮盈加仓成功 (%d/%d)\n方向: %s\n平均成本: %.4f\n总仓位: %.5f",
		e.ledger.Symbol(), pos.AddCount(), e.cfg.PyramidMaxAdds, pos.Side, pos.AvgPrice(), pos.Size()))
}

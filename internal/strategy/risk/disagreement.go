package risk

import (
	"time"

	"crest/internal/analysis/indicator"
	"crest/internal/logger"
	"crest/internal/market"
	"crest/internal/regime"
	"crest/internal/types"
)

// DisagreementAction 趋势分歧处置结果。
type DisagreementAction int

const (
	// DisagreementNone 无需处置。
	DisagreementNone DisagreementAction = iota
	// DisagreementPartial 应执行一次部分减仓，由交易循环下单。
	DisagreementPartial
	// DisagreementTightened 已直接收紧止损。
	DisagreementTightened
)

// DisagreementResult 处置结果。Action 为 DisagreementPartial 时
// Fraction 给出应平掉的仓位比例。
type DisagreementResult struct {
	Action   DisagreementAction
	Fraction float64
}

// CheckDisagreement 维护趋势分歧计数：趋势明确反向时累加，恢复
// 一致时清零，无方向状态保持不变。计数达到阈值后，若尚未用过
// 部分减仓且减仓后剩余不低于交易所最小数量，则要求部分减仓；
// 否则直接防御性收紧止损。尖峰回调入场在宽限期内豁免检查。
func (e *Engine) CheckDisagreement(trend regime.Trend, filter market.Candles, price float64, now time.Time) DisagreementResult {
	none := DisagreementResult{Action: DisagreementNone}
	if !e.ledger.IsOpen() || price <= 0 {
		e.disagreeCount = 0
		return none
	}
	pos := e.ledger.Snapshot()

	if pos.EntryReason == types.ReasonSpikePullback && e.spikeGrace > 0 &&
		now.Sub(time.UnixMilli(pos.OpenedAtMS)) < e.spikeGrace {
		logger.Debugf("尖峰信号入场宽限期内，跳过趋势分歧检查")
		e.disagreeCount = 0
		return none
	}

	switch {
	case trend.Agrees(pos.Side):
		if e.disagreeCount > 0 {
			logger.Infof("趋势已恢复与持仓方向一致，重置分歧计数器")
			e.disagreeCount = 0
		}
		return none
	case trend.Opposes(pos.Side):
		e.disagreeCount++
		logger.Infof("持仓方向(%s)与趋势(%s)不符，确认计数: %d/%d",
			pos.Side, trend, e.disagreeCount, e.cfg.DisagreementMax)
	default:
		// 横盘或不确定状态既不累加也不清零
		return none
	}

	if e.disagreeCount < e.cfg.DisagreementMax {
		return none
	}

	remaining := scaleSize(pos.Size(), 1-e.cfg.PartialFraction)
	if pos.PartialExitCount == 0 && (e.minTradeSize <= 0 || remaining >= e.minTradeSize) {
		logger.Warnf("趋势已连续 %d 次与持仓方向不符，执行部分减仓降低风险！", e.cfg.DisagreementMax)
		e.disagreeCount = 0
		return DisagreementResult{Action: DisagreementPartial, Fraction: e.cfg.PartialFraction}
	}

	atr, ok := indicator.ATRLast(filter.Highs(), filter.Lows(), filter.Closes(), e.cfg.TrailATRPeriod)
	if !ok || atr <= 0 {
		// 计数保留，下个周期重试
		logger.Warnf("无法获取ATR数据，本次无法调整止损")
		return none
	}
	logger.Warnf("趋势已连续 %d 次与持仓方向不符，触发防御性止损！", e.cfg.DisagreementMax)
	candidate := offsetStop(pos.Side, price, atr*e.cfg.DefensiveATRMult)
	e.ledger.UpdateStop(candidate, "Defensive Adjustment")
	e.disagreeCount = 0
	return DisagreementResult{Action: DisagreementTightened}
}

// DefensiveTighten 部分减仓落地失败（取整后不满足交易所最小数量等）
// 时的兜底：按防御倍数直接收紧止损。
func (e *Engine) DefensiveTighten(filter market.Candles, price float64) {
	if !e.ledger.IsOpen() || price <= 0 {
		return
	}
	atr, ok := indicator.ATRLast(filter.Highs(), filter.Lows(), filter.Closes(), e.cfg.TrailATRPeriod)
	if !ok || atr <= 0 {
		logger.Warnf("无法获取ATR数据，本次无法调整止损")
		return
	}
	pos := e.ledger.Snapshot()
	e.ledger.UpdateStop(offsetStop(pos.Side, price, atr*e.cfg.DefensiveATRMult), "Defensive Adjustment")
}

// SecurePartial 部分减仓成交后把止损移至保本价。
func (e *Engine) SecurePartial() {
	if !e.ledger.IsOpen() {
		return
	}
	pos := e.ledger.Snapshot()
	be := pos.BreakEven()
	if be <= 0 {
		return
	}
	e.ledger.UpdateStop(be, "Partial De-risk")
}

// Package risk 实现持仓期的风控引擎：两阶段移动止损、ADX 衰竭锁利、
// 浮盈金字塔加仓和趋势分歧处置。引擎只对账本做有利方向的修改，
// 需要下单的决定（加仓、部分减仓）以计划形式交还交易循环执行。
package risk

import (
	"time"

	"crest/internal/config"
	"crest/internal/gateway/notifier"
	"crest/internal/logger"
	"crest/internal/position"
	"crest/internal/types"
)

// Tuning 绩效反馈驱动的动态参数，由绩效档位插值产生。
type Tuning struct {
	TrailATRMult   float64
	PyramidTrigger float64
}

// ExhaustDiag 趋势衰竭预警的过程数据，供状态接口展示。
type ExhaustDiag struct {
	Status    string  `json:"status"`
	ADX       float64 `json:"adx_value"`
	IsFalling bool    `json:"is_falling"`
}

// Engine 单品种风控引擎。非并发安全，由品种交易循环独占。
type Engine struct {
	cfg        config.RiskConfig
	adxPeriod  int
	spikeGrace time.Duration

	ledger *position.Ledger
	notify notifier.TextNotifier

	tuning        Tuning
	minTradeSize  float64
	disagreeCount int
	lastTrailEval time.Time
	lastExhaust   ExhaustDiag
}

// New 创建风控引擎。动态参数初始化为进攻/防守档位的中点，
// 绩效评估后由 SetTuning 覆盖。
func New(cfg *config.Config, ledger *position.Ledger) *Engine {
	agg, def := cfg.Performance.Aggressive, cfg.Performance.Defensive
	return &Engine{
		cfg:        cfg.Risk,
		adxPeriod:  cfg.Regime.ADXPeriod,
		spikeGrace: cfg.Entry.Spike.GraceDuration(),
		ledger:     ledger,
		tuning: Tuning{
			TrailATRMult:   (agg.TrailATRMult + def.TrailATRMult) / 2,
			PyramidTrigger: (agg.PyramidStep + def.PyramidStep) / 2,
		},
		lastExhaust: ExhaustDiag{Status: "Not Active"},
	}
}

// SetNotifier 注入阶段升级等事件的通知通道，nil 表示只写日志。
func (e *Engine) SetNotifier(n notifier.TextNotifier) { e.notify = n }

// SetTuning 应用绩效反馈得到的动态参数。
func (e *Engine) SetTuning(t Tuning) {
	if t.TrailATRMult > 0 {
		e.tuning.TrailATRMult = t.TrailATRMult
	}
	if t.PyramidTrigger > 0 {
		e.tuning.PyramidTrigger = t.PyramidTrigger
	}
}

// Tuning 当前生效的动态参数。
func (e *Engine) Tuning() Tuning { return e.tuning }

// SetMinTradeSize 设置交易所允许的最小下单数量（0 表示未知）。
func (e *Engine) SetMinTradeSize(size float64) {
	if size > 0 {
		e.minTradeSize = size
	}
}

// DisagreeCount 当前趋势分歧累计次数。
func (e *Engine) DisagreeCount() int { return e.disagreeCount }

// ExhaustionDiagnostics 最近一次衰竭检查的过程数据。
func (e *Engine) ExhaustionDiagnostics() ExhaustDiag { return e.lastExhaust }

// Reset 平仓后清空引擎的周期状态。
func (e *Engine) Reset() {
	e.disagreeCount = 0
	e.lastTrailEval = time.Time{}
	e.lastExhaust = ExhaustDiag{Status: "Not Active"}
}

// CheckExit 判断价格是否触发离场，返回平仓原因。
// 止损优先于止盈检查。
func (e *Engine) CheckExit(price float64) (types.CloseReason, bool) {
	if !e.ledger.IsOpen() || price <= 0 {
		return "", false
	}
	pos := e.ledger.Snapshot()
	if priceBreachedStop(pos.Side, price, pos.StopLoss) {
		logger.Warnf("🚨 追踪止损离场: %s 仓位价格(%.4f)触及动态止损线(%.4f)", pos.Side, price, pos.StopLoss)
		return types.CloseTrailingStop, true
	}
	if priceReachedTarget(pos.Side, price, pos.TakeProfit) {
		logger.Infof("✅ 固定止盈离场: %s 仓位价格(%.4f)触及止盈线(%.4f)", pos.Side, price, pos.TakeProfit)
		return types.CloseTakeProfit, true
	}
	return "", false
}

// profitPerUnit 以首笔成交价为基准的每单位浮盈，风控各处的
// R 倍数都以它和初始单位风险换算。
func profitPerUnit(pos position.Position, price float64) float64 {
	if len(pos.Entries) == 0 {
		return 0
	}
	return (price - pos.Entries[0].Price) * pos.Side.Sign()
}

func (e *Engine) sendText(text string) {
	if e.notify == nil {
		return
	}
	if err := e.notify.SendText(text); err != nil {
		logger.Warnf("通知发送失败: %v", err)
	}
}

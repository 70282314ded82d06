package position

import (
	"fmt"

	"crest/internal/types"
)

// Stage 止损体系阶段：1 波动率跟踪，1.5 保本锁定，2 极值跟踪。
type Stage float64

const (
	StageTrail     Stage = 1
	StageBreakEven Stage = 1.5
	StageExtremum  Stage = 2
)

// Entry 一笔成交记录。价格、费用与时间创建后不再变化，
// 部分平仓只对 size/fee 做等比缩放以保持均价不变。
type Entry struct {
	Price  float64 `json:"price"`
	Size   float64 `json:"size"`
	Fee    float64 `json:"fee"`
	TimeMS int64   `json:"time_ms"`
}

// Position 单品种持仓的可序列化状态。
type Position struct {
	Side               types.Side        `json:"side"`
	Entries            []Entry           `json:"entries"`
	StopLoss           float64           `json:"stop_loss"`
	TakeProfit         float64           `json:"take_profit"`
	EntryReason        types.EntryReason `json:"entry_reason"`
	InitialRiskPerUnit float64           `json:"initial_risk_per_unit"`
	StopStage          Stage             `json:"stop_stage"`
	PartialExitCount   int               `json:"partial_exit_count"`
	HighWaterMark      float64           `json:"high_water_mark"`
	LowWaterMark       float64           `json:"low_water_mark"`
	OpenedAtMS         int64             `json:"opened_at_ms"`
}

// IsOpen 是否存在未平仓头寸。
func (p *Position) IsOpen() bool {
	return p.Side.Valid() && p.Size() > 0
}

// Size 各笔成交数量之和。
func (p *Position) Size() float64 {
	total := 0.0
	for _, e := range p.Entries {
		total += e.Size
	}
	return total
}

// AvgPrice 按数量加权的平均开仓价。
func (p *Position) AvgPrice() float64 {
	size := p.Size()
	if size == 0 {
		return 0
	}
	value := 0.0
	for _, e := range p.Entries {
		value += e.Price * e.Size
	}
	return value / size
}

// EntryFees 累计开仓手续费。
func (p *Position) EntryFees() float64 {
	total := 0.0
	for _, e := range p.Entries {
		total += e.Fee
	}
	return total
}

// AddCount 加仓次数（首仓不计）。
func (p *Position) AddCount() int {
	if len(p.Entries) == 0 {
		return 0
	}
	return len(p.Entries) - 1
}

// LastEntry 最近一笔成交。
func (p *Position) LastEntry() (Entry, bool) {
	if len(p.Entries) == 0 {
		return Entry{}, false
	}
	return p.Entries[len(p.Entries)-1], true
}

// BreakEven 含手续费的保本价：多头把费用摊到买价上方，空头摊到卖价下方。
func (p *Position) BreakEven() float64 {
	size := p.Size()
	if !p.IsOpen() || size == 0 {
		return 0
	}
	value := 0.0
	for _, e := range p.Entries {
		value += e.Price * e.Size
	}
	switch p.Side {
	case types.SideLong:
		return (value + p.EntryFees()) / size
	case types.SideShort:
		return (value - p.EntryFees()) / size
	default:
		return 0
	}
}

// ProfitPerUnit 每单位数量的浮动盈亏（有利为正）。
func (p *Position) ProfitPerUnit(price float64) float64 {
	if !p.IsOpen() {
		return 0
	}
	return (price - p.AvgPrice()) * p.Side.Sign()
}

// UnrealizedPnL 全仓浮动盈亏（不含费用）。
func (p *Position) UnrealizedPnL(price float64) float64 {
	return p.ProfitPerUnit(price) * p.Size()
}

// StopCrossed 价格是否已触及止损。
func (p *Position) StopCrossed(price float64) bool {
	if !p.IsOpen() || p.StopLoss <= 0 {
		return false
	}
	switch p.Side {
	case types.SideLong:
		return price <= p.StopLoss
	case types.SideShort:
		return price >= p.StopLoss
	default:
		return false
	}
}

// TargetCrossed 价格是否已触及止盈（未设置止盈时恒为否）。
func (p *Position) TargetCrossed(price float64) bool {
	if !p.IsOpen() || p.TakeProfit <= 0 {
		return false
	}
	switch p.Side {
	case types.SideLong:
		return price >= p.TakeProfit
	case types.SideShort:
		return price <= p.TakeProfit
	default:
		return false
	}
}

// String 便于日志的简短描述。
func (p *Position) String() string {
	if !p.IsOpen() {
		return "flat"
	}
	return fmt.Sprintf("%s size=%.8f avg=%.4f sl=%.4f stage=%v adds=%d",
		p.Side, p.Size(), p.AvgPrice(), p.StopLoss, p.StopStage, p.AddCount())
}

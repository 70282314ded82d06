package types

// Side 表示持仓方向。
type Side string

const (
	SideNone  Side = ""
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Sign 返回方向符号：多头 +1，空头 -1，无仓 0。
func (s Side) Sign() float64 {
	switch s {
	case SideLong:
		return 1
	case SideShort:
		return -1
	default:
		return 0
	}
}

func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideNone
	}
}

func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// EntryReason 是开仓来源的封闭枚举，决定执行器的仓位尺寸规则。
type EntryReason string

const (
	ReasonPullback         EntryReason = "pullback_entry"
	ReasonBreakoutPullback EntryReason = "breakout_pullback"
	ReasonSpikePullback    EntryReason = "spike_pullback"
	ReasonPyramiding       EntryReason = "pyramiding"
	ReasonAdvisor          EntryReason = "advisor_entry"
)

// Aggressive 表示该开仓来源是否按激进规则放大首仓。
func (r EntryReason) Aggressive() bool {
	return r == ReasonBreakoutPullback || r == ReasonSpikePullback
}

func (r EntryReason) Valid() bool {
	switch r {
	case ReasonPullback, ReasonBreakoutPullback, ReasonSpikePullback, ReasonPyramiding, ReasonAdvisor:
		return true
	}
	return false
}

// CloseReason 是平仓来源的封闭枚举。
type CloseReason string

const (
	CloseTrailingStop CloseReason = "trailing_stop"
	CloseTakeProfit   CloseReason = "take_profit"
	CloseDisagreement CloseReason = "trend_disagreement_partial"
	CloseManual       CloseReason = "manual"
)

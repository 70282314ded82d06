// Package advisor 对接 OpenAI 兼容的行情顾问通道：
// 组装市场快照提示词，校验并解析模型响应，并按顾问自身的
// 历史绩效决定建议是实盘放行还是只进模拟盘。
package advisor

import (
	"context"

	"crest/internal/analysis/pattern"
	"crest/internal/config"
	"crest/internal/types"
)

// Direction 取值。
const (
	DirectionLong    = "long"
	DirectionShort   = "short"
	DirectionNeutral = "neutral"
)

// Opinion 一次顾问分析的结构化结论。
// 建议价位为 0 表示模型未给出该项。
type Opinion struct {
	Direction  string
	Confidence int
	Reason     string
	Entry      float64
	Stop       float64
	Target     float64
}

// Actionable 报告该结论是否包含可交易方向。
func (o Opinion) Actionable() bool {
	return o.Direction == DirectionLong || o.Direction == DirectionShort
}

// Side 把方向映射到持仓方向，中性返回 SideNone。
func (o Opinion) Side() types.Side {
	switch o.Direction {
	case DirectionLong:
		return types.SideLong
	case DirectionShort:
		return types.SideShort
	default:
		return types.SideNone
	}
}

// MarketSnapshot 喂给顾问的行情切面。
// Sentiment 为 nil 表示情绪数据暂不可用，ChartURI 为空表示没有图表。
type MarketSnapshot struct {
	Symbol     string
	Price      float64
	Indicators Indicators
	Macro      MacroTrend
	Patterns   pattern.Observation
	Sentiment  *FearGreed
	ChartURI   string
}

// Indicators 信号周期（15m）上的指标快照，字段名与提示词 JSON 对齐。
type Indicators struct {
	RSI14      float64 `json:"rsi_14"`
	MACD       float64 `json:"macd"`
	MACDHist   float64 `json:"macdh"`
	MACDSignal float64 `json:"macds"`
	BollLower  float64 `json:"bbl_20_2"`
	BollMid    float64 `json:"bbm_20_2"`
	BollUpper  float64 `json:"bbu_20_2"`
	EMA20      float64 `json:"ema_20"`
	EMA50      float64 `json:"ema_50"`
	ADX14      float64 `json:"adx_14"`
	ATR14      float64 `json:"atr_14"`
	VolumeAvg  float64 `json:"volume_avg_20"`
}

// MacroTrend 高周期均线交叉状态，取值 golden_cross / dead_cross。
type MacroTrend struct {
	H1EMACross string `json:"1h_ema_20_vs_50"`
	H4EMACross string `json:"4h_ema_20_vs_50"`
}

// FearGreed 恐慌贪婪指数。
type FearGreed struct {
	Value          int    `json:"value"`
	Classification string `json:"value_classification"`
}

// Advisor 是顾问通道的抽象，生产实现见 Service。
type Advisor interface {
	Analyze(ctx context.Context, snap MarketSnapshot, trackScore int) (Opinion, error)
}

// Gate 按历史绩效与信号置信度决定建议的放行级别。
type Gate struct {
	LiveScore     int
	MinConfidence int
}

func GateFromConfig(cfg config.AdvisorConfig) Gate {
	return Gate{LiveScore: cfg.LiveScoreThreshold, MinConfidence: cfg.MinConfidence}
}

// AllowLive 报告该建议是否有实盘执行资格，不够格的进模拟盘。
func (g Gate) AllowLive(trackScore int, op Opinion) bool {
	if !op.Actionable() {
		return false
	}
	return trackScore >= g.LiveScore && op.Confidence >= g.MinConfidence
}

// TightenStop 只在建议止损更有利时采纳：多头要求高于当前止损且仍低于现价，
// 空头对称。永不放宽既有止损。
func TightenStop(side types.Side, price, stop, suggested float64) float64 {
	if suggested <= 0 || price <= 0 {
		return stop
	}
	switch side {
	case types.SideLong:
		if suggested > stop && suggested < price {
			return suggested
		}
	case types.SideShort:
		if suggested < stop && suggested > price {
			return suggested
		}
	}
	return stop
}

// FillTarget 只在尚未设定止盈时采纳建议目标价。
func FillTarget(current, suggested float64) float64 {
	if current == 0 && suggested > 0 {
		return suggested
	}
	return current
}

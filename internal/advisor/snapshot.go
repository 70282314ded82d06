package advisor

import (
	"fmt"

	"crest/internal/analysis/indicator"
	"crest/internal/analysis/pattern"
	"crest/internal/market"
)

// 快照所需的最少K线数量，保证 MACD(12,26,9) 与 ADX(14) 都能算出来。
const minSnapshotCandles = 60

// BuildSnapshot 从三个周期的K线组装顾问快照：
// 信号周期（15m）的指标全家桶与形态扫描，加上 1h/4h 的均线交叉状态。
// 任一核心指标算不出来按数据不足处理，返回错误而不是送半空快照。
func BuildSnapshot(sym string, price float64, m15, h1, h4 market.Candles) (MarketSnapshot, error) {
	if price <= 0 {
		return MarketSnapshot{}, fmt.Errorf("快照价格非法: %v", price)
	}
	if len(m15) < minSnapshotCandles || len(h1) < minSnapshotCandles || len(h4) < minSnapshotCandles {
		return MarketSnapshot{}, fmt.Errorf("顾问快照K线不足: 15m=%d 1h=%d 4h=%d 需要>=%d",
			len(m15), len(h1), len(h4), minSnapshotCandles)
	}

	closes := m15.Closes()
	var ind Indicators
	var ok bool
	if ind.RSI14, ok = indicator.RSILast(closes, 14); !ok {
		return MarketSnapshot{}, fmt.Errorf("顾问快照指标缺失: rsi_14")
	}
	if ind.MACD, ind.MACDSignal, ind.MACDHist, ok = indicator.MACDLast(closes, 12, 26, 9); !ok {
		return MarketSnapshot{}, fmt.Errorf("顾问快照指标缺失: macd")
	}
	upper, middle, lower := indicator.BBands(closes, 20, 2.0)
	if len(upper) == 0 || len(middle) == 0 || len(lower) == 0 {
		return MarketSnapshot{}, fmt.Errorf("顾问快照指标缺失: bollinger")
	}
	ind.BollUpper = upper[len(upper)-1]
	ind.BollMid = middle[len(middle)-1]
	ind.BollLower = lower[len(lower)-1]
	if ind.EMA20, ok = indicator.EMALast(closes, 20); !ok {
		return MarketSnapshot{}, fmt.Errorf("顾问快照指标缺失: ema_20")
	}
	if ind.EMA50, ok = indicator.EMALast(closes, 50); !ok {
		return MarketSnapshot{}, fmt.Errorf("顾问快照指标缺失: ema_50")
	}
	if ind.ADX14, ok = indicator.ADXLast(m15.Highs(), m15.Lows(), closes, 14); !ok {
		return MarketSnapshot{}, fmt.Errorf("顾问快照指标缺失: adx_14")
	}
	if ind.ATR14, ok = indicator.ATRLast(m15.Highs(), m15.Lows(), closes, 14); !ok {
		return MarketSnapshot{}, fmt.Errorf("顾问快照指标缺失: atr_14")
	}
	if ind.VolumeAvg, ok = indicator.MeanLast(m15.Volumes(), 20); !ok {
		return MarketSnapshot{}, fmt.Errorf("顾问快照指标缺失: volume_avg_20")
	}

	macro := MacroTrend{
		H1EMACross: emaCrossState(h1.Closes()),
		H4EMACross: emaCrossState(h4.Closes()),
	}
	return MarketSnapshot{
		Symbol:     sym,
		Price:      price,
		Indicators: ind,
		Macro:      macro,
		Patterns:   pattern.Analyze(m15),
	}, nil
}

// emaCrossState 报告 EMA20 与 EMA50 的相对位置。
func emaCrossState(closes []float64) string {
	fast, okF := indicator.EMALast(closes, 20)
	slow, okS := indicator.EMALast(closes, 50)
	if okF && okS && fast > slow {
		return "golden_cross"
	}
	return "dead_cross"
}

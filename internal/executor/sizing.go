package executor

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"crest/internal/gateway/exchange"
	"crest/internal/types"
)

var decimalHundred = decimal.NewFromInt(100)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// sizePlan 一次开仓的下单数量与派生指标。
type sizePlan struct {
	Quantity   decimal.Decimal
	Notional   float64
	RiskAmount float64
	Distance   float64
}

// planEntrySize 按风险额定仓：单位止损距离决定数量，名义价值不足
// 交易所最低要求时抬到最低，再向上取整到数量步进。最后检查所需
// 保证金是否超出本金预算。fixedNotional > 0 时跳过风险定仓，直接
// 按固定名义价值换算数量。
func (c *Coordinator) planEntrySize(equity, price, atr float64, aggressive bool, fixedNotional float64, limits exchange.Limits) (sizePlan, error) {
	if price <= 0 {
		return sizePlan{}, fmt.Errorf("invalid price %v", price)
	}
	if equity <= 0 {
		return sizePlan{}, fmt.Errorf("账户权益为 %v，无法定仓", equity)
	}
	distance := c.stopDistance(price, atr)
	if distance <= 0 {
		return sizePlan{}, fmt.Errorf("止损距离为0，取消开仓")
	}

	priceDec := decFromFloat(price)
	var size decimal.Decimal
	var riskAmount decimal.Decimal
	if fixedNotional > 0 {
		size = decFromFloat(fixedNotional).Div(priceDec)
	} else {
		riskAmount = decFromFloat(equity).Mul(decFromFloat(c.cfg.Trading.RiskPerTradePct)).Div(decimalHundred)
		size = riskAmount.Div(decFromFloat(distance))
		if aggressive && c.cfg.Entry.Spike.SizeMult > 0 {
			size = size.Mul(decFromFloat(c.cfg.Entry.Spike.SizeMult))
		}
	}

	minNotional := limits.MinNotional
	if minNotional <= 0 {
		minNotional = c.cfg.Venue.MinNotional
	}
	if minNotional > 0 {
		minSize := decFromFloat(minNotional).Div(priceDec)
		if size.Cmp(minSize) < 0 {
			size = minSize
		}
	}
	if limits.MinQty > 0 {
		minQty := decFromFloat(limits.MinQty)
		if size.Cmp(minQty) < 0 {
			size = minQty
		}
	}

	qty := ceilToStep(size, limits)
	if qty.Sign() <= 0 {
		return sizePlan{}, fmt.Errorf("计算出的下单数量为0")
	}

	notional := qty.Mul(priceDec)
	leverage := c.cfg.Trading.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	margin := notional.Div(decimal.NewFromInt(int64(leverage)))
	budget := decFromFloat(equity).Mul(decFromFloat(c.cfg.Trading.MaxMarginRatio))
	if c.cfg.Trading.MaxMarginRatio > 0 && margin.Cmp(budget) > 0 {
		return sizePlan{}, &MarginCapError{
			Notional: decToFloat(notional),
			Margin:   decToFloat(margin),
			Budget:   decToFloat(budget),
		}
	}

	return sizePlan{
		Quantity:   qty,
		Notional:   decToFloat(notional),
		RiskAmount: decToFloat(riskAmount),
		Distance:   distance,
	}, nil
}

// stopDistance 单位止损距离。定仓和初始止损共用同一规则：
// 固定百分比模式取 price×slPct；ATR 模式取 ATR×倍数，但不低于
// price×floorPct 的下限，ATR 缺失时退回固定百分比。
func (c *Coordinator) stopDistance(price, atr float64) float64 {
	t := c.cfg.Trading
	pct := decFromFloat(price).Mul(decFromFloat(t.StopLossPct)).Div(decimalHundred)
	if !strings.EqualFold(t.StopLossMode, "atr") || atr <= 0 {
		return decToFloat(pct)
	}
	dist := decFromFloat(atr).Mul(decFromFloat(t.ATRStopMult))
	floor := decFromFloat(price).Mul(decFromFloat(t.ATRStopFloorPct)).Div(decimalHundred)
	if dist.Cmp(floor) < 0 {
		dist = floor
	}
	return decToFloat(dist)
}

// initialStop 以成交均价为锚、沿不利方向偏移一个止损距离。
func initialStop(side types.Side, fill, distance float64) float64 {
	if fill <= 0 || distance <= 0 {
		return 0
	}
	base := decFromFloat(fill)
	off := decFromFloat(distance)
	if side == types.SideShort {
		return decToFloat(base.Add(off))
	}
	return decToFloat(base.Sub(off))
}

// qtyStep 数量步进，交易所未给出时按数量精度推导。
func qtyStep(limits exchange.Limits) decimal.Decimal {
	if limits.QtyStep > 0 {
		return decFromFloat(limits.QtyStep)
	}
	return decimal.New(1, -int32(limits.QuantityPrecision))
}

// ceilToStep 向上取整到数量步进，保证名义价值不跌破最低要求。
func ceilToStep(size decimal.Decimal, limits exchange.Limits) decimal.Decimal {
	step := qtyStep(limits)
	if step.Sign() <= 0 || size.Sign() <= 0 {
		return decimal.Zero
	}
	return size.Div(step).Ceil().Mul(step)
}

// floorToStep 向下取整到数量步进，用于减仓保证不超过实际持仓。
func floorToStep(size decimal.Decimal, limits exchange.Limits) decimal.Decimal {
	step := qtyStep(limits)
	if step.Sign() <= 0 || size.Sign() <= 0 {
		return decimal.Zero
	}
	return size.Div(step).Floor().Mul(step)
}

// formatQty 按交易所数量精度格式化下单数量。
func formatQty(qty decimal.Decimal, limits exchange.Limits) string {
	return qty.StringFixed(int32(limits.QuantityPrecision))
}

// grossPnL 按方向计算毛盈亏：多头挣价差，空头反号。
func grossPnL(side types.Side, entry, exit, size float64) float64 {
	diff := decFromFloat(exit).Sub(decFromFloat(entry))
	if side == types.SideShort {
		diff = diff.Neg()
	}
	return decToFloat(diff.Mul(decFromFloat(size)))
}

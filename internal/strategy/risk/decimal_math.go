package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"crest/internal/types"
)

var decimalZero = decimal.Zero

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimalZero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// offsetStop 以 anchor 为基准沿不利方向偏移 offset 得到止损价，
// 多头在下方，空头在上方。
func offsetStop(side types.Side, anchor, offset float64) float64 {
	if anchor <= 0 || offset <= 0 {
		return 0
	}
	base := decFromFloat(anchor)
	off := decFromFloat(offset)
	if side == types.SideShort {
		return decToFloat(base.Add(off))
	}
	return decToFloat(base.Sub(off))
}

// scaleSize 数量乘以比例，用于加仓与减仓的下单量计算。
func scaleSize(size, ratio float64) float64 {
	if size <= 0 || ratio <= 0 {
		return 0
	}
	return decToFloat(decFromFloat(size).Mul(decFromFloat(ratio)))
}

// preferStop 返回两个候选止损中对持仓更有利的一个，0 视为缺省。
func preferStop(side types.Side, a, b float64) float64 {
	if a <= 0 {
		return b
	}
	if b <= 0 {
		return a
	}
	cmp := decFromFloat(a).Cmp(decFromFloat(b))
	if side == types.SideShort {
		if cmp <= 0 {
			return a
		}
		return b
	}
	if cmp >= 0 {
		return a
	}
	return b
}

// priceBreachedStop 价格是否触及止损线（含等于）。
func priceBreachedStop(side types.Side, price, stop float64) bool {
	if stop <= 0 || price <= 0 {
		return false
	}
	cmp := decFromFloat(price).Cmp(decFromFloat(stop))
	if side == types.SideShort {
		return cmp >= 0
	}
	return cmp <= 0
}

// priceReachedTarget 价格是否触及止盈线（含等于）。
func priceReachedTarget(side types.Side, price, target float64) bool {
	if target <= 0 || price <= 0 {
		return false
	}
	cmp := decFromFloat(price).Cmp(decFromFloat(target))
	if side == types.SideShort {
		return cmp <= 0
	}
	return cmp >= 0
}

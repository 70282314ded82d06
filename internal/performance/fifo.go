package performance

import (
	"math"
	"sort"
)

// Fill 交易所返回的一笔历史成交。
type Fill struct {
	ID     string
	Buy    bool
	Price  float64
	Size   float64
	Fee    float64
	TimeMS int64
}

// FIFONetPnL 用先进先出法把历史成交配对成累计已实现净盈亏：
// 按时间排序后，卖单依次消耗最早的买单，每段撮合的手续费
// 按该段数量占整笔成交的比例分摊。用于全新账本的利润基线回建。
func FIFONetPnL(fills []Fill) float64 {
	sorted := make([]Fill, len(fills))
	copy(sorted, fills)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TimeMS < sorted[j].TimeMS })

	type lot struct {
		price     float64
		remaining float64
		origSize  float64
		fee       float64
	}
	var buys []lot
	var sells []Fill
	for _, f := range sorted {
		if f.Size <= 0 {
			continue
		}
		if f.Buy {
			buys = append(buys, lot{price: f.Price, remaining: f.Size, origSize: f.Size, fee: f.Fee})
		} else {
			sells = append(sells, f)
		}
	}

	total := 0.0
	head := 0
	for _, sell := range sells {
		unmatched := sell.Size
		for unmatched > 1e-9 && head < len(buys) {
			buy := &buys[head]
			matched := math.Min(unmatched, buy.remaining)

			gross := (sell.Price - buy.price) * matched
			sellFee := sell.Fee / sell.Size * matched
			buyFee := buy.fee / buy.origSize * matched
			total += gross - sellFee - buyFee

			unmatched -= matched
			buy.remaining -= matched
			if buy.remaining < 1e-9 {
				head++
			}
		}
	}
	return total
}

package scheduler

import (
	"time"

	"crest/internal/market"
)

const DefaultKlineGrace = 10 * time.Second

// SplitUnclosedKline separates the tail in-progress candle from the closed
// ones. live 为 false 时所有蜡烛均已收盘，forming 为零值。
func SplitUnclosedKline(klines []market.Candle, interval time.Duration) ([]market.Candle, market.Candle, bool) {
	return splitUnclosedKlineAt(klines, interval, time.Now().UTC(), DefaultKlineGrace)
}

func splitUnclosedKlineAt(klines []market.Candle, interval time.Duration, now time.Time, grace time.Duration) ([]market.Candle, market.Candle, bool) {
	if len(klines) == 0 {
		return klines, market.Candle{}, false
	}
	if interval <= 0 {
		return klines, market.Candle{}, false
	}
	if grace < 0 {
		grace = 0
	}
	last := klines[len(klines)-1]
	if last.OpenTime <= 0 {
		return klines, market.Candle{}, false
	}
	closeTimeMs := last.OpenTime + interval.Milliseconds()
	cutoffMs := closeTimeMs + grace.Milliseconds()
	if now.UnixMilli() < cutoffMs {
		return klines[:len(klines)-1], last, true
	}
	return klines, market.Candle{}, false
}

package trader

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"crest/internal/gateway/exchange"
	"crest/internal/logger"
	"crest/internal/market"
)

const (
	// 行情拉取对瞬时故障的重试上限与间隔。
	fetchRetryMax   = 2
	fetchRetryDelay = 2 * time.Second

	// 拿不到现价时本轮跳过的等待时长。
	tickerRetryWait = 5 * time.Second

	// 顾问快照的单周期K线条数。
	advisorCandleDepth = 120
)

// marketData 是一轮循环消费的全部行情：信号周期的已收盘K线与可能
// 存在的未收盘K线，加上过滤周期的已收盘K线。
type marketData struct {
	signal  market.Candles
	forming market.Candle
	live    bool
	filter  market.Candles
}

// fetchMarketData 并发拉取信号周期与过滤周期的K线。
// 信号周期走 FetchLiveCandles，尖峰检测需要未收盘K线。
func (t *Trader) fetchMarketData(ctx context.Context) (marketData, error) {
	var md marketData
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return t.withRetry(gctx, func(c context.Context) error {
			closed, forming, live, err := t.exch.FetchLiveCandles(c, t.symbol, t.cfg.Regime.SignalTimeframe, t.signalDepth())
			if err != nil {
				return err
			}
			md.signal, md.forming, md.live = closed, forming, live
			return nil
		})
	})
	g.Go(func() error {
		return t.withRetry(gctx, func(c context.Context) error {
			filter, err := t.exch.FetchCandles(c, t.symbol, t.cfg.Regime.FilterTimeframe, t.filterDepth())
			if err != nil {
				return err
			}
			md.filter = filter
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return marketData{}, err
	}
	return md, nil
}

// fetchTicker 拉取现价，瞬时故障同样重试。
func (t *Trader) fetchTicker(ctx context.Context) (exchange.Ticker, error) {
	var tk exchange.Ticker
	err := t.withRetry(ctx, func(c context.Context) error {
		var terr error
		tk, terr = t.exch.FetchTicker(c, t.symbol)
		return terr
	})
	return tk, err
}

// withRetry 对瞬时类错误（限频、网络抖动、服务端 5xx）做固定次数的
// 定间隔重试，其余错误立即上抛。
func (t *Trader) withRetry(ctx context.Context, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !exchange.IsTransient(err) || attempt >= fetchRetryMax {
			return err
		}
		logger.Warnf("[%s] 行情请求瞬时失败 (第 %d 次)，%s 后重试: %v", t.symbol, attempt+1, fetchRetryDelay, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(fetchRetryDelay):
		}
	}
}

// signalDepth 估算信号周期需要的K线条数：覆盖所有在该周期上计算的
// 指标窗口，再留一段余量。
func (t *Trader) signalDepth() int {
	r := &t.cfg.Regime
	b := &t.cfg.Entry.Breakout
	n := r.SlowMA
	n = max(n, r.VolumeMAPeriod+1)
	n = max(n, r.RSIPeriod+1)
	n = max(n, r.VolumeATRLong+1)
	n = max(n, r.ThresholdATRSpan+1)
	n = max(n, b.BBPeriod+b.SqueezeLookback+2)
	return n + 20
}

// filterDepth 同上，过滤周期。ADX 收敛慢，取周期的十倍。
func (t *Trader) filterDepth() int {
	r := &t.cfg.Regime
	k := &t.cfg.Risk
	n := r.FilterMA + r.FilterSlopePeriods
	n = max(n, r.ADXPeriod*10)
	n = max(n, k.ChandelierPeriod+1)
	n = max(n, k.WidenATRLong+1)
	n = max(n, k.TrailATRPeriod+1)
	return n + 10
}

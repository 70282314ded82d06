package binance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crest/internal/gateway/exchange"
	"crest/internal/market"
	symbolpkg "crest/internal/pkg/symbol"
	"crest/internal/scheduler"
)

const maxKlineLimit = 1500

func (c *Client) FetchTicker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	clean, err := cleanSymbol(symbol)
	if err != nil {
		return exchange.Ticker{}, exchange.Wrap("fetch_ticker", exchange.KindInvalidRequest, err)
	}
	prices, err := c.client.NewListPricesService().Symbol(clean).Do(ctx)
	if err != nil {
		return exchange.Ticker{}, classify("fetch_ticker", err)
	}
	for _, p := range prices {
		if p == nil {
			continue
		}
		price := parseFloat(p.Price)
		if price <= 0 {
			continue
		}
		return exchange.Ticker{
			Symbol: symbol,
			Price:  price,
			TimeMS: time.Now().UnixMilli(),
		}, nil
	}
	return exchange.Ticker{}, exchange.Wrap("fetch_ticker", exchange.KindUnclassified,
		fmt.Errorf("no price returned for %s", symbol))
}

func (c *Client) FetchCandles(ctx context.Context, symbol, interval string, limit int) (market.Candles, error) {
	closed, _, _, err := c.FetchLiveCandles(ctx, symbol, interval, limit)
	return closed, err
}

func (c *Client) FetchLiveCandles(ctx context.Context, symbol, interval string, limit int) (market.Candles, market.Candle, bool, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	clean, err := cleanSymbol(symbol)
	if err != nil {
		return nil, market.Candle{}, false, exchange.Wrap("fetch_candles", exchange.KindInvalidRequest, err)
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, market.Candle{}, false, exchange.Wrap("fetch_candles", exchange.KindInvalidRequest,
			fmt.Errorf("interval is required"))
	}
	// 多取一根，丢掉未收盘的那根后仍能凑满 limit。
	svc := c.client.NewKlinesService().Symbol(clean).Interval(interval).Limit(limit + 1)
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, market.Candle{}, false, classify("fetch_candles", err)
	}
	out := make(market.Candles, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	var forming market.Candle
	var live bool
	if dur, ok := scheduler.ParseIntervalDuration(interval); ok {
		out, forming, live = scheduler.SplitUnclosedKline(out, dur)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, forming, live, nil
}

// cleanSymbol 去掉斜杠等分隔符，币安要求 ETHUSDT 形式。
func cleanSymbol(symbol string) (string, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return "", fmt.Errorf("symbol is required")
	}
	return symbolpkg.Binance.ToExchange(symbol), nil
}

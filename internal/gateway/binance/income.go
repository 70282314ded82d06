package binance

import (
	"context"
	"sort"

	"crest/internal/gateway/exchange"
)

const incomeTypeFunding = "FUNDING_FEE"

func (c *Client) FetchFills(ctx context.Context, symbol string, limit int) ([]exchange.Fill, error) {
	clean, err := cleanSymbol(symbol)
	if err != nil {
		return nil, exchange.Wrap("fetch_fills", exchange.KindInvalidRequest, err)
	}
	if limit <= 0 {
		limit = 500
	}
	if limit > 1000 {
		limit = 1000
	}
	trades, err := c.client.NewListAccountTradeService().Symbol(clean).Limit(limit).Do(ctx)
	if err != nil {
		return nil, classify("fetch_fills", err)
	}
	out := make([]exchange.Fill, 0, len(trades))
	for _, t := range trades {
		if t == nil {
			continue
		}
		out = append(out, exchange.Fill{
			ID:      t.ID,
			OrderID: t.OrderID,
			Symbol:  symbol,
			Buy:     t.Buyer,
			Price:   parseFloat(t.Price),
			Size:    parseFloat(t.Quantity),
			Fee:     parseFloat(t.Commission),
			TimeMS:  t.Time,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeMS < out[j].TimeMS })
	return out, nil
}

func (c *Client) FetchFundingIncome(ctx context.Context, symbol string, sinceMS int64) ([]exchange.FundingEntry, error) {
	clean, err := cleanSymbol(symbol)
	if err != nil {
		return nil, exchange.Wrap("fetch_funding", exchange.KindInvalidRequest, err)
	}
	svc := c.client.NewGetIncomeHistoryService().Symbol(clean).IncomeType(incomeTypeFunding).Limit(1000)
	if sinceMS > 0 {
		svc = svc.StartTime(sinceMS + 1)
	}
	rows, err := svc.Do(ctx)
	if err != nil {
		return nil, classify("fetch_funding", err)
	}
	out := make([]exchange.FundingEntry, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		out = append(out, exchange.FundingEntry{
			Symbol: symbol,
			Asset:  row.Asset,
			Income: parseFloat(row.Income),
			TimeMS: row.Time,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeMS < out[j].TimeMS })
	return out, nil
}

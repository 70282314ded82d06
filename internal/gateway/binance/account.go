package binance

import (
	"context"
	"errors"
	"fmt"

	"crest/internal/gateway/exchange"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

func (c *Client) FetchBalance(ctx context.Context) (exchange.Balance, error) {
	account, err := c.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return exchange.Balance{}, classify("fetch_balance", err)
	}
	return exchange.Balance{
		Asset:     "USDT",
		Total:     parseFloat(account.TotalMarginBalance),
		Available: parseFloat(account.AvailableBalance),
	}, nil
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	clean, err := cleanSymbol(symbol)
	if err != nil {
		return exchange.Wrap("set_leverage", exchange.KindInvalidRequest, err)
	}
	if leverage <= 0 {
		return exchange.Wrap("set_leverage", exchange.KindInvalidRequest,
			fmt.Errorf("leverage must be positive, got %d", leverage))
	}
	_, err = c.client.NewChangeLeverageService().Symbol(clean).Leverage(leverage).Do(ctx)
	return classify("set_leverage", err)
}

func (c *Client) SetMarginMode(ctx context.Context, symbol, mode string) error {
	clean, err := cleanSymbol(symbol)
	if err != nil {
		return exchange.Wrap("set_margin_mode", exchange.KindInvalidRequest, err)
	}
	marginType := futures.MarginTypeIsolated
	if exchange.NormalizeMarginMode(mode) == exchange.MarginModeCrossed {
		marginType = futures.MarginTypeCrossed
	}
	err = c.client.NewChangeMarginTypeService().Symbol(clean).MarginType(marginType).Do(ctx)
	if err != nil {
		// -4046: 已经是目标模式，不算失败。
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == -4046 {
			return nil
		}
		return classify("set_margin_mode", err)
	}
	return nil
}

// InstrumentLimits 返回合约的交易约束。交易所信息进程内缓存，未知合约时刷新一次。
func (c *Client) InstrumentLimits(ctx context.Context, symbol string) (exchange.Limits, error) {
	clean, err := cleanSymbol(symbol)
	if err != nil {
		return exchange.Limits{}, exchange.Wrap("instrument_limits", exchange.KindInvalidRequest, err)
	}
	c.limitsMu.RLock()
	limits, ok := c.limits[clean]
	c.limitsMu.RUnlock()
	if ok {
		return limits, nil
	}
	if err := c.refreshLimits(ctx); err != nil {
		return exchange.Limits{}, err
	}
	c.limitsMu.RLock()
	limits, ok = c.limits[clean]
	c.limitsMu.RUnlock()
	if !ok {
		return exchange.Limits{}, exchange.Wrap("instrument_limits", exchange.KindInvalidRequest,
			fmt.Errorf("symbol %s not listed on exchange", symbol))
	}
	return limits, nil
}

func (c *Client) refreshLimits(ctx context.Context) error {
	info, err := c.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return classify("instrument_limits", err)
	}
	fresh := make(map[string]exchange.Limits, len(info.Symbols))
	for i := range info.Symbols {
		sym := info.Symbols[i]
		fresh[sym.Symbol] = limitsFromSymbol(&sym)
	}
	c.limitsMu.Lock()
	c.limits = fresh
	c.limitsMu.Unlock()
	return nil
}

func limitsFromSymbol(sym *futures.Symbol) exchange.Limits {
	limits := exchange.Limits{
		QuantityPrecision: sym.QuantityPrecision,
		PricePrecision:    sym.PricePrecision,
	}
	if lot := sym.LotSizeFilter(); lot != nil {
		limits.QtyStep = parseFloat(lot.StepSize)
		limits.MinQty = parseFloat(lot.MinQuantity)
	}
	if mn := sym.MinNotionalFilter(); mn != nil {
		limits.MinNotional = parseFloat(mn.Notional)
	}
	return limits
}

package binance

import (
	"context"
	"fmt"
	"strings"

	"crest/internal/gateway/exchange"
	"crest/internal/logger"

	"github.com/adshao/go-binance/v2/futures"
)

func (c *Client) SubmitMarketOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Order, error) {
	return c.submitOrder(ctx, req, futures.OrderTypeMarket)
}

func (c *Client) SubmitLimitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Order, error) {
	return c.submitOrder(ctx, req, futures.OrderTypeLimit)
}

func (c *Client) submitOrder(ctx context.Context, req exchange.OrderRequest, orderType futures.OrderType) (exchange.Order, error) {
	clean, err := cleanSymbol(req.Symbol)
	if err != nil {
		return exchange.Order{}, exchange.Wrap("submit_order", exchange.KindInvalidRequest, err)
	}
	if strings.TrimSpace(req.Quantity) == "" {
		return exchange.Order{}, exchange.Wrap("submit_order", exchange.KindInvalidRequest,
			fmt.Errorf("quantity is required"))
	}
	side := futures.SideTypeSell
	if req.Buy {
		side = futures.SideTypeBuy
	}
	svc := c.client.NewCreateOrderService().
		Symbol(clean).
		Side(side).
		Type(orderType).
		Quantity(req.Quantity)
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	if orderType == futures.OrderTypeLimit {
		if strings.TrimSpace(req.Price) == "" {
			return exchange.Order{}, exchange.Wrap("submit_order", exchange.KindInvalidRequest,
				fmt.Errorf("price is required for limit orders"))
		}
		svc = svc.Price(req.Price).TimeInForce(futures.TimeInForceTypeGTC)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return exchange.Order{}, classify("submit_order", err)
	}
	return exchange.Order{
		OrderID:       res.OrderID,
		ClientOrderID: res.ClientOrderID,
		Symbol:        req.Symbol,
		Status:        mapStatus(res.Status),
		Buy:           req.Buy,
		ReduceOnly:    res.ReduceOnly,
		OrigQty:       parseFloat(res.OrigQuantity),
		ExecutedQty:   parseFloat(res.ExecutedQuantity),
		AvgPrice:      parseFloat(res.AvgPrice),
		CreatedAtMS:   res.UpdateTime,
		UpdatedAtMS:   res.UpdateTime,
	}, nil
}

// FetchOrder 按客户端订单号查询。已成交订单会额外拉取成交明细汇总手续费，
// 手续费查询失败时返回错误而不是 0，让上层按瞬时错误重试。
func (c *Client) FetchOrder(ctx context.Context, symbol, clientOrderID string) (exchange.Order, error) {
	clean, err := cleanSymbol(symbol)
	if err != nil {
		return exchange.Order{}, exchange.Wrap("fetch_order", exchange.KindInvalidRequest, err)
	}
	if strings.TrimSpace(clientOrderID) == "" {
		return exchange.Order{}, exchange.Wrap("fetch_order", exchange.KindInvalidRequest,
			fmt.Errorf("client order id is required"))
	}
	ord, err := c.client.NewGetOrderService().Symbol(clean).OrigClientOrderID(clientOrderID).Do(ctx)
	if err != nil {
		return exchange.Order{}, classify("fetch_order", err)
	}
	out := exchange.Order{
		OrderID:       ord.OrderID,
		ClientOrderID: ord.ClientOrderID,
		Symbol:        symbol,
		Status:        mapStatus(ord.Status),
		Buy:           ord.Side == futures.SideTypeBuy,
		ReduceOnly:    ord.ReduceOnly,
		OrigQty:       parseFloat(ord.OrigQuantity),
		ExecutedQty:   parseFloat(ord.ExecutedQuantity),
		AvgPrice:      parseFloat(ord.AvgPrice),
		CreatedAtMS:   ord.Time,
		UpdatedAtMS:   ord.UpdateTime,
	}
	if out.Status.Filled() && out.ExecutedQty > 0 {
		fee, err := c.orderFee(ctx, clean, ord.OrderID, ord.Time)
		if err != nil {
			return exchange.Order{}, err
		}
		out.Fee = fee
	}
	return out, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	clean, err := cleanSymbol(symbol)
	if err != nil {
		return exchange.Wrap("cancel_order", exchange.KindInvalidRequest, err)
	}
	_, err = c.client.NewCancelOrderService().Symbol(clean).OrigClientOrderID(clientOrderID).Do(ctx)
	return classify("cancel_order", err)
}

// orderFee 汇总订单成交明细里的 USDT 手续费。非 USDT 结算的手续费
// （如 BNB 抵扣）无法直接并入 USDT 账目，记日志后跳过。
func (c *Client) orderFee(ctx context.Context, clean string, orderID, createdAtMS int64) (float64, error) {
	svc := c.client.NewListAccountTradeService().Symbol(clean).Limit(100)
	if createdAtMS > 0 {
		svc = svc.StartTime(createdAtMS - 1000)
	}
	trades, err := svc.Do(ctx)
	if err != nil {
		return 0, classify("order_fee", err)
	}
	var fee float64
	for _, t := range trades {
		if t == nil || t.OrderID != orderID {
			continue
		}
		if !strings.EqualFold(t.CommissionAsset, "USDT") {
			logger.Warnf("[binance] 订单 %d 含非 USDT 手续费 %s %s，未计入成本", orderID, t.Commission, t.CommissionAsset)
			continue
		}
		fee += parseFloat(t.Commission)
	}
	return fee, nil
}

func mapStatus(status futures.OrderStatusType) exchange.OrderStatus {
	switch status {
	case futures.OrderStatusTypeNew:
		return exchange.OrderStatusNew
	case futures.OrderStatusTypePartiallyFilled:
		return exchange.OrderStatusPartiallyFilled
	case futures.OrderStatusTypeFilled:
		return exchange.OrderStatusFilled
	case futures.OrderStatusTypeCanceled:
		return exchange.OrderStatusCanceled
	case futures.OrderStatusTypeRejected:
		return exchange.OrderStatusRejected
	case futures.OrderStatusTypeExpired:
		return exchange.OrderStatusExpired
	}
	return exchange.OrderStatus(status)
}

// Package exchange defines a common abstraction for trading venues.
// The rest of the system talks to this interface only, so a different
// backend can be wired in without touching the execution logic.
package exchange

import "strings"

// Ticker is the latest traded price for a symbol.
type Ticker struct {
	Symbol string
	Price  float64
	TimeMS int64
}

// Balance reports the futures account balance in the quote currency.
type Balance struct {
	Asset     string  // settlement asset, e.g. "USDT"
	Total     float64 // wallet balance plus unrealized P&L
	Available float64 // free margin available for new positions
}

// Limits are the venue's tradability constraints for one instrument.
type Limits struct {
	QtyStep           float64 // minimum quantity increment
	MinQty            float64 // minimum order quantity
	MinNotional       float64 // minimum order value in quote currency
	QuantityPrecision int
	PricePrecision    int
}

// OrderRequest describes a market or limit order to submit. Quantity and
// Price are pre-formatted decimal strings so the caller controls rounding;
// Price is ignored for market orders.
type OrderRequest struct {
	Symbol        string
	Buy           bool
	Quantity      string
	Price         string
	ReduceOnly    bool
	ClientOrderID string
}

// OrderStatus is the venue-reported lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// Terminal reports whether the order can no longer change state.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// Filled reports whether the order executed in full.
func (s OrderStatus) Filled() bool {
	return s == OrderStatusFilled
}

// Order is the venue's view of a submitted order.
type Order struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Status        OrderStatus
	Buy           bool
	ReduceOnly    bool
	OrigQty       float64
	ExecutedQty   float64
	AvgPrice      float64
	Fee           float64 // total commission in the quote currency, set once filled
	CreatedAtMS   int64
	UpdatedAtMS   int64
}

// Fill is a single account trade (one execution of an order).
type Fill struct {
	ID      int64
	OrderID int64
	Symbol  string
	Buy     bool
	Price   float64
	Size    float64
	Fee     float64
	TimeMS  int64
}

// FundingEntry is one funding-fee settlement on a perpetual position.
// Income is signed: negative means the account paid.
type FundingEntry struct {
	Symbol string
	Asset  string
	Income float64
	TimeMS int64
}

// Margin mode names accepted by SetMarginMode.
const (
	MarginModeIsolated = "isolated"
	MarginModeCrossed  = "crossed"
)

// NormalizeMarginMode maps free-form config input onto the two supported
// margin modes, defaulting to isolated.
func NormalizeMarginMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case MarginModeCrossed, "cross":
		return MarginModeCrossed
	default:
		return MarginModeIsolated
	}
}

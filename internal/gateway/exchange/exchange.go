package exchange

import (
	"context"

	"crest/internal/market"
)

// Exchange is the venue abstraction consumed by the executor, the trader and
// the performance bootstrap. Implementations map these calls onto a concrete
// venue SDK; no SDK types leak through this boundary.
type Exchange interface {
	Name() string

	FetchTicker(ctx context.Context, symbol string) (Ticker, error)

	// FetchCandles returns up to limit closed candles for the interval,
	// oldest first. A still-forming candle is never included.
	FetchCandles(ctx context.Context, symbol, interval string, limit int) (market.Candles, error)

	// FetchLiveCandles additionally returns the still-forming candle when
	// the venue reports one; live is false when every candle has closed.
	FetchLiveCandles(ctx context.Context, symbol, interval string, limit int) (closed market.Candles, forming market.Candle, live bool, err error)

	FetchBalance(ctx context.Context) (Balance, error)

	InstrumentLimits(ctx context.Context, symbol string) (Limits, error)

	SetLeverage(ctx context.Context, symbol string, leverage int) error

	SetMarginMode(ctx context.Context, symbol, mode string) error

	SubmitMarketOrder(ctx context.Context, req OrderRequest) (Order, error)

	SubmitLimitOrder(ctx context.Context, req OrderRequest) (Order, error)

	// FetchOrder looks an order up by the client order id supplied at
	// submission. On a filled order the fee field is populated.
	FetchOrder(ctx context.Context, symbol, clientOrderID string) (Order, error)

	CancelOrder(ctx context.Context, symbol, clientOrderID string) error

	// FetchFills returns the account's recent fills for the symbol, oldest
	// first, used to bootstrap realized P&L for pre-existing positions.
	FetchFills(ctx context.Context, symbol string, limit int) ([]Fill, error)

	// FetchFundingIncome returns funding-fee settlements strictly after
	// sinceMS, oldest first.
	FetchFundingIncome(ctx context.Context, symbol string, sinceMS int64) ([]FundingEntry, error)
}

package executor

import (
	"errors"
	"fmt"
	"time"

	"crest/internal/gateway/exchange"
)

// ErrBelowMinSize 下单数量按步进取整后低于交易所最小数量，
// 调用方应放弃本次减仓、改用防御性止损。
var ErrBelowMinSize = errors.New("order size below venue minimum")

// MarginCapError 所需保证金超出本金预算，开仓被本地拒绝。
type MarginCapError struct {
	Notional float64
	Margin   float64
	Budget   float64
}

func (e *MarginCapError) Error() string {
	return fmt.Sprintf("margin %.2f for notional %.2f exceeds budget %.2f USDT", e.Margin, e.Notional, e.Budget)
}

// ConfirmTimeoutError 确认轮询在预算内没有等到成交。订单在交易所的
// 真实状态未知，不做自动撤单重试，留给人工对账处理。
type ConfirmTimeoutError struct {
	Symbol        string
	ClientOrderID string
	OrderID       int64
	LastStatus    exchange.OrderStatus
	Elapsed       time.Duration
}

func (e *ConfirmTimeoutError) Error() string {
	return fmt.Sprintf("order %s (%s) unconfirmed after %s, last status %q",
		e.ClientOrderID, e.Symbol, e.Elapsed.Round(time.Millisecond), e.LastStatus)
}

// OrderNotFilledError 订单在成交前进入了终态（被拒、取消或过期），
// 或确认过程被不可重试的错误打断。
type OrderNotFilledError struct {
	Symbol        string
	ClientOrderID string
	Status        exchange.OrderStatus
	Err           error
}

func (e *OrderNotFilledError) Error() string {
	msg := fmt.Sprintf("order %s (%s) ended %q without fill", e.ClientOrderID, e.Symbol, e.Status)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OrderNotFilledError) Unwrap() error { return e.Err }

// IsConfirmTimeout 判断错误链中是否存在确认超时。
func IsConfirmTimeout(err error) bool {
	var target *ConfirmTimeoutError
	return errors.As(err, &target)
}

// IsMarginCap 判断错误链中是否存在保证金预算拒绝。
func IsMarginCap(err error) bool {
	var target *MarginCapError
	return errors.As(err, &target)
}

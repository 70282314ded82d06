package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crest/internal/gateway/exchange"
)

// fakeClock 把 now/sleep 钩到虚拟时间上，轮询测试不真正等待。
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_000_000, 0)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func testPollOptions(clk *fakeClock) pollOptions {
	return pollOptions{
		interval: 2 * time.Second,
		timeout:  60 * time.Second,
		now:      clk.Now,
		sleep:    clk.Sleep,
	}
}

type orderStep struct {
	ord exchange.Order
	err error
}

func scriptedFetch(t *testing.T, steps []orderStep) fetchOrderFunc {
	idx := 0
	return func(context.Context) (exchange.Order, error) {
		require.Less(t, idx, len(steps), "轮询次数超出脚本")
		step := steps[idx]
		idx++
		return step.ord, step.err
	}
}

func orderWithStatus(status exchange.OrderStatus, executed float64) exchange.Order {
	return exchange.Order{
		OrderID:     42,
		Symbol:      "BNBUSDT",
		Status:      status,
		OrigQty:     0.6,
		ExecutedQty: executed,
		AvgPrice:    100.5,
	}
}

func TestAwaitOrderFilled(t *testing.T) {
	t.Run("首次轮询即成交", func(t *testing.T) {
		clk := newFakeClock()
		fetch := scriptedFetch(t, []orderStep{
			{ord: orderWithStatus(exchange.OrderStatusFilled, 0.6)},
		})
		conf, err := awaitOrder(context.Background(), fetch, testPollOptions(clk))
		require.NoError(t, err)
		assert.Equal(t, ConfirmFilled, conf.State)
		assert.Equal(t, 1, conf.Polls)
		assert.Zero(t, conf.Elapsed)
		assert.Empty(t, clk.sleeps)
	})

	t.Run("未成交期间按固定间隔轮询", func(t *testing.T) {
		clk := newFakeClock()
		fetch := scriptedFetch(t, []orderStep{
			{ord: orderWithStatus(exchange.OrderStatusNew, 0)},
			{ord: orderWithStatus(exchange.OrderStatusPartiallyFilled, 0.3)},
			{ord: orderWithStatus(exchange.OrderStatusFilled, 0.6)},
		})
		conf, err := awaitOrder(context.Background(), fetch, testPollOptions(clk))
		require.NoError(t, err)
		assert.Equal(t, ConfirmFilled, conf.State)
		assert.Equal(t, 3, conf.Polls)
		assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clk.sleeps)
		assert.Equal(t, 4*time.Second, conf.Elapsed)
	})
}

func TestAwaitOrderTransientErrors(t *testing.T) {
	t.Run("瞬时错误把下一次延迟加倍", func(t *testing.T) {
		clk := newFakeClock()
		transient := exchange.Wrap("fetch_order", exchange.KindTransient, fmt.Errorf("timeout"))
		fetch := scriptedFetch(t, []orderStep{
			{err: transient},
			{ord: orderWithStatus(exchange.OrderStatusNew, 0)},
			{ord: orderWithStatus(exchange.OrderStatusFilled, 0.6)},
		})
		conf, err := awaitOrder(context.Background(), fetch, testPollOptions(clk))
		require.NoError(t, err)
		assert.Equal(t, ConfirmFilled, conf.State)
		// 出错后4秒，正常应答后恢复2秒
		assert.Equal(t, []time.Duration{4 * time.Second, 2 * time.Second}, clk.sleeps)
	})

	t.Run("刚提交后查不到订单同样重试", func(t *testing.T) {
		clk := newFakeClock()
		notFound := exchange.Wrap("fetch_order", exchange.KindNotFound, fmt.Errorf("order does not exist"))
		fetch := scriptedFetch(t, []orderStep{
			{err: notFound},
			{ord: orderWithStatus(exchange.OrderStatusFilled, 0.6)},
		})
		conf, err := awaitOrder(context.Background(), fetch, testPollOptions(clk))
		require.NoError(t, err)
		assert.Equal(t, ConfirmFilled, conf.State)
		assert.Equal(t, 2, conf.Polls)
	})
}

func TestAwaitOrderTerminal(t *testing.T) {
	t.Run("不可重试错误立即终止为canceled", func(t *testing.T) {
		clk := newFakeClock()
		fatal := fmt.Errorf("unexpected response shape")
		fetch := scriptedFetch(t, []orderStep{{err: fatal}})
		conf, err := awaitOrder(context.Background(), fetch, testPollOptions(clk))
		require.ErrorIs(t, err, fatal)
		assert.Equal(t, ConfirmCanceled, conf.State)
		assert.Empty(t, clk.sleeps)
	})

	t.Run("交易所终态取消不算错误", func(t *testing.T) {
		clk := newFakeClock()
		fetch := scriptedFetch(t, []orderStep{
			{ord: orderWithStatus(exchange.OrderStatusCanceled, 0)},
		})
		conf, err := awaitOrder(context.Background(), fetch, testPollOptions(clk))
		require.NoError(t, err)
		assert.Equal(t, ConfirmCanceled, conf.State)
		assert.Equal(t, exchange.OrderStatusCanceled, conf.Order.Status)
	})

	t.Run("预算耗尽时恰好进入timed-out", func(t *testing.T) {
		clk := newFakeClock()
		opt := testPollOptions(clk)
		opt.timeout = 5 * time.Second
		steps := make([]orderStep, 0, 8)
		for i := 0; i < 8; i++ {
			steps = append(steps, orderStep{ord: orderWithStatus(exchange.OrderStatusNew, 0)})
		}
		conf, err := awaitOrder(context.Background(), scriptedFetch(t, steps), opt)
		require.NoError(t, err)
		assert.Equal(t, ConfirmTimedOut, conf.State)
		// 2s+2s 之后只剩1秒预算，最后一次等待被截短
		assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, time.Second}, clk.sleeps)
		assert.Equal(t, 5*time.Second, conf.Elapsed)
		assert.Equal(t, 4, conf.Polls)
	})

	t.Run("上下文取消中断等待", func(t *testing.T) {
		clk := newFakeClock()
		opt := testPollOptions(clk)
		opt.sleep = func(context.Context, time.Duration) error { return context.Canceled }
		fetch := scriptedFetch(t, []orderStep{
			{ord: orderWithStatus(exchange.OrderStatusNew, 0)},
		})
		conf, err := awaitOrder(context.Background(), fetch, opt)
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, ConfirmCanceled, conf.State)
	})
}

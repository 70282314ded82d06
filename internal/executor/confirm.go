package executor

import (
	"context"
	"time"

	"crest/internal/gateway/exchange"
	"crest/internal/logger"
)

// ConfirmState 订单确认状态机的状态。
// submitted -> polling -> filled | timed-out | canceled
type ConfirmState string

const (
	ConfirmSubmitted ConfirmState = "submitted"
	ConfirmPolling   ConfirmState = "polling"
	ConfirmFilled    ConfirmState = "filled"
	ConfirmTimedOut  ConfirmState = "timed-out"
	ConfirmCanceled  ConfirmState = "canceled"
)

// Confirmation 是一次确认轮询的终态快照。只有 ConfirmFilled
// 允许写入账本，其余终态由调用方决定善后。
type Confirmation struct {
	State   ConfirmState
	Order   exchange.Order
	Polls   int
	Elapsed time.Duration
}

const (
	defaultPollInterval   = 2 * time.Second
	defaultConfirmTimeout = 60 * time.Second
)

// pollOptions 的 now/sleep 钩子让测试不依赖真实时钟。
type pollOptions struct {
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func defaultPollOptions() pollOptions {
	return pollOptions{
		interval: defaultPollInterval,
		timeout:  defaultConfirmTimeout,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type fetchOrderFunc func(ctx context.Context) (exchange.Order, error)

// awaitOrder 轮询订单直到成交、进入终态或预算耗尽。瞬时错误（含
// 刚提交后短暂查不到订单）把下一次轮询的延迟加倍后继续；其余错误
// 立即以 canceled 终止并返回该错误。超时不算错误，终态由调用方解读。
func awaitOrder(ctx context.Context, fetch fetchOrderFunc, opt pollOptions) (Confirmation, error) {
	start := opt.now()
	deadline := start.Add(opt.timeout)
	conf := Confirmation{State: ConfirmPolling}
	delay := opt.interval
	for {
		ord, err := fetch(ctx)
		conf.Polls++
		switch {
		case err == nil:
			conf.Order = ord
			delay = opt.interval
			if ord.Status.Filled() && ord.ExecutedQty > 0 {
				conf.State = ConfirmFilled
				conf.Elapsed = opt.now().Sub(start)
				return conf, nil
			}
			if ord.Status.Terminal() {
				conf.State = ConfirmCanceled
				conf.Elapsed = opt.now().Sub(start)
				return conf, nil
			}
		case exchange.IsTransient(err) || exchange.IsNotFound(err):
			logger.Warnf("确认订单瞬时错误，延迟后重试: %v", err)
			delay = 2 * opt.interval
		default:
			conf.State = ConfirmCanceled
			conf.Elapsed = opt.now().Sub(start)
			return conf, err
		}

		remaining := deadline.Sub(opt.now())
		if remaining <= 0 {
			conf.State = ConfirmTimedOut
			conf.Elapsed = opt.now().Sub(start)
			return conf, nil
		}
		if delay > remaining {
			delay = remaining
		}
		if err := opt.sleep(ctx, delay); err != nil {
			conf.State = ConfirmCanceled
			conf.Elapsed = opt.now().Sub(start)
			return conf, err
		}
	}
}

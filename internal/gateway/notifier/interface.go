package notifier

import "errors"

// TextNotifier 是推送通道的最小抽象。
// 交易模块只依赖这一层，不关心消息最终发往 Telegram 还是 Bark。
type TextNotifier interface {
	SendText(text string) error
}

// Multi 把同一条消息广播到多个通道。
// 任一通道失败不影响其余通道，所有失败合并成一个错误返回。
type Multi struct {
	targets []TextNotifier
}

// NewMulti 组合多个通道，nil 项被跳过。
func NewMulti(targets ...TextNotifier) *Multi {
	m := &Multi{}
	for _, t := range targets {
		if t != nil {
			m.targets = append(m.targets, t)
		}
	}
	return m
}

// Empty 报告是否没有任何可用通道。
func (m *Multi) Empty() bool { return len(m.targets) == 0 }

func (m *Multi) SendText(text string) error {
	var errs []error
	for _, t := range m.targets {
		if err := t.SendText(text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Package circuit 提供最小化的熔断器：连续失败达到阈值后打开，
// 冷却期结束放行一次探测请求，探测成功即闭合。
package circuit

import (
	"sync"
	"time"

	"crest/internal/logger"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker 按连续失败次数熔断。方法对 nil 接收者安全：
// nil 熔断器永远放行，便于调用方按需注入。
type Breaker struct {
	mu          sync.Mutex
	name        string
	threshold   int
	cooldown    time.Duration
	state       State
	failures    int
	lastFailure time.Time
	now         func() time.Time
}

// NewBreaker 创建闭合状态的熔断器。threshold 是打开前允许的
// 连续失败次数，cooldown 是打开后到首次探测的等待时长。
func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateClosed,
		now:       time.Now,
	}
}

// Allow 报告当前是否放行请求。打开状态下冷却期一过即切到半开，
// 放行单次探测。
func (b *Breaker) Allow() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) > b.cooldown {
			b.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess 清零失败计数，半开状态下闭合熔断器。
func (b *Breaker) RecordSuccess() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.transition(StateClosed)
	}
	b.failures = 0
}

// RecordFailure 累计失败，达到阈值或半开状态探测失败时打开。
func (b *Breaker) RecordFailure() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.threshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	}
}

// Current 返回当前状态，观察用。
func (b *Breaker) Current() State {
	if b == nil {
		return StateClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	logger.Warnf("熔断器 %s 状态切换: %s -> %s (连续失败 %d/%d, 冷却 %s)",
		b.name, from, to, b.failures, b.threshold, b.cooldown)
}

package advisor

import (
	"sync"

	"crest/internal/logger"
	"crest/internal/types"
)

// Paper 模拟盘：未达实盘门槛的可交易建议在这里虚拟成交，
// 结果同样写回绩效窗口，让顾问有机会靠模拟表现重新赢得实盘资格。
// 同一时刻最多一笔模拟仓，进程重启后模拟仓不恢复。
type Paper struct {
	track    *TrackRecord
	notional float64

	mu   sync.Mutex
	open *PaperTrade
}

// PaperTrade 一笔进行中的模拟仓。
type PaperTrade struct {
	Side       types.Side `json:"side"`
	Entry      float64    `json:"entry"`
	Stop       float64    `json:"stop"`
	Target     float64    `json:"target"`
	Confidence int        `json:"confidence"`
	OpenedAtMS int64      `json:"opened_at_ms"`
}

func NewPaper(track *TrackRecord, notional float64) *Paper {
	if notional <= 0 {
		notional = 100
	}
	return &Paper{track: track, notional: notional}
}

// Consider 接收一条未放行的可交易建议。空闲且建议带有与方向自洽的
// 止损止盈时按现价虚拟开仓，否则忽略。建议价位不全的无法复盘，只记日志。
func (p *Paper) Consider(op Opinion, price float64, ts int64) bool {
	if !op.Actionable() || price <= 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open != nil {
		return false
	}
	side := op.Side()
	if !paperLevelsValid(side, price, op.Stop, op.Target) {
		logger.Debugf("模拟盘忽略建议: %s 止损=%.4f 止盈=%.4f 现价=%.4f 价位不自洽",
			op.Direction, op.Stop, op.Target, price)
		return false
	}
	p.open = &PaperTrade{
		Side:       side,
		Entry:      price,
		Stop:       op.Stop,
		Target:     op.Target,
		Confidence: op.Confidence,
		OpenedAtMS: ts,
	}
	logger.Infof("模拟盘开仓: %s @%.4f 止损=%.4f 止盈=%.4f", side, price, op.Stop, op.Target)
	return true
}

// Evaluate 用最新价检查模拟仓。先查止损后查止盈，
// 同一笔行情两者都越过时按更坏的一侧结算。
func (p *Paper) Evaluate(price float64) (closed bool, pnl float64) {
	if price <= 0 {
		return false, 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open == nil {
		return false, 0
	}
	trade := p.open
	var exit float64
	switch trade.Side {
	case types.SideLong:
		if price <= trade.Stop {
			exit = trade.Stop
		} else if price >= trade.Target {
			exit = trade.Target
		}
	case types.SideShort:
		if price >= trade.Stop {
			exit = trade.Stop
		} else if price <= trade.Target {
			exit = trade.Target
		}
	}
	if exit == 0 {
		return false, 0
	}
	pnl = (exit - trade.Entry) / trade.Entry * p.notional * trade.Side.Sign()
	p.open = nil
	p.track.Record(pnl)
	logger.Infof("模拟盘平仓: %s 入场=%.4f 出场=%.4f 模拟盈亏=%+.2f", trade.Side, trade.Entry, exit, pnl)
	return true, pnl
}

// Open 返回进行中模拟仓的副本，空闲时为 nil。
func (p *Paper) Open() *PaperTrade {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open == nil {
		return nil
	}
	cp := *p.open
	return &cp
}

// paperLevelsValid 校验止损止盈在方向正确的两侧。
func paperLevelsValid(side types.Side, price, stop, target float64) bool {
	if stop <= 0 || target <= 0 {
		return false
	}
	switch side {
	case types.SideLong:
		return stop < price && target > price
	case types.SideShort:
		return stop > price && target < price
	}
	return false
}

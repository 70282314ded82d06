// Package entry 实现空仓期的三类入场信号。
//
// 放量尖峰与布林挤压突破都不直接开仓，只负责开启限时的进攻窗口，
// 窗口内趋势确认与回调判定的标准会放宽；回调扫描是唯一真正产生
// 开仓信号的检测器，方向必须与已确认趋势一致。
package entry

import (
	"fmt"
	"time"

	"crest/internal/config"
	"crest/internal/logger"
	"crest/internal/regime"
	"crest/internal/types"
)

// 进攻窗口等级。尖峰窗口覆盖突破窗口，反向不成立。
const (
	WindowNone     = 0
	WindowBreakout = 1
	WindowSpike    = 2
)

// Window 一次限时的进攻窗口。Side 记录触发方向，仅用于展示，
// 窗口期内的放宽对两个方向同样生效。
type Window struct {
	Level     int               `json:"level"`
	Side      types.Side        `json:"side"`
	Reason    types.EntryReason `json:"reason"`
	ArmedAt   time.Time         `json:"armed_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Active 窗口在 now 时刻是否仍然有效。
func (w Window) Active(now time.Time) bool {
	return w.Level != WindowNone && now.Before(w.ExpiresAt)
}

// Signal 回调扫描产出的开仓信号。
type Signal struct {
	Side     types.Side
	Reason   types.EntryReason
	Price    float64
	BandLow  float64
	BandHigh float64
}

// SpikeDiag 尖峰检测的过程数据，供状态接口展示。
type SpikeDiag struct {
	Status          string  `json:"status"`
	Body            float64 `json:"body"`
	BodyThreshold   float64 `json:"body_threshold"`
	Volume          float64 `json:"volume"`
	VolumeThreshold float64 `json:"volume_threshold"`
}

// Engine 持有单品种的入场信号状态：进攻窗口与突破冷却时间。
// 非并发安全，由品种各自的交易循环独占使用。
type Engine struct {
	cfg  config.EntryConfig
	rcfg config.RegimeConfig
	cls  *regime.Classifier

	window         Window
	lastBreakoutAt time.Time
	lastSpike      SpikeDiag
}

func NewEngine(cfg config.EntryConfig, rcfg config.RegimeConfig, cls *regime.Classifier) *Engine {
	return &Engine{
		cfg:       cfg,
		rcfg:      rcfg,
		cls:       cls,
		lastSpike: SpikeDiag{Status: "Monitoring"},
	}
}

// ActiveWindow 返回当前有效的进攻窗口，过期窗口在此懒清理。
func (e *Engine) ActiveWindow(now time.Time) (Window, bool) {
	if e.window.Level == WindowNone {
		return Window{}, false
	}
	if !e.window.Active(now) {
		logger.Infof("进攻窗口到期关闭 (level=%d)", e.window.Level)
		e.window = Window{}
		return Window{}, false
	}
	return e.window, true
}

// GateState 返回供趋势确认使用的窗口等级与量能放宽系数，
// 无窗口时为 (0, 0)。
func (e *Engine) GateState(now time.Time) (int, float64) {
	w, ok := e.ActiveWindow(now)
	if !ok {
		return WindowNone, 0
	}
	if w.Level == WindowSpike {
		return w.Level, e.cfg.Spike.VolumeRelax
	}
	return w.Level, e.cfg.Breakout.VolumeRelax
}

// ClearWindow 手动关闭窗口（入场兑现或持仓建立后调用）。
func (e *Engine) ClearWindow() {
	e.window = Window{}
}

// SpikeDiagnostics 最近一次尖峰检测的过程数据。
func (e *Engine) SpikeDiagnostics() SpikeDiag {
	return e.lastSpike
}

func (e *Engine) arm(w Window, detail string) {
	// 同级同向窗口只顺延到期时间，避免每个循环都刷一条日志
	if e.window.Level == w.Level && e.window.Side == w.Side && e.window.Active(w.ArmedAt) {
		e.window.ExpiresAt = w.ExpiresAt
		return
	}
	e.window = w
	logger.Warnf("🎯 进攻窗口开启 level=%d side=%s 有效至 %s | %s",
		w.Level, w.Side, w.ExpiresAt.Format("15:04:05"), detail)
}

func (e *Engine) zoneMult(w Window) float64 {
	switch w.Level {
	case WindowSpike:
		return e.cfg.Spike.ZoneWidenMult
	case WindowBreakout:
		return e.cfg.Breakout.ZoneWidenMult
	default:
		return 1
	}
}

func fmtRange(low, high float64) string {
	return fmt.Sprintf("[%.4f - %.4f]", low, high)
}

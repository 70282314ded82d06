package trader

import (
	"fmt"
	"math"
	"strings"
	"time"

	"crest/internal/logger"
	"crest/internal/regime"
	"crest/internal/types"
)

// maybePublish 按快照间隔节流地输出状态块并发布给观察端。
// 首轮循环立即发布一次。
func (t *Trader) maybePublish(now time.Time, price float64, res regime.Result) {
	if !t.lastSnapAt.IsZero() && now.Sub(t.lastSnapAt) < t.cfg.App.Snapshot() {
		return
	}
	t.lastSnapAt = now
	snap := t.buildStatus(now, price, res)
	t.logStatus(snap)
	if t.board != nil {
		t.board.Publish(snap)
	}
}

// buildStatus 汇总本轮的趋势诊断、窗口、持仓、动态参数与绩效指标。
// Version 每次发布自增，观察端据此识别陈旧数据。
func (t *Trader) buildStatus(now time.Time, price float64, res regime.Result) types.StatusSnapshot {
	t.version++
	snap := types.StatusSnapshot{
		Symbol:      t.symbol,
		Version:     t.version,
		UpdatedAtMS: now.UnixMilli(),
		Price:       price,
		Regime: types.RegimeStatus{
			Confirmed:   string(t.cls.State().Confirmed),
			Instant:     string(res.Diag.Instant),
			DiffRatio:   res.Diag.DiffRatio,
			Threshold:   res.Diag.Threshold,
			ADX:         res.Diag.ADX,
			FilterSlope: res.Diag.FilterSlope,
			FilterBias:  res.Diag.FilterBias,
			VolumeOK:    res.Diag.VolumeOK,
			RSIOK:       res.Diag.RSIOK,
			GraceLeft:   res.Diag.GraceLeft,
		},
		Dynamics: types.DynamicStatus{
			ZonePct:      t.tunables.ZonePct,
			TrailATRMult: t.tunables.TrailATRMult,
			PyramidStep:  t.tunables.PyramidStep,
		},
		Performance: t.performanceStatus(),
		Advisor:     t.advisoryStatus(),
	}
	if w, ok := t.entries.ActiveWindow(now); ok {
		snap.Window = types.AggressionStatus{Level: w.Level, ExpiresAtMS: w.ExpiresAt.UnixMilli()}
	}
	if pos := t.ledger.Snapshot(); pos.IsOpen() {
		snap.Position = types.PositionStatus{
			Open:          true,
			Side:          string(pos.Side),
			Size:          pos.Size(),
			AvgPrice:      pos.AvgPrice(),
			StopLoss:      pos.StopLoss,
			TakeProfit:    pos.TakeProfit,
			Stage:         float64(pos.StopStage),
			AddCount:      pos.AddCount(),
			PartialExits:  pos.PartialExitCount,
			EntryReason:   string(pos.EntryReason),
			UnrealizedPnL: pos.UnrealizedPnL(price),
			OpenedAtMS:    pos.OpenedAtMS,
		}
	}
	return snap
}

func (t *Trader) performanceStatus() types.PerformanceStatus {
	st := types.PerformanceStatus{
		Score:       0.5,
		TradeCount:  t.tracker.TradeCount(),
		TotalProfit: t.tracker.TotalProfit(),
		Equity:      t.tracker.CurrentEquity(),
	}
	if score, ok := t.tracker.Score(); ok {
		st.Score = score
		st.ScoreValid = true
	}
	if v, ok := t.tracker.WinRate(); ok {
		st.WinRate = v
	}
	if v, ok := t.tracker.PayoffRatio(); ok {
		st.PayoffRatio = v
	}
	if v, ok := t.tracker.MaxDrawdown(); ok {
		st.MaxDrawdown = v
	}
	return st
}

func (t *Trader) advisoryStatus() types.AdvisorStatus {
	if t.advice == nil {
		return types.AdvisorStatus{}
	}
	st := types.AdvisorStatus{
		Enabled:   true,
		Score:     t.advice.track.Score(),
		Samples:   t.advice.track.SampleCount(),
		PaperOpen: t.advice.paper.Open() != nil,
	}
	if t.advice.asked {
		st.LastSignal = t.advice.lastOp.Direction
		st.LastConfidence = t.advice.lastOp.Confidence
	}
	return st
}

// logStatus 渲染人读的状态块。
func (t *Trader) logStatus(snap types.StatusSnapshot) {
	var b strings.Builder
	b.WriteString("----------------- 策略状态快照 -----------------\n")
	if snap.Position.Open {
		pos := snap.Position
		fmt.Fprintf(&b, "持仓状态: %sING\n", strings.ToUpper(pos.Side))
		fmt.Fprintf(&b, "  - 开仓均价: %.4f\n", pos.AvgPrice)
		fmt.Fprintf(&b, "  - 持仓数量: %.5f\n", pos.Size)
		fmt.Fprintf(&b, "  - 浮动盈亏: %+.2f USDT\n", pos.UnrealizedPnL)
		fmt.Fprintf(&b, "  - 追踪止损: %.4f (距离 %.2f%%)\n", pos.StopLoss, distancePct(snap.Price, pos.StopLoss))
		if pos.TakeProfit > 0 {
			fmt.Fprintf(&b, "  - 止盈目标: %.4f (距离 %.2f%%)\n", pos.TakeProfit, distancePct(snap.Price, pos.TakeProfit))
		}
		if line, ok := t.nextPyramidLine(); ok {
			b.WriteString(line)
		}
	} else {
		b.WriteString("持仓状态: 空仓等待信号\n")
	}
	fmt.Fprintf(&b, "市场判断: %s\n", strings.ToUpper(snap.Regime.Confirmed))
	fmt.Fprintf(&b, "账户权益: %.2f USDT\n", snap.Performance.Equity)
	b.WriteString("----------------------------------------------------")
	logger.InfoBlock(b.String())
}

// nextPyramidLine 推算下一次加仓的触发价。已达加仓上限或初始风险
// 不可用时不显示。
func (t *Trader) nextPyramidLine() (string, bool) {
	pos := t.ledger.Snapshot()
	if !pos.IsOpen() || pos.AddCount() >= t.cfg.Risk.PyramidMaxAdds || pos.InitialRiskPerUnit <= 0 {
		return "", false
	}
	step := t.riskEng.Tuning().PyramidTrigger
	rMult := step * float64(pos.AddCount()+1)
	target := pos.Entries[0].Price + pos.InitialRiskPerUnit*rMult*pos.Side.Sign()
	return fmt.Sprintf("  - 下次加仓触发价: %.4f (%.2fR)\n", target, rMult), true
}

func distancePct(price, level float64) float64 {
	if price <= 0 {
		return 0
	}
	return math.Abs(price-level) / price * 100
}

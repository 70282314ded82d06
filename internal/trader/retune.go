package trader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crest/internal/config"
	"crest/internal/gateway/notifier"
	"crest/internal/logger"
	"crest/internal/performance"
	"crest/internal/strategy/risk"
)

// RequestRetune 请求在下一轮循环重算动态参数。档位文件热更新的回调
// 在独立 goroutine 中触发，这里只置标志，重算发生在交易循环内。
func (t *Trader) RequestRetune() {
	t.retuneQueued.Store(true)
}

// perfConfig 返回当前生效的绩效配置：档位注册表存在时用其端点覆盖
// 静态配置里的激进/保守两档。
func (t *Trader) perfConfig() config.PerformanceConfig {
	cfg := t.cfg.Performance
	if t.profiles != nil {
		ep := t.profiles.Endpoints()
		cfg.Aggressive = ep.Aggressive
		cfg.Defensive = ep.Defensive
	}
	return cfg
}

// retune 用绩效得分在激进/保守两档之间插值出动态参数，并下发给
// 风控引擎。样本不足时保持现值不动。
func (t *Trader) retune() {
	score, ok := t.tracker.Score()
	if !ok {
		logger.Infof("[%s] 交易历史不足，暂不进行动态参数调整", t.symbol)
		return
	}
	logger.Infof("[%s] 策略综合表现得分: %.3f，开始调整动态参数...", t.symbol, score)
	t.tunables = performance.Interpolate(t.perfConfig(), score)
	t.riskEng.SetTuning(risk.Tuning{
		TrailATRMult:   t.tunables.TrailATRMult,
		PyramidTrigger: t.tunables.PyramidStep,
	})
	lines := []string{
		fmt.Sprintf("回调区参数: %.2f%%", t.tunables.ZonePct),
		fmt.Sprintf("ATR止损参数: %.2f", t.tunables.TrailATRMult),
		fmt.Sprintf("加仓触发倍数: %.2f", t.tunables.PyramidStep),
	}
	logger.Warnf("[%s] 动态参数已更新 (得分: %.3f): %s", t.symbol, score, strings.Join(lines, " | "))
	t.sendText(notifier.StructuredMessage{
		Icon:  "⚙️",
		Title: fmt.Sprintf("%s 策略参数自适应调整", t.symbol),
		Sections: []notifier.MessageSection{{
			Title: fmt.Sprintf("动态参数已更新 (得分: %.3f)", score),
			Lines: lines,
		}},
		Timestamp: time.Now(),
	}.RenderMarkdown())
}

// syncFunding 把上次水位之后的资金费用结算折入利润账本。
// 返回是否同步成功，失败时调用方不推进同步水位。
func (t *Trader) syncFunding(ctx context.Context) bool {
	logger.Infof("[%s] 开始同步资金费用流水...", t.symbol)
	entries, err := t.exch.FetchFundingIncome(ctx, t.symbol, t.tracker.LastFundingMS())
	if err != nil {
		logger.Errorf("[%s] 同步资金费用时发生错误: %v", t.symbol, err)
		return false
	}
	if len(entries) == 0 {
		logger.Infof("[%s] 未发现新的资金费用记录", t.symbol)
		return true
	}
	fees := make([]performance.FundingFee, 0, len(entries))
	for _, e := range entries {
		fees = append(fees, performance.FundingFee{Asset: e.Asset, Income: e.Income, TimeMS: e.TimeMS})
	}
	t.tracker.AddFunding(fees)
	return true
}

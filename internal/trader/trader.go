// Package trader 是单品种的自治交易循环：拉行情、跑趋势判定与入场
// 信号、驱动风控引擎、把开平仓意图交给执行协调器，并按节拍完成绩效
// 反馈、资金费用同步与状态快照发布。每个品种由独立 goroutine 驱动，
// 品种之间不共享可变状态。
package trader

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"time"

	"crest/internal/advisor"
	"crest/internal/analysis/indicator"
	"crest/internal/analysis/visual"
	"crest/internal/config"
	"crest/internal/executor"
	"crest/internal/gateway/exchange"
	"crest/internal/gateway/notifier"
	"crest/internal/logger"
	"crest/internal/performance"
	"crest/internal/position"
	"crest/internal/profile"
	"crest/internal/regime"
	"crest/internal/strategy/entry"
	"crest/internal/strategy/risk"
	livehttp "crest/internal/transport/http/live"
	"crest/internal/types"
)

// 历史成交回建利润基线时最多拉取的成交笔数。
const fillBootstrapLimit = 1000

// Params 构造一个交易循环所需的全部依赖。除 Config、Symbol 与
// Exchange 外均可为 nil，nil 表示对应能力关闭。
type Params struct {
	Config   *config.Config
	Symbol   string
	Exchange exchange.Exchange
	Notifier notifier.TextNotifier
	Journal  executor.OrderJournal
	Archive  performance.Archiver
	Profiles *profile.Registry
	Advisor  advisor.Advisor
	Board    *livehttp.StatusBoard
}

// Trader 单品种交易循环。所有字段由循环 goroutine 独占访问，
// 唯一的跨 goroutine 入口是 RequestRetune 的原子标志。
type Trader struct {
	cfg    *config.Config
	symbol string
	exch   exchange.Exchange
	notify notifier.TextNotifier

	cls      *regime.Classifier
	entries  *entry.Engine
	ledger   *position.Ledger
	riskEng  *risk.Engine
	coord    *executor.Coordinator
	tracker  *performance.Tracker
	profiles *profile.Registry
	board    *livehttp.StatusBoard
	advice   *advisory

	tunables     performance.Tunables
	retuneQueued atomic.Bool
	prepared     bool

	version       uint64
	lastPerfAt    time.Time
	lastFundingAt time.Time
	lastSnapAt    time.Time
}

// New 组装交易循环。动态参数先取档位中点，第一轮循环即按绩效重算。
func New(p Params) *Trader {
	cls := regime.NewClassifier(p.Config.Regime)
	ledger := position.NewLedger(p.Symbol, p.Config.App.StateDir)
	ledger.SetNotifier(p.Notifier)
	riskEng := risk.New(p.Config, ledger)
	riskEng.SetNotifier(p.Notifier)
	coord := executor.New(p.Config, p.Symbol, p.Exchange, ledger)
	coord.SetNotifier(p.Notifier)
	coord.SetJournal(p.Journal)
	tracker := performance.NewTracker(p.Symbol, p.Config.App.StateDir, p.Config.Trading.InitialPrincipal, p.Config.Performance)
	tracker.SetArchiver(p.Archive)

	t := &Trader{
		cfg:      p.Config,
		symbol:   p.Symbol,
		exch:     p.Exchange,
		notify:   p.Notifier,
		cls:      cls,
		entries:  entry.NewEngine(p.Config.Entry, p.Config.Regime, cls),
		ledger:   ledger,
		riskEng:  riskEng,
		coord:    coord,
		tracker:  tracker,
		profiles: p.Profiles,
		board:    p.Board,
	}
	t.tunables = performance.Midpoint(t.perfConfig())
	if p.Config.Advisor.Enabled && p.Advisor != nil {
		track := advisor.NewTrackRecord(p.Config.App.StateDir, p.Symbol, p.Config.Advisor)
		t.advice = &advisory{
			svc:      p.Advisor,
			gate:     advisor.GateFromConfig(p.Config.Advisor),
			track:    track,
			paper:    advisor.NewPaper(track, p.Config.Trading.InitialPrincipal),
			interval: p.Config.Advisor.CheckDuration(),
		}
	}
	return t
}

// Symbol 返回循环负责的品种。
func (t *Trader) Symbol() string { return t.symbol }

// Prepare 完成启动期工作：恢复持久化状态、按需从历史成交回建利润
// 基线、设置杠杆与保证金模式（失败降级为告警）、同步交易规则并报告
// 上次运行遗留的未决订单。幂等，重复调用直接返回。
func (t *Trader) Prepare(ctx context.Context) error {
	if t.prepared {
		return nil
	}
	if err := t.ledger.Restore(); err != nil {
		return fmt.Errorf("恢复持仓状态失败: %w", err)
	}
	if err := t.tracker.Restore(); err != nil {
		return fmt.Errorf("恢复利润账本失败: %w", err)
	}
	if t.tracker.IsNew() {
		t.bootstrapProfit(ctx)
	}
	if t.advice != nil {
		if err := t.advice.track.Restore(); err != nil {
			return fmt.Errorf("恢复顾问绩效档案失败: %w", err)
		}
		if err := visual.EnsureHeadlessAvailable(ctx); err != nil {
			logger.Warnf("[%s] 未检测到可用的无头浏览器，顾问提示词将不携带K线图: %v", t.symbol, err)
		} else {
			t.advice.chart = true
		}
	}

	lev := t.cfg.Trading.Leverage
	mode := exchange.NormalizeMarginMode(t.cfg.Trading.MarginMode)
	logger.Infof("[%s] 正在设置杠杆为 %dx、保证金模式为 %s...", t.symbol, lev, mode)
	if err := t.exch.SetLeverage(ctx, t.symbol, lev); err != nil {
		logger.Warnf("[%s] 设置杠杆或保证金模式可能失败 (请手动确认): %v", t.symbol, err)
	}
	if err := t.exch.SetMarginMode(ctx, t.symbol, mode); err != nil {
		logger.Warnf("[%s] 设置杠杆或保证金模式可能失败 (请手动确认): %v", t.symbol, err)
	}
	if limits, err := t.exch.InstrumentLimits(ctx, t.symbol); err != nil {
		logger.Warnf("[%s] 获取交易规则失败: %v", t.symbol, err)
	} else {
		t.riskEng.SetMinTradeSize(limits.MinQty)
	}
	t.coord.ReportUnresolved(ctx)

	t.prepared = true
	logger.Infof("[%s] 合约趋势策略初始化成功", t.symbol)
	return nil
}

// bootstrapProfit 账本全新时用历史成交的 FIFO 配对回建利润基线。
// 任何失败都退回从 0 开始，不阻塞启动。
func (t *Trader) bootstrapProfit(ctx context.Context) {
	logger.Warnf("[%s] 利润账本文件不存在，正在尝试从交易所历史成交记录中自动初始化...", t.symbol)
	fills, err := t.exch.FetchFills(ctx, t.symbol, fillBootstrapLimit)
	if err != nil {
		logger.Errorf("[%s] 拉取历史成交失败，利润账本将从 0 开始: %v", t.symbol, err)
		t.tracker.InitializeProfit(0)
		return
	}
	if len(fills) == 0 {
		logger.Infof("[%s] 未在交易所找到任何历史成交记录，利润账本将从 0 开始", t.symbol)
		t.tracker.InitializeProfit(0)
		return
	}
	matched := make([]performance.Fill, 0, len(fills))
	for _, f := range fills {
		matched = append(matched, performance.Fill{
			ID:     strconv.FormatInt(f.ID, 10),
			Buy:    f.Buy,
			Price:  f.Price,
			Size:   f.Size,
			Fee:    f.Fee,
			TimeMS: f.TimeMS,
		})
	}
	total := performance.FIFONetPnL(matched)
	logger.Infof("[%s] 历史成交记录分析完成，计算出的累计净利润为: %.2f USDT", t.symbol, total)
	t.tracker.InitializeProfit(total)
}

// Run 驱动主循环直到 ctx 取消。单轮内的意外错误（含 panic）被兜住：
// 记录、通知、按崩溃冷却时长退避后继续，循环本身永不因策略错误退出。
func (t *Trader) Run(ctx context.Context) error {
	if !t.prepared {
		if err := t.Prepare(ctx); err != nil {
			return err
		}
	}
	logger.Infof("[%s] 主循环启动 (节拍 %s)", t.symbol, t.cfg.App.Cycle())
	for {
		wait, err := t.runCycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait = t.cfg.App.Cooldown()
			logger.Errorf("[%s] 主循环发生致命错误，将等待 %s 后重试: %v", t.symbol, wait, err)
			t.sendText(fmt.Sprintf("‼️ %s 交易循环异常\n%v", t.symbol, err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// runCycle 执行一轮循环并返回下一轮前的等待时长。
// 行情价拿不到只是跳过（短等待），不算错误。
func (t *Trader) runCycle(ctx context.Context) (wait time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			debug.PrintStack()
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	wait = t.cfg.App.Cycle()
	ticker, terr := t.fetchTicker(ctx)
	if terr != nil || ticker.Price <= 0 {
		logger.Warnf("[%s] 无法获取当前价格，本次循环跳过: %v", t.symbol, terr)
		return tickerRetryWait, nil
	}
	price := ticker.Price
	now := time.Now()

	if t.retuneQueued.Swap(false) || t.lastPerfAt.IsZero() ||
		now.Sub(t.lastPerfAt) >= t.cfg.Performance.CheckDuration() {
		t.retune()
		t.lastPerfAt = now
	}
	if t.lastFundingAt.IsZero() || now.Sub(t.lastFundingAt) >= t.cfg.Performance.FundingSyncDuration() {
		if t.syncFunding(ctx) {
			t.lastFundingAt = now
		}
	}
	if t.advice != nil {
		t.advice.paper.Evaluate(price)
	}

	if !t.ledger.IsOpen() {
		return wait, t.flatCycle(ctx, price, now)
	}
	return wait, t.positionCycle(ctx, price, now)
}

// flatCycle 空仓逻辑。信号检查顺序固定：先尖峰（最高优先级）、
// 再突破，二者只开窗口；然后做趋势判定并发布快照；最后扫描回调，
// 命中才真正开仓。回调未命中时把机会让给顾问通道。
func (t *Trader) flatCycle(ctx context.Context, price float64, now time.Time) error {
	md, err := t.fetchMarketData(ctx)
	if err != nil {
		return err
	}

	if md.live {
		t.entries.DetectSpike(md.signal, md.forming, md.filter, now)
	}
	t.entries.DetectBreakout(md.signal, md.filter, now)

	level, relax := t.entries.GateState(now)
	res := t.cls.Evaluate(regime.Input{
		Signal:      md.signal,
		Filter:      md.filter,
		WindowLevel: level,
		WindowRelax: relax,
	})
	t.maybePublish(now, price, res)

	if sig, ok := t.entries.ScanPullback(res.Trend, md.signal, price, t.tunables.ZonePct, now); ok {
		t.openFromSignal(ctx, md, sig)
		return nil
	}
	if t.advice != nil {
		t.consultAdvisor(ctx, md, price, now)
	}
	return nil
}

// positionCycle 持仓逻辑：趋势用瞬时结果（不触碰确认记忆），依次跑
// 金字塔加仓、趋势分歧处置、移动止损与离场检查。
func (t *Trader) positionCycle(ctx context.Context, price float64, now time.Time) error {
	md, err := t.fetchMarketData(ctx)
	if err != nil {
		return err
	}
	t.ledger.ObserveExtremum(price)

	res := t.cls.Evaluate(regime.Input{
		Signal:     md.signal,
		Filter:     md.filter,
		InPosition: true,
	})
	t.maybePublish(now, price, res)

	if plan, ok := t.riskEng.PlanPyramid(res.Trend, price); ok {
		if aerr := t.coord.AddToPosition(ctx, plan.Size); aerr != nil {
			logger.Errorf("[%s] 第 %d 次加仓失败: %v", t.symbol, plan.Seq, aerr)
		} else {
			t.riskEng.SecureAfterAdd(md.filter, price)
		}
	}

	switch dr := t.riskEng.CheckDisagreement(res.Trend, md.filter, price, now); dr.Action {
	case risk.DisagreementPartial:
		rec, perr := t.coord.PartialClose(ctx, dr.Fraction, types.CloseDisagreement)
		switch {
		case perr == nil:
			t.riskEng.SecurePartial()
			t.recordClosed(rec)
		case errors.Is(perr, executor.ErrBelowMinSize):
			logger.Warnf("[%s] 减仓数量不满足交易所最小要求，改为防御性收紧止损", t.symbol)
			t.riskEng.DefensiveTighten(md.filter, price)
		default:
			logger.Errorf("[%s] 部分减仓失败: %v", t.symbol, perr)
		}
	}

	t.riskEng.ManageStops(md.filter, price, now)

	if reason, ok := t.riskEng.CheckExit(price); ok {
		rec, cerr := t.coord.ClosePosition(ctx, reason)
		if cerr != nil {
			logger.Errorf("[%s] 平仓失败: %v", t.symbol, cerr)
			return nil
		}
		t.recordClosed(rec)
		t.riskEng.Reset()
	}
	return nil
}

// openFromSignal 回调信号成交路径。初始止损距离的 ATR 取过滤周期，
// 激进仓位放大只对尖峰窗口的信号生效。开仓失败不升级为循环错误，
// 执行器已经完成了日志与告警。
func (t *Trader) openFromSignal(ctx context.Context, md marketData, sig entry.Signal) {
	atr, ok := indicator.ATRLast(md.filter.Highs(), md.filter.Lows(), md.filter.Closes(), t.cfg.Risk.TrailATRPeriod)
	if !ok {
		logger.Warnf("[%s] 无法获取ATR数据，放弃本次开仓", t.symbol)
		return
	}
	req := executor.OpenRequest{
		Side:       sig.Side,
		Price:      sig.Price,
		ATR:        atr,
		Reason:     sig.Reason,
		Aggressive: sig.Reason == types.ReasonSpikePullback,
	}
	if err := t.coord.OpenPosition(ctx, req); err != nil {
		logger.Errorf("[%s] 开仓失败 (%s): %v", t.symbol, sig.Reason, err)
	}
}

// recordClosed 把已实现交易折入绩效账本；顾问主导的交易同时
// 反馈给顾问绩效档案。
func (t *Trader) recordClosed(rec types.TradeRecord) {
	t.tracker.RecordTrade(rec)
	if t.advice != nil && rec.EntryReason == types.ReasonAdvisor {
		t.advice.track.Record(rec.NetPnL)
	}
}

func (t *Trader) sendText(text string) {
	if t.notify == nil {
		return
	}
	if err := t.notify.SendText(text); err != nil {
		logger.Warnf("[%s] 通知发送失败: %v", t.symbol, err)
	}
}

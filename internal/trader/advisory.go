package trader

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"crest/internal/advisor"
	"crest/internal/analysis/indicator"
	"crest/internal/analysis/visual"
	"crest/internal/executor"
	"crest/internal/logger"
	"crest/internal/market"
	"crest/internal/types"
)

// advisory 聚合顾问通道的全部状态：顾问服务、实盘门槛、绩效档案与
// 模拟盘。只在空仓且回调信号未命中时被咨询。
type advisory struct {
	svc      advisor.Advisor
	gate     advisor.Gate
	track    *advisor.TrackRecord
	paper    *advisor.Paper
	interval time.Duration
	chart    bool

	lastAskAt time.Time
	lastOp    advisor.Opinion
	asked     bool
}

// consultAdvisor 按最小间隔咨询顾问。可交易的建议先过实盘门槛：
// 绩效评分与置信度双达标才实盘，否则进模拟盘累计战绩。
func (t *Trader) consultAdvisor(ctx context.Context, md marketData, price float64, now time.Time) {
	a := t.advice
	if !a.lastAskAt.IsZero() && now.Sub(a.lastAskAt) < a.interval {
		return
	}
	a.lastAskAt = now

	snap, err := t.buildAdvisorSnapshot(ctx, price)
	if err != nil {
		logger.Warnf("[%s] 构建顾问行情快照失败: %v", t.symbol, err)
		return
	}
	op, err := a.svc.Analyze(ctx, snap, a.track.Score())
	if err != nil {
		logger.Warnf("[%s] 顾问分析失败: %v", t.symbol, err)
		return
	}
	a.lastOp = op
	a.asked = true

	if !op.Actionable() {
		logger.Infof("[%s] 顾问建议观望 (置信度 %d): %s", t.symbol, op.Confidence, op.Reason)
		return
	}
	if a.gate.AllowLive(a.track.Score(), op) {
		t.openFromAdvice(ctx, md, op, price)
		return
	}
	logger.Infof("[%s] 顾问建议未达实盘门槛 (评分 %d, 置信度 %d)，转入模拟盘", t.symbol, a.track.Score(), op.Confidence)
	a.paper.Consider(op, price, now.UnixMilli())
}

// buildAdvisorSnapshot 并发拉取 15m/1h/4h 三个周期的K线合成顾问
// 行情快照；无头浏览器可用时附带 15m K线图。
func (t *Trader) buildAdvisorSnapshot(ctx context.Context, price float64) (advisor.MarketSnapshot, error) {
	var m15, h1, h4 market.Candles
	g, gctx := errgroup.WithContext(ctx)
	fetch := func(interval string, out *market.Candles) func() error {
		return func() error {
			return t.withRetry(gctx, func(c context.Context) error {
				candles, err := t.exch.FetchCandles(c, t.symbol, interval, advisorCandleDepth)
				if err != nil {
					return err
				}
				*out = candles
				return nil
			})
		}
	}
	g.Go(fetch("15m", &m15))
	g.Go(fetch("1h", &h1))
	g.Go(fetch("4h", &h4))
	if err := g.Wait(); err != nil {
		return advisor.MarketSnapshot{}, err
	}

	snap, err := advisor.BuildSnapshot(t.symbol, price, m15, h1, h4)
	if err != nil {
		return advisor.MarketSnapshot{}, err
	}
	if t.advice.chart {
		art, rerr := visual.RenderKline(ctx, visual.KlineInput{
			Symbol:   t.symbol,
			Interval: "15m",
			Candles:  m15,
			FastMA:   20,
			SlowMA:   50,
		})
		if rerr != nil {
			logger.Warnf("[%s] 顾问K线图渲染失败: %v", t.symbol, rerr)
		} else if art.HasImage() {
			snap.ChartURI = art.DataURI()
		}
	}
	return snap, nil
}

// openFromAdvice 顾问实盘成交路径。止盈直接采纳建议目标价；止损仍
// 由执行器按 ATR 计算初始值，建议止损只在更紧时收紧。
func (t *Trader) openFromAdvice(ctx context.Context, md marketData, op advisor.Opinion, price float64) {
	atr, ok := indicator.ATRLast(md.filter.Highs(), md.filter.Lows(), md.filter.Closes(), t.cfg.Risk.TrailATRPeriod)
	if !ok {
		logger.Warnf("[%s] 无法获取ATR数据，放弃顾问开仓", t.symbol)
		return
	}
	logger.Infof("📈 %s 顾问实盘信号: %s 置信度 %d | %s", t.symbol, op.Direction, op.Confidence, op.Reason)
	req := executor.OpenRequest{
		Side:       op.Side(),
		Price:      price,
		ATR:        atr,
		TakeProfit: advisor.FillTarget(0, op.Target),
		Reason:     types.ReasonAdvisor,
	}
	if err := t.coord.OpenPosition(ctx, req); err != nil {
		logger.Errorf("[%s] 顾问开仓失败: %v", t.symbol, err)
		return
	}
	pos := t.ledger.Snapshot()
	if tightened := advisor.TightenStop(pos.Side, price, pos.StopLoss, op.Stop); tightened != pos.StopLoss {
		t.ledger.UpdateStop(tightened, "Advisor Suggestion")
	}
}

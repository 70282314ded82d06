// Package executor 负责把策略层的开平仓意图变成交易所订单：
// 风险定仓、提交、确认轮询、成交写回账本、生成平仓记录并推送通知。
// 订单状态只信确认轮询的结果，提交回执不作数。
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"crest/internal/config"
	"crest/internal/executor/journal"
	"crest/internal/gateway/exchange"
	"crest/internal/gateway/notifier"
	"crest/internal/logger"
	"crest/internal/position"
	"crest/internal/types"
)

const (
	purposeOpen         = "open"
	purposeAdd          = "add"
	purposePartialClose = "partial_close"
	purposeClose        = "close"

	stateSubmitFailed = "submit-failed"
)

// OrderJournal 抽象订单流水的写入与未决行查询，SQLite 实现见
// journal 包。
type OrderJournal interface {
	Upsert(ctx context.Context, rec journal.Record) error
	Unresolved(ctx context.Context, symbol string) ([]journal.Record, error)
}

// Coordinator 单品种的执行协调器。同一品种同一时刻只有一个
// 交易循环在驱动它，内部不加锁。
type Coordinator struct {
	cfg     *config.Config
	symbol  string
	exch    exchange.Exchange
	ledger  *position.Ledger
	journal OrderJournal
	notify  notifier.TextNotifier
	poll    pollOptions
}

// New 创建执行协调器，journal 与 notifier 通过 Set 方法按需注入。
func New(cfg *config.Config, sym string, exch exchange.Exchange, led *position.Ledger) *Coordinator {
	return &Coordinator{
		cfg:    cfg,
		symbol: sym,
		exch:   exch,
		ledger: led,
		poll:   defaultPollOptions(),
	}
}

// SetNotifier 注入交易通知通道，nil 表示只写日志。
func (c *Coordinator) SetNotifier(n notifier.TextNotifier) { c.notify = n }

// SetJournal 注入订单流水存储，nil 表示不落盘。
func (c *Coordinator) SetJournal(j OrderJournal) { c.journal = j }

// OpenRequest 一次开仓意图。Price 是定仓参考价，真正的初始止损
// 在成交后按成交均价重新计算。
type OpenRequest struct {
	Side       types.Side
	Price      float64
	ATR        float64
	TakeProfit float64
	Reason     types.EntryReason
	Aggressive bool
	// FixedNotional > 0 时绕过风险定仓，按固定名义价值下单。
	FixedNotional float64
}

// OpenPosition 定仓、市价下单、确认成交并建仓。确认超时与未成交
// 终态都按错误返回，账本只在 filled 后写入。
func (c *Coordinator) OpenPosition(ctx context.Context, req OpenRequest) error {
	if c.ledger.IsOpen() {
		return fmt.Errorf("position already open, refuse to open again")
	}
	if !req.Side.Valid() {
		return fmt.Errorf("invalid side %q", req.Side)
	}
	limits, err := c.exch.InstrumentLimits(ctx, c.symbol)
	if err != nil {
		return fmt.Errorf("获取交易规则失败: %w", err)
	}
	bal, err := c.exch.FetchBalance(ctx)
	if err != nil {
		return fmt.Errorf("获取账户权益失败: %w", err)
	}
	plan, err := c.planEntrySize(bal.Total, req.Price, req.ATR, req.Aggressive, req.FixedNotional, limits)
	if err != nil {
		if IsMarginCap(err) {
			logger.Warnf("[%s] 保证金预算不足，放弃开仓: %v", c.symbol, err)
		}
		return err
	}
	qtyStr := formatQty(plan.Quantity, limits)
	logger.Infof("[%s] 准备开仓: %s | 名义价值 %.2f USDT | 数量: %s",
		c.symbol, upper(req.Side), plan.Notional, qtyStr)

	rec := c.newJournalRecord(purposeOpen, apiSide(req.Side, false), qtyStr, false)
	c.journalWrite(ctx, rec)
	_, err = c.exch.SubmitMarketOrder(ctx, exchange.OrderRequest{
		Symbol:        c.symbol,
		Buy:           req.Side == types.SideLong,
		Quantity:      qtyStr,
		ClientOrderID: rec.ClientOrderID,
	})
	if err != nil {
		rec.State = stateSubmitFailed
		c.journalWrite(ctx, rec)
		c.notifyTradeError(err)
		return fmt.Errorf("开仓下单失败: %w", err)
	}

	conf, cerr := c.await(ctx, rec.ClientOrderID)
	c.journalResult(ctx, rec, conf)
	ord, err := c.requireFill(purposeOpen, rec.ClientOrderID, conf, cerr)
	if err != nil {
		return err
	}

	ts := fillTimestamp(ord)
	distance := c.stopDistance(ord.AvgPrice, req.ATR)
	stop := initialStop(req.Side, ord.AvgPrice, distance)
	if err := c.ledger.Open(req.Side, ord.AvgPrice, ord.ExecutedQty, ord.Fee, stop, req.TakeProfit, ts, req.Reason); err != nil {
		return fmt.Errorf("成交已确认但写入账本失败: %w", err)
	}
	c.sendEvent("📈", fmt.Sprintf("开仓 %s %s", upper(req.Side), c.symbol),
		fmt.Sprintf("原因: %s", req.Reason),
		fmt.Sprintf("价格: %.4f", ord.AvgPrice),
		fmt.Sprintf("数量: %.5f", ord.ExecutedQty),
		fmt.Sprintf("手续费: %.4f USDT", ord.Fee),
		fmt.Sprintf("初始止损: %.4f", stop))
	return nil
}

// AddToPosition 金字塔加仓。数量向上取整到步进、不低于交易所最小
// 数量；成交后只写账本，止损重算由风控引擎负责。
func (c *Coordinator) AddToPosition(ctx context.Context, size float64) error {
	if !c.ledger.IsOpen() {
		return fmt.Errorf("no open position to add to")
	}
	if size <= 0 {
		return fmt.Errorf("invalid add size %v", size)
	}
	pos := c.ledger.Snapshot()
	limits, err := c.exch.InstrumentLimits(ctx, c.symbol)
	if err != nil {
		return fmt.Errorf("获取交易规则失败: %w", err)
	}
	qty := ceilToStep(decFromFloat(size), limits)
	if limits.MinQty > 0 && qty.Cmp(decFromFloat(limits.MinQty)) < 0 {
		logger.Warnf("[%s] 计算出的加仓数量 (%s) 小于最小要求 (%.8f)，自动调整为最小允许数量",
			c.symbol, qty, limits.MinQty)
		qty = ceilToStep(decFromFloat(limits.MinQty), limits)
	}
	if qty.Sign() <= 0 {
		return fmt.Errorf("invalid add quantity after rounding")
	}
	qtyStr := formatQty(qty, limits)
	logger.Infof("[%s] 准备加仓: %s | 数量: %s", c.symbol, upper(pos.Side), qtyStr)

	rec := c.newJournalRecord(purposeAdd, apiSide(pos.Side, false), qtyStr, false)
	c.journalWrite(ctx, rec)
	_, err = c.exch.SubmitMarketOrder(ctx, exchange.OrderRequest{
		Symbol:        c.symbol,
		Buy:           pos.Side == types.SideLong,
		Quantity:      qtyStr,
		ClientOrderID: rec.ClientOrderID,
	})
	if err != nil {
		rec.State = stateSubmitFailed
		c.journalWrite(ctx, rec)
		return fmt.Errorf("加仓下单失败: %w", err)
	}

	conf, cerr := c.await(ctx, rec.ClientOrderID)
	c.journalResult(ctx, rec, conf)
	ord, err := c.requireFill(purposeAdd, rec.ClientOrderID, conf, cerr)
	if err != nil {
		return err
	}
	return c.ledger.Add(ord.AvgPrice, ord.ExecutedQty, ord.Fee, fillTimestamp(ord))
}

// ClosePosition 市价全平。毛盈亏按成交均价对开仓均价计算，
// 净利润再扣除全部开仓手续费与本次平仓手续费。
func (c *Coordinator) ClosePosition(ctx context.Context, reason types.CloseReason) (types.TradeRecord, error) {
	var zero types.TradeRecord
	if !c.ledger.IsOpen() {
		return zero, fmt.Errorf("no open position to close")
	}
	pos := c.ledger.Snapshot()
	limits, err := c.exch.InstrumentLimits(ctx, c.symbol)
	if err != nil {
		return zero, fmt.Errorf("获取交易规则失败: %w", err)
	}
	qty := floorToStep(decFromFloat(pos.Size()), limits)
	if qty.Sign() <= 0 {
		return zero, fmt.Errorf("持仓数量 %.8f 取整后为0，无法平仓", pos.Size())
	}
	qtyStr := formatQty(qty, limits)
	logger.Infof("[%s] 准备平仓: %s | 数量: %s | 原因: %s", c.symbol, upper(pos.Side), qtyStr, reason)

	ord, err := c.submitReduce(ctx, pos.Side, purposeClose, qtyStr)
	if err != nil {
		return zero, err
	}

	trade := c.buildTradeRecord(pos, ord, ord.ExecutedQty, pos.EntryFees(), reason)
	c.ledger.Close()
	c.sendEvent("💰", fmt.Sprintf("平仓 %s %s | 净利润: %+.2f USDT", upper(pos.Side), c.symbol, trade.NetPnL),
		fmt.Sprintf("平仓原因: %s", reason),
		fmt.Sprintf("开仓价: %.4f", trade.EntryPrice),
		fmt.Sprintf("平仓价: %.4f", trade.ExitPrice),
		fmt.Sprintf("总手续费: %.4f", trade.Fees))
	return trade, nil
}

// PartialClose 按比例市价减仓。数量向下取整到步进；取整后不足
// 交易所最小数量、或剩余仓位会跌破最小数量时返回 ErrBelowMinSize，
// 由调用方退回防御性止损。账本按实际成交比例缩减。
func (c *Coordinator) PartialClose(ctx context.Context, fraction float64, reason types.CloseReason) (types.TradeRecord, error) {
	var zero types.TradeRecord
	if !c.ledger.IsOpen() {
		return zero, fmt.Errorf("no open position to reduce")
	}
	if fraction <= 0 || fraction >= 1 {
		return zero, fmt.Errorf("partial close fraction %v out of (0,1)", fraction)
	}
	pos := c.ledger.Snapshot()
	limits, err := c.exch.InstrumentLimits(ctx, c.symbol)
	if err != nil {
		return zero, fmt.Errorf("获取交易规则失败: %w", err)
	}
	total := decFromFloat(pos.Size())
	qty := floorToStep(total.Mul(decFromFloat(fraction)), limits)
	if qty.Sign() <= 0 {
		return zero, ErrBelowMinSize
	}
	if limits.MinQty > 0 {
		minQty := decFromFloat(limits.MinQty)
		if qty.Cmp(minQty) < 0 || total.Sub(qty).Cmp(minQty) < 0 {
			return zero, ErrBelowMinSize
		}
	}
	qtyStr := formatQty(qty, limits)
	logger.Infof("[%s] 准备部分平仓: %s | 数量: %s (%.0f%%)", c.symbol, upper(pos.Side), qtyStr, fraction*100)

	ord, err := c.submitReduce(ctx, pos.Side, purposePartialClose, qtyStr)
	if err != nil {
		return zero, err
	}

	ratio := ord.ExecutedQty / pos.Size()
	entryFeeShare := pos.EntryFees() * ratio
	trade := c.buildTradeRecord(pos, ord, ord.ExecutedQty, entryFeeShare, reason)
	if _, err := c.ledger.PartialClose(ratio); err != nil {
		return trade, fmt.Errorf("成交已确认但账本减仓失败: %w", err)
	}
	remaining := c.ledger.Snapshot()
	c.sendEvent("💰", fmt.Sprintf("部分平仓 %s %s | 净利润: %+.2f USDT", upper(pos.Side), c.symbol, trade.NetPnL),
		fmt.Sprintf("平仓原因: %s", reason),
		fmt.Sprintf("平仓数量: %.5f", ord.ExecutedQty),
		fmt.Sprintf("剩余仓位: %.5f", remaining.Size()),
		fmt.Sprintf("开仓价: %.4f", trade.EntryPrice),
		fmt.Sprintf("平仓价: %.4f", trade.ExitPrice))
	return trade, nil
}

// ReportUnresolved 把上次运行遗留的未决订单写进日志，启动时调用。
func (c *Coordinator) ReportUnresolved(ctx context.Context) {
	if c.journal == nil {
		return
	}
	recs, err := c.journal.Unresolved(ctx, c.symbol)
	if err != nil {
		logger.Warnf("[%s] 查询未决订单失败: %v", c.symbol, err)
		return
	}
	for _, r := range recs {
		logger.Warnf("[%s] 上次运行遗留未决订单，请人工核对: client_id=%s state=%s purpose=%s qty=%s",
			c.symbol, r.ClientOrderID, r.State, r.Purpose, r.RequestQty)
	}
}

// submitReduce 提交 reduce-only 市价单并等待确认，失败路径统一
// 记流水、发告警。
func (c *Coordinator) submitReduce(ctx context.Context, side types.Side, purpose, qtyStr string) (exchange.Order, error) {
	rec := c.newJournalRecord(purpose, apiSide(side, true), qtyStr, true)
	c.journalWrite(ctx, rec)
	_, err := c.exch.SubmitMarketOrder(ctx, exchange.OrderRequest{
		Symbol:        c.symbol,
		Buy:           side == types.SideShort,
		Quantity:      qtyStr,
		ReduceOnly:    true,
		ClientOrderID: rec.ClientOrderID,
	})
	if err != nil {
		rec.State = stateSubmitFailed
		c.journalWrite(ctx, rec)
		c.notifyTradeError(err)
		return exchange.Order{}, fmt.Errorf("%s下单失败: %w", purposeLabel(purpose), err)
	}
	conf, cerr := c.await(ctx, rec.ClientOrderID)
	c.journalResult(ctx, rec, conf)
	return c.requireFill(purpose, rec.ClientOrderID, conf, cerr)
}

// requireFill 把确认终态翻译成调用方可鉴别的错误。只有 filled
// 返回订单本身。
func (c *Coordinator) requireFill(purpose, clientID string, conf Confirmation, cerr error) (exchange.Order, error) {
	switch conf.State {
	case ConfirmFilled:
		logger.Infof("[%s] 订单 %s 已确认成交 (均价: %.4f, 轮询 %d 次)",
			c.symbol, clientID, conf.Order.AvgPrice, conf.Polls)
		return conf.Order, nil
	case ConfirmTimedOut:
		terr := &ConfirmTimeoutError{
			Symbol:        c.symbol,
			ClientOrderID: clientID,
			OrderID:       conf.Order.OrderID,
			LastStatus:    conf.Order.Status,
			Elapsed:       conf.Elapsed,
		}
		logger.Errorf("[%s] %s订单 %s 超时未确认！请手动检查！", c.symbol, purposeLabel(purpose), clientID)
		c.notifyTradeError(terr)
		return exchange.Order{}, terr
	default:
		nferr := &OrderNotFilledError{
			Symbol:        c.symbol,
			ClientOrderID: clientID,
			Status:        conf.Order.Status,
			Err:           cerr,
		}
		logger.Errorf("[%s] %s订单 %s 未成交: %v", c.symbol, purposeLabel(purpose), clientID, nferr)
		c.notifyTradeError(nferr)
		return exchange.Order{}, nferr
	}
}

func (c *Coordinator) await(ctx context.Context, clientID string) (Confirmation, error) {
	fetch := func(ctx context.Context) (exchange.Order, error) {
		return c.exch.FetchOrder(ctx, c.symbol, clientID)
	}
	return awaitOrder(ctx, fetch, c.poll)
}

// buildTradeRecord 用确认成交的订单生成已实现交易记录。
func (c *Coordinator) buildTradeRecord(pos position.Position, ord exchange.Order, closedSize, entryFees float64, reason types.CloseReason) types.TradeRecord {
	gross := grossPnL(pos.Side, pos.AvgPrice(), ord.AvgPrice, closedSize)
	fees := entryFees + ord.Fee
	return types.TradeRecord{
		Symbol:      c.symbol,
		Side:        pos.Side,
		EntryPrice:  pos.AvgPrice(),
		ExitPrice:   ord.AvgPrice,
		Size:        closedSize,
		GrossPnL:    gross,
		Fees:        fees,
		NetPnL:      gross - fees,
		Reason:      reason,
		EntryReason: pos.EntryReason,
		AddCount:    pos.AddCount(),
		OpenedAtMS:  pos.OpenedAtMS,
		ClosedAtMS:  fillTimestamp(ord),
		EntriesJSON: marshalEntries(pos.Entries),
	}
}

func (c *Coordinator) newJournalRecord(purpose, side, qtyStr string, reduceOnly bool) journal.Record {
	now := time.Now()
	return journal.Record{
		ClientOrderID: uuid.NewString(),
		Symbol:        c.symbol,
		Side:          side,
		Purpose:       purpose,
		ReduceOnly:    reduceOnly,
		RequestQty:    qtyStr,
		State:         string(ConfirmSubmitted),
		SubmittedAt:   now,
		UpdatedAt:     now,
	}
}

func (c *Coordinator) journalResult(ctx context.Context, rec journal.Record, conf Confirmation) {
	rec.State = string(conf.State)
	rec.OrderID = conf.Order.OrderID
	rec.FilledQty = conf.Order.ExecutedQty
	rec.AvgPrice = conf.Order.AvgPrice
	rec.Fee = conf.Order.Fee
	rec.ElapsedMS = conf.Elapsed.Milliseconds()
	rec.UpdatedAt = time.Now()
	c.journalWrite(ctx, rec)
}

// journalWrite 流水写失败只告警，不影响交易路径。
func (c *Coordinator) journalWrite(ctx context.Context, rec journal.Record) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Upsert(ctx, rec); err != nil {
		logger.Warnf("[%s] 订单流水写入失败: %v", c.symbol, err)
	}
}

func (c *Coordinator) notifyTradeError(err error) {
	c.sendText(fmt.Sprintf("‼️ %s 交易错误\n交易执行失败: %v", c.symbol, err))
}

// sendEvent 把成交事件按统一版式推送：图标加标题，明细走代码块。
func (c *Coordinator) sendEvent(icon, title string, lines ...string) {
	c.sendText(notifier.StructuredMessage{
		Icon:      icon,
		Title:     title,
		Sections:  []notifier.MessageSection{{Lines: lines}},
		Timestamp: time.Now(),
	}.RenderMarkdown())
}

func (c *Coordinator) sendText(text string) {
	if c.notify == nil {
		return
	}
	if err := c.notify.SendText(text); err != nil {
		logger.Warnf("[%s] 通知发送失败: %v", c.symbol, err)
	}
}

func fillTimestamp(ord exchange.Order) int64 {
	if ord.UpdatedAtMS > 0 {
		return ord.UpdatedAtMS
	}
	if ord.CreatedAtMS > 0 {
		return ord.CreatedAtMS
	}
	return time.Now().UnixMilli()
}

func marshalEntries(entries []position.Entry) string {
	if len(entries) == 0 {
		return ""
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return ""
	}
	return string(raw)
}

func apiSide(side types.Side, closing bool) string {
	buy := side == types.SideLong
	if closing {
		buy = !buy
	}
	if buy {
		return "buy"
	}
	return "sell"
}

func purposeLabel(purpose string) string {
	switch purpose {
	case purposeOpen:
		return "开仓"
	case purposeAdd:
		return "加仓"
	case purposePartialClose:
		return "部分平仓"
	default:
		return "平仓"
	}
}

func upper(side types.Side) string {
	return strings.ToUpper(string(side))
}

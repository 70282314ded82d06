// Package performance 维护单品种的已实现盈亏账本与净值曲线：
// 每笔平仓与每笔资金费用都折入累计利润并生成净值点，
// 综合得分再反馈为策略参数档位（见 score.go）。
package performance

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"crest/internal/config"
	"crest/internal/logger"
	"crest/internal/pkg/symbol"
	"crest/internal/store/statefile"
	"crest/internal/types"
)

// Archiver 把成交记录与净值点写入外部归档库，供图表与历史查询使用。
// 归档失败只记日志，不影响账本本身。
type Archiver interface {
	ArchiveTrade(rec types.TradeRecord) error
	ArchiveEquity(sym string, snap types.EquitySnapshot) error
}

type state struct {
	TotalProfit   float64                `json:"total_profit"`
	Trades        []types.TradeRecord    `json:"trades_history"`
	Equity        []types.EquitySnapshot `json:"equity_history"`
	LastFundingMS int64                  `json:"last_funding_fee_timestamp"`
}

// Tracker 单品种绩效账本。状态整体读写一个 JSON 文件，
// 每次变更立即落盘。并发安全由单一持有者（交易循环）保证。
type Tracker struct {
	symbol    string
	path      string
	principal float64
	cfg       config.PerformanceConfig
	st        state
	isNew     bool
	archive   Archiver
}

// NewTracker 创建账本，状态文件位于 stateDir/futures_profit_<SYMBOL>.json。
func NewTracker(sym, stateDir string, principal float64, cfg config.PerformanceConfig) *Tracker {
	name := fmt.Sprintf("futures_profit_%s.json", symbol.FileToken(sym))
	return &Tracker{
		symbol:    sym,
		path:      filepath.Join(stateDir, name),
		principal: principal,
		cfg:       cfg,
		isNew:     true,
	}
}

// SetArchiver 注入归档库，nil 表示不归档。
func (t *Tracker) SetArchiver(a Archiver) { t.archive = a }

// Restore 从状态文件恢复。文件缺失或损坏时按全新账本处理，
// 净值曲线以本金起步；是否全新可通过 IsNew 查询，
// 全新账本允许调用方从交易所历史成交回建利润基线。
func (t *Tracker) Restore() error {
	found, err := statefile.Load(t.path, &t.st)
	if err != nil {
		return err
	}
	if !found {
		t.isNew = true
		t.st = state{}
		t.appendEquity(time.Now().UnixMilli(), t.principal)
		logger.Infof("[%s] 未找到业绩记录文件，将创建新的记录", t.symbol)
		return nil
	}
	t.isNew = false
	if len(t.st.Equity) == 0 {
		t.appendEquity(time.Now().UnixMilli(), t.principal+t.st.TotalProfit)
	}
	logger.Infof("[%s] 成功恢复业绩记录: %d 笔交易, 累计利润 %.4f USDT",
		t.symbol, len(t.st.Trades), t.st.TotalProfit)
	return nil
}

func (t *Tracker) Symbol() string       { return t.symbol }
func (t *Tracker) IsNew() bool          { return t.isNew }
func (t *Tracker) TotalProfit() float64 { return t.st.TotalProfit }
func (t *Tracker) TradeCount() int      { return len(t.st.Trades) }
func (t *Tracker) LastFundingMS() int64 { return t.st.LastFundingMS }

// CurrentEquity 当前净值 = 本金 + 累计已实现利润。
func (t *Tracker) CurrentEquity() float64 { return t.principal + t.st.TotalProfit }

// History 返回成交历史的副本。
func (t *Tracker) History() []types.TradeRecord {
	out := make([]types.TradeRecord, len(t.st.Trades))
	copy(out, t.st.Trades)
	return out
}

// EquityCurve 返回净值曲线的副本。
func (t *Tracker) EquityCurve() []types.EquitySnapshot {
	out := make([]types.EquitySnapshot, len(t.st.Equity))
	copy(out, t.st.Equity)
	return out
}

// RecordTrade 记录一笔已实现交易：净盈亏折入累计利润并生成净值点。
// 净值点的时间取成交的平仓时间而不是墙钟，回放与图表因此可复现。
func (t *Tracker) RecordTrade(rec types.TradeRecord) {
	t.st.TotalProfit += rec.NetPnL
	t.st.Trades = append(t.st.Trades, rec)

	ts := rec.ClosedAtMS
	if ts <= 0 {
		ts = time.Now().UnixMilli()
	}
	snap := t.appendEquity(ts, t.principal+t.st.TotalProfit)

	logger.Infof("[%s] 记录一笔已实现交易: 盈亏 %+.4f USDT | 累计总利润: %.4f USDT | 新净值: %.4f USDT",
		t.symbol, rec.NetPnL, t.st.TotalProfit, snap.Equity)
	if t.archive != nil {
		if err := t.archive.ArchiveTrade(rec); err != nil {
			logger.Errorf("[%s] 归档成交记录失败: %v", t.symbol, err)
		}
		if err := t.archive.ArchiveEquity(t.symbol, snap); err != nil {
			logger.Errorf("[%s] 归档净值点失败: %v", t.symbol, err)
		}
	}
	t.save()
}

// FundingFee 交易所资金费用流水中的一笔结算。
type FundingFee struct {
	Asset  string
	Income float64
	TimeMS int64
}

// AddFunding 把新的资金费用结算折入累计利润。只处理 USDT 资产且
// 时间戳晚于水位线的记录，每笔结算各生成一个净值点，处理完推进水位线。
func (t *Tracker) AddFunding(fees []FundingFee) {
	fresh := make([]FundingFee, 0, len(fees))
	for _, f := range fees {
		if f.Asset == "USDT" && f.TimeMS > t.st.LastFundingMS {
			fresh = append(fresh, f)
		}
	}
	if len(fresh) == 0 {
		logger.Infof("[%s] 未发现需要同步的新的资金费用记录", t.symbol)
		return
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].TimeMS < fresh[j].TimeMS })

	total := 0.0
	latest := t.st.LastFundingMS
	for _, f := range fresh {
		t.st.TotalProfit += f.Income
		total += f.Income
		snap := t.appendEquity(f.TimeMS, t.principal+t.st.TotalProfit)
		if t.archive != nil {
			if err := t.archive.ArchiveEquity(t.symbol, snap); err != nil {
				logger.Errorf("[%s] 归档净值点失败: %v", t.symbol, err)
			}
		}
		if f.TimeMS > latest {
			latest = f.TimeMS
		}
	}
	t.st.LastFundingMS = latest
	logger.Infof("[%s] 同步到 %d 笔新的资金费用，共计: %+.4f USDT。累计总利润更新为: %.4f USDT",
		t.symbol, len(fresh), total, t.st.TotalProfit)
	t.save()
}

// InitializeProfit 在账本全新时用历史回建的累计利润做基线。
func (t *Tracker) InitializeProfit(total float64) {
	t.st.TotalProfit = total
	t.appendEquity(time.Now().UnixMilli(), t.principal+total)
	t.isNew = false
	logger.Infof("[%s] 利润账本以历史累计净利润 %.4f USDT 初始化", t.symbol, total)
	t.save()
}

// appendEquity 插入一个净值点并保持时间戳有序；同一时间戳覆盖旧值。
func (t *Tracker) appendEquity(ts int64, equity float64) types.EquitySnapshot {
	snap := types.EquitySnapshot{TimeMS: ts, Equity: equity}
	n := len(t.st.Equity)
	if n == 0 || ts > t.st.Equity[n-1].TimeMS {
		t.st.Equity = append(t.st.Equity, snap)
		return snap
	}
	i := sort.Search(n, func(i int) bool { return t.st.Equity[i].TimeMS >= ts })
	if i < n && t.st.Equity[i].TimeMS == ts {
		t.st.Equity[i] = snap
		return snap
	}
	t.st.Equity = append(t.st.Equity, types.EquitySnapshot{})
	copy(t.st.Equity[i+1:], t.st.Equity[i:])
	t.st.Equity[i] = snap
	return snap
}

func (t *Tracker) save() {
	if err := statefile.Save(t.path, &t.st); err != nil {
		logger.Errorf("[%s] 保存业绩记录失败: %v", t.symbol, err)
	}
}

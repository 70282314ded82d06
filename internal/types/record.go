package types

// TradeRecord 一笔已实现的平仓记录（完全或部分平仓各记一笔），
// 只追加不修改。EntriesJSON 保存平仓时的成交明细，便于事后复盘。
type TradeRecord struct {
	Symbol      string      `json:"symbol"`
	Side        Side        `json:"side"`
	EntryPrice  float64     `json:"entry_price"`
	ExitPrice   float64     `json:"exit_price"`
	Size        float64     `json:"size"`
	GrossPnL    float64     `json:"gross_pnl"`
	Fees        float64     `json:"total_fees"`
	NetPnL      float64     `json:"net_pnl"`
	Reason      CloseReason `json:"reason"`
	EntryReason EntryReason `json:"entry_reason,omitempty"`
	AddCount    int         `json:"add_count,omitempty"`
	OpenedAtMS  int64       `json:"entry_timestamp"`
	ClosedAtMS  int64       `json:"exit_timestamp"`
	EntriesJSON string      `json:"entries_json,omitempty"`
}

// Win 按净盈亏判定胜负。
func (t TradeRecord) Win() bool { return t.NetPnL > 0 }

// EquitySnapshot 净值曲线上的一个点，实现盈亏变动时追加。
type EquitySnapshot struct {
	TimeMS int64   `json:"timestamp"`
	Equity float64 `json:"equity"`
}

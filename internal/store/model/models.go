package model

import "gorm.io/datatypes"

// TradeModel maps to the 'realized_trades' table. One row per realized
// close (full or partial), append-only. The unique index guards against
// replaying the same close across restarts.
type TradeModel struct {
	ID          int64          `gorm:"column:id;primaryKey"`
	Symbol      string         `gorm:"column:symbol;uniqueIndex:idx_trade_close,priority:1;index"`
	Side        string         `gorm:"column:side"`
	EntryPrice  float64        `gorm:"column:entry_price"`
	ExitPrice   float64        `gorm:"column:exit_price"`
	Size        float64        `gorm:"column:size"`
	GrossPnL    float64        `gorm:"column:gross_pnl"`
	Fees        float64        `gorm:"column:total_fees"`
	NetPnL      float64        `gorm:"column:net_pnl"`
	Reason      string         `gorm:"column:reason"`
	EntryReason string         `gorm:"column:entry_reason"`
	AddCount    int            `gorm:"column:add_count"`
	Entries     datatypes.JSON `gorm:"column:entries_json;type:TEXT"`
	OpenedAtMS  int64          `gorm:"column:entry_timestamp;uniqueIndex:idx_trade_close,priority:2"`
	ClosedAtMS  int64          `gorm:"column:exit_timestamp;uniqueIndex:idx_trade_close,priority:3;index"`
}

func (TradeModel) TableName() string { return "realized_trades" }

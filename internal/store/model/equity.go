package model

// EquityPointModel maps to the 'equity_curve' table. Points land on trade
// closes and funding settlements; the unique index makes refetched
// settlements replace instead of duplicate.
type EquityPointModel struct {
	ID     int64   `gorm:"column:id;primaryKey"`
	Symbol string  `gorm:"column:symbol;uniqueIndex:idx_equity_symbol_ts,priority:1;index"`
	TimeMS int64   `gorm:"column:timestamp;uniqueIndex:idx_equity_symbol_ts,priority:2"`
	Equity float64 `gorm:"column:equity"`
}

func (EquityPointModel) TableName() string { return "equity_curve" }

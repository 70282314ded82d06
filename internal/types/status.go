package types

// StatusSnapshot 是交易循环每轮发布的只读状态切面。
// 纯值类型，不引用任何策略内部对象；观察端拿到的是副本，
// Version 由发布侧按品种单调递增。
type StatusSnapshot struct {
	Symbol      string            `json:"symbol"`
	Version     uint64            `json:"version"`
	UpdatedAtMS int64             `json:"updated_at_ms"`
	Price       float64           `json:"price"`
	Regime      RegimeStatus      `json:"regime"`
	Window      AggressionStatus  `json:"aggression_window"`
	Position    PositionStatus    `json:"position"`
	Dynamics    DynamicStatus     `json:"dynamics"`
	Performance PerformanceStatus `json:"performance"`
	Advisor     AdvisorStatus     `json:"advisor"`
}

// RegimeStatus 趋势分类器最近一轮评估的观测值。
type RegimeStatus struct {
	Confirmed   string  `json:"confirmed"`
	Instant     string  `json:"instant"`
	DiffRatio   float64 `json:"diff_ratio"`
	Threshold   float64 `json:"threshold"`
	ADX         float64 `json:"adx"`
	FilterSlope float64 `json:"filter_slope"`
	FilterBias  string  `json:"filter_bias"`
	VolumeOK    bool    `json:"volume_ok"`
	RSIOK       bool    `json:"rsi_ok"`
	GraceLeft   int     `json:"grace_left"`
}

// AggressionStatus 激进窗口状态，Level 0 表示无窗口。
type AggressionStatus struct {
	Level       int   `json:"level"`
	ExpiresAtMS int64 `json:"expires_at_ms,omitempty"`
}

// PositionStatus 持仓视图。Open 为 false 时其余字段无意义。
type PositionStatus struct {
	Open          bool    `json:"open"`
	Side          string  `json:"side,omitempty"`
	Size          float64 `json:"size,omitempty"`
	AvgPrice      float64 `json:"avg_price,omitempty"`
	StopLoss      float64 `json:"stop_loss,omitempty"`
	TakeProfit    float64 `json:"take_profit,omitempty"`
	Stage         float64 `json:"stage,omitempty"`
	AddCount      int     `json:"add_count,omitempty"`
	PartialExits  int     `json:"partial_exits,omitempty"`
	EntryReason   string  `json:"entry_reason,omitempty"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	OpenedAtMS    int64   `json:"opened_at_ms,omitempty"`
}

// DynamicStatus 绩效反馈当前生效的三个动态参数。
type DynamicStatus struct {
	ZonePct      float64 `json:"zone_pct"`
	TrailATRMult float64 `json:"trail_atr_mult"`
	PyramidStep  float64 `json:"pyramid_step"`
}

// PerformanceStatus 绩效追踪器的汇总指标。
// ScoreValid 为 false 表示样本不足，Score 取中性档。
type PerformanceStatus struct {
	Score       float64 `json:"score"`
	ScoreValid  bool    `json:"score_valid"`
	WinRate     float64 `json:"win_rate"`
	PayoffRatio float64 `json:"payoff_ratio"`
	MaxDrawdown float64 `json:"max_drawdown"`
	TradeCount  int     `json:"trade_count"`
	TotalProfit float64 `json:"total_profit"`
	Equity      float64 `json:"equity"`
}

// AdvisorStatus 顾问通道的运行状态，未启用时 Enabled 为 false。
type AdvisorStatus struct {
	Enabled        bool   `json:"enabled"`
	Score          int    `json:"score,omitempty"`
	Samples        int    `json:"samples,omitempty"`
	LastSignal     string `json:"last_signal,omitempty"`
	LastConfidence int    `json:"last_confidence,omitempty"`
	PaperOpen      bool   `json:"paper_open,omitempty"`
}

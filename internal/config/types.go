package config

import (
	"strings"
	"time"

	"crest/internal/scheduler"
)

// Config 是 crest 的主配置载体。
type Config struct {
	App         AppConfig         `toml:"app"`
	Venue       VenueConfig       `toml:"venue"`
	Trading     TradingConfig     `toml:"trading"`
	Regime      RegimeConfig      `toml:"regime"`
	Entry       EntryConfig       `toml:"entry"`
	Risk        RiskConfig        `toml:"risk"`
	Performance PerformanceConfig `toml:"performance"`
	Advisor     AdvisorConfig     `toml:"advisor"`
	Notify      NotifyConfig      `toml:"notify"`
	Store       StoreConfig       `toml:"store"`
	Observer    ObserverConfig    `toml:"observer"`
}

type AppConfig struct {
	Env              string `toml:"env"`
	LogLevel         string `toml:"log_level"`
	LogPath          string `toml:"log_path"`
	LLMLog           string `toml:"llm_log"`
	LLMDump          bool   `toml:"llm_dump"`
	StateDir         string `toml:"state_dir"`
	CycleInterval    string `toml:"cycle_interval"`
	SnapshotInterval string `toml:"snapshot_interval"`
	CrashCooldown    string `toml:"crash_cooldown"`
}

// Cycle 返回主循环节拍。
func (a *AppConfig) Cycle() time.Duration {
	return durationOr(a.CycleInterval, defaultAppCycleInterval)
}

// Snapshot 返回行情快照的最小刷新间隔。
func (a *AppConfig) Snapshot() time.Duration {
	return durationOr(a.SnapshotInterval, defaultAppSnapshotInterval)
}

// Cooldown 返回单轮循环崩溃后的退避时长。
func (a *AppConfig) Cooldown() time.Duration {
	return durationOr(a.CrashCooldown, defaultAppCrashCooldown)
}

// VenueConfig 描述交易所接入参数。
type VenueConfig struct {
	Name        string  `toml:"name"`
	APIKey      string  `toml:"api_key"`
	APISecret   string  `toml:"api_secret"`
	Testnet     bool    `toml:"testnet"`
	ProxyURL    string  `toml:"proxy_url"`
	MinNotional float64 `toml:"min_notional"`
}

// TradingConfig 控制资金、杠杆与初始止损。
type TradingConfig struct {
	Symbols          []string `toml:"symbols"`
	Leverage         int      `toml:"leverage"`
	MarginMode       string   `toml:"margin_mode"`
	InitialPrincipal float64  `toml:"initial_principal"`
	RiskPerTradePct  float64  `toml:"risk_per_trade_pct"`
	StopLossPct      float64  `toml:"stop_loss_pct"`
	StopLossMode     string   `toml:"stop_loss_mode"`
	ATRStopMult      float64  `toml:"atr_stop_mult"`
	ATRStopFloorPct  float64  `toml:"atr_stop_floor_pct"`
	MaxMarginRatio   float64  `toml:"max_margin_ratio"`
}

// RegimeConfig 控制趋势判定与横盘确认门槛。
type RegimeConfig struct {
	SignalTimeframe     string  `toml:"signal_timeframe"`
	FilterTimeframe     string  `toml:"filter_timeframe"`
	RangingMode         bool    `toml:"ranging_mode"`
	FastMA              int     `toml:"fast_ma"`
	SlowMA              int     `toml:"slow_ma"`
	FilterMA            int     `toml:"filter_ma"`
	FilterSlopePeriods  int     `toml:"filter_slope_periods"`
	FilterSlopeDeadband float64 `toml:"filter_slope_deadband"`
	ADXPeriod           int     `toml:"adx_period"`
	ADXStrong           float64 `toml:"adx_strong"`
	ADXWeak             float64 `toml:"adx_weak"`
	MultStrong          float64 `toml:"mult_strong"`
	MultWeak            float64 `toml:"mult_weak"`
	MultNeutral         float64 `toml:"mult_neutral"`
	ThresholdATRSpan    int     `toml:"threshold_atr_span"`
	GraceCandles        int     `toml:"grace_candles"`
	VolumeMAPeriod      int     `toml:"volume_ma_period"`
	RSIPeriod           int     `toml:"rsi_period"`
	RSIUpper            float64 `toml:"rsi_upper"`
	RSILower            float64 `toml:"rsi_lower"`
	VolumeBase          float64 `toml:"volume_base"`
	VolumeATRShort      int     `toml:"volume_atr_short"`
	VolumeATRLong       int     `toml:"volume_atr_long"`
	VolumeFactor        float64 `toml:"volume_factor"`
	VolumeMin           float64 `toml:"volume_min"`
	VolumeMax           float64 `toml:"volume_max"`
}

type EntryConfig struct {
	Pullback PullbackConfig `toml:"pullback"`
	Breakout BreakoutConfig `toml:"breakout"`
	Spike    SpikeConfig    `toml:"spike"`
}

type PullbackConfig struct {
	MomentumCandles int     `toml:"momentum_candles"`
	QualityMaxRatio float64 `toml:"quality_max_ratio"`
}

type BreakoutConfig struct {
	BBPeriod          int     `toml:"bb_period"`
	BBStdDev          float64 `toml:"bb_std_dev"`
	SqueezeLookback   int     `toml:"squeeze_lookback"`
	SqueezePercentile float64 `toml:"squeeze_percentile"`
	Cooldown          string  `toml:"cooldown"`
	WindowTTL         string  `toml:"window_ttl"`
	ZoneWidenMult     float64 `toml:"zone_widen_mult"`
	VolumeRelax       float64 `toml:"volume_relax"`
	ConfirmVolume     bool    `toml:"confirm_volume"`
	ConfirmRSI        bool    `toml:"confirm_rsi"`
}

// CooldownDuration 返回突破信号的冷却时长。
func (b *BreakoutConfig) CooldownDuration() time.Duration {
	return durationOr(b.Cooldown, defaultBreakoutCooldown)
}

// WindowDuration 返回突破触发的激进窗口时长。
func (b *BreakoutConfig) WindowDuration() time.Duration {
	return durationOr(b.WindowTTL, defaultBreakoutWindowTTL)
}

type SpikeConfig struct {
	ATRPeriod     int     `toml:"atr_period"`
	BodyATRMult   float64 `toml:"body_atr_mult"`
	VolumeMult    float64 `toml:"volume_mult"`
	WindowTTL     string  `toml:"window_ttl"`
	ZoneWidenMult float64 `toml:"zone_widen_mult"`
	VolumeRelax   float64 `toml:"volume_relax"`
	EntryGrace    string  `toml:"entry_grace"`
	SizeMult      float64 `toml:"size_mult"`
}

// WindowDuration 返回异动触发的激进窗口时长。
func (s *SpikeConfig) WindowDuration() time.Duration {
	return durationOr(s.WindowTTL, defaultSpikeWindowTTL)
}

// GraceDuration 返回异动入场后趋势分歧的豁免时长。
func (s *SpikeConfig) GraceDuration() time.Duration {
	return durationOr(s.EntryGrace, defaultSpikeEntryGrace)
}

// RiskConfig 控制移动止损、加仓与趋势分歧处理。
type RiskConfig struct {
	TrailATRPeriod        int     `toml:"trail_atr_period"`
	Stage1ActivationR     float64 `toml:"stage1_activation_r"`
	PromotionR            float64 `toml:"promotion_r"`
	ChandelierPeriod      int     `toml:"chandelier_period"`
	ChandelierATRMult     float64 `toml:"chandelier_atr_mult"`
	WidenATRShort         int     `toml:"widen_atr_short"`
	WidenATRLong          int     `toml:"widen_atr_long"`
	AdaptiveWidenCap      float64 `toml:"adaptive_widen_cap"`
	StopUpdateMinInterval string  `toml:"stop_update_min_interval"`
	ExhaustionADXLevel    float64 `toml:"exhaustion_adx_level"`
	ExhaustionFallPeriods int     `toml:"exhaustion_fall_periods"`
	PyramidMaxAdds        int     `toml:"pyramid_max_adds"`
	PyramidSizeRatio      float64 `toml:"pyramid_size_ratio"`
	DisagreementMax       int     `toml:"disagreement_max"`
	DefensiveATRMult      float64 `toml:"defensive_atr_mult"`
	PartialFraction       float64 `toml:"partial_fraction"`
}

// StopUpdateInterval 返回两次止损上调之间的最小间隔。
func (r *RiskConfig) StopUpdateInterval() time.Duration {
	return durationOr(r.StopUpdateMinInterval, defaultRiskStopUpdateInterval)
}

// PerformanceConfig 控制绩效评估与参数档位反馈。
type PerformanceConfig struct {
	CheckInterval       string       `toml:"check_interval"`
	MinTrades           int          `toml:"min_trades"`
	WeightWinRate       float64      `toml:"weight_win_rate"`
	WeightPayoff        float64      `toml:"weight_payoff"`
	WeightDrawdown      float64      `toml:"weight_drawdown"`
	FundingSyncInterval string       `toml:"funding_sync_interval"`
	ProfilePath         string       `toml:"profile_path"`
	Aggressive          ProfilePoint `toml:"aggressive"`
	Defensive           ProfilePoint `toml:"defensive"`
}

// CheckDuration 返回绩效评估周期。
func (p *PerformanceConfig) CheckDuration() time.Duration {
	return durationOr(p.CheckInterval, defaultPerfCheckInterval)
}

// FundingSyncDuration 返回资金费率同步周期。
func (p *PerformanceConfig) FundingSyncDuration() time.Duration {
	return durationOr(p.FundingSyncInterval, defaultPerfFundingSync)
}

// ProfilePoint 是参数档位插值的一个端点。
type ProfilePoint struct {
	ZonePct      float64 `toml:"zone_pct"`
	TrailATRMult float64 `toml:"trail_atr_mult"`
	PyramidStep  float64 `toml:"pyramid_step"`
}

// AdvisorConfig 控制可选的 AI 顾问通道。
type AdvisorConfig struct {
	Enabled            bool    `toml:"enabled"`
	BaseURL            string  `toml:"base_url"`
	APIKey             string  `toml:"api_key"`
	Model              string  `toml:"model"`
	TimeoutSeconds     int     `toml:"timeout_seconds"`
	MaxRetries         int     `toml:"max_retries"`
	CheckInterval      string  `toml:"check_interval"`
	LookbackTrades     int     `toml:"lookback_trades"`
	MinTrades          int     `toml:"min_trades"`
	StartScore         int     `toml:"start_score"`
	Smoothing          float64 `toml:"smoothing"`
	LiveScoreThreshold int     `toml:"live_score_threshold"`
	MinConfidence      int     `toml:"min_confidence"`
	FearGreedCacheTTL  string  `toml:"fear_greed_cache_ttl"`
}

// CheckDuration 返回两次顾问咨询之间的最小间隔。
func (a *AdvisorConfig) CheckDuration() time.Duration {
	return durationOr(a.CheckInterval, defaultAdvisorCheckInterval)
}

// FearGreedTTL 返回恐慌贪婪指数的缓存时长。
func (a *AdvisorConfig) FearGreedTTL() time.Duration {
	return durationOr(a.FearGreedCacheTTL, defaultAdvisorFearGreedTTL)
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
	Bark     BarkConfig     `toml:"bark"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type BarkConfig struct {
	Enabled bool   `toml:"enabled"`
	PushURL string `toml:"push_url"`
}

type StoreConfig struct {
	ArchivePath string `toml:"archive_path"`
	JournalPath string `toml:"journal_path"`
}

type ObserverConfig struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
}

// durationOr 解析区间字符串，非法时回退默认值。
// 配置加载时已校验过格式，这里的回退只覆盖零值手工构造的场景。
func durationOr(raw, fallback string) time.Duration {
	if d, ok := scheduler.ParseIntervalDuration(raw); ok {
		return d
	}
	d, _ := scheduler.ParseIntervalDuration(fallback)
	return d
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

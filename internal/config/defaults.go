package config

import "strings"

// 默认值常量
const (
	defaultAppEnv              = "dev"
	defaultAppLogLevel         = "info"
	defaultAppStateDir         = "data"
	defaultAppCycleInterval    = "10s"
	defaultAppSnapshotInterval = "1m"
	defaultAppCrashCooldown    = "60s"

	defaultVenueName        = "binance"
	defaultVenueMinNotional = 20.0

	defaultTradingLeverage   = 5
	defaultTradingMargin     = "isolated"
	defaultTradingPrincipal  = 100.0
	defaultTradingRiskPct    = 1.5
	defaultTradingSLPct      = 2.5
	defaultTradingSLMode     = "fixed"
	defaultTradingATRMult    = 2.0
	defaultTradingATRFloor   = 0.5
	defaultTradingMaxMargin  = 0.8

	defaultRegimeSignalTF    = "5m"
	defaultRegimeFilterTF    = "15m"
	defaultRegimeFastMA      = 10
	defaultRegimeSlowMA      = 30
	defaultRegimeFilterMA    = 50
	defaultRegimeSlopeN      = 3
	defaultRegimeSlopeDead   = 0.0005
	defaultRegimeADXPeriod   = 14
	defaultRegimeADXStrong   = 25.0
	defaultRegimeADXWeak     = 20.0
	defaultRegimeMultStrong  = 1.5
	defaultRegimeMultWeak    = 0.7
	defaultRegimeMultNeutral = 1.0
	defaultRegimeATRSpan     = 14
	defaultRegimeGrace       = 3
	defaultRegimeVolumeMA    = 20
	defaultRegimeRSIPeriod   = 14
	defaultRegimeRSIUpper    = 55.0
	defaultRegimeRSILower    = 45.0
	defaultRegimeVolBase     = 1.5
	defaultRegimeVolATRShort = 10
	defaultRegimeVolATRLong  = 50
	defaultRegimeVolFactor   = 0.5
	defaultRegimeVolMin      = 1.1
	defaultRegimeVolMax      = 2.5

	defaultPullbackMomentum = 3
	defaultPullbackQuality  = 1.0

	defaultBreakoutBBPeriod   = 20
	defaultBreakoutBBStdDev   = 2.0
	defaultBreakoutSqueezeN   = 60
	defaultBreakoutSqueezePct = 25.0
	defaultBreakoutCooldown   = "10m"
	defaultBreakoutWindowTTL  = "180s"
	defaultBreakoutZoneMult   = 2.0
	defaultBreakoutVolRelax   = 0.8

	defaultSpikeATRPeriod  = 14
	defaultSpikeBodyMult   = 2.0
	defaultSpikeVolMult    = 2.5
	defaultSpikeWindowTTL  = "90s"
	defaultSpikeZoneMult   = 3.0
	defaultSpikeVolRelax   = 0.5
	defaultSpikeEntryGrace = "10m"
	defaultSpikeSizeMult   = 1.5

	defaultRiskTrailATRPeriod     = 14
	defaultRiskStage1R            = 1.0
	defaultRiskPromotionR         = 2.0
	defaultRiskChandelierPeriod   = 16
	defaultRiskChandelierMult     = 3.0
	defaultRiskWidenATRShort      = 10
	defaultRiskWidenATRLong       = 50
	defaultRiskWidenCap           = 2.0
	defaultRiskStopUpdateInterval = "30s"
	defaultRiskExhaustionADX      = 25.0
	defaultRiskExhaustionFall     = 3
	defaultRiskPyramidMax         = 2
	defaultRiskPyramidRatio       = 0.75
	defaultRiskDisagreementMax    = 3
	defaultRiskDefensiveMult      = 1.8
	defaultRiskPartialFraction    = 0.5

	defaultPerfCheckInterval = "4h"
	defaultPerfMinTrades     = 5
	defaultPerfWeightWinRate = 0.40
	defaultPerfWeightPayoff  = 0.25
	defaultPerfWeightDD      = 0.35
	defaultPerfFundingSync   = "1h"

	defaultAdvisorTimeout       = 60
	defaultAdvisorRetries       = 2
	defaultAdvisorCheckInterval = "15m"
	defaultAdvisorLookback      = 50
	defaultAdvisorMinTrades     = 10
	defaultAdvisorStartScore    = 50
	defaultAdvisorSmoothing     = 0.8
	defaultAdvisorLiveScore     = 60
	defaultAdvisorMinConf       = 70
	defaultAdvisorFearGreedTTL  = "1h"

	defaultStoreArchivePath = "data/crest.db"
	defaultStoreJournalPath = "data/orders.db"

	defaultObserverAddr = ":8700"
)

// 参数档位插值端点的默认取值（激进端 / 保守端）。
var (
	defaultProfileAggressive = ProfilePoint{ZonePct: 0.2, TrailATRMult: 2.0, PyramidStep: 0.8}
	defaultProfileDefensive  = ProfilePoint{ZonePct: 0.6, TrailATRMult: 3.5, PyramidStep: 1.5}
	defaultTradingSymbols    = []string{"BNB/USDT", "ETH/USDT"}
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Venue.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Regime.applyDefaults(keys)
	c.Entry.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Performance.applyDefaults(keys)
	c.Advisor.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Observer.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.state_dir", &a.StateDir, defaultAppStateDir),
		stringFieldDefault("app.cycle_interval", &a.CycleInterval, defaultAppCycleInterval),
		stringFieldDefault("app.snapshot_interval", &a.SnapshotInterval, defaultAppSnapshotInterval),
		stringFieldDefault("app.crash_cooldown", &a.CrashCooldown, defaultAppCrashCooldown),
	)
}

func (v *VenueConfig) applyDefaults(keys keySet) {
	if v == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("venue.name", &v.Name, defaultVenueName),
		floatFieldDefault("venue.min_notional", &v.MinNotional, defaultVenueMinNotional),
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "trading.symbols",
			need:  func() bool { return len(t.Symbols) == 0 },
			apply: func() { t.Symbols = append([]string(nil), defaultTradingSymbols...) },
		},
		intFieldDefault("trading.leverage", &t.Leverage, defaultTradingLeverage),
		stringFieldDefault("trading.margin_mode", &t.MarginMode, defaultTradingMargin),
		floatFieldDefault("trading.initial_principal", &t.InitialPrincipal, defaultTradingPrincipal),
		floatFieldDefault("trading.risk_per_trade_pct", &t.RiskPerTradePct, defaultTradingRiskPct),
		floatFieldDefault("trading.stop_loss_pct", &t.StopLossPct, defaultTradingSLPct),
		stringFieldDefault("trading.stop_loss_mode", &t.StopLossMode, defaultTradingSLMode),
		floatFieldDefault("trading.atr_stop_mult", &t.ATRStopMult, defaultTradingATRMult),
		floatFieldDefault("trading.atr_stop_floor_pct", &t.ATRStopFloorPct, defaultTradingATRFloor),
		floatFieldDefault("trading.max_margin_ratio", &t.MaxMarginRatio, defaultTradingMaxMargin),
	)
}

func (r *RegimeConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("regime.signal_timeframe", &r.SignalTimeframe, defaultRegimeSignalTF),
		stringFieldDefault("regime.filter_timeframe", &r.FilterTimeframe, defaultRegimeFilterTF),
		boolFieldDefault("regime.ranging_mode", &r.RangingMode, true),
		intFieldDefault("regime.fast_ma", &r.FastMA, defaultRegimeFastMA),
		intFieldDefault("regime.slow_ma", &r.SlowMA, defaultRegimeSlowMA),
		intFieldDefault("regime.filter_ma", &r.FilterMA, defaultRegimeFilterMA),
		intFieldDefault("regime.filter_slope_periods", &r.FilterSlopePeriods, defaultRegimeSlopeN),
		floatFieldDefault("regime.filter_slope_deadband", &r.FilterSlopeDeadband, defaultRegimeSlopeDead),
		intFieldDefault("regime.adx_period", &r.ADXPeriod, defaultRegimeADXPeriod),
		floatFieldDefault("regime.adx_strong", &r.ADXStrong, defaultRegimeADXStrong),
		floatFieldDefault("regime.adx_weak", &r.ADXWeak, defaultRegimeADXWeak),
		floatFieldDefault("regime.mult_strong", &r.MultStrong, defaultRegimeMultStrong),
		floatFieldDefault("regime.mult_weak", &r.MultWeak, defaultRegimeMultWeak),
		floatFieldDefault("regime.mult_neutral", &r.MultNeutral, defaultRegimeMultNeutral),
		intFieldDefault("regime.threshold_atr_span", &r.ThresholdATRSpan, defaultRegimeATRSpan),
		intFieldDefault("regime.grace_candles", &r.GraceCandles, defaultRegimeGrace),
		intFieldDefault("regime.volume_ma_period", &r.VolumeMAPeriod, defaultRegimeVolumeMA),
		intFieldDefault("regime.rsi_period", &r.RSIPeriod, defaultRegimeRSIPeriod),
		floatFieldDefault("regime.rsi_upper", &r.RSIUpper, defaultRegimeRSIUpper),
		floatFieldDefault("regime.rsi_lower", &r.RSILower, defaultRegimeRSILower),
		floatFieldDefault("regime.volume_base", &r.VolumeBase, defaultRegimeVolBase),
		intFieldDefault("regime.volume_atr_short", &r.VolumeATRShort, defaultRegimeVolATRShort),
		intFieldDefault("regime.volume_atr_long", &r.VolumeATRLong, defaultRegimeVolATRLong),
		floatFieldDefault("regime.volume_factor", &r.VolumeFactor, defaultRegimeVolFactor),
		floatFieldDefault("regime.volume_min", &r.VolumeMin, defaultRegimeVolMin),
		floatFieldDefault("regime.volume_max", &r.VolumeMax, defaultRegimeVolMax),
	)
}

func (e *EntryConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("entry.pullback.momentum_candles", &e.Pullback.MomentumCandles, defaultPullbackMomentum),
		floatFieldDefault("entry.pullback.quality_max_ratio", &e.Pullback.QualityMaxRatio, defaultPullbackQuality),
		intFieldDefault("entry.breakout.bb_period", &e.Breakout.BBPeriod, defaultBreakoutBBPeriod),
		floatFieldDefault("entry.breakout.bb_std_dev", &e.Breakout.BBStdDev, defaultBreakoutBBStdDev),
		intFieldDefault("entry.breakout.squeeze_lookback", &e.Breakout.SqueezeLookback, defaultBreakoutSqueezeN),
		floatFieldDefault("entry.breakout.squeeze_percentile", &e.Breakout.SqueezePercentile, defaultBreakoutSqueezePct),
		stringFieldDefault("entry.breakout.cooldown", &e.Breakout.Cooldown, defaultBreakoutCooldown),
		stringFieldDefault("entry.breakout.window_ttl", &e.Breakout.WindowTTL, defaultBreakoutWindowTTL),
		floatFieldDefault("entry.breakout.zone_widen_mult", &e.Breakout.ZoneWidenMult, defaultBreakoutZoneMult),
		floatFieldDefault("entry.breakout.volume_relax", &e.Breakout.VolumeRelax, defaultBreakoutVolRelax),
		boolFieldDefault("entry.breakout.confirm_volume", &e.Breakout.ConfirmVolume, true),
		boolFieldDefault("entry.breakout.confirm_rsi", &e.Breakout.ConfirmRSI, true),
		intFieldDefault("entry.spike.atr_period", &e.Spike.ATRPeriod, defaultSpikeATRPeriod),
		floatFieldDefault("entry.spike.body_atr_mult", &e.Spike.BodyATRMult, defaultSpikeBodyMult),
		floatFieldDefault("entry.spike.volume_mult", &e.Spike.VolumeMult, defaultSpikeVolMult),
		stringFieldDefault("entry.spike.window_ttl", &e.Spike.WindowTTL, defaultSpikeWindowTTL),
		floatFieldDefault("entry.spike.zone_widen_mult", &e.Spike.ZoneWidenMult, defaultSpikeZoneMult),
		floatFieldDefault("entry.spike.volume_relax", &e.Spike.VolumeRelax, defaultSpikeVolRelax),
		stringFieldDefault("entry.spike.entry_grace", &e.Spike.EntryGrace, defaultSpikeEntryGrace),
		floatFieldDefault("entry.spike.size_mult", &e.Spike.SizeMult, defaultSpikeSizeMult),
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("risk.trail_atr_period", &r.TrailATRPeriod, defaultRiskTrailATRPeriod),
		floatFieldDefault("risk.stage1_activation_r", &r.Stage1ActivationR, defaultRiskStage1R),
		floatFieldDefault("risk.promotion_r", &r.PromotionR, defaultRiskPromotionR),
		intFieldDefault("risk.chandelier_period", &r.ChandelierPeriod, defaultRiskChandelierPeriod),
		floatFieldDefault("risk.chandelier_atr_mult", &r.ChandelierATRMult, defaultRiskChandelierMult),
		intFieldDefault("risk.widen_atr_short", &r.WidenATRShort, defaultRiskWidenATRShort),
		intFieldDefault("risk.widen_atr_long", &r.WidenATRLong, defaultRiskWidenATRLong),
		floatFieldDefault("risk.adaptive_widen_cap", &r.AdaptiveWidenCap, defaultRiskWidenCap),
		stringFieldDefault("risk.stop_update_min_interval", &r.StopUpdateMinInterval, defaultRiskStopUpdateInterval),
		floatFieldDefault("risk.exhaustion_adx_level", &r.ExhaustionADXLevel, defaultRiskExhaustionADX),
		intFieldDefault("risk.exhaustion_fall_periods", &r.ExhaustionFallPeriods, defaultRiskExhaustionFall),
		intFieldDefault("risk.pyramid_max_adds", &r.PyramidMaxAdds, defaultRiskPyramidMax),
		floatFieldDefault("risk.pyramid_size_ratio", &r.PyramidSizeRatio, defaultRiskPyramidRatio),
		intFieldDefault("risk.disagreement_max", &r.DisagreementMax, defaultRiskDisagreementMax),
		floatFieldDefault("risk.defensive_atr_mult", &r.DefensiveATRMult, defaultRiskDefensiveMult),
		floatFieldDefault("risk.partial_fraction", &r.PartialFraction, defaultRiskPartialFraction),
	)
}

func (p *PerformanceConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("performance.check_interval", &p.CheckInterval, defaultPerfCheckInterval),
		intFieldDefault("performance.min_trades", &p.MinTrades, defaultPerfMinTrades),
		floatFieldDefault("performance.weight_win_rate", &p.WeightWinRate, defaultPerfWeightWinRate),
		floatFieldDefault("performance.weight_payoff", &p.WeightPayoff, defaultPerfWeightPayoff),
		floatFieldDefault("performance.weight_drawdown", &p.WeightDrawdown, defaultPerfWeightDD),
		stringFieldDefault("performance.funding_sync_interval", &p.FundingSyncInterval, defaultPerfFundingSync),
		floatFieldDefault("performance.aggressive.zone_pct", &p.Aggressive.ZonePct, defaultProfileAggressive.ZonePct),
		floatFieldDefault("performance.aggressive.trail_atr_mult", &p.Aggressive.TrailATRMult, defaultProfileAggressive.TrailATRMult),
		floatFieldDefault("performance.aggressive.pyramid_step", &p.Aggressive.PyramidStep, defaultProfileAggressive.PyramidStep),
		floatFieldDefault("performance.defensive.zone_pct", &p.Defensive.ZonePct, defaultProfileDefensive.ZonePct),
		floatFieldDefault("performance.defensive.trail_atr_mult", &p.Defensive.TrailATRMult, defaultProfileDefensive.TrailATRMult),
		floatFieldDefault("performance.defensive.pyramid_step", &p.Defensive.PyramidStep, defaultProfileDefensive.PyramidStep),
	)
}

func (a *AdvisorConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("advisor.timeout_seconds", &a.TimeoutSeconds, defaultAdvisorTimeout),
		intFieldDefault("advisor.max_retries", &a.MaxRetries, defaultAdvisorRetries),
		stringFieldDefault("advisor.check_interval", &a.CheckInterval, defaultAdvisorCheckInterval),
		intFieldDefault("advisor.lookback_trades", &a.LookbackTrades, defaultAdvisorLookback),
		intFieldDefault("advisor.min_trades", &a.MinTrades, defaultAdvisorMinTrades),
		intFieldDefault("advisor.start_score", &a.StartScore, defaultAdvisorStartScore),
		floatFieldDefault("advisor.smoothing", &a.Smoothing, defaultAdvisorSmoothing),
		intFieldDefault("advisor.live_score_threshold", &a.LiveScoreThreshold, defaultAdvisorLiveScore),
		intFieldDefault("advisor.min_confidence", &a.MinConfidence, defaultAdvisorMinConf),
		stringFieldDefault("advisor.fear_greed_cache_ttl", &a.FearGreedCacheTTL, defaultAdvisorFearGreedTTL),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.archive_path", &s.ArchivePath, defaultStoreArchivePath),
		stringFieldDefault("store.journal_path", &s.JournalPath, defaultStoreJournalPath),
	)
}

func (o *ObserverConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("observer.listen_addr", &o.ListenAddr, defaultObserverAddr),
	)
}

// Helper functions

// fieldDefault 描述一个字段的默认值应用规则：
// 若 key 在配置文件中被显式设置则跳过，否则当 need 成立时执行 apply。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && !*target },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

package config

import (
	"fmt"
	"strings"

	"crest/internal/pkg/symbol"
	"crest/internal/scheduler"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Regime.validate(); err != nil {
		return err
	}
	if err := c.Entry.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Performance.validate(); err != nil {
		return err
	}
	if err := c.Advisor.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	for key, raw := range map[string]string{
		"app.cycle_interval":    a.CycleInterval,
		"app.snapshot_interval": a.SnapshotInterval,
		"app.crash_cooldown":    a.CrashCooldown,
	} {
		if _, ok := scheduler.ParseIntervalDuration(raw); !ok {
			return fmt.Errorf("%s is not a valid interval: %q", key, raw)
		}
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if len(t.Symbols) == 0 {
		return fmt.Errorf("trading.symbols requires at least one symbol")
	}
	for _, s := range t.Symbols {
		if !symbol.IsValid(s) {
			return fmt.Errorf("trading.symbols contains invalid symbol: %q", s)
		}
	}
	if t.Leverage < 1 {
		return fmt.Errorf("trading.leverage must be >= 1")
	}
	switch strings.ToLower(t.MarginMode) {
	case "isolated", "crossed":
	default:
		return fmt.Errorf("trading.margin_mode must be isolated or crossed, got %q", t.MarginMode)
	}
	switch strings.ToLower(t.StopLossMode) {
	case "fixed", "atr":
	default:
		return fmt.Errorf("trading.stop_loss_mode must be fixed or atr, got %q", t.StopLossMode)
	}
	if t.RiskPerTradePct <= 0 || t.RiskPerTradePct > 100 {
		return fmt.Errorf("trading.risk_per_trade_pct must be in (0, 100]")
	}
	if t.StopLossPct <= 0 || t.StopLossPct > 100 {
		return fmt.Errorf("trading.stop_loss_pct must be in (0, 100]")
	}
	if t.MaxMarginRatio <= 0 || t.MaxMarginRatio > 1 {
		return fmt.Errorf("trading.max_margin_ratio must be in (0, 1]")
	}
	return nil
}

func (r *RegimeConfig) validate() error {
	for key, raw := range map[string]string{
		"regime.signal_timeframe": r.SignalTimeframe,
		"regime.filter_timeframe": r.FilterTimeframe,
	} {
		if _, ok := scheduler.ParseIntervalDuration(raw); !ok {
			return fmt.Errorf("%s is not a valid timeframe: %q", key, raw)
		}
	}
	if r.FastMA >= r.SlowMA {
		return fmt.Errorf("regime.fast_ma must be < regime.slow_ma (got %d/%d)", r.FastMA, r.SlowMA)
	}
	if r.ADXWeak >= r.ADXStrong {
		return fmt.Errorf("regime.adx_weak must be < regime.adx_strong (got %.1f/%.1f)", r.ADXWeak, r.ADXStrong)
	}
	if r.RSILower >= r.RSIUpper {
		return fmt.Errorf("regime.rsi_lower must be < regime.rsi_upper (got %.1f/%.1f)", r.RSILower, r.RSIUpper)
	}
	if r.VolumeATRShort >= r.VolumeATRLong {
		return fmt.Errorf("regime.volume_atr_short must be < regime.volume_atr_long (got %d/%d)", r.VolumeATRShort, r.VolumeATRLong)
	}
	if r.VolumeMin > r.VolumeMax {
		return fmt.Errorf("regime.volume_min must be <= regime.volume_max (got %.2f/%.2f)", r.VolumeMin, r.VolumeMax)
	}
	return nil
}

func (e *EntryConfig) validate() error {
	for key, raw := range map[string]string{
		"entry.breakout.cooldown":   e.Breakout.Cooldown,
		"entry.breakout.window_ttl": e.Breakout.WindowTTL,
		"entry.spike.window_ttl":    e.Spike.WindowTTL,
		"entry.spike.entry_grace":   e.Spike.EntryGrace,
	} {
		if _, ok := scheduler.ParseIntervalDuration(raw); !ok {
			return fmt.Errorf("%s is not a valid interval: %q", key, raw)
		}
	}
	if e.Breakout.SqueezePercentile <= 0 || e.Breakout.SqueezePercentile >= 100 {
		return fmt.Errorf("entry.breakout.squeeze_percentile must be in (0, 100)")
	}
	if e.Spike.ATRPeriod < 1 {
		return fmt.Errorf("entry.spike.atr_period must be >= 1")
	}
	if e.Spike.SizeMult < 1 {
		return fmt.Errorf("entry.spike.size_mult must be >= 1")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if _, ok := scheduler.ParseIntervalDuration(r.StopUpdateMinInterval); !ok {
		return fmt.Errorf("risk.stop_update_min_interval is not a valid interval: %q", r.StopUpdateMinInterval)
	}
	if r.PromotionR <= r.Stage1ActivationR {
		return fmt.Errorf("risk.promotion_r must be > risk.stage1_activation_r (got %.2f/%.2f)", r.PromotionR, r.Stage1ActivationR)
	}
	if r.PyramidSizeRatio <= 0 || r.PyramidSizeRatio > 1 {
		return fmt.Errorf("risk.pyramid_size_ratio must be in (0, 1]")
	}
	if r.PartialFraction <= 0 || r.PartialFraction >= 1 {
		return fmt.Errorf("risk.partial_fraction must be in (0, 1)")
	}
	if r.WidenATRShort >= r.WidenATRLong {
		return fmt.Errorf("risk.widen_atr_short must be < risk.widen_atr_long (got %d/%d)", r.WidenATRShort, r.WidenATRLong)
	}
	if r.AdaptiveWidenCap < 1 {
		return fmt.Errorf("risk.adaptive_widen_cap must be >= 1")
	}
	return nil
}

func (p *PerformanceConfig) validate() error {
	for key, raw := range map[string]string{
		"performance.check_interval":        p.CheckInterval,
		"performance.funding_sync_interval": p.FundingSyncInterval,
	} {
		if _, ok := scheduler.ParseIntervalDuration(raw); !ok {
			return fmt.Errorf("%s is not a valid interval: %q", key, raw)
		}
	}
	sum := p.WeightWinRate + p.WeightPayoff + p.WeightDrawdown
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("performance weights must sum to 1.0 (got %.3f)", sum)
	}
	// 激进端收窄回调区并加快加仓节奏，端点方向不能颠倒。
	if p.Aggressive.ZonePct >= p.Defensive.ZonePct {
		return fmt.Errorf("performance.aggressive.zone_pct must be < performance.defensive.zone_pct")
	}
	if p.Aggressive.TrailATRMult >= p.Defensive.TrailATRMult {
		return fmt.Errorf("performance.aggressive.trail_atr_mult must be < performance.defensive.trail_atr_mult")
	}
	if p.Aggressive.PyramidStep >= p.Defensive.PyramidStep {
		return fmt.Errorf("performance.aggressive.pyramid_step must be < performance.defensive.pyramid_step")
	}
	return nil
}

func (a *AdvisorConfig) validate() error {
	if !a.Enabled {
		return nil
	}
	if strings.TrimSpace(a.BaseURL) == "" {
		return fmt.Errorf("advisor.base_url cannot be empty when advisor is enabled")
	}
	if strings.TrimSpace(a.Model) == "" {
		return fmt.Errorf("advisor.model cannot be empty when advisor is enabled")
	}
	if a.Smoothing < 0 || a.Smoothing > 1 {
		return fmt.Errorf("advisor.smoothing must be in [0, 1]")
	}
	if a.LiveScoreThreshold < 0 || a.LiveScoreThreshold > 100 {
		return fmt.Errorf("advisor.live_score_threshold must be in [0, 100]")
	}
	if a.MinConfidence < 0 || a.MinConfidence > 100 {
		return fmt.Errorf("advisor.min_confidence must be in [0, 100]")
	}
	if _, ok := scheduler.ParseIntervalDuration(a.CheckInterval); !ok {
		return fmt.Errorf("advisor.check_interval is not a valid interval: %q", a.CheckInterval)
	}
	if _, ok := scheduler.ParseIntervalDuration(a.FearGreedCacheTTL); !ok {
		return fmt.Errorf("advisor.fear_greed_cache_ttl is not a valid interval: %q", a.FearGreedCacheTTL)
	}
	return nil
}

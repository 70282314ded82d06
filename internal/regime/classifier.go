package regime

import (
	"crest/internal/analysis/indicator"
	"crest/internal/config"
	"crest/internal/logger"
	"crest/internal/market"
	"crest/internal/types"
)

// Trend 是趋势判定结果。
type Trend string

const (
	TrendUp        Trend = "uptrend"
	TrendDown      Trend = "downtrend"
	TrendSideways  Trend = "sideways"
	TrendUncertain Trend = "uncertain"
)

func (t Trend) Directional() bool {
	return t == TrendUp || t == TrendDown
}

// Side 将趋势映射为持仓方向，非方向性状态映射为空。
func (t Trend) Side() types.Side {
	switch t {
	case TrendUp:
		return types.SideLong
	case TrendDown:
		return types.SideShort
	default:
		return types.SideNone
	}
}

// Agrees 判断趋势是否支持给定持仓方向。
func (t Trend) Agrees(side types.Side) bool {
	return side.Valid() && t.Side() == side
}

// Opposes 判断趋势是否明确反对给定持仓方向。
func (t Trend) Opposes(side types.Side) bool {
	return side.Valid() && t.Directional() && t.Side() != side
}

// Bias 是过滤周期的宏观方向。
type Bias int

const (
	BiasNeutral Bias = iota
	BiasBullish
	BiasBearish
)

func (b Bias) String() string {
	switch b {
	case BiasBullish:
		return "bullish"
	case BiasBearish:
		return "bearish"
	default:
		return "neutral"
	}
}

// Allows 宏观过滤是否放行该方向（中性放行一切）。
func (b Bias) Allows(t Trend) bool {
	switch t {
	case TrendUp:
		return b != BiasBearish
	case TrendDown:
		return b != BiasBullish
	default:
		return true
	}
}

// State 是趋势确认记忆的持久化形态。
type State struct {
	Confirmed    Trend `json:"confirmed"`
	GraceLeft    int   `json:"grace_left"`
	LastCandleMS int64 `json:"last_candle_ms"`
}

// Input 是一次评估所需的全部外部事实。
// Signal/Filter 都只包含已收盘K线。
type Input struct {
	Signal      market.Candles
	Filter      market.Candles
	InPosition  bool
	WindowLevel int     // 激进窗口等级：0 无，1 突破，2 异动
	WindowRelax float64 // 窗口激活时的量能门槛折扣，0 表示无窗口
}

// Diagnostics 每轮评估的观测快照，供状态接口展示。
type Diagnostics struct {
	DataOK      bool    `json:"data_ok"`
	DiffRatio   float64 `json:"diff_ratio"`
	Threshold   float64 `json:"threshold"`
	ADX         float64 `json:"adx"`
	ADXOK       bool    `json:"adx_ok"`
	FilterSlope float64 `json:"filter_slope"`
	FilterBias  string  `json:"filter_bias"`
	Raw         Trend   `json:"raw"`
	Instant     Trend   `json:"instant"`
	GateChecked bool    `json:"gate_checked"`
	VolumeMult  float64 `json:"volume_mult"`
	VolumeOK    bool    `json:"volume_ok"`
	RSI         float64 `json:"rsi"`
	RSIOK       bool    `json:"rsi_ok"`
	GraceLeft   int     `json:"grace_left"`
}

type Result struct {
	Trend Trend
	Diag  Diagnostics
}

// Classifier 把快慢均线背离、波动率阈值与宏观过滤合成趋势状态，
// 并用宽限期记忆抑制瞬时信号的抖动。非并发安全，由单个交易循环独占。
type Classifier struct {
	cfg   config.RegimeConfig
	state State
}

func NewClassifier(cfg config.RegimeConfig) *Classifier {
	return &Classifier{cfg: cfg, state: State{Confirmed: TrendSideways}}
}

// Restore 从持久化状态恢复，启动时调用一次。
func (c *Classifier) Restore(st State) {
	if st.Confirmed == "" {
		st.Confirmed = TrendSideways
	}
	if st.GraceLeft < 0 {
		st.GraceLeft = 0
	}
	c.state = st
}

func (c *Classifier) State() State {
	return c.state
}

// Evaluate 计算当前趋势。持仓时返回瞬时结果且不触碰记忆；
// 空仓时新方向需通过量能与 RSI 严格确认，已确认方向受宽限期保护。
// 数据不足一律得到 sideways，不产生错误。
func (c *Classifier) Evaluate(in Input) Result {
	diag := Diagnostics{
		FilterBias: BiasNeutral.String(),
		Raw:        TrendSideways,
		Instant:    TrendSideways,
		GraceLeft:  c.state.GraceLeft,
	}

	closes := in.Signal.Closes()
	fast, okFast := indicator.MeanLast(closes, c.cfg.FastMA)
	slow, okSlow := indicator.MeanLast(closes, c.cfg.SlowMA)
	atr, okATR := indicator.ATRSpanLast(in.Signal.Highs(), in.Signal.Lows(), closes, c.cfg.ThresholdATRSpan)
	last, okLast := in.Signal.Last(1)
	if !okFast || !okSlow || !okATR || !okLast || slow == 0 || last.Close == 0 {
		return Result{Trend: TrendSideways, Diag: diag}
	}

	fbias, slope, okBias := c.FilterBias(in.Filter)
	if !okBias {
		return Result{Trend: TrendSideways, Diag: diag}
	}
	diag.FilterSlope = slope
	diag.FilterBias = fbias.String()

	adx, adxOK := indicator.ADXLast(in.Filter.Highs(), in.Filter.Lows(), in.Filter.Closes(), c.cfg.ADXPeriod)
	diag.ADX, diag.ADXOK = adx, adxOK
	diag.DataOK = true

	mult := c.cfg.MultNeutral
	if adxOK {
		switch {
		case adx > c.cfg.ADXStrong:
			mult = c.cfg.MultStrong
		case adx < c.cfg.ADXWeak:
			mult = c.cfg.MultWeak
		}
	}

	diffRatio := (fast - slow) / slow
	threshold := atr / last.Close * mult
	diag.DiffRatio, diag.Threshold = diffRatio, threshold

	raw := TrendSideways
	switch {
	case diffRatio > threshold:
		raw = TrendUp
	case diffRatio < -threshold:
		raw = TrendDown
	}
	diag.Raw = raw

	instant := raw
	if !raw.Directional() || !fbias.Allows(raw) {
		instant = c.rejectedState(adx, adxOK)
	}
	diag.Instant = instant

	if in.InPosition {
		return Result{Trend: instant, Diag: diag}
	}

	final := c.confirm(instant, in, &diag)
	diag.GraceLeft = c.state.GraceLeft
	return Result{Trend: final, Diag: diag}
}

// rejectedState 给未被放行的信号定级：弱趋势强度归横盘，中间地带归不确定。
func (c *Classifier) rejectedState(adx float64, adxOK bool) Trend {
	if !c.cfg.RangingMode || !adxOK {
		return TrendSideways
	}
	if adx >= c.cfg.ADXWeak && adx < c.cfg.ADXStrong {
		return TrendUncertain
	}
	return TrendSideways
}

// confirm 处理空仓状态下的严格确认与宽限期记忆。
func (c *Classifier) confirm(instant Trend, in Input, diag *Diagnostics) Trend {
	st := &c.state
	candleMS := lastOpenMS(in.Signal)

	if instant == st.Confirmed {
		st.GraceLeft = c.cfg.GraceCandles
		st.LastCandleMS = candleMS
		return st.Confirmed
	}

	fresh := instant
	if fresh.Directional() {
		diag.GateChecked = true
		if c.passGates(fresh, in, diag) {
			st.Confirmed = fresh
			st.GraceLeft = c.cfg.GraceCandles
			st.LastCandleMS = candleMS
			logger.Infof("趋势确认 %s: diff=%.5f thr=%.5f adx=%.1f vol_mult=%.2f",
				fresh, diag.DiffRatio, diag.Threshold, diag.ADX, diag.VolumeMult)
			return fresh
		}
		// 确认失败按横盘对待，不刷新宽限期
		fresh = TrendSideways
		if fresh == st.Confirmed {
			return st.Confirmed
		}
	}

	if st.Confirmed.Directional() {
		newCandle := candleMS > st.LastCandleMS
		if st.GraceLeft > 0 {
			if newCandle {
				st.GraceLeft--
				st.LastCandleMS = candleMS
			}
			return st.Confirmed
		}
		// 同一根K线内的重复评估不改变结论，衰减发生在下一根新K线
		if !newCandle {
			return st.Confirmed
		}
		logger.Infof("趋势宽限期耗尽: %s -> %s", st.Confirmed, TrendSideways)
		st.Confirmed = TrendSideways
		st.GraceLeft = 0
		st.LastCandleMS = candleMS
		return TrendSideways
	}

	// 非方向性状态之间直接切换，无需记忆
	st.Confirmed = fresh
	st.GraceLeft = 0
	st.LastCandleMS = candleMS
	return fresh
}

func (c *Classifier) passGates(dir Trend, in Input, diag *Diagnostics) bool {
	mult := c.volumeMultiplier(in)
	diag.VolumeMult = mult
	diag.VolumeOK = c.ConfirmVolume(in.Signal, mult)
	if !diag.VolumeOK {
		return false
	}
	rsi, ok := indicator.RSILast(in.Signal.Closes(), c.cfg.RSIPeriod)
	if !ok {
		return false
	}
	diag.RSI = rsi
	diag.RSIOK = c.rsiExtended(rsi, dir)
	return diag.RSIOK
}

func (c *Classifier) volumeMultiplier(in Input) float64 {
	if in.WindowLevel > 0 && in.WindowRelax > 0 {
		return in.WindowRelax
	}
	return c.DynamicVolumeMultiplier(in.Signal)
}

// DynamicVolumeMultiplier 按短长期波动比调整基准量能门槛，夹在配置上下限之间。
func (c *Classifier) DynamicVolumeMultiplier(signal market.Candles) float64 {
	highs, lows, closes := signal.Highs(), signal.Lows(), signal.Closes()
	short, okS := indicator.ATRLast(highs, lows, closes, c.cfg.VolumeATRShort)
	long, okL := indicator.ATRLast(highs, lows, closes, c.cfg.VolumeATRLong)
	if !okS || !okL || long <= 0 {
		return c.cfg.VolumeBase
	}
	mult := c.cfg.VolumeBase + (short/long-1)*c.cfg.VolumeFactor
	if mult < c.cfg.VolumeMin {
		mult = c.cfg.VolumeMin
	}
	if mult > c.cfg.VolumeMax {
		mult = c.cfg.VolumeMax
	}
	return mult
}

// ConfirmVolume 校验最近一根收盘K线的量能不低于均量的 mult 倍。
func (c *Classifier) ConfirmVolume(signal market.Candles, mult float64) bool {
	last, okLast := signal.Last(1)
	vma, okVMA := indicator.MeanLast(signal.Volumes(), c.cfg.VolumeMAPeriod)
	if !okLast || !okVMA || vma <= 0 {
		return false
	}
	return last.Volume >= vma*mult
}

// ConfirmRSI 校验 RSI 已延展出方向阈值（多头在上界之上，空头在下界之下）。
func (c *Classifier) ConfirmRSI(signal market.Candles, dir Trend) bool {
	rsi, ok := indicator.RSILast(signal.Closes(), c.cfg.RSIPeriod)
	if !ok {
		return false
	}
	return c.rsiExtended(rsi, dir)
}

func (c *Classifier) rsiExtended(rsi float64, dir Trend) bool {
	switch dir {
	case TrendUp:
		return rsi >= c.cfg.RSIUpper
	case TrendDown:
		return rsi <= c.cfg.RSILower
	default:
		return false
	}
}

// FilterBias 用过滤周期均线的相对斜率给出宏观方向。
func (c *Classifier) FilterBias(filter market.Candles) (Bias, float64, bool) {
	closes := filter.Closes()
	n := c.cfg.FilterSlopePeriods
	if n <= 0 {
		n = 1
	}
	if len(closes) < c.cfg.FilterMA+n {
		return BiasNeutral, 0, false
	}
	maNow, okNow := indicator.MeanLast(closes, c.cfg.FilterMA)
	maPrev, okPrev := indicator.MeanLast(closes[:len(closes)-n], c.cfg.FilterMA)
	if !okNow || !okPrev || maPrev == 0 {
		return BiasNeutral, 0, false
	}
	// 每周期相对斜率
	slope := (maNow - maPrev) / maPrev / float64(n)
	switch {
	case slope > c.cfg.FilterSlopeDeadband:
		return BiasBullish, slope, true
	case slope < -c.cfg.FilterSlopeDeadband:
		return BiasBearish, slope, true
	default:
		return BiasNeutral, slope, true
	}
}

func lastOpenMS(cs market.Candles) int64 {
	if last, ok := cs.Last(1); ok {
		return last.OpenTime
	}
	return 0
}

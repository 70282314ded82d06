package advisor

import (
	"fmt"
	"math"
	"path/filepath"
	"sync"

	"crest/internal/config"
	"crest/internal/logger"
	"crest/internal/pkg/symbol"
	"crest/internal/store/statefile"
)

// TrackRecord 维护顾问主导交易的滚动绩效窗口。
// 评分 0-100 驱动提示词的自我调整指令与实盘放行门槛，
// 每记一笔就重算并整体重写状态文件。
type TrackRecord struct {
	path      string
	lookback  int
	minTrades int
	smoothing float64

	mu     sync.Mutex
	trades []TrackedTrade
	score  int
}

// TrackedTrade 窗口内的一笔已结算交易。
type TrackedTrade struct {
	PnL float64 `json:"pnl"`
	Win bool    `json:"is_win"`
}

type trackState struct {
	Trades []TrackedTrade `json:"trades"`
	Score  int            `json:"confidence_score"`
}

func NewTrackRecord(dir, sym string, cfg config.AdvisorConfig) *TrackRecord {
	lookback := cfg.LookbackTrades
	if lookback <= 0 {
		lookback = 50
	}
	minTrades := cfg.MinTrades
	if minTrades <= 0 {
		minTrades = 10
	}
	smoothing := cfg.Smoothing
	if smoothing <= 0 || smoothing >= 1 {
		smoothing = 0.8
	}
	start := cfg.StartScore
	if start <= 0 || start > 100 {
		start = 50
	}
	return &TrackRecord{
		path:      filepath.Join(dir, fmt.Sprintf("ai_performance_%s.json", symbol.FileToken(sym))),
		lookback:  lookback,
		minTrades: minTrades,
		smoothing: smoothing,
		score:     start,
	}
}

// Restore 读取持久化的窗口，文件缺失或损坏时保留初始评分。
func (t *TrackRecord) Restore() error {
	var st trackState
	ok, err := statefile.Load(t.path, &st)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trades = st.Trades
	if len(t.trades) > t.lookback {
		t.trades = t.trades[len(t.trades)-t.lookback:]
	}
	if st.Score > 0 && st.Score <= 100 {
		t.score = st.Score
	}
	return nil
}

// Score 返回当前绩效评分。
func (t *TrackRecord) Score() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.score
}

// SampleCount 返回窗口内的样本数。
func (t *TrackRecord) SampleCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.trades)
}

// History 返回窗口内交易的副本，观测端使用。
func (t *TrackRecord) History() []TrackedTrade {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TrackedTrade, len(t.trades))
	copy(out, t.trades)
	return out
}

// Record 记录一笔顾问主导交易的净盈亏并重算评分。
func (t *TrackRecord) Record(pnl float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trades = append(t.trades, TrackedTrade{PnL: pnl, Win: pnl > 0})
	if len(t.trades) > t.lookback {
		t.trades = t.trades[len(t.trades)-t.lookback:]
	}
	t.recalculate()
	if err := statefile.Save(t.path, trackState{Trades: t.trades, Score: t.score}); err != nil {
		logger.Errorf("保存顾问绩效状态失败: %v", err)
	}
}

// recalculate 按胜率 50% + 盈亏比 30% + 稳定性 20% 加权，
// 再用平滑系数与旧评分混合。样本不足时评分保持不变。
func (t *TrackRecord) recalculate() {
	n := len(t.trades)
	if n < t.minTrades {
		logger.Infof("顾问交易样本(%d)不足 %d 笔，评分保持 %d", n, t.minTrades, t.score)
		return
	}

	var wins int
	var sum, winSum, lossSum float64
	var winCount, lossCount int
	for _, tr := range t.trades {
		sum += tr.PnL
		if tr.Win {
			wins++
		}
		if tr.PnL > 0 {
			winSum += tr.PnL
			winCount++
		} else if tr.PnL < 0 {
			lossSum += -tr.PnL
			lossCount++
		}
	}
	winRate := float64(wins) / float64(n)

	var avgWin, avgLoss float64
	if winCount > 0 {
		avgWin = winSum / float64(winCount)
	}
	if lossCount > 0 {
		avgLoss = lossSum / float64(lossCount)
	}
	// 没有亏损样本时给一个高盈亏比，大于 3 的盈亏比都算满分
	payoff := 5.0
	if avgLoss > 0 {
		payoff = avgWin / avgLoss
	}
	payoffScore := math.Min(payoff, 3.0) / 3.0 * 100

	mean := sum / float64(n)
	std := sampleStd(t.trades, mean)
	stability := 100.0
	if std > 0 {
		stability = mean/std*50 + 50
	}
	stability = math.Max(0, math.Min(100, stability))

	final := winRate*100*0.5 + payoffScore*0.3 + stability*0.2
	blended := t.smoothing*float64(t.score) + (1-t.smoothing)*final
	t.score = int(math.Max(0, math.Min(100, blended)))

	logger.Infof("顾问绩效评估: 样本=%d 胜率=%.1f%% 盈亏比=%.2f 稳定性=%.1f 评分=%d",
		n, winRate*100, payoff, stability, t.score)
}

// sampleStd 样本标准差，分母 n-1。
func sampleStd(trades []TrackedTrade, mean float64) float64 {
	n := len(trades)
	if n < 2 {
		return 0
	}
	var ss float64
	for _, tr := range trades {
		d := tr.PnL - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

package advisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crest/internal/config"
	"crest/internal/types"
)

func advisorCfg() config.AdvisorConfig {
	return config.Default().Advisor
}

func recordN(tr *TrackRecord, pnl float64, n int) {
	for i := 0; i < n; i++ {
		tr.Record(pnl)
	}
}

func TestTrackRecordScore(t *testing.T) {
	t.Run("样本不足时评分保持初始值", func(t *testing.T) {
		tr := NewTrackRecord(t.TempDir(), "BNB/USDT", advisorCfg())
		assert.Equal(t, 50, tr.Score())
		recordN(tr, 10, 9)
		assert.Equal(t, 50, tr.Score())
		assert.Equal(t, 9, tr.SampleCount())
	})

	t.Run("十连胜后评分上调", func(t *testing.T) {
		// 胜率与稳定性满分，无亏损样本时盈亏比按满分计，
		// 平滑后 0.8*50 + 0.2*100 = 60。
		tr := NewTrackRecord(t.TempDir(), "BNB/USDT", advisorCfg())
		recordN(tr, 10, 10)
		assert.Equal(t, 60, tr.Score())
	})

	t.Run("盈亏混合序列的加权评分", func(t *testing.T) {
		// 6胜(+20) 4负(-10): 胜率60%、盈亏比2、稳定性约75.8，
		// 加权约65.2，平滑后截断为53。
		tr := NewTrackRecord(t.TempDir(), "BNB/USDT", advisorCfg())
		recordN(tr, 20, 6)
		recordN(tr, -10, 4)
		assert.Equal(t, 53, tr.Score())
	})

	t.Run("平滑混合使评分向窗口表现收敛", func(t *testing.T) {
		tr := NewTrackRecord(t.TempDir(), "BNB/USDT", advisorCfg())
		recordN(tr, 10, 10)
		require.Equal(t, 60, tr.Score())
		// 一笔亏损把窗口评分拉到约75，但旧评分60仍被向上混合。
		tr.Record(-10)
		assert.Equal(t, 63, tr.Score())
	})

	t.Run("窗口超限时裁掉最老样本", func(t *testing.T) {
		cfg := advisorCfg()
		cfg.LookbackTrades = 5
		tr := NewTrackRecord(t.TempDir(), "BNB/USDT", cfg)
		recordN(tr, 10, 7)
		assert.Equal(t, 5, tr.SampleCount())
		assert.Equal(t, 50, tr.Score())
	})
}

func TestTrackRecordPersistence(t *testing.T) {
	t.Run("重启后恢复窗口与评分", func(t *testing.T) {
		dir := t.TempDir()
		tr := NewTrackRecord(dir, "BNB/USDT", advisorCfg())
		recordN(tr, 10, 10)
		require.Equal(t, 60, tr.Score())

		re := NewTrackRecord(dir, "BNB/USDT", advisorCfg())
		require.NoError(t, re.Restore())
		assert.Equal(t, 60, re.Score())
		assert.Equal(t, 10, re.SampleCount())
		history := re.History()
		require.Len(t, history, 10)
		assert.InDelta(t, 10, history[0].PnL, 1e-9)
		assert.True(t, history[0].Win)
	})

	t.Run("状态文件按交易对命名", func(t *testing.T) {
		dir := t.TempDir()
		tr := NewTrackRecord(dir, "BNB/USDT", advisorCfg())
		tr.Record(10)
		require.FileExists(t, filepath.Join(dir, "ai_performance_BNBUSDT.json"))
	})

	t.Run("状态文件缺失时保留初始评分", func(t *testing.T) {
		tr := NewTrackRecord(t.TempDir(), "BNB/USDT", advisorCfg())
		require.NoError(t, tr.Restore())
		assert.Equal(t, 50, tr.Score())
		assert.Zero(t, tr.SampleCount())
	})

	t.Run("状态文件损坏时不致命", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "ai_performance_BNBUSDT.json")
		require.NoError(t, os.WriteFile(path, []byte("not-json{"), 0o644))

		tr := NewTrackRecord(dir, "BNB/USDT", advisorCfg())
		require.NoError(t, tr.Restore())
		assert.Equal(t, 50, tr.Score())
		assert.Zero(t, tr.SampleCount())
	})
}

func TestPaper(t *testing.T) {
	newPaper := func(t *testing.T) (*Paper, *TrackRecord) {
		track := NewTrackRecord(t.TempDir(), "BNB/USDT", advisorCfg())
		return NewPaper(track, 100), track
	}
	longOp := Opinion{Direction: DirectionLong, Confidence: 65, Entry: 99, Stop: 95, Target: 120}

	t.Run("有效建议按现价虚拟开仓", func(t *testing.T) {
		p, _ := newPaper(t)
		require.True(t, p.Consider(longOp, 100, 1714550400000))

		open := p.Open()
		require.NotNil(t, open)
		assert.Equal(t, types.SideLong, open.Side)
		// 以现价成交，不追模型给的限价
		assert.InDelta(t, 100, open.Entry, 1e-9)
		assert.InDelta(t, 95, open.Stop, 1e-9)
		assert.InDelta(t, 120, open.Target, 1e-9)
		assert.EqualValues(t, 1714550400000, open.OpenedAtMS)
	})

	t.Run("价位不自洽的建议被忽略", func(t *testing.T) {
		p, _ := newPaper(t)
		stopAbove := longOp
		stopAbove.Stop = 105
		assert.False(t, p.Consider(stopAbove, 100, 1))

		targetBelow := longOp
		targetBelow.Target = 99
		assert.False(t, p.Consider(targetBelow, 100, 1))

		missing := longOp
		missing.Stop = 0
		assert.False(t, p.Consider(missing, 100, 1))
		assert.Nil(t, p.Open())
	})

	t.Run("中性建议与已占用仓位不接单", func(t *testing.T) {
		p, _ := newPaper(t)
		assert.False(t, p.Consider(Opinion{Direction: DirectionNeutral}, 100, 1))
		require.True(t, p.Consider(longOp, 100, 1))
		assert.False(t, p.Consider(longOp, 100, 2))
	})

	t.Run("触及止盈按收益结算", func(t *testing.T) {
		p, track := newPaper(t)
		require.True(t, p.Consider(longOp, 100, 1))

		closed, pnl := p.Evaluate(119)
		assert.False(t, closed)

		closed, pnl = p.Evaluate(121)
		require.True(t, closed)
		// 按止盈价位而非当前价结算: (120-100)/100*100 = +20
		assert.InDelta(t, 20, pnl, 1e-9)
		assert.Nil(t, p.Open())
		require.Equal(t, 1, track.SampleCount())
		assert.True(t, track.History()[0].Win)
	})

	t.Run("触及止损按亏损结算", func(t *testing.T) {
		p, track := newPaper(t)
		require.True(t, p.Consider(longOp, 100, 1))

		closed, pnl := p.Evaluate(94)
		require.True(t, closed)
		assert.InDelta(t, -5, pnl, 1e-9)
		require.Equal(t, 1, track.SampleCount())
		assert.False(t, track.History()[0].Win)
	})

	t.Run("空头方向镜像结算", func(t *testing.T) {
		p, _ := newPaper(t)
		shortOp := Opinion{Direction: DirectionShort, Confidence: 65, Stop: 105, Target: 80}
		require.True(t, p.Consider(shortOp, 100, 1))

		closed, pnl := p.Evaluate(79)
		require.True(t, closed)
		assert.InDelta(t, 20, pnl, 1e-9)
	})

	t.Run("默认名义本金为100", func(t *testing.T) {
		track := NewTrackRecord(t.TempDir(), "BNB/USDT", advisorCfg())
		p := NewPaper(track, 0)
		require.True(t, p.Consider(longOp, 100, 1))
		_, pnl := p.Evaluate(121)
		assert.InDelta(t, 20, pnl, 1e-9)
	})

	t.Run("零价或空仓时评估为空操作", func(t *testing.T) {
		p, _ := newPaper(t)
		closed, _ := p.Evaluate(100)
		assert.False(t, closed)
		require.True(t, p.Consider(longOp, 100, 1))
		closed, _ = p.Evaluate(0)
		assert.False(t, closed)
	})
}

package performance

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crest/internal/config"
	"crest/internal/types"
)

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	cfg := config.Default()
	return NewTracker("BNB/USDT", t.TempDir(), 100, cfg.Performance)
}

func mkTrade(net float64, ts int64) types.TradeRecord {
	return types.TradeRecord{
		Symbol:     "BNB/USDT",
		Side:       types.SideLong,
		NetPnL:     net,
		Reason:     types.CloseTrailingStop,
		ClosedAtMS: ts,
	}
}

func TestScore(t *testing.T) {
	t.Run("十笔交易的综合得分", func(t *testing.T) {
		tr := newTracker(t)
		pnls := []float64{50, 50, 50, -30, -30, -30, -30, 50, 50, 50}
		for i, p := range pnls {
			tr.RecordTrade(mkTrade(p, int64(i+1)*1000))
		}

		wr, ok := tr.WinRate()
		require.True(t, ok)
		assert.InDelta(t, 60.0, wr, 1e-9)

		pr, ok := tr.PayoffRatio()
		require.True(t, ok)
		assert.InDelta(t, 50.0/30.0, pr, 1e-9)

		// 净值 150→250 后回落到 130，回撤 (250-130)/250
		dd, ok := tr.MaxDrawdown()
		require.True(t, ok)
		assert.InDelta(t, 48.0, dd, 1e-9)

		score, ok := tr.Score()
		require.True(t, ok)
		assert.InDelta(t, 0.567644, score, 1e-5)
	})

	t.Run("交易笔数不足时得分不可用", func(t *testing.T) {
		tr := newTracker(t)
		for i := 0; i < 4; i++ {
			tr.RecordTrade(mkTrade(10, int64(i+1)*1000))
		}
		_, ok := tr.Score()
		assert.False(t, ok)
	})

	t.Run("全胜时盈亏比封顶", func(t *testing.T) {
		tr := newTracker(t)
		for i := 0; i < 5; i++ {
			tr.RecordTrade(mkTrade(20, int64(i+1)*1000))
		}
		pr, ok := tr.PayoffRatio()
		require.True(t, ok)
		assert.InDelta(t, 999.0, pr, 1e-9)

		score, ok := tr.Score()
		require.True(t, ok)
		assert.InDelta(t, 0.9983268, score, 1e-6)
	})

	t.Run("全败时盈亏比为零", func(t *testing.T) {
		tr := newTracker(t)
		for i := 0; i < 5; i++ {
			tr.RecordTrade(mkTrade(-10, int64(i+1)*1000))
		}
		pr, ok := tr.PayoffRatio()
		require.True(t, ok)
		assert.InDelta(t, 0.0, pr, 1e-9)
	})
}

func TestRecordTrade(t *testing.T) {
	tr := newTracker(t)
	tr.RecordTrade(mkTrade(25, 5000))
	tr.RecordTrade(mkTrade(-10, 6000))

	assert.InDelta(t, 15.0, tr.TotalProfit(), 1e-9)
	assert.InDelta(t, 115.0, tr.CurrentEquity(), 1e-9)
	assert.Equal(t, 2, tr.TradeCount())

	curve := tr.EquityCurve()
	require.Len(t, curve, 2)
	assert.Equal(t, int64(5000), curve[0].TimeMS)
	assert.InDelta(t, 125.0, curve[0].Equity, 1e-9)
	assert.Equal(t, int64(6000), curve[1].TimeMS)
	assert.InDelta(t, 115.0, curve[1].Equity, 1e-9)
}

func TestAddFunding(t *testing.T) {
	t.Run("按水位线与资产过滤", func(t *testing.T) {
		tr := newTracker(t)
		tr.RecordTrade(mkTrade(10, 1000))

		tr.AddFunding([]FundingFee{
			{Asset: "USDT", Income: 0.5, TimeMS: 3000},
			{Asset: "USDT", Income: -0.2, TimeMS: 4000},
			{Asset: "BNB", Income: 9.9, TimeMS: 5000},
		})
		assert.InDelta(t, 10.3, tr.TotalProfit(), 1e-9)
		assert.Equal(t, int64(4000), tr.LastFundingMS())

		// 同一批流水重放不会重复入账
		tr.AddFunding([]FundingFee{
			{Asset: "USDT", Income: 0.5, TimeMS: 3000},
			{Asset: "USDT", Income: -0.2, TimeMS: 4000},
		})
		assert.InDelta(t, 10.3, tr.TotalProfit(), 1e-9)

		curve := tr.EquityCurve()
		require.Len(t, curve, 3)
		assert.InDelta(t, 110.5, curve[1].Equity, 1e-9)
		assert.InDelta(t, 110.3, curve[2].Equity, 1e-9)
	})

	t.Run("同一时间戳的净值点被覆盖而非重复", func(t *testing.T) {
		tr := newTracker(t)
		tr.RecordTrade(mkTrade(10, 3000))
		tr.AddFunding([]FundingFee{{Asset: "USDT", Income: 0.5, TimeMS: 3000}})

		curve := tr.EquityCurve()
		require.Len(t, curve, 1)
		assert.InDelta(t, 110.5, curve[0].Equity, 1e-9)
	})

	t.Run("乱序流水仍按时间折算", func(t *testing.T) {
		tr := newTracker(t)
		tr.AddFunding([]FundingFee{
			{Asset: "USDT", Income: -0.2, TimeMS: 4000},
			{Asset: "USDT", Income: 0.5, TimeMS: 3000},
		})
		curve := tr.EquityCurve()
		require.Len(t, curve, 2)
		assert.Equal(t, int64(3000), curve[0].TimeMS)
		assert.InDelta(t, 100.5, curve[0].Equity, 1e-9)
		assert.InDelta(t, 100.3, curve[1].Equity, 1e-9)
	})
}

func TestFIFONetPnL(t *testing.T) {
	fills := []Fill{
		{ID: "b1", Buy: true, Price: 100, Size: 2, Fee: 0.2, TimeMS: 1000},
		{ID: "b2", Buy: true, Price: 110, Size: 1, Fee: 0.1, TimeMS: 2000},
		{ID: "s1", Buy: false, Price: 120, Size: 2.5, Fee: 0.3, TimeMS: 3000},
	}
	// 2@100 与 0.5@110 被撮合，手续费按量分摊
	want := (120-100)*2 - 0.3/2.5*2 - 0.2 +
		(120-110)*0.5 - 0.3/2.5*0.5 - 0.1/1*0.5

	t.Run("先进先出配对", func(t *testing.T) {
		assert.InDelta(t, want, FIFONetPnL(fills), 1e-9)
	})

	t.Run("乱序输入结果一致", func(t *testing.T) {
		shuffled := []Fill{fills[2], fills[0], fills[1]}
		assert.InDelta(t, want, FIFONetPnL(shuffled), 1e-9)
	})

	t.Run("卖单超出买单部分忽略", func(t *testing.T) {
		over := append([]Fill{}, fills...)
		over[2].Size = 10
		over[2].Fee = 1.2
		want := (120-100)*2 - 1.2/10*2 - 0.2 +
			(120-110)*1 - 1.2/10*1 - 0.1
		assert.InDelta(t, want, FIFONetPnL(over), 1e-9)
	})

	t.Run("没有成交返回零", func(t *testing.T) {
		assert.Zero(t, FIFONetPnL(nil))
	})
}

func TestInterpolate(t *testing.T) {
	cfg := config.Default().Performance

	t.Run("得分端点落在档位端点", func(t *testing.T) {
		agg := Interpolate(cfg, 1)
		assert.InDelta(t, cfg.Aggressive.ZonePct, agg.ZonePct, 1e-9)
		assert.InDelta(t, cfg.Aggressive.TrailATRMult, agg.TrailATRMult, 1e-9)
		assert.InDelta(t, cfg.Aggressive.PyramidStep, agg.PyramidStep, 1e-9)

		def := Interpolate(cfg, 0)
		assert.InDelta(t, cfg.Defensive.ZonePct, def.ZonePct, 1e-9)
		assert.InDelta(t, cfg.Defensive.TrailATRMult, def.TrailATRMult, 1e-9)
		assert.InDelta(t, cfg.Defensive.PyramidStep, def.PyramidStep, 1e-9)
	})

	t.Run("中点等于两档平均", func(t *testing.T) {
		mid := Midpoint(cfg)
		assert.InDelta(t, (cfg.Aggressive.ZonePct+cfg.Defensive.ZonePct)/2, mid.ZonePct, 1e-9)
		assert.InDelta(t, (cfg.Aggressive.TrailATRMult+cfg.Defensive.TrailATRMult)/2, mid.TrailATRMult, 1e-9)
		assert.InDelta(t, (cfg.Aggressive.PyramidStep+cfg.Defensive.PyramidStep)/2, mid.PyramidStep, 1e-9)
	})
}

func TestPersistence(t *testing.T) {
	t.Run("状态完整往返", func(t *testing.T) {
		dir := t.TempDir()
		cfg := config.Default()
		tr := NewTracker("BNB/USDT", dir, 100, cfg.Performance)
		tr.RecordTrade(mkTrade(25, 5000))
		tr.AddFunding([]FundingFee{{Asset: "USDT", Income: 0.5, TimeMS: 7000}})

		again := NewTracker("BNB/USDT", dir, 100, cfg.Performance)
		require.NoError(t, again.Restore())

		assert.False(t, again.IsNew())
		assert.InDelta(t, 25.5, again.TotalProfit(), 1e-9)
		assert.Equal(t, 1, again.TradeCount())
		assert.Equal(t, int64(7000), again.LastFundingMS())
		require.Len(t, again.EquityCurve(), 2)
	})

	t.Run("文件缺失视为全新账本", func(t *testing.T) {
		tr := newTracker(t)
		require.NoError(t, tr.Restore())
		assert.True(t, tr.IsNew())

		curve := tr.EquityCurve()
		require.Len(t, curve, 1)
		assert.InDelta(t, 100.0, curve[0].Equity, 1e-9)
	})

	t.Run("损坏文件备份后重新开始", func(t *testing.T) {
		dir := t.TempDir()
		cfg := config.Default()
		path := filepath.Join(dir, "futures_profit_BNBUSDT.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

		tr := NewTracker("BNB/USDT", dir, 100, cfg.Performance)
		require.NoError(t, tr.Restore())
		assert.True(t, tr.IsNew())

		backups, err := filepath.Glob(path + ".corrupt-*")
		require.NoError(t, err)
		assert.NotEmpty(t, backups)
	})

	t.Run("历史基线初始化", func(t *testing.T) {
		tr := newTracker(t)
		require.NoError(t, tr.Restore())
		require.True(t, tr.IsNew())

		tr.InitializeProfit(42)
		assert.False(t, tr.IsNew())
		assert.InDelta(t, 42.0, tr.TotalProfit(), 1e-9)
		assert.InDelta(t, 142.0, tr.CurrentEquity(), 1e-9)
	})
}

type recordingArchiver struct {
	trades []types.TradeRecord
	equity []types.EquitySnapshot
}

func (r *recordingArchiver) ArchiveTrade(rec types.TradeRecord) error {
	r.trades = append(r.trades, rec)
	return nil
}

func (r *recordingArchiver) ArchiveEquity(sym string, snap types.EquitySnapshot) error {
	r.equity = append(r.equity, snap)
	return nil
}

func TestArchiverHook(t *testing.T) {
	tr := newTracker(t)
	ar := &recordingArchiver{}
	tr.SetArchiver(ar)

	tr.RecordTrade(mkTrade(10, 1000))
	tr.AddFunding([]FundingFee{{Asset: "USDT", Income: 0.5, TimeMS: 2000}})

	require.Len(t, ar.trades, 1)
	assert.InDelta(t, 10.0, ar.trades[0].NetPnL, 1e-9)
	require.Len(t, ar.equity, 2)
	assert.InDelta(t, 110.5, ar.equity[1].Equity, 1e-9)
}

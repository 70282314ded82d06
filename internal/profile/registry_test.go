package profile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crest/internal/config"
)

const validYAML = `profiles:
  aggressive:
    zone_pct: 0.2
    trail_atr_mult: 2.0
    pyramid_step: 0.8
  defensive:
    zone_pct: 0.6
    trail_atr_mult: 3.5
    pyramid_step: 1.5
`

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewRegistry(t *testing.T) {
	t.Run("读取合法档位文件", func(t *testing.T) {
		r, err := NewRegistry(writeProfile(t, validYAML))
		require.NoError(t, err)

		snap := r.Snapshot()
		assert.Equal(t, int64(1), snap.Version)
		assert.InDelta(t, 0.2, snap.Endpoints.Aggressive.ZonePct, 1e-9)
		assert.InDelta(t, 3.5, snap.Endpoints.Defensive.TrailATRMult, 1e-9)
		assert.InDelta(t, 1.5, snap.Endpoints.Defensive.PyramidStep, 1e-9)
	})

	t.Run("负数被Schema拒绝", func(t *testing.T) {
		bad := `profiles:
  aggressive:
    zone_pct: -0.2
    trail_atr_mult: 2.0
    pyramid_step: 0.8
  defensive:
    zone_pct: 0.6
    trail_atr_mult: 3.5
    pyramid_step: 1.5
`
		_, err := NewRegistry(writeProfile(t, bad))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "schema violation")
	})

	t.Run("缺少档位端点被拒绝", func(t *testing.T) {
		bad := `profiles:
  aggressive:
    zone_pct: 0.2
    trail_atr_mult: 2.0
    pyramid_step: 0.8
`
		_, err := NewRegistry(writeProfile(t, bad))
		require.Error(t, err)
	})

	t.Run("未知字段被拒绝", func(t *testing.T) {
		bad := validYAML + `  unknown_block:
    foo: 1
`
		_, err := NewRegistry(writeProfile(t, bad))
		require.Error(t, err)
	})

	t.Run("路径为空直接失败", func(t *testing.T) {
		_, err := NewRegistry("  ")
		require.Error(t, err)
	})
}

func TestReload(t *testing.T) {
	t.Run("损坏的编辑保留旧快照", func(t *testing.T) {
		path := writeProfile(t, validYAML)
		r, err := NewRegistry(path)
		require.NoError(t, err)

		require.NoError(t, os.WriteFile(path, []byte("profiles: {broken"), 0o644))
		require.Error(t, r.reload())

		snap := r.Snapshot()
		assert.Equal(t, int64(1), snap.Version)
		assert.InDelta(t, 0.2, snap.Endpoints.Aggressive.ZonePct, 1e-9)
	})

	t.Run("合法编辑递增版本并通知订阅者", func(t *testing.T) {
		path := writeProfile(t, validYAML)
		r, err := NewRegistry(path)
		require.NoError(t, err)

		got := make(chan Snapshot, 4)
		r.Subscribe(func(s Snapshot) { got <- s })

		edited := `profiles:
  aggressive:
    zone_pct: 0.3
    trail_atr_mult: 1.8
    pyramid_step: 0.7
  defensive:
    zone_pct: 0.7
    trail_atr_mult: 4.0
    pyramid_step: 1.8
`
		require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))
		require.NoError(t, r.reload())
		r.notifyListeners()

		select {
		case snap := <-got:
			// 文件监听协程可能同时触发一次重载，只保证版本前进
			assert.GreaterOrEqual(t, snap.Version, int64(2))
			assert.InDelta(t, 0.3, snap.Endpoints.Aggressive.ZonePct, 1e-9)
			assert.InDelta(t, 4.0, snap.Endpoints.Defensive.TrailATRMult, 1e-9)
		case <-time.After(time.Second):
			t.Fatal("未收到档位变更通知")
		}
	})
}

func TestEnsureFile(t *testing.T) {
	agg := config.ProfilePoint{ZonePct: 0.2, TrailATRMult: 2.0, PyramidStep: 0.8}
	def := config.ProfilePoint{ZonePct: 0.6, TrailATRMult: 3.5, PyramidStep: 1.5}

	t.Run("缺失时生成可加载的初始文件", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state", "profiles.yaml")
		require.NoError(t, EnsureFile(path, agg, def))

		r, err := NewRegistry(path)
		require.NoError(t, err)
		ep := r.Endpoints()
		assert.InDelta(t, 0.2, ep.Aggressive.ZonePct, 1e-9)
		assert.InDelta(t, 3.5, ep.Defensive.TrailATRMult, 1e-9)
	})

	t.Run("已存在的文件不被覆盖", func(t *testing.T) {
		path := writeProfile(t, validYAML)
		before, err := os.ReadFile(path)
		require.NoError(t, err)

		require.NoError(t, EnsureFile(path, agg, def))
		after, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})
}

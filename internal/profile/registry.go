// Package profile 管理策略参数档位文件：防御/激进两端点以 YAML 形式
// 存放，进程内热加载。每次重载先过内嵌 JSON Schema 校验，再原子替换
// 带版本号的快照；校验失败保留旧快照。
package profile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"crest/internal/config"
	"crest/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const schemaJSON = `{
  "type": "object",
  "required": ["profiles"],
  "properties": {
    "profiles": {
      "type": "object",
      "required": ["aggressive", "defensive"],
      "properties": {
        "aggressive": {"$ref": "#/$defs/point"},
        "defensive": {"$ref": "#/$defs/point"}
      }
    }
  },
  "$defs": {
    "point": {
      "type": "object",
      "required": ["zone_pct", "trail_atr_mult", "pyramid_step"],
      "properties": {
        "zone_pct": {"type": "number", "exclusiveMinimum": 0},
        "trail_atr_mult": {"type": "number", "exclusiveMinimum": 0},
        "pyramid_step": {"type": "number", "exclusiveMinimum": 0}
      }
    }
  }
}`

type pointSpec struct {
	ZonePct      float64 `mapstructure:"zone_pct" yaml:"zone_pct"`
	TrailATRMult float64 `mapstructure:"trail_atr_mult" yaml:"trail_atr_mult"`
	PyramidStep  float64 `mapstructure:"pyramid_step" yaml:"pyramid_step"`
}

type fileConfig struct {
	Profiles struct {
		Aggressive pointSpec `mapstructure:"aggressive" yaml:"aggressive"`
		Defensive  pointSpec `mapstructure:"defensive" yaml:"defensive"`
	} `mapstructure:"profiles" yaml:"profiles"`
}

// Endpoints 插值用的两个档位端点。
type Endpoints struct {
	Aggressive config.ProfilePoint
	Defensive  config.ProfilePoint
}

// Snapshot 某次成功加载的档位快照，Version 每次重载递增。
type Snapshot struct {
	Version   int64
	LoadedAt  time.Time
	Endpoints Endpoints
}

// ChangeListener 在快照替换后触发。
type ChangeListener func(Snapshot)

// Registry 监听档位文件并维护当前快照。
type Registry struct {
	path   string
	v      *viper.Viper
	schema *jsonschema.Schema

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 读取档位文件并开始监听变更。文件不合法时构造失败。
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("profile registry requires path")
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("compile profile schema failed: %w", err)
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read profile config failed: %w", err)
	}
	r := &Registry{path: path, v: v, schema: schema}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("参数档位重载失败，保留旧快照: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot 返回当前档位快照。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// Endpoints 返回当前端点对。
func (r *Registry) Endpoints() Endpoints {
	return r.Snapshot().Endpoints
}

// Subscribe 注册快照变更回调，回调在独立 goroutine 中执行。
func (r *Registry) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read profile config failed: %w", err)
	}
	if err := validateDocument(r.schema, raw); err != nil {
		return err
	}

	var cfg fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return fmt.Errorf("parse profile config failed: %w", err)
	}

	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Endpoints: Endpoints{
			Aggressive: toProfilePoint(cfg.Profiles.Aggressive),
			Defensive:  toProfilePoint(cfg.Profiles.Defensive),
		},
	}
	r.mu.Unlock()
	logger.Infof("参数档位已加载 (v%d): %s", r.Snapshot().Version, filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := r.snapshot
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("profile listener")
			cb(snap)
		}(fn)
	}
}

// validateDocument 把 YAML 文档转成 JSON 原生类型后过 Schema 校验。
func validateDocument(schema *jsonschema.Schema, raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse profile config failed: %w", err)
	}
	jsonRaw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("normalize profile config failed: %w", err)
	}
	var jsonDoc any
	if err := json.Unmarshal(jsonRaw, &jsonDoc); err != nil {
		return fmt.Errorf("normalize profile config failed: %w", err)
	}
	if err := schema.Validate(jsonDoc); err != nil {
		return fmt.Errorf("profile config schema violation: %w", err)
	}
	return nil
}

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("profile.json", strings.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("profile.json")
}

func toProfilePoint(p pointSpec) config.ProfilePoint {
	return config.ProfilePoint{
		ZonePct:      p.ZonePct,
		TrailATRMult: p.TrailATRMult,
		PyramidStep:  p.PyramidStep,
	}
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}

// EnsureFile 在档位文件缺失时用给定端点生成初始文件，已存在则不动。
func EnsureFile(path string, agg, def config.ProfilePoint) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("profile file path is empty")
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	var cfg fileConfig
	cfg.Profiles.Aggressive = pointSpec{ZonePct: agg.ZonePct, TrailATRMult: agg.TrailATRMult, PyramidStep: agg.PyramidStep}
	cfg.Profiles.Defensive = pointSpec{ZonePct: def.ZonePct, TrailATRMult: def.TrailATRMult, PyramidStep: def.PyramidStep}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

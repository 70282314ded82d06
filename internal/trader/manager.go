package trader

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/errgroup"

	"crest/internal/advisor"
	"crest/internal/config"
	"crest/internal/executor"
	"crest/internal/gateway/exchange"
	"crest/internal/gateway/notifier"
	"crest/internal/logger"
	"crest/internal/performance"
	"crest/internal/profile"
	symbolpkg "crest/internal/pkg/symbol"
	livehttp "crest/internal/transport/http/live"
)

// ManagerParams 是多品种管理器的依赖集合，逐品种分发给各交易循环。
type ManagerParams struct {
	Config   *config.Config
	Exchange exchange.Exchange
	Notifier notifier.TextNotifier
	Journal  executor.OrderJournal
	Archive  performance.Archiver
	Profiles *profile.Registry
	Advisor  advisor.Advisor
	Board    *livehttp.StatusBoard
}

// Manager 为每个配置的品种维护一个交易循环并托管其生命周期。
type Manager struct {
	traders []*Trader
}

// NewManager 按配置的品种列表构建交易循环，并把档位热更新事件
// 广播为各品种的重算请求。
func NewManager(p ManagerParams) (*Manager, error) {
	symbols := symbolpkg.NormalizeList(p.Config.Trading.Symbols)
	if len(symbols) == 0 {
		return nil, errors.New("no valid trading symbols configured")
	}
	m := &Manager{traders: make([]*Trader, 0, len(symbols))}
	for _, sym := range symbols {
		m.traders = append(m.traders, New(Params{
			Config:   p.Config,
			Symbol:   sym,
			Exchange: p.Exchange,
			Notifier: p.Notifier,
			Journal:  p.Journal,
			Archive:  p.Archive,
			Profiles: p.Profiles,
			Advisor:  p.Advisor,
			Board:    p.Board,
		}))
	}
	if p.Profiles != nil {
		p.Profiles.Subscribe(func(snap profile.Snapshot) {
			logger.Infof("参数档位已热更新 (版本 %d)，所有品种将在下一轮循环重算动态参数", snap.Version)
			for _, tr := range m.traders {
				tr.RequestRetune()
			}
		})
	}
	return m, nil
}

// Symbols 返回托管的品种列表。
func (m *Manager) Symbols() []string {
	out := make([]string, 0, len(m.traders))
	for _, tr := range m.traders {
		out = append(out, tr.Symbol())
	}
	return out
}

// Run 先串行初始化全部品种（失败的跳过），再并发驱动各自的主循环。
// 任一循环返回错误即取消其余循环。
func (m *Manager) Run(ctx context.Context) error {
	alive := make([]*Trader, 0, len(m.traders))
	for _, tr := range m.traders {
		if err := tr.Prepare(ctx); err != nil {
			logger.Errorf("[%s] 初始化失败，已跳过该品种: %v", tr.Symbol(), err)
			continue
		}
		alive = append(alive, tr)
	}
	if len(alive) == 0 {
		return errors.New("所有品种初始化失败")
	}
	names := make([]string, 0, len(alive))
	for _, tr := range alive {
		names = append(names, tr.Symbol())
	}
	logger.Infof("成功初始化的交易对: %s", strings.Join(names, ", "))

	g, gctx := errgroup.WithContext(ctx)
	for _, tr := range alive {
		g.Go(func() error { return tr.Run(gctx) })
	}
	return g.Wait()
}

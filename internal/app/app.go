// Package app 负责应用级装配：按配置构建交易所、通知通道、归档与
// 订单流水存储、参数档位、顾问与观察端，再把全部依赖交给多品种
// 管理器驱动各自的交易循环。
package app

import (
	"context"
	"fmt"
	"strings"

	"crest/internal/advisor"
	"crest/internal/config"
	"crest/internal/executor/journal"
	"crest/internal/gateway/binance"
	"crest/internal/gateway/exchange"
	"crest/internal/gateway/notifier"
	"crest/internal/logger"
	"crest/internal/profile"
	"crest/internal/store/gormstore"
	"crest/internal/trader"
	livehttp "crest/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

// App 持有全部运行态组件。观察端未启用时 server 为 nil。
type App struct {
	cfg      *config.Config
	manager  *trader.Manager
	server   *livehttp.Server
	archive  *gormstore.Store
	journal  *journal.Store
	profiles *profile.Registry
	summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	exch, err := buildExchange(cfg.Venue)
	if err != nil {
		return nil, err
	}
	notify := buildNotifier(cfg.Notify)

	archive, err := gormstore.NewStore(cfg.Store.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("初始化交易归档库失败: %w", err)
	}
	jnl, err := journal.Open(cfg.Store.JournalPath)
	if err != nil {
		archive.Close()
		return nil, fmt.Errorf("初始化订单流水库失败: %w", err)
	}

	profiles, err := buildProfiles(cfg.Performance)
	if err != nil {
		jnl.Close()
		archive.Close()
		return nil, err
	}

	var adv advisor.Advisor
	if cfg.Advisor.Enabled {
		adv = advisor.NewService(cfg.Advisor)
	}

	board := livehttp.NewStatusBoard()
	var server *livehttp.Server
	if cfg.Observer.Enabled {
		server, err = livehttp.NewServer(livehttp.ServerConfig{
			Addr:    cfg.Observer.ListenAddr,
			Board:   board,
			Archive: archive,
		})
		if err != nil {
			jnl.Close()
			archive.Close()
			return nil, fmt.Errorf("初始化观察端服务失败: %w", err)
		}
	}

	manager, err := trader.NewManager(trader.ManagerParams{
		Config:   cfg,
		Exchange: exch,
		Notifier: notify,
		Journal:  jnl,
		Archive:  archive,
		Profiles: profiles,
		Advisor:  adv,
		Board:    board,
	})
	if err != nil {
		jnl.Close()
		archive.Close()
		return nil, err
	}

	return &App{
		cfg:      cfg,
		manager:  manager,
		server:   server,
		archive:  archive,
		journal:  jnl,
		profiles: profiles,
		summary:  buildSummary(cfg, manager.Symbols(), exch.Name()),
	}, nil
}

// Run 启动观察端与全部交易循环，任一组件退出即整体退出。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.summary != nil {
		a.summary.Print()
	}
	defer a.Close()

	group, ctx := errgroup.WithContext(ctx)
	if a.server != nil {
		group.Go(func() error {
			if err := a.server.Start(ctx); err != nil {
				return fmt.Errorf("观察端服务异常退出: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		return a.manager.Run(ctx)
	})
	return group.Wait()
}

// Close 释放本地存储句柄，可重复调用。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logger.Warnf("关闭订单流水库失败: %v", err)
		}
		a.journal = nil
	}
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			logger.Warnf("关闭交易归档库失败: %v", err)
		}
		a.archive = nil
	}
}

// buildExchange 目前只接入币安 USDⓈ-M 合约，name 留作扩展位。
func buildExchange(cfg config.VenueConfig) (exchange.Exchange, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "", "binance":
		return binance.New(binance.Config{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			Testnet:   cfg.Testnet,
			ProxyURL:  cfg.ProxyURL,
		})
	default:
		return nil, fmt.Errorf("不支持的交易所: %q", cfg.Name)
	}
}

// buildNotifier 组合已启用的推送通道，一个都没有时返回 nil，
// 交易事件退化为只写日志。
func buildNotifier(cfg config.NotifyConfig) notifier.TextNotifier {
	var targets []notifier.TextNotifier
	if cfg.Telegram.Enabled {
		targets = append(targets, notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID))
	}
	if cfg.Bark.Enabled {
		targets = append(targets, notifier.NewBark(cfg.Bark.PushURL))
	}
	multi := notifier.NewMulti(targets...)
	if multi.Empty() {
		logger.Warnf("未配置任何通知通道，交易事件仅记录日志")
		return nil
	}
	return multi
}

// buildProfiles 档位文件未配置时返回 nil，各循环退回配置内的静态端点。
func buildProfiles(cfg config.PerformanceConfig) (*profile.Registry, error) {
	path := strings.TrimSpace(cfg.ProfilePath)
	if path == "" {
		return nil, nil
	}
	if err := profile.EnsureFile(path, cfg.Aggressive, cfg.Defensive); err != nil {
		return nil, fmt.Errorf("初始化参数档位文件失败: %w", err)
	}
	reg, err := profile.NewRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("加载参数档位失败: %w", err)
	}
	return reg, nil
}

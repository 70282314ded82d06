package app

import (
	"fmt"
	"strings"

	"crest/internal/config"
)

// StartupSummary 在进程启动时把关键运行参数一次性打到控制台，
// 方便在日志开头核对环境。只保存配置的只读拷贝。
type StartupSummary struct {
	Env          string
	Venue        string
	Testnet      bool
	Cycle        string
	Symbols      []string
	Leverage     int
	MarginMode   string
	Principal    float64
	RiskPct      float64
	StopLossMode string
	SignalTF     string
	FilterTF     string
	Channels     []string
	AdvisorModel string
	ObserverAddr string
	ProfilePath  string
	ArchivePath  string
	JournalPath  string
}

func buildSummary(cfg *config.Config, symbols []string, venueName string) *StartupSummary {
	s := &StartupSummary{
		Env:          cfg.App.Env,
		Venue:        venueName,
		Testnet:      cfg.Venue.Testnet,
		Cycle:        cfg.App.Cycle().String(),
		Symbols:      symbols,
		Leverage:     cfg.Trading.Leverage,
		MarginMode:   cfg.Trading.MarginMode,
		Principal:    cfg.Trading.InitialPrincipal,
		RiskPct:      cfg.Trading.RiskPerTradePct,
		StopLossMode: cfg.Trading.StopLossMode,
		SignalTF:     cfg.Regime.SignalTimeframe,
		FilterTF:     cfg.Regime.FilterTimeframe,
		ProfilePath:  strings.TrimSpace(cfg.Performance.ProfilePath),
		ArchivePath:  cfg.Store.ArchivePath,
		JournalPath:  cfg.Store.JournalPath,
	}
	if cfg.Notify.Telegram.Enabled {
		s.Channels = append(s.Channels, "telegram")
	}
	if cfg.Notify.Bark.Enabled {
		s.Channels = append(s.Channels, "bark")
	}
	if cfg.Advisor.Enabled {
		s.AdvisorModel = cfg.Advisor.Model
	}
	if cfg.Observer.Enabled {
		s.ObserverAddr = cfg.Observer.ListenAddr
	}
	return s
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 64))
	fmt.Println("                启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 64))

	venue := s.Venue
	if s.Testnet {
		venue += " (测试网)"
	}
	fmt.Println("[运行环境 (RUNTIME)]")
	fmt.Printf("  环境: %s\n", s.Env)
	fmt.Printf("  交易所: %s\n", venue)
	fmt.Printf("  循环节拍: %s\n", s.Cycle)
	fmt.Println()

	fmt.Println("[交易参数 (TRADING)]")
	fmt.Printf("  交易品种: %s\n", formatList(s.Symbols))
	fmt.Printf("  杠杆/保证金: %dx / %s\n", s.Leverage, s.MarginMode)
	fmt.Printf("  名义本金: %.2f USDT\n", s.Principal)
	fmt.Printf("  单笔风险: %.2f%% (止损模式 %s)\n", s.RiskPct, s.StopLossMode)
	fmt.Printf("  判定周期: 信号 %s / 过滤 %s\n", s.SignalTF, s.FilterTF)
	fmt.Println()

	fmt.Println("[外围组件 (COMPONENTS)]")
	fmt.Printf("  通知通道: %s\n", formatList(s.Channels))
	if s.AdvisorModel != "" {
		fmt.Printf("  AI 顾问: %s\n", s.AdvisorModel)
	} else {
		fmt.Println("  AI 顾问: 未启用")
	}
	if s.ObserverAddr != "" {
		fmt.Printf("  观察端: %s\n", s.ObserverAddr)
	} else {
		fmt.Println("  观察端: 未启用")
	}
	if s.ProfilePath != "" {
		fmt.Printf("  参数档位: %s (支持热更新)\n", s.ProfilePath)
	} else {
		fmt.Println("  参数档位: 使用配置内静态端点")
	}
	fmt.Printf("  归档库: %s\n", s.ArchivePath)
	fmt.Printf("  流水库: %s\n", s.JournalPath)
	fmt.Println(strings.Repeat("=", 64))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

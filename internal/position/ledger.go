package position

import (
	"fmt"
	"path/filepath"

	"crest/internal/gateway/notifier"
	"crest/internal/logger"
	"crest/internal/pkg/symbol"
	"crest/internal/store/statefile"
	"crest/internal/types"
)

// Ledger 管理单个品种的持仓状态：记录每笔成交、维护止损止盈，
// 并在每次变更后立即写盘，进程重启后可无缝恢复。
// 止损只允许朝有利方向移动，阶段编号只增不减。
type Ledger struct {
	symbol string
	path   string
	pos    Position
	notify notifier.TextNotifier
}

// NewLedger 创建账本，状态文件位于 stateDir/futures_position_<SYMBOL>.json。
func NewLedger(sym, stateDir string) *Ledger {
	name := fmt.Sprintf("futures_position_%s.json", symbol.FileToken(sym))
	return &Ledger{
		symbol: sym,
		path:   filepath.Join(stateDir, name),
	}
}

// SetNotifier 注入止损变更通知通道，nil 表示只写日志。
func (l *Ledger) SetNotifier(n notifier.TextNotifier) {
	l.notify = n
}

// Restore 从状态文件恢复持仓。文件缺失视为空仓，损坏的文件由
// 底层存储备份后同样按空仓处理。
func (l *Ledger) Restore() error {
	var pos Position
	found, err := statefile.Load(l.path, &pos)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	l.pos = pos
	if l.pos.IsOpen() {
		logger.Warnf("[%s] 从状态文件恢复未平仓头寸: %s", l.symbol, l.pos.String())
	}
	return nil
}

// Symbol 账本对应的交易对。
func (l *Ledger) Symbol() string { return l.symbol }

// IsOpen 是否持仓中。
func (l *Ledger) IsOpen() bool { return l.pos.IsOpen() }

// Snapshot 返回当前状态的深拷贝，调用方可安全持有。
func (l *Ledger) Snapshot() Position {
	snap := l.pos
	snap.Entries = make([]Entry, len(l.pos.Entries))
	copy(snap.Entries, l.pos.Entries)
	return snap
}

// Open 建立首仓。初始单位风险 |price-initialStop| 在此一次性固定，
// 之后加仓不再改变，作为金字塔加仓与移动止损的 R 基准。
func (l *Ledger) Open(side types.Side, price, size, fee, initialStop, takeProfit float64, ts int64, reason types.EntryReason) error {
	if l.pos.IsOpen() {
		return fmt.Errorf("position already open: %s", l.pos.String())
	}
	if !side.Valid() {
		return fmt.Errorf("invalid side %q", side)
	}
	if price <= 0 || size <= 0 {
		return fmt.Errorf("invalid open price=%v size=%v", price, size)
	}
	l.pos = Position{
		Side:               side,
		Entries:            []Entry{{Price: price, Size: size, Fee: fee, TimeMS: ts}},
		StopLoss:           initialStop,
		TakeProfit:         takeProfit,
		EntryReason:        reason,
		InitialRiskPerUnit: abs(price - initialStop),
		StopStage:          StageTrail,
		HighWaterMark:      price,
		LowWaterMark:       price,
		OpenedAtMS:         ts,
	}
	l.save()
	logger.Infof("[%s] 开仓 %s @ %.4f size=%.8f sl=%.4f tp=%.4f reason=%s",
		l.symbol, side, price, size, initialStop, takeProfit, reason)
	return nil
}

// Add 金字塔加仓：追加一笔成交，均价随之重算，初始单位风险保持不变。
func (l *Ledger) Add(price, size, fee float64, ts int64) error {
	if !l.pos.IsOpen() {
		return fmt.Errorf("no open position to add to")
	}
	if price <= 0 || size <= 0 {
		return fmt.Errorf("invalid add price=%v size=%v", price, size)
	}
	l.pos.Entries = append(l.pos.Entries, Entry{Price: price, Size: size, Fee: fee, TimeMS: ts})
	l.save()
	logger.Infof("[%s] 加仓 @ %.4f size=%.8f 第%d次 新均价=%.4f",
		l.symbol, price, size, l.pos.AddCount(), l.pos.AvgPrice())
	return nil
}

// UpdateStop 移动止损。只接受对持仓更有利的价格：多头只升不降，
// 空头只降不升。接受时发送前后对照的通知并返回 true。
func (l *Ledger) UpdateStop(candidate float64, reason string) bool {
	if !l.pos.IsOpen() || candidate <= 0 {
		return false
	}
	current := l.pos.StopLoss
	improved := false
	switch l.pos.Side {
	case types.SideLong:
		improved = candidate > current
	case types.SideShort:
		improved = current <= 0 || candidate < current
	}
	if !improved {
		return false
	}
	l.pos.StopLoss = candidate
	l.save()
	logger.Infof("[%s] 止损上移 %.4f -> %.4f (%s)", l.symbol, current, candidate, reason)
	l.sendText(fmt.Sprintf("📈 %s 止损位更新\n原因: %s\n旧止损: %.4f\n新止损: %.4f",
		l.symbol, reason, current, candidate))
	return true
}

// AdvanceStage 推进止损阶段，只进不退。返回是否发生了推进。
func (l *Ledger) AdvanceStage(stage Stage) bool {
	if !l.pos.IsOpen() || stage <= l.pos.StopStage {
		return false
	}
	prev := l.pos.StopStage
	l.pos.StopStage = stage
	l.save()
	logger.Infof("[%s] 止损阶段推进 %v -> %v", l.symbol, prev, stage)
	return true
}

// PartialClose 按比例部分平仓：每笔成交的 size 和 fee 等比缩减，
// 均价保持不变，部分止盈计数加一。ratio>=1 时等价于全平。
// 返回实际减掉的数量。
func (l *Ledger) PartialClose(ratio float64) (float64, error) {
	if !l.pos.IsOpen() {
		return 0, fmt.Errorf("no open position to reduce")
	}
	if ratio <= 0 {
		return 0, fmt.Errorf("invalid partial close ratio %v", ratio)
	}
	total := l.pos.Size()
	if ratio >= 1 {
		l.Close()
		return total, nil
	}
	keep := 1 - ratio
	for i := range l.pos.Entries {
		l.pos.Entries[i].Size *= keep
		l.pos.Entries[i].Fee *= keep
	}
	l.pos.PartialExitCount++
	l.save()
	closed := total * ratio
	logger.Infof("[%s] 部分平仓 %.0f%% closed=%.8f remaining=%.8f", l.symbol, ratio*100, closed, l.pos.Size())
	return closed, nil
}

// Close 清仓并复位全部状态，随后立即写盘。
func (l *Ledger) Close() {
	if l.pos.IsOpen() {
		logger.Infof("[%s] 平仓并清空状态: %s", l.symbol, l.pos.String())
	}
	l.pos = Position{}
	l.save()
}

// ObserveExtremum 用最新价刷新水位线，供吊灯止损与回撤统计使用。
// 水位确有刷新时返回 true。
func (l *Ledger) ObserveExtremum(price float64) bool {
	if !l.pos.IsOpen() || price <= 0 {
		return false
	}
	moved := false
	if price > l.pos.HighWaterMark {
		l.pos.HighWaterMark = price
		moved = true
	}
	if l.pos.LowWaterMark <= 0 || price < l.pos.LowWaterMark {
		l.pos.LowWaterMark = price
		moved = true
	}
	if moved {
		l.save()
	}
	return moved
}

func (l *Ledger) save() {
	if err := statefile.Save(l.path, &l.pos); err != nil {
		logger.Errorf("[%s] 保存持仓状态失败: %v", l.symbol, err)
	}
}

func (l *Ledger) sendText(text string) {
	if l.notify == nil {
		return
	}
	if err := l.notify.SendText(text); err != nil {
		logger.Warnf("[%s] 通知发送失败: %v", l.symbol, err)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

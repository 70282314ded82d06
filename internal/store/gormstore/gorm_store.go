// Package gormstore 用 Gorm + SQLite 归档已实现交易与净值曲线。
// JSON 状态文件只保留当前状态，这里保留全量历史，供观察端分页查询与绘图。
package gormstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	storemodel "crest/internal/store/model"
	"crest/internal/types"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type tradeModel = storemodel.TradeModel
type equityPointModel = storemodel.EquityPointModel

// Store 是交易归档库。实现 performance.Archiver。
type Store struct {
	db *gorm.DB
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 归档路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&tradeModel{}, &equityPointModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: 小并发度兼顾 HTTP 读与写锁竞争。
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ArchiveTrade 实现 performance.Archiver。重复归档同一笔平仓时静默跳过。
func (s *Store) ArchiveTrade(rec types.TradeRecord) error {
	return s.SaveTrade(context.Background(), rec)
}

// ArchiveEquity 实现 performance.Archiver。同一时间戳的点覆盖旧值。
func (s *Store) ArchiveEquity(symbol string, snap types.EquitySnapshot) error {
	return s.SaveEquityPoint(context.Background(), symbol, snap)
}

func (s *Store) SaveTrade(ctx context.Context, rec types.TradeRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if strings.TrimSpace(rec.Symbol) == "" {
		return fmt.Errorf("trade record 缺少 symbol")
	}
	model := newTradeModel(rec)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "entry_timestamp"}, {Name: "exit_timestamp"}},
			DoNothing: true,
		}).
		Create(&model).Error
}

func (s *Store) SaveEquityPoint(ctx context.Context, symbol string, snap types.EquitySnapshot) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return fmt.Errorf("equity point 缺少 symbol")
	}
	model := equityPointModel{
		Symbol: symbol,
		TimeMS: snap.TimeMS,
		Equity: snap.Equity,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "timestamp"}},
			DoUpdates: clause.AssignmentColumns([]string{"equity"}),
		}).
		Create(&model).Error
}

// RecentTrades 按平仓时间倒序返回归档交易，symbol 为空时不过滤。
func (s *Store) RecentTrades(ctx context.Context, symbol string, limit int) ([]types.TradeRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := s.db.WithContext(ctx).Model(&tradeModel{})
	if sym := strings.ToUpper(strings.TrimSpace(symbol)); sym != "" {
		query = query.Where("UPPER(symbol) = ?", sym)
	}
	var models []tradeModel
	if err := query.
		Order("exit_timestamp DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.TradeRecord, 0, len(models))
	for _, m := range models {
		out = append(out, tradeModelToRecord(m))
	}
	return out, nil
}

func (s *Store) CountTrades(ctx context.Context, symbol string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("gorm store 未初始化")
	}
	query := s.db.WithContext(ctx).Model(&tradeModel{})
	if sym := strings.ToUpper(strings.TrimSpace(symbol)); sym != "" {
		query = query.Where("UPPER(symbol) = ?", sym)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}
	return int(total), nil
}

// EquityRange 按时间升序返回 sinceMS 之后的净值点。
func (s *Store) EquityRange(ctx context.Context, symbol string, sinceMS int64, limit int) ([]types.EquitySnapshot, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol 必填")
	}
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}
	query := s.db.WithContext(ctx).Model(&equityPointModel{}).Where("symbol = ?", symbol)
	if sinceMS > 0 {
		query = query.Where("timestamp > ?", sinceMS)
	}
	var models []equityPointModel
	if err := query.
		Order("timestamp ASC, id ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.EquitySnapshot, 0, len(models))
	for _, m := range models {
		out = append(out, types.EquitySnapshot{TimeMS: m.TimeMS, Equity: m.Equity})
	}
	return out, nil
}

// --------------------------- Model Helpers ------------------------------

func newTradeModel(rec types.TradeRecord) tradeModel {
	model := tradeModel{
		Symbol:      strings.ToUpper(strings.TrimSpace(rec.Symbol)),
		Side:        string(rec.Side),
		EntryPrice:  rec.EntryPrice,
		ExitPrice:   rec.ExitPrice,
		Size:        rec.Size,
		GrossPnL:    rec.GrossPnL,
		Fees:        rec.Fees,
		NetPnL:      rec.NetPnL,
		Reason:      string(rec.Reason),
		EntryReason: string(rec.EntryReason),
		AddCount:    rec.AddCount,
		OpenedAtMS:  rec.OpenedAtMS,
		ClosedAtMS:  rec.ClosedAtMS,
	}
	if raw := strings.TrimSpace(rec.EntriesJSON); raw != "" {
		model.Entries = datatypes.JSON(raw)
	}
	return model
}

func tradeModelToRecord(m tradeModel) types.TradeRecord {
	rec := types.TradeRecord{
		Symbol:      m.Symbol,
		Side:        types.Side(m.Side),
		EntryPrice:  m.EntryPrice,
		ExitPrice:   m.ExitPrice,
		Size:        m.Size,
		GrossPnL:    m.GrossPnL,
		Fees:        m.Fees,
		NetPnL:      m.NetPnL,
		Reason:      types.CloseReason(m.Reason),
		EntryReason: types.EntryReason(m.EntryReason),
		AddCount:    m.AddCount,
		OpenedAtMS:  m.OpenedAtMS,
		ClosedAtMS:  m.ClosedAtMS,
	}
	if len(m.Entries) > 0 {
		rec.EntriesJSON = string(m.Entries)
	}
	return rec
}

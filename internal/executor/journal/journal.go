// Package journal 把每笔实盘订单的提交与终态写进本地 SQLite。
// 确认超时的订单在交易所的真实状态未知，这份流水是人工对账的依据。
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Record 一笔订单的生命周期行。State 取确认状态机的终态，外加
// submit-failed 表示提交本身失败（订单从未到达交易所）。
type Record struct {
	ClientOrderID string
	OrderID       int64
	Symbol        string
	Side          string
	Purpose       string
	ReduceOnly    bool
	RequestQty    string
	State         string
	FilledQty     float64
	AvgPrice      float64
	Fee           float64
	ElapsedMS     int64
	SubmittedAt   time.Time
	UpdatedAt     time.Time
}

// Store wraps a sqlite database for order lifecycle rows.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open opens or creates the sqlite database.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal path 不能为空")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the underlying db.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Upsert 以 client_order_id 为键写入或覆盖一行：提交时写 submitted，
// 确认结束后用终态覆盖同一行。
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return fmt.Errorf("journal 未初始化")
	}
	if strings.TrimSpace(rec.ClientOrderID) == "" {
		return fmt.Errorf("client_order_id 不能为空")
	}
	submitted := rec.SubmittedAt
	if submitted.IsZero() {
		submitted = time.Now()
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = submitted
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO live_orders(client_order_id, order_id, symbol, side, purpose, reduce_only,
			request_qty, state, filled_qty, avg_price, fee, elapsed_ms, submitted_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_order_id) DO UPDATE SET
			order_id=excluded.order_id,
			symbol=excluded.symbol,
			side=excluded.side,
			purpose=excluded.purpose,
			reduce_only=excluded.reduce_only,
			request_qty=excluded.request_qty,
			state=excluded.state,
			filled_qty=excluded.filled_qty,
			avg_price=excluded.avg_price,
			fee=excluded.fee,
			elapsed_ms=excluded.elapsed_ms,
			updated_at=excluded.updated_at;
	`, rec.ClientOrderID, nullIfZeroInt(rec.OrderID), strings.ToUpper(strings.TrimSpace(rec.Symbol)),
		nullIfEmpty(rec.Side), nullIfEmpty(rec.Purpose), boolToInt(rec.ReduceOnly),
		nullIfEmpty(rec.RequestQty), rec.State, nullIfZero(rec.FilledQty), nullIfZero(rec.AvgPrice),
		nullIfZero(rec.Fee), rec.ElapsedMS, submitted.UnixMilli(), updated.UnixMilli())
	return err
}

// Recent 按提交时间倒序返回订单流水，symbol 为空时不过滤。
func (s *Store) Recent(ctx context.Context, symbol string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT client_order_id, order_id, symbol, side, purpose, reduce_only,
		request_qty, state, filled_qty, avg_price, fee, elapsed_ms, submitted_at, updated_at
		FROM live_orders`
	args := make([]interface{}, 0, 2)
	if sym := strings.ToUpper(strings.TrimSpace(symbol)); sym != "" {
		query += ` WHERE symbol = ?`
		args = append(args, sym)
	}
	query += ` ORDER BY submitted_at DESC, client_order_id DESC LIMIT ?`
	args = append(args, limit)
	return s.queryRecords(ctx, query, args...)
}

// Unresolved 返回没有走到 filled/canceled 的行：确认超时的订单、
// 崩溃后停留在 submitted 的残留行，以及提交报错但可能已落地的
// submit-failed 行，启动时用于提示人工核对。
func (s *Store) Unresolved(ctx context.Context, symbol string) ([]Record, error) {
	query := `SELECT client_order_id, order_id, symbol, side, purpose, reduce_only,
		request_qty, state, filled_qty, avg_price, fee, elapsed_ms, submitted_at, updated_at
		FROM live_orders WHERE state NOT IN ('filled', 'canceled')`
	args := make([]interface{}, 0, 1)
	if sym := strings.ToUpper(strings.TrimSpace(symbol)); sym != "" {
		query += ` AND symbol = ?`
		args = append(args, sym)
	}
	query += ` ORDER BY submitted_at ASC`
	return s.queryRecords(ctx, query, args...)
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...interface{}) ([]Record, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("journal 未初始化")
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var rec Record
	var orderID sql.NullInt64
	var side, purpose, reqQty sql.NullString
	var reduceOnly sql.NullInt64
	var filled, avg, fee sql.NullFloat64
	var elapsed, submitted, updated sql.NullInt64
	err := rows.Scan(&rec.ClientOrderID, &orderID, &rec.Symbol, &side, &purpose, &reduceOnly,
		&reqQty, &rec.State, &filled, &avg, &fee, &elapsed, &submitted, &updated)
	if err != nil {
		return Record{}, err
	}
	if orderID.Valid {
		rec.OrderID = orderID.Int64
	}
	if side.Valid {
		rec.Side = side.String
	}
	if purpose.Valid {
		rec.Purpose = purpose.String
	}
	rec.ReduceOnly = reduceOnly.Valid && reduceOnly.Int64 != 0
	if reqQty.Valid {
		rec.RequestQty = reqQty.String
	}
	if filled.Valid {
		rec.FilledQty = filled.Float64
	}
	if avg.Valid {
		rec.AvgPrice = avg.Float64
	}
	if fee.Valid {
		rec.Fee = fee.Float64
	}
	if elapsed.Valid {
		rec.ElapsedMS = elapsed.Int64
	}
	if submitted.Valid {
		rec.SubmittedAt = time.UnixMilli(submitted.Int64)
	}
	if updated.Valid {
		rec.UpdatedAt = time.UnixMilli(updated.Int64)
	}
	return rec, nil
}

func ensureSchema(db *sql.DB) error {
	stmt := `
	CREATE TABLE IF NOT EXISTS live_orders (
		client_order_id TEXT PRIMARY KEY,
		order_id INTEGER,
		symbol TEXT NOT NULL,
		side TEXT,
		purpose TEXT,
		reduce_only INTEGER NOT NULL DEFAULT 0,
		request_qty TEXT,
		state TEXT NOT NULL,
		filled_qty REAL,
		avg_price REAL,
		fee REAL,
		elapsed_ms INTEGER,
		submitted_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_live_orders_symbol ON live_orders(symbol);
	CREATE INDEX IF NOT EXISTS idx_live_orders_state ON live_orders(state);
	`
	_, err := db.Exec(stmt)
	return err
}

func nullIfZero(val float64) interface{} {
	if val == 0 {
		return nil
	}
	return val
}

func nullIfZeroInt(val int64) interface{} {
	if val == 0 {
		return nil
	}
	return val
}

func nullIfEmpty(s string) interface{} {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

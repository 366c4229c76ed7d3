package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/grid_market_maker/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// every connection to ":memory:" is a separate database
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS fills (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			order_id TEXT NOT NULL,
			side TEXT NOT NULL,
			price TEXT NOT NULL,
			size TEXT NOT NULL,
			is_close_order BOOLEAN NOT NULL DEFAULT 0,
			confidence TEXT NOT NULL,
			filled_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_fills_symbol ON fills(symbol, filled_at);`,
		`CREATE TABLE IF NOT EXISTS ema_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			size TEXT NOT NULL,
			entry_price TEXT NOT NULL,
			exit_price TEXT NOT NULL,
			pnl TEXT NOT NULL,
			signal_type TEXT NOT NULL,
			exit_reason TEXT NOT NULL,
			opened_at DATETIME NOT NULL,
			closed_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			mode TEXT NOT NULL,
			payload TEXT NOT NULL,
			taken_at DATETIME NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

// TradeRepository Implementation

func (s *SQLiteStore) SaveFill(ctx context.Context, fill *domain.Fill) error {
	query := `INSERT INTO fills (symbol, order_id, side, price, size, is_close_order, confidence, filled_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		fill.Symbol, fill.OrderID, fill.Side, fill.Price.String(), fill.Size.String(),
		fill.IsCloseOrder, fill.Confidence, fill.FilledAt)
	if err != nil {
		return err
	}
	fill.ID, _ = res.LastInsertId()
	return nil
}

// ListFills returns the newest fills first. An empty symbol lists all symbols.
func (s *SQLiteStore) ListFills(ctx context.Context, symbol string, limit int) ([]*domain.Fill, error) {
	query := `SELECT id, symbol, order_id, side, price, size, is_close_order, confidence, filled_at
			  FROM fills WHERE (? = '' OR symbol = ?) ORDER BY filled_at DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, symbol, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []*domain.Fill
	for rows.Next() {
		var f domain.Fill
		if err := rows.Scan(&f.ID, &f.Symbol, &f.OrderID, &f.Side, &f.Price, &f.Size, &f.IsCloseOrder, &f.Confidence, &f.FilledAt); err != nil {
			return nil, err
		}
		fills = append(fills, &f)
	}
	return fills, rows.Err()
}

func (s *SQLiteStore) SaveEMATrade(ctx context.Context, trade *domain.EMATrade) error {
	query := `INSERT INTO ema_trades (symbol, side, size, entry_price, exit_price, pnl, signal_type, exit_reason, opened_at, closed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		trade.Symbol, trade.Side, trade.Size.String(), trade.EntryPrice.String(), trade.ExitPrice.String(),
		trade.PnL.String(), trade.SignalType, trade.ExitReason, trade.OpenedAt, trade.ClosedAt)
	if err != nil {
		return err
	}
	trade.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) ListEMATrades(ctx context.Context, limit int) ([]*domain.EMATrade, error) {
	query := `SELECT id, symbol, side, size, entry_price, exit_price, pnl, signal_type, exit_reason, opened_at, closed_at
			  FROM ema_trades ORDER BY closed_at DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.EMATrade
	for rows.Next() {
		var t domain.EMATrade
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Side, &t.Size, &t.EntryPrice, &t.ExitPrice, &t.PnL,
			&t.SignalType, &t.ExitReason, &t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, err
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *domain.PerformanceSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (mode, payload, taken_at) VALUES (?, ?, ?)`,
		snap.Mode, string(payload), snap.TakenAt)
	return err
}

// LatestSnapshot returns nil, nil when nothing was saved yet.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context) (*domain.PerformanceSnapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM snapshots ORDER BY id DESC LIMIT 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap domain.PerformanceSnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Package journal is the SQLite backend for trade telemetry.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mt5-llm-trader/internal/telemetry"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

var _ telemetry.Store = (*SQLite)(nil)

func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) Append(ctx context.Context, t telemetry.TradeMetrics) error {
	return j.upsert(ctx, t)
}

// Update replaces the stored trade; unknown ids are reported as not found.
func (j *SQLite) Update(ctx context.Context, t telemetry.TradeMetrics) error {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM trades WHERE trade_id = ?`, t.ID).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", telemetry.ErrTradeNotFound, t.ID)
	}
	return j.upsert(ctx, t)
}

func (j *SQLite) upsert(ctx context.Context, t telemetry.TradeMetrics) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO trades
		(trade_id, entry_unix, symbol, action, ticket, magic, closed, exit_reason, realized_pl, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trade_id) DO UPDATE SET
			closed = excluded.closed,
			exit_reason = excluded.exit_reason,
			realized_pl = excluded.realized_pl,
			data = excluded.data`,
		t.ID, t.EntryTime.UTC().UnixNano(), t.Symbol, t.Action, int64(t.Ticket), t.Magic,
		boolInt(t.Closed()), t.ExitReason, t.ProfitLoss, string(data),
	)
	return err
}

func (j *SQLite) Get(ctx context.Context, id string) (telemetry.TradeMetrics, error) {
	var data string
	err := j.db.QueryRowContext(ctx, `SELECT data FROM trades WHERE trade_id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return telemetry.TradeMetrics{}, fmt.Errorf("%w: %s", telemetry.ErrTradeNotFound, id)
	}
	if err != nil {
		return telemetry.TradeMetrics{}, err
	}
	var t telemetry.TradeMetrics
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return t, fmt.Errorf("decode trade %s: %w", id, err)
	}
	return t, nil
}

func (j *SQLite) List(ctx context.Context, since time.Time) ([]telemetry.TradeMetrics, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT data FROM trades WHERE entry_unix >= ? ORDER BY entry_unix, trade_id`, since.UTC().UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []telemetry.TradeMetrics
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var t telemetry.TradeMetrics
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

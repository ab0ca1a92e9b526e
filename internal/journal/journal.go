// Package journal persists terminal trade outcomes to a local SQLite file
// for post-hoc analysis and the ops API.
package journal

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/quantex/arbiter/internal/domain"
)

// Journal is an append-only trade log. One row per terminal order.
type Journal struct {
	db *sql.DB
}

// Entry is one persisted trade record.
type Entry struct {
	OrderID   string
	Pair      string
	AmountIn  decimal.Decimal
	AmountOut decimal.Decimal
	Price     decimal.Decimal
	Success   bool
	GasUsed   uint64
	TxHash    string
	Error     string
	ClosedAt  time.Time
}

// Open creates or opens the journal database at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "journal: mkdir")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "journal: open sqlite")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS trades (
  order_id TEXT PRIMARY KEY,
  pair TEXT NOT NULL,
  amount_in TEXT NOT NULL,
  amount_out TEXT NOT NULL,
  price TEXT NOT NULL,
  success INTEGER NOT NULL,
  gas_used INTEGER NOT NULL DEFAULT 0,
  tx_hash TEXT,
  error TEXT,
  closed_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades(closed_at);`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "journal: migrate")
		}
	}
	return nil
}

// Record persists one terminal order outcome.
func (j *Journal) Record(ctx context.Context, order domain.TradeOrder, result domain.TradeResult) error {
	closedAt := result.ClosedAt
	if closedAt.IsZero() {
		closedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO trades (order_id, pair, amount_in, amount_out, price, success, gas_used, tx_hash, error, closed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(order_id) DO NOTHING`,
		order.ID,
		order.Pair(),
		order.AmountIn.String(),
		result.AmountOut.String(),
		result.Price.String(),
		boolToInt(result.Success),
		int64(result.GasUsed),
		result.TxHash,
		result.Error,
		closedAt.UTC().Format(time.RFC3339Nano),
	)
	return errors.Wrap(err, "journal: record trade")
}

// Recent returns up to n trades, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT order_id, pair, amount_in, amount_out, price, success, gas_used, COALESCE(tx_hash,''), COALESCE(error,''), closed_at
FROM trades ORDER BY closed_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, errors.Wrap(err, "journal: query trades")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                          Entry
			amountIn, amountOut, price string
			success                    int
			gasUsed                    int64
			closedAt                   string
		)
		if err := rows.Scan(&e.OrderID, &e.Pair, &amountIn, &amountOut, &price, &success, &gasUsed, &e.TxHash, &e.Error, &closedAt); err != nil {
			return nil, errors.Wrap(err, "journal: scan trade")
		}
		if e.AmountIn, err = decimal.NewFromString(amountIn); err != nil {
			return nil, errors.Wrap(err, "journal: parse amount_in")
		}
		if e.AmountOut, err = decimal.NewFromString(amountOut); err != nil {
			return nil, errors.Wrap(err, "journal: parse amount_out")
		}
		if e.Price, err = decimal.NewFromString(price); err != nil {
			return nil, errors.Wrap(err, "journal: parse price")
		}
		e.Success = success != 0
		e.GasUsed = uint64(gasUsed)
		if e.ClosedAt, err = time.Parse(time.RFC3339Nano, closedAt); err != nil {
			return nil, errors.Wrap(err, "journal: parse closed_at")
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "journal: iterate trades")
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

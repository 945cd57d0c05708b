package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"backtester/internal/domain"
	"backtester/internal/perf"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ BarStore = (*SQLiteStore)(nil)
var _ TrackingStore = (*SQLiteStore)(nil)
var _ RunStore = (*SQLiteStore)(nil)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS daily_prices (
    ticker    TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    open      REAL NOT NULL,
    high      REAL NOT NULL,
    low       REAL NOT NULL,
    close     REAL NOT NULL,
    volume    INTEGER NOT NULL DEFAULT 0,
    UNIQUE (ticker, timestamp)
);

CREATE INDEX IF NOT EXISTS idx_daily_prices_timestamp ON daily_prices(timestamp);

CREATE TABLE IF NOT EXISTS ticker_tracking (
    ticker       TEXT PRIMARY KEY,
    status       TEXT NOT NULL,
    last_updated TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS backtest_runs (
    id                TEXT PRIMARY KEY,
    mode              TEXT NOT NULL,
    symbol            TEXT NOT NULL,
    strategy          TEXT NOT NULL,
    params            TEXT NOT NULL,
    start_date        TEXT NOT NULL,
    end_date          TEXT NOT NULL,
    sharpe            REAL,
    calmar            REAL,
    cagr              REAL,
    max_drawdown      REAL,
    cumulative_return REAL,
    error             TEXT NOT NULL DEFAULT '',
    created_at        DATETIME NOT NULL
);
`

// SQLiteStore implements BarStore, TrackingStore and RunStore backed by a
// SQLite database.
type SQLiteStore struct {
	db    *sql.DB
	locks symbolLocks
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("database path is empty")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers a single writer.
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// withTx runs fn in a transaction, committing on success and rolling back on
// error or panic.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func latestDate(ctx context.Context, q queryer, symbol string) (time.Time, bool, error) {
	return boundDate(ctx, q, `SELECT MAX(timestamp) FROM daily_prices WHERE ticker = ?`, symbol)
}

func firstDate(ctx context.Context, q queryer, symbol string) (time.Time, bool, error) {
	return boundDate(ctx, q, `SELECT MIN(timestamp) FROM daily_prices WHERE ticker = ?`, symbol)
}

func boundDate(ctx context.Context, q queryer, query, symbol string) (time.Time, bool, error) {
	var d sql.NullString
	if err := q.QueryRowContext(ctx, query, symbol).Scan(&d); err != nil {
		return time.Time{}, false, fmt.Errorf("query date bound %s: %w", symbol, err)
	}
	if !d.Valid {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(DateLayout, d.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse date %s %q: %w", symbol, d.String, err)
	}
	return t, true, nil
}

// LatestDate returns the newest stored date for symbol.
func (s *SQLiteStore) LatestDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	return latestDate(ctx, s.db, symbol)
}

// FirstDate returns the oldest stored date for symbol.
func (s *SQLiteStore) FirstDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	return firstDate(ctx, s.db, symbol)
}

// AppendBars inserts the bars dated after the latest stored date.
func (s *SQLiteStore) AppendBars(ctx context.Context, symbol string, bars []domain.Bar) (int, error) {
	return s.insertOutside(ctx, symbol, bars, func(tx *sql.Tx) ([]domain.Bar, error) {
		latest, ok, err := latestDate(ctx, tx, symbol)
		if err != nil {
			return nil, err
		}
		return newerThan(bars, latest, ok), nil
	})
}

// BackfillBars inserts the bars dated before the first stored date.
func (s *SQLiteStore) BackfillBars(ctx context.Context, symbol string, bars []domain.Bar) (int, error) {
	return s.insertOutside(ctx, symbol, bars, func(tx *sql.Tx) ([]domain.Bar, error) {
		first, ok, err := firstDate(ctx, tx, symbol)
		if err != nil {
			return nil, err
		}
		return olderThan(bars, first, ok), nil
	})
}

// insertOutside inserts the bars pick returns inside one transaction that
// holds the symbol's write lock.
func (s *SQLiteStore) insertOutside(ctx context.Context, symbol string, bars []domain.Bar, pick func(tx *sql.Tx) ([]domain.Bar, error)) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	unlock := s.locks.lock(symbol)
	defer unlock()

	var written int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		fresh, err := pick(tx)
		if err != nil || len(fresh) == 0 {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO daily_prices (ticker, timestamp, open, high, low, close, volume)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, b := range fresh {
			res, err := stmt.ExecContext(ctx, symbol, b.Date(), b.Open, b.High, b.Low, b.Close, b.Volume)
			if err != nil {
				return fmt.Errorf("insert %s %s: %w", symbol, b.Date(), err)
			}
			n, _ := res.RowsAffected()
			written += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// ReadBars returns bars for symbol between start and end inclusive.
func (s *SQLiteStore) ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM daily_prices
		WHERE ticker = ? AND timestamp BETWEEN ? AND ?
		ORDER BY timestamp ASC
	`, symbol, start.Format(DateLayout), end.Format(DateLayout))
	if err != nil {
		return nil, fmt.Errorf("query bars %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var (
			ts string
			b  domain.Bar
		)
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b.Symbol = symbol
		if b.Timestamp, err = time.Parse(DateLayout, ts); err != nil {
			return nil, fmt.Errorf("parse bar date %q: %w", ts, err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// ListSymbols returns every ticker with stored bars.
func (s *SQLiteStore) ListSymbols(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT DISTINCT ticker FROM daily_prices ORDER BY ticker`)
}

// Stats returns per-ticker row counts, largest first.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticker, COUNT(*) AS row_count
		FROM daily_prices
		GROUP BY ticker
		ORDER BY row_count DESC, ticker ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	st := &Stats{}
	for rows.Next() {
		var tc TickerCount
		if err := rows.Scan(&tc.Ticker, &tc.Rows); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		st.PerTicker = append(st.PerTicker, tc)
		st.Rows += tc.Rows
	}
	st.Tickers = len(st.PerTicker)
	return st, rows.Err()
}

// ---------------------------------------------------------------------------
// TrackingStore implementation
// ---------------------------------------------------------------------------

// UpdateTracking refreshes ticker_tracking against the current constituents.
func (s *SQLiteStore) UpdateTracking(ctx context.Context, current []string, asOf time.Time) (TrackingUpdate, error) {
	var upd TrackingUpdate
	stamp := asOf.Format(DateLayout)

	want := make(map[string]bool, len(current))
	for _, t := range current {
		if t = strings.TrimSpace(t); t != "" {
			want[t] = true
		}
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT ticker FROM ticker_tracking WHERE status = ?`, StatusActive)
		if err != nil {
			return fmt.Errorf("query tracking: %w", err)
		}
		active := make(map[string]bool)
		for rows.Next() {
			var t string
			if err := rows.Scan(&t); err != nil {
				rows.Close()
				return fmt.Errorf("scan tracking: %w", err)
			}
			active[t] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for t := range want {
			if active[t] {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO ticker_tracking (ticker, status, last_updated)
				VALUES (?, ?, ?)
				ON CONFLICT(ticker) DO UPDATE SET
					status = excluded.status,
					last_updated = excluded.last_updated
			`, t, StatusActive, stamp); err != nil {
				return fmt.Errorf("activate %s: %w", t, err)
			}
			upd.Added = append(upd.Added, t)
		}
		for t := range active {
			if want[t] {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE ticker_tracking SET status = ?, last_updated = ? WHERE ticker = ?
			`, StatusDelisted, stamp, t); err != nil {
				return fmt.Errorf("delist %s: %w", t, err)
			}
			upd.Delisted = append(upd.Delisted, t)
		}
		return nil
	})
	if err != nil {
		return TrackingUpdate{}, err
	}
	sort.Strings(upd.Added)
	sort.Strings(upd.Delisted)
	return upd, nil
}

// TrackedTickers lists tracked tickers in name order.
func (s *SQLiteStore) TrackedTickers(ctx context.Context, includeDelisted bool) ([]string, error) {
	if includeDelisted {
		return s.queryStrings(ctx, `SELECT ticker FROM ticker_tracking ORDER BY ticker`)
	}
	return s.queryStrings(ctx, `SELECT ticker FROM ticker_tracking WHERE status = ? ORDER BY ticker`, StatusActive)
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts or replaces a run summary.
func (s *SQLiteStore) SaveRun(ctx context.Context, r RunRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO backtest_runs
			(id, mode, symbol, strategy, params, start_date, end_date,
			 sharpe, calmar, cagr, max_drawdown, cumulative_return, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Mode, r.Symbol, r.Strategy, r.Params,
		r.Start.Format(DateLayout), r.End.Format(DateLayout),
		nullable(r.Sharpe), nullable(r.Calmar), nullable(r.CAGR),
		nullable(r.MaxDrawdown), nullable(r.CumulativeReturn),
		r.Error, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

const runColumns = `id, mode, symbol, strategy, params, start_date, end_date,
	sharpe, calmar, cagr, max_drawdown, cumulative_return, error, created_at`

// GetRun returns one run by ID, or ErrNotFound.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM backtest_runs WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	r, err := scanRun(rows)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM backtest_runs
		ORDER BY created_at DESC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanRun(rows *sql.Rows) (RunRecord, error) {
	var (
		r                                   RunRecord
		start, end                          string
		sharpe, calmar, cagr, maxDD, cumRet sql.NullFloat64
	)
	if err := rows.Scan(&r.ID, &r.Mode, &r.Symbol, &r.Strategy, &r.Params, &start, &end,
		&sharpe, &calmar, &cagr, &maxDD, &cumRet, &r.Error, &r.CreatedAt); err != nil {
		return RunRecord{}, fmt.Errorf("scan run: %w", err)
	}
	r.Start, _ = time.Parse(DateLayout, start)
	r.End, _ = time.Parse(DateLayout, end)
	r.Sharpe = fromNull(sharpe)
	r.Calmar = fromNull(calmar)
	r.CAGR = fromNull(cagr)
	r.MaxDrawdown = fromNull(maxDD)
	r.CumulativeReturn = fromNull(cumRet)
	return r, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func (s *SQLiteStore) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func nullable(v perf.Value) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v.V, Valid: v.Valid}
}

func fromNull(n sql.NullFloat64) perf.Value {
	if !n.Valid {
		return perf.Undefined
	}
	return perf.Defined(n.Float64)
}

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"backtester/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore using Parquet files on disk.
type ParquetStore struct {
	DataDir string
	locks   symbolLocks
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

func (r BarRecord) bar() domain.Bar {
	return domain.Bar{
		Symbol:    r.Symbol,
		Timestamp: time.UnixMilli(r.Timestamp).UTC(),
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
	}
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// LatestDate returns the newest stored date for symbol by reading the most
// recent year file.
func (s *ParquetStore) LatestDate(_ context.Context, symbol string) (time.Time, bool, error) {
	return s.boundDate(symbol, true)
}

// FirstDate returns the oldest stored date for symbol by reading the
// earliest year file.
func (s *ParquetStore) FirstDate(_ context.Context, symbol string) (time.Time, bool, error) {
	return s.boundDate(symbol, false)
}

func (s *ParquetStore) boundDate(symbol string, latest bool) (time.Time, bool, error) {
	years, err := s.years(symbol)
	if err != nil || len(years) == 0 {
		return time.Time{}, false, err
	}
	year := years[0]
	if latest {
		year = years[len(years)-1]
	}
	path := s.barPath(symbol, time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC))
	records, err := readParquetFile[BarRecord](path)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) == 0 {
		return time.Time{}, false, nil
	}
	ts := records[0].Timestamp
	for _, r := range records[1:] {
		if latest {
			ts = max(ts, r.Timestamp)
		} else {
			ts = min(ts, r.Timestamp)
		}
	}
	return time.UnixMilli(ts).UTC(), true, nil
}

// AppendBars writes the bars dated after the latest stored date to Parquet
// files organized by symbol and year. Each symbol+year combination is a
// separate file at:
//
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) AppendBars(ctx context.Context, symbol string, bars []domain.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	unlock := s.locks.lock(symbol)
	defer unlock()

	latest, ok, err := s.LatestDate(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return s.writeBars(symbol, newerThan(bars, latest, ok))
}

// BackfillBars writes the bars dated before the first stored date.
func (s *ParquetStore) BackfillBars(ctx context.Context, symbol string, bars []domain.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	unlock := s.locks.lock(symbol)
	defer unlock()

	first, ok, err := s.FirstDate(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return s.writeBars(symbol, olderThan(bars, first, ok))
}

// writeBars merges bars into their year files.
func (s *ParquetStore) writeBars(symbol string, bars []domain.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	groups := make(map[int][]BarRecord)
	for _, b := range bars {
		y := b.Timestamp.Year()
		groups[y] = append(groups[y], BarRecord{
			Symbol:    symbol,
			Timestamp: dayStart(b.Timestamp).UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}

	for year, records := range groups {
		path := s.barPath(symbol, time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC))

		// Read existing records to merge.
		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return 0, fmt.Errorf("writing bars for %s/%d: %w", symbol, year, err)
		}
	}
	return len(bars), nil
}

// ReadBars reads bar data from Parquet files for the given symbol and date range.
func (s *ParquetStore) ReadBars(_ context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	from, to := start.Format(DateLayout), end.Format(DateLayout)

	var bars []domain.Bar
	for year := start.Year(); year <= end.Year(); year++ {
		path := s.barPath(symbol, time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC))

		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			// File doesn't exist for this year, skip.
			continue
		}

		for _, r := range records {
			b := r.bar()
			if d := b.Date(); d >= from && d <= to {
				bars = append(bars, b)
			}
		}
	}
	sortBars(bars)
	return bars, nil
}

// ListSymbols lists all symbols that have bar data in any market.
func (s *ParquetStore) ListSymbols(_ context.Context) ([]string, error) {
	var symbols []string
	for _, market := range []domain.Market{domain.MarketHK, domain.MarketUS} {
		dir := filepath.Join(s.DataDir, string(market), "daily")
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				symbols = append(symbols, e.Name())
			}
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol string, t time.Time) string {
	year := strconv.Itoa(t.Year())
	return filepath.Join(s.symbolDir(symbol), year+".parquet")
}

func (s *ParquetStore) symbolDir(symbol string) string {
	return filepath.Join(s.DataDir, string(domain.MarketOf(symbol)), "daily", strings.ToUpper(symbol))
}

// years returns the sorted years with a file for symbol.
func (s *ParquetStore) years(symbol string) ([]int, error) {
	entries, err := os.ReadDir(s.symbolDir(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var years []int
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".parquet")
		if y, err := strconv.Atoi(name); err == nil && !e.IsDir() {
			years = append(years, y)
		}
	}
	sort.Ints(years)
	return years, nil
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

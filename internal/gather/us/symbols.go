package us

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LoadSymbolList reads a stock list file. Plain text files hold one symbol
// per line; ".csv" files take the first column after a header row. Lists
// whose file name contains "hsi" hold Hang Seng codes, which are
// normalised with HKSymbol. Blank lines and "#" comments are skipped and
// duplicates dropped, keeping the first occurrence.
func LoadSymbolList(path string) ([]string, error) {
	var raw []string
	var err error
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		raw, err = LoadCSVSymbols(path)
	} else {
		raw, err = loadLines(path)
	}
	if err != nil {
		return nil, err
	}

	hk := strings.Contains(strings.ToLower(filepath.Base(path)), "hsi")
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if hk {
			s = HKSymbol(s)
		} else {
			s = strings.ToUpper(s)
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}

// LoadSymbolLists merges several list files in order, dropping duplicates.
func LoadSymbolLists(paths []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range paths {
		syms, err := LoadSymbolList(p)
		if err != nil {
			return nil, err
		}
		for _, s := range syms {
			if _, dup := seen[s]; !dup {
				seen[s] = struct{}{}
				out = append(out, s)
			}
		}
	}
	return out, nil
}

// HKSymbol converts a Hang Seng stock code to its Yahoo ticker: codes
// shorter than four digits are zero-padded and ".HK" is appended.
func HKSymbol(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.TrimSuffix(code, ".HK")
	if len(code) < 4 {
		code = strings.Repeat("0", 4-len(code)) + code
	}
	return code + ".HK"
}

func loadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening symbol list %s: %w", path, err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading symbol list %s: %w", path, err)
	}
	return out, nil
}

// LoadCSVSymbols reads the first column ("symbol") from a CSV file and returns
// all symbols found. The file must have a header row.
func LoadCSVSymbols(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening CSV %s: %w", path, err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	symbols := make([]string, 0, len(records)-1)
	for _, row := range records[1:] {
		if len(row) > 0 {
			if sym := strings.TrimSpace(row[0]); sym != "" {
				symbols = append(symbols, strings.ToUpper(sym))
			}
		}
	}
	return symbols, nil
}

// SaveSymbolList writes symbols one per line, creating parent directories.
func SaveSymbolList(path string, symbols []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating list dir: %w", err)
	}
	var sb strings.Builder
	for _, s := range symbols {
		sb.WriteString(s)
		sb.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

// unionSorted merges symbol sets into one sorted slice.
func unionSorted(sets ...[]string) []string {
	seen := make(map[string]struct{})
	for _, set := range sets {
		for _, s := range set {
			seen[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

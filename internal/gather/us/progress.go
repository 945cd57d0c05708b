package us

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	missingFile = ".not-found"
	syncedFile  = ".last-synced"
)

// syncState persists what a daily sync has learned so a crashed or
// repeated run can resume: the symbols the remote reported as unknown and
// the last end date that finished.
type syncState struct {
	mu      sync.Mutex
	dir     string
	missing map[string]struct{}
	file    *os.File
	w       *bufio.Writer
}

func openSyncState(dir string) (*syncState, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	st := &syncState{dir: dir, missing: make(map[string]struct{})}

	if data, err := os.ReadFile(st.path(missingFile)); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if sym := strings.TrimSpace(line); sym != "" {
				st.missing[sym] = struct{}{}
			}
		}
	}
	if err := st.open(); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *syncState) path(name string) string { return filepath.Join(s.dir, name) }

func (s *syncState) open() error {
	f, err := os.OpenFile(s.path(missingFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", missingFile, err)
	}
	s.file, s.w = f, bufio.NewWriter(f)
	return nil
}

// IsMissing reports whether symbol was already reported unknown.
func (s *syncState) IsMissing(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.missing[symbol]
	return ok
}

// MarkMissing records symbol as unknown to the remote.
func (s *syncState) MarkMissing(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.missing[symbol]; ok {
		return nil
	}
	s.missing[symbol] = struct{}{}
	if _, err := s.w.WriteString(symbol + "\n"); err != nil {
		return fmt.Errorf("writing %s: %w", missingFile, err)
	}
	return s.w.Flush()
}

// LastSynced returns the end date of the last finished sync, or "".
func (s *syncState) LastSynced() string {
	data, err := os.ReadFile(s.path(syncedFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// MarkSynced records date as fully synced.
func (s *syncState) MarkSynced(date string) error {
	return os.WriteFile(s.path(syncedFile), []byte(date), 0o644)
}

// Reset forgets the missing symbols; a new trading day may list them.
func (s *syncState) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		s.file.Close()
	}
	s.missing = make(map[string]struct{})
	if err := os.Remove(s.path(missingFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", missingFile, err)
	}
	return s.open()
}

// Close flushes and closes the missing-symbol log.
func (s *syncState) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w != nil {
		s.w.Flush()
	}
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

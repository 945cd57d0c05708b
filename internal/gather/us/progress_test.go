package us

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSyncStateMarkMissing(t *testing.T) {
	dir := t.TempDir()

	st, err := openSyncState(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, sym := range []string{"AAAA", "BBBB", "AAAA"} {
		if err := st.MarkMissing(sym); err != nil {
			t.Fatal(err)
		}
	}
	st.Close()

	// Reload and verify.
	st2, err := openSyncState(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer st2.Close()

	for _, sym := range []string{"AAAA", "BBBB"} {
		if !st2.IsMissing(sym) {
			t.Errorf("expected %q to be missing after reload", sym)
		}
	}
	if st2.IsMissing("CCCC") {
		t.Error("CCCC should not be missing")
	}

	data, err := os.ReadFile(filepath.Join(dir, missingFile))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "AAAA\nBBBB\n" {
		t.Errorf("missing file = %q, want each symbol once", data)
	}
}

func TestSyncStateLastSynced(t *testing.T) {
	dir := t.TempDir()

	st, err := openSyncState(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	if got := st.LastSynced(); got != "" {
		t.Errorf("LastSynced before marking = %q, want empty", got)
	}
	if err := st.MarkSynced("2025-02-10"); err != nil {
		t.Fatal(err)
	}
	if got := st.LastSynced(); got != "2025-02-10" {
		t.Errorf("LastSynced = %q, want 2025-02-10", got)
	}
}

func TestSyncStateReset(t *testing.T) {
	dir := t.TempDir()

	st, err := openSyncState(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	if err := st.MarkMissing("AAAA"); err != nil {
		t.Fatal(err)
	}
	if err := st.Reset(); err != nil {
		t.Fatal(err)
	}
	if st.IsMissing("AAAA") {
		t.Error("AAAA should be forgotten after Reset")
	}

	// The log is writable again after a reset.
	if err := st.MarkMissing("BBBB"); err != nil {
		t.Fatal(err)
	}
	st.Close()

	st2, err := openSyncState(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer st2.Close()
	if st2.IsMissing("AAAA") || !st2.IsMissing("BBBB") {
		t.Error("reloaded state should hold only BBBB")
	}
}

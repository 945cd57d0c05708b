package main

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtester/internal/dashboard"
	"backtester/pkg/backtester"
)

func sized(t *testing.T, m browseModel) browseModel {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	return next.(browseModel)
}

func TestBrowseModelProgressAndResult(t *testing.T) {
	req := backtester.BatchRequest{Symbols: []string{"AAA", "BBB"}, Strategy: "trend-change", Start: "2023-01-01", End: "2023-12-31"}
	m := sized(t, newBrowseModel(req, dashboard.SortSharpe, 0, false))
	assert.Contains(t, m.View(), "running")

	next, _ := m.Update(batchProgressMsg{Done: 1, Total: 2, Symbol: "AAA", Error: "no data"})
	m = next.(browseModel)
	assert.Equal(t, 1, m.failed)
	assert.Contains(t, m.renderContent(), "failed: 1")

	sharpe := 1.25
	res := &backtester.BatchResult{
		Strategy: "trend-change", Start: "2023-01-01", End: "2023-12-31",
		Rows:   []backtester.Row{{Rank: 1, Symbol: "BBB", Strategy: "trend-change", Sharpe: &sharpe}},
		Failed: 1,
	}
	next, _ = m.Update(batchDoneMsg{res: res})
	m = next.(browseModel)
	assert.Contains(t, m.renderContent(), "BBB")
	assert.Contains(t, m.View(), "done")
}

func TestBrowseModelKeys(t *testing.T) {
	m := sized(t, newBrowseModel(backtester.BatchRequest{Strategy: "rsi-diff"}, dashboard.SortSharpe, 0, false))

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	m = next.(browseModel)
	assert.Equal(t, dashboard.SortCalmar, m.sortMode)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("t")})
	m = next.(browseModel)
	assert.True(t, m.tiers)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestBrowseModelError(t *testing.T) {
	m := sized(t, newBrowseModel(backtester.BatchRequest{}, dashboard.SortSharpe, 0, false))
	next, _ := m.Update(batchDoneMsg{err: errors.New("server down")})
	m = next.(browseModel)
	assert.Contains(t, m.renderContent(), "server down")
	assert.Contains(t, m.View(), "error")
}

func TestPadOrTrunc(t *testing.T) {
	assert.Equal(t, "ab  ", padOrTrunc("ab", 4))
	assert.Equal(t, "abc", padOrTrunc("abcdef", 3))
	assert.Equal(t, "abc", padOrTrunc("abc", 0))
}

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"backtester/internal/dashboard"
	"backtester/pkg/backtester"
)

// Messages.
type batchProgressMsg backtester.Progress

type batchDoneMsg struct {
	res *backtester.BatchResult
	err error
}

var (
	headerBarStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("4"))
	footerBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("8"))
)

// browseModel shows batch progress while it runs and then the ranked table,
// re-sorted and regrouped on key presses.
type browseModel struct {
	req      backtester.BatchRequest
	progress backtester.Progress
	failed   int
	res      *backtester.BatchResult
	err      error

	sortMode int
	tiers    bool
	top      int

	width    int
	height   int
	viewport viewport.Model
	ready    bool
}

func newBrowseModel(req backtester.BatchRequest, sortMode, top int, tiers bool) browseModel {
	return browseModel{
		req:      req,
		progress: backtester.Progress{Total: len(req.Symbols)},
		sortMode: sortMode,
		top:      top,
		tiers:    tiers,
	}
}

func (m browseModel) Init() tea.Cmd { return nil }

func (m browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "s":
			m.sortMode = (m.sortMode + 1) % dashboard.SortModeCount
			m.refresh()
			return m, nil
		case "t":
			m.tiers = !m.tiers
			m.refresh()
			return m, nil
		case "home":
			m.viewport.GotoTop()
			return m, nil
		case "end":
			m.viewport.GotoBottom()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := max(m.height-2, 1)
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.viewport.MouseWheelEnabled = true
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		m.refresh()
		return m, nil

	case batchProgressMsg:
		m.progress = backtester.Progress(msg)
		if msg.Error != "" {
			m.failed++
		}
		m.refresh()
		return m, nil

	case batchDoneMsg:
		m.res, m.err = msg.res, msg.err
		m.refresh()
		m.viewport.GotoTop()
		return m, nil
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *browseModel) refresh() {
	if m.ready {
		m.viewport.SetContent(m.renderContent())
	}
}

func (m browseModel) renderContent() string {
	if m.err != nil {
		return fmt.Sprintf("\n  error: %v\n", m.err)
	}
	if m.res == nil {
		p := m.progress
		line := fmt.Sprintf("\n  running %s on %s symbols  %s/%s", m.req.Strategy,
			dashboard.FormatInt(p.Total), dashboard.FormatInt(p.Done), dashboard.FormatInt(p.Total))
		if p.Symbol != "" {
			line += "  last: " + p.Symbol
		}
		if m.failed > 0 {
			line += fmt.Sprintf("  failed: %d", m.failed)
		}
		return line + "\n"
	}
	var b strings.Builder
	dashboard.RenderTable(&b, m.res.Rows, dashboard.TableOptions{
		Title: fmt.Sprintf("BATCH %s %s..%s  failed: %d", m.res.Strategy, m.res.Start, m.res.End, m.res.Failed),
		Sort:  m.sortMode,
		TopN:  m.top,
		Tiers: m.tiers,
		Width: m.width,
	})
	return b.String()
}

func (m browseModel) View() string {
	if !m.ready {
		return "loading..."
	}
	state := "running"
	if m.res != nil {
		state = "done"
	} else if m.err != nil {
		state = "error"
	}
	header := fmt.Sprintf(" %s  %s..%s  %s/%s  sort: %s  %s",
		m.req.Strategy, m.req.Start, m.req.End,
		dashboard.FormatInt(m.progress.Done), dashboard.FormatInt(m.progress.Total),
		dashboard.SortModeLabel(m.sortMode), state)

	footerLeft := " q quit  s sort  t tiers  home/end  pgup/dn scroll"
	footerRight := fmt.Sprintf("%.0f%% ", m.viewport.ScrollPercent()*100)
	gap := max(m.width-len(footerLeft)-len(footerRight), 0)
	footer := footerLeft + strings.Repeat(" ", gap) + footerRight

	return headerBarStyle.Render(padOrTrunc(header, m.width)) + "\n" +
		m.viewport.View() + "\n" +
		footerBarStyle.Render(padOrTrunc(footer, m.width))
}

func padOrTrunc(s string, width int) string {
	if width <= 0 {
		return s
	}
	if len(s) > width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

func newBrowseCmd() *cobra.Command {
	var (
		f     runFlags
		files []string
		sortS string
		top   int
		tiers bool
	)
	cmd := &cobra.Command{
		Use:   "browse [SYMBOL...]",
		Short: "Run a batch in a full-screen view and browse the ranking",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.batchRequest(args, files)
			if err != nil {
				return err
			}
			return withBackend(func(b backend) error {
				ctx, cancel := context.WithCancel(cmd.Context())
				defer cancel()

				p := tea.NewProgram(
					newBrowseModel(req, dashboard.ParseSortMode(sortS), top, tiers),
					tea.WithContext(ctx),
					tea.WithOutput(stdout),
					tea.WithAltScreen(),
					tea.WithMouseCellMotion(),
				)
				go func() {
					res, err := b.Batch(ctx, req, func(pr backtester.Progress) {
						p.Send(batchProgressMsg(pr))
					})
					p.Send(batchDoneMsg{res: res, err: err})
				}()

				final, err := p.Run()
				if err != nil && ctx.Err() == nil {
					return err
				}
				if m, ok := final.(browseModel); ok && m.err != nil {
					return m.err
				}
				return nil
			})
		},
	}
	f.register(cmd)
	cmd.Flags().StringArrayVar(&files, "symbols-file", nil, "stock list file (one symbol per line, HSI codes or CSV); repeatable")
	cmd.Flags().StringVar(&sortS, "sort", "sharpe", "initial sort column")
	cmd.Flags().IntVar(&top, "top", 0, "show at most this many rows (per tier with --tiers)")
	cmd.Flags().BoolVar(&tiers, "tiers", true, "start grouped by Sharpe tier")
	return cmd
}

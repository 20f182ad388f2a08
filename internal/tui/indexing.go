package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/spinner"

	"codemap/internal/index"
)

// RunIndexing drives one indexing run inside a progress display. It blocks
// until the run finishes or the user cancels with q or ctrl+c.
func RunIndexing(cfg index.Config) (*index.Report, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var program *tea.Program
	cfg.OnProgress = func(stage string, done, total int) {
		if program != nil {
			program.Send(progressMsg{stage: stage, done: done, total: total})
		}
	}

	program = tea.NewProgram(newIndexingModel(ctx, cancel, cfg))
	final, err := program.Run()
	if err != nil {
		return nil, err
	}

	m := final.(indexingModel)
	return m.report, m.err
}

type indexingModel struct {
	cfg     index.Config
	ctx     context.Context
	cancel  context.CancelFunc
	spinner spinner.Model

	stage    string
	done     int
	total    int
	finished bool
	report   *index.Report
	err      error
}

func newIndexingModel(ctx context.Context, cancel context.CancelFunc, cfg index.Config) indexingModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return indexingModel{
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		spinner: sp,
		stage:   "Indexing files",
	}
}

// doneMsg is sent when the indexing run completes.
type doneMsg struct {
	report *index.Report
	err    error
}

// progressMsg is sent as files land in the store.
type progressMsg struct {
	stage string
	done  int
	total int
}

func (m indexingModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.runIndex())
}

func (m indexingModel) runIndex() tea.Cmd {
	return func() tea.Msg {
		idx, err := index.New(m.cfg)
		if err != nil {
			return doneMsg{err: err}
		}
		defer idx.Close()

		report, err := idx.Index(m.ctx)
		return doneMsg{report: report, err: err}
	}
}

func (m indexingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			// The run sees the cancelled context and finishes with doneMsg.
			m.cancel()
			return m, nil
		}
	case progressMsg:
		m.stage = msg.stage
		m.done = msg.done
		m.total = msg.total
		return m, nil
	case doneMsg:
		m.finished = true
		m.report = msg.report
		m.err = msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m indexingModel) View() string {
	s := "\n" + titleStyle.Render("  Indexing") + "\n\n"

	if m.finished {
		if m.err != nil {
			return s + errorStyle.Render(fmt.Sprintf("  ✗ %v", m.err)) + "\n"
		}
		s += successStyle.Render("  ✓ Indexing complete") + "\n\n"
		if r := m.report; r != nil {
			s += fmt.Sprintf("  Files: %d seen, %d indexed, %d unchanged, %d failed, %d pruned\n",
				r.FilesTotal, r.FilesIndexed, r.FilesUnchanged, r.FilesFailed, r.FilesPruned)
			s += fmt.Sprintf("  Entities: %d\n", r.Entities)
			if len(r.Warnings) > 0 {
				s += warnStyle.Render(fmt.Sprintf("  Warnings: %d", len(r.Warnings))) + "\n"
			}
		}
		return s
	}

	s += fmt.Sprintf("  %s %s\n", m.spinner.View(), m.stage)
	if m.total > 0 {
		s += fmt.Sprintf("  %d / %d files\n", m.done, m.total)
	}
	s += "\n" + dimStyle.Render("  Press q to cancel") + "\n"
	return s
}

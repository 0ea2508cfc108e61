// Package ui implements Coffeepot's optional live stats dashboard: a
// bubbletea program ticking on a timer and rendering the shared Stats
// counters with lipgloss styling, falling back to a single logrus line
// every five seconds when stdout is not a terminal.
package ui

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/latortuga71/CoffeePot/internal/stats"
)

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)

const tickInterval = 500 * time.Millisecond

type tickMsg time.Time

// model is the bubbletea program backing the dashboard; it only ever reads
// from the shared Stats instance, never mutates it.
type model struct {
	st *stats.Stats
}

func (m model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return m, tick()
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m model) View() string {
	snap := m.st.Snap()
	row := func(label string, value any) string {
		return fmt.Sprintf("%s %s\n", labelStyle.Render(label+":"), valueStyle.Render(fmt.Sprint(value)))
	}
	var b string
	b += "coffeepot\n\n"
	b += row("cases", snap.Cases)
	b += row("cases/sec", fmt.Sprintf("%.1f", snap.CasesPerSec))
	b += row("unique edges", snap.UniqueEdges)
	b += row("crashes", snap.Crashes)
	b += row("corpus size", snap.CorpusSize)
	b += row("elapsed", snap.Elapsed.Round(time.Second))
	b += "\n(press q to quit the dashboard; the fuzzer keeps running)\n"
	return b
}

// Run starts the dashboard if stdout is an interactive terminal; otherwise
// it logs one status line every five seconds through log until the
// process exits.
func Run(st *stats.Stats, log *logrus.Logger) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		for range time.Tick(5 * time.Second) {
			log.Info(st.Snap().Line())
		}
		return nil
	}
	p := tea.NewProgram(model{st: st})
	_, err := p.Run()
	return err
}

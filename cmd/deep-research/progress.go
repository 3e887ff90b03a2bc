package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/mikeboe/deep-research/pkg/research"
)

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	queryStyle = lipgloss.NewStyle().Faint(true)
)

const maxQueryWidth = 60

// progressView redraws a single terminal line on every progress update
// until it is stopped.
type progressView struct {
	mu      sync.Mutex
	out     io.Writer
	bar     progress.Model
	stopped bool
	drawn   bool
}

func newProgressView(out io.Writer) *progressView {
	return &progressView{
		out: out,
		bar: progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
	}
}

func (v *progressView) Update(p research.Progress) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stopped {
		return
	}
	fmt.Fprintf(v.out, "\r\033[K%s", renderProgress(v.bar, p))
	v.drawn = true
}

// Stop ends the line. Later updates are ignored.
func (v *progressView) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stopped {
		return
	}
	v.stopped = true
	if v.drawn {
		fmt.Fprintln(v.out)
	}
}

func renderProgress(bar progress.Model, p research.Progress) string {
	percent := 0.0
	if p.TotalQueries > 0 {
		percent = float64(p.CompletedQueries) / float64(p.TotalQueries)
	}
	label := fmt.Sprintf("Depth %d/%d  Breadth %d/%d  Queries %d/%d",
		p.TotalDepth-p.CurrentDepth, p.TotalDepth,
		p.CurrentBreadth, p.TotalBreadth,
		p.CompletedQueries, p.TotalQueries)

	line := bar.ViewAs(percent) + "  " + labelStyle.Render(label)
	if p.CurrentQuery != "" {
		line += "  " + queryStyle.Render(truncate(p.CurrentQuery, maxQueryWidth))
	}
	return line
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

package runner

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/gjest/gjest/types"
)

// ProgressIndicator receives live execution feedback. Implementations must
// be safe for concurrent use and constant-time per event; the scheduler
// calls the hooks from its workers and must never block on rendering.
// Indicators hold no authority over execution and cannot alter results.
type ProgressIndicator interface {
	Begin(total int)
	StartUnit(unit types.TestUnit)
	CompleteUnit(res types.RunResult)
	End()
}

// noOpProgressIndicator swallows all events, for quiet or CI use.
type noOpProgressIndicator struct{}

// NewNoOpProgressIndicator creates a progress indicator that does nothing.
func NewNoOpProgressIndicator() ProgressIndicator {
	return &noOpProgressIndicator{}
}

func (n *noOpProgressIndicator) Begin(total int)                  {}
func (n *noOpProgressIndicator) StartUnit(unit types.TestUnit)    {}
func (n *noOpProgressIndicator) CompleteUnit(res types.RunResult) {}
func (n *noOpProgressIndicator) End()                             {}

// StatusGlyph maps a unit status to its one-character progress form.
func StatusGlyph(status types.UnitStatus) string {
	switch status {
	case types.StatusPassed:
		return text.FgGreen.Sprint("✓")
	case types.StatusFailed:
		return text.FgRed.Sprint("✗")
	case types.StatusSkipped:
		return text.FgYellow.Sprint("-")
	case types.StatusTodo:
		return text.FgCyan.Sprint("✎")
	case types.StatusErrored:
		return text.FgHiRed.Sprint("!")
	}
	return "?"
}

// inlineIndicator prints one glyph per completed unit, with a [done/total]
// tick every ten units. Fancy level 1 adds a header line when execution
// moves to a new suite; level 2 wraps the run in a framed block.
type inlineIndicator struct {
	w     io.Writer
	fancy int

	mu        sync.Mutex
	total     int
	done      int
	suite     string
	lineEmpty bool
}

// NewInlineIndicator builds the default glyph-per-unit indicator.
func NewInlineIndicator(w io.Writer, fancy int) ProgressIndicator {
	return &inlineIndicator{w: w, fancy: fancy}
}

func (c *inlineIndicator) Begin(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total = total
	c.done = 0
	c.suite = ""
	c.lineEmpty = true

	if c.fancy >= 2 {
		fmt.Fprintf(c.w, "── running %d units ──\n", total)
	}
}

func (c *inlineIndicator) StartUnit(unit types.TestUnit) {}

func (c *inlineIndicator) CompleteUnit(res types.RunResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fancy >= 1 && res.Unit.File != c.suite {
		if !c.lineEmpty {
			fmt.Fprintln(c.w)
		}
		fmt.Fprintf(c.w, "%s\n", text.Bold.Sprint(res.Unit.File))
		c.suite = res.Unit.File
		c.lineEmpty = true
	}

	fmt.Fprint(c.w, StatusGlyph(res.Status))
	c.lineEmpty = false
	c.done++

	if c.done%10 == 0 {
		fmt.Fprintf(c.w, " [%d/%d]\n", c.done, c.total)
		c.lineEmpty = true
	}
}

func (c *inlineIndicator) End() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lineEmpty {
		fmt.Fprintln(c.w)
	}
	if c.fancy >= 2 {
		fmt.Fprintf(c.w, "── %d/%d done ──\n", c.done, c.total)
	}
}

// statusLineIndicator rewrites a single line on a spinner ticker:
// spinner, elapsed, done/total, per-status counts, longest-running units.
// Used when output buffering is on and glyph interleaving would fight with
// captured output.
type statusLineIndicator struct {
	w        io.Writer
	interval time.Duration

	mu      sync.Mutex
	ticker  *time.Ticker
	stopCh  chan struct{}
	start   time.Time
	frame   int
	total   int
	done    int
	passed  int
	failed  int
	skipped int
	running map[string]time.Time
}

var spinnerFrames = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

// NewStatusLineIndicator builds the live status line indicator. A zero
// interval defaults to 100ms.
func NewStatusLineIndicator(w io.Writer, interval time.Duration) ProgressIndicator {
	if interval == 0 {
		interval = 100 * time.Millisecond
	}
	return &statusLineIndicator{w: w, interval: interval}
}

func (s *statusLineIndicator) Begin(total int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.start = time.Now()
	s.frame = 0
	s.total = total
	s.done, s.passed, s.failed, s.skipped = 0, 0, 0, 0
	s.running = make(map[string]time.Time)
	s.ticker = time.NewTicker(s.interval)
	s.stopCh = make(chan struct{})

	go s.spin(s.ticker, s.stopCh)
}

func (s *statusLineIndicator) StartUnit(unit types.TestUnit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[unit.QualifiedName()] = time.Now()
}

func (s *statusLineIndicator) CompleteUnit(res types.RunResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, res.Unit.QualifiedName())
	s.done++
	switch res.Status {
	case types.StatusPassed:
		s.passed++
	case types.StatusFailed, types.StatusErrored:
		s.failed++
	case types.StatusSkipped, types.StatusTodo:
		s.skipped++
	}
}

func (s *statusLineIndicator) End() {
	s.mu.Lock()
	ticker, stopCh := s.ticker, s.stopCh
	s.ticker, s.stopCh = nil, nil
	s.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
		close(stopCh)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.redrawLocked()
	fmt.Fprintln(s.w)
}

func (s *statusLineIndicator) spin(ticker *time.Ticker, stopCh chan struct{}) {
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			s.frame++
			s.redrawLocked()
			s.mu.Unlock()
		case <-stopCh:
			return
		}
	}
}

func (s *statusLineIndicator) redrawLocked() {
	elapsed := time.Since(s.start).Truncate(100 * time.Millisecond)
	line := fmt.Sprintf("%s %v · %d/%d · %s%d %s%d %s%d",
		spinnerFrames[s.frame%len(spinnerFrames)], elapsed, s.done, s.total,
		text.FgGreen.Sprint("✓"), s.passed,
		text.FgRed.Sprint("✗"), s.failed,
		text.FgYellow.Sprint("-"), s.skipped)
	if details := formatRunningUnits(s.running, 2); details != "" {
		line += " · " + details
	}
	fmt.Fprintf(s.w, "\r\x1b[K%s", line)
}

// formatRunningUnits renders the longest-running units, limited to maxShow,
// with a +N more marker for the rest.
func formatRunningUnits(running map[string]time.Time, maxShow int) string {
	if len(running) == 0 {
		return ""
	}

	type runningUnit struct {
		name     string
		duration time.Duration
	}

	now := time.Now()
	units := make([]runningUnit, 0, len(running))
	for name, startTime := range running {
		units = append(units, runningUnit{name: name, duration: now.Sub(startTime)})
	}

	// Longest running first.
	sort.Slice(units, func(i, j int) bool {
		return units[i].duration > units[j].duration
	})

	var parts []string
	for i, u := range units {
		if i >= maxShow {
			break
		}
		parts = append(parts, fmt.Sprintf("%s (%v)", u.name, u.duration.Truncate(time.Second)))
	}
	if len(units) > maxShow {
		parts = append(parts, fmt.Sprintf("+%d more", len(units)-maxShow))
	}
	return strings.Join(parts, ", ")
}

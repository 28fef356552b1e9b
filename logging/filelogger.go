package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/acarl005/stripansi"

	"github.com/gjest/gjest/types"
)

// RunDirectoryPrefix is the standardized prefix for per-run log directories.
const RunDirectoryPrefix = "testrun-"

// FileLogger writes captured unit output to files under a run-scoped
// directory, so failing output survives after the console scrolls away.
// Failed and errored units get one file each under failed/; every result is
// appended to a combined all.log.
type FileLogger struct {
	baseDir   string
	logDir    string
	failedDir string

	mu      sync.Mutex
	allLogs *os.File
}

// NewFileLogger creates the run directory layout and opens the combined log.
func NewFileLogger(baseDir, runID string) (*FileLogger, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir cannot be empty")
	}
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}

	logDir := filepath.Join(baseDir, RunDirectoryPrefix+runID)
	failedDir := filepath.Join(logDir, "failed")
	if err := os.MkdirAll(failedDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", failedDir, err)
	}

	allLogs, err := os.Create(filepath.Join(logDir, "all.log"))
	if err != nil {
		return nil, fmt.Errorf("failed to create all.log: %w", err)
	}

	return &FileLogger{
		baseDir:   baseDir,
		logDir:    logDir,
		failedDir: failedDir,
		allLogs:   allLogs,
	}, nil
}

// Directory returns the run-scoped log directory.
func (l *FileLogger) Directory() string {
	return l.logDir
}

// LogResult records one unit outcome. Output is ANSI-stripped so the files
// read cleanly in editors and CI log viewers.
func (l *FileLogger) LogResult(res *types.RunResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := fmt.Sprintf("[%s] %-7s %s (%s)\n",
		time.Now().Format(time.RFC3339), res.Status, res.Unit.QualifiedName(), res.Duration)
	if _, err := l.allLogs.WriteString(line); err != nil {
		return fmt.Errorf("failed to append to all.log: %w", err)
	}

	if !res.Failed() {
		return nil
	}

	path := filepath.Join(l.failedDir, sanitizeFilename(res.Unit.QualifiedName())+".log")
	var b strings.Builder
	b.WriteString(res.Unit.QualifiedName() + "\n")
	b.WriteString("status: " + string(res.Status) + "\n")
	b.WriteString("duration: " + res.Duration.String() + "\n\n")
	if res.Message != "" {
		b.WriteString(CleanOutput(res.Message) + "\n\n")
	}
	if res.Detail != "" {
		b.WriteString(CleanOutput(res.Detail) + "\n")
	}
	if res.Output != "" {
		b.WriteString("\n--- captured output ---\n")
		b.WriteString(CleanOutput(res.Output))
		if !strings.HasSuffix(res.Output, "\n") {
			b.WriteString("\n")
		}
	}

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Complete closes the combined log. The logger cannot be reused afterwards.
func (l *FileLogger) Complete() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allLogs == nil {
		return nil
	}
	err := l.allLogs.Close()
	l.allLogs = nil
	return err
}

// CleanOutput strips ANSI escape sequences and normalizes line endings.
func CleanOutput(s string) string {
	return strings.ReplaceAll(stripansi.Strip(s), "\r\n", "\n")
}

// sanitizeFilename turns a unit's qualified name into a safe file name.
func sanitizeFilename(name string) string {
	r := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		"::", "_",
		":", "_",
		" ", "_",
	)
	return r.Replace(name)
}

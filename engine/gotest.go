package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gjest/gjest/snapshot"
	"github.com/gjest/gjest/types"
)

// DefaultGoBinary runs units through the standard toolchain.
const DefaultGoBinary = "go"

// go test invocation pieces.
const (
	testCommand  = "test"
	jsonFlag     = "-json"
	countFlag    = "-count=1"
	runFlag      = "-run"
	timeoutFlag  = "-timeout"
	coverFlag    = "-coverprofile"
	currentDir   = "."
	buildFailure = 2 // go test exit code for compilation errors
)

var _ Engine = (*GoTest)(nil)

// GoTest runs one unit per `go test` invocation, scoped to the unit's
// function name with -run, and reads the result back from the -json event
// stream. The run is anchored in the unit's package directory, so relative
// fixtures resolve the same way they do under a plain `go test`.
type GoTest struct {
	goBinary string
	log      *zap.SugaredLogger
}

// NewGoTest builds the default engine. An empty binary selects
// DefaultGoBinary; a nil logger disables engine logging.
func NewGoTest(goBinary string, log *zap.SugaredLogger) *GoTest {
	if goBinary == "" {
		goBinary = DefaultGoBinary
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &GoTest{goBinary: goBinary, log: log}
}

// Run executes the unit and reports its result. Test-attributable outcomes
// (pass, fail, skip, timeout, missing result) come back inside the
// RunResult; build failures and invocation problems come back as errors.
func (g *GoTest) Run(ctx context.Context, unit types.TestUnit, opts RunOptions) (*types.RunResult, error) {
	if unit.Dir == "" {
		return nil, fmt.Errorf("unit %s has no package directory", unit.QualifiedName())
	}

	args := g.buildArgs(unit, opts)
	g.log.Debugw("Invoking engine", "unit", unit.QualifiedName(), "binary", g.goBinary, "args", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, g.goBinary, args...)
	cmd.Dir = unit.Dir
	cmd.Env = childEnv(opts)

	// Event streams can be large; spool them to disk and parse from there
	// instead of holding the whole stream in memory.
	eventsFile, err := os.CreateTemp("", "gjest-events-*.jsonl")
	if err != nil {
		return nil, fmt.Errorf("create events file: %w", err)
	}
	eventsPath := eventsFile.Name()
	defer func() {
		_ = eventsFile.Close()
		_ = os.Remove(eventsPath)
	}()

	var stderr bytes.Buffer
	cmd.Stdout = eventsFile
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	_ = eventsFile.Sync()
	_ = eventsFile.Close()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	events, err := os.Open(eventsPath)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	out := collectOutcome(events, unit.Name)
	_ = events.Close()

	res := out.result(unit)
	res.Duration = duration

	if opts.Timeout > 0 && duration >= opts.Timeout {
		res.Status = types.StatusErrored
		res.TimedOut = true
		res.Message = fmt.Sprintf("timed out after %v", opts.Timeout)
		return res, nil
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("invoke %s: %w", g.goBinary, runErr)
		}
		switch code := exitErr.ExitCode(); {
		case code == 1 && out.sawTerminal:
			// Ordinary test failure, already reflected in the parsed status.
		case code == buildFailure:
			return nil, fmt.Errorf("build failed: %s", invocationFailureText(&stderr, out))
		default:
			return nil, fmt.Errorf("engine exited with code %d: %s", code, invocationFailureText(&stderr, out))
		}
	}

	if !out.sawTerminal {
		res.Status = types.StatusErrored
		res.Message = "no result recorded"
		if len(out.packageLines) > 0 {
			res.Detail = strings.Join(out.packageLines, "\n")
		}
	}
	return res, nil
}

func (g *GoTest) buildArgs(unit types.TestUnit, opts RunOptions) []string {
	args := []string{testCommand, jsonFlag, countFlag}
	if opts.Timeout > 0 {
		args = append(args, timeoutFlag, opts.Timeout.String())
	}
	args = append(args, runFlag, fmt.Sprintf("^%s$", unit.Name))
	if opts.CoverProfile != "" {
		args = append(args, coverFlag, opts.CoverProfile)
	}
	return append(args, currentDir)
}

// childEnv extends the current environment with the per-run variables that
// in-process collaborators of the unit under test read back.
func childEnv(opts RunOptions) []string {
	env := append([]string{}, os.Environ()...)
	if opts.UpdateSnapshots {
		env = append(env, snapshot.EnvUpdate+"=1")
	}
	if opts.SnapshotDir != "" {
		env = append(env, snapshot.EnvDir+"="+opts.SnapshotDir)
	}
	return append(env, opts.Env...)
}

// invocationFailureText prefers stderr (where the toolchain reports build
// errors) and falls back to package-level event output.
func invocationFailureText(stderr *bytes.Buffer, out outcome) string {
	if s := strings.TrimSpace(stderr.String()); s != "" {
		return s
	}
	if s := strings.TrimSpace(strings.Join(out.packageLines, "\n")); s != "" {
		return s
	}
	return "no output"
}

package gjest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gjest/gjest/logging"
	"github.com/gjest/gjest/reporting"
	"github.com/gjest/gjest/types"
)

func TestPrioritizeUnits(t *testing.T) {
	units := []types.TestUnit{
		consoleUnit("tests/a_test.go", "TestA", 0),
		consoleUnit("tests/b_test.go", "TestB", 1),
		consoleUnit("tests/c_test.go", "TestC", 2),
		consoleUnit("tests/d_test.go", "TestD", 3),
	}

	got := prioritizeUnits(units, []string{"tests/c_test.go::TestC", "tests/a_test.go::TestA"})
	names := make([]string, len(got))
	for i, u := range got {
		names[i] = u.Name
	}
	// Both partitions keep resolution order.
	assert.Equal(t, []string{"TestA", "TestC", "TestB", "TestD"}, names)

	assert.Equal(t, units, prioritizeUnits(units, nil))
	assert.Equal(t, units, prioritizeUnits(units, []string{"tests/x_test.go::TestGone"}))
}

func TestUnresolvedTargets(t *testing.T) {
	errs := []types.DiscoveryError{
		{Target: "tests/missing", Path: "/p/tests/missing", Reason: "no such file or directory"},
		{Path: "/p/tests/broken_test.go", Reason: "parse failed"},
	}

	// Without explicit targets nothing affects the exit code.
	assert.Nil(t, unresolvedTargets(nil, errs))

	unresolved := unresolvedTargets([]string{"tests/missing"}, errs)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "tests/missing", unresolved[0].Target)

	// Parse errors carry no target and never count as unresolved.
	assert.Empty(t, unresolvedTargets([]string{"tests"}, errs))
}

func TestFailureNames(t *testing.T) {
	summary := reporting.Aggregate(mixedResults(), reporting.AggregateOptions{})
	assert.Equal(t, []string{"tests/beta_test.go::TestBroken"}, failureNames(summary))
}

func TestRunOutcomeExitError(t *testing.T) {
	passing := reporting.Aggregate([]types.RunResult{
		{Unit: consoleUnit("tests/a_test.go", "TestA", 0), Status: types.StatusPassed},
	}, reporting.AggregateOptions{})
	failing := reporting.Aggregate([]types.RunResult{
		{Unit: consoleUnit("tests/a_test.go", "TestA", 0), Status: types.StatusPassed},
		{Unit: consoleUnit("tests/b_test.go", "TestB", 1), Status: types.StatusFailed},
	}, reporting.AggregateOptions{})

	assert.NoError(t, (&runOutcome{summary: passing}).exitError())

	err := (&runOutcome{summary: failing}).exitError()
	require.Error(t, err)
	assert.True(t, IsTestFailureError(err))
	assert.Contains(t, err.Error(), "1 of 2 units failed")

	err = (&runOutcome{summary: passing, thresholdErr: errors.New("Coverage threshold not met: 40% < 80%")}).exitError()
	require.Error(t, err)
	assert.True(t, IsTestFailureError(err))
	assert.Contains(t, err.Error(), "threshold not met")

	err = (&runOutcome{
		summary:    passing,
		unresolved: []types.DiscoveryError{{Target: "tests/missing"}},
	}).exitError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 targets could not be resolved")
}

func appConfig(t *testing.T, root string) *Config {
	t.Helper()
	return &Config{
		Root:         root,
		Workers:      1,
		BatchSize:    1,
		MaxDiffLines: 200,
		UnitTimeout:  time.Minute,
		Log:          logging.NewNopLogger(),
	}
}

func TestNewAppRequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil, "test", func(error) {})
	assert.Error(t, err)
}

func TestNewAppRequiresExistingRoot(t *testing.T) {
	cfg := appConfig(t, filepath.Join(t.TempDir(), "nope"))
	_, err := New(context.Background(), cfg, "test", func(error) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create resolver")
}

func TestAppRunOnceEmptyRoot(t *testing.T) {
	cfg := appConfig(t, t.TempDir())
	shutdown := make(chan error, 1)
	app, err := New(context.Background(), cfg, "test", func(err error) { shutdown <- err })
	require.NoError(t, err)

	require.NoError(t, app.Start(context.Background()))

	select {
	case err := <-shutdown:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback never fired")
	}
}

func TestAppRunOnceUnresolvedTarget(t *testing.T) {
	cfg := appConfig(t, t.TempDir())
	cfg.Targets = []string{"tests/absent_test.go"}

	app, err := New(context.Background(), cfg, "test", func(error) {})
	require.NoError(t, err)

	err = app.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsTestFailureError(err))
	assert.Contains(t, err.Error(), "could not be resolved")
}

func TestAppRunOnceSampleProject(t *testing.T) {
	if testing.Short() {
		t.Skip("runs the real toolchain")
	}
	root, err := filepath.Abs(filepath.Join("testdata", "sample"))
	require.NoError(t, err)

	cfg := appConfig(t, root)
	shutdown := make(chan error, 1)
	app, err := New(context.Background(), cfg, "test", func(err error) { shutdown <- err })
	require.NoError(t, err)

	require.NoError(t, app.Start(context.Background()))

	select {
	case err := <-shutdown:
		assert.NoError(t, err)
	case <-time.After(2 * time.Minute):
		t.Fatal("shutdown callback never fired")
	}

	require.NotNil(t, app.summary)
	assert.Equal(t, 5, app.summary.Stats.Total)
	assert.Zero(t, app.summary.Stats.Failed)
	assert.Zero(t, app.summary.Stats.Errored)
}

func TestAppStopLifecycle(t *testing.T) {
	cfg := appConfig(t, t.TempDir())
	app, err := New(context.Background(), cfg, "test", func(error) {})
	require.NoError(t, err)

	require.NoError(t, app.Start(context.Background()))
	assert.False(t, app.Stopped())

	require.NoError(t, app.Stop(context.Background()))
	assert.True(t, app.Stopped())

	// A second stop is a no-op, not a panic.
	require.NoError(t, app.Stop(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, app.WaitForShutdown(ctx))
}

func TestNarrowTargets(t *testing.T) {
	root, err := filepath.Abs(filepath.Join("testdata", "sample"))
	require.NoError(t, err)

	app, err := New(context.Background(), appConfig(t, root), "test", func(error) {})
	require.NoError(t, err)

	// go.mod exists but is not a test file; gone_test.go does not exist.
	eligible := filepath.Join(root, "tests", "math_test.go")
	got := app.narrowTargets([]string{
		eligible,
		filepath.Join(root, "go.mod"),
		filepath.Join(root, "tests", "gone_test.go"),
	})
	assert.Equal(t, []string{eligible}, got)
}

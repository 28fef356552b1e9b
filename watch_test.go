package gjest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChangeSource struct {
	events chan Change
	sigs   map[string]FileSignature
}

func newFakeChangeSource() *fakeChangeSource {
	return &fakeChangeSource{events: make(chan Change, 16)}
}

func (s *fakeChangeSource) Start(ctx context.Context) error { return nil }

func (s *fakeChangeSource) Events() <-chan Change { return s.events }

func (s *fakeChangeSource) Signatures() map[string]FileSignature { return s.sigs }

func (s *fakeChangeSource) Stop() {}

type cycleCall struct {
	state   WatchState
	changed []string
	phase   WatchPhase // controller phase observed inside the cycle
}

// watchHarness runs a controller against a fake source and records every
// cycle invocation.
type watchHarness struct {
	source     *fakeChangeSource
	controller *WatchController
	calls      chan cycleCall
	done       chan error
	cancel     context.CancelFunc
}

func startWatchHarness(t *testing.T, cycle CycleFunc) *watchHarness {
	t.Helper()
	return startWatchHarnessWithSource(t, newFakeChangeSource(), cycle)
}

func startWatchHarnessWithSource(t *testing.T, source *fakeChangeSource, cycle CycleFunc) *watchHarness {
	t.Helper()
	h := &watchHarness{
		source: source,
		calls:  make(chan cycleCall, 16),
		done:   make(chan error, 1),
	}
	h.controller = NewWatchController(h.source, 20*time.Millisecond, func(ctx context.Context, state WatchState, changed []string) (WatchState, error) {
		h.calls <- cycleCall{state: state, changed: changed, phase: h.controller.Phase()}
		if cycle != nil {
			return cycle(ctx, state, changed)
		}
		return state, nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(cancel)
	go func() { h.done <- h.controller.Run(ctx) }()
	return h
}

func (h *watchHarness) nextCall(t *testing.T) cycleCall {
	t.Helper()
	select {
	case call := <-h.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a watch cycle")
		return cycleCall{}
	}
}

func (h *watchHarness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not stop")
		return nil
	}
}

func TestWatchControllerRunsInitialCycle(t *testing.T) {
	h := startWatchHarness(t, nil)

	call := h.nextCall(t)
	assert.Equal(t, 0, call.state.Cycle)
	assert.Nil(t, call.changed)
	assert.Equal(t, WatchRunning, call.phase)

	h.cancel()
	require.NoError(t, h.wait(t))
	assert.Equal(t, WatchStopped, h.controller.Phase())
}

func TestWatchControllerDebouncesBursts(t *testing.T) {
	h := startWatchHarness(t, nil)
	h.nextCall(t)

	// A burst of events, with a duplicate, becomes one cycle carrying the
	// deduplicated sorted paths.
	h.source.events <- Change{Path: "/p/tests/b_test.go", Op: "write"}
	h.source.events <- Change{Path: "/p/tests/a_test.go", Op: "write"}
	h.source.events <- Change{Path: "/p/tests/a_test.go", Op: "write"}

	call := h.nextCall(t)
	assert.Equal(t, 1, call.state.Cycle)
	assert.Equal(t, []string{"/p/tests/a_test.go", "/p/tests/b_test.go"}, call.changed)

	// No further cycle without further events.
	select {
	case extra := <-h.calls:
		t.Fatalf("unexpected extra cycle: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}

	h.cancel()
	require.NoError(t, h.wait(t))
}

func TestWatchControllerIdlesBetweenCycles(t *testing.T) {
	h := startWatchHarness(t, nil)
	h.nextCall(t)

	require.Eventually(t, func() bool {
		return h.controller.Phase() == WatchIdle
	}, 2*time.Second, 10*time.Millisecond)

	h.cancel()
	require.NoError(t, h.wait(t))
}

func TestWatchControllerThreadsState(t *testing.T) {
	h := startWatchHarness(t, func(ctx context.Context, state WatchState, changed []string) (WatchState, error) {
		state.LastFailures = []string{"tests/beta_test.go::TestBroken"}
		return state, nil
	})
	h.nextCall(t)

	h.source.events <- Change{Path: "/p/tests/beta_test.go", Op: "write"}
	call := h.nextCall(t)
	assert.Equal(t, 1, call.state.Cycle)
	assert.Equal(t, []string{"tests/beta_test.go::TestBroken"}, call.state.LastFailures)

	h.cancel()
	require.NoError(t, h.wait(t))
}

func TestWatchControllerSyncsSignatures(t *testing.T) {
	sig := FileSignature{ModTime: time.Now(), Size: 42}
	source := newFakeChangeSource()
	source.sigs = map[string]FileSignature{"/p/tests/a_test.go": sig}

	h := startWatchHarnessWithSource(t, source, nil)
	h.nextCall(t)

	h.source.events <- Change{Path: "/p/tests/a_test.go", Op: "write"}
	call := h.nextCall(t)
	assert.Equal(t, sig, call.state.Signatures["/p/tests/a_test.go"])

	h.cancel()
	require.NoError(t, h.wait(t))
}

func TestWatchControllerStopsOnCycleError(t *testing.T) {
	boom := errors.New("engine exploded")
	h := startWatchHarness(t, func(ctx context.Context, state WatchState, changed []string) (WatchState, error) {
		return state, boom
	})
	h.nextCall(t)

	err := h.wait(t)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, WatchStopped, h.controller.Phase())
}

func TestWatchControllerStopsWhenSourceCloses(t *testing.T) {
	h := startWatchHarness(t, nil)
	h.nextCall(t)

	close(h.source.events)
	require.NoError(t, h.wait(t))
	assert.Equal(t, WatchStopped, h.controller.Phase())
}

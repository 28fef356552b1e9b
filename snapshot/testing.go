package snapshot

import (
	"runtime"
	"testing"
)

// MatchT compares value against the named snapshot of the calling test file
// and fails t on a mismatch. An empty key defaults to the test name. New
// snapshots are created silently; update mode follows the run environment.
func MatchT(t testing.TB, key string, value any) {
	t.Helper()

	_, file, _, ok := runtime.Caller(1)
	if !ok {
		t.Fatal("snapshot: cannot locate calling test file")
	}
	if key == "" {
		key = t.Name()
	}

	outcome, diff, err := FromEnv(file).Match(key, value)
	if err != nil {
		t.Fatalf("snapshot %q: %v", key, err)
	}
	if outcome == OutcomeMismatch {
		t.Errorf("snapshot %q does not match:\n%s", key, diff)
	}
}

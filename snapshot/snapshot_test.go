package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreCreatesMissingRecord(t *testing.T) {
	dir := t.TempDir()
	testFile := filepath.Join(dir, "alpha_test.go")

	s := NewStore(testFile, false)
	outcome, diff, err := s.Match("TestAlpha/greeting", map[string]string{"msg": "hello"})

	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.Empty(t, diff)

	// The document lands beside the test file under the conventional name.
	wantPath := filepath.Join(dir, DirName, "alpha_test.snap.json")
	assert.Equal(t, wantPath, s.Path())
	content, err := os.ReadFile(wantPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "TestAlpha/greeting")
	assert.Contains(t, string(content), "hello")
}

func TestStoreMatchAndMismatch(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "beta_test.go")
	s := NewStore(testFile, false)

	_, _, err := s.Match("key", map[string]int{"a": 1, "b": 2})
	require.NoError(t, err)

	// Same logical value: a match, not a create.
	outcome, _, err := s.Match("key", map[string]int{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, OutcomeMatch, outcome)

	outcome, diff, err := s.Match("key", map[string]int{"a": 1, "b": 3})
	require.NoError(t, err)
	assert.Equal(t, OutcomeMismatch, outcome)
	assert.Contains(t, diff, `- `)
	assert.Contains(t, diff, `+ `)
	assert.Contains(t, diff, "3")

	created, updated, mismatched := s.Counts()
	assert.Equal(t, 1, created)
	assert.Equal(t, 0, updated)
	assert.Equal(t, 1, mismatched)
}

func TestStoreUpdateMode(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "gamma_test.go")

	strict := NewStore(testFile, false)
	_, _, err := strict.Match("key", "before")
	require.NoError(t, err)

	updating := NewStore(testFile, true)
	outcome, _, err := updating.Match("key", "after")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)

	// A fresh strict store sees the updated record.
	fresh := NewStore(testFile, false)
	outcome, _, err = fresh.Match("key", "after")
	require.NoError(t, err)
	assert.Equal(t, OutcomeMatch, outcome)
}

func TestFromEnv(t *testing.T) {
	dir := t.TempDir()
	testFile := filepath.Join(dir, "delta_test.go")

	t.Setenv(EnvUpdate, "1")
	override := filepath.Join(dir, "elsewhere")
	t.Setenv(EnvDir, override)

	s := FromEnv(testFile)
	assert.True(t, s.update)
	assert.Equal(t, filepath.Join(override, "delta_test.snap.json"), s.Path())
}

func TestStoreRejectsCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	testFile := filepath.Join(dir, "eps_test.go")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, DirName), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DirName, "eps_test.snap.json"), []byte("not json"), 0644))

	s := NewStore(testFile, false)
	_, _, err := s.Match("key", "value")
	assert.Error(t, err)
}

func TestWritten(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, "a", DirName, "old_test.snap.json")
	fresh := filepath.Join(root, "b", DirName, "fresh_test.snap.json")
	stray := filepath.Join(root, "b", "not_a_snapshot.snap.json")
	for _, p := range []string{old, fresh, stray} {
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte("{}"), 0644))
	}

	cutoff := time.Now().Add(-time.Hour)
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	files, err := Written(root, cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{fresh}, files)
}

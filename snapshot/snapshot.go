// Package snapshot stores expected values as per-file JSON documents and
// compares live values against them. The orchestrator decides when stores
// run in update mode and propagates that choice to child processes through
// the environment; test code talks to a Store (or MatchT) directly.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// EnvUpdate switches stores built by FromEnv into update mode.
	EnvUpdate = "GJEST_UPDATE_SNAPSHOTS"

	// EnvDir overrides the directory snapshot documents are kept in.
	EnvDir = "GJEST_SNAPSHOT_DIR"

	// DirName is the conventional snapshot directory beside test files.
	DirName = "__snapshots__"

	fileSuffix = ".snap.json"
)

// Outcome classifies one snapshot comparison.
type Outcome string

const (
	OutcomeMatch    Outcome = "match"
	OutcomeMismatch Outcome = "mismatch"
	OutcomeCreated  Outcome = "created"
	OutcomeUpdated  Outcome = "updated"
)

// Store holds the snapshot records of a single test file. Records live in
// one JSON document, keyed by snapshot name, written through on every
// mutation. A Store is safe for concurrent use.
type Store struct {
	path   string
	update bool

	mu         sync.Mutex
	loaded     bool
	doc        map[string]json.RawMessage
	created    int
	updated    int
	mismatched int
}

// NewStore builds the store for a test file, with the document at
// __snapshots__/<file-base>.snap.json beside it.
func NewStore(testFile string, update bool) *Store {
	return &Store{
		path:   filepath.Join(filepath.Dir(testFile), DirName, docName(testFile)),
		update: update,
	}
}

// FromEnv builds the store for a test file using the environment the
// orchestrator set for this run: update mode and an optional directory
// override.
func FromEnv(testFile string) *Store {
	var update bool
	switch os.Getenv(EnvUpdate) {
	case "1", "true", "yes":
		update = true
	}
	s := NewStore(testFile, update)
	if dir := os.Getenv(EnvDir); dir != "" {
		s.path = filepath.Join(dir, docName(testFile))
	}
	return s
}

func docName(testFile string) string {
	base := strings.TrimSuffix(filepath.Base(testFile), filepath.Ext(testFile))
	return base + fileSuffix
}

// Path returns the location of the backing document.
func (s *Store) Path() string {
	return s.path
}

// Match compares value against the stored record for key. A missing record
// is created regardless of mode; a differing record is rewritten in update
// mode and reported as a mismatch (with a line diff) otherwise.
func (s *Store) Match(key string, value any) (Outcome, string, error) {
	canonical, err := canonicalJSON(value)
	if err != nil {
		return "", "", fmt.Errorf("encode snapshot value: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return "", "", err
	}

	stored, ok := s.doc[key]
	if !ok {
		s.doc[key] = canonical
		s.created++
		if err := s.flush(); err != nil {
			return "", "", err
		}
		return OutcomeCreated, "", nil
	}

	storedCanonical, err := recanonicalize(stored)
	if err != nil {
		// Keep comparing; a hand-edited document should surface as a
		// mismatch, not an error.
		storedCanonical = stored
	}
	if bytes.Equal(storedCanonical, canonical) {
		return OutcomeMatch, "", nil
	}

	if s.update {
		s.doc[key] = canonical
		s.updated++
		if err := s.flush(); err != nil {
			return "", "", err
		}
		return OutcomeUpdated, "", nil
	}

	s.mismatched++
	return OutcomeMismatch, diffLines(string(storedCanonical), string(canonical)), nil
}

// Counts reports how many records this store created, updated, and failed
// to match.
func (s *Store) Counts() (created, updated, mismatched int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created, s.updated, s.mismatched
}

func (s *Store) load() error {
	if s.loaded {
		return nil
	}
	s.doc = make(map[string]json.RawMessage)
	content, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshots: %w", err)
	}
	if err := json.Unmarshal(content, &s.doc); err != nil {
		return fmt.Errorf("parse snapshots %s: %w", s.path, err)
	}
	s.loaded = true
	return nil
}

func (s *Store) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	content, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot document: %w", err)
	}
	if err := os.WriteFile(s.path, append(content, '\n'), 0644); err != nil {
		return fmt.Errorf("write snapshots: %w", err)
	}
	return nil
}

// canonicalJSON renders a value in the stable form records are stored and
// compared in: indented, object keys sorted.
func canonicalJSON(value any) (json.RawMessage, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return recanonicalize(raw)
}

func recanonicalize(raw json.RawMessage) (json.RawMessage, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.MarshalIndent(v, "", "  ")
}

// diffLines renders a minimal line diff between the stored and received
// forms, stored lines prefixed with "-" and received with "+".
func diffLines(stored, received string) string {
	a := strings.Split(stored, "\n")
	b := strings.Split(received, "\n")

	var out []string
	for i := 0; i < len(a) || i < len(b); i++ {
		switch {
		case i >= len(a):
			out = append(out, "+ "+b[i])
		case i >= len(b):
			out = append(out, "- "+a[i])
		case a[i] == b[i]:
			out = append(out, "  "+a[i])
		default:
			out = append(out, "- "+a[i], "+ "+b[i])
		}
	}
	return strings.Join(out, "\n")
}

// Written returns the snapshot documents under root whose modification time
// is at or after since. The orchestrator uses this to report how many
// snapshots a run wrote.
func Written(root string, since time.Time) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if p != root && (strings.HasPrefix(name, ".") || name == "vendor" || name == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Base(filepath.Dir(p)) != DirName || !strings.HasSuffix(d.Name(), fileSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !info.ModTime().Before(since) {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

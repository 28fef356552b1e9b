// Package coverage merges the per-invocation cover profiles engine runs
// leave behind into a single run-level measurement.
package coverage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/tools/cover"

	"github.com/gjest/gjest/templates"
	"github.com/gjest/gjest/types"
)

const (
	defaultGoBinary   = "go"
	mergedProfileName = "coverage.out"
	htmlReportName    = "coverage.html"
	indexReportName   = "index.html"
	modeSet           = "set"
)

// Provider measures coverage for the units of one run cycle.
type Provider interface {
	Measure(ctx context.Context, units []types.TestUnit) (*Profile, error)
}

// FileCoverage is the statement coverage of one source file.
type FileCoverage struct {
	Path    string
	Covered int
	Total   int
	Percent float64
}

// Profile is the merged coverage of a run, per file and overall.
type Profile struct {
	Mode    string
	Covered int
	Total   int
	Percent float64
	Files   []FileCoverage
}

// Empty reports whether no invocation produced coverage data.
func (p *Profile) Empty() bool {
	return p.Total == 0
}

// UnitProfileName returns the profile file name an engine invocation writes
// for a unit. The scheduler and the provider share this convention.
func UnitProfileName(index int) string {
	return fmt.Sprintf("unit-%04d.out", index)
}

// CheckThreshold compares overall coverage to a required percentage. A zero
// threshold disables the check.
func CheckThreshold(profile *Profile, threshold float64) error {
	if threshold <= 0 || profile.Percent >= threshold {
		return nil
	}
	return fmt.Errorf("Coverage threshold not met: %s%% < %s%%",
		formatPercent(profile.Percent), formatPercent(threshold))
}

func formatPercent(v float64) string {
	return strings.TrimSuffix(strconv.FormatFloat(v, 'f', 1, 64), ".0")
}

// FileProvider merges the profiles collected under one directory, keyed by
// unit index. It also writes the merged profile back to the directory so
// HTML rendering has a single input.
type FileProvider struct {
	dir        string
	goBinary   string
	log        *zap.SugaredLogger
	mergedPath string
	measured   *Profile
}

func NewFileProvider(dir, goBinary string, log *zap.SugaredLogger) *FileProvider {
	if goBinary == "" {
		goBinary = defaultGoBinary
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &FileProvider{dir: dir, goBinary: goBinary, log: log}
}

// Measure parses and merges the profile of every unit that produced one.
// Units without a profile (skipped, todo, failed before running) are fine,
// a run with no profiles at all yields an empty measurement.
func (p *FileProvider) Measure(ctx context.Context, units []types.TestUnit) (*Profile, error) {
	mode := modeSet
	files := make(map[string]map[blockKey]int)

	found := 0
	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(p.dir, UnitProfileName(unit.Index))
		profiles, err := cover.ParseProfiles(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to parse cover profile %s: %w", path, err)
		}
		found++
		for _, prof := range profiles {
			mode = prof.Mode
			mergeBlocks(files, prof, mode)
		}
	}

	if found == 0 {
		p.log.Debugw("No cover profiles recorded", "dir", p.dir)
		return &Profile{Mode: mode}, nil
	}

	profile := buildProfile(mode, files)
	mergedPath := filepath.Join(p.dir, mergedProfileName)
	if err := writeMergedProfile(mergedPath, mode, files); err != nil {
		return nil, err
	}
	p.mergedPath = mergedPath
	p.measured = profile

	p.log.Debugw("Merged cover profiles",
		"profiles", found,
		"files", len(profile.Files),
		"percent", profile.Percent)
	return profile, nil
}

// WriteHTML renders the merged profile through the standard toolchain plus a
// summary index page, and returns the annotated-source path. Measure must
// have found data first.
func (p *FileProvider) WriteHTML(ctx context.Context, outDir string) (string, error) {
	if p.mergedPath == "" {
		return "", fmt.Errorf("no coverage data to render")
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create coverage directory: %w", err)
	}
	out := filepath.Join(outDir, htmlReportName)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.goBinary, "tool", "cover", "-html="+p.mergedPath, "-o", out)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to render coverage html: %v: %s", err, strings.TrimSpace(stderr.String()))
	}

	if err := p.writeIndex(outDir); err != nil {
		return "", err
	}
	return out, nil
}

func (p *FileProvider) writeIndex(outDir string) error {
	idx := templates.CoverageIndex{
		GeneratedAt: time.Now(),
		Mode:        p.measured.Mode,
		Percent:     p.measured.Percent,
		Covered:     p.measured.Covered,
		Total:       p.measured.Total,
		ReportFile:  htmlReportName,
	}
	for _, file := range p.measured.Files {
		idx.Files = append(idx.Files, templates.CoverageFile{
			Path:    file.Path,
			Percent: file.Percent,
			Covered: file.Covered,
			Total:   file.Total,
		})
	}

	f, err := os.Create(filepath.Join(outDir, indexReportName))
	if err != nil {
		return fmt.Errorf("failed to create coverage index: %w", err)
	}
	defer f.Close()
	if err := templates.RenderCoverageIndex(f, idx); err != nil {
		return fmt.Errorf("failed to render coverage index: %w", err)
	}
	return nil
}

// blockKey identifies a profile block by position. Counts live in the map
// value so invocations of the same unit set merge cleanly.
type blockKey struct {
	startLine, startCol int
	endLine, endCol     int
	numStmt             int
}

// mergeBlocks folds one parsed profile into the accumulator. Counts add up
// across invocations except in set mode, where covered stays covered.
func mergeBlocks(files map[string]map[blockKey]int, prof *cover.Profile, mode string) {
	blocks := files[prof.FileName]
	if blocks == nil {
		blocks = make(map[blockKey]int)
		files[prof.FileName] = blocks
	}
	for _, b := range prof.Blocks {
		key := blockKey{b.StartLine, b.StartCol, b.EndLine, b.EndCol, b.NumStmt}
		if mode == modeSet {
			if b.Count > blocks[key] {
				blocks[key] = b.Count
			}
		} else {
			blocks[key] += b.Count
		}
	}
}

func buildProfile(mode string, files map[string]map[blockKey]int) *Profile {
	profile := &Profile{Mode: mode}
	for path, blocks := range files {
		fc := FileCoverage{Path: path}
		for key, count := range blocks {
			fc.Total += key.numStmt
			if count > 0 {
				fc.Covered += key.numStmt
			}
		}
		if fc.Total > 0 {
			fc.Percent = float64(fc.Covered) * 100 / float64(fc.Total)
		}
		profile.Covered += fc.Covered
		profile.Total += fc.Total
		profile.Files = append(profile.Files, fc)
	}
	sort.Slice(profile.Files, func(i, j int) bool {
		return profile.Files[i].Path < profile.Files[j].Path
	})
	if profile.Total > 0 {
		profile.Percent = float64(profile.Covered) * 100 / float64(profile.Total)
	}
	return profile
}

// writeMergedProfile serializes the accumulator back into the cover profile
// text format so go tool cover accepts it.
func writeMergedProfile(path, mode string, files map[string]map[blockKey]int) error {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	fmt.Fprintf(&b, "mode: %s\n", mode)
	for _, p := range paths {
		blocks := files[p]
		keys := make([]blockKey, 0, len(blocks))
		for key := range blocks {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool {
			a, c := keys[i], keys[j]
			if a.startLine != c.startLine {
				return a.startLine < c.startLine
			}
			return a.startCol < c.startCol
		})
		for _, key := range keys {
			fmt.Fprintf(&b, "%s:%d.%d,%d.%d %d %d\n",
				p, key.startLine, key.startCol, key.endLine, key.endCol, key.numStmt, blocks[key])
		}
	}

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write merged profile: %w", err)
	}
	return nil
}

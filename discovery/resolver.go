// Package discovery turns CLI targets into an ordered, deduplicated list of
// executable test units.
package discovery

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/mod/modfile"

	"github.com/gjest/gjest/types"
)

const (
	// DefaultIncludePattern is the Go convention for test files.
	DefaultIncludePattern = "*_test.go"

	// DefaultTargetDir is searched when no targets are given.
	DefaultTargetDir = "tests"

	// gjestSuffix marks the secondary file class. Files in this class
	// pretend to carry the plain _test.go suffix during pattern matching.
	gjestSuffix = "_gjest_test.go"
)

// fallbackPatterns are tried in priority order when the include pattern
// matches no files at all.
var fallbackPatterns = []string{"test_*.go", "*_tests.go", "tests.go"}

// skipDirNames are never descended into, matching Go toolchain conventions.
var skipDirNames = map[string]bool{
	".git":         true,
	"vendor":       true,
	"node_modules": true,
	"testdata":     true,
}

// Config carries the matching policy for a Resolver.
type Config struct {
	Root           string // Absolute project root, must exist
	IncludePattern string // Glob on the file base name, DefaultIncludePattern when empty
	ExcludePattern string // Glob on base name, or suffix match on the relative path
	IgnorePaths    []string
	GjestOnly      bool // Restrict eligibility to the *_gjest_test.go class
	Log            *zap.SugaredLogger
}

// Resolver discovers test units beneath a project root. Resolution is
// idempotent: the same targets against an unchanged tree yield an identical
// ordered unit list.
type Resolver struct {
	cfg        Config
	include    string
	ignoreAbs  []string
	modulePath string // Module path from root go.mod, empty when absent
	log        *zap.SugaredLogger
}

// NewResolver validates the matching policy and reads the root go.mod (when
// present) so package-style targets can be resolved to directories.
func NewResolver(cfg Config) (*Resolver, error) {
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("root %s: %w", cfg.Root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", cfg.Root)
	}

	include := cfg.IncludePattern
	if include == "" {
		include = DefaultIncludePattern
	}
	for _, p := range []string{include, cfg.ExcludePattern} {
		if p == "" {
			continue
		}
		if _, err := path.Match(p, "probe"); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
	}

	ignoreAbs := make([]string, 0, len(cfg.IgnorePaths))
	for _, ig := range cfg.IgnorePaths {
		if !filepath.IsAbs(ig) {
			ig = filepath.Join(cfg.Root, ig)
		}
		ignoreAbs = append(ignoreAbs, filepath.Clean(ig))
	}

	log := cfg.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	r := &Resolver{
		cfg:       cfg,
		include:   include,
		ignoreAbs: ignoreAbs,
		log:       log,
	}
	r.modulePath = readModulePath(cfg.Root)
	return r, nil
}

// readModulePath parses <root>/go.mod and returns its module path, or "".
func readModulePath(root string) string {
	goModPath := filepath.Join(root, "go.mod")
	content, err := os.ReadFile(goModPath)
	if err != nil {
		return ""
	}
	mf, err := modfile.Parse(goModPath, content, nil)
	if err != nil || mf.Module == nil {
		return ""
	}
	return mf.Module.Mod.Path
}

// Resolve maps targets to an ordered, deduplicated unit list. Targets may be
// empty, in which case the conventional tests directory under root is used
// when present; otherwise zero units is the (non-error) result. Unresolvable
// targets and unparseable files are returned as discovery errors, and
// resolution continues past them.
func (r *Resolver) Resolve(ctx context.Context, rawTargets []string) ([]types.TestUnit, []types.DiscoveryError) {
	var errs []types.DiscoveryError

	targets := r.resolveTargets(rawTargets, &errs)
	if len(targets) == 0 {
		return nil, errs
	}

	files := r.collectFiles(targets, r.include)
	if len(files) == 0 {
		for _, fb := range fallbackPatterns {
			files = r.collectFiles(targets, fb)
			if len(files) > 0 {
				r.log.Debugw("Include pattern matched nothing, fallback applied",
					"include", r.include, "fallback", fb)
				break
			}
		}
	}

	sort.Strings(files)

	var units []types.TestUnit
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			errs = append(errs, types.DiscoveryError{Path: file, Reason: err.Error()})
			break
		}
		fileUnits, derr := r.parseUnits(file)
		if derr != nil {
			errs = append(errs, *derr)
			continue
		}
		units = append(units, fileUnits...)
	}

	for i := range units {
		units[i].Index = i
	}

	r.log.Debugw("Discovery completed",
		"targets", len(targets), "files", len(files), "units", len(units), "errors", len(errs))
	return units, errs
}

// resolveTargets turns raw target strings into concrete targets. Empty input
// falls back to the default tests directory.
func (r *Resolver) resolveTargets(raw []string, errs *[]types.DiscoveryError) []types.Target {
	if len(raw) == 0 {
		def := filepath.Join(r.cfg.Root, DefaultTargetDir)
		if info, err := os.Stat(def); err == nil && info.IsDir() {
			return []types.Target{{Raw: DefaultTargetDir, Path: def, Kind: types.TargetDir}}
		}
		r.log.Debugw("No targets given and no default tests directory", "root", r.cfg.Root)
		return nil
	}

	var targets []types.Target
	for _, item := range raw {
		p := item
		if !filepath.IsAbs(p) {
			p = filepath.Join(r.cfg.Root, p)
		}
		p = filepath.Clean(p)

		if info, err := os.Stat(p); err == nil {
			kind := types.TargetFile
			if info.IsDir() {
				kind = types.TargetDir
			}
			targets = append(targets, types.Target{Raw: item, Path: p, Kind: kind})
			continue
		}

		// Not a path: try it as a package import path within the module.
		if r.modulePath != "" && strings.HasPrefix(item, r.modulePath) {
			rel := strings.TrimPrefix(strings.TrimPrefix(item, r.modulePath), "/")
			dir := filepath.Join(r.cfg.Root, filepath.FromSlash(rel))
			if info, err := os.Stat(dir); err == nil && info.IsDir() {
				targets = append(targets, types.Target{Raw: item, Path: dir, Kind: types.TargetPackage})
				continue
			}
			*errs = append(*errs, types.DiscoveryError{
				Target: item, Path: dir,
				Reason: fmt.Sprintf("package %s has no directory in module %s", item, r.modulePath),
			})
			continue
		}

		*errs = append(*errs, types.DiscoveryError{
			Target: item, Path: p, Reason: "no such file or directory",
		})
	}
	return targets
}

// collectFiles walks the targets and returns eligible file paths, absolute
// and deduplicated.
func (r *Resolver) collectFiles(targets []types.Target, include string) []string {
	seen := make(map[string]bool)
	var files []string

	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, t := range targets {
		switch t.Kind {
		case types.TargetFile:
			if r.eligible(filepath.Base(t.Path), r.relTo(t.Path), include) {
				add(t.Path)
			}
		case types.TargetDir, types.TargetPackage:
			_ = filepath.WalkDir(t.Path, func(p string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if d.IsDir() {
					if p != t.Path && r.skipDir(d.Name(), p) {
						return filepath.SkipDir
					}
					return nil
				}
				if r.ignored(p) {
					return nil
				}
				if r.eligible(d.Name(), r.relTo(p), include) {
					add(p)
				}
				return nil
			})
		}
	}
	return files
}

func (r *Resolver) skipDir(name, abs string) bool {
	if skipDirNames[name] {
		return true
	}
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
		return true
	}
	return r.ignored(abs)
}

func (r *Resolver) ignored(abs string) bool {
	for _, ig := range r.ignoreAbs {
		if abs == ig || strings.HasPrefix(abs, ig+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// eligible applies the matching policy to one file. Files in the secondary
// class match patterns as if they carried the plain _test.go suffix.
func (r *Resolver) eligible(base, rel, include string) bool {
	name := base
	if strings.HasSuffix(base, gjestSuffix) {
		name = strings.TrimSuffix(base, gjestSuffix) + "_test.go"
	} else if r.cfg.GjestOnly {
		return false
	}

	if ok, _ := path.Match(include, name); !ok {
		return false
	}
	if ex := r.cfg.ExcludePattern; ex != "" {
		if ok, _ := path.Match(ex, name); ok {
			return false
		}
		if strings.HasSuffix(rel, ex) {
			return false
		}
	}
	return true
}

// EligibleFile reports whether a single path would be picked up by
// discovery under the current configuration. Watch mode uses it to narrow a
// cycle to changed test files.
func (r *Resolver) EligibleFile(p string) bool {
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(r.cfg.Root, abs)
	}
	if r.ignored(abs) {
		return false
	}
	return r.eligible(filepath.Base(abs), r.relTo(abs), r.include)
}

// relTo returns the slash-separated root-relative form of p, used as the
// stable file identity in unit names and reports.
func (r *Resolver) relTo(p string) string {
	rel, err := filepath.Rel(r.cfg.Root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

// parseUnits extracts the test functions of one file in declaration order.
func (r *Resolver) parseUnits(file string) ([]types.TestUnit, *types.DiscoveryError) {
	rel := r.relTo(file)

	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, file, nil, parser.ParseComments)
	if err != nil {
		return nil, &types.DiscoveryError{Path: rel, Reason: fmt.Sprintf("parse failed: %v", err)}
	}

	fileDir := parseDirectives(f.Doc)
	dir := filepath.Dir(file)

	var units []types.TestUnit
	for _, decl := range f.Decls {
		funcDecl, ok := decl.(*ast.FuncDecl)
		if !ok || funcDecl.Recv != nil || !isTestName(funcDecl.Name.Name) {
			continue
		}

		d := parseDirectives(funcDecl.Doc).merge(fileDir)
		label := d.label
		if label == "" {
			label = humanizeName(funcDecl.Name.Name)
		}

		units = append(units, types.TestUnit{
			Name:    funcDecl.Name.Name,
			File:    rel,
			Dir:     dir,
			Package: r.importPath(dir),
			Label:   label,
			Marker:  d.marker,
			Reason:  d.reason,
		})
	}
	return units, nil
}

// importPath derives the package import path for a directory under the
// module root, or "" when the project has no go.mod.
func (r *Resolver) importPath(dir string) string {
	if r.modulePath == "" {
		return ""
	}
	rel, err := filepath.Rel(r.cfg.Root, dir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	if rel == "." {
		return r.modulePath
	}
	return r.modulePath + "/" + filepath.ToSlash(rel)
}

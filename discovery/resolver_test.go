package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gjest/gjest/types"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func newTestResolver(t *testing.T, cfg Config) *Resolver {
	t.Helper()
	r, err := NewResolver(cfg)
	require.NoError(t, err)
	return r
}

func unitNames(units []types.TestUnit) []string {
	names := make([]string, len(units))
	for i, u := range units {
		names[i] = u.QualifiedName()
	}
	return names
}

func TestResolveOrdersByFileThenDeclaration(t *testing.T) {
	root := t.TempDir()
	// Declaration order inside beta_test.go is deliberately non-alphabetical.
	writeFile(t, root, "tests/beta_test.go", `package tests

import "testing"

func TestZulu(t *testing.T) {}

func TestAlpha(t *testing.T) {}
`)
	writeFile(t, root, "tests/alpha_test.go", `package tests

import "testing"

func TestOnly(t *testing.T) {}
`)

	r := newTestResolver(t, Config{Root: root})
	units, errs := r.Resolve(context.Background(), []string{"tests"})
	require.Empty(t, errs)

	assert.Equal(t, []string{
		"tests/alpha_test.go::TestOnly",
		"tests/beta_test.go::TestZulu",
		"tests/beta_test.go::TestAlpha",
	}, unitNames(units))

	// Indexes follow resolution order.
	for i, u := range units {
		assert.Equal(t, i, u.Index)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "tests/a_test.go", `package tests

import "testing"

func TestOne(t *testing.T) {}

func TestTwo(t *testing.T) {}
`)

	r := newTestResolver(t, Config{Root: root})
	first, errs1 := r.Resolve(context.Background(), []string{"tests"})
	second, errs2 := r.Resolve(context.Background(), []string{"tests"})

	require.Empty(t, errs1)
	require.Empty(t, errs2)
	assert.Equal(t, first, second)
}

func TestResolveDefaultsToTestsDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "tests/default_test.go", `package tests

import "testing"

func TestDefault(t *testing.T) {}
`)

	r := newTestResolver(t, Config{Root: root})
	units, errs := r.Resolve(context.Background(), nil)
	require.Empty(t, errs)
	require.Len(t, units, 1)
	assert.Equal(t, "tests/default_test.go::TestDefault", units[0].QualifiedName())
}

func TestResolveEmptyTargetsWithoutTestsDirectory(t *testing.T) {
	r := newTestResolver(t, Config{Root: t.TempDir()})
	units, errs := r.Resolve(context.Background(), nil)
	assert.Empty(t, units)
	assert.Empty(t, errs)
}

func TestResolveReportsMissingTarget(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "tests/ok_test.go", `package tests

import "testing"

func TestOK(t *testing.T) {}
`)

	r := newTestResolver(t, Config{Root: root})
	units, errs := r.Resolve(context.Background(), []string{"tests", "does/not/exist"})

	require.Len(t, errs, 1)
	assert.Equal(t, "does/not/exist", errs[0].Target)
	assert.Contains(t, errs[0].Reason, "no such file")

	// Discovery continued with the resolvable target.
	require.Len(t, units, 1)
}

func TestResolveReportsUnparseableFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "tests/good_test.go", `package tests

import "testing"

func TestGood(t *testing.T) {}
`)
	writeFile(t, root, "tests/broken_test.go", "package tests\n\nfunc TestBroken(t *testing.T {\n")

	r := newTestResolver(t, Config{Root: root})
	units, errs := r.Resolve(context.Background(), []string{"tests"})

	require.Len(t, errs, 1)
	assert.Equal(t, "tests/broken_test.go", errs[0].Path)
	assert.Contains(t, errs[0].Reason, "parse failed")

	require.Len(t, units, 1)
	assert.Equal(t, "TestGood", units[0].Name)
}

func TestResolveMarkersAndLabels(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "tests/marked_test.go", `package tests

import "testing"

//gjest:skip waiting on upstream fix
func TestSkipped(t *testing.T) {}

//gjest:focus
func TestFocused(t *testing.T) {}

//gjest:todo rework error paths
func TestPending(t *testing.T) {}

//gjest:label parses nested includes
func TestLabelled(t *testing.T) {}

func TestParseConfigReload(t *testing.T) {}
`)

	r := newTestResolver(t, Config{Root: root})
	units, errs := r.Resolve(context.Background(), []string{"tests"})
	require.Empty(t, errs)
	require.Len(t, units, 5)

	byName := make(map[string]types.TestUnit)
	for _, u := range units {
		byName[u.Name] = u
	}

	assert.Equal(t, types.MarkerSkip, byName["TestSkipped"].Marker)
	assert.Equal(t, "waiting on upstream fix", byName["TestSkipped"].Reason)
	assert.Equal(t, types.MarkerFocus, byName["TestFocused"].Marker)
	assert.Equal(t, types.MarkerTodo, byName["TestPending"].Marker)
	assert.Equal(t, "rework error paths", byName["TestPending"].Reason)
	assert.Equal(t, "parses nested includes", byName["TestLabelled"].Label)
	assert.Equal(t, "parse config reload", byName["TestParseConfigReload"].Label)
	assert.Equal(t, types.MarkerNone, byName["TestParseConfigReload"].Marker)
}

func TestResolveFileLevelMarkerAppliesToAllUnits(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "tests/legacy_test.go", `//gjest:skip legacy suite
package tests

import "testing"

func TestOld(t *testing.T) {}

//gjest:focus
func TestStillWanted(t *testing.T) {}
`)

	r := newTestResolver(t, Config{Root: root})
	units, errs := r.Resolve(context.Background(), []string{"tests"})
	require.Empty(t, errs)
	require.Len(t, units, 2)

	byName := make(map[string]types.TestUnit)
	for _, u := range units {
		byName[u.Name] = u
	}

	assert.Equal(t, types.MarkerSkip, byName["TestOld"].Marker)
	assert.Equal(t, "legacy suite", byName["TestOld"].Reason)
	// Function-level directives override the file-level one.
	assert.Equal(t, types.MarkerFocus, byName["TestStillWanted"].Marker)
}

func TestResolveExcludePatternAndIgnorePaths(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "tests/keep_test.go", `package tests

import "testing"

func TestKeep(t *testing.T) {}
`)
	writeFile(t, root, "tests/slow_test.go", `package tests

import "testing"

func TestSlow(t *testing.T) {}
`)
	writeFile(t, root, "tests/old/gone_test.go", `package old

import "testing"

func TestGone(t *testing.T) {}
`)

	r := newTestResolver(t, Config{
		Root:           root,
		ExcludePattern: "slow_*.go",
		IgnorePaths:    []string{"tests/old"},
	})
	units, errs := r.Resolve(context.Background(), []string{"tests"})
	require.Empty(t, errs)
	require.Len(t, units, 1)
	assert.Equal(t, "TestKeep", units[0].Name)
}

func TestResolveSkipsConventionalDirectories(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "tests/real_test.go", `package tests

import "testing"

func TestReal(t *testing.T) {}
`)
	writeFile(t, root, "tests/vendor/dep_test.go", `package dep

import "testing"

func TestVendored(t *testing.T) {}
`)
	writeFile(t, root, "tests/testdata/fixture_test.go", `package fixture

import "testing"

func TestFixture(t *testing.T) {}
`)
	writeFile(t, root, "tests/_wip/draft_test.go", `package wip

import "testing"

func TestDraft(t *testing.T) {}
`)

	r := newTestResolver(t, Config{Root: root})
	units, errs := r.Resolve(context.Background(), []string{"tests"})
	require.Empty(t, errs)
	require.Len(t, units, 1)
	assert.Equal(t, "TestReal", units[0].Name)
}

func TestResolveGjestOnlyMode(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "tests/plain_test.go", `package tests

import "testing"

func TestPlain(t *testing.T) {}
`)
	writeFile(t, root, "tests/extra_gjest_test.go", `package tests

import "testing"

func TestExtra(t *testing.T) {}
`)

	r := newTestResolver(t, Config{Root: root, GjestOnly: true})
	units, errs := r.Resolve(context.Background(), []string{"tests"})
	require.Empty(t, errs)
	require.Len(t, units, 1)
	assert.Equal(t, "tests/extra_gjest_test.go::TestExtra", units[0].QualifiedName())
}

func TestResolvePretendSuffixMatching(t *testing.T) {
	root := t.TempDir()
	// The secondary class matches patterns written for the primary class.
	writeFile(t, root, "tests/config_load_gjest_test.go", `package tests

import "testing"

func TestLoad(t *testing.T) {}
`)
	writeFile(t, root, "tests/other_gjest_test.go", `package tests

import "testing"

func TestOther(t *testing.T) {}
`)

	r := newTestResolver(t, Config{Root: root, IncludePattern: "config_*_test.go"})
	units, errs := r.Resolve(context.Background(), []string{"tests"})
	require.Empty(t, errs)
	require.Len(t, units, 1)
	assert.Equal(t, "TestLoad", units[0].Name)
}

func TestResolveFallbackPatterns(t *testing.T) {
	root := t.TempDir()
	// Nothing matches *_test.go, so the fallback chain applies.
	writeFile(t, root, "tests/test_legacy.go", `package tests

import "testing"

func TestLegacy(t *testing.T) {}
`)

	r := newTestResolver(t, Config{Root: root})
	units, errs := r.Resolve(context.Background(), []string{"tests"})
	require.Empty(t, errs)
	require.Len(t, units, 1)
	assert.Equal(t, "tests/test_legacy.go::TestLegacy", units[0].QualifiedName())
}

func TestResolvePackageTarget(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "go.mod", "module example.com/proj\n\ngo 1.26.0\n")
	writeFile(t, root, "pkg/util/util_test.go", `package util

import "testing"

func TestUtil(t *testing.T) {}
`)

	r := newTestResolver(t, Config{Root: root})
	units, errs := r.Resolve(context.Background(), []string{"example.com/proj/pkg/util"})
	require.Empty(t, errs)
	require.Len(t, units, 1)
	assert.Equal(t, "example.com/proj/pkg/util", units[0].Package)

	// An import path with no directory is a discovery error, not a crash.
	units, errs = r.Resolve(context.Background(), []string{"example.com/proj/pkg/missing"})
	assert.Empty(t, units)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Reason, "no directory in module")
}

func TestResolveDeduplicatesOverlappingTargets(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "tests/one_test.go", `package tests

import "testing"

func TestOne(t *testing.T) {}
`)

	r := newTestResolver(t, Config{Root: root})
	units, errs := r.Resolve(context.Background(), []string{"tests", "tests/one_test.go"})
	require.Empty(t, errs)
	assert.Len(t, units, 1)
}

func TestNewResolverValidation(t *testing.T) {
	_, err := NewResolver(Config{Root: filepath.Join(t.TempDir(), "nope")})
	assert.Error(t, err)

	_, err = NewResolver(Config{Root: t.TempDir(), IncludePattern: "[broken"})
	assert.Error(t, err)
}

func sampleRoot(t *testing.T) string {
	t.Helper()
	root, err := filepath.Abs(filepath.Join("..", "testdata", "sample"))
	require.NoError(t, err)
	return root
}

func TestResolveSampleProject(t *testing.T) {
	r := newTestResolver(t, Config{Root: sampleRoot(t)})
	units, errs := r.Resolve(context.Background(), nil)
	require.Empty(t, errs)

	assert.Equal(t, []string{
		"tests/math_test.go::TestAdd",
		"tests/math_test.go::TestSubtract",
		"tests/parse_gjest_test.go::TestParseHeaders",
		"tests/parse_gjest_test.go::TestParseBlocks",
		"tests/slow_test.go::TestBulkImport",
	}, unitNames(units))

	byName := make(map[string]types.TestUnit)
	for _, u := range units {
		byName[u.Name] = u
	}
	assert.Equal(t, "example.com/sample/tests", byName["TestAdd"].Package)
	assert.Equal(t, "parses quoted headers", byName["TestParseHeaders"].Label)
	assert.Equal(t, types.MarkerTodo, byName["TestParseBlocks"].Marker)
	assert.Equal(t, "handle nested blocks", byName["TestParseBlocks"].Reason)

	// The package-clause directive in slow_test.go covers its whole file.
	assert.Equal(t, types.MarkerSkip, byName["TestBulkImport"].Marker)
	assert.Equal(t, "needs network access", byName["TestBulkImport"].Reason)
}

func TestResolveSampleProjectPackageTarget(t *testing.T) {
	r := newTestResolver(t, Config{Root: sampleRoot(t)})
	units, errs := r.Resolve(context.Background(), []string{"example.com/sample/pkg/util"})
	require.Empty(t, errs)
	require.Len(t, units, 1)
	assert.Equal(t, "pkg/util/util_test.go::TestClamp", units[0].QualifiedName())
	assert.Equal(t, "example.com/sample/pkg/util", units[0].Package)
}

func TestResolveSampleProjectSkipsVendor(t *testing.T) {
	r := newTestResolver(t, Config{Root: sampleRoot(t)})
	units, errs := r.Resolve(context.Background(), []string{"."})
	require.Empty(t, errs)
	for _, u := range units {
		assert.NotContains(t, u.File, "vendor/")
	}
}

func TestResolveEligibleFile(t *testing.T) {
	root := sampleRoot(t)

	r := newTestResolver(t, Config{Root: root})
	assert.True(t, r.EligibleFile("tests/math_test.go"))
	assert.True(t, r.EligibleFile(filepath.Join(root, "tests", "math_test.go")))
	assert.True(t, r.EligibleFile("tests/parse_gjest_test.go"))
	assert.False(t, r.EligibleFile("tests/helper.go"))
	assert.False(t, r.EligibleFile("go.mod"))

	only := newTestResolver(t, Config{Root: root, GjestOnly: true})
	assert.False(t, only.EligibleFile("tests/math_test.go"))
	assert.True(t, only.EligibleFile("tests/parse_gjest_test.go"))

	ignoring := newTestResolver(t, Config{Root: root, IgnorePaths: []string{"tests"}})
	assert.False(t, ignoring.EligibleFile("tests/math_test.go"))
	assert.True(t, ignoring.EligibleFile("pkg/util/util_test.go"))
}

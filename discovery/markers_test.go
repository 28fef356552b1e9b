package discovery

import (
	"go/ast"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gjest/gjest/types"
)

func commentGroup(lines ...string) *ast.CommentGroup {
	cg := &ast.CommentGroup{}
	for _, l := range lines {
		cg.List = append(cg.List, &ast.Comment{Text: l})
	}
	return cg
}

func TestParseDirectives(t *testing.T) {
	tests := []struct {
		name string
		doc  *ast.CommentGroup
		want directive
	}{
		{
			name: "nil group",
			doc:  nil,
			want: directive{},
		},
		{
			name: "plain comment is not a directive",
			doc:  commentGroup("// explains the scenario"),
			want: directive{},
		},
		{
			name: "skip with reason",
			doc:  commentGroup("//gjest:skip waiting on upstream fix"),
			want: directive{marker: types.MarkerSkip, reason: "waiting on upstream fix", found: true},
		},
		{
			name: "focus",
			doc:  commentGroup("//gjest:focus"),
			want: directive{marker: types.MarkerFocus, found: true},
		},
		{
			name: "todo with note",
			doc:  commentGroup("//gjest:todo rework once the API settles"),
			want: directive{marker: types.MarkerTodo, reason: "rework once the API settles", found: true},
		},
		{
			name: "label",
			doc:  commentGroup("//gjest:label parses nested includes"),
			want: directive{label: "parses nested includes", found: true},
		},
		{
			name: "label without argument is ignored",
			doc:  commentGroup("//gjest:label"),
			want: directive{},
		},
		{
			name: "marker and label stack",
			doc: commentGroup(
				"// covers the reload path",
				"//gjest:skip broken on CI",
				"//gjest:label reload under load",
			),
			want: directive{marker: types.MarkerSkip, reason: "broken on CI", label: "reload under load", found: true},
		},
		{
			name: "unknown verb is ignored",
			doc:  commentGroup("//gjest:retry 3"),
			want: directive{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parseDirectives(tc.doc))
		})
	}
}

func TestDirectiveMerge(t *testing.T) {
	fileLevel := directive{marker: types.MarkerSkip, reason: "legacy suite", found: true}

	// No function-level marker: the file-level one applies.
	got := directive{}.merge(fileLevel)
	assert.Equal(t, types.MarkerSkip, got.marker)
	assert.Equal(t, "legacy suite", got.reason)

	// A function-level marker wins and keeps its own reason.
	fn := directive{marker: types.MarkerTodo, reason: "needs fixture", found: true}
	got = fn.merge(fileLevel)
	assert.Equal(t, types.MarkerTodo, got.marker)
	assert.Equal(t, "needs fixture", got.reason)

	// Labels are per-function and never inherited.
	got = directive{}.merge(directive{label: "from file", found: true})
	assert.Empty(t, got.label)
}

func TestHumanizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"TestParseConfig", "parse config"},
		{"TestParseConfigReload", "parse config reload"},
		{"TestHTTPServer", "http server"},
		{"TestHTTP", "http"},
		{"TestA", "a"},
		{"Test_snake_case", "snake case"},
		{"TestRead2Files", "read2 files"},
		{"Test", ""},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, humanizeName(tc.in), "input %q", tc.in)
	}
}

func TestIsTestName(t *testing.T) {
	assert.True(t, isTestName("Test"))
	assert.True(t, isTestName("TestFoo"))
	assert.True(t, isTestName("Test_foo"))
	assert.True(t, isTestName("TestHTTP"))
	assert.False(t, isTestName("TestMain"))
	assert.False(t, isTestName("Testify"))
	assert.False(t, isTestName("BenchmarkFoo"))
	assert.False(t, isTestName("test"))
}

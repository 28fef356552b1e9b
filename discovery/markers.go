package discovery

import (
	"go/ast"
	"strings"
	"unicode"

	"github.com/gjest/gjest/types"
)

// Directive comments attach execution metadata to test functions, mirroring
// the //go: directive convention:
//
//	//gjest:skip waiting on upstream fix
//	//gjest:focus
//	//gjest:todo rework once the API settles
//	//gjest:label parses nested includes
//
// Placed on a function they mark that unit; placed on the package clause they
// apply to every unit in the file. A function-level marker overrides a
// file-level one.
const directivePrefix = "//gjest:"

// directive is the parsed metadata of one comment group.
type directive struct {
	marker types.Marker
	reason string // skip reason or todo note
	label  string // explicit label override
	found  bool   // true when any gjest directive was present
}

func parseDirectives(doc *ast.CommentGroup) directive {
	var d directive
	if doc == nil {
		return d
	}
	for _, c := range doc.List {
		text := strings.TrimSpace(c.Text)
		if !strings.HasPrefix(text, directivePrefix) {
			continue
		}
		rest := strings.TrimPrefix(text, directivePrefix)
		verb, arg, _ := strings.Cut(rest, " ")
		arg = strings.TrimSpace(arg)

		switch verb {
		case "skip":
			d.marker, d.reason, d.found = types.MarkerSkip, arg, true
		case "focus":
			d.marker, d.found = types.MarkerFocus, true
		case "todo":
			d.marker, d.reason, d.found = types.MarkerTodo, arg, true
		case "label":
			if arg != "" {
				d.label = arg
				d.found = true
			}
		}
	}
	return d
}

// merge applies file-level metadata underneath function-level metadata.
func (d directive) merge(file directive) directive {
	out := d
	if out.marker == types.MarkerNone && file.marker != types.MarkerNone {
		out.marker = file.marker
		out.reason = file.reason
	}
	return out
}

// humanizeName derives a display label from a test function name:
// "TestParseConfig" becomes "parse config", "TestHTTPServer" becomes
// "http server", underscores split words too.
func humanizeName(name string) string {
	name = strings.TrimPrefix(name, "Test")
	name = strings.Trim(name, "_")
	if name == "" {
		return ""
	}

	var words []string
	var cur []rune
	runes := []rune(name)
	for i, r := range runes {
		switch {
		case r == '_':
			if len(cur) > 0 {
				words = append(words, string(cur))
				cur = nil
			}
		case unicode.IsUpper(r):
			if len(cur) > 0 {
				last := cur[len(cur)-1]
				// Word boundary: lower→Upper, or end of an acronym run
				// (Upper followed by Upper+lower, as in "HTTPServer").
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(last) || unicode.IsDigit(last) || (unicode.IsUpper(last) && nextLower) {
					words = append(words, string(cur))
					cur = nil
				}
			}
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	if len(cur) > 0 {
		words = append(words, string(cur))
	}

	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return strings.Join(words, " ")
}

// isTestName reports whether a function name is runnable by the engine:
// "Test" followed by a non-lowercase rune, excluding TestMain.
func isTestName(name string) bool {
	if name == "TestMain" || !strings.HasPrefix(name, "Test") {
		return false
	}
	if len(name) == len("Test") {
		return true
	}
	r := []rune(name[len("Test"):])[0]
	return !unicode.IsLower(r)
}

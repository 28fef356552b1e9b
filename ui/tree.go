// Package ui holds the box-drawing vocabulary shared by the console views.
package ui

// Tree connectors using box drawing characters.
const (
	TreeBranch     = "├── " // Entry with siblings below
	TreeLastBranch = "└── " // Last entry at its level
	TreeContinue   = "│   " // Parent has more siblings
	TreeIndent     = "    " // Parent was last, no vertical line needed
)

// BuildTreePrefix generates the prefix for an entry at the given depth.
// parentIsLast records, per ancestor level, whether that ancestor was the
// last among its siblings; missing entries are treated as not-last.
func BuildTreePrefix(depth int, isLast bool, parentIsLast []bool) string {
	if depth == 0 {
		return ""
	}

	var prefix string
	for i := 0; i < depth-1; i++ {
		if i < len(parentIsLast) && parentIsLast[i] {
			prefix += TreeIndent
		} else {
			prefix += TreeContinue
		}
	}

	if isLast {
		return prefix + TreeLastBranch
	}
	return prefix + TreeBranch
}

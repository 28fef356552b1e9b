package types

// TargetKind classifies how a target string was resolved.
type TargetKind string

const (
	TargetFile    TargetKind = "file"
	TargetDir     TargetKind = "dir"
	TargetPackage TargetKind = "package"
)

// Target is a user-specified or default location to search for test units.
// Every target resolves to zero or more concrete test units; targets that
// cannot be resolved become DiscoveryErrors rather than being dropped.
type Target struct {
	Raw  string // As given on the command line or in config
	Path string // Resolved absolute path
	Kind TargetKind
}

// Marker is an execution directive attached to a unit at discovery time.
type Marker string

const (
	MarkerNone  Marker = ""
	MarkerSkip  Marker = "skip"
	MarkerFocus Marker = "focus"
	MarkerTodo  Marker = "todo"
)

// TestUnit is the smallest executable entity: a single Go test function.
// Units are created during discovery, consumed exactly once per run cycle,
// and never persisted across cycles.
type TestUnit struct {
	Name    string // Test function name
	File    string // Root-relative source file, also the suite grouping key
	Dir     string // Absolute directory containing the file
	Package string // Import path of the enclosing package, when resolvable
	Index   int    // Resolution order, re-imposed for display ordering
	Label   string // Human label, humanized from Name unless overridden
	Marker  Marker
	Reason  string // Optional marker annotation (skip reason, todo note)
}

// QualifiedName returns the stable identity of the unit across run cycles.
// Go forbids duplicate function names within a package, so file plus function
// name is unique.
func (u TestUnit) QualifiedName() string {
	return u.File + "::" + u.Name
}

// Focused reports whether the unit carries a focus marker.
func (u TestUnit) Focused() bool {
	return u.Marker == MarkerFocus
}

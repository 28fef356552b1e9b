package reporting

import (
	"fmt"
	"os"
	"path/filepath"
)

// Report formats accepted by NewSink and the --report flag.
const (
	FormatJSON  = "json"
	FormatTAP   = "tap"
	FormatJUnit = "junit"
)

const reportBaseName = "gjest-report"

// Sink writes one run summary to a report artifact.
type Sink interface {
	// Emit writes the summary to the sink's destination, replacing any
	// previous artifact.
	Emit(summary *RunSummary) error

	// Path returns the destination the sink writes to.
	Path() string
}

// ReportPath returns the artifact destination for a format under root. The
// optional suffix keeps artifacts from concurrent runs apart.
func ReportPath(root, format, suffix string) string {
	name := reportBaseName
	if suffix != "" {
		name += "-" + suffix
	}
	switch format {
	case FormatTAP:
		name += ".tap"
	case FormatJUnit:
		name += ".junit.xml"
	default:
		name += ".json"
	}
	return filepath.Join(root, name)
}

// NewSink builds the sink for a report format. The set of formats is closed,
// an unknown name is a configuration error.
func NewSink(format, root, suffix string) (Sink, error) {
	switch format {
	case FormatJSON:
		return NewJSONSink(ReportPath(root, format, suffix)), nil
	case FormatTAP:
		return NewTAPSink(ReportPath(root, format, suffix)), nil
	case FormatJUnit:
		return NewJUnitSink(ReportPath(root, format, suffix)), nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

// writeArtifact creates the destination directory and writes the rendered
// report in one shot.
func writeArtifact(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

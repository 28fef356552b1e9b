// Package templates holds the shared template helpers and page bodies for
// HTML artifacts the orchestrator writes.
package templates

import (
	"fmt"
	"html/template"
	"strconv"
	"strings"
)

// GetTemplateFunc returns the template functions shared by every HTML page.
func GetTemplateFunc() template.FuncMap {
	return template.FuncMap{
		"formatPercent": func(p float64) string {
			return strings.TrimSuffix(strconv.FormatFloat(p, 'f', 1, 64), ".0")
		},
		"coverageClass": func(p float64) string {
			return coverageClass(p)
		},
		"statementRatio": func(covered, total int) string {
			return fmt.Sprintf("%d/%d", covered, total)
		},
	}
}

// coverageClass maps a percentage to the CSS band used to color it.
func coverageClass(percent float64) string {
	switch {
	case percent >= 80:
		return "cover-high"
	case percent >= 50:
		return "cover-medium"
	default:
		return "cover-low"
	}
}

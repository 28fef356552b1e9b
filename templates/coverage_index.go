package templates

import (
	"html/template"
	"io"
	"time"
)

// CoverageIndex is the view model for the coverage landing page. The page
// links to the annotated-source report the toolchain renders alongside it.
type CoverageIndex struct {
	GeneratedAt time.Time
	Mode        string
	Percent     float64
	Covered     int
	Total       int
	ReportFile  string
	Files       []CoverageFile
}

// CoverageFile is one source file row on the landing page.
type CoverageFile struct {
	Path    string
	Percent float64
	Covered int
	Total   int
}

var coverageIndexTmpl = template.Must(
	template.New("coverage-index").Funcs(GetTemplateFunc()).Parse(coverageIndexHTML))

// RenderCoverageIndex writes the coverage landing page for one run.
func RenderCoverageIndex(w io.Writer, idx CoverageIndex) error {
	return coverageIndexTmpl.Execute(w, idx)
}

const coverageIndexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>gjest coverage</title>
<style>
body { font-family: -apple-system, sans-serif; margin: 2em; color: #222; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; margin-top: 1em; }
th, td { padding: 0.35em 0.9em; text-align: left; border-bottom: 1px solid #ddd; }
td.num { text-align: right; font-variant-numeric: tabular-nums; }
.cover-high { color: #1a7f37; }
.cover-medium { color: #9a6700; }
.cover-low { color: #cf222e; }
.meta { color: #666; font-size: 0.85em; }
</style>
</head>
<body>
<h1>Coverage: <span class="{{coverageClass .Percent}}">{{formatPercent .Percent}}%</span>
({{statementRatio .Covered .Total}} statements)</h1>
<p class="meta">mode {{.Mode}}, generated {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}</p>
{{if .ReportFile}}<p><a href="{{.ReportFile}}">Annotated source</a></p>{{end}}
<table>
<tr><th>File</th><th>Coverage</th><th>Statements</th></tr>
{{range .Files}}<tr>
<td>{{.Path}}</td>
<td class="num {{coverageClass .Percent}}">{{formatPercent .Percent}}%</td>
<td class="num">{{statementRatio .Covered .Total}}</td>
</tr>
{{end}}</table>
</body>
</html>
`

package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var documentTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"paragraphs": func(s string) []string {
			return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
		},
	}
	documentTemplate = template.Must(template.New("document").Funcs(funcMap).Parse(documentHTML))
}

// RenderDocumentHTML renders the full block tree as a standalone HTML page.
func RenderDocumentHTML(doc Document) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// The block template recurses over children, so arbitrarily deep trees
// render without Go-side stitching.
const documentHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .block { margin: 1rem 0; padding-left: 1rem; border-left: 2px solid #eee; }
    .block .datatype { color: #999; font-size: 0.75em; text-transform: uppercase; letter-spacing: 0.05em; }
    .field { margin: 0.25rem 0; }
    .field .label { font-weight: bold; margin-right: 0.5rem; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.Author}}{{if not .UpdatedAt.IsZero}} | {{formatDate .UpdatedAt "Jan 2, 2006"}}{{end}}</div>
  {{if .Root}}{{range .Root.Children}}{{template "block" .}}{{end}}{{end}}
</body>
</html>
{{define "block"}}<div class="block">
  <div class="datatype">{{.Datatype}}</div>
  {{range .Fields}}{{if .Value}}<div class="field field-{{lower .Type}}">
    <span class="label">{{.Label}}</span>{{if eq (lower .Type) "textarea"}}{{range paragraphs .Value}}<p>{{.}}</p>{{end}}{{else}}<span>{{.Value}}</span>{{end}}
  </div>{{end}}{{end}}
  {{range .Children}}{{template "block" .}}{{end}}
</div>{{end}}`

package web

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/a-h/templ"
)

type endpointDoc struct {
	Method  string
	Path    string
	Summary string
}

var endpointDocs = []endpointDoc{
	{"POST", "/process_data/", `Enrich and store rows. Body: {"data": [{"ip_address", "marketing_channel", "state", "purchase"?, "time_spent_seconds"?}]}`},
	{"GET", "/data/", "List stored records. Missing values are null."},
	{"DELETE", "/data/{id}", "Delete one stored record."},
	{"GET", "/summary/", "Count, mean, std, min, quartiles and max of the numeric columns."},
	{"GET", "/metrics", "Prometheus metrics."},
}

// DocsPage renders the API reference with the enrichment steps in run order.
func DocsPage(steps []string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`+
			`<title>Conversion pipeline API</title>`+
			`<style>body{font-family:sans-serif;max-width:52rem;margin:2rem auto}code{background:#eee;padding:0 .2rem}td{padding:.3rem .6rem;vertical-align:top}</style>`+
			`</head><body><h1>Conversion pipeline API</h1><table>`); err != nil {
			return err
		}
		for _, e := range endpointDocs {
			if _, err := fmt.Fprintf(w, `<tr><td><strong>%s</strong></td><td><code>%s</code></td><td>%s</td></tr>`,
				templ.EscapeString(e.Method), templ.EscapeString(e.Path), templ.EscapeString(e.Summary)); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, `</table><h2>Enrichment steps</h2><ol>`); err != nil {
			return err
		}
		for _, step := range steps {
			if _, err := fmt.Fprintf(w, `<li><code>%s</code></li>`, templ.EscapeString(step)); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</ol></body></html>`)
		return err
	})
}

func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	templ.Handler(DocsPage(s.svc.Steps())).ServeHTTP(w, r)
}

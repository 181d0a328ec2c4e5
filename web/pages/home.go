// Package pages renders the HTML pages served alongside the JSON API.
package pages

import "github.com/rohanthewiz/element"

// endpointRow is one entry of the endpoint listing on the status page.
type endpointRow struct {
	Method string
	Path   string
	Desc   string
}

var endpoints = []endpointRow{
	{"POST", "/api/v1/auth/register", "Create an account"},
	{"POST", "/api/v1/auth/login", "Obtain a token"},
	{"GET", "/api/v1/cards", "List local cards"},
	{"POST", "/api/v1/cards", "Create a card"},
	{"GET", "/api/v1/cards/:id", "Load a card (cache-aware)"},
	{"PUT", "/api/v1/cards/:id", "Update a card"},
	{"DELETE", "/api/v1/cards/:id", "Delete a card"},
	{"GET", "/api/v1/remote/files", "Remote store listing"},
	{"GET", "/api/v1/sync/queue", "Offline queue stats"},
	{"POST", "/api/v1/sync/queue/process", "Drain the offline queue"},
	{"POST", "/api/v1/sync/reconcile", "Run a reconciliation pass"},
	{"GET", "/api/v1/sync/conflicts", "Detect conflicts"},
	{"GET", "/api/v1/sync/status", "Sync health summary"},
	{"GET", "/health", "Liveness check"},
}

func (r endpointRow) Render(b *element.Builder) (x any) {
	b.Li("style", "padding:4px 0").R(
		b.Span("style", "font-family:monospace;font-weight:bold;display:inline-block;width:64px").T(r.Method),
		b.Span("style", "font-family:monospace").T(r.Path),
		b.Span("style", "color:#555;margin-left:12px").T(r.Desc),
	)
	return
}

// StatusPage renders the root page: a short description of the service
// and its endpoint listing.
func StatusPage() string {
	b := element.NewBuilder()

	b.Html().R(
		b.Head().R(
			b.Title().T("CardNotes Sync"),
		),
		b.Body("style", "font-family:sans-serif;max-width:720px;margin:40px auto;color:#222").R(
			b.Header("style", "border-bottom:2px solid #2c3e50;padding-bottom:12px").R(
				b.H1().T("CardNotes Sync"),
				b.P("style", "color:#555").T(
					"Dual-persistence note card store: local DuckDB cache, "+
						"remote file backend, offline queue, background reconciliation."),
			),
			b.H2().T("Endpoints"),
			b.Ul("style", "list-style:none;padding-left:0").R(
				renderEndpoints(b),
			),
		),
	)

	return b.String()
}

func renderEndpoints(b *element.Builder) (x any) {
	element.ForEach(endpoints, func(e endpointRow) {
		b.Wrap(func() {
			element.RenderComponents(b, e)
		})
	})
	return
}

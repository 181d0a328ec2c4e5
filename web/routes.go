package web

import (
	"net/http"

	"cardnotes/web/api"
	"cardnotes/web/pages"

	"github.com/rohanthewiz/rweb"
)

// requireAuth wraps a handler, rejecting requests that JWTAuthMiddleware
// did not authenticate.
func requireAuth(h rweb.Handler) rweb.Handler {
	return func(c rweb.Context) error {
		authenticated, _ := c.Get("authenticated").(bool)
		if !authenticated {
			c.SetStatus(http.StatusUnauthorized)
			return c.WriteJSON(map[string]interface{}{
				"success": false,
				"error":   "authentication required",
			})
		}
		return h(c)
	}
}

// setupRoutes configures all application routes
func setupRoutes(s *rweb.Server) {
	// Status page - HTML response
	s.Get("/", func(ctx rweb.Context) error {
		ctx.Response().SetHeader("Content-Type", "text/html; charset=utf-8")
		return ctx.WriteHTML(pages.StatusPage())
	})

	s.Get("/health", api.HealthCheck)

	// Auth endpoints - open
	s.Post("/api/v1/auth/register", api.Register)
	s.Post("/api/v1/auth/login", api.Login)

	// Cards CRUD - reads are open, writes need a token
	s.Get("/api/v1/cards", api.ListCards)
	s.Get("/api/v1/cards/:id", api.GetCard)
	s.Post("/api/v1/cards", requireAuth(api.CreateCard))
	s.Put("/api/v1/cards/:id", requireAuth(api.UpdateCard))
	s.Delete("/api/v1/cards/:id", requireAuth(api.DeleteCard))

	// Remote store listing
	s.Get("/api/v1/remote/files", api.ListRemoteFiles)

	// Offline queue
	s.Get("/api/v1/sync/queue", api.GetQueueStats)
	s.Post("/api/v1/sync/queue/process", requireAuth(api.ProcessQueue))
	s.Post("/api/v1/sync/queue/tasks/:id/retry", requireAuth(api.RetryTask))

	// Reconciliation and conflicts
	s.Post("/api/v1/sync/reconcile", requireAuth(api.TriggerReconciliation))
	s.Get("/api/v1/sync/conflicts", api.ListConflicts)
	s.Post("/api/v1/sync/conflicts/resolve", requireAuth(api.ResolveConflicts))
	s.Get("/api/v1/sync/status", api.GetSyncStatus)
}

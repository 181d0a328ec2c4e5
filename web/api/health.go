package api

import (
	"net/http"
	"time"

	"github.com/rohanthewiz/rweb"
)

var startTime = time.Now()

// HealthCheck handles GET /health
// Liveness plus a quick view of the two persistence sides.
func HealthCheck(ctx rweb.Context) error {
	return writeSuccess(ctx, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"uptime":          time.Since(startTime).String(),
		"store_available": engine.Store().Available(),
		"cloud_ready":     engine.HasCloudCredential(),
	})
}

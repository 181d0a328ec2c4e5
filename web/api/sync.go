package api

import (
	"context"
	"encoding/json"
	"net/http"

	"cardnotes/models"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"
)

// ListRemoteFiles handles GET /api/v1/remote/files
// Returns the remote store listing, refreshing the local listing cache.
// Without a credential it serves the cached listing instead of failing.
func ListRemoteFiles(ctx rweb.Context) error {
	files, err := engine.ListRemoteFiles(context.Background())
	if err != nil {
		if models.KindOf(err) == models.KindAuth {
			cached, cerr := engine.Store().ListCachedRemoteFiles()
			if cerr == nil {
				return writeSuccess(ctx, http.StatusOK, map[string]interface{}{
					"files":  cached,
					"cached": true,
				})
			}
			return writeError(ctx, http.StatusUnauthorized, "no remote credential configured")
		}
		logger.LogErr(serr.Wrap(err, "failed to list remote files"), "kind", models.KindOf(err).String())
		return writeError(ctx, http.StatusBadGateway, "failed to list remote files")
	}

	return writeSuccess(ctx, http.StatusOK, map[string]interface{}{
		"files":  files,
		"cached": false,
	})
}

// GetQueueStats handles GET /api/v1/sync/queue
// Reports offline queue depth per lifecycle state.
func GetQueueStats(ctx rweb.Context) error {
	stats, err := engine.QueueStats()
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to get queue stats"), "store error")
		return writeError(ctx, http.StatusInternalServerError, "failed to get queue stats")
	}
	return writeSuccess(ctx, http.StatusOK, stats)
}

// ProcessQueue handles POST /api/v1/sync/queue/process
// Drains the offline queue immediately instead of waiting for the timer.
func ProcessQueue(ctx rweb.Context) error {
	stats, err := engine.ProcessQueue(context.Background())
	if err != nil {
		logger.LogErr(serr.Wrap(err, "queue processing failed"), "processed", stats.Processed)
		return writeError(ctx, http.StatusInternalServerError, "queue processing failed")
	}

	logger.Info("Queue processed",
		"processed", stats.Processed, "completed", stats.Completed,
		"failed", stats.Failed, "skipped", stats.Skipped)
	return writeSuccess(ctx, http.StatusOK, stats)
}

// RetryTask handles POST /api/v1/sync/queue/tasks/:id/retry
// Resets a failed task's retry budget and kicks the drain loop.
func RetryTask(ctx rweb.Context) error {
	id := ctx.Request().Param("id")
	if id == "" {
		return writeError(ctx, http.StatusBadRequest, "task id is required")
	}

	if err := engine.RetryTask(id); err != nil {
		if models.IsNotFound(err) {
			return writeError(ctx, http.StatusNotFound, "task not found")
		}
		return writeError(ctx, http.StatusConflict, err.Error())
	}

	logger.Info("Task queued for retry", "task_id", id)
	return writeSuccess(ctx, http.StatusOK, map[string]interface{}{"retried": true, "id": id})
}

// TriggerReconciliation handles POST /api/v1/sync/reconcile
// Runs one reconciliation pass now.
func TriggerReconciliation(ctx rweb.Context) error {
	stats, err := engine.TriggerReconciliation(context.Background())
	if err != nil {
		logger.LogErr(serr.Wrap(err, "reconciliation failed"), "kind", models.KindOf(err).String())
		return writeError(ctx, http.StatusBadGateway, "reconciliation failed")
	}

	logger.Info("Reconciliation complete",
		"downloaded", stats.Downloaded, "evicted", stats.Evicted,
		"file_failures", stats.FileFailures, "skipped", stats.Skipped)
	return writeSuccess(ctx, http.StatusOK, stats)
}

// ListConflicts handles GET /api/v1/sync/conflicts
// Classifies current local/remote divergence without changing anything.
func ListConflicts(ctx rweb.Context) error {
	conflicts, err := engine.DetectConflicts(context.Background())
	if err != nil {
		logger.LogErr(serr.Wrap(err, "conflict detection failed"), "kind", models.KindOf(err).String())
		return writeError(ctx, http.StatusBadGateway, "conflict detection failed")
	}
	return writeSuccess(ctx, http.StatusOK, conflicts)
}

// resolveConflictsInput selects the winning side for conflict resolution.
type resolveConflictsInput struct {
	PreferNewer bool `json:"prefer_newer"`
}

// ResolveConflicts handles POST /api/v1/sync/conflicts/resolve
// Settles detected conflicts; with prefer_newer the newer side wins,
// otherwise the local copy is kept.
func ResolveConflicts(ctx rweb.Context) error {
	var input resolveConflictsInput
	if body := ctx.Request().Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &input); err != nil {
			return writeError(ctx, http.StatusBadRequest, "invalid JSON body")
		}
	}

	resolved, err := engine.ResolveConflicts(context.Background(), input.PreferNewer)
	if err != nil {
		logger.LogErr(serr.Wrap(err, "conflict resolution failed"), "resolved", resolved)
		return writeError(ctx, http.StatusBadGateway, "conflict resolution failed")
	}

	logger.Info("Conflicts resolved", "count", resolved, "prefer_newer", input.PreferNewer)
	return writeSuccess(ctx, http.StatusOK, map[string]interface{}{
		"resolved":     resolved,
		"prefer_newer": input.PreferNewer,
	})
}

// SyncStatusOutput is the full picture of the engine's sync health.
type SyncStatusOutput struct {
	StoreAvailable bool                   `json:"store_available"`
	CloudReady     bool                   `json:"cloud_ready"`
	Queue          map[string]int         `json:"queue"`
	StoreMetrics   models.MetricsSnapshot `json:"store_metrics"`
}

// GetSyncStatus handles GET /api/v1/sync/status
// Summarizes store availability, credential state, queue depth, and
// store operation metrics in one call.
func GetSyncStatus(ctx rweb.Context) error {
	out := SyncStatusOutput{
		StoreAvailable: engine.Store().Available(),
		CloudReady:     engine.HasCloudCredential(),
		StoreMetrics:   engine.Store().Metrics().Snapshot(),
	}

	queue, err := engine.QueueStats()
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to get queue stats"), "store error")
		return writeError(ctx, http.StatusInternalServerError, "failed to get sync status")
	}
	out.Queue = queue

	return writeSuccess(ctx, http.StatusOK, out)
}

package models

import (
	"context"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Sync Orchestrator
//
// Per-operation entry point sequencing the local store and the cloud
// client. The rule that shapes everything here: a remote failure never
// blocks a local write that already succeeded. Local durability is the
// contract; remote durability is best-effort, deferred to the offline
// queue when the upload fails.
// ============================================================================

// SaveStatus is the user-visible outcome channel for a save: the save
// itself succeeds whenever local persistence succeeds, and this status
// tells the UI the true remote state without blocking the workflow.
type SaveStatus string

const (
	SaveSynced    SaveStatus = "synced"     // local and remote both written
	SavePending   SaveStatus = "pending"    // no credential; queued for later
	SaveLocalOnly SaveStatus = "local-only" // remote attempt failed; queued
	SaveError     SaveStatus = "error"      // local persistence failed
)

// SaveResult reports a save's outcome.
type SaveResult struct {
	OK     bool       `json:"ok"`
	Status SaveStatus `json:"status"`
	CardID string     `json:"card_id"`
}

// SyncEngine coordinates the local store, cloud client, offline queue,
// and reconciler behind the operations the API layer consumes.
type SyncEngine struct {
	store      *LocalStore
	cloud      CloudStore
	queue      *SyncQueue
	reconciler *Reconciler
}

// NewSyncEngine wires the orchestrator over its collaborators.
func NewSyncEngine(store *LocalStore, cloud CloudStore, queue *SyncQueue, reconciler *Reconciler) *SyncEngine {
	return &SyncEngine{
		store:      store,
		cloud:      cloud,
		queue:      queue,
		reconciler: reconciler,
	}
}

// Store exposes the local store for read-only API surfaces (listing).
func (e *SyncEngine) Store() *LocalStore { return e.store }

// SaveCard persists a card locally first, then best-effort to the remote
// store. Remote failure degrades to a queued task, never an error;
// the returned status distinguishes synced / pending / local-only.
func (e *SyncEngine) SaveCard(ctx context.Context, card *Card) (SaveResult, error) {
	result := SaveResult{CardID: card.Meta.ID}

	// Create vs. update matters only for the queued operation tag
	op := TaskUpdate
	if _, err := e.store.GetCard(card.Meta.ID); IsNotFound(err) {
		op = TaskCreate
	}

	if err := e.store.PutCard(card); err != nil {
		result.Status = SaveError
		return result, serr.Wrap(err, "failed to persist card locally")
	}
	result.OK = true

	if !e.cloud.HasCredential() {
		if _, err := e.queue.Enqueue(op, card, ""); err != nil {
			logger.LogErr(err, "failed to queue offline save", "card_id", card.Meta.ID)
		}
		result.Status = SavePending
		return result, nil
	}

	content := []byte(SerializeCard(card))
	if err := e.cloud.UploadAtPath(ctx, card.RemoteName(), content, true); err != nil {
		// Degraded, not fatal: the card is durable locally and the queue
		// will push it when the remote comes back
		logger.LogErr(err, "remote upload failed, queueing task",
			"card_id", card.Meta.ID, "kind", KindOf(err).String())
		if _, qerr := e.queue.Enqueue(op, card, ""); qerr != nil {
			logger.LogErr(qerr, "failed to queue failed upload", "card_id", card.Meta.ID)
		}
		result.Status = SaveLocalOnly
		return result, nil
	}

	// Keep the cached listing coherent with what we just wrote
	if err := e.store.PutRemoteFile(RemoteFileMeta{
		Path:     "/" + card.RemoteName(),
		Name:     card.RemoteName(),
		Modified: card.Meta.Modified,
		Size:     int64(len(content)),
	}); err != nil {
		logger.LogErr(err, "failed to update remote file cache", "card_id", card.Meta.ID)
	}

	result.Status = SaveSynced
	return result, nil
}

// LoadCard returns a card, preferring the local copy when it is at least
// as fresh as the remote listing's entry. A remote download failure
// falls back to the cached copy when one exists; with no cached copy the
// card is reported absent rather than surfacing the transport failure.
func (e *SyncEngine) LoadCard(ctx context.Context, id string) (*Card, error) {
	local, err := e.store.GetCard(id)
	if err != nil && !IsNotFound(err) {
		return nil, err
	}

	meta := e.remoteMetaFor(ctx, id)
	if meta == nil {
		// Nothing known remotely: the cached copy is all there is
		if local != nil {
			return local, nil
		}
		return nil, NewError(KindNotFound, "card not found")
	}

	if local != nil && !meta.Modified.After(local.Meta.Modified) {
		return local, nil // cache hit, no network call
	}

	ref := meta.DownloadRef
	if ref == "" {
		ref = meta.Path
	}
	content, err := e.cloud.DownloadFile(ctx, ref)
	if err != nil {
		if local != nil {
			logger.LogErr(err, "download failed, serving cached copy", "card_id", id)
			return local, nil
		}
		logger.LogErr(err, "download failed with no cached copy", "card_id", id)
		return nil, WrapError(KindNotFound, err, "card not reachable and not cached")
	}

	card, err := ParseCard(string(content))
	if err != nil {
		if local != nil {
			logger.LogErr(err, "downloaded card unparseable, serving cached copy", "card_id", id)
			return local, nil
		}
		return nil, serr.Wrap(err, "downloaded card failed to parse")
	}

	card.Meta.Modified = meta.Modified
	if err := e.store.PutCard(card); err != nil {
		logger.LogErr(err, "failed to cache downloaded card", "card_id", id)
	}
	return card, nil
}

// remoteMetaFor resolves the remote listing entry for a card, consulting
// the cached listing first and refreshing it over the network only when
// the cache has no entry and a credential is configured.
func (e *SyncEngine) remoteMetaFor(ctx context.Context, id string) *RemoteFileMeta {
	name := id + ".md"

	meta, err := e.store.GetRemoteFileByName(name)
	if err == nil {
		return meta
	}
	if !IsNotFound(err) {
		logger.LogErr(err, "remote file cache lookup failed", "name", name)
		return nil
	}

	if !e.cloud.HasCredential() {
		return nil
	}
	files, err := e.cloud.ListFiles(ctx)
	if err != nil {
		logger.LogErr(err, "remote listing refresh failed", "name", name)
		return nil
	}
	for i := range files {
		if files[i].Name == name {
			return &files[i]
		}
	}
	return nil
}

// DeleteCard removes a card locally and best-effort remotely, queueing
// a delete task when the remote call fails.
func (e *SyncEngine) DeleteCard(ctx context.Context, id string) (SaveResult, error) {
	result := SaveResult{CardID: id}

	if err := e.store.DeleteCard(id); err != nil {
		result.Status = SaveError
		return result, serr.Wrap(err, "failed to delete card locally")
	}
	result.OK = true

	if !e.cloud.HasCredential() {
		if _, err := e.queue.Enqueue(TaskDelete, nil, id); err != nil {
			logger.LogErr(err, "failed to queue offline delete", "card_id", id)
		}
		result.Status = SavePending
		return result, nil
	}

	if err := e.cloud.DeleteFile(ctx, id+".md"); err != nil {
		logger.LogErr(err, "remote delete failed, queueing task", "card_id", id)
		if _, qerr := e.queue.Enqueue(TaskDelete, nil, id); qerr != nil {
			logger.LogErr(qerr, "failed to queue failed delete", "card_id", id)
		}
		result.Status = SaveLocalOnly
		return result, nil
	}

	if err := e.store.DeleteRemoteFile("/" + id + ".md"); err != nil {
		logger.LogErr(err, "failed to drop cached remote meta", "card_id", id)
	}
	result.Status = SaveSynced
	return result, nil
}

// ListCards returns the local card set.
func (e *SyncEngine) ListCards() ([]Card, error) {
	return e.store.ListCards()
}

// ListRemoteFiles returns the remote listing, refreshing the local cache
// as a side effect of the client call.
func (e *SyncEngine) ListRemoteFiles(ctx context.Context) ([]RemoteFileMeta, error) {
	return e.cloud.ListFiles(ctx)
}

// QueueStats returns offline queue depth per lifecycle state.
func (e *SyncEngine) QueueStats() (map[string]int, error) {
	return e.queue.Stats()
}

// ProcessQueue drains the offline queue now.
func (e *SyncEngine) ProcessQueue(ctx context.Context) (ProcessStats, error) {
	return e.queue.ProcessAll(ctx)
}

// RetryTask resets a failed queue task for another drain.
func (e *SyncEngine) RetryTask(id string) error {
	if err := e.queue.RetryTask(id); err != nil {
		return err
	}
	e.queue.Kick()
	return nil
}

// TriggerReconciliation runs one reconciliation pass now.
func (e *SyncEngine) TriggerReconciliation(ctx context.Context) (ReconcileStats, error) {
	return e.reconciler.RunOnce(ctx)
}

// DetectConflicts classifies current local/remote divergence.
func (e *SyncEngine) DetectConflicts(ctx context.Context) ([]Conflict, error) {
	return e.reconciler.DetectConflicts(ctx)
}

// ResolveConflicts settles detected conflicts. With preferNewer the newer
// side wins; otherwise the local copy is kept unconditionally.
func (e *SyncEngine) ResolveConflicts(ctx context.Context, preferNewer bool) (int, error) {
	return e.reconciler.ResolveConflicts(ctx, preferNewer)
}

// HasCloudCredential reports whether a remote credential is configured.
func (e *SyncEngine) HasCloudCredential() bool {
	return e.cloud.HasCredential()
}

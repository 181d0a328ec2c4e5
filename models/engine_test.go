package models

import (
	"context"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) (*SyncEngine, *LocalStore, *fakeCloud) {
	t.Helper()
	store := newTestStore(t)
	cloud := newFakeCloud()
	queue := NewSyncQueue(store, cloud)
	rec := NewReconciler(store, cloud)
	return NewSyncEngine(store, cloud, queue, rec), store, cloud
}

// TestSaveCardSynced verifies the happy path: local write, remote
// upload, and a coherent cached listing entry.
func TestSaveCardSynced(t *testing.T) {
	engine, store, cloud := newTestEngine(t)

	card := testCard("Synced Save")
	result, err := engine.SaveCard(context.Background(), card)
	if err != nil {
		t.Fatalf("SaveCard() unexpected error: %v", err)
	}
	if !result.OK || result.Status != SaveSynced {
		t.Errorf("result = %+v, want OK synced", result)
	}

	if _, err := store.GetCard(card.Meta.ID); err != nil {
		t.Errorf("card not persisted locally: %v", err)
	}
	if _, ok := cloud.uploads["upload://"+card.RemoteName()]; !ok {
		t.Errorf("card not uploaded, have %v", cloud.uploadedPaths())
	}

	meta, err := store.GetRemoteFileByName(card.RemoteName())
	if err != nil {
		t.Fatalf("cached listing entry missing: %v", err)
	}
	if delta := meta.Modified.Sub(card.Meta.Modified); delta > time.Millisecond || delta < -time.Millisecond {
		t.Errorf("cached modified = %v, want ~%v", meta.Modified, card.Meta.Modified)
	}
}

// TestSaveCardIdempotent verifies saving unchanged content twice leaves
// the stored card identical.
func TestSaveCardIdempotent(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	card := testCard("Idempotent")
	if _, err := engine.SaveCard(context.Background(), card); err != nil {
		t.Fatalf("SaveCard() first unexpected error: %v", err)
	}
	first, err := store.GetCard(card.Meta.ID)
	if err != nil {
		t.Fatalf("GetCard() unexpected error: %v", err)
	}

	if _, err := engine.SaveCard(context.Background(), card); err != nil {
		t.Fatalf("SaveCard() second unexpected error: %v", err)
	}
	second, err := store.GetCard(card.Meta.ID)
	if err != nil {
		t.Fatalf("GetCard() unexpected error: %v", err)
	}

	if !first.Meta.Modified.Equal(second.Meta.Modified) {
		t.Errorf("modified changed: %v -> %v", first.Meta.Modified, second.Meta.Modified)
	}
	if first.Title != second.Title {
		t.Errorf("title changed: %q -> %q", first.Title, second.Title)
	}
}

// TestSaveCardNoCredentialQueues verifies the offline path: pending
// status with a queued create task.
func TestSaveCardNoCredentialQueues(t *testing.T) {
	engine, store, cloud := newTestEngine(t)
	cloud.credential = false

	card := testCard("Offline Save")
	result, err := engine.SaveCard(context.Background(), card)
	if err != nil {
		t.Fatalf("SaveCard() unexpected error: %v", err)
	}
	if !result.OK || result.Status != SavePending {
		t.Errorf("result = %+v, want OK pending", result)
	}

	pending, _ := store.ListPendingTasks()
	if len(pending) != 1 {
		t.Fatalf("pending tasks = %d, want 1", len(pending))
	}
	if pending[0].Operation != TaskCreate {
		t.Errorf("operation = %q, want create", pending[0].Operation)
	}
}

// TestSaveCardUploadFailureDegrades verifies a remote failure yields
// local-only (not an error) with a queued task.
func TestSaveCardUploadFailureDegrades(t *testing.T) {
	engine, store, cloud := newTestEngine(t)
	cloud.uploadErr = NewError(KindNetwork, "remote down")

	card := testCard("Degraded Save")
	result, err := engine.SaveCard(context.Background(), card)
	if err != nil {
		t.Fatalf("SaveCard() unexpected error: %v", err)
	}
	if !result.OK || result.Status != SaveLocalOnly {
		t.Errorf("result = %+v, want OK local-only", result)
	}

	if _, err := store.GetCard(card.Meta.ID); err != nil {
		t.Errorf("card not persisted locally: %v", err)
	}
	pending, _ := store.ListPendingTasks()
	if len(pending) != 1 {
		t.Errorf("pending tasks = %d, want 1", len(pending))
	}
}

// TestSaveCardLocalFailure verifies a dead store fails the save
// outright.
func TestSaveCardLocalFailure(t *testing.T) {
	store := NewUnavailableStore(NewMetrics("dead"))
	cloud := newFakeCloud()
	engine := NewSyncEngine(store, cloud, NewSyncQueue(store, cloud), NewReconciler(store, cloud))

	result, err := engine.SaveCard(context.Background(), testCard("Doomed"))
	if err == nil {
		t.Fatal("SaveCard() expected error, got nil")
	}
	if result.OK || result.Status != SaveError {
		t.Errorf("result = %+v, want not-OK error status", result)
	}
}

// TestSaveCardSecondSaveIsUpdate verifies the queued operation tag
// flips from create to update once the card exists locally.
func TestSaveCardSecondSaveIsUpdate(t *testing.T) {
	engine, store, cloud := newTestEngine(t)
	cloud.credential = false

	card := testCard("Tagged")
	if _, err := engine.SaveCard(context.Background(), card); err != nil {
		t.Fatalf("SaveCard() first unexpected error: %v", err)
	}
	card.Touch()
	if _, err := engine.SaveCard(context.Background(), card); err != nil {
		t.Fatalf("SaveCard() second unexpected error: %v", err)
	}

	pending, _ := store.ListPendingTasks()
	if len(pending) != 2 {
		t.Fatalf("pending tasks = %d, want 2", len(pending))
	}
	if pending[0].Operation != TaskCreate || pending[1].Operation != TaskUpdate {
		t.Errorf("operations = %q,%q, want create,update",
			pending[0].Operation, pending[1].Operation)
	}
}

// TestLoadCardCacheHit verifies a fresh local copy is served without
// touching the network.
func TestLoadCardCacheHit(t *testing.T) {
	engine, store, cloud := newTestEngine(t)

	card := testCard("Cached")
	card.Meta.Modified = time.Now()
	if err := store.PutCard(card); err != nil {
		t.Fatalf("PutCard() unexpected error: %v", err)
	}
	// Cached listing entry no newer than the local copy
	if err := store.PutRemoteFile(RemoteFileMeta{
		Path:     "/" + card.RemoteName(),
		Name:     card.RemoteName(),
		Modified: card.Meta.Modified.Add(-time.Minute),
		Size:     1,
	}); err != nil {
		t.Fatalf("PutRemoteFile() unexpected error: %v", err)
	}
	// Any network call would fail loudly
	cloud.downloadErr = NewError(KindNetwork, "should not be called")
	cloud.listErr = NewError(KindNetwork, "should not be called")

	got, err := engine.LoadCard(context.Background(), card.Meta.ID)
	if err != nil {
		t.Fatalf("LoadCard() unexpected error: %v", err)
	}
	if got.Title != "Cached" {
		t.Errorf("title = %q, want Cached", got.Title)
	}
}

// TestLoadCardRemoteNewerDownloads verifies a staler local copy is
// refreshed from the remote.
func TestLoadCardRemoteNewerDownloads(t *testing.T) {
	engine, store, cloud := newTestEngine(t)

	card := testCard("Stale")
	card.Meta.Modified = time.Now().Add(-time.Hour)
	if err := store.PutCard(card); err != nil {
		t.Fatalf("PutCard() unexpected error: %v", err)
	}

	remote := card.Clone()
	remote.Title = "Refreshed"
	cloud.addRemoteCard(remote, time.Now())

	got, err := engine.LoadCard(context.Background(), card.Meta.ID)
	if err != nil {
		t.Fatalf("LoadCard() unexpected error: %v", err)
	}
	if got.Title != "Refreshed" {
		t.Errorf("title = %q, want Refreshed", got.Title)
	}

	// The refreshed copy was cached locally
	stored, _ := store.GetCard(card.Meta.ID)
	if stored.Title != "Refreshed" {
		t.Errorf("stored title = %q, want Refreshed", stored.Title)
	}
}

// TestLoadCardDownloadFailureFallsBack verifies the cached copy is
// served when the download fails.
func TestLoadCardDownloadFailureFallsBack(t *testing.T) {
	engine, store, cloud := newTestEngine(t)

	card := testCard("Fallback")
	card.Meta.Modified = time.Now().Add(-time.Hour)
	if err := store.PutCard(card); err != nil {
		t.Fatalf("PutCard() unexpected error: %v", err)
	}
	remote := card.Clone()
	cloud.addRemoteCard(remote, time.Now())
	cloud.downloadErr = NewError(KindNetwork, "download down")

	got, err := engine.LoadCard(context.Background(), card.Meta.ID)
	if err != nil {
		t.Fatalf("LoadCard() unexpected error: %v", err)
	}
	if got.Title != "Fallback" {
		t.Errorf("title = %q, want the cached copy", got.Title)
	}
}

// TestLoadCardDownloadFailureNoCacheAbsent verifies a failed download
// with no cached copy reports the card absent, not a transport error.
func TestLoadCardDownloadFailureNoCacheAbsent(t *testing.T) {
	engine, _, cloud := newTestEngine(t)

	remote := testCard("Remote Only")
	cloud.addRemoteCard(remote, time.Now())
	cloud.downloadErr = NewError(KindNetwork, "download down")

	if _, err := engine.LoadCard(context.Background(), remote.Meta.ID); !IsNotFound(err) {
		t.Errorf("LoadCard() error = %v, want not-found", err)
	}
}

// TestLoadCardNotFound verifies a miss on both sides reports not-found.
func TestLoadCardNotFound(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	if _, err := engine.LoadCard(context.Background(), "no-such-card"); !IsNotFound(err) {
		t.Errorf("LoadCard() error = %v, want not-found", err)
	}
}

// TestDeleteCardSynced verifies local delete plus remote delete plus
// cache cleanup.
func TestDeleteCardSynced(t *testing.T) {
	engine, store, cloud := newTestEngine(t)

	card := testCard("Doomed")
	if _, err := engine.SaveCard(context.Background(), card); err != nil {
		t.Fatalf("SaveCard() unexpected error: %v", err)
	}

	result, err := engine.DeleteCard(context.Background(), card.Meta.ID)
	if err != nil {
		t.Fatalf("DeleteCard() unexpected error: %v", err)
	}
	if !result.OK || result.Status != SaveSynced {
		t.Errorf("result = %+v, want OK synced", result)
	}

	if _, err := store.GetCard(card.Meta.ID); !IsNotFound(err) {
		t.Errorf("local copy error = %v, want not-found", err)
	}
	if len(cloud.deletes) != 1 || cloud.deletes[0] != card.RemoteName() {
		t.Errorf("deletes = %v, want [%s]", cloud.deletes, card.RemoteName())
	}
	if _, err := store.GetRemoteFileByName(card.RemoteName()); !IsNotFound(err) {
		t.Errorf("cached listing entry error = %v, want not-found", err)
	}
}

// TestDeleteCardRemoteFailureQueues verifies the delete degrades to a
// queued task on remote failure.
func TestDeleteCardRemoteFailureQueues(t *testing.T) {
	engine, store, cloud := newTestEngine(t)

	card := testCard("Sticky")
	if _, err := engine.SaveCard(context.Background(), card); err != nil {
		t.Fatalf("SaveCard() unexpected error: %v", err)
	}
	cloud.deleteErr = NewError(KindNetwork, "remote down")

	result, err := engine.DeleteCard(context.Background(), card.Meta.ID)
	if err != nil {
		t.Fatalf("DeleteCard() unexpected error: %v", err)
	}
	if !result.OK || result.Status != SaveLocalOnly {
		t.Errorf("result = %+v, want OK local-only", result)
	}

	pending, _ := store.ListPendingTasks()
	if len(pending) != 1 || pending[0].Operation != TaskDelete {
		t.Fatalf("pending = %+v, want one delete task", pending)
	}
	if pending[0].CardID != card.Meta.ID {
		t.Errorf("task card id = %q, want %q", pending[0].CardID, card.Meta.ID)
	}
}

// TestQueueStatsThroughEngine verifies all four lifecycle states are
// always present in the stats map.
func TestQueueStatsThroughEngine(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	stats, err := engine.QueueStats()
	if err != nil {
		t.Fatalf("QueueStats() unexpected error: %v", err)
	}
	for _, st := range []TaskStatus{TaskPending, TaskProcessing, TaskCompleted, TaskFailed} {
		if _, ok := stats[string(st)]; !ok {
			t.Errorf("stats missing state %q", st)
		}
	}
}

package models

import (
	"testing"
	"time"
)

// TestStoreCardCRUD exercises the card table end to end.
func TestStoreCardCRUD(t *testing.T) {
	store := newTestStore(t)

	card := testCard("Grocery Run")
	if err := store.PutCard(card); err != nil {
		t.Fatalf("PutCard() unexpected error: %v", err)
	}

	got, err := store.GetCard(card.Meta.ID)
	if err != nil {
		t.Fatalf("GetCard() unexpected error: %v", err)
	}
	if got.Title != card.Title {
		t.Errorf("title = %q, want %q", got.Title, card.Title)
	}
	if got.Description != card.Description {
		t.Errorf("description = %q, want %q", got.Description, card.Description)
	}
	if len(got.Sections) != len(card.Sections) {
		t.Fatalf("sections = %d, want %d", len(got.Sections), len(card.Sections))
	}
	if got.Sections[1].Items[1].Checked != true {
		t.Error("checklist state lost across the msgpack round trip")
	}

	// Upsert replaces in place
	card.Title = "Grocery Run v2"
	card.Touch()
	if err := store.PutCard(card); err != nil {
		t.Fatalf("PutCard() upsert unexpected error: %v", err)
	}
	got, err = store.GetCard(card.Meta.ID)
	if err != nil {
		t.Fatalf("GetCard() after upsert unexpected error: %v", err)
	}
	if got.Title != "Grocery Run v2" {
		t.Errorf("title after upsert = %q, want %q", got.Title, "Grocery Run v2")
	}

	if err := store.DeleteCard(card.Meta.ID); err != nil {
		t.Fatalf("DeleteCard() unexpected error: %v", err)
	}
	if _, err := store.GetCard(card.Meta.ID); !IsNotFound(err) {
		t.Errorf("GetCard() after delete error = %v, want not-found", err)
	}

	// Deletes are idempotent
	if err := store.DeleteCard(card.Meta.ID); err != nil {
		t.Errorf("DeleteCard() second call unexpected error: %v", err)
	}
}

// TestStoreListCardsOrder verifies newest-modified-first ordering.
func TestStoreListCardsOrder(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i, title := range []string{"oldest", "middle", "newest"} {
		card := NewCard(title)
		card.Meta.Modified = base.Add(time.Duration(i) * time.Minute)
		if err := store.PutCard(card); err != nil {
			t.Fatalf("PutCard(%q) unexpected error: %v", title, err)
		}
	}

	cards, err := store.ListCards()
	if err != nil {
		t.Fatalf("ListCards() unexpected error: %v", err)
	}
	if len(cards) != 3 {
		t.Fatalf("cards = %d, want 3", len(cards))
	}
	want := []string{"newest", "middle", "oldest"}
	for i, w := range want {
		if cards[i].Title != w {
			t.Errorf("cards[%d].Title = %q, want %q", i, cards[i].Title, w)
		}
	}
}

// TestStoreRemoteFilesCache exercises the cached remote listing.
func TestStoreRemoteFilesCache(t *testing.T) {
	store := newTestStore(t)

	metas := []RemoteFileMeta{
		{Path: "/a.md", Name: "a.md", Modified: time.Now().Add(-time.Hour), Size: 10},
		{Path: "/b.md", Name: "b.md", Modified: time.Now(), Size: 20, ETag: "v2", DownloadRef: "ref-b"},
	}
	if err := store.ReplaceRemoteFiles(metas); err != nil {
		t.Fatalf("ReplaceRemoteFiles() unexpected error: %v", err)
	}

	got, err := store.GetRemoteFileByName("b.md")
	if err != nil {
		t.Fatalf("GetRemoteFileByName() unexpected error: %v", err)
	}
	if got.ETag != "v2" || got.DownloadRef != "ref-b" {
		t.Errorf("meta = %+v, want etag v2 / ref-b", got)
	}

	// Replace swaps the whole listing
	if err := store.ReplaceRemoteFiles([]RemoteFileMeta{metas[1]}); err != nil {
		t.Fatalf("ReplaceRemoteFiles() swap unexpected error: %v", err)
	}
	if _, err := store.GetRemoteFileByName("a.md"); !IsNotFound(err) {
		t.Errorf("stale entry error = %v, want not-found", err)
	}

	listed, err := store.ListCachedRemoteFiles()
	if err != nil {
		t.Fatalf("ListCachedRemoteFiles() unexpected error: %v", err)
	}
	if len(listed) != 1 || listed[0].Name != "b.md" {
		t.Errorf("listing = %+v, want just b.md", listed)
	}

	if err := store.DeleteRemoteFile("/b.md"); err != nil {
		t.Fatalf("DeleteRemoteFile() unexpected error: %v", err)
	}
	if _, err := store.GetRemoteFileByName("b.md"); !IsNotFound(err) {
		t.Errorf("deleted entry error = %v, want not-found", err)
	}
}

// TestStoreQueueLifecycle walks a task through every lifecycle state.
func TestStoreQueueLifecycle(t *testing.T) {
	store := newTestStore(t)

	card := testCard("Queued")
	task := &SyncTask{
		ID:         "task-1",
		Operation:  TaskUpdate,
		Card:       card,
		CardID:     card.Meta.ID,
		EnqueuedAt: time.Now(),
		Status:     TaskPending,
	}
	if err := store.EnqueueTask(task); err != nil {
		t.Fatalf("EnqueueTask() unexpected error: %v", err)
	}

	pending, err := store.ListPendingTasks()
	if err != nil {
		t.Fatalf("ListPendingTasks() unexpected error: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if pending[0].Card == nil || pending[0].Card.Title != "Queued" {
		t.Errorf("task card = %+v, want title Queued", pending[0].Card)
	}

	// Failure returns the task to pending with a bumped attempt count
	if err := store.RecordTaskFailure("task-1"); err != nil {
		t.Fatalf("RecordTaskFailure() unexpected error: %v", err)
	}
	got, err := store.GetTask("task-1")
	if err != nil {
		t.Fatalf("GetTask() unexpected error: %v", err)
	}
	if got.Attempts != 1 || got.Status != TaskPending {
		t.Errorf("task = attempts %d status %s, want 1/pending", got.Attempts, got.Status)
	}

	if err := store.UpdateTaskStatus("task-1", TaskFailed); err != nil {
		t.Fatalf("UpdateTaskStatus() unexpected error: %v", err)
	}
	pending, _ = store.ListPendingTasks()
	if len(pending) != 0 {
		t.Errorf("pending after fail = %d, want 0", len(pending))
	}

	// Manual retry zeroes attempts
	if err := store.ResetTask("task-1"); err != nil {
		t.Fatalf("ResetTask() unexpected error: %v", err)
	}
	got, _ = store.GetTask("task-1")
	if got.Attempts != 0 || got.Status != TaskPending {
		t.Errorf("task after reset = attempts %d status %s, want 0/pending", got.Attempts, got.Status)
	}

	counts, err := store.CountTasksByStatus()
	if err != nil {
		t.Fatalf("CountTasksByStatus() unexpected error: %v", err)
	}
	if counts[string(TaskPending)] != 1 {
		t.Errorf("pending count = %d, want 1", counts[string(TaskPending)])
	}

	if err := store.UpdateTaskStatus("task-1", TaskCompleted); err != nil {
		t.Fatalf("UpdateTaskStatus() unexpected error: %v", err)
	}
	if err := store.ClearTasks(TaskCompleted); err != nil {
		t.Fatalf("ClearTasks() unexpected error: %v", err)
	}
	if _, err := store.GetTask("task-1"); !IsNotFound(err) {
		t.Errorf("cleared task error = %v, want not-found", err)
	}
}

// TestStoreTaskNotFound verifies status transitions on unknown tasks
// fail with the not-found kind.
func TestStoreTaskNotFound(t *testing.T) {
	store := newTestStore(t)

	if err := store.UpdateTaskStatus("ghost", TaskCompleted); !IsNotFound(err) {
		t.Errorf("UpdateTaskStatus(ghost) error = %v, want not-found", err)
	}
	if err := store.ResetTask("ghost"); !IsNotFound(err) {
		t.Errorf("ResetTask(ghost) error = %v, want not-found", err)
	}
	if _, err := store.GetTask("ghost"); !IsNotFound(err) {
		t.Errorf("GetTask(ghost) error = %v, want not-found", err)
	}
}

// TestUnavailableStore verifies the null-object store fails every
// operation with the store-unavailable kind and no panic.
func TestUnavailableStore(t *testing.T) {
	store := NewUnavailableStore(NewMetrics("unavailable"))

	if store.Available() {
		t.Error("Available() = true, want false")
	}

	if err := store.PutCard(testCard("nope")); KindOf(err) != KindStoreUnavailable {
		t.Errorf("PutCard() kind = %v, want store_unavailable", KindOf(err))
	}
	if _, err := store.GetCard("x"); KindOf(err) != KindStoreUnavailable {
		t.Errorf("GetCard() kind = %v, want store_unavailable", KindOf(err))
	}
	if _, err := store.ListCards(); KindOf(err) != KindStoreUnavailable {
		t.Errorf("ListCards() kind = %v, want store_unavailable", KindOf(err))
	}
	if _, err := store.ListPendingTasks(); KindOf(err) != KindStoreUnavailable {
		t.Errorf("ListPendingTasks() kind = %v, want store_unavailable", KindOf(err))
	}
	if err := store.Close(); err != nil {
		t.Errorf("Close() unexpected error: %v", err)
	}
}

// TestStoreMetricsRecorded verifies operations flow through the metrics
// sink, including failures.
func TestStoreMetricsRecorded(t *testing.T) {
	store := newTestStore(t)

	_ = store.PutCard(testCard("metered"))
	_, _ = store.GetCard("missing-id")

	snap := store.Metrics().Snapshot()
	if snap.Operations < 2 {
		t.Errorf("operations = %d, want >= 2", snap.Operations)
	}
	if snap.Errors < 1 {
		t.Errorf("errors = %d, want >= 1", snap.Errors)
	}
}

// TestStoreCardClonesIndependent verifies two reads of the same card do
// not share section slices.
func TestStoreCardClonesIndependent(t *testing.T) {
	store := newTestStore(t)

	card := testCard("Shared?")
	if err := store.PutCard(card); err != nil {
		t.Fatalf("PutCard() unexpected error: %v", err)
	}

	a, err := store.GetCard(card.Meta.ID)
	if err != nil {
		t.Fatalf("GetCard() unexpected error: %v", err)
	}
	b, err := store.GetCard(card.Meta.ID)
	if err != nil {
		t.Fatalf("GetCard() unexpected error: %v", err)
	}

	a.Sections[0].Items[0].Text = "mutated"
	if b.Sections[0].Items[0].Text == "mutated" {
		t.Error("two reads share a section slice")
	}
}

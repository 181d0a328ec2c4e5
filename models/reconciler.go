package models

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// ============================================================================
// Reconciler (cache manager)
//
// Periodic reconciliation between the local store and the remote listing:
//
//   - local card with no remote counterpart: evict only when the card is
//     older than the validation window AND no remote filename contains
//     its id. The asymmetric threshold protects cards created locally
//     but not yet pushed; the substring guard protects against
//     rename/race false positives.
//   - remote strictly newer: download and overwrite local.
//   - remote with no local counterpart: download and insert (first sync).
//
// A listing failure aborts the whole pass; the next scheduled pass
// retries. Per-file failures are logged and the pass continues; partial
// progress is acceptable. Passes are mutually exclusive via an atomic
// guard (a scheduled pass is skipped, not queued) but run concurrently
// with orchestrator saves and queue drains, so the remote-wins rule must
// stay idempotent under racing local writes.
// ============================================================================

// defaultValidationWindow is the minimum local card age before eviction
// for lacking a remote counterpart may be considered.
const defaultValidationWindow = 7 * 24 * time.Hour

// sameTimeTolerance absorbs clock-skew noise: local/remote modification
// times within this distance are treated as the same instant.
const sameTimeTolerance = 1000 * time.Millisecond

// defaultReconcileInterval spaces the background passes.
const defaultReconcileInterval = 5 * time.Minute

// ConflictClass buckets a local/remote pair by modification time.
type ConflictClass string

const (
	ConflictLocalNewer  ConflictClass = "localNewer"
	ConflictRemoteNewer ConflictClass = "remoteNewer"
	ConflictSameTime    ConflictClass = "sameTime"
)

// Conflict describes one diverged local/remote pair.
type Conflict struct {
	CardID         string        `json:"card_id"`
	Classification ConflictClass `json:"classification"`
	LocalModified  time.Time     `json:"local_modified"`
	RemoteModified time.Time     `json:"remote_modified"`
}

// ReconcileStats summarizes one pass.
type ReconcileStats struct {
	LocalCards   int  `json:"local_cards"`
	RemoteFiles  int  `json:"remote_files"`
	Downloaded   int  `json:"downloaded"`
	Evicted      int  `json:"evicted"`
	FileFailures int  `json:"file_failures"`
	Skipped      bool `json:"skipped"`
}

// Reconciler runs reconciliation passes between store and cloud.
type Reconciler struct {
	store            *LocalStore
	cloud            CloudStore
	validationWindow time.Duration
	interval         time.Duration
	inFlight         atomic.Bool
	cancel           context.CancelFunc

	// now is swapped out in tests to pin the validation window edge.
	now func() time.Time
}

// NewReconciler creates a reconciler with the default validation window.
func NewReconciler(store *LocalStore, cloud CloudStore) *Reconciler {
	return &Reconciler{
		store:            store,
		cloud:            cloud,
		validationWindow: defaultValidationWindow,
		interval:         defaultReconcileInterval,
		now:              time.Now,
	}
}

// SetInterval overrides the pass interval. Call before Start.
func (r *Reconciler) SetInterval(d time.Duration) {
	if d > 0 {
		r.interval = d
	}
}

// SetValidationWindow overrides the minimum age before a locally cached
// card with no remote counterpart may be evicted.
func (r *Reconciler) SetValidationWindow(d time.Duration) {
	if d > 0 {
		r.validationWindow = d
	}
}

// RunOnce executes a single reconciliation pass.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileStats, error) {
	var stats ReconcileStats

	if !r.inFlight.CompareAndSwap(false, true) {
		logger.Info("Reconciliation already running, skipping pass")
		stats.Skipped = true
		return stats, nil
	}
	defer r.inFlight.Store(false)

	// No credential means no remote to reconcile against
	if !r.cloud.HasCredential() {
		logger.Debug("No cloud credential configured, skipping reconciliation")
		stats.Skipped = true
		return stats, nil
	}

	cards, err := r.store.ListCards()
	if err != nil {
		return stats, serr.Wrap(err, "reconciliation failed to list local cards")
	}
	files, err := r.cloud.ListFiles(ctx)
	if err != nil {
		// Listing failure aborts the pass; the next scheduled run retries
		return stats, serr.Wrap(err, "reconciliation failed to list remote files")
	}
	stats.LocalCards = len(cards)
	stats.RemoteFiles = len(files)

	byName := make(map[string]RemoteFileMeta, len(files))
	for _, f := range files {
		byName[f.Name] = f
	}

	localByID := make(map[string]struct{}, len(cards))
	now := r.now()

	for i := range cards {
		card := &cards[i]
		localByID[card.Meta.ID] = struct{}{}

		remote, ok := byName[card.RemoteName()]
		if !ok {
			if r.shouldEvict(card, files, now) {
				if err := r.store.DeleteCard(card.Meta.ID); err != nil {
					logger.LogErr(err, "failed to evict stale card", "card_id", card.Meta.ID)
					stats.FileFailures++
					continue
				}
				stats.Evicted++
				logger.Info("Evicted card absent from remote",
					"card_id", card.Meta.ID,
					"modified", card.Meta.Modified.Format(time.RFC3339),
				)
			}
			continue
		}

		// Remote wins only when strictly newer
		if remote.Modified.After(card.Meta.Modified) {
			if err := r.downloadIntoStore(ctx, remote); err != nil {
				logger.LogErr(err, "failed to refresh stale card",
					"card_id", card.Meta.ID)
				stats.FileFailures++
				continue
			}
			stats.Downloaded++
		}
	}

	// Remote files with no local counterpart: first-sync import
	for _, f := range files {
		id := CardIDFromFileName(f.Name)
		if id == "" {
			continue
		}
		if _, ok := localByID[id]; ok {
			continue
		}
		if err := r.downloadIntoStore(ctx, f); err != nil {
			logger.LogErr(err, "failed to import remote card", "name", f.Name)
			stats.FileFailures++
			continue
		}
		stats.Downloaded++
	}

	logger.Info("Reconciliation pass complete",
		"local_cards", stats.LocalCards,
		"remote_files", stats.RemoteFiles,
		"downloaded", stats.Downloaded,
		"evicted", stats.Evicted,
		"file_failures", stats.FileFailures,
	)
	return stats, nil
}

// shouldEvict applies the eviction rule for a card with no remote
// counterpart: old enough to be outside the validation window, and no
// remote filename contains the card id (rename/race guard).
func (r *Reconciler) shouldEvict(card *Card, files []RemoteFileMeta, now time.Time) bool {
	if now.Sub(card.Meta.Modified) <= r.validationWindow {
		return false
	}
	for _, f := range files {
		if strings.Contains(f.Name, card.Meta.ID) {
			return false
		}
	}
	return true
}

// downloadIntoStore fetches one remote file, parses it, and overwrites
// the local copy. The remote listing's modified time is authoritative
// for the stored card so subsequent comparisons are stable.
func (r *Reconciler) downloadIntoStore(ctx context.Context, meta RemoteFileMeta) error {
	ref := meta.DownloadRef
	if ref == "" {
		ref = meta.Path
	}

	content, err := r.cloud.DownloadFile(ctx, ref)
	if err != nil {
		return serr.Wrap(err, "download failed")
	}
	card, err := ParseCard(string(content))
	if err != nil {
		return serr.Wrap(err, "downloaded card failed to parse")
	}

	card.Meta.Modified = meta.Modified
	return r.store.PutCard(card)
}

// DetectConflicts classifies every local/remote pair by modification
// time. Callable independently of a reconciliation pass.
func (r *Reconciler) DetectConflicts(ctx context.Context) ([]Conflict, error) {
	cards, err := r.store.ListCards()
	if err != nil {
		return nil, serr.Wrap(err, "conflict detection failed to list local cards")
	}
	files, err := r.cloud.ListFiles(ctx)
	if err != nil {
		return nil, serr.Wrap(err, "conflict detection failed to list remote files")
	}

	byName := make(map[string]RemoteFileMeta, len(files))
	for _, f := range files {
		byName[f.Name] = f
	}

	var conflicts []Conflict
	for i := range cards {
		card := &cards[i]
		remote, ok := byName[card.RemoteName()]
		if !ok {
			continue
		}
		conflicts = append(conflicts, Conflict{
			CardID:         card.Meta.ID,
			Classification: classifyTimes(card.Meta.Modified, remote.Modified),
			LocalModified:  card.Meta.Modified,
			RemoteModified: remote.Modified,
		})
	}
	return conflicts, nil
}

// classifyTimes buckets a timestamp pair, absorbing clock skew within
// the tolerance as sameTime.
func classifyTimes(local, remote time.Time) ConflictClass {
	delta := local.Sub(remote)
	if delta < 0 {
		delta = -delta
	}
	if delta <= sameTimeTolerance {
		return ConflictSameTime
	}
	if local.After(remote) {
		return ConflictLocalNewer
	}
	return ConflictRemoteNewer
}

// ResolveConflicts copies the newer side's content over the other for
// every diverged pair. sameTime pairs are left untouched. With
// preferNewer false, the local copy wins every diverged pair instead:
// the "restore from this device" escape hatch.
// Each resolution is recorded in the conflict audit log with a compact
// content diff.
func (r *Reconciler) ResolveConflicts(ctx context.Context, preferNewer bool) (int, error) {
	conflicts, err := r.DetectConflicts(ctx)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, c := range conflicts {
		if c.Classification == ConflictSameTime {
			continue
		}

		remoteWins := preferNewer && c.Classification == ConflictRemoteNewer
		if err := r.resolveOne(ctx, c, remoteWins); err != nil {
			logger.LogErr(err, "failed to resolve conflict", "card_id", c.CardID)
			continue
		}
		resolved++
	}
	return resolved, nil
}

func (r *Reconciler) resolveOne(ctx context.Context, c Conflict, remoteWins bool) error {
	local, err := r.store.GetCard(c.CardID)
	if err != nil {
		return serr.Wrap(err, "failed to load local side of conflict")
	}
	meta, err := r.store.GetRemoteFileByName(c.CardID + ".md")
	if err != nil {
		return serr.Wrap(err, "failed to load remote meta of conflict")
	}

	ref := meta.DownloadRef
	if ref == "" {
		ref = meta.Path
	}
	remoteContent, err := r.cloud.DownloadFile(ctx, ref)
	if err != nil {
		return serr.Wrap(err, "failed to download remote side of conflict")
	}

	localText := SerializeCard(local)
	resolution := "local_wins"

	if remoteWins {
		card, err := ParseCard(string(remoteContent))
		if err != nil {
			return serr.Wrap(err, "remote side of conflict failed to parse")
		}
		card.Meta.Modified = meta.Modified
		if err := r.store.PutCard(card); err != nil {
			return serr.Wrap(err, "failed to write winning remote copy")
		}
		resolution = "remote_wins"
	} else {
		if err := r.cloud.UploadAtPath(ctx, local.RemoteName(), []byte(localText), true); err != nil {
			return serr.Wrap(err, "failed to upload winning local copy")
		}
	}

	r.store.InsertConflictRecord(
		c.CardID,
		string(c.Classification),
		resolution,
		diffSummary(localText, string(remoteContent)),
		c.LocalModified,
		c.RemoteModified,
	)

	logger.Info("Conflict resolved",
		"card_id", c.CardID,
		"classification", string(c.Classification),
		"resolution", resolution,
	)
	return nil
}

// diffSummary condenses the divergence between the two serialized
// documents for the audit log: counts, not full content, so the log
// stays small even for large cards.
func diffSummary(local, remote string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(local, remote, false)

	var inserted, deleted, hunks int
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			inserted += len(d.Text)
			hunks++
		case diffmatchpatch.DiffDelete:
			deleted += len(d.Text)
			hunks++
		}
	}
	return fmt.Sprintf("+%d/-%d chars in %d hunks", inserted, deleted, hunks)
}

// Start launches the periodic reconciliation loop.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.RunOnce(ctx); err != nil {
					logger.LogErr(err, "reconciliation pass failed")
				}
			}
		}
	}()
	logger.Info("Reconciler started",
		"interval", r.interval.String(),
		"validation_window", r.validationWindow.String(),
	)
}

// Stop shuts the background loop down.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

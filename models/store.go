package models

import (
	"database/sql"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
	"github.com/vmihailenco/msgpack/v5"
)

// ============================================================================
// Local Store
//
// Durable on-device persistence for cards, remote-file metadata, and the
// sync queue, backed by DuckDB. Three rules govern every operation here:
//
//   - Writes are serialized by the store mutex: one logical writer per key.
//   - Every operation runs under the retry policy. Unavailable and
//     quota failures short-circuit; transaction failures are retried.
//   - Reads return independent copies; card sections are decoded fresh
//     from their msgpack blob on every read, so callers never share
//     mutable slices.
//
// A store constructed without a path is the null-object form: it reports
// unavailable on every operation instead of hiding an environment check
// inside the engine.
// ============================================================================

// LocalStore is the durable key-value layer for Cards, RemoteFileMeta,
// and SyncTasks.
type LocalStore struct {
	db        *sql.DB
	mu        sync.Mutex
	retry     RetryPolicy
	metrics   *Metrics
	available bool
}

// OpenLocalStore opens (or creates) the DuckDB database at path and runs
// migrations. The metrics sink is owned by this instance.
func OpenLocalStore(path string, metrics *Metrics) (*LocalStore, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, serr.Wrap(err, "failed to open local store", "path", path)
	}

	s := &LocalStore{
		db:        db,
		retry:     DefaultRetryPolicy(),
		metrics:   metrics,
		available: true,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, serr.Wrap(err, "failed to migrate local store")
	}

	return s, nil
}

// NewUnavailableStore returns a store whose every operation fails with
// the store-unavailable kind. Used where no persistent store can exist
// (non-interactive execution contexts) so the engine needs no
// environment branching of its own.
func NewUnavailableStore(metrics *Metrics) *LocalStore {
	return &LocalStore{metrics: metrics, retry: DefaultRetryPolicy()}
}

// Available reports whether the store can persist anything at all.
func (s *LocalStore) Available() bool { return s.available }

// Close releases the underlying database.
func (s *LocalStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Metrics returns the store's observability sink.
func (s *LocalStore) Metrics() *Metrics { return s.metrics }

func (s *LocalStore) migrate() error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS cards (
			guid        VARCHAR PRIMARY KEY,
			title       VARCHAR NOT NULL,
			description VARCHAR,
			sections    BLOB,
			created_at  TIMESTAMP NOT NULL,
			modified_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS remote_files (
			path         VARCHAR PRIMARY KEY,
			name         VARCHAR NOT NULL,
			modified_at  TIMESTAMP NOT NULL,
			size         BIGINT NOT NULL,
			etag         VARCHAR,
			download_ref VARCHAR
		)`,
		`CREATE TABLE IF NOT EXISTS sync_queue (
			id          VARCHAR PRIMARY KEY,
			operation   VARCHAR NOT NULL,
			card_guid   VARCHAR NOT NULL,
			card_blob   BLOB,
			enqueued_at TIMESTAMP NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0,
			status      VARCHAR NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status)`,
		`CREATE SEQUENCE IF NOT EXISTS sync_conflicts_id_seq START 1`,
		`CREATE TABLE IF NOT EXISTS sync_conflicts (
			id              BIGINT PRIMARY KEY DEFAULT nextval('sync_conflicts_id_seq'),
			card_guid       VARCHAR NOT NULL,
			classification  VARCHAR NOT NULL,
			local_modified  TIMESTAMP,
			remote_modified TIMESTAMP,
			resolution      VARCHAR NOT NULL,
			diff_summary    VARCHAR,
			created_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		CreateUsersTableSQL,
	}

	for _, stmt := range ddl {
		if _, err := s.db.Exec(stmt); err != nil {
			return serr.Wrap(err, "migration statement failed")
		}
	}
	return nil
}

// ready gates every operation on store availability.
func (s *LocalStore) ready() error {
	if !s.available {
		return NewError(KindStoreUnavailable, "local store is not available")
	}
	return nil
}

// classifyStoreErr tags a database error for the retry policy.
// Capacity exhaustion is permanent; everything else from the driver is
// treated as a failed transaction and retried.
func classifyStoreErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "out of memory") ||
		strings.Contains(lower, "no space") ||
		strings.Contains(lower, "disk is full") ||
		strings.Contains(lower, "quota") {
		return WrapError(KindQuotaExceeded, err, msg)
	}
	return WrapError(KindTxFailed, err, msg)
}

// ----------------------------------------------------------------------------
// Cards
// ----------------------------------------------------------------------------

// PutCard inserts or replaces a card keyed by its ID.
func (s *LocalStore) PutCard(card *Card) error {
	start := time.Now()
	err := s.retry.Do("put_card", func() error {
		if err := s.ready(); err != nil {
			return err
		}
		blob, err := msgpack.Marshal(card.Sections)
		if err != nil {
			return WrapError(KindTxFailed, err, "failed to encode card sections")
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		_, err = s.db.Exec(
			`INSERT OR REPLACE INTO cards (guid, title, description, sections, created_at, modified_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			card.Meta.ID, card.Title, card.Description, blob,
			card.Meta.Created, card.Meta.Modified,
		)
		return classifyStoreErr(err, "failed to write card")
	})
	s.metrics.Record(start, err)
	return err
}

// GetCard returns the card with the given ID, or a not-found failure.
func (s *LocalStore) GetCard(id string) (*Card, error) {
	start := time.Now()
	var card *Card
	err := s.retry.Do("get_card", func() error {
		if err := s.ready(); err != nil {
			return err
		}
		row := s.db.QueryRow(
			`SELECT guid, title, description, sections, created_at, modified_at
			 FROM cards WHERE guid = ?`, id)
		c, err := scanCard(row)
		if err != nil {
			return err
		}
		card = c
		return nil
	})
	s.metrics.Record(start, err)
	if err != nil {
		return nil, err
	}
	return card, nil
}

// ListCards returns all cards ordered by most recently modified.
func (s *LocalStore) ListCards() ([]Card, error) {
	start := time.Now()
	var cards []Card
	err := s.retry.Do("list_cards", func() error {
		if err := s.ready(); err != nil {
			return err
		}
		rows, err := s.db.Query(
			`SELECT guid, title, description, sections, created_at, modified_at
			 FROM cards ORDER BY modified_at DESC`)
		if err != nil {
			return classifyStoreErr(err, "failed to query cards")
		}
		defer rows.Close()

		cards = cards[:0]
		for rows.Next() {
			c, err := scanCard(rows)
			if err != nil {
				return err
			}
			cards = append(cards, *c)
		}
		return classifyStoreErr(rows.Err(), "error iterating cards")
	})
	s.metrics.Record(start, err)
	if err != nil {
		return nil, err
	}
	return cards, nil
}

// DeleteCard removes a card. Deleting an absent card is a no-op, not an
// error; deletes are idempotent so reconciliation passes can repeat them.
func (s *LocalStore) DeleteCard(id string) error {
	start := time.Now()
	err := s.retry.Do("delete_card", func() error {
		if err := s.ready(); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		_, err := s.db.Exec(`DELETE FROM cards WHERE guid = ?`, id)
		return classifyStoreErr(err, "failed to delete card")
	})
	s.metrics.Record(start, err)
	return err
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (*Card, error) {
	var c Card
	var desc sql.NullString
	var blob []byte

	err := row.Scan(&c.Meta.ID, &c.Title, &desc, &blob, &c.Meta.Created, &c.Meta.Modified)
	if err == sql.ErrNoRows {
		return nil, NewError(KindNotFound, "card not found")
	}
	if err != nil {
		return nil, classifyStoreErr(err, "failed to scan card")
	}

	c.Description = desc.String
	if len(blob) > 0 {
		if err := msgpack.Unmarshal(blob, &c.Sections); err != nil {
			return nil, WrapError(KindTxFailed, err, "failed to decode card sections")
		}
	}
	return &c, nil
}

// ----------------------------------------------------------------------------
// Remote file metadata
// ----------------------------------------------------------------------------

// PutRemoteFile inserts or replaces one remote file descriptor.
func (s *LocalStore) PutRemoteFile(meta RemoteFileMeta) error {
	start := time.Now()
	err := s.retry.Do("put_remote_file", func() error {
		if err := s.ready(); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		_, err := s.db.Exec(
			`INSERT OR REPLACE INTO remote_files (path, name, modified_at, size, etag, download_ref)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			meta.Path, meta.Name, meta.Modified, meta.Size, meta.ETag, meta.DownloadRef,
		)
		return classifyStoreErr(err, "failed to write remote file meta")
	})
	s.metrics.Record(start, err)
	return err
}

// ReplaceRemoteFiles swaps the whole cached remote listing in one
// transaction, keeping the cache an exact mirror of the last listing.
func (s *LocalStore) ReplaceRemoteFiles(metas []RemoteFileMeta) error {
	start := time.Now()
	err := s.retry.Do("replace_remote_files", func() error {
		if err := s.ready(); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()

		tx, err := s.db.Begin()
		if err != nil {
			return classifyStoreErr(err, "failed to begin remote files transaction")
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`DELETE FROM remote_files`); err != nil {
			return classifyStoreErr(err, "failed to clear remote files cache")
		}
		for _, m := range metas {
			_, err := tx.Exec(
				`INSERT INTO remote_files (path, name, modified_at, size, etag, download_ref)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				m.Path, m.Name, m.Modified, m.Size, m.ETag, m.DownloadRef,
			)
			if err != nil {
				return classifyStoreErr(err, "failed to insert remote file meta")
			}
		}
		return classifyStoreErr(tx.Commit(), "failed to commit remote files cache")
	})
	s.metrics.Record(start, err)
	return err
}

// GetRemoteFileByName looks up a cached descriptor by filename.
func (s *LocalStore) GetRemoteFileByName(name string) (*RemoteFileMeta, error) {
	start := time.Now()
	var meta *RemoteFileMeta
	err := s.retry.Do("get_remote_file", func() error {
		if err := s.ready(); err != nil {
			return err
		}
		row := s.db.QueryRow(
			`SELECT path, name, modified_at, size, etag, download_ref
			 FROM remote_files WHERE name = ?`, name)
		m, err := scanRemoteFile(row)
		if err != nil {
			return err
		}
		meta = m
		return nil
	})
	s.metrics.Record(start, err)
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// ListCachedRemoteFiles returns the cached remote listing.
func (s *LocalStore) ListCachedRemoteFiles() ([]RemoteFileMeta, error) {
	start := time.Now()
	var metas []RemoteFileMeta
	err := s.retry.Do("list_remote_files", func() error {
		if err := s.ready(); err != nil {
			return err
		}
		rows, err := s.db.Query(
			`SELECT path, name, modified_at, size, etag, download_ref
			 FROM remote_files ORDER BY name`)
		if err != nil {
			return classifyStoreErr(err, "failed to query remote files")
		}
		defer rows.Close()

		metas = metas[:0]
		for rows.Next() {
			m, err := scanRemoteFile(rows)
			if err != nil {
				return err
			}
			metas = append(metas, *m)
		}
		return classifyStoreErr(rows.Err(), "error iterating remote files")
	})
	s.metrics.Record(start, err)
	if err != nil {
		return nil, err
	}
	return metas, nil
}

// DeleteRemoteFile drops one cached descriptor by path.
func (s *LocalStore) DeleteRemoteFile(path string) error {
	start := time.Now()
	err := s.retry.Do("delete_remote_file", func() error {
		if err := s.ready(); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		_, err := s.db.Exec(`DELETE FROM remote_files WHERE path = ?`, path)
		return classifyStoreErr(err, "failed to delete remote file meta")
	})
	s.metrics.Record(start, err)
	return err
}

func scanRemoteFile(row rowScanner) (*RemoteFileMeta, error) {
	var m RemoteFileMeta
	var etag, ref sql.NullString

	err := row.Scan(&m.Path, &m.Name, &m.Modified, &m.Size, &etag, &ref)
	if err == sql.ErrNoRows {
		return nil, NewError(KindNotFound, "remote file meta not found")
	}
	if err != nil {
		return nil, classifyStoreErr(err, "failed to scan remote file meta")
	}

	m.ETag = etag.String
	m.DownloadRef = ref.String
	return &m, nil
}

// ----------------------------------------------------------------------------
// Sync queue
// ----------------------------------------------------------------------------

// EnqueueTask appends a task to the durable queue.
func (s *LocalStore) EnqueueTask(task *SyncTask) error {
	start := time.Now()
	err := s.retry.Do("enqueue_task", func() error {
		if err := s.ready(); err != nil {
			return err
		}
		var blob []byte
		if task.Card != nil {
			b, err := msgpack.Marshal(task.Card)
			if err != nil {
				return WrapError(KindQueue, err, "failed to encode task card")
			}
			blob = b
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		_, err := s.db.Exec(
			`INSERT INTO sync_queue (id, operation, card_guid, card_blob, enqueued_at, attempts, status)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			task.ID, string(task.Operation), task.CardID, blob,
			task.EnqueuedAt, task.Attempts, string(task.Status),
		)
		return classifyStoreErr(err, "failed to enqueue task")
	})
	s.metrics.Record(start, err)
	return err
}

// ListPendingTasks returns pending tasks oldest first (FIFO drain order).
func (s *LocalStore) ListPendingTasks() ([]SyncTask, error) {
	start := time.Now()
	var tasks []SyncTask
	err := s.retry.Do("list_pending_tasks", func() error {
		if err := s.ready(); err != nil {
			return err
		}
		rows, err := s.db.Query(
			`SELECT id, operation, card_guid, card_blob, enqueued_at, attempts, status
			 FROM sync_queue WHERE status = ? ORDER BY enqueued_at, id`,
			string(TaskPending))
		if err != nil {
			return classifyStoreErr(err, "failed to query pending tasks")
		}
		defer rows.Close()

		tasks = tasks[:0]
		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				return err
			}
			tasks = append(tasks, *t)
		}
		return classifyStoreErr(rows.Err(), "error iterating pending tasks")
	})
	s.metrics.Record(start, err)
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTask looks up one task by ID.
func (s *LocalStore) GetTask(id string) (*SyncTask, error) {
	start := time.Now()
	var task *SyncTask
	err := s.retry.Do("get_task", func() error {
		if err := s.ready(); err != nil {
			return err
		}
		row := s.db.QueryRow(
			`SELECT id, operation, card_guid, card_blob, enqueued_at, attempts, status
			 FROM sync_queue WHERE id = ?`, id)
		t, err := scanTask(row)
		if err != nil {
			return err
		}
		task = t
		return nil
	})
	s.metrics.Record(start, err)
	if err != nil {
		return nil, err
	}
	return task, nil
}

// UpdateTaskStatus transitions a task's lifecycle state.
func (s *LocalStore) UpdateTaskStatus(id string, status TaskStatus) error {
	start := time.Now()
	err := s.retry.Do("update_task_status", func() error {
		if err := s.ready(); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		res, err := s.db.Exec(
			`UPDATE sync_queue SET status = ? WHERE id = ?`, string(status), id)
		if err != nil {
			return classifyStoreErr(err, "failed to update task status")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return NewError(KindNotFound, "sync task not found")
		}
		return nil
	})
	s.metrics.Record(start, err)
	return err
}

// RecordTaskFailure increments the attempt count and returns the task to
// pending so a later pass picks it up again.
func (s *LocalStore) RecordTaskFailure(id string) error {
	start := time.Now()
	err := s.retry.Do("record_task_failure", func() error {
		if err := s.ready(); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		res, err := s.db.Exec(
			`UPDATE sync_queue SET attempts = attempts + 1, status = ? WHERE id = ?`,
			string(TaskPending), id)
		if err != nil {
			return classifyStoreErr(err, "failed to record task failure")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return NewError(KindNotFound, "sync task not found")
		}
		return nil
	})
	s.metrics.Record(start, err)
	return err
}

// ResetTask zeroes a task's attempts and marks it pending: the manual
// retry path for tasks that reached the failed state.
func (s *LocalStore) ResetTask(id string) error {
	start := time.Now()
	err := s.retry.Do("reset_task", func() error {
		if err := s.ready(); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		res, err := s.db.Exec(
			`UPDATE sync_queue SET attempts = 0, status = ? WHERE id = ?`,
			string(TaskPending), id)
		if err != nil {
			return classifyStoreErr(err, "failed to reset task")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return NewError(KindNotFound, "sync task not found")
		}
		return nil
	})
	s.metrics.Record(start, err)
	return err
}

// CountTasksByStatus returns queue depth per lifecycle state.
func (s *LocalStore) CountTasksByStatus() (map[string]int, error) {
	start := time.Now()
	counts := map[string]int{}
	err := s.retry.Do("count_tasks", func() error {
		if err := s.ready(); err != nil {
			return err
		}
		rows, err := s.db.Query(
			`SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
		if err != nil {
			return classifyStoreErr(err, "failed to count tasks")
		}
		defer rows.Close()

		clear(counts)
		for rows.Next() {
			var status string
			var n int
			if err := rows.Scan(&status, &n); err != nil {
				return classifyStoreErr(err, "failed to scan task count")
			}
			counts[status] = n
		}
		return classifyStoreErr(rows.Err(), "error iterating task counts")
	})
	s.metrics.Record(start, err)
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// ClearTasks removes tasks in the given terminal states.
func (s *LocalStore) ClearTasks(statuses ...TaskStatus) error {
	start := time.Now()
	err := s.retry.Do("clear_tasks", func() error {
		if err := s.ready(); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, st := range statuses {
			if _, err := s.db.Exec(
				`DELETE FROM sync_queue WHERE status = ?`, string(st)); err != nil {
				return classifyStoreErr(err, "failed to clear tasks")
			}
		}
		return nil
	})
	s.metrics.Record(start, err)
	return err
}

func scanTask(row rowScanner) (*SyncTask, error) {
	var t SyncTask
	var op, status string
	var blob []byte

	err := row.Scan(&t.ID, &op, &t.CardID, &blob, &t.EnqueuedAt, &t.Attempts, &status)
	if err == sql.ErrNoRows {
		return nil, NewError(KindNotFound, "sync task not found")
	}
	if err != nil {
		return nil, classifyStoreErr(err, "failed to scan sync task")
	}

	t.Operation = TaskOperation(op)
	t.Status = TaskStatus(status)
	if len(blob) > 0 {
		var card Card
		if err := msgpack.Unmarshal(blob, &card); err != nil {
			return nil, WrapError(KindQueue, err, "failed to decode task card")
		}
		t.Card = &card
	}
	return &t, nil
}

// ----------------------------------------------------------------------------
// Conflict audit log
// ----------------------------------------------------------------------------

// InsertConflictRecord logs a resolved conflict for later inspection.
// Best-effort: audit failures are logged, never propagated, so conflict
// logging can never block a reconciliation pass.
func (s *LocalStore) InsertConflictRecord(cardID, classification, resolution, diffSummary string, localMod, remoteMod time.Time) {
	if !s.available {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO sync_conflicts (card_guid, classification, local_modified, remote_modified, resolution, diff_summary)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cardID, classification, localMod, remoteMod, resolution, diffSummary,
	)
	if err != nil {
		logger.LogErr(err, "failed to insert conflict record",
			"card_guid", cardID, "resolution", resolution)
	}
}

package models

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// newTestStore opens a real DuckDB-backed store under a temp directory.
func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.ddb")
	store, err := OpenLocalStore(path, NewMetrics("test_store"))
	if err != nil {
		t.Fatalf("OpenLocalStore() unexpected error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// testCard builds a card with deterministic content for assertions.
func testCard(title string) *Card {
	card := NewCard(title)
	card.Description = "A card used in tests."
	card.Sections = []Section{
		{
			Heading: "Steps",
			Kind:    SectionOrdered,
			Items:   []Item{{Text: "first"}, {Text: "second"}},
		},
		{
			Heading: "Checklist",
			Kind:    SectionChecklist,
			Items:   []Item{{Text: "open"}, {Text: "done", Checked: true}},
		},
	}
	return card
}

// fakeCloud is an in-memory CloudStore. Each failure hook, when set,
// makes the corresponding operation fail with that error.
type fakeCloud struct {
	mu sync.Mutex

	credential bool
	files      []RemoteFileMeta
	contents   map[string][]byte // keyed by download ref or path

	uploads map[string][]byte // path -> last uploaded content
	deletes []string

	listErr     error
	downloadErr error
	uploadErr   error
	deleteErr   error

	// uploadGate, when non-nil, blocks uploads until released. Used to
	// hold a drain pass open while asserting reentrancy behavior.
	uploadGate chan struct{}
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		credential: true,
		contents:   map[string][]byte{},
		uploads:    map[string][]byte{},
	}
}

func (f *fakeCloud) HasCredential() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.credential
}

func (f *fakeCloud) ListFiles(ctx context.Context) ([]RemoteFileMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]RemoteFileMeta, len(f.files))
	copy(out, f.files)
	return out, nil
}

func (f *fakeCloud) DownloadFile(ctx context.Context, ref string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	content, ok := f.contents[ref]
	if !ok {
		return nil, NewError(KindHTTP, "no such file: "+ref)
	}
	return content, nil
}

func (f *fakeCloud) GetUploadTarget(ctx context.Context, path string, overwrite bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	return "upload://" + path, nil
}

func (f *fakeCloud) UploadFile(ctx context.Context, uploadRef string, content []byte) error {
	f.mu.Lock()
	gate := f.uploadGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploads[uploadRef] = content
	return nil
}

func (f *fakeCloud) UploadAtPath(ctx context.Context, path string, content []byte, overwrite bool) error {
	target, err := f.GetUploadTarget(ctx, path, overwrite)
	if err != nil {
		return err
	}
	return f.UploadFile(ctx, target, content)
}

func (f *fakeCloud) DeleteFile(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletes = append(f.deletes, path)
	return nil
}

// addRemoteCard registers a card as present on the fake remote,
// downloadable via its path.
func (f *fakeCloud) addRemoteCard(card *Card, modified time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := card.RemoteName()
	path := "/" + name
	f.files = append(f.files, RemoteFileMeta{
		Path:     path,
		Name:     name,
		Modified: modified,
		Size:     int64(len(SerializeCard(card))),
	})
	f.contents[path] = []byte(SerializeCard(card))
}

func (f *fakeCloud) uploadedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	paths := make([]string, 0, len(f.uploads))
	for p := range f.uploads {
		paths = append(paths, p)
	}
	return paths
}

package models

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Remote Store Client
//
// Authenticated HTTP client for the single-file cloud backend. The backend
// contract is small: list files, download by ref, obtain an upload target
// for a path, upload to a target, delete by path. Auth is a bearer token;
// a missing token fails immediately with an auth error since retrying
// without credentials cannot succeed.
//
// Classification happens once, at this boundary:
//   401/403            -> auth error, never retried
//   other 4xx          -> http error (caller bug), never retried
//   5xx, transport,
//   timeout            -> network error, retried with backoff
//
// The orchestrator and queue above never branch on transport details;
// they only see succeeded / failed plus the kind.
// ============================================================================

// CloudStore is the remote backend contract the engine consumes.
// The HTTP client below implements it; tests substitute in-memory fakes.
type CloudStore interface {
	HasCredential() bool
	ListFiles(ctx context.Context) ([]RemoteFileMeta, error)
	DownloadFile(ctx context.Context, ref string) ([]byte, error)
	GetUploadTarget(ctx context.Context, path string, overwrite bool) (string, error)
	UploadFile(ctx context.Context, uploadRef string, content []byte) error
	UploadAtPath(ctx context.Context, path string, content []byte, overwrite bool) error
	DeleteFile(ctx context.Context, path string) error
}

// remoteMetaSink receives fresh listings so the local remote-file cache
// tracks the last observed remote state. Satisfied by *LocalStore.
type remoteMetaSink interface {
	ReplaceRemoteFiles(metas []RemoteFileMeta) error
}

// cloudRequestTimeout bounds every remote call. A timeout surfaces as a
// network error so the retry policy treats it like any transport failure.
const cloudRequestTimeout = 10 * time.Second

// CloudClient talks to the remote store over HTTP.
type CloudClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      RetryPolicy
	metrics    *Metrics
	metaSink   remoteMetaSink
}

// NewCloudClient builds a client for the given backend. An empty token is
// allowed at construction; operations then fail with an auth error,
// which keeps offline-only setups running with the same wiring.
func NewCloudClient(baseURL, token string, metrics *Metrics) *CloudClient {
	return &CloudClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: cloudRequestTimeout,
		},
		retry:   DefaultRetryPolicy(),
		metrics: metrics,
	}
}

// SetMetaSink wires the local cache that ListFiles refreshes as a side
// effect. Optional; without a sink listings are simply returned.
func (cc *CloudClient) SetMetaSink(sink remoteMetaSink) {
	cc.metaSink = sink
}

// HasCredential reports whether an access token is configured.
func (cc *CloudClient) HasCredential() bool {
	return cc != nil && cc.token != ""
}

// Metrics returns the client's observability sink.
func (cc *CloudClient) Metrics() *Metrics { return cc.metrics }

// remoteFileEntry is the backend's listing entry shape, validated here
// before anything crosses into the core as a RemoteFileMeta.
type remoteFileEntry struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	Modified    string `json:"modified"` // ISO-8601 from the remote clock
	Size        int64  `json:"size"`
	ETag        string `json:"etag"`
	DownloadRef string `json:"download_ref"`
}

func (e remoteFileEntry) toMeta() (RemoteFileMeta, error) {
	if e.Path == "" || e.Name == "" {
		return RemoteFileMeta{}, serr.New("listing entry missing path or name")
	}
	mod, err := time.Parse(time.RFC3339, e.Modified)
	if err != nil {
		return RemoteFileMeta{}, serr.Wrap(err, "listing entry has invalid modified time", "name", e.Name)
	}
	return RemoteFileMeta{
		Path:        e.Path,
		Name:        e.Name,
		Modified:    mod,
		Size:        e.Size,
		ETag:        e.ETag,
		DownloadRef: e.DownloadRef,
	}, nil
}

// ListFiles fetches the remote listing. As a side effect it refreshes the
// local remote-file cache when a sink is wired; a cache refresh failure
// is logged, not propagated since the listing itself already succeeded.
func (cc *CloudClient) ListFiles(ctx context.Context) ([]RemoteFileMeta, error) {
	start := time.Now()
	var metas []RemoteFileMeta

	err := cc.retry.Do("cloud_list_files", func() error {
		body, err := cc.doRequest(ctx, http.MethodGet, cc.baseURL+"/files", nil, "")
		if err != nil {
			return err
		}

		var entries []remoteFileEntry
		if err := json.Unmarshal(body, &entries); err != nil {
			return WrapError(KindHTTP, err, "failed to decode file listing")
		}

		metas = metas[:0]
		for _, e := range entries {
			m, err := e.toMeta()
			if err != nil {
				// One malformed entry shouldn't hide the rest of the listing
				logger.LogErr(err, "skipping invalid listing entry")
				continue
			}
			metas = append(metas, m)
		}
		return nil
	})
	cc.metrics.Record(start, err)
	if err != nil {
		return nil, err
	}

	if cc.metaSink != nil {
		if err := cc.metaSink.ReplaceRemoteFiles(metas); err != nil {
			logger.LogErr(err, "failed to refresh remote file cache")
		}
	}
	return metas, nil
}

// DownloadFile fetches a file's content by its download ref (or path when
// the listing carried no ref).
func (cc *CloudClient) DownloadFile(ctx context.Context, ref string) ([]byte, error) {
	start := time.Now()
	var content []byte

	err := cc.retry.Do("cloud_download", func() error {
		u := cc.baseURL + "/files/content?ref=" + url.QueryEscape(ref)
		body, err := cc.doRequest(ctx, http.MethodGet, u, nil, "")
		if err != nil {
			return err
		}
		content = body
		return nil
	})
	cc.metrics.Record(start, err)
	if err != nil {
		return nil, err
	}
	return content, nil
}

// GetUploadTarget asks the backend for an upload URL for the given path.
func (cc *CloudClient) GetUploadTarget(ctx context.Context, path string, overwrite bool) (string, error) {
	start := time.Now()
	var target string

	err := cc.retry.Do("cloud_upload_target", func() error {
		reqBody, _ := json.Marshal(map[string]any{
			"path":      path,
			"overwrite": overwrite,
		})
		body, err := cc.doRequest(ctx, http.MethodPost, cc.baseURL+"/files/upload-url",
			bytes.NewReader(reqBody), "application/json")
		if err != nil {
			return err
		}

		var resp struct {
			UploadURL string `json:"upload_url"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return WrapError(KindHTTP, err, "failed to decode upload target response")
		}
		if resp.UploadURL == "" {
			return NewError(KindHTTP, "upload target response missing upload_url")
		}
		target = resp.UploadURL
		return nil
	})
	cc.metrics.Record(start, err)
	if err != nil {
		return "", err
	}
	return target, nil
}

// UploadFile sends content to a previously obtained upload target.
func (cc *CloudClient) UploadFile(ctx context.Context, uploadRef string, content []byte) error {
	start := time.Now()
	err := cc.retry.Do("cloud_upload", func() error {
		_, err := cc.doRequest(ctx, http.MethodPut, uploadRef,
			bytes.NewReader(content), "text/markdown")
		return err
	})
	cc.metrics.Record(start, err)
	return err
}

// UploadAtPath is the compound operation: obtain a target, then upload.
func (cc *CloudClient) UploadAtPath(ctx context.Context, path string, content []byte, overwrite bool) error {
	target, err := cc.GetUploadTarget(ctx, path, overwrite)
	if err != nil {
		return err
	}
	return cc.UploadFile(ctx, target, content)
}

// DeleteFile removes a remote file by path.
func (cc *CloudClient) DeleteFile(ctx context.Context, path string) error {
	start := time.Now()
	err := cc.retry.Do("cloud_delete", func() error {
		u := cc.baseURL + "/files?path=" + url.QueryEscape(path)
		_, err := cc.doRequest(ctx, http.MethodDelete, u, nil, "")
		return err
	})
	cc.metrics.Record(start, err)
	return err
}

// doRequest performs one HTTP round trip and classifies the outcome.
// The credential check happens first so a missing token never produces
// network traffic or a retry.
func (cc *CloudClient) doRequest(ctx context.Context, method, urlStr string, body io.Reader, contentType string) ([]byte, error) {
	if !cc.HasCredential() {
		return nil, NewError(KindAuth, "no cloud access credential configured")
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, WrapError(KindHTTP, err, "failed to build cloud request")
	}
	req.Header.Set("Authorization", "Bearer "+cc.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := cc.httpClient.Do(req)
	if err != nil {
		// Transport errors and timeouts are one class for retry purposes
		return nil, WrapError(KindNetwork, err, "cloud request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(KindNetwork, err, "failed to read cloud response")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, NewError(KindAuth, fmt.Sprintf("cloud request unauthorized (status %d)", resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, NewError(KindNetwork, fmt.Sprintf("cloud server error (status %d)", resp.StatusCode))
	default:
		return nil, NewError(KindHTTP, fmt.Sprintf("cloud request rejected (status %d)", resp.StatusCode))
	}
}

package health

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "sleepcal/internal/log"
	"sleepcal/internal/model"
)

// Source is an export location polled by the scheduler: a local path or an
// http(s) URL (e.g. a Health Auto Export REST target or a synced file).
type Source struct {
	ID       string
	Location string
}

func (s Source) isRemote() bool {
	return strings.HasPrefix(s.Location, "http://") || strings.HasPrefix(s.Location, "https://")
}

// FetchResult contains the outcome of fetching a single export source.
type FetchResult struct {
	Source Source
	Body   []byte
	// FromCache is true if the body came from the disk cache after a 304
	// or a failed request.
	FromCache bool
	// Unchanged is true if the body is identical to the last committed
	// fetch.
	Unchanged bool

	// pending is the cache state Commit records; nil when there is
	// nothing new to remember.
	pending   *cacheEntry
	cachePath string
}

// cacheEntry holds conditional-request metadata for one source.
type cacheEntry struct {
	Location     string    `json:"location"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	BodySHA256   string    `json:"body_sha256,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher loads export sources, remembering what it saw last time so that
// unchanged exports can be detected. Remote sources use ETag /
// Last-Modified conditional requests.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a Fetcher caching under cacheDir.
func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/export-cache"
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		cacheDir: cacheDir,
	}
}

// Fetch loads one source. It does not update the cache: call Commit once
// the body has been processed, so a failed run sees the same body again.
func (f *Fetcher) Fetch(ctx context.Context, src Source) (FetchResult, error) {
	if src.Location == "" {
		return FetchResult{}, errors.New("source location is empty")
	}

	cachePath := f.cachePathFor(src.Location)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return FetchResult{}, err
	}
	meta, _ := loadCacheMeta(cachePath)

	var (
		res     FetchResult
		newMeta = cacheEntry{Location: src.Location}
		err     error
	)
	if src.isRemote() {
		res, newMeta, err = f.fetchRemote(ctx, src, cachePath, meta)
	} else {
		res, err = fetchLocal(src)
	}
	if err != nil {
		return FetchResult{}, err
	}

	sum := bodyHash(res.Body)
	if meta.BodySHA256 != "" && meta.BodySHA256 == sum {
		res.Unchanged = true
	}
	if !res.FromCache {
		newMeta.BodySHA256 = sum
		res.pending = &newMeta
		res.cachePath = cachePath
	}
	return res, nil
}

// Commit records res as the last processed state of its source. Results
// served from the cache have nothing to record.
func (f *Fetcher) Commit(res FetchResult) error {
	if res.pending == nil {
		return nil
	}
	if err := saveCache(res.cachePath, *res.pending, res.Body, res.Source.isRemote()); err != nil {
		return fmt.Errorf("save export cache for %s: %w", res.Source.ID, err)
	}
	return nil
}

func fetchLocal(src Source) (FetchResult, error) {
	body, err := os.ReadFile(src.Location)
	if err != nil {
		return FetchResult{}, err
	}
	return FetchResult{Source: src, Body: body}, nil
}

func (f *Fetcher) fetchRemote(ctx context.Context, src Source, cachePath string, meta cacheEntry) (FetchResult, cacheEntry, error) {
	cachedBody, _ := os.ReadFile(filepath.Join(cachePath, "body"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.Location, nil)
	if err != nil {
		return FetchResult{}, meta, err
	}
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Info("export fetch start", "id", src.ID, "url", redactURL(src.Location))

	resp, err := f.client.Do(req)
	if err != nil {
		return FetchResult{}, meta, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return FetchResult{}, meta, err
		}
		next := cacheEntry{
			Location:     src.Location,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		return FetchResult{Source: src, Body: body}, next, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, meta, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Info("export not modified; using cache", "id", src.ID)
		return FetchResult{Source: src, Body: cachedBody, FromCache: true, Unchanged: true}, meta, nil

	default:
		return FetchResult{}, meta, fmt.Errorf("export fetch: %s", resp.Status)
	}
}

// ParseExport decodes a fetched export body, choosing the Apple Health XML
// reader for XML content and the JSON decoder otherwise.
func ParseExport(name string, body []byte) ([]model.RawSample, error) {
	trimmed := bytes.TrimSpace(body)
	if strings.EqualFold(filepath.Ext(name), ".xml") || bytes.HasPrefix(trimmed, []byte("<")) {
		return ReadAppleHealthXML(bytes.NewReader(trimmed))
	}
	samples, skipped, err := DecodeSamples(trimmed)
	if skipped > 0 {
		appLog.Info("export entries skipped while decoding", "name", name, "skipped", skipped)
	}
	return samples, err
}

func (f *Fetcher) cachePathFor(location string) string {
	sum := sha256.Sum256([]byte(location))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func bodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func writeMeta(cachePath string, meta cacheEntry) error {
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// saveCache records meta and, for remote sources, the body. Local files are
// re-read on every fetch so only their hash is kept.
func saveCache(cachePath string, meta cacheEntry, body []byte, keepBody bool) error {
	// Body first so meta never points at a missing body.
	if keepBody {
		if err := os.WriteFile(filepath.Join(cachePath, "body"), body, 0o600); err != nil {
			return err
		}
	}
	return writeMeta(cachePath, meta)
}

// redactURL keeps only scheme and host so tokens in paths or queries stay
// out of the logs.
func redactURL(u string) string {
	i := strings.Index(u, "://")
	if i == -1 {
		return "...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j != -1 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + "/...(redacted)"
}

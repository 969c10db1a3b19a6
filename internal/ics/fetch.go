// Package ics pulls event feeds published as iCalendar documents: fetching
// with a conditional-request disk cache, parsing VEVENTs and expanding
// recurrences into dated occurrences.
package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "sportscal/internal/log"
)

// maxFeedBytes caps a single feed download.
const maxFeedBytes = 20 << 20

// ErrNotModifiedWithoutCache is returned when the server answers 304 but
// the cached body is gone.
var ErrNotModifiedWithoutCache = errors.New("ics: 304 Not Modified but no cached body")

// Source is one feed to fetch.
type Source struct {
	ID  string
	URL string
}

// FetchResult is the body obtained for a source.
type FetchResult struct {
	Source    Source
	Body      []byte
	FromCache bool
}

type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Fetcher downloads feeds, sending If-None-Match/If-Modified-Since from the
// previous response and falling back to the cached body when the server is
// unreachable or errors.
type Fetcher struct {
	Client   *http.Client
	CacheDir string
	// UserAgent is sent with every request when set.
	UserAgent string
}

func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	return &Fetcher{
		Client:    &http.Client{Timeout: 20 * time.Second},
		CacheDir:  cacheDir,
		UserAgent: "sportscal-ingest/1.0",
	}
}

// FetchAll fetches every source. Failures are logged and joined into the
// returned error; results hold only sources that produced a body.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]FetchResult, error) {
	results := make([]FetchResult, 0, len(sources))
	var errs []error
	for _, src := range sources {
		res, err := f.Fetch(ctx, src)
		if err != nil {
			appLog.Error("feed fetch failed", err, "feed", src.ID, "url", redactURL(src.URL))
			errs = append(errs, fmt.Errorf("feed %s: %w", src.ID, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// Fetch downloads one source.
func (f *Fetcher) Fetch(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("ics: source url is empty")
	}

	dir := f.cacheDirFor(src.URL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return FetchResult{}, fmt.Errorf("ics: cache dir: %w", err)
	}
	meta, _ := readMeta(dir)
	cached, _ := os.ReadFile(filepath.Join(dir, "body.ics"))

	fallback := func(reason error) (FetchResult, error) {
		if len(cached) == 0 {
			return FetchResult{}, reason
		}
		appLog.Warn("feed unavailable; using cached copy", "feed", src.ID, "url", redactURL(src.URL), "reason", reason.Error())
		return FetchResult{Source: src, Body: cached, FromCache: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	if meta.URL == src.URL {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return FetchResult{}, ctx.Err()
		}
		return fallback(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
		if err != nil {
			return fallback(err)
		}
		next := cacheMeta{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			FetchedAt:    time.Now().UTC(),
		}
		if err := writeCache(dir, next, body); err != nil {
			appLog.Error("feed cache write failed", err, "feed", src.ID)
		}
		appLog.Info("feed fetched", "feed", src.ID, "url", redactURL(src.URL), "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return FetchResult{}, ErrNotModifiedWithoutCache
		}
		appLog.Debug("feed not modified", "feed", src.ID)
		return FetchResult{Source: src, Body: cached, FromCache: true}, nil

	default:
		return fallback(fmt.Errorf("ics: unexpected status %s", resp.Status))
	}
}

func (f *Fetcher) cacheDirFor(u string) string {
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(f.CacheDir, hex.EncodeToString(sum[:8]))
}

func readMeta(dir string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}

// writeCache stores the body before the metadata so a validator never
// refers to a body that was not written.
func writeCache(dir string, meta cacheMeta, body []byte) error {
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps scheme and host only; feed URLs often embed private
// tokens in the path or query.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/(redacted)"
}

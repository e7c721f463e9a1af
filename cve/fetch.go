package cve

import (
	"fmt"
	"log"
	"path/filepath"

	pb "github.com/cheggaaa/pb/v3"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/brel-ge/kcfg-vex/utils"
)

const (
	defaultBaseURL     = "https://cveawg.mitre.org/api/cve"
	defaultRetry       = 3
	defaultConcurrency = 5
)

// ErrNotFound reports a CVE id that the source (or, in cache-only mode,
// the cache) does not know.
var ErrNotFound = xerrors.New("CVE not found")

type Option func(*Fetcher)

func WithBaseURL(url string) Option {
	return func(f *Fetcher) { f.baseURL = url }
}

func WithRetry(retry int) Option {
	return func(f *Fetcher) { f.retry = retry }
}

func WithAppFs(fs afero.Fs) Option {
	return func(f *Fetcher) { f.appFs = fs }
}

// WithCacheDir enables the on-disk record cache.
func WithCacheDir(dir string) Option {
	return func(f *Fetcher) { f.cacheDir = dir }
}

// WithCacheOnly disables network access; misses become ErrNotFound.
func WithCacheOnly(cacheOnly bool) Option {
	return func(f *Fetcher) { f.cacheOnly = cacheOnly }
}

func WithConcurrency(n int) Option {
	return func(f *Fetcher) { f.concurrency = n }
}

// WithQuiet suppresses the batch progress bar.
func WithQuiet(quiet bool) Option {
	return func(f *Fetcher) { f.quiet = quiet }
}

// Fetcher retrieves CVE records, preferring the cache. Batch retrieval
// runs on a bounded worker pool; a per-CVE failure never aborts the batch.
type Fetcher struct {
	baseURL     string
	retry       int
	appFs       afero.Fs
	cacheDir    string
	cacheOnly   bool
	concurrency int
	quiet       bool
}

func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		baseURL:     defaultBaseURL,
		retry:       defaultRetry,
		appFs:       afero.NewOsFs(),
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns the record for cveID, from cache unless forceRefresh.
func (f *Fetcher) Fetch(cveID string, forceRefresh bool) (*Record, error) {
	if f.cacheDir != "" && !forceRefresh {
		if data, err := afero.ReadFile(f.appFs, f.cachePath(cveID)); err == nil {
			rec, err := ParseRecord(data)
			if err == nil {
				return rec, nil
			}
			log.Printf("discarding corrupt cache entry for %s: %v", cveID, err)
		}
	}
	if f.cacheOnly {
		return nil, xerrors.Errorf("%s not in cache: %w", cveID, ErrNotFound)
	}

	url := fmt.Sprintf("%s/%s", f.baseURL, cveID)
	data, err := utils.FetchURL(url, "", f.retry)
	if err != nil {
		return nil, xerrors.Errorf("failed to fetch %s: %w", cveID, err)
	}
	rec, err := ParseRecord(data)
	if err != nil {
		return nil, xerrors.Errorf("failed to parse %s: %w", cveID, err)
	}

	if f.cacheDir != "" {
		if err := f.saveCache(cveID, data); err != nil {
			log.Printf("failed to cache %s: %v", cveID, err)
		}
	}
	return rec, nil
}

// FetchBatch resolves every id, preserving input order. Failures are
// carried per Result so callers can degrade individual entries instead of
// dropping them.
func (f *Fetcher) FetchBatch(cveIDs []string, forceRefresh bool) []Result {
	results := make([]Result, len(cveIDs))

	var bar *pb.ProgressBar
	if !f.quiet {
		bar = pb.StartNew(len(cveIDs))
	}

	tasks := utils.GenWorkers(f.concurrency, 0)
	done := make(chan int, len(cveIDs))
	for i, cveID := range cveIDs {
		i, cveID := i, cveID
		tasks <- func() {
			rec, err := f.Fetch(cveID, forceRefresh)
			results[i] = Result{ID: cveID, Record: rec, Err: err}
			done <- i
		}
	}
	for range cveIDs {
		<-done
		if bar != nil {
			bar.Increment()
		}
	}
	if bar != nil {
		bar.Finish()
	}
	return results
}

func (f *Fetcher) cachePath(cveID string) string {
	return filepath.Join(f.cacheDir, fmt.Sprintf("%s.json", cveID))
}

func (f *Fetcher) saveCache(cveID string, data []byte) error {
	if err := f.appFs.MkdirAll(f.cacheDir, 0755); err != nil {
		return xerrors.Errorf("mkdir error: %w", err)
	}
	if err := afero.WriteFile(f.appFs, f.cachePath(cveID), data, 0644); err != nil {
		return xerrors.Errorf("failed to save cache file: %w", err)
	}
	return nil
}

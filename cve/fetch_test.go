package cve

import (
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCVEServer(t *testing.T, requests *int32) *httptest.Server {
	t.Helper()
	data, err := os.ReadFile("testdata/CVE-2024-26852.json")
	require.NoError(t, err)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(requests, 1)
		if r.URL.Path != "/CVE-2024-26852" {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestFetcher_Fetch(t *testing.T) {
	var requests int32
	ts := newCVEServer(t, &requests)
	appFs := afero.NewMemMapFs()

	f := NewFetcher(
		WithBaseURL(ts.URL),
		WithRetry(0),
		WithAppFs(appFs),
		WithCacheDir("cache"),
	)

	rec, err := f.Fetch("CVE-2024-26852", false)
	require.NoError(t, err)
	assert.Equal(t, "CVE-2024-26852", rec.ID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))

	// Second fetch is served from the cache.
	rec, err = f.Fetch("CVE-2024-26852", false)
	require.NoError(t, err)
	assert.Equal(t, "CVE-2024-26852", rec.ID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))

	// forceRefresh bypasses the cache.
	_, err = f.Fetch("CVE-2024-26852", true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func TestFetcher_Fetch_corruptCache(t *testing.T) {
	var requests int32
	ts := newCVEServer(t, &requests)
	appFs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(appFs,
		"cache/CVE-2024-26852.json", []byte("truncated{"), 0644))

	f := NewFetcher(
		WithBaseURL(ts.URL),
		WithRetry(0),
		WithAppFs(appFs),
		WithCacheDir("cache"),
	)

	rec, err := f.Fetch("CVE-2024-26852", false)
	require.NoError(t, err)
	assert.Equal(t, "CVE-2024-26852", rec.ID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))

	// The refetch repaired the cache entry.
	data, err := afero.ReadFile(appFs, "cache/CVE-2024-26852.json")
	require.NoError(t, err)
	assert.Contains(t, string(data), "CVE-2024-26852")
}

func TestFetcher_Fetch_cacheOnly(t *testing.T) {
	f := NewFetcher(
		WithAppFs(afero.NewMemMapFs()),
		WithCacheDir("cache"),
		WithCacheOnly(true),
	)

	_, err := f.Fetch("CVE-2024-9999", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetcher_FetchBatch(t *testing.T) {
	var requests int32
	ts := newCVEServer(t, &requests)

	f := NewFetcher(
		WithBaseURL(ts.URL),
		WithRetry(0),
		WithAppFs(afero.NewMemMapFs()),
		WithConcurrency(2),
		WithQuiet(true),
	)

	ids := []string{"CVE-2024-26852", "CVE-2024-0000", "CVE-2024-26852"}
	results := f.FetchBatch(ids, false)
	require.Len(t, results, len(ids))

	// Results keep the input order even with concurrent workers.
	for i, res := range results {
		assert.Equal(t, ids[i], res.ID)
	}
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err, "a failed id degrades its own result only")
	assert.NoError(t, results[2].Err)
}

package roster

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchOne_FileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roster.ics")
	require.NoError(t, os.WriteFile(path, []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"), 0o600))

	f := NewFetcher(filepath.Join(dir, "cache"))
	res, err := f.FetchOne(context.Background(), Source{ID: "file", URL: path})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Contains(t, string(res.Body), "VCALENDAR")
}

func TestFetchOne_HTTPConditionalRequests(t *testing.T) {
	const body = "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"
	requests := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	src := Source{ID: "crew-portal", URL: srv.URL}

	first, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, body, string(first.Body))

	second, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, body, string(second.Body))

	assert.Equal(t, 2, requests)
}

func TestFetchOne_NetworkErrorFallsBackToCache(t *testing.T) {
	const body = "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(body))
	}))

	f := NewFetcher(t.TempDir())
	src := Source{ID: "crew-portal", URL: srv.URL}

	_, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)

	srv.Close()

	res, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, body, string(res.Body))
}

func TestFetchAll_OneBadSourceDoesNotAbort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roster.ics")
	require.NoError(t, os.WriteFile(path, []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"), 0o600))

	f := NewFetcher(filepath.Join(dir, "cache"))
	results, errs := f.FetchAll(context.Background(), []Source{
		{ID: "good", URL: path},
		{ID: "missing", URL: filepath.Join(dir, "does-not-exist.ics")},
	})

	assert.Len(t, results, 1)
	assert.Len(t, errs, 1)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://crew.example.com/...(redacted)",
		redactURL("https://crew.example.com/roster.ics?token=secret"))
	assert.Equal(t, "roster.ics", redactURL("/home/pilot/roster.ics"))
}

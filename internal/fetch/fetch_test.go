// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/audiobook-engine/pkg/types"
)

func TestIsURL(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"https://example.com/book.pdf", true},
		{"http://example.com/book.pdf", true},
		{"  https://example.com/x  ", true},
		{"book.pdf", false},
		{"/tmp/book.pdf", false},
		{"ftp://example.com/book.pdf", false},
		{"https://", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, IsURL(tt.in))
		})
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://example.com/books/atomic-habits.pdf", "atomic-habits.pdf"},
		{"https://example.com/books/Atomic%20Habits.PDF", "Atomic Habits.PDF"},
		{"https://example.com/download?id=7", "download.pdf"},
		{"https://example.com/", "source.pdf"},
		{"https://example.com", "source.pdf"},
		{"https://example.com/a/book.epub", "book.pdf"},
		{"https://example.com/a%2Fb.pdf", "a_b.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FileName(tt.in))
		})
	}
}

func TestFetchDownloads(t *testing.T) {
	var ua atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 fake"))
	}))
	defer ts.Close()

	dir := t.TempDir()
	f := New(types.FetchConfig{HTTPConfig: types.HTTPConfig{UserAgent: "test-agent"}}, ts.Client())

	got, err := f.Fetch(context.Background(), ts.URL+"/book.pdf", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "book.pdf"), got)
	assert.Equal(t, "test-agent", ua.Load())

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 fake", string(data))

	tmps, _ := filepath.Glob(filepath.Join(dir, ".fetch-*.tmp"))
	assert.Empty(t, tmps)
}

func TestFetchReusesExisting(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte("%PDF"))
	}))
	defer ts.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "book.pdf"), []byte("cached"), 0o644))

	got, err := New(types.FetchConfig{}, ts.Client()).Fetch(context.Background(), ts.URL+"/book.pdf", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "book.pdf"), got)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		isNoPDF bool
	}{
		{
			name:    "not found",
			handler: func(w http.ResponseWriter, _ *http.Request) { http.NotFound(w, nil) },
		},
		{
			name: "html page",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.Write([]byte("<html>login</html>"))
			},
			isNoPDF: true,
		},
		{
			name: "empty body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/pdf")
			},
			isNoPDF: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(tt.handler)
			defer ts.Close()

			dir := t.TempDir()
			_, err := New(types.FetchConfig{}, ts.Client()).Fetch(context.Background(), ts.URL+"/book.pdf", dir)
			require.Error(t, err)
			if tt.isNoPDF {
				assert.ErrorIs(t, err, ErrNotPDF)
			}
			_, statErr := os.Stat(filepath.Join(dir, "book.pdf"))
			assert.True(t, os.IsNotExist(statErr), "no partial file left behind")
		})
	}
}

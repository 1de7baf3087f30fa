// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package fetch downloads a remote source PDF into the output directory so
// the pipeline can treat it like a local file.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pdiddy/audiobook-engine/pkg/types"
)

// Defaults applied when FetchConfig leaves a field empty.
const (
	DefaultTimeout   = 2 * time.Minute
	DefaultUserAgent = "audiobook-engine/0.1"
)

// ErrNotPDF is returned when a response is clearly not a PDF.
var ErrNotPDF = errors.New("response is not a PDF")

// IsURL reports whether source is an http or https URL.
func IsURL(source string) bool {
	u, err := url.Parse(strings.TrimSpace(source))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// FileName returns the local file name for a source URL: the last path
// element with a .pdf extension, or "source.pdf" when the URL has none.
func FileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "source.pdf"
	}
	name := path.Base(u.EscapedPath())
	if name == "." || name == "/" || name == "" {
		return "source.pdf"
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, name)
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".pdf"
	}
	return name
}

// Fetcher downloads source PDFs over HTTP.
type Fetcher struct {
	cfg    types.FetchConfig
	client *http.Client
}

// New creates a Fetcher. A nil client gets one with cfg.Timeout.
func New(cfg types.FetchConfig, client *http.Client) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Fetcher{cfg: cfg, client: client}
}

// Fetch downloads rawURL into destDir and returns the local path. An existing
// non-empty file at the destination is reused without a request.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, destDir string) (string, error) {
	dest := filepath.Join(destDir, FileName(rawURL))
	if info, err := os.Stat(dest); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
		log.WithField("path", dest).Debug("reusing downloaded source")
		return dest, nil
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", destDir, err)
	}
	if err := f.download(ctx, rawURL, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// download fetches rawURL to destPath through a temporary file.
func (f *Fetcher) download(ctx context.Context, rawURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/pdf")

	resp, err := DoWithRetry(ctx, f.client, req, f.cfg.MaxRetries)
	if err != nil {
		return fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "text/html") {
		return fmt.Errorf("%w: content type %s from %s", ErrNotPDF, ct, rawURL)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".fetch-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	n, copyErr := io.Copy(tmpFile, resp.Body)
	closeErr := tmpFile.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing download: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}
	if n == 0 {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: empty body from %s", ErrNotPDF, rawURL)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	log.WithFields(log.Fields{"url": rawURL, "path": destPath, "bytes": n}).Info("downloaded source")
	return nil
}

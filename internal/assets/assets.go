// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package assets finds the images the extraction engine writes next to the
// Markdown and propagates them into the top-level output directory.
package assets

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// imageExts lists the file extensions treated as images.
var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".svg":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// IsImage reports whether path has an image extension.
func IsImage(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// Images lists the image files directly inside dir, sorted by name.
// Subdirectories are not searched. A missing dir yields no images.
func Images(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading image directory %s: %w", dir, err)
	}

	var images []string
	for _, e := range entries {
		if e.IsDir() || !IsImage(e.Name()) {
			continue
		}
		images = append(images, filepath.Join(dir, e.Name()))
	}
	sort.Strings(images)
	return images, nil
}

// References returns the destinations of every image node in the Markdown
// source, in document order. Remote and data URLs are skipped.
func References(src []byte) []string {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var refs []string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		img, ok := n.(*ast.Image)
		if !ok {
			return ast.WalkContinue, nil
		}
		dest := string(img.Destination)
		if dest == "" || isRemote(dest) {
			return ast.WalkContinue, nil
		}
		if unescaped, err := url.PathUnescape(dest); err == nil {
			dest = unescaped
		}
		refs = append(refs, dest)
		return ast.WalkContinue, nil
	})
	return refs
}

func isRemote(dest string) bool {
	lower := strings.ToLower(dest)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "data:")
}

// Missing returns the image references in the Markdown file at mdPath that
// do not resolve to an existing file, relative to the Markdown directory.
func Missing(mdPath string) ([]string, error) {
	src, err := os.ReadFile(mdPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", mdPath, err)
	}

	base := filepath.Dir(mdPath)
	var missing []string
	for _, ref := range References(src) {
		p := ref
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, filepath.FromSlash(ref))
		}
		if _, err := os.Stat(p); err != nil {
			missing = append(missing, ref)
		}
	}
	return missing, nil
}

// Propagate copies each image into destDir, keeping its base name, and
// returns the destination paths in input order. Images already located in
// destDir are left in place. Existing destination files are replaced.
func Propagate(images []string, destDir string) ([]string, error) {
	if len(images) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", destDir, err)
	}

	absDest, err := filepath.Abs(destDir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", destDir, err)
	}

	copied := make([]string, 0, len(images))
	for _, src := range images {
		dst := filepath.Join(destDir, filepath.Base(src))
		absSrc, err := filepath.Abs(src)
		if err != nil {
			return copied, fmt.Errorf("resolving %s: %w", src, err)
		}
		if filepath.Dir(absSrc) == absDest {
			copied = append(copied, dst)
			continue
		}
		if err := copyFile(src, dst); err != nil {
			return copied, err
		}
		copied = append(copied, dst)
	}
	return copied, nil
}

// copyFile copies src to dst through a temporary file in the destination
// directory, renamed into place on success.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".asset-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	_, copyErr := io.Copy(tmpFile, in)
	closeErr := tmpFile.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("copying %s: %w", src, copyErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

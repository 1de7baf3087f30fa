// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package synth

import (
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// audioExts lists the file extensions treated as audio.
var audioExts = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".m4b":  true,
	".ogg":  true,
	".flac": true,
	".aac":  true,
	".opus": true,
}

// IsAudio reports whether path has an audio extension.
func IsAudio(path string) bool {
	return audioExts[strings.ToLower(filepath.Ext(path))]
}

// Selection narrows which files Segments may return.
type Selection struct {
	// Since keeps only pages and audio written after the snapshot. Audio a
	// fresh page references is kept even when the engine reused it from
	// its cache. Nil keeps everything.
	Since *Snapshot

	// Skip lists files or directories to leave out.
	Skip []string

	// SkipPattern is a filepath.Match pattern for file names directly in
	// the output directory to leave out, such as the encoded books of every
	// job sharing it.
	SkipPattern string
}

func (s Selection) skips(root, path string, skipped map[string]bool) bool {
	if skipped[filepath.Clean(path)] {
		return true
	}
	if s.SkipPattern == "" || filepath.Clean(filepath.Dir(path)) != filepath.Clean(root) {
		return false
	}
	ok, _ := filepath.Match(s.SkipPattern, filepath.Base(path))
	return ok
}

// Segments returns the audio files the engine wrote under outputDir, in
// playback order.
//
// When the engine exported its page site (index.html, 1.html, 2.html, ...)
// the order of the <audio> sources on those pages is used, stopping at the
// first page sel.Since does not count as written. Otherwise every written
// audio file under outputDir is returned sorted by path.
func Segments(outputDir string, sel Selection) ([]string, error) {
	skipped := make(map[string]bool, len(sel.Skip))
	for _, s := range sel.Skip {
		skipped[filepath.Clean(s)] = true
	}

	ordered, err := pageOrder(outputDir, sel.Since)
	if err != nil {
		return nil, err
	}
	var segments []string
	for _, p := range ordered {
		if !sel.skips(outputDir, p, skipped) {
			segments = append(segments, p)
		}
	}
	if len(segments) > 0 {
		return segments, nil
	}

	return walkAudio(outputDir, sel, skipped)
}

// pageOrder reads index.html, 1.html, 2.html, ... from dir while they are
// written after since and returns the existing local audio files they
// reference, first occurrence only.
func pageOrder(dir string, since *Snapshot) ([]string, error) {
	var (
		out  []string
		seen = make(map[string]bool)
	)
	for i := 0; ; i++ {
		name := strconv.Itoa(i) + ".html"
		if i == 0 {
			name = "index.html"
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return out, nil
			}
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		if !since.Written(path) {
			return out, nil
		}

		srcs, err := audioSources(string(data))
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
		for _, src := range srcs {
			p, ok := localPath(dir, src)
			if !ok || seen[p] {
				continue
			}
			if info, err := os.Stat(p); err != nil || info.IsDir() {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
}

// audioSources returns the src attributes of <audio> elements and of
// <source> elements nested in them, in document order.
func audioSources(page string) ([]string, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, err
	}

	var srcs []string
	var visit func(n *html.Node, inAudio bool)
	visit = func(n *html.Node, inAudio bool) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "audio":
				inAudio = true
				if v := attr(n, "src"); v != "" {
					srcs = append(srcs, v)
				}
			case n.Data == "source" && inAudio:
				if v := attr(n, "src"); v != "" {
					srcs = append(srcs, v)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c, inAudio)
		}
	}
	visit(doc, false)
	return srcs, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

// localPath resolves a page-relative src against dir. URLs with a scheme or
// host are not local.
func localPath(dir, src string) (string, bool) {
	u, err := url.Parse(src)
	if err != nil || u.Scheme != "" || u.Host != "" || u.Path == "" {
		return "", false
	}
	p := filepath.FromSlash(strings.TrimPrefix(u.Path, "/"))
	return filepath.Join(dir, p), true
}

func walkAudio(dir string, sel Selection, skipped map[string]bool) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return fs.SkipDir
			}
			return err
		}
		if sel.skips(dir, path, skipped) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !IsAudio(path) || !sel.Since.Written(path) {
			return nil
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s for audio: %w", dir, err)
	}
	sort.Strings(out)
	return out, nil
}

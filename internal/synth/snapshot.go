// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package synth

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// clockSlack widens the run boundary for filesystems whose timestamps lag
// the wall clock by a tick.
const clockSlack = time.Second

type stamp struct {
	mod  time.Time
	size int64
}

// Snapshot records the pages and audio files under an output directory
// before the engine runs, so files it writes can be told apart from those
// earlier jobs left behind.
type Snapshot struct {
	taken time.Time
	files map[string]stamp
}

// TakeSnapshot records every .html and audio file under dir. A missing dir
// yields an empty snapshot.
func TakeSnapshot(dir string) (*Snapshot, error) {
	s := &Snapshot{taken: time.Now(), files: make(map[string]stamp)}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() || !(IsAudio(path) || isPage(path)) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		s.files[filepath.Clean(path)] = stamp{mod: info.ModTime(), size: info.Size()}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshotting %s: %w", dir, err)
	}
	return s, nil
}

// Written reports whether path was created or rewritten after the snapshot.
// A nil snapshot treats every existing file as written.
func (s *Snapshot) Written(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if s == nil {
		return true
	}
	before, ok := s.files[filepath.Clean(path)]
	if !ok || !info.ModTime().Equal(before.mod) || info.Size() != before.size {
		return true
	}
	return !info.ModTime().Before(s.taken.Add(-clockSlack))
}

func isPage(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".html")
}

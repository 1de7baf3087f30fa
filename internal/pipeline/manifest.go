// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"go.yaml.in/yaml/v3"
)

// ManifestFile is written to the output directory after a successful job.
const ManifestFile = "manifest.yaml"

// writeManifest records res in the output directory and returns the
// manifest path. Failures are logged and do not fail the job.
func (o *Orchestrator) writeManifest(res Result, log logrus.FieldLogger) string {
	if o.opts.SkipManifest {
		return ""
	}
	path := filepath.Join(res.Job.OutputDir, ManifestFile)
	if err := WriteManifest(path, res); err != nil {
		log.WithError(err).Warn("cannot write manifest")
		return ""
	}
	return path
}

// WriteManifest marshals res as YAML to path through a temporary file.
func WriteManifest(path string, res Result) error {
	data, err := yaml.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing manifest: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing manifest: %w", closeErr)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("reading manifest: %w", err)
	}
	var res Result
	if err := yaml.Unmarshal(data, &res); err != nil {
		return Result{}, fmt.Errorf("parsing manifest: %w", err)
	}
	return res, nil
}

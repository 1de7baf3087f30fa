// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys and credentials from a directory of plain-text files
// and from an optional dotenv file. Each file in the directory represents one secret:
// the filename is the key name and the file contents (trimmed) are the value.
//
// Supported key files: google-api-key, openai-api-key.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// Key names understood by the CLI.
const (
	GoogleAPIKey = "google-api-key"
	OpenAIAPIKey = "openai-api-key"
)

// envNames maps secret key names to the environment variables the engines
// themselves read.
var envNames = map[string]string{
	GoogleAPIKey: "GOOGLE_API_KEY",
	OpenAIAPIKey: "OPENAI_API_KEY",
}

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files produce a warning on stderr but do not abort.
func Load(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not read secret %s: %v\n", name, err)
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// LoadEnv loads variables from a dotenv file into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// Resolve returns the value for key, preferring an explicit value, then the
// loaded secrets, then the matching environment variable.
func Resolve(key, explicit string, loaded map[string]string) string {
	if v := strings.TrimSpace(explicit); v != "" {
		return v
	}
	if v, ok := loaded[key]; ok {
		return v
	}
	if env, ok := envNames[key]; ok {
		return strings.TrimSpace(os.Getenv(env))
	}
	return ""
}

// Export sets the environment variable of every known key in loaded that is
// not already set, so engines that read credentials from the environment
// see them. It returns the variable names it set.
func Export(loaded map[string]string) []string {
	var set []string
	for key, env := range envNames {
		v, ok := loaded[key]
		if !ok || os.Getenv(env) != "" {
			continue
		}
		if err := os.Setenv(env, v); err == nil {
			set = append(set, env)
		}
	}
	sort.Strings(set)
	return set
}

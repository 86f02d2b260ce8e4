package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360/controlbus/errors"
)

// ErrUnsafeSource is returned when a configuration file or environment value
// is rejected before parsing.
var ErrUnsafeSource = fmt.Errorf("unsafe configuration source: %w", errors.ErrInvalidConfig)

// Limits applied to configuration sources before they reach the parser.
const (
	maxTreeBytes  = 10 << 20
	maxEnvValue   = 10000
	maxPathLength = 4096
)

var treeExtensions = map[string]bool{".yaml": true, ".yml": true, ".json": true}

func unsafe(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnsafeSource, fmt.Sprintf(format, args...))
}

// checkTreePath accepts YAML or JSON object trees. Relative paths must stay
// under the working directory once cleaned.
func checkTreePath(path string) error {
	switch {
	case path == "":
		return unsafe("empty path")
	case len(path) > maxPathLength:
		return unsafe("path longer than %d bytes", maxPathLength)
	case !treeExtensions[strings.ToLower(filepath.Ext(path))]:
		return unsafe("%s is not a YAML or JSON file", path)
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return unsafe("resolve %s: %v", path, err)
	}
	if filepath.IsAbs(path) {
		return nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return unsafe("working directory: %v", err)
	}
	if rel, err := filepath.Rel(wd, abs); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return unsafe("%s escapes the working directory", path)
	}
	return nil
}

// readTreeFile reads an object tree file after checking its path, kind and size.
func readTreeFile(path string) ([]byte, error) {
	if err := checkTreePath(path); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMissingConfig, err)
	}
	if !info.Mode().IsRegular() {
		return nil, unsafe("%s is not a regular file", path)
	}
	if info.Size() > maxTreeBytes {
		return nil, unsafe("%s is %d bytes, limit %d", path, info.Size(), maxTreeBytes)
	}
	return os.ReadFile(path)
}

// checkEnvValue rejects oversized values and embedded NUL bytes.
func checkEnvValue(key, value string) error {
	if len(value) > maxEnvValue {
		return unsafe("%s longer than %d bytes", key, maxEnvValue)
	}
	if strings.ContainsRune(value, 0) {
		return unsafe("%s contains a NUL byte", key)
	}
	return nil
}

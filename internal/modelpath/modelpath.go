// Package modelpath locates model and frame files on disk and formats
// sizes and durations for reports.
package modelpath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variable names used for path resolution.
const (
	envCacheDir = "CACHE_DIR"
)

const (
	appName               = "hntm-service"
	cacheDirName          = "cache"
	modelsDirName         = "models"
	dotCache              = ".cache"
	defaultDirPermissions = 0o750
)

// Data size constants.
const (
	kilobyte = 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

const (
	secondsInMinute = 60
	secondsInHour   = 3600
	formatSeconds   = "%.1fs"
	formatMinutes   = "%dm %.1fs"
	formatHours     = "%dh %dm"
	formatGB        = "%.1f GB"
	formatMB        = "%.1f MB"
	formatKB        = "%.1f KB"
	formatBytes     = "%d B"
)

// Known file extensions.
const (
	ExtModel    = ".gmm"
	ExtSequence = ".hntm"
)

const (
	errFmtFailedToCreateDir           = "failed to create directory %s: %w"
	errFmtCouldNotResolveAbsolutePath = "could not resolve absolute path for %q: %w"
	errFmtErrorCheckingPath           = "error checking path %q: %w"
	errFmtNotFound                    = "%w: %s"
)

// ErrNotFound is returned when a file cannot be located in any search location.
var ErrNotFound = errors.New("file not found")

// CacheDir returns the application's cache directory, honouring CACHE_DIR and
// falling back to ~/.cache/hntm-service, or the temp dir without a home.
func CacheDir() string {
	if cacheDir := os.Getenv(envCacheDir); cacheDir != "" {
		return cacheDir
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appName, cacheDirName)
	}

	return filepath.Join(homeDir, dotCache, appName)
}

// EnsureDir creates path and its parents if they do not exist.
func EnsureDir(path string) error {
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		mkdirErr := os.MkdirAll(path, defaultDirPermissions)
		if mkdirErr != nil {
			return fmt.Errorf(errFmtFailedToCreateDir, path, mkdirErr)
		}
	}

	return nil
}

// resolveSinglePath reports whether path exists and, if so, its absolute form.
// A stat error other than "not found" stops the search.
func resolveSinglePath(path string) (string, bool, error) {
	_, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return "", false, nil
		}

		return "", false, fmt.Errorf(errFmtErrorCheckingPath, path, statErr)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", false, fmt.Errorf(errFmtCouldNotResolveAbsolutePath, path, err)
	}

	return absPath, true, nil
}

// Resolve finds name as given, then under modelsDir (defaults to "models"),
// then under the cache directory's models folder.
func Resolve(name, modelsDir string) (string, error) {
	if modelsDir == "" {
		modelsDir = modelsDirName
	}

	candidates := []string{
		name,
		filepath.Join(modelsDir, name),
		filepath.Join(CacheDir(), modelsDirName, name),
	}

	for _, path := range candidates {
		resolved, found, err := resolveSinglePath(path)
		if err != nil {
			return "", err
		}

		if found {
			return resolved, nil
		}
	}

	return "", fmt.Errorf(errFmtNotFound, ErrNotFound, name)
}

// IsModelFile reports whether filename carries the GMM extension.
func IsModelFile(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ExtModel)
}

// IsSequenceFile reports whether filename carries the frame sequence extension.
func IsSequenceFile(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ExtSequence)
}

// FormatDuration formats seconds as "45.2s", "5m 30.5s" or "1h 15m".
func FormatDuration(seconds float64) string {
	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if seconds < secondsInHour {
		minutes := int(seconds / secondsInMinute)
		remainingSeconds := seconds - float64(minutes*secondsInMinute)

		return fmt.Sprintf(formatMinutes, minutes, remainingSeconds)
	}

	hours := int(seconds / secondsInHour)
	remainingMinutes := int((seconds - float64(hours*secondsInHour)) / secondsInMinute)

	return fmt.Sprintf(formatHours, hours, remainingMinutes)
}

// FormatFileSize formats a byte count as "1.2 GB", "500.5 MB", "3.0 KB" or "12 B".
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf(formatGB, float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf(formatMB, float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, bytes)
	}
}

// Package audiofile holds file-name helpers shared by the stores and the pipeline:
// the playable extension allow-list, base-name sanitising and size formatting.
package audiofile

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// Data size constants.
const (
	kilobyte = 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

// Size formatting constants.
const (
	formatGB    = "%.1f GB"
	formatMB    = "%.1f MB"
	formatKB    = "%.1f KB"
	formatBytes = "%d B"
)

const (
	invalidCharReplacement = "_"
	defaultBaseName        = "audio"
	maxBaseNameRunes       = 64
)

// playableExtensions is the allow-list used when listing a local uploads directory.
var playableExtensions = map[string]struct{}{
	".mp3":  {},
	".wav":  {},
	".ogg":  {},
	".m4a":  {},
	".aac":  {},
	".flac": {},
}

// IsPlayable reports whether filename carries a known audio extension.
// Hidden files are never playable.
func IsPlayable(filename string) bool {
	base := filepath.Base(filename)
	if strings.HasPrefix(base, ".") {
		return false
	}

	_, ok := playableExtensions[strings.ToLower(filepath.Ext(base))]

	return ok
}

// Extension returns the lower-cased extension of filename, or fallback when it has none.
func Extension(filename, fallback string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" || ext == "." {
		return fallback
	}

	return ext
}

// SanitizeBaseName strips the extension and any directory from a user supplied
// name and replaces characters that are unsafe in file names or URLs.
func SanitizeBaseName(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))

	var builder strings.Builder

	count := 0

	for _, r := range base {
		if count == maxBaseNameRunes {
			break
		}

		switch {
		case r == '-' || r == '_':
			builder.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			builder.WriteRune(r)
		default:
			builder.WriteString(invalidCharReplacement)
		}

		count++
	}

	cleaned := strings.Trim(builder.String(), "_-")
	if cleaned == "" {
		return defaultBaseName
	}

	return cleaned
}

// ValidID reports whether id is a bare file name usable as a store key.
func ValidID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}

	return !strings.ContainsAny(id, "/\\") && !strings.HasPrefix(id, ".")
}

// FormatFileSize formats a file size in a human-readable string (e.g., "1.2 GB", "500.5 MB").
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

// Package helpers contains small pure functions shared across packages.
package helpers

import (
	"path/filepath"
	"regexp"
	"strings"
)

var sanRegex = regexp.MustCompile(`[\/:*?"><|]`)

// SanitizeFilename replaces characters that are unsafe in filenames.
func SanitizeFilename(name string) string {
	return sanRegex.ReplaceAllString(name, "_")
}

// TitleFromFilename derives the destination title from a source filename:
// the base name with its extension stripped.
func TitleFromFilename(name string) string {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	title := strings.TrimSuffix(base, ext)
	if title == "" {
		return base
	}
	return title
}

// NormalizeExtensions lowercases extensions and ensures each starts with a
// dot. Empty entries are dropped.
func NormalizeExtensions(exts []string) []string {
	var out []string
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

// HasAllowedExtension reports whether name ends in one of exts
// (case-insensitive). An empty exts list allows everything.
func HasAllowedExtension(name string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, e := range exts {
		if strings.HasSuffix(lower, e) {
			return true
		}
	}
	return false
}

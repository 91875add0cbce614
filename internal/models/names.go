package models

import (
	"regexp"
	"strings"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9.]`)

// SanitizeFilename replaces every character outside [A-Za-z0-9.] with '_'.
func SanitizeFilename(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// ParseTagString splits a raw tag string. Comma separated strings are split
// on commas, anything else on whitespace. Duplicates keep their first position.
func ParseTagString(s string) []string {
	var parts []string
	if strings.Contains(s, ",") {
		parts = strings.Split(s, ",")
	} else {
		parts = strings.Fields(s)
	}

	seen := make(map[string]bool, len(parts))
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		tags = append(tags, p)
	}
	return tags
}

// NewTags builds tag rows for a trace from a raw tag string.
func NewTags(s string) []Tag {
	names := ParseTagString(s)
	tags := make([]Tag, 0, len(names))
	for _, n := range names {
		tags = append(tags, Tag{Tag: n})
	}
	return tags
}

package util

import (
	"regexp"
	"strings"
)

// SplitCommaSeparated splits a comma-separated string and trims whitespace from each element.
// Empty input returns nil.
func SplitCommaSeparated(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// SplitList splits host or command lists that may be separated by commas,
// newlines, or both. Lines starting with '#' are comments. Duplicates keep
// their first position.
func SplitList(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var out []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, item := range SplitCommaSeparated(line) {
			if !seen[item] {
				seen[item] = true
				out = append(out, item)
			}
		}
	}
	return out
}

// SplitLines splits text into lines, dropping blank ones and trailing
// whitespace. Commas are kept, so config and command lines survive intact.
func SplitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeName replaces characters that are unsafe in file names. IPv6
// colons and path separators become hyphens.
func SanitizeName(name string) string {
	return unsafeFileChars.ReplaceAllString(name, "-")
}

package gitevidence

import (
	"strings"
	"unicode/utf8"

	"github.com/contox/cli/cmd/contox/cli/exclude"
)

// Patch bounds.
const (
	// MaxDiffLines is the largest insertions+deletions total that still gets a patch.
	MaxDiffLines = 300
	// MaxDiffChars caps the attached patch.
	MaxDiffChars = 8000
	// TruncationMarker is appended to a patch cut at MaxDiffChars.
	TruncationMarker = "\n... [diff truncated]"
)

const sectionHeader = "diff --git "

// FilterDiff drops the sections of a unified diff whose path is excluded or
// that describe a binary file.
func FilterDiff(diff string, filter *exclude.Filter) string {
	if diff == "" {
		return ""
	}
	var b strings.Builder
	for _, section := range splitSections(diff) {
		if strings.Contains(section, "Binary files ") || strings.Contains(section, "GIT binary patch") {
			continue
		}
		if p := sectionPath(section); p != "" && filter.Excluded(p) {
			continue
		}
		b.WriteString(section)
	}
	return b.String()
}

func splitSections(diff string) []string {
	var sections []string
	start := 0
	for {
		next := strings.Index(diff[start+1:], "\n"+sectionHeader)
		if next < 0 {
			sections = append(sections, diff[start:])
			return sections
		}
		end := start + 1 + next + 1
		sections = append(sections, diff[start:end])
		start = end
	}
}

// sectionPath returns the b/ path of a "diff --git a/x b/y" header.
func sectionPath(section string) string {
	header, _, _ := strings.Cut(section, "\n")
	rest, ok := strings.CutPrefix(header, sectionHeader)
	if !ok {
		return ""
	}
	if i := strings.LastIndex(rest, " b/"); i >= 0 {
		return unquotePath(rest[i+3:])
	}
	return ""
}

// TruncateDiff caps diff at limit characters, cutting at the last line
// boundary inside the limit and appending TruncationMarker.
func TruncateDiff(diff string, limit int) string {
	if len(diff) <= limit {
		return diff
	}
	n := limit
	for n > 0 && !utf8.RuneStart(diff[n]) {
		n--
	}
	cut := diff[:n]
	if i := strings.LastIndexByte(cut, '\n'); i > 0 {
		cut = cut[:i]
	}
	return cut + TruncationMarker
}

// Package exclude decides whether a repository path is noise that should
// never be reported as evidence (lock files, build output, secrets).
//
// Pattern forms, all case-insensitive:
//
//	*.ext       suffix match
//	dir/**      the directory (from the repository root) and everything below it
//	literal     exact path
//	**/name     a file or directory component called name at any depth
//	**/dir/**   dir/** at any depth
package exclude

import "strings"

var defaultPatterns = []string{
	// dependencies and build output
	"node_modules/**",
	"**/node_modules/**",
	"vendor/**",
	"dist/**",
	"build/**",
	"out/**",
	"target/**",
	".next/**",
	"coverage/**",
	"**/__pycache__/**",
	".contox/**",
	".git/**",

	// lock files
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",
	"go.sum",
	"Cargo.lock",
	"poetry.lock",

	// secrets
	"*.env",
	"*.pem",
	"*.key",
	"*.p12",
	"id_rsa",
	"credentials.json",

	// generated or binary
	"*.min.js",
	"*.map",
	"*.log",
	"*.png",
	"*.jpg",
	"*.gif",
	"*.ico",
	"*.pdf",
	"*.zip",
	"**/.DS_Store",
}

// Defaults returns a copy of the built-in pattern set.
func Defaults() []string {
	out := make([]string, len(defaultPatterns))
	copy(out, defaultPatterns)
	return out
}

// Normalize converts OS separators to '/' and strips a leading "./".
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.TrimPrefix(p, "./")
}

// Match reports whether p is excluded by any pattern.
func Match(p string, patterns []string) bool {
	p = strings.ToLower(Normalize(p))
	if p == "" {
		return false
	}
	for _, pat := range patterns {
		if matchOne(p, strings.ToLower(Normalize(strings.TrimSpace(pat)))) {
			return true
		}
	}
	return false
}

func matchOne(p, pat string) bool {
	switch {
	case pat == "":
		return false
	case strings.HasPrefix(pat, "**/"):
		return matchAnyDepth(p, strings.TrimPrefix(pat, "**/"))
	case strings.HasSuffix(pat, "/**"):
		dir := strings.TrimSuffix(pat, "/**")
		if dir == "" {
			return true
		}
		return p == dir || strings.HasPrefix(p, dir+"/")
	case strings.HasPrefix(pat, "*.") && !strings.ContainsAny(pat[1:], "*/"):
		return strings.HasSuffix(p, pat[1:])
	default:
		return p == pat
	}
}

// matchAnyDepth applies rest (a literal or dir/** pattern) to p and to every
// suffix of p that starts at a path component.
func matchAnyDepth(p, rest string) bool {
	if rest == "" || strings.HasPrefix(rest, "**/") {
		return false
	}
	for {
		if matchOne(p, rest) {
			return true
		}
		i := strings.IndexByte(p, '/')
		if i < 0 {
			return false
		}
		p = p[i+1:]
	}
}

// Filter binds a pattern list for repeated use.
type Filter struct {
	patterns []string
}

// New returns a Filter over patterns.
func New(patterns []string) *Filter {
	cp := make([]string, len(patterns))
	copy(cp, patterns)
	return &Filter{patterns: cp}
}

// Excluded reports whether p is excluded.
func (f *Filter) Excluded(p string) bool {
	if f == nil {
		return false
	}
	return Match(p, f.patterns)
}

// Keep returns the normalized paths that are not excluded, preserving order.
func (f *Filter) Keep(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !f.Excluded(p) {
			out = append(out, Normalize(p))
		}
	}
	return out
}

// Patterns returns a copy of the bound patterns.
func (f *Filter) Patterns() []string {
	out := make([]string, len(f.patterns))
	copy(out, f.patterns)
	return out
}

// Package redact scrubs secrets from text before it leaves the machine:
// commit diffs, user requests and shell commands lifted from transcripts.
package redact

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Placeholder replaces every detected secret.
const Placeholder = "REDACTED"

// secretPattern matches high-entropy strings that may be secrets.
var secretPattern = regexp.MustCompile(`[A-Za-z0-9/+_=-]{10,}`)

// entropyThreshold is the minimum Shannon entropy for a token to count as a
// secret. Hex digests (commit SHAs, blob ids) stay below it.
const entropyThreshold = 4.5

var (
	gitleaksDetector     *detect.Detector
	gitleaksDetectorOnce sync.Once
)

func getDetector() *detect.Detector {
	gitleaksDetectorOnce.Do(func() {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return
		}
		gitleaksDetector = d
	})
	return gitleaksDetector
}

type region struct{ start, end int }

// String replaces secrets in s with Placeholder. A span is redacted when
// either the entropy check or a gitleaks rule flags it.
func String(s string) string {
	if s == "" {
		return s
	}
	regions := entropyRegions(s)
	regions = append(regions, detectorRegions(s)...)
	if len(regions) == 0 {
		return s
	}
	return replace(s, merge(regions))
}

func entropyRegions(s string) []region {
	var out []region
	for _, loc := range secretPattern.FindAllStringIndex(s, -1) {
		if shannonEntropy(s[loc[0]:loc[1]]) > entropyThreshold {
			out = append(out, region{loc[0], loc[1]})
		}
	}
	return out
}

func detectorRegions(s string) []region {
	d := getDetector()
	if d == nil {
		return nil
	}
	var out []region
	for _, f := range d.DetectString(s) {
		if f.Secret == "" {
			continue
		}
		from := 0
		for {
			idx := strings.Index(s[from:], f.Secret)
			if idx < 0 {
				break
			}
			abs := from + idx
			out = append(out, region{abs, abs + len(f.Secret)})
			from = abs + len(f.Secret)
		}
	}
	return out
}

func merge(regions []region) []region {
	sort.Slice(regions, func(i, j int) bool {
		return regions[i].start < regions[j].start
	})
	merged := []region{regions[0]}
	for _, r := range regions[1:] {
		last := &merged[len(merged)-1]
		if r.start <= last.end {
			last.end = max(last.end, r.end)
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

func replace(s string, regions []region) string {
	var b strings.Builder
	prev := 0
	for _, r := range regions {
		b.WriteString(s[prev:r.start])
		b.WriteString(Placeholder)
		prev = r.end
	}
	b.WriteString(s[prev:])
	return b.String()
}

// Diff redacts a unified diff line by line so hunk structure survives.
// Header lines (diff --git, index, ---/+++, @@) are left untouched.
func Diff(diff string) string {
	if diff == "" {
		return diff
	}
	lines := strings.Split(diff, "\n")
	changed := false
	for i, line := range lines {
		if isDiffHeader(line) {
			continue
		}
		if r := String(line); r != line {
			lines[i] = r
			changed = true
		}
	}
	if !changed {
		return diff
	}
	return strings.Join(lines, "\n")
}

func isDiffHeader(line string) bool {
	for _, p := range []string{"diff --git ", "index ", "--- ", "+++ ", "@@ "} {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// Redactor applies String when enabled and is the identity otherwise.
// The zero value is disabled.
type Redactor struct {
	Enabled bool
}

// String redacts s if enabled.
func (r Redactor) String(s string) string {
	if !r.Enabled {
		return s
	}
	return String(s)
}

// Diff redacts a unified diff if enabled.
func (r Redactor) Diff(s string) string {
	if !r.Enabled {
		return s
	}
	return Diff(s)
}

func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	freq := make(map[byte]int)
	for i := range len(s) {
		freq[s[i]]++
	}
	length := float64(len(s))
	var entropy float64
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}

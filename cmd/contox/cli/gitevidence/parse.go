package gitevidence

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"
)

// Sentinels used in the git log format string. Neither byte can appear in a
// commit subject or author name.
const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
)

// logFormat yields: full sha, subject, author name, strict ISO author date.
const logFormat = "%H%x1f%s%x1f%an%x1f%aI%x1e"

var shaRegex = regexp.MustCompile(`^[0-9a-f]{7,64}$`)

// LogEntry is one commit header from git log.
type LogEntry struct {
	SHA     string
	Subject string
	Author  string
	Date    string
}

// ParseLog parses output produced with logFormat. Records that do not carry
// exactly four fields or a hex sha are skipped and counted in malformed.
func ParseLog(out []byte) (entries []LogEntry, malformed int) {
	for _, rec := range strings.Split(string(out), recordSep) {
		rec = strings.Trim(rec, "\r\n")
		if rec == "" {
			continue
		}
		fields := strings.Split(rec, fieldSep)
		if len(fields) != 4 {
			malformed++
			continue
		}
		sha := strings.TrimSpace(fields[0])
		if !shaRegex.MatchString(sha) {
			malformed++
			continue
		}
		entries = append(entries, LogEntry{
			SHA:     sha,
			Subject: fields[1],
			Author:  fields[2],
			Date:    strings.TrimSpace(fields[3]),
		})
	}
	return entries, malformed
}

// FileStat is one line of git --numstat output.
type FileStat struct {
	Path    string
	Added   int
	Removed int
	Binary  bool
}

// ParseNumstat parses "added<TAB>removed<TAB>path" lines. Binary files report
// "-" for both counts and are recorded with zero counts. Lines that do not fit
// the shape are skipped and counted in malformed.
func ParseNumstat(out []byte) (stats []FileStat, malformed int) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 || parts[2] == "" {
			malformed++
			continue
		}

		st := FileStat{Path: unquotePath(parts[2])}
		if parts[0] == "-" && parts[1] == "-" {
			st.Binary = true
			stats = append(stats, st)
			continue
		}
		added, errA := strconv.Atoi(parts[0])
		removed, errR := strconv.Atoi(parts[1])
		if errA != nil || errR != nil || added < 0 || removed < 0 {
			malformed++
			continue
		}
		st.Added, st.Removed = added, removed
		stats = append(stats, st)
	}
	return stats, malformed
}

// unquotePath undoes git's C-style quoting of unusual path names.
func unquotePath(p string) string {
	if len(p) >= 2 && p[0] == '"' && p[len(p)-1] == '"' {
		if u, err := strconv.Unquote(p); err == nil {
			return u
		}
	}
	return p
}

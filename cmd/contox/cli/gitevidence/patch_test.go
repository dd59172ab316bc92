package gitevidence

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/contox/cli/cmd/contox/cli/exclude"
)

const sampleDiff = `diff --git a/main.go b/main.go
index 1111111..2222222 100644
--- a/main.go
+++ b/main.go
@@ -1 +1 @@
-package old
+package main
diff --git a/secrets.env b/secrets.env
new file mode 100644
index 0000000..3333333
--- /dev/null
+++ b/secrets.env
@@ -0,0 +1 @@
+TOKEN=abc
diff --git a/logo.png b/logo.png
new file mode 100644
index 0000000..4444444
Binary files /dev/null and b/logo.png differ
diff --git a/util.go b/util.go
index 5555555..6666666 100644
--- a/util.go
+++ b/util.go
@@ -1 +1,2 @@
 package main
+func helper() {}
`

func TestFilterDiff(t *testing.T) {
	t.Parallel()

	got := FilterDiff(sampleDiff, exclude.New([]string{"*.env"}))

	assert.Contains(t, got, "diff --git a/main.go b/main.go")
	assert.Contains(t, got, "diff --git a/util.go b/util.go")
	assert.Contains(t, got, "+func helper() {}")
	assert.NotContains(t, got, "secrets.env")
	assert.NotContains(t, got, "TOKEN=abc")
	assert.NotContains(t, got, "logo.png")
}

func TestFilterDiff_NoFilterKeepsText(t *testing.T) {
	t.Parallel()
	diff := "diff --git a/a.go b/a.go\n+x\n"
	assert.Equal(t, diff, FilterDiff(diff, nil))
}

func TestTruncateDiff(t *testing.T) {
	t.Parallel()

	short := "line1\nline2\n"
	assert.Equal(t, short, TruncateDiff(short, 100))

	long := strings.Repeat("0123456789\n", 20) // 220 chars
	got := TruncateDiff(long, 105)

	assert.True(t, strings.HasSuffix(got, TruncationMarker))
	body := strings.TrimSuffix(got, TruncationMarker)
	assert.LessOrEqual(t, len(body), 105)
	for _, line := range strings.Split(body, "\n") {
		assert.Equal(t, "0123456789", line, "truncation must land on a line boundary")
	}
}

func TestTruncateDiff_MultiByteLineKeepsValidUTF8(t *testing.T) {
	t.Parallel()

	diff := "+" + strings.Repeat("é", 5000)
	got := TruncateDiff(diff, MaxDiffChars)

	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, TruncationMarker))
	assert.LessOrEqual(t, len(strings.TrimSuffix(got, TruncationMarker)), MaxDiffChars)
}

func TestTruncateDiff_CutsOnRuneBoundary(t *testing.T) {
	t.Parallel()

	// "ab" then a 3-byte rune; a limit of 4 lands inside it.
	got := TruncateDiff("ab€cd", 4)
	assert.Equal(t, "ab"+TruncationMarker, got)
}

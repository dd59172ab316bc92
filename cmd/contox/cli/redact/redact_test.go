package redact

import (
	"strings"
	"testing"
)

// highEntropySecret has Shannon entropy > 4.5 and triggers redaction.
const highEntropySecret = "sk-ant-REDACTED"

func TestString_NoSecrets(t *testing.T) {
	t.Parallel()
	input := "fix flaky watcher test in capture package"
	if got := String(input); got != input {
		t.Errorf("expected unchanged input, got %q", got)
	}
}

func TestString_WithSecret(t *testing.T) {
	t.Parallel()
	got := String("export TOKEN " + highEntropySecret + " now")
	want := "export TOKEN REDACTED now"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestString_CommitSHAUntouched(t *testing.T) {
	t.Parallel()
	input := "reverted 3f786850e387550fdab836ed7e6dc881de23001b"
	if got := String(input); got != input {
		t.Errorf("hex digest should not be redacted, got %q", got)
	}
}

func TestDiff_PreservesHeaders(t *testing.T) {
	t.Parallel()
	diff := strings.Join([]string{
		"diff --git a/config.go b/config.go",
		"index 83db48f..bf269f4 100644",
		"--- a/config.go",
		"+++ b/config.go",
		"@@ -1,3 +1,3 @@",
		`-const key = ""`,
		`+const key = "` + highEntropySecret + `"`,
	}, "\n")

	got := Diff(diff)
	if !strings.HasPrefix(got, "diff --git a/config.go b/config.go\nindex 83db48f..bf269f4 100644\n") {
		t.Errorf("headers changed: %q", got)
	}
	if strings.Contains(got, highEntropySecret) {
		t.Errorf("secret survived: %q", got)
	}
	if !strings.Contains(got, `+const key = "REDACTED"`) {
		t.Errorf("expected redacted added line, got %q", got)
	}
}

func TestRedactor_Disabled(t *testing.T) {
	t.Parallel()
	var r Redactor
	input := "token " + highEntropySecret
	if got := r.String(input); got != input {
		t.Errorf("disabled redactor changed input: %q", got)
	}
	if got := (Redactor{Enabled: true}).String(input); got == input {
		t.Error("enabled redactor left secret in place")
	}
}

func TestShannonEntropy(t *testing.T) {
	t.Parallel()
	if e := shannonEntropy("aaaaaaaa"); e != 0 {
		t.Errorf("entropy of repeated char = %v, want 0", e)
	}
	if e := shannonEntropy(highEntropySecret); e <= entropyThreshold {
		t.Errorf("entropy of secret = %v, want > %v", e, entropyThreshold)
	}
}

package exclude

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     string
		patterns []string
		want     bool
	}{
		{"suffix", "secrets.env", []string{"*.env"}, true},
		{"suffix case-insensitive", "config/PROD.ENV", []string{"*.env"}, true},
		{"suffix no match", "env.go", []string{"*.env"}, false},
		{"dir prefix", "node_modules/react/index.js", []string{"node_modules/**"}, true},
		{"dir itself", "node_modules", []string{"node_modules/**"}, true},
		{"dir is anchored at the root", "cmd/build/main.go", []string{"build/**"}, false},
		{"any-depth dir", "web/node_modules/x.js", []string{"**/node_modules/**"}, true},
		{"any-depth dir at root", "node_modules/x.js", []string{"**/node_modules/**"}, true},
		{"any-depth dir needs a whole component", "web/my_node_modules/x.js", []string{"**/node_modules/**"}, false},
		{"dir windows separators", `dist\bundle.js`, []string{"dist/**"}, true},
		{"dir prefix is not a substring match", "distribution/a.go", []string{"dist/**"}, false},
		{"literal full path", "go.sum", []string{"go.sum"}, true},
		{"literal is an exact path", "docs/go.sum", []string{"go.sum"}, false},
		{"any-depth literal", "services/api/.DS_Store", []string{"**/.ds_store"}, true},
		{"any-depth literal whole name", "services/api/x.DS_Store", []string{"**/.DS_Store"}, false},
		{"literal case-insensitive", "YARN.LOCK", []string{"yarn.lock"}, true},
		{"literal no partial", "go.summary", []string{"go.sum"}, false},
		{"dot slash prefix", "./build/out.o", []string{"build/**"}, true},
		{"empty pattern ignored", "main.go", []string{""}, false},
		{"empty path", "", []string{"*.go"}, false},
		{"no patterns", "main.go", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Match(tt.path, tt.patterns))
		})
	}
}

func TestDefaults_SecretsEnvExcluded(t *testing.T) {
	t.Parallel()
	assert.True(t, Match("secrets.env", Defaults()))
	assert.True(t, Match("package-lock.json", Defaults()))
	assert.True(t, Match("services/api/.env", Defaults()))
	assert.True(t, Match("web/node_modules/react/index.js", Defaults()))
	assert.False(t, Match("cmd/contox/main.go", Defaults()))
}

func TestDefaults_KeepsSourceUnderBuildLikeDirs(t *testing.T) {
	t.Parallel()
	for _, p := range []string{
		"cmd/build/main.go",
		"internal/out/report.go",
		"services/target/x.rs",
		"docs/go.sum",
		"pkg/dist/dist.go",
	} {
		assert.False(t, Match(p, Defaults()), p)
	}
	assert.True(t, Match("build/main.o", Defaults()))
	assert.True(t, Match("target/debug/app", Defaults()))
}

func TestDefaults_ReturnsCopy(t *testing.T) {
	t.Parallel()
	d := Defaults()
	d[0] = "mutated"
	assert.NotEqual(t, "mutated", Defaults()[0])
}

func TestFilter_Keep(t *testing.T) {
	t.Parallel()
	f := New([]string{"*.lock", "dist/**"})
	got := f.Keep([]string{"a.go", `dist\x.js`, "Cargo.lock", "b/c.ts"})
	assert.Equal(t, []string{"a.go", "b/c.ts"}, got)
}

func TestFilter_NilKeepsEverything(t *testing.T) {
	t.Parallel()
	var f *Filter
	assert.False(t, f.Excluded("secrets.env"))
}

var segment = rapid.StringMatching(`[A-Za-z0-9_.-]{1,8}`)

func TestMatch_Deterministic(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		segs := rapid.SliceOfN(segment, 1, 4).Draw(t, "segments")
		p := ""
		for i, s := range segs {
			if i > 0 {
				p += rapid.SampledFrom([]string{"/", `\`}).Draw(t, "sep")
			}
			p += s
		}
		patterns := rapid.SliceOfN(rapid.OneOf(
			rapid.Just("*.env"),
			rapid.Just("dist/**"),
			segment,
			rapid.Map(segment, func(s string) string { return "*." + s }),
			rapid.Map(segment, func(s string) string { return s + "/**" }),
		), 0, 5).Draw(t, "patterns")
		before := append([]string(nil), patterns...)

		first := Match(p, patterns)
		for range 3 {
			if Match(p, patterns) != first {
				t.Fatalf("Match(%q, %v) not deterministic", p, patterns)
			}
		}
		assert.Equal(t, before, patterns, "patterns mutated")
		if Match(Normalize(p), patterns) != first {
			t.Fatalf("normalizing %q changed the result", p)
		}
	})
}

func TestMatch_CaseInsensitive(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		p := segment.Draw(t, "path")
		pat := rapid.SampledFrom([]string{p, "*." + p, p + "/**"}).Draw(t, "pattern")
		if !Match(p, []string{pat}) && pat != "*."+p {
			t.Fatalf("%q should match %q", p, pat)
		}
		lower, upper := Match(p, []string{pat}), Match(p, []string{toUpper(pat)})
		if lower != upper {
			t.Fatalf("case changed the result for %q / %q", p, pat)
		}
	})
}

func toUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 32
		}
	}
	return string(b)
}

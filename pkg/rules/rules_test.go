package rules

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const pingRules = `[
	{"method": "GET", "urlRegex": "/ping", "enabled": true, "mockResponsePath": "m1.json"},
	{"method": "POST", "urlRegex": "/users/\\d+", "enabled": false, "mockResponsePath": "m2.json"}
]`

func TestParse_JSON(t *testing.T) {
	set, err := Parse([]byte(pingRules), FormatJSON, "matcher.json")
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())

	first := set.At(0)
	assert.Equal(t, "GET", first.Method)
	assert.Equal(t, "/ping", first.URLRegex)
	assert.True(t, first.Enabled)
	assert.Equal(t, "m1.json", first.MockResponsePath)
	assert.Equal(t, 0, first.Index)
	assert.Equal(t, "matcher.json", first.Source)

	assert.Equal(t, 1, set.At(1).Index)
	assert.False(t, set.At(1).Enabled)
	assert.Equal(t, "matcher.json", set.Source())
}

func TestParse_YAML(t *testing.T) {
	doc := `
- method: GET
  urlRegex: /ping
  enabled: true
  mockResponsePath: m1.yaml
`
	set, err := Parse([]byte(doc), FormatYAML, "rules.yaml")
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())
	assert.Equal(t, "m1.yaml", set.At(0).MockResponsePath)
}

func TestParse_EmptyList(t *testing.T) {
	set, err := Parse([]byte(`[]`), FormatJSON, "empty.json")
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		wantErr  error
		wantPath string
	}{
		{"empty", ``, ErrEmpty, ""},
		{"bad json", `[{`, ErrInvalidSyntax, ""},
		{"not a list", `{"method": "GET"}`, ErrInvalidRules, "rules"},
		{
			name:     "enabled as string",
			doc:      `[{"method": "GET", "urlRegex": "/x", "enabled": "true", "mockResponsePath": "m"}]`,
			wantErr:  ErrInvalidRules,
			wantPath: "rules[0].enabled",
		},
		{
			name:     "enabled as number",
			doc:      `[{"method": "GET", "urlRegex": "/x", "enabled": 1, "mockResponsePath": "m"}]`,
			wantErr:  ErrInvalidRules,
			wantPath: "rules[0].enabled",
		},
		{
			name:     "missing mock path",
			doc:      `[{"method": "GET", "urlRegex": "/x", "enabled": true}]`,
			wantErr:  ErrInvalidRules,
			wantPath: "rules[0]",
		},
		{
			name:     "bad regex",
			doc:      `[{"method": "GET", "urlRegex": "/x", "enabled": true, "mockResponsePath": "m"}, {"method": "GET", "urlRegex": "(", "enabled": true, "mockResponsePath": "m"}]`,
			wantErr:  ErrInvalidRules,
			wantPath: "rules[1].urlRegex",
		},
		{
			name:     "empty method",
			doc:      `[{"method": "", "urlRegex": "/x", "enabled": true, "mockResponsePath": "m"}]`,
			wantErr:  ErrInvalidRules,
			wantPath: "rules[0].method",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := Parse([]byte(tt.doc), FormatJSON, "matcher.json")
			require.Error(t, err)
			assert.Nil(t, set)
			assert.ErrorIs(t, err, tt.wantErr)

			var cerr *ConfigLoadError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, "matcher.json", cerr.Source)

			if tt.wantPath != "" {
				var verrs ValidationErrors
				require.ErrorAs(t, err, &verrs)
				require.NotEmpty(t, verrs)
				assert.Equal(t, tt.wantPath, verrs[0].Path)
			}
		})
	}
}

func TestNew(t *testing.T) {
	set, err := New(
		Rule{Method: "GET", URLRegex: "/a", Enabled: true, MockResponsePath: "a"},
		Rule{Method: "GET", URLRegex: "/b", Enabled: true, MockResponsePath: "b"},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, "inline", set.Source())
	assert.Equal(t, 1, set.At(1).Index)

	_, err = New(Rule{Method: "GET", URLRegex: "[", MockResponsePath: "a"})
	assert.ErrorIs(t, err, ErrInvalidRules)
}

func TestRuleMatches(t *testing.T) {
	set, err := New(
		Rule{Method: "GET", URLRegex: `/users/\d+`, Enabled: true, MockResponsePath: "u"},
		Rule{Method: "GET", URLRegex: `/ping`, Enabled: false, MockResponsePath: "p"},
	)
	require.NoError(t, err)
	users := set.At(0)
	disabled := set.At(1)

	assert.True(t, users.Matches("GET", "https://api.example.com/users/42/profile"), "substring match")
	assert.False(t, users.Matches("get", "https://api.example.com/users/42"), "method is case-sensitive")
	assert.False(t, users.Matches("POST", "https://api.example.com/users/42"))
	assert.False(t, users.Matches("GET", "https://api.example.com/users/abc"))
	assert.False(t, disabled.Matches("GET", "http://x/ping"), "disabled never matches")
}

func TestRulesReturnsCopy(t *testing.T) {
	set, err := New(Rule{Method: "GET", URLRegex: "/a", Enabled: true, MockResponsePath: "a"})
	require.NoError(t, err)

	list := set.Rules()
	list[0].Method = "POST"
	assert.Equal(t, "GET", set.At(0).Method)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "matcher.json", pingRules)

	set, err := FileSource(path)()
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, path, set.At(0).Source)
}

func TestFileSource_NotFound(t *testing.T) {
	_, err := FileSource(filepath.Join(t.TempDir(), "missing.json"))()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileSource_Directory(t *testing.T) {
	_, err := FileSource(t.TempDir())()
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestFileSource_Glob(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "rules.d/20-users.yaml", `
- method: GET
  urlRegex: /users
  enabled: true
  mockResponsePath: users.json
`)
	writeFile(t, dir, "rules.d/10-ping.json", `[
		{"method": "GET", "urlRegex": "/ping", "enabled": true, "mockResponsePath": "ping.json"},
		{"method": "GET", "urlRegex": "/pong", "enabled": true, "mockResponsePath": "pong.json"}
	]`)
	writeFile(t, dir, "rules.d/notes.txt", "ignored")

	set, err := FileSource(filepath.Join(dir, "rules.d", "*.{json,yaml}"))()
	require.NoError(t, err)
	require.Equal(t, 3, set.Len())

	assert.Equal(t, "/ping", set.At(0).URLRegex)
	assert.Equal(t, "/pong", set.At(1).URLRegex)
	assert.Equal(t, "/users", set.At(2).URLRegex)
	assert.Equal(t, 2, set.At(2).Index)
	assert.Equal(t, filepath.Join(dir, "rules.d", "20-users.yaml"), set.At(2).Source)
}

func TestFileSource_GlobNoMatches(t *testing.T) {
	_, err := FileSource(filepath.Join(t.TempDir(), "*.json"))()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileSource_GlobBadFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `[]`)
	bad := writeFile(t, dir, "b.json", `[{"method": 7}]`)

	_, err := FileSource(filepath.Join(dir, "*.json"))()
	var cerr *ConfigLoadError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, bad, cerr.Source)
}

func TestBaseDir(t *testing.T) {
	assert.Equal(t, filepath.Join("config", "rules"), BaseDir(filepath.Join("config", "rules", "matcher.json")))
	assert.Equal(t, "rules.d", BaseDir("rules.d/*.json"))
	assert.Equal(t, "rules", BaseDir("rules/**/*.yaml"))
}

func TestLoader_LoadsOnce(t *testing.T) {
	var calls atomic.Int32
	set, err := New(Rule{Method: "GET", URLRegex: "/a", Enabled: true, MockResponsePath: "a"})
	require.NoError(t, err)

	loader := NewLoader(func() (*RuleSet, error) {
		calls.Add(1)
		return set, nil
	})

	const callers = 64
	results := make([]*RuleSet, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			got, err := loader.RuleSet()
			assert.NoError(t, err)
			results[i] = got
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, got := range results {
		assert.Same(t, set, got)
	}

	_, _ = loader.RuleSet()
	assert.Equal(t, int32(1), calls.Load())
}

func TestLoader_CachesFailure(t *testing.T) {
	var calls atomic.Int32
	loader := NewLoader(func() (*RuleSet, error) {
		calls.Add(1)
		return nil, errors.New("disk on fire")
	})

	_, err1 := loader.RuleSet()
	_, err2 := loader.RuleSet()

	var cerr *ConfigLoadError
	require.ErrorAs(t, err1, &cerr, "plain errors are wrapped")
	assert.Equal(t, err1, err2)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLoader_FileEditedAfterLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "matcher.json", pingRules)
	loader := NewLoader(FileSource(path))

	set, err := loader.RuleSet()
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())

	writeFile(t, dir, "matcher.json", `[]`)
	again, err := loader.RuleSet()
	require.NoError(t, err)
	assert.Equal(t, 2, again.Len(), "rules are not reloaded")
}

func TestStatic(t *testing.T) {
	set, err := New()
	require.NoError(t, err)
	got, err := Static(set).RuleSet()
	require.NoError(t, err)
	assert.Same(t, set, got)
}

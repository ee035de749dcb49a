package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBreakpoints = `
breakpoints:
  - file: app/script.rb
    line: 10
  - file: lib/util.rb
    line: 10
    condition: count > 2
  - file: old.rb
    line: 3
    disabled: true
`

func writeBreakpoints(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "breakpoints.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestFindCmd(t *testing.T) {
	path := writeBreakpoints(t, testBreakpoints)

	out, err := run(t, "find", "-b", path,
		"/srv/app/script.rb:10",
		"/srv/app/script.rb:11",
		"/srv/lib/util.rb:10",
		"/srv/old.rb:3",
	)
	require.NoError(t, err)

	assert.Contains(t, out, "/srv/app/script.rb:10: breakpoint")
	assert.Contains(t, out, "(app/script.rb:10)")
	assert.Contains(t, out, "/srv/app/script.rb:11: no breakpoint")
	assert.Contains(t, out, "/srv/lib/util.rb:10: no breakpoint")
	assert.Contains(t, out, "/srv/old.rb:3: no breakpoint")
	assert.Contains(t, out, "path cache misses: 2")
}

func TestFindCmdWithVars(t *testing.T) {
	path := writeBreakpoints(t, testBreakpoints)

	out, err := run(t, "find", "-b", path, "--var", "count=3", "/srv/lib/util.rb:10")
	require.NoError(t, err)
	assert.Contains(t, out, "(lib/util.rb:10)")

	out, err = run(t, "find", "-b", path, "--var", "count=1", "/srv/lib/util.rb:10")
	require.NoError(t, err)
	assert.Contains(t, out, "no breakpoint")
}

func TestFindCmdNoCache(t *testing.T) {
	path := writeBreakpoints(t, testBreakpoints)

	out, err := run(t, "find", "-b", path, "--no-cache", "/srv/app/script.rb:10", "/srv/app/script.rb:10")
	require.NoError(t, err)
	assert.Contains(t, out, "path cache misses: 0")
}

func TestFindCmdErrors(t *testing.T) {
	path := writeBreakpoints(t, testBreakpoints)

	tests := []struct {
		name string
		args []string
	}{
		{name: "no location", args: []string{"find", "-b", path}},
		{name: "bad location", args: []string{"find", "-b", path, "script.rb"}},
		{name: "bad line", args: []string{"find", "-b", path, "script.rb:ten"}},
		{name: "bad var", args: []string{"find", "-b", path, "--var", "count", "script.rb:1"}},
		{name: "missing file", args: []string{"find", "-b", filepath.Join(t.TempDir(), "none.yaml"), "script.rb:1"}},
		{name: "unknown field", args: []string{"find", "-b", writeBreakpoints(t, "breakpoints:\n  - file: a.rb\n    line: 1\n    when: x\n"), "a.rb:1"}},
		{name: "no line", args: []string{"find", "-b", writeBreakpoints(t, "breakpoints:\n  - file: a.rb\n"), "a.rb:1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestListCmd(t *testing.T) {
	path := writeBreakpoints(t, testBreakpoints)

	out, err := run(t, "list", "-b", path)
	require.NoError(t, err)

	assert.Contains(t, out, "app/script.rb")
	assert.Contains(t, out, "count > 2")
	assert.Contains(t, out, "TOTAL 3")
	assert.Contains(t, out, "2 ACTIVE")
}

func TestListCmdEmptyFile(t *testing.T) {
	path := writeBreakpoints(t, "")

	out, err := run(t, "list", "-b", path)
	require.NoError(t, err)
	assert.Contains(t, out, "TOTAL 0")
}

func TestCanonCmd(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.rb")
	require.NoError(t, os.WriteFile(target, nil, 0o600))
	missing := filepath.Join(dir, "missing.rb")

	out, err := run(t, "canon", target, missing)
	require.NoError(t, err)

	assert.Contains(t, out, missing+" -> "+missing+" (unresolved)")
	assert.Contains(t, out, target+" -> ")
}

func TestMatchCmd(t *testing.T) {
	out, err := run(t, "match", "lib/foo.rb", "/abs/lib/foo.rb")
	require.NoError(t, err)
	assert.Equal(t, "match\n", out)

	out, err = run(t, "match", "lib/bar.rb", "/abs/app/bar.rb")
	require.NoError(t, err)
	assert.Equal(t, "no match\n", out)

	_, err = run(t, "match", "only-one")
	assert.Error(t, err)
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, int64(3), parseValue("3"))
	assert.Equal(t, 2.5, parseValue("2.5"))
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, "bob", parseValue("bob"))
}

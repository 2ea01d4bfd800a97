package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Paranoid-AF/ghostlet"
	"github.com/Paranoid-AF/ghostlet/generate"
)

type fixedCompleter struct {
	calls atomic.Int32
	out   []string
	last  generate.Request
}

func (f *fixedCompleter) Complete(_ context.Context, req generate.Request) ([]string, error) {
	f.calls.Add(1)
	f.last = req
	return f.out, nil
}

func completeCmd(t *testing.T) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	cmd := newCompleteCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetContext(context.Background())
	return cmd, &out
}

func decodeEntries(t *testing.T, out string) []completeEntry {
	t.Helper()
	var entries []completeEntry
	for _, chunk := range strings.Split(out, "# "+strings.Repeat("=", 60)+"\n") {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		var e completeEntry
		_, err := toml.Decode(chunk, &e)
		require.NoError(t, err)
		entries = append(entries, e)
	}
	return entries
}

func writeSource(t *testing.T, name, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(text), 0o600))
	return path
}

func TestCompleteRepeatServesCache(t *testing.T) {
	path := writeSource(t, "a.kcl", "x = 1\ny = 2\nschema Foo:\n    name: str\n")
	completer := &fixedCompleter{out: []string{"= \"bar\""}}
	cmd, out := completeCmd(t)

	opts := &completeOptions{line: 3, character: 10, repeat: 2}
	require.NoError(t, completeFile(cmd, path, opts, completer, zap.NewNop().Sugar()))

	assert.EqualValues(t, 1, completer.calls.Load())
	assert.Equal(t, "kcl", completer.last.Language)
	assert.Equal(t, "x = 1\ny = 2\nschema Foo:\n    name: ", completer.last.Prefix)
	assert.Equal(t, "str\n", completer.last.Suffix)

	entries := decodeEntries(t, out.String())
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "kcl", e.Request.Language)
		assert.EqualValues(t, 3, e.Request.Line)
		assert.EqualValues(t, 10, e.Request.Character)
		assert.True(t, strings.HasPrefix(e.Request.URI, "file://"))
		require.Len(t, e.Completions, 1)
		assert.Equal(t, "= \"bar\"", e.Completions[0].DisplayText)
	}
	assert.Equal(t, entries[0].Completions[0].UUID, entries[1].Completions[0].UUID)
}

func TestCompleteLanguageFlag(t *testing.T) {
	path := writeSource(t, "script", "echo hi\n")
	completer := &fixedCompleter{out: []string{" there"}}
	cmd, _ := completeCmd(t)

	opts := &completeOptions{line: 0, character: 7, language: "shellscript", repeat: 1}
	require.NoError(t, completeFile(cmd, path, opts, completer, zap.NewNop().Sugar()))
	assert.Equal(t, "shellscript", completer.last.Language)
	assert.Equal(t, "echo hi", completer.last.Prefix)
	assert.Equal(t, "\n", completer.last.Suffix)
}

func TestCompleteNotConfigured(t *testing.T) {
	path := writeSource(t, "main.go", "package main\n")
	cmd, out := completeCmd(t)

	opts := &completeOptions{repeat: 1}
	err := completeFile(cmd, path, opts, nil, zap.NewNop().Sugar())
	require.Error(t, err)
	assert.ErrorIs(t, err, ghostlet.ErrNotConfigured)

	entries := decodeEntries(t, out.String())
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].Error)
	assert.Empty(t, entries[0].Completions)
}

func TestCompleteMissingFile(t *testing.T) {
	cmd, _ := completeCmd(t)
	err := completeFile(cmd, filepath.Join(t.TempDir(), "nope.go"), &completeOptions{}, nil, zap.NewNop().Sugar())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope.go")
}

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubcommands(t *testing.T) {
	tests := []struct {
		cmd  *cobra.Command
		subs []string
	}{
		{corpusCmd(), []string{"list", "find", "validate"}},
		{uploadsCmd(), []string{"list", "add", "watch"}},
		{configCmd(), []string{"show", "path", "init"}},
	}

	for _, tt := range tests {
		t.Run(tt.cmd.Name(), func(t *testing.T) {
			for _, name := range tt.subs {
				sub, _, err := tt.cmd.Find([]string{name})
				require.NoError(t, err)
				assert.Equal(t, name, sub.Name())
			}
		})
	}
}

func TestFlags(t *testing.T) {
	assert.NotNil(t, matchCmd().Flags().Lookup("strict"))
	assert.NotNil(t, resolveCmd().Flags().Lookup("required"))
	assert.NotNil(t, answerCmd().Flags().Lookup("copy"))
	assert.NotNil(t, signatureCmd().Flags().Lookup("threshold"))

	q := resolveCmd().Flags().ShorthandLookup("q")
	require.NotNil(t, q)
	assert.Equal(t, "query", q.Name)
}

func TestFileHint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n"), 0o644))

	hint, done, err := fileHint(path, false)
	require.NoError(t, err)
	done()
	assert.Equal(t, "data.csv", hint.Name)
	assert.Equal(t, path, hint.Path)
	assert.Nil(t, hint.Data)

	hint, done, err = fileHint(path, true)
	require.NoError(t, err)
	defer done()
	assert.Empty(t, hint.Path)
	assert.NotNil(t, hint.Data)

	_, _, err = fileHint(filepath.Join(dir, "missing.csv"), true)
	assert.Error(t, err)
}

func TestReadLines(t *testing.T) {
	lines, err := readLines(strings.NewReader("first query\n\n  second query  \n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"first query", "second query"}, lines)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b c", truncate("a\n b\t c", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestOrDefault(t *testing.T) {
	assert.Equal(t, "x", orDefault("x", "y"))
	assert.Equal(t, "y", orDefault("", "y"))
}

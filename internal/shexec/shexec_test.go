package shexec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphabravo/yashd/internal/parse"
)

func TestStartSimpleRunsAndWaits(t *testing.T) {
	h, err := StartSimple([]string{"true"}, parse.Redirection{})
	require.NoError(t, err)
	assert.Greater(t, h.PGID, 0)

	res, err := h.Wait()
	require.NoError(t, err)
	assert.False(t, res.Stopped)
	assert.Equal(t, 0, res.ExitCode)
}

func TestStartSimpleNonZeroExit(t *testing.T) {
	h, err := StartSimple([]string{"false"}, parse.Redirection{})
	require.NoError(t, err)

	res, err := h.Wait()
	require.NoError(t, err)
	assert.NotEqual(t, 0, res.ExitCode)
}

func TestStartSimpleMissingProgram(t *testing.T) {
	_, err := StartSimple([]string{"definitely-not-a-real-binary"}, parse.Redirection{})
	assert.Error(t, err)
}

func TestStartSimpleOutputRedirection(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")

	h, err := StartSimple([]string{"echo", "hello"}, parse.Redirection{Out: out})
	require.NoError(t, err)
	_, err = h.Wait()
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestStartSimpleInputRedirection(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.txt")
	require.NoError(t, os.WriteFile(in, []byte("file contents\n"), 0o644))

	out := filepath.Join(dir, "out.txt")
	h, err := StartSimple([]string{"cat"}, parse.Redirection{In: in, Out: out})
	require.NoError(t, err)
	_, err = h.Wait()
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "file contents\n", string(data))
}

func TestStartSimpleBadInputAborts(t *testing.T) {
	_, err := StartSimple([]string{"cat"}, parse.Redirection{In: "/no/such/file"})
	assert.Error(t, err)
}

func TestStartPipe(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")

	h, err := StartPipe(
		[]string{"echo", "a b c"},
		[]string{"wc", "-w"},
		parse.Redirection{},
		parse.Redirection{Out: out},
	)
	require.NoError(t, err)

	res, err := h.Wait()
	require.NoError(t, err)
	assert.False(t, res.Stopped)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "3")
}

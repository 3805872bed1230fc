package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexCmd_CreatesStoreDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	chdir(t, tmpDir)
	createTestProject(t, tmpDir)

	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"index", tmpDir, "--no-progress"})

	err := root.Execute()
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(tmpDir, ".semcode", "store"))
}

func TestIndexCmd_IndexesGoFile(t *testing.T) {
	tmpDir := t.TempDir()
	chdir(t, tmpDir)
	createTestProject(t, tmpDir)

	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"index", tmpDir, "--no-progress"})
	require.NoError(t, root.Execute())

	statsRoot := NewRootCmd()
	statsBuf := new(bytes.Buffer)
	statsRoot.SetOut(statsBuf)
	statsRoot.SetArgs([]string{"stats"})
	require.NoError(t, statsRoot.Execute())

	assert.Contains(t, statsBuf.String(), "chunks:")
}

func TestIndexCmd_SecondRunSkipsUnchangedFiles(t *testing.T) {
	tmpDir := t.TempDir()
	chdir(t, tmpDir)
	createTestProject(t, tmpDir)

	first := NewRootCmd()
	first.SetArgs([]string{"index", tmpDir, "--no-progress"})
	require.NoError(t, first.Execute())

	second := NewRootCmd()
	buf := new(bytes.Buffer)
	second.SetOut(buf)
	second.SetArgs([]string{"index", tmpDir, "--no-progress"})
	require.NoError(t, second.Execute())

	assert.Contains(t, buf.String(), "1 skipped")
}

func TestIndexCmd_DefaultsToCurrentDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	chdir(t, tmpDir)
	createTestProject(t, tmpDir)

	root := NewRootCmd()
	root.SetArgs([]string{"index", "--no-progress"})
	err := root.Execute()
	require.NoError(t, err)

	abs, err := os.Getwd()
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(abs, ".semcode", "store"))
}

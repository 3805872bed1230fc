package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClearCmd_RefusesWithoutConfirmationFlag(t *testing.T) {
	tmpDir := t.TempDir()
	chdir(t, tmpDir)

	cmd := NewRootCmd()
	cmd.SetArgs([]string{"clear"})
	err := cmd.Execute()
	assert.Error(t, err)
}

func TestClearCmd_ClearsIndexedChunksWhenConfirmed(t *testing.T) {
	tmpDir := t.TempDir()
	chdir(t, tmpDir)
	createTestProject(t, tmpDir)

	indexCmd := NewRootCmd()
	indexCmd.SetArgs([]string{"index", tmpDir, "--no-progress"})
	require.NoError(t, indexCmd.Execute())

	clearCmd := NewRootCmd()
	buf := new(bytes.Buffer)
	clearCmd.SetOut(buf)
	clearCmd.SetArgs([]string{"clear", "--yes"})
	require.NoError(t, clearCmd.Execute())
	assert.Contains(t, buf.String(), "index cleared")

	statsCmd := NewRootCmd()
	statsBuf := new(bytes.Buffer)
	statsCmd.SetOut(statsBuf)
	statsCmd.SetArgs([]string{"stats"})
	require.NoError(t, statsCmd.Execute())
	assert.Contains(t, statsBuf.String(), "chunks:         0")
}

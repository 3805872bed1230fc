package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchCmd_FindsIndexedSymbol(t *testing.T) {
	tmpDir := t.TempDir()
	chdir(t, tmpDir)
	createTestProject(t, tmpDir)

	indexCmd := NewRootCmd()
	indexCmd.SetArgs([]string{"index", tmpDir, "--no-progress"})
	require.NoError(t, indexCmd.Execute())

	searchCmd := NewRootCmd()
	buf := new(bytes.Buffer)
	searchCmd.SetOut(buf)
	searchCmd.SetArgs([]string{"search", "add two integers"})

	err := searchCmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "main.go")
}

func TestSearchCmd_RequiresQueryArgument(t *testing.T) {
	tmpDir := t.TempDir()
	chdir(t, tmpDir)

	cmd := NewRootCmd()
	cmd.SetArgs([]string{"search"})
	err := cmd.Execute()
	assert.Error(t, err)
}

package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsCmd_ReportsZeroedCountersOnEmptyStore(t *testing.T) {
	tmpDir := t.TempDir()
	chdir(t, tmpDir)

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"stats"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "chunks:         0")
}

func TestStatsCmd_ReportsIndexedChunkCount(t *testing.T) {
	tmpDir := t.TempDir()
	chdir(t, tmpDir)
	createTestProject(t, tmpDir)

	indexCmd := NewRootCmd()
	indexCmd.SetArgs([]string{"index", tmpDir, "--no-progress"})
	require.NoError(t, indexCmd.Execute())

	statsCmd := NewRootCmd()
	buf := new(bytes.Buffer)
	statsCmd.SetOut(buf)
	statsCmd.SetArgs([]string{"stats"})
	require.NoError(t, statsCmd.Execute())

	assert.Contains(t, buf.String(), "languages:")
	assert.NotContains(t, buf.String(), "chunks:         0")
}

package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestProject(t *testing.T, dir string) {
	t.Helper()

	mainGo := `package main

// add returns the sum of two integers.
func add(a, b int) int {
	return a + b
}

func main() {
	println(add(1, 2))
}
`
	err := os.WriteFile(filepath.Join(dir, "main.go"), []byte(mainGo), 0644)
	require.NoError(t, err)

	goMod := "module testproject\n\ngo 1.21\n"
	err = os.WriteFile(filepath.Join(dir, "go.mod"), []byte(goMod), 0644)
	require.NoError(t, err)
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestRootCmd_HasAllSubcommands(t *testing.T) {
	root := NewRootCmd()

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"index", "search", "optimize", "stats", "clear"} {
		assert.True(t, names[want], "expected subcommand %q to be registered", want)
	}
}

func TestRootCmd_LoadsDefaultConfigWhenNoneSpecified(t *testing.T) {
	tmpDir := t.TempDir()
	chdir(t, tmpDir)
	createTestProject(t, tmpDir)

	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"stats"})

	// stats on an empty store should succeed with zeroed counters.
	err := root.Execute()
	require.NoError(t, err)
}

func TestRootCmd_VersionFlagReportsVersion(t *testing.T) {
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"--version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "semcode version")
}

func TestRootCmd_RejectsMissingConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	chdir(t, tmpDir)

	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"--config", filepath.Join(tmpDir, "missing.yaml"), "stats"})

	err := root.Execute()
	assert.Error(t, err)
}

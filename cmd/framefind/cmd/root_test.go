package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_HelpListsSubcommands(t *testing.T) {
	// Given: the root command
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	// When: requesting help
	err := cmd.Execute()

	// Then: every subcommand is listed
	require.NoError(t, err)
	output := buf.String()
	for _, sub := range []string{"init", "ingest", "search", "serve", "stats", "version"} {
		assert.Contains(t, output, sub, "Help should list the %s command", sub)
	}
}

func TestRootCmd_VersionFlag(t *testing.T) {
	// Given: the root command
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--version"})

	// When: requesting the version
	err := cmd.Execute()

	// Then: the version template is used
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "framefind version")
}

func TestRootCmd_UnknownCommand(t *testing.T) {
	// Given: the root command
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"frobnicate"})

	// When: running an unknown subcommand
	err := cmd.Execute()

	// Then: it fails
	require.Error(t, err)
}

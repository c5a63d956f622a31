package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsCmd_NoTelemetry(t *testing.T) {
	// Given: a fresh project with no recorded queries
	setupProject(t)

	// When: asking for stats
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"stats"})
	err := cmd.Execute()

	// Then: a helpful error points at running searches first
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no telemetry")
}

func TestStatsCmd_RejectsNonPositiveDays(t *testing.T) {
	setupProject(t)

	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"stats", "--days", "0"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--days")
}

func TestStatsCmd_AfterQueries(t *testing.T) {
	// Given: a project with ingested scenes and one executed search
	tmpDir := setupProject(t)
	scenesPath := writeScenesFile(t, tmpDir)

	ingest := NewRootCmd()
	ingest.SetOut(&bytes.Buffer{})
	ingest.SetErr(&bytes.Buffer{})
	ingest.SetArgs([]string{"ingest", scenesPath, "--quiet"})
	require.NoError(t, ingest.Execute())

	search := NewRootCmd()
	search.SetOut(&bytes.Buffer{})
	search.SetErr(&bytes.Buffer{})
	search.SetArgs([]string{"search", "sunset harbor", "--tenant", "acme"})
	require.NoError(t, search.Execute())

	// When: requesting stats as JSON
	stats := NewRootCmd()
	buf := &bytes.Buffer{}
	stats.SetOut(buf)
	stats.SetErr(&bytes.Buffer{})
	stats.SetArgs([]string{"stats", "--json"})
	require.NoError(t, stats.Execute())

	// Then: the recorded query shows up in the aggregates
	var out StatsOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))

	var total int64
	for _, count := range out.ModeCounts {
		total += count
	}
	assert.Equal(t, int64(1), total)
	assert.NotEmpty(t, out.TopTerms)
}

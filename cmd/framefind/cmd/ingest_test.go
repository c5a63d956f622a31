package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framefind/framefind/internal/store"
)

// sceneFixture builds a scene with the fields ingest requires.
func sceneFixture(id, tenant, video, transcript, caption string) store.Scene {
	return store.Scene{
		ID:            id,
		TenantID:      tenant,
		VideoID:       video,
		Title:         "Scene " + id,
		StartMS:       0,
		EndMS:         12000,
		Transcript:    transcript,
		VisualCaption: caption,
		Summary:       transcript,
	}
}

func TestReadSceneRecords_JSONArray(t *testing.T) {
	// Given: a JSON array of records
	path := filepath.Join(t.TempDir(), "scenes.json")
	content := `[
		{"id": "s1", "tenant_id": "acme", "video_id": "v1", "transcript": "hello"},
		{"id": "s2", "tenant_id": "acme", "video_id": "v1", "vectors": {"clip_visual": [0.1, 0.2]}}
	]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	// When: reading the file
	records, err := readSceneRecords(path)

	// Then: both records decode with vectors attached
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "s1", records[0].ID)
	assert.Equal(t, "hello", records[0].Transcript)
	assert.Equal(t, []float32{0.1, 0.2}, records[1].Vectors["clip_visual"])
}

func TestReadSceneRecords_JSONLines(t *testing.T) {
	// Given: one JSON object per line
	path := filepath.Join(t.TempDir(), "scenes.jsonl")
	content := `{"id": "s1", "tenant_id": "acme", "video_id": "v1"}
{"id": "s2", "tenant_id": "acme", "video_id": "v2"}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	records, err := readSceneRecords(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "s2", records[1].ID)
}

func TestReadSceneRecords_MissingFile(t *testing.T) {
	_, err := readSceneRecords(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestReadSceneRecords_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id": `), 0o644))

	_, err := readSceneRecords(path)
	require.Error(t, err)
}

func TestValidateRecords(t *testing.T) {
	valid := func() []sceneRecord {
		return []sceneRecord{
			{Scene: sceneFixture("s1", "acme", "v1", "text", "")},
			{Scene: sceneFixture("s2", "acme", "v1", "text", "")},
		}
	}

	tests := []struct {
		name    string
		mutate  func([]sceneRecord) []sceneRecord
		wantErr string
	}{
		{
			name:   "valid records pass",
			mutate: func(r []sceneRecord) []sceneRecord { return r },
		},
		{
			name: "missing id",
			mutate: func(r []sceneRecord) []sceneRecord {
				r[0].ID = ""
				return r
			},
			wantErr: "missing scene id",
		},
		{
			name: "missing tenant",
			mutate: func(r []sceneRecord) []sceneRecord {
				r[1].TenantID = ""
				return r
			},
			wantErr: "missing tenant_id",
		},
		{
			name: "missing video",
			mutate: func(r []sceneRecord) []sceneRecord {
				r[0].VideoID = ""
				return r
			},
			wantErr: "missing video_id",
		},
		{
			name: "inverted time range",
			mutate: func(r []sceneRecord) []sceneRecord {
				r[0].StartMS = 5000
				r[0].EndMS = 1000
				return r
			},
			wantErr: "end_ms before start_ms",
		},
		{
			name: "duplicate id",
			mutate: func(r []sceneRecord) []sceneRecord {
				r[1].ID = r[0].ID
				return r
			},
			wantErr: "duplicate scene id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRecords(tt.mutate(valid()))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIngestCmd_RequiresFile(t *testing.T) {
	// Given: ingest without a file argument
	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"ingest"})

	// When: executing
	err := cmd.Execute()

	// Then: argument validation fails
	require.Error(t, err)
}

func TestIngestCmd_WritesAllStores(t *testing.T) {
	// Given: a project and a scenes file
	tmpDir := setupProject(t)
	scenesPath := writeScenesFile(t, tmpDir)

	// When: ingesting
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"ingest", scenesPath})
	err := cmd.Execute()

	// Then: metadata, lexical, and vector stores all materialize on disk
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Ingested 2 scene(s)")

	dataDir := filepath.Join(tmpDir, "data")
	assert.FileExists(t, filepath.Join(dataDir, "scenes.db"))
	assert.DirExists(t, filepath.Join(dataDir, "lexical.bleve"))
	assert.FileExists(t, filepath.Join(dataDir, "vectors", "transcript.hnsw"))
	assert.FileExists(t, filepath.Join(dataDir, "vectors", "summary.hnsw"))
}

func TestIngestCmd_WarnsOnMissingCLIPVectors(t *testing.T) {
	// Given: scenes with no precomputed clip_visual vectors
	tmpDir := setupProject(t)
	scenesPath := writeScenesFile(t, tmpDir)

	// When: ingesting with progress output enabled
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"ingest", scenesPath})
	require.NoError(t, cmd.Execute())

	// Then: the missing channel is called out
	assert.Contains(t, buf.String(), "clip_visual")
}

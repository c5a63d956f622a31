package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	ferrors "github.com/framefind/framefind/internal/errors"
)

// SQLiteStore persists scene metadata and tenant preferences in one
// SQLite database. It implements both SceneStore and PreferencesStore.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// NewSQLiteStore opens or creates the database at path. An empty path uses
// an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, ferrors.StoreError("failed to create data directory", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, ferrors.StoreError("failed to open database", err)
	}

	// Single writer avoids lock contention with modernc.org/sqlite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL must be set via PRAGMA; DSN params are not honored by this driver.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, ferrors.StoreError("failed to set pragma", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, ferrors.StoreError("failed to initialize schema", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS scenes (
		id             TEXT PRIMARY KEY,
		tenant_id      TEXT NOT NULL,
		video_id       TEXT NOT NULL,
		title          TEXT NOT NULL DEFAULT '',
		start_ms       INTEGER NOT NULL,
		end_ms         INTEGER NOT NULL,
		transcript     TEXT NOT NULL DEFAULT '',
		visual_caption TEXT NOT NULL DEFAULT '',
		summary        TEXT NOT NULL DEFAULT '',
		tags           TEXT NOT NULL DEFAULT '[]',
		thumbnail_url  TEXT NOT NULL DEFAULT '',
		created_at     INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_scenes_tenant ON scenes(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_scenes_video ON scenes(video_id);

	CREATE TABLE IF NOT EXISTS tenant_preferences (
		tenant_id     TEXT PRIMARY KEY,
		fusion_method TEXT NOT NULL DEFAULT '',
		weights       TEXT NOT NULL DEFAULT '{}',
		updated_at    INTEGER NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveScenes inserts or replaces scenes in one transaction.
func (s *SQLiteStore) SaveScenes(ctx context.Context, scenes []*Scene) error {
	if len(scenes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ferrors.StoreError("store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ferrors.StoreError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO scenes
		(id, tenant_id, video_id, title, start_ms, end_ms, transcript, visual_caption, summary, tags, thumbnail_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return ferrors.StoreError("failed to prepare insert", err)
	}
	defer stmt.Close()

	for _, scene := range scenes {
		if scene.ID == "" {
			return ferrors.StoreError("scene has empty ID", nil)
		}
		tags, err := json.Marshal(scene.Tags)
		if err != nil {
			return ferrors.StoreError(fmt.Sprintf("failed to encode tags for scene %s", scene.ID), err)
		}
		createdAt := scene.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			scene.ID, scene.TenantID, scene.VideoID, scene.Title,
			scene.StartMS, scene.EndMS,
			scene.Transcript, scene.VisualCaption, scene.Summary,
			string(tags), scene.ThumbnailURL, createdAt.UnixMilli(),
		); err != nil {
			return ferrors.StoreError(fmt.Sprintf("failed to save scene %s", scene.ID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ferrors.StoreError("failed to commit scenes", err)
	}
	return nil
}

const sceneColumns = `id, tenant_id, video_id, title, start_ms, end_ms, transcript, visual_caption, summary, tags, thumbnail_url, created_at`

// GetScene returns a single scene or a scene-not-found error.
func (s *SQLiteStore) GetScene(ctx context.Context, id string) (*Scene, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ferrors.StoreError("store is closed", nil)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+sceneColumns+` FROM scenes WHERE id = ?`, id)
	scene, err := scanScene(row)
	if err == sql.ErrNoRows {
		return nil, ferrors.New(ferrors.ErrCodeSceneNotFound,
			fmt.Sprintf("scene %s not found", id), nil)
	}
	if err != nil {
		return nil, ferrors.StoreError("failed to read scene", err)
	}
	return scene, nil
}

// GetScenes fetches a batch of scenes in a single query. The returned map
// only holds the IDs that exist; callers decide how to treat the rest.
func (s *SQLiteStore) GetScenes(ctx context.Context, ids []string) (map[string]*Scene, error) {
	if len(ids) == 0 {
		return map[string]*Scene{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ferrors.StoreError("store is closed", nil)
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sceneColumns+` FROM scenes WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, ferrors.StoreError("failed to query scenes", err)
	}
	defer rows.Close()

	scenes := make(map[string]*Scene, len(ids))
	for rows.Next() {
		scene, err := scanScene(rows)
		if err != nil {
			return nil, ferrors.StoreError("failed to scan scene", err)
		}
		scenes[scene.ID] = scene
	}
	if err := rows.Err(); err != nil {
		return nil, ferrors.StoreError("failed to iterate scenes", err)
	}
	return scenes, nil
}

// DeleteScenes removes scenes by ID. Unknown IDs are ignored.
func (s *SQLiteStore) DeleteScenes(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ferrors.StoreError("store is closed", nil)
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM scenes WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return ferrors.StoreError("failed to delete scenes", err)
	}
	return nil
}

// Count returns the number of stored scenes.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ferrors.StoreError("store is closed", nil)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scenes`).Scan(&count); err != nil {
		return 0, ferrors.StoreError("failed to count scenes", err)
	}
	return count, nil
}

// GetPreferences returns the tenant's retrieval overrides, or (nil, nil)
// when the tenant has none stored.
func (s *SQLiteStore) GetPreferences(ctx context.Context, tenantID string) (*TenantPreferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ferrors.StoreError("store is closed", nil)
	}

	var (
		method    string
		weightsJS string
		updatedMS int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT fusion_method, weights, updated_at FROM tenant_preferences WHERE tenant_id = ?`,
		tenantID).Scan(&method, &weightsJS, &updatedMS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, ferrors.StoreError("failed to read preferences", err)
	}

	var weights map[string]float64
	if weightsJS != "" && weightsJS != "{}" {
		if err := json.Unmarshal([]byte(weightsJS), &weights); err != nil {
			return nil, ferrors.StoreError(
				fmt.Sprintf("corrupt weights for tenant %s", tenantID), err)
		}
	}

	return &TenantPreferences{
		TenantID:     tenantID,
		FusionMethod: method,
		Weights:      weights,
		UpdatedAt:    time.UnixMilli(updatedMS),
	}, nil
}

// SavePreferences inserts or replaces the tenant's overrides.
func (s *SQLiteStore) SavePreferences(ctx context.Context, prefs *TenantPreferences) error {
	if prefs == nil || prefs.TenantID == "" {
		return ferrors.StoreError("preferences require a tenant ID", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ferrors.StoreError("store is closed", nil)
	}

	weights := []byte("{}")
	if len(prefs.Weights) > 0 {
		var err error
		weights, err = json.Marshal(prefs.Weights)
		if err != nil {
			return ferrors.StoreError("failed to encode weights", err)
		}
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO tenant_preferences (tenant_id, fusion_method, weights, updated_at)
		VALUES (?, ?, ?, ?)`,
		prefs.TenantID, prefs.FusionMethod, string(weights), time.Now().UnixMilli(),
	); err != nil {
		return ferrors.StoreError("failed to save preferences", err)
	}
	return nil
}

// DeletePreferences removes the tenant's overrides.
func (s *SQLiteStore) DeletePreferences(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ferrors.StoreError("store is closed", nil)
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM tenant_preferences WHERE tenant_id = ?`, tenantID); err != nil {
		return ferrors.StoreError("failed to delete preferences", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var (
	_ SceneStore       = (*SQLiteStore)(nil)
	_ PreferencesStore = (*SQLiteStore)(nil)
)

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanScene(row rowScanner) (*Scene, error) {
	var (
		scene     Scene
		tagsJS    string
		createdMS int64
	)
	err := row.Scan(
		&scene.ID, &scene.TenantID, &scene.VideoID, &scene.Title,
		&scene.StartMS, &scene.EndMS,
		&scene.Transcript, &scene.VisualCaption, &scene.Summary,
		&tagsJS, &scene.ThumbnailURL, &createdMS,
	)
	if err != nil {
		return nil, err
	}
	if tagsJS != "" && tagsJS != "[]" {
		if err := json.Unmarshal([]byte(tagsJS), &scene.Tags); err != nil {
			return nil, fmt.Errorf("corrupt tags for scene %s: %w", scene.ID, err)
		}
	}
	scene.CreatedAt = time.UnixMilli(createdMS)
	return &scene, nil
}

// Package config loads FrameFind configuration from YAML files and
// environment variables.
//
// Precedence, lowest to highest:
//  1. Hardcoded defaults
//  2. User config (~/.config/framefind/config.yaml)
//  3. Project config (.framefind.yaml in the working directory)
//  4. Environment variables (FRAMEFIND_*)
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// WeightSumTolerance is the allowed deviation of a weight map sum from 1.0.
const WeightSumTolerance = 1e-6

// Config represents the complete FrameFind configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Fusion     FusionConfig     `yaml:"fusion" json:"fusion"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Channels   ChannelsConfig   `yaml:"channels" json:"channels"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Stores     StoresConfig     `yaml:"stores" json:"stores"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// FusionConfig configures score fusion.
type FusionConfig struct {
	// MethodDefault selects the fusion method when a request does not
	// specify one: "min_max_weighted_mean" or "reciprocal_rank_fusion".
	MethodDefault string `yaml:"method_default" json:"method_default"`

	// WeightsDefault is the system-default channel weight map.
	// Weights for enabled channels must sum to 1.0.
	WeightsDefault map[string]float64 `yaml:"weights_default" json:"weights_default"`

	// RRFConstant is the RRF smoothing parameter (k).
	// Default: 60 (industry standard used by Azure AI Search, OpenSearch).
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// MinMaxEpsilon guards against division by zero in min-max
	// normalization. Default: 1e-9.
	MinMaxEpsilon float64 `yaml:"minmax_epsilon" json:"minmax_epsilon"`
}

// RetrievalConfig configures candidate generation and response shaping.
type RetrievalConfig struct {
	// DenseCandidateK is the per-channel candidate count for dense channels.
	DenseCandidateK int `yaml:"dense_candidate_k" json:"dense_candidate_k"`

	// LexicalCandidateK is the candidate count for the lexical channel.
	LexicalCandidateK int `yaml:"lexical_candidate_k" json:"lexical_candidate_k"`

	// DefaultLimit is applied when a request omits its limit.
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`

	// MaxLimit caps the request limit.
	MaxLimit int `yaml:"max_limit" json:"max_limit"`

	// DebugEnabled gates per-channel debug payloads. Requests asking for
	// debug output only get it when this is true.
	DebugEnabled bool `yaml:"debug_enabled" json:"debug_enabled"`
}

// ChannelConfig configures a single retrieval channel.
type ChannelConfig struct {
	// Enabled toggles the channel. Unset means enabled.
	Enabled *bool `yaml:"enabled" json:"enabled"`

	// DeadlineMS is the per-channel execution deadline in milliseconds.
	DeadlineMS int `yaml:"deadline_ms" json:"deadline_ms"`
}

// IsEnabled reports whether the channel is enabled, defaulting to true.
func (c ChannelConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ChannelsConfig configures the closed channel set.
type ChannelsConfig struct {
	Transcript ChannelConfig `yaml:"transcript" json:"transcript"`
	Visual     ChannelConfig `yaml:"visual" json:"visual"`
	Summary    ChannelConfig `yaml:"summary" json:"summary"`
	CLIPVisual ChannelConfig `yaml:"clip_visual" json:"clip_visual"`
	Lexical    ChannelConfig `yaml:"lexical" json:"lexical"`
}

// ByName returns the channel config for a channel name.
func (c ChannelsConfig) ByName(name string) (ChannelConfig, bool) {
	switch name {
	case "transcript":
		return c.Transcript, true
	case "visual":
		return c.Visual, true
	case "summary":
		return c.Summary, true
	case "clip_visual":
		return c.CLIPVisual, true
	case "lexical":
		return c.Lexical, true
	default:
		return ChannelConfig{}, false
	}
}

// EmbeddingsConfig configures the query embedders.
// Text embeddings (1536-d) serve the transcript, visual, and summary
// channels; CLIP text embeddings (512-d) serve the clip_visual channel.
type EmbeddingsConfig struct {
	Provider string `yaml:"provider" json:"provider"` // "http" or "static"

	TextEndpoint   string `yaml:"text_endpoint" json:"text_endpoint"`
	TextModel      string `yaml:"text_model" json:"text_model"`
	TextDimensions int    `yaml:"text_dimensions" json:"text_dimensions"`

	CLIPEndpoint   string `yaml:"clip_endpoint" json:"clip_endpoint"`
	CLIPModel      string `yaml:"clip_model" json:"clip_model"`
	CLIPDimensions int    `yaml:"clip_dimensions" json:"clip_dimensions"`

	// CacheSize is the LRU cache capacity for query embeddings.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// StoresConfig configures the index and metadata backends.
type StoresConfig struct {
	// DataDir is the base directory for local stores.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// ScenesPath is the SQLite scene metadata database path.
	// Empty means <data_dir>/scenes.db.
	ScenesPath string `yaml:"scenes_path" json:"scenes_path"`

	// LexicalPath is the bleve index path. Empty means <data_dir>/lexical.bleve.
	LexicalPath string `yaml:"lexical_path" json:"lexical_path"`

	// VectorBackend selects the dense store: "hnsw" (local) or "qdrant".
	VectorBackend string `yaml:"vector_backend" json:"vector_backend"`

	// Qdrant settings (used when vector_backend is "qdrant").
	QdrantHost           string `yaml:"qdrant_host" json:"qdrant_host"`
	QdrantPort           int    `yaml:"qdrant_port" json:"qdrant_port"`
	QdrantTextCollection string `yaml:"qdrant_text_collection" json:"qdrant_text_collection"`
	QdrantCLIPCollection string `yaml:"qdrant_clip_collection" json:"qdrant_clip_collection"`
}

// ServerConfig configures logging and serving.
type ServerConfig struct {
	LogLevel string `yaml:"log_level" json:"log_level"`
	LogFile  string `yaml:"log_file" json:"log_file"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Fusion: FusionConfig{
			MethodDefault: "min_max_weighted_mean",
			WeightsDefault: map[string]float64{
				"transcript":  0.30,
				"visual":      0.20,
				"summary":     0.15,
				"clip_visual": 0.15,
				"lexical":     0.20,
			},
			RRFConstant:   60,
			MinMaxEpsilon: 1e-9,
		},
		Retrieval: RetrievalConfig{
			DenseCandidateK:   200,
			LexicalCandidateK: 200,
			DefaultLimit:      10,
			MaxLimit:          100,
			DebugEnabled:      false,
		},
		Channels: ChannelsConfig{
			Transcript: ChannelConfig{DeadlineMS: 800},
			Visual:     ChannelConfig{DeadlineMS: 800},
			Summary:    ChannelConfig{DeadlineMS: 800},
			CLIPVisual: ChannelConfig{DeadlineMS: 800},
			Lexical:    ChannelConfig{DeadlineMS: 800},
		},
		Embeddings: EmbeddingsConfig{
			Provider:       "http",
			TextEndpoint:   "http://localhost:8091",
			TextModel:      "text-embedding-3-small",
			TextDimensions: 1536,
			CLIPEndpoint:   "http://localhost:8092",
			CLIPModel:      "clip-vit-base-patch32",
			CLIPDimensions: 512,
			CacheSize:      1000,
		},
		Stores: StoresConfig{
			DataDir:              defaultDataDir(),
			VectorBackend:        "hnsw",
			QdrantHost:           "localhost",
			QdrantPort:           6334,
			QdrantTextCollection: "scenes_text",
			QdrantCLIPCollection: "scenes_clip",
		},
		Server: ServerConfig{
			LogLevel: "info",
		},
	}
}

// ScenesDBPath returns the resolved scene metadata database path.
func (c *Config) ScenesDBPath() string {
	if c.Stores.ScenesPath != "" {
		return c.Stores.ScenesPath
	}
	return filepath.Join(c.Stores.DataDir, "scenes.db")
}

// LexicalIndexPath returns the resolved bleve index path.
func (c *Config) LexicalIndexPath() string {
	if c.Stores.LexicalPath != "" {
		return c.Stores.LexicalPath
	}
	return filepath.Join(c.Stores.DataDir, "lexical.bleve")
}

// defaultDataDir returns the default local store directory.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".framefind")
	}
	return filepath.Join(home, ".framefind")
}

// GetUserConfigPath returns the path to the user configuration file.
// It follows the XDG Base Directory specification.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "framefind", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "framefind", "config.yaml")
	}
	return filepath.Join(home, ".config", "framefind", "config.yaml")
}

// loadUserConfig loads the user configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load loads configuration for the given directory.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .framefind.yaml or .framefind.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".framefind.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".framefind.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Fusion
	if other.Fusion.MethodDefault != "" {
		c.Fusion.MethodDefault = other.Fusion.MethodDefault
	}
	if len(other.Fusion.WeightsDefault) > 0 {
		c.Fusion.WeightsDefault = other.Fusion.WeightsDefault
	}
	if other.Fusion.RRFConstant != 0 {
		c.Fusion.RRFConstant = other.Fusion.RRFConstant
	}
	if other.Fusion.MinMaxEpsilon != 0 {
		c.Fusion.MinMaxEpsilon = other.Fusion.MinMaxEpsilon
	}

	// Retrieval
	if other.Retrieval.DenseCandidateK != 0 {
		c.Retrieval.DenseCandidateK = other.Retrieval.DenseCandidateK
	}
	if other.Retrieval.LexicalCandidateK != 0 {
		c.Retrieval.LexicalCandidateK = other.Retrieval.LexicalCandidateK
	}
	if other.Retrieval.DefaultLimit != 0 {
		c.Retrieval.DefaultLimit = other.Retrieval.DefaultLimit
	}
	if other.Retrieval.MaxLimit != 0 {
		c.Retrieval.MaxLimit = other.Retrieval.MaxLimit
	}
	if other.Retrieval.DebugEnabled {
		c.Retrieval.DebugEnabled = true
	}

	// Channels
	mergeChannel(&c.Channels.Transcript, other.Channels.Transcript)
	mergeChannel(&c.Channels.Visual, other.Channels.Visual)
	mergeChannel(&c.Channels.Summary, other.Channels.Summary)
	mergeChannel(&c.Channels.CLIPVisual, other.Channels.CLIPVisual)
	mergeChannel(&c.Channels.Lexical, other.Channels.Lexical)

	// Embeddings
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.TextEndpoint != "" {
		c.Embeddings.TextEndpoint = other.Embeddings.TextEndpoint
	}
	if other.Embeddings.TextModel != "" {
		c.Embeddings.TextModel = other.Embeddings.TextModel
	}
	if other.Embeddings.TextDimensions != 0 {
		c.Embeddings.TextDimensions = other.Embeddings.TextDimensions
	}
	if other.Embeddings.CLIPEndpoint != "" {
		c.Embeddings.CLIPEndpoint = other.Embeddings.CLIPEndpoint
	}
	if other.Embeddings.CLIPModel != "" {
		c.Embeddings.CLIPModel = other.Embeddings.CLIPModel
	}
	if other.Embeddings.CLIPDimensions != 0 {
		c.Embeddings.CLIPDimensions = other.Embeddings.CLIPDimensions
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	// Stores
	if other.Stores.DataDir != "" {
		c.Stores.DataDir = other.Stores.DataDir
	}
	if other.Stores.ScenesPath != "" {
		c.Stores.ScenesPath = other.Stores.ScenesPath
	}
	if other.Stores.LexicalPath != "" {
		c.Stores.LexicalPath = other.Stores.LexicalPath
	}
	if other.Stores.VectorBackend != "" {
		c.Stores.VectorBackend = other.Stores.VectorBackend
	}
	if other.Stores.QdrantHost != "" {
		c.Stores.QdrantHost = other.Stores.QdrantHost
	}
	if other.Stores.QdrantPort != 0 {
		c.Stores.QdrantPort = other.Stores.QdrantPort
	}
	if other.Stores.QdrantTextCollection != "" {
		c.Stores.QdrantTextCollection = other.Stores.QdrantTextCollection
	}
	if other.Stores.QdrantCLIPCollection != "" {
		c.Stores.QdrantCLIPCollection = other.Stores.QdrantCLIPCollection
	}

	// Server
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.Server.LogFile != "" {
		c.Server.LogFile = other.Server.LogFile
	}
}

// mergeChannel merges non-zero channel settings from other into dst.
func mergeChannel(dst *ChannelConfig, other ChannelConfig) {
	if other.Enabled != nil {
		dst.Enabled = other.Enabled
	}
	if other.DeadlineMS != 0 {
		dst.DeadlineMS = other.DeadlineMS
	}
}

// applyEnvOverrides applies FRAMEFIND_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FRAMEFIND_FUSION_METHOD"); v != "" {
		c.Fusion.MethodDefault = v
	}
	if v := os.Getenv("FRAMEFIND_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Fusion.RRFConstant = k
		}
	}
	if v := os.Getenv("FRAMEFIND_DENSE_CANDIDATE_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.DenseCandidateK = k
		}
	}
	if v := os.Getenv("FRAMEFIND_LEXICAL_CANDIDATE_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.LexicalCandidateK = k
		}
	}
	if v := os.Getenv("FRAMEFIND_DEBUG_ENABLED"); v != "" {
		c.Retrieval.DebugEnabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("FRAMEFIND_TEXT_ENDPOINT"); v != "" {
		c.Embeddings.TextEndpoint = v
	}
	if v := os.Getenv("FRAMEFIND_CLIP_ENDPOINT"); v != "" {
		c.Embeddings.CLIPEndpoint = v
	}
	if v := os.Getenv("FRAMEFIND_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("FRAMEFIND_DATA_DIR"); v != "" {
		c.Stores.DataDir = v
	}
	if v := os.Getenv("FRAMEFIND_VECTOR_BACKEND"); v != "" {
		c.Stores.VectorBackend = v
	}
	if v := os.Getenv("FRAMEFIND_QDRANT_HOST"); v != "" {
		c.Stores.QdrantHost = v
	}
	if v := os.Getenv("FRAMEFIND_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// knownChannels is the closed channel set, used for config validation.
var knownChannels = []string{"transcript", "visual", "summary", "clip_visual", "lexical"}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	switch c.Fusion.MethodDefault {
	case "min_max_weighted_mean", "reciprocal_rank_fusion":
	default:
		return fmt.Errorf("fusion.method_default must be 'min_max_weighted_mean' or 'reciprocal_rank_fusion', got %s", c.Fusion.MethodDefault)
	}

	// Default weights must cover the enabled channels and sum to 1.0.
	var sum float64
	for name, w := range c.Fusion.WeightsDefault {
		known := false
		for _, ch := range knownChannels {
			if name == ch {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("fusion.weights_default: unknown channel %q", name)
		}
		if w < 0 {
			return fmt.Errorf("fusion.weights_default: weight for %s must be non-negative, got %f", name, w)
		}
		cc, _ := c.Channels.ByName(name)
		if cc.IsEnabled() {
			sum += w
		}
	}
	if math.Abs(sum-1.0) > WeightSumTolerance {
		return fmt.Errorf("fusion.weights_default for enabled channels must sum to 1.0, got %f", sum)
	}

	if c.Fusion.RRFConstant <= 0 {
		return fmt.Errorf("fusion.rrf_constant must be positive, got %d", c.Fusion.RRFConstant)
	}
	if c.Retrieval.DenseCandidateK <= 0 || c.Retrieval.LexicalCandidateK <= 0 {
		return fmt.Errorf("candidate k values must be positive")
	}
	if c.Retrieval.DefaultLimit <= 0 || c.Retrieval.MaxLimit < c.Retrieval.DefaultLimit {
		return fmt.Errorf("retrieval limits invalid: default %d, max %d", c.Retrieval.DefaultLimit, c.Retrieval.MaxLimit)
	}

	switch c.Stores.VectorBackend {
	case "hnsw", "qdrant":
	default:
		return fmt.Errorf("stores.vector_backend must be 'hnsw' or 'qdrant', got %s", c.Stores.VectorBackend)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "http", "static":
	default:
		return fmt.Errorf("embeddings.provider must be 'http' or 'static', got %s", c.Embeddings.Provider)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

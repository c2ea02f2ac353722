// Package config loads analyst configuration from YAML with environment
// overrides. Missing files are not an error: defaults apply.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all analyst configuration.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Memory    MemoryConfig    `yaml:"memory"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Session   SessionConfig   `yaml:"session"`
}

// LLMConfig configures the reasoning model.
type LLMConfig struct {
	Provider  string `yaml:"provider"` // openai, anthropic
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	Timeout   string `yaml:"timeout"`
	MaxTokens int    `yaml:"max_tokens"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // ollama, genai
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
}

// WarehouseConfig configures the analytical database.
type WarehouseConfig struct {
	Path         string `yaml:"path"`
	QueryTimeout string `yaml:"query_timeout"`
}

// MemoryConfig configures the embedding-indexed memory store.
type MemoryConfig struct {
	Path string `yaml:"path"`
}

// SandboxConfig configures transform execution.
type SandboxConfig struct {
	Timeout     string `yaml:"timeout"`
	ArtifactDir string `yaml:"artifact_dir"`
}

// RetrievalConfig configures context retrieval.
type RetrievalConfig struct {
	SchemaK          int `yaml:"schema_k"`
	QueryK           int `yaml:"query_k"`
	ObservationK     int `yaml:"observation_k"`
	MaxChars         int `yaml:"max_chars"`
	SchemaChars      int `yaml:"schema_chars"`
	QueryChars       int `yaml:"query_chars"`
	ObservationChars int `yaml:"observation_chars"`
}

// SessionConfig configures the dispatch loop.
type SessionConfig struct {
	MaxToolRounds int    `yaml:"max_tool_rounds"`
	NotesPath     string `yaml:"notes_path"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-4o",
			Timeout:   "2m",
			MaxTokens: 4096,
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
		},
		Warehouse: WarehouseConfig{
			Path:         filepath.Join(".analyst", "warehouse.db"),
			QueryTimeout: "30s",
		},
		Memory: MemoryConfig{
			Path: filepath.Join(".analyst", "memory.db"),
		},
		Sandbox: SandboxConfig{
			Timeout:     "30s",
			ArtifactDir: filepath.Join(".analyst", "artifacts"),
		},
		Retrieval: RetrievalConfig{
			SchemaK:          5,
			QueryK:           5,
			ObservationK:     3,
			MaxChars:         12000,
			SchemaChars:      8000,
			QueryChars:       6000,
			ObservationChars: 2000,
		},
		Session: SessionConfig{
			MaxToolRounds: 16,
			NotesPath:     filepath.Join(".analyst", "notes.md"),
		},
	}
}

// Load reads the config file at path, applies defaults for unset fields,
// then applies ANALYST_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	cfg.fillZeroes()
	return cfg, nil
}

// applyEnvOverrides lets environment variables win over file values.
// API keys in particular are usually supplied this way.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ANALYST_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("ANALYST_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("ANALYST_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("ANALYST_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("ANALYST_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("ANALYST_GENAI_API_KEY"); v != "" {
		c.Embedding.GenAIAPIKey = v
	}
	if v := os.Getenv("ANALYST_WAREHOUSE_PATH"); v != "" {
		c.Warehouse.Path = v
	}
}

// fillZeroes restores defaults for fields a config file left unset.
func (c *Config) fillZeroes() {
	def := Default()
	if c.LLM.Provider == "" {
		c.LLM.Provider = def.LLM.Provider
	}
	if c.LLM.Model == "" {
		c.LLM.Model = def.LLM.Model
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = def.LLM.MaxTokens
	}
	if c.Embedding.Provider == "" {
		c.Embedding = def.Embedding
	}
	if c.Warehouse.Path == "" {
		c.Warehouse.Path = def.Warehouse.Path
	}
	if c.Memory.Path == "" {
		c.Memory.Path = def.Memory.Path
	}
	if c.Sandbox.ArtifactDir == "" {
		c.Sandbox.ArtifactDir = def.Sandbox.ArtifactDir
	}
	if c.Retrieval.SchemaK <= 0 {
		c.Retrieval.SchemaK = def.Retrieval.SchemaK
	}
	if c.Retrieval.QueryK <= 0 {
		c.Retrieval.QueryK = def.Retrieval.QueryK
	}
	if c.Retrieval.ObservationK <= 0 {
		c.Retrieval.ObservationK = def.Retrieval.ObservationK
	}
	if c.Retrieval.MaxChars <= 0 {
		c.Retrieval.MaxChars = def.Retrieval.MaxChars
	}
	if c.Retrieval.SchemaChars <= 0 {
		c.Retrieval.SchemaChars = def.Retrieval.SchemaChars
	}
	if c.Retrieval.QueryChars <= 0 {
		c.Retrieval.QueryChars = def.Retrieval.QueryChars
	}
	if c.Retrieval.ObservationChars <= 0 {
		c.Retrieval.ObservationChars = def.Retrieval.ObservationChars
	}
	if c.Session.MaxToolRounds <= 0 {
		c.Session.MaxToolRounds = def.Session.MaxToolRounds
	}
	if c.Session.NotesPath == "" {
		c.Session.NotesPath = def.Session.NotesPath
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// GetQueryTimeout returns the warehouse query timeout as a duration.
func (c *Config) GetQueryTimeout() time.Duration {
	d, err := time.ParseDuration(c.Warehouse.QueryTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetSandboxTimeout returns the transform execution timeout as a duration.
func (c *Config) GetSandboxTimeout() time.Duration {
	d, err := time.ParseDuration(c.Sandbox.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

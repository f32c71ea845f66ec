// Package config loads the kektorgraph YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sanonone/kektorgraph/pkg/embeddings"
	"github.com/sanonone/kektorgraph/pkg/engine"
	"github.com/sanonone/kektorgraph/pkg/knowledge"
)

// DefaultDimension matches the default embedding model (nomic-embed-text).
const DefaultDimension = 768

type Config struct {
	Engine    engine.Options    `yaml:"engine"`
	Embedder  embeddings.Config `yaml:"embedder"`
	Knowledge knowledge.Options `yaml:"knowledge"`
	Server    ServerConfig      `yaml:"server"`
	Log       LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	HTTPAddr     string        `yaml:"http_addr"`
	AuthToken    string        `yaml:"auth_token"` // empty disables auth
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// DefaultConfig returns a working configuration for a local Ollama.
func DefaultConfig() Config {
	return Config{
		Engine:    engine.DefaultOptions("./kektorgraph-data", DefaultDimension),
		Embedder:  embeddings.DefaultConfig(),
		Knowledge: knowledge.DefaultOptions(),
		Server: ServerConfig{
			HTTPAddr:     ":9091",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads the YAML configuration file using strict parsing.
// Unset fields keep their defaults; an empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)

	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("YAML syntax error in config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the settings the engine would otherwise reject late.
func (c Config) Validate() error {
	if c.Engine.DataDir == "" {
		return fmt.Errorf("config: engine.data_dir is required")
	}
	switch c.Engine.Fsync {
	case engine.FsyncAlways, engine.FsyncLazy:
	default:
		return fmt.Errorf("config: engine.fsync must be %q or %q, got %q", engine.FsyncAlways, engine.FsyncLazy, c.Engine.Fsync)
	}
	if _, err := c.Engine.Graph.Index.Normalize(); err != nil {
		return fmt.Errorf("config: engine.graph.index: %w", err)
	}
	if d := c.Knowledge.DedupSimilarity; d > 1 {
		return fmt.Errorf("config: knowledge.dedup_similarity %v exceeds 1", d)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

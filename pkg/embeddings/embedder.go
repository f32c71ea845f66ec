package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Embedder converts text into a vector representation.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Provider names accepted in Config.Type.
const (
	TypeOllama = "ollama"
	TypeOpenAI = "openai"
)

// ErrEmptyEmbedding is returned when a provider answers without a vector.
var ErrEmptyEmbedding = errors.New("embeddings: provider returned an empty vector")

// Config selects and configures an embedding provider.
type Config struct {
	Type    string        `yaml:"type"`
	URL     string        `yaml:"url"`
	Model   string        `yaml:"model"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
	// CacheSize > 0 wraps the provider in an LRU cache of that many entries.
	CacheSize int `yaml:"cache_size"`
}

func DefaultConfig() Config {
	return Config{
		Type:      TypeOllama,
		URL:       "http://localhost:11434/api/embeddings",
		Model:     "nomic-embed-text",
		Timeout:   60 * time.Second,
		CacheSize: 1024,
	}
}

// New builds the embedder described by cfg.
func New(cfg Config) (Embedder, error) {
	var e Embedder
	switch cfg.Type {
	case TypeOllama, "":
		e = NewOllamaEmbedder(cfg.URL, cfg.Model, cfg.Timeout)
	case TypeOpenAI:
		e = NewOpenAIEmbedder(cfg.URL, cfg.Model, cfg.APIKey, cfg.Timeout)
	default:
		return nil, fmt.Errorf("embeddings: unknown provider %q", cfg.Type)
	}
	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(e, cfg.CacheSize)
	}
	return e, nil
}

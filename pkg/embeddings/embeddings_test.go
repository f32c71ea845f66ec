package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "m", body["model"])
		assert.Equal(t, "hello", body["prompt"])
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.5, 1}})
	}))
	defer srv.Close()

	v, err := NewOllamaEmbedder(srv.URL, "m", time.Second).Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 1}, v)
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1, 2, 3}}},
		})
	}))
	defer srv.Close()

	v, err := NewOpenAIEmbedder(srv.URL, "m", "secret", time.Second).Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, v)
}

func TestEmbedderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty" {
			json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{}})
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewOllamaEmbedder(srv.URL, "m", time.Second).Embed(context.Background(), "x")
	assert.ErrorContains(t, err, "500")

	_, err = NewOllamaEmbedder(srv.URL+"/empty", "m", time.Second).Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmptyEmbedding)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewOllamaEmbedder(srv.URL, "m", time.Second).Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

type countingEmbedder struct{ calls atomic.Int32 }

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return []float32{float32(len(text)), 1}, nil
}

func TestCachedEmbedder(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := NewCachedEmbedder(inner, 2)
	require.NoError(t, err)
	ctx := context.Background()

	a, _ := c.Embed(ctx, "a")
	a[0] = 99
	again, _ := c.Embed(ctx, "a")
	assert.Equal(t, []float32{1, 1}, again, "cached vectors are not aliased")
	assert.EqualValues(t, 1, inner.calls.Load())

	c.Embed(ctx, "bb")
	c.Embed(ctx, "ccc")
	assert.Equal(t, 2, c.Len())
	c.Embed(ctx, "a")
	assert.EqualValues(t, 4, inner.calls.Load(), "least recently used entry was evicted")

	_, err = NewCachedEmbedder(inner, 0)
	assert.Error(t, err)
}

func TestNewFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	e, err := New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &CachedEmbedder{}, e)

	cfg.CacheSize = 0
	cfg.Type = TypeOpenAI
	e, err = New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIEmbedder{}, e)

	cfg.Type = "word2vec"
	_, err = New(cfg)
	assert.Error(t, err)
}

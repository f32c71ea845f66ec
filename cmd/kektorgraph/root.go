package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sanonone/kektorgraph/pkg/config"
	"github.com/sanonone/kektorgraph/pkg/embeddings"
	"github.com/sanonone/kektorgraph/pkg/engine"
	"github.com/sanonone/kektorgraph/pkg/knowledge"
)

var (
	configPath string
	dataDir    string
	dimension  int
	logLevel   string
	logFormat  string

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "kektorgraph",
	Short: "KektorGraph - an embedded knowledge hypergraph",
	Long: `KektorGraph stores concepts as embedded nodes and relations as directed
hyperedges, and answers similarity queries together with the edges each
matching concept takes part in.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides engine.data_dir)")
	rootCmd.PersistentFlags().IntVar(&dimension, "dimension", 0, "Embedding dimension (overrides engine.graph.index.dimension)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.Engine.DataDir = dataDir
	}
	if dimension > 0 {
		cfg.Engine.Graph.Index.Dimension = dimension
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

func newLogger(w io.Writer, lc config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(orDefault(lc.Level, "info")))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", lc.Level)
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// openEngine opens the configured engine. The caller must Close it.
func openEngine() (*engine.Engine, error) {
	eng, err := engine.Open(cfg.Engine)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine in %s: %w", cfg.Engine.DataDir, err)
	}
	return eng, nil
}

// openKnowledge builds the embedder and the knowledge base on top of eng.
func openKnowledge(eng *engine.Engine) (*knowledge.Base, embeddings.Embedder, error) {
	emb, err := embeddings.New(cfg.Embedder)
	if err != nil {
		return nil, nil, err
	}
	return knowledge.New(eng, emb, cfg.Knowledge), emb, nil
}

func exitOnSignal() chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	return ch
}

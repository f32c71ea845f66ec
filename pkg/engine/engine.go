package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sanonone/kektorgraph/pkg/index"
	"github.com/sanonone/kektorgraph/pkg/persistence"
)

// Fsync policies for Options.Fsync.
const (
	// FsyncAlways fsyncs the journal after every mutation.
	FsyncAlways = "always"
	// FsyncLazy batches journal writes and fsyncs about once per second.
	FsyncLazy = "lazy"
)

// Options configures a durable Engine.
type Options struct {
	// DataDir holds the journal and the snapshot. Created if missing.
	DataDir string `yaml:"data_dir"`
	// AofFilename is the journal name; the snapshot is <name>.kgs next to it.
	AofFilename string `yaml:"aof_filename"`
	Fsync       string `yaml:"fsync"`

	// A snapshot is taken when at least AutoSaveThreshold mutations happened
	// and AutoSaveInterval elapsed since the last one. Zero disables.
	AutoSaveInterval  time.Duration `yaml:"auto_save_interval"`
	AutoSaveThreshold int64         `yaml:"auto_save_threshold"`

	// MaintenanceInterval is how often index housekeeping and repair run.
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`

	Graph GraphOptions `yaml:"graph"`
}

// DefaultOptions returns a configuration for embeddings of length dim.
func DefaultOptions(dataDir string, dim int) Options {
	return Options{
		DataDir:             dataDir,
		AofFilename:         "kektorgraph.aof",
		Fsync:               FsyncLazy,
		AutoSaveInterval:    60 * time.Second,
		AutoSaveThreshold:   1000,
		MaintenanceInterval: 30 * time.Second,
		Graph: GraphOptions{
			Name:  "default",
			Index: index.DefaultOptions(dim),
		},
	}
}

// Engine is a Graph whose mutations are journaled to disk.
//
// Mutations go through Engine methods; the embedded *Graph serves reads.
// Calling mutating methods on Graph directly bypasses the journal.
type Engine struct {
	*Graph

	AOF *persistence.LazyAOFWriter

	opts     Options
	aofPath  string
	snapPath string

	// writeMu orders mutations so journal order equals apply order.
	writeMu sync.Mutex
	// adminMu serializes snapshots.
	adminMu sync.Mutex

	dirtyCounter int64
	lastSaveTime time.Time

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open loads the latest snapshot, replays the journal on top of it and
// starts the background auto-save and maintenance loop.
func Open(opts Options) (*Engine, error) {
	if opts.AofFilename == "" {
		opts.AofFilename = "kektorgraph.aof"
	}
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	aofPath := filepath.Join(opts.DataDir, opts.AofFilename)
	snapPath := strings.TrimSuffix(aofPath, filepath.Ext(aofPath)) + ".kgs"

	g, err := loadOrCreate(snapPath, opts.Graph)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		Graph:        g,
		opts:         opts,
		aofPath:      aofPath,
		snapPath:     snapPath,
		lastSaveTime: time.Now(),
		closed:       make(chan struct{}),
	}

	replay, err := persistence.ReplayAOF(aofPath, e.apply)
	if err != nil {
		return nil, fmt.Errorf("failed to replay AOF: %w", err)
	}
	if replay.Damaged {
		if err := persistence.TruncateTail(aofPath, replay.ValidSize); err != nil {
			return nil, err
		}
		slog.Warn("journal damaged tail dropped", "graph", g.Name(), "valid_size", replay.ValidSize)
	}
	if replay.Applied > 0 {
		slog.Info("journal replayed", "graph", g.Name(), "commands", replay.Applied, "applied", e.Dirty())
	}
	if _, err := g.RepairIndex(); err != nil {
		slog.Warn("index repair after replay failed", "error", err)
	}

	aofWriter, err := persistence.NewAOFWriter(aofPath)
	if err != nil {
		return nil, err
	}
	e.AOF = persistence.NewLazyAOFWriter(aofWriter)

	e.wg.Add(1)
	go e.backgroundTasks()

	st := g.Stats()
	slog.Info("engine opened", "graph", st.Name, "id", st.ID, "nodes", st.Nodes, "edges", st.Edges, "dir", opts.DataDir)
	return e, nil
}

func loadOrCreate(snapPath string, opts GraphOptions) (*Graph, error) {
	f, err := os.Open(snapPath)
	if errors.Is(err, os.ErrNotExist) {
		return NewGraph(opts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	g, err := LoadGraph(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", snapPath, err)
	}
	if want := opts.Index.Dimension; want != 0 && want != g.Dimension() {
		return nil, fmt.Errorf("snapshot dimension %d does not match configured %d", g.Dimension(), want)
	}
	return g, nil
}

// Close stops background work and flushes the journal. It does not take a
// final snapshot: everything since the last one is already in the journal.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		e.wg.Wait()
		if e.AOF != nil {
			err = e.AOF.Close()
		}
	})
	return err
}

// Options returns the options the engine was opened with.
func (e *Engine) Options() Options {
	return e.opts
}

// Dirty is the number of mutations since the last snapshot.
func (e *Engine) Dirty() int64 {
	return atomic.LoadInt64(&e.dirtyCounter)
}

func (e *Engine) backgroundTasks() {
	defer e.wg.Done()
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	interval := e.opts.MaintenanceInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	maintTicker := time.NewTicker(interval)
	defer maintTicker.Stop()

	for {
		select {
		case <-e.closed:
			return
		case <-ticker.C:
			e.checkMaintenance()
		case <-maintTicker.C:
			e.runMaintenance()
		}
	}
}

// checkMaintenance applies the auto-save policy.
func (e *Engine) checkMaintenance() {
	dirty := atomic.LoadInt64(&e.dirtyCounter)
	if e.opts.AutoSaveThreshold > 0 && e.opts.AutoSaveInterval > 0 {
		if dirty >= e.opts.AutoSaveThreshold && time.Since(e.lastSaveTime) >= e.opts.AutoSaveInterval {
			if err := e.SaveSnapshot(); err != nil {
				slog.Error("Background snapshot failed", "error", err)
			}
		}
	}
}

func (e *Engine) runMaintenance() {
	if n, err := e.Graph.RepairIndex(); err != nil {
		slog.Error("Background index repair failed", "error", err)
	} else if n > 0 {
		slog.Info("Background index repair", "nodes", n)
	}
	if removed := e.Graph.Maintain(); removed > 0 {
		slog.Info("Background index vacuum", "tombstones", removed)
	}
}

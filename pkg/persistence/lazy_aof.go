package persistence

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// LazyAOFWriter batches journal frames in memory and writes them out on a
// timer or when the batch fills up. A second timer fsyncs the file, so a crash
// loses at most forceSyncInterval worth of mutations. Close flushes and syncs
// everything still pending.
type LazyAOFWriter struct {
	underlying *AOFWriter

	mu      sync.Mutex
	buffer  [][]byte
	stopped bool

	flushTicker *time.Ticker
	syncTicker  *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup

	flushInterval     time.Duration
	forceSyncInterval time.Duration
	maxBufferSize     int
}

const (
	DefaultLazyFlushInterval = 100 * time.Millisecond
	DefaultForceSyncInterval = 1 * time.Second
	DefaultMaxBufferSize     = 1000
)

var ErrWriterClosed = errors.New("persistence: journal writer is closed")

// NewLazyAOFWriter wraps underlying with the default batching parameters.
// underlying must not be written to directly afterwards.
func NewLazyAOFWriter(underlying *AOFWriter) *LazyAOFWriter {
	return NewLazyAOFWriterWithConfig(underlying, DefaultLazyFlushInterval, DefaultForceSyncInterval, DefaultMaxBufferSize)
}

func NewLazyAOFWriterWithConfig(underlying *AOFWriter, flushInterval, forceSyncInterval time.Duration, maxBufferSize int) *LazyAOFWriter {
	if flushInterval <= 0 {
		flushInterval = DefaultLazyFlushInterval
	}
	if forceSyncInterval <= 0 {
		forceSyncInterval = DefaultForceSyncInterval
	}
	if maxBufferSize <= 0 {
		maxBufferSize = DefaultMaxBufferSize
	}
	lw := &LazyAOFWriter{
		underlying:        underlying,
		buffer:            make([][]byte, 0, maxBufferSize),
		flushInterval:     flushInterval,
		forceSyncInterval: forceSyncInterval,
		maxBufferSize:     maxBufferSize,
		stopCh:            make(chan struct{}),
		flushTicker:       time.NewTicker(flushInterval),
		syncTicker:        time.NewTicker(forceSyncInterval),
	}

	lw.wg.Add(1)
	go lw.loop()

	slog.Debug("LazyAOFWriter initialized",
		"path", underlying.Path(),
		"flush_interval", flushInterval,
		"sync_interval", forceSyncInterval,
		"max_buffer_size", maxBufferSize,
	)
	return lw
}

// Append frames one command and queues it.
func (lw *LazyAOFWriter) Append(name string, args ...[]byte) error {
	return lw.Write(AppendFrame(nil, OpCodeCommand, FormatCommand(name, args...)))
}

// Write queues an already framed record. A full buffer is flushed inline.
func (lw *LazyAOFWriter) Write(frame []byte) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.stopped {
		return ErrWriterClosed
	}
	lw.buffer = append(lw.buffer, frame)
	if len(lw.buffer) >= lw.maxBufferSize {
		return lw.flushLocked()
	}
	return nil
}

// Flush writes all queued frames to the OS (no fsync).
func (lw *LazyAOFWriter) Flush() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.flushLocked()
}

func (lw *LazyAOFWriter) flushLocked() error {
	if len(lw.buffer) == 0 {
		return nil
	}
	for _, frame := range lw.buffer {
		if err := lw.underlying.Write(frame); err != nil {
			return fmt.Errorf("failed to write to AOF: %w", err)
		}
	}
	if err := lw.underlying.Flush(); err != nil {
		return fmt.Errorf("failed to flush AOF buffer: %w", err)
	}
	clear(lw.buffer)
	lw.buffer = lw.buffer[:0]
	return nil
}

// Sync flushes queued frames and fsyncs the file.
func (lw *LazyAOFWriter) Sync() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if err := lw.flushLocked(); err != nil {
		return err
	}
	return lw.underlying.Sync()
}

// Truncate drops the journal contents, pending frames included: callers only
// truncate after a snapshot that already reflects them.
func (lw *LazyAOFWriter) Truncate() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	clear(lw.buffer)
	lw.buffer = lw.buffer[:0]
	return lw.underlying.Truncate()
}

// Close stops the background loop, flushes, syncs and closes the file.
func (lw *LazyAOFWriter) Close() error {
	lw.mu.Lock()
	if lw.stopped {
		lw.mu.Unlock()
		return ErrWriterClosed
	}
	lw.stopped = true
	lw.mu.Unlock()

	close(lw.stopCh)
	lw.wg.Wait()
	lw.flushTicker.Stop()
	lw.syncTicker.Stop()

	lw.mu.Lock()
	defer lw.mu.Unlock()
	if err := lw.flushLocked(); err != nil {
		slog.Error("Failed to flush during Close", "error", err)
	}
	if err := lw.underlying.Sync(); err != nil {
		slog.Error("Failed to sync during Close", "error", err)
	}
	return lw.underlying.Close()
}

func (lw *LazyAOFWriter) Path() string {
	return lw.underlying.Path()
}

// Size reports the journal size on disk.
func (lw *LazyAOFWriter) Size() (int64, error) {
	return lw.underlying.Size()
}

func (lw *LazyAOFWriter) loop() {
	defer lw.wg.Done()
	for {
		select {
		case <-lw.flushTicker.C:
			if err := lw.Flush(); err != nil {
				slog.Error("Periodic flush failed", "error", err)
			}
		case <-lw.syncTicker.C:
			if err := lw.Sync(); err != nil {
				slog.Error("Periodic sync failed", "error", err)
			}
		case <-lw.stopCh:
			return
		}
	}
}

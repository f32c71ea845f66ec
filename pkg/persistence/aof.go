package persistence

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// AOFWriter appends framed commands to the journal file.
type AOFWriter struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	path string
}

// NewAOFWriter opens or creates the journal at path in append mode.
func NewAOFWriter(path string) (*AOFWriter, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open AOF file: %w", err)
	}
	return &AOFWriter{
		file: file,
		buf:  bufio.NewWriter(file),
		path: path,
	}, nil
}

// Write appends an already framed record to the buffer.
func (a *AOFWriter) Write(frame []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.buf.Write(frame)
	return err
}

// Append frames and buffers one command.
func (a *AOFWriter) Append(name string, args ...[]byte) error {
	return a.Write(AppendFrame(nil, OpCodeCommand, FormatCommand(name, args...)))
}

// Flush pushes buffered bytes to the OS.
func (a *AOFWriter) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Flush()
}

// Sync flushes and fsyncs.
func (a *AOFWriter) Sync() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.buf.Flush(); err != nil {
		return err
	}
	return a.file.Sync()
}

func (a *AOFWriter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.buf.Flush(); err != nil {
		_ = a.file.Close()
		return err
	}
	return a.file.Close()
}

// Truncate empties the journal. Called right after a snapshot is persisted.
func (a *AOFWriter) Truncate() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf.Reset(a.file)
	if err := a.file.Truncate(0); err != nil {
		return err
	}
	_, err := a.file.Seek(0, io.SeekStart)
	return err
}

// Size returns the current on-disk size of the journal, buffered bytes excluded.
func (a *AOFWriter) Size() (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, err := a.file.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

func (a *AOFWriter) Path() string {
	return a.path
}

// ReplayResult describes what ReplayAOF found in a journal.
type ReplayResult struct {
	// Applied is the number of commands handed to apply.
	Applied int
	// ValidSize is the length of the intact prefix of the file.
	ValidSize int64
	// Damaged is set when a torn or corrupt frame ended the replay early.
	// Bytes past ValidSize must be cut before appending again.
	Damaged bool
}

// ReplayAOF reads every command frame in path and hands it to apply.
// A torn or corrupt tail stops the replay with a warning: everything before
// it is kept, matching what a crash mid-write leaves on disk.
// A missing file is not an error.
func ReplayAOF(path string, apply func(*Command) error) (ReplayResult, error) {
	var res ReplayResult
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return res, nil
		}
		return res, err
	}
	defer file.Close()

	r := bufio.NewReader(file)
	for {
		op, payload, n, err := ReadFrame(r)
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			slog.Warn("AOF replay stopped at damaged frame", "path", path, "offset", res.ValidSize, "error", err)
			res.Damaged = true
			return res, nil
		}
		res.ValidSize += int64(n)
		if op != OpCodeCommand {
			slog.Warn("AOF replay skipping unknown frame", "opcode", op, "offset", res.ValidSize)
			continue
		}
		cmd, err := ParseCommand(payload)
		if err != nil {
			slog.Warn("AOF replay skipping malformed command", "offset", res.ValidSize, "error", err)
			continue
		}
		if err := apply(cmd); err != nil {
			return res, fmt.Errorf("replay %s at offset %d: %w", cmd.Name, res.ValidSize, err)
		}
		res.Applied++
	}
}

// TruncateTail cuts the journal at path to size, dropping a damaged tail so
// that new records are not appended behind unreadable bytes.
func TruncateTail(path string, size int64) error {
	if err := os.Truncate(path, size); err != nil {
		return fmt.Errorf("failed to truncate damaged AOF tail: %w", err)
	}
	return nil
}

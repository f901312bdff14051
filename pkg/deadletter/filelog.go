package deadletter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dmitrymomot/marketjobs/pkg/queue"
)

// FileLog is an append-only JSONL file of dead-letter records. It backs the
// escalator when the primary store rejects a write.
type FileLog struct {
	mu   sync.Mutex
	path string
}

var _ queue.FallbackSink = (*FileLog)(nil)

// NewFileLog creates the parent directory of path if needed. The file itself
// is created on first Append.
func NewFileLog(path string) (*FileLog, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrFallbackFailed)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, errors.Join(ErrFallbackFailed, err)
	}
	return &FileLog{path: path}, nil
}

// Path returns the file location.
func (l *FileLog) Path() string { return l.path }

// Append writes rec as one line and syncs the file.
func (l *FileLog) Append(ctx context.Context, rec queue.DeadLetterRecord) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrFallbackFailed, err)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return errors.Join(ErrFallbackFailed, err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return errors.Join(ErrFallbackFailed, err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return errors.Join(ErrFallbackFailed, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errors.Join(ErrFallbackFailed, err)
	}
	if err := f.Close(); err != nil {
		return errors.Join(ErrFallbackFailed, err)
	}
	return nil
}

// Records returns every entry in file order. A missing file yields no records.
func (l *FileLog) Records() ([]queue.DeadLetterRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readLocked()
}

// Recover saves every logged record into store and rewrites the log with the
// records that could not be saved. It returns how many records moved.
func (l *FileLog) Recover(ctx context.Context, store queue.DeadLetterStore) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	recs, err := l.readLocked()
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}

	var (
		moved   int
		pending []queue.DeadLetterRecord
		errs    []error
	)
	for _, rec := range recs {
		if ctx.Err() != nil {
			pending = append(pending, rec)
			continue
		}
		if err := store.Save(ctx, rec); err != nil {
			pending = append(pending, rec)
			errs = append(errs, fmt.Errorf("job %s: %w", rec.OriginalJobID, err))
			continue
		}
		moved++
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}

	if err := l.rewriteLocked(pending); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return moved, errors.Join(append([]error{ErrFallbackFailed}, errs...)...)
	}
	return moved, nil
}

func (l *FileLog) readLocked() ([]queue.DeadLetterRecord, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Join(ErrFallbackFailed, err)
	}

	var out []queue.DeadLetterRecord
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec queue.DeadLetterRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrCorruptFallback, lineNo, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Join(ErrFallbackFailed, err)
	}
	return out, nil
}

// rewriteLocked replaces the log atomically with recs.
func (l *FileLog) rewriteLocked(recs []queue.DeadLetterRecord) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return errors.Join(ErrFallbackFailed, err)
		}
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o640); err != nil {
		return errors.Join(ErrFallbackFailed, err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		_ = os.Remove(tmp)
		return errors.Join(ErrFallbackFailed, err)
	}
	return nil
}

package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultAuditMaxSizeMB  = 100
	defaultAuditMaxBackups = 7
	defaultAuditMaxAgeDays = 30

	// Timestamp embedded in rotated segment names, e.g. audit-20260825T104500.000.log.
	segmentTimeLayout = "20060102T150405.000"
)

// auditWriter appends JSON audit records to a single file and rotates it
// once the configured size limit would be exceeded. Rotated segments keep
// a sortable timestamp in their name so pruning never has to shift files.
type auditWriter struct {
	mu sync.Mutex

	base string // path without extension, e.g. data/audit
	ext  string // extension including the dot, e.g. .log

	sizeLimit  int64
	maxBackups int
	maxAge     time.Duration

	file    *os.File
	written int64

	now func() time.Time
}

// newAuditWriter validates the audit config and prepares the target directory.
// Zero or negative limits fall back to the package defaults.
func newAuditWriter(cfg AuditConfig) (*auditWriter, error) {
	if cfg.Path == "" {
		return nil, errors.New("audit path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	sizeMB := cfg.MaxSizeMB
	if sizeMB <= 0 {
		sizeMB = defaultAuditMaxSizeMB
	}
	backups := cfg.MaxBackups
	if backups <= 0 {
		backups = defaultAuditMaxBackups
	}
	ageDays := cfg.MaxAgeDays
	if ageDays <= 0 {
		ageDays = defaultAuditMaxAgeDays
	}

	ext := filepath.Ext(cfg.Path)
	return &auditWriter{
		base:       strings.TrimSuffix(cfg.Path, ext),
		ext:        ext,
		sizeLimit:  int64(sizeMB) * 1024 * 1024,
		maxBackups: backups,
		maxAge:     time.Duration(ageDays) * 24 * time.Hour,
		now:        time.Now,
	}, nil
}

func (w *auditWriter) activePath() string {
	return w.base + w.ext
}

func (w *auditWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil && w.written+int64(len(p)) > w.sizeLimit {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}
	if w.file == nil {
		if err := w.openLocked(); err != nil {
			return 0, err
		}
		// An existing file may already be over the limit after a restart.
		if w.written+int64(len(p)) > w.sizeLimit && w.written > 0 {
			if err := w.rotateLocked(); err != nil {
				return 0, err
			}
			if err := w.openLocked(); err != nil {
				return 0, err
			}
		}
	}

	n, err := w.file.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *auditWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.written = 0
	return err
}

func (w *auditWriter) openLocked() error {
	file, err := os.OpenFile(w.activePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	w.file = file
	w.written = info.Size()
	return nil
}

// rotateLocked renames the active file to a timestamped segment and prunes
// old segments. Pruning failures are ignored: losing a stale segment removal
// must never block the write path.
func (w *auditWriter) rotateLocked() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
		w.written = 0
	}

	segment := fmt.Sprintf("%s-%s%s", w.base, w.now().UTC().Format(segmentTimeLayout), w.ext)
	if err := os.Rename(w.activePath(), segment); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("rotate audit log: %w", err)
	}

	w.pruneLocked()
	return nil
}

// pruneLocked removes segments beyond the backup count or older than maxAge.
// Segment names sort chronologically, so ordering is a plain string sort.
func (w *auditWriter) pruneLocked() {
	segments, err := filepath.Glob(w.base + "-*" + w.ext)
	if err != nil || len(segments) == 0 {
		return
	}
	sort.Strings(segments)

	if excess := len(segments) - w.maxBackups; excess > 0 {
		for _, stale := range segments[:excess] {
			_ = os.Remove(stale)
		}
		segments = segments[excess:]
	}

	cutoff := w.now().Add(-w.maxAge)
	for _, segment := range segments {
		info, err := os.Stat(segment)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(segment)
		}
	}
}

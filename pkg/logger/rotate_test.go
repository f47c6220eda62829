package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestAuditWriter(t *testing.T, cfg AuditConfig) *auditWriter {
	t.Helper()
	writer, err := newAuditWriter(cfg)
	if err != nil {
		t.Fatalf("newAuditWriter returned error: %v", err)
	}
	t.Cleanup(func() { _ = writer.Close() })
	return writer
}

func listSegments(t *testing.T, writer *auditWriter) []string {
	t.Helper()
	segments, err := filepath.Glob(writer.base + "-*" + writer.ext)
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	return segments
}

func TestAuditWriterAppendsBelowLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	writer := newTestAuditWriter(t, AuditConfig{Path: path, MaxSizeMB: 1})

	for i := 0; i < 3; i++ {
		if _, err := writer.Write([]byte("entry\n")); err != nil {
			t.Fatalf("Write returned error: %v", err)
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if got := strings.Count(string(content), "entry"); got != 3 {
		t.Fatalf("expected 3 entries, got %d", got)
	}
	if segments := listSegments(t, writer); len(segments) != 0 {
		t.Fatalf("no rotation expected, found %v", segments)
	}
}

func TestAuditWriterRotatesWhenLimitExceeded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	writer := newTestAuditWriter(t, AuditConfig{Path: path, MaxSizeMB: 1})
	// Shrink the limit below a single default MB so two writes force a rotation.
	writer.sizeLimit = 16

	if _, err := writer.Write([]byte("first-entry-0123\n")); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if _, err := writer.Write([]byte("second-entry\n")); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	segments := listSegments(t, writer)
	if len(segments) != 1 {
		t.Fatalf("expected 1 rotated segment, found %v", segments)
	}
	rotated, err := os.ReadFile(segments[0])
	if err != nil {
		t.Fatalf("read rotated segment: %v", err)
	}
	if !strings.Contains(string(rotated), "first-entry") {
		t.Fatalf("rotated segment missing original content: %q", rotated)
	}
	active, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read active log: %v", err)
	}
	if !strings.Contains(string(active), "second-entry") {
		t.Fatalf("active log missing latest entry: %q", active)
	}
}

func TestAuditWriterPrunesOldSegments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	writer := newTestAuditWriter(t, AuditConfig{Path: path, MaxSizeMB: 1, MaxBackups: 2})
	writer.sizeLimit = 8

	// Distinct timestamps per rotation so segment names never collide.
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	rotations := 0
	writer.now = func() time.Time {
		rotations++
		return base.Add(time.Duration(rotations) * time.Second)
	}

	for i := 0; i < 5; i++ {
		if _, err := writer.Write([]byte("0123456789\n")); err != nil {
			t.Fatalf("Write returned error: %v", err)
		}
	}

	segments := listSegments(t, writer)
	if len(segments) > 2 {
		t.Fatalf("pruning kept too many segments: %v", segments)
	}
}

func TestAuditWriterRequiresPath(t *testing.T) {
	if _, err := newAuditWriter(AuditConfig{}); err == nil {
		t.Fatal("empty path should be rejected")
	}
}

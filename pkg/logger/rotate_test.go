package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriterShiftsBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	w, err := newRotatingWriter(path, 1, 2, 1)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	w.maxSize = 16
	defer w.Close()

	for _, line := range []string{"first-line-0001\n", "second-line-002\n", "third-line-0003\n"} {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read current: %v", err)
	}
	if !strings.Contains(string(current), "third") {
		t.Fatalf("expected newest line in current file, got %q", current)
	}
	backup, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if !strings.Contains(string(backup), "second") {
		t.Fatalf("expected previous line in .1, got %q", backup)
	}
	if _, err := os.Stat(path + ".2"); err != nil {
		t.Fatalf("expected .2 backup: %v", err)
	}
}

func TestInitWithAuditLog(t *testing.T) {
	dir := t.TempDir()
	err := Init(Config{
		Level:       "debug",
		OutputPaths: []string{filepath.Join(dir, "main.log")},
		Audit:       AuditConfig{Enabled: true, Path: filepath.Join(dir, "audit.log")},
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	Audit().Info("admin promoted", "nick", "alice")
	Named("test").Debug("hello")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	Use(Discard())

	audit, err := os.ReadFile(filepath.Join(dir, "audit.log"))
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	if !strings.Contains(string(audit), "admin promoted") {
		t.Fatalf("expected audit record, got %q", audit)
	}
	main, err := os.ReadFile(filepath.Join(dir, "main.log"))
	if err != nil {
		t.Fatalf("read main: %v", err)
	}
	if !strings.Contains(string(main), "component=test") {
		t.Fatalf("expected component attribute, got %q", main)
	}
}

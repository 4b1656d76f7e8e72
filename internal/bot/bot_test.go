package bot

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"OpenChat-Bot/internal/dispatch"
	"OpenChat-Bot/internal/personality"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "openchat.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunAutoloadsModules(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: error
autoload: [core, missing, countdown]
personality: fancy
`)
	b, err := New(context.Background(), path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	cascade := b.store.Cascade()
	if got := cascade.Strings(dispatch.PrefixesKey, "", ""); !reflect.DeepEqual(got, []string{":"}) {
		t.Fatalf("expected default prefixes, got %v", got)
	}
	if got := cascade.String(personality.Key, "", "", ""); got != "fancy" {
		t.Fatalf("expected configured personality, got %q", got)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(path), "data", "openchat.db")); err != nil {
		t.Fatalf("expected sqlite database in data dir: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !reflect.DeepEqual(b.Manager().Loaded(), []string{"core", "countdown"}) {
		if time.Now().After(deadline) {
			t.Fatalf("modules not loaded, got %v", b.Manager().Loaded())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}

func TestNewRejectsUnknownRelayDriver(t *testing.T) {
	path := writeConfig(t, `
relay:
  driver: kafka
`)
	if _, err := New(context.Background(), path); err == nil {
		t.Fatalf("expected an error for an unknown relay driver")
	}
}

func TestCatalogListsBuiltinModules(t *testing.T) {
	if got := Catalog().Names(); !reflect.DeepEqual(got, []string{"chatlog", "core", "countdown", "relay"}) {
		t.Fatalf("unexpected catalog %v", got)
	}
}

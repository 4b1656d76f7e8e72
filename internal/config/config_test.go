package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.yaml")
	content := `
servers:
  libera:
    host: irc.libera.chat
    tls: true
    channels: ["#openchat"]
autoload: [core]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, doc, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("expected sqlite default, got %q", cfg.Storage.Driver)
	}
	if cfg.Storage.DSN != filepath.Join(dir, "data", "openchat.db") {
		t.Fatalf("unexpected dsn %q", cfg.Storage.DSN)
	}
	server := cfg.Servers["libera"]
	if server.Type != "irc" || server.Port != 6697 || server.Nickname != "openchat" {
		t.Fatalf("unexpected server defaults: %+v", server)
	}
	if !reflect.DeepEqual(cfg.CommandPrefixes, []string{":"}) {
		t.Fatalf("unexpected prefixes %v", cfg.CommandPrefixes)
	}
	if _, ok := doc["servers"]; !ok {
		t.Fatalf("raw document should keep servers")
	}
}

func TestStoreSaveAndReload(t *testing.T) {
	for _, ext := range []string{".yaml", ".json", ".toml"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bot"+ext)
			store := NewStore(path, nil)
			cascade := store.Cascade()
			_ = cascade.Set("personality", "default", "", "")
			_ = cascade.Set("personality", "pirate", "libera", "#fun")
			_ = cascade.Add("command_prefixes", "!", "", "")

			if err := store.Save(); err != nil {
				t.Fatalf("save: %v", err)
			}
			_ = cascade.Set("personality", "changed", "", "")

			if err := store.Load(); err != nil {
				t.Fatalf("load: %v", err)
			}
			if got := cascade.String("personality", "", "", ""); got != "default" {
				t.Fatalf("expected reload to restore global value, got %q", got)
			}
			if got := cascade.String("personality", "libera", "#fun", ""); got != "pirate" {
				t.Fatalf("expected channel override, got %q", got)
			}
			if got := cascade.Strings("command_prefixes", "", ""); !reflect.DeepEqual(got, []string{"!"}) {
				t.Fatalf("unexpected prefixes %v", got)
			}
		})
	}
}

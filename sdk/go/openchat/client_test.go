package openchat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"OpenChat-Bot/internal/api"
	xerrors "OpenChat-Bot/internal/errors"
	"OpenChat-Bot/pkg/plugin"
)

type staticModules map[string]plugin.Status

func (m staticModules) Modules() map[string]plugin.Status { return m }

type recordingAnnouncer struct {
	texts []string
}

func (r *recordingAnnouncer) SendTo(_ context.Context, server, _, text string) error {
	if server != "libera" {
		return xerrors.New(xerrors.CodeNotFound, "server "+server+" is not connected")
	}
	r.texts = append(r.texts, text)
	return nil
}

func (r *recordingAnnouncer) Networks() []string { return []string{"libera"} }

func newServer(t *testing.T, token string) (*httptest.Server, *recordingAnnouncer) {
	t.Helper()
	announcer := &recordingAnnouncer{}
	modules := staticModules{
		"core": {Info: plugin.Info{Name: "core", Version: "0.1.0"}, State: plugin.StateLoaded, EnabledDefault: true, Commands: 3},
	}
	srv := httptest.NewServer(api.NewServer(":0", token, modules, announcer).Handler())
	t.Cleanup(srv.Close)
	return srv, announcer
}

func TestHealthAndModules(t *testing.T) {
	srv, _ := newServer(t, "")
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Status != "ok" || len(health.Networks) != 1 || health.Networks[0] != "libera" {
		t.Fatalf("unexpected health %+v", health)
	}

	modules, err := client.Modules(context.Background())
	if err != nil {
		t.Fatalf("modules: %v", err)
	}
	if len(modules) != 1 || modules[0].Name != "core" || modules[0].State != "loaded" || modules[0].Commands != 3 {
		t.Fatalf("unexpected modules %+v", modules)
	}
}

func TestAnnounceUsesToken(t *testing.T) {
	srv, announcer := newServer(t, "s3cret")
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	msg := Announcement{Server: "libera", Target: "#go", Text: "deploy done"}

	var apiErr *APIError
	if err := client.Announce(context.Background(), msg); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %v", err)
	}

	client.SetToken("s3cret")
	if err := client.Announce(context.Background(), msg); err != nil {
		t.Fatalf("announce: %v", err)
	}
	if len(announcer.texts) != 1 || announcer.texts[0] != "deploy done" {
		t.Fatalf("announcement not delivered: %v", announcer.texts)
	}

	msg.Server = "efnet"
	if err := client.Announce(context.Background(), msg); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown server, got %v", err)
	}
}

func TestAnnounceValidatesLocally(t *testing.T) {
	client, err := NewClient("http://127.0.0.1:1", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Announce(context.Background(), Announcement{Server: "libera"}); err == nil {
		t.Fatalf("expected validation error")
	}
}

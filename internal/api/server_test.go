package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	xerrors "OpenChat-Bot/internal/errors"
	"OpenChat-Bot/pkg/plugin"
)

type staticModules map[string]plugin.Status

func (m staticModules) Modules() map[string]plugin.Status { return m }

type sent struct{ server, target, text string }

type fakeAnnouncer struct {
	sent []sent
}

func (f *fakeAnnouncer) SendTo(_ context.Context, server, target, text string) error {
	if server != "libera" {
		return xerrors.New(xerrors.CodeNotFound, "server "+server+" is not connected")
	}
	f.sent = append(f.sent, sent{server, target, text})
	return nil
}

func (f *fakeAnnouncer) Networks() []string { return []string{"libera"} }

func newTestServer(token string) (*Server, *fakeAnnouncer) {
	modules := staticModules{
		"core":  {Info: plugin.Info{Name: "core", Version: "1.0"}, State: plugin.StateLoaded, EnabledDefault: true, Commands: 12},
		"relay": {Info: plugin.Info{Name: "relay", Dependencies: []string{"core"}}, State: plugin.StateUnloaded},
	}
	announcer := &fakeAnnouncer{}
	return NewServer(":0", token, modules, announcer), announcer
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer("")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || len(body.Networks) != 1 {
		t.Fatalf("unexpected health body %+v", body)
	}
}

func TestModulesAreSortedByName(t *testing.T) {
	server, _ := newTestServer("")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/modules", nil))

	var views []moduleView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 2 || views[0].Name != "core" || views[1].Name != "relay" {
		t.Fatalf("unexpected modules %+v", views)
	}
	if views[0].State != "loaded" || views[0].Commands != 12 || views[1].Dependencies[0] != "core" {
		t.Fatalf("unexpected module details %+v", views)
	}
}

func TestAnnounce(t *testing.T) {
	server, announcer := newTestServer("")
	handler := server.Handler()

	cases := []struct {
		name   string
		method string
		body   string
		status int
	}{
		{"delivered", http.MethodPost, `{"server":"libera","target":"#go","text":"deploy done"}`, http.StatusAccepted},
		{"unknown server", http.MethodPost, `{"server":"oftc","target":"#go","text":"hi"}`, http.StatusNotFound},
		{"missing text", http.MethodPost, `{"server":"libera","target":"#go"}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, `{`, http.StatusBadRequest},
		{"wrong method", http.MethodGet, ``, http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(tc.method, "/api/v1/announce", strings.NewReader(tc.body)))
			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d (%s)", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
	if len(announcer.sent) != 1 || announcer.sent[0].text != "deploy done" {
		t.Fatalf("unexpected deliveries %+v", announcer.sent)
	}
}

func TestTokenIsRequired(t *testing.T) {
	server, _ := newTestServer("s3cret")
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/modules", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/modules", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health check must stay public, got %d", rec.Code)
	}
}

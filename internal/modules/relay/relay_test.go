package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"OpenChat-Bot/internal/chat"
	"OpenChat-Bot/internal/chat/chattest"
	"OpenChat-Bot/internal/command"
	"OpenChat-Bot/internal/config"
	"OpenChat-Bot/internal/event"
	"OpenChat-Bot/internal/modules/host"
	queue "OpenChat-Bot/internal/relay"
	"OpenChat-Bot/internal/storage"
	"OpenChat-Bot/pkg/plugin"
)

type fixture struct {
	bus       *event.Bus
	broker    *queue.Broker
	manager   *plugin.Manager
	transport *chattest.Transport
}

func newFixture(t *testing.T, topics []string) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, storage.Config{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := chat.EnsureSchema(ctx, db); err != nil {
		t.Fatalf("schema: %v", err)
	}
	broker, err := queue.Open(ctx, config.RelayConfig{Driver: "memory"})
	if err != nil {
		t.Fatalf("broker: %v", err)
	}

	f := &fixture{bus: event.NewBus(), broker: broker, transport: chattest.New("libera", "openchat")}
	cascade := config.NewCascade()
	hub := chat.NewHub(f.bus, db, nil)
	hub.RegisterType("fake", func(*chat.Network) (chat.Transport, error) { return f.transport, nil })
	if _, err := hub.Connect(ctx, "libera", config.ServerConfig{Type: "fake"}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	catalog := plugin.NewCatalog()
	catalog.Register(Name, New)
	opts := []plugin.Option{
		plugin.WithLoader(catalog),
		plugin.WithResource(host.KeyHub, hub),
		plugin.WithResource(host.KeyBroker, broker),
	}
	if topics != nil {
		opts = append(opts, plugin.WithResource(host.KeyRelayTopics, topics))
	}
	f.manager = plugin.NewManager(command.NewRegistry(cascade), f.bus, cascade, opts...)
	if err := f.manager.Load(ctx, Name); err != nil {
		t.Fatalf("load: %v", err)
	}
	t.Cleanup(func() {
		f.manager.UnloadAll(context.Background(), false)
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		hub.Close(closeCtx, "bye")
		broker.Close()
	})
	return f
}

// outbound 关闭出站队列并取出其中全部信封。
func (f *fixture) outbound(t *testing.T) []map[string]any {
	t.Helper()
	q := f.broker.Outbound
	q.Close()
	var out []map[string]any
	err := q.Consume(context.Background(), 1, func(_ context.Context, body []byte) error {
		var decoded map[string]any
		if err := json.Unmarshal(body, &decoded); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
		out = append(out, decoded)
		return nil
	})
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	return out
}

func TestForwardsChatEvents(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.bus.Publish(ctx, event.TopicJoin, &chat.Event{Server: "libera", Channel: "#go", Nick: "alice"})
	f.bus.Publish(ctx, event.TopicMessage, &chat.Context{Server: "libera", Channel: "#go", Target: "#go", Sender: "alice", Text: "hi"})
	f.bus.Publish(ctx, event.TopicModuleLoaded, "core")

	got := f.outbound(t)
	if len(got) != 2 {
		t.Fatalf("expected 2 envelopes, got %d", len(got))
	}
	if got[0]["topic"] != event.TopicJoin || got[0]["nick"] != "alice" {
		t.Fatalf("unexpected join envelope %v", got[0])
	}
	if got[1]["topic"] != event.TopicMessage || got[1]["text"] != "hi" {
		t.Fatalf("unexpected message envelope %v", got[1])
	}
}

func TestTopicFilter(t *testing.T) {
	f := newFixture(t, []string{event.TopicMessage})
	ctx := context.Background()
	f.bus.Publish(ctx, event.TopicJoin, &chat.Event{Server: "libera", Channel: "#go", Nick: "alice"})
	f.bus.Publish(ctx, event.TopicMessage, &chat.Context{Server: "libera", Channel: "#go", Sender: "alice", Text: "hi"})

	got := f.outbound(t)
	if len(got) != 1 || got[0]["topic"] != event.TopicMessage {
		t.Fatalf("expected only the message topic, got %v", got)
	}
}

func TestAnnouncementsReachNetworks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if err := f.broker.Inbound.Publish(ctx, []byte(`{"server":"libera","target":"#go","text":"deploy done"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(f.transport.Sent()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("announcement was not delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	sent := f.transport.Sent()[0]
	if sent.Target != "#go" || sent.Text != "deploy done" {
		t.Fatalf("unexpected delivery %+v", sent)
	}
}

func TestUnloadStopsConsumer(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if err := f.manager.Unload(ctx, Name, false); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if err := f.broker.Inbound.Publish(ctx, []byte(`{"server":"libera","target":"#go","text":"late"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if len(f.transport.Sent()) != 0 {
		t.Fatalf("unloaded relay still delivered %v", f.transport.Sent())
	}
	f.bus.Publish(ctx, event.TopicJoin, &chat.Event{Server: "libera", Channel: "#go", Nick: "alice"})
	if n := f.broker.Outbound.(*queue.MemoryQueue).Len(); n != 0 {
		t.Fatalf("unloaded relay still forwarded %d events", n)
	}
}

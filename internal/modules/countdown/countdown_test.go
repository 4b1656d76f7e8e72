package countdown

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"OpenChat-Bot/internal/chat"
	"OpenChat-Bot/internal/chat/chattest"
	"OpenChat-Bot/internal/command"
	"OpenChat-Bot/internal/config"
	"OpenChat-Bot/internal/dispatch"
	"OpenChat-Bot/internal/event"
	"OpenChat-Bot/internal/modules/host"
	"OpenChat-Bot/pkg/plugin"
)

type fixture struct {
	module     *Module
	dispatcher *dispatch.Dispatcher
	transport  *chattest.Transport
}

func newFixture(t *testing.T, tick time.Duration) *fixture {
	t.Helper()
	cascade := config.NewCascade()
	bus := event.NewBus()
	registry := command.NewRegistry(cascade)
	f := &fixture{transport: chattest.New("libera", "openchat")}
	f.dispatcher = dispatch.New(registry, bus, cascade, nil)

	catalog := plugin.NewCatalog()
	catalog.Register(Name, func() plugin.Plugin {
		m := New().(*Module)
		m.Tick = tick
		f.module = m
		return m
	})
	manager := plugin.NewManager(registry, bus, cascade,
		plugin.WithLoader(catalog),
		plugin.WithResource(host.KeyStore, config.NewStore("", cascade)),
	)
	if err := manager.Load(context.Background(), Name); err != nil {
		t.Fatalf("load: %v", err)
	}
	t.Cleanup(func() { manager.UnloadAll(context.Background(), false) })
	return f
}

func (f *fixture) say(sender, text string) {
	f.dispatcher.Dispatch(context.Background(), &chat.Context{
		Server:    "libera",
		Target:    "#go",
		Channel:   "#go",
		Sender:    sender,
		Text:      text,
		Transport: f.transport,
	})
}

func (f *fixture) waitFor(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		sent := f.transport.Sent()
		if len(sent) >= n {
			out := make([]string, len(sent))
			for i, msg := range sent {
				out[i] = msg.Text
			}
			return out
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d messages, got %v", n, sent)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestCountdown(t *testing.T) {
	f := newFixture(t, time.Millisecond)
	f.say("alice", "openchat: countdown from 3")
	if got := f.waitFor(t, 4); !reflect.DeepEqual(got, []string{"3", "2", "1", "Go!"}) {
		t.Fatalf("unexpected countdown %v", got)
	}
}

func TestCountUpWithMessage(t *testing.T) {
	f := newFixture(t, time.Millisecond)
	f.say("alice", "openchat: count up from 2 to Launch")
	if got := f.waitFor(t, 3); !reflect.DeepEqual(got, []string{"1", "2", "Launch!"}) {
		t.Fatalf("unexpected count %v", got)
	}
}

func TestNewRequestSupersedesRunningCountdown(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.say("alice", "openchat: countdown from 5")
	f.waitFor(t, 1)
	f.say("alice", "openchat: count up from 3")
	if got := f.waitFor(t, 2); !reflect.DeepEqual(got, []string{"5", "1"}) {
		t.Fatalf("unexpected messages %v", got)
	}
	if !f.module.Active("libera", "#go") {
		t.Fatalf("the new countdown should be active")
	}

	f.say("alice", "openchat: stop countdown")
	if got := f.waitFor(t, 3); got[2] != "Countdown stopped." {
		t.Fatalf("unexpected stop reply %v", got)
	}
	if f.module.Active("libera", "#go") {
		t.Fatalf("countdown should be gone after stop")
	}
}

func TestCountdownWaitsForParticipants(t *testing.T) {
	f := newFixture(t, time.Millisecond)
	f.say("alice", "openchat: countdown with alice and Bob from 1")
	f.say("alice", "r")
	time.Sleep(20 * time.Millisecond)
	if sent := f.transport.Sent(); len(sent) != 0 {
		t.Fatalf("countdown started before everyone was ready: %v", sent)
	}
	f.say("carol", "r")
	f.say("bob", "Q")
	if got := f.waitFor(t, 2); !reflect.DeepEqual(got, []string{"1", "Go!"}) {
		t.Fatalf("unexpected countdown %v", got)
	}
}

func TestCountOutOfRange(t *testing.T) {
	f := newFixture(t, time.Millisecond)
	f.say("alice", "openchat: countdown from 500")
	got := f.waitFor(t, 1)
	if !strings.Contains(got[0], "Count must be between 1 and 60.") {
		t.Fatalf("unexpected reply %v", got)
	}
	if f.module.Active("libera", "#go") {
		t.Fatalf("rejected countdown should not be active")
	}
}

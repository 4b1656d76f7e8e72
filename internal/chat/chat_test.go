package chat_test

import (
	"context"
	"testing"
	"time"

	"OpenChat-Bot/internal/chat"
	"OpenChat-Bot/internal/chat/chattest"
	"OpenChat-Bot/internal/config"
	xerrors "OpenChat-Bot/internal/errors"
	"OpenChat-Bot/internal/event"
	"OpenChat-Bot/internal/storage"
)

type recordingDispatcher struct {
	messages []*chat.Context
}

func (r *recordingDispatcher) Dispatch(_ context.Context, msg *chat.Context) {
	r.messages = append(r.messages, msg)
}

func openDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.Config{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := chat.EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return db
}

func newNetwork(t *testing.T, db *storage.DB, bus *event.Bus, d chat.MessageDispatcher) (*chat.Network, *chattest.Transport) {
	t.Helper()
	ignores, err := chat.LoadIgnoreList(context.Background(), db, "libera")
	if err != nil {
		t.Fatalf("load ignores: %v", err)
	}
	n := chat.NewNetwork("libera", config.ServerConfig{}, bus, d, chat.NewRoster(db, "libera"), ignores)
	tr := chattest.New("libera", "openchat")
	n.Bind(tr)
	return n, tr
}

func TestRosterPromoteDemote(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	roster := chat.NewRoster(db, "libera")

	if err := roster.Promote(ctx, "alice", ""); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if err := roster.Promote(ctx, "alice", ""); !xerrors.HasCode(err, xerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := roster.Promote(ctx, "bob", "#go"); err != nil {
		t.Fatalf("promote channel admin: %v", err)
	}

	admins, _ := roster.Admins(ctx, "")
	if len(admins) != 1 || admins[0] != "alice" {
		t.Fatalf("expected network admins [alice], got %v", admins)
	}
	admins, _ = roster.Admins(ctx, "#go")
	if len(admins) != 2 {
		t.Fatalf("expected alice and bob in #go, got %v", admins)
	}
	if ok, _ := roster.Contains(ctx, "BOB", "#go"); !ok {
		t.Fatalf("expected case-insensitive channel admin match")
	}
	if ok, _ := roster.Contains(ctx, "bob", "#rust"); ok {
		t.Fatalf("channel admin must not be admin elsewhere")
	}

	if err := roster.Demote(ctx, "bob", "#go"); err != nil {
		t.Fatalf("demote: %v", err)
	}
	if err := roster.Demote(ctx, "bob", "#go"); !xerrors.HasCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestIgnoredUsersAreFiltered(t *testing.T) {
	db := openDB(t)
	bus := event.NewBus()
	dispatcher := &recordingDispatcher{}
	n, _ := newNetwork(t, db, bus, dispatcher)
	ctx := context.Background()

	var joins []string
	bus.Subscribe(event.TopicJoin, "test", func(_ context.Context, payload any) error {
		joins = append(joins, payload.(*chat.Event).Nick)
		return nil
	})

	if err := n.Ignores().Ignore(ctx, "Troll", "#go"); err != nil {
		t.Fatalf("ignore: %v", err)
	}
	n.OnJoin(ctx, "#go", "troll")
	n.OnJoin(ctx, "#rust", "troll")
	n.OnMessage(ctx, "#go", "troll", "hello")
	n.OnMessage(ctx, "#rust", "troll", "hello")

	if len(joins) != 1 || joins[0] != "troll" {
		t.Fatalf("expected only the #rust join, got %v", joins)
	}
	if len(dispatcher.messages) != 1 || dispatcher.messages[0].Channel != "#rust" {
		t.Fatalf("expected only the #rust message dispatched, got %d", len(dispatcher.messages))
	}

	reloaded, err := chat.LoadIgnoreList(ctx, db, "libera")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.Ignored("troll", "#go") {
		t.Fatalf("ignore must be persisted")
	}
}

func TestNickChangeMigratesIgnores(t *testing.T) {
	db := openDB(t)
	bus := event.NewBus()
	n, _ := newNetwork(t, db, bus, &recordingDispatcher{})
	ctx := context.Background()

	var changes int
	bus.Subscribe(event.TopicNickChange, "test", func(context.Context, any) error {
		changes++
		return nil
	})

	_ = n.Ignores().Ignore(ctx, "troll", "")
	n.OnNickChange(ctx, "troll", "troll2")
	n.OnNickChange(ctx, "alice", "alice_")

	if n.Ignores().Ignored("troll", "") || !n.Ignores().Ignored("troll2", "#any") {
		t.Fatalf("expected ignore to follow the nick change, got %v", n.Ignores().Entries())
	}
	if changes != 1 {
		t.Fatalf("expected only the unignored nick change published, got %d", changes)
	}
}

func TestMessageContextAndEchoSuppression(t *testing.T) {
	db := openDB(t)
	dispatcher := &recordingDispatcher{}
	n, _ := newNetwork(t, db, event.NewBus(), dispatcher)
	ctx := context.Background()

	n.OnMessage(ctx, "openchat", "alice", "hi there")
	n.OnMessage(ctx, "#go", "OpenChat", "my own echo")

	if len(dispatcher.messages) != 1 {
		t.Fatalf("expected one dispatched message, got %d", len(dispatcher.messages))
	}
	msg := dispatcher.messages[0]
	if !msg.Private || msg.Target != "alice" || msg.Channel != "" || msg.Scope() != "" {
		t.Fatalf("unexpected private context %+v", msg)
	}
}

func TestHubConnectAndQuit(t *testing.T) {
	db := openDB(t)
	hub := chat.NewHub(event.NewBus(), db, &recordingDispatcher{})
	tr := chattest.New("libera", "openchat")
	hub.RegisterType("fake", func(*chat.Network) (chat.Transport, error) { return tr, nil })
	ctx := context.Background()

	if _, err := hub.Connect(ctx, "libera", config.ServerConfig{Type: "nope"}); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected unknown type error, got %v", err)
	}
	if _, err := hub.Connect(ctx, "libera", config.ServerConfig{Type: "fake"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := hub.Connect(ctx, "libera", config.ServerConfig{Type: "fake"}); !xerrors.HasCode(err, xerrors.CodeConflict) {
		t.Fatalf("expected conflict on second connect, got %v", err)
	}
	if err := hub.SendTo(ctx, "libera", "#go", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent := tr.Sent(); len(sent) != 1 || sent[0].Target != "#go" {
		t.Fatalf("unexpected sent messages %v", sent)
	}

	if err := hub.Quit("libera", "bye"); err != nil {
		t.Fatalf("quit: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(hub.Networks()) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("network did not shut down")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if tr.QuitReason() != "bye" {
		t.Fatalf("expected quit reason to reach transport, got %q", tr.QuitReason())
	}
}

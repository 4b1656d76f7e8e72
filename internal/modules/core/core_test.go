package core

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"OpenChat-Bot/internal/chat"
	"OpenChat-Bot/internal/chat/chattest"
	"OpenChat-Bot/internal/command"
	"OpenChat-Bot/internal/config"
	"OpenChat-Bot/internal/dispatch"
	xerrors "OpenChat-Bot/internal/errors"
	"OpenChat-Bot/internal/event"
	"OpenChat-Bot/internal/modules/host"
	"OpenChat-Bot/internal/personality"
	"OpenChat-Bot/internal/storage"
	"OpenChat-Bot/internal/version"
	"OpenChat-Bot/pkg/plugin"
)

type echoModule struct{}

func (echoModule) Info() plugin.Info { return plugin.Info{Name: "echo"} }

func (echoModule) Setup(r *plugin.Registrar) error {
	r.Command(command.Command{Name: "echo", Pattern: `echo (.+)$`, Handler: func(ctx context.Context, req *command.Request) error {
		return req.Reply(ctx, req.Arg(1))
	}})
	return nil
}

func (echoModule) Load(*plugin.ExecutionContext) (bool, error) { return true, nil }
func (echoModule) Unload(*plugin.ExecutionContext) error       { return nil }

type fixture struct {
	cascade    *config.Cascade
	registry   *command.Registry
	manager    *plugin.Manager
	hub        *chat.Hub
	network    *chat.Network
	dispatcher *dispatch.Dispatcher
	transport  *chattest.Transport
}

func newFixture(t *testing.T) *fixture {
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

	f := &fixture{cascade: config.NewCascade(), transport: chattest.New("libera", "openchat")}
	f.transport.Admin("alice")
	bus := event.NewBus()
	store := config.NewStore(filepath.Join(t.TempDir(), "openchat.yaml"), f.cascade)
	catalog := personality.New(f.cascade)
	f.registry = command.NewRegistry(f.cascade)
	f.dispatcher = dispatch.New(f.registry, bus, f.cascade, catalog)
	f.hub = chat.NewHub(bus, db, f.dispatcher)
	f.hub.RegisterType("fake", func(*chat.Network) (chat.Transport, error) { return f.transport, nil })

	modules := plugin.NewCatalog()
	modules.Register(Name, New)
	modules.Register("echo", func() plugin.Plugin { return echoModule{} })
	f.manager = plugin.NewManager(f.registry, bus, f.cascade,
		plugin.WithLoader(modules),
		plugin.WithResource(host.KeyRegistry, f.registry),
		plugin.WithResource(host.KeyHub, f.hub),
		plugin.WithResource(host.KeyStore, store),
		plugin.WithResource(host.KeyPersonality, catalog),
	)
	f.manager.Provide(host.KeyManager, f.manager)
	if err := f.manager.Load(ctx, Name); err != nil {
		t.Fatalf("load core: %v", err)
	}

	f.network, err = f.hub.Connect(ctx, "libera", config.ServerConfig{Type: "fake"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		f.hub.Close(closeCtx, "bye")
	})
	return f
}

// say 以 sender 身份在 #go 向机器人发送一条命令，返回机器人的回复。
func (f *fixture) say(sender, text string) []string {
	f.transport.Reset()
	f.dispatcher.Dispatch(context.Background(), &chat.Context{
		Server:    "libera",
		Target:    "#go",
		Channel:   "#go",
		Sender:    sender,
		Text:      f.transport.Nickname() + ": " + text,
		Transport: f.transport,
	})
	var out []string
	for _, msg := range f.transport.Sent() {
		out = append(out, msg.Text)
	}
	return out
}

func expectReply(t *testing.T, got []string, want string) {
	t.Helper()
	if len(got) != 1 || got[0] != want {
		t.Fatalf("expected reply %q, got %q", want, got)
	}
}

func TestRestrictedCommandsRequireAdmin(t *testing.T) {
	f := newFixture(t)
	expectReply(t, f.say("bob", "addadmin carol"), "Error while executing [core:addadmin]: This command is restricted to administrators.")

	ok, err := f.network.Roster().Contains(context.Background(), "carol", "")
	if err != nil || ok {
		t.Fatalf("carol should not be an admin: %v %v", ok, err)
	}
	expectReply(t, f.say("bob", "version"), "This is openchat v0.1.0, ready to serve.")
}

func TestAdminRoster(t *testing.T) {
	f := newFixture(t)
	expectReply(t, f.say("alice", "addadmin carol"), "Administrator carol added.")
	expectReply(t, f.say("alice", "addadmin dave #go"), "Administrator dave added.")
	expectReply(t, f.say("alice", "listadmins"), "Administrators: carol")
	expectReply(t, f.say("alice", "listadmins #go"), "Administrators: carol, dave")
	expectReply(t, f.say("alice", "rmadmin carol"), "Administrator carol removed.")

	ok, err := f.network.Roster().Contains(context.Background(), "carol", "")
	if err != nil || ok {
		t.Fatalf("carol should be removed: %v %v", ok, err)
	}
}

func TestIgnoreCommands(t *testing.T) {
	f := newFixture(t)
	expectReply(t, f.say("alice", "ignores"), "Not ignoring anyone right now.")
	expectReply(t, f.say("alice", "ignore bob"), "bob added to ignore list for channel #go.")
	expectReply(t, f.say("alice", "ignore bob"), "Error while executing [core:ignore]: Already ignoring bob on channel #go.")
	expectReply(t, f.say("alice", "ignore mallory everywhere"), "mallory added to ignore list.")

	if !f.network.Ignores().Ignored("bob", "#go") || f.network.Ignores().Ignored("bob", "#rust") {
		t.Fatalf("bob should be ignored on #go only")
	}
	expectReply(t, f.say("alice", "stop ignoring bob"), "bob removed from ignore list for channel #go.")
	expectReply(t, f.say("alice", "unignore bob"), "Error while executing [core:unignore]: Not ignoring bob on channel #go.")
}

func TestConfigCommands(t *testing.T) {
	f := newFixture(t)
	expectReply(t, f.say("alice", "set limit to 5"), "Configuration item limit set.")
	expectReply(t, f.say("alice", "get limit"), "limit: 5")
	if v, err := f.cascade.Get("limit", "libera", "#go"); err != nil || v != 5 {
		t.Fatalf("expected channel-level limit 5, got %v %v", v, err)
	}
	if _, err := f.cascade.Get("limit", "libera", "#rust"); !xerrors.HasCode(err, config.CodeConfigNotFound) {
		t.Fatalf("channel setting leaked to another channel")
	}

	expectReply(t, f.say("alice", "set global:greeting hello there"), "Configuration item greeting set.")
	if got := f.cascade.String("greeting", "", "", ""); got != "hello there" {
		t.Fatalf("expected global greeting, got %q", got)
	}

	f.say("alice", "add global:tags go")
	expectReply(t, f.say("alice", "add tags rust"), "Added value to configuration item tags.")
	expectReply(t, f.say("alice", "list tags"), "tags: go, rust")

	expectReply(t, f.say("alice", "setitem aliases gh github"), "Set key gh in configuration item aliases.")
	expectReply(t, f.say("alice", "dict aliases"), `aliases: {"gh":"github"}`)
	expectReply(t, f.say("alice", "del aliases gh"), "aliases[gh] deleted.")

	expectReply(t, f.say("alice", "unset limit"), "Configuration item limit unset.")
	if got := f.say("alice", "get limit"); len(got) != 1 || !strings.HasPrefix(got[0], "Error while executing [core:get]") {
		t.Fatalf("expected not found error, got %q", got)
	}
}

func TestSaveAndLoadConfiguration(t *testing.T) {
	f := newFixture(t)
	f.say("alice", "set global:greeting hi")
	expectReply(t, f.say("alice", "saveconf"), "Configuration saved.")
	f.say("alice", "set global:greeting changed")
	expectReply(t, f.say("alice", "loadconf"), "Configuration loaded.")
	if got := f.cascade.String("greeting", "", "", ""); got != "hi" {
		t.Fatalf("expected reloaded greeting, got %q", got)
	}
}

func TestModuleLifecycleCommands(t *testing.T) {
	f := newFixture(t)
	expectReply(t, f.say("alice", "load echo"), "Module echo loaded.")
	expectReply(t, f.say("alice", "loaded"), "Loaded modules: core, echo")
	expectReply(t, f.say("bob", "echo hi"), "hi")

	expectReply(t, f.say("alice", "disable echo"), "Module echo disabled for channel #go.")
	if got := f.say("bob", "echo hi"); len(got) != 0 {
		t.Fatalf("disabled module still answered: %q", got)
	}
	if !f.registry.Enabled("echo", "libera", "#rust", true) {
		t.Fatalf("disable should only affect #go")
	}
	expectReply(t, f.say("alice", "enable echo"), "Module echo enabled for channel #go.")
	expectReply(t, f.say("alice", "disable echo global"), "Module echo globally disabled.")
	if f.registry.Enabled("echo", "libera", "#rust", true) {
		t.Fatalf("global disable should apply to other channels")
	}

	expectReply(t, f.say("alice", "unload echo hard"), "Module echo unloaded.")
	expectReply(t, f.say("alice", "loaded"), "Loaded modules: core")
	if got := f.say("alice", "load missing"); len(got) != 1 || !strings.HasPrefix(got[0], "Error while executing [core:load]") {
		t.Fatalf("expected load failure notice, got %q", got)
	}
}

func TestNetworkCommands(t *testing.T) {
	f := newFixture(t)
	f.say("alice", "join #rust")
	f.say("alice", "join libera #python")
	if got := f.transport.Joined(); len(got) != 2 || got[0] != "#rust" || got[1] != "#python" {
		t.Fatalf("unexpected joins %v", got)
	}
	f.say("alice", "part")
	if got := f.transport.Parted(); len(got) != 1 || got[0] != "#go" {
		t.Fatalf("expected to part the current channel, got %v", got)
	}
	expectReply(t, f.say("alice", "join efnet #go"), "Error while executing [core:join]: Unknown server efnet.")

	expectReply(t, f.say("alice", "nick gopher"), "Nickname changed to gopher.")
	if f.transport.Nickname() != "gopher" {
		t.Fatalf("nick not changed")
	}
	expectReply(t, f.say("bob", "version"), "This is "+version.Name+" v"+version.Version+", ready to serve.")

	f.say("alice", "quit libera")
	if f.transport.QuitReason() != "Quit" {
		t.Fatalf("expected quit to reach transport, got %q", f.transport.QuitReason())
	}
}

func TestHelpListsCommands(t *testing.T) {
	f := newFixture(t)
	got := f.say("bob", "help")
	if len(got) != 1 || !strings.Contains(got[0], "core: addadmin <nick> [channel]") || !strings.Contains(got[0], "core: version") {
		t.Fatalf("unexpected help %q", got)
	}
	expectReply(t, f.say("bob", "source"), "My source is at https://github.com/openchat-bot/openchat.")
	if got := f.say("bob", "stats"); len(got) != 1 || !strings.HasPrefix(got[0], "I use: RAM: ") {
		t.Fatalf("unexpected stats %q", got)
	}
}

func TestParseScoped(t *testing.T) {
	req := &command.Request{Context: &chat.Context{Server: "libera", Channel: "#go"}}
	cases := []struct {
		arg  string
		want scoped
	}{
		{"limit", scoped{server: "libera", channel: "#go", path: "limit"}},
		{"global:limit", scoped{path: "limit"}},
		{"#rust:limit", scoped{server: "libera", channel: "#rust", path: "limit"}},
		{"efnet:limit", scoped{server: "efnet", path: "limit"}},
		{"efnet:#c:limit", scoped{server: "efnet", channel: "#c", path: "limit"}},
	}
	for _, tc := range cases {
		if got := parseScoped(req, tc.arg); got != tc.want {
			t.Fatalf("parseScoped(%q) = %+v, want %+v", tc.arg, got, tc.want)
		}
	}
}

package discord

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"

	"OpenChat-Bot/internal/chat"
	"OpenChat-Bot/internal/config"
	"OpenChat-Bot/internal/event"
	"OpenChat-Bot/internal/storage"
)

type recordingDispatcher struct {
	messages []*chat.Context
}

func (r *recordingDispatcher) Dispatch(_ context.Context, msg *chat.Context) {
	r.messages = append(r.messages, msg)
}

func newClient(t *testing.T) (*Client, *recordingDispatcher, *event.Bus) {
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
	ignores, err := chat.LoadIgnoreList(ctx, db, "dc")
	if err != nil {
		t.Fatalf("ignores: %v", err)
	}
	d := &recordingDispatcher{}
	bus := event.NewBus()
	cfg := config.ServerConfig{Type: Type, Token: "token", Guild: "OpenChat", Nickname: "openchat"}
	n := chat.NewNetwork("dc", cfg, bus, d, chat.NewRoster(db, "dc"), ignores)
	c := New(n)
	n.Bind(c)

	c.onReady(nil, &discordgo.Ready{User: &discordgo.User{ID: "bot", Username: "openchat"}})
	c.onGuildCreate(nil, &discordgo.GuildCreate{Guild: &discordgo.Guild{
		ID:   "g1",
		Name: "OpenChat",
		Channels: []*discordgo.Channel{
			{ID: "c1", Name: "General", Type: discordgo.ChannelTypeGuildText, Topic: "hello"},
			{ID: "v1", Name: "voice", Type: discordgo.ChannelTypeGuildVoice},
		},
		Members: []*discordgo.Member{{User: &discordgo.User{ID: "u1", Username: "alice"}}},
	}})
	return c, d, bus
}

func message(guild, channel, authorID, author, content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		GuildID:   guild,
		ChannelID: channel,
		Content:   content,
		Author:    &discordgo.User{ID: authorID, Username: author},
	}}
}

func TestGuildChannelsAreIndexed(t *testing.T) {
	c, _, _ := newClient(t)
	if id, ok := c.ChannelID("#general"); !ok || id != "c1" {
		t.Fatalf("expected #general -> c1, got %q %t", id, ok)
	}
	if _, ok := c.ChannelID("#voice"); ok {
		t.Fatalf("voice channels must not be indexed")
	}
}

func TestMessagesAreNormalized(t *testing.T) {
	c, d, _ := newClient(t)

	c.onMessageCreate(nil, message("g1", "c1", "u1", "alice", "<@bot> help"))
	c.onMessageCreate(nil, message("", "dm1", "u1", "alice", "version"))
	c.onMessageCreate(nil, message("g1", "c1", "bot", "openchat", "my own echo"))
	c.onMessageCreate(nil, message("g2", "x1", "u1", "alice", "other guild"))

	if len(d.messages) != 2 {
		t.Fatalf("expected two dispatched messages, got %d", len(d.messages))
	}
	first := d.messages[0]
	if first.Channel != "#general" || first.Text != "openchat: help" || first.Private {
		t.Fatalf("unexpected channel message %+v", first)
	}
	second := d.messages[1]
	if !second.Private || second.Target != "alice" || second.Text != "version" {
		t.Fatalf("unexpected private message %+v", second)
	}
}

func TestTopicChangesArePublished(t *testing.T) {
	c, _, bus := newClient(t)
	var got *chat.Event
	bus.Subscribe(event.TopicTopicChange, "test", func(_ context.Context, payload any) error {
		got = payload.(*chat.Event)
		return nil
	})

	c.onChannelUpdate(nil, &discordgo.ChannelUpdate{Channel: &discordgo.Channel{
		ID: "c1", GuildID: "g1", Name: "general", Type: discordgo.ChannelTypeGuildText, Topic: "new topic",
	}})
	if got == nil || got.Channel != "#general" || got.Text != "new topic" {
		t.Fatalf("unexpected topic event %+v", got)
	}
}

func TestHighlight(t *testing.T) {
	cases := map[string]string{
		"<@bot> ping":   "openchat: ping",
		"<@!bot>ping":   "openchat: ping",
		"hey <@bot>":    "hey <@bot>",
		"plain message": "plain message",
	}
	for in, want := range cases {
		if got := highlight(in, "bot", "openchat"); got != want {
			t.Fatalf("highlight(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSendRequiresConnection(t *testing.T) {
	c, _, _ := newClient(t)
	if err := c.Send(context.Background(), "#general", "hi"); err == nil {
		t.Fatalf("send without a session should fail")
	}
	if err := c.Join(context.Background(), "#general"); err == nil {
		t.Fatalf("join is not supported on discord")
	}
}

func TestGuildEventsMatchGuildConfiguredByName(t *testing.T) {
	c, _, bus := newClient(t)
	var joins, parts []*chat.Event
	bus.Subscribe(event.TopicJoin, "test", func(_ context.Context, payload any) error {
		joins = append(joins, payload.(*chat.Event))
		return nil
	})
	bus.Subscribe(event.TopicPart, "test", func(_ context.Context, payload any) error {
		parts = append(parts, payload.(*chat.Event))
		return nil
	})

	c.onMemberAdd(nil, &discordgo.GuildMemberAdd{Member: &discordgo.Member{
		GuildID: "g1", User: &discordgo.User{ID: "u2", Username: "bob"},
	}})
	c.onChannelCreate(nil, &discordgo.ChannelCreate{Channel: &discordgo.Channel{
		ID: "c2", GuildID: "g1", Name: "random", Type: discordgo.ChannelTypeGuildText,
	}})
	c.onMemberRemove(nil, &discordgo.GuildMemberRemove{Member: &discordgo.Member{
		GuildID: "g1", User: &discordgo.User{ID: "u2", Username: "bob"},
	}})
	c.onMemberAdd(nil, &discordgo.GuildMemberAdd{Member: &discordgo.Member{
		GuildID: "g2", User: &discordgo.User{ID: "u3", Username: "mallory"},
	}})
	c.onChannelCreate(nil, &discordgo.ChannelCreate{Channel: &discordgo.Channel{
		ID: "x2", GuildID: "g2", Name: "elsewhere", Type: discordgo.ChannelTypeGuildText,
	}})

	if len(joins) != 1 || joins[0].Nick != "bob" {
		t.Fatalf("expected one join from bob, got %+v", joins)
	}
	if len(parts) != 1 || parts[0].Nick != "bob" {
		t.Fatalf("expected one part from bob, got %+v", parts)
	}
	if id, ok := c.ChannelID("#random"); !ok || id != "c2" {
		t.Fatalf("expected #random -> c2, got %q %t", id, ok)
	}
	if _, ok := c.ChannelID("#elsewhere"); ok {
		t.Fatalf("channels of other guilds must not be indexed")
	}
}

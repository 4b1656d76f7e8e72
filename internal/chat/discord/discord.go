// Package discord 基于 github.com/bwmarrin/discordgo 实现 Discord 协议适配器。
// 一个适配器对应配置中的一个服务器（guild）；频道以 "#名称" 的形式暴露给上层。
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"OpenChat-Bot/internal/chat"
	"OpenChat-Bot/internal/config"
	xerrors "OpenChat-Bot/internal/errors"
)

// Type 是在 Hub 中注册的传输类型名。
const Type = "discord"

var formatCodes = map[string]string{
	"i":        "*",
	"/i":       "*",
	"b":        "**",
	"/b":       "**",
	"u":        "__",
	"/u":       "__",
	"spoiler":  "||",
	"/spoiler": "||",
}

// Client 是一个 Discord guild 连接，实现 chat.Transport。
type Client struct {
	network *chat.Network
	cfg     config.ServerConfig
	log     *slog.Logger

	mu        sync.RWMutex
	ctx       context.Context
	session   *discordgo.Session
	stop      chan struct{}
	selfID    string
	nick      string
	guildID   string
	connected bool
	channels  map[string]string // "#name" -> channel ID
	names     map[string]string // channel ID -> "#name"
	users     map[string]string // 小写用户名 -> user ID
	topics    map[string]string // channel ID -> topic
}

var _ chat.Transport = (*Client)(nil)

// Factory 供 chat.Hub 注册使用。
func Factory(n *chat.Network) (chat.Transport, error) {
	cfg := n.Config()
	if cfg.Token == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("server %s has no discord token", n.Server()))
	}
	return New(n), nil
}

// New 创建 Discord 客户端，连接在 Run 中建立。
func New(n *chat.Network) *Client {
	return &Client{
		network:  n,
		cfg:      n.Config(),
		log:      n.Logger().With(slog.String("transport", Type)),
		ctx:      context.Background(),
		stop:     make(chan struct{}),
		nick:     n.Config().Nickname,
		channels: make(map[string]string),
		names:    make(map[string]string),
		users:    make(map[string]string),
		topics:   make(map[string]string),
	}
}

func (c *Client) Server() string { return c.network.Server() }

func (c *Client) FormatCodes() map[string]string { return formatCodes }

func (c *Client) Nickname() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nick
}

// Run 打开网关连接并阻塞到 ctx 结束或调用 Disconnect。断线重连由 discordgo 负责。
func (c *Client) Run(ctx context.Context) error {
	session, err := discordgo.New("Bot " + c.cfg.Token)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransport, err, "create discord session")
	}
	session.SyncEvents = true
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	session.AddHandler(c.onReady)
	session.AddHandler(c.onGuildCreate)
	session.AddHandler(c.onChannelCreate)
	session.AddHandler(c.onChannelUpdate)
	session.AddHandler(c.onMemberAdd)
	session.AddHandler(c.onMemberRemove)
	session.AddHandler(c.onMessageCreate)

	c.mu.Lock()
	c.ctx = ctx
	c.session = session
	stop := c.stop
	c.mu.Unlock()

	if err := session.Open(); err != nil {
		return xerrors.Wrap(xerrors.CodeTransport, err, "open discord gateway")
	}
	select {
	case <-ctx.Done():
	case <-stop:
	}

	c.mu.Lock()
	c.session = nil
	c.connected = false
	c.stop = make(chan struct{})
	c.mu.Unlock()
	if err := session.Close(); err != nil {
		c.log.Warn("关闭网关连接失败", slog.Any("error", err))
	}
	return nil
}

// Disconnect 结束当前的 Run。Discord 没有退出消息，reason 仅记录日志。
func (c *Client) Disconnect(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Info("断开连接", slog.String("reason", reason))
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	return nil
}

func (c *Client) current() (*discordgo.Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil, xerrors.New(xerrors.CodeTransport, fmt.Sprintf("server %s is not connected", c.Server()))
	}
	return c.session, nil
}

// Send 发送到 "#频道" 或用户名（私信）。
func (c *Client) Send(_ context.Context, target, text string) error {
	session, err := c.current()
	if err != nil {
		return err
	}
	channelID, err := c.resolve(session, target)
	if err != nil {
		return err
	}
	if _, err := session.ChannelMessageSend(channelID, text); err != nil {
		return xerrors.Wrap(xerrors.CodeTransport, err, "send to "+target)
	}
	return nil
}

func (c *Client) resolve(session *discordgo.Session, target string) (string, error) {
	if id, ok := c.ChannelID(target); ok {
		return id, nil
	}
	if chat.IsChannel(target) {
		return "", xerrors.New(xerrors.CodeNotFound, "unknown channel "+target)
	}
	c.mu.RLock()
	userID, ok := c.users[strings.ToLower(target)]
	c.mu.RUnlock()
	if !ok {
		return "", xerrors.New(xerrors.CodeNotFound, "unknown user "+target)
	}
	dm, err := session.UserChannelCreate(userID)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeTransport, err, "open direct channel with "+target)
	}
	return dm.ID, nil
}

// ChannelID 把 "#名称" 解析为频道 ID。
func (c *Client) ChannelID(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.channels[strings.ToLower(name)]
	return id, ok
}

// SetNick 修改机器人在 guild 中的昵称。
func (c *Client) SetNick(_ context.Context, nick string) error {
	session, err := c.current()
	if err != nil {
		return err
	}
	c.mu.RLock()
	guildID := c.guildID
	c.mu.RUnlock()
	if err := session.GuildMemberNickname(guildID, "@me", nick); err != nil {
		return xerrors.Wrap(xerrors.CodeTransport, err, "change nickname")
	}
	c.mu.Lock()
	c.nick = nick
	c.mu.Unlock()
	return nil
}

func (c *Client) Join(context.Context, string) error {
	return xerrors.New(xerrors.CodeInvalidArgument, "discord channels cannot be joined explicitly")
}

func (c *Client) Part(context.Context, string, string) error {
	return xerrors.New(xerrors.CodeInvalidArgument, "discord channels cannot be parted explicitly")
}

func (c *Client) IsAdmin(ctx context.Context, identity, scope string) (bool, error) {
	return c.network.Roster().Contains(ctx, identity, scope)
}

func (c *Client) eventContext() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ctx
}

func (c *Client) ours(guildID, guildName string) bool {
	return c.cfg.Guild == "" || c.cfg.Guild == guildID || strings.EqualFold(c.cfg.Guild, guildName)
}

// inGuild 报告事件是否来自 onGuildCreate 接受的那个 guild。
func (c *Client) inGuild(guildID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.guildID != "" && c.guildID == guildID
}

func (c *Client) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r.User == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selfID = r.User.ID
	if c.nick == "" {
		c.nick = r.User.Username
	}
}

func (c *Client) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Guild == nil || !c.ours(g.ID, g.Name) {
		return
	}
	c.mu.Lock()
	c.guildID = g.ID
	for _, ch := range g.Channels {
		c.indexChannel(ch)
	}
	for _, m := range g.Members {
		if m.User == nil {
			continue
		}
		c.users[strings.ToLower(m.User.Username)] = m.User.ID
		if m.User.ID == c.selfID && m.Nick != "" {
			c.nick = m.Nick
		}
	}
	first := !c.connected
	c.connected = true
	c.mu.Unlock()

	if first {
		c.network.OnConnect(c.eventContext())
	}
}

// indexChannel 调用方需持有写锁。
func (c *Client) indexChannel(ch *discordgo.Channel) {
	if ch == nil || ch.Type != discordgo.ChannelTypeGuildText {
		return
	}
	name := "#" + strings.ToLower(ch.Name)
	if old, ok := c.names[ch.ID]; ok && old != name {
		delete(c.channels, old)
	}
	c.channels[name] = ch.ID
	c.names[ch.ID] = name
	c.topics[ch.ID] = ch.Topic
}

func (c *Client) onChannelCreate(_ *discordgo.Session, ev *discordgo.ChannelCreate) {
	if ev.Channel == nil || !c.inGuild(ev.GuildID) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexChannel(ev.Channel)
}

func (c *Client) onChannelUpdate(_ *discordgo.Session, ev *discordgo.ChannelUpdate) {
	if ev.Channel == nil || !c.inGuild(ev.GuildID) {
		return
	}
	c.mu.Lock()
	previous, known := c.topics[ev.ID]
	c.indexChannel(ev.Channel)
	name := c.names[ev.ID]
	c.mu.Unlock()
	if known && previous != ev.Topic {
		c.network.OnTopicChange(c.eventContext(), name, "", ev.Topic)
	}
}

func (c *Client) onMemberAdd(_ *discordgo.Session, ev *discordgo.GuildMemberAdd) {
	if ev.Member == nil || ev.User == nil || !c.inGuild(ev.GuildID) {
		return
	}
	c.mu.Lock()
	c.users[strings.ToLower(ev.User.Username)] = ev.User.ID
	c.mu.Unlock()
	c.network.OnJoin(c.eventContext(), "", ev.User.Username)
}

func (c *Client) onMemberRemove(_ *discordgo.Session, ev *discordgo.GuildMemberRemove) {
	if ev.Member == nil || ev.User == nil || !c.inGuild(ev.GuildID) {
		return
	}
	c.mu.Lock()
	delete(c.users, strings.ToLower(ev.User.Username))
	c.mu.Unlock()
	c.network.OnPart(c.eventContext(), "", ev.User.Username, "")
}

func (c *Client) onMessageCreate(_ *discordgo.Session, ev *discordgo.MessageCreate) {
	if ev.Message == nil || ev.Author == nil || ev.Author.Bot {
		return
	}
	c.mu.Lock()
	selfID, nick, guildID := c.selfID, c.nick, c.guildID
	if ev.Author.ID == selfID {
		c.mu.Unlock()
		return
	}
	c.users[strings.ToLower(ev.Author.Username)] = ev.Author.ID
	target := nick
	if ev.GuildID != "" {
		if ev.GuildID != guildID {
			c.mu.Unlock()
			return
		}
		name, ok := c.names[ev.ChannelID]
		if !ok {
			name = "#" + ev.ChannelID
			c.channels[name] = ev.ChannelID
			c.names[ev.ChannelID] = name
		}
		target = name
	}
	c.mu.Unlock()

	c.network.OnMessage(c.eventContext(), target, ev.Author.Username, highlight(ev.Content, selfID, nick))
}

// highlight 把开头对机器人的 @ 提及改写为 "昵称: "，使其与 IRC 的呼叫方式一致。
func highlight(content, selfID, nick string) string {
	if selfID == "" {
		return content
	}
	for _, mention := range []string{"<@" + selfID + ">", "<@!" + selfID + ">"} {
		if rest, ok := strings.CutPrefix(content, mention); ok {
			return nick + ": " + strings.TrimSpace(rest)
		}
	}
	return content
}

// Package irc 基于 gopkg.in/irc.v4 实现 IRC 协议适配器。
package irc

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	irclib "gopkg.in/irc.v4"

	"OpenChat-Bot/internal/chat"
	"OpenChat-Bot/internal/config"
	xerrors "OpenChat-Bot/internal/errors"
	"OpenChat-Bot/internal/version"
)

// Type 是在 Hub 中注册的传输类型名。
const Type = "irc"

var formatCodes = map[string]string{
	"b":  "\x02",
	"/b": "\x02",
	"i":  "\x1d",
	"/i": "\x1d",
	"u":  "\x1f",
	"/u": "\x1f",
	"_":  "\x0f",

	"white":      "\x0300",
	"black":      "\x0301",
	"darkblue":   "\x0302",
	"darkgreen":  "\x0303",
	"red":        "\x0304",
	"darkred":    "\x0305",
	"darkviolet": "\x0306",
	"orange":     "\x0307",
	"yellow":     "\x0308",
	"lightgreen": "\x0309",
	"cyan":       "\x0310",
	"lightcyan":  "\x0311",
	"blue":       "\x0312",
	"violet":     "\x0313",
	"darkgray":   "\x0314",
	"lightgray":  "\x0315",
	"spoiler":    "\x02\x0301,01",
	"/spoiler":   "\x0f",
}

// Dialer 建立到 IRC 服务器的连接。
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

type whoisRequest struct {
	identified bool
	done       chan struct{}
}

// Client 是一个 IRC 网络连接，实现 chat.Transport。
type Client struct {
	network *chat.Network
	cfg     config.ServerConfig
	dial    Dialer
	log     *slog.Logger

	// WhoisTimeout 限制一次 WHOIS 身份查询的等待时间。
	WhoisTimeout time.Duration

	mu      sync.Mutex
	client  *irclib.Client
	conn    net.Conn
	nick    string
	pending map[string]*whoisRequest
}

var _ chat.Transport = (*Client)(nil)

// Factory 供 chat.Hub 注册使用。
func Factory(n *chat.Network) (chat.Transport, error) {
	cfg := n.Config()
	if cfg.Host == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("server %s has no host", n.Server()))
	}
	return New(n, defaultDialer(cfg)), nil
}

// New 创建 IRC 客户端，dial 决定如何建立底层连接。
func New(n *chat.Network, dial Dialer) *Client {
	cfg := n.Config()
	return &Client{
		network:      n,
		cfg:          cfg,
		dial:         dial,
		log:          n.Logger().With(slog.String("transport", Type)),
		WhoisTimeout: 10 * time.Second,
		nick:         cfg.Nickname,
		pending:      make(map[string]*whoisRequest),
	}
}

func defaultDialer(cfg config.ServerConfig) Dialer {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if !cfg.TLS {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		}
		host, _, _ := net.SplitHostPort(addr)
		d := tls.Dialer{Config: &tls.Config{ServerName: host, InsecureSkipVerify: !cfg.TLSVerify}}
		return d.DialContext(ctx, network, addr)
	}
}

func (c *Client) Server() string { return c.network.Server() }

func (c *Client) FormatCodes() map[string]string { return formatCodes }

func (c *Client) Nickname() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nick
}

// Run 建立一次连接并处理消息直到断开。入站事件在单独的协程中按到达顺序处理，
// 以便处理器可以等待 WHOIS 之类需要读取后续消息的往返。
func (c *Client) Run(ctx context.Context) error {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	conn, err := c.dial(ctx, "tcp", addr)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransport, err, "dial "+addr)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	inbox := make(chan *irclib.Message, 256)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for m := range inbox {
			c.handle(runCtx, m)
		}
	}()

	client := irclib.NewClient(conn, irclib.ClientConfig{
		Nick:          c.cfg.Nickname,
		Pass:          c.cfg.Password,
		User:          c.cfg.Username,
		Name:          c.cfg.Realname,
		PingFrequency: time.Minute,
		PingTimeout:   2 * time.Minute,
		Handler: irclib.HandlerFunc(func(_ *irclib.Client, m *irclib.Message) {
			if c.resolveWhois(m) {
				return
			}
			select {
			case inbox <- m:
			case <-runCtx.Done():
			}
		}),
	})

	c.mu.Lock()
	c.client = client
	c.conn = conn
	c.nick = c.cfg.Nickname
	c.mu.Unlock()
	c.log.Info("正在连接", slog.String("addr", addr))

	err = client.RunContext(runCtx)
	cancel()
	close(inbox)
	wg.Wait()

	c.mu.Lock()
	c.client = nil
	c.conn = nil
	for key, req := range c.pending {
		close(req.done)
		delete(c.pending, key)
	}
	c.mu.Unlock()
	_ = conn.Close()

	if err != nil && ctx.Err() == nil {
		return xerrors.Wrap(xerrors.CodeTransport, err, "irc connection closed")
	}
	return nil
}

func (c *Client) writef(format string, args ...any) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return xerrors.New(xerrors.CodeTransport, fmt.Sprintf("server %s is not connected", c.Server()))
	}
	return client.Writef(format, args...)
}

// Send 逐行发送 PRIVMSG，空行被忽略。
func (c *Client) Send(_ context.Context, target, text string) error {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if err := c.writef("PRIVMSG %s :%s", target, line); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) SetNick(_ context.Context, nick string) error {
	return c.writef("NICK %s", nick)
}

func (c *Client) Join(_ context.Context, channel string) error {
	return c.writef("JOIN %s", channel)
}

func (c *Client) Part(_ context.Context, channel, reason string) error {
	if reason == "" {
		return c.writef("PART %s", channel)
	}
	return c.writef("PART %s :%s", channel, reason)
}

// Disconnect 发送 QUIT 并关闭连接。
func (c *Client) Disconnect(reason string) error {
	c.mu.Lock()
	client, conn := c.client, c.conn
	c.mu.Unlock()
	if client == nil {
		return nil
	}
	err := client.Writef("QUIT :%s", reason)
	if closeErr := conn.Close(); err == nil {
		err = closeErr
	}
	return err
}

// IsAdmin 查询管理员名单；配置了 require_identified 时还需通过 WHOIS 确认对方已登录。
func (c *Client) IsAdmin(ctx context.Context, identity, scope string) (bool, error) {
	ok, err := c.network.Roster().Contains(ctx, identity, scope)
	if err != nil || !ok || !c.cfg.RequireIdentified {
		return ok, err
	}
	return c.Identified(ctx, identity)
}

// Identified 通过 WHOIS 判断 nick 是否已向服务登录，同一昵称的并发查询共享一次往返。
func (c *Client) Identified(ctx context.Context, nick string) (bool, error) {
	key := strings.ToLower(nick)
	c.mu.Lock()
	req, inflight := c.pending[key]
	if !inflight {
		req = &whoisRequest{done: make(chan struct{})}
		c.pending[key] = req
	}
	c.mu.Unlock()

	if !inflight {
		if err := c.writef("WHOIS %s", nick); err != nil {
			c.finishWhois(key, false)
			return false, err
		}
	}

	timer := time.NewTimer(c.WhoisTimeout)
	defer timer.Stop()
	select {
	case <-req.done:
		return req.identified, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		c.finishWhois(key, false)
		return false, xerrors.New(xerrors.CodeTimeout, "whois "+nick+" timed out")
	}
}

func (c *Client) finishWhois(key string, identified bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.pending[key]
	if !ok {
		return
	}
	delete(c.pending, key)
	req.identified = req.identified || identified
	close(req.done)
}

func (c *Client) markIdentified(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if req, ok := c.pending[key]; ok {
		req.identified = true
	}
}

// resolveWhois 在读协程中直接处理 WHOIS 回复，返回是否已消费该消息。
func (c *Client) resolveWhois(m *irclib.Message) bool {
	switch m.Command {
	case "307", "330":
		c.markIdentified(strings.ToLower(param(m, 1)))
	case "318", "401":
		c.finishWhois(strings.ToLower(param(m, 1)), false)
	default:
		return false
	}
	return true
}

func param(m *irclib.Message, i int) string {
	if i < len(m.Params) {
		return m.Params[i]
	}
	return ""
}

func (c *Client) handle(ctx context.Context, m *irclib.Message) {
	sender := ""
	if m.Prefix != nil {
		sender = m.Prefix.Name
	}
	n := c.network
	switch m.Command {
	case "001":
		c.setNick(param(m, 0))
		c.welcome(ctx)
	case "PRIVMSG":
		text := m.Trailing()
		if strings.HasPrefix(text, "\x01") {
			c.ctcp(sender, strings.Trim(text, "\x01"))
			return
		}
		n.OnMessage(ctx, param(m, 0), sender, text)
	case "NOTICE":
		if sender == "" || strings.Contains(sender, ".") {
			return
		}
		n.OnNotice(ctx, param(m, 0), sender, m.Trailing())
	case "JOIN":
		n.OnJoin(ctx, param(m, 0), sender)
	case "PART":
		n.OnPart(ctx, param(m, 0), sender, param(m, 1))
	case "KICK":
		n.OnKick(ctx, param(m, 0), param(m, 1), sender, param(m, 2))
	case "INVITE":
		n.OnInvite(ctx, param(m, 1), sender)
	case "NICK":
		if strings.EqualFold(sender, c.Nickname()) {
			c.setNick(param(m, 0))
		}
		n.OnNickChange(ctx, sender, param(m, 0))
	case "TOPIC":
		n.OnTopicChange(ctx, param(m, 0), sender, param(m, 1))
	case "QUIT":
		n.OnDisconnect(ctx, sender, param(m, 0))
	}
}

func (c *Client) setNick(nick string) {
	if nick == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nick = nick
}

func (c *Client) welcome(ctx context.Context) {
	if c.cfg.NickServPassword != "" {
		if err := c.writef("PRIVMSG NickServ :IDENTIFY %s", c.cfg.NickServPassword); err != nil {
			c.log.Warn("NickServ 认证失败", slog.Any("error", err))
		}
	}
	for _, channel := range c.cfg.Channels {
		if err := c.Join(ctx, channel); err != nil {
			c.log.Warn("加入频道失败", slog.String("channel", channel), slog.Any("error", err))
		}
	}
	c.network.OnConnect(ctx)
}

func (c *Client) ctcp(sender, body string) {
	if sender == "" || c.network.Ignores().Ignored(sender, "") {
		return
	}
	command, _, _ := strings.Cut(body, " ")
	var reply string
	switch strings.ToUpper(command) {
	case "VERSION":
		reply = version.String()
	case "SOURCE":
		reply = version.Source
	case "PING":
		reply = strings.TrimSpace(strings.TrimPrefix(body, command))
	default:
		return
	}
	if err := c.writef("NOTICE %s :\x01%s %s\x01", sender, strings.ToUpper(command), reply); err != nil {
		c.log.Warn("CTCP 回复失败", slog.String("nick", sender), slog.Any("error", err))
	}
}

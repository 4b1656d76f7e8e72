package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"OpenChat-Bot/internal/config"
	"OpenChat-Bot/internal/event"
	"OpenChat-Bot/pkg/logger"
)

// Network 是核心为每个已连接网络保存的状态。协议适配器在收到协议事件后
// 调用它的 On* 方法，由它完成忽略过滤等记账，再发布到事件总线或交给分发器。
type Network struct {
	server     string
	cfg        config.ServerConfig
	bus        *event.Bus
	dispatcher MessageDispatcher
	roster     *Roster
	ignores    *IgnoreList
	log        *slog.Logger

	mu        sync.RWMutex
	transport Transport
}

// NewNetwork 创建网络记账对象，适配器在创建后通过 Bind 绑定。
func NewNetwork(server string, cfg config.ServerConfig, bus *event.Bus, dispatcher MessageDispatcher, roster *Roster, ignores *IgnoreList) *Network {
	return &Network{
		server:     server,
		cfg:        cfg,
		bus:        bus,
		dispatcher: dispatcher,
		roster:     roster,
		ignores:    ignores,
		log:        logger.Named("chat").With(slog.String("server", server)),
	}
}

// Bind 绑定协议适配器。
func (n *Network) Bind(t Transport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transport = t
}

// Transport 返回已绑定的协议适配器。
func (n *Network) Transport() Transport {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.transport
}

func (n *Network) Server() string { return n.server }
func (n *Network) Config() config.ServerConfig { return n.cfg }
func (n *Network) Roster() *Roster { return n.roster }
func (n *Network) Ignores() *IgnoreList { return n.ignores }
func (n *Network) Logger() *slog.Logger { return n.log }

func (n *Network) publish(ctx context.Context, topic string, ev *Event) {
	ev.Server = n.server
	ev.Transport = n.Transport()
	n.bus.Publish(ctx, topic, ev)
}

// OnConnect 在连接建立（并完成身份认证）后调用。
func (n *Network) OnConnect(ctx context.Context) {
	n.log.Info("已连接")
	n.publish(ctx, event.TopicConnect, &Event{})
}

// OnDisconnect 在某个用户退出网络时调用；nick 为空表示本机器人断开连接。
func (n *Network) OnDisconnect(ctx context.Context, nick, reason string) {
	if nick != "" && n.ignores.Ignored(nick, "") {
		return
	}
	n.publish(ctx, event.TopicDisconnect, &Event{Nick: nick, Reason: reason})
}

func (n *Network) OnJoin(ctx context.Context, channel, nick string) {
	if n.ignores.Ignored(nick, channel) {
		return
	}
	n.publish(ctx, event.TopicJoin, &Event{Channel: channel, Nick: nick})
}

func (n *Network) OnPart(ctx context.Context, channel, nick, reason string) {
	if n.ignores.Ignored(nick, channel) {
		return
	}
	n.publish(ctx, event.TopicPart, &Event{Channel: channel, Nick: nick, Reason: reason})
}

func (n *Network) OnKick(ctx context.Context, channel, nick, by, reason string) {
	if n.ignores.Ignored(nick, channel) || n.ignores.Ignored(by, channel) {
		return
	}
	n.publish(ctx, event.TopicKick, &Event{Channel: channel, Nick: nick, Actor: by, Reason: reason})
}

func (n *Network) OnInvite(ctx context.Context, channel, by string) {
	if n.ignores.Ignored(by, channel) {
		return
	}
	n.publish(ctx, event.TopicInvite, &Event{Channel: channel, Actor: by})
}

// OnNickChange 迁移被忽略用户的忽略记录；被忽略用户的改名不会发布事件。
func (n *Network) OnNickChange(ctx context.Context, oldNick, newNick string) {
	if n.ignores.Ignored(oldNick, "") {
		if _, err := n.ignores.Rename(ctx, oldNick, newNick); err != nil {
			n.log.Warn("迁移忽略记录失败", slog.String("old", oldNick), slog.String("new", newNick), slog.Any("error", err))
		}
		return
	}
	n.publish(ctx, event.TopicNickChange, &Event{Nick: oldNick, NewNick: newNick})
}

func (n *Network) OnTopicChange(ctx context.Context, channel, setter, topic string) {
	if n.ignores.Ignored(setter, channel) {
		return
	}
	n.publish(ctx, event.TopicTopicChange, &Event{Channel: channel, Actor: setter, Text: topic})
}

func (n *Network) OnNotice(ctx context.Context, target, sender, text string) {
	private := !IsChannel(target)
	channel := ""
	if !private {
		channel = target
	}
	if n.ignores.Ignored(sender, channel) {
		return
	}
	admin := n.isAdmin(ctx, sender, "")
	n.publish(ctx, event.TopicNotice, &Event{Channel: channel, Actor: sender, Text: text, Private: private, Admin: admin})
}

// OnMessage 过滤被忽略用户和机器人自己的消息，其余交给分发器。
// target 为频道名或（私聊时）机器人自己的昵称。
func (n *Network) OnMessage(ctx context.Context, target, sender, text string) {
	private := !IsChannel(target)
	channel := ""
	if !private {
		channel = target
	}
	if n.ignores.Ignored(sender, channel) {
		return
	}
	t := n.Transport()
	if t != nil && strings.EqualFold(t.Nickname(), sender) {
		return
	}
	reply := target
	if private {
		reply = sender
	}
	n.dispatcher.Dispatch(ctx, &Context{
		Server:    n.server,
		Target:    reply,
		Channel:   channel,
		Sender:    sender,
		Text:      text,
		Private:   private,
		Transport: t,
	})
}

func (n *Network) isAdmin(ctx context.Context, nick, scope string) bool {
	t := n.Transport()
	if t == nil {
		return false
	}
	ok, err := t.IsAdmin(ctx, nick, scope)
	if err != nil {
		n.log.Warn("查询管理员身份失败", slog.String("nick", nick), slog.Any("error", err))
		return false
	}
	return ok
}

package core

import (
	"context"
	"errors"

	"OpenChat-Bot/internal/command"
	xerrors "OpenChat-Bot/internal/errors"
	"OpenChat-Bot/internal/personality"
)

func (m *Module) networkCommands() []command.Command {
	return []command.Command{
		{Name: "join", Pattern: `join (\S+)(?: (\S+))?\.?$`, Handler: m.restricted(m.join), Help: "join [server] <channel>"},
		{Name: "part", Pattern: `part(?: (\S+)(?: (\S+))?)?\.?$`, Handler: m.restricted(m.part), Help: "part [server] [channel]"},
		{Name: "quit", Pattern: `(?:quit|gtfo)(?: (\S+))?\.?$`, Handler: m.restricted(m.quit), Help: "quit [server]"},
		{Name: "nick", Pattern: `nick (\S+)\.?$`, Handler: m.restricted(m.nick), Help: "nick <nickname>"},
		{Name: "nick", Pattern: `change nick(?:name)? to (\S+)\.?$`, Handler: m.restricted(m.nick)},
	}
}

// serverChannel 解析 "[server] channel" 形式的两个可选参数。
func serverChannel(req *command.Request) (string, string) {
	if req.Arg(2) != "" {
		return req.Arg(1), req.Arg(2)
	}
	return req.Server, req.Arg(1)
}

func (m *Module) join(ctx context.Context, req *command.Request) error {
	server, channel := serverChannel(req)
	n, err := m.network(req, server)
	if err != nil {
		return err
	}
	if err := n.Transport().Join(ctx, channel); err != nil {
		return err
	}
	m.audit(req, "channel_join", "target_server", server, "channel", channel)
	return nil
}

func (m *Module) part(ctx context.Context, req *command.Request) error {
	server, channel := serverChannel(req)
	if channel == "" {
		if req.Private {
			return m.fail(req, xerrors.CodeInvalidArgument, "Which channel?", nil)
		}
		channel = req.Channel
	}
	n, err := m.network(req, server)
	if err != nil {
		return err
	}
	if err := n.Transport().Part(ctx, channel, m.text(req, "Parted.", nil)); err != nil {
		return err
	}
	m.audit(req, "channel_part", "target_server", server, "channel", channel)
	return nil
}

// quit 断开指定网络；未指定时断开所有网络。
func (m *Module) quit(ctx context.Context, req *command.Request) error {
	reason := m.text(req, "Quit", nil)
	if tag := req.Arg(1); tag != "" {
		if _, err := m.network(req, tag); err != nil {
			return err
		}
		m.audit(req, "network_quit", "target_server", tag)
		return m.svc.Hub.Quit(tag, reason)
	}

	m.audit(req, "network_quit_all")
	var errs []error
	for _, tag := range m.svc.Hub.Networks() {
		if err := m.svc.Hub.Quit(tag, reason); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Module) nick(ctx context.Context, req *command.Request) error {
	nick := req.Arg(1)
	if err := req.Transport.SetNick(ctx, nick); err != nil {
		return err
	}
	m.audit(req, "nick_change", "nick", nick)
	return m.say(ctx, req, "Nickname changed to {nick}.", personality.Args{"nick": nick})
}

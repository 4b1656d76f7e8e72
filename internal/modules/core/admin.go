package core

import (
	"context"
	"strings"

	"OpenChat-Bot/internal/command"
	xerrors "OpenChat-Bot/internal/errors"
	"OpenChat-Bot/internal/personality"
)

func (m *Module) adminCommands() []command.Command {
	return []command.Command{
		{Name: "addadmin", Pattern: `addadmin (\S+)(?: (\S+))?\s*$`, Handler: m.restricted(m.addAdmin), Help: "addadmin <nick> [channel]"},
		{Name: "rmadmin", Pattern: `rmadmin (\S+)(?: (\S+))?\s*$`, Handler: m.restricted(m.removeAdmin), Help: "rmadmin <nick> [channel]"},
		{Name: "listadmins", Pattern: `listadmins(?: (\S+))?\s*$`, Handler: m.restricted(m.listAdmins), Help: "listadmins [channel]"},
		{Name: "ignores", Pattern: `ignores(?: (#\S+|everywhere))?\.?$`, Handler: m.listIgnores, Help: "ignores [channel|everywhere]"},
		{Name: "ignore", Pattern: `ignore (\S+)(?: (#\S+|everywhere))?\.?$`, Handler: m.restricted(m.ignore), Help: "ignore <nick> [channel|everywhere]"},
		{Name: "unignore", Pattern: `(?:unignore|stop ignoring) (\S+)(?: (#\S+|everywhere))?\.?$`, Handler: m.restricted(m.unignore), Help: "unignore <nick> [channel|everywhere]"},
	}
}

func (m *Module) addAdmin(ctx context.Context, req *command.Request) error {
	n, err := m.network(req, "")
	if err != nil {
		return err
	}
	nick, channel := req.Arg(1), req.Arg(2)
	if err := n.Roster().Promote(ctx, nick, channel); err != nil {
		return err
	}
	m.audit(req, "admin_added", "nick", nick, "channel", channel)
	return m.say(ctx, req, "Administrator {nick} added.", personality.Args{"nick": nick})
}

func (m *Module) removeAdmin(ctx context.Context, req *command.Request) error {
	n, err := m.network(req, "")
	if err != nil {
		return err
	}
	nick, channel := req.Arg(1), req.Arg(2)
	if err := n.Roster().Demote(ctx, nick, channel); err != nil {
		return err
	}
	m.audit(req, "admin_removed", "nick", nick, "channel", channel)
	return m.say(ctx, req, "Administrator {nick} removed.", personality.Args{"nick": nick})
}

func (m *Module) listAdmins(ctx context.Context, req *command.Request) error {
	n, err := m.network(req, "")
	if err != nil {
		return err
	}
	admins, err := n.Roster().Admins(ctx, req.Arg(1))
	if err != nil {
		return err
	}
	return m.say(ctx, req, "Administrators: {admins}", personality.Args{"admins": strings.Join(admins, ", ")})
}

// ignoreScope 解析可选的频道参数：everywhere 表示整个网络，省略时为当前频道。
func ignoreScope(req *command.Request, arg string) string {
	switch arg {
	case "everywhere":
		return ""
	case "":
		return req.Scope()
	default:
		return arg
	}
}

func (m *Module) listIgnores(ctx context.Context, req *command.Request) error {
	n, err := m.network(req, "")
	if err != nil {
		return err
	}
	channel := ignoreScope(req, req.Arg(1))
	var nicks []string
	for _, entry := range n.Ignores().Entries() {
		if entry[1] == "" || entry[1] == channel {
			nicks = append(nicks, entry[0])
		}
	}
	if len(nicks) == 0 {
		return m.say(ctx, req, "Not ignoring anyone right now.", nil)
	}
	return m.say(ctx, req, "Currently ignoring: {ignores}", personality.Args{"ignores": strings.Join(nicks, ", ")})
}

func (m *Module) ignore(ctx context.Context, req *command.Request) error {
	n, err := m.network(req, "")
	if err != nil {
		return err
	}
	nick, channel := req.Arg(1), ignoreScope(req, req.Arg(2))
	args := personality.Args{"nick": nick, "chan": channel}
	if n.Ignores().Ignored(nick, channel) {
		if channel == "" {
			return m.fail(req, xerrors.CodeConflict, "Already ignoring {nick}.", args)
		}
		return m.fail(req, xerrors.CodeConflict, "Already ignoring {nick} on channel {chan}.", args)
	}
	if err := n.Ignores().Ignore(ctx, nick, channel); err != nil {
		return err
	}
	m.audit(req, "ignore_added", "nick", nick, "channel", channel)
	if channel == "" {
		return m.say(ctx, req, "{nick} added to ignore list.", args)
	}
	return m.say(ctx, req, "{nick} added to ignore list for channel {chan}.", args)
}

func (m *Module) unignore(ctx context.Context, req *command.Request) error {
	n, err := m.network(req, "")
	if err != nil {
		return err
	}
	nick, channel := req.Arg(1), ignoreScope(req, req.Arg(2))
	args := personality.Args{"nick": nick, "chan": channel}
	if err := n.Ignores().Unignore(ctx, nick, channel); err != nil {
		if !xerrors.HasCode(err, xerrors.CodeNotFound) {
			return err
		}
		if channel == "" {
			return m.fail(req, xerrors.CodeNotFound, "Not ignoring {nick}.", args)
		}
		return m.fail(req, xerrors.CodeNotFound, "Not ignoring {nick} on channel {chan}.", args)
	}
	m.audit(req, "ignore_removed", "nick", nick, "channel", channel)
	if channel == "" {
		return m.say(ctx, req, "{nick} removed from ignore list.", args)
	}
	return m.say(ctx, req, "{nick} removed from ignore list for channel {chan}.", args)
}

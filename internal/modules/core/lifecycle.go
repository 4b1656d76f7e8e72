package core

import (
	"context"
	"strings"

	"OpenChat-Bot/internal/command"
	"OpenChat-Bot/internal/personality"
	"OpenChat-Bot/pkg/plugin"
)

func (m *Module) moduleCommands() []command.Command {
	return []command.Command{
		{Name: "enable", Pattern: `enable (\S+)(?: (\S+)(?: (\S+))?)?\.?$`, Handler: m.restricted(m.enable), Help: "enable <module> [server|global] [channel]"},
		{Name: "disable", Pattern: `disable (\S+)(?: (\S+)(?: (\S+))?)?\.?$`, Handler: m.restricted(m.disable), Help: "disable <module> [server|global] [channel]"},
		{Name: "load", Pattern: `load (\S+)\.?$`, Handler: m.restricted(m.load), Help: "load <module>"},
		{Name: "unload", Pattern: `unload (\S+)(?: (hard))?\.?$`, Handler: m.restricted(m.unload), Help: "unload <module> [hard]"},
		{Name: "reload", Pattern: `reload (\S+)\.?$`, Handler: m.restricted(m.reload), Help: "reload <module>"},
		{Name: "loaded", Pattern: `loaded\??$`, Handler: m.loaded, Help: "loaded"},
	}
}

type toggle struct {
	apply     func(module, server, channel string) error
	channel   string
	server    string
	global    string
	auditName string
}

func (m *Module) enable(ctx context.Context, req *command.Request) error {
	return m.toggle(ctx, req, toggle{
		apply:     m.svc.Registry.Enable,
		channel:   "Module {mod} enabled for channel {chan}.",
		server:    "Module {mod} enabled for server {srv}.",
		global:    "Module {mod} globally enabled.",
		auditName: "module_enabled",
	})
}

func (m *Module) disable(ctx context.Context, req *command.Request) error {
	return m.toggle(ctx, req, toggle{
		apply:     m.svc.Registry.Disable,
		channel:   "Module {mod} disabled for channel {chan}.",
		server:    "Module {mod} disabled for server {srv}.",
		global:    "Module {mod} globally disabled.",
		auditName: "module_disabled",
	})
}

// toggle 解析作用域：两个参数为 (服务器, 频道)；一个参数为服务器或 global；
// 省略时为当前频道，私聊时为当前服务器。
func (m *Module) toggle(ctx context.Context, req *command.Request, t toggle) error {
	module := req.Arg(1)
	server, channel, msg := req.Server, req.Scope(), t.channel
	switch {
	case req.Arg(3) != "":
		server, channel = req.Arg(2), req.Arg(3)
	case req.Arg(2) == "global" || req.Arg(2) == "globally":
		server, channel, msg = "", "", t.global
	case req.Arg(2) != "":
		server, channel, msg = req.Arg(2), "", t.server
	case channel == "":
		msg = t.server
	}
	if err := t.apply(module, server, channel); err != nil {
		return err
	}
	m.audit(req, t.auditName, "module", module, "scope_server", server, "scope_channel", channel)
	return m.say(ctx, req, msg, personality.Args{"mod": module, "srv": server, "chan": channel})
}

func (m *Module) load(ctx context.Context, req *command.Request) error {
	module := req.Arg(1)
	if err := m.svc.Manager.Load(ctx, module, plugin.Soft(false)); err != nil {
		return err
	}
	m.audit(req, "module_load", "module", module)
	return m.say(ctx, req, "Module {mod} loaded.", personality.Args{"mod": module})
}

func (m *Module) unload(ctx context.Context, req *command.Request) error {
	module := req.Arg(1)
	hard := req.Arg(2) == "hard"
	if err := m.svc.Manager.Unload(ctx, module, !hard); err != nil {
		return err
	}
	m.audit(req, "module_unload", "module", module, "hard", hard)
	return m.say(ctx, req, "Module {mod} unloaded.", personality.Args{"mod": module})
}

func (m *Module) reload(ctx context.Context, req *command.Request) error {
	module := req.Arg(1)
	if err := m.svc.Manager.Load(ctx, module, plugin.Reload(true)); err != nil {
		return err
	}
	m.audit(req, "module_reload", "module", module)
	return m.say(ctx, req, "Module {mod} reloaded.", personality.Args{"mod": module})
}

func (m *Module) loaded(ctx context.Context, req *command.Request) error {
	return m.say(ctx, req, "Loaded modules: {mods}", personality.Args{"mods": strings.Join(m.svc.Manager.Loaded(), ", ")})
}

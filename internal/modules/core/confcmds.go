package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"OpenChat-Bot/internal/chat"
	"OpenChat-Bot/internal/command"
	"OpenChat-Bot/internal/personality"
)

func (m *Module) configCommands() []command.Command {
	return []command.Command{
		{Name: "loadconf", Pattern: `loadconf$`, Handler: m.restricted(m.loadConf), Help: "loadconf"},
		{Name: "saveconf", Pattern: `saveconf$`, Handler: m.restricted(m.saveConf), Help: "saveconf"},
		{Name: "get", Pattern: `get (\S+)\??$`, Handler: m.restricted(m.get), Help: "get [scope:]<path>"},
		{Name: "set", Pattern: `set (\S+)(?: to)? (.+?)\.?$`, Handler: m.restricted(m.set), Help: "set [scope:]<path> <value>"},
		{Name: "add", Pattern: `add (\S+) (.+?)\.?$`, Handler: m.restricted(m.add), Help: "add [scope:]<path> <value>"},
		{Name: "setitem", Pattern: `setitem (\S+) (\S+) (.+?)\.?$`, Handler: m.restricted(m.setItem), Help: "setitem [scope:]<path> <key> <value>"},
		{Name: "del", Pattern: `del (\S+) (.+?)\.?$`, Handler: m.restricted(m.del), Help: "del [scope:]<path> <key>"},
		{Name: "unset", Pattern: `unset (\S+)\.?$`, Handler: m.restricted(m.unset), Help: "unset [scope:]<path>"},
		{Name: "list", Pattern: `list (\S+)\.?$`, Handler: m.restricted(m.list), Help: "list [scope:]<path>"},
		{Name: "dict", Pattern: `dict (\S+)\.?$`, Handler: m.restricted(m.dict), Help: "dict [scope:]<path>"},
	}
}

type scoped struct {
	server  string
	channel string
	path    string
}

// parseScoped 解析 "[server:][channel:]path" 形式的参数。
// 单个前缀为 global 时表示全局层，以 # 或 & 开头时表示当前服务器上的频道，否则为服务器。
// 没有前缀时使用消息所在的作用域。
func parseScoped(req *command.Request, arg string) scoped {
	parts := strings.Split(arg, ":")
	switch len(parts) {
	case 1:
		return scoped{server: req.Server, channel: req.Scope(), path: parts[0]}
	case 2:
		prefix := parts[0]
		switch {
		case prefix == "global":
			return scoped{path: parts[1]}
		case chat.IsChannel(prefix):
			return scoped{server: req.Server, channel: prefix, path: parts[1]}
		default:
			return scoped{server: prefix, path: parts[1]}
		}
	default:
		return scoped{server: parts[0], channel: parts[1], path: strings.Join(parts[2:], ":")}
	}
}

// parseValue 把参数按 YAML 解析为结构化值，无法解析时按原样作为字符串。
func parseValue(raw string) any {
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}
	return v
}

func render(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any, map[string]any:
		b, err := json.Marshal(val)
		if err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(v)
}

func (m *Module) loadConf(ctx context.Context, req *command.Request) error {
	if err := m.svc.Store.Load(); err != nil {
		return err
	}
	m.audit(req, "config_loaded", "path", m.svc.Store.Path())
	return m.say(ctx, req, "Configuration loaded.", nil)
}

func (m *Module) saveConf(ctx context.Context, req *command.Request) error {
	if err := m.svc.Store.Save(); err != nil {
		return err
	}
	m.audit(req, "config_saved", "path", m.svc.Store.Path())
	return m.say(ctx, req, "Configuration saved.", nil)
}

func (m *Module) get(ctx context.Context, req *command.Request) error {
	s := parseScoped(req, req.Arg(1))
	v, err := m.svc.Cascade().Get(s.path, s.server, s.channel)
	if err != nil {
		return err
	}
	return m.say(ctx, req, "{name}: {val}", personality.Args{"name": s.path, "val": render(v)})
}

func (m *Module) set(ctx context.Context, req *command.Request) error {
	s := parseScoped(req, req.Arg(1))
	if err := m.svc.Cascade().Set(s.path, parseValue(req.Arg(2)), s.server, s.channel); err != nil {
		return err
	}
	m.audit(req, "config_set", "path", s.path, "scope_server", s.server, "scope_channel", s.channel)
	return m.say(ctx, req, "Configuration item {name} set.", personality.Args{"name": s.path})
}

func (m *Module) add(ctx context.Context, req *command.Request) error {
	s := parseScoped(req, req.Arg(1))
	if err := m.svc.Cascade().Add(s.path, parseValue(req.Arg(2)), s.server, s.channel); err != nil {
		return err
	}
	m.audit(req, "config_add", "path", s.path, "scope_server", s.server, "scope_channel", s.channel)
	return m.say(ctx, req, "Added value to configuration item {name}.", personality.Args{"name": s.path})
}

func (m *Module) setItem(ctx context.Context, req *command.Request) error {
	s := parseScoped(req, req.Arg(1))
	key := req.Arg(2)
	if err := m.svc.Cascade().SetItem(s.path, key, parseValue(req.Arg(3)), s.server, s.channel); err != nil {
		return err
	}
	m.audit(req, "config_setitem", "path", s.path, "key", key, "scope_server", s.server, "scope_channel", s.channel)
	return m.say(ctx, req, "Set key {key} in configuration item {name}.", personality.Args{"name": s.path, "key": key})
}

func (m *Module) del(ctx context.Context, req *command.Request) error {
	s := parseScoped(req, req.Arg(1))
	key := parseValue(req.Arg(2))
	if err := m.svc.Cascade().Delete(s.path, key, s.server, s.channel); err != nil {
		return err
	}
	m.audit(req, "config_delete", "path", s.path, "key", req.Arg(2))
	return m.say(ctx, req, "{name}[{key}] deleted.", personality.Args{"name": s.path, "key": req.Arg(2)})
}

func (m *Module) unset(ctx context.Context, req *command.Request) error {
	s := parseScoped(req, req.Arg(1))
	if err := m.svc.Cascade().Unset(s.path, s.server, s.channel); err != nil {
		return err
	}
	m.audit(req, "config_unset", "path", s.path, "scope_server", s.server, "scope_channel", s.channel)
	return m.say(ctx, req, "Configuration item {name} unset.", personality.Args{"name": s.path})
}

func (m *Module) list(ctx context.Context, req *command.Request) error {
	s := parseScoped(req, req.Arg(1))
	items, err := m.svc.Cascade().List(s.path, s.server, s.channel)
	if err != nil {
		return err
	}
	rendered := make([]string, 0, len(items))
	for _, item := range items {
		rendered = append(rendered, render(item))
	}
	return m.say(ctx, req, "{name}: {val}", personality.Args{"name": s.path, "val": strings.Join(rendered, ", ")})
}

func (m *Module) dict(ctx context.Context, req *command.Request) error {
	s := parseScoped(req, req.Arg(1))
	d, err := m.svc.Cascade().Dict(s.path, s.server, s.channel)
	if err != nil {
		return err
	}
	return m.say(ctx, req, "{name}: {val}", personality.Args{"name": s.path, "val": render(d)})
}

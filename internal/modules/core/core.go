// Package core 是内置的管理模块：管理员名单、忽略列表、模块生命周期、运行期配置和网络控制。
package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"OpenChat-Bot/internal/chat"
	"OpenChat-Bot/internal/command"
	xerrors "OpenChat-Bot/internal/errors"
	"OpenChat-Bot/internal/modules/host"
	"OpenChat-Bot/internal/personality"
	"OpenChat-Bot/internal/version"
	"OpenChat-Bot/pkg/logger"
	"OpenChat-Bot/pkg/plugin"
)

// Name 是模块名。
const Name = "core"

// CodePermissionDenied 标记非管理员调用受限命令。
const CodePermissionDenied xerrors.Code = "PERMISSION_DENIED"

func init() {
	xerrors.Register(CodePermissionDenied, xerrors.Attributes{
		Message:  "command restricted to administrators",
		Severity: xerrors.SeverityInfo,
	})
}

// Module 实现 plugin.Plugin。
type Module struct {
	svc     host.Services
	log     *slog.Logger
	started time.Time
}

// New 创建核心模块实例，供 plugin.Catalog 注册。
func New() plugin.Plugin {
	return &Module{log: logger.Named(Name)}
}

func (m *Module) Info() plugin.Info {
	return plugin.Info{
		Name:        Name,
		Description: "Core functionality.",
		Version:     version.Version,
	}
}

func (m *Module) Setup(r *plugin.Registrar) error {
	for _, group := range [][]command.Command{m.adminCommands(), m.moduleCommands(), m.configCommands(), m.networkCommands(), m.miscCommands()} {
		for _, cmd := range group {
			r.Command(cmd)
		}
	}
	return nil
}

func (m *Module) Load(ctx *plugin.ExecutionContext) (bool, error) {
	m.svc = host.From(ctx)
	if err := m.svc.Require(host.KeyManager, host.KeyRegistry, host.KeyHub, host.KeyStore, host.KeyPersonality); err != nil {
		return false, err
	}
	registerMessages(m.svc.Personality)
	m.started = time.Now()
	return true, nil
}

func (m *Module) Unload(*plugin.ExecutionContext) error {
	return nil
}

// text 在请求的作用域内本地化消息。
func (m *Module) text(req *command.Request, msg string, args personality.Args) string {
	return m.svc.Personality.For(req.Context, msg, args)
}

func (m *Module) say(ctx context.Context, req *command.Request, msg string, args personality.Args) error {
	return req.Reply(ctx, m.text(req, msg, args))
}

// fail 返回带本地化消息的错误，由分发器发送给用户。
func (m *Module) fail(req *command.Request, code xerrors.Code, msg string, args personality.Args) error {
	return xerrors.New(code, m.text(req, msg, args))
}

// restricted 要求调用者是当前作用域的管理员。
func (m *Module) restricted(h command.Handler) command.Handler {
	return func(ctx context.Context, req *command.Request) error {
		if !req.Admin {
			return m.fail(req, CodePermissionDenied, "This command is restricted to administrators.", nil)
		}
		return h(ctx, req)
	}
}

func (m *Module) network(req *command.Request, tag string) (*chat.Network, error) {
	if tag == "" {
		tag = req.Server
	}
	n, ok := m.svc.Hub.Network(tag)
	if !ok {
		return nil, m.fail(req, xerrors.CodeNotFound, "Unknown server {srv}.", personality.Args{"srv": tag})
	}
	return n, nil
}

func (m *Module) audit(req *command.Request, action string, attrs ...any) {
	attrs = append([]any{"server", req.Server, "by", req.Sender}, attrs...)
	logger.Audit().Info(action, attrs...)
	m.log.Info(fmt.Sprintf("执行管理命令 %s", req.Command), slog.String("server", req.Server), slog.String("by", req.Sender))
}

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"OpenChat-Bot/internal/chat"
	"OpenChat-Bot/internal/command"
	"OpenChat-Bot/internal/config"
	xerrors "OpenChat-Bot/internal/errors"
	"OpenChat-Bot/internal/event"
	"OpenChat-Bot/internal/observability/metrics"
	"OpenChat-Bot/internal/personality"
	"OpenChat-Bot/pkg/logger"
)

// CodeHandlerFailed 标记命令处理器返回的错误或 panic。
const CodeHandlerFailed xerrors.Code = "COMMAND_HANDLER_FAILED"

// PrefixesKey 是级联配置中命令前缀列表的路径。
const PrefixesKey = "command_prefixes"

// ErrorNotice 是处理器失败时发送到回复目标的消息原文。
const ErrorNotice = "Error while executing [{mod}:{cmd}]: {err}"

func init() {
	xerrors.Register(CodeHandlerFailed, xerrors.Attributes{
		Message:  "command handler failed",
		Severity: xerrors.SeverityWarning,
	})
}

// Dispatcher 实现 chat.MessageDispatcher。
type Dispatcher struct {
	registry *command.Registry
	bus      *event.Bus
	cascade  *config.Cascade
	catalog  *personality.Catalog
	log      *slog.Logger
}

// New 创建分发器。catalog 可以为 nil。
func New(registry *command.Registry, bus *event.Bus, cascade *config.Cascade, catalog *personality.Catalog) *Dispatcher {
	if catalog == nil {
		catalog = personality.New(cascade)
	}
	return &Dispatcher{
		registry: registry,
		bus:      bus,
		cascade:  cascade,
		catalog:  catalog,
		log:      logger.Named("dispatch"),
	}
}

// Address 判断消息是否在呼叫机器人：以昵称加 ":,;" 之一开头，或以配置的命令前缀开头，
// 或者是私聊。返回去掉呼叫部分并修剪空白后的文本。
func (d *Dispatcher) Address(m *chat.Context) (bool, string) {
	nick := ""
	if m.Transport != nil {
		nick = m.Transport.Nickname()
	}
	if rest, ok := stripNick(m.Text, nick); ok {
		return true, rest
	}
	for _, prefix := range d.cascade.Strings(PrefixesKey, m.Server, m.Scope()) {
		if prefix == "" || !strings.HasPrefix(m.Text, prefix) {
			continue
		}
		if rest := m.Text[len(prefix):]; rest != "" {
			return true, strings.TrimSpace(rest)
		}
	}
	return m.Private, strings.TrimSpace(m.Text)
}

func stripNick(text, nick string) (string, bool) {
	if nick == "" || len(text) <= len(nick) || !strings.EqualFold(text[:len(nick)], nick) {
		return "", false
	}
	rest := text[len(nick):]
	if !strings.ContainsRune(":,;", rune(rest[0])) {
		return "", false
	}
	rest = strings.TrimLeftFunc(rest[1:], unicode.IsSpace)
	if rest == "" {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// Dispatch 处理一条消息：判定呼叫，按顺序尝试命令，最后发布 chat.message。
func (d *Dispatcher) Dispatch(ctx context.Context, m *chat.Context) {
	m.Addressed, m.Stripped = d.Address(m)
	if m.Transport != nil {
		admin, err := m.Transport.IsAdmin(ctx, m.Sender, m.Scope())
		if err != nil {
			d.log.Warn("管理员判定失败", slog.String("server", m.Server), slog.String("nick", m.Sender), slog.Any("error", err))
		}
		m.Admin = admin
	}
	metrics.ObserveMessage(m.Server, m.Addressed)

	d.run(ctx, m)
	d.bus.Publish(ctx, event.TopicMessage, m)
}

func (d *Dispatcher) run(ctx context.Context, m *chat.Context) {
	success := false
	for _, reg := range d.registry.Resolve(m.Server, m.Scope()) {
		if reg.Command.Fallback && success {
			break
		}
		if ctx.Err() != nil {
			return
		}

		var groups []string
		text := m.Text
		switch {
		case reg.Command.Bare:
			groups = reg.Match(m.Text)
		case m.Addressed:
			text = m.Stripped
			groups = reg.Match(text)
		}
		if groups == nil {
			continue
		}

		req := &command.Request{
			Context: m,
			Module:  reg.Module,
			Command: reg.Command.Name,
			Groups:  groups,
			Named:   reg.Named(groups),
		}
		err := d.invoke(ctx, reg, req)
		if err == nil {
			success = true
		} else {
			d.report(ctx, m, reg, err)
		}
		if reg.Command.Fallback {
			break
		}
	}
}

func (d *Dispatcher) invoke(ctx context.Context, reg command.Registration, req *command.Request) (err error) {
	start := time.Now()
	outcome := metrics.OutcomeOK
	defer func() {
		if r := recover(); r != nil {
			outcome = metrics.OutcomePanic
			err = xerrors.New(CodeHandlerFailed, fmt.Sprint(r), xerrors.WithMetadata("panic", "true"))
		}
		metrics.ObserveCommand(reg.Module, reg.Command.Name, outcome, time.Since(start))
	}()
	if err = reg.Command.Handler(ctx, req); err != nil {
		outcome = metrics.OutcomeError
	}
	return err
}

func (d *Dispatcher) report(ctx context.Context, m *chat.Context, reg command.Registration, err error) {
	d.log.Error("命令执行失败",
		slog.String("server", m.Server),
		slog.String("target", m.Target),
		slog.String("module", reg.Module),
		slog.String("command", reg.Command.Name),
		slog.Any("error", err),
	)
	if m.Transport == nil {
		return
	}
	notice := d.catalog.For(m, ErrorNotice, personality.Args{
		"mod": reg.Module,
		"cmd": reg.Command.Name,
		"err": errorText(err),
	})
	if sendErr := m.Transport.Send(ctx, m.Target, notice); sendErr != nil {
		d.log.Warn("错误提示发送失败", slog.String("target", m.Target), slog.Any("error", sendErr))
	}
}

func errorText(err error) string {
	if e, ok := xerrors.From(err); ok {
		return e.Message()
	}
	return err.Error()
}

// Package chatlog 把频道活动按服务器和频道写入日志文件。
package chatlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"OpenChat-Bot/internal/chat"
	"OpenChat-Bot/internal/config"
	"OpenChat-Bot/internal/event"
	"OpenChat-Bot/internal/modules/host"
	"OpenChat-Bot/internal/version"
	"OpenChat-Bot/pkg/logger"
	"OpenChat-Bot/pkg/plugin"
)

const (
	// Name 是模块名。
	Name = "chatlog"
	// PathKey 是日志文件路径模板，支持 {data}、{server} 和 {channel}。
	PathKey = "chatlog.path"
	// DateFormatKey 是时间戳的 Go 时间格式。
	DateFormatKey = "chatlog.date_format"

	defaultPath       = "{data}/logs/{server}/{channel}.log"
	defaultDateFormat = "2006/01/02 15:04:05"
	serverChannel     = "<server>"
)

// Module 实现 plugin.Plugin。
type Module struct {
	log     *slog.Logger
	cascade *config.Cascade
	dataDir string
	now     func() time.Time

	mu      sync.Mutex
	writers map[string]io.WriteCloser
}

// New 创建聊天日志模块实例。
func New() plugin.Plugin {
	return &Module{log: logger.Named(Name), now: time.Now, writers: make(map[string]io.WriteCloser)}
}

func (m *Module) Info() plugin.Info {
	return plugin.Info{
		Name:        Name,
		Description: "Log channel activity to files.",
		Version:     version.Version,
	}
}

func (m *Module) Setup(r *plugin.Registrar) error {
	r.Hook(event.TopicJoin, m.event(func(ev *chat.Event) string {
		return fmt.Sprintf("--> %s joined %s", ev.Nick, ev.Channel)
	}))
	r.Hook(event.TopicPart, m.event(func(ev *chat.Event) string {
		return fmt.Sprintf("<-- %s left %s (%s)", ev.Nick, ev.Channel, ev.Reason)
	}))
	r.Hook(event.TopicKick, m.event(func(ev *chat.Event) string {
		return fmt.Sprintf("<!- %s got kicked from %s by %s (%s)", ev.Nick, ev.Channel, ev.Actor, ev.Reason)
	}))
	r.Hook(event.TopicDisconnect, m.event(func(ev *chat.Event) string {
		if ev.Nick == "" {
			return fmt.Sprintf("<-- disconnected (%s)", ev.Reason)
		}
		return fmt.Sprintf("<-- %s quit (%s)", ev.Nick, ev.Reason)
	}))
	r.Hook(event.TopicNickChange, m.event(func(ev *chat.Event) string {
		return fmt.Sprintf("-!- %s changed nickname to %s", ev.Nick, ev.NewNick)
	}))
	r.Hook(event.TopicTopicChange, m.event(func(ev *chat.Event) string {
		if ev.Actor == "" {
			return "-!- Topic changed to: " + ev.Text
		}
		return fmt.Sprintf("-!- %s changed topic to: %s", ev.Actor, ev.Text)
	}))
	r.Hook(event.TopicNotice, m.event(func(ev *chat.Event) string {
		return fmt.Sprintf("*%s* %s", ev.Actor, ev.Text)
	}))
	r.Hook(event.TopicMessage, m.message)
	return nil
}

func (m *Module) Load(ctx *plugin.ExecutionContext) (bool, error) {
	svc := host.From(ctx)
	if err := svc.Require(host.KeyStore, host.KeyDataDir); err != nil {
		return false, err
	}
	m.cascade = svc.Cascade()
	m.dataDir = svc.DataDir
	if err := m.cascade.Ensure(PathKey, defaultPath); err != nil {
		return false, err
	}
	if err := m.cascade.Ensure(DateFormatKey, defaultDateFormat); err != nil {
		return false, err
	}
	return true, nil
}

// Unload 关闭所有打开的日志文件。
func (m *Module) Unload(*plugin.ExecutionContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first error
	for path, w := range m.writers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
		delete(m.writers, path)
	}
	return first
}

func (m *Module) event(format func(*chat.Event) string) func(context.Context, any) error {
	return func(_ context.Context, payload any) error {
		ev, ok := payload.(*chat.Event)
		if !ok {
			return nil
		}
		channel := ev.Channel
		if ev.Private {
			channel = ev.Actor
		}
		return m.write(ev.Server, channel, format(ev))
	}
}

func (m *Module) message(_ context.Context, payload any) error {
	msg, ok := payload.(*chat.Context)
	if !ok {
		return nil
	}
	return m.write(msg.Server, msg.Target, fmt.Sprintf("<%s> %s", msg.Sender, msg.Text))
}

// Path 返回 (server, channel) 的日志文件路径。channel 为空时写入服务器级日志。
func (m *Module) Path(server, channel string) string {
	tmpl := m.cascade.String(PathKey, server, channel, defaultPath)
	name := channel
	if name == "" {
		name = serverChannel
	}
	r := strings.NewReplacer(
		"{data}", m.dataDir,
		"{server}", sanitize(server),
		"{channel}", sanitize(name),
	)
	return filepath.Clean(r.Replace(tmpl))
}

func (m *Module) write(server, channel, line string) error {
	path := m.Path(server, channel)
	stamp := m.now().UTC().Format(m.cascade.String(DateFormatKey, server, channel, defaultDateFormat))

	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.writers[path]
	if !ok {
		var err error
		w, err = logger.NewRotatingFile(path, 0, 0, 0)
		if err != nil {
			return err
		}
		m.writers[path] = w
	}
	_, err := fmt.Fprintf(w, "[%s] %s\n", stamp, line)
	return err
}

// sanitize 去掉路径分隔符，避免频道名逃出日志目录。
func sanitize(name string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(name)
}

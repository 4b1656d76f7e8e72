// Package countdown 提供按频道计时的倒数（正数）命令。
//
// 每个 (server, channel) 至多有一个进行中的计时序列，新的请求会取消旧的。
// 指定了参与者时，计时要等所有人在频道里回复就绪消息后才开始。
package countdown

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"OpenChat-Bot/internal/chat"
	"OpenChat-Bot/internal/command"
	"OpenChat-Bot/internal/config"
	xerrors "OpenChat-Bot/internal/errors"
	"OpenChat-Bot/internal/event"
	"OpenChat-Bot/internal/modules/host"
	"OpenChat-Bot/internal/personality"
	"OpenChat-Bot/internal/version"
	"OpenChat-Bot/pkg/logger"
	"OpenChat-Bot/pkg/plugin"
)

const (
	// Name 是模块名。
	Name = "countdown"
	// ReadyKey 是就绪消息列表的配置路径。
	ReadyKey = "countdown.ready_messages"
	// MaxCount 是允许的最大计数。
	MaxCount = 60

	defaultCount   = 5
	defaultMessage = "Go"
)

var peopleSeparator = regexp.MustCompile(`(?:,\s*|\s+and\s+)`)

type scope struct {
	server  string
	channel string
}

// sequence 是一个频道内等待开始或正在进行的计时。
type sequence struct {
	up        bool
	count     int
	message   string
	waiting   map[string]bool
	target    string
	transport chat.Transport
	cancel    context.CancelFunc
}

// Module 实现 plugin.Plugin。
type Module struct {
	log *slog.Logger
	// Tick 是两次计数之间的间隔。
	Tick time.Duration

	cascade *config.Cascade
	catalog *personality.Catalog

	mu        sync.Mutex
	sequences map[scope]*sequence
	wg        sync.WaitGroup
}

// New 创建计时模块实例。
func New() plugin.Plugin {
	return &Module{log: logger.Named(Name), Tick: time.Second, sequences: make(map[scope]*sequence)}
}

func (m *Module) Info() plugin.Info {
	return plugin.Info{
		Name:        Name,
		Description: "3-2-1... countdowns per channel.",
		Version:     version.Version,
	}
}

func (m *Module) Setup(r *plugin.Registrar) error {
	r.Command(command.Command{
		Name:    "countdown",
		Pattern: `count ?(?P<dir>down|up)(?: with (?P<people>.+?))?(?: (?:from|to) (?P<count>[0-9]+))?(?: (?:from|to) (?P<msg>.+))?$`,
		Handler: m.countdown,
		Help:    "countdown [with <people>] [from <n>] [to <message>]",
	})
	r.Command(command.Command{
		Name:    "stop countdown",
		Pattern: `stop (?:the )?count(?:down|up)\.?$`,
		Handler: m.stop,
		Help:    "stop countdown",
	})
	r.Hook(event.TopicMessage, m.ready)
	return nil
}

func (m *Module) Load(ctx *plugin.ExecutionContext) (bool, error) {
	svc := host.From(ctx)
	if err := svc.Require(host.KeyStore); err != nil {
		return false, err
	}
	m.cascade = svc.Cascade()
	m.catalog = svc.Personality
	if m.catalog == nil {
		m.catalog = personality.New(m.cascade)
	}
	if err := m.cascade.Ensure(ReadyKey, []any{"r", "q"}); err != nil {
		return false, err
	}
	return true, nil
}

// Unload 取消所有计时并等待它们退出。
func (m *Module) Unload(*plugin.ExecutionContext) error {
	m.mu.Lock()
	for key, seq := range m.sequences {
		if seq.cancel != nil {
			seq.cancel()
		}
		delete(m.sequences, key)
	}
	m.mu.Unlock()
	m.wg.Wait()
	return nil
}

// Active 报告 (server, channel) 上是否有等待中或进行中的计时。
func (m *Module) Active(server, channel string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sequences[scope{server, channel}]
	return ok
}

func (m *Module) countdown(ctx context.Context, req *command.Request) error {
	count := defaultCount
	if raw := req.Named["count"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxCount {
			return xerrors.New(xerrors.CodeInvalidArgument, m.catalog.For(req.Context,
				"Count must be between 1 and {max}.", personality.Args{"max": MaxCount}))
		}
		count = n
	}
	message := strings.TrimSpace(req.Named["msg"])
	if message == "" {
		message = defaultMessage
	}

	seq := &sequence{
		up:        req.Named["dir"] == "up",
		count:     count,
		message:   message,
		waiting:   make(map[string]bool),
		target:    req.Target,
		transport: req.Transport,
	}
	for _, person := range peopleSeparator.Split(req.Named["people"], -1) {
		if person = strings.ToLower(strings.TrimSpace(person)); person != "" {
			seq.waiting[person] = true
		}
	}

	key := scope{req.Server, req.Target}
	m.mu.Lock()
	if old, ok := m.sequences[key]; ok && old.cancel != nil {
		old.cancel()
	}
	m.sequences[key] = seq
	if len(seq.waiting) == 0 {
		m.startLocked(ctx, key, seq)
	}
	m.mu.Unlock()
	return nil
}

func (m *Module) stop(ctx context.Context, req *command.Request) error {
	key := scope{req.Server, req.Target}
	m.mu.Lock()
	seq, ok := m.sequences[key]
	if ok {
		if seq.cancel != nil {
			seq.cancel()
		}
		delete(m.sequences, key)
	}
	m.mu.Unlock()
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, m.catalog.For(req.Context, "No countdown running.", nil))
	}
	return req.Reply(ctx, m.catalog.For(req.Context, "Countdown stopped.", nil))
}

// ready 在参与者回复就绪消息时把他从等待名单中移除，名单清空后开始计时。
func (m *Module) ready(ctx context.Context, payload any) error {
	msg, ok := payload.(*chat.Context)
	if !ok || msg.Private {
		return nil
	}
	text := strings.ToLower(strings.TrimSpace(msg.Text))
	matched := false
	for _, r := range m.cascade.Strings(ReadyKey, msg.Server, msg.Channel) {
		if text == strings.ToLower(r) {
			matched = true
			break
		}
	}
	if !matched {
		return nil
	}

	key := scope{msg.Server, msg.Channel}
	m.mu.Lock()
	defer m.mu.Unlock()
	seq, ok := m.sequences[key]
	if !ok || seq.cancel != nil || !seq.waiting[strings.ToLower(msg.Sender)] {
		return nil
	}
	delete(seq.waiting, strings.ToLower(msg.Sender))
	if len(seq.waiting) == 0 {
		m.startLocked(ctx, key, seq)
	}
	return nil
}

// startLocked 启动计时协程，调用方持有 m.mu。
// 计时的 ctx 来自触发它的消息，网络断开时随之取消。
func (m *Module) startLocked(ctx context.Context, key scope, seq *sequence) {
	runCtx, cancel := context.WithCancel(ctx)
	seq.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.run(runCtx, key, seq)
	}()
}

func (m *Module) run(ctx context.Context, key scope, seq *sequence) {
	defer func() {
		m.mu.Lock()
		if m.sequences[key] == seq {
			delete(m.sequences, key)
		}
		m.mu.Unlock()
	}()

	ticker := time.NewTicker(m.Tick)
	defer ticker.Stop()
	for i := 0; i < seq.count; i++ {
		n := seq.count - i
		if seq.up {
			n = i + 1
		}
		if err := seq.transport.Send(ctx, seq.target, strconv.Itoa(n)); err != nil {
			m.log.Warn("计时消息发送失败", slog.String("server", key.server), slog.String("channel", key.channel), slog.Any("error", err))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
	final := m.catalog.Localize(seq.transport, key.server, key.channel, "{countmessage}!", personality.Args{"countmessage": seq.message})
	if err := seq.transport.Send(ctx, seq.target, final); err != nil {
		m.log.Warn("计时消息发送失败", slog.String("server", key.server), slog.String("channel", key.channel), slog.Any("error", err))
	}
	m.log.Debug(fmt.Sprintf("计时结束 %s:%s", key.server, key.channel))
}

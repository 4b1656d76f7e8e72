// Package relay 把聊天事件转发到消息通道，并把通道中的公告发往聊天网络。
package relay

import (
	"context"
	"log/slog"
	"sync"

	xerrors "OpenChat-Bot/internal/errors"
	"OpenChat-Bot/internal/event"
	"OpenChat-Bot/internal/modules/host"
	"OpenChat-Bot/internal/observability/metrics"
	queue "OpenChat-Bot/internal/relay"
	"OpenChat-Bot/internal/version"
	"OpenChat-Bot/pkg/logger"
	"OpenChat-Bot/pkg/plugin"
)

// Name 是模块名。
const Name = "relay"

// Topics 是模块订阅的聊天事件主题。配置了 relay.topics 时只转发其中列出的主题。
var Topics = []string{
	event.TopicConnect,
	event.TopicDisconnect,
	event.TopicJoin,
	event.TopicPart,
	event.TopicKick,
	event.TopicInvite,
	event.TopicNickChange,
	event.TopicTopicChange,
	event.TopicNotice,
	event.TopicMessage,
}

// Module 实现 plugin.Plugin。
type Module struct {
	svc     host.Services
	log     *slog.Logger
	allowed map[string]bool
	workers int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New 创建中继模块实例。
func New() plugin.Plugin {
	return &Module{log: logger.Named(Name), workers: 1}
}

func (m *Module) Info() plugin.Info {
	return plugin.Info{
		Name:        Name,
		Description: "Forwards chat events to the relay broker and posts announcements from it.",
		Version:     version.Version,
	}
}

func (m *Module) Setup(r *plugin.Registrar) error {
	for _, topic := range Topics {
		topic := topic
		r.Hook(topic, func(ctx context.Context, payload any) error {
			return m.forward(ctx, topic, payload)
		})
	}
	return nil
}

// Load 启动入站公告的消费协程，中继默认不对任何频道禁用，返回 enabled=true。
func (m *Module) Load(ctx *plugin.ExecutionContext) (bool, error) {
	m.svc = host.From(ctx)
	if err := m.svc.Require(host.KeyHub, host.KeyBroker); err != nil {
		return false, err
	}
	m.allowed = nil
	if len(m.svc.RelayTopics) > 0 {
		m.allowed = make(map[string]bool, len(m.svc.RelayTopics))
		for _, topic := range m.svc.RelayTopics {
			m.allowed[topic] = true
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.mu.Lock()
	m.cancel, m.done = cancel, done
	m.mu.Unlock()

	go func() {
		defer close(done)
		if err := m.svc.Broker.Inbound.Consume(runCtx, m.workers, m.announce); err != nil && runCtx.Err() == nil {
			m.log.Error("公告消费中止", slog.String("driver", m.svc.Broker.Driver), slog.Any("error", err))
		}
	}()
	m.log.Info("中继已启动", slog.String("driver", m.svc.Broker.Driver), slog.Int("topics", m.topicCount()))
	return true, nil
}

// Unload 停止消费并等待消费协程退出。
func (m *Module) Unload(*plugin.ExecutionContext) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (m *Module) topicCount() int {
	if m.allowed == nil {
		return len(Topics)
	}
	return len(m.allowed)
}

func (m *Module) forward(ctx context.Context, topic string, payload any) error {
	if m.allowed != nil && !m.allowed[topic] {
		return nil
	}
	env, ok := queue.FromPayload(topic, payload)
	if !ok {
		return nil
	}
	body, err := env.Encode()
	if err != nil {
		metrics.ObserveRelay("outbound", metrics.OutcomeError)
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "编码中继事件失败")
	}
	if err := m.svc.Broker.Outbound.Publish(ctx, body); err != nil {
		metrics.ObserveRelay("outbound", metrics.OutcomeError)
		return err
	}
	metrics.ObserveRelay("outbound", metrics.OutcomeOK)
	return nil
}

func (m *Module) announce(ctx context.Context, body []byte) error {
	a, err := queue.DecodeAnnouncement(body)
	if err != nil {
		metrics.ObserveRelay("inbound", "invalid")
		m.log.Warn("丢弃无效公告", slog.Any("error", err))
		return err
	}
	if err := m.svc.Hub.SendTo(ctx, a.Server, a.Target, a.Text); err != nil {
		metrics.ObserveRelay("inbound", metrics.OutcomeError)
		m.log.Error("公告发送失败",
			slog.String("id", a.ID),
			slog.String("server", a.Server),
			slog.String("target", a.Target),
			slog.Any("error", err))
		return err
	}
	metrics.ObserveRelay("inbound", metrics.OutcomeOK)
	logger.Audit().Info("公告已发送",
		slog.String("id", a.ID),
		slog.String("server", a.Server),
		slog.String("target", a.Target),
	)
	return nil
}

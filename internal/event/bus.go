package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"

	xerrors "OpenChat-Bot/internal/errors"
	"OpenChat-Bot/internal/observability/metrics"
	"OpenChat-Bot/pkg/logger"
)

// CodeHookHandler 标识钩子处理器执行失败。
const CodeHookHandler xerrors.Code = "HOOK_HANDLER_FAILED"

func init() {
	xerrors.Register(CodeHookHandler, xerrors.Attributes{
		Message:  "hook handler failed",
		Severity: xerrors.SeverityWarning,
	})
}

// Handler 处理一次事件。payload 的具体类型由主题决定。
type Handler func(ctx context.Context, payload any) error

// SubscriptionID 唯一标识一次订阅。函数值不可比较，因此退订依赖该 ID。
type SubscriptionID string

type subscription struct {
	id      SubscriptionID
	owner   string
	handler Handler
}

// Bus 是按主题划分的订阅表。
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]subscription
	log    *slog.Logger
}

// NewBus 创建一个空的事件总线。
func NewBus() *Bus {
	return &Bus{
		topics: make(map[string][]subscription),
		log:    logger.Named("event"),
	}
}

// Subscribe 为 topic 追加一个处理器，owner 通常是所属模块名，仅用于日志与指标。
func (b *Bus) Subscribe(topic, owner string, handler Handler) SubscriptionID {
	id := SubscriptionID(uuid.NewString())
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics[topic] = append(b.topics[topic], subscription{id: id, owner: owner, handler: handler})
	return id
}

// Unsubscribe 移除订阅，返回该订阅此前是否存在。
func (b *Bus) Unsubscribe(topic string, id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[topic]
	for i, sub := range subs {
		if sub.id != id {
			continue
		}
		next := make([]subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(b.topics, topic)
		} else {
			b.topics[topic] = next
		}
		return true
	}
	return false
}

// Subscribers 返回 topic 当前的订阅数量。
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Publish 按注册顺序依次调用 topic 的全部处理器并等待其完成。
// 处理器返回的错误或发生的 panic 会被记录，不会中断其余处理器，也不会返回给发布者。
// ctx 已取消时仍会调用每个处理器，由处理器自行检查 ctx。
func (b *Bus) Publish(ctx context.Context, topic string, payload any) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.topics[topic]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.invoke(ctx, topic, sub, payload)
	}
}

func (b *Bus) invoke(ctx context.Context, topic string, sub subscription, payload any) {
	outcome := metrics.OutcomeOK
	defer func() {
		if r := recover(); r != nil {
			outcome = metrics.OutcomePanic
			err := xerrors.New(CodeHookHandler, fmt.Sprintf("hook panicked: %v", r),
				xerrors.WithMetadata("topic", topic),
				xerrors.WithMetadata("owner", sub.owner))
			b.log.Error("钩子处理器发生 panic",
				slog.String("topic", topic),
				slog.String("owner", sub.owner),
				slog.Any("error", err),
				slog.String("stack", string(debug.Stack())))
		}
		metrics.ObserveHook(topic, outcome)
	}()

	if err := sub.handler(ctx, payload); err != nil {
		outcome = metrics.OutcomeError
		wrapped := xerrors.Wrap(CodeHookHandler, err, "hook handler failed",
			xerrors.WithMetadata("topic", topic),
			xerrors.WithMetadata("owner", sub.owner))
		b.log.Warn("钩子处理器执行失败",
			slog.String("topic", topic),
			slog.String("owner", sub.owner),
			slog.Any("error", wrapped))
	}
}

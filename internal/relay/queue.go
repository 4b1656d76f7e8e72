package relay

import (
	"context"

	xerrors "OpenChat-Bot/internal/errors"
)

// Handler 处理一条来自消息通道的原始消息。
type Handler func(ctx context.Context, body []byte) error

// Producer 负责向通道投递消息。
type Producer interface {
	Publish(ctx context.Context, body []byte) error
	Close() error
}

// Consumer 负责从通道中消费消息，阻塞到 ctx 结束或通道出错。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

var errClosed = xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")

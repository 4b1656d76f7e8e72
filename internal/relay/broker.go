package relay

import (
	"context"
	"fmt"

	"OpenChat-Bot/internal/config"
	xerrors "OpenChat-Bot/internal/errors"
)

// Broker 持有出站（事件）和入站（公告）两个通道。
type Broker struct {
	Driver   string
	Outbound Queue
	Inbound  Queue
}

// Open 按配置创建通道，driver 取值 memory、redis 或 rabbitmq。
// memory 的出站通道在进程内没有消费者，写满后丢弃最旧的事件。
func Open(ctx context.Context, cfg config.RelayConfig) (*Broker, error) {
	switch cfg.Driver {
	case "", "memory":
		return &Broker{Driver: "memory", Outbound: NewLossyMemoryQueue(256), Inbound: NewMemoryQueue(64)}, nil
	case "redis":
		out, err := NewRedisQueue(ctx, RedisQueueConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Queue:    cfg.Redis.Outbound,
		})
		if err != nil {
			return nil, err
		}
		in, err := NewRedisQueue(ctx, RedisQueueConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Queue:    cfg.Redis.Inbound,
		})
		if err != nil {
			out.Close()
			return nil, err
		}
		return &Broker{Driver: cfg.Driver, Outbound: out, Inbound: in}, nil
	case "rabbitmq":
		out, err := NewRabbitMQQueue(RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Outbound,
			Prefetch: cfg.RabbitMQ.Prefetch,
			Durable:  true,
		})
		if err != nil {
			return nil, err
		}
		in, err := NewRabbitMQQueue(RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Inbound,
			Prefetch: cfg.RabbitMQ.Prefetch,
			Durable:  true,
		})
		if err != nil {
			out.Close()
			return nil, err
		}
		return &Broker{Driver: cfg.Driver, Outbound: out, Inbound: in}, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unsupported relay driver: %s", cfg.Driver))
	}
}

// Close 关闭两个通道。
func (b *Broker) Close() error {
	if b == nil {
		return nil
	}
	errOut := b.Outbound.Close()
	errIn := b.Inbound.Close()
	if errOut != nil {
		return errOut
	}
	return errIn
}

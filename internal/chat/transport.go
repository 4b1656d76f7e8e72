package chat

import (
	"context"
	"strings"
)

// Transport 是协议适配器向核心暴露的出站能力，每个已连接的网络一个实例。
type Transport interface {
	// Server 返回配置中的服务器标签。
	Server() string
	Nickname() string
	Send(ctx context.Context, target, text string) error
	SetNick(ctx context.Context, nick string) error
	Join(ctx context.Context, channel string) error
	Part(ctx context.Context, channel, reason string) error
	Disconnect(reason string) error
	// IsAdmin 判断 identity 在 scope（为空表示整个网络）内是否为管理员。
	IsAdmin(ctx context.Context, identity, scope string) (bool, error)
	// Run 阻塞直到连接断开或 ctx 被取消。
	Run(ctx context.Context) error
	// FormatCodes 返回该协议的格式化代码，例如粗体开始与结束标记。
	FormatCodes() map[string]string
}

// MessageDispatcher 接收规范化后的入站消息。
type MessageDispatcher interface {
	Dispatch(ctx context.Context, msg *Context)
}

// IsChannel 判断目标是否为频道名。
func IsChannel(target string) bool {
	return strings.HasPrefix(target, "#") || strings.HasPrefix(target, "&")
}

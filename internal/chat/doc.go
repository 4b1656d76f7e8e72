// Package chat 定义聊天网络的边界：协议适配器需要实现的 Transport 能力、
// 每条入站消息的 Context，以及网络级的记账逻辑（忽略列表、管理员名册、事件发布）。
package chat

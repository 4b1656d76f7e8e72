// Package dispatch 把一条入站消息路由到命令处理器，并在处理后通过事件总线广播。
package dispatch

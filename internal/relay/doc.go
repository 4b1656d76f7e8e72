// Package relay 把聊天事件以 JSON 信封的形式投递到外部消息通道（Redis、RabbitMQ 或进程内队列），
// 并从入站通道接收需要发往聊天网络的公告。
package relay

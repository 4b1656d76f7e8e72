// Package event 实现进程内的事件钩子总线：协议适配器与分发器发布事件，
// 已加载的模块订阅事件。发布按注册顺序串行调用处理器，单个处理器失败不会影响其他处理器。
package event

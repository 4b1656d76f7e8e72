// Package api 提供管理用的 HTTP 接口：健康检查、Prometheus 指标、模块状态查询和公告投递。
package api

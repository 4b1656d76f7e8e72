// Package config 负责机器人的配置：启动时读取的配置文档、类型化的启动参数，
// 以及按 (全局, 服务器, 频道) 三层解析的配置覆盖级联 Cascade。
package config

// Package command 保存各模块注册的命令，并按 (服务器, 频道) 解析出当前可用、按优先级排好序的命令列表。
package command

// Package storage 提供模块使用的最小关系型存储能力：按需建表，以及链式的
// 查询、插入与删除。后端可以是 SQLite（默认，纯 Go 实现）或 MySQL。
package storage

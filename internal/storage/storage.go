package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	xerrors "OpenChat-Bot/internal/errors"
)

// Config 描述数据库连接参数。
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB 封装 *sql.DB 及其方言。
type DB struct {
	db      *sql.DB
	dialect dialect
}

// Open 按驱动打开数据库并校验连通性。
func Open(ctx context.Context, cfg Config) (*DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	d, ok := dialects[driver]
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的数据库驱动: %s", cfg.Driver))
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据库 DSN 不能为空")
	}

	db, err := sql.Open(d.driverName, cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接数据库失败")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(d.maxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(max(1, d.maxOpenConns/2))
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到数据库")
	}
	return &DB{db: db, dialect: d}, nil
}

// Close 释放连接池。
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Driver 返回当前使用的驱动名。
func (d *DB) Driver() string { return d.dialect.name }

// SQL 返回底层连接池，供需要原生查询的模块使用。
func (d *DB) SQL() *sql.DB { return d.db }

// From 在 table 上开始一次链式查询。
func (d *DB) From(table string) *Query {
	return &Query{db: d, table: table}
}

// Insert 插入一行并返回自增主键。唯一约束冲突返回 CONFLICT。
func (d *DB) Insert(ctx context.Context, table string, values Row) (int64, error) {
	if err := validIdentifier(table); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "插入的数据不能为空")
	}
	columns := values.Columns()
	quoted := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, col := range columns {
		if err := validIdentifier(col); err != nil {
			return 0, err
		}
		quoted[i] = d.dialect.quote(col)
		args[i] = toDB(values[col])
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.dialect.quote(table), strings.Join(quoted, ", "), placeholders(len(columns)))

	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		if d.dialect.isDuplicate(err) {
			return 0, xerrors.Wrap(xerrors.CodeConflict, err, fmt.Sprintf("%s 中已存在相同记录", table))
		}
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("写入 %s 失败", table))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取自增ID失败")
	}
	return id, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

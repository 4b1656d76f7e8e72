package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	xerrors "OpenChat-Bot/internal/errors"
)

// DateTimeFormat 是时间值写入数据库时使用的格式。
const DateTimeFormat = "2006-01-02 15:04:05"

// Row 是一行数据，键为列名。
type Row map[string]any

// Columns 返回排序后的列名。
func (r Row) Columns() []string {
	cols := make([]string, 0, len(r))
	for col := range r {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// String 以字符串读取列值，NULL 返回空串。
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Int 以整数读取列值。
func (r Row) Int(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

// IsNull 判断列值是否为 NULL。
func (r Row) IsNull(col string) bool {
	return r[col] == nil
}

type condition struct {
	column     string
	comparator string
	value      any
	connector  string
}

// Query 是链式构造的查询。条件按书写顺序拼接，AND 的优先级高于 OR。
type Query struct {
	db         *DB
	table      string
	conditions []condition
	limit      int
	random     bool
	orderBy    string
	desc       bool
}

// Where 添加一个相等条件；value 为 nil 时生成 IS NULL。
func (q *Query) Where(column string, value any) *Query {
	return q.add(column, "=", value, "AND")
}

// WhereOp 添加一个使用指定比较符的条件。
func (q *Query) WhereOp(column, comparator string, value any) *Query {
	return q.add(column, comparator, value, "AND")
}

// And 是 Where 的别名，便于阅读。
func (q *Query) And(column string, value any) *Query {
	return q.add(column, "=", value, "AND")
}

// Or 以 OR 连接一个相等条件。
func (q *Query) Or(column string, value any) *Query {
	return q.add(column, "=", value, "OR")
}

func (q *Query) add(column, comparator string, value any, connector string) *Query {
	q.conditions = append(q.conditions, condition{column: column, comparator: comparator, value: value, connector: connector})
	return q
}

// Limit 限制返回的行数。
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Random 以随机顺序返回结果。
func (q *Query) Random() *Query {
	q.random = true
	return q
}

// OrderBy 按列排序。
func (q *Query) OrderBy(column string, desc bool) *Query {
	q.orderBy = column
	q.desc = desc
	return q
}

var comparators = map[string]bool{
	"=": true, "!=": true, "<>": true, "<": true, "<=": true, ">": true, ">=": true, "LIKE": true,
}

func (q *Query) where() (string, []any, error) {
	if len(q.conditions) == 0 {
		return "", nil, nil
	}
	var b strings.Builder
	var args []any
	b.WriteString(" WHERE ")
	for i, c := range q.conditions {
		if err := validIdentifier(c.column); err != nil {
			return "", nil, err
		}
		cmp := strings.ToUpper(c.comparator)
		if !comparators[cmp] {
			return "", nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的比较符: %s", c.comparator))
		}
		if i > 0 {
			b.WriteString(" " + c.connector + " ")
		}
		b.WriteString(q.db.dialect.quote(c.column))
		switch {
		case c.value == nil && cmp == "=":
			b.WriteString(" IS NULL")
		case c.value == nil && (cmp == "!=" || cmp == "<>"):
			b.WriteString(" IS NOT NULL")
		default:
			b.WriteString(" " + cmp + " ?")
			args = append(args, toDB(c.value))
		}
	}
	return b.String(), args, nil
}

func (q *Query) tail() (string, error) {
	var b strings.Builder
	switch {
	case q.random:
		b.WriteString(" ORDER BY " + q.db.dialect.random)
	case q.orderBy != "":
		if err := validIdentifier(q.orderBy); err != nil {
			return "", err
		}
		b.WriteString(" ORDER BY " + q.db.dialect.quote(q.orderBy))
		if q.desc {
			b.WriteString(" DESC")
		}
	}
	if q.limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(q.limit))
	}
	return b.String(), nil
}

// Get 执行查询并返回所有行；fields 为空时选择全部列。
func (q *Query) Get(ctx context.Context, fields ...string) ([]Row, error) {
	if err := validIdentifier(q.table); err != nil {
		return nil, err
	}
	selection := "*"
	if len(fields) > 0 {
		for _, f := range fields {
			if err := validIdentifier(f); err != nil {
				return nil, err
			}
		}
		selection = q.db.quoteList(fields)
	}
	where, args, err := q.where()
	if err != nil {
		return nil, err
	}
	tail, err := q.tail()
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s%s%s", selection, q.db.dialect.quote(q.table), where, tail)

	rows, err := q.db.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("查询 %s 失败", q.table))
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取列信息失败")
	}
	var result []Row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析查询结果失败")
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = fromDB(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历查询结果失败")
	}
	return result, nil
}

// Single 返回第一行，没有结果时 ok 为 false。
func (q *Query) Single(ctx context.Context, fields ...string) (Row, bool, error) {
	q.limit = 1
	rows, err := q.Get(ctx, fields...)
	if err != nil || len(rows) == 0 {
		return nil, false, err
	}
	return rows[0], true, nil
}

// Exists 判断是否存在满足条件的行。
func (q *Query) Exists(ctx context.Context) (bool, error) {
	_, ok, err := q.Single(ctx)
	return ok, err
}

// Insert 向查询所在的表插入一行。
func (q *Query) Insert(ctx context.Context, values Row) (int64, error) {
	return q.db.Insert(ctx, q.table, values)
}

// Delete 删除满足条件的行并返回删除数量。
func (q *Query) Delete(ctx context.Context) (int64, error) {
	if err := validIdentifier(q.table); err != nil {
		return 0, err
	}
	where, args, err := q.where()
	if err != nil {
		return 0, err
	}
	stmt := fmt.Sprintf("DELETE FROM %s%s", q.db.dialect.quote(q.table), where)
	res, err := q.db.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("删除 %s 失败", q.table))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	return n, nil
}

func toDB(value any) any {
	switch v := value.(type) {
	case bool:
		if v {
			return int64(1)
		}
		return int64(0)
	case time.Time:
		return v.UTC().Format(DateTimeFormat)
	default:
		return value
	}
}

func fromDB(value any) any {
	if b, ok := value.([]byte); ok {
		return string(b)
	}
	return value
}

package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	xerrors "OpenChat-Bot/internal/errors"
)

// ColumnType 是与具体数据库无关的列类型。
type ColumnType string

const (
	TypeInt      ColumnType = "int"
	TypeUInt     ColumnType = "uint"
	TypeBool     ColumnType = "bool"
	TypeString   ColumnType = "string"
	TypeDate     ColumnType = "date"
	TypeDateTime ColumnType = "datetime"
	TypeBinary   ColumnType = "binary"
)

// Column 描述一列。Primary 列总是自增整数主键。
type Column struct {
	Name    string
	Type    ColumnType
	Primary bool
	NotNull bool
	Unique  bool
	Index   bool
	Default any
}

// ID 返回常用的自增主键列。
func ID() Column {
	return Column{Name: "id", Type: TypeInt, Primary: true}
}

// Index 描述一个（可能是多列的）索引。
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// Table 描述一张表的结构。
type Table struct {
	Name    string
	Columns []Column
	Indices []Index
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("非法的标识符: %q", name))
	}
	return nil
}

// CreateTable 在表不存在时创建表及其索引。列上的 Index/Unique 标记会展开为单列索引。
func (d *DB) CreateTable(ctx context.Context, table Table) error {
	if err := validIdentifier(table.Name); err != nil {
		return err
	}
	if len(table.Columns) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("表 %s 没有定义任何列", table.Name))
	}

	indices := append([]Index(nil), table.Indices...)
	defs := make([]string, 0, len(table.Columns)+len(indices))
	for _, col := range table.Columns {
		def, err := d.columnDefinition(col)
		if err != nil {
			return err
		}
		defs = append(defs, def)
		if col.Unique {
			indices = append(indices, Index{Columns: []string{col.Name}, Unique: true})
		} else if col.Index {
			indices = append(indices, Index{Columns: []string{col.Name}})
		}
	}

	for i := range indices {
		if indices[i].Name == "" {
			indices[i].Name = "idx_" + table.Name + "_" + strings.Join(indices[i].Columns, "_")
		}
		if err := validIdentifier(indices[i].Name); err != nil {
			return err
		}
		for _, col := range indices[i].Columns {
			if err := validIdentifier(col); err != nil {
				return err
			}
		}
	}

	if d.dialect.inlineIndex {
		for _, idx := range indices {
			defs = append(defs, d.indexClause(idx))
		}
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.dialect.quote(table.Name), strings.Join(defs, ", "))
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("创建表 %s 失败", table.Name))
	}

	if !d.dialect.inlineIndex {
		for _, idx := range indices {
			unique := ""
			if idx.Unique {
				unique = "UNIQUE "
			}
			stmt := fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
				unique, d.dialect.quote(idx.Name), d.dialect.quote(table.Name), d.quoteList(idx.Columns))
			if _, err := d.db.ExecContext(ctx, stmt); err != nil {
				return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("创建索引 %s 失败", idx.Name))
			}
		}
	}
	return nil
}

func (d *DB) columnDefinition(col Column) (string, error) {
	if err := validIdentifier(col.Name); err != nil {
		return "", err
	}
	if col.Primary {
		return d.dialect.quote(col.Name) + " " + d.dialect.primaryKey, nil
	}
	typ, ok := d.dialect.types[col.Type]
	if !ok {
		return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("列 %s 的类型 %q 不受支持", col.Name, col.Type))
	}
	def := d.dialect.quote(col.Name) + " " + typ
	if col.NotNull {
		def += " NOT NULL"
	}
	if col.Default != nil {
		def += " DEFAULT " + literal(col.Default)
	}
	return def, nil
}

func (d *DB) indexClause(idx Index) string {
	kind := "INDEX"
	if idx.Unique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf("%s %s (%s)", kind, d.dialect.quote(idx.Name), d.quoteList(idx.Columns))
}

func (d *DB) quoteList(columns []string) string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = d.dialect.quote(col)
	}
	return strings.Join(quoted, ", ")
}

func literal(value any) string {
	switch v := toDB(value).(type) {
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case nil:
		return "NULL"
	default:
		return fmt.Sprint(v)
	}
}

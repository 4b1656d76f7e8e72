package storage

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type dialect struct {
	name         string
	driverName   string
	maxOpenConns int
	quoteChar    string
	random       string
	primaryKey   string
	types        map[ColumnType]string
	inlineIndex  bool
	isDuplicate  func(error) bool
}

func (d dialect) quote(identifier string) string {
	return d.quoteChar + identifier + d.quoteChar
}

var dialects = map[string]dialect{
	"sqlite": {
		name:         "sqlite",
		driverName:   "sqlite",
		maxOpenConns: 1,
		quoteChar:    `"`,
		random:       "RANDOM()",
		primaryKey:   "INTEGER PRIMARY KEY AUTOINCREMENT",
		types: map[ColumnType]string{
			TypeInt:      "INTEGER",
			TypeUInt:     "INTEGER",
			TypeBool:     "INTEGER",
			TypeString:   "TEXT",
			TypeDate:     "TEXT",
			TypeDateTime: "TEXT",
			TypeBinary:   "BLOB",
		},
		isDuplicate: func(err error) bool {
			var sqliteErr *sqlite.Error
			if errors.As(err, &sqliteErr) {
				code := sqliteErr.Code()
				return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
			}
			return strings.Contains(err.Error(), "UNIQUE constraint failed")
		},
	},
	"mysql": {
		name:         "mysql",
		driverName:   "mysql",
		maxOpenConns: 20,
		quoteChar:    "`",
		random:       "RAND()",
		primaryKey:   "BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY",
		types: map[ColumnType]string{
			TypeInt:      "BIGINT",
			TypeUInt:     "BIGINT UNSIGNED",
			TypeBool:     "TINYINT(1)",
			TypeString:   "VARCHAR(255)",
			TypeDate:     "DATE",
			TypeDateTime: "DATETIME",
			TypeBinary:   "BLOB",
		},
		inlineIndex: true,
		isDuplicate: func(err error) bool {
			var mysqlErr *mysql.MySQLError
			return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
		},
	},
}

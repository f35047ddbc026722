package db

// Dialect names the SQL flavour behind a Handle.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// LockClause returns the suffix that takes a row-level write lock in a
// SELECT. SQLite has no row locks; immediate transactions (see DSN) hold the
// database write lock for the whole transaction instead.
func (d Dialect) LockClause() string {
	switch d {
	case DialectPostgres, DialectMySQL:
		return " FOR UPDATE"
	default:
		return ""
	}
}

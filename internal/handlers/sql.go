package handlers

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/ppiankov/sinkguard/internal/hook"
	"github.com/ppiankov/sinkguard/internal/model"
)

// UnknownDialect is reported when the driver cannot be identified.
const UnknownDialect = "unknown"

// Query is the argument of an intercepted SQL operation.
type Query struct {
	SQL     string
	Dialect string
	// Module labels the calling layer, such as "database/sql".
	Module  string
	Params  []any
}

// SQLPre records the query text and dialect. Args[0] is a Query or a plain
// query string.
func SQLPre(c *hook.Call) (model.EventKind, error) {
	var q Query
	switch v := c.Arg(0).(type) {
	case Query:
		q = v
	case *Query:
		if v == nil {
			return model.EventNone, fmt.Errorf("handlers: nil query")
		}
		q = *v
	case string:
		q = Query{SQL: v}
	default:
		return model.EventNone, fmt.Errorf("handlers: query argument is %T", v)
	}
	if q.SQL == "" {
		return model.EventNone, nil
	}
	if q.Dialect == "" {
		q.Dialect = UnknownDialect
	}

	c.Event.SQLQuery = q.SQL
	c.Event.SQLDialect = q.Dialect
	c.Event.ModuleName = q.Module
	if len(q.Params) > 0 {
		c.Event.SQLParams = make([]string, len(q.Params))
		for i, p := range q.Params {
			c.Event.SQLParams[i] = fmt.Sprint(p)
		}
	}
	return model.EventPreSQLQueryExecuted, nil
}

var driverDialects = []struct {
	match, dialect string
}{
	{"pgx", "postgres"},
	{"pq.", "postgres"},
	{"postgres", "postgres"},
	{"mysql", "mysql"},
	{"sqlite", "sqlite"},
	{"mssql", "mssql"},
	{"sqlserver", "mssql"},
	{"clickhouse", "clickhouse"},
}

// DialectOf guesses the SQL dialect from a database/sql driver type.
func DialectOf(drv driver.Driver) string {
	if drv == nil {
		return UnknownDialect
	}
	name := strings.ToLower(fmt.Sprintf("%T", drv))
	for _, d := range driverDialects {
		if strings.Contains(name, d.match) {
			return d.dialect
		}
	}
	return UnknownDialect
}

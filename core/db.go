package core

import (
	"context"
	"database/sql"
	"strings"
)

// DBExecutor is satisfied by both *sql.DB & *sql.Tx.
type DBExecutor interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// ParseOrdering parses a comma separated list of fields, "-" prefixed for descending order.
// eg. "semester,-marks_obtained"
func ParseOrdering(val string) []DBOrdering {
	var orderings []DBOrdering
	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		orderings = append(orderings, DBOrdering{Field: field, Ascending: !descending})
	}
	return orderings
}

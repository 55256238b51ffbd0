package store

import (
	"database/sql"
	"strings"

	"github.com/lib/pq"
)

// pqArray wraps a *[]string for scanning a text[] column.
func pqArray(dest *[]string) sql.Scanner {
	return pq.Array(dest)
}

// prefixedDocumentColumns qualifies every document column with a table
// alias, for queries that join tables with overlapping column names.
func prefixedDocumentColumns(alias string) string {
	cols := strings.Split(documentColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

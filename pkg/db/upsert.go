package db

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Upsert inserts a row into the table, or updates rows matching where clause if it is not empty.
// Field names must match table columns, values are always bound. The where clause is passed as is,
// whereArgs are bound after the field values, passing them with empty where is an error.
// For date and datetime columns a value made of digits only is treated as unix timestamp and formatted
// to the column's format in the connection location.
func (c *Conn) Upsert(ctx context.Context, table string, fields map[string]any, where string, whereArgs ...any) error {
	if !reIdentifier.MatchString(table) {
		return &InvalidIdentifierError{Name: table}
	}
	if where == "" && len(whereArgs) > 0 {
		return ErrWhereArgsWithoutWhere
	}
	cols, err := c.TableMeta(ctx, table)
	if err != nil {
		return err
	}

	known := make(map[string]Column, len(cols))
	for _, col := range cols {
		known[col.Name] = col
	}
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		if _, ok := known[name]; !ok {
			return &InvalidColumnError{Table: table, Column: name}
		}
	}
	if len(fields) == 0 {
		return ErrEmptyFieldSet
	}

	// columns go in table order to keep generated sql stable
	names := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+len(whereArgs))
	for _, col := range cols {
		v, ok := fields[col.Name]
		if !ok {
			continue
		}
		names = append(names, "`"+col.Name+"`")
		args = append(args, c.coerce(col, v))
	}

	var query string
	if where == "" {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteTable(table), strings.Join(names, ", "), placeholders)
	} else {
		query = fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s", quoteTable(table), strings.Join(names, " = ?, "), where)
		args = append(args, whereArgs...)
	}

	if _, err := c.Exec(ctx, query, args...); err != nil {
		return err
	}
	return nil
}

// coerce reformats unix timestamp for date and datetime columns, other values returned as is
func (c *Conn) coerce(col Column, v any) any {
	if col.Kind != KindDate && col.Kind != KindDateTime {
		return v
	}
	ts, ok := unixTimestamp(v)
	if !ok {
		return v
	}
	t := time.Unix(ts, 0).In(c.loc)
	if col.Kind == KindDate {
		return t.Format(time.DateOnly)
	}
	return t.Format(time.DateTime)
}

// unixTimestamp returns value as int64 if its textual form is digits only
func unixTimestamp(v any) (int64, bool) {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case []byte:
		s = string(val)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		s = fmt.Sprint(val)
	default:
		return 0, false
	}
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

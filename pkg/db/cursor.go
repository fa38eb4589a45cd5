package db

import (
	"github.com/jmoiron/sqlx"
)

// Cursor is a forward-only view over rows of a single executed statement.
// Caller must close it unless it was drained by one of the Fetch* helpers of Conn.
type Cursor struct {
	rows  *sqlx.Rows
	query string // final sql text, used for error reporting
	cols  []string
	done  bool // current result set exhausted
}

func newCursor(rows *sqlx.Rows, query string) (*Cursor, error) {
	res := &Cursor{rows: rows, query: query}
	if err := res.loadColumns(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	return res, nil
}

// Fetch advances to the next row and returns it in the requested shape.
// Returns false once the current result set is exhausted, repeated calls keep returning false with no error.
func (c *Cursor) Fetch(mode Mode) (Row, bool, error) {
	if c.done {
		return Row{}, false, nil
	}
	if !c.rows.Next() {
		c.done = true
		if err := c.rows.Err(); err != nil {
			return Row{}, false, newQueryError(c.query, err)
		}
		return Row{}, false, nil
	}
	vals, err := c.rows.SliceScan()
	if err != nil {
		c.done = true
		return Row{}, false, newQueryError(c.query, err)
	}
	return makeRow(c.cols, vals, mode), true, nil
}

// NextResultSet switches to the next result set, used for stored procedures returning more than one.
// Returns false if there are no more result sets.
func (c *Cursor) NextResultSet() bool {
	if !c.rows.NextResultSet() {
		return false
	}
	c.done = false
	if err := c.loadColumns(); err != nil {
		c.done = true
		return false
	}
	return true
}

// Columns returns column names of the current result set, as reported by the server.
func (c *Cursor) Columns() []string {
	return append([]string{}, c.cols...)
}

// Close releases the underlying rows. Safe to call more than once.
func (c *Cursor) Close() error {
	return c.rows.Close()
}

func (c *Cursor) loadColumns() error {
	cols, err := c.rows.Columns()
	if err != nil {
		return newQueryError(c.query, err)
	}
	c.cols = cols
	return nil
}

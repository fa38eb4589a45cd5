// Package db is a thin convenience layer over a single MySQL session. It runs parameterized sql with {name}
// table prefix substitution and shapes results into rows, maps, columns and scalars. Table metadata is
// introspected on demand and cached, and Upsert builds INSERT or UPDATE statements from a field map.
//
// Conn is not safe for concurrent use, it keeps a single pinned session and caller should not run overlapping
// statements. Use a separate Conn for each goroutine.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// Conn is a database session with table prefix, result helpers and metadata cache
type Conn struct {
	db     *sqlx.DB
	sess   *sqlx.Conn
	ownDB  bool // db opened by Open and closed by Close
	prefix string
	loc    *time.Location
	meta   *MetaCache

	mu                 sync.Mutex
	affectedRows       int64
	lastInsertID       int64
	noBackslashEscapes bool // session sql_mode has NO_BACKSLASH_ESCAPES
}

// Result of a write statement
type Result struct {
	RowsAffected int64
	LastInsertID int64
}

// Option func type
type Option func(c *Conn)

// WithPrefix sets table prefix substituted for {name} tokens
func WithPrefix(prefix string) Option {
	return func(c *Conn) { c.prefix = prefix }
}

// WithLocation sets location used to format unix timestamps for date and datetime columns. Default is UTC.
func WithLocation(loc *time.Location) Option {
	return func(c *Conn) {
		if loc != nil {
			c.loc = loc
		}
	}
}

var rePrefixToken = regexp.MustCompile(`\{(\w+)\}`)

// Open connects to mysql with the given dsn and pins a single session.
func Open(ctx context.Context, dsn string, opts ...Option) (*Conn, error) {
	sdb, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, &ConnectionError{Addr: dsnAddr(dsn), Err: err}
	}
	res, err := New(ctx, sdb, opts...)
	if err != nil {
		_ = sdb.Close()
		var connErr *ConnectionError
		if errors.As(err, &connErr) {
			connErr.Addr = dsnAddr(dsn)
		}
		return nil, err
	}
	res.ownDB = true
	return res, nil
}

// New makes Conn on top of existing db handle. A single session taken from db is used for all statements,
// so LastInsertID and session variables behave as with a dedicated connection.
func New(ctx context.Context, sdb *sqlx.DB, opts ...Option) (*Conn, error) {
	res := &Conn{db: sdb, loc: time.UTC, meta: NewMetaCache()}
	for _, opt := range opts {
		opt(res)
	}
	if err := sdb.PingContext(ctx); err != nil {
		return nil, &ConnectionError{Err: err}
	}
	sess, err := sdb.Connx(ctx)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	res.sess = sess
	if err := res.loadSQLMode(ctx); err != nil {
		_ = sess.Close()
		return nil, &ConnectionError{Err: err}
	}
	log.Printf("[DEBUG] db session started, prefix %q", res.prefix)
	return res, nil
}

// Close releases the session, and the db handle if it was made by Open
func (c *Conn) Close() error {
	err := c.sess.Close()
	if c.ownDB {
		if e := c.db.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// Prefix returns table prefix
func (c *Conn) Prefix() string { return c.prefix }

// Query runs a row-returning statement and returns cursor over its rows. Caller must close the cursor.
// Counters of affected rows and last insert id are reset to 0, Fetch* helpers set affected rows to the
// number of rows they read.
func (c *Conn) Query(ctx context.Context, query string, args ...any) (*Cursor, error) {
	q := c.rewrite(query)
	log.Printf("[DEBUG] query %q, args %d", q, len(args))
	c.setCounters(0, 0)
	rows, err := c.sess.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, newQueryError(q, err)
	}
	return newCursor(rows, q)
}

// Exec runs a statement returning no rows and records affected rows and last insert id.
func (c *Conn) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	q := c.rewrite(query)
	log.Printf("[DEBUG] exec %q, args %d", q, len(args))
	c.setCounters(0, 0)
	res, err := c.sess.ExecContext(ctx, q, args...)
	if err != nil {
		return Result{}, newQueryError(q, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Result{}, newQueryError(q, err)
	}
	lastID, err := res.LastInsertId()
	if err != nil {
		return Result{}, newQueryError(q, err)
	}
	c.setCounters(affected, lastID)
	if strings.Contains(strings.ToLower(q), "sql_mode") {
		if err := c.loadSQLMode(ctx); err != nil {
			return Result{}, newQueryError(q, err)
		}
	}
	return Result{RowsAffected: affected, LastInsertID: lastID}, nil
}

// FetchAll returns all rows in order
func (c *Conn) FetchAll(ctx context.Context, query string, args ...any) ([]Row, error) {
	res := []Row{}
	err := c.each(ctx, ModeAssoc, query, args, func(r Row) bool {
		res = append(res, r)
		return true
	})
	return res, err
}

// FetchRow returns the first row with lowercased column names, or empty Row if nothing found
func (c *Conn) FetchRow(ctx context.Context, query string, args ...any) (Row, error) {
	return c.FetchRowMode(ctx, ModeAssoc, query, args...)
}

// FetchRowMode returns the first row in the given mode, or empty Row if nothing found
func (c *Conn) FetchRowMode(ctx context.Context, mode Mode, query string, args ...any) (Row, error) {
	res := Row{}
	err := c.each(ctx, mode, query, args, func(r Row) bool {
		res = r
		return false
	})
	return res, err
}

// FetchAssoc returns map keyed by the first column of each row. If only one more column left,
// the value is this column's value, otherwise it is a Row with the rest of the columns.
// Rows with the same key overwrite earlier ones, the last row wins.
func (c *Conn) FetchAssoc(ctx context.Context, query string, args ...any) (map[string]any, error) {
	res := map[string]any{}
	err := c.each(ctx, ModeAssoc, query, args, func(r Row) bool {
		key, rest := r.shift()
		if rest.Len() == 1 {
			res[assocKey(key)] = rest.Values[0]
			return true
		}
		res[assocKey(key)] = rest
		return true
	})
	return res, err
}

// FetchColumn returns values of the first column of all rows
func (c *Conn) FetchColumn(ctx context.Context, query string, args ...any) ([]any, error) {
	res := []any{}
	err := c.each(ctx, ModePositional, query, args, func(r Row) bool {
		if r.Len() > 0 {
			res = append(res, r.Values[0])
		}
		return true
	})
	return res, err
}

// FetchScalar returns the first column of the first row. ok is false if query returned no rows,
// which is different from a row with zero or NULL value.
func (c *Conn) FetchScalar(ctx context.Context, query string, args ...any) (val any, ok bool, err error) {
	err = c.each(ctx, ModePositional, query, args, func(r Row) bool {
		if r.Len() > 0 {
			val, ok = r.Values[0], true
		}
		return false
	})
	return val, ok, err
}

// AffectedRows returns number of rows affected by the most recent statement
func (c *Conn) AffectedRows() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.affectedRows
}

// LastInsertID returns auto-increment id generated by the most recent statement
func (c *Conn) LastInsertID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastInsertID
}

// Named converts query with :name placeholders and a map of values to query with ? placeholders
// and an ordered list of args, ready for any of Conn methods.
func Named(query string, arg map[string]any) (string, []any, error) {
	q, args, err := sqlx.Named(query, arg)
	if err != nil {
		return "", nil, fmt.Errorf("can't bind named args: %w", err)
	}
	return q, args, nil
}

// Quote makes a quoted mysql string literal for this session. Intended for rare cases when a value has to be
// embedded into sql text, use bind args otherwise. With NO_BACKSLASH_ESCAPES in session sql_mode only quotes
// are doubled, as backslash is a regular character there.
func (c *Conn) Quote(s string) string {
	c.mu.Lock()
	noBackslash := c.noBackslashEscapes
	c.mu.Unlock()
	return quote(s, noBackslash)
}

// quote escapes the same way the mysql driver does for client-side interpolation
func quote(s string, noBackslashEscapes bool) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if noBackslashEscapes {
			if ch == '\'' {
				sb.WriteByte('\'')
			}
			sb.WriteByte(ch)
			continue
		}
		switch ch {
		case 0:
			sb.WriteString(`\0`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\x1a':
			sb.WriteString(`\Z`)
		case '\'':
			sb.WriteString(`\'`)
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		default:
			sb.WriteByte(ch)
		}
	}
	sb.WriteByte('\'')
	return sb.String()
}

// loadSQLMode reads session sql_mode, Quote depends on it
func (c *Conn) loadSQLMode(ctx context.Context) error {
	var mode sql.NullString
	if err := c.sess.QueryRowxContext(ctx, "SELECT @@SESSION.sql_mode").Scan(&mode); err != nil {
		return fmt.Errorf("can't read sql_mode: %w", err)
	}
	noBackslash := false
	for _, m := range strings.Split(mode.String, ",") {
		if strings.EqualFold(strings.TrimSpace(m), "NO_BACKSLASH_ESCAPES") {
			noBackslash = true
		}
	}
	c.mu.Lock()
	c.noBackslashEscapes = noBackslash
	c.mu.Unlock()
	return nil
}

// each runs query and calls fn for every row until fn returns false or rows exhausted
func (c *Conn) each(ctx context.Context, mode Mode, query string, args []any, fn func(Row) bool) error {
	cur, err := c.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer cur.Close()
	var count int64
	for {
		r, ok, err := cur.Fetch(mode)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		count++
		if !fn(r) {
			break
		}
	}
	c.setCounters(count, 0)
	return nil
}

// rewrite replaces {name} tokens with prefix+name
func (c *Conn) rewrite(query string) string {
	return rePrefixToken.ReplaceAllStringFunc(query, func(tok string) string {
		return c.prefix + tok[1:len(tok)-1]
	})
}

func (c *Conn) setCounters(affected, lastID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.affectedRows, c.lastInsertID = affected, lastID
}

// assocKey makes map key from a column value, NULL becomes an empty string
func assocKey(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// dsnAddr extracts address from dsn, without credentials
func dsnAddr(dsn string) string {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "mysql"
	}
	return cfg.Addr
}

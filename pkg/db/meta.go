package db

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
)

// Kind is a category of column's declared type, used to decide on value reformatting
type Kind int

// enum of column kinds
const (
	KindOther Kind = iota
	KindDate
	KindDateTime
)

// String returns kind name
func (k Kind) String() string {
	switch k {
	case KindDate:
		return "date"
	case KindDateTime:
		return "datetime"
	}
	return "other"
}

// MarshalYAML renders kind by name
func (k Kind) MarshalYAML() (any, error) {
	return k.String(), nil
}

// Column is a single column record from table metadata
type Column struct {
	Name     string  `yaml:"name"`
	Type     string  `yaml:"type"` // declared type as reported by server, i.e. "datetime(3)" or "int unsigned"
	Kind     Kind    `yaml:"kind"`
	Nullable bool    `yaml:"nullable"`
	Key      string  `yaml:"key"`
	Default  *string `yaml:"default"`
	Extra    string  `yaml:"extra"`
}

var reIdentifier = regexp.MustCompile(`^[A-Za-z0-9_{}.]+$`)

// MetaCache keeps table metadata keyed by the table name as passed by caller, with unresolved prefix token.
// Entries never expire, use Invalidate or Reset after schema changes.
type MetaCache struct {
	mu     sync.RWMutex
	tables map[string][]Column
}

// NewMetaCache makes an empty cache
func NewMetaCache() *MetaCache {
	return &MetaCache{tables: make(map[string][]Column)}
}

// Get returns a copy of cached columns. The second value reports presence, a table with no columns is still present.
func (m *MetaCache) Get(table string) ([]Column, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cols, ok := m.tables[table]
	if !ok {
		return nil, false
	}
	return append([]Column{}, cols...), true
}

// Set stores columns for the table
func (m *MetaCache) Set(table string, cols []Column) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table] = append([]Column{}, cols...)
}

// Invalidate drops the table from the cache
func (m *MetaCache) Invalidate(table string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tables, table)
}

// Reset drops all cached tables
func (m *MetaCache) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables = make(map[string][]Column)
}

// TableMeta returns ordered column metadata for the table. Table name can be "schema.table" and may contain
// {name} prefix tokens. Results are cached for the lifetime of the connection.
func (c *Conn) TableMeta(ctx context.Context, table string) ([]Column, error) {
	if !reIdentifier.MatchString(table) {
		return nil, &InvalidIdentifierError{Name: table}
	}
	if cols, ok := c.meta.Get(table); ok {
		return cols, nil
	}

	rows, err := c.FetchAll(ctx, "SHOW COLUMNS FROM "+quoteTable(table))
	if err != nil {
		return nil, fmt.Errorf("can't load metadata for %s: %w", table, err)
	}
	cols := make([]Column, 0, len(rows))
	for _, r := range rows {
		cols = append(cols, columnFromRow(r))
	}
	c.meta.Set(table, cols)
	log.Printf("[DEBUG] loaded metadata for %s, %d columns", table, len(cols))
	return append([]Column{}, cols...), nil
}

// InvalidateMeta drops cached metadata of the table
func (c *Conn) InvalidateMeta(table string) { c.meta.Invalidate(table) }

// ResetMeta drops all cached metadata
func (c *Conn) ResetMeta() { c.meta.Reset() }

// quoteTable wraps each part of a dotted name in backticks. Name must be validated by caller.
func quoteTable(table string) string {
	return "`" + strings.ReplaceAll(table, ".", "`.`") + "`"
}

// columnFromRow makes Column from SHOW COLUMNS row fetched with lowercased names
func columnFromRow(r Row) Column {
	str := func(name string) string {
		v, ok := r.Get(name)
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprint(v)
	}

	res := Column{
		Name:     str("field"),
		Type:     str("type"),
		Nullable: strings.EqualFold(str("null"), "YES"),
		Key:      str("key"),
		Extra:    str("extra"),
	}
	if v, ok := r.Get("default"); ok && v != nil {
		def := fmt.Sprint(v)
		res.Default = &def
	}
	res.Kind = kindOf(res.Type)
	return res
}

// kindOf maps declared type to Kind, ignoring size and modifiers, i.e. "datetime(6)" is KindDateTime
func kindOf(typ string) Kind {
	base := strings.ToLower(strings.TrimSpace(typ))
	if i := strings.IndexAny(base, "( "); i >= 0 {
		base = base[:i]
	}
	switch base {
	case "date":
		return KindDate
	case "datetime", "timestamp":
		return KindDateTime
	}
	return KindOther
}

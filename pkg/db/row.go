package db

import "strings"

// Mode defines the shape of fetched rows
type Mode int

// enum of all fetch modes
const (
	ModeAssoc         Mode = iota // named columns, names lowercased
	ModeAssocKeepCase             // named columns, names as reported by the server
	ModePositional                // values only, no names
)

// Row is a single fetched record. Names is nil for rows fetched in ModePositional.
type Row struct {
	Names  []string
	Values []any
}

// Len returns number of columns in the row
func (r Row) Len() int { return len(r.Values) }

// Empty returns true for the row with no columns, i.e. "no row" result of FetchRow.
func (r Row) Empty() bool { return len(r.Values) == 0 }

// Get returns value of the named column. Names matched exactly, rows fetched with ModeAssoc have lowercased names.
func (r Row) Get(name string) (any, bool) {
	for i, n := range r.Names {
		if n == name {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Map returns row as a map of column name to value. Duplicate names keep the last value.
// Positional rows return nil.
func (r Row) Map() map[string]any {
	if r.Names == nil {
		return nil
	}
	res := make(map[string]any, len(r.Names))
	for i, n := range r.Names {
		res[n] = r.Values[i]
	}
	return res
}

// shift removes the first column and returns it with the rest of the row
func (r Row) shift() (first any, rest Row) {
	if len(r.Values) == 0 {
		return nil, Row{}
	}
	rest = Row{Values: r.Values[1:]}
	if r.Names != nil {
		rest.Names = r.Names[1:]
	}
	return r.Values[0], rest
}

func makeRow(cols []string, vals []any, mode Mode) Row {
	res := Row{Values: make([]any, len(vals))}
	for i, v := range vals {
		if b, ok := v.([]byte); ok {
			v = string(b) // text columns come as bytes, surface them as strings
		}
		res.Values[i] = v
	}
	switch mode {
	case ModePositional:
		return res
	case ModeAssocKeepCase:
		res.Names = append([]string{}, cols...)
	default:
		res.Names = make([]string, len(cols))
		for i, c := range cols {
			res.Names[i] = strings.ToLower(c)
		}
	}
	return res
}

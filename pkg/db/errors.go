package db

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// ErrEmptyFieldSet returned by Upsert when there is nothing to insert or update.
var ErrEmptyFieldSet = errors.New("zero columns to insert/update")

// ErrWhereArgsWithoutWhere returned by Upsert when where args passed with empty where clause
var ErrWhereArgsWithoutWhere = errors.New("where args passed without where clause")

// ConnectionError is returned when the database session can't be established.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("can't connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError is returned when the driver reports a failure for a statement.
// Query is the final sql text, after prefix substitution.
type QueryError struct {
	Code     uint16 // mysql error number, 0 if the driver didn't report one
	SQLState string
	Message  string
	Query    string
	Err      error
}

func (e *QueryError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("query failed: %s - %s", e.Message, e.Query)
	}
	return fmt.Sprintf("query failed: %d %s %s - %s", e.Code, e.SQLState, e.Message, e.Query)
}

func (e *QueryError) Unwrap() error { return e.Err }

// InvalidIdentifierError is returned for table names not matching the safe identifier pattern.
type InvalidIdentifierError struct {
	Name string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid table name: %q", e.Name)
}

// InvalidColumnError is returned by Upsert for a field absent from the table metadata.
type InvalidColumnError struct {
	Table  string
	Column string
}

func (e *InvalidColumnError) Error() string {
	return fmt.Sprintf("invalid column %q for table %s", e.Column, e.Table)
}

// newQueryError makes QueryError from the driver's error, extracting mysql code and state if present
func newQueryError(query string, err error) *QueryError {
	res := &QueryError{Query: query, Message: err.Error(), Err: err}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		res.Code = myErr.Number
		res.Message = myErr.Message
		if myErr.SQLState != [5]byte{} {
			res.SQLState = string(myErr.SQLState[:])
		}
	}
	return res
}

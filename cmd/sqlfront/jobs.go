package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/umputun/sqlfront/pkg/db"
	"github.com/umputun/sqlfront/pkg/report"
	"github.com/umputun/sqlfront/pkg/runner"
)

// makeJob makes runner job for the cli command. Query results are written as yaml.
func makeJob(command string, opts options) (runner.Job, error) {
	switch command {
	case "all", "row", "assoc", "col", "one", "exec":
		return queryJob(command, opts)
	case "meta":
		table := opts.MetaCmd.PositionalArgs.Table
		return func(ctx context.Context, conn *db.Conn, out io.Writer) error {
			cols, err := conn.TableMeta(ctx, table)
			if err != nil {
				return err
			}
			return report.WriteYAML(out, cols)
		}, nil
	case "upsert":
		return upsertJob(opts.UpsertCmd), nil
	}
	return nil, fmt.Errorf("unknown command %q", command)
}

func queryJob(command string, opts options) (runner.Job, error) {
	var qc queryCmd
	switch command {
	case "all":
		qc = opts.AllCmd
	case "row":
		qc = opts.RowCmd
	case "assoc":
		qc = opts.AssocCmd
	case "col":
		qc = opts.ColCmd
	case "one":
		qc = opts.OneCmd
	case "exec":
		qc = opts.ExecCmd
	}

	query, args, err := bindArgs(qc.PositionalArgs.Query, qc.PositionalArgs.Binds, opts.NamedArgs)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, conn *db.Conn, out io.Writer) error {
		var res any
		var err error
		switch command {
		case "all":
			res, err = conn.FetchAll(ctx, query, args...)
		case "row":
			var row db.Row
			if row, err = conn.FetchRow(ctx, query, args...); err == nil && !row.Empty() {
				res = row
			}
		case "assoc":
			res, err = conn.FetchAssoc(ctx, query, args...)
		case "col":
			res, err = conn.FetchColumn(ctx, query, args...)
		case "one":
			var ok bool
			if res, ok, err = conn.FetchScalar(ctx, query, args...); err == nil && !ok {
				log.Printf("[DEBUG] no rows for %q", query)
				return nil // nothing printed, unlike null value
			}
		case "exec":
			var r db.Result
			if r, err = conn.Exec(ctx, query, args...); err == nil {
				res = map[string]any{"affected": r.RowsAffected, "last_insert_id": r.LastInsertID}
			}
		}
		if err != nil {
			return err
		}
		return report.WriteYAML(out, res)
	}, nil
}

func upsertJob(uc upsertCmd) runner.Job {
	fields := make(map[string]any, len(uc.Fields))
	for k, v := range uc.Fields {
		fields[k] = v
	}
	whereArgs := make([]any, 0, len(uc.WhereArgs))
	for _, v := range uc.WhereArgs {
		whereArgs = append(whereArgs, v)
	}
	table := uc.PositionalArgs.Table

	return func(ctx context.Context, conn *db.Conn, out io.Writer) error {
		if err := conn.Upsert(ctx, table, fields, uc.Where, whereArgs...); err != nil {
			return err
		}
		return report.WriteYAML(out, map[string]any{"affected": conn.AffectedRows(), "last_insert_id": conn.LastInsertID()})
	}
}

// bindArgs returns query and its bind values. Named arguments (:name) and positional ones are exclusive.
func bindArgs(query string, binds []string, named map[string]string) (string, []any, error) {
	if len(named) > 0 && len(binds) > 0 {
		return "", nil, errors.New("named and positional arguments can't be mixed")
	}
	if len(named) > 0 {
		arg := make(map[string]any, len(named))
		for k, v := range named {
			arg[k] = v
		}
		q, args, err := db.Named(query, arg)
		if err != nil {
			return "", nil, fmt.Errorf("can't bind named arguments: %w", err)
		}
		return q, args, nil
	}
	args := make([]any, 0, len(binds))
	for _, b := range binds {
		args = append(args, b)
	}
	return query, args, nil
}

// Package sqlxrepos implements the repositories on PostgreSQL with sqlx.
package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/ampayon/gradebook/core"
)

// DB wraps the connection pool and carries the running transaction through the context.
type DB struct {
	*sqlx.DB
}

var _ core.Transactor = (*DB)(nil)

func NewDB(db *sqlx.DB) *DB {
	return &DB{DB: db}
}

type txKey struct{}

func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if inTx(ctx) {
		return fn(ctx)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrapf(err, "rolling back transaction: %v", rbErr)
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	return ok
}

// ext returns the running transaction, or the pool outside of one.
func (db *DB) ext(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return db.DB
}

func (db *DB) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.GetContext(ctx, db.ext(ctx), dest, query, args...)
}

func (db *DB) selectAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, db.ext(ctx), dest, query, args...)
}

func (db *DB) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := db.ext(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) namedExec(ctx context.Context, query string, arg interface{}) (int64, error) {
	res, err := sqlx.NamedExecContext(ctx, db.ext(ctx), query, arg)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// exists runs a SELECT EXISTS(...) query.
func (db *DB) exists(ctx context.Context, query string, args ...interface{}) (bool, error) {
	var found bool
	err := db.get(ctx, &found, query, args...)
	return found, err
}

// where accumulates AND conditions with positional arguments.
type where struct {
	conds []string
	args  []interface{}
}

// add appends cond, replacing each ? with the next positional argument.
func (w *where) add(cond string, args ...interface{}) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	s := " WHERE " + w.conds[0]
	for _, c := range w.conds[1:] {
		s += " AND " + c
	}
	return s
}

// build rebinds ? placeholders to postgres $n placeholders, expanding IN (?) slices.
func build(query string, args ...interface{}) (string, []interface{}, error) {
	q, a, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, errors.Wrap(err, "building query")
	}
	return sqlx.Rebind(sqlx.DOLLAR, q), a, nil
}

// namedGet binds the :name parameters of query from arg and scans the single resulting row.
func (db *DB) namedGet(ctx context.Context, dest interface{}, query string, arg interface{}) error {
	q, args, err := sqlx.Named(query, arg)
	if err != nil {
		return errors.Wrap(err, "binding query")
	}
	return db.get(ctx, dest, sqlx.Rebind(sqlx.DOLLAR, q), args...)
}

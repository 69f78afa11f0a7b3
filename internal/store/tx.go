package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Tx wraps a *sql.Tx with the entity operations used inside a transaction
// scope. It is never held across a lock release; see WithTx.
type Tx struct {
	tx *sql.Tx
}

// WithTx begins a transaction, runs fn, and commits on success or rolls
// back on any error (including a panic, which it re-raises after
// rollback). This implements the "state transition plus its log entry in
// one transaction" atomicity rule of spec §5.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return newErr(KindInternal, "WithTx", fmt.Errorf("begin: %w", err))
	}

	tx := &Tx{tx: sqlTx}

	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rerr := sqlTx.Rollback(); rerr != nil {
			return newErr(KindInternal, "WithTx", fmt.Errorf("%v (rollback also failed: %v)", err, rerr))
		}
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return newErr(KindInternal, "WithTx", fmt.Errorf("commit: %w", err))
	}
	return nil
}

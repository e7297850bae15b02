// Package tx defines the atomic-unit boundary used by services: every
// mutation and its audit ledger append run inside one Runner unit.
package tx

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

type txKey struct{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, dbTx *sql.Tx) context.Context {
	if dbTx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey{}, dbTx)
}

// From extracts the SQL transaction from context if present. Postgres
// stores execute on it so their writes join the surrounding unit.
func From(ctx context.Context) (*sql.Tx, bool) {
	dbTx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return dbTx, ok
}

// Runner executes fn as one atomic unit. Stores that honor the transaction
// in ctx see either all of fn's writes or none of them.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SQLRunner runs fn inside a database transaction. The *sql.Tx travels in
// ctx; stores pick it up via From.
type SQLRunner struct {
	db *sql.DB
}

// NewSQLRunner creates a Runner backed by db.
func NewSQLRunner(db *sql.DB) *SQLRunner {
	return &SQLRunner{db: db}
}

func (r *SQLRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(WithTx(ctx, dbTx)); err != nil {
		_ = dbTx.Rollback()
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Journal collects undo callbacks from in-memory stores so a failed unit
// can be rolled back. SQL stores never register undos; the database
// transaction handles them.
type Journal struct {
	undos []func()
}

// OnRollback registers a compensating callback, applied in reverse order
// if the unit fails.
func (j *Journal) OnRollback(fn func()) {
	j.undos = append(j.undos, fn)
}

func (j *Journal) rollback() {
	for i := len(j.undos) - 1; i >= 0; i-- {
		j.undos[i]()
	}
}

type journalKey struct{}

// WithJournal stores a rollback journal in context.
func WithJournal(ctx context.Context, j *Journal) context.Context {
	return context.WithValue(ctx, journalKey{}, j)
}

// JournalFrom extracts the rollback journal from context if present.
func JournalFrom(ctx context.Context) (*Journal, bool) {
	j, ok := ctx.Value(journalKey{}).(*Journal)
	return j, ok
}

// MemoryRunner serializes units under one mutex and rolls back staged
// in-memory writes through the journal on failure. Development and tests
// only, matching the in-memory store variants.
type MemoryRunner struct {
	mu sync.Mutex
}

// NewMemoryRunner creates a Runner for in-memory stores.
func NewMemoryRunner() *MemoryRunner {
	return &MemoryRunner{}
}

func (r *MemoryRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j := &Journal{}
	if err := fn(WithJournal(ctx, j)); err != nil {
		j.rollback()
		return err
	}
	return nil
}

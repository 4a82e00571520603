package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type txKey struct{}

// Transactor runs a function inside a single database transaction. Repository
// calls made with the context passed to fn join that transaction.
type Transactor struct {
	db *sqlx.DB
}

// NewTransactor creates a new Transactor
func NewTransactor(db *sqlx.DB) *Transactor {
	return &Transactor{db: db}
}

// WithTx commits when fn returns nil and rolls back otherwise. Nested calls reuse
// the outer transaction.
func (t *Transactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func txFromContext(ctx context.Context) *sqlx.Tx {
	tx, _ := ctx.Value(txKey{}).(*sqlx.Tx)
	return tx
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx
type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// conn returns the transaction bound to ctx, or db when there is none
func conn(ctx context.Context, db *sqlx.DB) queryer {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return db
}

// ============================================================================
// POSTGRES ERROR CODES
// ============================================================================

const (
	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"
)

// ErrDuplicate is returned when a unique constraint rejects an insert
var ErrDuplicate = errors.New("duplicate record")

// ErrSlotTaken is returned when the bookings exclusion constraint rejects an overlap
var ErrSlotTaken = errors.New("resource window already booked")

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pqCode(err) == pgUniqueViolation
}

func isExclusionViolation(err error) bool {
	return pqCode(err) == pgExclusionViolation
}

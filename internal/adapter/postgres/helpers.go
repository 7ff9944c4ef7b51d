package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MFaiqKhan/sweepjudge/internal/domain"
)

// scannable is a pgx.Row or the current row of pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// rowQuerier is satisfied by the pool and by transactions.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const uniqueViolation = "23505"

// nullIfEmpty stores "" as NULL.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// deref reads NULL as "".
func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// orEmpty keeps JSON lists as [] and text[] columns non-NULL.
func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// notFoundWrap maps pgx.ErrNoRows to domain.ErrNotFound.
func notFoundWrap(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// conflictWrap maps a unique violation to domain.ErrConflict. The task
// dedup key is the only unique index a caller can hit.
func conflictWrap(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", msg, domain.ErrConflict)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// explainMiss is called after a conditional UPDATE touched no row. It
// reports ErrNotFound when table has no row id and ErrConflict naming the
// current status otherwise.
func explainMiss(ctx context.Context, q rowQuerier, table, id, op string) error {
	var status string
	err := q.QueryRow(ctx, `SELECT status FROM `+table+` WHERE id = $1`, id).Scan(&status)
	if err != nil {
		return notFoundWrap(err, "%s %s", op, id)
	}
	return fmt.Errorf("%s %s: %s is %s: %w", op, id, singular(table), status, domain.ErrConflict)
}

func singular(table string) string {
	if n := len(table); n > 1 && table[n-1] == 's' {
		return table[:n-1]
	}
	return table
}

// checkID turns ids that cannot be a uuid into ErrNotFound instead of a
// SQL cast error.
func checkID(id, op string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%s %s: %w", op, id, domain.ErrNotFound)
	}
	return nil
}

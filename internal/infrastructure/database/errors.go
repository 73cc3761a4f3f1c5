package database

import (
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// StoreError reports a persistence-layer failure. It is always fatal to the
// operation that hit it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return "store: " + e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error { return e.Err }

// Wrap returns err wrapped in a StoreError describing op. A nil err stays nil
// and an error that already is a StoreError is returned as is.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsStoreError reports whether err is, or wraps, a StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// IsUniqueViolation reports whether err is a SQLite UNIQUE or PRIMARY KEY
// constraint failure.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// IsUniqueViolationOn reports whether err is a UNIQUE or PRIMARY KEY failure
// on column, given as "table.column".
func IsUniqueViolationOn(err error, column string) bool {
	if !IsUniqueViolation(err) {
		return false
	}
	_, failed, ok := strings.Cut(err.Error(), "constraint failed: ")
	if !ok {
		return false
	}
	for _, c := range strings.Split(failed, ", ") {
		if c == column {
			return true
		}
	}
	return false
}

// IsCheckViolation reports whether err is a SQLite CHECK constraint failure.
func IsCheckViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintCheck
}

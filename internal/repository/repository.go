// Package repository implements the persistent store over PostgreSQL (pgx).
package repository

import "errors"

// ErrNotFound is returned when a row does not exist. Callers translate it to
// the service-level taxonomy; it never leaks to HTTP directly.
var ErrNotFound = errors.New("not found")

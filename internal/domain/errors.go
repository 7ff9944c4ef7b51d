// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity is in a state that forbids the operation
// (terminal task, deleted agent, duplicate dedup key).
var ErrConflict = errors.New("conflict")

// ErrValidation indicates caller-supplied input is missing or malformed.
var ErrValidation = errors.New("validation error")

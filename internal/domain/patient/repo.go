package patient

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no encounter matches the lookup key.
	ErrNotFound = errors.New("patient not found")
	// ErrQuery marks a malformed or disallowed console statement.
	ErrQuery = errors.New("query error")
	// ErrUnknownQuery is returned for a named query id outside the allow-list.
	ErrUnknownQuery = errors.New("unknown query")
)

// MaxQueryRows caps the rows returned by console and named queries.
const MaxQueryRows = 1000

type Repository interface {
	Sample(ctx context.Context, limit int) ([]*Encounter, error)
	FindByID(ctx context.Context, encounterID int64) (*Encounter, error)
	Query(ctx context.Context, sqlText string) (*QueryResult, error)
	RunNamed(ctx context.Context, id string) (*QueryResult, error)
}

package repository

import "errors"

// ErrConflict is returned when a compare-and-swap update finds the record
// already changed by a concurrent committer. Callers must re-query state
// before deciding how to proceed; the update is never silently re-applied.
var ErrConflict = errors.New("concurrent modification")

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is a generic pagination result wrapper.
// T is typically a model type.
type PageResult[T any] struct {
	Items []T
	Total int
}

// Package resolver implements the two-tier read path: the database is the
// source of truth, the static snapshot is the degraded-mode fallback.
package resolver

import (
	"context"
	"errors"

	"memoria/api/internal/snapshot"
	"memoria/api/internal/store"
)

// ErrNotFound reports that neither tier holds the requested content.
var ErrNotFound = errors.New("resolver: not found")

// Read runs primary and, only when primary fails with an availability error,
// falls back to the snapshot. A definitive answer from the database — data,
// an empty collection, or a clean not-found — is final: empty is an answer,
// not an outage. Every request probes the primary afresh; there is no
// reachability caching, so recovery needs no restart.
func Read[T any](ctx context.Context, primary func(context.Context) (T, error), fallback func() (T, error)) (T, error) {
	value, err := primary(ctx)
	if err == nil {
		return value, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		var zero T
		return zero, ErrNotFound
	}
	if !store.IsUnavailable(err) {
		var zero T
		return zero, err
	}

	value, ferr := fallback()
	if errors.Is(ferr, snapshot.ErrNotFound) {
		var zero T
		return zero, ErrNotFound
	}
	if ferr != nil {
		// The snapshot could not serve either; surface the database error,
		// it names the real outage.
		var zero T
		return zero, err
	}
	return value, nil
}

package util

import "github.com/google/uuid"

// NewID returns a collision-resistant identifier for content items, staged
// changes and accounts. Sequential counters are avoided on purpose: public
// identifiers must not leak record counts.
func NewID() string {
	return uuid.NewString()
}

// Package cache provides caching implementations for Go values.
//
// It backs in-process lookups that are safe to drop and recompute under
// memory pressure, such as the catalog's channel-config lookups: there is
// no need to keep an entry around once nothing references it, but
// concurrent callers for the same not-yet-cached key must still collapse to
// one creation.
package cache

import "context"

// CreateFunc is the function type used to produce new values to cache.
type CreateFunc[K comparable, V any] func(context.Context, K) (*V, error)

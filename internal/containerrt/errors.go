package containerrt

import "errors"

// ErrNotFound indicates the requested container or image was not found.
var ErrNotFound = errors.New("containerrt: resource not found")

// ErrMalformedHandle indicates the adapter returned something that does
// not look like a container identifier (spec.md §7 kind 4: invariant
// violation, fatal).
var ErrMalformedHandle = errors.New("containerrt: malformed container handle")

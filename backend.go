package jobqueue

import (
	"context"
	"fmt"
	"net/url"
	"sync"
)

// BackendFactory opens a Storage for the given URI. It is invoked once
// per call to Open; implementations typically parse the URI's
// non-scheme parts themselves (host, path, query).
type BackendFactory func(ctx context.Context, uri string) (Storage, error)

var (
	backendsMu sync.Mutex
	backends   = make(map[string]BackendFactory)
)

// RegisterBackend associates a storage URI scheme with a factory.
// Backend packages call this from an init() function, the same pattern
// database/sql drivers use. Registering the same scheme twice replaces
// the previous factory.
func RegisterBackend(scheme string, factory BackendFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[scheme] = factory
}

// Open resolves uri's scheme against the registered backends and opens
// a Storage. It returns ErrUnknownScheme wrapped with the offending
// scheme if nothing is registered for it, or ErrConfig if uri itself
// cannot be parsed.
func Open(ctx context.Context, uri string) (Storage, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if parsed.Scheme == "" {
		return nil, fmt.Errorf("%w: storage URI has no scheme", ErrConfig)
	}
	backendsMu.Lock()
	factory, ok := backends[parsed.Scheme]
	backendsMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScheme, parsed.Scheme)
	}
	return factory(ctx, uri)
}

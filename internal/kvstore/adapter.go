// Package kvstore defines the persistent-mirror adapter interface Fulcrum
// writes through to the external key-value store, spec.md §4.6 (C6) and
// §6.2. The store itself is an external collaborator (spec.md §1); this
// package only defines the narrow interface the core needs and ships an
// in-memory adapter for the default/dev/test path. This generalizes the
// teacher's server/store/adapter.Adapter interface pattern from a SQL/Mongo
// chat-history backend to a flat key-value mirror.
package kvstore

// Adapter is the interface a concrete KV backend implements. Keys follow
// the logical layout in spec.md §6.2 (e.g. "proxy:active:<id>").
type Adapter interface {
	// Open connects the adapter using backend-specific config.
	Open(config string) error
	// Close releases the adapter's resources.
	Close() error
	// IsOpen reports whether the adapter is ready for use.
	IsOpen() bool

	// Put writes value under key, overwriting any existing value.
	Put(key string, value []byte) error
	// Get reads the value under key. ok is false if key is absent.
	Get(key string) (value []byte, ok bool, err error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
	// Scan returns every key/value pair whose key has the given prefix.
	Scan(prefix string) (map[string][]byte, error)
}

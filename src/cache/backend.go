package cache

// Backend persists cache entries across process restarts so the dashboard
// starts with warm (if stale) data instead of an empty view.
type Backend interface {
	// Load returns the stored entry for a fingerprint, ok=false when none exists.
	Load(fingerprint string) (Entry, bool, error)

	// Store persists an entry, replacing any existing one for its fingerprint.
	Store(entry Entry) error

	// Close releases the backend's resources.
	Close() error
}

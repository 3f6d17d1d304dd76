package market

import "time"

// PriceCache is an explicit snapshot-plus-expiry value owned by the caller.
// There is no package-level cache: callers hold the value, consult Valid, and
// decide when to refresh, which keeps the pipeline free of hidden temporal
// coupling.
type PriceCache struct {
	Snapshot  Snapshot
	FetchedAt time.Time
	TTL       time.Duration
}

// NewPriceCache wraps a freshly fetched snapshot.
func NewPriceCache(snapshot Snapshot, fetchedAt time.Time, ttl time.Duration) PriceCache {
	return PriceCache{Snapshot: snapshot.Clone(), FetchedAt: fetchedAt.UTC(), TTL: ttl}
}

// Valid reports whether the cached snapshot is still usable at the supplied
// instant.
func (c PriceCache) Valid(now time.Time) bool {
	if c.TTL <= 0 {
		return false
	}
	return now.UTC().Before(c.FetchedAt.Add(c.TTL))
}

// Refresh returns a cache holding the new snapshot when the current entry has
// expired, or the receiver unchanged when it is still valid.
func (c PriceCache) Refresh(now time.Time, fetch func() (Snapshot, error)) (PriceCache, error) {
	if c.Valid(now) {
		return c, nil
	}
	snapshot, err := fetch()
	if err != nil {
		return c, err
	}
	return NewPriceCache(snapshot, now, c.TTL), nil
}

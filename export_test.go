package gofetchcache

// Waiters reports how many callers are waiting on key.
func (f *Fetcher) Waiters(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waiters[key]
}

package results

import (
	"sync"
)

// cachedPage is a completed archival response held for an immutable query.
type cachedPage struct {
	records []*Record
	list    *RecordList
}

// PageCache deduplicates archival fetches for immutable queries. A caller
// that knows a run is done may supply a cache key; the first completed fetch
// is stored under that key and every later fetch with the same key is served
// from memory. While a fetch for a key is outstanding, concurrent callers
// are told it is in flight instead of issuing a duplicate request.
//
// Callers must never supply a key for a query whose result set can still
// change; the cache has no expiry beyond Clear.
type PageCache struct {
	mu       sync.Mutex
	pages    map[string]cachedPage
	inFlight map[string]bool
}

func NewPageCache() *PageCache {
	return &PageCache{
		pages:    map[string]cachedPage{},
		inFlight: map[string]bool{},
	}
}

// Get returns the completed result for key, if any.
func (c *PageCache) Get(key string) ([]*Record, *RecordList, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	page, ok := c.pages[key]
	if !ok {
		return nil, nil, false
	}
	return page.records, page.list, true
}

// Set stores a completed result and clears the in-flight marker for key.
func (c *PageCache) Set(key string, records []*Record, list *RecordList) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[key] = cachedPage{records: records, list: list}
	delete(c.inFlight, key)
}

// MarkInFlight records that a fetch for key has been issued. It returns
// false when another fetch for the same key is already outstanding.
func (c *PageCache) MarkInFlight(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight[key] {
		return false
	}
	c.inFlight[key] = true
	return true
}

// Done clears the in-flight marker without storing a result, used when a
// fetch fails and should be retried by a later caller.
func (c *PageCache) Done(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, key)
}

// Clear drops every cached page and in-flight marker.
func (c *PageCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages = map[string]cachedPage{}
	c.inFlight = map[string]bool{}
}

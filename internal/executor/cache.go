// ABOUTME: ReportCache holds the most recent completed output per invocation key.
// ABOUTME: Entries never expire; they are only overwritten by a fresh completion.

package executor

import (
	"github.com/jellydator/ttlcache/v3"
)

// ReportCache is a concurrency-safe store of completed script output,
// keyed by the exact invocation string. It is shared between the serve
// loop and background script tasks and outlives both.
type ReportCache struct {
	c *ttlcache.Cache[string, []byte]
}

// NewReportCache returns an empty cache. Entries are kept forever; the
// cache grows with the number of distinct invocations over the agent's
// lifetime.
func NewReportCache() *ReportCache {
	return &ReportCache{c: ttlcache.New[string, []byte]()}
}

// Put records the completed output for an invocation, replacing any
// previous report for the same key.
func (rc *ReportCache) Put(key string, body []byte) {
	rc.c.Set(key, body, ttlcache.NoTTL)
}

// Get returns the cached report for an invocation, if one exists.
func (rc *ReportCache) Get(key string) ([]byte, bool) {
	item := rc.c.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// Len reports how many invocations have cached output.
func (rc *ReportCache) Len() int {
	return rc.c.Len()
}

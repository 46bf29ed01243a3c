package retriever

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/ragless-mcp/pkg/types"
)

type cacheEntry struct {
	response *Response
	expires  time.Time
}

// responseCache memoizes retrieval responses keyed by the request parameters
// that affect the result. Entries expire after the request's TTL; expired
// entries are evicted lazily on lookup.
type responseCache struct {
	entries *lru.Cache[[32]byte, *cacheEntry]
}

func newResponseCache(size int) *responseCache {
	c, err := lru.New[[32]byte, *cacheEntry](size)
	if err != nil {
		// Only possible with a non-positive size, which is a programmer error.
		panic(fmt.Sprintf("retriever: bad cache size %d: %v", size, err))
	}
	return &responseCache{entries: c}
}

func (c *responseCache) get(req Request) (*Response, bool) {
	key := cacheKey(req)
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		c.entries.Remove(key)
		return nil, false
	}
	return cloneResponse(entry.response), true
}

func (c *responseCache) put(req Request, resp *Response) {
	ttl := req.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	c.entries.Add(cacheKey(req), &cacheEntry{
		response: cloneResponse(resp),
		expires:  time.Now().Add(ttl),
	})
}

// cacheKey hashes every request field that influences the candidate set.
// Concurrency and cache controls are deliberately excluded.
func cacheKey(req Request) [32]byte {
	h := sha256.New()
	fmt.Fprintf(h, "q=%s\n", strings.ToLower(strings.TrimSpace(req.Query)))
	fmt.Fprintf(h, "paths=%s\n", strings.Join(req.Paths, "\x00"))
	fmt.Fprintf(h, "depth=%d levels=%d minhits=%d topk=%d\n",
		req.MaxDepth, req.KeywordLevels, req.MinHits, req.TopKFiles)
	fmt.Fprintf(h, "inc=%s\n", strings.Join(req.Include, "\x00"))
	fmt.Fprintf(h, "exc=%s\n", strings.Join(req.Exclude, "\x00"))

	var key [32]byte
	copy(key[:], h.Sum(nil))
	return key
}

// cloneResponse copies a response so cached entries cannot be mutated by
// callers.
func cloneResponse(resp *Response) *Response {
	clone := *resp
	clone.Candidates = append([]types.FileCandidate(nil), resp.Candidates...)
	clone.Warnings = append([]string(nil), resp.Warnings...)
	return &clone
}

package segment

import (
	"container/list"
	"log"
	"sync"

	"github.com/dustin/go-humanize"
)

// Cache keeps fetched segment pages per video, bounded by entry count and
// total bytes. The least recently used video is evicted first.
type Cache struct {
	mu         sync.Mutex
	maxEntries int
	maxBytes   int64
	bytes      int64
	order      *list.List
	entries    map[int64]*list.Element
}

type cacheEntry struct {
	oid   int64
	pages [][]byte
	size  int64
}

func NewCache(maxEntries int, maxBytes int64) *Cache {
	return &Cache{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		order:      list.New(),
		entries:    make(map[int64]*list.Element),
	}
}

func (c *Cache) Get(oid int64) ([][]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[oid]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).pages, true
}

// Put stores pages for oid. A single entry larger than the byte budget is not
// cached at all.
func (c *Cache) Put(oid int64, pages [][]byte) bool {
	size := pagesSize(pages)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxBytes > 0 && size > c.maxBytes {
		log.Printf("[segment][warn] skip caching oid=%d: %s exceeds budget %s",
			oid, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(c.maxBytes)))
		return false
	}
	if el, ok := c.entries[oid]; ok {
		c.removeElement(el)
	}
	c.entries[oid] = c.order.PushFront(&cacheEntry{oid: oid, pages: pages, size: size})
	c.bytes += size
	c.evictLocked()
	return true
}

// Resize applies new bounds and evicts down to them.
func (c *Cache) Resize(maxEntries int, maxBytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxEntries = maxEntries
	c.maxBytes = maxBytes
	c.evictLocked()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[int64]*list.Element)
	c.bytes = 0
}

func (c *Cache) evictLocked() {
	for c.order.Len() > 0 {
		overEntries := c.maxEntries > 0 && c.order.Len() > c.maxEntries
		overBytes := c.maxBytes > 0 && c.bytes > c.maxBytes
		if !overEntries && !overBytes {
			return
		}
		oldest := c.order.Back()
		entry := oldest.Value.(*cacheEntry)
		c.removeElement(oldest)
		log.Printf("[segment] evicted oid=%d (%s), cache now %d entries / %s",
			entry.oid, humanize.IBytes(uint64(entry.size)), c.order.Len(), humanize.IBytes(uint64(c.bytes)))
	}
}

func (c *Cache) removeElement(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	c.order.Remove(el)
	delete(c.entries, entry.oid)
	c.bytes -= entry.size
}

func pagesSize(pages [][]byte) int64 {
	var total int64
	for _, page := range pages {
		total += int64(len(page))
	}
	return total
}

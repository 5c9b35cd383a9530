package tfidf

import (
	"encoding/binary"
	"hash/fnv"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// CorpusVersion 计算语料快照的版本号（FNV-64，与遍历顺序无关）。
// 任何文档增删或 token 变化都会得到不同的版本。
func CorpusVersion(corpus Corpus) string {
	ids := make([]int64, 0, len(corpus))
	for id := range corpus {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	h := fnv.New64a()
	var buf [8]byte
	for _, id := range ids {
		binary.LittleEndian.PutUint64(buf[:], uint64(id))
		_, _ = h.Write(buf[:])
		for _, t := range corpus[id] {
			_, _ = h.Write([]byte(t))
			_, _ = h.Write([]byte{0})
		}
		_, _ = h.Write([]byte{0xff})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// Cache 是按语料版本缓存 idf 表的读穿缓存，由调用方持有。
// 只保留最近一个版本；版本变化即视为失效。并发的同版本未命中只计算一次。
// 这是性能优化，不影响正确性。
type Cache struct {
	mu      sync.RWMutex
	version string
	idf     IDF
	group   singleflight.Group

	hits, misses atomic.Int64
}

func NewCache() *Cache {
	return &Cache{}
}

// IDF 返回语料版本 version 对应的 idf 表，未命中时调用 build 计算。
// 返回的表只读，调用方不得修改。
func (c *Cache) IDF(version string, build func() IDF) IDF {
	if c == nil {
		return build()
	}
	c.mu.RLock()
	if c.version == version && c.idf != nil {
		idf := c.idf
		c.hits.Add(1)
		c.mu.RUnlock()
		return idf
	}
	c.mu.RUnlock()

	v, _, _ := c.group.Do(version, func() (interface{}, error) {
		idf := build()
		c.mu.Lock()
		c.version = version
		c.idf = idf
		c.misses.Add(1)
		c.mu.Unlock()
		return idf, nil
	})
	return v.(IDF)
}

// Invalidate 清空缓存。
func (c *Cache) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.version = ""
	c.idf = nil
	c.mu.Unlock()
}

// Stats 返回命中/未命中次数。
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

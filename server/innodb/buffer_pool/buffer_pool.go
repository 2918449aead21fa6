package buffer_pool

import (
	"sync"
	"sync/atomic"
)

type pageKey struct {
	spaceID uint32
	pageNo  uint32
}

// BufferPool 页面缓冲池
// 只承担按(表空间,页号)提供带锁页面访问的职责，
// 淘汰与刷盘由引擎侧的写出流程负责
type BufferPool struct {
	mu    sync.RWMutex
	pages map[pageKey]*BufferPage

	// Statistics
	hitCount  uint64 // 缓存命中次数
	missCount uint64 // 缓存未命中次数
}

// NewBufferPool 创建缓冲池
func NewBufferPool() *BufferPool {
	return &BufferPool{
		pages: make(map[pageKey]*BufferPage),
	}
}

// GetPage 按表空间与页号取页面，不存在时创建空页
func (pool *BufferPool) GetPage(spaceID, pageNo uint32) *BufferPage {
	key := pageKey{spaceID: spaceID, pageNo: pageNo}

	pool.mu.RLock()
	bp, ok := pool.pages[key]
	pool.mu.RUnlock()
	if ok {
		atomic.AddUint64(&pool.hitCount, 1)
		return bp
	}

	pool.mu.Lock()
	defer pool.mu.Unlock()
	if bp, ok = pool.pages[key]; ok {
		atomic.AddUint64(&pool.hitCount, 1)
		return bp
	}
	atomic.AddUint64(&pool.missCount, 1)
	bp = NewBufferPage(spaceID, pageNo)
	pool.pages[key] = bp
	return bp
}

// DirtyPageCount 脏页数量
func (pool *BufferPool) DirtyPageCount() int {
	pool.mu.RLock()
	defer pool.mu.RUnlock()
	count := 0
	for _, bp := range pool.pages {
		if bp.IsDirty() {
			count++
		}
	}
	return count
}

// GetHitRatio returns the cache hit ratio
func (pool *BufferPool) GetHitRatio() float64 {
	total := atomic.LoadUint64(&pool.hitCount) + atomic.LoadUint64(&pool.missCount)
	if total == 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&pool.hitCount)) / float64(total)
}

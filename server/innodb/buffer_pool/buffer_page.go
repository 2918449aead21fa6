package buffer_pool

import (
	"github.com/zhukovaskychina/xmysql-undo/server/innodb/latch"
	"github.com/zhukovaskychina/xmysql-undo/server/innodb/storage/store/pages"
)

// BufferPage 数据页在缓冲池中的控制体
// 页面互斥锁是回滚与后台回收之间唯一的串行化点，
// 覆盖一次页面批量回放及其持久化记录的写出
type BufferPage struct {
	spaceId uint32
	pageNo  uint32

	latch *latch.Latch
	page  *pages.TrxDataPage
	dirty bool
}

// NewBufferPage 创建页面控制体
func NewBufferPage(spaceID, pageNo uint32) *BufferPage {
	return &BufferPage{
		spaceId: spaceID,
		pageNo:  pageNo,
		latch:   latch.NewLatch(),
		page:    pages.NewTrxDataPage(spaceID, pageNo),
	}
}

// Lock 获取页面排他锁
func (bp *BufferPage) Lock() {
	bp.latch.Lock()
}

// Unlock 释放页面排他锁
func (bp *BufferPage) Unlock() {
	bp.latch.Unlock()
}

// Page 页面内容，调用方必须已持有页面锁
func (bp *BufferPage) Page() *pages.TrxDataPage {
	return bp.page
}

// GetSpaceID 获取表空间ID
func (bp *BufferPage) GetSpaceID() uint32 {
	return bp.spaceId
}

// GetPageNo 获取页面号
func (bp *BufferPage) GetPageNo() uint32 {
	return bp.pageNo
}

// MarkDirty 标记为脏页，调用方必须已持有页面锁
func (bp *BufferPage) MarkDirty() {
	bp.dirty = true
}

// IsDirty 检查是否为脏页
func (bp *BufferPage) IsDirty() bool {
	bp.latch.RLock()
	defer bp.latch.RUnlock()
	return bp.dirty
}

// ClearDirty 清除脏页标记，由外部刷脏流程调用
func (bp *BufferPage) ClearDirty() {
	bp.latch.Lock()
	defer bp.latch.Unlock()
	bp.dirty = false
}

// SetLSN 盖上页面LSN，调用方必须已持有页面锁
func (bp *BufferPage) SetLSN(lsn uint64) {
	bp.page.LSN = lsn
}

// InstallImage 以镜像整体替换页面内容，用于redo回放
func (bp *BufferPage) InstallImage(img *pages.TrxDataPage) {
	bp.latch.Lock()
	defer bp.latch.Unlock()
	bp.page = img
	bp.dirty = true
}

package manager

import (
	"sync"
)

// TableInfo undo回放所需的表元信息
type TableInfo struct {
	TableID  uint64
	SpaceID  uint32
	Name     string
	HasIndex bool // 是否存在二级索引，决定插入undo的回放方式
	Logged   bool // 是否写redo日志
}

// TableRegistry 表ID到元信息的映射
// 表被删除后查找失败，回放按无事可做跳过对应页面
type TableRegistry struct {
	mu     sync.RWMutex
	tables map[uint64]*TableInfo
}

// NewTableRegistry 创建表注册器
func NewTableRegistry() *TableRegistry {
	return &TableRegistry{
		tables: make(map[uint64]*TableInfo),
	}
}

// Register 登记表
func (tr *TableRegistry) Register(info *TableInfo) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.tables[info.TableID] = info
}

// Drop 删除表
func (tr *TableRegistry) Drop(tableID uint64) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.tables, tableID)
}

// Lookup 按表ID查找
func (tr *TableRegistry) Lookup(tableID uint64) (*TableInfo, bool) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	info, ok := tr.tables[tableID]
	return info, ok
}

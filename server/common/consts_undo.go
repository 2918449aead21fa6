package common

// 页面大小，与innodb_page_size默认值一致
const UNIV_PAGE_SIZE = 16384

// 表的物理分支(fork)编号
const (
	FORK_MAIN uint8 = iota // 主数据分支
	FORK_FSM               // 空闲空间映射分支
	FORK_VM                // 可见性映射分支
)

// InvalidPageNo 无效页号
const InvalidPageNo uint32 = 0xFFFFFFFF

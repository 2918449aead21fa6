package basic

// UndoRecPtr undo记录指针
// 高24位为日志号，低40位为日志内偏移
// 只在同一undo日志内具备全序关系，跨日志不可比较
type UndoRecPtr uint64

const (
	// UndoLogOffsetBits 日志内偏移占用的位数
	UndoLogOffsetBits = 40

	// UndoLogMaxOffset 单个undo日志的最大偏移
	UndoLogMaxOffset = uint64(1)<<UndoLogOffsetBits - 1

	// InvalidUndoRecPtr 无效指针
	InvalidUndoRecPtr UndoRecPtr = 0

	// SpecialUndoRecPtr 特殊指针，标记日志内最后一个事务的后继位置未知
	SpecialUndoRecPtr UndoRecPtr = ^UndoRecPtr(0)

	// UndoLogFirstOffset 日志内首条记录的起始偏移，偏移0被保留
	UndoLogFirstOffset = uint64(1)
)

// MakeUndoRecPtr 由日志号和偏移构造undo记录指针
func MakeUndoRecPtr(logNo uint32, offset uint64) UndoRecPtr {
	return UndoRecPtr(uint64(logNo)<<UndoLogOffsetBits | (offset & UndoLogMaxOffset))
}

// LogNo 提取日志号
func (p UndoRecPtr) LogNo() uint32 {
	return uint32(uint64(p) >> UndoLogOffsetBits)
}

// Offset 提取日志内偏移
func (p UndoRecPtr) Offset() uint64 {
	return uint64(p) & UndoLogMaxOffset
}

// IsValid 判断指针是否有效
func (p UndoRecPtr) IsValid() bool {
	return p != InvalidUndoRecPtr
}

package basic

// TrxID 事务ID，32位循环使用
// 比较时按环形空间处理，保证回卷后新旧关系仍然正确
type TrxID uint32

const (
	// InvalidTrxID 无效事务ID，0被保留
	InvalidTrxID TrxID = 0
)

// IsValid 判断事务ID是否有效
func (id TrxID) IsValid() bool {
	return id != InvalidTrxID
}

// TrxIDEquals 判断两个事务ID是否相等
func TrxIDEquals(a, b TrxID) bool {
	return a == b
}

// TrxIDPrecedes 环形比较：a是否早于b
func TrxIDPrecedes(a, b TrxID) bool {
	if a == b {
		return false
	}
	return int32(a-b) < 0
}

// TrxIDFollowsOrEquals 环形比较：a是否不早于b
func TrxIDFollowsOrEquals(a, b TrxID) bool {
	return !TrxIDPrecedes(a, b)
}

// MakeEpochTrxID 将epoch和事务ID打包为一个64位值
// 高32位为epoch，低32位为事务ID，用于水位线的原子发布
func MakeEpochTrxID(epoch uint32, id TrxID) uint64 {
	return uint64(epoch)<<32 | uint64(id)
}

// SplitEpochTrxID 拆解64位打包值
func SplitEpochTrxID(v uint64) (uint32, TrxID) {
	return uint32(v >> 32), TrxID(v & 0xFFFFFFFF)
}

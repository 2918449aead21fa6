package pages

import (
	"errors"

	"github.com/zhukovaskychina/xmysql-undo/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-undo/util"
)

var (
	ErrItemOutOfRange = errors.New("line item out of range")
	ErrNoFreeTrxSlot  = errors.New("no free transaction slot on page")
	ErrPageCorrupted  = errors.New("page image corrupted")
)

// 行指针状态
const (
	ITEM_UNUSED  uint8 = iota // 空闲，可立即复用
	ITEM_NORMAL               // 正常元组
	ITEM_DEAD                 // 逻辑死亡，索引仍可达，等待清理
	ITEM_DELETED              // 已删除，行指针保留事务信息
)

// 行指针标志位
const (
	// ITEM_FLAG_INVALID_XACT 事务槽被提前回收后，可见性路径在行指针上打的失效标记
	ITEM_FLAG_INVALID_XACT uint8 = 1 << 0
)

// 元组头infomask标志位
const (
	// TUPLE_INVALID_XACT_SLOT 元组所引用的页内事务槽已被回收
	TUPLE_INVALID_XACT_SLOT uint16 = 1 << 11
)

// TupleHeaderSize 元组头长度：infomask2(2) + infomask(2) + hoff(1)
const TupleHeaderSize = 5

// MaxPageTrxSlots 页内事务槽数量上限，线性查找
const MaxPageTrxSlots = 4

// 页面标志位
const (
	PAGE_FLAG_HAS_FREE_SLOTS uint16 = 1 << 0 // 页内存在可复用的行指针
)

// TupleHeader 元组头控制字段
type TupleHeader struct {
	Infomask2 uint16 // 格式与长度位域
	Infomask  uint16 // 信息掩码
	Hoff      uint8  // 头部偏移
}

// LineItem 行指针及其元组内容
type LineItem struct {
	State uint8
	Flags uint8
	Tuple []byte // 前TupleHeaderSize字节为元组头
}

// Len 元组字节长度
func (it *LineItem) Len() uint16 {
	return uint16(len(it.Tuple))
}

// IsNormal 是否为正常元组
func (it *LineItem) IsNormal() bool {
	return it.State == ITEM_NORMAL
}

// Header 解出元组头
func (it *LineItem) Header() TupleHeader {
	if len(it.Tuple) < TupleHeaderSize {
		return TupleHeader{}
	}
	_, infomask2 := util.ReadUB2(it.Tuple, 0)
	_, infomask := util.ReadUB2(it.Tuple, 2)
	return TupleHeader{
		Infomask2: infomask2,
		Infomask:  infomask,
		Hoff:      it.Tuple[4],
	}
}

// SetHeader 仅覆写元组头，payload不动
func (it *LineItem) SetHeader(h TupleHeader) {
	if len(it.Tuple) < TupleHeaderSize {
		it.Tuple = make([]byte, TupleHeaderSize)
	}
	var buf []byte
	buf = util.WriteUB2(buf, h.Infomask2)
	buf = util.WriteUB2(buf, h.Infomask)
	buf = util.WriteByte(buf, h.Hoff)
	copy(it.Tuple[:TupleHeaderSize], buf)
}

// TrxSlot 页内事务槽：事务ID到该事务在本页最新未决undo指针的映射
type TrxSlot struct {
	TrxID   basic.TrxID
	UndoPtr basic.UndoRecPtr
}

// TrxDataPage 行内更新表的数据页
// 头部之外包含行指针数组与固定容量的页内事务槽表
type TrxDataPage struct {
	SpaceID       uint32
	PageNo        uint32
	LSN           uint64
	Flags         uint16
	PrunableTrxID basic.TrxID // 页面可清理标记，最早可清理事务

	Items    []LineItem
	TrxSlots [MaxPageTrxSlots]TrxSlot
}

// NewTrxDataPage 创建空数据页
func NewTrxDataPage(spaceID, pageNo uint32) *TrxDataPage {
	return &TrxDataPage{
		SpaceID: spaceID,
		PageNo:  pageNo,
	}
}

// AddTuple 追加一个正常元组，返回行指针槽位号
func (p *TrxDataPage) AddTuple(tuple []byte) uint16 {
	cp := make([]byte, len(tuple))
	copy(cp, tuple)
	p.Items = append(p.Items, LineItem{State: ITEM_NORMAL, Tuple: cp})
	return uint16(len(p.Items) - 1)
}

// ItemAt 按槽位号取行指针
func (p *TrxDataPage) ItemAt(slot uint16) (*LineItem, error) {
	if int(slot) >= len(p.Items) {
		return nil, ErrItemOutOfRange
	}
	return &p.Items[slot], nil
}

// SetHasFreeSlots 设置空闲行指针提示位
func (p *TrxDataPage) SetHasFreeSlots() {
	p.Flags |= PAGE_FLAG_HAS_FREE_SLOTS
}

// HasFreeSlots 读取空闲行指针提示位
func (p *TrxDataPage) HasFreeSlots() bool {
	return p.Flags&PAGE_FLAG_HAS_FREE_SLOTS != 0
}

// SetPrunable 打上可清理标记，保留最早的事务ID
func (p *TrxDataPage) SetPrunable(trxID basic.TrxID) {
	if !p.PrunableTrxID.IsValid() || basic.TrxIDPrecedes(trxID, p.PrunableTrxID) {
		p.PrunableTrxID = trxID
	}
}

// FindTrxSlot 线性查找事务槽，未命中返回-1
func (p *TrxDataPage) FindTrxSlot(trxID basic.TrxID) int {
	for i := 0; i < MaxPageTrxSlots; i++ {
		if basic.TrxIDEquals(p.TrxSlots[i].TrxID, trxID) {
			return i
		}
	}
	return -1
}

// AssignTrxSlot 为事务分配或更新事务槽
func (p *TrxDataPage) AssignTrxSlot(trxID basic.TrxID, ptr basic.UndoRecPtr) (int, error) {
	if slot := p.FindTrxSlot(trxID); slot >= 0 {
		p.TrxSlots[slot].UndoPtr = ptr
		return slot, nil
	}
	for i := 0; i < MaxPageTrxSlots; i++ {
		if !p.TrxSlots[i].TrxID.IsValid() {
			p.TrxSlots[i] = TrxSlot{TrxID: trxID, UndoPtr: ptr}
			return i, nil
		}
	}
	return -1, ErrNoFreeTrxSlot
}

// ClearTrxSlot 清空事务槽，事务ID与指针同时失效
func (p *TrxDataPage) ClearTrxSlot(slot int) {
	p.TrxSlots[slot] = TrxSlot{
		TrxID:   basic.InvalidTrxID,
		UndoPtr: basic.InvalidUndoRecPtr,
	}
}

// SetTrxSlotPtr 回退事务槽指针到下一条待应用记录
func (p *TrxDataPage) SetTrxSlotPtr(slot int, ptr basic.UndoRecPtr) {
	p.TrxSlots[slot].UndoPtr = ptr
}

// SerializeBytes 序列化整页，作为redo全页镜像的载荷
func (p *TrxDataPage) SerializeBytes() []byte {
	var buf []byte
	buf = util.WriteUB4(buf, p.SpaceID)
	buf = util.WriteUB4(buf, p.PageNo)
	buf = util.WriteUB8(buf, p.LSN)
	buf = util.WriteUB2(buf, p.Flags)
	buf = util.WriteUB4(buf, uint32(p.PrunableTrxID))
	for i := 0; i < MaxPageTrxSlots; i++ {
		buf = util.WriteUB4(buf, uint32(p.TrxSlots[i].TrxID))
		buf = util.WriteUB8(buf, uint64(p.TrxSlots[i].UndoPtr))
	}
	buf = util.WriteUB2(buf, uint16(len(p.Items)))
	for i := range p.Items {
		it := &p.Items[i]
		buf = util.WriteByte(buf, it.State)
		buf = util.WriteByte(buf, it.Flags)
		buf = util.WriteWithLength(buf, it.Tuple)
	}
	return buf
}

// ParseTrxDataPage 由全页镜像还原数据页
func ParseTrxDataPage(buf []byte) (*TrxDataPage, error) {
	// 头部 + 事务槽表 + 行数
	minLen := 4 + 4 + 8 + 2 + 4 + MaxPageTrxSlots*12 + 2
	if len(buf) < minLen {
		return nil, ErrPageCorrupted
	}

	p := &TrxDataPage{}
	cursor := 0
	cursor, p.SpaceID = util.ReadUB4(buf, cursor)
	cursor, p.PageNo = util.ReadUB4(buf, cursor)
	cursor, p.LSN = util.ReadUB8(buf, cursor)
	cursor, p.Flags = util.ReadUB2(buf, cursor)
	var prunable uint32
	cursor, prunable = util.ReadUB4(buf, cursor)
	p.PrunableTrxID = basic.TrxID(prunable)
	for i := 0; i < MaxPageTrxSlots; i++ {
		var trxID uint32
		var ptr uint64
		cursor, trxID = util.ReadUB4(buf, cursor)
		cursor, ptr = util.ReadUB8(buf, cursor)
		p.TrxSlots[i] = TrxSlot{
			TrxID:   basic.TrxID(trxID),
			UndoPtr: basic.UndoRecPtr(ptr),
		}
	}
	var itemCount uint16
	cursor, itemCount = util.ReadUB2(buf, cursor)
	p.Items = make([]LineItem, 0, itemCount)
	for i := uint16(0); i < itemCount; i++ {
		if cursor+2 > len(buf) {
			return nil, ErrPageCorrupted
		}
		var state, flags byte
		cursor, state = util.ReadByte(buf, cursor)
		cursor, flags = util.ReadByte(buf, cursor)
		var tuple []byte
		cursor, tuple = util.ReadWithLength(buf, cursor)
		cp := make([]byte, len(tuple))
		copy(cp, tuple)
		p.Items = append(p.Items, LineItem{State: state, Flags: flags, Tuple: cp})
	}
	return p, nil
}

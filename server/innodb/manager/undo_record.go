package manager

import (
	"github.com/zhukovaskychina/xmysql-undo/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-undo/server/innodb/storage/store/pages"
	"github.com/zhukovaskychina/xmysql-undo/util"
)

// UndoRecordKind undo记录类型
type UndoRecordKind uint8

const (
	UNDO_INSERT UndoRecordKind = iota + 1
	UNDO_MULTI_INSERT
	UNDO_DELETE
	UNDO_UPDATE
	UNDO_INPLACE_UPDATE
	UNDO_XID_LOCK_ONLY
	UNDO_INVALID_XACT_SLOT
)

// UndoPayload 各记录类型的载荷，构造时即解码为具体字段
type UndoPayload interface {
	undoKind() UndoRecordKind
}

// InsertPayload 插入undo无额外载荷，槽位号在记录头里
type InsertPayload struct{}

func (InsertPayload) undoKind() UndoRecordKind { return UNDO_INSERT }

// MultiInsertPayload 批量插入undo，记录起止槽位
type MultiInsertPayload struct {
	StartSlot uint16
	EndSlot   uint16
}

func (MultiInsertPayload) undoKind() UndoRecordKind { return UNDO_MULTI_INSERT }

// TuplePayload 删除/更新/原地更新undo，保存元组前镜像
type TuplePayload struct {
	PreImage []byte // 含元组头的完整前镜像
}

func (TuplePayload) undoKind() UndoRecordKind { return UNDO_DELETE }

// LockPayload 仅加锁undo，只保存元组头控制字段
type LockPayload struct {
	Infomask2 uint16
	Infomask  uint16
	Hoff      uint8
}

func (LockPayload) undoKind() UndoRecordKind { return UNDO_XID_LOCK_ONLY }

// InvalidSlotPayload 事务槽失效标记undo无额外载荷
type InvalidSlotPayload struct{}

func (InvalidSlotPayload) undoKind() UndoRecordKind { return UNDO_INVALID_XACT_SLOT }

// UndoRecord 一条undo记录：一个事务对一个页面的一次逻辑修改
type UndoRecord struct {
	Ptr basic.UndoRecPtr // 记录指针，追加时由日志管理器分配

	Kind    UndoRecordKind
	TrxID   basic.TrxID
	Epoch   uint32
	SpaceID uint32 // 表空间
	TableID uint64 // 表
	Fork    uint8  // 物理分支
	PageNo  uint32 // 页号
	Slot    uint16 // 页内行指针槽位

	PrevLen uint16           // 前一条记录的编码长度，用于反向遍历
	BlkPrev basic.UndoRecPtr // 同一页面上前一条undo记录
	NextTrx basic.UndoRecPtr // 同一日志内下一个事务的链头

	Payload UndoPayload
}

// payloadMatchesKind 记录类型与载荷变体必须一致，否则编码结果无法解码
func payloadMatchesKind(rec *UndoRecord) bool {
	if rec.Payload == nil {
		return false
	}
	switch rec.Payload.(type) {
	case TuplePayload:
		// 三种前镜像类记录共用同一载荷
		return rec.Kind == UNDO_DELETE || rec.Kind == UNDO_UPDATE ||
			rec.Kind == UNDO_INPLACE_UPDATE
	default:
		return rec.Payload.undoKind() == rec.Kind
	}
}

// encodeUndoRecord 编码undo记录，末尾附带xxhash64校验
func encodeUndoRecord(rec *UndoRecord) ([]byte, error) {
	if !payloadMatchesKind(rec) {
		return nil, ErrUnknownUndoKind
	}

	var buf []byte
	buf = util.WriteByte(buf, byte(rec.Kind))
	buf = util.WriteUB4(buf, uint32(rec.TrxID))
	buf = util.WriteUB4(buf, rec.Epoch)
	buf = util.WriteUB4(buf, rec.SpaceID)
	buf = util.WriteUB8(buf, rec.TableID)
	buf = util.WriteByte(buf, rec.Fork)
	buf = util.WriteUB4(buf, rec.PageNo)
	buf = util.WriteUB2(buf, rec.Slot)
	buf = util.WriteUB2(buf, rec.PrevLen)
	buf = util.WriteUB8(buf, uint64(rec.BlkPrev))
	buf = util.WriteUB8(buf, uint64(rec.NextTrx))

	switch p := rec.Payload.(type) {
	case InsertPayload, InvalidSlotPayload:
		// 无额外载荷
	case MultiInsertPayload:
		buf = util.WriteUB2(buf, p.StartSlot)
		buf = util.WriteUB2(buf, p.EndSlot)
	case TuplePayload:
		buf = util.WriteWithLength(buf, p.PreImage)
	case LockPayload:
		buf = util.WriteUB2(buf, p.Infomask2)
		buf = util.WriteUB2(buf, p.Infomask)
		buf = util.WriteByte(buf, p.Hoff)
	default:
		return nil, ErrUnknownUndoKind
	}

	buf = util.WriteUB8(buf, util.HashCode(buf))
	return buf, nil
}

// decodeUndoRecord 解码undo记录并校验，载荷在此处一次性解出
func decodeUndoRecord(buf []byte) (*UndoRecord, error) {
	if len(buf) < 8 {
		return nil, ErrUndoRecordChecksum
	}
	body := buf[:len(buf)-8]
	_, sum := util.ReadUB8(buf, len(buf)-8)
	if util.HashCode(body) != sum {
		return nil, ErrUndoRecordChecksum
	}

	rec := &UndoRecord{}
	cursor := 0
	var kind byte
	cursor, kind = util.ReadByte(body, cursor)
	rec.Kind = UndoRecordKind(kind)
	var trxID uint32
	cursor, trxID = util.ReadUB4(body, cursor)
	rec.TrxID = basic.TrxID(trxID)
	cursor, rec.Epoch = util.ReadUB4(body, cursor)
	cursor, rec.SpaceID = util.ReadUB4(body, cursor)
	cursor, rec.TableID = util.ReadUB8(body, cursor)
	cursor, rec.Fork = util.ReadByte(body, cursor)
	cursor, rec.PageNo = util.ReadUB4(body, cursor)
	cursor, rec.Slot = util.ReadUB2(body, cursor)
	cursor, rec.PrevLen = util.ReadUB2(body, cursor)
	var blkPrev, nextTrx uint64
	cursor, blkPrev = util.ReadUB8(body, cursor)
	rec.BlkPrev = basic.UndoRecPtr(blkPrev)
	cursor, nextTrx = util.ReadUB8(body, cursor)
	rec.NextTrx = basic.UndoRecPtr(nextTrx)

	switch rec.Kind {
	case UNDO_INSERT:
		rec.Payload = InsertPayload{}
	case UNDO_MULTI_INSERT:
		p := MultiInsertPayload{}
		cursor, p.StartSlot = util.ReadUB2(body, cursor)
		cursor, p.EndSlot = util.ReadUB2(body, cursor)
		rec.Payload = p
	case UNDO_DELETE, UNDO_UPDATE, UNDO_INPLACE_UPDATE:
		p := TuplePayload{}
		var img []byte
		cursor, img = util.ReadWithLength(body, cursor)
		p.PreImage = make([]byte, len(img))
		copy(p.PreImage, img)
		if len(p.PreImage) < pages.TupleHeaderSize {
			return nil, ErrUndoRecordTruncated
		}
		rec.Payload = p
	case UNDO_XID_LOCK_ONLY:
		p := LockPayload{}
		cursor, p.Infomask2 = util.ReadUB2(body, cursor)
		cursor, p.Infomask = util.ReadUB2(body, cursor)
		cursor, p.Hoff = util.ReadByte(body, cursor)
		rec.Payload = p
	case UNDO_INVALID_XACT_SLOT:
		rec.Payload = InvalidSlotPayload{}
	default:
		return nil, ErrUnknownUndoKind
	}
	_ = cursor

	return rec, nil
}

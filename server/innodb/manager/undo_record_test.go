package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhukovaskychina/xmysql-undo/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-undo/util"
)

type bogusPayload struct{}

func (bogusPayload) undoKind() UndoRecordKind { return UndoRecordKind(0xEE) }

func TestUndoRecordCodec(t *testing.T) {
	t.Run("前镜像记录", func(t *testing.T) {
		pre := []byte{1, 2, 3, 4, 5, 'a', 'b', 'c'}
		rec := &UndoRecord{
			Kind:    UNDO_DELETE,
			TrxID:   100,
			Epoch:   2,
			SpaceID: 7,
			TableID: 42,
			PageNo:  9,
			Slot:    3,
			PrevLen: 61,
			BlkPrev: basic.MakeUndoRecPtr(1, 64),
			NextTrx: basic.SpecialUndoRecPtr,
			Payload: TuplePayload{PreImage: pre},
		}
		enc, err := encodeUndoRecord(rec)
		require.NoError(t, err)

		got, err := decodeUndoRecord(enc)
		require.NoError(t, err)
		assert.Equal(t, UNDO_DELETE, got.Kind)
		assert.Equal(t, basic.TrxID(100), got.TrxID)
		assert.Equal(t, uint32(2), got.Epoch)
		assert.Equal(t, uint64(42), got.TableID)
		assert.Equal(t, uint16(3), got.Slot)
		assert.Equal(t, uint16(61), got.PrevLen)
		assert.Equal(t, basic.MakeUndoRecPtr(1, 64), got.BlkPrev)
		assert.Equal(t, basic.SpecialUndoRecPtr, got.NextTrx)
		assert.Equal(t, pre, got.Payload.(TuplePayload).PreImage)
	})

	t.Run("批量插入记录", func(t *testing.T) {
		rec := &UndoRecord{
			Kind:    UNDO_MULTI_INSERT,
			TrxID:   5,
			Payload: MultiInsertPayload{StartSlot: 2, EndSlot: 6},
		}
		enc, err := encodeUndoRecord(rec)
		require.NoError(t, err)
		got, err := decodeUndoRecord(enc)
		require.NoError(t, err)
		assert.Equal(t, MultiInsertPayload{StartSlot: 2, EndSlot: 6}, got.Payload)
	})

	t.Run("仅加锁记录", func(t *testing.T) {
		rec := &UndoRecord{
			Kind:    UNDO_XID_LOCK_ONLY,
			TrxID:   6,
			Payload: LockPayload{Infomask2: 0x11, Infomask: 0x22, Hoff: 24},
		}
		enc, err := encodeUndoRecord(rec)
		require.NoError(t, err)
		got, err := decodeUndoRecord(enc)
		require.NoError(t, err)
		assert.Equal(t, LockPayload{Infomask2: 0x11, Infomask: 0x22, Hoff: 24}, got.Payload)
	})

	t.Run("校验和不匹配", func(t *testing.T) {
		enc, err := encodeUndoRecord(&UndoRecord{Kind: UNDO_INSERT, TrxID: 1, Payload: InsertPayload{}})
		require.NoError(t, err)
		enc[1] ^= 0xFF
		_, err = decodeUndoRecord(enc)
		assert.Equal(t, ErrUndoRecordChecksum, err)
	})

	t.Run("未知记录类型", func(t *testing.T) {
		_, err := encodeUndoRecord(&UndoRecord{Kind: UndoRecordKind(0xEE), TrxID: 1, Payload: bogusPayload{}})
		assert.Equal(t, ErrUnknownUndoKind, err)

		// 校验和合法但类型字节未知
		enc, err := encodeUndoRecord(&UndoRecord{Kind: UNDO_INSERT, TrxID: 1, Payload: InsertPayload{}})
		require.NoError(t, err)
		body := append([]byte(nil), enc[:len(enc)-8]...)
		body[0] = 0xEE
		corrupted := util.WriteUB8(body, util.HashCode(body))
		_, err = decodeUndoRecord(corrupted)
		assert.Equal(t, ErrUnknownUndoKind, err)
	})

	t.Run("类型与载荷不匹配", func(t *testing.T) {
		// 缺载荷的前镜像类记录
		_, err := encodeUndoRecord(&UndoRecord{Kind: UNDO_DELETE, TrxID: 1})
		assert.Equal(t, ErrUnknownUndoKind, err)
		// 载荷变体与类型对不上
		_, err = encodeUndoRecord(&UndoRecord{
			Kind:    UNDO_INSERT,
			TrxID:   1,
			Payload: TuplePayload{PreImage: []byte{0, 0, 0, 0, 5}},
		})
		assert.Equal(t, ErrUnknownUndoKind, err)
		// 同一载荷覆盖三种前镜像类记录
		for _, kind := range []UndoRecordKind{UNDO_DELETE, UNDO_UPDATE, UNDO_INPLACE_UPDATE} {
			_, err = encodeUndoRecord(&UndoRecord{
				Kind:    kind,
				TrxID:   1,
				Payload: TuplePayload{PreImage: []byte{0, 0, 0, 0, 5}},
			})
			assert.NoError(t, err)
		}
	})

	t.Run("前镜像短于元组头", func(t *testing.T) {
		enc, err := encodeUndoRecord(&UndoRecord{
			Kind:    UNDO_UPDATE,
			TrxID:   1,
			Payload: TuplePayload{PreImage: []byte{1, 2}},
		})
		require.NoError(t, err)
		_, err = decodeUndoRecord(enc)
		assert.Equal(t, ErrUndoRecordTruncated, err)
	})

	t.Run("校验和覆盖整个记录体", func(t *testing.T) {
		enc, err := encodeUndoRecord(&UndoRecord{Kind: UNDO_INSERT, TrxID: 9, Payload: InsertPayload{}})
		require.NoError(t, err)
		body := enc[:len(enc)-8]
		_, sum := util.ReadUB8(enc, len(enc)-8)
		assert.Equal(t, util.HashCode(body), sum)
	})
}

package pages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhukovaskychina/xmysql-undo/server/innodb/basic"
)

func makeTuple(payload string) []byte {
	tuple := make([]byte, TupleHeaderSize)
	return append(tuple, []byte(payload)...)
}

func TestTrxDataPageSlots(t *testing.T) {
	page := NewTrxDataPage(1, 100)

	t.Run("事务槽分配与查找", func(t *testing.T) {
		ptr := basic.MakeUndoRecPtr(1, 64)
		slot, err := page.AssignTrxSlot(10, ptr)
		require.NoError(t, err)
		assert.Equal(t, slot, page.FindTrxSlot(10))
		assert.Equal(t, ptr, page.TrxSlots[slot].UndoPtr)

		// 同一事务再次分配只更新指针
		ptr2 := basic.MakeUndoRecPtr(1, 128)
		slot2, err := page.AssignTrxSlot(10, ptr2)
		require.NoError(t, err)
		assert.Equal(t, slot, slot2)
		assert.Equal(t, ptr2, page.TrxSlots[slot].UndoPtr)
	})

	t.Run("槽位耗尽", func(t *testing.T) {
		p := NewTrxDataPage(1, 101)
		for i := 0; i < MaxPageTrxSlots; i++ {
			_, err := p.AssignTrxSlot(basic.TrxID(100+i), basic.MakeUndoRecPtr(1, uint64(i+1)))
			require.NoError(t, err)
		}
		_, err := p.AssignTrxSlot(999, basic.MakeUndoRecPtr(1, 512))
		assert.Equal(t, ErrNoFreeTrxSlot, err)
	})

	t.Run("清空槽位", func(t *testing.T) {
		slot := page.FindTrxSlot(10)
		require.GreaterOrEqual(t, slot, 0)
		page.ClearTrxSlot(slot)
		assert.Equal(t, -1, page.FindTrxSlot(10))
		assert.False(t, page.TrxSlots[slot].TrxID.IsValid())
		assert.False(t, page.TrxSlots[slot].UndoPtr.IsValid())
	})
}

func TestTrxDataPageTuples(t *testing.T) {
	page := NewTrxDataPage(1, 200)
	slot := page.AddTuple(makeTuple("hello"))

	t.Run("元组头覆写不碰payload", func(t *testing.T) {
		item, err := page.ItemAt(slot)
		require.NoError(t, err)
		item.SetHeader(TupleHeader{Infomask2: 0x1234, Infomask: 0x5678, Hoff: 24})
		hdr := item.Header()
		assert.Equal(t, uint16(0x1234), hdr.Infomask2)
		assert.Equal(t, uint16(0x5678), hdr.Infomask)
		assert.Equal(t, uint8(24), hdr.Hoff)
		assert.Equal(t, []byte("hello"), item.Tuple[TupleHeaderSize:])
	})

	t.Run("越界槽位", func(t *testing.T) {
		_, err := page.ItemAt(99)
		assert.Equal(t, ErrItemOutOfRange, err)
	})

	t.Run("可清理标记保留最早事务", func(t *testing.T) {
		page.SetPrunable(50)
		page.SetPrunable(40)
		page.SetPrunable(60)
		assert.Equal(t, basic.TrxID(40), page.PrunableTrxID)
	})
}

func TestTrxDataPageSerialize(t *testing.T) {
	page := NewTrxDataPage(3, 300)
	page.LSN = 77
	page.SetHasFreeSlots()
	page.SetPrunable(12)
	page.AddTuple(makeTuple("first"))
	dead := page.AddTuple(makeTuple("second"))
	item, _ := page.ItemAt(dead)
	item.State = ITEM_DEAD
	item.Flags = ITEM_FLAG_INVALID_XACT
	_, err := page.AssignTrxSlot(12, basic.MakeUndoRecPtr(2, 88))
	require.NoError(t, err)

	img := page.SerializeBytes()
	restored, err := ParseTrxDataPage(img)
	require.NoError(t, err)

	assert.Equal(t, page.SpaceID, restored.SpaceID)
	assert.Equal(t, page.PageNo, restored.PageNo)
	assert.Equal(t, page.LSN, restored.LSN)
	assert.True(t, restored.HasFreeSlots())
	assert.Equal(t, basic.TrxID(12), restored.PrunableTrxID)
	assert.Equal(t, page.TrxSlots, restored.TrxSlots)
	require.Len(t, restored.Items, 2)
	assert.Equal(t, ITEM_DEAD, restored.Items[1].State)
	assert.Equal(t, ITEM_FLAG_INVALID_XACT, restored.Items[1].Flags)
	assert.Equal(t, page.Items[0].Tuple, restored.Items[0].Tuple)

	t.Run("损坏镜像", func(t *testing.T) {
		_, err := ParseTrxDataPage(img[:10])
		assert.Equal(t, ErrPageCorrupted, err)
	})
}

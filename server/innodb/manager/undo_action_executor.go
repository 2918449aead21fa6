package manager

import (
	"github.com/juju/errors"
	"github.com/zhukovaskychina/xmysql-undo/logger"
	"github.com/zhukovaskychina/xmysql-undo/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-undo/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/xmysql-undo/server/innodb/storage/store/pages"
)

// UndoActionExecutor undo动作执行器
// 在两个记录指针之间按时间逆序回放undo链，把受影响页面恢复到事务前状态
// 事务回滚与后台回收都会并发调用，页面排他锁是两者之间唯一的串行化点
type UndoActionExecutor struct {
	undoMgr *UndoLogManager
	tables  *TableRegistry
	pool    *buffer_pool.BufferPool
	redo    *RedoLogManager
}

// NewUndoActionExecutor 创建undo动作执行器
func NewUndoActionExecutor(undoMgr *UndoLogManager, tables *TableRegistry,
	pool *buffer_pool.BufferPool, redo *RedoLogManager) *UndoActionExecutor {
	return &UndoActionExecutor{
		undoMgr: undoMgr,
		tables:  tables,
		pool:    pool,
		redo:    redo,
	}
}

// ExecuteUndoActions 从fromPtr回放到toPtr（含）
//
// toPtr无效时默认回放到fromPtr所在日志中当前事务的起点，即整事务回滚；
// 事务链跨日志时拒绝执行。连续落在同一(表,分支,页)上的记录聚成一个批次，
// 一次页锁、一条持久化记录内整体回放。
// 链上记录已被并发丢弃时静默返回：丢弃已经发生即证明无动作可回放。
func (e *UndoActionExecutor) ExecuteUndoActions(fromPtr, toPtr basic.UndoRecPtr, isFullRollback bool) error {
	if !fromPtr.IsValid() {
		return ErrInvalidUndoRecPtr
	}
	if !toPtr.IsValid() {
		toPtr = e.undoMgr.LastTrxStartPoint(fromPtr.LogNo())
		if !toPtr.IsValid() {
			return nil
		}
	}
	if fromPtr.LogNo() != toPtr.LogNo() {
		return ErrCrossLogChain
	}

	var (
		run      []*UndoRecordHandle
		havePrev bool
		runSpace uint32
		runTable uint64
		runFork  uint8
		runPage  uint32
		runTrx   basic.TrxID
		savePtr  basic.UndoRecPtr
	)
	releaseRun := func() {
		for _, h := range run {
			h.Release()
		}
		run = run[:0]
	}
	defer releaseRun()

	urecPtr := fromPtr
	for urecPtr.IsValid() && urecPtr.Offset() >= toPtr.Offset() {
		h, err := e.undoMgr.FetchRecord(urecPtr)
		if err == ErrUndoRecordNotFound {
			// 记录已被后台回收丢弃，说明没有剩余动作需要回放
			return nil
		}
		if err != nil {
			return errors.Trace(err)
		}
		rec := h.Rec

		if havePrev && !(runSpace == rec.SpaceID && runTable == rec.TableID &&
			runFork == rec.Fork && runPage == rec.PageNo) {
			// 换页了，先把手上的同页批次回放掉
			if err := e.applyPageRun(run, savePtr, runTrx, runSpace, runTable,
				runPage, isFullRollback && !savePtr.IsValid(), isFullRollback); err != nil {
				h.Release()
				return err
			}
			releaseRun()
		}

		run = append(run, h)
		havePrev = true
		runSpace, runTable, runFork, runPage = rec.SpaceID, rec.TableID, rec.Fork, rec.PageNo
		runTrx = rec.TrxID
		savePtr = rec.BlkPrev

		if rec.PrevLen > 0 {
			prev := e.undoMgr.PrevRecPtr(urecPtr, rec.PrevLen)
			if prev.IsValid() && prev.Offset() >= toPtr.Offset() {
				urecPtr = prev
				continue
			}
		}
		// 目标范围内的链已走完
		break
	}

	if len(run) > 0 {
		if err := e.applyPageRun(run, savePtr, runTrx, runSpace, runTable,
			runPage, isFullRollback && !savePtr.IsValid(), isFullRollback); err != nil {
			return err
		}
		releaseRun()
	}

	if !isFullRollback {
		// 把插入游标回退到被撤销子区间的起点，防止中间undo被重复回放。
		// 回退量由终点记录里保存的前记录长度还原，无需额外持久化记录。
		h, err := e.undoMgr.FetchRecord(toPtr)
		if err == ErrUndoRecordNotFound {
			return nil
		}
		if err != nil {
			return errors.Trace(err)
		}
		prevLen := h.Rec.PrevLen
		h.Release()
		if err := e.undoMgr.RewindInsert(toPtr, prevLen); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// applyPageRun 回放一个同页批次
//
// 批次回放完后检查事务槽：该页的链已完结则清空槽位，
// 否则把槽内指针回退到该页最后一条未回放记录。
// 元组修改、槽位更新、脏页标记与全页镜像写出在页锁内一体完成。
func (e *UndoActionExecutor) applyPageRun(run []*UndoRecordHandle, rewindPtr basic.UndoRecPtr,
	trxID basic.TrxID, spaceID uint32, tableID uint64, pageNo uint32,
	chainComplete, isFullRollback bool) error {

	info, ok := e.tables.Lookup(tableID)
	if !ok {
		// 表已被删除，数据随表一起消失，无须恢复
		logger.Warnf("忽略表%d页%d的undo回放：表已不存在", tableID, pageNo)
		return nil
	}

	bp := e.pool.GetPage(spaceID, pageNo)
	bp.Lock()
	defer bp.Unlock()
	page := bp.Page()

	slotNo := page.FindTrxSlot(trxID)
	if slotNo < 0 {
		// 事务槽已被回收复用，页面上已经是更新的内容
		logger.Debugf("事务%d在页%d上的事务槽已不存在，跳过该批次", trxID, pageNo)
		return nil
	}
	// 幂等守卫：槽内指针不比回退目标新，说明这批动作已经回放过
	if page.TrxSlots[slotNo].UndoPtr <= rewindPtr {
		return nil
	}

	for _, h := range run {
		if err := e.applyRecord(page, info, h.Rec, trxID, isFullRollback); err != nil {
			return err
		}
	}

	if chainComplete {
		page.ClearTrxSlot(slotNo)
	} else {
		page.SetTrxSlotPtr(slotNo, rewindPtr)
	}
	bp.MarkDirty()

	if info.Logged {
		image := page.SerializeBytes()
		lsn, err := e.redo.AppendPageImage(spaceID, pageNo, image)
		if err != nil {
			return errors.Trace(err)
		}
		bp.SetLSN(lsn)
	}
	return nil
}

// applyRecord 按记录类型回放单条undo
func (e *UndoActionExecutor) applyRecord(page *pages.TrxDataPage, info *TableInfo,
	rec *UndoRecord, trxID basic.TrxID, isFullRollback bool) error {

	switch p := rec.Payload.(type) {
	case InsertPayload:
		return e.undoActionInsert(page, info, rec.Slot, trxID)

	case MultiInsertPayload:
		for slot := p.StartSlot; slot <= p.EndSlot; slot++ {
			if err := e.undoActionInsert(page, info, slot, trxID); err != nil {
				return err
			}
		}
		return nil

	case TuplePayload:
		// 删除/更新/原地更新：用前镜像整体覆盖元组内容与长度
		item, err := page.ItemAt(rec.Slot)
		if err != nil {
			return errors.Trace(err)
		}
		item.Tuple = make([]byte, len(p.PreImage))
		copy(item.Tuple, p.PreImage)
		return nil

	case LockPayload:
		// 仅加锁的undo只恢复元组头控制字段，payload未被改过
		item, err := page.ItemAt(rec.Slot)
		if err != nil {
			return errors.Trace(err)
		}
		item.SetHeader(pages.TupleHeader{
			Infomask2: p.Infomask2,
			Infomask:  p.Infomask,
			Hoff:      p.Hoff,
		})
		return nil

	case InvalidSlotPayload:
		// 只有回退插入游标的部分回滚才需要清掉失效标记
		if isFullRollback {
			return nil
		}
		item, err := page.ItemAt(rec.Slot)
		if err != nil {
			return errors.Trace(err)
		}
		if item.State == pages.ITEM_DELETED {
			item.Flags &^= pages.ITEM_FLAG_INVALID_XACT
		} else {
			hdr := item.Header()
			hdr.Infomask &^= pages.TUPLE_INVALID_XACT_SLOT
			item.SetHeader(hdr)
		}
		return nil

	default:
		// 未知记录类型意味着undo流损坏或版本不匹配
		return errors.Trace(ErrUnknownUndoKind)
	}
}

// undoActionInsert 回放插入undo
// 表带二级索引时元组仍可从索引到达，只能标记逻辑死亡；
// 否则直接标记可复用并设置页面空闲提示位
func (e *UndoActionExecutor) undoActionInsert(page *pages.TrxDataPage, info *TableInfo,
	slot uint16, trxID basic.TrxID) error {

	item, err := page.ItemAt(slot)
	if err != nil {
		return errors.Trace(err)
	}
	if info.HasIndex {
		item.State = pages.ITEM_DEAD
	} else {
		item.State = pages.ITEM_UNUSED
		item.Tuple = nil
		page.SetHasFreeSlots()
	}
	page.SetPrunable(trxID)
	return nil
}

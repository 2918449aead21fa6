package manager

import (
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xmysql-undo/logger"
	"github.com/zhukovaskychina/xmysql-undo/server/innodb/basic"
	"go.uber.org/atomic"
)

// UndoPurgeManager undo后台回收器
// 从每个日志的discard点向前扫描事务链，推进可回收边界，
// 并对外发布全局水位线：所有日志中最老的未消费事务
type UndoPurgeManager struct {
	mu       sync.Mutex // 串行化回收扫描
	undoMgr  *UndoLogManager
	trxSys   *TrxSysManager
	executor *UndoActionExecutor

	// 水位线：epoch<<32|trxID，单值原子发布
	watermark *atomic.Uint64

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewUndoPurgeManager 创建undo回收器
func NewUndoPurgeManager(undoMgr *UndoLogManager, trxSys *TrxSysManager,
	executor *UndoActionExecutor) *UndoPurgeManager {
	return &UndoPurgeManager{
		undoMgr:   undoMgr,
		trxSys:    trxSys,
		executor:  executor,
		watermark: atomic.NewUint64(0),
	}
}

// DiscardUndo 丢弃所有事务ID早于xmin且不再被需要的undo
//
// 每个日志逐事务向前扫描：已中止的事务在被回收之前必须先整体回放其undo。
// hibernate置为false当且仅当本轮有日志产生了可丢弃内容，
// 调用方据此决定下一轮之前睡多久。
func (m *UndoPurgeManager) DiscardUndo(xmin basic.TrxID, hibernate *bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	*hibernate = true
	oldest := xmin
	epoch := m.trxSys.EpochOf(xmin)

	for _, log := range m.undoMgr.Logs() {
		trxID, ep, err := m.discardOneLog(log, xmin, hibernate)
		if err != nil {
			return err
		}
		if trxID.IsValid() && basic.TrxIDPrecedes(trxID, oldest) {
			oldest = trxID
			epoch = ep
		}
	}

	m.watermark.Store(basic.MakeEpochTrxID(epoch, oldest))
	return nil
}

// discardOneLog 处理单个undo日志
//
// 返回日志中剩余的最老事务，日志被清空时返回无效ID。
// 扫描从discard游标开始，逐个事务链头判断：
// 提交且早于xmin的跳过，中止且早于xmin的先回放再跳过，
// 到达不早于xmin的事务或后继未知时停下，该处即新的回收边界。
func (m *UndoPurgeManager) discardOneLog(log *UndoLog, xmin basic.TrxID, hibernate *bool) (basic.TrxID, uint32, error) {
	insert, discard := log.Meta()
	if insert == discard {
		// 空日志
		return basic.InvalidTrxID, 0, nil
	}
	if oldID, oldEp := log.OldestTrx(); oldID.IsValid() && !basic.TrxIDPrecedes(oldID, xmin) {
		// 记录的最老事务尚不可回收，无须扫描
		return oldID, oldEp, nil
	}

	undoRecPtr := basic.MakeUndoRecPtr(log.LogNo(), discard)
	needDiscard := false
	latestDiscardTrx := basic.InvalidTrxID

	for {
		h, err := m.undoMgr.FetchRecord(undoRecPtr)
		if err != nil {
			return basic.InvalidTrxID, 0, errors.Trace(err)
		}
		undoTrx := h.Rec.TrxID
		epoch := h.Rec.Epoch
		nextPtr := h.Rec.NextTrx
		committed := m.trxSys.DidCommit(undoTrx)

		if !committed && basic.TrxIDPrecedes(undoTrx, xmin) {
			// 中止事务：回收它的undo之前必须先完成整事务回放
			var fromPtr basic.UndoRecPtr
			if nextPtr != basic.SpecialUndoRecPtr && nextPtr.IsValid() {
				nh, err := m.undoMgr.FetchRecord(nextPtr)
				if err != nil {
					h.Release()
					return basic.InvalidTrxID, 0, errors.Trace(err)
				}
				fromPtr = m.undoMgr.PrevRecPtr(nextPtr, nh.Rec.PrevLen)
				nh.Release()
			} else {
				// 后继未知时由日志的下一插入位置倒推链尾
				prevLen := m.undoMgr.PrevRecordLen(log.LogNo())
				nextInsert := m.undoMgr.NextInsertPtr(log.LogNo(), undoTrx)
				if !nextInsert.IsValid() {
					// 已有新事务接续，链头的后继指针随之可用，重读本条
					h.Release()
					continue
				}
				fromPtr = m.undoMgr.PrevRecPtr(nextInsert, prevLen)
			}
			h.Release()
			h = nil
			if err := m.executor.ExecuteUndoActions(fromPtr, undoRecPtr, true); err != nil {
				return basic.InvalidTrxID, 0, errors.Trace(err)
			}
		}

		// 到达边界：事务不早于xmin，或后继指针缺失
		if basic.TrxIDFollowsOrEquals(undoTrx, xmin) ||
			nextPtr == basic.SpecialUndoRecPtr || !nextPtr.IsValid() {
			if h != nil {
				h.Release()
			}

			if basic.TrxIDPrecedes(undoTrx, xmin) {
				// 边界事务自身也早于xmin且是日志里最后一个事务，
				// 丢弃可以一路推进到插入游标，日志随之清空
				nextInsert := m.undoMgr.NextInsertPtr(log.LogNo(), undoTrx)
				if !nextInsert.IsValid() {
					// 新事务刚刚接上，重新扫描本条
					continue
				}
				undoRecPtr = nextInsert
				needDiscard = true
				epoch = 0
				latestDiscardTrx = undoTrx
				undoTrx = basic.InvalidTrxID
			}

			log.SetOldestTrx(undoTrx, epoch)

			if needDiscard {
				// 有可丢弃内容，本轮不能休眠
				*hibernate = false
				if err := m.undoMgr.Discard(undoRecPtr, latestDiscardTrx); err != nil {
					return basic.InvalidTrxID, 0, errors.Trace(err)
				}
			}
			return undoTrx, epoch, nil
		}

		// 这个事务早于xmin且已处理完，跳到下一个事务
		undoRecPtr = nextPtr
		latestDiscardTrx = undoTrx
		needDiscard = true
		h.Release()
	}
}

// OldestTrxWithUndo 读取水位线：最老仍有未消费undo的事务及其epoch
func (m *UndoPurgeManager) OldestTrxWithUndo() (uint32, basic.TrxID) {
	return basic.SplitEpochTrxID(m.watermark.Load())
}

// StartWorker 启动后台回收协程
// 每个周期做一轮DiscardUndo，一轮下来无事可做时按倍数拉长休眠
func (m *UndoPurgeManager) StartWorker(interval time.Duration, hibernateMultiplier int) {
	m.stop = make(chan struct{})
	m.wg.Add(1)
	go m.workerLoop(interval, hibernateMultiplier)
}

func (m *UndoPurgeManager) workerLoop(interval time.Duration, hibernateMultiplier int) {
	defer m.wg.Done()
	if hibernateMultiplier < 1 {
		hibernateMultiplier = 1
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-timer.C:
		}

		hibernate := false
		xmin := m.trxSys.OldestActiveTrxID()
		if err := m.DiscardUndo(xmin, &hibernate); err != nil {
			logger.Errorf("后台undo回收一轮失败: %v", err)
		}

		next := interval
		if hibernate {
			next = interval * time.Duration(hibernateMultiplier)
		}
		timer.Reset(next)
	}
}

// Stop 停止后台回收协程
func (m *UndoPurgeManager) Stop() {
	if m.stop == nil {
		return
	}
	close(m.stop)
	m.wg.Wait()
	m.stop = nil
}

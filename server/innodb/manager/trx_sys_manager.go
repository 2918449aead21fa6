package manager

import (
	"sync"

	"github.com/zhukovaskychina/xmysql-undo/server/innodb/basic"
)

// 事务状态
const (
	TRX_STATE_ACTIVE uint8 = iota + 1
	TRX_STATE_COMMITTED
	TRX_STATE_ROLLED_BACK
)

// TrxSysManager 事务系统：提交/中止状态与epoch的权威来源
// 事务ID为32位循环分配，回卷时epoch加一
type TrxSysManager struct {
	mu        sync.RWMutex
	nextTrxID basic.TrxID
	epoch     uint32

	status map[basic.TrxID]uint8
	epochs map[basic.TrxID]uint32
}

// NewTrxSysManager 创建事务系统
func NewTrxSysManager() *TrxSysManager {
	return &TrxSysManager{
		nextTrxID: basic.InvalidTrxID + 1,
		status:    make(map[basic.TrxID]uint8),
		epochs:    make(map[basic.TrxID]uint32),
	}
}

// Begin 开始新事务，分配事务ID
func (ts *TrxSysManager) Begin() basic.TrxID {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	trxID := ts.nextTrxID
	ts.nextTrxID++
	if !ts.nextTrxID.IsValid() {
		// 回卷，跳过保留的无效ID
		ts.nextTrxID = basic.InvalidTrxID + 1
		ts.epoch++
	}
	ts.status[trxID] = TRX_STATE_ACTIVE
	ts.epochs[trxID] = ts.epoch
	return trxID
}

// RegisterTrx 登记一个既有事务，重启后从undo流中识别出的事务走这里
func (ts *TrxSysManager) RegisterTrx(trxID basic.TrxID, epoch uint32) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if _, ok := ts.status[trxID]; !ok {
		ts.status[trxID] = TRX_STATE_ACTIVE
	}
	ts.epochs[trxID] = epoch
	if basic.TrxIDFollowsOrEquals(trxID, ts.nextTrxID) {
		ts.nextTrxID = trxID + 1
		ts.epoch = epoch
	}
}

// Commit 提交事务
func (ts *TrxSysManager) Commit(trxID basic.TrxID) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if _, ok := ts.status[trxID]; !ok {
		return ErrTrxNotFound
	}
	ts.status[trxID] = TRX_STATE_COMMITTED
	return nil
}

// Abort 中止事务
func (ts *TrxSysManager) Abort(trxID basic.TrxID) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if _, ok := ts.status[trxID]; !ok {
		return ErrTrxNotFound
	}
	ts.status[trxID] = TRX_STATE_ROLLED_BACK
	return nil
}

// DidCommit 事务是否已提交
func (ts *TrxSysManager) DidCommit(trxID basic.TrxID) bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.status[trxID] == TRX_STATE_COMMITTED
}

// EpochOf 事务所属epoch，未知事务取当前epoch
func (ts *TrxSysManager) EpochOf(trxID basic.TrxID) uint32 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if epoch, ok := ts.epochs[trxID]; ok {
		return epoch
	}
	return ts.epoch
}

// OldestActiveTrxID 当前最老的活跃事务，没有活跃事务时返回下一个待分配ID
// 后台回收以它为xmin
func (ts *TrxSysManager) OldestActiveTrxID() basic.TrxID {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	oldest := basic.InvalidTrxID
	for trxID, state := range ts.status {
		if state != TRX_STATE_ACTIVE {
			continue
		}
		if !oldest.IsValid() || basic.TrxIDPrecedes(trxID, oldest) {
			oldest = trxID
		}
	}
	if !oldest.IsValid() {
		return ts.nextTrxID
	}
	return oldest
}

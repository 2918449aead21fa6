package manager

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xmysql-undo/logger"
	"github.com/zhukovaskychina/xmysql-undo/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-undo/server/innodb/latch"
	"github.com/zhukovaskychina/xmysql-undo/util"
)

// storedUndoRecord undo记录在存储中的驻留形态
// 记录被取用期间置pin，丢弃后等最后一个取用者释放再物理删除
type storedUndoRecord struct {
	rec       *UndoRecord
	pins      int
	discarded bool
}

// UndoLog 单个undo日志：按类别追加的记录流
// insert与discard游标单调推进，恒有 discard <= insert
type UndoLog struct {
	latch *latch.Latch
	logNo uint32

	insert  uint64 // 下一条记录的写入偏移
	discard uint64 // 首条未丢弃记录的偏移

	oldestTrxID basic.TrxID // 本日志中仍有未消费undo的最老事务
	oldestEpoch uint32

	prevLen      uint16 // 最近一条已写记录的编码长度
	lastTrxID    basic.TrxID
	lastTrxStart uint64 // 最近一个事务链头的偏移

	records map[uint64]*storedUndoRecord
}

// LogNo 日志号
func (l *UndoLog) LogNo() uint32 {
	return l.logNo
}

// Meta 读取insert与discard游标
func (l *UndoLog) Meta() (insert, discard uint64) {
	l.latch.RLock()
	defer l.latch.RUnlock()
	return l.insert, l.discard
}

// OldestTrx 本日志最老的未消费事务
func (l *UndoLog) OldestTrx() (basic.TrxID, uint32) {
	l.latch.RLock()
	defer l.latch.RUnlock()
	return l.oldestTrxID, l.oldestEpoch
}

// SetOldestTrx 更新本日志最老的未消费事务
func (l *UndoLog) SetOldestTrx(trxID basic.TrxID, epoch uint32) {
	l.latch.Lock()
	defer l.latch.Unlock()
	l.oldestTrxID = trxID
	l.oldestEpoch = epoch
}

// UndoRecordHandle 已取用undo记录的句柄，任何退出路径都必须Release
type UndoRecordHandle struct {
	log      *UndoLog
	off      uint64
	Rec      *UndoRecord
	released bool
}

// Release 归还记录，重复调用无害
func (h *UndoRecordHandle) Release() {
	if h == nil || h.released {
		return
	}
	h.released = true
	h.log.latch.Lock()
	defer h.log.latch.Unlock()
	sr, ok := h.log.records[h.off]
	if !ok {
		return
	}
	sr.pins--
	if sr.discarded && sr.pins <= 0 {
		delete(h.log.records, h.off)
	}
}

// UndoLogManager undo日志管理器
// 维护所有undo日志的游标元数据，并提供按指针取记录的存储访问
type UndoLogManager struct {
	mu      sync.RWMutex
	logs    map[uint32]*UndoLog
	undoDir string
	files   map[uint32]*os.File // 日志号 -> 追加写文件
}

// NewUndoLogManager 创建undo日志管理器
func NewUndoLogManager(undoDir string) (*UndoLogManager, error) {
	if err := os.MkdirAll(undoDir, 0755); err != nil {
		return nil, errors.Trace(err)
	}
	return &UndoLogManager{
		logs:    make(map[uint32]*UndoLog),
		files:   make(map[uint32]*os.File),
		undoDir: undoDir,
	}, nil
}

func (u *UndoLogManager) getOrCreateLog(logNo uint32) (*UndoLog, *os.File, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if log, ok := u.logs[logNo]; ok {
		return log, u.files[logNo], nil
	}

	file, err := os.OpenFile(
		filepath.Join(u.undoDir, fmt.Sprintf("undo_%06d.log", logNo)),
		os.O_CREATE|os.O_RDWR|os.O_APPEND,
		0644,
	)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}

	log := &UndoLog{
		latch:   latch.NewLatch(),
		logNo:   logNo,
		insert:  basic.UndoLogFirstOffset,
		discard: basic.UndoLogFirstOffset,
		records: make(map[uint64]*storedUndoRecord),
	}
	u.logs[logNo] = log
	u.files[logNo] = file
	return log, file, nil
}

func (u *UndoLogManager) getLog(logNo uint32) (*UndoLog, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	log, ok := u.logs[logNo]
	return log, ok
}

// Logs 按日志号升序返回所有undo日志
func (u *UndoLogManager) Logs() []*UndoLog {
	u.mu.RLock()
	defer u.mu.RUnlock()
	logNos := make([]uint32, 0, len(u.logs))
	for logNo := range u.logs {
		logNos = append(logNos, logNo)
	}
	sort.Slice(logNos, func(i, j int) bool { return logNos[i] < logNos[j] })
	logs := make([]*UndoLog, 0, len(logNos))
	for _, logNo := range logNos {
		logs = append(logs, u.logs[logNo])
	}
	return logs
}

// Append 向指定undo日志追加一条记录，返回分配的记录指针
func (u *UndoLogManager) Append(logNo uint32, rec *UndoRecord) (basic.UndoRecPtr, error) {
	log, file, err := u.getOrCreateLog(logNo)
	if err != nil {
		return basic.InvalidUndoRecPtr, err
	}

	log.latch.Lock()
	defer log.latch.Unlock()

	offset := log.insert
	rec.PrevLen = log.prevLen
	rec.NextTrx = basic.SpecialUndoRecPtr

	if !basic.TrxIDEquals(rec.TrxID, log.lastTrxID) {
		// 新事务开始，把上一个事务链头的后继指针补上
		if prevHead, ok := log.records[log.lastTrxStart]; ok {
			prevHead.rec.NextTrx = basic.MakeUndoRecPtr(logNo, offset)
		}
		log.lastTrxID = rec.TrxID
		log.lastTrxStart = offset
	}
	if !log.oldestTrxID.IsValid() {
		log.oldestTrxID = rec.TrxID
		log.oldestEpoch = rec.Epoch
	}

	enc, err := encodeUndoRecord(rec)
	if err != nil {
		return basic.InvalidUndoRecPtr, errors.Trace(err)
	}
	if offset+uint64(len(enc)) > basic.UndoLogMaxOffset {
		return basic.InvalidUndoRecPtr, errors.Errorf("undo log %d overflow", logNo)
	}

	// 存储侧持有自己的副本，与调用方解耦
	stored, err := decodeUndoRecord(enc)
	if err != nil {
		return basic.InvalidUndoRecPtr, errors.Trace(err)
	}
	ptr := basic.MakeUndoRecPtr(logNo, offset)
	stored.Ptr = ptr
	rec.Ptr = ptr

	log.records[offset] = &storedUndoRecord{rec: stored}
	log.insert = offset + uint64(len(enc))
	log.prevLen = uint16(len(enc))

	if err := u.writeRecordToFile(file, enc); err != nil {
		return basic.InvalidUndoRecPtr, err
	}
	return ptr, nil
}

// writeRecordToFile 将编码后的记录落盘，长度前缀便于顺序回扫
func (u *UndoLogManager) writeRecordToFile(file *os.File, enc []byte) error {
	var buf []byte
	buf = util.WriteUB4(buf, uint32(len(enc)))
	buf = util.WriteBytes(buf, enc)
	if _, err := file.Write(buf); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(file.Sync())
}

// FetchRecord 按指针取记录，句柄持有记录的快照
// 链头的后继指针可能被后续Append在存储侧补写，快照不随之变化，
// 需要新值的调用方重新取一次记录
// 记录已被并发丢弃时返回ErrUndoRecordNotFound，调用方以此静默收尾
func (u *UndoLogManager) FetchRecord(ptr basic.UndoRecPtr) (*UndoRecordHandle, error) {
	if !ptr.IsValid() || ptr == basic.SpecialUndoRecPtr {
		return nil, ErrInvalidUndoRecPtr
	}
	log, ok := u.getLog(ptr.LogNo())
	if !ok {
		return nil, ErrUndoLogNotFound
	}

	log.latch.Lock()
	defer log.latch.Unlock()

	offset := ptr.Offset()
	sr, ok := log.records[offset]
	if !ok || sr.discarded || offset < log.discard {
		return nil, ErrUndoRecordNotFound
	}
	sr.pins++
	snap := *sr.rec
	return &UndoRecordHandle{log: log, off: offset, Rec: &snap}, nil
}

// PrevRecPtr 由当前指针和前一条记录长度倒推前一条记录的指针
func (u *UndoLogManager) PrevRecPtr(ptr basic.UndoRecPtr, prevLen uint16) basic.UndoRecPtr {
	if !ptr.IsValid() || prevLen == 0 {
		return basic.InvalidUndoRecPtr
	}
	offset := ptr.Offset()
	if offset < uint64(prevLen)+basic.UndoLogFirstOffset {
		return basic.InvalidUndoRecPtr
	}
	return basic.MakeUndoRecPtr(ptr.LogNo(), offset-uint64(prevLen))
}

// PrevRecordLen 日志最近一条记录的编码长度
func (u *UndoLogManager) PrevRecordLen(logNo uint32) uint16 {
	log, ok := u.getLog(logNo)
	if !ok {
		return 0
	}
	log.latch.RLock()
	defer log.latch.RUnlock()
	return log.prevLen
}

// NextInsertPtr 事务仍是日志中最后一个事务时，返回当前插入游标
// 已有新事务接续时返回无效指针
func (u *UndoLogManager) NextInsertPtr(logNo uint32, trxID basic.TrxID) basic.UndoRecPtr {
	log, ok := u.getLog(logNo)
	if !ok {
		return basic.InvalidUndoRecPtr
	}
	log.latch.RLock()
	defer log.latch.RUnlock()
	if !basic.TrxIDEquals(log.lastTrxID, trxID) {
		return basic.InvalidUndoRecPtr
	}
	return basic.MakeUndoRecPtr(logNo, log.insert)
}

// LastTrxStartPoint 日志中最后一个事务链头的指针，整事务回滚的默认终点
func (u *UndoLogManager) LastTrxStartPoint(logNo uint32) basic.UndoRecPtr {
	log, ok := u.getLog(logNo)
	if !ok {
		return basic.InvalidUndoRecPtr
	}
	log.latch.RLock()
	defer log.latch.RUnlock()
	if log.insert == basic.UndoLogFirstOffset {
		return basic.InvalidUndoRecPtr
	}
	return basic.MakeUndoRecPtr(logNo, log.lastTrxStart)
}

// RewindInsert 部分回滚后把插入游标回退到被撤销子区间的起点
// 回退无需单独的持久化记录，崩溃后可由仍然完好的undo记录重建
func (u *UndoLogManager) RewindInsert(toPtr basic.UndoRecPtr, prevLen uint16) error {
	log, ok := u.getLog(toPtr.LogNo())
	if !ok {
		return ErrUndoLogNotFound
	}
	log.latch.Lock()
	defer log.latch.Unlock()

	offset := toPtr.Offset()
	for off := range log.records {
		if off >= offset {
			delete(log.records, off)
		}
	}
	log.insert = offset
	log.prevLen = prevLen
	logger.Debugf("undo日志%d插入游标回退至%d", log.logNo, offset)
	return nil
}

// Discard 丢弃uptoPtr之前的所有记录并推进discard游标
// 被pin住的记录延迟到释放时物理删除
func (u *UndoLogManager) Discard(uptoPtr basic.UndoRecPtr, latestTrxID basic.TrxID) error {
	log, ok := u.getLog(uptoPtr.LogNo())
	if !ok {
		return ErrUndoLogNotFound
	}
	log.latch.Lock()
	defer log.latch.Unlock()

	upto := uptoPtr.Offset()
	if upto > log.insert {
		return ErrDiscardPastInsert
	}
	for off, sr := range log.records {
		if off < upto {
			sr.discarded = true
			if sr.pins <= 0 {
				delete(log.records, off)
			}
		}
	}
	log.discard = upto
	logger.Debugf("undo日志%d丢弃至偏移%d，最近丢弃事务%d", log.logNo, upto, latestTrxID)
	return nil
}

// Close 关闭所有undo日志文件
func (u *UndoLogManager) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	var firstErr error
	for _, file := range u.files {
		if err := file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

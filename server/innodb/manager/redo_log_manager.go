package manager

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/snappy"
	"github.com/juju/errors"
	"github.com/zhukovaskychina/xmysql-undo/util"
)

// PageImageRecord "对页面应用undo"的持久化记录，携带全页镜像
// 回放时原样安装镜像
type PageImageRecord struct {
	LSN     uint64
	SpaceID uint32
	PageNo  uint32
	Image   []byte
}

// redo记录头长度：lsn(8)+space(4)+page(4)+rawLen(4)+compLen(4)+checksum(8)
const redoHeaderSize = 32

// RedoLogManager 重做日志管理器
// 本子系统只产生一种记录：undo回放后的全页镜像
type RedoLogManager struct {
	mu      sync.Mutex
	logFile *os.File
	nextLSN uint64
	logDir  string
}

// NewRedoLogManager 创建重做日志管理器
func NewRedoLogManager(logDir string) (*RedoLogManager, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, errors.Trace(err)
	}

	logFile, err := os.OpenFile(
		filepath.Join(logDir, "redo.log"),
		os.O_CREATE|os.O_RDWR|os.O_APPEND,
		0644,
	)
	if err != nil {
		return nil, errors.Trace(err)
	}

	return &RedoLogManager{
		logFile: logFile,
		nextLSN: 1,
		logDir:  logDir,
	}, nil
}

// AppendPageImage 追加一条全页镜像记录并立即落盘，返回分配的LSN
// 页面修改在本记录持久化之前不视为已持久
func (r *RedoLogManager) AppendPageImage(spaceID, pageNo uint32, image []byte) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lsn := r.nextLSN
	r.nextLSN++

	compressed := snappy.Encode(nil, image)
	var buf []byte
	buf = util.WriteUB8(buf, lsn)
	buf = util.WriteUB4(buf, spaceID)
	buf = util.WriteUB4(buf, pageNo)
	buf = util.WriteUB4(buf, uint32(len(image)))
	buf = util.WriteUB4(buf, uint32(len(compressed)))
	buf = util.WriteUB8(buf, util.HashCode(image))
	buf = util.WriteBytes(buf, compressed)

	if _, err := r.logFile.Write(buf); err != nil {
		return 0, errors.Trace(err)
	}
	if err := r.logFile.Sync(); err != nil {
		return 0, errors.Trace(err)
	}
	return lsn, nil
}

// Replay 从头回放全部镜像记录
// 安装镜像是幂等的，重复回放得到相同页面
func (r *RedoLogManager) Replay(apply func(rec *PageImageRecord) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.logFile.Seek(0, io.SeekStart); err != nil {
		return errors.Trace(err)
	}

	header := make([]byte, redoHeaderSize)
	for {
		if _, err := io.ReadFull(r.logFile, header); err != nil {
			if err == io.EOF {
				return nil
			}
			if err == io.ErrUnexpectedEOF {
				return ErrRedoLogCorrupted
			}
			return errors.Trace(err)
		}

		cursor := 0
		rec := &PageImageRecord{}
		cursor, rec.LSN = util.ReadUB8(header, cursor)
		cursor, rec.SpaceID = util.ReadUB4(header, cursor)
		cursor, rec.PageNo = util.ReadUB4(header, cursor)
		var rawLen, compLen uint32
		cursor, rawLen = util.ReadUB4(header, cursor)
		cursor, compLen = util.ReadUB4(header, cursor)
		var checksum uint64
		_, checksum = util.ReadUB8(header, cursor)

		compressed := make([]byte, compLen)
		if _, err := io.ReadFull(r.logFile, compressed); err != nil {
			return ErrRedoLogCorrupted
		}
		image, err := snappy.Decode(make([]byte, 0, rawLen), compressed)
		if err != nil {
			return ErrRedoLogCorrupted
		}
		if util.HashCode(image) != checksum {
			return ErrRedoRecordChecksum
		}
		rec.Image = image

		if err := apply(rec); err != nil {
			return errors.Trace(err)
		}
	}
}

// Close 关闭重做日志
func (r *RedoLogManager) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logFile.Close()
}

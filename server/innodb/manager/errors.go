package manager

import "errors"

// Undo记录与undo日志相关错误
var (
	ErrUndoRecordNotFound  = errors.New("undo record not found or already discarded")
	ErrUndoRecordChecksum  = errors.New("undo record checksum mismatch")
	ErrUndoRecordTruncated = errors.New("undo record payload truncated")
	ErrUnknownUndoKind     = errors.New("unsupported undo record kind")
	ErrInvalidUndoRecPtr   = errors.New("invalid undo record pointer")
	ErrCrossLogChain       = errors.New("transaction undo chain crosses log boundary")
	ErrUndoLogNotFound     = errors.New("undo log not found")
	ErrDiscardPastInsert   = errors.New("discard pointer beyond insert pointer")
)

// Redo日志相关错误
var (
	ErrRedoRecordChecksum = errors.New("redo page image checksum mismatch")
	ErrRedoLogCorrupted   = errors.New("redo log stream corrupted")
)

// 事务系统相关错误
var (
	ErrTrxNotFound      = errors.New("transaction not found")
	ErrTrxAlreadyExists = errors.New("transaction already exists")
)

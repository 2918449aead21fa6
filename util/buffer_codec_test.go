package util

import (
	"testing"

	. "github.com/smartystreets/assertions"
)

func so(t *testing.T, actual interface{}, assertion SoFunc, expected ...interface{}) {
	t.Helper()
	if ok, msg := So(actual, assertion, expected...); !ok {
		t.Error(msg)
	}
}

type SoFunc = func(actual interface{}, expected ...interface{}) string

func TestCursorCodec(t *testing.T) {
	var buf []byte
	buf = WriteByte(buf, 0x7F)
	buf = WriteUB2(buf, 0xBEEF)
	buf = WriteUB4(buf, 0xDEADBEEF)
	buf = WriteUB8(buf, 0x0102030405060708)
	buf = WriteWithLength(buf, []byte("payload"))
	buf = WriteBytes(buf, []byte{9, 9})

	cursor := 0
	var b byte
	cursor, b = ReadByte(buf, cursor)
	so(t, b, ShouldEqual, byte(0x7F))

	var u2 uint16
	cursor, u2 = ReadUB2(buf, cursor)
	so(t, u2, ShouldEqual, uint16(0xBEEF))

	var u4 uint32
	cursor, u4 = ReadUB4(buf, cursor)
	so(t, u4, ShouldEqual, uint32(0xDEADBEEF))

	var u8 uint64
	cursor, u8 = ReadUB8(buf, cursor)
	so(t, u8, ShouldEqual, uint64(0x0102030405060708))

	var payload []byte
	cursor, payload = ReadWithLength(buf, cursor)
	so(t, string(payload), ShouldEqual, "payload")

	var tail []byte
	cursor, tail = ReadBytes(buf, cursor, 2)
	so(t, tail, ShouldResemble, []byte{9, 9})
	so(t, cursor, ShouldEqual, len(buf))
}

func TestHashCode(t *testing.T) {
	a := HashCode([]byte("undo_000001"))
	b := HashCode([]byte("undo_000002"))
	so(t, a, ShouldNotEqual, b)
	// 同一输入的哈希稳定
	so(t, HashCode([]byte("undo_000001")), ShouldEqual, a)
	so(t, HashCode(nil), ShouldEqual, HashCode([]byte{}))
}

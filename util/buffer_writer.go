package util

func WriteByte(buf []byte, b byte) []byte {
	buf = append(buf, b)
	return buf
}

func WriteBytes(buf []byte, from []byte) []byte {
	return append(buf, from...)
}

func WriteUB2(buf []byte, i uint16) []byte {
	buf = append(buf, byte(i&0xFF))
	buf = append(buf, byte((i>>8)&0xFF))
	return buf
}

func WriteUB4(buf []byte, i uint32) []byte {
	buf = append(buf, byte(i&0xFF))
	buf = append(buf, byte((i>>8)&0xFF))
	buf = append(buf, byte((i>>16)&0xFF))
	buf = append(buf, byte((i>>24)&0xFF))
	return buf
}

func WriteUB8(buf []byte, i uint64) []byte {
	buf = append(buf, byte(i&0xFF))
	buf = append(buf, byte((i>>8)&0xFF))
	buf = append(buf, byte((i>>16)&0xFF))
	buf = append(buf, byte((i>>24)&0xFF))
	buf = append(buf, byte((i>>32)&0xFF))
	buf = append(buf, byte((i>>40)&0xFF))
	buf = append(buf, byte((i>>48)&0xFF))
	buf = append(buf, byte((i>>56)&0xFF))
	return buf
}

// WriteWithLength 先写2字节长度再写内容
func WriteWithLength(buf []byte, from []byte) []byte {
	buf = WriteUB2(buf, uint16(len(from)))
	buf = WriteBytes(buf, from)
	return buf
}

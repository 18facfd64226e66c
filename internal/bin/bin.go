package bin

import "encoding/binary"

func PutU32BE(dst []byte, v uint32) { binary.BigEndian.PutUint32(dst, v) }
func U32BE(src []byte) uint32       { return binary.BigEndian.Uint32(src) }
func PutU64BE(dst []byte, v uint64) { binary.BigEndian.PutUint64(dst, v) }
func U64BE(src []byte) uint64       { return binary.BigEndian.Uint64(src) }

// AppendU64BE appends v in big-endian order.
func AppendU64BE(dst []byte, v uint64) []byte { return binary.BigEndian.AppendUint64(dst, v) }

// AppendLV appends b prefixed by its 16-bit big-endian length. Inputs longer
// than 65535 bytes are truncated to keep the frame well-formed.
func AppendLV(dst []byte, b []byte) []byte {
	if len(b) > 0xffff {
		b = b[:0xffff]
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(b)))
	return append(dst, b...)
}

package byteorder

import (
	"encoding/binary"
	"math"
)

// https://linux.die.net/man/3/ntohs
//
// everything on the wire is network order (big endian). the Append* variants
// grow dst the same way the append builtin does, which lets message encoders
// write a whole frame into one buffer.
//
// h  = host
// n  = network
// s  = short     = 16 bit
// l  = long      = 32 bit
// ll = long long = 64 bit
// f  = float     = 32 bit ieee-754

func AppendHtons(dst []byte, val uint16) []byte {
	return binary.BigEndian.AppendUint16(dst, val)
}

func AppendHtonl(dst []byte, val uint32) []byte {
	return binary.BigEndian.AppendUint32(dst, val)
}

func AppendHtonll(dst []byte, val uint64) []byte {
	return binary.BigEndian.AppendUint64(dst, val)
}

func AppendHtonf(dst []byte, val float32) []byte {
	return binary.BigEndian.AppendUint32(dst, math.Float32bits(val))
}

func Ntohs(buf []byte) uint16 {
	return binary.BigEndian.Uint16(buf)
}

func Ntohl(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf)
}

func Ntohll(buf []byte) uint64 {
	return binary.BigEndian.Uint64(buf)
}

func Ntohf(buf []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(buf))
}

package protocol

import (
	"fmt"
	"math"

	"github.com/coty-crg/CorgiSceneViewChat/internal/byteorder"
)

// writer accumulates a payload. the first error sticks and later writes are
// no-ops.
type writer struct {
	buf []byte
	err error
}

func (w *writer) putUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) putBool(v bool) {
	if v {
		w.putUint8(1)
	} else {
		w.putUint8(0)
	}
}

func (w *writer) putInt32(v int32) {
	w.buf = byteorder.AppendHtonl(w.buf, uint32(v))
}

func (w *writer) putInt64(v int64) {
	w.buf = byteorder.AppendHtonll(w.buf, uint64(v))
}

func (w *writer) putFloat32(v float32) {
	w.buf = byteorder.AppendHtonf(w.buf, v)
}

func (w *writer) putString(v string) {
	if w.err != nil {
		return
	}
	if len(v) > math.MaxUint16 {
		w.err = fmt.Errorf("%w (got %d bytes; want <= %d)", ErrStringTooLong, len(v), math.MaxUint16)
		return
	}
	w.buf = byteorder.AppendHtons(w.buf, uint16(len(v)))
	w.buf = append(w.buf, v...)
}

func (w *writer) putVector3(v Vector3) {
	w.putFloat32(v.X)
	w.putFloat32(v.Y)
	w.putFloat32(v.Z)
}

func (w *writer) putQuaternion(q Quaternion) {
	w.putFloat32(q.X)
	w.putFloat32(q.Y)
	w.putFloat32(q.Z)
	w.putFloat32(q.W)
}

func (w *writer) bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	if w.buf == nil {
		return []byte{}, nil
	}
	return w.buf, nil
}

// reader walks a payload. running past the end or leaving bytes behind is a
// malformed frame.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.data)-r.off < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformedFrame, n, r.off, len(r.data)-r.off)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) readUint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) readBool() bool {
	v := r.readUint8()
	if r.err == nil && v > 1 {
		r.err = fmt.Errorf("%w: invalid bool byte %d", ErrMalformedFrame, v)
	}
	return v == 1
}

func (r *reader) readInt32() int32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return int32(byteorder.Ntohl(b))
}

func (r *reader) readInt64() int64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return int64(byteorder.Ntohll(b))
}

func (r *reader) readFloat32() float32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return byteorder.Ntohf(b)
}

func (r *reader) readString() string {
	lb := r.take(2)
	if lb == nil {
		return ""
	}
	b := r.take(int(byteorder.Ntohs(lb)))
	if b == nil {
		return ""
	}
	// copies, the decoder reuses its buffer
	return string(b)
}

func (r *reader) readVector3() Vector3 {
	return Vector3{
		X: r.readFloat32(),
		Y: r.readFloat32(),
		Z: r.readFloat32(),
	}
}

func (r *reader) readQuaternion() Quaternion {
	return Quaternion{
		X: r.readFloat32(),
		Y: r.readFloat32(),
		Z: r.readFloat32(),
		W: r.readFloat32(),
	}
}

func (r *reader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformedFrame, len(r.data)-r.off)
	}
	return nil
}

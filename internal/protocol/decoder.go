package protocol

import "errors"

type decoderState uint8

const (
	awaitingHeader decoderState = iota
	awaitingPayload
	frameReady
)

// Decoder reassembles frames from a byte stream that arrives in arbitrary
// pieces. it is not safe for concurrent use.
type Decoder struct {
	buf    []byte
	// off is where the unconsumed bytes of buf start
	off    int
	state  decoderState
	header Header
	// err is sticky once the stream lost frame alignment
	err error
}

func NewDecoder() *Decoder {
	return &Decoder{
		buf: make([]byte, 0, HeaderSize+MaxPayloadSize),
	}
}

// Feed appends p to the internal buffer. p may be reused by the caller
// afterwards.
func (d *Decoder) Feed(p []byte) {
	if d.off > 0 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes not yet consumed.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Next returns the next complete message. it returns (nil, nil) when no full
// frame is buffered yet. an error wrapping ErrUnknownMessageType drops that
// single frame and decoding can go on; an error wrapping ErrMalformedFrame is
// returned from then on.
func (d *Decoder) Next() (Message, error) {
	if d.err != nil {
		return nil, d.err
	}

	for {
		switch d.state {
		case awaitingHeader:
			header, err := PeekHeader(d.buf[d.off:])
			if errors.Is(err, ErrIncompleteFrame) {
				return nil, nil
			}
			if err != nil {
				d.err = err
				return nil, err
			}
			d.header = header
			d.state = awaitingPayload

		case awaitingPayload:
			if d.Buffered() < HeaderSize+int(d.header.Size) {
				return nil, nil
			}
			d.state = frameReady

		case frameReady:
			frame := d.buf[d.off : d.off+HeaderSize+int(d.header.Size)]
			msg, err := decodePayload(d.header, frame[HeaderSize:])

			d.off += len(frame)
			if d.off == len(d.buf) {
				d.buf = d.buf[:0]
				d.off = 0
			}
			d.state = awaitingHeader

			if err != nil {
				if errors.Is(err, ErrMalformedFrame) {
					d.err = err
				}
				return nil, err
			}
			return msg, nil
		}
	}
}

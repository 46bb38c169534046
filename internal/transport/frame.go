package transport

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
)

// ErrFrameTooLarge guards against a corrupt or hostile length prefix.
var ErrFrameTooLarge = errors.New("transport: frame exceeds max size")

// MaxFrameBytes bounds a single frame; the bus never needs more than this
// for a market-data tick, task result or control payload.
const MaxFrameBytes = 64 << 20

// writeFrames writes a multi-frame message as: a header of the uint32 frame
// count followed by one uint32 length per frame (little-endian), then the
// frame bodies in order. Deadlines are applied by the caller via
// conn.SetWriteDeadline before invoking this.
func writeFrames(conn net.Conn, frames [][]byte) error {
	header := make([]byte, 4+4*len(frames))
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(frames)))
	off := 4
	for _, f := range frames {
		binary.LittleEndian.PutUint32(header[off:off+4], uint32(len(f)))
		off += 4
	}
	if _, err := conn.Write(header); err != nil {
		return err
	}
	for _, f := range frames {
		if len(f) == 0 {
			continue
		}
		if _, err := conn.Write(f); err != nil {
			return err
		}
	}
	return nil
}

// readFrames reads back a message written by writeFrames. Deadlines are
// applied by the caller via conn.SetReadDeadline.
func readFrames(conn net.Conn) ([][]byte, error) {
	var countBuf [4]byte
	if _, err := io.ReadFull(conn, countBuf[:]); err != nil {
		return nil, err
	}
	count := binary.LittleEndian.Uint32(countBuf[:])
	if count == 0 || count > 16 {
		return nil, ErrFrameShape
	}
	lens := make([]uint32, count)
	lenBuf := make([]byte, 4*count)
	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		return nil, err
	}
	for i := range lens {
		lens[i] = binary.LittleEndian.Uint32(lenBuf[4*i : 4*i+4])
		if lens[i] > MaxFrameBytes {
			return nil, ErrFrameTooLarge
		}
	}
	frames := make([][]byte, count)
	for i, l := range lens {
		buf := make([]byte, l)
		if l > 0 {
			if _, err := io.ReadFull(conn, buf); err != nil {
				return nil, err
			}
		}
		frames[i] = buf
	}
	return frames, nil
}

// ErrFrameShape is returned when a message does not carry the frame count
// the reader expects, or is outright malformed.
var ErrFrameShape = errors.New("transport: malformed frame shape")

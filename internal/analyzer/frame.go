package analyzer

import "bytes"

const (
	// FrameLength is the size of one analyzer sample on the wire.
	FrameLength = 43

	// FrameStartByte is the first byte of Marker; the synchronizer scans for it.
	FrameStartByte byte = 0x06
)

// Marker opens every frame: ACK followed by "1RG".
var Marker = [4]byte{0x06, 0x31, 0x52, 0x47}

// RawFrame is one fixed-length frame cut from the device stream.
type RawFrame [FrameLength]byte

// Synchronizer cuts an unbounded, arbitrarily chunked byte stream into
// frames. It is not safe for concurrent use; each device gets its own.
type Synchronizer struct {
	buf       []byte
	discarded int
}

// NewSynchronizer returns an empty Synchronizer.
func NewSynchronizer() *Synchronizer {
	return &Synchronizer{buf: make([]byte, 0, FrameLength*2)}
}

// Feed appends chunk to the internal buffer and returns every complete frame
// that can be cut from it. Bytes ahead of a start byte are dropped as noise,
// and a buffer without any start byte is dropped entirely. A partial frame
// stays buffered until later calls complete it.
func (s *Synchronizer) Feed(chunk []byte) []RawFrame {
	s.buf = append(s.buf, chunk...)

	var frames []RawFrame
	for {
		start := bytes.IndexByte(s.buf, FrameStartByte)
		if start < 0 {
			s.discarded += len(s.buf)
			s.buf = s.buf[:0]
			break
		}

		if start > 0 {
			s.discarded += start
			s.buf = append(s.buf[:0], s.buf[start:]...)
		}

		if len(s.buf) < FrameLength {
			break
		}

		var frame RawFrame
		copy(frame[:], s.buf[:FrameLength])
		s.buf = append(s.buf[:0], s.buf[FrameLength:]...)

		frames = append(frames, frame)
	}

	return frames
}

// Pending returns the number of buffered bytes awaiting completion.
func (s *Synchronizer) Pending() int {
	return len(s.buf)
}

// Discarded returns the total number of bytes dropped as noise.
func (s *Synchronizer) Discarded() int {
	return s.discarded
}

// Reset drops any buffered bytes, e.g. after the port was reopened.
func (s *Synchronizer) Reset() {
	s.buf = s.buf[:0]
}

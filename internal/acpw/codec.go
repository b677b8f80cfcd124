package acpw

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	frameStart byte = 0xDE
	frameStop  byte = 0xAD

	// frameOverhead is the number of non-payload bytes in a frame:
	// start, two size bytes, message id, reserved, command id, two CRC
	// bytes and stop.
	frameOverhead = 9

	// sizeOverhead is what the size field adds on top of the payload
	// length: message id, reserved, command id and four bookkeeping bytes.
	sizeOverhead = 7

	// maxPayload bounds the declared payload length so garbage in the size
	// field cannot stall the splitter waiting for bytes that never come.
	maxPayload = 512
)

// Frame is one decoded ACPW protocol frame.
type Frame struct {
	MessageID uint8
	Command   CommandID
	Payload   []byte
}

var crcTable = makeCRCTable()

// makeCRCTable builds the CRC-16/CCITT lookup table (polynomial 0x1021).
func makeCRCTable() [256]uint16 {
	var table [256]uint16

	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}

		table[i] = crc
	}

	return table
}

// checksum computes CRC-16/CCITT with initial value 0xFFFF over data.
func checksum(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>8)^b]
	}

	return crc
}

// Encoder builds wire frames. The message id counter is process-wide and
// wraps silently at 255; the protocol has no gap detection.
type Encoder struct {
	mu    sync.Mutex
	msgID uint8
}

// NewEncoder creates a frame encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Encode builds one wire frame carrying the command and payload.
func (e *Encoder) Encode(cmd CommandID, payload []byte) ([]byte, error) {
	if len(payload) > maxPayload {
		return nil, errors.Errorf("payload too long: %d bytes", len(payload))
	}

	e.mu.Lock()
	msgID := e.msgID
	e.msgID++
	e.mu.Unlock()

	size := len(payload) + sizeOverhead
	frame := make([]byte, 0, len(payload)+frameOverhead)

	frame = append(frame, frameStart, byte(size>>8), byte(size), msgID, 0x00, byte(cmd))
	frame = append(frame, payload...)

	crc := checksum(frame[1:])
	frame = append(frame, byte(crc>>8), byte(crc), frameStop)

	return frame, nil
}

// Splitter extracts complete frames from a raw byte stream, keeping trailing
// partial bytes for the next read. Corrupted input resynchronizes by
// discarding a single byte and rescanning, so garbage between frames never
// blocks subsequent valid frames.
type Splitter struct {
	buf []byte
}

// NewSplitter creates a stream splitter.
func NewSplitter() *Splitter {
	return &Splitter{}
}

// Push appends raw bytes and returns every complete, CRC-valid frame found.
// Frames failing integrity checks are dropped and logged.
func (s *Splitter) Push(data []byte) []Frame {
	s.buf = append(s.buf, data...)

	var frames []Frame

	for {
		frame, ok := s.next()
		if !ok {
			break
		}

		frames = append(frames, frame)
	}

	return frames
}

// Pending returns the number of buffered bytes awaiting frame completion.
func (s *Splitter) Pending() int {
	return len(s.buf)
}

func (s *Splitter) next() (Frame, bool) {
	for {
		start := indexOf(s.buf, frameStart)
		if start < 0 {
			s.buf = nil

			return Frame{}, false
		}

		s.buf = s.buf[start:]

		if len(s.buf) < 3 {
			return Frame{}, false
		}

		size := int(s.buf[1])<<8 | int(s.buf[2])
		if size < sizeOverhead || size > maxPayload+sizeOverhead {
			log.Debugf("acpw: implausible frame size %d, resynchronizing", size)
			s.buf = s.buf[1:]

			continue
		}

		total := size + 2
		if len(s.buf) < total {
			return Frame{}, false
		}

		if s.buf[total-1] != frameStop {
			log.Debug("acpw: missing stop byte, resynchronizing")
			s.buf = s.buf[1:]

			continue
		}

		wireCRC := uint16(s.buf[size-1])<<8 | uint16(s.buf[size])
		if crc := checksum(s.buf[1 : size-1]); crc != wireCRC {
			log.Debugf("acpw: CRC mismatch (got 0x%04X, want 0x%04X), frame dropped", wireCRC, crc)
			s.buf = s.buf[1:]

			continue
		}

		payload := make([]byte, size-sizeOverhead)
		copy(payload, s.buf[6:6+len(payload)])

		frame := Frame{
			MessageID: s.buf[3],
			Command:   CommandID(s.buf[5]),
			Payload:   payload,
		}

		s.buf = s.buf[total:]

		return frame, true
	}
}

func indexOf(data []byte, b byte) int {
	for i, v := range data {
		if v == b {
			return i
		}
	}

	return -1
}

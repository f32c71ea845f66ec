package persistence

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

// Frame layout: [Magic(1)][OpCode(1)][Length(4)][CRC32(4)][Payload(N)]
// Integers are little endian, the checksum covers the payload only.
const (
	// MagicByte marks the start of every frame so a reader can tell a
	// journal from garbage.
	MagicByte = 0xA5

	HeaderSize = 10

	// OpCodeCommand frames carry one journaled mutation.
	OpCodeCommand = 0x01
	// OpCodeGraph frames carry a full graph dump.
	OpCodeGraph = 0x02
	// OpCodeIndex frames carry a serialized similarity index.
	OpCodeIndex = 0x03

	// maxPayload guards against allocating gigabytes for a corrupt length field.
	maxPayload = 1 << 31
)

var (
	ErrInvalidMagic     = errors.New("persistence: invalid magic byte")
	ErrChecksumMismatch = errors.New("persistence: crc32 checksum mismatch")
	ErrIncompleteFrame  = errors.New("persistence: incomplete frame")
	ErrUnexpectedOpCode = errors.New("persistence: unexpected frame opcode")
)

// FrameWriter encodes payloads into frames on an io.Writer.
type FrameWriter struct {
	w io.Writer
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes header and payload with a single Write call.
func (fw *FrameWriter) WriteFrame(op byte, payload []byte) error {
	_, err := fw.w.Write(AppendFrame(nil, op, payload))
	return err
}

// AppendFrame appends the framed payload to dst and returns the extended slice.
func AppendFrame(dst []byte, op byte, payload []byte) []byte {
	var header [HeaderSize]byte
	header[0] = MagicByte
	header[1] = op
	binary.LittleEndian.PutUint32(header[2:6], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[6:10], crc32.ChecksumIEEE(payload))
	dst = append(dst, header[:]...)
	return append(dst, payload...)
}

// ReadFrame reads the next frame, validating magic byte and checksum.
// It returns io.EOF only when the stream ends cleanly on a frame boundary.
// The returned int is the number of bytes consumed.
func ReadFrame(r io.Reader) (byte, []byte, int, error) {
	var header [HeaderSize]byte
	n, err := io.ReadFull(r, header[:])
	if err != nil {
		if err == io.EOF {
			return 0, nil, 0, io.EOF
		}
		return 0, nil, n, ErrIncompleteFrame
	}
	if header[0] != MagicByte {
		return 0, nil, HeaderSize, ErrInvalidMagic
	}

	op := header[1]
	length := binary.LittleEndian.Uint32(header[2:6])
	expected := binary.LittleEndian.Uint32(header[6:10])
	if uint64(length) > maxPayload {
		return op, nil, HeaderSize, ErrIncompleteFrame
	}

	payload := make([]byte, length)
	m, err := io.ReadFull(r, payload)
	if err != nil {
		return op, nil, HeaderSize + m, ErrIncompleteFrame
	}
	if crc32.ChecksumIEEE(payload) != expected {
		return op, nil, HeaderSize + int(length), ErrChecksumMismatch
	}
	return op, payload, HeaderSize + int(length), nil
}

// ReadFrameOp reads one frame and checks that it carries the wanted opcode.
func ReadFrameOp(r io.Reader, want byte) ([]byte, error) {
	op, payload, _, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	if op != want {
		return nil, ErrUnexpectedOpCode
	}
	return payload, nil
}

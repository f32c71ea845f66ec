package persistence

import (
	"encoding/binary"
	"errors"
	"math"
	"strconv"
	"strings"
)

// Command is one journaled mutation: a verb plus positional arguments.
type Command struct {
	Name string
	Args [][]byte
}

var ErrMalformedCommand = errors.New("persistence: malformed command payload")

// FormatCommand encodes a command as a frame payload:
// uvarint(argc+1), then uvarint(len)+bytes for the name and every argument.
func FormatCommand(name string, args ...[]byte) []byte {
	size := binary.MaxVarintLen64 * (len(args) + 2)
	size += len(name)
	for _, a := range args {
		size += len(a)
	}
	buf := make([]byte, 0, size)
	buf = binary.AppendUvarint(buf, uint64(len(args)+1))
	buf = binary.AppendUvarint(buf, uint64(len(name)))
	buf = append(buf, name...)
	for _, a := range args {
		buf = binary.AppendUvarint(buf, uint64(len(a)))
		buf = append(buf, a...)
	}
	return buf
}

// ParseCommand decodes a payload produced by FormatCommand.
func ParseCommand(payload []byte) (*Command, error) {
	count, n := binary.Uvarint(payload)
	if n <= 0 || count == 0 || count > uint64(len(payload)) {
		return nil, ErrMalformedCommand
	}
	payload = payload[n:]

	parts := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		l, n := binary.Uvarint(payload)
		if n <= 0 || l > uint64(len(payload)-n) {
			return nil, ErrMalformedCommand
		}
		parts = append(parts, payload[n:n+int(l)])
		payload = payload[n+int(l):]
	}
	if len(payload) != 0 {
		return nil, ErrMalformedCommand
	}
	return &Command{Name: string(parts[0]), Args: parts[1:]}, nil
}

// Arg helpers used by journal writers and the replay loop.

func Uint(v uint64) []byte {
	return strconv.AppendUint(nil, v, 10)
}

func ParseUint(b []byte) (uint64, error) {
	return strconv.ParseUint(string(b), 10, 64)
}

// Floats encodes a vector as little-endian float32 bits, preserving values exactly.
func Floats(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func ParseFloats(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, ErrMalformedCommand
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// Uints encodes an id list as space separated decimals.
func Uints(ids []uint64) []byte {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return []byte(strings.Join(parts, " "))
}

func ParseUints(b []byte) ([]uint64, error) {
	fields := strings.Fields(string(b))
	out := make([]uint64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

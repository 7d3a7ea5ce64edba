package wire

import (
	"encoding/binary"
)

// BlockType distinguishes why a datagram was sent.
type BlockType uint8

const (
	BlockOriginal BlockType = iota
	BlockRetransmission
	BlockEnd
)

// DatagramHeaderSize is the fixed header preceding every block's payload on
// the UDP wire: {block_index uint32, block_type uint8}.
const DatagramHeaderSize = 5

// Datagram is one UDP payload: a 1-based block index, a type tag, and up to
// BlockSize bytes of file content (the final block may be shorter; callers
// zero-pad the tail before sending and truncate on receipt).
type Datagram struct {
	BlockIndex uint32
	BlockType  BlockType
	Payload    []byte
}

// Marshal renders the datagram into buf, which must be at least
// DatagramHeaderSize+len(d.Payload) bytes. It returns the number of bytes
// written.
func (d Datagram) Marshal(buf []byte) int {
	binary.BigEndian.PutUint32(buf[0:4], d.BlockIndex)
	buf[4] = byte(d.BlockType)
	n := copy(buf[DatagramHeaderSize:], d.Payload)
	return DatagramHeaderSize + n
}

// Unmarshal parses a datagram from buf, a view into a per-read receive
// buffer. The returned Payload aliases buf; callers that retain it across
// reads must copy it.
func Unmarshal(buf []byte) (Datagram, error) {
	if len(buf) < DatagramHeaderSize {
		return Datagram{}, decodeErr("datagram shorter than header (%d bytes)", len(buf))
	}
	return Datagram{
		BlockIndex: binary.BigEndian.Uint32(buf[0:4]),
		BlockType:  BlockType(buf[4]),
		Payload:    buf[DatagramHeaderSize:],
	}, nil
}

package clock

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// ErrBadWire is wrapped by every decode failure.
var ErrBadWire = errors.New("clock: malformed wire data")

// maxWireNodes caps the decoded node count so a malformed header cannot
// force a huge allocation.
const maxWireNodes = 1 << 20

// Wire layout: [nodeCount uint32] then for each node, sorted by id:
// [idLen uint16][id bytes][counter uint64]. All integers big-endian.
//
// This codec is deliberately hand-rolled rather than routed through a
// generic serializer: every pair present before encoding must be present
// and equal after decoding, with nothing silently dropped.

// ToWire encodes the clock. Node ids are sorted so equal clocks always
// produce identical bytes.
func (vc VectorClock) ToWire() []byte {
	ids := make([]string, 0, len(vc))
	size := 4
	for id := range vc {
		ids = append(ids, id)
		size += 2 + len(id) + 8
	}
	sort.Strings(ids)

	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(ids)))
	for _, id := range ids {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(id)))
		buf = append(buf, id...)
		buf = binary.BigEndian.AppendUint64(buf, vc[id])
	}
	return buf
}

// FromWire decodes a clock, rejecting truncated input and counts that
// would read past the buffer.
func FromWire(b []byte) (VectorClock, error) {
	vc, rest, err := DecodeFrom(b)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrBadWire, len(rest))
	}
	return vc, nil
}

// DecodeFrom decodes a clock from the front of b and returns the unread
// remainder, so the clock can be embedded inside a larger message.
func DecodeFrom(b []byte) (VectorClock, []byte, error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("%w: missing node count", ErrBadWire)
	}
	count := binary.BigEndian.Uint32(b[:4])
	if count > maxWireNodes {
		return nil, nil, fmt.Errorf("%w: node count %d too large", ErrBadWire, count)
	}
	b = b[4:]

	vc := make(VectorClock, count)
	for i := uint32(0); i < count; i++ {
		if len(b) < 2 {
			return nil, nil, fmt.Errorf("%w: truncated id length at node %d", ErrBadWire, i)
		}
		idLen := int(binary.BigEndian.Uint16(b[:2]))
		b = b[2:]
		if len(b) < idLen+8 {
			return nil, nil, fmt.Errorf("%w: truncated node %d", ErrBadWire, i)
		}
		id := string(b[:idLen])
		if _, dup := vc[id]; dup {
			return nil, nil, fmt.Errorf("%w: duplicate node id %q", ErrBadWire, id)
		}
		vc[id] = binary.BigEndian.Uint64(b[idLen : idLen+8])
		b = b[idLen+8:]
	}
	return vc, b, nil
}

// Package gossip propagates price updates between cache nodes: each node
// periodically drains its dirty keys into a signed delta message and applies
// causally newer entries from its peers.
package gossip

import (
	"encoding/binary"
	"fmt"

	"pricemesh/internal/clock"
	"pricemesh/internal/store"
)

// Message is one propagation unit: the sender's full clock snapshot plus
// the entries changed since its last round.
//
// Wire layout, all integers big-endian:
//
//	[senderLen uint16][sender]
//	[vector clock wire format]
//	[entryCount uint32]
//	per entry: [keyLen uint16][key][24-byte slot codec]
//	[signature][sigLen uint16]
//
// The signature covers every byte before it. Its length lives at the very
// end so a receiver can split payload from signature, and verify, without
// decoding a single untrusted field.
type Message struct {
	Sender    string
	Clock     clock.VectorClock
	Entries   []store.PriceEntry
	Signature []byte
}

// DecodeError marks structurally invalid wire input. It is always handled
// by dropping the message, never by crashing.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "gossip: decode: " + e.Reason
}

func decodeErrf(format string, args ...any) error {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// maxEntries caps the decoded entry count against malformed headers.
const maxEntries = 1 << 20

// EncodePayload serializes the signable portion of a message (everything
// except the signature).
func EncodePayload(m *Message) ([]byte, error) {
	if len(m.Sender) > 0xFFFF {
		return nil, fmt.Errorf("gossip: sender id too long: %d bytes", len(m.Sender))
	}
	clockWire := m.Clock.ToWire()

	size := 2 + len(m.Sender) + len(clockWire) + 4
	for _, e := range m.Entries {
		size += 2 + len(e.Key) + store.SlotSize
	}

	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.Sender)))
	buf = append(buf, m.Sender...)
	buf = append(buf, clockWire...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(m.Entries)))

	slot := make([]byte, store.SlotSize)
	for _, e := range m.Entries {
		if len(e.Key) > 0xFFFF {
			return nil, fmt.Errorf("gossip: key too long: %d bytes", len(e.Key))
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(e.Key)))
		buf = append(buf, e.Key...)
		if err := store.EncodeSlot(slot, e.Price, e.Timestamp, e.Version); err != nil {
			return nil, err
		}
		buf = append(buf, slot...)
	}
	return buf, nil
}

// Encode serializes a full message, appending the signature and its
// trailing length.
func Encode(m *Message) ([]byte, error) {
	payload, err := EncodePayload(m)
	if err != nil {
		return nil, err
	}
	if len(m.Signature) > 0xFFFF {
		return nil, fmt.Errorf("gossip: signature too long: %d bytes", len(m.Signature))
	}
	buf := append(payload, m.Signature...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.Signature)))
	return buf, nil
}

// SplitSignature separates raw wire bytes into the signed payload and the
// signature, without decoding any payload field.
func SplitSignature(raw []byte) (payload, sig []byte, err error) {
	if len(raw) < 2 {
		return nil, nil, decodeErrf("message shorter than signature trailer")
	}
	sigLen := int(binary.BigEndian.Uint16(raw[len(raw)-2:]))
	end := len(raw) - 2
	if sigLen > end {
		return nil, nil, decodeErrf("signature length %d exceeds message", sigLen)
	}
	return raw[:end-sigLen], raw[end-sigLen : end], nil
}

// DecodePayload parses the signed portion of a message. The signature is
// not attached; callers verify it separately via SplitSignature first.
func DecodePayload(payload []byte) (*Message, error) {
	if len(payload) < 2 {
		return nil, decodeErrf("missing sender length")
	}
	senderLen := int(binary.BigEndian.Uint16(payload[:2]))
	b := payload[2:]
	if len(b) < senderLen {
		return nil, decodeErrf("truncated sender id")
	}
	sender := string(b[:senderLen])
	if sender == "" {
		return nil, decodeErrf("empty sender id")
	}
	b = b[senderLen:]

	vc, b, err := clock.DecodeFrom(b)
	if err != nil {
		return nil, decodeErrf("vector clock: %v", err)
	}

	if len(b) < 4 {
		return nil, decodeErrf("missing entry count")
	}
	count := binary.BigEndian.Uint32(b[:4])
	if count > maxEntries {
		return nil, decodeErrf("entry count %d too large", count)
	}
	b = b[4:]

	entries := make([]store.PriceEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(b) < 2 {
			return nil, decodeErrf("truncated key length at entry %d", i)
		}
		keyLen := int(binary.BigEndian.Uint16(b[:2]))
		b = b[2:]
		if len(b) < keyLen+store.SlotSize {
			return nil, decodeErrf("truncated entry %d", i)
		}
		key := string(b[:keyLen])
		price, ts, version, err := store.DecodeSlot(b[keyLen : keyLen+store.SlotSize])
		if err != nil {
			return nil, decodeErrf("entry %d: %v", i, err)
		}
		entries = append(entries, store.PriceEntry{
			Key:       key,
			Price:     price,
			Timestamp: ts,
			Version:   version,
		})
		b = b[keyLen+store.SlotSize:]
	}
	if len(b) != 0 {
		return nil, decodeErrf("%d trailing bytes", len(b))
	}

	return &Message{Sender: sender, Clock: vc, Entries: entries}, nil
}

// Decode parses a full wire message including its signature. Round trip
// with Encode is lossless.
func Decode(raw []byte) (*Message, error) {
	payload, sig, err := SplitSignature(raw)
	if err != nil {
		return nil, err
	}
	m, err := DecodePayload(payload)
	if err != nil {
		return nil, err
	}
	if len(sig) > 0 {
		m.Signature = append([]byte(nil), sig...)
	}
	return m, nil
}

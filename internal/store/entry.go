package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SlotSize is the fixed byte size of one encoded price slot:
// price (8) + timestamp (8) + version (8), big-endian.
const SlotSize = 24

// PriceEntry is one cached observation as held by a store slot.
type PriceEntry struct {
	Key       string
	Price     float64
	Timestamp int64
	Version   uint64
}

// EncodeSlot writes the fixed-layout slot representation of an entry into
// buf, which must be at least SlotSize bytes. The price is encoded as its
// raw IEEE-754 bit pattern, so the round trip is bit-exact.
func EncodeSlot(buf []byte, price float64, timestamp int64, version uint64) error {
	if len(buf) < SlotSize {
		return fmt.Errorf("store: slot buffer too small: %d bytes", len(buf))
	}
	binary.BigEndian.PutUint64(buf[0:8], math.Float64bits(price))
	binary.BigEndian.PutUint64(buf[8:16], uint64(timestamp))
	binary.BigEndian.PutUint64(buf[16:24], version)
	return nil
}

// DecodeSlot reads a fixed-layout slot back into its three fields.
func DecodeSlot(buf []byte) (price float64, timestamp int64, version uint64, err error) {
	if len(buf) < SlotSize {
		return 0, 0, 0, fmt.Errorf("store: slot buffer too small: %d bytes", len(buf))
	}
	price = math.Float64frombits(binary.BigEndian.Uint64(buf[0:8]))
	timestamp = int64(binary.BigEndian.Uint64(buf[8:16]))
	version = binary.BigEndian.Uint64(buf[16:24])
	return price, timestamp, version, nil
}

package eventlog

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Entry encoding:
//
//	varint keyLen | key | appendedAtMs(8B BE) | value | crc32c(key|ts|value)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ErrCorruptEntry reports a stored entry that fails framing or checksum.
var ErrCorruptEntry = errors.New("eventlog: corrupt entry")

func encodeEntry(key []byte, appendedAtMs int64, value []byte) []byte {
	out := make([]byte, 0, binary.MaxVarintLen64+len(key)+8+len(value)+4)
	out = binary.AppendUvarint(out, uint64(len(key)))
	out = append(out, key...)
	out = binary.BigEndian.AppendUint64(out, uint64(appendedAtMs))
	out = append(out, value...)
	return binary.BigEndian.AppendUint32(out, crc32.Checksum(out, castagnoli))
}

func decodeEntry(offset uint64, b []byte) (Entry, error) {
	if len(b) < 1+8+4 {
		return Entry{}, ErrCorruptEntry
	}
	body := b[:len(b)-4]
	if crc32.Checksum(body, castagnoli) != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return Entry{}, ErrCorruptEntry
	}
	klen, n := binary.Uvarint(body)
	if n <= 0 || uint64(len(body)-n) < klen+8 {
		return Entry{}, ErrCorruptEntry
	}
	rest := body[n:]
	key := rest[:klen]
	ts := int64(binary.BigEndian.Uint64(rest[klen : klen+8]))
	value := rest[klen+8:]
	return Entry{
		Offset:       offset,
		Key:          append([]byte(nil), key...),
		AppendedAtMs: ts,
		Value:        append([]byte(nil), value...),
	}, nil
}

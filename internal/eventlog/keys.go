package eventlog

import (
	"encoding/binary"
)

// Keyspace (byte-wise, lexicographically sortable):
//   - topic/{topic}                             topic metadata
//   - log/{topic}/{part_be4}/m                  partition metadata: lastOffset
//   - log/{topic}/{part_be4}/e/{offset_be8}     entries
//   - cursor/{topic}/{group}/{part_be4}         committed group offset

var (
	sep        = byte('/')
	topicSeg   = []byte("topic/")
	logSeg     = []byte("log/")
	cursorSeg  = []byte("cursor/")
	metaSuffix = []byte("/m")
	entrySeg   = []byte("/e/")
)

func appendBE4(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func partitionPrefix(topic string, partition uint32) []byte {
	k := make([]byte, 0, len(logSeg)+len(topic)+24)
	k = append(k, logSeg...)
	k = append(k, topic...)
	k = append(k, sep)
	return appendBE4(k, partition)
}

// KeyTopicMeta builds the topic metadata key.
func KeyTopicMeta(topic string) []byte {
	k := make([]byte, 0, len(topicSeg)+len(topic))
	k = append(k, topicSeg...)
	return append(k, topic...)
}

// KeyLogMeta builds the partition metadata key.
func KeyLogMeta(topic string, partition uint32) []byte {
	return append(partitionPrefix(topic, partition), metaSuffix...)
}

// KeyLogEntry builds the entry key; the big-endian offset keeps entries in
// append order.
func KeyLogEntry(topic string, partition uint32, offset uint64) []byte {
	k := append(partitionPrefix(topic, partition), entrySeg...)
	return appendBE8(k, offset)
}

func entryOffset(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}

// KeyCursor builds the durable cursor key for a group and partition.
func KeyCursor(topic, group string, partition uint32) []byte {
	k := make([]byte, 0, len(cursorSeg)+len(topic)+len(group)+8)
	k = append(k, cursorSeg...)
	k = append(k, topic...)
	k = append(k, sep)
	k = append(k, group...)
	k = append(k, sep)
	return appendBE4(k, partition)
}

package queue

import (
	"bytes"
	"encoding/binary"

	"github.com/rzbill/eventpipe/pkg/id"
)

var (
	qPrefix   = []byte("q/")
	jobSeg    = []byte("/job/")
	readySeg  = []byte("/ready/")
	leaseSeg  = []byte("/lease/")
	failedSeg = []byte("/failed/")
	keySep    = byte('/')
)

func queuePrefix(queue string, seg []byte) []byte {
	k := make([]byte, 0, len(qPrefix)+len(queue)+len(seg)+32)
	k = append(k, qPrefix...)
	k = append(k, queue...)
	return append(k, seg...)
}

// JobKey builds q/{queue}/job/{jobId}.
func JobKey(queue, jobID string) []byte {
	return append(queuePrefix(queue, jobSeg), jobID...)
}

// JobPrefix covers all job records of a queue.
func JobPrefix(queue string) []byte { return queuePrefix(queue, jobSeg) }

// ReadyKey builds q/{queue}/ready/{id}{jobId}; the id's time component is
// the due time and the job id suffix keeps keys unique across restarts.
func ReadyKey(queue string, due id.ID, jobID string) []byte {
	k := append(queuePrefix(queue, readySeg), due[:]...)
	return append(k, jobID...)
}

// ReadyPrefix covers the claim-order index.
func ReadyPrefix(queue string) []byte { return queuePrefix(queue, readySeg) }

// LeaseKey builds q/{queue}/lease/{expiry_ms_be8}/{jobId}.
func LeaseKey(queue string, expiryMs int64, jobID string) []byte {
	k := queuePrefix(queue, leaseSeg)
	k = binary.BigEndian.AppendUint64(k, uint64(expiryMs))
	k = append(k, keySep)
	return append(k, jobID...)
}

// LeasePrefix covers the lease expiry index.
func LeasePrefix(queue string) []byte { return queuePrefix(queue, leaseSeg) }

// FailedKey builds q/{queue}/failed/{id}{jobId}.
func FailedKey(queue string, at id.ID, jobID string) []byte {
	k := append(queuePrefix(queue, failedSeg), at[:]...)
	return append(k, jobID...)
}

// FailedPrefix covers the terminal failure index.
func FailedPrefix(queue string) []byte { return queuePrefix(queue, failedSeg) }

// parseLeaseKey splits a lease index key into expiry and job id.
func parseLeaseKey(prefix, k []byte) (int64, string, bool) {
	if !bytes.HasPrefix(k, prefix) || len(k) < len(prefix)+8+1 {
		return 0, "", false
	}
	rest := k[len(prefix):]
	if rest[8] != keySep {
		return 0, "", false
	}
	return int64(binary.BigEndian.Uint64(rest[:8])), string(rest[9:]), true
}

// parseIndexID extracts the 16-byte id following prefix in a ready or failed key.
func parseIndexID(prefix, k []byte) (id.ID, bool) {
	if len(k) < len(prefix)+16 {
		return id.ID{}, false
	}
	out, err := id.FromBytes(k[len(prefix) : len(prefix)+16])
	return out, err == nil
}

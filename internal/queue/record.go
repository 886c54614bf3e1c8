package queue

import (
	"encoding/binary"
	"errors"
	"hash/crc32"

	json "github.com/goccy/go-json"
)

// Job record encoding: json(storedJob) | crc32c(json)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ErrCorruptRecord reports a stored job that fails its checksum.
var ErrCorruptRecord = errors.New("queue: corrupt job record")

// storedJob carries the index keys a job currently occupies so transitions
// can remove them without scanning.
type storedJob struct {
	Job
	ReadyKey  string `json:"readyKey,omitempty"`
	FailedKey string `json:"failedKey,omitempty"`
}

func encodeJob(j storedJob) ([]byte, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return binary.BigEndian.AppendUint32(b, crc32.Checksum(b, castagnoli)), nil
}

func decodeJob(b []byte) (storedJob, error) {
	if len(b) < 4 {
		return storedJob{}, ErrCorruptRecord
	}
	body := b[:len(b)-4]
	if crc32.Checksum(body, castagnoli) != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return storedJob{}, ErrCorruptRecord
	}
	var j storedJob
	if err := json.Unmarshal(body, &j); err != nil {
		return storedJob{}, ErrCorruptRecord
	}
	return j, nil
}

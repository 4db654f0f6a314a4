package persistent

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/tunakv/tunakv/common"
)

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeLogEntry(raw []byte) (common.LogEntry, error) {
	var entry common.LogEntry
	err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&entry)
	return entry, err
}

func decodeVersionedValue(raw []byte) (common.VersionedValue, error) {
	var version common.VersionedValue
	err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&version)
	return version, err
}

// Log indexes are stored big-endian so that bolt's byte-ordered cursors
// iterate entries in index order.
func int64ToBytes(i int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(i))
	return buf
}

func bytesToInt64(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

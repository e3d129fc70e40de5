package store

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/discsync/discsync-server/internal/domain"
)

// Key layout:
//
//	state:{entity_type}                 -> ProcessingState
//	run:{run_id}                        -> ProcessingRun
//	record:{entity_type}:{record_id}    -> RecordState
//	changelog:{id:020d}                 -> ChangelogEntry
//	pending:{id:020d}                   -> entity type of an unprocessed entry
const (
	statePrefix     = "state:"
	runPrefix       = "run:"
	recordPrefix    = "record:"
	changelogPrefix = "changelog:"
	pendingPrefix   = "pending:"
	changelogSeqKey = "seq:changelog"
)

// keyPool provides reusable byte slices for building hot-path record keys.
var keyPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 128)
	},
}

// buildRecordKey constructs record:{type}:{id} using a pooled buffer.
// Callers MUST call releaseKey when done with the key.
func buildRecordKey(entityType domain.EntityType, recordID string) []byte {
	buf, _ := keyPool.Get().([]byte)
	buf = buf[:0]
	buf = append(buf, recordPrefix...)
	buf = append(buf, entityType...)
	buf = append(buf, ':')
	buf = append(buf, recordID...)
	return buf
}

// releaseKey returns a key buffer to the pool for reuse.
func releaseKey(key []byte) {
	if cap(key) <= 512 {
		keyPool.Put(key[:0])
	}
}

func recordTypePrefix(entityType domain.EntityType) []byte {
	return []byte(recordPrefix + string(entityType) + ":")
}

func stateKey(entityType domain.EntityType) []byte {
	return []byte(statePrefix + string(entityType))
}

func runKey(runID string) []byte {
	return []byte(runPrefix + runID)
}

// Ids are zero padded so lexical key order is numeric order.
func changelogKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", changelogPrefix, id))
}

func pendingKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", pendingPrefix, id))
}

func parsePendingKey(key []byte) (int64, error) {
	return strconv.ParseInt(string(key[len(pendingPrefix):]), 10, 64)
}

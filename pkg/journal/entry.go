package journal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

// Kind identifies which engine record an entry carries
type Kind byte

const (
	KindVersion     Kind = 1 // version created
	KindBranch      Kind = 2 // branch created, moved or deactivated
	KindVersionDrop Kind = 3 // version pruned
	KindMerge       Kind = 4 // merge request finalized
	KindBackup      Kind = 5 // backup recorded
	KindBackupDrop  Kind = 6 // backup swept
	KindCommit      Kind = 7 // transaction commit marker
)

func (k Kind) String() string {
	switch k {
	case KindVersion:
		return "VERSION"
	case KindBranch:
		return "BRANCH"
	case KindVersionDrop:
		return "VERSION_DROP"
	case KindMerge:
		return "MERGE"
	case KindBackup:
		return "BACKUP"
	case KindBackupDrop:
		return "BACKUP_DROP"
	case KindCommit:
		return "COMMIT"
	}
	return "UNKNOWN"
}

const (
	// EntryHeaderSize is the fixed size of the entry header
	// Layout: LSN(8) + TxnID(8) + Kind(1) + Reserved(7) + KeyLen(4) + PayloadLen(4) + Timestamp(8)
	EntryHeaderSize = 40

	// MaxEntrySize bounds a single entry so a corrupted length cannot force a huge allocation
	MaxEntrySize = 64 << 20
)

// Record is what callers append and what replay hands back
type Record struct {
	Kind    Kind
	Key     string
	Payload []byte
}

// Entry is a record framed with its sequence numbers
type Entry struct {
	LSN       uint64
	TxnID     uint64
	Kind      Kind
	Key       []byte
	Payload   []byte
	Timestamp time.Time
}

// Encode serializes the entry with a trailing CRC32
// Format: [Header(40)] [Key] [Payload] [CRC32(4)]
func (e *Entry) Encode() []byte {
	keyLen := len(e.Key)
	payloadLen := len(e.Payload)
	buf := make([]byte, e.Size())

	binary.LittleEndian.PutUint64(buf[0:8], e.LSN)
	binary.LittleEndian.PutUint64(buf[8:16], e.TxnID)
	buf[16] = byte(e.Kind)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(keyLen))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(payloadLen))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(e.Timestamp.UnixNano()))

	offset := EntryHeaderSize
	copy(buf[offset:], e.Key)
	offset += keyLen
	copy(buf[offset:], e.Payload)
	offset += payloadLen

	crc := crc32.ChecksumIEEE(buf[:offset])
	binary.LittleEndian.PutUint32(buf[offset:offset+4], crc)
	return buf
}

// DecodeEntry deserializes and verifies one encoded entry
func DecodeEntry(data []byte) (*Entry, error) {
	if len(data) < EntryHeaderSize+4 {
		return nil, ErrTruncated
	}

	keyLen := int(binary.LittleEndian.Uint32(data[24:28]))
	payloadLen := int(binary.LittleEndian.Uint32(data[28:32]))
	size := EntryHeaderSize + keyLen + payloadLen + 4
	if len(data) < size {
		return nil, ErrTruncated
	}
	data = data[:size]

	storedCRC := binary.LittleEndian.Uint32(data[size-4:])
	if storedCRC != crc32.ChecksumIEEE(data[:size-4]) {
		return nil, ErrCorrupted
	}

	entry := &Entry{
		LSN:       binary.LittleEndian.Uint64(data[0:8]),
		TxnID:     binary.LittleEndian.Uint64(data[8:16]),
		Kind:      Kind(data[16]),
		Timestamp: time.Unix(0, int64(binary.LittleEndian.Uint64(data[32:40]))),
	}

	offset := EntryHeaderSize
	if keyLen > 0 {
		entry.Key = make([]byte, keyLen)
		copy(entry.Key, data[offset:offset+keyLen])
		offset += keyLen
	}
	if payloadLen > 0 {
		entry.Payload = make([]byte, payloadLen)
		copy(entry.Payload, data[offset:offset+payloadLen])
	}

	return entry, nil
}

// Size returns the encoded size of the entry
func (e *Entry) Size() int {
	return EntryHeaderSize + len(e.Key) + len(e.Payload) + 4
}

// Record strips the framing
func (e *Entry) Record() Record {
	return Record{Kind: e.Kind, Key: string(e.Key), Payload: e.Payload}
}

func (e *Entry) String() string {
	return fmt.Sprintf("Journal[LSN=%d TxnID=%d Kind=%s Key=%s PayloadLen=%d]",
		e.LSN, e.TxnID, e.Kind, e.Key, len(e.Payload))
}

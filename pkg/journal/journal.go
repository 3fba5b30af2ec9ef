package journal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Appender is the write side of the journal as seen by the stores
type Appender interface {
	Append(records ...Record) error
}

// Discard is an Appender for engines that keep no durable state
var Discard Appender = discard{}

type discard struct{}

func (discard) Append(records ...Record) error { return nil }

// Journal is a single append-only log file
type Journal struct {
	// Path is the journal file (e.g., "/data/contentvcs.journal")
	Path string

	// Sync fsyncs after every transaction
	Sync bool

	mu     sync.Mutex
	fd     logFile
	lsn    uint64
	txnID  uint64
	size   int64
	closed bool
	failed error // set when a failed append could not be undone
}

// logFile is the part of *os.File the journal writes through
type logFile interface {
	io.Writer
	io.Seeker
	Sync() error
	Truncate(size int64) error
	Close() error
}

// Open opens or creates the journal. Anything after the last commit marker,
// such as a torn tail left by a crash mid-append, is cut off so new
// transactions start on a clean boundary.
func (j *Journal) Open() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.Path), 0755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	fd, err := os.OpenFile(j.Path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	scan, err := scanFile(fd, nil)
	if err != nil {
		fd.Close()
		return err
	}

	if err := fd.Truncate(scan.committedSize); err != nil {
		fd.Close()
		return fmt.Errorf("truncate torn tail: %w", err)
	}
	if _, err := fd.Seek(scan.committedSize, io.SeekStart); err != nil {
		fd.Close()
		return err
	}

	j.fd = fd
	j.lsn = scan.maxLSN
	j.txnID = scan.maxTxnID
	j.size = scan.committedSize
	j.closed = false
	j.failed = nil
	return nil
}

// Append writes records as one transaction followed by a commit marker.
// Either the whole transaction replays or none of it does.
func (j *Journal) Append(records ...Record) error {
	if len(records) == 0 {
		return ErrEmptyTxn
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed || j.fd == nil {
		return ErrLogClosed
	}
	if j.failed != nil {
		return fmt.Errorf("%w: %v", ErrLogFailed, j.failed)
	}

	startSize, startLSN, startTxn := j.size, j.lsn, j.txnID
	j.txnID++
	now := time.Now()

	var buf bytes.Buffer
	for _, rec := range records {
		j.lsn++
		e := Entry{LSN: j.lsn, TxnID: j.txnID, Kind: rec.Kind, Key: []byte(rec.Key), Payload: rec.Payload, Timestamp: now}
		buf.Write(e.Encode())
	}
	j.lsn++
	marker := Entry{LSN: j.lsn, TxnID: j.txnID, Kind: KindCommit, Timestamp: now}
	buf.Write(marker.Encode())

	if _, err := j.fd.Write(buf.Bytes()); err != nil {
		j.rollback(startSize, startLSN, startTxn)
		return fmt.Errorf("journal write: %w", err)
	}
	if j.Sync {
		if err := j.fd.Sync(); err != nil {
			j.rollback(startSize, startLSN, startTxn)
			return fmt.Errorf("journal fsync: %w", err)
		}
	}
	j.size = startSize + int64(buf.Len())
	return nil
}

// rollback cuts a failed transaction off the end of the file so later
// appends are not written after a torn frame. If that fails too the journal
// refuses further appends until it is reopened.
func (j *Journal) rollback(size int64, lsn, txnID uint64) {
	j.lsn, j.txnID = lsn, txnID
	if err := j.fd.Truncate(size); err != nil {
		j.failed = err
		return
	}
	if _, err := j.fd.Seek(size, io.SeekStart); err != nil {
		j.failed = err
		return
	}
	j.size = size
}

// Size returns the number of bytes in the journal
func (j *Journal) Size() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.size
}

// LastLSN returns the highest sequence number written
func (j *Journal) LastLSN() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lsn
}

// Close closes the journal
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed || j.fd == nil {
		return nil
	}
	j.closed = true
	if err := j.fd.Sync(); err != nil {
		j.fd.Close()
		return err
	}
	return j.fd.Close()
}

type scanResult struct {
	validSize     int64
	committedSize int64 // end of the last commit marker
	maxLSN        uint64
	maxTxnID      uint64
	tornTail      bool
}

// scanFile reads entries from the start of fd, calling visit for each valid
// one, and stops at EOF or at the first entry that fails to decode
func scanFile(fd *os.File, visit func(*Entry) error) (scanResult, error) {
	var res scanResult

	if _, err := fd.Seek(0, io.SeekStart); err != nil {
		return res, err
	}
	r := bufio.NewReader(fd)

	for {
		entry, n, err := readEntry(r)
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			if errors.Is(err, ErrTruncated) || errors.Is(err, ErrCorrupted) {
				res.tornTail = true
				return res, nil
			}
			return res, err
		}

		res.validSize += int64(n)
		if entry.Kind == KindCommit {
			res.committedSize = res.validSize
		}
		if entry.LSN > res.maxLSN {
			res.maxLSN = entry.LSN
		}
		if entry.TxnID > res.maxTxnID {
			res.maxTxnID = entry.TxnID
		}

		if visit != nil {
			if err := visit(entry); err != nil {
				return res, err
			}
		}
	}
}

// readEntry reads a single entry and reports how many bytes it consumed
func readEntry(r io.Reader) (*Entry, int, error) {
	header := make([]byte, EntryHeaderSize)
	n, err := io.ReadFull(r, header)
	if err == io.EOF {
		return nil, 0, io.EOF
	}
	if err != nil {
		return nil, n, ErrTruncated
	}

	keyLen := binary.LittleEndian.Uint32(header[24:28])
	payloadLen := binary.LittleEndian.Uint32(header[28:32])
	dataLen := int64(keyLen) + int64(payloadLen) + 4
	if dataLen > MaxEntrySize {
		return nil, n, ErrCorrupted
	}

	data := make([]byte, EntryHeaderSize+int(dataLen))
	copy(data, header)
	m, err := io.ReadFull(r, data[EntryHeaderSize:])
	if err != nil {
		return nil, n + m, ErrTruncated
	}

	entry, err := DecodeEntry(data)
	if err != nil {
		return nil, len(data), err
	}
	return entry, len(data), nil
}

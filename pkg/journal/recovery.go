package journal

import (
	"fmt"
	"os"
)

// ReplayFunc is called for each record of a committed transaction, in log order
type ReplayFunc func(rec Record) error

// RecoveryStats describes what a replay saw
type RecoveryStats struct {
	TotalEntries    int
	CommittedTxns   int
	UncommittedTxns int
	ReplayedRecords int
	TornTail        bool
}

type pendingTxn struct {
	id      uint64
	entries []*Entry
}

// Replay reads the journal from the start and hands every record of every
// committed transaction to replay. Transactions without a commit marker are
// skipped.
func (j *Journal) Replay(replay ReplayFunc) (*RecoveryStats, error) {
	stats := &RecoveryStats{}

	fd, err := os.Open(j.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return nil, err
	}
	defer fd.Close()

	var current *pendingTxn
	var replayErr error

	res, err := scanFile(fd, func(e *Entry) error {
		stats.TotalEntries++

		if current != nil && current.id != e.TxnID {
			stats.UncommittedTxns++
			current = nil
		}
		if current == nil {
			current = &pendingTxn{id: e.TxnID}
		}

		if e.Kind != KindCommit {
			current.entries = append(current.entries, e)
			return nil
		}

		stats.CommittedTxns++
		for _, entry := range current.entries {
			if err := replay(entry.Record()); err != nil {
				replayErr = fmt.Errorf("replay failed at LSN %d: %w", entry.LSN, err)
				return replayErr
			}
			stats.ReplayedRecords++
		}
		current = nil
		return nil
	})
	if replayErr != nil {
		return stats, replayErr
	}
	if err != nil {
		return stats, err
	}

	if current != nil {
		stats.UncommittedTxns++
	}
	stats.TornTail = res.tornTail
	return stats, nil
}

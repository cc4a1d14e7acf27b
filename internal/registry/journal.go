package registry

// Task journal: every lifecycle transition is appended to LevelDB so retries
// and reassignments stay auditable across runs. All methods tolerate a nil
// receiver, making the journal strictly optional.

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"patlas/internal/logging"
	"patlas/internal/types"
)

// LevelDB key scheme: "|" separates segments, and the sequence is zero-padded
// so a prefix iteration yields events in append order.
//
//	t|<task_id>|<seq08> → TaskEvent JSON
const journalPrefix = "t|"

// TaskEvent is one journaled lifecycle transition.
type TaskEvent struct {
	TaskID     string           `json:"task_id"`
	From       types.TaskStatus `json:"from"`
	To         types.TaskStatus `json:"to"`
	WorkerID   string           `json:"worker_id,omitempty"`
	Error      string           `json:"error,omitempty"`
	RetryCount int              `json:"retry_count"`
	At         time.Time        `json:"at"`
}

// Journal is the LevelDB-backed append-only event log.
type Journal struct {
	db     *leveldb.DB
	logger *zap.Logger
	seq    map[string]int
}

// OpenJournal opens (or creates) the journal database at path.
func OpenJournal(path string, logger *zap.Logger) (*Journal, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open task journal at %s: %w", path, err)
	}
	return &Journal{
		db:     db,
		logger: logging.Named(logger, "journal"),
		seq:    make(map[string]int),
	}, nil
}

// Append records one event. Errors are logged, not returned: journaling never
// blocks task progress.
func (j *Journal) Append(ev TaskEvent) {
	if j == nil {
		return
	}
	seq, ok := j.seq[ev.TaskID]
	if !ok {
		seq = j.countEvents(ev.TaskID)
	}
	j.seq[ev.TaskID] = seq + 1

	key := fmt.Sprintf("%s%s|%08d", journalPrefix, ev.TaskID, seq)
	data, err := json.Marshal(ev)
	if err != nil {
		j.logger.Warn("journal marshal failed", zap.String("task", ev.TaskID), zap.Error(err))
		return
	}
	if err := j.db.Put([]byte(key), data, nil); err != nil {
		j.logger.Warn("journal write failed", zap.String("task", ev.TaskID), zap.Error(err))
	}
}

// Events returns the journaled transitions for taskID in append order.
func (j *Journal) Events(taskID string) ([]TaskEvent, error) {
	if j == nil {
		return nil, nil
	}
	prefix := journalPrefix + taskID + "|"
	iter := j.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	var out []TaskEvent
	for iter.Next() {
		var ev TaskEvent
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return nil, fmt.Errorf("corrupt journal entry %s: %w", iter.Key(), err)
		}
		out = append(out, ev)
	}
	return out, iter.Error()
}

// countEvents scans for the next sequence number after a reopen.
func (j *Journal) countEvents(taskID string) int {
	prefix := journalPrefix + taskID + "|"
	iter := j.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	n := 0
	for iter.Next() {
		n++
	}
	return n
}

// Close releases the underlying database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}

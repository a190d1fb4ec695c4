package consensus

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"github.com/aerolithdb/aerolithdb/internal/aerrors"
)

// ShardLog is a shard's durable, append-only commit log: one NDJSON line
// per committed batch, fsynced before Append returns so a crash never
// loses an acknowledged commit (spec §6 "shards/<shard_id>/log",
// generalized from the teacher's WAL append/readAll/truncate shape).
type ShardLog struct {
	mu   sync.Mutex
	file *os.File
	path string

	highestSeq uint64
}

// OpenShardLog opens (creating if absent) the commit log at path and
// replays it to establish the current highest committed sequence.
func OpenShardLog(path string) (*ShardLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, aerrors.Internalf("open shard log %s: %v", path, err)
	}
	l := &ShardLog{file: f, path: path}
	if _, err := l.BatchesFrom(0); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// Append durably records batch as committed. Callers must call Append
// only after the batch reaches PhaseCommitted.
func (l *ShardLog) Append(batch Batch) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(batch)
	if err != nil {
		return aerrors.Internalf("marshal committed batch: %v", err)
	}
	data = append(data, '\n')
	if _, err := l.file.Write(data); err != nil {
		return aerrors.Internalf("shard log write: %v", err)
	}
	if err := l.file.Sync(); err != nil {
		return aerrors.Internalf("shard log fsync: %v", err)
	}
	if batch.Seq > l.highestSeq {
		l.highestSeq = batch.Seq
	}
	return nil
}

// BatchesFrom returns every committed batch with Seq >= fromSeq, in
// order. It also refreshes the in-memory highest-seq tracker, so calling
// it with fromSeq 0 right after OpenShardLog replays the whole log.
func (l *ShardLog) BatchesFrom(fromSeq uint64) ([]Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Seek(0, 0); err != nil {
		return nil, aerrors.Internalf("shard log seek: %v", err)
	}

	var batches []Batch
	scanner := bufio.NewScanner(l.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var b Batch
		if err := json.Unmarshal(line, &b); err != nil {
			return nil, aerrors.CorruptedRecordf("shard log %s has a corrupt entry: %v", l.path, err)
		}
		if b.Seq > l.highestSeq {
			l.highestSeq = b.Seq
		}
		if b.Seq >= fromSeq {
			batches = append(batches, b)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, aerrors.Internalf("shard log scan: %v", err)
	}
	if _, err := l.file.Seek(0, 2); err != nil {
		return nil, aerrors.Internalf("shard log seek end: %v", err)
	}
	return batches, nil
}

// HighestCommittedSeq returns the highest Seq this log has recorded.
func (l *ShardLog) HighestCommittedSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.highestSeq
}

// Close closes the underlying file.
func (l *ShardLog) Close() error {
	return l.file.Close()
}

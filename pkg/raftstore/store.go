package raftstore

import (
	"fmt"

	"github.com/downfa11-org/raftlog/pkg/seglog"
	"github.com/downfa11-org/raftlog/pkg/types"
	"github.com/hashicorp/raft"
)

// LogStore adapts a SegmentedLog to hashicorp/raft's LogStore interface,
// so a raft node persists its entries in segment files instead of the
// in-memory store. Only Data round-trips; Extensions and AppendedAt are
// not stored.
type LogStore struct {
	log *seglog.SegmentedLog
}

func NewLogStore(log *seglog.SegmentedLog) *LogStore {
	return &LogStore{log: log}
}

// FirstIndex returns the oldest retained index, 0 for an empty log.
func (s *LogStore) FirstIndex() (uint64, error) {
	first := s.log.FirstIndex()
	if first < 0 {
		return 0, nil
	}
	return uint64(first), nil
}

// LastIndex returns the newest index, 0 for an empty log.
func (s *LogStore) LastIndex() (uint64, error) {
	last := s.log.LastIndex()
	if last < 0 {
		return 0, nil
	}
	return uint64(last), nil
}

func (s *LogStore) GetLog(index uint64, out *raft.Log) error {
	e := s.log.Get(index)
	if e == nil {
		return raft.ErrLogNotFound
	}
	out.Index = e.Index
	out.Term = e.Term
	out.Type = logTypeFromKind(e.Kind)
	out.Data = e.Payload
	return nil
}

func (s *LogStore) StoreLog(log *raft.Log) error {
	return s.StoreLogs([]*raft.Log{log})
}

func (s *LogStore) StoreLogs(logs []*raft.Log) error {
	entries := make([]*types.LogEntry, 0, len(logs))
	for _, lg := range logs {
		entries = append(entries, &types.LogEntry{
			Index:   lg.Index,
			Term:    lg.Term,
			Kind:    kindFromLogType(lg.Type),
			Payload: lg.Data,
		})
	}
	return s.log.AppendBatch(entries)
}

// DeleteRange maps raft's two deletion patterns onto the log: a prefix
// delete becomes compaction, a suffix delete becomes truncation.
// Deleting a strict middle range is not expressible on a segmented log.
func (s *LogStore) DeleteRange(min, max uint64) error {
	first, _ := s.FirstIndex()
	last, _ := s.LastIndex()

	if min <= first {
		return s.log.Compact(max)
	}
	if max >= last {
		return s.log.Truncate(min)
	}
	return fmt.Errorf("seglog: cannot delete interior range [%d, %d] of [%d, %d]", min, max, first, last)
}

// Flush forces pending appends to durable storage. The consensus layer
// calls it before acknowledging a replication round in batch sync mode.
func (s *LogStore) Flush() error {
	return s.log.Flush()
}

func (s *LogStore) Close() error {
	return s.log.Close()
}

func kindFromLogType(t raft.LogType) types.EntryKind {
	switch t {
	case raft.LogNoop:
		return types.EntryNoop
	case raft.LogConfiguration, raft.LogAddPeerDeprecated, raft.LogRemovePeerDeprecated:
		return types.EntryConfiguration
	case raft.LogBarrier:
		return types.EntryBarrier
	default:
		return types.EntryCommand
	}
}

func logTypeFromKind(k types.EntryKind) raft.LogType {
	switch k {
	case types.EntryNoop:
		return raft.LogNoop
	case types.EntryConfiguration:
		return raft.LogConfiguration
	case types.EntryBarrier:
		return raft.LogBarrier
	default:
		return raft.LogCommand
	}
}

package trees

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/codec"
	"github.com/lalith-99/harmonyhost/internal/herror"
	"github.com/lalith-99/harmonyhost/internal/keyspace"
	"github.com/lalith-99/harmonyhost/internal/storage"
)

// QueuedEvent is one durable federation event awaiting delivery to a
// remote host (spec.md §4.4 SyncTree, §4.8 federation synchronizer).
type QueuedEvent struct {
	Sequence uint64 `msgpack:"sequence"`
	Payload  []byte `msgpack:"payload"`
}

// SyncTree owns the per-host durable queue that backs Push/Pull
// federation RPCs: events a host missed while offline accumulate here and
// drain in order once it's reachable again (spec.md §8 "Federation
// queue").
type SyncTree struct {
	tree   storage.Tree
	logger *zap.Logger
}

func NewSyncTree(tree storage.Tree, logger *zap.Logger) *SyncTree {
	return &SyncTree{tree: tree, logger: logger}
}

// Enqueue appends payload to host's queue, numbering it one past the last
// queued event's sequence (0 for an empty queue) so delivery order is
// preserved even across restarts.
func (s *SyncTree) Enqueue(ctx context.Context, host string, payload []byte) error {
	queue, err := s.loadQueue(ctx, host)
	if err != nil {
		return err
	}
	var nextSeq uint64
	if len(queue) > 0 {
		nextSeq = queue[len(queue)-1].Sequence + 1
	}
	queue = append(queue, QueuedEvent{Sequence: nextSeq, Payload: payload})
	return s.saveQueue(ctx, host, queue)
}

// Drain returns every queued event for host in original order without
// removing them — callers remove via Ack only after a confirmed delivery,
// so a crash between Drain and Ack just redelivers (at-least-once, never
// reordered or dropped).
func (s *SyncTree) Drain(ctx context.Context, host string) ([]QueuedEvent, error) {
	return s.loadQueue(ctx, host)
}

// Ack drops every event up to and including upToSeq. The federation Pull
// handler calls it for the pulling peer after draining that peer's queue.
func (s *SyncTree) Ack(ctx context.Context, host string, upToSeq uint64) error {
	queue, err := s.loadQueue(ctx, host)
	if err != nil {
		return err
	}
	remaining := queue[:0]
	for _, ev := range queue {
		if ev.Sequence > upToSeq {
			remaining = append(remaining, ev)
		}
	}
	return s.saveQueue(ctx, host, remaining)
}

// Hosts returns every host with a recorded queue (empty or not), used by
// the federation pull loop to know who to poll (source: pull_events
// scanning HOST_PREFIX).
func (s *SyncTree) Hosts(ctx context.Context) ([]string, error) {
	entries, err := s.tree.ScanPrefix(ctx, []byte(keyspace.HostPrefix()))
	if err != nil {
		return nil, herror.Internal(err)
	}
	hosts := make([]string, 0, len(entries))
	for _, e := range entries {
		hosts = append(hosts, keyspace.DecodeHost(e.Key))
	}
	return hosts, nil
}

func (s *SyncTree) loadQueue(ctx context.Context, host string) ([]QueuedEvent, error) {
	raw, err := s.tree.Get(ctx, keyspace.HostKey(host))
	if err != nil {
		return nil, herror.Internal(err)
	}
	if raw == nil {
		return nil, nil
	}
	queue, err := codec.Decode[[]QueuedEvent](raw)
	if err != nil {
		return nil, herror.Internal(err)
	}
	return *queue, nil
}

func (s *SyncTree) saveQueue(ctx context.Context, host string, queue []QueuedEvent) error {
	raw, err := codec.Encode(queue)
	if err != nil {
		return herror.Internal(err)
	}
	if _, err := s.tree.Insert(ctx, keyspace.HostKey(host), raw); err != nil {
		return herror.Internal(err)
	}
	return nil
}

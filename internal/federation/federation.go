package federation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/herror"
	"github.com/lalith-99/harmonyhost/internal/trees"
)

// HostList implements spec.md §4.8's allow/block gating: a host is
// permitted if it's on a non-empty allow-list, or if the allow-list is
// empty and the host isn't on the block-list (config.rs
// FederationConfig::is_host_allowed).
type HostList struct {
	Allow []string
	Block []string
}

func (h HostList) IsAllowed(host string) bool {
	for _, allowed := range h.Allow {
		if allowed == host {
			return true
		}
	}
	if len(h.Allow) > 0 {
		return false
	}
	for _, blocked := range h.Block {
		if blocked == host {
			return false
		}
	}
	return true
}

// Pusher and Puller are the outbound RPC surface federation drives
// against a peer's Postbox service; Client implementations live in
// internal/transport so this package has no HTTP dependency of its own.
type Pusher interface {
	Push(ctx context.Context, host string, token Token, event trees.QueuedEvent) error
}

type Puller interface {
	Pull(ctx context.Context, host string, token Token) ([]trees.QueuedEvent, error)
}

// Applier interprets one pulled event's payload against local storage
// (e.g. ChatTree.AddToGuildList/RemoveFromGuildList for the two event
// kinds the source actually implements — UserInvited/UserRejectedInvite
// are left as a todo!() there too). Kept separate from Federation so this
// package never needs to know the wire shape of individual event kinds.
type Applier interface {
	Apply(ctx context.Context, host string, payload []byte) error
}

// dispatch is one outbound event destined for a specific host, matching
// the source's EventDispatch{host, event}.
type dispatch struct {
	host  string
	event trees.QueuedEvent
}

const maxPushRetries = 5

// Federation drives the push and pull loops that keep this server's view
// of remote guilds/members eventually consistent with its federation
// peers. ownHost identifies this server in outgoing auth tokens.
type Federation struct {
	ownHost  string
	hosts    HostList
	keys     *KeyManager
	sync     *trees.SyncTree
	pusher   Pusher
	puller   Puller
	applier  Applier
	dispatch chan dispatch
	logger   *zap.Logger
}

func New(ownHost string, hosts HostList, keys *KeyManager, syncTree *trees.SyncTree, pusher Pusher, puller Puller, applier Applier, logger *zap.Logger) *Federation {
	return &Federation{
		ownHost:  ownHost,
		hosts:    hosts,
		keys:     keys,
		sync:     syncTree,
		pusher:   pusher,
		puller:   puller,
		applier:  applier,
		dispatch: make(chan dispatch, 4096),
		logger:   logger,
	}
}

// Enabled reports whether federation should run at all; a server with no
// configured key refuses it wholesale (spec.md §4.8).
func (f *Federation) Enabled() bool {
	return f.keys != nil
}

// Dispatch queues an event for eventual delivery to host. Non-blocking
// only up to the dispatch channel's capacity — a saturated channel means
// the federation subsystem is falling behind and callers should see that
// as backpressure, so unlike eventbus.Bus.Publish this does block.
func (f *Federation) Dispatch(ctx context.Context, host string, payload []byte) error {
	if !f.Enabled() {
		return herror.ErrFederationDisabled
	}
	if !f.hosts.IsAllowed(host) {
		return herror.ErrHostNotAllowed
	}
	select {
	case f.dispatch <- dispatch{host: host, event: trees.QueuedEvent{Payload: payload}}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunPushLoop drains queued dispatches, attempting direct delivery first
// and falling back to the durable per-host queue on repeated failure
// (source: impls/sync/mod.rs push_events).
func (f *Federation) RunPushLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-f.dispatch:
			f.pushOne(ctx, d)
		}
	}
}

func (f *Federation) pushOne(ctx context.Context, d dispatch) {
	if !f.hosts.IsAllowed(d.host) {
		return
	}

	queued, err := f.sync.Drain(ctx, d.host)
	if err != nil {
		f.logger.Error("federation: reading host queue failed", zap.String("host", d.host), zap.Error(err))
		return
	}
	if len(queued) > 0 {
		// Already backlogged for this host: append rather than racing a
		// direct push ahead of older undelivered events.
		if err := f.sync.Enqueue(ctx, d.host, d.event.Payload); err != nil {
			f.logger.Error("federation: enqueue failed", zap.String("host", d.host), zap.Error(err))
		}
		return
	}

	token := f.keys.NewAuthToken(f.ownHost)
	var pushErr error
	for attempt := 0; attempt <= maxPushRetries; attempt++ {
		pushErr = f.pusher.Push(ctx, d.host, token, d.event)
		if pushErr == nil {
			return
		}
	}

	f.logger.Warn("federation: push failed after retries, queuing", zap.String("host", d.host), zap.Error(pushErr))
	if err := f.sync.Enqueue(ctx, d.host, d.event.Payload); err != nil {
		f.logger.Error("federation: enqueue after failed push failed", zap.String("host", d.host), zap.Error(err))
	}
}

// RunPullLoop polls every host with a durable queue once at startup and
// then on interval, applying whatever the peer returns (source:
// pull_events). It does not clear or ack the local queue for that host;
// that queue only shrinks when the peer pulls it from this server.
func (f *Federation) RunPullLoop(ctx context.Context, interval time.Duration) {
	f.pullRound(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.pullRound(ctx)
		}
	}
}

func (f *Federation) pullRound(ctx context.Context) {
	hosts, err := f.sync.Hosts(ctx)
	if err != nil {
		f.logger.Error("federation: listing hosts failed", zap.Error(err))
		return
	}
	for _, host := range hosts {
		if !f.hosts.IsAllowed(host) {
			continue
		}
		token := f.keys.NewAuthToken(f.ownHost)
		events, err := f.puller.Pull(ctx, host, token)
		if err != nil {
			f.logger.Warn("federation: pull failed", zap.String("host", host), zap.Error(err))
			continue
		}
		for _, ev := range events {
			if err := f.applier.Apply(ctx, host, ev.Payload); err != nil {
				f.logger.Error("federation: applying pulled event failed", zap.String("host", host), zap.Error(err))
			}
		}
		f.logger.Debug("federation: pulled events", zap.String("host", host), zap.Int("count", len(events)))
	}
}

package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrCancelled is the distinguishable error a Session's Run loop returns
// when it was terminated by an external Cancel broadcast for its user
// (spec.md §4.6 "Cancellation").
var ErrCancelled = errors.New("eventbus: session cancelled")

// maxConsecutiveFailures aborts a session after this many write (delivery)
// failures in a row (spec.md §4.6). Read failures are not counted: the
// first one ends the session.
const maxConsecutiveFailures = 5

// ControlMessage is a subscription-control frame a client can send over
// its socket.
type ControlMessage struct {
	Type    string `json:"type"` // "subscribe_guild" | "subscribe_actions" | "subscribe_homeserver" | "unsubscribe_all"
	GuildID uint64 `json:"guild_id,omitempty"`
}

// MembershipChecker validates guild membership before a client may
// subscribe to that guild's events.
type MembershipChecker interface {
	IsMember(ctx context.Context, guildID, userID uint64) (bool, error)
}

// Session is the per-connected-client task of spec.md §4.6: it owns the
// client's write half, its active subscription set, and the
// manual_sub_handling flag governing whether the bus's automatic
// guild-list maintenance still applies.
type Session struct {
	UserID uint64
	conn   *websocket.Conn
	bus    *Bus
	checker MembershipChecker
	resolver Resolver
	logger *zap.Logger

	// subsMu guards subs and manualSubHandling: handleControl mutates them
	// from the readLoop goroutine while Run's own goroutine reads them in
	// accepts and writes them in applyGuildListChange (spec.md §4.6 models
	// a session as one cooperative task, but the read and write halves
	// are still separate goroutines here).
	subsMu             sync.Mutex
	subs               map[Sub]struct{}
	manualSubHandling  bool
	consecutiveFailures int
}

func NewSession(userID uint64, conn *websocket.Conn, bus *Bus, checker MembershipChecker, resolver Resolver, logger *zap.Logger, localGuildIDs []uint64) *Session {
	subs := map[Sub]struct{}{
		{Kind: SubHomeserver}: {},
		{Kind: SubActions}:    {},
	}
	for _, g := range localGuildIDs {
		subs[Sub{Kind: SubGuild, GuildID: g}] = struct{}{}
	}
	return &Session{
		UserID:   userID,
		conn:     conn,
		bus:      bus,
		checker:  checker,
		resolver: resolver,
		logger:   logger,
		subs:     subs,
	}
}

// Run drives the session loop until the client disconnects, is cancelled,
// or exceeds maxConsecutiveFailures. It owns both read (subscription
// control) and write (broadcast delivery) sides from separate goroutines;
// the read goroutine reports its terminating error over a channel that
// Run selects on, matching the "selects over (a) the
// client read half ... (b) the broadcast receiver" shape of spec.md §4.6.
func (s *Session) Run(ctx context.Context) error {
	events, cancel := s.bus.Subscribe()
	defer cancel()

	readErrCh := make(chan error, 1)
	go s.readLoop(ctx, readErrCh)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErrCh:
			return err
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if c, isCancel := ev.Payload.(Cancel); isCancel {
				if c.UserID == s.UserID {
					return ErrCancelled
				}
				continue
			}
			if c, isGuildAdd := ev.Payload.(GuildListChange); isGuildAdd && c.UserID == s.UserID {
				s.applyGuildListChange(c)
			}
			if !s.accepts(ev) {
				continue
			}
			if err := s.deliver(ev); err != nil {
				s.consecutiveFailures++
				if s.consecutiveFailures >= maxConsecutiveFailures {
					return err
				}
				continue
			}
			s.consecutiveFailures = 0
		}
	}
}

// GuildListChange is published whenever a user's guild_list index gains
// or loses an entry; Session uses it to keep automatic subscriptions in
// sync (spec.md §4.6 "Automatic sub maintenance").
type GuildListChange struct {
	UserID  uint64
	GuildID uint64
	Added   bool
}

func (s *Session) applyGuildListChange(c GuildListChange) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if s.manualSubHandling {
		return
	}
	sub := Sub{Kind: SubGuild, GuildID: c.GuildID}
	if c.Added {
		s.subs[sub] = struct{}{}
	} else {
		delete(s.subs, sub)
	}
}

func (s *Session) subscribed(sub Sub) bool {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	_, ok := s.subs[sub]
	return ok
}

func (s *Session) accepts(ev Event) bool {
	if !s.subscribed(ev.Sub) {
		return false
	}
	if len(ev.UserIDs) > 0 {
		found := false
		for _, id := range ev.UserIDs {
			if id == s.UserID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if ev.PermCheck != nil && !ev.PermCheck.Empty {
		if !s.resolver.Allows(*ev.PermCheck, s.UserID) {
			return false
		}
	}
	return true
}

func (s *Session) deliver(ev Event) error {
	raw, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, raw)
}

func (s *Session) readLoop(ctx context.Context, errCh chan<- error) {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			errCh <- err
			return
		}
		var ctrl ControlMessage
		if err := json.Unmarshal(raw, &ctrl); err != nil {
			continue
		}
		s.handleControl(ctx, ctrl)
	}
}

func (s *Session) handleControl(ctx context.Context, ctrl ControlMessage) {
	switch ctrl.Type {
	case "subscribe_guild":
		member, err := s.checker.IsMember(ctx, ctrl.GuildID, s.UserID)
		if err != nil || !member {
			return
		}
		s.subsMu.Lock()
		s.subs[Sub{Kind: SubGuild, GuildID: ctrl.GuildID}] = struct{}{}
		s.subsMu.Unlock()
	case "subscribe_actions":
		s.subsMu.Lock()
		s.subs[Sub{Kind: SubActions}] = struct{}{}
		s.subsMu.Unlock()
	case "subscribe_homeserver":
		s.subsMu.Lock()
		s.subs[Sub{Kind: SubHomeserver}] = struct{}{}
		s.subsMu.Unlock()
	case "unsubscribe_all":
		s.subsMu.Lock()
		s.subs = make(map[Sub]struct{})
		s.manualSubHandling = true
		s.subsMu.Unlock()
	}
}

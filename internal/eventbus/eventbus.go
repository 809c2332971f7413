// Package eventbus is the broadcast bus and per-client session processor
// of spec.md §4.6. One process-wide Bus fans events out to every
// connected client's Session; each Session applies its own subscription
// and permission filter before writing to its socket.
package eventbus

import (
	"sync"

	"go.uber.org/zap"
)

// SubKind is the three subscription selector variants spec.md names.
type SubKind int

const (
	SubGuild SubKind = iota
	SubHomeserver
	SubActions
)

// Sub identifies one subscription; GuildID is only meaningful when Kind
// is SubGuild.
type Sub struct {
	Kind    SubKind
	GuildID uint64
}

// PermCheck is the optional permission precheck an event carries; a nil
// *PermCheck (or the zero value with Empty set) always passes, matching
// spec.md's "treating EmptyPermissionQuery as allow".
type PermCheck struct {
	GuildID   uint64
	ChannelID *uint64
	MatchFor  string
	MustOwner bool
	Empty     bool
}

// Resolver is the subset of permission.Resolver the bus needs, kept as an
// interface so eventbus never imports internal/permission or
// internal/trees directly.
type Resolver interface {
	Allows(check PermCheck, userID uint64) bool
}

// Event is one message published on the bus.
type Event struct {
	Sub       Sub
	Payload   any
	PermCheck *PermCheck
	UserIDs   []uint64 // non-empty means "only these users may receive this"
}

// Bus is the process-wide broadcaster. Each Subscribe call hands back a
// bounded channel; a slow reader that doesn't drain it in time misses
// events rather than stalling the publisher (spec.md "lagged receivers
// skip missed broadcasts").
type Bus struct {
	mu       sync.RWMutex
	subs     map[int]chan Event
	nextID   int
	capacity int
	logger   *zap.Logger
}

func New(capacity int, logger *zap.Logger) *Bus {
	return &Bus{subs: make(map[int]chan Event), capacity: capacity, logger: logger}
}

// Subscribe registers a new receiver. Call the returned cancel func when
// the owning Session exits.
func (b *Bus) Subscribe() (ch <-chan Event, cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	c := make(chan Event, b.capacity)
	b.subs[id] = c
	return c, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
}

// Publish fans ev out to every current subscriber. Per-request handlers
// call this only after their write batch has committed (spec.md §4.6), so
// a subscriber that reacts by reading storage always sees the new state.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("eventbus: subscriber lagging, event dropped", zap.Int("subscriber", id))
		}
	}
}

// Cancel is a distinguished event a Session recognizes as "terminate your
// read loop now" (spec.md §4.6 "Cancellation").
type Cancel struct {
	UserID uint64
}

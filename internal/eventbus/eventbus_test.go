package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := New(4, zap.NewNop())
	events, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(Event{Sub: Sub{Kind: SubHomeserver}, Payload: "hello"})

	ev := <-events
	assert.Equal(t, "hello", ev.Payload)
}

func TestPublishDropsWhenSubscriberLags(t *testing.T) {
	bus := New(1, zap.NewNop())
	events, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(Event{Sub: Sub{Kind: SubActions}, Payload: 1})
	bus.Publish(Event{Sub: Sub{Kind: SubActions}, Payload: 2}) // dropped, channel full

	first := <-events
	assert.Equal(t, 1, first.Payload)
	select {
	case <-events:
		t.Fatal("expected no second event; the lagging publish should have been dropped")
	default:
	}
}

type allowAllResolver struct{}

func (allowAllResolver) Allows(PermCheck, uint64) bool { return true }

type denyAllResolver struct{}

func (denyAllResolver) Allows(PermCheck, uint64) bool { return false }

func TestAcceptsRequiresSubscription(t *testing.T) {
	s := &Session{UserID: 1, subs: map[Sub]struct{}{{Kind: SubActions}: {}}, resolver: allowAllResolver{}}
	assert.True(t, s.accepts(Event{Sub: Sub{Kind: SubActions}}))
	assert.False(t, s.accepts(Event{Sub: Sub{Kind: SubHomeserver}}))
}

func TestAcceptsHonorsUserAllowList(t *testing.T) {
	s := &Session{UserID: 5, subs: map[Sub]struct{}{{Kind: SubActions}: {}}, resolver: allowAllResolver{}}
	assert.False(t, s.accepts(Event{Sub: Sub{Kind: SubActions}, UserIDs: []uint64{6, 7}}))
	assert.True(t, s.accepts(Event{Sub: Sub{Kind: SubActions}, UserIDs: []uint64{5}}))
}

func TestAcceptsHonorsPermCheck(t *testing.T) {
	allow := &Session{UserID: 1, subs: map[Sub]struct{}{{Kind: SubActions}: {}}, resolver: allowAllResolver{}}
	deny := &Session{UserID: 1, subs: map[Sub]struct{}{{Kind: SubActions}: {}}, resolver: denyAllResolver{}}
	check := &PermCheck{MatchFor: "messages.send"}

	assert.True(t, allow.accepts(Event{Sub: Sub{Kind: SubActions}, PermCheck: check}))
	assert.False(t, deny.accepts(Event{Sub: Sub{Kind: SubActions}, PermCheck: check}))
}

func TestAcceptsTreatsEmptyPermCheckAsAllow(t *testing.T) {
	s := &Session{UserID: 1, subs: map[Sub]struct{}{{Kind: SubActions}: {}}, resolver: denyAllResolver{}}
	assert.True(t, s.accepts(Event{Sub: Sub{Kind: SubActions}, PermCheck: &PermCheck{Empty: true}}))
}

func TestApplyGuildListChangeRespectsManualHandling(t *testing.T) {
	s := &Session{UserID: 1, subs: map[Sub]struct{}{}, manualSubHandling: true}
	s.applyGuildListChange(GuildListChange{UserID: 1, GuildID: 9, Added: true})
	_, present := s.subs[Sub{Kind: SubGuild, GuildID: 9}]
	assert.False(t, present, "manual_sub_handling must suppress automatic subscription maintenance")
}

func TestApplyGuildListChangeAddsAndRemoves(t *testing.T) {
	s := &Session{UserID: 1, subs: map[Sub]struct{}{}}
	s.applyGuildListChange(GuildListChange{UserID: 1, GuildID: 9, Added: true})
	_, present := s.subs[Sub{Kind: SubGuild, GuildID: 9}]
	require.True(t, present)

	s.applyGuildListChange(GuildListChange{UserID: 1, GuildID: 9, Added: false})
	_, present = s.subs[Sub{Kind: SubGuild, GuildID: 9}]
	assert.False(t, present)
}

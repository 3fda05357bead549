package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoom(t *testing.T) *Presence {
	t.Helper()
	p := NewPresence()
	p.Join("room1", "alice", "alice-1")
	p.Join("room1", "bob", "bob-1")
	p.Join("room1", "carol", "carol-1")
	p.Join("room2", "dave", "dave-1")
	return p
}

func TestPresence_JoinDefaultsAndLeave(t *testing.T) {
	p := newRoom(t)

	entry, ok := p.Get("alice-1")
	require.True(t, ok)
	assert.True(t, entry.Audio)
	assert.True(t, entry.Video)
	assert.Equal(t, OffReasonNone, entry.OffReason)

	last, ok := p.Leave("alice-1")
	require.True(t, ok)
	assert.Equal(t, "alice", last.UserID)
	assert.Equal(t, "room1", last.RoomID)

	_, ok = p.Get("alice-1")
	assert.False(t, ok)
	_, ok = p.Leave("alice-1")
	assert.False(t, ok)
}

func TestPresence_SetTrack(t *testing.T) {
	p := newRoom(t)

	require.True(t, p.SetTrack("alice-1", true, false, OffReasonModerator))
	entry, _ := p.Get("alice-1")
	assert.False(t, entry.Video)
	assert.True(t, entry.Audio)
	assert.Equal(t, OffReasonModerator, entry.OffReason)

	// Re-enabling clears the reason.
	require.True(t, p.SetTrack("alice-1", true, true, OffReasonNone))
	entry, _ = p.Get("alice-1")
	assert.True(t, entry.Video)
	assert.Equal(t, OffReasonNone, entry.OffReason)

	assert.False(t, p.SetTrack("ghost", false, false, OffReasonSelf))
}

func TestPresence_NightAndDayReset(t *testing.T) {
	p := newRoom(t)

	p.NightReset("room1")
	for _, entry := range p.Snapshot("room1") {
		assert.False(t, entry.Video, entry.Identity)
		assert.True(t, entry.Audio, entry.Identity)
		assert.Equal(t, OffReasonPhase, entry.OffReason)
	}

	// Other rooms are untouched.
	other, _ := p.Get("dave-1")
	assert.True(t, other.Video)

	p.DayReset("room1")
	for _, entry := range p.Snapshot("room1") {
		assert.True(t, entry.Video, entry.Identity)
		assert.True(t, entry.Audio, entry.Identity)
		assert.Equal(t, OffReasonNone, entry.OffReason)
	}
}

func TestPresence_WakeUp(t *testing.T) {
	p := newRoom(t)
	p.NightReset("room1")

	// Wake the sheriff; the moderator comes back on too.
	p.WakeUp("room1", []string{"bob"}, "alice")

	bob, _ := p.Get("bob-1")
	assert.True(t, bob.Video)
	alice, _ := p.Get("alice-1")
	assert.True(t, alice.Video)
	carol, _ := p.Get("carol-1")
	assert.False(t, carol.Video)
	assert.Equal(t, OffReasonPhase, carol.OffReason)
}

func TestPresence_SetSpeaker(t *testing.T) {
	p := newRoom(t)

	p.SetSpeaker("room1", "bob")

	bob, _ := p.Get("bob-1")
	assert.True(t, bob.Audio)
	assert.True(t, bob.Video)

	alice, _ := p.Get("alice-1")
	assert.False(t, alice.Audio)
	assert.True(t, alice.Video, "only microphones are yielded to the speaker")
	assert.Equal(t, OffReasonPhase, alice.OffReason)
}

func TestPresence_SnapshotAndFindByUser(t *testing.T) {
	p := newRoom(t)

	snap := p.Snapshot("room1")
	require.Len(t, snap, 3)
	assert.Equal(t, "alice-1", snap[0].Identity)
	assert.Equal(t, "bob-1", snap[1].Identity)
	assert.Equal(t, "carol-1", snap[2].Identity)

	assert.Empty(t, p.Snapshot("ghost-room"))

	entry, ok := p.FindByUser("room1", "carol")
	require.True(t, ok)
	assert.Equal(t, "carol-1", entry.Identity)

	_, ok = p.FindByUser("room2", "carol")
	assert.False(t, ok)
}

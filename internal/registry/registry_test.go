package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-chat-hub/internal/domain"
)

func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func TestAnnounceOutcomes(t *testing.T) {
	r := NewWithClock(steppingClock())

	res := r.Announce("alice", "a1", "c1")
	assert.Equal(t, Joined, res.Outcome)
	assert.Equal(t, "c1", res.Session.ConnectionID)

	res = r.Announce("alice", "a1", "c1")
	assert.Equal(t, Refreshed, res.Outcome)

	res = r.Announce("alice", "a2", "c1")
	assert.Equal(t, Changed, res.Outcome)
	assert.Equal(t, "a2", res.Session.AvatarRef)
	assert.Empty(t, res.Previous)

	res = r.Announce("alice", "a2", "c2")
	assert.Equal(t, Changed, res.Outcome)
	assert.Equal(t, "c1", res.Previous)

	assert.Equal(t, 1, r.Len())
}

func TestAnnounceRejectsEmpty(t *testing.T) {
	r := New()
	assert.Equal(t, Rejected, r.Announce("", "a", "c1").Outcome)
	assert.Equal(t, Rejected, r.Announce("   ", "a", "c1").Outcome)
	assert.Equal(t, Rejected, r.Announce("alice", "a", "").Outcome)
	assert.Zero(t, r.Len())
}

func TestAnnounceTrimsUsername(t *testing.T) {
	r := New()
	r.Announce("  alice ", "a1", "c1")
	assert.True(t, r.Owns("alice", "c1"))
}

func TestReconnectCollapsesToOneEntry(t *testing.T) {
	r := New()
	r.Announce("alice", "a1", "c1")
	r.Announce("alice", "a1", "c2")

	assert.Equal(t, 1, r.Len())
	conn, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "c2", conn)

	// The stale connection no longer owns anything, so its disconnect is a no-op.
	_, removed := r.DisconnectByConnection("c1")
	assert.False(t, removed)
	assert.Equal(t, 1, r.Len())
	assert.True(t, r.Owns("alice", "c2"))
}

func TestRenameReleasesOldName(t *testing.T) {
	r := New()
	r.Announce("alice", "a1", "c1")

	res := r.Announce("alicia", "a1", "c1")
	assert.Equal(t, Joined, res.Outcome)
	assert.Equal(t, "alice", res.Renamed)

	_, ok := r.Lookup("alice")
	assert.False(t, ok)
	name, ok := r.UsernameOf("c1")
	require.True(t, ok)
	assert.Equal(t, "alicia", name)
	assert.Equal(t, 1, r.Len())
}

func TestTakeoverFromConnectionHoldingOtherName(t *testing.T) {
	r := New()
	r.Announce("alice", "a1", "c1")
	r.Announce("bob", "b1", "c2")

	res := r.Announce("alice", "a1", "c2")
	assert.Equal(t, Changed, res.Outcome)
	assert.Equal(t, "bob", res.Renamed)
	assert.Equal(t, "c1", res.Previous)

	assert.Equal(t, 1, r.Len())
	assert.True(t, r.Owns("alice", "c2"))
	_, ok := r.UsernameOf("c1")
	assert.False(t, ok)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	r := New()
	r.Announce("alice", "a1", "c1")
	r.Announce("bob", "b1", "c2")

	s, ok := r.DisconnectByConnection("c1")
	require.True(t, ok)
	assert.Equal(t, "alice", s.Username)
	once := r.Snapshot()

	_, ok = r.DisconnectByConnection("c1")
	assert.False(t, ok)
	assert.Equal(t, once, r.Snapshot())
	assert.Equal(t, 1, r.Len())

	_, ok = r.DisconnectByConnection("never-seen")
	assert.False(t, ok)
}

func TestTouch(t *testing.T) {
	r := NewWithClock(steppingClock())
	r.Announce("alice", "a1", "c1")
	before, _ := r.Get("alice")

	assert.True(t, r.Touch("alice"))
	after, _ := r.Get("alice")
	assert.True(t, after.LastSeenAt.After(before.LastSeenAt))

	assert.False(t, r.Touch("nobody"))
}

func TestSnapshotFormat(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	r := NewWithClock(func() time.Time { return fixed })
	r.Announce("alice", "a1", "c1")

	snap := r.Snapshot()
	assert.Equal(t, domain.UsersSnapshot{
		"alice": {AvatarRef: "a1", LastSeenAt: "2024-05-01T12:00:00.123456789Z"},
	}, snap)

	// Snapshots are copies.
	snap["mallory"] = domain.UserPresence{}
	assert.Equal(t, 1, r.Len())
}

func TestConcurrentAnnounceNeverDuplicates(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("c%d", i)
			r.Announce("alice", "a", conn)
			_ = r.Snapshot()
			if i%3 == 0 {
				r.DisconnectByConnection(conn)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, r.Len(), 1)
	if conn, ok := r.Lookup("alice"); ok {
		assert.True(t, r.Owns("alice", conn))
		name, ok := r.UsernameOf(conn)
		require.True(t, ok)
		assert.Equal(t, "alice", name)
	}
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "joined", Joined.String())
	assert.Equal(t, "changed", Changed.String())
	assert.Equal(t, "refreshed", Refreshed.String())
	assert.Equal(t, "rejected", Rejected.String())
}

package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(ttl time.Duration, window, max int) (*Manager, *time.Time) {
	m := NewManager(ttl, window, max)
	current := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }
	return m, &current
}

func TestManagerCreateAndGet(t *testing.T) {
	m, _ := newTestManager(30*time.Minute, 10, 1000)

	s := m.Create()
	require.NotEmpty(t, s.ID)

	got := m.Get(s.ID)
	require.NotNil(t, got)
	assert.Equal(t, s.ID, got.ID)

	assert.Nil(t, m.Get("missing"))
}

func TestManagerGetExpiredReturnsNilAndPrunes(t *testing.T) {
	m, clock := newTestManager(30*time.Minute, 10, 1000)

	s := m.Create()
	*clock = clock.Add(31 * time.Minute)

	assert.Nil(t, m.Get(s.ID))
	assert.Equal(t, 0, m.Len())
}

func TestManagerGetExpiresExactlyAtTTL(t *testing.T) {
	m, clock := newTestManager(30*time.Minute, 10, 1000)

	s := m.Create()
	*clock = clock.Add(30*time.Minute - time.Nanosecond)
	require.NotNil(t, m.Get(s.ID))

	// The Get above refreshed activity; idle for exactly the TTL expires.
	*clock = clock.Add(30 * time.Minute)
	assert.Nil(t, m.Get(s.ID))
}

func TestManagerGetRefreshesActivity(t *testing.T) {
	m, clock := newTestManager(30*time.Minute, 10, 1000)

	s := m.Create()
	*clock = clock.Add(20 * time.Minute)
	require.NotNil(t, m.Get(s.ID))

	// 20 more minutes is within the TTL counted from the refreshed access.
	*clock = clock.Add(20 * time.Minute)
	assert.NotNil(t, m.Get(s.ID))
}

func TestManagerGetOrCreate(t *testing.T) {
	m, clock := newTestManager(30*time.Minute, 10, 1000)

	created := m.GetOrCreate("")
	require.NotNil(t, created)

	same := m.GetOrCreate(created.ID)
	assert.Equal(t, created.ID, same.ID)

	// Expired ID yields a fresh session.
	*clock = clock.Add(31 * time.Minute)
	fresh := m.GetOrCreate(created.ID)
	assert.NotEqual(t, created.ID, fresh.ID)
}

func TestManagerDelete(t *testing.T) {
	m, _ := newTestManager(30*time.Minute, 10, 1000)

	s := m.Create()
	assert.True(t, m.Delete(s.ID))
	assert.False(t, m.Delete(s.ID))
	assert.Nil(t, m.Get(s.ID))
}

func TestManagerAppendTurnTrimsToWindow(t *testing.T) {
	m, _ := newTestManager(30*time.Minute, 3, 1000)

	s := m.Create()
	for i := 1; i <= 5; i++ {
		ok := m.AppendTurn(s.ID, ConversationTurn{
			UserQuery: fmt.Sprintf("question %d", i),
			QueryType: QueryStandalone,
		})
		require.True(t, ok)
	}

	got := m.Get(s.ID)
	require.NotNil(t, got)
	require.Len(t, got.Turns, 3)
	assert.Equal(t, "question 3", got.Turns[0].UserQuery)
	assert.Equal(t, "question 5", got.Turns[2].UserQuery)
	assert.Equal(t, "question 5", got.LastTurn().UserQuery)

	// Appended turns get IDs and timestamps filled in.
	assert.NotEmpty(t, got.Turns[0].TurnID)
	assert.False(t, got.Turns[0].Timestamp.IsZero())
}

func TestManagerAppendTurnMissingSession(t *testing.T) {
	m, _ := newTestManager(30*time.Minute, 10, 1000)
	assert.False(t, m.AppendTurn("missing", ConversationTurn{UserQuery: "q"}))
}

func TestManagerCapEvictsOldest(t *testing.T) {
	m, clock := newTestManager(30*time.Minute, 10, 3)

	a := m.Create()
	*clock = clock.Add(time.Minute)
	b := m.Create()
	*clock = clock.Add(time.Minute)
	c := m.Create()
	*clock = clock.Add(time.Minute)

	// At capacity: the next create evicts the oldest by last activity.
	d := m.Create()
	assert.Equal(t, 3, m.Len())
	assert.Nil(t, m.Get(a.ID))
	assert.NotNil(t, m.Get(b.ID))
	assert.NotNil(t, m.Get(c.ID))
	assert.NotNil(t, m.Get(d.ID))
}

func TestManagerCapPrunesExpiredBeforeEvicting(t *testing.T) {
	m, clock := newTestManager(10*time.Minute, 10, 2)

	m.Create()
	*clock = clock.Add(11 * time.Minute) // first session expires
	b := m.Create()
	*clock = clock.Add(time.Minute)

	// Expired session is pruned; the live one survives.
	c := m.Create()
	assert.NotNil(t, m.Get(b.ID))
	assert.NotNil(t, m.Get(c.ID))
}

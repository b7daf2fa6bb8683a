package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomBuge/openclaw-mission-control/internal/store"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newAgent(name string, created time.Time) *store.Agent {
	return &store.Agent{
		Name:      name,
		Status:    "online",
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestSQLiteStore_AgentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seen := base.Add(time.Minute)
	agent := newAgent("Ops Main", base)
	agent.LastSeenAt = &seen
	agent.SessionKey = "agent:ops:main"
	agent.TokenHash = "abc123"
	agent.ProvisionAction = "provision"
	agent.HeartbeatConfig = &store.HeartbeatConfig{Every: "10m", Target: "none"}
	agent.IdentityProfile = &store.IdentityProfile{Role: "Main Agent", Emoji: ":compass:"}

	require.NoError(t, s.InsertAgent(ctx, agent))
	require.NotEmpty(t, agent.ID)

	got, err := s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ops Main", got.Name)
	assert.Equal(t, "agent:ops:main", got.SessionKey)
	assert.Equal(t, "abc123", got.TokenHash)
	assert.Equal(t, "provision", got.ProvisionAction)
	assert.Empty(t, got.BoardID)
	assert.Nil(t, got.ProvisionRequestedAt)
	require.NotNil(t, got.LastSeenAt)
	assert.True(t, seen.Equal(*got.LastSeenAt))
	assert.True(t, base.Equal(got.CreatedAt))
	assert.Equal(t, &store.HeartbeatConfig{Every: "10m", Target: "none"}, got.HeartbeatConfig)
	assert.Equal(t, "Main Agent", got.IdentityProfile.Role)

	byKey, err := s.FindAgentBySessionKey(ctx, "agent:ops:main")
	require.NoError(t, err)
	assert.Equal(t, agent.ID, byKey.ID)

	byHash, err := s.FindAgentByTokenHash(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, agent.ID, byHash.ID)
}

func TestSQLiteStore_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetAgent(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.FindAgentBySessionKey(ctx, "agent:x:main")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.FindAgentByName(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, s.DeleteAgent(ctx, "missing"), store.ErrNotFound)

	_, err = s.GetGateway(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSQLiteStore_NameLookupIsExactAndOldestWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	newer := newAgent("Alpha Main", base.Add(time.Hour))
	older := newAgent("Alpha Main", base)
	require.NoError(t, s.InsertAgent(ctx, newer))
	require.NoError(t, s.InsertAgent(ctx, older))

	got, err := s.FindAgentByName(ctx, "Alpha Main")
	require.NoError(t, err)
	assert.Equal(t, older.ID, got.ID)

	_, err = s.FindAgentByName(ctx, "alpha main")
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err = s.FindAgentByHeartbeatName(ctx, "Alpha Main")
	require.NoError(t, err)
	assert.Equal(t, older.ID, got.ID)
}

func TestSQLiteStore_SessionKeyIsUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := newAgent("one", base)
	first.SessionKey = "agent:shared:main"
	require.NoError(t, s.InsertAgent(ctx, first))

	second := newAgent("two", base)
	second.SessionKey = "agent:shared:main"
	err := s.InsertAgent(ctx, second)
	assert.ErrorIs(t, err, store.ErrSessionKeyTaken)

	// Agents without a session key never collide.
	require.NoError(t, s.InsertAgent(ctx, newAgent("three", base)))
	require.NoError(t, s.InsertAgent(ctx, newAgent("four", base)))
}

func TestSQLiteStore_OtherDuplicatesAreNotSessionConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := newAgent("one", base)
	require.NoError(t, s.InsertAgent(ctx, first))

	again := newAgent("again", base)
	again.ID = first.ID
	err := s.InsertAgent(ctx, again)
	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.NotErrorIs(t, err, store.ErrSessionKeyTaken)
}

func TestSQLiteStore_SaveAgentUpdatesInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := newAgent("Alpha Main", base)
	agent.SessionKey = "agent:alpha:main"
	require.NoError(t, s.InsertAgent(ctx, agent))

	agent.Name = "Beta Main"
	agent.SessionKey = "agent:beta:main"
	agent.UpdatedAt = base.Add(time.Minute)
	require.NoError(t, s.SaveAgent(ctx, agent))

	agents, err := s.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "Beta Main", agents[0].Name)
	assert.Equal(t, "agent:beta:main", agents[0].SessionKey)

	_, err = s.FindAgentBySessionKey(ctx, "agent:alpha:main")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSQLiteStore_WithTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx store.Store) error {
		require.NoError(t, tx.InsertAgent(ctx, newAgent("ghost", base)))
		require.NoError(t, tx.AppendEvent(ctx, &store.ActivityEvent{EventType: "agent.heartbeat", CreatedAt: base}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	agents, err := s.ListAgents(ctx)
	require.NoError(t, err)
	assert.Empty(t, agents)

	events, err := s.ListEvents(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	err = s.WithTx(ctx, func(tx store.Store) error {
		return tx.InsertAgent(ctx, newAgent("kept", base))
	})
	require.NoError(t, err)
	_, err = s.FindAgentByName(ctx, "kept")
	assert.NoError(t, err)
}

func TestSQLiteStore_EventsNewestFirstAndSurviveAgentDeletion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := newAgent("worker", base)
	require.NoError(t, s.InsertAgent(ctx, agent))

	for i, eventType := range []string{"agent.heartbeat", "agent.token.rotated", "agent.deleted"} {
		require.NoError(t, s.AppendEvent(ctx, &store.ActivityEvent{
			EventType: eventType,
			Message:   eventType,
			AgentID:   agent.ID,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.DeleteAgent(ctx, agent.ID))

	events, err := s.ListEvents(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "agent.deleted", events[0].EventType)
	assert.Equal(t, "agent.token.rotated", events[1].EventType)

	events, err = s.ListEvents(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "agent.heartbeat", events[0].EventType)

	events, err = s.ListAgentEvents(ctx, agent.ID, 10)
	require.NoError(t, err)
	assert.Len(t, events, 3)
	for _, e := range events {
		assert.Equal(t, agent.ID, e.AgentID)
		assert.Empty(t, e.TaskID)
	}
}

func TestSQLiteStore_Gateways(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := &store.Gateway{Name: "first", URL: "ws://a", MainSessionKey: "agent:first:main", CreatedAt: base, UpdatedAt: base}
	newer := &store.Gateway{Name: "second", URL: "ws://b", CreatedAt: base.Add(time.Hour), UpdatedAt: base.Add(time.Hour)}
	require.NoError(t, s.InsertGateway(ctx, older))
	require.NoError(t, s.InsertGateway(ctx, newer))

	list, err := s.ListGateways(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Name)
	assert.Equal(t, "first", list[1].Name)

	older.Name = "renamed"
	older.UpdatedAt = base.Add(2 * time.Hour)
	require.NoError(t, s.SaveGateway(ctx, older))

	got, err := s.GetGateway(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, "agent:first:main", got.MainSessionKey)

	require.NoError(t, s.DeleteGateway(ctx, older.ID))
	assert.ErrorIs(t, s.DeleteGateway(ctx, older.ID), store.ErrNotFound)
	assert.ErrorIs(t, s.SaveGateway(ctx, older), store.ErrNotFound)
}

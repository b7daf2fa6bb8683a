package tests

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomBuge/openclaw-mission-control/internal/store"
)

func TestPostgresStore(t *testing.T, env *Env) {
	ctx := context.Background()
	st := env.Store
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("agent round trip", func(t *testing.T) {
		agent := &store.Agent{
			Name:            "pg-agent",
			Status:          "online",
			SessionKey:      "pg:session:1",
			LastSeenAt:      &now,
			HeartbeatConfig: &store.HeartbeatConfig{Every: "10m", Target: "none"},
			IdentityProfile: &store.IdentityProfile{Role: "Main Agent", Emoji: ":compass:"},
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		require.NoError(t, st.InsertAgent(ctx, agent))
		require.NotEmpty(t, agent.ID)

		got, err := st.FindAgentBySessionKey(ctx, "pg:session:1")
		require.NoError(t, err)
		assert.Equal(t, agent.ID, got.ID)
		assert.Equal(t, agent.HeartbeatConfig, got.HeartbeatConfig)
		assert.Equal(t, agent.IdentityProfile, got.IdentityProfile)
		require.NotNil(t, got.LastSeenAt)
		assert.True(t, now.Equal(*got.LastSeenAt))
	})

	t.Run("board id round trips", func(t *testing.T) {
		board := "6f1c2d3e-4a5b-4c6d-8e7f-901234567890"
		agent := &store.Agent{Name: "pg-board", Status: "online", BoardID: board, CreatedAt: now, UpdatedAt: now}
		require.NoError(t, st.InsertAgent(ctx, agent))

		got, err := st.GetAgent(ctx, agent.ID)
		require.NoError(t, err)
		assert.Equal(t, board, got.BoardID)
	})

	t.Run("invalid id is not found", func(t *testing.T) {
		_, err := st.GetAgent(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("session key is unique", func(t *testing.T) {
		err := st.InsertAgent(ctx, &store.Agent{
			Name: "pg-agent-dup", Status: "online", SessionKey: "pg:session:1",
			CreatedAt: now, UpdatedAt: now,
		})
		assert.ErrorIs(t, err, store.ErrSessionKeyTaken)
	})

	t.Run("duplicate id is not a session conflict", func(t *testing.T) {
		first := &store.Agent{Name: "pg-dup-id", Status: "online", CreatedAt: now, UpdatedAt: now}
		require.NoError(t, st.InsertAgent(ctx, first))

		err := st.InsertAgent(ctx, &store.Agent{
			ID: first.ID, Name: "pg-dup-id-2", Status: "online", CreatedAt: now, UpdatedAt: now,
		})
		assert.ErrorIs(t, err, store.ErrDuplicate)
		assert.NotErrorIs(t, err, store.ErrSessionKeyTaken)
	})

	t.Run("transaction rolls back", func(t *testing.T) {
		sentinel := errors.New("abort")
		err := st.WithTx(ctx, func(tx store.Store) error {
			if err := tx.InsertAgent(ctx, &store.Agent{
				Name: "pg-rollback", Status: "online", CreatedAt: now, UpdatedAt: now,
			}); err != nil {
				return err
			}
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)

		_, err = st.FindAgentByName(ctx, "pg-rollback")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("events newest first", func(t *testing.T) {
		for i, typ := range []string{"pg.first", "pg.second"} {
			require.NoError(t, st.AppendEvent(ctx, &store.ActivityEvent{
				EventType: typ,
				CreatedAt: now.Add(time.Hour + time.Duration(i)*time.Second),
			}))
		}
		events, err := st.ListEvents(ctx, 2, 0)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "pg.second", events[0].EventType)
		assert.Equal(t, "pg.first", events[1].EventType)
	})
}

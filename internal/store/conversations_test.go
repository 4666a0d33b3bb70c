package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aisatoshi/internal/types"
)

func userTurn(conv string, delivery int64, text string) types.ConversationTurn {
	return types.ConversationTurn{
		ConversationID: conv, Delivery: delivery, Role: types.RoleUser, Text: text,
		Timestamp: base.Add(time.Duration(delivery) * time.Second),
	}
}

func reply(conv, text string) types.ConversationTurn {
	return types.ConversationTurn{ConversationID: conv, Role: types.RoleAssistant, Text: text, Timestamp: base}
}

func TestAppendTurn_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stored, inserted, err := s.AppendTurn(ctx, userTurn("c1", 7, "hello"))
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, int64(1), stored.Sequence)

	_, inserted, err = s.AppendTurn(ctx, userTurn("c1", 7, "hello again"))
	require.NoError(t, err)
	assert.False(t, inserted)

	// the same delivery id in another conversation is a different message
	_, inserted, err = s.AppendTurn(ctx, userTurn("c2", 7, "hello"))
	require.NoError(t, err)
	assert.True(t, inserted)

	has, err := s.HasDelivery(ctx, "c1", 7)
	require.NoError(t, err)
	assert.True(t, has)

	turns, err := s.RecentTurns(ctx, "c1", 0, 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "hello", turns[0].Text)
}

func TestAppendTurn_SequenceUniquePerConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, _, err := s.AppendTurn(ctx, userTurn("c", 7, "q"))
	require.NoError(t, err)
	r, inserted, err := s.AppendTurn(ctx, reply("c", "a"))
	require.NoError(t, err)
	require.True(t, inserted)
	assert.Equal(t, u.Sequence+1, r.Sequence)
	assert.Zero(t, r.Delivery)

	var n int
	require.NoError(t, s.DB().QueryRow(`
		SELECT COUNT(*) FROM conversation_turns
		GROUP BY conversation_id, sequence ORDER BY COUNT(*) DESC LIMIT 1`).Scan(&n))
	assert.Equal(t, 1, n)

	_, err = s.DB().Exec(`INSERT INTO conversation_turns (conversation_id, sequence, role, text, created_at)
		VALUES ('c', ?, 'assistant', 'dup', 0)`, r.Sequence)
	assert.Error(t, err)
}

func TestRecentTurns_Order(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for d := int64(1); d <= 4; d++ {
		_, _, err := s.AppendTurn(ctx, userTurn("c", d*10, "u"))
		require.NoError(t, err)
		_, _, err = s.AppendTurn(ctx, reply("c", "a"))
		require.NoError(t, err)
	}
	_, _, err := s.AppendTurn(ctx, userTurn("other", 1, "x"))
	require.NoError(t, err)

	turns, err := s.RecentTurns(ctx, "c", 0, 3)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, int64(6), turns[0].Sequence)
	assert.Equal(t, types.RoleAssistant, turns[0].Role)
	assert.Equal(t, int64(7), turns[1].Sequence)
	assert.Equal(t, types.RoleUser, turns[1].Role)
	assert.Equal(t, int64(40), turns[1].Delivery)
	assert.Equal(t, types.RoleAssistant, turns[2].Role)

	before, err := s.RecentTurns(ctx, "c", 5, 10)
	require.NoError(t, err)
	require.Len(t, before, 4)
	assert.Equal(t, int64(1), before[0].Sequence)
	assert.Equal(t, int64(4), before[3].Sequence)

	none, err := s.RecentTurns(ctx, "c", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPruneAndClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for d := int64(1); d <= 5; d++ {
		_, _, err := s.AppendTurn(ctx, userTurn("c", d, "u"))
		require.NoError(t, err)
	}

	n, err := s.PruneTurns(ctx, "c", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	turns, err := s.RecentTurns(ctx, "c", 0, 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, int64(4), turns[0].Sequence)

	n, err = s.ClearConversation(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// sequences keep counting after a clear
	next, _, err := s.AppendTurn(ctx, reply("c", "again"))
	require.NoError(t, err)
	assert.Equal(t, int64(6), next.Sequence)
}

func TestConversationStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, _ = s.AppendTurn(ctx, userTurn("a", 1, "u"))
	_, _, _ = s.AppendTurn(ctx, reply("a", "r"))
	_, _, _ = s.AppendTurn(ctx, userTurn("b", 1, "u"))

	all, err := s.ConversationStats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, types.ConversationStats{Conversations: 2, UserTurns: 2, AssistantTurns: 1}, all)

	one, err := s.ConversationStats(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, types.ConversationStats{Conversations: 1, UserTurns: 1}, one)

	empty, err := s.ConversationStats(ctx, "none")
	require.NoError(t, err)
	assert.Zero(t, empty.UserTurns)
}

package store

import (
	"context"
	"database/sql"

	"aisatoshi/internal/types"
)

// AppendTurn stores a conversation turn under the next sequence of its
// conversation and returns it with Sequence set. A user turn whose delivery
// id is already stored is ignored and reported with inserted == false.
func (s *LocalStore) AppendTurn(ctx context.Context, turn types.ConversationTurn) (types.ConversationTurn, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return turn, false, types.StorageFailure("append turn", err)
	}
	defer tx.Rollback()

	var delivery sql.NullInt64
	if turn.Delivery != 0 {
		delivery = sql.NullInt64{Int64: turn.Delivery, Valid: true}
		var n int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM conversation_turns WHERE conversation_id = ? AND delivery = ?`,
			turn.ConversationID, turn.Delivery).Scan(&n); err != nil {
			return turn, false, types.StorageFailure("append turn", err)
		}
		if n > 0 {
			return turn, false, nil
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_counters (conversation_id, last_sequence) VALUES (?, 1)
		ON CONFLICT(conversation_id) DO UPDATE SET last_sequence = last_sequence + 1`,
		turn.ConversationID); err != nil {
		return turn, false, types.StorageFailure("append turn", err)
	}
	if err := tx.QueryRowContext(ctx,
		"SELECT last_sequence FROM conversation_counters WHERE conversation_id = ?",
		turn.ConversationID).Scan(&turn.Sequence); err != nil {
		return turn, false, types.StorageFailure("append turn", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_turns (conversation_id, sequence, role, delivery, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		turn.ConversationID, turn.Sequence, string(turn.Role), delivery, turn.Text, toNanos(turn.Timestamp)); err != nil {
		return turn, false, types.StorageFailure("append turn", err)
	}
	if err := tx.Commit(); err != nil {
		return turn, false, types.StorageFailure("append turn", err)
	}
	return turn, true, nil
}

// HasDelivery reports whether a user turn with the given delivery id is stored.
func (s *LocalStore) HasDelivery(ctx context.Context, conversationID string, delivery int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conversation_turns WHERE conversation_id = ? AND delivery = ?`,
		conversationID, delivery).Scan(&n); err != nil {
		return false, types.StorageFailure("has delivery", err)
	}
	return n > 0, nil
}

// RecentTurns returns up to limit turns of a conversation in chronological
// order. When beforeSeq > 0 only turns with a smaller sequence are returned.
func (s *LocalStore) RecentTurns(ctx context.Context, conversationID string, beforeSeq int64, limit int) ([]types.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT conversation_id, sequence, role, delivery, text, created_at FROM conversation_turns
		WHERE conversation_id = ?`
	args := []interface{}{conversationID}
	if beforeSeq > 0 {
		query += " AND sequence < ?"
		args = append(args, beforeSeq)
	}
	query += " ORDER BY sequence DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.StorageFailure("recent turns", err)
	}
	defer rows.Close()

	var turns []types.ConversationTurn
	for rows.Next() {
		var t types.ConversationTurn
		var role string
		var delivery sql.NullInt64
		var created int64
		if err := rows.Scan(&t.ConversationID, &t.Sequence, &role, &delivery, &t.Text, &created); err != nil {
			return nil, types.StorageFailure("recent turns", err)
		}
		t.Role = types.Role(role)
		t.Delivery = delivery.Int64
		t.Timestamp = fromNanos(created)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.StorageFailure("recent turns", err)
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// PruneTurns keeps the newest keep turns of a conversation and deletes the
// rest. Returns the number of deleted turns.
func (s *LocalStore) PruneTurns(ctx context.Context, conversationID string, keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM conversation_turns
		WHERE conversation_id = ? AND sequence NOT IN (
			SELECT sequence FROM conversation_turns WHERE conversation_id = ?
			ORDER BY sequence DESC LIMIT ?
		)`, conversationID, conversationID, keep)
	if err != nil {
		return 0, types.StorageFailure("prune turns", err)
	}
	return rowsAffected(res), nil
}

// ClearConversation deletes every turn of a conversation. The sequence
// counter is kept.
func (s *LocalStore) ClearConversation(ctx context.Context, conversationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM conversation_turns WHERE conversation_id = ?", conversationID)
	if err != nil {
		return 0, types.StorageFailure("clear conversation", err)
	}
	return rowsAffected(res), nil
}

// ConversationStats counts stored turns. An empty conversationID counts every
// conversation.
func (s *LocalStore) ConversationStats(ctx context.Context, conversationID string) (types.ConversationStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT COUNT(DISTINCT conversation_id),
			COALESCE(SUM(CASE WHEN role = 'user' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN role = 'assistant' THEN 1 ELSE 0 END), 0)
		FROM conversation_turns`
	var args []interface{}
	if conversationID != "" {
		query += " WHERE conversation_id = ?"
		args = append(args, conversationID)
	}

	var st types.ConversationStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&st.Conversations, &st.UserTurns, &st.AssistantTurns); err != nil {
		return st, types.StorageFailure("conversation stats", err)
	}
	return st, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"aisatoshi/internal/types"
)

// Entity is a row of the shared entities table: a JSON payload tagged with an
// entity type and a scope (a conversation id, or empty for global rows).
// Rank and Summary are the only payload projections the store can filter on.
type Entity struct {
	ID        int64
	Type      string
	Scope     string
	Rank      int
	Summary   string
	Payload   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EntityQuery filters ListEntities. Zero fields do not filter, except Type,
// which is required.
type EntityQuery struct {
	Type    string
	Scope   string
	MinRank int
	// Match is a case-insensitive substring of Summary.
	Match string
	Limit int
}

// PutEntity inserts e when e.ID is 0 and updates it otherwise. Timestamps and
// the new id are written back to e.
func (s *LocalStore) PutEntity(ctx context.Context, e *Entity) error {
	if e.Type == "" {
		return types.ValidationError("entity type is required")
	}
	if e.Payload == "" {
		e.Payload = "{}"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	if e.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO entities (entity_type, scope, rank, summary, payload, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.Type, e.Scope, e.Rank, e.Summary, e.Payload, toNanos(e.CreatedAt), toNanos(e.UpdatedAt))
		if err != nil {
			return types.StorageFailure("put entity", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return types.StorageFailure("put entity", err)
		}
		e.ID = id
		return nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE entities SET scope = ?, rank = ?, summary = ?, payload = ?, updated_at = ?
		WHERE id = ? AND entity_type = ?`,
		e.Scope, e.Rank, e.Summary, e.Payload, toNanos(e.UpdatedAt), e.ID, e.Type)
	if err != nil {
		return types.StorageFailure("put entity", err)
	}
	if rowsAffected(res) == 0 {
		return types.StorageFailure("put entity", sql.ErrNoRows)
	}
	return nil
}

// GetEntity returns the entity with id and type, or nil.
func (s *LocalStore) GetEntity(ctx context.Context, entityType string, id int64) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, entity_type, scope, rank, summary, payload, created_at, updated_at
		FROM entities WHERE id = ? AND entity_type = ?`, id, entityType)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.StorageFailure("get entity", err)
	}
	return e, nil
}

// ListEntities returns matching entities, highest rank first and newest first
// within a rank.
func (s *LocalStore) ListEntities(ctx context.Context, q EntityQuery) ([]Entity, error) {
	if q.Type == "" {
		return nil, types.ValidationError("entity type is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, entity_type, scope, rank, summary, payload, created_at, updated_at
		FROM entities WHERE entity_type = ? AND scope = ?`
	args := []interface{}{q.Type, q.Scope}
	if q.MinRank != 0 {
		query += " AND rank >= ?"
		args = append(args, q.MinRank)
	}
	if q.Match != "" {
		query += ` AND summary LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(q.Match)+"%")
	}
	query += " ORDER BY rank DESC, created_at DESC, id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.StorageFailure("list entities", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, types.StorageFailure("list entities", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.StorageFailure("list entities", err)
	}
	return out, nil
}

// DeleteEntity removes one entity of the given type and scope.
func (s *LocalStore) DeleteEntity(ctx context.Context, entityType, scope string, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM entities WHERE id = ? AND entity_type = ? AND scope = ?", id, entityType, scope)
	if err != nil {
		return false, types.StorageFailure("delete entity", err)
	}
	return rowsAffected(res) == 1, nil
}

// DeleteEntities removes every entity of a type within a scope.
func (s *LocalStore) DeleteEntities(ctx context.Context, entityType, scope string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM entities WHERE entity_type = ? AND scope = ?", entityType, scope)
	if err != nil {
		return 0, types.StorageFailure("delete entities", err)
	}
	return rowsAffected(res), nil
}

// CountEntities counts entities of a type; an empty scope counts every scope.
func (s *LocalStore) CountEntities(ctx context.Context, entityType, scope string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT COUNT(*) FROM entities WHERE entity_type = ?"
	args := []interface{}{entityType}
	if scope != "" {
		query += " AND scope = ?"
		args = append(args, scope)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, types.StorageFailure("count entities", err)
	}
	return n, nil
}

func scanEntity(row rowScanner) (*Entity, error) {
	var e Entity
	var created, updated int64
	if err := row.Scan(&e.ID, &e.Type, &e.Scope, &e.Rank, &e.Summary, &e.Payload, &created, &updated); err != nil {
		return nil, err
	}
	e.CreatedAt = fromNanos(created)
	e.UpdatedAt = fromNanos(updated)
	return &e, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *PostgresStore) ListsByBoard(ctx context.Context, boardID string) ([]List, error) {
	return listsByBoard(ctx, s.db, boardID)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listsByBoard(ctx context.Context, q querier, boardID string) ([]List, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, board_id, name, position, created_at, updated_at
		FROM lists
		WHERE board_id=$1
		ORDER BY position
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("lists by board: %w", err)
	}
	defer rows.Close()

	lists := make([]List, 0)
	for rows.Next() {
		var list List
		if err := rows.Scan(&list.ID, &list.BoardID, &list.Name, &list.Position, &list.CreatedAt, &list.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		lists = append(lists, list)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lists: %w", err)
	}
	return lists, nil
}

// CreateList appends a list to the board: position = current sibling count.
// The board row is locked so concurrent appends cannot pick the same slot.
func (s *PostgresStore) CreateList(ctx context.Context, list List) (List, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return List{}, fmt.Errorf("begin create list: %w", err)
	}
	defer tx.Rollback()

	var boardID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM boards WHERE id=$1 FOR UPDATE`, list.BoardID).Scan(&boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return List{}, ErrNotFound
	}
	if err != nil {
		return List{}, fmt.Errorf("lock board: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM lists WHERE board_id=$1`, list.BoardID).Scan(&count); err != nil {
		return List{}, fmt.Errorf("count lists: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO lists (id, board_id, name, position)
		VALUES ($1, $2, $3, $4)
		RETURNING id, board_id, name, position, created_at, updated_at
	`, list.ID, list.BoardID, list.Name, count).Scan(
		&list.ID, &list.BoardID, &list.Name, &list.Position, &list.CreatedAt, &list.UpdatedAt,
	)
	if err != nil {
		return List{}, fmt.Errorf("insert list: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return List{}, fmt.Errorf("commit create list: %w", err)
	}
	return list, nil
}

func (s *PostgresStore) GetList(ctx context.Context, listID string) (List, error) {
	var list List
	err := s.db.QueryRowContext(ctx, `
		SELECT id, board_id, name, position, created_at, updated_at
		FROM lists
		WHERE id=$1
	`, listID).Scan(&list.ID, &list.BoardID, &list.Name, &list.Position, &list.CreatedAt, &list.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return List{}, ErrNotFound
	}
	if err != nil {
		return List{}, fmt.Errorf("get list: %w", err)
	}
	return list, nil
}

func (s *PostgresStore) RenameList(ctx context.Context, listID, name string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE lists SET name=$2, updated_at=NOW() WHERE id=$1
	`, listID, name)
	if err != nil {
		return fmt.Errorf("rename list: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rename list rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteList removes a list (its cards cascade) and, in the same transaction,
// decrements the position of every sibling that sat after it, so sibling
// positions stay exactly {0..N-1}.
func (s *PostgresStore) DeleteList(ctx context.Context, listID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete list: %w", err)
	}
	defer tx.Rollback()

	var boardID string
	var position int
	err = tx.QueryRowContext(ctx, `
		SELECT board_id, position FROM lists WHERE id=$1 FOR UPDATE
	`, listID).Scan(&boardID, &position)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock list: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM lists WHERE id=$1`, listID); err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE lists SET position = position - 1, updated_at=NOW()
		WHERE board_id=$1 AND position > $2
	`, boardID, position); err != nil {
		return fmt.Errorf("compact list positions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete list: %w", err)
	}
	return nil
}

// MoveList reorders a list within its board. The destination index is
// validated against the freshly loaded sibling count, never a caller-supplied
// one, and every sibling position is rewritten to its new array index before
// commit. Returns the board's lists in their new order.
func (s *PostgresStore) MoveList(ctx context.Context, boardID, listID string, toIndex int) ([]List, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin move list: %w", err)
	}
	defer tx.Rollback()

	ids, err := lockSiblingIDs(ctx, tx, `SELECT id FROM lists WHERE board_id=$1 ORDER BY position FOR UPDATE`, boardID)
	if err != nil {
		return nil, err
	}

	from := indexOf(ids, listID)
	if from == -1 {
		return nil, ErrNotFound
	}
	if toIndex < 0 || toIndex >= len(ids) {
		return nil, fmt.Errorf("move list to %d of %d: %w", toIndex, len(ids), ErrPositionOutOfRange)
	}

	ids = moveWithin(ids, from, toIndex)
	if err := persistPositions(ctx, tx, "lists", ids); err != nil {
		return nil, err
	}

	lists, err := listsByBoard(ctx, tx, boardID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit move list: %w", err)
	}
	return lists, nil
}

func lockSiblingIDs(ctx context.Context, tx *sql.Tx, query string, parentID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("lock siblings: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan sibling id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate siblings: %w", err)
	}
	return ids, nil
}

// persistPositions rewrites position = array index for every id. The unique
// (parent, position) constraints are deferred to commit, so intermediate
// states inside the transaction may collide.
func persistPositions(ctx context.Context, tx *sql.Tx, table string, ids []string) error {
	query := fmt.Sprintf(`UPDATE %s SET position=$1, updated_at=NOW() WHERE id=$2 AND position <> $1`, table)
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, query, i, id); err != nil {
			return fmt.Errorf("persist %s position: %w", table, err)
		}
	}
	return nil
}

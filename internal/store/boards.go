package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *PostgresStore) CreateBoard(ctx context.Context, board Board) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create board: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO boards (id, name, color, admin_id)
		VALUES ($1, $2, $3, $4)
	`, board.ID, board.Name, board.Color, board.AdminID); err != nil {
		return fmt.Errorf("insert board: %w", err)
	}

	// The creator is always a member; extra members may be seeded at create.
	members := append([]string{board.AdminID}, board.MemberIDs...)
	for _, userID := range members {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO board_members (board_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (board_id, user_id) DO NOTHING
		`, board.ID, userID); err != nil {
			return fmt.Errorf("insert board member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create board: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBoard(ctx context.Context, boardID string) (Board, error) {
	var board Board
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, color, admin_id, created_at, updated_at
		FROM boards
		WHERE id=$1
	`, boardID).Scan(&board.ID, &board.Name, &board.Color, &board.AdminID, &board.CreatedAt, &board.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Board{}, ErrNotFound
	}
	if err != nil {
		return Board{}, fmt.Errorf("get board: %w", err)
	}

	members, err := s.boardMemberIDs(ctx, boardID)
	if err != nil {
		return Board{}, err
	}
	board.MemberIDs = members
	return board, nil
}

func (s *PostgresStore) boardMemberIDs(ctx context.Context, boardID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM board_members WHERE board_id=$1 ORDER BY added_at
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list board members: %w", err)
	}
	defer rows.Close()

	members := make([]string, 0)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan board member: %w", err)
		}
		members = append(members, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate board members: %w", err)
	}
	return members, nil
}

func (s *PostgresStore) ListBoardsForUser(ctx context.Context, userID string) ([]Board, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.name, b.color, b.admin_id, b.created_at, b.updated_at
		FROM boards b
		JOIN board_members bm ON bm.board_id = b.id
		WHERE bm.user_id=$1
		ORDER BY b.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	boards := make([]Board, 0)
	for rows.Next() {
		var board Board
		if err := rows.Scan(&board.ID, &board.Name, &board.Color, &board.AdminID, &board.CreatedAt, &board.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		boards = append(boards, board)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boards: %w", err)
	}
	return boards, nil
}

func (s *PostgresStore) UpdateBoard(ctx context.Context, boardID, name, color string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE boards SET name=$2, color=$3, updated_at=NOW() WHERE id=$1
	`, boardID, name, color)
	if err != nil {
		return fmt.Errorf("update board: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update board rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddBoardMember(ctx context.Context, boardID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO board_members (board_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (board_id, user_id) DO NOTHING
	`, boardID, userID)
	if err != nil {
		return fmt.Errorf("add board member: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsBoardMember(ctx context.Context, boardID, userID string) (bool, error) {
	var isMember bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM board_members WHERE board_id=$1 AND user_id=$2)
	`, boardID, userID).Scan(&isMember)
	if err != nil {
		return false, fmt.Errorf("check board member: %w", err)
	}
	return isMember, nil
}

// BoardSnapshot returns the nested read model used to seed the shared live
// replica. Lists and cards come back ordered by position ascending.
func (s *PostgresStore) BoardSnapshot(ctx context.Context, boardID string) (BoardSnapshot, error) {
	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return BoardSnapshot{}, err
	}

	lists, err := s.ListsByBoard(ctx, boardID)
	if err != nil {
		return BoardSnapshot{}, err
	}

	snapshot := BoardSnapshot{Board: board, Lists: make([]ListSnapshot, 0, len(lists))}
	for _, list := range lists {
		cards, err := s.CardsByList(ctx, list.ID)
		if err != nil {
			return BoardSnapshot{}, err
		}
		snapshot.Lists = append(snapshot.Lists, ListSnapshot{List: list, Cards: cards})
	}
	return snapshot, nil
}

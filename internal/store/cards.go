package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *PostgresStore) CardsByList(ctx context.Context, listID string) ([]Card, error) {
	return cardsByList(ctx, s.db, listID)
}

func cardsByList(ctx context.Context, q querier, listID string) ([]Card, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT c.id, c.list_id, c.name, c.description, c.position, c.due_date, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM comments WHERE card_id=c.id),
			(SELECT COUNT(*) FROM checklists WHERE card_id=c.id),
			(SELECT COUNT(*) FROM attachments WHERE card_id=c.id)
		FROM cards c
		WHERE c.list_id=$1
		ORDER BY c.position
	`, listID)
	if err != nil {
		return nil, fmt.Errorf("cards by list: %w", err)
	}
	defer rows.Close()

	cards := make([]Card, 0)
	byID := make(map[string]int)
	for rows.Next() {
		var card Card
		if err := rows.Scan(
			&card.ID, &card.ListID, &card.Name, &card.Description, &card.Position,
			&card.DueDate, &card.CreatedAt, &card.UpdatedAt,
			&card.CommentCount, &card.ChecklistCount, &card.AttachmentCount,
		); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		card.MemberIDs = []string{}
		byID[card.ID] = len(cards)
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}

	memberRows, err := q.QueryContext(ctx, `
		SELECT cm.card_id, cm.user_id
		FROM card_members cm
		JOIN cards c ON c.id = cm.card_id
		WHERE c.list_id=$1
	`, listID)
	if err != nil {
		return nil, fmt.Errorf("card members: %w", err)
	}
	defer memberRows.Close()
	for memberRows.Next() {
		var cardID, userID string
		if err := memberRows.Scan(&cardID, &userID); err != nil {
			return nil, fmt.Errorf("scan card member: %w", err)
		}
		if i, ok := byID[cardID]; ok {
			cards[i].MemberIDs = append(cards[i].MemberIDs, userID)
		}
	}
	if err := memberRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate card members: %w", err)
	}
	return cards, nil
}

func (s *PostgresStore) GetCard(ctx context.Context, cardID string) (Card, error) {
	var card Card
	err := s.db.QueryRowContext(ctx, `
		SELECT id, list_id, name, description, position, due_date, created_at, updated_at
		FROM cards
		WHERE id=$1
	`, cardID).Scan(&card.ID, &card.ListID, &card.Name, &card.Description, &card.Position, &card.DueDate, &card.CreatedAt, &card.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Card{}, ErrNotFound
	}
	if err != nil {
		return Card{}, fmt.Errorf("get card: %w", err)
	}
	return card, nil
}

// CreateCard appends a card to its list: position = current sibling count.
func (s *PostgresStore) CreateCard(ctx context.Context, card Card) (Card, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Card{}, fmt.Errorf("begin create card: %w", err)
	}
	defer tx.Rollback()

	var listID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM lists WHERE id=$1 FOR UPDATE`, card.ListID).Scan(&listID)
	if errors.Is(err, sql.ErrNoRows) {
		return Card{}, ErrNotFound
	}
	if err != nil {
		return Card{}, fmt.Errorf("lock list: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards WHERE list_id=$1`, card.ListID).Scan(&count); err != nil {
		return Card{}, fmt.Errorf("count cards: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO cards (id, list_id, name, description, position, due_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, list_id, name, description, position, due_date, created_at, updated_at
	`, card.ID, card.ListID, card.Name, card.Description, count, card.DueDate).Scan(
		&card.ID, &card.ListID, &card.Name, &card.Description, &card.Position, &card.DueDate, &card.CreatedAt, &card.UpdatedAt,
	)
	if err != nil {
		return Card{}, fmt.Errorf("insert card: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Card{}, fmt.Errorf("commit create card: %w", err)
	}
	return card, nil
}

func (s *PostgresStore) UpdateCard(ctx context.Context, cardID, name, description string, dueDate *sql.NullTime) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE cards
		SET name=$2, description=$3, due_date=$4, updated_at=NOW()
		WHERE id=$1
	`, cardID, name, description, dueDate)
	if err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update card rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCard removes a card and compacts its former siblings in the same
// transaction.
func (s *PostgresStore) DeleteCard(ctx context.Context, cardID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete card: %w", err)
	}
	defer tx.Rollback()

	var listID string
	var position int
	err = tx.QueryRowContext(ctx, `
		SELECT list_id, position FROM cards WHERE id=$1 FOR UPDATE
	`, cardID).Scan(&listID, &position)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock card: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE id=$1`, cardID); err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE cards SET position = position - 1, updated_at=NOW()
		WHERE list_id=$1 AND position > $2
	`, listID, position); err != nil {
		return fmt.Errorf("compact card positions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete card: %w", err)
	}
	return nil
}

// MoveCard executes a same- or cross-list card move in one transaction. The
// card's current list is loaded fresh inside the transaction; the caller's
// view of the source container is never trusted. destListID == "" means a
// same-list move. For cross-list moves toIndex == len(destination) appends;
// for same-list moves toIndex must address an existing slot.
func (s *PostgresStore) MoveCard(ctx context.Context, cardID, destListID string, toIndex int) (Card, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Card{}, fmt.Errorf("begin move card: %w", err)
	}
	defer tx.Rollback()

	var sourceListID string
	err = tx.QueryRowContext(ctx, `SELECT list_id FROM cards WHERE id=$1 FOR UPDATE`, cardID).Scan(&sourceListID)
	if errors.Is(err, sql.ErrNoRows) {
		return Card{}, ErrNotFound
	}
	if err != nil {
		return Card{}, fmt.Errorf("lock card: %w", err)
	}

	if destListID == "" || destListID == sourceListID {
		if err := s.moveCardWithin(ctx, tx, cardID, sourceListID, toIndex); err != nil {
			return Card{}, err
		}
	} else {
		if err := s.moveCardAcross(ctx, tx, cardID, sourceListID, destListID, toIndex); err != nil {
			return Card{}, err
		}
	}

	var moved Card
	err = tx.QueryRowContext(ctx, `
		SELECT id, list_id, name, description, position, due_date, created_at, updated_at
		FROM cards WHERE id=$1
	`, cardID).Scan(&moved.ID, &moved.ListID, &moved.Name, &moved.Description, &moved.Position, &moved.DueDate, &moved.CreatedAt, &moved.UpdatedAt)
	if err != nil {
		return Card{}, fmt.Errorf("reload moved card: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Card{}, fmt.Errorf("commit move card: %w", err)
	}
	return moved, nil
}

func (s *PostgresStore) moveCardWithin(ctx context.Context, tx *sql.Tx, cardID, listID string, toIndex int) error {
	ids, err := lockSiblingIDs(ctx, tx, `SELECT id FROM cards WHERE list_id=$1 ORDER BY position FOR UPDATE`, listID)
	if err != nil {
		return err
	}
	from := indexOf(ids, cardID)
	if from == -1 {
		return ErrNotFound
	}
	if toIndex < 0 || toIndex >= len(ids) {
		return fmt.Errorf("move card to %d of %d: %w", toIndex, len(ids), ErrPositionOutOfRange)
	}
	return persistPositions(ctx, tx, "cards", moveWithin(ids, from, toIndex))
}

func (s *PostgresStore) moveCardAcross(ctx context.Context, tx *sql.Tx, cardID, sourceListID, destListID string, toIndex int) error {
	var destID string
	err := tx.QueryRowContext(ctx, `SELECT id FROM lists WHERE id=$1 FOR UPDATE`, destListID).Scan(&destID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock destination list: %w", err)
	}

	sourceIDs, err := lockSiblingIDs(ctx, tx, `SELECT id FROM cards WHERE list_id=$1 ORDER BY position FOR UPDATE`, sourceListID)
	if err != nil {
		return err
	}
	from := indexOf(sourceIDs, cardID)
	if from == -1 {
		return ErrNotFound
	}

	destIDs, err := lockSiblingIDs(ctx, tx, `SELECT id FROM cards WHERE list_id=$1 ORDER BY position FOR UPDATE`, destListID)
	if err != nil {
		return err
	}
	// Appending to the end of the destination is allowed, hence > not >=.
	if toIndex < 0 || toIndex > len(destIDs) {
		return fmt.Errorf("move card to %d of %d: %w", toIndex, len(destIDs), ErrPositionOutOfRange)
	}

	// Reparent first so the destination renumbering covers the moved card.
	if _, err := tx.ExecContext(ctx, `UPDATE cards SET list_id=$2, updated_at=NOW() WHERE id=$1`, cardID, destListID); err != nil {
		return fmt.Errorf("reparent card: %w", err)
	}

	if err := persistPositions(ctx, tx, "cards", removeAt(sourceIDs, from)); err != nil {
		return err
	}
	return persistPositions(ctx, tx, "cards", insertAt(destIDs, toIndex, cardID))
}

package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across boards and cards using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultBoard {
		boardWhere := "b.fts @@ " + tsQuery
		if len(q.FilterBoardIDs) > 0 {
			boardWhere += fmt.Sprintf(" AND b.id = ANY($%d)", argN)
			args = append(args, q.FilterBoardIDs)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'board'::text AS type, b.id, b.name AS title,
				''::text AS snippet,
				b.id AS board_id, ''::text AS list_id,
				ts_rank(b.fts, %s) AS rank
			FROM boards b
			WHERE %s`, tsQuery, boardWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultCard {
		cardWhere := "c.fts @@ " + tsQuery
		if len(q.FilterBoardIDs) > 0 {
			cardWhere += fmt.Sprintf(" AND l.board_id = ANY($%d)", argN)
			args = append(args, q.FilterBoardIDs)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'card'::text AS type, c.id, c.name AS title,
				ts_headline('english', coalesce(c.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				l.board_id, c.list_id,
				ts_rank(c.fts, %s) AS rank
			FROM cards c
			JOIN lists l ON l.id = c.list_id
			WHERE %s`, tsQuery, tsQuery, cardWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, board_id, list_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.BoardID, &r.ListID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]BoardRecord, []CardRecord, error) {
	boardRows, err := p.db.QueryContext(ctx, `SELECT id, name FROM boards`)
	if err != nil {
		return nil, nil, fmt.Errorf("load boards: %w", err)
	}
	defer boardRows.Close()

	boards := make([]BoardRecord, 0)
	for boardRows.Next() {
		var b BoardRecord
		if err := boardRows.Scan(&b.ID, &b.Name); err != nil {
			return nil, nil, fmt.Errorf("scan board: %w", err)
		}
		boards = append(boards, b)
	}
	if err := boardRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate boards: %w", err)
	}

	cardRows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.description, c.list_id, l.board_id
		FROM cards c
		JOIN lists l ON l.id = c.list_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load cards: %w", err)
	}
	defer cardRows.Close()

	cards := make([]CardRecord, 0)
	for cardRows.Next() {
		var c CardRecord
		if err := cardRows.Scan(&c.ID, &c.Name, &c.Description, &c.ListID, &c.BoardID); err != nil {
			return nil, nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, c)
	}
	if err := cardRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate cards: %w", err)
	}

	return boards, cards, nil
}

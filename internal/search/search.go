package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultBoard ResultType = "board"
	ResultCard  ResultType = "card"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	BoardID string     `json:"boardId"`
	ListID  string     `json:"listId,omitempty"`
}

// Query describes a search request. FilterBoardIDs restricts hits to boards
// the requesting user is a member of.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	FilterBoardIDs []string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// BoardRecord is the data we index for a board.
type BoardRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CardRecord is the data we index for a card.
type CardRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ListID      string `json:"listId"`
	BoardID     string `json:"boardId"`
}

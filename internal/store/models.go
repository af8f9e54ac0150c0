package store

import (
	"errors"
	"time"
)

// Sentinel errors surfaced by the store. The service layer maps these onto
// the HTTP error taxonomy via errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrPositionOutOfRange = errors.New("position out of range")
)

type User struct {
	ID                    string
	Email                 string
	DisplayName           string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Board struct {
	ID        string
	Name      string
	Color     string
	AdminID   string
	MemberIDs []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// List is an ordered column of cards. Position is 0-indexed and contiguous
// within the owning board.
type List struct {
	ID        string
	BoardID   string
	Name      string
	Position  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Card position is 0-indexed and contiguous within the owning list.
type Card struct {
	ID              string
	ListID          string
	Name            string
	Description     string
	Position        int
	DueDate         *time.Time
	MemberIDs       []string
	CommentCount    int
	ChecklistCount  int
	AttachmentCount int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ListSnapshot is a list with its cards, ordered by position ascending.
type ListSnapshot struct {
	List
	Cards []Card
}

// BoardSnapshot is the nested read model used to seed the shared live
// replica: lists ordered by position, each carrying its ordered cards.
type BoardSnapshot struct {
	Board
	Lists []ListSnapshot
}

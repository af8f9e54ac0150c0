package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"time"

	"quadro/api/internal/auth"
	"quadro/api/internal/authpw"
	"quadro/api/internal/config"
	"quadro/api/internal/realtime"
	"quadro/api/internal/search"
	"quadro/api/internal/session"
	"quadro/api/internal/store"
	"quadro/api/internal/util"
)

// moveTimeout bounds a single move request end to end, including sibling
// locking and renumbering.
const moveTimeout = 10 * time.Second

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	CreateBoard(ctx context.Context, board store.Board) error
	GetBoard(ctx context.Context, boardID string) (store.Board, error)
	ListBoardsForUser(ctx context.Context, userID string) ([]store.Board, error)
	UpdateBoard(ctx context.Context, boardID, name, color string) error
	AddBoardMember(ctx context.Context, boardID, userID string) error
	IsBoardMember(ctx context.Context, boardID, userID string) (bool, error)
	BoardSnapshot(ctx context.Context, boardID string) (store.BoardSnapshot, error)

	ListsByBoard(ctx context.Context, boardID string) ([]store.List, error)
	CreateList(ctx context.Context, list store.List) (store.List, error)
	GetList(ctx context.Context, listID string) (store.List, error)
	RenameList(ctx context.Context, listID, name string) error
	DeleteList(ctx context.Context, listID string) error
	MoveList(ctx context.Context, boardID, listID string, toIndex int) ([]store.List, error)

	CardsByList(ctx context.Context, listID string) ([]store.Card, error)
	GetCard(ctx context.Context, cardID string) (store.Card, error)
	CreateCard(ctx context.Context, card store.Card) (store.Card, error)
	UpdateCard(ctx context.Context, cardID, name, description string, dueDate *sql.NullTime) error
	DeleteCard(ctx context.Context, cardID string) error
	MoveCard(ctx context.Context, cardID, destListID string, toIndex int) (store.Card, error)

	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, data session.TokenData, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (session.TokenData, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
}

type Service struct {
	cfg        config.Config
	store      dataStore
	sessions   sessionStore
	hub        *realtime.Hub
	reconciler *realtime.Reconciler
	search     *search.Service
	authpw     *authpw.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore, hub *realtime.Hub, reconciler *realtime.Reconciler, searchSvc *search.Service, authSvc *authpw.Service) *Service {
	s := &Service{
		cfg:        cfg,
		store:      dataStore,
		sessions:   sessions,
		hub:        hub,
		reconciler: reconciler,
		search:     searchSvc,
		authpw:     authSvc,
	}
	s.wireReseedHook()
	return s
}

func (s *Service) wireReseedHook() {
	if s.reconciler == nil {
		return
	}
	s.reconciler.SetReseedHook(func(boardID string, state realtime.ReplicaState) {
		s.publish("board.resync", boardID, state)
	})
}

// NewReplicaSeed adapts the authoritative board snapshot into the shape the
// live replica holds.
func NewReplicaSeed(st interface {
	BoardSnapshot(ctx context.Context, boardID string) (store.BoardSnapshot, error)
}) realtime.SeedFunc {
	return func(ctx context.Context, boardID string) ([]realtime.ReplicaList, error) {
		snap, err := st.BoardSnapshot(ctx, boardID)
		if err != nil {
			return nil, err
		}
		return snapshotToReplica(snap), nil
	}
}

func snapshotToReplica(snap store.BoardSnapshot) []realtime.ReplicaList {
	lists := make([]realtime.ReplicaList, len(snap.Lists))
	for i, list := range snap.Lists {
		cards := make([]realtime.ReplicaCard, len(list.Cards))
		for j, card := range list.Cards {
			cards[j] = realtime.ReplicaCard{
				ID:       card.ID,
				Name:     card.Name,
				Position: card.Position,
				DueDate:  card.DueDate,
			}
		}
		lists[i] = realtime.ReplicaList{
			ID:       list.ID,
			Name:     list.Name,
			Position: list.Position,
			Cards:    cards,
		}
	}
	return lists
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return err
	}
	if s.sessions != nil {
		return s.sessions.Ping(ctx)
	}
	return nil
}

// --- sessions ---

// CreateSession issues a fresh access/refresh token pair for a user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	data, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, data.UserID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, jti, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	data := session.TokenData{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Email:       user.Email,
	}
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), data, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// --- boards ---

func (s *Service) requireMember(ctx context.Context, sess Session, boardID string) error {
	ok, err := s.store.IsBoardMember(ctx, boardID, sess.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Not a member of this board")
	}
	return nil
}

func (s *Service) requireAdmin(ctx context.Context, sess Session, boardID string) (store.Board, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return store.Board{}, err
	}
	if board.AdminID != sess.UserID {
		return store.Board{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only the board admin may do this")
	}
	return board, nil
}

func (s *Service) CreateBoard(ctx context.Context, sess Session, name, color string) (map[string]any, error) {
	if name == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required")
	}
	if color == "" {
		color = "#0079bf"
	}
	board := store.Board{
		ID:      util.NewID("board"),
		Name:    name,
		Color:   color,
		AdminID: sess.UserID,
	}
	if err := s.store.CreateBoard(ctx, board); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexBoard(search.BoardRecord{ID: board.ID, Name: board.Name})
	}
	created, err := s.store.GetBoard(ctx, board.ID)
	if err != nil {
		return nil, err
	}
	return boardJSON(created), nil
}

func (s *Service) ListBoards(ctx context.Context, sess Session) (map[string]any, error) {
	boards, err := s.store.ListBoardsForUser(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(boards))
	for _, board := range boards {
		items = append(items, boardJSON(board))
	}
	return map[string]any{"boards": items}, nil
}

// GetBoardSnapshot returns the board with its lists and cards nested, both
// levels ordered by position ascending.
func (s *Service) GetBoardSnapshot(ctx context.Context, sess Session, boardID string) (map[string]any, error) {
	if err := s.requireMember(ctx, sess, boardID); err != nil {
		return nil, err
	}
	snap, err := s.store.BoardSnapshot(ctx, boardID)
	if err != nil {
		return nil, err
	}
	lists := make([]map[string]any, 0, len(snap.Lists))
	for _, list := range snap.Lists {
		cards := make([]map[string]any, 0, len(list.Cards))
		for _, card := range list.Cards {
			cards = append(cards, cardJSON(card))
		}
		item := listJSON(list.List)
		item["cards"] = cards
		lists = append(lists, item)
	}
	payload := boardJSON(snap.Board)
	payload["lists"] = lists
	return payload, nil
}

func (s *Service) UpdateBoard(ctx context.Context, sess Session, boardID, name, color string) (map[string]any, error) {
	board, err := s.requireAdmin(ctx, sess, boardID)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = board.Name
	}
	if color == "" {
		color = board.Color
	}
	if err := s.store.UpdateBoard(ctx, boardID, name, color); err != nil {
		return nil, err
	}
	updated, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexBoard(search.BoardRecord{ID: updated.ID, Name: updated.Name})
	}
	s.publish("board.updated", boardID, boardJSON(updated))
	return boardJSON(updated), nil
}

// InviteBoardMember adds an existing user to a board by email.
func (s *Service) InviteBoardMember(ctx context.Context, sess Session, boardID, email string) (map[string]any, error) {
	if _, err := s.requireAdmin(ctx, sess, boardID); err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "No user with that email")
		}
		return nil, err
	}
	if err := s.store.AddBoardMember(ctx, boardID, user.ID); err != nil {
		return nil, err
	}
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	s.publish("board.updated", boardID, boardJSON(board))
	return boardJSON(board), nil
}

// --- lists ---

func (s *Service) ListsForBoard(ctx context.Context, sess Session, boardID string) (map[string]any, error) {
	if err := s.requireMember(ctx, sess, boardID); err != nil {
		return nil, err
	}
	lists, err := s.store.ListsByBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"lists": listsJSON(lists)}, nil
}

// CreateList appends a list at the end of the board.
func (s *Service) CreateList(ctx context.Context, sess Session, boardID, name string) (map[string]any, error) {
	if err := s.requireMember(ctx, sess, boardID); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required")
	}
	created, err := s.store.CreateList(ctx, store.List{
		ID:      util.NewID("list"),
		BoardID: boardID,
		Name:    name,
	})
	if err != nil {
		return nil, err
	}
	s.refreshReplica(ctx, boardID)
	s.publish("list.created", boardID, listJSON(created))
	return listJSON(created), nil
}

func (s *Service) RenameList(ctx context.Context, sess Session, listID, name string) (map[string]any, error) {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, sess, list.BoardID); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required")
	}
	if err := s.store.RenameList(ctx, listID, name); err != nil {
		return nil, err
	}
	list.Name = name
	s.refreshReplica(ctx, list.BoardID)
	s.publish("list.renamed", list.BoardID, listJSON(list))
	return listJSON(list), nil
}

// DeleteList removes a list with its cards and compacts the positions of the
// lists behind it.
func (s *Service) DeleteList(ctx context.Context, sess Session, listID string) error {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return err
	}
	if err := s.requireMember(ctx, sess, list.BoardID); err != nil {
		return err
	}
	if err := s.store.DeleteList(ctx, listID); err != nil {
		return err
	}
	s.refreshReplica(ctx, list.BoardID)
	s.publish("list.deleted", list.BoardID, map[string]any{"listId": listID})
	return nil
}

// MoveList reorders a list within its board. The destination index is
// validated against the authoritative sibling set inside the move
// transaction, never against the caller's view.
func (s *Service) MoveList(ctx context.Context, sess Session, boardID, listID string, toIndex int) (map[string]any, error) {
	if err := s.requireMember(ctx, sess, boardID); err != nil {
		return nil, err
	}

	mirrored := s.mirrorListMove(ctx, boardID, listID, toIndex)

	mctx, cancel := context.WithTimeout(ctx, moveTimeout)
	defer cancel()
	lists, err := s.store.MoveList(mctx, boardID, listID, toIndex)
	if err != nil {
		if s.reconciler != nil {
			s.reconciler.OnMoveFailure(boardID)
		}
		return nil, err
	}

	s.confirmMove(ctx, boardID, mirrored)
	s.publish("list.moved", boardID, map[string]any{
		"listId":           listID,
		"destinationIndex": toIndex,
		"lists":            listsJSON(lists),
	})
	return map[string]any{"lists": listsJSON(lists)}, nil
}

// MoveCard moves a card within or across lists. An empty destListID means a
// same-list move; the card's authoritative source list is resolved inside
// the move transaction.
func (s *Service) MoveCard(ctx context.Context, sess Session, cardID, destListID string, toIndex int) (map[string]any, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	srcList, err := s.store.GetList(ctx, card.ListID)
	if err != nil {
		return nil, err
	}
	boardID := srcList.BoardID
	if err := s.requireMember(ctx, sess, boardID); err != nil {
		return nil, err
	}
	if destListID != "" && destListID != card.ListID {
		destList, err := s.store.GetList(ctx, destListID)
		if err != nil {
			return nil, err
		}
		if destList.BoardID != boardID {
			return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Destination list belongs to a different board")
		}
	}

	mirrored := s.mirrorCardMove(ctx, boardID, cardID, destListID, toIndex)

	mctx, cancel := context.WithTimeout(ctx, moveTimeout)
	defer cancel()
	moved, err := s.store.MoveCard(mctx, cardID, destListID, toIndex)
	if err != nil {
		if s.reconciler != nil {
			s.reconciler.OnMoveFailure(boardID)
		}
		return nil, err
	}

	s.confirmMove(ctx, boardID, mirrored)
	s.publish("card.moved", boardID, map[string]any{
		"cardId":            cardID,
		"sourceListId":      card.ListID,
		"destinationListId": moved.ListID,
		"destinationIndex":  toIndex,
	})
	return cardJSON(moved), nil
}

// mirrorListMove applies the optimistic mutation to the server-side replica,
// matching what the dragging client already did locally. Returns false when
// the replica could not mirror the move and needs a reseed on confirmation.
func (s *Service) mirrorListMove(ctx context.Context, boardID, listID string, toIndex int) bool {
	if s.reconciler == nil {
		return true
	}
	rep, err := s.reconciler.EnsureSeeded(ctx, boardID)
	if err != nil {
		log.Printf("app: seed replica for %s: %v", boardID, err)
		return false
	}
	from := rep.IndexOfList(listID)
	if from < 0 {
		return false
	}
	_, err = realtime.Translate(rep, realtime.DragResult{
		Kind:        realtime.KindList,
		BoardID:     boardID,
		EntityID:    listID,
		SourceIndex: from,
		DestIndex:   toIndex,
	})
	return err == nil
}

func (s *Service) mirrorCardMove(ctx context.Context, boardID, cardID, destListID string, toIndex int) bool {
	if s.reconciler == nil {
		return true
	}
	rep, err := s.reconciler.EnsureSeeded(ctx, boardID)
	if err != nil {
		log.Printf("app: seed replica for %s: %v", boardID, err)
		return false
	}
	srcListID, from, ok := rep.LocateCard(cardID)
	if !ok {
		return false
	}
	_, err = realtime.Translate(rep, realtime.DragResult{
		Kind:         realtime.KindCard,
		BoardID:      boardID,
		EntityID:     cardID,
		SourceListID: srcListID,
		DestListID:   destListID,
		SourceIndex:  from,
		DestIndex:    toIndex,
	})
	return err == nil
}

// confirmMove records a confirmed move on the replica, reseeding when the
// optimistic mirror diverged.
func (s *Service) confirmMove(ctx context.Context, boardID string, mirrored bool) {
	if s.reconciler == nil {
		return
	}
	if mirrored {
		s.reconciler.MarkSynced(boardID)
		return
	}
	if _, err := s.reconciler.ForceReseed(ctx, boardID); err != nil {
		log.Printf("app: reseed after move for %s: %v", boardID, err)
	}
}

// --- cards ---

func (s *Service) CardsForList(ctx context.Context, sess Session, listID string) (map[string]any, error) {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, sess, list.BoardID); err != nil {
		return nil, err
	}
	cards, err := s.store.CardsByList(ctx, listID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(cards))
	for _, card := range cards {
		items = append(items, cardJSON(card))
	}
	return map[string]any{"cards": items}, nil
}

// CreateCard appends a card at the end of the list.
func (s *Service) CreateCard(ctx context.Context, sess Session, listID, name, description string, dueDate *time.Time) (map[string]any, error) {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, sess, list.BoardID); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required")
	}
	created, err := s.store.CreateCard(ctx, store.Card{
		ID:          util.NewID("card"),
		ListID:      listID,
		Name:        name,
		Description: description,
		DueDate:     dueDate,
	})
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexCard(search.CardRecord{
			ID:          created.ID,
			Name:        created.Name,
			Description: created.Description,
			ListID:      created.ListID,
			BoardID:     list.BoardID,
		})
	}
	s.refreshReplica(ctx, list.BoardID)
	s.publish("card.created", list.BoardID, cardJSON(created))
	return cardJSON(created), nil
}

func (s *Service) GetCard(ctx context.Context, sess Session, cardID string) (map[string]any, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	list, err := s.store.GetList(ctx, card.ListID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, sess, list.BoardID); err != nil {
		return nil, err
	}
	return cardJSON(card), nil
}

// UpdateCard edits a card's name, description and due date. A nil dueDate
// clears it.
func (s *Service) UpdateCard(ctx context.Context, sess Session, cardID, name, description string, dueDate *time.Time) (map[string]any, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	list, err := s.store.GetList(ctx, card.ListID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, sess, list.BoardID); err != nil {
		return nil, err
	}
	if name == "" {
		name = card.Name
	}
	due := &sql.NullTime{}
	if dueDate != nil {
		due = &sql.NullTime{Time: *dueDate, Valid: true}
	}
	if err := s.store.UpdateCard(ctx, cardID, name, description, due); err != nil {
		return nil, err
	}
	updated, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexCard(search.CardRecord{
			ID:          updated.ID,
			Name:        updated.Name,
			Description: updated.Description,
			ListID:      updated.ListID,
			BoardID:     list.BoardID,
		})
	}
	s.refreshReplica(ctx, list.BoardID)
	s.publish("card.updated", list.BoardID, cardJSON(updated))
	return cardJSON(updated), nil
}

// DeleteCard removes a card and compacts the positions of the cards behind
// it.
func (s *Service) DeleteCard(ctx context.Context, sess Session, cardID string) error {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return err
	}
	list, err := s.store.GetList(ctx, card.ListID)
	if err != nil {
		return err
	}
	if err := s.requireMember(ctx, sess, list.BoardID); err != nil {
		return err
	}
	if err := s.store.DeleteCard(ctx, cardID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteCard(cardID)
	}
	s.refreshReplica(ctx, list.BoardID)
	s.publish("card.deleted", list.BoardID, map[string]any{"cardId": cardID, "listId": card.ListID})
	return nil
}

// --- realtime ---

// JoinBoard registers a realtime connection, runs the join-time staleness
// check, and returns the subscriber plus the current replica snapshot.
func (s *Service) JoinBoard(ctx context.Context, sess Session, boardID string) (*realtime.Subscriber, realtime.ReplicaState, error) {
	if err := s.requireMember(ctx, sess, boardID); err != nil {
		return nil, realtime.ReplicaState{}, err
	}
	if s.hub == nil || s.reconciler == nil {
		return nil, realtime.ReplicaState{}, domainError(http.StatusServiceUnavailable, "REALTIME_UNAVAILABLE", "Realtime not configured")
	}

	sub, participants, err := s.hub.Join(ctx, boardID, util.NewID("conn"))
	if err != nil {
		return nil, realtime.ReplicaState{}, err
	}

	if _, err := s.reconciler.OnParticipantJoined(ctx, boardID, participants); err != nil {
		_ = s.hub.Leave(ctx, sub)
		return nil, realtime.ReplicaState{}, err
	}

	rep, ok := s.reconciler.Replica(boardID)
	if !ok {
		_ = s.hub.Leave(ctx, sub)
		return nil, realtime.ReplicaState{}, errors.New("replica missing after join")
	}
	return sub, rep.Snapshot(), nil
}

// HeartbeatBoard renews a connection's presence lease so an uncleanly
// dropped connection ages out instead of counting as a participant forever.
func (s *Service) HeartbeatBoard(ctx context.Context, sub *realtime.Subscriber) {
	if s.hub == nil || sub == nil {
		return
	}
	if err := s.hub.Heartbeat(ctx, sub); err != nil {
		log.Printf("app: heartbeat board: %v", err)
	}
}

func (s *Service) LeaveBoard(ctx context.Context, sub *realtime.Subscriber) {
	if s.hub == nil || sub == nil {
		return
	}
	if err := s.hub.Leave(ctx, sub); err != nil {
		log.Printf("app: leave board: %v", err)
	}
}

// refreshReplica rebuilds the live replica after a structural change so
// connected participants see created and deleted entities, not only moves.
func (s *Service) refreshReplica(ctx context.Context, boardID string) {
	if s.reconciler == nil {
		return
	}
	if _, ok := s.reconciler.Replica(boardID); !ok {
		return
	}
	if _, err := s.reconciler.ForceReseed(ctx, boardID); err != nil {
		log.Printf("app: refresh replica for %s: %v", boardID, err)
	}
}

func (s *Service) publish(eventType, boardID string, payload any) {
	if s.hub == nil {
		return
	}
	ev, err := realtime.NewEvent(eventType, boardID, payload)
	if err != nil {
		log.Printf("app: build event %s: %v", eventType, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.hub.Publish(ctx, ev); err != nil {
		log.Printf("app: publish %s for %s: %v", eventType, boardID, err)
	}
}

// --- search ---

// Search runs a full-text query scoped to the caller's board memberships.
// boardID, when non-empty, narrows the scope to that single board; a board
// the caller is not a member of yields an empty result set rather than 403
// so the endpoint does not leak board existence.
func (s *Service) Search(ctx context.Context, sess Session, text, filterType, boardID string, limit, offset int) (search.Response, error) {
	boards, err := s.store.ListBoardsForUser(ctx, sess.UserID)
	if err != nil {
		return search.Response{}, err
	}
	ids := make([]string, 0, len(boards))
	for _, board := range boards {
		if boardID != "" && board.ID != boardID {
			continue
		}
		ids = append(ids, board.ID)
	}
	if s.search == nil || len(ids) == 0 {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:           text,
		FilterType:     search.ResultType(filterType),
		FilterBoardIDs: ids,
		Limit:          limit,
		Offset:         offset,
	}), nil
}

// --- payload shaping ---

func boardJSON(b store.Board) map[string]any {
	memberIDs := b.MemberIDs
	if memberIDs == nil {
		memberIDs = []string{}
	}
	return map[string]any{
		"id":        b.ID,
		"name":      b.Name,
		"color":     b.Color,
		"adminId":   b.AdminID,
		"memberIds": memberIDs,
		"createdAt": b.CreatedAt,
		"updatedAt": b.UpdatedAt,
	}
}

func listJSON(l store.List) map[string]any {
	return map[string]any{
		"id":        l.ID,
		"boardId":   l.BoardID,
		"name":      l.Name,
		"position":  l.Position,
		"createdAt": l.CreatedAt,
		"updatedAt": l.UpdatedAt,
	}
}

func listsJSON(lists []store.List) []map[string]any {
	items := make([]map[string]any, 0, len(lists))
	for _, list := range lists {
		items = append(items, listJSON(list))
	}
	return items
}

func cardJSON(c store.Card) map[string]any {
	memberIDs := c.MemberIDs
	if memberIDs == nil {
		memberIDs = []string{}
	}
	return map[string]any{
		"id":              c.ID,
		"listId":          c.ListID,
		"name":            c.Name,
		"description":     c.Description,
		"position":        c.Position,
		"dueDate":         c.DueDate,
		"memberIds":       memberIDs,
		"commentCount":    c.CommentCount,
		"checklistCount":  c.ChecklistCount,
		"attachmentCount": c.AttachmentCount,
		"createdAt":       c.CreatedAt,
		"updatedAt":       c.UpdatedAt,
	}
}

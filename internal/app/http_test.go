package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"quadro/api/internal/authpw"
	"quadro/api/internal/store"
)

// authStoreFake satisfies authpw.UserStore with a single known user.
type authStoreFake struct {
	user store.User
}

func (a *authStoreFake) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if email == a.user.Email {
		return a.user, nil
	}
	return store.User{}, store.ErrNotFound
}
func (a *authStoreFake) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if id == a.user.ID {
		return a.user, nil
	}
	return store.User{}, store.ErrNotFound
}
func (a *authStoreFake) CreateUser(context.Context, store.User) error { return nil }
func (a *authStoreFake) UpdateUserVerificationToken(context.Context, string, string, time.Time) error {
	return nil
}
func (a *authStoreFake) VerifyUserEmail(context.Context, string) error { return nil }
func (a *authStoreFake) UpdateUserPassword(context.Context, string, string) error {
	return nil
}
func (a *authStoreFake) CreatePasswordReset(context.Context, string, string, time.Time) error {
	return nil
}
func (a *authStoreFake) GetPasswordReset(context.Context, string) (string, error) {
	return "", store.ErrNotFound
}
func (a *authStoreFake) MarkPasswordResetUsed(context.Context, string) error { return nil }

func newTestServer(t *testing.T, fs *fakeStore) (*httptest.Server, *Service) {
	t.Helper()
	svc := newTestService(fs)

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	svc.authpw = authpw.NewService(&authStoreFake{user: store.User{
		ID:              "user_1",
		Email:           "ada@example.com",
		DisplayName:     "Ada",
		PasswordHash:    string(hash),
		IsEmailVerified: true,
	}})

	server := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	t.Cleanup(server.Close)
	return server, svc
}

type envelope struct {
	StatusCode int             `json:"statusCode"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message"`
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func signIn(t *testing.T, server *httptest.Server) string {
	t.Helper()
	resp, err := http.Post(server.URL+"/api/auth/signin", "application/json",
		strings.NewReader(`{"email":"ada@example.com","password":"password123"}`))
	if err != nil {
		t.Fatalf("signin: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signin status = %d", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	var data struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode signin data: %v", err)
	}
	if data.AccessToken == "" {
		t.Fatal("empty access token")
	}
	return data.AccessToken
}

func authedRequest(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t, &fakeStore{})

	resp, err := http.Get(server.URL + "/api/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	env := decodeEnvelope(t, resp)
	if resp.StatusCode != http.StatusOK || env.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, envelope = %d", resp.StatusCode, env.StatusCode)
	}
}

func TestRequestsWithoutTokenAreUnauthorized(t *testing.T) {
	server, _ := newTestServer(t, &fakeStore{})

	resp, err := http.Get(server.URL + "/api/boards")
	if err != nil {
		t.Fatalf("get boards: %v", err)
	}
	env := decodeEnvelope(t, resp)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if env.Message == "" {
		t.Fatal("error envelope missing message")
	}
}

func TestSignInAndListBoards(t *testing.T) {
	fs := &fakeStore{
		listBoardsForUserFn: func(ctx context.Context, userID string) ([]store.Board, error) {
			return []store.Board{{ID: "board_1", Name: "Launch", AdminID: userID}}, nil
		},
	}
	server, _ := newTestServer(t, fs)
	token := signIn(t, server)

	resp := authedRequest(t, http.MethodGet, server.URL+"/api/boards", token, "")
	env := decodeEnvelope(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body message %q", resp.StatusCode, env.Message)
	}
	var data struct {
		Boards []map[string]any `json:"boards"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode boards: %v", err)
	}
	if len(data.Boards) != 1 || data.Boards[0]["name"] != "Launch" {
		t.Fatalf("boards = %+v", data.Boards)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	server, _ := newTestServer(t, &fakeStore{})

	resp, err := http.Post(server.URL+"/api/auth/signin", "application/json",
		strings.NewReader(`{"email":"ada@example.com","password":"wrong"}`))
	if err != nil {
		t.Fatalf("signin: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestMoveCardRequiresDestinationIndex(t *testing.T) {
	server, _ := newTestServer(t, &fakeStore{})
	token := signIn(t, server)

	resp := authedRequest(t, http.MethodPost, server.URL+"/api/cards/card_a/move", token,
		`{"sourceListId":"list_1"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMoveCardOutOfRangeReturns400(t *testing.T) {
	fs := &fakeStore{
		moveCardFn: func(ctx context.Context, cardID, destListID string, toIndex int) (store.Card, error) {
			return store.Card{}, store.ErrPositionOutOfRange
		},
	}
	server, _ := newTestServer(t, fs)
	token := signIn(t, server)

	resp := authedRequest(t, http.MethodPost, server.URL+"/api/cards/card_a/move", token,
		`{"destinationIndex":99}`)
	env := decodeEnvelope(t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if env.Message == "" {
		t.Fatal("error envelope missing message")
	}
}

func TestMoveListEndpoint(t *testing.T) {
	fs := &fakeStore{
		moveListFn: func(ctx context.Context, boardID, listID string, toIndex int) ([]store.List, error) {
			if boardID != "board_1" || listID != "list_2" || toIndex != 0 {
				t.Errorf("unexpected move args: %s %s %d", boardID, listID, toIndex)
			}
			return []store.List{
				{ID: "list_2", BoardID: boardID, Position: 0},
				{ID: "list_1", BoardID: boardID, Position: 1},
			}, nil
		},
	}
	server, _ := newTestServer(t, fs)
	token := signIn(t, server)

	resp := authedRequest(t, http.MethodPost, server.URL+"/api/boards/board_1/lists/list_2/move", token,
		`{"destinationIndex":0}`)
	env := decodeEnvelope(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, message %q", resp.StatusCode, env.Message)
	}
	var data struct {
		Lists []map[string]any `json:"lists"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode lists: %v", err)
	}
	if len(data.Lists) != 2 || data.Lists[0]["id"] != "list_2" {
		t.Fatalf("lists = %+v", data.Lists)
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	server, _ := newTestServer(t, &fakeStore{})
	token := signIn(t, server)

	resp := authedRequest(t, http.MethodGet, server.URL+"/api/nope", token, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCORSHeadersOnPreflight(t *testing.T) {
	server, _ := newTestServer(t, &fakeStore{})

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/api/boards", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS origin header")
	}
}

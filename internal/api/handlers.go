package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"

	"github.com/dkarlsen/go-chatrelay/internal/database"
	"github.com/dkarlsen/go-chatrelay/internal/server"
	"github.com/dkarlsen/go-chatrelay/internal/service"
	"github.com/dkarlsen/go-chatrelay/internal/types"
	"github.com/gorilla/websocket"
	"github.com/lib/pq"
)

const pqUniqueViolation = "23505"

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type ConversationRequest struct {
	Title string `json:"title"`
}

func (s *ChatRelayApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *ChatRelayApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Println("health check:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *ChatRelayApp) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Username == "" || req.Email == "" || req.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := database.CreateAccountParams{
		Username:     req.Username,
		EmailAddress: lower(req.Email),
		PasswordHash: pwdHash,
	}

	newUser, err := s.db.CreateAccount(params)
	if err != nil {
		var pqErr *pq.Error
		var errResp *ApiError
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			errResp = NewBadRequestErrorWithMessage("email or username already exists")
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	u := types.User{
		Id:           newUser.Id,
		Username:     newUser.Username,
		EmailAddress: newUser.EmailAddress,
		CreatedAt:    newUser.CreatedAt,
		UpdatedAt:    newUser.UpdatedAt,
	}

	token, err := s.createJwtForSession(u, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	u.Token = token

	s.writeJson(w, http.StatusCreated, u)
}

func (s *ChatRelayApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if lr.Email == "" || lr.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUser, err := s.db.GetAccountByEmail(lower(lr.Email))
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			// same response as a password mismatch, no account probing
			errResp = NewUnauthorizedError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !verifyPassword(dbUser.PasswordHash, lr.Password) {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	u := types.User{
		Id:           dbUser.Id,
		Username:     dbUser.Username,
		EmailAddress: dbUser.EmailAddress,
		CreatedAt:    dbUser.CreatedAt,
		UpdatedAt:    dbUser.UpdatedAt,
	}

	token, err := s.createJwtForSession(u, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	u.Token = token

	s.writeJson(w, http.StatusOK, u)
}

func (s *ChatRelayApp) listConversations(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conversations, err := s.conversations.List(userId)
	if err != nil {
		s.log.Println("list conversations:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, conversations)
}

func (s *ChatRelayApp) createConversation(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// an empty body is fine, the title is optional
	var req ConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conv, err := s.conversations.Create(userId, req.Title)
	if err != nil {
		s.log.Println("create conversation:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, conv)
}

func (s *ChatRelayApp) renameConversation(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req ConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conv, err := s.conversations.Rename(userId, r.PathValue("id"), req.Title)
	if err != nil {
		errResp := s.serviceError("rename conversation", err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, conv)
}

func (s *ChatRelayApp) deleteConversation(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.conversations.Delete(userId, r.PathValue("id")); err != nil {
		errResp := s.serviceError("delete conversation", err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"message": "conversation deleted"})
}

func (s *ChatRelayApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages, err := s.conversations.ListMessages(userId, r.PathValue("id"))
	if err != nil {
		errResp := s.serviceError("list messages", err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, messages)
}

// serviceError maps conversation-service errors onto HTTP responses. Unknown
// and unowned conversations intentionally produce the same 404.
func (s *ChatRelayApp) serviceError(op string, err error) *ApiError {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return NewNotFoundError()
	case errors.Is(err, service.ErrValidation):
		return NewBadRequestError()
	default:
		s.log.Printf("%s: %v", op, err)
		return NewInternalServerError(err)
	}
}

func (s *ChatRelayApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(id)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(types.User{
		Id:           user.Id,
		Username:     user.Username,
		EmailAddress: user.EmailAddress,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}, conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}

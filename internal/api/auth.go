package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dkarlsen/go-chatrelay/internal/types"
	"github.com/golang-jwt/jwt"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultJwtExpiration = time.Hour * 24

	userIdClaim = "user-id"
	expClaim    = "exp"
)

type contextKey string

const userIdKey contextKey = "user-id"

func WithUserId(ctx context.Context, userId int) context.Context {
	return context.WithValue(ctx, userIdKey, userId)
}

func UserId(ctx context.Context) (int, bool) {
	userId, ok := ctx.Value(userIdKey).(int)

	return userId, ok
}

// bearerToken extracts the caller's token: the Authorization header for REST
// calls, falling back to the token query parameter for websocket upgrades,
// where browsers cannot set headers.
func bearerToken(r *http.Request) (string, error) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		token, found := strings.CutPrefix(auth, "Bearer ")
		if !found {
			return "", fmt.Errorf("malformed authorization header")
		}
		return token, nil
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}

	return "", fmt.Errorf("no token provided")
}

func (s *ChatRelayApp) extractUserIdFromToken(tokenString string) (int, error) {
	token, err := s.verifyToken(tokenString)
	if err != nil {
		return 0, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("invalid token claims")
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok {
		return 0, fmt.Errorf("invalid user id claim")
	}

	return int(userId), nil
}

func (s *ChatRelayApp) createJwtForSession(user types.User, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: user.Id,
		expClaim:    time.Now().Add(exp).Unix(),
	})

	return token.SignedString(s.signingKey)
}

func (s *ChatRelayApp) verifyToken(tokenString string) (*jwt.Token, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return token, nil
}

func hashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}

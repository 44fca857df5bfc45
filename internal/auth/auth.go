package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	userIdClaim = "userId"
	expClaim    = "exp"

	// TokenKey names both the query parameter and the cookie that may carry a token.
	TokenKey = "token"
)

var ErrNoToken = errors.New("no token present")

// Verifier turns a bearer token into the id of the user it was issued to.
type Verifier interface {
	Verify(ctx context.Context, token string) (int64, error)
}

// JWTVerifier verifies HS256 tokens signed with a key shared with the
// account service.
type JWTVerifier struct {
	signingKey []byte
}

func NewJWTVerifier(signingKey []byte) *JWTVerifier {
	return &JWTVerifier{signingKey: signingKey}
}

func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (int64, error) {
	if tokenString == "" {
		return 0, ErrNoToken
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return 0, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return 0, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("invalid token claims")
	}

	// jwt v3 only checks exp when present
	if !claims.VerifyExpiresAt(time.Now().Unix(), true) {
		return 0, fmt.Errorf("token has no expiry or is expired")
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok || userId <= 0 {
		return 0, fmt.Errorf("invalid user id claim")
	}

	return int64(userId), nil
}

// IssueToken signs a token for userId that expires after exp.
func IssueToken(signingKey []byte, userId int64, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: userId,
		expClaim:    time.Now().Add(exp).Unix(),
	})

	return token.SignedString(signingKey)
}

// TokenFromRequest returns the first token found on r, checking the
// Authorization header, then the token query parameter, then the token cookie.
func TokenFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token), nil
		}
	}

	if token := r.URL.Query().Get(TokenKey); token != "" {
		return token, nil
	}

	if c, err := r.Cookie(TokenKey); err == nil && c.Value != "" {
		return c.Value, nil
	}

	return "", ErrNoToken
}

type contextKey string

const userIdKey contextKey = "user-id"

func WithUserId(ctx context.Context, userId int64) context.Context {
	return context.WithValue(ctx, userIdKey, userId)
}

func UserId(ctx context.Context) (int64, bool) {
	userId, ok := ctx.Value(userIdKey).(int64)

	return userId, ok
}

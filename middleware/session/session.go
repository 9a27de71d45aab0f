package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Keys under which the auth middleware stores the caller on the gin context.
const (
	ContextUserID   = "user_id"
	ContextIdentity = "identity"
)

var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Store keeps the server-side half of a session.
type Store interface {
	SaveSession(ctx context.Context, sessionID string, userID uint, ttl time.Duration) error
	SessionUser(ctx context.Context, sessionID string) (userID uint, found bool, err error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Subject is the user a session is issued for.
type Subject struct {
	UserID    uint
	FirstName string
	LastName  string
	Photo     string
}

// Identity is what a verified token resolves to.
type Identity struct {
	SessionID string
	UserID    uint
	FirstName string
	LastName  string
	Photo     string
	ExpiresAt time.Time
}

// Claims carried by the signed token.
type Claims struct {
	SessionID string `json:"sid"`
	UserID    uint   `json:"uid"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Photo     string `json:"photo"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
	ttl    time.Duration
	store  Store
	now    func() time.Time
}

func NewAuthenticator(secret string, ttl time.Duration, store Store) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		ttl:    ttl,
		store:  store,
		now:    time.Now,
	}
}

// Issue creates a fresh session for sub and returns the signed token and its expiry.
func (a *Authenticator) Issue(ctx context.Context, sub Subject) (string, time.Time, error) {
	now := a.now()
	expiresAt := now.Add(a.ttl)
	sessionID := uuid.NewString()

	if err := a.store.SaveSession(ctx, sessionID, sub.UserID, a.ttl); err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	claims := Claims{
		SessionID: sessionID,
		UserID:    sub.UserID,
		FirstName: sub.FirstName,
		LastName:  sub.LastName,
		Photo:     sub.Photo,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func (a *Authenticator) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthenticated
		}
		return a.secret, nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrUnauthenticated
	}
	if claims.SessionID == "" || claims.UserID == 0 || claims.FirstName == "" || claims.LastName == "" {
		return nil, ErrUnauthenticated
	}
	return claims, nil
}

// Verify resolves a token to the identity it was issued for. Tokens that are
// malformed, tampered, expired, incomplete or revoked yield ErrUnauthenticated.
func (a *Authenticator) Verify(ctx context.Context, tokenString string) (*Identity, error) {
	claims, err := a.parse(tokenString)
	if err != nil {
		return nil, err
	}

	userID, found, err := a.store.SessionUser(ctx, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if !found || userID != claims.UserID {
		return nil, ErrUnauthenticated
	}

	return &Identity{
		SessionID: claims.SessionID,
		UserID:    claims.UserID,
		FirstName: claims.FirstName,
		LastName:  claims.LastName,
		Photo:     claims.Photo,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Revoke ends the session behind tokenString. Unknown or invalid tokens are ignored.
func (a *Authenticator) Revoke(ctx context.Context, tokenString string) error {
	claims, err := a.parse(tokenString)
	if err != nil {
		return nil
	}
	if err := a.store.DeleteSession(ctx, claims.SessionID); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// TokenFromRequest returns the session token from the cookie, falling back to
// an "Authorization: Bearer" header.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

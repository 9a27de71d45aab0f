package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/lunchroulette/server/internal/model"
	"github.com/lunchroulette/server/internal/repository"
	logger "github.com/lunchroulette/server/middleware/log"
	"github.com/lunchroulette/server/middleware/session"
)

type SignupRequest struct {
	FirstName string `json:"first_name" binding:"required,max=100"`
	LastName  string `json:"last_name" binding:"required,max=100"`
	Email     string `json:"email" binding:"required,email,max=255"`
	Password  string `json:"password" binding:"required,min=8,max=72"`
	Photo     string `json:"photo" binding:"max=255"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *model.User `json:"user"`
}

// Sessions issues and checks session tokens.
type Sessions interface {
	Issue(ctx context.Context, sub session.Subject) (string, time.Time, error)
	Verify(ctx context.Context, token string) (*session.Identity, error)
	Revoke(ctx context.Context, token string) error
}

type IAuthService interface {
	Signup(ctx context.Context, req *SignupRequest) (*model.User, error)
	Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error)
	Logout(ctx context.Context, token string) error
	Verify(ctx context.Context, token string) (*session.Identity, error)
}

type AuthService struct {
	userRepo repository.IUserRepository
	sessions Sessions
	log      *logger.Logger
	cost     int
}

func NewAuthService(userRepo repository.IUserRepository, sessions Sessions, log *logger.Logger) *AuthService {
	return &AuthService{
		userRepo: userRepo,
		sessions: sessions,
		log:      log,
		cost:     bcrypt.DefaultCost,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Signup registers a user. Emails are compared case-insensitively.
func (s *AuthService) Signup(ctx context.Context, req *SignupRequest) (*model.User, error) {
	first, last := strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName)
	email := normalizeEmail(req.Email)
	if first == "" || last == "" || email == "" {
		return nil, invalid("first name, last name and email are required")
	}
	if len(req.Password) < 8 || len(req.Password) > 72 {
		return nil, invalid("password must be 8 to 72 bytes")
	}

	exists, err := s.userRepo.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, unavailable("signup", err)
	}
	if exists {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		FirstName:    first,
		LastName:     last,
		Email:        email,
		PasswordHash: string(hash),
		Photo:        strings.TrimSpace(req.Photo),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, unavailable("signup", err)
	}

	s.log.InfoContext(ctx, "user signed up", zap.Uint("user_id", user.ID))
	return user, nil
}

// Login checks the password and opens a new session.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	user, err := s.userRepo.FindByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, unavailable("login", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.sessions.Issue(ctx, session.Subject{
		UserID:    user.ID,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Photo:     user.Photo,
	})
	if err != nil {
		return nil, unavailable("login", err)
	}

	s.log.InfoContext(ctx, "user logged in", zap.Uint("user_id", user.ID))
	return &LoginResponse{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

func (s *AuthService) Logout(ctx context.Context, token string) error {
	if err := s.sessions.Revoke(ctx, token); err != nil {
		return unavailable("logout", err)
	}
	return nil
}

// Verify resolves a session token. Any token problem is ErrUnauthenticated; a
// session store outage is ErrPersistenceUnavailable.
func (s *AuthService) Verify(ctx context.Context, token string) (*session.Identity, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	identity, err := s.sessions.Verify(ctx, token)
	switch {
	case err == nil:
		return identity, nil
	case errors.Is(err, session.ErrUnauthenticated):
		return nil, ErrUnauthenticated
	default:
		return nil, unavailable("verify session", err)
	}
}

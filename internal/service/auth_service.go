package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dmserver/internal/domain"
	"dmserver/internal/security"
)

// AuthService handles registration, login, and logout. This is the in-repo
// identity collaborator: everything downstream of it only sees a verified
// user id.
type AuthService struct {
	users       domain.UserRepository
	tokens      *security.TokenService
	hash        *security.PasswordHasher
	rememberTTL time.Duration
}

func NewAuthService(
	users domain.UserRepository,
	tokens *security.TokenService,
	hash *security.PasswordHasher,
	rememberTTL time.Duration,
) *AuthService {
	return &AuthService{
		users:       users,
		tokens:      tokens,
		hash:        hash,
		rememberTTL: rememberTTL,
	}
}

type RegisterInput struct {
	Username string
	Email    *string
	Password string
}

type LoginInput struct {
	Username   string
	Password   string
	RememberMe bool
}

type TokenResponse struct {
	AccessToken string
	TokenType   string
	User        *domain.User
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	if in.Username == "" || in.Password == "" {
		return nil, fmt.Errorf("username and password are required: %w", domain.ErrValidation)
	}

	if existing, err := s.users.GetByUsername(ctx, in.Username); err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	} else if existing != nil {
		return nil, fmt.Errorf("username already registered: %w", domain.ErrConflict)
	}

	if in.Email != nil && *in.Email != "" {
		if existing, err := s.users.GetByEmail(ctx, *in.Email); err != nil {
			return nil, fmt.Errorf("check email: %w", err)
		} else if existing != nil {
			return nil, fmt.Errorf("email already registered: %w", domain.ErrConflict)
		}
	}

	hashed, err := s.hash.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		ID:             uuid.NewString(),
		Username:       in.Username,
		Email:          in.Email,
		HashedPassword: hashed,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (*TokenResponse, error) {
	user, err := s.users.GetByUsername(ctx, in.Username)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("incorrect username or password: %w", domain.ErrUnauthorized)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("user account is inactive: %w", domain.ErrUnauthorized)
	}

	if err := s.hash.Verify(in.Password, user.HashedPassword); err != nil {
		return nil, fmt.Errorf("incorrect username or password: %w", domain.ErrUnauthorized)
	}

	var token string
	if in.RememberMe {
		token, err = s.tokens.CreateWithTTL(user.Username, s.rememberTTL)
	} else {
		token, err = s.tokens.CreateForUser(user.Username)
	}
	if err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}

	return &TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        user,
	}, nil
}

// Logout stamps the user offline. Tokens are stateless, so there is nothing
// to revoke server-side; live websocket sessions close on their own.
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	if err := s.users.SetPresence(ctx, userID, domain.UserOffline, time.Now().UTC()); err != nil {
		return fmt.Errorf("set offline: %w", err)
	}
	return nil
}

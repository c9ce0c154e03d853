package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/eventjoin/internal/auth"
	"github.com/Shivanand-hulikatti/eventjoin/internal/logging"
	"github.com/Shivanand-hulikatti/eventjoin/internal/model"
	"github.com/Shivanand-hulikatti/eventjoin/internal/repository"
)

const maxUsernameLen = 64

// AuthService registers and authenticates users against the Identity Store.
type AuthService struct {
	users  repository.Users
	hasher auth.PasswordHasher
	logger *zap.Logger

	decoyOnce sync.Once
	decoy     string
}

func NewAuthService(users repository.Users, hasher auth.PasswordHasher, logger *zap.Logger) *AuthService {
	return &AuthService{users: users, hasher: hasher, logger: logging.OrNop(logger)}
}

// Register creates a user and returns its ID.
func (s *AuthService) Register(ctx context.Context, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", fmt.Errorf("%w: username is required", model.ErrInvalidArgument)
	}
	if utf8.RuneCountInString(username) > maxUsernameLen {
		return "", fmt.Errorf("%w: username cannot exceed %d characters", model.ErrInvalidArgument, maxUsernameLen)
	}
	if password == "" {
		return "", fmt.Errorf("%w: %w: password is required", model.ErrInvalidArgument, model.ErrInvalidCredential)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", err
	}

	u := &model.User{ID: uuid.NewString(), Username: username, PasswordHash: hash}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, model.ErrDuplicateUsername) {
			return "", err
		}
		return "", fmt.Errorf("register: %w", err)
	}

	s.logger.Info("user registered", zap.String("user_id", u.ID))
	return u.ID, nil
}

// Authenticate returns the ID of the user whose password matches. Unknown
// usernames and wrong passwords both yield model.ErrInvalidCredential.
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", model.ErrInvalidCredential
	}

	u, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			// Burn one hash comparison so unknown usernames take as long as wrong passwords.
			_ = s.hasher.Verify(s.decoyHash(), password)
			return "", model.ErrInvalidCredential
		}
		return "", fmt.Errorf("authenticate: %w", err)
	}

	if err := s.hasher.Verify(u.PasswordHash, password); err != nil {
		return "", err
	}
	return u.ID, nil
}

// GetUser returns the user with the given ID.
func (s *AuthService) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.users.GetUser(ctx, id)
}

func (s *AuthService) decoyHash() string {
	s.decoyOnce.Do(func() {
		s.decoy, _ = s.hasher.Hash(uuid.NewString())
	})
	return s.decoy
}

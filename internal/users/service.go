package users

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openvidu/openvidu-meet/internal/auth"
	"github.com/openvidu/openvidu-meet/internal/data"
	"github.com/openvidu/openvidu-meet/internal/errs"
	"github.com/openvidu/openvidu-meet/internal/tokens"
)

// Service handles platform-user authentication and the management API keys.
type Service struct {
	users  data.UserModel
	keys   data.APIKeyModel
	tokens *tokens.Manager
	logger *zap.Logger
}

func NewService(st *data.Stores, tokenMgr *tokens.Manager, logger *zap.Logger) *Service {
	return &Service{
		users:  data.UserModel{St: st},
		keys:   data.APIKeyModel{St: st},
		tokens: tokenMgr,
		logger: logger,
	}
}

// TokenPair is the login/refresh response body.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

var errBadCredentials = errs.Unauthenticated("INVALID_CREDENTIALS", "Invalid username or password")

// Login verifies the password and mints a token pair. Unknown user and wrong
// password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, userID, password string) (*TokenPair, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			return nil, errBadCredentials
		}
		return nil, err
	}
	ok, err := auth.CheckPassword(password, user.PasswordHash)
	if err != nil {
		return nil, errs.Internal("verify password", err)
	}
	if !ok {
		return nil, errBadCredentials
	}
	return s.mintPair(user)
}

// Refresh rotates the pair. The subject must still exist; a deleted user's
// refresh token dies here.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}
	user, err := s.users.Get(ctx, claims.Subject)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			return nil, errs.Unauthenticated("INVALID_TOKEN", "Invalid token")
		}
		return nil, err
	}
	return s.mintPair(user)
}

func (s *Service) mintPair(user *data.User) (*TokenPair, error) {
	access, err := s.tokens.MintAccessToken(user)
	if err != nil {
		return nil, errs.Internal("mint access token", err)
	}
	refresh, err := s.tokens.MintRefreshToken(user.UserID)
	if err != nil {
		return nil, errs.Internal("mint refresh token", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// ChangePassword verifies the current password, stores the new hash and
// clears mustChangePassword.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	if len(next) < 8 {
		return errs.Validation("password too short",
			errs.FieldError{Field: "newPassword", Message: "must be at least 8 characters"})
	}
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := auth.CheckPassword(current, user.PasswordHash)
	if err != nil {
		return errs.Internal("verify password", err)
	}
	if !ok {
		return errBadCredentials
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return errs.Internal("hash password", err)
	}
	user.PasswordHash = hash
	user.MustChangePassword = false
	if err := s.users.Put(ctx, user); err != nil {
		return err
	}
	s.logger.Info("password changed", zap.String("userId", userID))
	return nil
}

func (s *Service) Get(ctx context.Context, userID string) (*data.User, error) {
	return s.users.Get(ctx, userID)
}

// CreateAPIKey mints a fresh management key. At most one key is active, so
// the previous one is discarded in the same write.
func (s *Service) CreateAPIKey(ctx context.Context) (*data.APIKey, error) {
	key := data.APIKey{Key: auth.NewAPIKey(), CreatedAt: time.Now().UTC()}
	if err := s.keys.PutAll(ctx, []data.APIKey{key}); err != nil {
		return nil, err
	}
	s.logger.Info("api key rotated")
	return &key, nil
}

func (s *Service) ListAPIKeys(ctx context.Context) ([]data.APIKey, error) {
	keys, err := s.keys.GetAll(ctx)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			return []data.APIKey{}, nil
		}
		return nil, err
	}
	return keys, nil
}

func (s *Service) DeleteAPIKeys(ctx context.Context) error {
	return s.keys.DeleteAll(ctx)
}

// VerifyAPIKey checks a presented key against the stored set.
func (s *Service) VerifyAPIKey(ctx context.Context, presented string) error {
	keys, err := s.keys.GetAll(ctx)
	if err != nil && !errs.IsKind(err, errs.KindNotFound) {
		return err
	}
	for _, key := range keys {
		if key.Key == presented {
			return nil
		}
	}
	return errs.Unauthenticated("INVALID_API_KEY", "Invalid API key")
}

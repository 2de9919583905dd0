// Package users implements account management: sign-up, login, token
// verification and permission lookup.
package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/volunteerhub/internal/common"
	"github.com/dmitrijs2005/volunteerhub/internal/logging"
	"github.com/dmitrijs2005/volunteerhub/internal/server/auth"
	"github.com/dmitrijs2005/volunteerhub/internal/server/captcha"
)

var (
	ErrUserNotFound  = errors.New("user does not exist")
	ErrWrongPassword = errors.New("wrong password")
	ErrUserExists    = errors.New("user already exists")
	// ErrVerificationFailed is the captcha sentinel, re-exported so callers
	// need not import captcha.
	ErrVerificationFailed = captcha.ErrVerificationFailed
)

const DefaultTokenTTL = 24 * time.Hour

type Config struct {
	SecretKey []byte
	TokenTTL  time.Duration
}

type Service struct {
	repo     Repository
	hasher   *auth.Hasher
	verifier captcha.Verifier
	cfg      Config
	logger   logging.Logger
}

// NewService wires the account service. A nil verifier turns human
// verification off.
func NewService(repo Repository, hasher *auth.Hasher, verifier captcha.Verifier, cfg Config, logger logging.Logger) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Service{
		repo:     repo,
		hasher:   hasher,
		verifier: verifier,
		cfg:      cfg,
		logger:   logger.With("module", "users"),
	}
}

// VerificationRequired reports whether login and sign-up demand a proof.
func (s *Service) VerificationRequired() bool {
	return s.verifier != nil
}

func (s *Service) checkProof(ctx context.Context, proof, remoteIP string) error {
	if s.verifier == nil {
		return nil
	}
	if err := s.verifier.Verify(ctx, proof, remoteIP); err != nil {
		if errors.Is(err, ErrVerificationFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	return nil
}

func (s *Service) getUser(ctx context.Context, repo Repository, id string) (*User, error) {
	user, err := repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrUserNotFound, id)
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return user, nil
}

// Login checks the proof, then the credentials, and returns a signed token.
func (s *Service) Login(ctx context.Context, id, password, proof, remoteIP string) (string, error) {
	if err := s.checkProof(ctx, proof, remoteIP); err != nil {
		return "", err
	}

	user, err := s.getUser(ctx, s.repo, id)
	if err != nil {
		return "", err
	}

	if !s.hasher.Verify(password, user.Password) {
		return "", ErrWrongPassword
	}

	token, err := auth.GenerateToken(user.ID, s.cfg.SecretKey, s.cfg.TokenTTL)
	if err != nil {
		return "", fmt.Errorf("issuing token: %w", err)
	}

	s.logger.Info(ctx, "user logged in", "user", id)
	return token, nil
}

// AddUser checks the proof and creates the account. An existing account is
// never overwritten.
func (s *Service) AddUser(ctx context.Context, id, password, permissions, proof, remoteIP string) error {
	if err := s.checkProof(ctx, proof, remoteIP); err != nil {
		return err
	}
	return s.createUser(ctx, id, password, permissions)
}

func (s *Service) createUser(ctx context.Context, id, password, permissions string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}

	err = s.repo.InTx(ctx, func(ctx context.Context, repo Repository) error {
		_, err := repo.Get(ctx, id)
		if err == nil {
			return fmt.Errorf("%w: %q", ErrUserExists, id)
		}
		if !errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("loading user: %w", err)
		}
		return repo.Create(ctx, &User{ID: id, Password: hash, Permissions: permissions})
	})
	if err != nil {
		return err
	}

	s.logger.Info(ctx, "user created", "user", id, "permissions", permissions)
	return nil
}

// VerifyToken reports whether token is a live token for expectedID. The
// reason for a rejection is only logged.
func (s *Service) VerifyToken(ctx context.Context, expectedID, token string) bool {
	if token == "" || expectedID == "" {
		s.logger.Debug(ctx, "token rejected", "reason", "empty")
		return false
	}

	subject, err := auth.GetUserIDFromToken(token, s.cfg.SecretKey)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, common.ErrTokenExpired) {
			reason = "expired"
		}
		s.logger.Debug(ctx, "token rejected", "reason", reason, "user", expectedID, "error", err)
		return false
	}

	if subject != expectedID {
		s.logger.Debug(ctx, "token rejected", "reason", "subject mismatch", "user", expectedID, "subject", subject)
		return false
	}

	return true
}

func (s *Service) UpdatePassword(ctx context.Context, id, newPassword string) error {
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	if err := s.repo.UpdatePassword(ctx, id, hash); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("%w: %q", ErrUserNotFound, id)
		}
		return fmt.Errorf("updating password: %w", err)
	}

	s.logger.Info(ctx, "password updated", "user", id)
	return nil
}

func (s *Service) GetUserPermissions(ctx context.Context, id string) (string, error) {
	user, err := s.getUser(ctx, s.repo, id)
	if err != nil {
		return "", err
	}
	return user.Permissions, nil
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("%w: %q", ErrUserNotFound, id)
		}
		return fmt.Errorf("deleting user: %w", err)
	}

	s.logger.Info(ctx, "user deleted", "user", id)
	return nil
}

// EnsureAdmin creates the bootstrap account unless it already exists.
func (s *Service) EnsureAdmin(ctx context.Context, id, password, permissions string) error {
	if id == "" {
		return nil
	}
	err := s.createUser(ctx, id, password, permissions)
	if errors.Is(err, ErrUserExists) {
		return nil
	}
	return err
}

package owner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/medpraxis/admin-api/internal/model"
	"github.com/medpraxis/admin-api/pkg/auth"
	apperrors "github.com/medpraxis/admin-api/pkg/errors"
	"github.com/medpraxis/admin-api/pkg/logger"
	"github.com/medpraxis/admin-api/pkg/security"
)

const (
	DefaultUsername     = "owner"
	credentialFileMode  = 0o600
	firstRunPasswordLen = security.DefaultPasswordLen
)

// LoginResult is returned from a successful owner login.
type LoginResult struct {
	Token                 string `json:"token"`
	RequirePasswordChange bool   `json:"require_password_change"`
}

// Servicer manages the single owner credential and its sessions.
type Servicer interface {
	Bootstrap(ctx context.Context) error
	Login(ctx context.Context, username, password string) (*LoginResult, error)
	ChangePassword(ctx context.Context, username, currentPassword, newPassword string) error
	ResetPassword(ctx context.Context) (string, error)
	Credential(ctx context.Context) (*model.OwnerCredential, error)
}

// Service persists the owner credential as a JSON file. All mutations rewrite
// the file atomically under a process-wide lock.
type Service struct {
	path   string
	vault  security.Vault
	jwt    auth.JWTService
	logger *logger.Logger
	now    func() time.Time

	mu sync.Mutex
}

func NewService(path string, vault security.Vault, jwt auth.JWTService, logger *logger.Logger) *Service {
	return &Service{
		path:   path,
		vault:  vault,
		jwt:    jwt,
		logger: logger,
		now:    time.Now,
	}
}

// Bootstrap ensures the credential file exists. On first run it generates the
// owner password, prints it to stdout once and marks the credential for a
// forced change at first login.
func (s *Service) Bootstrap(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.load(); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	password, err := s.vault.GeneratePassword(firstRunPasswordLen)
	if err != nil {
		return fmt.Errorf("failed to generate owner password: %w", err)
	}
	hash, err := s.vault.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash owner password: %w", err)
	}

	now := s.now()
	cred := &model.OwnerCredential{
		Username:              DefaultUsername,
		PasswordHash:          hash,
		CreatedAt:             now,
		LastPasswordChange:    now,
		RequirePasswordChange: true,
	}
	if err := s.store(cred); err != nil {
		return err
	}

	// The plaintext exists only here, once.
	fmt.Printf("Owner account created.\n  username: %s\n  password: %s\nChange this password at first login.\n",
		cred.Username, password)
	s.logger.Info("owner credential created", "path", s.path)
	return nil
}

// Login verifies the password, stamps last_login and issues a session token.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.load()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.Unauthorized("invalid credentials")
		}
		return nil, err
	}

	if username != cred.Username || !s.vault.VerifyPassword(cred.PasswordHash, password) {
		return nil, apperrors.Unauthorized("invalid credentials")
	}

	now := s.now()
	cred.LastLogin = &now
	if err := s.store(cred); err != nil {
		return nil, err
	}

	token, err := s.jwt.GenerateToken(cred.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	return &LoginResult{
		Token:                 token,
		RequirePasswordChange: cred.RequirePasswordChange,
	}, nil
}

// ChangePassword verifies the current password before storing the new hash
// and clearing the forced-change flag.
func (s *Service) ChangePassword(ctx context.Context, username, currentPassword, newPassword string) error {
	if len(newPassword) < security.MinPasswordLen {
		return apperrors.BadRequest(fmt.Sprintf("password must be at least %d characters", security.MinPasswordLen), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.load()
	if err != nil {
		return err
	}
	if username != cred.Username || !s.vault.VerifyPassword(cred.PasswordHash, currentPassword) {
		return apperrors.Unauthorized("invalid credentials")
	}

	hash, err := s.vault.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	cred.PasswordHash = hash
	cred.LastPasswordChange = s.now()
	cred.RequirePasswordChange = false
	return s.store(cred)
}

// ResetPassword replaces the owner password with a fresh generated one and
// forces a change at next login. The plaintext is returned exactly once.
func (s *Service) ResetPassword(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.load()
	if err != nil {
		return "", err
	}

	password, err := s.vault.GeneratePassword(firstRunPasswordLen)
	if err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	hash, err := s.vault.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	cred.PasswordHash = hash
	cred.LastPasswordChange = s.now()
	cred.RequirePasswordChange = true
	if err := s.store(cred); err != nil {
		return "", err
	}

	s.logger.Info("owner password reset")
	return password, nil
}

// Credential returns the stored credential for inspection. The hash travels
// with it; callers expose it with care.
func (s *Service) Credential(ctx context.Context) (*model.OwnerCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Service) load() (*model.OwnerCredential, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}

	var cred model.OwnerCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to parse owner credential file: %w", err)
	}
	return &cred, nil
}

// store writes to a temp file in the same directory and renames over the
// target, so a crash never leaves a half-written credential.
func (s *Service) store(cred *model.OwnerCredential) error {
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode owner credential: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".owner-*")
	if err != nil {
		return fmt.Errorf("failed to create temp credential file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := tmp.Chmod(credentialFileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set credential file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close credential file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace credential file: %w", err)
	}
	return nil
}

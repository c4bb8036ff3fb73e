package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Logger defines the logging interface used by the Provider.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds token settings for the Provider.
type Config struct {
	Secret   string
	TokenTTL time.Duration
}

// Provider authenticates local users and issues access tokens.
type Provider struct {
	users  UserRepository
	cfg    Config
	logger Logger
}

// NewProvider creates a Provider backed by the users table in db.
func NewProvider(db *sql.DB, cfg Config) *Provider {
	return &Provider{
		users:  NewUserRepository(db),
		cfg:    cfg,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the provider.
func (p *Provider) SetLogger(logger Logger) {
	p.logger = logger
}

// Login verifies credentials and returns the user's Identity.
// Unknown users, wrong passwords and inactive accounts all return
// ErrInvalidCredentials so callers cannot enumerate usernames.
func (p *Provider) Login(ctx context.Context, username, password string) (*Identity, error) {
	user, err := p.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			p.logger.Warn("login failed", "username", username, "reason", "unknown user")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		p.logger.Warn("login failed", "username", username, "reason", "wrong password")
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		p.logger.Warn("login failed", "username", username, "reason", "inactive")
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := GenerateAccessToken(user, p.cfg.Secret, p.cfg.TokenTTL)
	if err != nil {
		return nil, err
	}

	p.logger.Info("login succeeded", "username", username, "user_id", user.ID)
	return &Identity{
		UserID:    user.ID,
		Username:  user.Username,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// Seed creates the account on first start. If the user already exists its
// password is updated when it no longer matches, so rotating the configured
// password takes effect without losing the stable user id.
func (p *Provider) Seed(ctx context.Context, username, password string) error {
	if !IsValidUsername(username) {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}

	existing, err := p.users.GetByUsername(ctx, username)
	switch {
	case err == nil:
		ok, verr := VerifyPassword(password, existing.PasswordHash)
		if verr == nil && ok {
			return nil
		}
		hash, herr := HashPassword(password)
		if herr != nil {
			return fmt.Errorf("hashing password: %w", herr)
		}
		if err := p.users.UpdatePassword(ctx, existing.ID, hash); err != nil {
			return err
		}
		p.logger.Info("seed user password updated", "username", username)
		return nil
	case !errors.Is(err, ErrUserNotFound):
		return fmt.Errorf("looking up seed user: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	user := &User{Username: username, PasswordHash: hash, IsActive: true}
	if err := p.users.Create(ctx, user); err != nil {
		return fmt.Errorf("creating seed user: %w", err)
	}

	p.logger.Info("seed user created", "username", username, "user_id", user.ID)
	return nil
}

// ParseToken validates an access token issued by this provider.
func (p *Provider) ParseToken(token string) (*Claims, error) {
	return ParseToken(token, p.cfg.Secret)
}

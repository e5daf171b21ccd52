package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kosumphisai/koshare/backend/internal/counter"
	"github.com/kosumphisai/koshare/backend/internal/repository"
)

// Session authority errors
var (
	ErrRateLimited     = errors.New("too many failed login attempts")
	ErrNoCredential    = errors.New("no PIN has been configured")
	ErrWrongCredential = errors.New("wrong PIN")
	ErrInvalidToken    = errors.New("invalid or expired token")
	ErrForbidden       = errors.New("admin secret mismatch")
)

// SettingPinDigest is the settings key holding the PIN digest
const SettingPinDigest = "pin_digest"

// Defaults for login rate limiting
const (
	DefaultMaxFailedAttempts = 10
	DefaultFailedWindow      = time.Hour
)

// ValidationError represents a validation error with field details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// LoginResult is returned by a successful login
type LoginResult struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}

// AuthorityConfig holds rate limit and admin settings
type AuthorityConfig struct {
	MaxFailedAttempts int
	FailedWindow      time.Duration
	AdminSecret       string
	// Now overrides the clock; nil means time.Now
	Now func() time.Time
}

// Authority issues and checks session tokens against a single shared PIN
type Authority struct {
	settings     repository.SettingsRepository
	sessions     repository.SessionRepository
	counters     counter.Store
	tokens       *TokenService
	pins         *PinHasher
	maxFailed    int64
	failedWindow time.Duration
	adminSecret  string
	now          func() time.Time
	logger       *slog.Logger
}

// NewAuthority creates a new Authority instance
func NewAuthority(
	settings repository.SettingsRepository,
	sessions repository.SessionRepository,
	counters counter.Store,
	tokens *TokenService,
	pins *PinHasher,
	cfg AuthorityConfig,
	logger *slog.Logger,
) *Authority {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxFailedAttempts <= 0 {
		cfg.MaxFailedAttempts = DefaultMaxFailedAttempts
	}
	if cfg.FailedWindow <= 0 {
		cfg.FailedWindow = DefaultFailedWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Authority{
		settings:     settings,
		sessions:     sessions,
		counters:     counters,
		tokens:       tokens,
		pins:         pins,
		maxFailed:    int64(cfg.MaxFailedAttempts),
		failedWindow: cfg.FailedWindow,
		adminSecret:  cfg.AdminSecret,
		now:          cfg.Now,
		logger:       logger,
	}
}

// SetCredential stores the digest of pin, replacing any previous one
func (a *Authority) SetCredential(ctx context.Context, pin string) error {
	if err := a.pins.Validate(pin); err != nil {
		return err
	}
	if err := a.settings.Set(ctx, SettingPinDigest, a.pins.Digest(pin)); err != nil {
		return fmt.Errorf("failed to store PIN digest: %w", err)
	}
	a.logger.Info("PIN configured")
	return nil
}

// SetCredentialAsAdmin sets the PIN when adminSecret matches the configured
// secret. With no secret configured the operation is always forbidden.
func (a *Authority) SetCredentialAsAdmin(ctx context.Context, adminSecret, pin string) error {
	if a.adminSecret == "" ||
		subtle.ConstantTimeCompare([]byte(adminSecret), []byte(a.adminSecret)) != 1 {
		a.logger.Warn("setPin rejected: admin secret mismatch")
		return ErrForbidden
	}
	return a.SetCredential(ctx, pin)
}

// Login exchanges the shared PIN for a session token. Checks run in order:
// rate limit, configured PIN, PIN match.
func (a *Authority) Login(ctx context.Context, pin string) (*LoginResult, error) {
	failed, err := a.counters.Get(ctx, counter.KeyLoginFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to read login counter: %w", err)
	}
	if failed >= a.maxFailed {
		return nil, ErrRateLimited
	}

	digest, err := a.settings.Get(ctx, SettingPinDigest)
	if err != nil {
		if errors.Is(err, repository.ErrSettingNotFound) {
			return nil, ErrNoCredential
		}
		return nil, fmt.Errorf("failed to read PIN digest: %w", err)
	}

	if !a.pins.Matches(pin, digest) {
		n, err := a.counters.Increment(ctx, counter.KeyLoginFailed, a.failedWindow)
		if err != nil {
			return nil, fmt.Errorf("failed to record failed login: %w", err)
		}
		a.logger.Warn("Failed login attempt", "failed_attempts", n)
		return nil, ErrWrongCredential
	}

	token, expiresAt, err := a.tokens.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	session := &repository.Session{
		TokenHash: a.tokens.HashToken(token),
		ExpiresAt: expiresAt,
		CreatedAt: a.now().UTC(),
	}
	if err := a.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if err := a.counters.Reset(ctx, counter.KeyLoginFailed); err != nil {
		a.logger.Warn("Failed to reset login counter", "error", err)
	}

	return &LoginResult{
		Token:     token,
		ExpiresIn: int64(a.tokens.TTL().Seconds()),
	}, nil
}

// Verify reports whether token is a live session token. Storage errors are
// logged and treated as invalid.
func (a *Authority) Verify(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	hash := a.tokens.HashToken(token)
	if _, err := a.tokens.Validate(token); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			a.dropSession(ctx, hash)
		}
		return false
	}

	session, err := a.sessions.GetByTokenHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, repository.ErrSessionNotFound) {
			a.logger.Error("Failed to look up session", "error", err)
		}
		return false
	}

	if session.IsExpired(a.now()) {
		a.dropSession(ctx, hash)
		return false
	}
	return true
}

func (a *Authority) dropSession(ctx context.Context, hash string) {
	if err := a.sessions.DeleteByTokenHash(ctx, hash); err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		a.logger.Warn("Failed to delete expired session", "error", err)
	}
}

// ChangeCredential overwrites the PIN digest. The token must still be valid.
func (a *Authority) ChangeCredential(ctx context.Context, newPin, token string) error {
	if !a.Verify(ctx, token) {
		return ErrInvalidToken
	}
	return a.SetCredential(ctx, newPin)
}

// Logout drops the session for token. Unknown tokens are ignored.
func (a *Authority) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	err := a.sessions.DeleteByTokenHash(ctx, a.tokens.HashToken(token))
	if err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// CleanupExpired removes sessions past their expiry
func (a *Authority) CleanupExpired(ctx context.Context) (int64, error) {
	return a.sessions.CleanupExpiredSessions(ctx, a.now())
}

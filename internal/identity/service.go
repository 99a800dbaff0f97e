// Package identity owns account registration, credential checks, and the
// one-session-per-player ledger.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/dinoarena/server/internal/game/entity"
	"github.com/dinoarena/server/internal/game/repo"
)

// Sentinel errors returned by identity operations.
var (
	ErrAccountExists      = errors.New("account already exists")
	ErrAccountNotFound    = errors.New("account not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrValidation         = errors.New("invalid request")
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// Config holds the identity tuning.
type Config struct {
	// SessionTTL bounds a session claim in the shared cache. A crashed
	// client's claim expires rather than locking the name out forever.
	SessionTTL time.Duration
	// BcryptCost overrides the hashing cost; zero means bcrypt's default.
	BcryptCost int
}

// Service registers accounts and arbitrates sessions. When a shared cache is
// configured, session claims live there so every server process sees them;
// without one, claims fall back to process-local memory.
type Service struct {
	cfg    Config
	store  repo.Store
	cache  repo.Cache // may be nil
	logger *zap.Logger

	localMu sync.Mutex
	local   map[string]time.Time

	now func() time.Time
}

// NewService creates a Service.
//
// Precondition: store and logger must be non-nil. cache may be nil.
func NewService(cfg Config, store repo.Store, cache repo.Cache, logger *zap.Logger) *Service {
	return &Service{
		cfg:    cfg,
		store:  store,
		cache:  cache,
		logger: logger,
		local:  make(map[string]time.Time),
		now:    time.Now,
	}
}

// RegisterRequest carries new account credentials.
type RegisterRequest struct {
	PlayerName string `json:"playerName"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

// Register creates an account with a hashed password.
//
// Postcondition: Returns ErrAccountExists if the player name is taken.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*entity.Account, error) {
	name := strings.TrimSpace(req.PlayerName)
	email := strings.TrimSpace(req.Email)
	if name == "" || email == "" {
		return nil, fmt.Errorf("%w: player name and email are required", ErrValidation)
	}
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: malformed email", ErrValidation)
	}
	if len(req.Password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrValidation, MinPasswordLength)
	}

	if _, err := s.store.FindAccountByPlayerName(ctx, name); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountExists, name)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("checking account: %w", err)
	}

	cost := s.cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), cost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	account := &entity.Account{
		PlayerName:   name,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	if err := s.store.SaveAccount(ctx, account); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrAccountExists, name)
		}
		return nil, fmt.Errorf("saving account: %w", err)
	}

	s.logger.Info("account registered", zap.String("player", name))
	return account, nil
}

// Authenticate verifies the player's credentials.
func (s *Service) Authenticate(ctx context.Context, playerName, password string) (*entity.Account, error) {
	account, err := s.Resolve(ctx, playerName)
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return account, nil
}

// Resolve returns the account owning the player name.
//
// Postcondition: Returns ErrAccountNotFound wrapping repo.ErrNotFound when
// the name is unregistered.
func (s *Service) Resolve(ctx context.Context, playerName string) (*entity.Account, error) {
	account, err := s.store.FindAccountByPlayerName(ctx, playerName)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s: %w", ErrAccountNotFound, playerName, repo.ErrNotFound)
		}
		return nil, fmt.Errorf("finding account: %w", err)
	}
	return account, nil
}

// HasActiveSession reports whether the player currently holds a session.
func (s *Service) HasActiveSession(ctx context.Context, playerName string) (bool, error) {
	if s.cache != nil {
		return s.cache.HasActiveSession(ctx, playerName)
	}

	s.localMu.Lock()
	defer s.localMu.Unlock()
	expiry, ok := s.local[playerName]
	if !ok {
		return false, nil
	}
	if s.now().After(expiry) {
		delete(s.local, playerName)
		return false, nil
	}
	return true, nil
}

// StartSession claims the player's session slot.
func (s *Service) StartSession(ctx context.Context, playerName string) error {
	if s.cache != nil {
		return s.cache.StartSession(ctx, playerName, s.cfg.SessionTTL)
	}

	s.localMu.Lock()
	defer s.localMu.Unlock()
	s.local[playerName] = s.now().Add(s.cfg.SessionTTL)
	return nil
}

// EndSession releases the player's session slot. Releasing an unclaimed slot
// is a no-op.
func (s *Service) EndSession(ctx context.Context, playerName string) error {
	if s.cache != nil {
		return s.cache.EndSession(ctx, playerName)
	}

	s.localMu.Lock()
	defer s.localMu.Unlock()
	delete(s.local, playerName)
	return nil
}

package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/errs"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/index"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/store"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/validation"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials indicates an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrEmailTaken indicates another user already registered the email.
	ErrEmailTaken = fmt.Errorf("users: email already registered: %w", errs.ErrConflict)
)

// ServiceConfig describes the dependencies required for user management.
type ServiceConfig struct {
	Backend    store.Backend
	Indexes    *index.Maintainer
	Clock      func() time.Time
	NewID      func() (string, error)
	BcryptCost int
	Logger     *zap.Logger
}

// Service registers users, verifies their passwords, and resolves emails to user ids.
type Service struct {
	users      *store.Collection[User]
	indexes    *index.Maintainer
	now        func() time.Time
	newID      func() (string, error)
	bcryptCost int
	logger     *zap.Logger
	cache      sync.Map
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("users: store backend required")
	}
	if cfg.Indexes == nil {
		return nil, fmt.Errorf("users: index maintainer required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = newUUID
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:      store.NewCollection[User](cfg.Backend, store.KindUsers),
		indexes:    cfg.Indexes,
		now:        clock,
		newID:      newID,
		bcryptCost: cost,
		logger:     logger,
		cache:      sync.Map{},
	}, nil
}

// Register creates a user and claims the email mapping. A second registration of the same
// email fails with ErrEmailTaken.
func (s *Service) Register(ctx context.Context, registration Registration) (User, error) {
	registration.Email = normalizeEmail(registration.Email)
	registration.DisplayName = normalize(registration.DisplayName)
	registration.FavoriteGenres = normalizeGenres(registration.FavoriteGenres)
	if err := validation.Struct(registration); err != nil {
		return User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(registration.Password), s.bcryptCost)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}
	userID, err := s.newID()
	if err != nil {
		return User{}, fmt.Errorf("users: generate id: %w", err)
	}

	owner, claimed, err := s.indexes.ClaimMapping(ctx, index.UsersByEmail, registration.Email, userID)
	if err != nil {
		s.logger.Error("email claim failed", zap.String("user_id", userID), zap.Error(err))
		return User{}, err
	}
	if !claimed {
		s.logger.Info("email already registered", zap.String("user_id", owner))
		return User{}, ErrEmailTaken
	}

	now := s.now().UTC()
	user := User{
		ID:             userID,
		Email:          registration.Email,
		DisplayName:    registration.DisplayName,
		PasswordHash:   string(hash),
		FavoriteGenres: registration.FavoriteGenres,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.users.Put(ctx, userID, user); err != nil {
		if dropErr := s.indexes.Drop(ctx, index.UsersByEmail, registration.Email); dropErr != nil {
			s.logger.Warn("email claim rollback failed", zap.String("user_id", userID), zap.Error(dropErr))
		}
		s.logger.Error("user write failed", zap.String("user_id", userID), zap.Error(err))
		return User{}, err
	}

	s.cache.Store(registration.Email, userID)
	return user, nil
}

// Authenticate returns the user registered under email when password matches.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}
	userID, ok := s.lookupEmail(ctx, email)
	if !ok {
		return User{}, ErrInvalidCredentials
	}
	user, err := s.users.Get(ctx, userID)
	if errors.Is(err, errs.ErrNotFound) {
		s.cache.Delete(email)
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

// GetUser loads one user by id.
func (s *Service) GetUser(ctx context.Context, userID string) (User, error) {
	userID = normalize(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", errs.ErrValidation)
	}
	return s.users.Get(ctx, userID)
}

// UpdateProfile replaces the display name and favorite genres of a user.
func (s *Service) UpdateProfile(ctx context.Context, userID string, profile Profile) (User, error) {
	profile.DisplayName = normalize(profile.DisplayName)
	profile.FavoriteGenres = normalizeGenres(profile.FavoriteGenres)
	if err := validation.Struct(profile); err != nil {
		return User{}, err
	}
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	user.DisplayName = profile.DisplayName
	user.FavoriteGenres = profile.FavoriteGenres
	user.UpdatedAt = s.now().UTC()
	if err := s.users.Put(ctx, user.ID, user); err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *Service) lookupEmail(ctx context.Context, email string) (string, bool) {
	if cached, ok := s.cache.Load(email); ok {
		if userID, ok := cached.(string); ok {
			return userID, true
		}
	}
	userID, ok := s.indexes.GetMapping(ctx, index.UsersByEmail, email)
	if !ok {
		return "", false
	}
	s.cache.Store(email, userID)
	return userID, true
}

func newUUID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

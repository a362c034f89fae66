package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brainquiz/apiserver/types"
)

// ErrInvalidProgress is returned for progress events that cannot be applied.
var ErrInvalidProgress = errors.New("invalid progress")

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	ApplyProgress(ctx context.Context, progress types.Progress) (types.User, error)
	LeaderboardReader
}

// LeaderboardReader reads the ranked leaderboard. It is kept separate so a
// paginated reader can replace it.
type LeaderboardReader interface {
	Leaders(ctx context.Context) ([]types.Leader, error)
}

// EventPublisher publishes domain events. *mq.MQ satisfies it.
type EventPublisher interface {
	PublishJSON(ctx context.Context, channel string, value any) (string, error)
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo      UserRepository
	events    EventPublisher
	userTopic string
	logger    *slog.Logger
}

// UserServiceOption customises a UserService.
type UserServiceOption func(*UserService)

// WithEvents publishes a types.UserRegistered event on topic after each signup.
func WithEvents(events EventPublisher, topic string) UserServiceOption {
	return func(s *UserService) {
		s.events = events
		s.userTopic = topic
	}
}

// WithLogger sets the logger used for best-effort side effects.
func WithLogger(logger *slog.Logger) UserServiceOption {
	return func(s *UserService) {
		s.logger = logger
	}
}

func NewUserService(repo UserRepository, opts ...UserServiceOption) *UserService {
	s := &UserService{repo: repo, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *UserService) GetByID(ctx context.Context, id string) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return s.repo.GetByEmail(ctx, NormalizeEmail(email))
}

// Create stores a new user. The registration event is published after the
// insert succeeds; a publish failure is logged and does not fail the call.
func (s *UserService) Create(ctx context.Context, user types.User) (types.User, error) {
	user.Email = NormalizeEmail(user.Email)
	user.Name = strings.TrimSpace(user.Name)

	created, err := s.repo.Create(ctx, user)
	if err != nil {
		return types.User{}, err
	}

	if s.events != nil {
		event := types.UserRegistered{
			UserID:    created.ID,
			Email:     created.Email,
			Name:      created.Name,
			CreatedAt: created.CreatedAt,
		}
		if _, err := s.events.PublishJSON(ctx, s.userTopic, event); err != nil {
			s.logger.WarnContext(ctx, "publish user registered event", "user_id", created.ID, "error", err)
		}
	}
	return created, nil
}

func (s *UserService) Leaders(ctx context.Context) ([]types.Leader, error) {
	return s.repo.Leaders(ctx)
}

// ApplyProgress validates a gameplay update and applies it to the user's
// counters.
func (s *UserService) ApplyProgress(ctx context.Context, progress types.Progress) (types.User, error) {
	progress.UserID = strings.TrimSpace(progress.UserID)
	if progress.UserID == "" {
		return types.User{}, fmt.Errorf("%w: user id is required", ErrInvalidProgress)
	}
	if progress.Questions < 0 {
		return types.User{}, fmt.Errorf("%w: answered questions cannot decrease", ErrInvalidProgress)
	}
	if progress.Streak != nil && *progress.Streak < 0 {
		return types.User{}, fmt.Errorf("%w: streak cannot be negative", ErrInvalidProgress)
	}
	return s.repo.ApplyProgress(ctx, progress)
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

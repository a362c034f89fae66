package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/brainquiz/apiserver/types"
	"github.com/google/uuid"
)

// MemoryUserRepository keeps users in process memory. It is safe for
// concurrent use and is intended for tests and local development.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	byID    map[string]types.User
	byEmail map[string]string
	order   []string
	now     func() time.Time
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:    make(map[string]types.User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id string) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return user, nil
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryUserRepository) Create(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[user.Email]; exists {
		return types.User{}, ErrDuplicateEmail
	}

	now := r.now().UTC()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now

	r.byID[user.ID] = user
	r.byEmail[user.Email] = user.ID
	r.order = append(r.order, user.ID)
	return user, nil
}

// Leaders returns every user ordered by rating, highest first. Equal ratings
// keep insertion order.
func (r *MemoryUserRepository) Leaders(_ context.Context) ([]types.Leader, error) {
	r.mu.RLock()
	users := make([]types.User, 0, len(r.order))
	for _, id := range r.order {
		users = append(users, r.byID[id])
	}
	r.mu.RUnlock()

	sort.SliceStable(users, func(i, j int) bool {
		return users[i].Rating > users[j].Rating
	})

	leaders := make([]types.Leader, 0, len(users))
	for _, user := range users {
		leaders = append(leaders, types.Leader{
			Name:    user.Name,
			Score:   user.Rating,
			Country: user.Country,
		})
	}
	return leaders, nil
}

func (r *MemoryUserRepository) ApplyProgress(_ context.Context, progress types.Progress) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[progress.UserID]
	if !ok {
		return types.User{}, ErrNotFound
	}

	user.Questions = max(user.Questions+progress.Questions, 0)
	user.Rating = max(user.Rating+progress.Rating, 0)
	if progress.Streak != nil {
		user.Streak = max(*progress.Streak, 0)
	}
	user.UpdatedAt = r.now().UTC()

	r.byID[user.ID] = user
	return user, nil
}

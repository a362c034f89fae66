package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/brainquiz/apiserver/types"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// UserRepository handles persistence for users in PostgreSQL.
type UserRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db, now: time.Now}
}

const userColumns = `id, name, email, password_hash, country, questions, streak, rating, created_at, updated_at`

func (r *UserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, email))
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := r.now().UTC()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now

	const query = `
		INSERT INTO users (id, name, email, password_hash, country, questions, streak, rating, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.Country,
		user.Questions,
		user.Streak,
		user.Rating,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return types.User{}, ErrDuplicateEmail
		}
		return types.User{}, err
	}
	return user, nil
}

// Leaders returns every user ordered by rating, highest first. Equal ratings
// keep signup order.
func (r *UserRepository) Leaders(ctx context.Context) ([]types.Leader, error) {
	const query = `
		SELECT name, rating, country
		FROM users
		ORDER BY rating DESC, created_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leaders := make([]types.Leader, 0)
	for rows.Next() {
		var leader types.Leader
		if err := rows.Scan(&leader.Name, &leader.Score, &leader.Country); err != nil {
			return nil, err
		}
		leaders = append(leaders, leader)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return leaders, nil
}

// ApplyProgress adds the progress deltas to the user's counters, clamping
// each counter at zero.
func (r *UserRepository) ApplyProgress(ctx context.Context, progress types.Progress) (types.User, error) {
	streak := sql.NullInt64{}
	if progress.Streak != nil {
		streak = sql.NullInt64{Int64: int64(*progress.Streak), Valid: true}
	}

	query := `
		UPDATE users
		SET questions = GREATEST(questions + $2, 0),
			rating = GREATEST(rating + $3, 0),
			streak = GREATEST(COALESCE($4, streak), 0),
			updated_at = $5
		WHERE id = $1
		RETURNING ` + userColumns
	return r.scanOne(r.db.QueryRowContext(
		ctx,
		query,
		progress.UserID,
		progress.Questions,
		progress.Rating,
		streak,
		r.now().UTC(),
	))
}

func (r *UserRepository) scanOne(row *sql.Row) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.Country,
		&user.Questions,
		&user.Streak,
		&user.Rating,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

package types

import "time"

// User represents a quiz player account.
// It contains identity, gameplay counters, and audit metadata.
type User struct {
	// ID is the opaque unique identifier assigned by the store.
	ID string `json:"id" db:"id"`

	// Name is the user's display name. It may be empty.
	Name string `json:"name" db:"name"`

	// Email is the lower-cased, unique login email.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// Country is the user's self-reported country.
	Country string `json:"country" db:"country"`

	// Questions is the number of questions the user has answered.
	Questions int `json:"questions" db:"questions"`

	// Streak is the user's current answer streak.
	Streak int `json:"streak" db:"streak"`

	// Rating is the user's score; the leaderboard is ordered by it.
	Rating int `json:"rating" db:"rating"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Leader is a single leaderboard row.
type Leader struct {
	Name    string `json:"name"`
	Score   int    `json:"score"`
	Country string `json:"country"`
}

// Progress is a gameplay update for one user, published by the quiz engine.
// Questions and Rating are deltas; Streak, when set, replaces the current
// streak.
type Progress struct {
	UserID    string `json:"user_id"`
	Questions int    `json:"questions"`
	Rating    int    `json:"rating"`
	Streak    *int   `json:"streak,omitempty"`
}

// UserRegistered is published after a successful signup.
type UserRegistered struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

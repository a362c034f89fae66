package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/brainquiz/apiserver/internal/auth"
	"github.com/brainquiz/apiserver/internal/metrics"
	"github.com/brainquiz/apiserver/internal/services"
	"github.com/brainquiz/apiserver/internal/store"
	"github.com/brainquiz/apiserver/pkg/errutil"
	"github.com/brainquiz/apiserver/types"
)

// SessionCookieName is the cookie carrying the session token.
const SessionCookieName = "token"

const (
	minPasswordLength = 8
	maxPasswordBytes  = 72 // bcrypt input limit
	maxNameLength     = 100

	msgUnauthorized       = "unauthorized"
	msgUserExists         = "user already exists"
	msgInvalidCredentials = "invalid email or password"
	msgUserNotFound       = "user not found"
)

// Deps are the collaborators shared by the user-facing handlers.
type Deps struct {
	Users        *services.UserService
	Hasher       *auth.Hasher
	Tokens       *auth.TokenIssuer
	SecureCookie bool
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// AuthHandler provides signup, login and session endpoints.
type AuthHandler struct {
	users        *services.UserService
	hasher       *auth.Hasher
	tokens       *auth.TokenIssuer
	secureCookie bool
	logger       *slog.Logger
	metrics      *metrics.Metrics

	// dummyHash is compared against when the email is unknown so both login
	// failures cost one bcrypt comparison.
	dummyHash string
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
// It fails when a required collaborator is missing or the timing hash cannot
// be computed.
func NewAuthHandler(deps Deps) (*AuthHandler, error) {
	switch {
	case deps.Users == nil:
		return nil, errors.New("auth handler: users service is required")
	case deps.Hasher == nil:
		return nil, errors.New("auth handler: password hasher is required")
	case deps.Tokens == nil:
		return nil, errors.New("auth handler: token issuer is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dummy, err := deps.Hasher.Hash("dummy-password-for-timing")
	if err != nil {
		return nil, fmt.Errorf("auth handler: compute timing hash: %w", err)
	}

	return &AuthHandler{
		users:        deps.Users,
		hasher:       deps.Hasher,
		tokens:       deps.Tokens,
		secureCookie: deps.SecureCookie,
		logger:       logger,
		metrics:      deps.Metrics,
		dummyHash:    dummy,
	}, nil
}

// UserRouter registers the account, profile and leaderboard routes.
func UserRouter(r chi.Router, handler *AuthHandler) {
	leaderboard := NewLeaderboardHandler(handler.users, handler.logger)

	r.Post("/signup", handler.Signup)
	r.Post("/login", handler.Login)
	r.Post("/logout", handler.Logout)
	r.Group(func(r chi.Router) {
		r.Use(handler.RequireAuth)
		r.Get("/profile", handler.Profile)
		r.Get("/leaderboard", leaderboard.Leaders)
	})
}

// RequireAuth rejects requests without a valid session cookie and injects
// the user id into the request context. The response never says why.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookieName)
		if err != nil || cookie.Value == "" {
			h.metrics.AuthFailure("missing")
			writeError(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}

		userID, ok := h.tokens.Verify(cookie.Value)
		if !ok {
			h.metrics.AuthFailure("invalid")
			writeError(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
	})
}

// Signup creates a new account.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.normalize(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.users.GetByEmail(r.Context(), req.Email); err == nil {
		writeError(w, http.StatusBadRequest, msgUserExists)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		h.internalError(w, r, "failed to check user", err)
		return
	}

	hashed, err := h.hasher.Hash(req.Password)
	if err != nil {
		h.internalError(w, r, "failed to create user", err)
		return
	}

	user, err := h.users.Create(r.Context(), types.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hashed,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			writeError(w, http.StatusBadRequest, msgUserExists)
			return
		}
		h.internalError(w, r, "failed to create user", err)
		return
	}

	h.metrics.Signup()
	writeJSON(w, http.StatusCreated, newAccountResponse(user))
}

// Login verifies credentials and sets the session cookie.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req.Email = services.NormalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.hasher.Verify(req.Password, h.dummyHash)
			h.metrics.Login("invalid_credentials")
			writeError(w, http.StatusBadRequest, msgInvalidCredentials)
			return
		}
		h.internalError(w, r, "failed to authenticate", err)
		return
	}

	if !h.hasher.Verify(req.Password, user.PasswordHash) {
		h.metrics.Login("invalid_credentials")
		writeError(w, http.StatusBadRequest, msgInvalidCredentials)
		return
	}

	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		h.internalError(w, r, "failed to create token", err)
		return
	}

	http.SetCookie(w, h.sessionCookie(token, h.tokens.TTL()))
	h.metrics.Login("success")
	writeJSON(w, http.StatusOK, newAccountResponse(user))
}

// Logout expires the session cookie on the client. Tokens are stateless, so
// an already copied token stays valid until it expires.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie := h.sessionCookie("", 0)
	cookie.MaxAge = -1
	cookie.Expires = time.Unix(0, 0)
	http.SetCookie(w, cookie)
	w.WriteHeader(http.StatusNoContent)
}

// Profile returns the current authenticated user.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, msgUserNotFound)
			return
		}
		h.internalError(w, r, "failed to load user", err)
		return
	}

	writeJSON(w, http.StatusOK, newProfileResponse(user))
}

func (h *AuthHandler) sessionCookie(value string, ttl time.Duration) *http.Cookie {
	cookie := &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	}
	if ttl > 0 {
		cookie.MaxAge = int(ttl / time.Second)
		cookie.Expires = time.Now().Add(ttl).UTC()
	}
	return cookie
}

func (h *AuthHandler) internalError(w http.ResponseWriter, r *http.Request, message string, err error) {
	errutil.LogError(h.logger, message, err,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
	)
	writeError(w, http.StatusInternalServerError, message)
}

type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// normalize trims and lower-cases the email, trims the name and validates
// every field.
func (req *SignupRequest) normalize() error {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = services.NormalizeEmail(req.Email)

	if req.Email == "" {
		return errors.New("email is required")
	}
	addr, err := mail.ParseAddress(req.Email)
	if err != nil || addr.Address != req.Email {
		return errors.New("invalid email")
	}
	if req.Password == "" {
		return errors.New("password is required")
	}
	if utf8.RuneCountInString(req.Password) < minPasswordLength {
		return errors.New("password must be at least 8 characters")
	}
	if len(req.Password) > maxPasswordBytes {
		return errors.New("password must be at most 72 bytes")
	}
	if utf8.RuneCountInString(req.Name) > maxNameLength {
		return errors.New("name is too long")
	}
	return nil
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AccountResponse is returned by signup and login.
type AccountResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func newAccountResponse(user types.User) AccountResponse {
	return AccountResponse{ID: user.ID, Name: user.Name, Email: user.Email}
}

// ProfileResponse is the safe projection of a user for its owner.
type ProfileResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Country   string    `json:"country"`
	Questions int       `json:"questions"`
	Streak    int       `json:"streak"`
	Rating    int       `json:"rating"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newProfileResponse(user types.User) ProfileResponse {
	return ProfileResponse{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Country:   user.Country,
		Questions: user.Questions,
		Streak:    user.Streak,
		Rating:    user.Rating,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}

package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/brainquiz/apiserver/internal/auth"
	"github.com/brainquiz/apiserver/internal/handlers"
	"github.com/brainquiz/apiserver/internal/services"
	"github.com/brainquiz/apiserver/types"
)

func TestSignup(t *testing.T) {
	env := newTestEnv(t)

	body := env.signup(t, "Ann", "  A@X.com ", "password1")

	assert.NotEmpty(t, body["id"])
	assert.Equal(t, "Ann", body["name"])
	assert.Equal(t, "a@x.com", body["email"])
	assert.NotContains(t, body, "password")
	assert.NotContains(t, body, "password_hash")
	assert.NotContains(t, body, "token")

	stored, err := env.users.GetByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.NotEqual(t, "password1", stored.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("password1")))
}

func TestSignupDuplicateEmailIsConflict(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "Ann", "a@x.com", "password1")

	for _, email := range []string{"a@x.com", "A@X.COM"} {
		rec := env.do(t, http.MethodPost, "/user/signup", map[string]string{"email": email, "password": "password2"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "user already exists", body["message"])
	}
}

func TestSignupValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name    string
		body    any
		message string
	}{
		{"malformed json", `{"email":`, "invalid request body"},
		{"trailing data", `{"email":"a@x.com","password":"password1"} {}`, "invalid request body"},
		{"unknown field", `{"email":"a@x.com","password":"password1","rating":9999,"is_admin":true}`, "invalid request body"},
		{"missing email", map[string]string{"password": "password1"}, "email is required"},
		{"bad email", map[string]string{"email": "not-an-email", "password": "password1"}, "invalid email"},
		{"display-name email", map[string]string{"email": "Ann <a@x.com>", "password": "password1"}, "invalid email"},
		{"missing password", map[string]string{"email": "a@x.com"}, "password is required"},
		{"short password", map[string]string{"email": "a@x.com", "password": "short"}, "password must be at least 8 characters"},
		{"long password", map[string]string{"email": "a@x.com", "password": strings.Repeat("p", 73)}, "password must be at most 72 bytes"},
		{"long name", map[string]string{"email": "a@x.com", "password": "password1", "name": strings.Repeat("n", 101)}, "name is too long"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/user/signup", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.message, decodeBody(t, rec)["message"])
		})
	}

	_, err := env.users.GetByEmail(context.Background(), "a@x.com")
	assert.Error(t, err, "rejected signups must not create users")
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	created := env.signup(t, "Ann", "a@x.com", "password1")

	rec := env.do(t, http.MethodPost, "/user/login", map[string]string{"email": "A@x.com", "password": "password1"})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, created["id"], body["id"])
	assert.Equal(t, "a@x.com", body["email"])
	assert.NotContains(t, body, "token")
	assert.NotContains(t, body, "password")

	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), cookie.MaxAge)

	userID, ok := env.tokens.Verify(cookie.Value)
	require.True(t, ok)
	assert.Equal(t, created["id"], userID)

	series, err := testutil.GatherAndCount(env.metrics.Registry(), "quiz_logins_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series)
}

func TestLoginFailuresShareOneMessage(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "Ann", "a@x.com", "password1")

	wrongPassword := env.do(t, http.MethodPost, "/user/login", map[string]string{"email": "a@x.com", "password": "password2"})
	unknownEmail := env.do(t, http.MethodPost, "/user/login", map[string]string{"email": "b@x.com", "password": "password1"})

	for _, rec := range []*httptest.ResponseRecorder{wrongPassword, unknownEmail} {
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid email or password", decodeBody(t, rec)["message"])
		assert.Nil(t, sessionCookie(rec))
	}
	assert.Equal(t, wrongPassword.Body.String(), unknownEmail.Body.String())
}

func TestLoginValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/user/login", map[string]string{"email": "a@x.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "email and password are required", decodeBody(t, rec)["message"])

	rec = env.do(t, http.MethodPost, "/user/login", "nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/user/login", `{"email":"a@x.com","password":"password1","remember":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid request body", decodeBody(t, rec)["message"])
}

func TestLogoutExpiresCookie(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/user/logout", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Negative(t, cookie.MaxAge)
}

func TestProfile(t *testing.T) {
	env := newTestEnv(t)
	created := env.signup(t, "Ann", "a@x.com", "password1")
	cookie := env.login(t, "a@x.com", "password1")

	streak := 3
	_, err := env.users.ApplyProgress(context.Background(), types.Progress{
		UserID:    created["id"].(string),
		Questions: 12,
		Rating:    40,
		Streak:    &streak,
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/user/profile", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, created["id"], body["id"])
	assert.Equal(t, "a@x.com", body["email"])
	assert.Equal(t, "Ann", body["name"])
	assert.EqualValues(t, 12, body["questions"])
	assert.EqualValues(t, 40, body["rating"])
	assert.EqualValues(t, 3, body["streak"])
	assert.NotContains(t, body, "password_hash")
	assert.NotContains(t, body, "password")
}

func TestProfileForVanishedUserIsNotFound(t *testing.T) {
	env := newTestEnv(t)

	token, err := env.tokens.Issue("deleted-user")
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/user/profile", nil, &http.Cookie{Name: handlers.SessionCookieName, Value: token})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "user not found", decodeBody(t, rec)["message"])
}

func TestProtectedRoutesRejectBadSessions(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "Ann", "a@x.com", "password1")
	valid := env.login(t, "a@x.com", "password1")

	otherIssuer, err := auth.NewTokenIssuer("some-other-secret", 0)
	require.NoError(t, err)
	foreign, err := otherIssuer.Issue("user")
	require.NoError(t, err)

	expiredIssuer, err := auth.NewTokenIssuer(testJWTSecret, time.Hour, auth.WithClock(func() time.Time {
		return time.Now().Add(-2 * time.Hour)
	}))
	require.NoError(t, err)
	expired, err := expiredIssuer.Issue("user")
	require.NoError(t, err)

	cases := map[string][]*http.Cookie{
		"no cookie":       nil,
		"empty cookie":    {{Name: handlers.SessionCookieName, Value: ""}},
		"malformed":       {{Name: handlers.SessionCookieName, Value: "not-a-jwt"}},
		"wrong secret":    {{Name: handlers.SessionCookieName, Value: foreign}},
		"expired":         {{Name: handlers.SessionCookieName, Value: expired}},
		"tampered":        {{Name: handlers.SessionCookieName, Value: valid.Value + "x"}},
		"wrong name only": {{Name: "auth_token", Value: valid.Value}},
	}
	for name, cookies := range cases {
		for _, path := range []string{"/user/profile", "/user/leaderboard"} {
			t.Run(name+" "+path, func(t *testing.T) {
				rec := env.do(t, http.MethodGet, path, nil, cookies...)
				assert.Equal(t, http.StatusUnauthorized, rec.Code)

				body := decodeBody(t, rec)
				assert.Equal(t, false, body["success"])
				assert.Equal(t, "unauthorized", body["message"])
			})
		}
	}
}

func TestNewAuthHandlerRequiresCollaborators(t *testing.T) {
	env := newTestEnv(t)
	hasher, err := auth.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)

	complete := handlers.Deps{Users: env.users, Hasher: hasher, Tokens: env.tokens}
	handler, err := handlers.NewAuthHandler(complete)
	require.NoError(t, err)
	assert.NotNil(t, handler)

	for name, mutate := range map[string]func(*handlers.Deps){
		"users service":   func(d *handlers.Deps) { d.Users = nil },
		"password hasher": func(d *handlers.Deps) { d.Hasher = nil },
		"token issuer":    func(d *handlers.Deps) { d.Tokens = nil },
	} {
		t.Run(name, func(t *testing.T) {
			deps := complete
			mutate(&deps)

			handler, err := handlers.NewAuthHandler(deps)
			assert.Nil(t, handler)
			assert.ErrorContains(t, err, name)
		})
	}
}

func TestRequireAuthNeverCallsDownstreamOnFailure(t *testing.T) {
	env := newTestEnv(t)

	hasher, err := auth.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)
	handler, err := handlers.NewAuthHandler(handlers.Deps{
		Users:  env.users,
		Hasher: hasher,
		Tokens: env.tokens,
	})
	require.NoError(t, err)

	called := false
	protected := handler.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	for _, value := range []string{"", "garbage", "a.b.c"} {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		if value != "" {
			req.AddCookie(&http.Cookie{Name: handlers.SessionCookieName, Value: value})
		}
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	assert.False(t, called)

	token, err := env.tokens.Issue("user-1")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: handlers.SessionCookieName, Value: token})
	protected.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, called)
}

func TestSessionExpiresAfterTTL(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "Ann", "a@x.com", "password1")
	cookie := env.login(t, "a@x.com", "password1")

	rec := env.do(t, http.MethodGet, "/user/profile", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	env.clock.now = env.clock.now.Add(auth.DefaultTokenTTL + time.Second)

	rec = env.do(t, http.MethodGet, "/user/profile", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// Walks the full account lifecycle a client goes through.
func TestAccountScenario(t *testing.T) {
	env := newTestEnv(t)
	creds := map[string]string{"email": "a@x.com", "password": "password1"}

	rec := env.do(t, http.MethodPost, "/user/signup", creds)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody(t, rec)
	assert.ElementsMatch(t, []string{"id", "name", "email"}, keys(created))

	rec = env.do(t, http.MethodPost, "/user/signup", creds)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/user/login", map[string]string{"email": "a@x.com", "password": "password2"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, sessionCookie(rec))

	rec = env.do(t, http.MethodPost, "/user/login", creds)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Set-Cookie"))
	cookie := sessionCookie(rec)

	rec = env.do(t, http.MethodGet, "/user/profile", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decodeBody(t, rec)
	assert.Equal(t, created["id"], profile["id"])
	assert.Equal(t, "a@x.com", profile["email"])

	rec = env.do(t, http.MethodGet, "/user/profile", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type failingRepo struct {
	err error
}

func (f failingRepo) GetByID(context.Context, string) (types.User, error)    { return types.User{}, f.err }
func (f failingRepo) GetByEmail(context.Context, string) (types.User, error) { return types.User{}, f.err }
func (f failingRepo) Create(context.Context, types.User) (types.User, error) { return types.User{}, f.err }
func (f failingRepo) Leaders(context.Context) ([]types.Leader, error)        { return nil, f.err }
func (f failingRepo) ApplyProgress(context.Context, types.Progress) (types.User, error) {
	return types.User{}, f.err
}

func TestStoreFailuresAreInternalErrors(t *testing.T) {
	env := newTestEnv(t)
	hasher, err := auth.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)

	handler, err := handlers.NewAuthHandler(handlers.Deps{
		Users:  services.NewUserService(failingRepo{err: errors.New("connection refused")}),
		Hasher: hasher,
		Tokens: env.tokens,
	})
	require.NoError(t, err)

	for _, tc := range []struct {
		name    string
		serve   http.HandlerFunc
		body    string
		message string
	}{
		{"signup", handler.Signup, `{"email":"a@x.com","password":"password1"}`, "failed to check user"},
		{"login", handler.Login, `{"email":"a@x.com","password":"password1"}`, "failed to authenticate"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tc.serve(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body)))
			assert.Equal(t, http.StatusInternalServerError, rec.Code)

			body := decodeBody(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tc.message, body["message"])
			assert.NotContains(t, rec.Body.String(), "connection refused")
		})
	}
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/brainquiz/apiserver/internal/auth"
	"github.com/brainquiz/apiserver/internal/handlers"
	"github.com/brainquiz/apiserver/internal/metrics"
	"github.com/brainquiz/apiserver/internal/services"
	"github.com/brainquiz/apiserver/internal/store"
)

const testJWTSecret = "test-secret-for-handler-tests"

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

type testEnv struct {
	router  http.Handler
	repo    *store.MemoryUserRepository
	users   *services.UserService
	tokens  *auth.TokenIssuer
	clock   *testClock
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	hasher, err := auth.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)

	clock := &testClock{now: time.Now()}
	tokens, err := auth.NewTokenIssuer(testJWTSecret, auth.DefaultTokenTTL, auth.WithClock(clock.Now))
	require.NoError(t, err)

	repo := store.NewMemoryUserRepository()
	users := services.NewUserService(repo)
	m := metrics.New()

	handler, err := handlers.NewAuthHandler(handlers.Deps{
		Users:        users,
		Hasher:       hasher,
		Tokens:       tokens,
		SecureCookie: true,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:      m,
	})
	require.NoError(t, err)

	router := chi.NewRouter()
	router.Route("/user", func(r chi.Router) {
		handlers.UserRouter(r, handler)
	})

	return &testEnv{
		router:  router,
		repo:    repo,
		users:   users,
		tokens:  tokens,
		clock:   clock,
		metrics: m,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(v)
	default:
		data, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) signup(t *testing.T, name, email, password string) map[string]any {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/user/signup", map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody(t, rec)
}

func (e *testEnv) login(t *testing.T, email, password string) *http.Cookie {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/user/login", map[string]string{
		"email":    email,
		"password": password,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie, "login must set the session cookie")
	return cookie
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func decodeInto(rec *httptest.ResponseRecorder, dst any) error {
	return json.Unmarshal(rec.Body.Bytes(), dst)
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == handlers.SessionCookieName {
			return cookie
		}
	}
	return nil
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rohits-web03/memoscribe/internal/apperr"
	"github.com/rohits-web03/memoscribe/internal/auth"
	"github.com/rohits-web03/memoscribe/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identityEcho(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if assert.True(t, ok) {
			_, _ = w.Write([]byte(id.Email))
		}
	})
}

func TestAuth(t *testing.T) {
	issuer := auth.NewTokenIssuer("secret", time.Hour)
	token, err := issuer.IssueToken("user-1", "a@example.com")
	require.NoError(t, err)
	h := Auth(issuer, nil)(identityEcho(t))

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK},
		{"lowercase scheme", func(r *http.Request) { r.Header.Set("Authorization", "bearer "+token) }, http.StatusOK},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: TokenCookie, Value: token}) }, http.StatusOK},
		{"missing", func(*http.Request) {}, http.StatusUnauthorized},
		{"garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tc.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, "a@example.com", rec.Body.String())
			}
		})
	}
}

type accounts map[uuid.UUID]error

func (a accounts) FindByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	err, ok := a[id]
	if !ok {
		return nil, apperr.NotFound("User")
	}
	if err != nil {
		return nil, err
	}
	return &models.User{ID: id}, nil
}

func TestAuth_ChecksAccountStillExists(t *testing.T) {
	issuer := auth.NewTokenIssuer("secret", time.Hour)
	live, gone, broken := uuid.New(), uuid.New(), uuid.New()
	h := Auth(issuer, accounts{live: nil, broken: apperr.Internal(errors.New("db down"))})(identityEcho(t))

	tests := []struct {
		name   string
		userID string
		status int
	}{
		{"existing account", live.String(), http.StatusOK},
		{"deleted account", gone.String(), http.StatusUnauthorized},
		{"malformed user id", "user-1", http.StatusUnauthorized},
		{"store failure", broken.String(), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			token, err := issuer.IssueToken(tc.userID, "a@example.com")
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestAuth_PassesPreflight(t *testing.T) {
	called := false
	h := Auth(auth.NewTokenIssuer("secret", time.Hour), nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodOptions, "/", nil))
	assert.True(t, called)
}

func TestLogger_LevelFollowsStatus(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	h := Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		LoggerFrom(r.Context()).Debug("inside")
		switch r.URL.Path {
		case "/boom":
			w.WriteHeader(http.StatusBadGateway)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	for path, level := range map[string]logrus.Level{
		"/":        logrus.InfoLevel,
		"/missing": logrus.WarnLevel,
		"/boom":    logrus.ErrorLevel,
	} {
		hook.Reset()
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		entries := hook.AllEntries()
		require.Len(t, entries, 2, path)
		assert.Equal(t, "inside", entries[0].Message)
		assert.Equal(t, rec.Header().Get("X-Request-ID"), entries[0].Data["req_id"])

		last := hook.LastEntry()
		assert.Equal(t, level, last.Level, path)
		assert.Equal(t, rec.Code, last.Data["status"])
		assert.Contains(t, last.Data, "duration_ms")
	}
}

func TestLoggerFrom_FallsBackToStandardLogger(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, logrus.StandardLogger(), LoggerFrom(req.Context()))
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/capitalize-ai/oncall-dispatch/pkg/logger"
)

const secret = "test-secret"

func token(t *testing.T, key string, scopes ...string) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Scopes: scopes,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func TestAuth(t *testing.T) {
	var gotUser string
	h := Auth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = GetUserID(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"malformed", "Token abc", http.StatusUnauthorized},
		{"wrong key", "Bearer " + token(t, "other"), http.StatusUnauthorized},
		{"valid", "Bearer " + token(t, secret), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Equal(t, "alice", gotUser)
}

func TestRequireScope(t *testing.T) {
	h := Auth(secret)(RequireScope(ScopeAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	for scopes, want := range map[string]int{"": http.StatusForbidden, ScopeAdmin: http.StatusNoContent} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token(t, secret, strings.Fields(scopes)...))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, scopes)
	}
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := &logger.Logger{Logger: zap.New(core)}

	r := chi.NewRouter()
	r.Use(Logging(log))
	r.Get("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "corr-1", GetCorrelationID(r.Context()))
		logger.FromContext(r.Context()).Info("inside")
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/sessions/abc", nil)
	req.Header.Set(CorrelationHeader, "corr-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "corr-1", rec.Header().Get(CorrelationHeader))

	inside := logs.FilterMessage("inside").All()
	require.Len(t, inside, 1)
	assert.Equal(t, "corr-1", inside[0].ContextMap()["correlation_id"])

	done := logs.FilterMessage("request completed").All()
	require.Len(t, done, 1)
	assert.EqualValues(t, http.StatusTeapot, done[0].ContextMap()["status"])
}

func TestLoggingGeneratesCorrelationID(t *testing.T) {
	h := Logging(logger.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get(CorrelationHeader))
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(2, time.Minute)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes[i] = rec.Code
	}
	assert.Equal(t, []int{200, 200, http.StatusTooManyRequests}, codes)
}

func TestValidation(t *testing.T) {
	assert.NoError(t, ValidateMessageText("db is down"))
	assert.Error(t, ValidateMessageText(""))
	assert.Error(t, ValidateMessageText(strings.Repeat("x", maxMessageLength+1)))
	assert.Error(t, ValidateMessageText("\xff"))

	assert.NoError(t, ValidateSessionID("7c9e6679-7425-40de-944b-e07fc1f90ae7"))
	assert.Error(t, ValidateSessionID("nope"))

	assert.NoError(t, ValidateIdentifier("user_id", "U024BE7LH"))
	assert.NoError(t, ValidateIdentifier("thread_id", "1700000000.000100"))
	assert.Error(t, ValidateIdentifier("user_id", "bad id"))

	assert.NoError(t, ValidateWorkflowName("incident_response"))
	assert.Error(t, ValidateWorkflowName("../etc"))
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestCORSPreflight(t *testing.T) {
	h := CORS("https://ops.example.com")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/messages", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

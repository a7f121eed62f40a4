package exchange

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/kirillm/jamso-engine/internal/credentials"
	"github.com/kirillm/jamso-engine/internal/domain"
	"github.com/kirillm/jamso-engine/pkg/utils"
)

func TestCreateSession_Success(t *testing.T) {
	b := newFakeBroker(t)
	s, _ := newTestSession(t, newTestHTTP(b.srv.URL))
	ctx := context.Background()

	result := s.CreateSession(ctx)
	if !result.Success {
		t.Fatalf("CreateSession() = %+v", result)
	}

	cst, sec := s.Tokens()
	if cst != "cst-1" || sec != "sec-1" {
		t.Errorf("Tokens() = %s, %s", cst, sec)
	}
	if !s.IsTokenValid(ctx) {
		t.Error("IsTokenValid() should be true right after CreateSession")
	}
	if s.Status().AccountID != "acc-1" {
		t.Errorf("AccountID = %s", s.Status().AccountID)
	}

	body := b.lastBody("POST /session")
	if body["identifier"] != "trader@example.com" || body["password"] != "pass" {
		t.Errorf("session body = %v", body)
	}
	if len(body) != 2 {
		t.Errorf("session body must contain only identifier and password: %v", body)
	}
	if got := b.lastHeader("POST /session").Get(domain.HeaderAPIKey); got != "api-key" {
		t.Errorf("X-CAP-API-KEY = %q", got)
	}
}

func TestCreateSession_SkipsLoginWhenValid(t *testing.T) {
	b := newFakeBroker(t)
	s, _ := newTestSession(t, newTestHTTP(b.srv.URL))
	ctx := context.Background()

	s.CreateSession(ctx)
	result := s.CreateSession(ctx)

	if !result.Success {
		t.Fatalf("CreateSession() = %+v", result)
	}
	if n := b.count("POST /session"); n != 1 {
		t.Errorf("POST /session called %d times, want 1", n)
	}
	if n := b.count("GET /session"); n != 1 {
		t.Errorf("GET /session called %d times, want 1", n)
	}
}

func TestCreateSession_RateLimitBackoff(t *testing.T) {
	b := newFakeBroker(t)
	attempts := 0
	b.handle("POST /session", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"errorCode": "error.too-many.requests"})
			return
		}
		w.Header().Set(domain.HeaderCST, "cst-1")
		w.Header().Set(domain.HeaderSecurityToken, "sec-1")
		writeJSON(w, http.StatusOK, map[string]string{})
	})

	s, rec := newTestSession(t, newTestHTTP(b.srv.URL))
	result := s.CreateSession(context.Background())

	if !result.Success {
		t.Fatalf("CreateSession() = %+v", result)
	}
	delays := rec.recorded()
	if len(delays) != 1 || delays[0] != 2*time.Second {
		t.Errorf("delays = %v, want [2s]", delays)
	}
}

func TestCreateSession_RateLimitExhausted(t *testing.T) {
	b := newFakeBroker(t)
	b.handle("POST /session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"errorCode": "error.too-many.requests"})
	})

	s, rec := newTestSession(t, newTestHTTP(b.srv.URL))
	result := s.CreateSession(context.Background())

	if result.Success {
		t.Fatal("CreateSession() should fail")
	}
	if result.ErrorCode != domain.CodeRateLimited {
		t.Errorf("ErrorCode = %s, want %s", result.ErrorCode, domain.CodeRateLimited)
	}
	if b.count("POST /session") != 3 {
		t.Errorf("POST /session called %d times, want 3", b.count("POST /session"))
	}
	// после последней попытки не ждем
	if delays := rec.recorded(); len(delays) != 2 {
		t.Errorf("delays = %v, want 2 waits", delays)
	}
}

func TestCreateSession_UnauthorizedClearsAndRetries(t *testing.T) {
	b := newFakeBroker(t)
	b.handle("POST /session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"errorCode": "error.invalid.details"})
	})

	s, rec := newTestSession(t, newTestHTTP(b.srv.URL))
	result := s.CreateSession(context.Background())

	if result.Success {
		t.Fatal("CreateSession() should fail")
	}
	if result.ErrorCode != domain.CodeAuthFailed || result.ErrorMessage != "error.invalid.details" {
		t.Errorf("result = %+v", result)
	}
	if b.count("POST /session") != 3 {
		t.Errorf("POST /session called %d times, want 3", b.count("POST /session"))
	}
	if len(rec.recorded()) != 0 {
		t.Errorf("unauthorized retries should not wait: %v", rec.recorded())
	}
	if s.IsAuthenticated() {
		t.Error("session must not be authenticated")
	}
}

type failingDoer struct {
	err   error
	calls int
}

func (d *failingDoer) Do(context.Context, *Request) (*Response, error) {
	d.calls++
	return nil, d.err
}

func TestCreateSession_ConnectionErrors(t *testing.T) {
	doer := &failingDoer{err: &domain.APIError{Kind: domain.ErrConnection, Message: "connection refused"}}
	s, rec := newTestSession(t, doer)

	result := s.CreateSession(context.Background())

	if result.Success || result.ErrorCode != domain.CodeConnectionFailed {
		t.Fatalf("CreateSession() = %+v", result)
	}
	if doer.calls != 3 {
		t.Errorf("calls = %d, want 3", doer.calls)
	}
	delays := rec.recorded()
	if len(delays) != 2 || delays[0] != 2*time.Second || delays[1] != 4*time.Second {
		t.Errorf("delays = %v, want [2s 4s]", delays)
	}
}

func TestCreateSession_ValidationIsTerminal(t *testing.T) {
	doer := &failingDoer{err: &domain.APIError{Kind: domain.ErrValidation, StatusCode: 400, ErrorCode: "error.invalid.identifier"}}
	s, _ := newTestSession(t, doer)

	result := s.CreateSession(context.Background())

	if result.Success || result.ErrorMessage != "error.invalid.identifier" {
		t.Fatalf("CreateSession() = %+v", result)
	}
	if doer.calls != 1 {
		t.Errorf("calls = %d, want 1", doer.calls)
	}
}

func TestCreateSession_MissingCredentials(t *testing.T) {
	doer := &failingDoer{}
	s, err := NewSessionManager(SessionConfig{}, doer, credentials.NewStaticProvider(nil), NewSessionLimiter(1), utils.Nop())
	if err != nil {
		t.Fatalf("NewSessionManager() error = %v", err)
	}

	result := s.CreateSession(context.Background())

	if result.ErrorCode != domain.CodeCredentialsMissing {
		t.Errorf("ErrorCode = %s", result.ErrorCode)
	}
	if doer.calls != 0 {
		t.Errorf("no request expected without credentials, got %d", doer.calls)
	}
}

func TestIsTokenValid(t *testing.T) {
	b := newFakeBroker(t)
	s, _ := newTestSession(t, newTestHTTP(b.srv.URL))
	ctx := context.Background()

	if s.IsTokenValid(ctx) {
		t.Error("IsTokenValid() without tokens should be false")
	}

	s.CreateSession(ctx)
	base := time.Now()
	s.now = func() time.Time { return base.Add(16 * time.Minute) }
	checks := b.count("GET /session")

	if s.IsTokenValid(ctx) {
		t.Error("IsTokenValid() with stale token should be false")
	}
	if b.count("GET /session") != checks {
		t.Error("stale token must not be checked")
	}
}

func TestIsTokenValid_CheckFailureMarksUnauthenticated(t *testing.T) {
	b := newFakeBroker(t)
	s, _ := newTestSession(t, newTestHTTP(b.srv.URL))
	ctx := context.Background()
	s.CreateSession(ctx)

	b.handle("GET /session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"errorCode": "error.invalid.session.token"})
	})

	if s.IsTokenValid(ctx) {
		t.Fatal("IsTokenValid() should be false after failed session check")
	}
	if s.IsAuthenticated() {
		t.Error("IsAuthenticated() should be false after failed session check")
	}
}

func TestEndSession_AlwaysClears(t *testing.T) {
	b := newFakeBroker(t)
	b.handle("DELETE /session", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	s, _ := newTestSession(t, newTestHTTP(b.srv.URL))
	ctx := context.Background()
	s.CreateSession(ctx)

	s.EndSession(ctx)

	cst, sec := s.Tokens()
	if cst != "" || sec != "" {
		t.Errorf("tokens not cleared: %q %q", cst, sec)
	}
	if s.IsAuthenticated() {
		t.Error("IsAuthenticated() should be false after EndSession")
	}
	if b.count("DELETE /session") != 1 {
		t.Errorf("DELETE /session called %d times", b.count("DELETE /session"))
	}
}

func TestEnsureAuthenticated(t *testing.T) {
	b := newFakeBroker(t)
	s, _ := newTestSession(t, newTestHTTP(b.srv.URL))
	ctx := context.Background()

	if err := s.EnsureAuthenticated(ctx); err != nil {
		t.Fatalf("EnsureAuthenticated() error = %v", err)
	}
	if err := s.EnsureAuthenticated(ctx); err != nil {
		t.Fatalf("EnsureAuthenticated() error = %v", err)
	}
	if b.count("POST /session") != 1 {
		t.Errorf("fresh session should be reused, POST /session = %d", b.count("POST /session"))
	}

	b.handle("POST /session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"errorCode": "error.invalid.details"})
	})
	s.Invalidate()
	if err := s.EnsureAuthenticated(ctx); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestSwitchAccount(t *testing.T) {
	b := newFakeBroker(t)
	b.handle("PUT /session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{})
	})
	s, _ := newTestSession(t, newTestHTTP(b.srv.URL))

	if err := s.SwitchAccount(context.Background(), "acc-2"); err != nil {
		t.Fatalf("SwitchAccount() error = %v", err)
	}
	if b.lastBody("PUT /session")["accountId"] != "acc-2" {
		t.Errorf("body = %v", b.lastBody("PUT /session"))
	}
	if s.Status().AccountID != "acc-2" {
		t.Errorf("AccountID = %s", s.Status().AccountID)
	}
}

func TestSessionLimiter(t *testing.T) {
	limiter := NewSessionLimiter(2)
	doer := &failingDoer{}

	first, err := NewSessionManager(SessionConfig{}, doer, testCredentials(), limiter, utils.Nop())
	if err != nil {
		t.Fatalf("first session: %v", err)
	}
	if _, err := NewSessionManager(SessionConfig{}, doer, testCredentials(), limiter, utils.Nop()); err != nil {
		t.Fatalf("second session: %v", err)
	}

	_, err = NewSessionManager(SessionConfig{}, doer, testCredentials(), limiter, utils.Nop())
	if !errors.Is(err, domain.ErrTooManySessions) {
		t.Fatalf("expected ErrTooManySessions, got %v", err)
	}

	first.Close(context.Background())
	first.Close(context.Background())
	if limiter.Active() != 1 {
		t.Errorf("Active() = %d, want 1 after double Close", limiter.Active())
	}

	if _, err := NewSessionManager(SessionConfig{}, doer, testCredentials(), limiter, utils.Nop()); err != nil {
		t.Errorf("slot should be free after Close: %v", err)
	}
}

func TestSessionLimiter_Concurrent(t *testing.T) {
	limiter := NewSessionLimiter(DefaultMaxSessions)
	results := make(chan error, 50)

	for i := 0; i < 50; i++ {
		go func() { results <- limiter.TryAcquire() }()
	}

	acquired := 0
	for i := 0; i < 50; i++ {
		if err := <-results; err == nil {
			acquired++
		}
	}

	if acquired != DefaultMaxSessions {
		t.Errorf("acquired = %d, want %d", acquired, DefaultMaxSessions)
	}
}

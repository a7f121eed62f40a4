package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kirillm/jamso-engine/internal/credentials"
	"github.com/kirillm/jamso-engine/internal/domain"
	"github.com/kirillm/jamso-engine/pkg/utils"
)

// fakeBroker имитирует REST API Capital.com
type fakeBroker struct {
	mu       sync.Mutex
	srv      *httptest.Server
	calls    map[string]int
	bodies   map[string][]map[string]interface{}
	headers  map[string][]http.Header
	handlers map[string]http.HandlerFunc
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()

	b := &fakeBroker{
		calls:    make(map[string]int),
		bodies:   make(map[string][]map[string]interface{}),
		headers:  make(map[string][]http.Header),
		handlers: make(map[string]http.HandlerFunc),
	}

	b.handle("POST /session", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(domain.HeaderCST, "cst-1")
		w.Header().Set(domain.HeaderSecurityToken, "sec-1")
		writeJSON(w, http.StatusOK, map[string]interface{}{"currentAccountId": "acc-1"})
	})
	b.handle("GET /session", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(domain.HeaderCST) != "cst-1" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"errorCode": "error.invalid.session.token"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"accountId": "acc-1"})
	})
	b.handle("DELETE /session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "SUCCESS"})
	})

	b.srv = httptest.NewServer(b)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path

	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)

	b.mu.Lock()
	b.calls[key]++
	b.bodies[key] = append(b.bodies[key], body)
	b.headers[key] = append(b.headers[key], r.Header.Clone())
	h, ok := b.handlers[key]
	b.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"errorCode": "error.not-found"})
		return
	}
	h(w, r)
}

func (b *fakeBroker) handle(key string, h http.HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[key] = h
}

func (b *fakeBroker) count(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[key]
}

func (b *fakeBroker) lastBody(key string) map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	bodies := b.bodies[key]
	if len(bodies) == 0 {
		return nil
	}
	return bodies[len(bodies)-1]
}

func (b *fakeBroker) lastHeader(key string) http.Header {
	b.mu.Lock()
	defer b.mu.Unlock()
	headers := b.headers[key]
	if len(headers) == 0 {
		return nil
	}
	return headers[len(headers)-1]
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sleepRecorder запоминает задержки вместо ожидания
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func noSleep(context.Context, time.Duration) error { return nil }

func testCredentials() credentials.Provider {
	return credentials.NewStaticProvider(map[string]string{
		"CAPITAL_API_KEY":  "api-key",
		"CAPITAL_USERNAME": "trader@example.com",
		"CAPITAL_PASSWORD": "pass",
	})
}

func newTestHTTP(baseURL string) *RateLimitedHTTPClient {
	c := NewRateLimitedHTTPClient(HTTPConfig{BaseURL: baseURL, MaxRetries: 0}, utils.Nop())
	c.sleep = noSleep
	return c
}

func newTestSession(t *testing.T, doer Doer) (*SessionManager, *sleepRecorder) {
	t.Helper()
	s, err := NewSessionManager(SessionConfig{}, doer, testCredentials(), NewSessionLimiter(10), utils.Nop())
	if err != nil {
		t.Fatalf("NewSessionManager() error = %v", err)
	}
	rec := &sleepRecorder{}
	s.sleep = rec.sleep
	return s, rec
}

func newTestClient(t *testing.T, b *fakeBroker) (*Client, *SessionManager) {
	t.Helper()
	httpClient := newTestHTTP(b.srv.URL)
	session, _ := newTestSession(t, httpClient)
	return NewClient(httpClient, session, utils.Nop()), session
}

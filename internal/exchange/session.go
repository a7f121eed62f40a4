package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/kirillm/jamso-engine/internal/credentials"
	"github.com/kirillm/jamso-engine/internal/domain"
	"github.com/kirillm/jamso-engine/pkg/utils"
)

// Doer выполняет запросы к API брокера
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// SessionConfig параметры сессии
type SessionConfig struct {
	MaxAuthAttempts int
	Timeout         time.Duration
	TokenTTL        time.Duration
}

const (
	defaultTokenTTL       = 15 * time.Minute
	maxRateLimitBackoff   = 30 * time.Second
	defaultSessionTimeout = 10 * time.Second
)

// SessionResult итог CreateSession
type SessionResult struct {
	Success      bool   `json:"success"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// SessionStatus состояние сессии для статуса сервиса
type SessionStatus struct {
	Authenticated   bool      `json:"authenticated"`
	AuthenticatedAt time.Time `json:"authenticated_at,omitempty"`
	AccountID       string    `json:"account_id,omitempty"`
	TokenAgeSeconds int64     `json:"token_age_seconds"`
}

// SessionManager владеет токенами CST и X-SECURITY-TOKEN.
// Authenticated == true только если оба токена есть и последняя проверка прошла успешно.
type SessionManager struct {
	http    Doer
	creds   credentials.Provider
	limiter *SessionLimiter
	cfg     SessionConfig
	logger  *utils.Logger
	sleep   SleepFunc
	now     func() time.Time

	authMu sync.Mutex // сериализует логин

	mu              sync.RWMutex
	apiKey          string
	cst             string
	securityToken   string
	accountID       string
	authenticatedAt time.Time
	authenticated   bool

	closeOnce sync.Once
}

func NewSessionManager(cfg SessionConfig, doer Doer, creds credentials.Provider, limiter *SessionLimiter, logger *utils.Logger) (*SessionManager, error) {
	if limiter == nil {
		limiter = NewSessionLimiter(DefaultMaxSessions)
	}
	if err := limiter.TryAcquire(); err != nil {
		return nil, err
	}

	if cfg.MaxAuthAttempts <= 0 {
		cfg.MaxAuthAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSessionTimeout
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}

	return &SessionManager{
		http:    doer,
		creds:   creds,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger.With("session"),
		sleep:   sleepContext,
		now:     time.Now,
	}, nil
}

// CreateSession аутентифицируется у брокера. Обычные ошибки аутентификации
// возвращаются в SessionResult, а не как error.
func (s *SessionManager) CreateSession(ctx context.Context) SessionResult {
	s.authMu.Lock()
	defer s.authMu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAuthAttempts; attempt++ {
		// 1. Уже аутентифицированы и сессия жива
		if s.IsAuthenticated() && s.IsTokenValid(ctx) {
			return SessionResult{Success: true}
		}

		// 2. Учетные данные
		apiKey, identifier, password, err := s.loadCredentials(ctx)
		if err != nil {
			metricSessionAuth.WithLabelValues("credentials_missing").Inc()
			return SessionResult{ErrorCode: domain.CodeCredentialsMissing, ErrorMessage: err.Error()}
		}

		// 3. POST /session
		err = s.login(ctx, apiKey, identifier, password)
		if err == nil {
			metricSessionAuth.WithLabelValues("success").Inc()
			s.logger.Info("session created (attempt %d)", attempt)
			return SessionResult{Success: true}
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}

		// 4. Решение о повторе по виду ошибки
		switch {
		case errors.Is(err, domain.ErrRateLimit):
			wait := backoff(attempt, maxRateLimitBackoff)
			s.logger.Warn("session rate limited, waiting %v (attempt %d/%d)", wait, attempt, s.cfg.MaxAuthAttempts)
			if attempt < s.cfg.MaxAuthAttempts {
				if err := s.sleep(ctx, wait); err != nil {
					metricSessionAuth.WithLabelValues("failed").Inc()
					return failureResult(lastErr)
				}
			}
		case errors.Is(err, domain.ErrAuthentication):
			// 401 трактуется как истекшая сессия: сбрасываем токены и пробуем снова
			s.logger.Warn("session unauthorized, clearing tokens (attempt %d/%d)", attempt, s.cfg.MaxAuthAttempts)
			s.clear()
		case errors.Is(err, domain.ErrConnection), errors.Is(err, domain.ErrTimeout), errors.Is(err, domain.ErrBroker):
			wait := backoff(attempt, 0)
			s.logger.Warn("session request failed: %v, retry in %v (attempt %d/%d)", err, wait, attempt, s.cfg.MaxAuthAttempts)
			if attempt < s.cfg.MaxAuthAttempts {
				if err := s.sleep(ctx, wait); err != nil {
					metricSessionAuth.WithLabelValues("failed").Inc()
					return failureResult(lastErr)
				}
			}
		default:
			metricSessionAuth.WithLabelValues("failed").Inc()
			return failureResult(err)
		}
	}

	metricSessionAuth.WithLabelValues("failed").Inc()
	s.logger.Error("session creation failed after %d attempts: %v", s.cfg.MaxAuthAttempts, lastErr)
	return failureResult(lastErr)
}

func failureResult(err error) SessionResult {
	code := domain.CodeAuthFailed
	switch {
	case errors.Is(err, domain.ErrRateLimit):
		code = domain.CodeRateLimited
	case errors.Is(err, domain.ErrConnection), errors.Is(err, domain.ErrTimeout), errors.Is(err, domain.ErrBroker):
		code = domain.CodeConnectionFailed
	}

	var apiErr *domain.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode != "" {
		return SessionResult{ErrorCode: code, ErrorMessage: apiErr.ErrorCode}
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return SessionResult{ErrorCode: code, ErrorMessage: msg}
}

func (s *SessionManager) loadCredentials(ctx context.Context) (apiKey, identifier, password string, err error) {
	if apiKey, err = s.creds.GetCredential(ctx, domain.CapitalService, domain.CapitalKeyAPIKey); err != nil {
		return
	}
	if identifier, err = s.creds.GetCredential(ctx, domain.CapitalService, domain.CapitalKeyUsername); err != nil {
		return
	}
	password, err = s.creds.GetCredential(ctx, domain.CapitalService, domain.CapitalKeyPassword)
	return
}

func (s *SessionManager) login(ctx context.Context, apiKey, identifier, password string) error {
	resp, err := s.http.Do(ctx, &Request{
		Method:  http.MethodPost,
		Path:    "/session",
		Headers: map[string]*string{domain.HeaderAPIKey: &apiKey},
		Body: map[string]string{
			"identifier": identifier,
			"password":   password,
		},
		Timeout: s.cfg.Timeout,
		NoRetry: true,
	})
	if err != nil {
		return err
	}

	cst := resp.Header.Get(domain.HeaderCST)
	securityToken := resp.Header.Get(domain.HeaderSecurityToken)
	if cst == "" || securityToken == "" {
		return &domain.APIError{
			Kind:       domain.ErrAuthentication,
			StatusCode: resp.StatusCode,
			Message:    "session response without security tokens",
		}
	}

	var body struct {
		CurrentAccountID string `json:"currentAccountId"`
	}
	_ = resp.Decode(&body)

	s.mu.Lock()
	s.apiKey = apiKey
	s.cst = cst
	s.securityToken = securityToken
	s.authenticatedAt = s.now()
	s.authenticated = true
	if body.CurrentAccountID != "" {
		s.accountID = body.CurrentAccountID
	}
	s.mu.Unlock()

	s.logger.Debug("tokens received: cst=%s", utils.MaskSecret(cst))
	return nil
}

// IsTokenValid проверяет наличие токенов, их возраст и выполняет GET /session
func (s *SessionManager) IsTokenValid(ctx context.Context) bool {
	s.mu.RLock()
	hasTokens := s.cst != "" && s.securityToken != ""
	age := s.now().Sub(s.authenticatedAt)
	s.mu.RUnlock()

	if !hasTokens {
		return false
	}
	if age > s.cfg.TokenTTL {
		s.logger.Debug("token is stale (%v)", age.Round(time.Second))
		return false
	}

	resp, err := s.http.Do(ctx, &Request{
		Method:  http.MethodGet,
		Path:    "/session",
		Headers: s.AuthHeaders(),
		Timeout: s.cfg.Timeout,
	})
	if err != nil || resp.StatusCode != http.StatusOK {
		s.mu.Lock()
		s.authenticated = false
		s.mu.Unlock()
		return false
	}

	s.mu.Lock()
	s.authenticated = true
	s.mu.Unlock()
	return true
}

// EnsureAuthenticated создает сессию, если ее нет или токены устарели
func (s *SessionManager) EnsureAuthenticated(ctx context.Context) error {
	s.mu.RLock()
	fresh := s.authenticated && s.now().Sub(s.authenticatedAt) <= s.cfg.TokenTTL
	s.mu.RUnlock()
	if fresh {
		return nil
	}

	result := s.CreateSession(ctx)
	if !result.Success {
		return fmt.Errorf("%w: %s: %s", domain.ErrNotAuthenticated, result.ErrorCode, result.ErrorMessage)
	}
	return nil
}

// Invalidate сбрасывает токены после ответа 401 на обычный запрос
func (s *SessionManager) Invalidate() {
	s.clear()
}

// EndSession выполняет logout на стороне брокера (ошибки игнорируются) и всегда очищает токены
func (s *SessionManager) EndSession(ctx context.Context) {
	s.mu.RLock()
	hasTokens := s.cst != "" && s.securityToken != ""
	s.mu.RUnlock()

	if hasTokens {
		_, err := s.http.Do(ctx, &Request{
			Method:  http.MethodDelete,
			Path:    "/session",
			Headers: s.AuthHeaders(),
			Timeout: s.cfg.Timeout,
		})
		if err != nil {
			s.logger.Warn("logout failed: %v", err)
		}
	}

	s.clear()
	s.logger.Info("session ended")
}

// Close завершает сессию и освобождает слот лимитера
func (s *SessionManager) Close(ctx context.Context) {
	s.EndSession(ctx)
	s.closeOnce.Do(s.limiter.Release)
}

// SwitchAccount переключает активный счет сессии
func (s *SessionManager) SwitchAccount(ctx context.Context, accountID string) error {
	if err := s.EnsureAuthenticated(ctx); err != nil {
		return err
	}

	_, err := s.http.Do(ctx, &Request{
		Method:  http.MethodPut,
		Path:    "/session",
		Headers: s.AuthHeaders(),
		Body:    map[string]string{"accountId": accountID},
		Timeout: s.cfg.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to switch account: %w", err)
	}

	s.mu.Lock()
	s.accountID = accountID
	s.mu.Unlock()
	return nil
}

// AuthHeaders заголовки аутентифицированного запроса. Пустые значения равны nil.
func (s *SessionManager) AuthHeaders() map[string]*string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]*string{
		domain.HeaderAPIKey:        optional(s.apiKey),
		domain.HeaderCST:           optional(s.cst),
		domain.HeaderSecurityToken: optional(s.securityToken),
	}
}

// Tokens текущие токены для потока котировок
func (s *SessionManager) Tokens() (cst, securityToken string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cst, s.securityToken
}

func (s *SessionManager) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated && s.cst != "" && s.securityToken != ""
}

func (s *SessionManager) Status() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SessionStatus{
		Authenticated: s.authenticated && s.cst != "" && s.securityToken != "",
		AccountID:     s.accountID,
	}
	if !s.authenticatedAt.IsZero() {
		status.AuthenticatedAt = s.authenticatedAt
		status.TokenAgeSeconds = int64(s.now().Sub(s.authenticatedAt).Seconds())
	}
	return status
}

func (s *SessionManager) clear() {
	s.mu.Lock()
	s.cst = ""
	s.securityToken = ""
	s.authenticated = false
	s.authenticatedAt = time.Time{}
	s.mu.Unlock()
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillm/jamso-engine/internal/domain"
	"github.com/kirillm/jamso-engine/pkg/utils"
)

// SleepFunc ожидание между повторами; в тестах подменяется
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoff возвращает 2^attempt секунд, ограниченные max (0 = без ограничения)
func backoff(attempt int, max time.Duration) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	if max > 0 && d > max {
		return max
	}
	return d
}

// Request описание запроса к API брокера
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]*string
	Body    interface{}
	Timeout time.Duration

	// NoRetry отключает повторы клиента: запрос повторяет вызывающий слой
	// или он не идемпотентен
	NoRetry bool
}

// Response ответ API брокера
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode разбирает тело ответа как JSON
func (r *Response) Decode(v interface{}) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// HTTPConfig параметры HTTP клиента
type HTTPConfig struct {
	BaseURL     string
	Timeout     time.Duration
	MinInterval time.Duration
	MaxRetries  int
}

// RateLimitedHTTPClient выполняет запросы с минимальным интервалом между ними
// и повторяет 5xx и сетевые ошибки с экспоненциальной задержкой
type RateLimitedHTTPClient struct {
	baseURL    string
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
	sleep      SleepFunc
	logger     *utils.Logger
}

func NewRateLimitedHTTPClient(cfg HTTPConfig, logger *utils.Logger) *RateLimitedHTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}

	return &RateLimitedHTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		client:     &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: cfg.MaxRetries,
		sleep:      sleepContext,
		logger:     logger.With("http"),
	}
}

// SanitizeHeaders убирает nil значения: брокер отклоняет пустые заголовки
func SanitizeHeaders(headers map[string]*string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if v == nil {
			continue
		}
		out[k] = *v
	}
	return out
}

// Do выполняет запрос. Не-2xx ответы возвращаются как *domain.APIError.
func (c *RateLimitedHTTPClient) Do(ctx context.Context, req *Request) (*Response, error) {
	retries := c.maxRetries
	if req.NoRetry {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt, 0)
			c.logger.Warn("%s %s: retry %d/%d in %v: %v", req.Method, req.Path, attempt, retries, wait, lastErr)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		resp, err := c.once(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, lastErr
		}
		if !retryable(err) {
			return nil, err
		}
	}

	return nil, lastErr
}

func (c *RateLimitedHTTPClient) once(ctx context.Context, req *Request) (*Response, error) {
	// 1. Минимальный интервал между запросами
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	// 2. Сборка запроса
	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range SanitizeHeaders(req.Headers) {
		httpReq.Header.Set(k, v)
	}

	// 3. Отправка
	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, transportError(err)
	}

	c.logger.Debug("%s %s -> %d", req.Method, req.Path, httpResp.StatusCode)

	// 4. Разбор статуса
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, parseAPIError(httpResp.StatusCode, respBody)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}

// retryable: 5xx, таймауты и ошибки соединения. 4xx здесь не повторяются.
func retryable(err error) bool {
	return errors.Is(err, domain.ErrBroker) ||
		errors.Is(err, domain.ErrConnection) ||
		errors.Is(err, domain.ErrTimeout)
}

func transportError(err error) error {
	kind := domain.ErrConnection
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = domain.ErrTimeout
	}
	return &domain.APIError{Kind: kind, Message: err.Error()}
}

func parseAPIError(status int, body []byte) error {
	var payload struct {
		ErrorCode string `json:"errorCode"`
	}
	_ = json.Unmarshal(body, &payload)

	message := strings.TrimSpace(string(body))
	if message == "" {
		message = http.StatusText(status)
	}

	return &domain.APIError{
		Kind:       domain.KindForStatus(status),
		StatusCode: status,
		ErrorCode:  payload.ErrorCode,
		Message:    message,
	}
}

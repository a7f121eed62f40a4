package exchange

import (
	"context"
	"errors"

	"github.com/kirillm/jamso-engine/internal/domain"
	"github.com/kirillm/jamso-engine/pkg/utils"
)

// Authenticator источник аутентификации для запросов клиента
type Authenticator interface {
	EnsureAuthenticated(ctx context.Context) error
	AuthHeaders() map[string]*string
	Invalidate()
}

// Client клиент Capital.com: позиции, ордера, рынки, счета
type Client struct {
	http    Doer
	session Authenticator
	logger  *utils.Logger
}

func NewClient(doer Doer, session Authenticator, logger *utils.Logger) *Client {
	return &Client{
		http:    doer,
		session: session,
		logger:  logger.With("capital"),
	}
}

// doAuthenticated выполняет запрос с токенами сессии. При 401/403 сессия
// пересоздается и запрос повторяется один раз.
func (c *Client) doAuthenticated(ctx context.Context, req *Request) (*Response, error) {
	if err := c.session.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(ctx, c.withAuth(req))
	if err == nil || !errors.Is(err, domain.ErrAuthentication) {
		return resp, err
	}

	c.logger.Warn("%s %s: session expired, re-authenticating", req.Method, req.Path)
	metricReauth.Inc()
	c.session.Invalidate()

	if err := c.session.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}
	return c.http.Do(ctx, c.withAuth(req))
}

func (c *Client) withAuth(req *Request) *Request {
	out := *req
	out.Headers = c.session.AuthHeaders()
	for k, v := range req.Headers {
		out.Headers[k] = v
	}
	return &out
}

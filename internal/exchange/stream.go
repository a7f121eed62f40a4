package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kirillm/jamso-engine/pkg/utils"
)

// TokenSource текущие токены сессии
type TokenSource interface {
	Tokens() (cst, securityToken string)
}

// Quote последняя котировка инструмента
type Quote struct {
	Epic      string
	Bid       float64
	Offer     float64
	UpdatedAt time.Time
}

type streamMessage struct {
	Destination   string      `json:"destination"`
	CorrelationID string      `json:"correlationId"`
	CST           string      `json:"cst"`
	SecurityToken string      `json:"securityToken"`
	Payload       interface{} `json:"payload,omitempty"`
}

type streamQuote struct {
	Status      string `json:"status"`
	Destination string `json:"destination"`
	Payload     struct {
		Epic      string  `json:"epic"`
		Bid       float64 `json:"bid"`
		Ofr       float64 `json:"ofr"`
		Timestamp int64   `json:"timestamp"`
	} `json:"payload"`
}

// QuoteStream websocket поток котировок Capital.com
type QuoteStream struct {
	url            string
	tokens         TokenSource
	dialer         *websocket.Dialer
	logger         *utils.Logger
	pingInterval   time.Duration
	reconnectDelay time.Duration

	mu     sync.RWMutex
	conn   *websocket.Conn
	epics  map[string]struct{}
	quotes map[string]Quote

	writeMu sync.Mutex
}

func NewQuoteStream(url string, tokens TokenSource, logger *utils.Logger) *QuoteStream {
	return &QuoteStream{
		url:            url,
		tokens:         tokens,
		dialer:         websocket.DefaultDialer,
		logger:         logger.With("stream"),
		pingInterval:   9 * time.Minute,
		reconnectDelay: 5 * time.Second,
		epics:          make(map[string]struct{}),
		quotes:         make(map[string]Quote),
	}
}

// Subscribe добавляет инструменты в подписку
func (s *QuoteStream) Subscribe(epics ...string) error {
	s.mu.Lock()
	for _, e := range epics {
		s.epics[e] = struct{}{}
	}
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return s.sendSubscribe(conn)
}

// Quote возвращает последнюю котировку
func (s *QuoteStream) Quote(epic string) (Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[epic]
	return q, ok
}

// Run держит соединение до отмены контекста, переподключаясь после ошибок
func (s *QuoteStream) Run(ctx context.Context) error {
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("quote stream disconnected: %v, reconnecting in %v", err, s.reconnectDelay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *QuoteStream) session(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	if err := s.sendSubscribe(conn); err != nil {
		return err
	}
	s.logger.Info("quote stream connected")

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(conn, done)

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handle(data)
	}
}

func (s *QuoteStream) handle(data []byte) {
	var msg streamQuote
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Debug("unparsable stream message: %v", err)
		return
	}
	if msg.Destination != "quote" || msg.Payload.Epic == "" {
		return
	}

	updated := time.Now().UTC()
	if msg.Payload.Timestamp > 0 {
		updated = time.UnixMilli(msg.Payload.Timestamp).UTC()
	}

	s.mu.Lock()
	s.quotes[msg.Payload.Epic] = Quote{
		Epic:      msg.Payload.Epic,
		Bid:       msg.Payload.Bid,
		Offer:     msg.Payload.Ofr,
		UpdatedAt: updated,
	}
	s.mu.Unlock()
}

func (s *QuoteStream) sendSubscribe(conn *websocket.Conn) error {
	s.mu.RLock()
	epics := make([]string, 0, len(s.epics))
	for e := range s.epics {
		epics = append(epics, e)
	}
	s.mu.RUnlock()

	if len(epics) == 0 {
		return nil
	}
	sort.Strings(epics)

	return s.write(conn, "marketData.subscribe", map[string]interface{}{"epics": epics})
}

func (s *QuoteStream) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.write(conn, "ping", nil); err != nil {
				s.logger.Warn("stream ping failed: %v", err)
				return
			}
		}
	}
}

func (s *QuoteStream) write(conn *websocket.Conn, destination string, payload interface{}) error {
	cst, securityToken := s.tokens.Tokens()
	msg := streamMessage{
		Destination:   destination,
		CorrelationID: uuid.NewString(),
		CST:           cst,
		SecurityToken: securityToken,
		Payload:       payload,
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", destination, err)
	}
	return nil
}

package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kirillm/jamso-engine/internal/domain"
	"github.com/kirillm/jamso-engine/internal/exchange"
	"github.com/kirillm/jamso-engine/internal/execution"
	"github.com/kirillm/jamso-engine/internal/notify"
	"github.com/kirillm/jamso-engine/internal/policy"
	"github.com/kirillm/jamso-engine/pkg/utils"
)

const (
	adminID   int64 = 100
	userID    int64 = 200
	notifChat int64 = -500
)

type fakePositions struct {
	positions []domain.Position
	closed    []string
	err       error
}

func (f *fakePositions) GetPositions(_ context.Context) ([]domain.Position, error) {
	return f.positions, f.err
}

func (f *fakePositions) GetPosition(_ context.Context, dealID string) (*domain.Position, error) {
	for _, p := range f.positions {
		if p.DealID == dealID {
			p := p
			return &p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakePositions) ClosePosition(_ context.Context, dealID string) (*domain.OrderResult, error) {
	f.closed = append(f.closed, dealID)
	return &domain.OrderResult{DealReference: "ref-" + dealID}, nil
}

type fakeOrders struct {
	orders    []exchange.WorkingOrder
	cancelled []string
}

func (f *fakeOrders) GetWorkingOrders(_ context.Context) ([]exchange.WorkingOrder, error) {
	return f.orders, nil
}

func (f *fakeOrders) CancelWorkingOrder(_ context.Context, dealID string) error {
	for _, o := range f.orders {
		if o.DealID == dealID {
			f.cancelled = append(f.cancelled, dealID)
			return nil
		}
	}
	return domain.ErrNotFound
}

type fakeProfiles struct {
	active string
}

func (f *fakeProfiles) Profile() policy.Profile {
	return policy.Profile{ProfileName: f.active}
}

func (f *fakeProfiles) Profiles() []string {
	return []string{policy.ProfileAggressive, policy.ProfileConservative, policy.ProfileModerate}
}

func (f *fakeProfiles) SetProfile(name string) error {
	for _, p := range f.Profiles() {
		if p == name {
			f.active = name
			return nil
		}
	}
	return errors.New("unknown risk profile: " + name)
}

type fakeConfig struct {
	values map[string]string
}

func (f *fakeConfig) SetConfigParam(_ context.Context, key, value string) error {
	if f.values == nil {
		f.values = make(map[string]string)
	}
	f.values[key] = value
	return nil
}

type fakeTrades struct {
	closed map[string]float64
}

func (f *fakeTrades) CloseTrade(_ context.Context, dealID string, profitLoss float64, _ time.Time) error {
	if f.closed == nil {
		f.closed = make(map[string]float64)
	}
	f.closed[dealID] = profitLoss
	return nil
}

type testEnv struct {
	router    *Router
	ks        *execution.KillSwitch
	positions *fakePositions
	orders    *fakeOrders
	profiles  *fakeProfiles
	config    *fakeConfig
	trades    *fakeTrades
}

func newTestEnv() *testEnv {
	env := &testEnv{
		ks: execution.NewKillSwitch(utils.Nop()),
		positions: &fakePositions{positions: []domain.Position{
			{DealID: "D1", Epic: "EURUSD", Direction: domain.DirectionBuy, Size: 1000, Level: 1.1, UPL: 12.5},
		}},
		orders: &fakeOrders{orders: []exchange.WorkingOrder{
			{DealID: "W1", Epic: "GOLD", Direction: domain.DirectionSell, Size: 2, Level: 2400.5, Type: "LIMIT"},
		}},
		profiles: &fakeProfiles{active: policy.ProfileModerate},
		config:   &fakeConfig{},
		trades:   &fakeTrades{},
	}

	formatter := notify.NewFormatter(notify.LangEN)
	handlers := NewHandlers(HandlerDeps{
		KillSwitch: env.ks,
		Positions:  env.positions,
		Orders:     env.orders,
		Profiles:   env.profiles,
		Trades:     env.trades,
		Config:     env.config,
		Logger:     utils.Nop(),
	}, formatter)

	env.router = NewRouter(NewAuthManager("100", notifChat), formatter)
	handlers.Register(env.router)
	return env
}

func TestRouter_HandleCommand(t *testing.T) {
	tests := []struct {
		name     string
		userID   int64
		chatID   int64
		text     string
		contains string
	}{
		{"help for chat member", userID, notifChat, "/help", "/kill"},
		{"status for admin", adminID, adminID, "/status", "inactive"},
		{"stranger denied", 999, 999, "/status", "Access denied"},
		{"admin command by member", userID, notifChat, "/kill", "Admin permission required"},
		{"unknown command", adminID, adminID, "/foo", "Unknown command"},
		{"parse error", adminID, adminID, "/close", "usage"},
		{"positions", userID, notifChat, "/positions", "EURUSD"},
		{"working orders", userID, notifChat, "/orders", "GOLD"},
		{"cancel by member", userID, notifChat, "/cancel W1", "Admin permission required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			got, _ := env.router.HandleCommand(context.Background(), tt.userID, tt.chatID, tt.text)
			if !strings.Contains(got, tt.contains) {
				t.Errorf("HandleCommand(%q) = %q, want to contain %q", tt.text, got, tt.contains)
			}
		})
	}
}

func TestHandlers_KillAndResume(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	got, err := env.router.HandleCommand(ctx, adminID, adminID, "/kill news spike")
	if err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}
	if !env.ks.IsActive() {
		t.Fatal("kill switch should be active")
	}
	if env.ks.Status().Reason != "news spike" {
		t.Errorf("reason = %q", env.ks.Status().Reason)
	}
	if !strings.Contains(got, "Kill switch activated") {
		t.Errorf("response = %q", got)
	}

	if _, err := env.router.HandleCommand(ctx, adminID, adminID, "/resume"); err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}
	if env.ks.IsActive() {
		t.Error("kill switch should be inactive after /resume")
	}
}

func TestHandlers_Profile(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	got, err := env.router.HandleCommand(ctx, adminID, adminID, "/profile conservative")
	if err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}
	if env.profiles.active != policy.ProfileConservative {
		t.Errorf("active profile = %q", env.profiles.active)
	}
	if env.config.values[domain.ConfigKeyRiskProfile] != policy.ProfileConservative {
		t.Errorf("profile not persisted: %v", env.config.values)
	}
	if !strings.Contains(got, "conservative") {
		t.Errorf("response = %q", got)
	}

	got, err = env.router.HandleCommand(ctx, adminID, adminID, "/profile reckless")
	if err == nil {
		t.Error("expected error for unknown profile")
	}
	if !strings.Contains(got, "Error") {
		t.Errorf("response = %q", got)
	}
	if env.config.values[domain.ConfigKeyRiskProfile] != policy.ProfileConservative {
		t.Error("unknown profile must not be persisted")
	}
}

func TestHandlers_Close(t *testing.T) {
	env := newTestEnv()

	got, err := env.router.HandleCommand(context.Background(), adminID, adminID, "/close D1")
	if err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}
	if len(env.positions.closed) != 1 || env.positions.closed[0] != "D1" {
		t.Errorf("closed = %v", env.positions.closed)
	}
	if env.trades.closed["D1"] != 12.5 {
		t.Errorf("journal P&L = %v, want 12.5", env.trades.closed["D1"])
	}
	if !strings.Contains(got, "12.50") {
		t.Errorf("response = %q", got)
	}

	if _, err := env.router.HandleCommand(context.Background(), adminID, adminID, "/close MISSING"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestHandlers_Cancel(t *testing.T) {
	env := newTestEnv()

	got, err := env.router.HandleCommand(context.Background(), adminID, adminID, "/cancel W1")
	if err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}
	if len(env.orders.cancelled) != 1 || env.orders.cancelled[0] != "W1" {
		t.Errorf("cancelled = %v", env.orders.cancelled)
	}
	if !strings.Contains(got, "Order cancelled") {
		t.Errorf("response = %q", got)
	}

	if _, err := env.router.HandleCommand(context.Background(), adminID, adminID, "/cancel W9"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

type fakeAPI struct {
	mu      sync.Mutex
	updates chan tgbotapi.Update
	sent    []tgbotapi.MessageConfig
	stopped bool
}

func (f *fakeAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) sentMessages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

func commandUpdate(from, chat int64, text string) tgbotapi.Update {
	cmdLen := len(text)
	if i := strings.Index(text, " "); i > 0 {
		cmdLen = i
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: from},
		Chat: &tgbotapi.Chat{ID: chat},
		Text: text,
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: cmdLen},
		},
	}}
}

func TestBot_Run(t *testing.T) {
	api := &fakeAPI{updates: make(chan tgbotapi.Update, 2)}
	formatter := notify.NewFormatter(notify.LangEN)
	ks := execution.NewKillSwitch(utils.Nop())
	bot := NewBot(api, NewAuthManager("100", 0), NewHandlers(HandlerDeps{KillSwitch: ks}, formatter), formatter, utils.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bot.Run(ctx)
		close(done)
	}()

	// Обычный текст без команды игнорируется
	api.updates <- tgbotapi.Update{Message: &tgbotapi.Message{From: &tgbotapi.User{ID: adminID}, Chat: &tgbotapi.Chat{ID: adminID}, Text: "hello"}}
	api.updates <- commandUpdate(adminID, adminID, "/kill test")

	deadline := time.Now().Add(2 * time.Second)
	for len(api.sentMessages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	sent := api.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if sent[0].ChatID != adminID || sent[0].ParseMode != tgbotapi.ModeMarkdown {
		t.Errorf("message = %+v", sent[0])
	}
	if !ks.IsActive() {
		t.Error("kill switch should be active")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
	if !api.stopped {
		t.Error("StopReceivingUpdates not called")
	}
}

package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kirillm/jamso-engine/internal/domain"
	"github.com/kirillm/jamso-engine/pkg/utils"
)

type fakeTrainer struct {
	mu      sync.Mutex
	regimes map[string]int
	calls   []string
}

func (f *fakeTrainer) Train(_ context.Context, symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, symbol)
	if id, ok := f.regimes[symbol]; ok {
		return id
	}
	return domain.RegimeUnknown
}

func (f *fakeTrainer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSession struct {
	valid      bool
	err        error
	refreshed  int
	validCalls int
}

func (f *fakeSession) IsTokenValid(_ context.Context) bool {
	f.validCalls++
	return f.valid
}

func (f *fakeSession) EnsureAuthenticated(_ context.Context) error {
	f.refreshed++
	return f.err
}

type fakeAccounts struct {
	accounts []domain.Account
	err      error
}

func (f *fakeAccounts) GetAccounts(_ context.Context) ([]domain.Account, error) {
	return f.accounts, f.err
}

type fakeBalances struct {
	saved map[string]float64
	fail  string
}

func (f *fakeBalances) UpdateBalance(_ context.Context, accountID, _ string, balance float64) error {
	if accountID == f.fail {
		return errors.New("db down")
	}
	if f.saved == nil {
		f.saved = make(map[string]float64)
	}
	f.saved[accountID] = balance
	return nil
}

func TestRetrainRegimes(t *testing.T) {
	trainer := &fakeTrainer{regimes: map[string]int{"EURUSD": 2}}
	o := New(Config{Symbols: []string{"EURUSD", "GOLD"}}, Deps{Regimes: trainer, Logger: utils.Nop()})

	got := o.RetrainRegimes(context.Background())
	if got["EURUSD"] != 2 {
		t.Errorf("EURUSD regime = %d, want 2", got["EURUSD"])
	}
	if got["GOLD"] != domain.RegimeUnknown {
		t.Errorf("GOLD regime = %d, want -1", got["GOLD"])
	}
	if _, ok := o.LastRun()["retrain"]; !ok {
		t.Error("retrain run not recorded")
	}
}

func TestRetrainRegimes_NoTrainer(t *testing.T) {
	o := New(Config{Symbols: []string{"EURUSD"}}, Deps{})
	if got := o.RetrainRegimes(context.Background()); got != nil {
		t.Errorf("RetrainRegimes() = %v, want nil", got)
	}
}

func TestKeepSessionAlive(t *testing.T) {
	tests := []struct {
		name          string
		session       *fakeSession
		wantRefreshed int
		wantErr       bool
	}{
		{"valid session", &fakeSession{valid: true}, 0, false},
		{"stale session", &fakeSession{valid: false}, 1, false},
		{"refresh fails", &fakeSession{valid: false, err: domain.ErrNotAuthenticated}, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := New(Config{}, Deps{Session: tt.session, Logger: utils.Nop()})
			err := o.KeepSessionAlive(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("KeepSessionAlive() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, domain.ErrNotAuthenticated) {
				t.Errorf("error = %v, want ErrNotAuthenticated", err)
			}
			if tt.session.refreshed != tt.wantRefreshed {
				t.Errorf("refreshed = %d, want %d", tt.session.refreshed, tt.wantRefreshed)
			}
		})
	}
}

func TestSyncBalances(t *testing.T) {
	accounts := &fakeAccounts{accounts: []domain.Account{
		{AccountID: "acc-1", Currency: "USD", Balance: 10000},
		{AccountID: "acc-2", Currency: "EUR", Balance: 0},
		{AccountID: "acc-3", Currency: "USD", Balance: 500},
		{AccountID: "acc-4", Currency: "USD", Balance: 700},
	}}
	store := &fakeBalances{fail: "acc-3"}
	o := New(Config{}, Deps{Accounts: accounts, Balances: store, Logger: utils.Nop()})

	if got := o.SyncBalances(context.Background()); got != 2 {
		t.Errorf("SyncBalances() = %d, want 2", got)
	}
	if store.saved["acc-1"] != 10000 || store.saved["acc-4"] != 700 {
		t.Errorf("saved = %v", store.saved)
	}
	if _, ok := store.saved["acc-2"]; ok {
		t.Error("zero balance must not be saved")
	}

	accounts.err = errors.New("broker down")
	if got := o.SyncBalances(context.Background()); got != 0 {
		t.Errorf("SyncBalances() with broker error = %d, want 0", got)
	}
}

func TestStartStop(t *testing.T) {
	trainer := &fakeTrainer{regimes: map[string]int{"EURUSD": 1}}
	o := New(Config{Symbols: []string{"EURUSD"}, RetrainInterval: time.Hour}, Deps{Regimes: trainer, Logger: utils.Nop()})

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := o.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for trainer.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if trainer.count() == 0 {
		t.Error("initial retrain did not run")
	}

	o.Stop()
	if o.IsRunning() {
		t.Error("orchestrator still running after Stop()")
	}
	o.Stop()
}

func TestStart_ContextCancel(t *testing.T) {
	o := New(Config{}, Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	if err := o.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case <-o.done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit on context cancel")
	}
	o.Stop()
}

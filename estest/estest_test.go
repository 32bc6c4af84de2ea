package estest

import (
	"errors"
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chronicle "github.com/corvid-labs/chronicle"
)

// mockT captures failures so the fixture's assertion paths can themselves be
// tested. Fatal uses runtime.Goexit the way the real testing package does, so
// callers must run fixtures under runWithMockT.
type mockT struct {
	testing.TB
	failed  bool
	fatal   bool
	message string
}

func (m *mockT) Helper() {}

func (m *mockT) Errorf(format string, args ...any) {
	m.failed = true
	m.message = fmt.Sprintf(format, args...)
}

func (m *mockT) Fatalf(format string, args ...any) {
	m.failed = true
	m.fatal = true
	m.message = fmt.Sprintf(format, args...)
	runtime.Goexit()
}

func (m *mockT) Fatal(args ...any) {
	m.failed = true
	m.fatal = true
	m.message = fmt.Sprint(args...)
	runtime.Goexit()
}

func runWithMockT(fn func(*mockT)) *mockT {
	mt := &mockT{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(mt)
	}()
	<-done
	return mt
}

// Wallet is a small event-sourced aggregate for exercising the fixture.
type Wallet struct {
	chronicle.AggregateBase

	Owner   string
	Balance int64
}

type WalletOpened struct {
	WalletID string `json:"walletId"`
	Owner    string `json:"owner"`
}

type FundsAdded struct {
	WalletID string `json:"walletId"`
	Amount   int64  `json:"amount"`
}

type FundsRemoved struct {
	WalletID string `json:"walletId"`
	Amount   int64  `json:"amount"`
}

var errInsufficientFunds = errors.New("insufficient funds")

func NewWallet(id string) *Wallet {
	return &Wallet{AggregateBase: chronicle.NewAggregateBase(id, "Wallet")}
}

func (w *Wallet) Open(owner string) error {
	if w.Initialized() {
		return chronicle.NewBusinessRuleError(w.AggregateID(), "wallet already open")
	}
	return chronicle.Raise(w, WalletOpened{WalletID: w.AggregateID(), Owner: owner})
}

func (w *Wallet) Add(amount int64) error {
	if err := w.EnsureInitialized(); err != nil {
		return err
	}
	if amount <= 0 {
		return chronicle.NewBusinessRuleError(w.AggregateID(), "amount must be positive")
	}
	return chronicle.Raise(w, FundsAdded{WalletID: w.AggregateID(), Amount: amount})
}

func (w *Wallet) Remove(amount int64) error {
	if err := w.EnsureInitialized(); err != nil {
		return err
	}
	if amount > w.Balance {
		return fmt.Errorf("%w: balance %d, requested %d", errInsufficientFunds, w.Balance, amount)
	}
	return chronicle.Raise(w, FundsRemoved{WalletID: w.AggregateID(), Amount: amount})
}

// Reconcile is a command that can legitimately do nothing.
func (w *Wallet) Reconcile(expected int64) error {
	if err := w.EnsureInitialized(); err != nil {
		return err
	}
	if w.Balance == expected {
		return nil
	}
	return chronicle.Raise(w, FundsAdded{WalletID: w.AggregateID(), Amount: expected - w.Balance})
}

func (w *Wallet) ApplyEvent(event any) error {
	switch e := event.(type) {
	case WalletOpened:
		w.Owner = e.Owner
	case FundsAdded:
		w.Balance += e.Amount
	case FundsRemoved:
		w.Balance -= e.Amount
	default:
		return fmt.Errorf("unknown event type %T", event)
	}
	return nil
}

func TestGivenWhenThen(t *testing.T) {
	t.Run("command on a fresh aggregate", func(t *testing.T) {
		wallet := NewWallet("w-1")

		Given(t, wallet).
			When(func() error { return wallet.Open("alice") }).
			Then(WalletOpened{WalletID: "w-1", Owner: "alice"})
	})

	t.Run("given events establish state through replay", func(t *testing.T) {
		wallet := NewWallet("w-1")

		Given(t, wallet,
			WalletOpened{WalletID: "w-1", Owner: "alice"},
			FundsAdded{WalletID: "w-1", Amount: 100},
		).
			When(func() error { return wallet.Remove(30) }).
			Then(FundsRemoved{WalletID: "w-1", Amount: 30})

		assert.Equal(t, int64(70), wallet.Balance)
	})

	t.Run("multiple raised events are asserted in order", func(t *testing.T) {
		wallet := NewWallet("w-1")

		Given(t, wallet, WalletOpened{WalletID: "w-1", Owner: "alice"}).
			When(func() error {
				if err := wallet.Add(50); err != nil {
					return err
				}
				return wallet.Add(25)
			}).
			Then(
				FundsAdded{WalletID: "w-1", Amount: 50},
				FundsAdded{WalletID: "w-1", Amount: 25},
			)
	})

	t.Run("ThenVersion counts history plus raised events", func(t *testing.T) {
		wallet := NewWallet("w-1")

		Given(t, wallet,
			WalletOpened{WalletID: "w-1", Owner: "alice"},
			FundsAdded{WalletID: "w-1", Amount: 100},
		).
			When(func() error { return wallet.Add(10) }).
			ThenVersion(3).
			Then(FundsAdded{WalletID: "w-1", Amount: 10})
	})
}

func TestThenError(t *testing.T) {
	t.Run("rejected command matches the sentinel and raises nothing", func(t *testing.T) {
		wallet := NewWallet("w-1")

		Given(t, wallet,
			WalletOpened{WalletID: "w-1", Owner: "alice"},
			FundsAdded{WalletID: "w-1", Amount: 10},
		).
			When(func() error { return wallet.Remove(100) }).
			ThenError(errInsufficientFunds)
	})

	t.Run("uninitialized aggregate rejects commands", func(t *testing.T) {
		wallet := NewWallet("w-1")

		Given(t, wallet).
			When(func() error { return wallet.Add(10) }).
			ThenError(chronicle.ErrUninitializedState)
	})

	t.Run("ThenErrorContains matches on the message", func(t *testing.T) {
		wallet := NewWallet("w-1")

		Given(t, wallet,
			WalletOpened{WalletID: "w-1", Owner: "alice"},
			FundsAdded{WalletID: "w-1", Amount: 10},
		).
			When(func() error { return wallet.Remove(100) }).
			ThenErrorContains("balance 10")
	})
}

func TestThenNoEvents(t *testing.T) {
	wallet := NewWallet("w-1")

	Given(t, wallet,
		WalletOpened{WalletID: "w-1", Owner: "alice"},
		FundsAdded{WalletID: "w-1", Amount: 100},
	).
		When(func() error { return wallet.Reconcile(100) }).
		ThenNoEvents()
}

func TestFixtureFailureModes(t *testing.T) {
	t.Run("Then before When is fatal", func(t *testing.T) {
		mt := runWithMockT(func(mt *mockT) {
			wallet := NewWallet("w-1")
			Given(mt, wallet).Then(WalletOpened{})
		})

		require.True(t, mt.fatal)
		assert.Contains(t, mt.message, "must be called after When()")
	})

	t.Run("Then on a failed command is fatal", func(t *testing.T) {
		mt := runWithMockT(func(mt *mockT) {
			wallet := NewWallet("w-1")
			Given(mt, wallet).
				When(func() error { return wallet.Add(10) }).
				Then(FundsAdded{WalletID: "w-1", Amount: 10})
		})

		require.True(t, mt.fatal)
		assert.Contains(t, mt.message, "expected success")
	})

	t.Run("event count mismatch is fatal", func(t *testing.T) {
		mt := runWithMockT(func(mt *mockT) {
			wallet := NewWallet("w-1")
			Given(mt, wallet).
				When(func() error { return wallet.Open("alice") }).
				Then()
		})

		require.True(t, mt.fatal)
		assert.Contains(t, mt.message, "expected 0 events")
	})

	t.Run("event payload mismatch is a non-fatal failure", func(t *testing.T) {
		mt := runWithMockT(func(mt *mockT) {
			wallet := NewWallet("w-1")
			Given(mt, wallet).
				When(func() error { return wallet.Open("alice") }).
				Then(WalletOpened{WalletID: "w-1", Owner: "bob"})
		})

		assert.True(t, mt.failed)
		assert.False(t, mt.fatal)
		assert.Contains(t, mt.message, "mismatch")
	})

	t.Run("ThenError on success is fatal", func(t *testing.T) {
		mt := runWithMockT(func(mt *mockT) {
			wallet := NewWallet("w-1")
			Given(mt, wallet).
				When(func() error { return wallet.Open("alice") }).
				ThenError(errInsufficientFunds)
		})

		require.True(t, mt.fatal)
		assert.Contains(t, mt.message, "expected error")
	})

	t.Run("ThenError with the wrong sentinel fails", func(t *testing.T) {
		mt := runWithMockT(func(mt *mockT) {
			wallet := NewWallet("w-1")
			Given(mt, wallet).
				When(func() error { return wallet.Add(10) }).
				ThenError(errInsufficientFunds)
		})

		assert.True(t, mt.failed)
		assert.False(t, mt.fatal)
	})

	t.Run("ThenNoEvents with raised events fails", func(t *testing.T) {
		mt := runWithMockT(func(mt *mockT) {
			wallet := NewWallet("w-1")
			Given(mt, wallet).
				When(func() error { return wallet.Open("alice") }).
				ThenNoEvents()
		})

		assert.True(t, mt.failed)
		assert.Contains(t, mt.message, "expected no events")
	})

	t.Run("ThenVersion mismatch fails", func(t *testing.T) {
		mt := runWithMockT(func(mt *mockT) {
			wallet := NewWallet("w-1")
			Given(mt, wallet).
				When(func() error { return wallet.Open("alice") }).
				ThenVersion(7)
		})

		assert.True(t, mt.failed)
		assert.Contains(t, mt.message, "expected version 7")
	})
}

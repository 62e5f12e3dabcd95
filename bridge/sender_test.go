package bridge

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"crossvault/bridge/codec"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached")
}

func TestBridgeSenderEnforcesQuote(t *testing.T) {
	loop := NewLoopback(func([]byte) error { return nil })
	sender, err := NewBridgeSender(loop, nil, nil)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	defer sender.Close()

	msg := codec.UpdateOracle{TotalValue: uint256.NewInt(1), TotalShares: uint256.NewInt(1)}
	required, _, _ := codec.QuoteFor(msg)

	short := new(big.Int).Sub(required, big.NewInt(1))
	if err := sender.Send(context.Background(), msg, short); !errors.Is(err, ErrInsufficientFee) {
		t.Fatalf("expected fee rejection, got %v", err)
	}
	if err := sender.Send(context.Background(), msg, nil); !errors.Is(err, ErrInsufficientFee) {
		t.Fatalf("expected nil fee rejection, got %v", err)
	}
	if err := sender.Send(context.Background(), msg, required); err != nil {
		t.Fatalf("funded send: %v", err)
	}
	waitFor(t, func() bool { return loop.Delivered() == 1 })
}

func TestBridgeSenderRetriesThenDrops(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	loop := NewLoopback(nil)
	loop.handler = func([]byte) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return errors.New("endpoint down")
	}
	sender, err := NewBridgeSender(loop, nil, nil)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	msg := codec.ConfirmSwap{RequestID: [32]byte{0x01}, Amount: uint256.NewInt(1)}
	fee, _, _ := codec.QuoteFor(msg)
	if err := sender.Send(context.Background(), msg, fee); err != nil {
		t.Fatalf("send: %v", err)
	}
	sender.Close()
	mu.Lock()
	defer mu.Unlock()
	if attempts != defaultRetryBudget {
		t.Fatalf("attempts: got %d want %d", attempts, defaultRetryBudget)
	}
}

func TestBridgeSenderClosedRejectsSends(t *testing.T) {
	loop := NewLoopback(func([]byte) error { return nil })
	sender, err := NewBridgeSender(loop, nil, nil)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	sender.Close()
	msg := codec.UpdateOracle{TotalValue: uint256.NewInt(1), TotalShares: uint256.NewInt(1)}
	fee, _, _ := codec.QuoteFor(msg)
	if err := sender.Send(context.Background(), msg, fee); !errors.Is(err, ErrSenderClosed) {
		t.Fatalf("expected closed rejection, got %v", err)
	}
}

func TestLoopbackDuplicateDelivery(t *testing.T) {
	var mu sync.Mutex
	seen := 0
	loop := NewLoopback(func([]byte) error {
		mu.Lock()
		defer mu.Unlock()
		seen++
		return nil
	})
	loop.Duplicate = true
	if err := loop.Deliver([]byte{0x01}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if seen != 2 {
		t.Fatalf("handler calls: got %d want 2", seen)
	}
}

type mockRelay struct {
	mu       sync.Mutex
	receipts []string
	payloads [][]byte
	fail     error
}

func (r *mockRelay) Submit(_ context.Context, receiptID string, raw []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.receipts = append(r.receipts, receiptID)
	r.payloads = append(r.payloads, raw)
	return nil
}

func TestRelaySenderIssuesReceipts(t *testing.T) {
	relay := &mockRelay{}
	sender, err := NewRelaySender(relay, nil, nil)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	msg := codec.RequestDeposit{RequestID: [32]byte{0x01}, Value: uint256.NewInt(100)}
	if err := sender.Send(context.Background(), msg, big.NewInt(0)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := sender.Send(context.Background(), msg, big.NewInt(0)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(relay.receipts) != 2 || relay.receipts[0] == relay.receipts[1] {
		t.Fatalf("receipts not unique: %v", relay.receipts)
	}
	decoded, err := codec.Decode(relay.payloads[0])
	if err != nil {
		t.Fatalf("decode relayed payload: %v", err)
	}
	if decoded.Type() != codec.TypeRequestDeposit {
		t.Fatalf("relayed type: %v", decoded.Type())
	}

	relay.fail = errors.New("relay offline")
	if err := sender.Send(context.Background(), msg, big.NewInt(0)); err == nil {
		t.Fatalf("expected relay failure")
	}
}

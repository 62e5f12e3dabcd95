package main

import (
	"errors"
	"math/big"
	"sync"
)

var (
	errUnknownToken      = errors.New("vaultd: token not provisioned in dev backend")
	errInsufficientFunds = errors.New("vaultd: insufficient balance")
)

// devBackend is an in-process stand-in for the on-chain token contracts. It
// keeps plain balances for the provisioned tokens so a single daemon (or a
// bridged pair in dev) can run the full deposit/redeem cycle without a chain
// client. Production deployments replace it with an RPC-backed
// implementation.
type devBackend struct {
	mu       sync.Mutex
	self     [20]byte
	decimals map[[20]byte]uint8
	balances map[[20]byte]map[[20]byte]*big.Int
}

func newDevBackend(self [20]byte) *devBackend {
	return &devBackend{
		self:     self,
		decimals: make(map[[20]byte]uint8),
		balances: make(map[[20]byte]map[[20]byte]*big.Int),
	}
}

// provision registers a token and seeds the holder with an opening balance.
func (b *devBackend) provision(token [20]byte, decimals uint8, holder [20]byte, opening *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decimals[token] = decimals
	if b.balances[token] == nil {
		b.balances[token] = make(map[[20]byte]*big.Int)
	}
	if opening != nil {
		b.balances[token][holder] = new(big.Int).Set(opening)
	}
}

func (b *devBackend) balanceLocked(token, holder [20]byte) *big.Int {
	if bal := b.balances[token][holder]; bal != nil {
		return bal
	}
	return big.NewInt(0)
}

func (b *devBackend) BalanceOf(token, holder [20]byte) (*big.Int, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, known := b.decimals[token]; !known {
		return nil, false, nil
	}
	return new(big.Int).Set(b.balanceLocked(token, holder)), true, nil
}

func (b *devBackend) Decimals(token [20]byte) (uint8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	dec, known := b.decimals[token]
	if !known {
		return 0, errUnknownToken
	}
	return dec, nil
}

// ConvertToAssets reports no vault conversion, so every provisioned token
// registers as a plain token.
func (b *devBackend) ConvertToAssets(_ [20]byte, _ *big.Int) (*big.Int, bool, error) {
	return nil, false, nil
}

func (b *devBackend) ConvertToShares(_ [20]byte, _ *big.Int) (*big.Int, error) {
	return nil, errUnknownToken
}

func (b *devBackend) Transfer(token, to [20]byte, amount *big.Int) error {
	return b.move(token, b.self, to, amount)
}

func (b *devBackend) TransferFrom(token, from, to [20]byte, amount *big.Int) error {
	return b.move(token, from, to, amount)
}

func (b *devBackend) move(token, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInsufficientFunds
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, known := b.decimals[token]; !known {
		return errUnknownToken
	}
	fromBal := b.balanceLocked(token, from)
	if fromBal.Cmp(amount) < 0 {
		return errInsufficientFunds
	}
	b.balances[token][from] = new(big.Int).Sub(fromBal, amount)
	b.balances[token][to] = new(big.Int).Add(b.balanceLocked(token, to), amount)
	return nil
}

func (b *devBackend) Call(_ [20]byte, _ *big.Int, _ []byte) error {
	return nil
}

// devPayout pays settled redemptions out of the daemon's payout float.
type devPayout struct {
	backend *devBackend
	token   [20]byte
}

func (p *devPayout) Transfer(to [20]byte, value *big.Int) error {
	return p.backend.move(p.token, p.backend.self, to, value)
}

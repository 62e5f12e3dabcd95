package pool

import (
	"bytes"
	"errors"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrNotKeeper         = errors.New("asset pool: caller is not the keeper")
	ErrTargetNotAllowed  = errors.New("asset pool: target not whitelisted")
	ErrSpenderNotAllowed = errors.New("asset pool: approval spender not whitelisted")
	ErrApproveWithValue  = errors.New("asset pool: token approval must not carry value")
	ErrMigrationPending  = errors.New("asset pool: prior pool has unresolved pending redemptions")
)

// approveSelector is the 4-byte selector of approve(address,uint256).
var approveSelector = ethcrypto.Keccak256([]byte("approve(address,uint256)"))[:4]

// dustThreshold is the largest pending-redemption remainder (in raw token
// units) a prior pool may carry into a migration. Anything above it would
// orphan funds owed to open requests.
var dustThreshold = big.NewInt(1_000)

// Execute routes an arbitrary call through the pool's custody identity. Only
// the keeper may call it and only whitelisted targets are reachable, with one
// exception: approve calls to a registered token are allowed whenever the
// approved spender is itself whitelisted and no native value accompanies the
// call. This authorizes external strategy contracts without granting blanket
// call privileges.
func (p *Pool) Execute(caller, target [20]byte, value *big.Int, data []byte) error {
	if p == nil || p.backend == nil {
		return errNilBackend
	}
	p.mu.Lock()
	if caller != p.keeper {
		p.mu.Unlock()
		return ErrNotKeeper
	}
	allowed := p.whitelist[target]
	if !allowed {
		spender, ok := approvalSpender(data)
		_, registered := p.index[target]
		switch {
		case !ok || !registered:
			p.mu.Unlock()
			return ErrTargetNotAllowed
		case value != nil && value.Sign() != 0:
			p.mu.Unlock()
			return ErrApproveWithValue
		case !p.whitelist[spender]:
			p.mu.Unlock()
			return ErrSpenderNotAllowed
		}
	}
	p.mu.Unlock()
	return p.backend.Call(target, value, data)
}

// approvalSpender extracts the spender address from approve(address,uint256)
// calldata. ok is false for any other call shape.
func approvalSpender(data []byte) (spender [20]byte, ok bool) {
	if len(data) != 4+32+32 {
		return spender, false
	}
	if !bytes.Equal(data[:4], approveSelector) {
		return spender, false
	}
	// The address occupies the low 20 bytes of the first word; the high 12
	// bytes must be zero padding.
	word := data[4 : 4+32]
	for _, b := range word[:12] {
		if b != 0 {
			return spender, false
		}
	}
	copy(spender[:], word[12:])
	return spender, true
}

// Migrate copies the token registry and live balances from a prior pool
// instance and re-authorizes its settlement agents. The migration is refused
// while the prior pool still owes more than a dust remainder to open
// redemption requests, because those funds would be orphaned by the move.
func (p *Pool) Migrate(prior *Pool) error {
	if p == nil || p.backend == nil {
		return errNilBackend
	}
	if prior == nil || prior.backend == nil {
		return errNilBackend
	}
	prior.mu.Lock()
	for _, entry := range prior.entries {
		if entry.PendingRedeem != nil && entry.PendingRedeem.Cmp(dustThreshold) > 0 {
			prior.mu.Unlock()
			return ErrMigrationPending
		}
	}
	entries := make([]*TokenEntry, len(prior.entries))
	for i, entry := range prior.entries {
		entries[i] = entry.Clone()
	}
	agents := make([][20]byte, 0, len(prior.agents))
	for agent := range prior.agents {
		agents = append(agents, agent)
	}
	priorSelf := prior.self
	prior.mu.Unlock()

	p.mu.Lock()
	for _, entry := range entries {
		if _, exists := p.index[entry.Token]; exists {
			continue
		}
		p.index[entry.Token] = len(p.entries)
		p.entries = append(p.entries, entry)
	}
	for _, agent := range agents {
		p.agents[agent] = true
	}
	self := p.self
	p.mu.Unlock()

	for _, entry := range entries {
		balance, _, err := prior.backend.BalanceOf(entry.Token, priorSelf)
		if err != nil {
			return err
		}
		if balance == nil || balance.Sign() == 0 {
			continue
		}
		if err := prior.backend.Transfer(entry.Token, self, balance); err != nil {
			return err
		}
	}
	return nil
}

package pool

import (
	"errors"
	"math/big"
	"sync"

	"crossvault/native/common"
	"crossvault/observability/metrics"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	errNilBackend       = errors.New("asset pool: token backend not configured")
	errNilSupplyLedger  = errors.New("asset pool: supply ledger not configured")
	ErrUnknownToken     = errors.New("asset pool: unknown token")
	ErrTokenBlocked     = errors.New("asset pool: token blocked")
	ErrDuplicateToken   = errors.New("asset pool: token already registered")
	ErrNoBalanceQuery   = errors.New("asset pool: token exposes no balance query")
	ErrTokenInUse       = errors.New("asset pool: token has live balance or pending redemptions")
	ErrEmptyRequestList = errors.New("asset pool: empty request list")
	ErrInvalidAmount    = errors.New("asset pool: amount must be positive")
)

const moduleName = "pool"

// supplyLedger is the slice of the share ledger the pool needs for redemption
// settlement. The concrete implementation lives in native/supply; the local
// interface keeps the packages decoupled.
type supplyLedger interface {
	PrepareRedeem(requestIDs [][32]byte) (agent [20]byte, token [20]byte, total *big.Int, err error)
	CommitRedeem(requestIDs [][32]byte) error
	AbortRedeem(requestIDs [][32]byte) error
}

// Pool tracks custody of the registered tokens and converts between raw token
// units and the canonical 18-decimal unit of account. Mutating methods hold
// the pool lock across bookkeeping and the paired token transfer so a
// concurrent read never observes a half-updated registry.
type Pool struct {
	mu        sync.Mutex
	self      [20]byte
	backend   TokenBackend
	entries   []*TokenEntry
	index     map[[20]byte]int
	agents    map[[20]byte]bool
	keeper    [20]byte
	whitelist map[[20]byte]bool
	supply    supplyLedger
	pauses    common.PauseView
	metrics   *metrics.VaultMetrics
}

// NewPool constructs an asset pool bound to its custody identity and token
// backend.
func NewPool(self [20]byte, backend TokenBackend) *Pool {
	return &Pool{
		self:      self,
		backend:   backend,
		index:     make(map[[20]byte]int),
		agents:    make(map[[20]byte]bool),
		whitelist: make(map[[20]byte]bool),
	}
}

// SetSupplyLedger wires the share ledger used for redemption settlement.
func (p *Pool) SetSupplyLedger(ledger supplyLedger) {
	if p == nil {
		return
	}
	p.supply = ledger
}

// SetPauses wires the administrative pause switches.
func (p *Pool) SetPauses(pauses common.PauseView) {
	if p == nil {
		return
	}
	p.pauses = pauses
}

// SetMetrics wires the prometheus collectors. A nil receiver keeps the pool
// silent, which tests rely on.
func (p *Pool) SetMetrics(m *metrics.VaultMetrics) {
	if p == nil {
		return
	}
	p.metrics = m
}

// SetKeeper assigns the only identity allowed to route arbitrary calls
// through Execute.
func (p *Pool) SetKeeper(keeper [20]byte) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keeper = keeper
}

// SetAgent authorizes or revokes a settlement agent.
func (p *Pool) SetAgent(agent [20]byte, authorized bool) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if authorized {
		p.agents[agent] = true
	} else {
		delete(p.agents, agent)
	}
}

// IsAgent reports whether the identity is an authorized settlement agent.
func (p *Pool) IsAgent(agent [20]byte) bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.agents[agent]
}

// SetWhitelisted adds or removes a target from the Execute capability
// whitelist.
func (p *Pool) SetWhitelisted(target [20]byte, allowed bool) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if allowed {
		p.whitelist[target] = true
	} else {
		delete(p.whitelist, target)
	}
}

// RegisterToken adds a token to the registry. The backend is probed for a
// vault-share conversion entry point to auto-detect wrapped-vault semantics;
// tokens without any balance query are rejected outright.
func (p *Pool) RegisterToken(token [20]byte) (*TokenEntry, error) {
	if p == nil || p.backend == nil {
		return nil, errNilBackend
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.index[token]; exists {
		return nil, ErrDuplicateToken
	}
	if _, ok, err := p.backend.BalanceOf(token, p.self); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrNoBalanceQuery
	}
	decimals, err := p.backend.Decimals(token)
	if err != nil {
		return nil, err
	}
	kind := TokenKindPlain
	if _, ok, err := p.backend.ConvertToAssets(token, big.NewInt(1)); err != nil {
		return nil, err
	} else if ok {
		kind = TokenKindWrappedVault
	}
	entry := &TokenEntry{
		Token:         token,
		DecimalShift:  DecimalShift(decimals),
		Kind:          kind,
		PendingRedeem: big.NewInt(0),
	}
	p.index[token] = len(p.entries)
	p.entries = append(p.entries, entry)
	return entry.Clone(), nil
}

// RemoveToken deletes a registry entry. Removal is refused while the pool
// still holds a live balance or an unresolved pending redemption for the
// token.
func (p *Pool) RemoveToken(token [20]byte) error {
	if p == nil || p.backend == nil {
		return errNilBackend
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, exists := p.index[token]
	if !exists {
		return ErrUnknownToken
	}
	entry := p.entries[pos]
	if entry.PendingRedeem != nil && entry.PendingRedeem.Sign() > 0 {
		return ErrTokenInUse
	}
	balance, _, err := p.backend.BalanceOf(token, p.self)
	if err != nil {
		return err
	}
	if balance != nil && balance.Sign() > 0 {
		return ErrTokenInUse
	}
	p.entries = append(p.entries[:pos], p.entries[pos+1:]...)
	delete(p.index, token)
	for i := pos; i < len(p.entries); i++ {
		p.index[p.entries[i].Token] = i
	}
	return nil
}

// SetTokenBlocked flips the administrative block flag on a registry entry.
func (p *Pool) SetTokenBlocked(token [20]byte, blocked bool) error {
	if p == nil {
		return errNilBackend
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, exists := p.index[token]
	if !exists {
		return ErrUnknownToken
	}
	p.entries[pos].Blocked = blocked
	return nil
}

// TokenEntryOf returns a copy of the registry entry for the token.
func (p *Pool) TokenEntryOf(token [20]byte) (*TokenEntry, error) {
	if p == nil {
		return nil, errNilBackend
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, exists := p.index[token]
	if !exists {
		return nil, ErrUnknownToken
	}
	return p.entries[pos].Clone(), nil
}

// Entries returns a snapshot of the registry.
func (p *Pool) Entries() []*TokenEntry {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*TokenEntry, len(p.entries))
	for i, entry := range p.entries {
		out[i] = entry.Clone()
	}
	return out
}

// TotalSupply returns the pool TVL in canonical units: the normalized sum of
// live balances reduced by the normalized pending-redemption liability,
// clamped at zero. A pending total exceeding the live value is a legitimate
// transient state after price movement, not an error.
func (p *Pool) TotalSupply() (*big.Int, error) {
	if p == nil || p.backend == nil {
		return nil, errNilBackend
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalSupplyLocked()
}

func (p *Pool) totalSupplyLocked() (*big.Int, error) {
	supply := big.NewInt(0)
	pendingTotal := big.NewInt(0)
	for _, entry := range p.entries {
		balance, _, err := p.backend.BalanceOf(entry.Token, p.self)
		if err != nil {
			return nil, err
		}
		live, err := p.rawToAssets(entry, balance)
		if err != nil {
			return nil, err
		}
		pending, err := p.rawToAssets(entry, entry.PendingRedeem)
		if err != nil {
			return nil, err
		}
		supply.Add(supply, Normalize(entry.DecimalShift, live))
		pendingTotal.Add(pendingTotal, Normalize(entry.DecimalShift, pending))
	}
	if supply.Cmp(pendingTotal) <= 0 {
		return big.NewInt(0), nil
	}
	return supply.Sub(supply, pendingTotal), nil
}

// Deposit converts the raw amount into canonical units and moves the tokens
// into custody. It is the single authority for how much canonical value a raw
// amount represents and must be invoked exactly once per external deposit
// event.
func (p *Pool) Deposit(token, from [20]byte, requestID [32]byte, rawAmount *big.Int) (*big.Int, error) {
	if p == nil || p.backend == nil {
		return nil, errNilBackend
	}
	if err := common.Guard(p.pauses, moduleName); err != nil {
		return nil, err
	}
	if rawAmount == nil || rawAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, err := p.activeEntry(token)
	if err != nil {
		return nil, err
	}
	assets, err := p.rawToAssets(entry, rawAmount)
	if err != nil {
		return nil, err
	}
	canonical := Normalize(entry.DecimalShift, assets)
	if err := p.backend.TransferFrom(token, from, p.self, rawAmount); err != nil {
		return nil, err
	}
	p.metrics.ObserveDeposit(hexutil.Encode(token[:]))
	return canonical, nil
}

// RequestRedeem converts the canonical value back into raw token units and
// reserves them against the entry before settlement, so concurrent
// TotalSupply reads see the liability immediately. The raw amount is
// returned for the request record.
func (p *Pool) RequestRedeem(token [20]byte, canonicalValue *big.Int) (*big.Int, error) {
	if p == nil || p.backend == nil {
		return nil, errNilBackend
	}
	if err := common.Guard(p.pauses, moduleName); err != nil {
		return nil, err
	}
	if canonicalValue == nil || canonicalValue.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, err := p.activeEntry(token)
	if err != nil {
		return nil, err
	}
	raw, err := p.assetsToRaw(entry, Denormalize(entry.DecimalShift, canonicalValue))
	if err != nil {
		return nil, err
	}
	entry.PendingRedeem = new(big.Int).Add(entry.PendingRedeem, raw)
	p.metrics.ObserveRedeemRequest(hexutil.Encode(token[:]))
	return raw, nil
}

// Redeem settles a batch of redemption requests. The share ledger stakes the
// batch first, the pool pays the raw tokens to the owning agent, and only a
// successful transfer confirms the records and fires the settlement callback.
// A failed transfer aborts the stake, leaving every record Pending and the
// reservation intact so the batch can be settled again.
func (p *Pool) Redeem(requestIDs [][32]byte) (token [20]byte, totalRaw *big.Int, err error) {
	if p == nil || p.backend == nil {
		return token, nil, errNilBackend
	}
	if p.supply == nil {
		return token, nil, errNilSupplyLedger
	}
	if err := common.Guard(p.pauses, moduleName); err != nil {
		return token, nil, err
	}
	if len(requestIDs) == 0 {
		return token, nil, ErrEmptyRequestList
	}
	agent, token, totalRaw, err := p.supply.PrepareRedeem(requestIDs)
	if err != nil {
		return token, nil, err
	}
	p.mu.Lock()
	pos, exists := p.index[token]
	if !exists {
		p.mu.Unlock()
		if abortErr := p.supply.AbortRedeem(requestIDs); abortErr != nil {
			return token, nil, errors.Join(ErrUnknownToken, abortErr)
		}
		return token, nil, ErrUnknownToken
	}
	entry := p.entries[pos]
	if err := p.backend.Transfer(token, agent, totalRaw); err != nil {
		p.mu.Unlock()
		if abortErr := p.supply.AbortRedeem(requestIDs); abortErr != nil {
			return token, nil, errors.Join(err, abortErr)
		}
		return token, nil, err
	}
	remaining := new(big.Int).Sub(entry.PendingRedeem, totalRaw)
	if remaining.Sign() < 0 {
		remaining = big.NewInt(0)
	}
	entry.PendingRedeem = remaining
	p.mu.Unlock()

	if err := p.supply.CommitRedeem(requestIDs); err != nil {
		return token, nil, err
	}
	p.metrics.ObserveRedeemSettled()
	return token, totalRaw, nil
}

func (p *Pool) activeEntry(token [20]byte) (*TokenEntry, error) {
	pos, exists := p.index[token]
	if !exists {
		return nil, ErrUnknownToken
	}
	entry := p.entries[pos]
	if entry.Blocked {
		return nil, ErrTokenBlocked
	}
	if entry.PendingRedeem == nil {
		entry.PendingRedeem = big.NewInt(0)
	}
	return entry, nil
}

// rawToAssets resolves a raw token amount into underlying asset units.
// Wrapped-vault balances are vault shares and must be converted first.
func (p *Pool) rawToAssets(entry *TokenEntry, raw *big.Int) (*big.Int, error) {
	if raw == nil {
		return big.NewInt(0), nil
	}
	if entry.Kind != TokenKindWrappedVault {
		return new(big.Int).Set(raw), nil
	}
	assets, _, err := p.backend.ConvertToAssets(entry.Token, raw)
	if err != nil {
		return nil, err
	}
	if assets == nil {
		assets = big.NewInt(0)
	}
	return assets, nil
}

// assetsToRaw is the inverse of rawToAssets for redemption sizing.
func (p *Pool) assetsToRaw(entry *TokenEntry, assets *big.Int) (*big.Int, error) {
	if assets == nil {
		return big.NewInt(0), nil
	}
	if entry.Kind != TokenKindWrappedVault {
		return new(big.Int).Set(assets), nil
	}
	raw, err := p.backend.ConvertToShares(entry.Token, assets)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		raw = big.NewInt(0)
	}
	return raw, nil
}

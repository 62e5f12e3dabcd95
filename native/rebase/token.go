package rebase

import (
	"encoding/binary"
	"errors"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"crossvault/native/common"
	"crossvault/native/supply"
)

var (
	errNilOracle          = errors.New("rebase token: oracle not configured")
	errNilAccountant      = errors.New("rebase token: accountant not configured")
	ErrNotOperator        = errors.New("rebase token: caller is not owner or approved operator")
	ErrNotAccountant      = errors.New("rebase token: caller is not the accountant")
	ErrTooLowDepositValue = errors.New("rebase token: deposit below minimum")
	ErrTooLowRedeemValue  = errors.New("rebase token: redeem below minimum")
	ErrDuplicateRequest   = errors.New("rebase token: duplicate request id")
	ErrUnknownRequest     = errors.New("rebase token: unknown request id")
	ErrBadOperationStatus = errors.New("rebase token: wrong operation status")
	ErrLengthMismatch     = errors.New("rebase token: ids and values length mismatch")
	ErrZeroShares         = errors.New("rebase token: zero share supply in oracle")
)

const moduleName = "rebase"

// RequestKind distinguishes deposit from redemption requests.
type RequestKind uint8

const (
	KindDeposit RequestKind = iota
	KindRedeem
)

// Request is the per-request lifecycle record kept by the token. Records are
// never deleted; their status doubles as the replay guard.
type Request struct {
	Kind         RequestKind
	Controller   [20]byte
	Owner        [20]byte
	Amount       *big.Int
	SettledValue *big.Int
	Status       supply.OperationStatus
}

// Clone returns a deep copy of the request record.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	}
	if r.SettledValue != nil {
		clone.SettledValue = new(big.Int).Set(r.SettledValue)
	}
	return &clone
}

// Accountant is the request-routing surface the token forwards to. The
// concrete implementation lives in native/accountant.
type Accountant interface {
	RequestDeposit(requestID [32]byte, value *big.Int) error
	RequestRedeem(requestID [32]byte, shares *big.Int) error
	Payout(requestID [32]byte, to [20]byte, value *big.Int) error
}

// OracleView exposes the bridged (totalPoolValue, totalShares) pair the token
// prices balances against. Balances never use a local approximation.
type OracleView interface {
	TotalSupply() (pool *big.Int, shares *big.Int, err error)
}

// Token is the user-facing per-chain ledger. Balances are stored as shares
// and converted to asset terms through the oracle mirror at read time, which
// is what makes the token rebase with the global share price.
type Token struct {
	mu             sync.Mutex
	self           [20]byte
	chainID        *big.Int
	oracle         OracleView
	accountant     Accountant
	accountantAddr [20]byte
	minDeposit     *big.Int
	minRedeem      *big.Int
	counter        uint64
	shares         map[[20]byte]*big.Int
	operators      map[[20]byte]map[[20]byte]bool
	requests       map[[32]byte]*Request
	pauses         common.PauseView
}

// NewToken constructs the per-chain rebase ledger.
func NewToken(self [20]byte, chainID *big.Int, oracle OracleView) *Token {
	if chainID == nil {
		chainID = big.NewInt(0)
	}
	return &Token{
		self:       self,
		chainID:    new(big.Int).Set(chainID),
		oracle:     oracle,
		minDeposit: big.NewInt(0),
		minRedeem:  big.NewInt(0),
		shares:     make(map[[20]byte]*big.Int),
		operators:  make(map[[20]byte]map[[20]byte]bool),
		requests:   make(map[[32]byte]*Request),
	}
}

// SetAccountant binds the accountant identity and callback surface.
func (t *Token) SetAccountant(addr [20]byte, accountant Accountant) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accountantAddr = addr
	t.accountant = accountant
}

// SetMinimums configures the minimum deposit value and redeem share size.
func (t *Token) SetMinimums(minDeposit, minRedeem *big.Int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if minDeposit != nil {
		t.minDeposit = new(big.Int).Set(minDeposit)
	}
	if minRedeem != nil {
		t.minRedeem = new(big.Int).Set(minRedeem)
	}
}

// SetPauses wires the administrative pause switches.
func (t *Token) SetPauses(pauses common.PauseView) {
	if t == nil {
		return
	}
	t.pauses = pauses
}

// SetOperator records the caller's delegation choice unconditionally.
func (t *Token) SetOperator(owner, operator [20]byte, approved bool) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.operators[owner]
	if set == nil {
		set = make(map[[20]byte]bool)
		t.operators[owner] = set
	}
	if approved {
		set[operator] = true
	} else {
		delete(set, operator)
	}
}

// IsOperator reports whether operator may act for owner.
func (t *Token) IsOperator(owner, operator [20]byte) bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.operators[owner][operator]
}

// SharesOf returns the raw share balance of the owner.
func (t *Token) SharesOf(owner [20]byte) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.sharesLocked(owner))
}

func (t *Token) sharesLocked(owner [20]byte) *big.Int {
	if bal, ok := t.shares[owner]; ok {
		return bal
	}
	return big.NewInt(0)
}

// BalanceOf returns the owner's balance in asset terms at the current oracle
// exchange rate.
func (t *Token) BalanceOf(owner [20]byte) (*big.Int, error) {
	shares := t.SharesOf(owner)
	return t.ConvertToAssets(shares)
}

// ConvertToAssets prices shares with the oracle-mirrored global pair.
func (t *Token) ConvertToAssets(shares *big.Int) (*big.Int, error) {
	if t == nil || t.oracle == nil {
		return nil, errNilOracle
	}
	pool, totalShares, err := t.oracle.TotalSupply()
	if err != nil {
		return nil, err
	}
	if totalShares == nil || totalShares.Sign() == 0 {
		return nil, ErrZeroShares
	}
	out := new(big.Int).Mul(shares, pool)
	return out.Quo(out, totalShares), nil
}

// ConvertToShares is the inverse conversion.
func (t *Token) ConvertToShares(assets *big.Int) (*big.Int, error) {
	if t == nil || t.oracle == nil {
		return nil, errNilOracle
	}
	pool, totalShares, err := t.oracle.TotalSupply()
	if err != nil {
		return nil, err
	}
	if pool == nil || pool.Sign() == 0 {
		return nil, ErrZeroShares
	}
	out := new(big.Int).Mul(assets, totalShares)
	return out.Quo(out, pool), nil
}

// Request returns a copy of the stored request record.
func (t *Token) Request(requestID [32]byte) (*Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	record, ok := t.requests[requestID]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

func (t *Token) nextRequestIDLocked() [32]byte {
	t.counter++
	var chainWord [32]byte
	t.chainID.FillBytes(chainWord[:])
	var counterWord [8]byte
	binary.BigEndian.PutUint64(counterWord[:], t.counter)
	digest := ethcrypto.Keccak256(t.self[:], chainWord[:], counterWord[:])
	var id [32]byte
	copy(id[:], digest)
	return id
}

func (t *Token) authorized(sender, owner [20]byte) bool {
	return sender == owner || t.operators[owner][sender]
}

// RequestDeposit opens a deposit request on behalf of owner and forwards it
// to the accountant. The returned id tracks the pending record until the
// custody chain confirms the minted shares.
func (t *Token) RequestDeposit(sender [20]byte, assets *big.Int, controller, owner [20]byte) ([32]byte, error) {
	var id [32]byte
	if t == nil || t.accountant == nil {
		return id, errNilAccountant
	}
	if err := common.Guard(t.pauses, moduleName); err != nil {
		return id, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.authorized(sender, owner) {
		return id, ErrNotOperator
	}
	if assets == nil || assets.Cmp(t.minDeposit) < 0 {
		return id, ErrTooLowDepositValue
	}
	id = t.nextRequestIDLocked()
	if _, exists := t.requests[id]; exists {
		return id, ErrDuplicateRequest
	}
	if err := t.accountant.RequestDeposit(id, assets); err != nil {
		return id, err
	}
	t.requests[id] = &Request{
		Kind:       KindDeposit,
		Controller: controller,
		Owner:      owner,
		Amount:     new(big.Int).Set(assets),
		Status:     supply.StatusPending,
	}
	return id, nil
}

// RequestRedeem burns shares from owner and opens a redemption request. An
// oversized share amount is silently clamped to the owner's balance rather
// than rejected; the burn is pessimistic, the shares are gone while
// settlement is pending.
func (t *Token) RequestRedeem(sender [20]byte, shares *big.Int, controller, owner [20]byte) ([32]byte, *big.Int, error) {
	var id [32]byte
	if t == nil || t.accountant == nil {
		return id, nil, errNilAccountant
	}
	if err := common.Guard(t.pauses, moduleName); err != nil {
		return id, nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.authorized(sender, owner) {
		return id, nil, ErrNotOperator
	}
	if shares == nil || shares.Sign() <= 0 {
		return id, nil, ErrTooLowRedeemValue
	}
	balance := t.sharesLocked(owner)
	burn := new(big.Int).Set(shares)
	if burn.Cmp(balance) > 0 {
		burn.Set(balance)
	}
	if burn.Cmp(t.minRedeem) < 0 || burn.Sign() == 0 {
		return id, nil, ErrTooLowRedeemValue
	}
	id = t.nextRequestIDLocked()
	if _, exists := t.requests[id]; exists {
		return id, nil, ErrDuplicateRequest
	}
	t.shares[owner] = new(big.Int).Sub(balance, burn)
	if err := t.accountant.RequestRedeem(id, burn); err != nil {
		// Restore the burn; the request never left this chain.
		t.shares[owner] = new(big.Int).Add(t.sharesLocked(owner), burn)
		return id, nil, err
	}
	t.requests[id] = &Request{
		Kind:       KindRedeem,
		Controller: controller,
		Owner:      owner,
		Amount:     new(big.Int).Set(burn),
		Status:     supply.StatusPending,
	}
	return id, burn, nil
}

// ConfirmDeposit mints the custody-chain-priced shares to the requester. A
// confirm for anything but a pending deposit indicates a bug upstream and
// fails loudly.
func (t *Token) ConfirmDeposit(caller [20]byte, requestID [32]byte, shares *big.Int) error {
	if t == nil {
		return errNilAccountant
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if caller != t.accountantAddr {
		return ErrNotAccountant
	}
	record, exists := t.requests[requestID]
	if !exists {
		return ErrUnknownRequest
	}
	if record.Kind != KindDeposit || record.Status != supply.StatusPending {
		return ErrBadOperationStatus
	}
	t.mintLocked(record.Controller, shares)
	record.Status = supply.StatusConfirmed
	record.SettledValue = new(big.Int).Set(shares)
	return nil
}

// Redeem bulk-settles redemption requests delivered from the custody chain.
// Requests that are no longer pending are skipped silently: the bridge is
// at-least-once and redelivery of a settlement batch is the expected case,
// not an error. The sum of newly settled values is returned.
func (t *Token) Redeem(caller [20]byte, requestIDs [][32]byte, values []*big.Int) (*big.Int, error) {
	if t == nil {
		return nil, errNilAccountant
	}
	if len(requestIDs) != len(values) {
		return nil, ErrLengthMismatch
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if caller != t.accountantAddr {
		return nil, ErrNotAccountant
	}
	total := big.NewInt(0)
	for i, id := range requestIDs {
		record, exists := t.requests[id]
		if !exists || record.Kind != KindRedeem || record.Status != supply.StatusPending {
			continue
		}
		record.SettledValue = new(big.Int).Set(values[i])
		record.Status = supply.StatusReadyToConfirm
		total.Add(total, values[i])
	}
	return total, nil
}

// ConfirmRedeem finalizes a settled redemption and triggers the token payout
// through the accountant.
func (t *Token) ConfirmRedeem(requestID [32]byte) error {
	if t == nil || t.accountant == nil {
		return errNilAccountant
	}
	t.mu.Lock()
	record, exists := t.requests[requestID]
	if !exists {
		t.mu.Unlock()
		return ErrUnknownRequest
	}
	if record.Kind != KindRedeem || record.Status != supply.StatusReadyToConfirm {
		t.mu.Unlock()
		return ErrBadOperationStatus
	}
	record.Status = supply.StatusConfirmed
	controller := record.Controller
	value := new(big.Int).Set(record.SettledValue)
	t.mu.Unlock()
	return t.accountant.Payout(requestID, controller, value)
}

// Distribute mints shares directly to a party. This is the per-chain landing
// point for yield distribution and only the accountant may call it.
func (t *Token) Distribute(caller, party [20]byte, shares *big.Int) error {
	if t == nil {
		return errNilAccountant
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if caller != t.accountantAddr {
		return ErrNotAccountant
	}
	t.mintLocked(party, shares)
	return nil
}

func (t *Token) mintLocked(to [20]byte, shares *big.Int) {
	if shares == nil || shares.Sign() <= 0 {
		return
	}
	t.shares[to] = new(big.Int).Add(t.sharesLocked(to), shares)
}

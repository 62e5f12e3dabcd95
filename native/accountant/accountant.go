// Package accountant routes vault traffic between the per-chain engines and
// the bridge. On the retail chain it forwards rebase-token requests outbound
// and applies inbound confirmations; on the custody chain it drives the
// supply manager from inbound requests and reports settlements back. One
// process may play either role or both, depending on which engines are bound.
package accountant

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"crossvault/bridge"
	"crossvault/bridge/codec"
	"crossvault/native/supply"
	"crossvault/observability/metrics"
)

var (
	ErrNilSender       = errors.New("accountant: sender not configured")
	ErrPathConflict    = errors.New("accountant: relay path conflicts with bridge oracle auto-push")
	ErrNoSupplyEngine  = errors.New("accountant: custody role not bound")
	ErrNoRebaseLedger  = errors.New("accountant: retail role not bound")
	ErrNoPayoutBackend = errors.New("accountant: payout backend not configured")
	ErrNoSwapService   = errors.New("accountant: swap service not configured")
	ErrValueOverflow   = errors.New("accountant: value exceeds 256 bits")
)

// supplyEngine is the custody-side surface the accountant drives.
type supplyEngine interface {
	Deposit(agent, token [20]byte, requestID [32]byte, from [20]byte, rawValue *big.Int) (*big.Int, error)
	RequestRedeem(agent, token [20]byte, requestID [32]byte, shares *big.Int) (*big.Int, error)
	Operation(requestID [32]byte) (*supply.OperationRecord, bool, error)
	TotalSupply() (*big.Int, error)
	TotalSharesSupply() *big.Int
}

// rebaseLedger is the retail-side surface the accountant applies inbound
// confirmations to.
type rebaseLedger interface {
	ConfirmDeposit(caller [20]byte, requestID [32]byte, shares *big.Int) error
	Redeem(caller [20]byte, requestIDs [][32]byte, values []*big.Int) (*big.Int, error)
	Distribute(caller, party [20]byte, shares *big.Int) error
}

// PayoutBackend transfers settled underlying value to a user on the retail
// chain.
type PayoutBackend interface {
	Transfer(to [20]byte, value *big.Int) error
}

// SwapService is the external asset-bridge collaborator behind the swap
// message pair.
type SwapService interface {
	RequestSwap(requestID [32]byte, token [20]byte, amount *big.Int) error
	ConfirmSwap(requestID [32]byte, amount *big.Int) error
}

// Accountant is the message-dispatch boundary of the vault.
type Accountant struct {
	mu     sync.Mutex
	self   [20]byte
	sender bridge.Sender
	relay  bridge.Sender

	// Auto-pushing oracle totals over the bridge and routing through a
	// trusted relay are mutually exclusive message paths.
	oracleAutoPush bool

	oracle *Oracle
	token  rebaseLedger
	payout PayoutBackend
	supply supplyEngine
	swaps  SwapService

	poolToken    [20]byte
	custodyFunds [20]byte

	// Replay guard for inbound yield distributions, which carry no request
	// id of their own; keyed by payload digest. Deposits and redemptions
	// dedupe against the supply manager's persisted records instead.
	seenDistributions map[[32]byte]bool

	logger  *slog.Logger
	metrics *metrics.VaultMetrics
}

func NewAccountant(self [20]byte, sender bridge.Sender, logger *slog.Logger, m *metrics.VaultMetrics) (*Accountant, error) {
	if sender == nil {
		return nil, ErrNilSender
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Accountant{
		self:              self,
		sender:            sender,
		seenDistributions: make(map[[32]byte]bool),
		logger:            logger.With("component", "accountant"),
		metrics:           m,
	}, nil
}

// Self returns the accountant's on-chain identity.
func (a *Accountant) Self() [20]byte { return a.self }

// BindRetail wires the retail-chain collaborators. The accountant registers
// itself as an oracle updater so bridge-delivered totals can land.
func (a *Accountant) BindRetail(token rebaseLedger, oracle *Oracle, payout PayoutBackend) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = token
	a.oracle = oracle
	a.payout = payout
	if oracle != nil {
		oracle.SetUpdater(a.self, true)
	}
}

// BindCustody wires the custody-chain collaborators. The accountant acts as
// the registered agent for poolToken and deposits inbound funds from the
// custodyFunds address.
func (a *Accountant) BindCustody(engine supplyEngine, poolToken, custodyFunds [20]byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.supply = engine
	a.poolToken = poolToken
	a.custodyFunds = custodyFunds
}

// SetSwapService wires the external asset-bridge collaborator.
func (a *Accountant) SetSwapService(swaps SwapService) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.swaps = swaps
}

// EnableRelay switches outbound traffic to the trusted relay path. Enabling
// it while bridge oracle auto-push is on is an invalid combination.
func (a *Accountant) EnableRelay(relay bridge.Sender) error {
	if relay == nil {
		return ErrNilSender
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.oracleAutoPush {
		return ErrPathConflict
	}
	a.relay = relay
	return nil
}

// DisableRelay returns outbound traffic to the bridge path.
func (a *Accountant) DisableRelay() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.relay = nil
}

// SetOracleAutoPush toggles piggybacking oracle totals on custody-side
// confirmations. Rejected while the relay path is active.
func (a *Accountant) SetOracleAutoPush(on bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if on && a.relay != nil {
		return ErrPathConflict
	}
	a.oracleAutoPush = on
	return nil
}

func (a *Accountant) activeSender() bridge.Sender {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.relay != nil {
		return a.relay
	}
	return a.sender
}

func (a *Accountant) send(msg codec.Message) error {
	fee, _, _ := codec.QuoteFor(msg)
	return a.activeSender().Send(context.Background(), msg, fee)
}

func toWord(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return uint256.NewInt(0), nil
	}
	w, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrValueOverflow
	}
	return w, nil
}

func toBig(w *uint256.Int) *big.Int {
	if w == nil {
		return big.NewInt(0)
	}
	return w.ToBig()
}

// RequestDeposit forwards a retail deposit request to the custody chain.
func (a *Accountant) RequestDeposit(requestID [32]byte, value *big.Int) error {
	word, err := toWord(value)
	if err != nil {
		return err
	}
	return a.send(codec.RequestDeposit{RequestID: requestID, Value: word})
}

// RequestRedeem forwards a retail redemption request to the custody chain.
func (a *Accountant) RequestRedeem(requestID [32]byte, shares *big.Int) error {
	word, err := toWord(shares)
	if err != nil {
		return err
	}
	return a.send(codec.RequestRedeem{RequestID: requestID, Shares: word})
}

// Payout releases settled underlying value to the user.
func (a *Accountant) Payout(requestID [32]byte, to [20]byte, value *big.Int) error {
	a.mu.Lock()
	payout := a.payout
	a.mu.Unlock()
	if payout == nil {
		return ErrNoPayoutBackend
	}
	if err := payout.Transfer(to, value); err != nil {
		return err
	}
	a.logger.Info("redemption paid out",
		"request", hexID(requestID),
		"value", value.String())
	return nil
}

// SettleRedeem reports a settled redemption batch to the retail chain. It is
// the supply manager's settlement callback.
func (a *Accountant) SettleRedeem(requestIDs [][32]byte, values []*big.Int, total *big.Int) error {
	msg := codec.ConfirmRedeem{
		RequestIDs: make([][32]byte, len(requestIDs)),
		Values:     make([]*uint256.Int, len(values)),
	}
	copy(msg.RequestIDs, requestIDs)
	for i, value := range values {
		word, err := toWord(value)
		if err != nil {
			return err
		}
		msg.Values[i] = word
	}
	if err := a.send(msg); err != nil {
		return err
	}
	a.logger.Info("redemption batch reported",
		"requests", len(requestIDs),
		"total", total.String())
	return nil
}

// DistributeYield reports a minted yield allocation to the retail chain,
// carrying fresh oracle totals along when auto-push is on.
func (a *Accountant) DistributeYield(party [20]byte, shares *big.Int) error {
	word, err := toWord(shares)
	if err != nil {
		return err
	}
	a.mu.Lock()
	autoPush := a.oracleAutoPush
	engine := a.supply
	a.mu.Unlock()
	if !autoPush {
		return a.send(codec.DistributeYield{
			Parties: [][20]byte{party},
			Shares:  []*uint256.Int{word},
		})
	}
	if engine == nil {
		return ErrNoSupplyEngine
	}
	totalValue, totalShares, err := a.custodyTotals(engine)
	if err != nil {
		return err
	}
	return a.send(codec.DistributeYieldOracle{
		TotalValue:  totalValue,
		TotalShares: totalShares,
		Parties:     [][20]byte{party},
		Shares:      []*uint256.Int{word},
	})
}

func (a *Accountant) custodyTotals(engine supplyEngine) (*uint256.Int, *uint256.Int, error) {
	value, err := engine.TotalSupply()
	if err != nil {
		return nil, nil, err
	}
	valueWord, err := toWord(value)
	if err != nil {
		return nil, nil, err
	}
	sharesWord, err := toWord(engine.TotalSharesSupply())
	if err != nil {
		return nil, nil, err
	}
	return valueWord, sharesWord, nil
}

// PushOracle publishes current custody totals over the bridge on demand.
func (a *Accountant) PushOracle() error {
	a.mu.Lock()
	engine := a.supply
	a.mu.Unlock()
	if engine == nil {
		return ErrNoSupplyEngine
	}
	totalValue, totalShares, err := a.custodyTotals(engine)
	if err != nil {
		return err
	}
	return a.send(codec.UpdateOracle{TotalValue: totalValue, TotalShares: totalShares})
}

// HandleMessage applies one inbound bridge delivery. Redeliveries are the
// expected case on this path; every branch either consults the target
// engine's own status machine or dedupes locally before mutating state.
func (a *Accountant) HandleMessage(raw []byte) error {
	msg, err := codec.Decode(raw)
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case codec.RequestDeposit:
		return a.handleRequestDeposit(m)
	case codec.RequestRedeem:
		return a.handleRequestRedeem(m)
	case codec.ConfirmDeposit:
		return a.handleConfirmDeposit(m.RequestID, toBig(m.Shares))
	case codec.ConfirmDepositOracle:
		if err := a.applyOracle(toBig(m.TotalValue), toBig(m.TotalShares)); err != nil {
			return err
		}
		return a.handleConfirmDeposit(m.RequestID, toBig(m.Shares))
	case codec.ConfirmRedeem:
		return a.handleConfirmRedeem(m)
	case codec.DistributeYield:
		return a.handleDistribute(raw, m.Parties, m.Shares)
	case codec.DistributeYieldOracle:
		if err := a.applyOracle(toBig(m.TotalValue), toBig(m.TotalShares)); err != nil {
			return err
		}
		return a.handleDistribute(raw, m.Parties, m.Shares)
	case codec.UpdateOracle:
		return a.applyOracle(toBig(m.TotalValue), toBig(m.TotalShares))
	case codec.RequestSwap:
		return a.handleRequestSwap(m)
	case codec.ConfirmSwap:
		return a.handleConfirmSwap(m)
	default:
		return codec.ErrUnknownType
	}
}

func (a *Accountant) handleRequestDeposit(m codec.RequestDeposit) error {
	a.mu.Lock()
	engine := a.supply
	token := a.poolToken
	funds := a.custodyFunds
	a.mu.Unlock()
	if engine == nil {
		return ErrNoSupplyEngine
	}

	minted, err := engine.Deposit(a.self, token, m.RequestID, funds, toBig(m.Value))
	switch {
	case errors.Is(err, supply.ErrDuplicateRequest):
		// Redelivery after the deposit already landed. The confirmation
		// may have been the lost half of the exchange, so resend it from
		// the persisted record instead of minting again.
		record, exists, lookupErr := engine.Operation(m.RequestID)
		if lookupErr != nil {
			return lookupErr
		}
		if !exists {
			return err
		}
		minted = record.Value
		a.logger.Info("deposit redelivery reconfirmed", "request", hexID(m.RequestID))
	case err != nil:
		return err
	}
	mintedWord, err := toWord(minted)
	if err != nil {
		return err
	}
	a.mu.Lock()
	autoPush := a.oracleAutoPush
	a.mu.Unlock()
	if !autoPush {
		return a.send(codec.ConfirmDeposit{RequestID: m.RequestID, Shares: mintedWord})
	}
	totalValue, totalShares, err := a.custodyTotals(engine)
	if err != nil {
		return err
	}
	return a.send(codec.ConfirmDepositOracle{
		RequestID:   m.RequestID,
		Shares:      mintedWord,
		TotalValue:  totalValue,
		TotalShares: totalShares,
	})
}

func (a *Accountant) handleRequestRedeem(m codec.RequestRedeem) error {
	a.mu.Lock()
	engine := a.supply
	token := a.poolToken
	a.mu.Unlock()
	if engine == nil {
		return ErrNoSupplyEngine
	}
	_, err := engine.RequestRedeem(a.self, token, m.RequestID, toBig(m.Shares))
	if errors.Is(err, supply.ErrDuplicateRequest) {
		a.logger.Info("redeem redelivery skipped", "request", hexID(m.RequestID))
		return nil
	}
	return err
}

func (a *Accountant) handleConfirmDeposit(requestID [32]byte, shares *big.Int) error {
	a.mu.Lock()
	token := a.token
	a.mu.Unlock()
	if token == nil {
		return ErrNoRebaseLedger
	}
	return token.ConfirmDeposit(a.self, requestID, shares)
}

func (a *Accountant) handleConfirmRedeem(m codec.ConfirmRedeem) error {
	a.mu.Lock()
	token := a.token
	a.mu.Unlock()
	if token == nil {
		return ErrNoRebaseLedger
	}
	values := make([]*big.Int, len(m.Values))
	for i, word := range m.Values {
		values[i] = toBig(word)
	}
	settled, err := token.Redeem(a.self, m.RequestIDs, values)
	if err != nil {
		return err
	}
	if settled.Sign() > 0 {
		a.metrics.ObserveRedeemSettled()
		a.logger.Info("redemption batch settled",
			"requests", len(m.RequestIDs),
			"settled", settled.String())
	}
	return nil
}

func (a *Accountant) handleDistribute(raw []byte, parties [][20]byte, shares []*uint256.Int) error {
	a.mu.Lock()
	token := a.token
	if token == nil {
		a.mu.Unlock()
		return ErrNoRebaseLedger
	}
	var digest [32]byte
	copy(digest[:], ethcrypto.Keccak256(raw))
	if a.seenDistributions[digest] {
		a.mu.Unlock()
		a.logger.Info("distribution redelivery skipped")
		return nil
	}
	a.seenDistributions[digest] = true
	a.mu.Unlock()

	for i, party := range parties {
		if err := token.Distribute(a.self, party, toBig(shares[i])); err != nil {
			return err
		}
	}
	a.metrics.ObserveDistribution()
	return nil
}

func (a *Accountant) applyOracle(totalValue, totalShares *big.Int) error {
	a.mu.Lock()
	oracle := a.oracle
	a.mu.Unlock()
	if oracle == nil {
		return ErrNoRebaseLedger
	}
	return oracle.SetTotalSupply(a.self, totalValue, totalShares)
}

func (a *Accountant) handleRequestSwap(m codec.RequestSwap) error {
	a.mu.Lock()
	swaps := a.swaps
	a.mu.Unlock()
	if swaps == nil {
		return ErrNoSwapService
	}
	return swaps.RequestSwap(m.RequestID, m.Token, toBig(m.Amount))
}

func (a *Accountant) handleConfirmSwap(m codec.ConfirmSwap) error {
	a.mu.Lock()
	swaps := a.swaps
	a.mu.Unlock()
	if swaps == nil {
		return ErrNoSwapService
	}
	return swaps.ConfirmSwap(m.RequestID, toBig(m.Amount))
}

func hexID(id [32]byte) string {
	return hexutil.Encode(id[:])
}

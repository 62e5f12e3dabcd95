package supply

import (
	"encoding/binary"
	"errors"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"crossvault/native/common"
	"crossvault/observability/metrics"
	"crossvault/storage"
)

var (
	errNilState            = errors.New("supply manager: storage not configured")
	errNilPool             = errors.New("supply manager: asset pool not configured")
	ErrZeroInitialSupply   = errors.New("supply manager: initial supply must be positive")
	ErrInvalidApyFormatter = errors.New("supply manager: apy formatter exceeds factor")
	ErrZeroTotalSupply     = errors.New("supply manager: total supply is zero")
	ErrTooManyShares       = errors.New("supply manager: shares exceed total supply")
	ErrDuplicateRequest    = errors.New("supply manager: duplicate request id")
	ErrDuplicateAgent      = errors.New("supply manager: duplicate agent")
	ErrUnknownAgent        = errors.New("supply manager: agent not registered")
	ErrWrongAgent          = errors.New("supply manager: request batch spans multiple agents")
	ErrBadOperationStatus  = errors.New("supply manager: wrong operation status")
	ErrEmptyRequestList    = errors.New("supply manager: empty request list")
	ErrEmptyParties        = errors.New("supply manager: empty party list")
	ErrWrongPortion        = errors.New("supply manager: portions must sum to the whole")
	ErrNoRealYield         = errors.New("supply manager: no realized yield to distribute")
)

const moduleName = "supply"

// Factor is the fixed-point denominator of the apy formatter: an apy
// formatter of Factor retains all realized yield for holders, 0 skims all of
// it to distribution parties.
const Factor = 10_000

var (
	factorInt = big.NewInt(Factor)
	// portionWhole is the fixed-point whole a distribution's portions must
	// sum to.
	portionWhole = big.NewInt(1_000_000_000_000_000_000)
)

// assetPool is the slice of the pool the share ledger consumes. The concrete
// implementation lives in native/pool.
type assetPool interface {
	TotalSupply() (*big.Int, error)
	Deposit(token, from [20]byte, requestID [32]byte, rawAmount *big.Int) (*big.Int, error)
	RequestRedeem(token [20]byte, canonicalValue *big.Int) (*big.Int, error)
}

// Manager is the central share-accounting engine. It owns totalSharesSupply,
// totalDepositedSupply and lockedYieldShares, and is the only writer to all
// three. Every mutating method completes its full read-modify-write sequence
// under the manager lock before any settlement callback fires, so a
// re-entrant call can never observe a half-updated ledger.
type Manager struct {
	mu      sync.Mutex
	self    [20]byte
	chainID *big.Int
	pool    assetPool
	ledger  operationLedger
	counter uint64

	totalShares       *big.Int
	totalDeposited    *big.Int
	lockedYieldShares *big.Int
	apyFormatter      uint64

	agents  map[[20]byte]agentBinding
	pauses  common.PauseView
	metrics *metrics.VaultMetrics
}

// NewManager constructs the share ledger with its genesis accounting state.
// A zero initial supply or an apy formatter above Factor is a fatal
// configuration error.
func NewManager(self [20]byte, chainID *big.Int, db storage.Database, initialSupply *big.Int, apyFormatter uint64) (*Manager, error) {
	if db == nil {
		return nil, errNilState
	}
	if initialSupply == nil || initialSupply.Sign() <= 0 {
		return nil, ErrZeroInitialSupply
	}
	if apyFormatter > Factor {
		return nil, ErrInvalidApyFormatter
	}
	if chainID == nil {
		chainID = big.NewInt(0)
	}
	ledger := operationLedger{db: db}
	counter, err := ledger.counter()
	if err != nil {
		return nil, err
	}
	return &Manager{
		self:              self,
		chainID:           new(big.Int).Set(chainID),
		ledger:            ledger,
		counter:           counter,
		totalShares:       new(big.Int).Set(initialSupply),
		totalDeposited:    new(big.Int).Set(initialSupply),
		lockedYieldShares: big.NewInt(0),
		apyFormatter:      apyFormatter,
		agents:            make(map[[20]byte]agentBinding),
	}, nil
}

// SetPool wires the asset pool the ledger prices against.
func (m *Manager) SetPool(pool assetPool) {
	if m == nil {
		return
	}
	m.pool = pool
}

// SetPauses wires the administrative pause switches.
func (m *Manager) SetPauses(pauses common.PauseView) {
	if m == nil {
		return
	}
	m.pauses = pauses
}

// SetMetrics wires the prometheus collectors.
func (m *Manager) SetMetrics(mt *metrics.VaultMetrics) {
	if m == nil {
		return
	}
	m.metrics = mt
}

// RegisterAgent authorizes a settlement agent bound to exactly one underlying
// token and venue.
func (m *Manager) RegisterAgent(agent, token [20]byte, settler Settler) error {
	if m == nil {
		return errNilState
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.agents[agent]; exists {
		return ErrDuplicateAgent
	}
	m.agents[agent] = agentBinding{token: token, settler: settler}
	return nil
}

// RemoveAgent revokes an agent's authorization.
func (m *Manager) RemoveAgent(agent [20]byte) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.agents, agent)
}

// TotalSharesSupply returns the shares outstanding across all chains.
func (m *Manager) TotalSharesSupply() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.totalShares)
}

// TotalDepositedSupply returns the canonical value accounted as principal.
func (m *Manager) TotalDepositedSupply() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.totalDeposited)
}

// LockedYieldShares returns yield shares carved out by redemptions but not
// yet realized by a distribution.
func (m *Manager) LockedYieldShares() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.lockedYieldShares)
}

// ApyFormatter returns the retained-yield fraction in Factor fixed point.
func (m *Manager) ApyFormatter() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.apyFormatter
}

// Operation returns the stored record for a request id; the boolean reports
// whether the record exists.
func (m *Manager) Operation(requestID [32]byte) (*OperationRecord, bool, error) {
	if m == nil {
		return nil, false, errNilState
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.get(requestID)
}

// NextRequestID derives a globally unique request identifier from the
// contract identity, the chain id and a persisted monotonic counter. The
// counter is committed before the id is handed out so a restart can never
// reissue one.
func (m *Manager) NextRequestID() ([32]byte, error) {
	var id [32]byte
	if m == nil {
		return id, errNilState
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.counter + 1
	if err := m.ledger.putCounter(next); err != nil {
		return id, err
	}
	m.counter = next
	return deriveRequestID(m.self, m.chainID, next), nil
}

func deriveRequestID(self [20]byte, chainID *big.Int, counter uint64) [32]byte {
	var chainWord [32]byte
	chainID.FillBytes(chainWord[:])
	var counterWord [8]byte
	binary.BigEndian.PutUint64(counterWord[:], counter)
	digest := ethcrypto.Keccak256(self[:], chainWord[:], counterWord[:])
	var id [32]byte
	copy(id[:], digest)
	return id
}

// TotalSupply returns the pool TVL reduced by the un-retained fraction of any
// yield above the deposited baseline. Share price therefore reflects only the
// retained portion of yield until a distribution realizes the rest.
func (m *Manager) TotalSupply() (*big.Int, error) {
	if m == nil {
		return nil, errNilState
	}
	if m.pool == nil {
		return nil, errNilPool
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalSupplyLocked()
}

func (m *Manager) totalSupplyLocked() (*big.Int, error) {
	tvl, err := m.pool.TotalSupply()
	if err != nil {
		return nil, err
	}
	if m.totalDeposited.Cmp(tvl) >= 0 {
		return tvl, nil
	}
	retained := new(big.Int).Sub(tvl, m.totalDeposited)
	retained.Mul(retained, new(big.Int).SetUint64(m.apyFormatter))
	retained.Quo(retained, factorInt)
	return retained.Add(retained, m.totalDeposited), nil
}

// SharePrice returns the canonical value of one whole share (1e18 share
// units) at the current exchange rate.
func (m *Manager) SharePrice() (*big.Int, error) {
	if m == nil {
		return nil, errNilState
	}
	if m.pool == nil {
		return nil, errNilPool
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	supply, err := m.totalSupplyLocked()
	if err != nil {
		return nil, err
	}
	price := new(big.Int).Mul(supply, portionWhole)
	return price.Quo(price, m.totalShares), nil
}

// Deposit prices the incoming raw amount at the pre-deposit exchange rate and
// mints shares against it. Snapshotting the supply before the pool mutation
// is essential: it prevents the depositor from diluting themselves with their
// own money. The persisted record carries the minted shares and doubles as
// the replay guard, so a redelivered request after a restart is rejected
// instead of double-minting.
func (m *Manager) Deposit(agent, token [20]byte, requestID [32]byte, from [20]byte, rawValue *big.Int) (*big.Int, error) {
	if m == nil {
		return nil, errNilState
	}
	if m.pool == nil {
		return nil, errNilPool
	}
	if err := common.Guard(m.pauses, moduleName); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.agents[agent]; !exists {
		return nil, ErrUnknownAgent
	}
	if _, exists, err := m.ledger.get(requestID); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrDuplicateRequest
	}
	startTotalSupply, err := m.totalSupplyLocked()
	if err != nil {
		return nil, err
	}
	if startTotalSupply.Sign() == 0 {
		return nil, ErrZeroTotalSupply
	}
	canonical, err := m.pool.Deposit(token, from, requestID, rawValue)
	if err != nil {
		return nil, err
	}
	minted := new(big.Int).Mul(canonical, m.totalShares)
	minted.Quo(minted, startTotalSupply)
	record := &OperationRecord{Agent: agent, Value: minted, Status: StatusConfirmed}
	if err := m.ledger.put(requestID, record); err != nil {
		return nil, err
	}
	m.totalShares = new(big.Int).Add(m.totalShares, minted)
	m.totalDeposited = new(big.Int).Add(m.totalDeposited, canonical)
	m.publishLedger()
	return minted, nil
}

// RequestRedeem burns shares at the current exchange rate, carves out the
// skimmed fraction of this redemption's prorated yield into locked yield
// shares, and reserves the raw token value in the pool. The ledger mutation
// happens before the pool delegation; reversing that order would change the
// exchange rate used for the pool-side conversion.
func (m *Manager) RequestRedeem(agent, token [20]byte, requestID [32]byte, shares *big.Int) (*big.Int, error) {
	if m == nil {
		return nil, errNilState
	}
	if m.pool == nil {
		return nil, errNilPool
	}
	if err := common.Guard(m.pauses, moduleName); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.agents[agent]; !exists {
		return nil, ErrUnknownAgent
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrTooManyShares
	}
	if shares.Cmp(m.totalShares) > 0 {
		return nil, ErrTooManyShares
	}
	if _, exists, err := m.ledger.get(requestID); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrDuplicateRequest
	}

	currentTotalSupply, err := m.totalSupplyLocked()
	if err != nil {
		return nil, err
	}
	value := new(big.Int).Mul(shares, currentTotalSupply)
	value.Quo(value, m.totalShares)

	operationYield := big.NewInt(0)
	operationYieldShares := big.NewInt(0)
	if m.apyFormatter != 0 && currentTotalSupply.Cmp(m.totalDeposited) > 0 {
		appreciation := new(big.Int).Sub(currentTotalSupply, m.totalDeposited)
		operationYield = new(big.Int).Mul(shares, appreciation)
		operationYield.Mul(operationYield, new(big.Int).SetUint64(Factor-m.apyFormatter))
		denom := new(big.Int).Mul(m.totalShares, new(big.Int).SetUint64(m.apyFormatter))
		operationYield.Quo(operationYield, denom)

		operationYieldShares = new(big.Int).Mul(operationYield, m.totalShares)
		operationYieldShares.Quo(operationYieldShares, currentTotalSupply)
		m.lockedYieldShares = new(big.Int).Add(m.lockedYieldShares, operationYieldShares)
	}

	principalReduction := new(big.Int).Mul(shares, m.totalDeposited)
	principalReduction.Quo(principalReduction, m.totalShares)
	m.totalDeposited = new(big.Int).Sub(m.totalDeposited, principalReduction)
	m.totalDeposited.Add(m.totalDeposited, operationYield)
	m.totalShares = new(big.Int).Sub(m.totalShares, shares)
	m.totalShares.Add(m.totalShares, operationYieldShares)

	rawValue, err := m.pool.RequestRedeem(token, value)
	if err != nil {
		return nil, err
	}
	record := &OperationRecord{Agent: agent, Value: rawValue, Status: StatusPending}
	if err := m.ledger.put(requestID, record); err != nil {
		return nil, err
	}
	m.publishLedger()
	return value, nil
}

// PrepareRedeem stakes a settlement batch for the asset pool. Every request
// must be Pending and belong to the same agent; the records move to
// ReadyToConfirm so a concurrent settlement of the same batch is rejected.
// Nothing irreversible happens here: the pool calls CommitRedeem once the
// custody transfer succeeded, or AbortRedeem to make the batch retryable
// when it did not.
func (m *Manager) PrepareRedeem(requestIDs [][32]byte) (agent [20]byte, token [20]byte, total *big.Int, err error) {
	if m == nil {
		return agent, token, nil, errNilState
	}
	if err := common.Guard(m.pauses, moduleName); err != nil {
		return agent, token, nil, err
	}
	if len(requestIDs) == 0 {
		return agent, token, nil, ErrEmptyRequestList
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]*OperationRecord, len(requestIDs))
	total = big.NewInt(0)
	for i, id := range requestIDs {
		record, exists, err := m.ledger.get(id)
		if err != nil {
			return agent, token, nil, err
		}
		if !exists || record.Status != StatusPending {
			return agent, token, nil, ErrBadOperationStatus
		}
		if i == 0 {
			agent = record.Agent
			binding, bound := m.agents[agent]
			if !bound {
				return agent, token, nil, ErrUnknownAgent
			}
			token = binding.token
		} else if record.Agent != agent {
			return agent, token, nil, ErrWrongAgent
		}
		records[i] = record
		total.Add(total, record.Value)
	}
	for i, id := range requestIDs {
		records[i].Status = StatusReadyToConfirm
		if err := m.ledger.put(id, records[i]); err != nil {
			return agent, token, nil, err
		}
	}
	return agent, token, total, nil
}

// AbortRedeem returns a staked batch to Pending after the custody-side
// transfer failed, so the same batch can be settled again later.
func (m *Manager) AbortRedeem(requestIDs [][32]byte) error {
	if m == nil {
		return errNilState
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range requestIDs {
		record, exists, err := m.ledger.get(id)
		if err != nil {
			return err
		}
		if !exists || record.Status != StatusReadyToConfirm {
			return ErrBadOperationStatus
		}
		record.Status = StatusPending
		if err := m.ledger.put(id, record); err != nil {
			return err
		}
	}
	return nil
}

// CommitRedeem confirms a staked batch once the raw tokens have left custody
// and fires the owning agent's settlement callback. The records are terminal
// after this point; the tokens are gone, so there is nothing to roll back.
func (m *Manager) CommitRedeem(requestIDs [][32]byte) error {
	if m == nil {
		return errNilState
	}
	if len(requestIDs) == 0 {
		return ErrEmptyRequestList
	}
	m.mu.Lock()
	var (
		agent   [20]byte
		settler Settler
	)
	values := make([]*big.Int, len(requestIDs))
	total := big.NewInt(0)
	for i, id := range requestIDs {
		record, exists, err := m.ledger.get(id)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		if !exists || record.Status != StatusReadyToConfirm {
			m.mu.Unlock()
			return ErrBadOperationStatus
		}
		if i == 0 {
			agent = record.Agent
			binding, bound := m.agents[agent]
			if !bound {
				m.mu.Unlock()
				return ErrUnknownAgent
			}
			settler = binding.settler
		}
		values[i] = new(big.Int).Set(record.Value)
		total.Add(total, record.Value)
		record.Status = StatusConfirmed
		if err := m.ledger.put(id, record); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	m.mu.Unlock()

	if settler != nil {
		return settler.SettleRedeem(requestIDs, values, total)
	}
	return nil
}

func (m *Manager) publishLedger() {
	if m.metrics == nil {
		return
	}
	shares, _ := new(big.Float).SetInt(m.totalShares).Float64()
	deposited, _ := new(big.Float).SetInt(m.totalDeposited).Float64()
	m.metrics.SetLedger(shares, deposited)
}

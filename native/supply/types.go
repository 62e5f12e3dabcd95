package supply

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"crossvault/storage"
)

// OperationStatus tracks the lifecycle of a deposit or redemption request.
//
// StatusReverted is declared for exhaustive matches but no flow in the engine
// transitions into it; it is reserved terminal state.
type OperationStatus uint8

const (
	StatusNone OperationStatus = iota
	StatusPending
	StatusReadyToConfirm
	StatusConfirmed
	StatusReverted
)

// Valid reports whether the status value is within the supported range.
func (s OperationStatus) Valid() bool {
	switch s {
	case StatusNone, StatusPending, StatusReadyToConfirm, StatusConfirmed, StatusReverted:
		return true
	default:
		return false
	}
}

func (s OperationStatus) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusPending:
		return "pending"
	case StatusReadyToConfirm:
		return "ready_to_confirm"
	case StatusConfirmed:
		return "confirmed"
	case StatusReverted:
		return "reverted"
	default:
		return "unknown"
	}
}

// OperationRecord is the per-request record kept by the share ledger.
// Redemption records start Pending with the reserved raw value; deposit
// records are written Confirmed with the minted shares. Records are never
// deleted; terminal statuses double as the double-processing guard and the
// audit trail.
type OperationRecord struct {
	Agent  [20]byte
	Value  *big.Int
	Status OperationStatus
}

// Clone returns a deep copy of the record.
func (r *OperationRecord) Clone() *OperationRecord {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Value != nil {
		clone.Value = new(big.Int).Set(r.Value)
	} else {
		clone.Value = big.NewInt(0)
	}
	return &clone
}

type storedOperation struct {
	Agent  [20]byte
	Value  *big.Int
	Status uint8
}

var (
	operationPrefix   = []byte("supply/op/")
	requestCounterKey = []byte("supply/op/counter")
)

func operationKey(id [32]byte) []byte {
	buf := make([]byte, len(operationPrefix)+len(id))
	copy(buf, operationPrefix)
	copy(buf[len(operationPrefix):], id[:])
	return buf
}

// operationLedger persists request records through the generic key-value
// store so a custody node restart cannot lose or replay settlement state.
type operationLedger struct {
	db storage.Database
}

func (l operationLedger) get(id [32]byte) (*OperationRecord, bool, error) {
	raw, err := l.db.Get(operationKey(id))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var stored storedOperation
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false, err
	}
	record := &OperationRecord{
		Agent:  stored.Agent,
		Value:  stored.Value,
		Status: OperationStatus(stored.Status),
	}
	if record.Value == nil {
		record.Value = big.NewInt(0)
	}
	return record, true, nil
}

func (l operationLedger) put(id [32]byte, record *OperationRecord) error {
	stored := storedOperation{
		Agent:  record.Agent,
		Value:  record.Value,
		Status: uint8(record.Status),
	}
	if stored.Value == nil {
		stored.Value = big.NewInt(0)
	}
	raw, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	return l.db.Put(operationKey(id), raw)
}

func (l operationLedger) counter() (uint64, error) {
	raw, err := l.db.Get(requestCounterKey)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	var value uint64
	if err := rlp.DecodeBytes(raw, &value); err != nil {
		return 0, err
	}
	return value, nil
}

func (l operationLedger) putCounter(value uint64) error {
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return l.db.Put(requestCounterKey, raw)
}

// YieldParty names one distribution beneficiary: the settlement agent whose
// chain receives the minted shares and the party credited there. Portion is a
// fixed-point fraction of 1e18; portions across a distribution must sum to
// exactly the whole.
type YieldParty struct {
	Agent   [20]byte
	Party   [20]byte
	Portion *big.Int
}

// YieldAllocation is the per-party outcome of a distribution.
type YieldAllocation struct {
	Agent  [20]byte
	Party  [20]byte
	Shares *big.Int
}

// Settler is the settlement callback surface a registered agent exposes to
// the share ledger: redemption fan-in and per-chain yield landing.
type Settler interface {
	SettleRedeem(requestIDs [][32]byte, values []*big.Int, total *big.Int) error
	DistributeYield(party [20]byte, shares *big.Int) error
}

type agentBinding struct {
	token   [20]byte
	settler Settler
}

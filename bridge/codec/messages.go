package codec

import (
	"github.com/holiman/uint256"
)

// MessageType is the one-byte discriminant leading every wire message.
type MessageType byte

const (
	TypeRequestDeposit        MessageType = 0x01
	TypeConfirmDeposit        MessageType = 0x02
	TypeRequestRedeem         MessageType = 0x03
	TypeConfirmRedeem         MessageType = 0x04
	TypeDistributeYield       MessageType = 0x05
	TypeConfirmDepositOracle  MessageType = 0x06
	TypeDistributeYieldOracle MessageType = 0x07
	TypeUpdateOracle          MessageType = 0x08
	TypeRequestSwap           MessageType = 0x09
	TypeConfirmSwap           MessageType = 0x0A
)

// Valid reports whether the tag maps to a known message type.
func (t MessageType) Valid() bool {
	return t >= TypeRequestDeposit && t <= TypeConfirmSwap
}

func (t MessageType) String() string {
	switch t {
	case TypeRequestDeposit:
		return "request-deposit"
	case TypeConfirmDeposit:
		return "confirm-deposit"
	case TypeRequestRedeem:
		return "request-redeem"
	case TypeConfirmRedeem:
		return "confirm-redeem"
	case TypeDistributeYield:
		return "distribute-yield"
	case TypeConfirmDepositOracle:
		return "confirm-deposit-oracle"
	case TypeDistributeYieldOracle:
		return "distribute-yield-oracle"
	case TypeUpdateOracle:
		return "update-oracle"
	case TypeRequestSwap:
		return "request-swap"
	case TypeConfirmSwap:
		return "confirm-swap"
	default:
		return "unknown"
	}
}

// Message is the tagged union carried over the bridge. Each variant is a
// fixed-width payload behind the tag byte; array-valued variants derive their
// element count from the payload length alone.
type Message interface {
	Type() MessageType
	payload() []byte
}

// RequestDeposit asks the custody chain to mint shares for a deposit opened
// on the retail chain.
type RequestDeposit struct {
	RequestID [32]byte
	Value     *uint256.Int
}

func (RequestDeposit) Type() MessageType { return TypeRequestDeposit }

// ConfirmDeposit reports the minted share count back to the retail chain.
type ConfirmDeposit struct {
	RequestID [32]byte
	Shares    *uint256.Int
}

func (ConfirmDeposit) Type() MessageType { return TypeConfirmDeposit }

// RequestRedeem asks the custody chain to settle burned shares.
type RequestRedeem struct {
	RequestID [32]byte
	Shares    *uint256.Int
}

func (RequestRedeem) Type() MessageType { return TypeRequestRedeem }

// ConfirmRedeem bulk-settles redemption requests. RequestIDs and Values run
// in lockstep; both arrays are concatenated on the wire with no length
// prefix.
type ConfirmRedeem struct {
	RequestIDs [][32]byte
	Values     []*uint256.Int
}

func (ConfirmRedeem) Type() MessageType { return TypeConfirmRedeem }

// DistributeYield carries freshly minted yield shares to their parties.
type DistributeYield struct {
	Parties [][20]byte
	Shares  []*uint256.Int
}

func (DistributeYield) Type() MessageType { return TypeDistributeYield }

// ConfirmDepositOracle is ConfirmDeposit with a piggybacked oracle update so
// the retail chain reprices in the same delivery.
type ConfirmDepositOracle struct {
	RequestID   [32]byte
	Shares      *uint256.Int
	TotalValue  *uint256.Int
	TotalShares *uint256.Int
}

func (ConfirmDepositOracle) Type() MessageType { return TypeConfirmDepositOracle }

// DistributeYieldOracle is DistributeYield with a leading oracle header.
type DistributeYieldOracle struct {
	TotalValue  *uint256.Int
	TotalShares *uint256.Int
	Parties     [][20]byte
	Shares      []*uint256.Int
}

func (DistributeYieldOracle) Type() MessageType { return TypeDistributeYieldOracle }

// UpdateOracle refreshes the mirrored (totalValue, totalShares) pair.
type UpdateOracle struct {
	TotalValue  *uint256.Int
	TotalShares *uint256.Int
}

func (UpdateOracle) Type() MessageType { return TypeUpdateOracle }

// RequestSwap asks the asset-bridge collaborator to move pool inventory
// between chains.
type RequestSwap struct {
	RequestID [32]byte
	Token     [20]byte
	Amount    *uint256.Int
}

func (RequestSwap) Type() MessageType { return TypeRequestSwap }

// ConfirmSwap reports the delivered amount of an earlier RequestSwap.
type ConfirmSwap struct {
	RequestID [32]byte
	Amount    *uint256.Int
}

func (ConfirmSwap) Type() MessageType { return TypeConfirmSwap }

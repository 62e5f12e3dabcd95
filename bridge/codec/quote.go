package codec

import (
	"errors"
	"math/big"
)

// Fee model constants. The native fee covers transport execution and scales
// with payload size; the token fee is reserved for transports that charge in
// the carried asset and stays zero on the default bridge.
const (
	baseFeeWei    = 200_000
	perByteFeeWei = 16
)

var ErrNegativeArrayLen = errors.New("bridge codec: negative array length")

// PayloadSize returns the wire payload size in bytes for a message of the
// given type, with n elements for the array-valued types (n is ignored for
// fixed-width types).
func PayloadSize(msgType MessageType, n int) (int, error) {
	if n < 0 {
		return 0, ErrNegativeArrayLen
	}
	switch msgType {
	case TypeRequestDeposit, TypeConfirmDeposit, TypeRequestRedeem,
		TypeUpdateOracle, TypeConfirmSwap:
		return 2 * wordSize, nil
	case TypeConfirmDepositOracle:
		return 4 * wordSize, nil
	case TypeRequestSwap:
		return wordSize + addressSize + wordSize, nil
	case TypeConfirmRedeem:
		return n * redeemEntrySize, nil
	case TypeDistributeYield:
		return n * yieldEntrySize, nil
	case TypeDistributeYieldOracle:
		return oracleHeader + n*yieldEntrySize, nil
	default:
		return 0, ErrUnknownType
	}
}

// QuoteFor prices a concrete message from its actual encoded size.
func QuoteFor(msg Message) (nativeFee, tokenFee *big.Int, options []byte) {
	total := int64(len(Encode(msg)))
	nativeFee = new(big.Int).Mul(big.NewInt(perByteFeeWei), big.NewInt(total))
	nativeFee.Add(nativeFee, big.NewInt(baseFeeWei))
	return nativeFee, big.NewInt(0), nil
}

// Quote prices a send of the given message type deterministically so callers
// can fund the transport before encoding. The options blob is passed through
// to the transport unmodified.
func Quote(msgType MessageType, arrayLen int) (nativeFee, tokenFee *big.Int, options []byte, err error) {
	size, err := PayloadSize(msgType, arrayLen)
	if err != nil {
		return nil, nil, nil, err
	}
	total := 1 + size
	nativeFee = new(big.Int).Mul(big.NewInt(perByteFeeWei), big.NewInt(int64(total)))
	nativeFee.Add(nativeFee, big.NewInt(baseFeeWei))
	return nativeFee, big.NewInt(0), nil, nil
}

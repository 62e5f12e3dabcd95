package codec

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func id(fill byte) [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = fill
	}
	return out
}

func party(fill byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = fill
	}
	return out
}

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()
	raw := Encode(msg)
	require.Equal(t, byte(msg.Type()), raw[0])
	decoded, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, msg, decoded)
	require.Equal(t, raw, Encode(decoded))
	return decoded
}

func TestFixedWidthRoundTrips(t *testing.T) {
	roundTrip(t, RequestDeposit{RequestID: id(0x11), Value: uint256.NewInt(1_000_000)})
	roundTrip(t, ConfirmDeposit{RequestID: id(0x22), Shares: uint256.NewInt(42)})
	roundTrip(t, RequestRedeem{RequestID: id(0x33), Shares: uint256.MustFromHex("0xffffffffffffffffffffffffffffffff")})
	roundTrip(t, ConfirmDepositOracle{
		RequestID:   id(0x44),
		Shares:      uint256.NewInt(7),
		TotalValue:  uint256.NewInt(2_000_000),
		TotalShares: uint256.NewInt(1_000_000),
	})
	roundTrip(t, UpdateOracle{TotalValue: uint256.NewInt(5), TotalShares: uint256.NewInt(3)})
	roundTrip(t, RequestSwap{RequestID: id(0x55), Token: party(0xE0), Amount: uint256.NewInt(9)})
	roundTrip(t, ConfirmSwap{RequestID: id(0x66), Amount: uint256.NewInt(10)})
}

func TestConfirmRedeemArrayRoundTrip(t *testing.T) {
	roundTrip(t, ConfirmRedeem{RequestIDs: [][32]byte{}, Values: []*uint256.Int{}})

	n := 128
	msg := ConfirmRedeem{
		RequestIDs: make([][32]byte, n),
		Values:     make([]*uint256.Int, n),
	}
	for i := 0; i < n; i++ {
		msg.RequestIDs[i] = id(byte(i))
		msg.Values[i] = uint256.NewInt(uint64(i) * 1_000)
	}
	raw := Encode(msg)
	require.Len(t, raw, 1+n*redeemEntrySize)
	roundTrip(t, msg)
}

func TestDistributeYieldRoundTrips(t *testing.T) {
	roundTrip(t, DistributeYield{Parties: [][20]byte{}, Shares: []*uint256.Int{}})
	roundTrip(t, DistributeYield{
		Parties: [][20]byte{party(0x01), party(0x02), party(0x03)},
		Shares:  []*uint256.Int{uint256.NewInt(10), uint256.NewInt(20), uint256.NewInt(30)},
	})
	roundTrip(t, DistributeYieldOracle{
		TotalValue:  uint256.NewInt(2_000_000),
		TotalShares: uint256.NewInt(1_000_000),
		Parties:     [][20]byte{party(0x0A)},
		Shares:      []*uint256.Int{uint256.NewInt(999)},
	})
}

func TestDecodeRejectsBadLengths(t *testing.T) {
	_, err := Decode(nil)
	require.ErrorIs(t, err, ErrEmptyMessage)

	_, err = Decode([]byte{0xFF, 0x00})
	require.ErrorIs(t, err, ErrUnknownType)

	// Fixed-width payloads must match exactly.
	short := Encode(UpdateOracle{TotalValue: uint256.NewInt(1), TotalShares: uint256.NewInt(2)})
	_, err = Decode(short[:len(short)-1])
	require.ErrorIs(t, err, ErrBadLength)

	// Array payloads must be an exact multiple of the element width.
	batch := Encode(ConfirmRedeem{
		RequestIDs: [][32]byte{id(0x01)},
		Values:     []*uint256.Int{uint256.NewInt(1)},
	})
	_, err = Decode(batch[:len(batch)-3])
	require.ErrorIs(t, err, ErrBadLength)

	yield := Encode(DistributeYield{
		Parties: [][20]byte{party(0x01)},
		Shares:  []*uint256.Int{uint256.NewInt(1)},
	})
	_, err = Decode(append(yield, 0x00))
	require.ErrorIs(t, err, ErrBadLength)

	// The oracle variant subtracts its fixed header before dividing.
	_, err = Decode([]byte{byte(TypeDistributeYieldOracle), 0x01})
	require.ErrorIs(t, err, ErrBadLength)
}

func TestQuoteScalesWithPayload(t *testing.T) {
	small, token, _, err := Quote(TypeConfirmRedeem, 1)
	require.NoError(t, err)
	require.Zero(t, token.Sign())

	large, _, _, err := Quote(TypeConfirmRedeem, 100)
	require.NoError(t, err)
	require.Positive(t, large.Cmp(small))

	fixedA, _, _, err := Quote(TypeUpdateOracle, 0)
	require.NoError(t, err)
	fixedB, _, _, err := Quote(TypeUpdateOracle, 5_000)
	require.NoError(t, err)
	require.Zero(t, fixedA.Cmp(fixedB))

	_, _, _, err = Quote(TypeConfirmRedeem, -1)
	require.ErrorIs(t, err, ErrNegativeArrayLen)

	_, _, _, err = Quote(MessageType(0xEE), 0)
	require.ErrorIs(t, err, ErrUnknownType)
}

package codec

import (
	"errors"

	"github.com/holiman/uint256"
)

const (
	wordSize    = 32
	addressSize = 20
	// One request id or party entry in the array-valued messages.
	redeemEntrySize = 2 * wordSize
	yieldEntrySize  = addressSize + wordSize
	oracleHeader    = 2 * wordSize
)

var (
	ErrEmptyMessage = errors.New("bridge codec: empty message")
	ErrUnknownType  = errors.New("bridge codec: unknown message type")
	ErrBadLength    = errors.New("bridge codec: payload length does not match type")
)

func putWord(dst []byte, v *uint256.Int) {
	if v == nil {
		v = uint256.NewInt(0)
	}
	word := v.Bytes32()
	copy(dst, word[:])
}

func word(src []byte) *uint256.Int {
	return new(uint256.Int).SetBytes(src[:wordSize])
}

// Encode serializes a message as the tag byte followed by its fixed-width
// payload.
func Encode(msg Message) []byte {
	body := msg.payload()
	out := make([]byte, 1+len(body))
	out[0] = byte(msg.Type())
	copy(out[1:], body)
	return out
}

// Decode parses a wire message. Array-valued types derive their element count
// from the payload length; a length that is not an exact multiple of the
// element width is rejected rather than truncated.
func Decode(raw []byte) (Message, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyMessage
	}
	tag := MessageType(raw[0])
	body := raw[1:]
	switch tag {
	case TypeRequestDeposit:
		if len(body) != 2*wordSize {
			return nil, ErrBadLength
		}
		msg := RequestDeposit{Value: word(body[wordSize:])}
		copy(msg.RequestID[:], body[:wordSize])
		return msg, nil
	case TypeConfirmDeposit:
		if len(body) != 2*wordSize {
			return nil, ErrBadLength
		}
		msg := ConfirmDeposit{Shares: word(body[wordSize:])}
		copy(msg.RequestID[:], body[:wordSize])
		return msg, nil
	case TypeRequestRedeem:
		if len(body) != 2*wordSize {
			return nil, ErrBadLength
		}
		msg := RequestRedeem{Shares: word(body[wordSize:])}
		copy(msg.RequestID[:], body[:wordSize])
		return msg, nil
	case TypeConfirmRedeem:
		if len(body)%redeemEntrySize != 0 {
			return nil, ErrBadLength
		}
		n := len(body) / redeemEntrySize
		msg := ConfirmRedeem{
			RequestIDs: make([][32]byte, n),
			Values:     make([]*uint256.Int, n),
		}
		for i := 0; i < n; i++ {
			copy(msg.RequestIDs[i][:], body[i*wordSize:])
			msg.Values[i] = word(body[(n+i)*wordSize:])
		}
		return msg, nil
	case TypeDistributeYield:
		parties, shares, err := decodeYieldEntries(body)
		if err != nil {
			return nil, err
		}
		return DistributeYield{Parties: parties, Shares: shares}, nil
	case TypeConfirmDepositOracle:
		if len(body) != 4*wordSize {
			return nil, ErrBadLength
		}
		msg := ConfirmDepositOracle{
			Shares:      word(body[wordSize:]),
			TotalValue:  word(body[2*wordSize:]),
			TotalShares: word(body[3*wordSize:]),
		}
		copy(msg.RequestID[:], body[:wordSize])
		return msg, nil
	case TypeDistributeYieldOracle:
		if len(body) < oracleHeader {
			return nil, ErrBadLength
		}
		parties, shares, err := decodeYieldEntries(body[oracleHeader:])
		if err != nil {
			return nil, err
		}
		return DistributeYieldOracle{
			TotalValue:  word(body),
			TotalShares: word(body[wordSize:]),
			Parties:     parties,
			Shares:      shares,
		}, nil
	case TypeUpdateOracle:
		if len(body) != 2*wordSize {
			return nil, ErrBadLength
		}
		return UpdateOracle{
			TotalValue:  word(body),
			TotalShares: word(body[wordSize:]),
		}, nil
	case TypeRequestSwap:
		if len(body) != wordSize+addressSize+wordSize {
			return nil, ErrBadLength
		}
		msg := RequestSwap{Amount: word(body[wordSize+addressSize:])}
		copy(msg.RequestID[:], body[:wordSize])
		copy(msg.Token[:], body[wordSize:wordSize+addressSize])
		return msg, nil
	case TypeConfirmSwap:
		if len(body) != 2*wordSize {
			return nil, ErrBadLength
		}
		msg := ConfirmSwap{Amount: word(body[wordSize:])}
		copy(msg.RequestID[:], body[:wordSize])
		return msg, nil
	default:
		return nil, ErrUnknownType
	}
}

func decodeYieldEntries(body []byte) ([][20]byte, []*uint256.Int, error) {
	if len(body)%yieldEntrySize != 0 {
		return nil, nil, ErrBadLength
	}
	n := len(body) / yieldEntrySize
	parties := make([][20]byte, n)
	shares := make([]*uint256.Int, n)
	for i := 0; i < n; i++ {
		copy(parties[i][:], body[i*addressSize:])
	}
	offset := n * addressSize
	for i := 0; i < n; i++ {
		shares[i] = word(body[offset+i*wordSize:])
	}
	return parties, shares, nil
}

func (m RequestDeposit) payload() []byte {
	out := make([]byte, 2*wordSize)
	copy(out, m.RequestID[:])
	putWord(out[wordSize:], m.Value)
	return out
}

func (m ConfirmDeposit) payload() []byte {
	out := make([]byte, 2*wordSize)
	copy(out, m.RequestID[:])
	putWord(out[wordSize:], m.Shares)
	return out
}

func (m RequestRedeem) payload() []byte {
	out := make([]byte, 2*wordSize)
	copy(out, m.RequestID[:])
	putWord(out[wordSize:], m.Shares)
	return out
}

func (m ConfirmRedeem) payload() []byte {
	n := len(m.RequestIDs)
	out := make([]byte, n*redeemEntrySize)
	for i, id := range m.RequestIDs {
		copy(out[i*wordSize:], id[:])
	}
	for i, value := range m.Values {
		putWord(out[(n+i)*wordSize:], value)
	}
	return out
}

func (m DistributeYield) payload() []byte {
	return encodeYieldEntries(nil, m.Parties, m.Shares)
}

func (m ConfirmDepositOracle) payload() []byte {
	out := make([]byte, 4*wordSize)
	copy(out, m.RequestID[:])
	putWord(out[wordSize:], m.Shares)
	putWord(out[2*wordSize:], m.TotalValue)
	putWord(out[3*wordSize:], m.TotalShares)
	return out
}

func (m DistributeYieldOracle) payload() []byte {
	header := make([]byte, oracleHeader)
	putWord(header, m.TotalValue)
	putWord(header[wordSize:], m.TotalShares)
	return encodeYieldEntries(header, m.Parties, m.Shares)
}

func (m UpdateOracle) payload() []byte {
	out := make([]byte, 2*wordSize)
	putWord(out, m.TotalValue)
	putWord(out[wordSize:], m.TotalShares)
	return out
}

func (m RequestSwap) payload() []byte {
	out := make([]byte, wordSize+addressSize+wordSize)
	copy(out, m.RequestID[:])
	copy(out[wordSize:], m.Token[:])
	putWord(out[wordSize+addressSize:], m.Amount)
	return out
}

func (m ConfirmSwap) payload() []byte {
	out := make([]byte, 2*wordSize)
	copy(out, m.RequestID[:])
	putWord(out[wordSize:], m.Amount)
	return out
}

func encodeYieldEntries(header []byte, parties [][20]byte, shares []*uint256.Int) []byte {
	n := len(parties)
	out := make([]byte, len(header)+n*yieldEntrySize)
	copy(out, header)
	base := len(header)
	for i, party := range parties {
		copy(out[base+i*addressSize:], party[:])
	}
	offset := base + n*addressSize
	for i := range parties {
		var share *uint256.Int
		if i < len(shares) {
			share = shares[i]
		}
		putWord(out[offset+i*wordSize:], share)
	}
	return out
}

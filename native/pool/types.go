package pool

import "math/big"

// TokenKind distinguishes plain ERC20-style tokens from wrapped vault tokens
// whose balances are denominated in vault shares rather than underlying
// assets.
type TokenKind uint8

const (
	TokenKindPlain TokenKind = iota
	TokenKindWrappedVault
)

// Valid reports whether the kind value is within the supported range.
func (k TokenKind) Valid() bool {
	switch k {
	case TokenKindPlain, TokenKindWrappedVault:
		return true
	default:
		return false
	}
}

// TokenEntry is one row of the pool's token registry. PendingRedeem tracks
// raw token units reserved for redemption requests that have not settled yet;
// TotalSupply subtracts it so concurrent readers see the liability
// immediately.
type TokenEntry struct {
	Token         [20]byte
	DecimalShift  int8
	Kind          TokenKind
	PendingRedeem *big.Int
	Blocked       bool
}

// Clone returns a deep copy of the entry so callers can safely mutate the
// copy without affecting the registry.
func (e *TokenEntry) Clone() *TokenEntry {
	if e == nil {
		return nil
	}
	clone := *e
	if e.PendingRedeem != nil {
		clone.PendingRedeem = new(big.Int).Set(e.PendingRedeem)
	} else {
		clone.PendingRedeem = big.NewInt(0)
	}
	return &clone
}

// TokenBackend abstracts the token contracts the pool holds custody of. The
// host environment supplies the concrete implementation; tests use an
// in-memory mock.
//
// BalanceOf reports ok=false when the token exposes no balance query at all,
// which makes the token unregistrable. ConvertToAssets reports ok=false when
// the token does not expose vault-share conversion, which classifies it as a
// plain token during registration.
type TokenBackend interface {
	BalanceOf(token, holder [20]byte) (*big.Int, bool, error)
	Decimals(token [20]byte) (uint8, error)
	ConvertToAssets(token [20]byte, shares *big.Int) (*big.Int, bool, error)
	ConvertToShares(token [20]byte, assets *big.Int) (*big.Int, error)
	Transfer(token, to [20]byte, amount *big.Int) error
	TransferFrom(token, from, to [20]byte, amount *big.Int) error
	Call(target [20]byte, value *big.Int, data []byte) error
}

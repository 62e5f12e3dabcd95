package accountant

import (
	"errors"
	"math/big"
	"sync"
)

var (
	ErrNotOracleUpdater = errors.New("vault oracle: caller is not an authorized updater")
	ErrOracleUnset      = errors.New("vault oracle: totals never published")
	ErrBadOracleTotals  = errors.New("vault oracle: totals must be non-negative")
)

// Oracle mirrors the custody chain's (totalPoolValue, totalShares) pair on
// the retail chain so the rebase token can price balances without a
// synchronous cross-chain call. It is written by the bridge handler or an
// authorized updater and read by everyone.
type Oracle struct {
	mu          sync.RWMutex
	totalValue  *big.Int
	totalShares *big.Int
	updaters    map[[20]byte]bool
}

func NewOracle() *Oracle {
	return &Oracle{updaters: make(map[[20]byte]bool)}
}

// SetUpdater grants or revokes direct write access.
func (o *Oracle) SetUpdater(addr [20]byte, authorized bool) {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if authorized {
		o.updaters[addr] = true
	} else {
		delete(o.updaters, addr)
	}
}

// SetTotalSupply publishes a fresh pair. Only authorized updaters (the
// accountant registers itself as one) may write.
func (o *Oracle) SetTotalSupply(caller [20]byte, totalValue, totalShares *big.Int) error {
	if o == nil {
		return ErrOracleUnset
	}
	if totalValue == nil || totalShares == nil || totalValue.Sign() < 0 || totalShares.Sign() < 0 {
		return ErrBadOracleTotals
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.updaters[caller] {
		return ErrNotOracleUpdater
	}
	o.totalValue = new(big.Int).Set(totalValue)
	o.totalShares = new(big.Int).Set(totalShares)
	return nil
}

// TotalPoolSupply returns the mirrored pool value.
func (o *Oracle) TotalPoolSupply() (*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.totalValue == nil {
		return nil, ErrOracleUnset
	}
	return new(big.Int).Set(o.totalValue), nil
}

// TotalSharesSupply returns the mirrored share supply.
func (o *Oracle) TotalSharesSupply() (*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.totalShares == nil {
		return nil, ErrOracleUnset
	}
	return new(big.Int).Set(o.totalShares), nil
}

// TotalSupply returns the pair in one read. It satisfies the rebase token's
// oracle view.
func (o *Oracle) TotalSupply() (*big.Int, *big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.totalValue == nil || o.totalShares == nil {
		return nil, nil, ErrOracleUnset
	}
	return new(big.Int).Set(o.totalValue), new(big.Int).Set(o.totalShares), nil
}

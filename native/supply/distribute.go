package supply

import (
	"math/big"

	"crossvault/native/common"
)

// DistributeYield realizes accrued yield into the accounting baseline. The
// retained fraction (apyFormatter of Factor) stays with all holders through
// the baseline raise; the remainder is minted as fresh shares, folded
// together with the locked yield shares reserved by earlier redemptions, and
// allocated to the parties proportional to their portions. The operation must
// run periodically or the per-redemption skim keeps compounding against a
// stale baseline.
func (m *Manager) DistributeYield(parties []YieldParty, newApyFormatter uint64) ([]YieldAllocation, error) {
	if m == nil {
		return nil, errNilState
	}
	if m.pool == nil {
		return nil, errNilPool
	}
	if err := common.Guard(m.pauses, moduleName); err != nil {
		return nil, err
	}
	if newApyFormatter > Factor {
		return nil, ErrInvalidApyFormatter
	}
	if len(parties) == 0 {
		return nil, ErrEmptyParties
	}

	m.mu.Lock()
	seen := make(map[[20]byte]bool, len(parties))
	portionSum := big.NewInt(0)
	settlers := make([]Settler, len(parties))
	for i, party := range parties {
		binding, registered := m.agents[party.Agent]
		if !registered {
			m.mu.Unlock()
			return nil, ErrUnknownAgent
		}
		if seen[party.Agent] {
			m.mu.Unlock()
			return nil, ErrDuplicateAgent
		}
		seen[party.Agent] = true
		if party.Portion == nil || party.Portion.Sign() <= 0 {
			m.mu.Unlock()
			return nil, ErrWrongPortion
		}
		portionSum.Add(portionSum, party.Portion)
		settlers[i] = binding.settler
	}
	if portionSum.Cmp(portionWhole) != 0 {
		m.mu.Unlock()
		return nil, ErrWrongPortion
	}

	realTotalSupply, err := m.pool.TotalSupply()
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if realTotalSupply.Cmp(m.totalDeposited) <= 0 {
		m.mu.Unlock()
		return nil, ErrNoRealYield
	}

	realYield := new(big.Int).Sub(realTotalSupply, m.totalDeposited)
	currentYield := new(big.Int).Mul(realYield, new(big.Int).SetUint64(m.apyFormatter))
	currentYield.Quo(currentYield, factorInt)
	extraYield := new(big.Int).Sub(realYield, currentYield)

	sharesToMint := new(big.Int).Mul(extraYield, m.totalShares)
	denom := new(big.Int).Add(m.totalDeposited, currentYield)
	sharesToMint.Quo(sharesToMint, denom)

	sharesToDistribute := new(big.Int).Add(sharesToMint, m.lockedYieldShares)

	allocations := make([]YieldAllocation, len(parties))
	allocated := big.NewInt(0)
	for i, party := range parties {
		shares := new(big.Int).Mul(sharesToDistribute, party.Portion)
		shares.Quo(shares, portionWhole)
		allocations[i] = YieldAllocation{Agent: party.Agent, Party: party.Party, Shares: shares}
		allocated.Add(allocated, shares)
	}
	// Flooring leaves dust; hand it to the last party so the distributed
	// total matches the minted total exactly.
	if remainder := new(big.Int).Sub(sharesToDistribute, allocated); remainder.Sign() > 0 {
		last := &allocations[len(allocations)-1]
		last.Shares = new(big.Int).Add(last.Shares, remainder)
	}

	m.totalShares = new(big.Int).Add(m.totalShares, sharesToMint)
	m.lockedYieldShares = big.NewInt(0)
	m.totalDeposited = new(big.Int).Set(realTotalSupply)
	m.apyFormatter = newApyFormatter
	m.publishLedger()
	m.mu.Unlock()

	for i, allocation := range allocations {
		if settlers[i] == nil || allocation.Shares.Sign() == 0 {
			continue
		}
		if err := settlers[i].DistributeYield(allocation.Party, allocation.Shares); err != nil {
			return nil, err
		}
	}
	if m.metrics != nil {
		m.metrics.ObserveDistribution()
	}
	return allocations, nil
}

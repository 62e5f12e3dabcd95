package pool

import (
	"errors"
	"math/big"
	"testing"

	"crossvault/native/supply"
	"crossvault/storage"
)

type mockToken struct {
	decimals     uint8
	hasBalance   bool
	vault        bool
	assetsPerRaw *big.Int // wrapped conversion rate numerator over 1e18
	balances     map[[20]byte]*big.Int
}

type mockBackend struct {
	holder [20]byte
	tokens map[[20]byte]*mockToken
	calls  [][20]byte
}

func newMockBackend(holder [20]byte) *mockBackend {
	return &mockBackend{holder: holder, tokens: make(map[[20]byte]*mockToken)}
}

func (b *mockBackend) addToken(addr [20]byte, decimals uint8, vault bool) *mockToken {
	token := &mockToken{
		decimals:     decimals,
		hasBalance:   true,
		vault:        vault,
		assetsPerRaw: big.NewInt(1_000_000_000_000_000_000),
		balances:     make(map[[20]byte]*big.Int),
	}
	b.tokens[addr] = token
	return token
}

func (t *mockToken) balanceOf(holder [20]byte) *big.Int {
	if bal, ok := t.balances[holder]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

func (b *mockBackend) BalanceOf(token, holder [20]byte) (*big.Int, bool, error) {
	entry, ok := b.tokens[token]
	if !ok || !entry.hasBalance {
		return nil, false, nil
	}
	return entry.balanceOf(holder), true, nil
}

func (b *mockBackend) Decimals(token [20]byte) (uint8, error) {
	entry, ok := b.tokens[token]
	if !ok {
		return 0, errors.New("mock: unknown token")
	}
	return entry.decimals, nil
}

func (b *mockBackend) ConvertToAssets(token [20]byte, shares *big.Int) (*big.Int, bool, error) {
	entry, ok := b.tokens[token]
	if !ok {
		return nil, false, errors.New("mock: unknown token")
	}
	if !entry.vault {
		return nil, false, nil
	}
	out := new(big.Int).Mul(shares, entry.assetsPerRaw)
	out.Quo(out, big.NewInt(1_000_000_000_000_000_000))
	return out, true, nil
}

func (b *mockBackend) ConvertToShares(token [20]byte, assets *big.Int) (*big.Int, error) {
	entry, ok := b.tokens[token]
	if !ok || !entry.vault {
		return nil, errors.New("mock: not a vault token")
	}
	out := new(big.Int).Mul(assets, big.NewInt(1_000_000_000_000_000_000))
	out.Quo(out, entry.assetsPerRaw)
	return out, nil
}

func (b *mockBackend) Transfer(token, to [20]byte, amount *big.Int) error {
	return b.move(token, b.holder, to, amount)
}

func (b *mockBackend) TransferFrom(token, from, to [20]byte, amount *big.Int) error {
	return b.move(token, from, to, amount)
}

func (b *mockBackend) move(token, from, to [20]byte, amount *big.Int) error {
	entry, ok := b.tokens[token]
	if !ok {
		return errors.New("mock: unknown token")
	}
	balance := entry.balanceOf(from)
	if balance.Cmp(amount) < 0 {
		return errors.New("mock: insufficient balance")
	}
	entry.balances[from] = balance.Sub(balance, amount)
	entry.balances[to] = new(big.Int).Add(entry.balanceOf(to), amount)
	return nil
}

func (b *mockBackend) Call(target [20]byte, value *big.Int, data []byte) error {
	b.calls = append(b.calls, target)
	return nil
}

func addr(fill byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = fill
	}
	return out
}

func TestNormalizeShifts(t *testing.T) {
	// 6-decimal token: shift 12, 1.0 token becomes 1.0 at 18 decimals.
	got := Normalize(12, big.NewInt(1_000_000))
	want, _ := new(big.Int).SetString("1000000000000000000", 10)
	if got.Cmp(want) != 0 {
		t.Fatalf("normalize up: got %s want %s", got, want)
	}
	back := Denormalize(12, got)
	if back.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("denormalize: got %s", back)
	}
	// Negative shift floors the remainder.
	floored := Normalize(-12, big.NewInt(1_999_999_999_999))
	if floored.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("floor division: got %s", floored)
	}
	same := Normalize(0, big.NewInt(42))
	if same.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("identity shift: got %s", same)
	}
}

func TestRegisterTokenDetection(t *testing.T) {
	custody := addr(0x01)
	backend := newMockBackend(custody)
	plain := addr(0xA0)
	vault := addr(0xA1)
	backend.addToken(plain, 6, false)
	backend.addToken(vault, 18, true)

	p := NewPool(custody, backend)
	entry, err := p.RegisterToken(plain)
	if err != nil {
		t.Fatalf("register plain: %v", err)
	}
	if entry.Kind != TokenKindPlain || entry.DecimalShift != 12 {
		t.Fatalf("plain entry misclassified: %+v", entry)
	}
	entry, err = p.RegisterToken(vault)
	if err != nil {
		t.Fatalf("register vault: %v", err)
	}
	if entry.Kind != TokenKindWrappedVault || entry.DecimalShift != 0 {
		t.Fatalf("vault entry misclassified: %+v", entry)
	}
	if _, err := p.RegisterToken(plain); !errors.Is(err, ErrDuplicateToken) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}

	noBalance := addr(0xA2)
	backend.addToken(noBalance, 18, false).hasBalance = false
	if _, err := p.RegisterToken(noBalance); !errors.Is(err, ErrNoBalanceQuery) {
		t.Fatalf("expected balance probe failure, got %v", err)
	}
}

func TestDepositNormalizesSixDecimals(t *testing.T) {
	custody := addr(0x01)
	user := addr(0x02)
	backend := newMockBackend(custody)
	usdc := addr(0xA0)
	backend.addToken(usdc, 6, false).balances[user] = big.NewInt(5_000_000)

	p := NewPool(custody, backend)
	if _, err := p.RegisterToken(usdc); err != nil {
		t.Fatalf("register: %v", err)
	}
	canonical, err := p.Deposit(usdc, user, [32]byte{1}, big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	want, _ := new(big.Int).SetString("1000000000000000000", 10)
	if canonical.Cmp(want) != 0 {
		t.Fatalf("canonical value: got %s want %s", canonical, want)
	}
	if bal := backend.tokens[usdc].balanceOf(custody); bal.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("custody balance: got %s", bal)
	}
}

func TestDepositRejectsUnknownAndBlocked(t *testing.T) {
	custody := addr(0x01)
	backend := newMockBackend(custody)
	token := addr(0xA0)
	backend.addToken(token, 18, false)

	p := NewPool(custody, backend)
	if _, err := p.Deposit(token, addr(0x02), [32]byte{}, big.NewInt(1)); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected unknown token, got %v", err)
	}
	if _, err := p.RegisterToken(token); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := p.SetTokenBlocked(token, true); err != nil {
		t.Fatalf("block: %v", err)
	}
	if _, err := p.Deposit(token, addr(0x02), [32]byte{}, big.NewInt(1)); !errors.Is(err, ErrTokenBlocked) {
		t.Fatalf("expected blocked token, got %v", err)
	}
}

func TestTotalSupplyClampsPendingAboveLive(t *testing.T) {
	custody := addr(0x01)
	backend := newMockBackend(custody)
	token := addr(0xA0)
	mock := backend.addToken(token, 18, false)
	mock.balances[custody] = big.NewInt(100)

	p := NewPool(custody, backend)
	if _, err := p.RegisterToken(token); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := p.RequestRedeem(token, big.NewInt(90)); err != nil {
		t.Fatalf("request redeem: %v", err)
	}
	supply, err := p.TotalSupply()
	if err != nil {
		t.Fatalf("total supply: %v", err)
	}
	if supply.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("supply with pending: got %s want 10", supply)
	}
	// Simulate price movement draining the live balance below the liability.
	mock.balances[custody] = big.NewInt(50)
	supply, err = p.TotalSupply()
	if err != nil {
		t.Fatalf("total supply: %v", err)
	}
	if supply.Sign() != 0 {
		t.Fatalf("expected clamped zero supply, got %s", supply)
	}
}

func TestWrappedVaultConversion(t *testing.T) {
	custody := addr(0x01)
	user := addr(0x02)
	backend := newMockBackend(custody)
	wtoken := addr(0xB0)
	mock := backend.addToken(wtoken, 18, true)
	// 1 vault share is worth 2 underlying assets.
	mock.assetsPerRaw = big.NewInt(2_000_000_000_000_000_000)
	mock.balances[user] = big.NewInt(10)

	p := NewPool(custody, backend)
	if _, err := p.RegisterToken(wtoken); err != nil {
		t.Fatalf("register: %v", err)
	}
	canonical, err := p.Deposit(wtoken, user, [32]byte{1}, big.NewInt(10))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if canonical.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("converted deposit: got %s want 20", canonical)
	}
	raw, err := p.RequestRedeem(wtoken, big.NewInt(20))
	if err != nil {
		t.Fatalf("request redeem: %v", err)
	}
	if raw.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("converted redeem: got %s want 10", raw)
	}
}

type stubLedger struct {
	agent    [20]byte
	token    [20]byte
	total    *big.Int
	prepared bool
	commits  int
	aborts   int
}

func (s *stubLedger) PrepareRedeem(requestIDs [][32]byte) ([20]byte, [20]byte, *big.Int, error) {
	if s.prepared {
		return s.agent, s.token, nil, errors.New("stub: batch already staked")
	}
	s.prepared = true
	return s.agent, s.token, new(big.Int).Set(s.total), nil
}

func (s *stubLedger) CommitRedeem(requestIDs [][32]byte) error {
	if !s.prepared {
		return errors.New("stub: commit without stake")
	}
	s.prepared = false
	s.commits++
	return nil
}

func (s *stubLedger) AbortRedeem(requestIDs [][32]byte) error {
	if !s.prepared {
		return errors.New("stub: abort without stake")
	}
	s.prepared = false
	s.aborts++
	return nil
}

func TestRedeemSettlesPendingReservation(t *testing.T) {
	custody := addr(0x01)
	agent := addr(0x03)
	backend := newMockBackend(custody)
	token := addr(0xA0)
	backend.addToken(token, 18, false).balances[custody] = big.NewInt(1_000)

	p := NewPool(custody, backend)
	if _, err := p.RegisterToken(token); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := p.RequestRedeem(token, big.NewInt(400)); err != nil {
		t.Fatalf("request redeem: %v", err)
	}
	ledger := &stubLedger{agent: agent, token: token, total: big.NewInt(400)}
	p.SetSupplyLedger(ledger)

	gotToken, total, err := p.Redeem([][32]byte{{1}})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if gotToken != token || total.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("redeem result: token %x total %s", gotToken, total)
	}
	entry, err := p.TokenEntryOf(token)
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if entry.PendingRedeem.Sign() != 0 {
		t.Fatalf("pending not released: %s", entry.PendingRedeem)
	}
	if bal := backend.tokens[token].balanceOf(agent); bal.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("agent payout: got %s", bal)
	}
	if ledger.commits != 1 || ledger.aborts != 0 {
		t.Fatalf("ledger lifecycle: commits=%d aborts=%d", ledger.commits, ledger.aborts)
	}
	if _, _, err := p.Redeem(nil); !errors.Is(err, ErrEmptyRequestList) {
		t.Fatalf("expected empty list rejection, got %v", err)
	}
}

// recordingSettler counts the settlement callbacks the share ledger fires.
type recordingSettler struct {
	batches int
	total   *big.Int
}

func (s *recordingSettler) SettleRedeem(requestIDs [][32]byte, values []*big.Int, total *big.Int) error {
	s.batches++
	s.total = new(big.Int).Set(total)
	return nil
}

func (s *recordingSettler) DistributeYield(party [20]byte, shares *big.Int) error {
	return nil
}

func TestRedeemTransferFailureLeavesBatchRetryable(t *testing.T) {
	custody := addr(0x01)
	agent := addr(0x03)
	backend := newMockBackend(custody)
	token := addr(0xA0)
	mock := backend.addToken(token, 18, false)
	mock.balances[custody] = big.NewInt(1_000)

	p := NewPool(custody, backend)
	if _, err := p.RegisterToken(token); err != nil {
		t.Fatalf("register: %v", err)
	}
	mgr, err := supply.NewManager(custody, big.NewInt(1), storage.NewMemDB(), big.NewInt(1_000), supply.Factor)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	mgr.SetPool(p)
	p.SetSupplyLedger(mgr)
	settler := &recordingSettler{}
	if err := mgr.RegisterAgent(agent, token, settler); err != nil {
		t.Fatalf("register agent: %v", err)
	}
	id := [32]byte{1}
	if _, err := mgr.RequestRedeem(agent, token, id, big.NewInt(400)); err != nil {
		t.Fatalf("request redeem: %v", err)
	}

	// Drain custody so the payout transfer fails mid-settlement.
	mock.balances[custody] = big.NewInt(0)
	if _, _, err := p.Redeem([][32]byte{id}); err == nil {
		t.Fatalf("expected transfer failure")
	}
	record, exists, err := mgr.Operation(id)
	if err != nil || !exists {
		t.Fatalf("record missing: %v", err)
	}
	if record.Status != supply.StatusPending {
		t.Fatalf("record not rolled back: %v", record.Status)
	}
	if settler.batches != 0 {
		t.Fatalf("settler fired despite failed transfer: %d", settler.batches)
	}
	entry, err := p.TokenEntryOf(token)
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if entry.PendingRedeem.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("reservation released on failure: %s", entry.PendingRedeem)
	}

	// Refund custody; the same batch settles cleanly on retry.
	mock.balances[custody] = big.NewInt(400)
	gotToken, total, err := p.Redeem([][32]byte{id})
	if err != nil {
		t.Fatalf("retry redeem: %v", err)
	}
	if gotToken != token || total.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("retry result: token %x total %s", gotToken, total)
	}
	record, _, err = mgr.Operation(id)
	if err != nil || record.Status != supply.StatusConfirmed {
		t.Fatalf("retried record: status %v err %v", record.Status, err)
	}
	if settler.batches != 1 || settler.total.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("settler callbacks: batches=%d total=%s", settler.batches, settler.total)
	}
	if bal := backend.tokens[token].balanceOf(agent); bal.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("agent payout: got %s", bal)
	}
	entry, err = p.TokenEntryOf(token)
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if entry.PendingRedeem.Sign() != 0 {
		t.Fatalf("reservation not released: %s", entry.PendingRedeem)
	}
}

func TestRemoveTokenRequiresZeroExposure(t *testing.T) {
	custody := addr(0x01)
	backend := newMockBackend(custody)
	token := addr(0xA0)
	mock := backend.addToken(token, 18, false)
	mock.balances[custody] = big.NewInt(5)

	p := NewPool(custody, backend)
	if _, err := p.RegisterToken(token); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := p.RemoveToken(token); !errors.Is(err, ErrTokenInUse) {
		t.Fatalf("expected live-balance rejection, got %v", err)
	}
	mock.balances[custody] = big.NewInt(0)
	if err := p.RemoveToken(token); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := p.RemoveToken(token); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected unknown token, got %v", err)
	}
}

func TestExecuteCapabilityGate(t *testing.T) {
	custody := addr(0x01)
	keeper := addr(0x0E)
	backend := newMockBackend(custody)
	token := addr(0xA0)
	strategy := addr(0xC0)
	backend.addToken(token, 18, false)

	p := NewPool(custody, backend)
	p.SetKeeper(keeper)
	if _, err := p.RegisterToken(token); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := p.Execute(addr(0x05), strategy, nil, nil); !errors.Is(err, ErrNotKeeper) {
		t.Fatalf("expected keeper rejection, got %v", err)
	}
	if err := p.Execute(keeper, strategy, nil, nil); !errors.Is(err, ErrTargetNotAllowed) {
		t.Fatalf("expected whitelist rejection, got %v", err)
	}
	p.SetWhitelisted(strategy, true)
	if err := p.Execute(keeper, strategy, nil, []byte{0x01}); err != nil {
		t.Fatalf("whitelisted call: %v", err)
	}

	// Approval to a registered token is allowed when the spender is
	// whitelisted and no value is attached.
	calldata := make([]byte, 4+32+32)
	copy(calldata, approveSelector)
	copy(calldata[4+12:4+32], strategy[:])
	if err := p.Execute(keeper, token, nil, calldata); err != nil {
		t.Fatalf("approve call: %v", err)
	}
	if err := p.Execute(keeper, token, big.NewInt(1), calldata); !errors.Is(err, ErrApproveWithValue) {
		t.Fatalf("expected value rejection, got %v", err)
	}
	other := addr(0xDD)
	copy(calldata[4+12:4+32], other[:])
	if err := p.Execute(keeper, token, nil, calldata); !errors.Is(err, ErrSpenderNotAllowed) {
		t.Fatalf("expected spender rejection, got %v", err)
	}
}

func TestMigrateRefusesOpenRedemptions(t *testing.T) {
	custody := addr(0x01)
	successor := addr(0x09)
	backend := newMockBackend(custody)
	token := addr(0xA0)
	backend.addToken(token, 18, false).balances[custody] = big.NewInt(10_000)

	prior := NewPool(custody, backend)
	if _, err := prior.RegisterToken(token); err != nil {
		t.Fatalf("register: %v", err)
	}
	prior.SetAgent(addr(0x03), true)
	if _, err := prior.RequestRedeem(token, big.NewInt(5_000)); err != nil {
		t.Fatalf("request redeem: %v", err)
	}

	next := NewPool(successor, newMockBackendShared(backend, successor))
	if err := next.Migrate(prior); !errors.Is(err, ErrMigrationPending) {
		t.Fatalf("expected migration refusal, got %v", err)
	}

	// Settle the reservation, leaving only dust.
	ledger := &stubLedger{agent: addr(0x03), token: token, total: big.NewInt(5_000)}
	prior.SetSupplyLedger(ledger)
	if _, _, err := prior.Redeem([][32]byte{{1}}); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if err := next.Migrate(prior); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !next.IsAgent(addr(0x03)) {
		t.Fatalf("agent authorization not carried over")
	}
	if bal := backend.tokens[token].balanceOf(successor); bal.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("migrated balance: got %s", bal)
	}
	if bal := backend.tokens[token].balanceOf(custody); bal.Sign() != 0 {
		t.Fatalf("prior custody not drained: got %s", bal)
	}
}

// newMockBackendShared views the same token universe through a different
// custody identity, mirroring two pool deployments on one chain.
func newMockBackendShared(base *mockBackend, holder [20]byte) *mockBackend {
	return &mockBackend{holder: holder, tokens: base.tokens}
}

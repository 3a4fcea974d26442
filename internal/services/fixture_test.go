package services

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"subyield/internal/custody"
	"subyield/internal/models/db_models"
	"subyield/internal/repositories"
	"subyield/pkg/utils"
)

const (
	token      int64 = 1_000_000
	monthly          = 10 * token
	yearly           = 100 * token
	startFunds       = 1_000 * token
	apyBps     int64 = 500
)

var (
	adminAddr    = utils.MustNormalizeAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	backendAddr  = utils.MustNormalizeAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	providerAddr = utils.MustNormalizeAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	treasuryAddr = utils.MustNormalizeAddress("0x1111111111111111111111111111111111111111")
	vaultAddr    = utils.MustNormalizeAddress("0x2222222222222222222222222222222222222222")
	alice        = utils.MustNormalizeAddress("0x3333333333333333333333333333333333333333")
	bob          = utils.MustNormalizeAddress("0x4444444444444444444444444444444444444444")
	stranger     = utils.MustNormalizeAddress("0x5555555555555555555555555555555555555555")
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	t         *testing.T
	ctx       context.Context
	clock     *utils.ManualClock
	token     *custody.SandboxToken
	vault     *custody.SandboxVault
	repo      repositories.LedgerRepository
	authority *RoleAuthority
	plans     PlanServiceInterface
	ledger    SubscriptionLedger
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	wrapToken func(*custody.SandboxToken) custody.PaymentToken
	wrapVault func(*custody.SandboxVault) custody.YieldVault
	wrapRepo  func(repositories.LedgerRepository) repositories.LedgerRepository
}

func withToken(fn func(*custody.SandboxToken) custody.PaymentToken) fixtureOption {
	return func(c *fixtureConfig) { c.wrapToken = fn }
}

func withVault(fn func(*custody.SandboxVault) custody.YieldVault) fixtureOption {
	return func(c *fixtureConfig) { c.wrapVault = fn }
}

func withRepo(fn func(repositories.LedgerRepository) repositories.LedgerRepository) fixtureOption {
	return func(c *fixtureConfig) { c.wrapRepo = fn }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := fixtureConfig{
		wrapToken: func(tok *custody.SandboxToken) custody.PaymentToken { return tok },
		wrapVault: func(v *custody.SandboxVault) custody.YieldVault { return v },
		wrapRepo:  func(r repositories.LedgerRepository) repositories.LedgerRepository { return r },
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	clock := utils.NewManualClock(epoch)
	tok := custody.NewSandboxToken(treasuryAddr)
	vault := custody.NewSandboxVault(tok, vaultAddr, clock, apyBps)
	repo := cfg.wrapRepo(repositories.NewMemoryLedgerRepository())

	authority, err := NewRoleAuthority(adminAddr, backendAddr, []string{providerAddr})
	require.NoError(t, err)

	logger := zapNop()
	plans := NewPlanService(repo, authority, clock, logger)
	ledger := NewSubscriptionLedger(repo, plans, authority, cfg.wrapToken(tok), cfg.wrapVault(vault), clock,
		LedgerOptions{CustodyTimeout: time.Second}, logger)

	for _, who := range []string{alice, bob} {
		require.NoError(t, tok.Mint(who, startFunds))
		require.NoError(t, tok.Approve(who, treasuryAddr, startFunds))
	}

	return &fixture{
		t:         t,
		ctx:       context.Background(),
		clock:     clock,
		token:     tok,
		vault:     vault,
		repo:      repo,
		authority: authority,
		plans:     plans,
		ledger:    ledger,
	}
}

func (f *fixture) createPlan(monthlyRate, yearlyRate int64) uint64 {
	f.t.Helper()
	plan, err := f.plans.CreatePlan(f.ctx, providerAddr, PlanInput{Name: "Basic", MonthlyRate: monthlyRate, YearlyRate: yearlyRate})
	require.NoError(f.t, err)
	return plan.ID
}

func (f *fixture) balance(account string) int64 {
	f.t.Helper()
	bal, err := f.token.BalanceOf(f.ctx, account)
	require.NoError(f.t, err)
	return bal
}

func (f *fixture) advance(d time.Duration) {
	f.clock.Advance(d)
}

func (f *fixture) sub(subscriber string, planID uint64) *db_models.Subscription {
	f.t.Helper()
	sub, err := f.ledger.GetSubscription(f.ctx, subscriber, planID)
	require.NoError(f.t, err)
	return sub
}

func (f *fixture) events() []db_models.LedgerEvent {
	f.t.Helper()
	events, err := f.repo.EventsSince(f.ctx, 0, 0)
	require.NoError(f.t, err)
	return events
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

func zapNop() *zap.Logger { return zap.NewNop() }

// failingVault rejects every operation.
type failingVault struct{}

func (failingVault) Deposit(ctx context.Context, amount int64) (int64, error) {
	return 0, errors.New("vault offline")
}

func (failingVault) Redeem(ctx context.Context, shares int64) (int64, error) {
	return 0, errors.New("vault offline")
}

// lossyVault leaves deposits in the treasury and redeems them at a fixed loss.
type lossyVault struct {
	lossBps int64
}

func (v lossyVault) Deposit(ctx context.Context, amount int64) (int64, error) {
	return amount, nil
}

func (v lossyVault) Redeem(ctx context.Context, shares int64) (int64, error) {
	return shares - shares*v.lossBps/10_000, nil
}

// refusingToken fails payouts while refuse is set.
type refusingToken struct {
	*custody.SandboxToken
	refuse bool
}

func (t *refusingToken) Transfer(ctx context.Context, to string, amount int64) error {
	if t.refuse {
		return errors.New("transfer rejected")
	}
	return t.SandboxToken.Transfer(ctx, to, amount)
}

var errCommit = errors.New("commit failed")

// commitFailingRepo runs the transaction body and then fails as if the commit was lost.
type commitFailingRepo struct {
	repositories.LedgerRepository
	fail bool
}

func (r *commitFailingRepo) WithinTransaction(ctx context.Context, fn func(tx repositories.LedgerTx) error) error {
	return r.LedgerRepository.WithinTransaction(ctx, func(tx repositories.LedgerTx) error {
		if err := fn(tx); err != nil {
			return err
		}
		if r.fail {
			return errCommit
		}
		return nil
	})
}

// gatedVault holds every deposit until release is closed.
type gatedVault struct {
	custody.YieldVault
	entered chan struct{}
	release chan struct{}
}

func newGatedVault(inner custody.YieldVault) *gatedVault {
	return &gatedVault{YieldVault: inner, entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (v *gatedVault) Deposit(ctx context.Context, amount int64) (int64, error) {
	v.entered <- struct{}{}
	select {
	case <-v.release:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return v.YieldVault.Deposit(ctx, amount)
}

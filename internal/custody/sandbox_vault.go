package custody

import (
	"context"
	"fmt"
	"sync"
	"time"

	"subyield/pkg/utils"
)

// SandboxVault is a single-asset share vault. Assets accrue simple interest at a fixed
// APY between operations; the yield is minted into the vault's token account so that
// redemptions are always backed by real sandbox balance.
type SandboxVault struct {
	mu          sync.Mutex
	token       *SandboxToken
	account     string
	clock       utils.Clock
	apyBps      int64
	totalShares int64
	lastAccrual time.Time
}

func NewSandboxVault(token *SandboxToken, account string, clock utils.Clock, apyBps int64) *SandboxVault {
	return &SandboxVault{
		token:       token,
		account:     account,
		clock:       clock,
		apyBps:      apyBps,
		lastAccrual: clock.Now(),
	}
}

func (v *SandboxVault) Account() string { return v.account }

func (v *SandboxVault) Deposit(ctx context.Context, amount int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, fmt.Errorf("%w: deposit of %d", utils.ErrVaultFailure, amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.accrueLocked(); err != nil {
		return 0, err
	}
	assets := v.assetsLocked()
	shares := amount
	if v.totalShares > 0 && assets > 0 {
		shares = utils.MulDivFloor(amount, v.totalShares, assets)
	}
	if shares <= 0 {
		return 0, fmt.Errorf("%w: deposit of %d mints no shares", utils.ErrVaultFailure, amount)
	}
	if err := v.token.move(v.token.Treasury(), v.account, amount); err != nil {
		return 0, fmt.Errorf("%w: pull from treasury: %v", utils.ErrVaultFailure, err)
	}
	v.totalShares += shares
	return shares, nil
}

func (v *SandboxVault) Redeem(ctx context.Context, shares int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if shares <= 0 || shares > v.totalShares {
		return 0, fmt.Errorf("%w: redeem %d of %d shares", utils.ErrVaultFailure, shares, v.totalShares)
	}
	if err := v.accrueLocked(); err != nil {
		return 0, err
	}
	amount := utils.MulDivFloor(shares, v.assetsLocked(), v.totalShares)
	if err := v.token.move(v.account, v.token.Treasury(), amount); err != nil {
		return 0, fmt.Errorf("%w: release to treasury: %v", utils.ErrVaultFailure, err)
	}
	v.totalShares -= shares
	return amount, nil
}

// PreviewRedeem reports what shares are worth right now. Informational only.
func (v *SandboxVault) PreviewRedeem(shares int64) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.totalShares == 0 {
		return 0
	}
	assets := v.assetsLocked() + v.pendingYieldLocked()
	return utils.MulDivFloor(shares, assets, v.totalShares)
}

func (v *SandboxVault) assetsLocked() int64 {
	bal, _ := v.token.BalanceOf(context.Background(), v.account)
	return bal
}

func (v *SandboxVault) pendingYieldLocked() int64 {
	elapsed := int64(v.clock.Now().Sub(v.lastAccrual) / time.Second)
	if elapsed <= 0 || v.totalShares == 0 {
		return 0
	}
	return utils.MulDivFloor(v.assetsLocked(), v.apyBps*elapsed, 10_000*utils.YearSeconds)
}

func (v *SandboxVault) accrueLocked() error {
	if v.totalShares == 0 {
		v.lastAccrual = v.clock.Now()
		return nil
	}
	yield := v.pendingYieldLocked()
	if yield <= 0 {
		return nil
	}
	if err := v.token.Mint(v.account, yield); err != nil {
		return fmt.Errorf("%w: accrue: %v", utils.ErrVaultFailure, err)
	}
	v.lastAccrual = v.clock.Now()
	return nil
}

var _ YieldVault = (*SandboxVault)(nil)

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"subyield/internal/custody"
	"subyield/pkg/utils"
)

// undoLog records compensations for custody steps already performed inside a ledger
// transition. If the transition does not commit, the steps run newest first.
type undoLog struct {
	steps []undoStep
}

type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

func (u *undoLog) push(name string, fn func(ctx context.Context) error) {
	u.steps = append(u.steps, undoStep{name: name, fn: fn})
}

func (u *undoLog) len() int { return len(u.steps) }

// unwind ignores cancellation of the caller's context: compensations must run even when
// the request that triggered the transition has gone away.
func (u *undoLog) unwind(ctx context.Context, timeout time.Duration, logger *zap.Logger) {
	base := context.WithoutCancel(ctx)
	for i := len(u.steps) - 1; i >= 0; i-- {
		step := u.steps[i]
		stepCtx, cancel := context.WithTimeout(base, timeout)
		err := step.fn(stepCtx)
		cancel()
		if err != nil {
			logger.Error("custody compensation failed, manual reconciliation required",
				zap.String("step", step.name), zap.Error(err))
			continue
		}
		logger.Warn("custody step compensated", zap.String("step", step.name))
	}
	u.steps = nil
}

// custodian performs the ledger's token and vault movements with a bounded timeout per call.
type custodian struct {
	token   custody.PaymentToken
	vault   custody.YieldVault
	timeout time.Duration
}

func newCustodian(token custody.PaymentToken, vault custody.YieldVault, timeout time.Duration) *custodian {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &custodian{token: token, vault: vault, timeout: timeout}
}

// pull moves amount from owner into the treasury. A refund is registered on success.
func (c *custodian) pull(ctx context.Context, undo *undoLog, owner string, amount int64) error {
	if amount == 0 {
		return nil
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.token.TransferFrom(callCtx, owner, c.token.Treasury(), amount); err != nil {
		return custodyError("pull payment", err)
	}
	undo.push(fmt.Sprintf("refund %d to %s", amount, owner), func(ctx context.Context) error {
		return c.token.Transfer(ctx, owner, amount)
	})
	return nil
}

// stake deposits amount from the treasury into the vault. A redemption of the issued
// shares back to the treasury is registered on success.
func (c *custodian) stake(ctx context.Context, undo *undoLog, amount int64) (int64, error) {
	if amount == 0 {
		return 0, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	shares, err := c.vault.Deposit(callCtx, amount)
	if err != nil {
		return 0, vaultError("deposit", err)
	}
	if shares <= 0 {
		return 0, fmt.Errorf("%w: deposit of %d issued %d shares", utils.ErrVaultFailure, amount, shares)
	}
	undo.push(fmt.Sprintf("redeem %d shares", shares), func(ctx context.Context) error {
		_, err := c.vault.Redeem(ctx, shares)
		return err
	})
	return shares, nil
}

func (c *custodian) redeem(ctx context.Context, shares int64) (int64, error) {
	if shares == 0 {
		return 0, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	amount, err := c.vault.Redeem(callCtx, shares)
	if err != nil {
		return 0, vaultError("redeem", err)
	}
	if amount < 0 {
		return 0, fmt.Errorf("%w: redeem of %d shares returned %d", utils.ErrVaultFailure, shares, amount)
	}
	return amount, nil
}

// payout sends amount from the treasury. Token transfers cannot be clawed back, so the
// registered step only reports the stranded payout.
func (c *custodian) payout(ctx context.Context, undo *undoLog, to string, amount int64) error {
	if amount == 0 {
		return nil
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.token.Transfer(callCtx, to, amount); err != nil {
		return custodyError("payout", err)
	}
	undo.push(fmt.Sprintf("payout %d to %s", amount, to), func(ctx context.Context) error {
		return fmt.Errorf("payout of %d to %s already settled and cannot be reversed", amount, to)
	})
	return nil
}

// release redeems a subscription's shares and pays the subscriber. When principalOnly is
// set the payout is capped at principal and any excess stays in the treasury.
//
// If the payout fails after redemption, the proceeds are deposited again and the
// replacement share count is returned in restaked so the caller can keep the record
// consistent with the vault.
func (c *custodian) release(ctx context.Context, undo *undoLog, to string, principal, shares int64, principalOnly bool) (settlement, error) {
	var s settlement
	if shares == 0 {
		return s, nil
	}
	proceeds, err := c.redeem(ctx, shares)
	if err != nil {
		return s, err
	}

	s.payout = proceeds
	if principalOnly && s.payout > principal {
		s.payout = principal
	}
	s.yield = proceeds - principal
	if s.yield < 0 {
		s.shortfall = -s.yield
		s.yield = 0
	}

	if err := c.payout(ctx, undo, to, s.payout); err != nil {
		if proceeds == 0 {
			return settlement{}, err
		}
		newShares, restakeErr := c.stake(ctx, &undoLog{}, proceeds)
		if restakeErr != nil {
			return settlement{}, errors.Join(err, fmt.Errorf("restake %d after failed payout: %w", proceeds, restakeErr))
		}
		return settlement{restaked: newShares}, err
	}
	return s, nil
}

type settlement struct {
	payout    int64
	yield     int64
	shortfall int64

	// restaked is the share count re-issued after a failed payout; zero otherwise.
	restaked int64
}

func custodyError(op string, err error) error {
	if errors.Is(err, utils.ErrInsufficientFunds) || errors.Is(err, utils.ErrInvalidAmount) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s timed out: %v", utils.ErrVaultFailure, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func vaultError(op string, err error) error {
	if errors.Is(err, utils.ErrVaultFailure) {
		return fmt.Errorf("vault %s: %w", op, err)
	}
	return fmt.Errorf("%w: vault %s: %v", utils.ErrVaultFailure, op, err)
}

func jsonMeta(v map[string]any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(b)
}

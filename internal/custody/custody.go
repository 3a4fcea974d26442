// Package custody defines the narrow capabilities the subscription ledger uses to move
// funds: a fixed-decimal payment token and a share-issuing yield vault.
package custody

import (
	"context"
	"fmt"

	"subyield/pkg/utils"
)

// PaymentToken is bound to the ledger's treasury account: TransferFrom spends the
// treasury's allowance and Transfer pays out of the treasury balance.
type PaymentToken interface {
	BalanceOf(ctx context.Context, account string) (int64, error)
	Allowance(ctx context.Context, owner, spender string) (int64, error)
	TransferFrom(ctx context.Context, owner, to string, amount int64) error
	Transfer(ctx context.Context, to string, amount int64) error
	Treasury() string
}

// YieldVault takes token units from the treasury and issues shares; redeeming shares
// returns token units to the treasury, grown (or shrunk) by whatever the vault earned.
type YieldVault interface {
	Deposit(ctx context.Context, amount int64) (shares int64, err error)
	Redeem(ctx context.Context, shares int64) (amount int64, err error)
}

var (
	ErrInsufficientBalance   = fmt.Errorf("%w: balance too low", utils.ErrInsufficientFunds)
	ErrInsufficientAllowance = fmt.Errorf("%w: allowance too low", utils.ErrInsufficientFunds)
)

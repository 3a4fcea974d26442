package custody

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"subyield/pkg/utils"
)

// SandboxToken is an in-process ledger of balances and allowances that behaves like a
// 6-decimal stable token. It lets the service run end to end without a chain.
type SandboxToken struct {
	mu         sync.Mutex
	treasury   string
	balances   map[string]int64
	allowances map[string]map[string]int64
}

func NewSandboxToken(treasury string) *SandboxToken {
	return &SandboxToken{
		treasury:   treasury,
		balances:   make(map[string]int64),
		allowances: make(map[string]map[string]int64),
	}
}

func key(account string) string { return strings.ToLower(account) }

func (t *SandboxToken) Treasury() string { return t.treasury }

func (t *SandboxToken) BalanceOf(ctx context.Context, account string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[key(account)], nil
}

func (t *SandboxToken) Allowance(ctx context.Context, owner, spender string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowances[key(owner)][key(spender)], nil
}

func (t *SandboxToken) TransferFrom(ctx context.Context, owner, to string, amount int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount < 0 {
		return fmt.Errorf("%w: negative transfer", utils.ErrInvalidAmount)
	}
	if amount == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	spender := key(t.treasury)
	allowed := t.allowances[key(owner)][spender]
	if allowed < amount {
		return fmt.Errorf("%w: owner %s allows %d, need %d", ErrInsufficientAllowance, owner, allowed, amount)
	}
	if err := t.moveLocked(owner, to, amount); err != nil {
		return err
	}
	t.allowances[key(owner)][spender] = allowed - amount
	return nil
}

func (t *SandboxToken) Transfer(ctx context.Context, to string, amount int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount < 0 {
		return fmt.Errorf("%w: negative transfer", utils.ErrInvalidAmount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.moveLocked(t.treasury, to, amount)
}

// Mint credits new units to account. Sandbox faucet and vault yield only.
func (t *SandboxToken) Mint(account string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative mint", utils.ErrInvalidAmount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[key(account)] += amount
	return nil
}

// Approve sets the allowance owner grants spender, replacing any previous value.
func (t *SandboxToken) Approve(owner, spender string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative allowance", utils.ErrInvalidAmount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[key(owner)] == nil {
		t.allowances[key(owner)] = make(map[string]int64)
	}
	t.allowances[key(owner)][key(spender)] = amount
	return nil
}

func (t *SandboxToken) move(from, to string, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.moveLocked(from, to, amount)
}

func (t *SandboxToken) moveLocked(from, to string, amount int64) error {
	if t.balances[key(from)] < amount {
		return fmt.Errorf("%w: %s holds %d, need %d", ErrInsufficientBalance, from, t.balances[key(from)], amount)
	}
	t.balances[key(from)] -= amount
	t.balances[key(to)] += amount
	return nil
}

var _ PaymentToken = (*SandboxToken)(nil)

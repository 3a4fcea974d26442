package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subyield/internal/custody"
	"subyield/internal/models/db_models"
	"subyield/internal/repositories"
	"subyield/pkg/utils"
)

func TestSubscribeMonthly_WithoutStakePullsOneMonth(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)

	sub, err := f.ledger.SubscribeMonthly(f.ctx, alice, planID, false, true)
	require.NoError(t, err)

	now := epoch.Unix()
	assert.Equal(t, db_models.SubStatusActive, sub.Status)
	assert.Equal(t, db_models.SubTypeMonthly, sub.SubType)
	assert.Equal(t, now, sub.StartTime)
	assert.Equal(t, now, sub.LastPayment)
	assert.Equal(t, now+utils.MonthSeconds, sub.ExpirationTime)
	assert.True(t, sub.AutoPayEnabled)
	assert.Zero(t, sub.StakedAmount)
	assert.Zero(t, sub.VaultShares)

	assert.Equal(t, startFunds-monthly, f.balance(alice))
	assert.Equal(t, monthly, f.balance(treasuryAddr))
	assert.Zero(t, f.balance(vaultAddr))

	plan, err := f.plans.GetPlan(f.ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), plan.SubscriberCount)
	assert.Equal(t, monthly, plan.TotalRevenue)

	events := f.events()
	require.Len(t, events, 2)
	assert.Equal(t, db_models.EventPlanCreated, events[0].Kind)
	assert.Equal(t, db_models.EventSubscriptionCreated, events[1].Kind)
	assert.Equal(t, alice, events[1].Subscriber)
	assert.Equal(t, monthly, events[1].Amount)
}

func TestSubscribeMonthly_StakeYearlyDepositsYearIntoVault(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)

	sub, err := f.ledger.SubscribeMonthly(f.ctx, alice, planID, true, true)
	require.NoError(t, err)

	assert.Equal(t, db_models.SubTypeMonthly, sub.SubType)
	assert.Equal(t, epoch.Unix()+utils.MonthSeconds, sub.ExpirationTime)
	assert.Equal(t, yearly, sub.StakedAmount)
	assert.Equal(t, yearly, sub.VaultShares)
	require.NoError(t, sub.Validate())

	assert.Equal(t, startFunds-yearly, f.balance(alice))
	assert.Zero(t, f.balance(treasuryAddr))
	assert.Equal(t, yearly, f.balance(vaultAddr))
}

func TestSubscribeYearly_StakesAndDisablesAutoPay(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)

	sub, err := f.ledger.SubscribeYearly(f.ctx, alice, planID)
	require.NoError(t, err)

	assert.Equal(t, db_models.SubTypeYearly, sub.SubType)
	assert.Equal(t, epoch.Unix()+utils.YearSeconds, sub.ExpirationTime)
	assert.False(t, sub.AutoPayEnabled)
	assert.Equal(t, yearly, sub.StakedAmount)
	assert.Positive(t, sub.VaultShares)
	assert.Equal(t, startFunds-yearly, f.balance(alice))
	assert.Equal(t, yearly, f.balance(vaultAddr))
}

func TestSubscribe_RejectsActiveDuplicateWithoutMovingFunds(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)

	_, err := f.ledger.SubscribeMonthly(f.ctx, alice, planID, false, true)
	require.NoError(t, err)

	_, err = f.ledger.SubscribeYearly(f.ctx, alice, planID)
	assert.ErrorIs(t, err, utils.ErrInvalidState)
	assert.Equal(t, startFunds-monthly, f.balance(alice))
	assert.Equal(t, db_models.SubTypeMonthly, f.sub(alice, planID).SubType)
}

func TestSubscribe_PlanMustExistAndBeActive(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)

	_, err := f.ledger.SubscribeMonthly(f.ctx, alice, 999, false, true)
	assert.ErrorIs(t, err, utils.ErrPlanNotFound)
	assert.ErrorIs(t, err, utils.ErrInvalidPlan)

	inactive := false
	_, err = f.plans.UpdatePlan(f.ctx, providerAddr, planID, PlanInput{MonthlyRate: monthly, YearlyRate: yearly, IsActive: &inactive})
	require.NoError(t, err)

	_, err = f.ledger.SubscribeMonthly(f.ctx, alice, planID, false, true)
	assert.ErrorIs(t, err, utils.ErrPlanInactive)
	assert.Equal(t, startFunds, f.balance(alice))
}

func TestSubscribe_InsufficientAllowanceLeavesNoRecord(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)
	require.NoError(t, f.token.Approve(alice, treasuryAddr, monthly-1))

	_, err := f.ledger.SubscribeMonthly(f.ctx, alice, planID, false, true)
	assert.ErrorIs(t, err, utils.ErrInsufficientFunds)

	_, err = f.ledger.GetSubscription(f.ctx, alice, planID)
	assert.ErrorIs(t, err, utils.ErrSubscriptionNotFound)
	assert.Equal(t, startFunds, f.balance(alice))
	assert.Len(t, f.events(), 1)
}

func TestSubscribe_RejectsInvalidSubscriberAddress(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)

	_, err := f.ledger.SubscribeMonthly(f.ctx, utils.ZeroAddress, planID, false, true)
	assert.ErrorIs(t, err, utils.ErrInvalidAddress)
	_, err = f.ledger.SubscribeMonthly(f.ctx, "not-an-address", planID, false, true)
	assert.ErrorIs(t, err, utils.ErrInvalidAddress)
}

func TestSubscribe_VaultFailureRefundsSubscriber(t *testing.T) {
	f := newFixture(t, withVault(func(*custody.SandboxVault) custody.YieldVault { return failingVault{} }))
	planID := f.createPlan(monthly, yearly)

	_, err := f.ledger.SubscribeYearly(f.ctx, alice, planID)
	assert.ErrorIs(t, err, utils.ErrVaultFailure)

	assert.Equal(t, startFunds, f.balance(alice))
	assert.Zero(t, f.balance(treasuryAddr))
	_, err = f.ledger.GetSubscription(f.ctx, alice, planID)
	assert.ErrorIs(t, err, utils.ErrSubscriptionNotFound)

	plan, err := f.plans.GetPlan(f.ctx, planID)
	require.NoError(t, err)
	assert.Zero(t, plan.SubscriberCount)
	assert.Zero(t, plan.TotalRevenue)
}

func TestSubscribe_SlowVaultDoesNotStallOtherSubscribers(t *testing.T) {
	var vault *gatedVault
	f := newFixture(t, withVault(func(v *custody.SandboxVault) custody.YieldVault {
		vault = newGatedVault(v)
		return vault
	}))
	planID := f.createPlan(monthly, yearly)

	done := make(chan error, 1)
	go func() {
		_, err := f.ledger.SubscribeYearly(f.ctx, alice, planID)
		done <- err
	}()
	<-vault.entered

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		due, err := f.ledger.NeedsPayment(f.ctx, bob, planID)
		assert.NoError(t, err)
		assert.False(t, due)
		_, err = f.ledger.SubscribeMonthly(f.ctx, bob, planID, false, true)
		assert.NoError(t, err)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("bob was blocked behind alice's vault deposit")
	}

	close(vault.release)
	require.NoError(t, <-done)

	plan, err := f.plans.GetPlan(f.ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), plan.SubscriberCount)
	assert.Equal(t, yearly+monthly, plan.TotalRevenue)
}

func TestSubscribe_PlanDeactivatedDuringCustodyRefunds(t *testing.T) {
	var vault *gatedVault
	f := newFixture(t, withVault(func(v *custody.SandboxVault) custody.YieldVault {
		vault = newGatedVault(v)
		return vault
	}))
	planID := f.createPlan(monthly, yearly)

	done := make(chan error, 1)
	go func() {
		_, err := f.ledger.SubscribeYearly(f.ctx, alice, planID)
		done <- err
	}()
	<-vault.entered

	inactive := false
	_, err := f.plans.UpdatePlan(f.ctx, providerAddr, planID, PlanInput{MonthlyRate: monthly, YearlyRate: yearly, IsActive: &inactive})
	require.NoError(t, err)
	close(vault.release)

	assert.ErrorIs(t, <-done, utils.ErrPlanInactive)
	assert.Equal(t, startFunds, f.balance(alice))
	assert.Zero(t, f.balance(treasuryAddr))
	_, err = f.ledger.GetSubscription(f.ctx, alice, planID)
	assert.ErrorIs(t, err, utils.ErrSubscriptionNotFound)
}

func TestSubscribe_LostCommitUnwindsStakeAndPull(t *testing.T) {
	var repo *commitFailingRepo
	f := newFixture(t, withRepo(func(r repositories.LedgerRepository) repositories.LedgerRepository {
		repo = &commitFailingRepo{LedgerRepository: r}
		return repo
	}))
	planID := f.createPlan(monthly, yearly)
	repo.fail = true

	_, err := f.ledger.SubscribeYearly(f.ctx, alice, planID)
	assert.ErrorIs(t, err, errCommit)

	assert.Equal(t, startFunds, f.balance(alice))
	assert.Zero(t, f.balance(treasuryAddr))
	assert.Zero(t, f.balance(vaultAddr))
	assert.Zero(t, f.vault.PreviewRedeem(1))
	_, err = f.ledger.GetSubscription(f.ctx, alice, planID)
	assert.ErrorIs(t, err, utils.ErrSubscriptionNotFound)
}

func TestSubscribe_SnapshotsRatesAgainstLaterUpdates(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)
	_, err := f.ledger.SubscribeMonthly(f.ctx, alice, planID, false, true)
	require.NoError(t, err)

	_, err = f.plans.UpdatePlan(f.ctx, providerAddr, planID, PlanInput{MonthlyRate: 2 * monthly, YearlyRate: 2 * yearly})
	require.NoError(t, err)

	f.advance(days(29) + 1)
	res, err := f.ledger.ProcessMonthlyPayment(f.ctx, backendAddr, alice, planID)
	require.NoError(t, err)
	assert.True(t, res.Charged)
	assert.Equal(t, monthly, res.Amount)
}

func TestProcessMonthlyPayment_OnlyBackendMayCharge(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)
	_, err := f.ledger.SubscribeMonthly(f.ctx, alice, planID, false, true)
	require.NoError(t, err)
	f.advance(days(30))

	for _, caller := range []string{alice, adminAddr, stranger, ""} {
		_, err := f.ledger.ProcessMonthlyPayment(f.ctx, caller, alice, planID)
		assert.ErrorIs(t, err, utils.ErrUnauthorized, caller)
	}
	assert.Equal(t, startFunds-monthly, f.balance(alice))
}

func TestProcessMonthlyPayment_ChargesOnlyInsideDueWindow(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)
	sub, err := f.ledger.SubscribeMonthly(f.ctx, alice, planID, false, true)
	require.NoError(t, err)
	firstExpiry := sub.ExpirationTime

	f.advance(days(29))
	due, err := f.ledger.NeedsPayment(f.ctx, alice, planID)
	require.NoError(t, err)
	assert.False(t, due, "exactly one day left is not yet due")

	res, err := f.ledger.ProcessMonthlyPayment(f.ctx, backendAddr, alice, planID)
	require.NoError(t, err)
	assert.False(t, res.Charged)
	assert.Equal(t, firstExpiry, res.ExpirationTime)

	f.advance(1)
	due, err = f.ledger.NeedsPayment(f.ctx, alice, planID)
	require.NoError(t, err)
	assert.True(t, due)

	res, err = f.ledger.ProcessMonthlyPayment(f.ctx, backendAddr, alice, planID)
	require.NoError(t, err)
	assert.True(t, res.Charged)
	assert.Equal(t, monthly, res.Amount)
	assert.Equal(t, firstExpiry+utils.MonthSeconds, res.ExpirationTime)

	after := f.sub(alice, planID)
	assert.Equal(t, firstExpiry+utils.MonthSeconds, after.ExpirationTime)
	assert.Equal(t, f.clock.Now().Unix(), after.LastPayment)
	assert.Equal(t, startFunds-2*monthly, f.balance(alice))
	assert.Equal(t, 2*monthly, f.balance(treasuryAddr))

	plan, err := f.plans.GetPlan(f.ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, 2*monthly, plan.TotalRevenue)
	assert.Equal(t, uint64(1), plan.SubscriberCount)
}

func TestProcessMonthlyPayment_RepeatedCallChargesOnce(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)
	_, err := f.ledger.SubscribeMonthly(f.ctx, alice, planID, false, true)
	require.NoError(t, err)
	f.advance(days(30))

	first, err := f.ledger.ProcessMonthlyPayment(f.ctx, backendAddr, alice, planID)
	require.NoError(t, err)
	require.True(t, first.Charged)

	for i := 0; i < 3; i++ {
		again, err := f.ledger.ProcessMonthlyPayment(f.ctx, backendAddr, alice, planID)
		require.NoError(t, err)
		assert.False(t, again.Charged)
		assert.Equal(t, first.ExpirationTime, again.ExpirationTime)
	}
	assert.Equal(t, startFunds-2*monthly, f.balance(alice))
}

func TestProcessMonthlyPayment_NoopCases(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)

	_, err := f.ledger.SubscribeMonthly(f.ctx, alice, planID, false, false)
	require.NoError(t, err)
	_, err = f.ledger.SubscribeYearly(f.ctx, bob, planID)
	require.NoError(t, err)
	f.advance(days(30))

	for _, who := range []string{alice, bob, stranger} {
		res, err := f.ledger.ProcessMonthlyPayment(f.ctx, backendAddr, who, planID)
		require.NoError(t, err, who)
		assert.False(t, res.Charged, who)
	}

	_, err = f.ledger.CancelSubscription(f.ctx, bob, planID)
	require.NoError(t, err)
	res, err := f.ledger.ProcessMonthlyPayment(f.ctx, backendAddr, bob, planID)
	require.NoError(t, err)
	assert.False(t, res.Charged)

	assert.Equal(t, startFunds-monthly, f.balance(alice))
}

func TestProcessMonthlyPayment_InsufficientFundsLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)
	before, err := f.ledger.SubscribeMonthly(f.ctx, alice, planID, false, true)
	require.NoError(t, err)
	require.NoError(t, f.token.Approve(alice, treasuryAddr, 0))
	f.advance(days(30))

	_, err = f.ledger.ProcessMonthlyPayment(f.ctx, backendAddr, alice, planID)
	assert.ErrorIs(t, err, utils.ErrInsufficientFunds)

	after := f.sub(alice, planID)
	assert.Equal(t, before.ExpirationTime, after.ExpirationTime)
	assert.Equal(t, before.LastPayment, after.LastPayment)
	assert.Equal(t, db_models.SubStatusActive, after.Status)
	assert.Len(t, f.events(), 2)
}

func TestProcessMonthlyPayment_LostCommitRefundsCharge(t *testing.T) {
	var repo *commitFailingRepo
	f := newFixture(t, withRepo(func(r repositories.LedgerRepository) repositories.LedgerRepository {
		repo = &commitFailingRepo{LedgerRepository: r}
		return repo
	}))
	planID := f.createPlan(monthly, yearly)
	_, err := f.ledger.SubscribeMonthly(f.ctx, alice, planID, false, true)
	require.NoError(t, err)
	f.advance(days(30))

	repo.fail = true
	_, err = f.ledger.ProcessMonthlyPayment(f.ctx, backendAddr, alice, planID)
	assert.ErrorIs(t, err, errCommit)
	assert.Equal(t, startFunds-monthly, f.balance(alice))
	assert.Equal(t, epoch.Unix()+utils.MonthSeconds, f.sub(alice, planID).ExpirationTime)
}

func TestProcessMonthlyPayment_DoesNotBillAFullyElapsedMonth(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)
	_, err := f.ledger.SubscribeMonthly(f.ctx, alice, planID, false, true)
	require.NoError(t, err)

	f.advance(days(61))
	due, err := f.ledger.NeedsPayment(f.ctx, alice, planID)
	require.NoError(t, err)
	assert.False(t, due)

	res, err := f.ledger.CheckAndUpdateExpiration(f.ctx, backendAddr, alice, planID)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, db_models.SubStatusExpired, res.Status)
	assert.Equal(t, startFunds-monthly, f.balance(alice))
}

func TestSetAutoPay_StopsRecurringCharges(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)
	_, err := f.ledger.SubscribeMonthly(f.ctx, alice, planID, false, true)
	require.NoError(t, err)

	sub, err := f.ledger.SetAutoPay(f.ctx, alice, planID, false)
	require.NoError(t, err)
	assert.False(t, sub.AutoPayEnabled)

	f.advance(days(30))
	res, err := f.ledger.ProcessMonthlyPayment(f.ctx, backendAddr, alice, planID)
	require.NoError(t, err)
	assert.False(t, res.Charged)

	_, err = f.ledger.SetAutoPay(f.ctx, bob, planID, true)
	assert.ErrorIs(t, err, utils.ErrInvalidState)
}

func TestSetAutoPay_RejectsYearly(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)
	_, err := f.ledger.SubscribeYearly(f.ctx, alice, planID)
	require.NoError(t, err)

	_, err = f.ledger.SetAutoPay(f.ctx, alice, planID, true)
	assert.ErrorIs(t, err, utils.ErrInvalidState)
}

func TestCancel_ImmediatelyReturnsExactPrincipal(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)
	_, err := f.ledger.SubscribeYearly(f.ctx, alice, planID)
	require.NoError(t, err)

	res, err := f.ledger.CancelSubscription(f.ctx, alice, planID)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, db_models.SubStatusCancelled, res.Status)
	assert.Equal(t, yearly, res.Payout)
	assert.Zero(t, res.Yield)
	assert.Zero(t, res.Shortfall)

	sub := f.sub(alice, planID)
	assert.Equal(t, db_models.SubStatusCancelled, sub.Status)
	assert.Zero(t, sub.StakedAmount)
	assert.Zero(t, sub.VaultShares)
	assert.Equal(t, startFunds, f.balance(alice))
	assert.Zero(t, f.balance(vaultAddr))
}

func TestCancel_ForfeitsYieldToTreasury(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)
	_, err := f.ledger.SubscribeYearly(f.ctx, alice, planID)
	require.NoError(t, err)

	f.advance(days(180))
	res, err := f.ledger.CancelSubscription(f.ctx, alice, planID)
	require.NoError(t, err)

	// 5% APY on 100 tokens for 180 days.
	const accrued int64 = 2_465_753
	assert.Equal(t, yearly, res.Payout)
	assert.Equal(t, accrued, res.Yield)
	assert.Equal(t, startFunds, f.balance(alice))
	assert.Equal(t, accrued, f.balance(treasuryAddr))

	events := f.events()
	last := events[len(events)-1]
	assert.Equal(t, db_models.EventSubscriptionCancelled, last.Kind)
	assert.Equal(t, yearly, last.Amount)
	assert.JSONEq(t, `{"principal":100000000,"yield_forfeited":true,"expiration_time":`+
		itoa(epoch.Unix()+utils.YearSeconds)+`}`, string(last.Metadata))
}

func TestCancel_ReportsShortfallWhenVaultLost(t *testing.T) {
	f := newFixture(t, withVault(func(*custody.SandboxVault) custody.YieldVault { return lossyVault{lossBps: 1_000} }))
	planID := f.createPlan(monthly, yearly)
	_, err := f.ledger.SubscribeYearly(f.ctx, alice, planID)
	require.NoError(t, err)

	res, err := f.ledger.CancelSubscription(f.ctx, alice, planID)
	require.NoError(t, err)
	assert.Equal(t, 90*token, res.Payout)
	assert.Equal(t, 10*token, res.Shortfall)
	assert.LessOrEqual(t, res.Payout, yearly)
	assert.Equal(t, startFunds-10*token, f.balance(alice))
}

func TestCancel_RequiresActiveSubscriptionOwnedByCaller(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)

	_, err := f.ledger.CancelSubscription(f.ctx, alice, planID)
	assert.ErrorIs(t, err, utils.ErrInvalidState)

	_, err = f.ledger.SubscribeYearly(f.ctx, alice, planID)
	require.NoError(t, err)

	_, err = f.ledger.CancelSubscription(f.ctx, bob, planID)
	assert.ErrorIs(t, err, utils.ErrInvalidState)
	assert.Equal(t, db_models.SubStatusActive, f.sub(alice, planID).Status)

	_, err = f.ledger.CancelSubscription(f.ctx, alice, planID)
	require.NoError(t, err)
	_, err = f.ledger.CancelSubscription(f.ctx, alice, planID)
	assert.ErrorIs(t, err, utils.ErrInvalidState)
	assert.Equal(t, startFunds, f.balance(alice))
}

func TestCancel_FailedPayoutRestakesAndKeepsSubscriptionActive(t *testing.T) {
	var tok *refusingToken
	f := newFixture(t, withToken(func(st *custody.SandboxToken) custody.PaymentToken {
		tok = &refusingToken{SandboxToken: st}
		return tok
	}))
	planID := f.createPlan(monthly, yearly)
	_, err := f.ledger.SubscribeYearly(f.ctx, alice, planID)
	require.NoError(t, err)

	tok.refuse = true
	_, err = f.ledger.CancelSubscription(f.ctx, alice, planID)
	require.Error(t, err)

	sub := f.sub(alice, planID)
	assert.Equal(t, db_models.SubStatusActive, sub.Status)
	assert.Equal(t, yearly, sub.StakedAmount)
	assert.Positive(t, sub.VaultShares)
	assert.Equal(t, yearly, f.balance(vaultAddr))
	assert.Zero(t, f.balance(treasuryAddr))

	tok.refuse = false
	res, err := f.ledger.CancelSubscription(f.ctx, alice, planID)
	require.NoError(t, err)
	assert.Equal(t, yearly, res.Payout)
	assert.Equal(t, startFunds, f.balance(alice))
}

func TestCheckAndUpdateExpiration_PaysPrincipalPlusYield(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)
	_, err := f.ledger.SubscribeYearly(f.ctx, alice, planID)
	require.NoError(t, err)

	f.advance(days(365))
	res, err := f.ledger.CheckAndUpdateExpiration(f.ctx, backendAddr, alice, planID)
	require.NoError(t, err)
	assert.False(t, res.Changed, "expiration instant itself is still active")
	assert.Equal(t, db_models.SubStatusActive, res.Status)

	f.advance(1)
	res, err = f.ledger.CheckAndUpdateExpiration(f.ctx, backendAddr, alice, planID)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, db_models.SubStatusExpired, res.Status)
	assert.Equal(t, yearly+5*token, res.Payout)
	assert.Equal(t, 5*token, res.Yield)

	sub := f.sub(alice, planID)
	assert.Equal(t, db_models.SubStatusExpired, sub.Status)
	assert.Zero(t, sub.StakedAmount)
	assert.Zero(t, sub.VaultShares)
	assert.Equal(t, startFunds+5*token, f.balance(alice))

	again, err := f.ledger.CheckAndUpdateExpiration(f.ctx, backendAddr, alice, planID)
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Equal(t, startFunds+5*token, f.balance(alice))
}

func TestCheckAndUpdateExpiration_UnstakedAndMissing(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)
	_, err := f.ledger.SubscribeMonthly(f.ctx, alice, planID, false, false)
	require.NoError(t, err)
	f.advance(days(31))

	res, err := f.ledger.CheckAndUpdateExpiration(f.ctx, adminAddr, alice, planID)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Zero(t, res.Payout)
	assert.Equal(t, startFunds-monthly, f.balance(alice))

	res, err = f.ledger.CheckAndUpdateExpiration(f.ctx, backendAddr, bob, planID)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, db_models.SubStatusNone, res.Status)

	_, err = f.ledger.CheckAndUpdateExpiration(f.ctx, stranger, alice, planID)
	assert.ErrorIs(t, err, utils.ErrUnauthorized)
}

func TestResubscribe_AfterTerminalStartsFresh(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)
	_, err := f.ledger.SubscribeYearly(f.ctx, alice, planID)
	require.NoError(t, err)
	_, err = f.ledger.CancelSubscription(f.ctx, alice, planID)
	require.NoError(t, err)

	f.advance(days(3))
	sub, err := f.ledger.SubscribeMonthly(f.ctx, alice, planID, false, true)
	require.NoError(t, err)
	assert.Equal(t, db_models.SubStatusActive, sub.Status)
	assert.Equal(t, db_models.SubTypeMonthly, sub.SubType)
	assert.Equal(t, f.clock.Now().Unix(), sub.StartTime)
	assert.Zero(t, sub.StakedAmount)

	plan, err := f.plans.GetPlan(f.ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), plan.SubscriberCount)
	assert.Equal(t, yearly+monthly, plan.TotalRevenue)

	active, err := f.ledger.ListActiveSubscriptions(f.ctx, alice)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestPause_BlocksNewMoneyButNotExits(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)
	_, err := f.ledger.SubscribeMonthly(f.ctx, alice, planID, false, true)
	require.NoError(t, err)
	_, err = f.ledger.SubscribeYearly(f.ctx, bob, planID)
	require.NoError(t, err)

	assert.ErrorIs(t, f.ledger.Pause(f.ctx, alice), utils.ErrUnauthorized)
	require.NoError(t, f.ledger.Pause(f.ctx, adminAddr))
	paused, err := f.ledger.Paused(f.ctx)
	require.NoError(t, err)
	assert.True(t, paused)

	_, err = f.ledger.SubscribeMonthly(f.ctx, stranger, planID, false, true)
	assert.ErrorIs(t, err, utils.ErrLedgerPaused)

	f.advance(days(30))
	_, err = f.ledger.ProcessMonthlyPayment(f.ctx, backendAddr, alice, planID)
	assert.ErrorIs(t, err, utils.ErrLedgerPaused)

	res, err := f.ledger.CancelSubscription(f.ctx, bob, planID)
	require.NoError(t, err)
	assert.Equal(t, yearly, res.Payout)

	require.NoError(t, f.ledger.Unpause(f.ctx, adminAddr))
	charge, err := f.ledger.ProcessMonthlyPayment(f.ctx, backendAddr, alice, planID)
	require.NoError(t, err)
	assert.True(t, charge.Charged)
}

func TestRotateBackend_RevokesPreviousIdentity(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)
	_, err := f.ledger.SubscribeMonthly(f.ctx, alice, planID, false, true)
	require.NoError(t, err)
	f.advance(days(30))

	assert.ErrorIs(t, f.ledger.RotateBackend(f.ctx, backendAddr, stranger), utils.ErrUnauthorized)
	require.NoError(t, f.ledger.RotateBackend(f.ctx, adminAddr, stranger))

	_, err = f.ledger.ProcessMonthlyPayment(f.ctx, backendAddr, alice, planID)
	assert.ErrorIs(t, err, utils.ErrUnauthorized)
	res, err := f.ledger.ProcessMonthlyPayment(f.ctx, stranger, alice, planID)
	require.NoError(t, err)
	assert.True(t, res.Charged)

	// A fresh process restores the rotation from settings.
	restarted, err := NewRoleAuthority(adminAddr, backendAddr, nil)
	require.NoError(t, err)
	ledger := NewSubscriptionLedger(f.repo, f.plans, restarted, f.token, f.vault, f.clock, LedgerOptions{}, zapNop())
	require.NoError(t, ledger.RestoreSettings(f.ctx))
	assert.Equal(t, stranger, restarted.Backend())
}

func TestEventsSince_ReplaysCommittedTransitionsInOrder(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)
	_, err := f.ledger.SubscribeMonthly(f.ctx, alice, planID, false, true)
	require.NoError(t, err)
	_, err = f.ledger.SubscribeYearly(f.ctx, bob, planID)
	require.NoError(t, err)
	_, err = f.ledger.CancelSubscription(f.ctx, bob, planID)
	require.NoError(t, err)

	events, err := f.ledger.EventsSince(f.ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	kinds := []db_models.LedgerEventKind{events[0].Kind, events[1].Kind, events[2].Kind}
	assert.Equal(t, []db_models.LedgerEventKind{
		db_models.EventSubscriptionCreated,
		db_models.EventSubscriptionCreated,
		db_models.EventSubscriptionCancelled,
	}, kinds)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].ID, events[i-1].ID)
	}
}

func TestStakeInvariantHoldsAcrossLifecycle(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(monthly, yearly)

	check := func() {
		subs, err := f.ledger.ListSubscriptions(f.ctx, alice)
		require.NoError(t, err)
		for _, s := range subs {
			assert.NoError(t, s.Validate())
		}
	}

	_, err := f.ledger.SubscribeMonthly(f.ctx, alice, planID, true, true)
	require.NoError(t, err)
	check()
	f.advance(days(30))
	_, err = f.ledger.ProcessMonthlyPayment(f.ctx, backendAddr, alice, planID)
	require.NoError(t, err)
	check()
	f.advance(days(31))
	_, err = f.ledger.CheckAndUpdateExpiration(f.ctx, backendAddr, alice, planID)
	require.NoError(t, err)
	check()
}

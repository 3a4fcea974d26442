package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"subyield/internal/models/db_models"
	"subyield/internal/repositories"
	"subyield/pkg/utils"
)

type PlanServiceInterface interface {
	CreatePlan(ctx context.Context, caller string, input PlanInput) (*db_models.Plan, error)
	UpdatePlan(ctx context.Context, caller string, id uint64, input PlanInput) (*db_models.Plan, error)
	GetPlan(ctx context.Context, id uint64) (*db_models.Plan, error)
	ListPlans(ctx context.Context, activeOnly bool) ([]db_models.Plan, error)
	// Invalidate drops a cached plan after its counters changed.
	Invalidate(id uint64)
}

// PlanInput carries rates in token minor units. IsActive is ignored on create.
type PlanInput struct {
	Name        string
	MonthlyRate int64
	YearlyRate  int64
	IsActive    *bool
}

const planCacheSize = 512

func NewPlanService(repo repositories.LedgerRepository, authority Authority, clock utils.Clock, logger *zap.Logger) PlanServiceInterface {
	cache, _ := lru.New[uint64, db_models.Plan](planCacheSize)
	return &PlanService{
		repo:      repo,
		authority: authority,
		clock:     clock,
		cache:     cache,
		logger:    logger.Named("plans"),
	}
}

type PlanService struct {
	repo      repositories.LedgerRepository
	authority Authority
	clock     utils.Clock
	cache     *lru.Cache[uint64, db_models.Plan]
	logger    *zap.Logger

	// generation moves on every invalidation; a read that raced one is not cached.
	mu         sync.Mutex
	generation uint64
}

func (p *PlanService) CreatePlan(ctx context.Context, caller string, input PlanInput) (*db_models.Plan, error) {
	provider, err := utils.NormalizeAddress(caller)
	if err != nil {
		return nil, err
	}
	if err := p.authority.AuthorizePlanCreate(ctx, provider); err != nil {
		return nil, err
	}

	plan := db_models.Plan{
		Provider:    provider,
		Name:        strings.TrimSpace(input.Name),
		MonthlyRate: input.MonthlyRate,
		YearlyRate:  input.YearlyRate,
		IsActive:    true,
	}
	if !plan.Valid() {
		return nil, fmt.Errorf("%w: name is required and rates must be non-negative", utils.ErrInvalidPlan)
	}

	err = p.repo.WithinTransaction(ctx, func(tx repositories.LedgerTx) error {
		if err := tx.SavePlan(&plan); err != nil {
			return err
		}
		return tx.AppendEvent(&db_models.LedgerEvent{
			Kind:       db_models.EventPlanCreated,
			Subscriber: provider,
			PlanID:     plan.ID,
			Amount:     plan.MonthlyRate,
			Timestamp:  utils.NowUnixSeconds(p.clock),
			Metadata:   jsonMeta(map[string]any{"name": plan.Name, "yearly_rate": plan.YearlyRate}),
		})
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("plan created",
		zap.Uint64("plan_id", plan.ID),
		zap.String("provider", provider),
		zap.Int64("monthly_rate", plan.MonthlyRate),
		zap.Int64("yearly_rate", plan.YearlyRate))
	return &plan, nil
}

// UpdatePlan changes future pricing only; existing subscriptions keep their snapshot.
func (p *PlanService) UpdatePlan(ctx context.Context, caller string, id uint64, input PlanInput) (*db_models.Plan, error) {
	var updated db_models.Plan
	err := p.repo.WithinTransaction(ctx, func(tx repositories.LedgerTx) error {
		plan, err := tx.LockPlan(id)
		if err != nil {
			return err
		}
		if plan == nil {
			return utils.ErrPlanNotFound
		}
		if err := p.authority.AuthorizePlanUpdate(ctx, caller, plan); err != nil {
			return err
		}

		if name := strings.TrimSpace(input.Name); name != "" {
			plan.Name = name
		}
		plan.MonthlyRate = input.MonthlyRate
		plan.YearlyRate = input.YearlyRate
		if input.IsActive != nil {
			plan.IsActive = *input.IsActive
		}
		if !plan.Valid() {
			return fmt.Errorf("%w: rates must be non-negative", utils.ErrInvalidPlan)
		}
		if err := tx.SavePlan(plan); err != nil {
			return err
		}
		updated = *plan
		return tx.AppendEvent(&db_models.LedgerEvent{
			Kind:       db_models.EventPlanUpdated,
			Subscriber: plan.Provider,
			PlanID:     plan.ID,
			Amount:     plan.MonthlyRate,
			Timestamp:  utils.NowUnixSeconds(p.clock),
			Metadata: jsonMeta(map[string]any{
				"name":        plan.Name,
				"yearly_rate": plan.YearlyRate,
				"is_active":   plan.IsActive,
			}),
		})
	})
	if err != nil {
		return nil, err
	}

	p.Invalidate(id)
	p.logger.Info("plan updated", zap.Uint64("plan_id", id), zap.Bool("is_active", updated.IsActive))
	return &updated, nil
}

func (p *PlanService) GetPlan(ctx context.Context, id uint64) (*db_models.Plan, error) {
	if plan, ok := p.cache.Get(id); ok {
		return &plan, nil
	}
	p.mu.Lock()
	gen := p.generation
	p.mu.Unlock()

	plan, err := p.repo.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, utils.ErrPlanNotFound
	}

	p.mu.Lock()
	if p.generation == gen {
		p.cache.Add(id, *plan)
	}
	p.mu.Unlock()
	return plan, nil
}

func (p *PlanService) ListPlans(ctx context.Context, activeOnly bool) ([]db_models.Plan, error) {
	return p.repo.ListPlans(ctx, activeOnly)
}

func (p *PlanService) Invalidate(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation++
	p.cache.Remove(id)
}

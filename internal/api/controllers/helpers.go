package controllers

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"subyield/internal/models/db_models"
	"subyield/internal/models/response_models"
	"subyield/internal/scheduler"
	"subyield/internal/services"
	"subyield/pkg/middleware"
	"subyield/pkg/utils"
)

func planIDParam(c *gin.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", utils.ErrInvalidRequest, name)
	}
	return id, nil
}

func addressParam(c *gin.Context, name string) (string, error) {
	return utils.NormalizeAddress(c.Param(name))
}

func subscriptionKeyParams(c *gin.Context) (scheduler.SubscriptionKey, error) {
	subscriber, err := addressParam(c, "subscriber")
	if err != nil {
		return scheduler.SubscriptionKey{}, err
	}
	planID, err := planIDParam(c, "planId")
	if err != nil {
		return scheduler.SubscriptionKey{}, err
	}
	return scheduler.SubscriptionKey{Subscriber: subscriber, PlanID: planID}, nil
}

func caller(c *gin.Context) string {
	return middleware.CallerAddress(c)
}

func toPlanResponse(p *db_models.Plan, decimals int32) response_models.SubscriptionPlan {
	return response_models.SubscriptionPlan{
		ID:              p.ID,
		Provider:        p.Provider,
		Name:            p.Name,
		MonthlyRate:     utils.FormatAmount(p.MonthlyRate, decimals),
		YearlyRate:      utils.FormatAmount(p.YearlyRate, decimals),
		IsActive:        p.IsActive,
		SubscriberCount: p.SubscriberCount,
		TotalRevenue:    utils.FormatAmount(p.TotalRevenue, decimals),
	}
}

func toSubscriptionResponse(s *db_models.Subscription, decimals int32) response_models.SubscriptionStatusResponse {
	return response_models.SubscriptionStatusResponse{
		Subscriber:     s.Subscriber,
		PlanID:         s.PlanID,
		SubType:        string(s.SubType),
		Status:         string(s.Status),
		MonthlyRate:    utils.FormatAmount(s.MonthlyRate, decimals),
		YearlyRate:     utils.FormatAmount(s.YearlyRate, decimals),
		StartTime:      s.StartTime,
		LastPayment:    s.LastPayment,
		ExpirationTime: s.ExpirationTime,
		ExpiresAt:      utils.FormatRFC3339(s.ExpirationTime),
		AutoPayEnabled: s.AutoPayEnabled,
		StakedAmount:   utils.FormatAmount(s.StakedAmount, decimals),
		VaultShares:    s.VaultShares,
	}
}

func toSettlementResponse(r services.SettlementResult, decimals int32) response_models.SettlementResponse {
	return response_models.SettlementResponse{
		Status:    string(r.Status),
		Changed:   r.Changed,
		Payout:    utils.FormatAmount(r.Payout, decimals),
		Yield:     utils.FormatAmount(r.Yield, decimals),
		Shortfall: utils.FormatAmount(r.Shortfall, decimals),
	}
}

func toTickReportResponse(r scheduler.TickReport) *response_models.TickReportResponse {
	return &response_models.TickReportResponse{
		StartedAt:        r.StartedAt.UTC().Format(time.RFC3339),
		DurationMillis:   r.Duration.Milliseconds(),
		Aborted:          r.Aborted,
		Tracked:          r.Tracked,
		Due:              r.Due,
		Charged:          r.Charged,
		ChargeFailures:   r.ChargeFailures,
		InsufficientFund: r.InsufficientFunds,
		Expired:          r.Expired,
		Errors:           r.Errors,
	}
}

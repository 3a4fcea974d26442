package request_models

type SubscribeMonthlyRequest struct {
	PlanID      uint64 `json:"plan_id" binding:"required"`
	StakeYearly bool   `json:"stake_yearly"`
	AutoPay     *bool  `json:"auto_pay"` // defaults to true
}

type SubscribeYearlyRequest struct {
	PlanID uint64 `json:"plan_id" binding:"required"`
}

type SetAutoPayRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

package request_models

type CreatePlanRequest struct {
	Name        string `json:"name" binding:"required"`
	MonthlyRate string `json:"monthly_rate" binding:"required"` // decimal token amount, e.g. "10"
	YearlyRate  string `json:"yearly_rate" binding:"required"`
}

type UpdatePlanRequest struct {
	Name        string `json:"name" binding:"required"`
	MonthlyRate string `json:"monthly_rate" binding:"required"`
	YearlyRate  string `json:"yearly_rate" binding:"required"`
	IsActive    *bool  `json:"is_active" binding:"required"`
}

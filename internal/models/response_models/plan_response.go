package response_models

type SubscriptionPlan struct {
	ID              uint64 `json:"id"`
	Provider        string `json:"provider"`
	Name            string `json:"name"`
	MonthlyRate     string `json:"monthly_rate"` // decimal token amount
	YearlyRate      string `json:"yearly_rate"`
	IsActive        bool   `json:"is_active"`
	SubscriberCount uint64 `json:"subscriber_count"`
	TotalRevenue    string `json:"total_revenue"`
}

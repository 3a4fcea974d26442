package response_models

type SubscriptionStatusResponse struct {
	Subscriber     string `json:"subscriber"`
	PlanID         uint64 `json:"plan_id"`
	SubType        string `json:"sub_type"`
	Status         string `json:"status"`
	MonthlyRate    string `json:"monthly_rate"`
	YearlyRate     string `json:"yearly_rate"`
	StartTime      int64  `json:"start_time"`
	LastPayment    int64  `json:"last_payment"`
	ExpirationTime int64  `json:"expiration_time"`
	ExpiresAt      string `json:"expires_at"`
	AutoPayEnabled bool   `json:"auto_pay_enabled"`
	StakedAmount   string `json:"staked_amount"`
	VaultShares    int64  `json:"vault_shares"`
}

type ChargeResponse struct {
	Charged        bool   `json:"charged"`
	Amount         string `json:"amount"`
	ExpirationTime int64  `json:"expiration_time"`
}

type SettlementResponse struct {
	Status    string `json:"status"`
	Changed   bool   `json:"changed"`
	Payout    string `json:"payout"`
	Yield     string `json:"yield"`
	Shortfall string `json:"shortfall"`
}

type BalanceResponse struct {
	Address   string `json:"address"`
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}

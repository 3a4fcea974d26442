package response_models

type TickReportResponse struct {
	StartedAt        string `json:"started_at"`
	DurationMillis   int64  `json:"duration_ms"`
	Aborted          bool   `json:"aborted"`
	Tracked          int    `json:"tracked"`
	Due              int    `json:"due"`
	Charged          int    `json:"charged"`
	ChargeFailures   int    `json:"charge_failures"`
	InsufficientFund int    `json:"insufficient_funds"`
	Expired          int    `json:"expired"`
	Errors           int    `json:"errors"`
}

type SchedulerStatusResponse struct {
	Running    bool                `json:"running"`
	Ticking    bool                `json:"ticking"`
	Tracked    int                 `json:"tracked"`
	Cursor     uint64              `json:"cursor"`
	LastReport *TickReportResponse `json:"last_report,omitempty"`
}

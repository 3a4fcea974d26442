package request_models

type MintRequest struct {
	Address string `json:"address" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}

type ApproveRequest struct {
	Amount string `json:"amount" binding:"required"`
}

type IssueTokenRequest struct {
	Address string `json:"address" binding:"required"`
	Role    string `json:"role"`
}

type AdvanceClockRequest struct {
	Seconds int64 `json:"seconds" binding:"required,gt=0"`
}

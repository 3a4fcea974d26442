package request_models

type RotateBackendRequest struct {
	Address string `json:"address" binding:"required"`
}

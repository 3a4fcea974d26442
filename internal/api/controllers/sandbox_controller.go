package controllers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"subyield/internal/config"
	"subyield/internal/custody"
	"subyield/internal/models/request_models"
	"subyield/internal/models/response_models"
	"subyield/internal/services"
	"subyield/pkg/utils"
)

const (
	RoleAdmin      = "admin"
	RoleBackend    = "backend"
	RoleProvider   = "provider"
	RoleSubscriber = "subscriber"
)

// SandboxController is the faucet, allowance and clock surface used when the service runs
// against the in-process token and vault.
type SandboxController struct {
	token     *custody.SandboxToken
	authority services.Authority
	clock     utils.Clock
	cfg       *config.Config
}

func NewSandboxController(
	token *custody.SandboxToken,
	authority services.Authority,
	clock utils.Clock,
	cfg *config.Config,
) *SandboxController {
	return &SandboxController{
		token:     token,
		authority: authority,
		clock:     clock,
		cfg:       cfg,
	}
}

func (sc *SandboxController) enabled(c *gin.Context) bool {
	if !sc.cfg.SandboxEnabled || sc.token == nil {
		utils.HandleServiceError(c, utils.ErrSandboxDisabled)
		return false
	}
	return true
}

// Mint godoc
// @Summary Mint sandbox tokens
// @Tags Sandbox
// @Accept json
// @Produce json
// @Param request body request_models.MintRequest true "Recipient and amount"
// @Success 200 {object} utils.APIResponse
// @Router /sandbox/mint [post]
func (sc *SandboxController) Mint(c *gin.Context) {
	if !sc.enabled(c) {
		return
	}
	var req request_models.MintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	address, err := utils.NormalizeAddress(req.Address)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	amount, err := utils.ParseAmount(req.Amount, sc.cfg.TokenDecimals)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	if err := sc.token.Mint(address, amount); err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	sc.respondBalance(c, address, "Tokens minted")
}

// Approve godoc
// @Summary Set the caller's allowance for the ledger treasury
// @Description Replaces any previous allowance.
// @Tags Sandbox
// @Accept json
// @Produce json
// @Param request body request_models.ApproveRequest true "Allowance"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /sandbox/approve [post]
func (sc *SandboxController) Approve(c *gin.Context) {
	if !sc.enabled(c) {
		return
	}
	var req request_models.ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	amount, err := utils.ParseAmount(req.Amount, sc.cfg.TokenDecimals)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	owner := caller(c)
	if err := sc.token.Approve(owner, sc.token.Treasury(), amount); err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	sc.respondBalance(c, owner, "Allowance updated")
}

// Balances godoc
// @Summary Token balance and treasury allowance of an address
// @Tags Sandbox
// @Produce json
// @Param address path string true "Account address"
// @Success 200 {object} utils.APIResponse
// @Router /sandbox/balances/{address} [get]
func (sc *SandboxController) Balances(c *gin.Context) {
	if !sc.enabled(c) {
		return
	}
	address, err := addressParam(c, "address")
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	sc.respondBalance(c, address, "Fetched balances successfully")
}

func (sc *SandboxController) respondBalance(c *gin.Context, address, message string) {
	ctx := c.Request.Context()
	balance, err := sc.token.BalanceOf(ctx, address)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	allowance, err := sc.token.Allowance(ctx, address, sc.token.Treasury())
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, response_models.BalanceResponse{
		Address:   address,
		Balance:   utils.FormatAmount(balance, sc.cfg.TokenDecimals),
		Allowance: utils.FormatAmount(allowance, sc.cfg.TokenDecimals),
	}, message)
}

// IssueToken godoc
// @Summary Issue a bearer token for an address
// @Description Sandbox sign-in. The role is what the ledger grants the address. Admin and
// @Description backend tokens need an admin bearer token unless the service runs on memory
// @Description storage with the manual clock.
// @Tags Sandbox
// @Accept json
// @Produce json
// @Param request body request_models.IssueTokenRequest true "Address"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /sandbox/token [post]
func (sc *SandboxController) IssueToken(c *gin.Context) {
	if !sc.enabled(c) {
		return
	}
	var req request_models.IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	address, err := utils.NormalizeAddress(req.Address)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	role := sc.roleOf(c, address)
	if req.Role != "" && req.Role != role {
		utils.HandleServiceError(c, fmt.Errorf("%w: %s is not granted the %s role", utils.ErrUnauthorized, address, req.Role))
		return
	}
	if (role == RoleAdmin || role == RoleBackend) && !sc.mayIssuePrivileged(c) {
		utils.HandleServiceError(c, fmt.Errorf("%w: %s tokens require an admin bearer token", utils.ErrUnauthorized, role))
		return
	}

	token, err := utils.CreateToken(sc.cfg.JWTSecret, address, role, sc.cfg.TokenTTL)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, gin.H{
		"token":      token,
		"address":    address,
		"role":       role,
		"expires_in": int64(sc.cfg.TokenTTL / time.Second),
	}, "Token issued")
}

// mayIssuePrivileged holds for an admin caller, or when nothing outside the process is at stake.
func (sc *SandboxController) mayIssuePrivileged(c *gin.Context) bool {
	if sc.cfg.StorageDriver == config.StorageMemory && sc.cfg.Clock == config.ClockManual {
		return true
	}
	who := caller(c)
	return who != "" && sc.authority.AuthorizeAdmin(c.Request.Context(), who) == nil
}

func (sc *SandboxController) roleOf(c *gin.Context, address string) string {
	ctx := c.Request.Context()
	switch {
	case sc.authority.AuthorizeAdmin(ctx, address) == nil:
		return RoleAdmin
	case sc.authority.AuthorizeBackend(ctx, address) == nil:
		return RoleBackend
	case sc.authority.AuthorizePlanCreate(ctx, address) == nil:
		return RoleProvider
	default:
		return RoleSubscriber
	}
}

// AdvanceClock godoc
// @Summary Move the manual clock forward
// @Description Only available with CLOCK=manual.
// @Tags Sandbox
// @Accept json
// @Produce json
// @Param request body request_models.AdvanceClockRequest true "Seconds"
// @Success 200 {object} utils.APIResponse
// @Router /sandbox/clock/advance [post]
func (sc *SandboxController) AdvanceClock(c *gin.Context) {
	if !sc.enabled(c) {
		return
	}
	manual, ok := sc.clock.(*utils.ManualClock)
	if !ok {
		utils.RespondError(c, http.StatusConflict, "Clock is not manual")
		return
	}
	var req request_models.AdvanceClockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	now := manual.Advance(time.Duration(req.Seconds) * time.Second)
	utils.RespondSuccess(c, gin.H{
		"now":      now.Unix(),
		"now_time": now.UTC().Format(time.RFC3339),
	}, "Clock advanced")
}

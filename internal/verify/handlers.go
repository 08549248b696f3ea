package verify

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flexycode/altflex/internal/audit"
	"github.com/flexycode/altflex/internal/validation"
)

// Handler provides HTTP handlers for the address verification API.
type Handler struct {
	verifier *Verifier
	ledger   *audit.Ledger
}

// NewHandler creates a verification handler. Completed verifications are
// recorded in the audit ledger.
func NewHandler(verifier *Verifier, ledger *audit.Ledger) *Handler {
	return &Handler{verifier: verifier, ledger: ledger}
}

// RegisterRoutes sets up the verification routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/address/verify", h.Verify)
	r.POST("/address/check", h.QuickCheck)
}

type verifyRequest struct {
	Address string      `json:"address"`
	History []HistoryTx `json:"history,omitempty"`
}

// Verify handles POST /api/address/verify
func (h *Handler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("address", req.Address),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
		})
		return
	}

	report, err := h.verifier.Verify(c.Request.Context(), req.Address, req.History)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Verification failed",
		})
		return
	}

	if report.Rejected() {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "invalid_address",
			"message": "Address failed format validation",
			"report":  report,
		})
		return
	}

	if _, err := h.ledger.Append(c.Request.Context(), audit.VerificationEvent{
		Address:         report.NormalizedAddress,
		StageOutcomes:   report.StageOutcomes(),
		IsKnownAttacker: report.IsKnownAttacker,
		BehavioralRisk:  report.BehavioralRisk,
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "audit_failed",
			"message": "Verification completed but could not be recorded",
		})
		return
	}

	c.JSON(http.StatusOK, report)
}

// QuickCheck handles POST /api/address/check, a known-attacker lookup only.
func (h *Handler) QuickCheck(c *gin.Context) {
	var req struct {
		Address string `json:"address"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if !validation.IsValidAddress(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "Address must be 0x followed by 40 hex characters",
		})
		return
	}

	normalized := validation.NormalizeAddress(req.Address)
	attackers, err := h.verifier.attackers.KnownAttackers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load attacker set",
		})
		return
	}

	_, isAttacker := attackers[normalized]
	resp := gin.H{
		"address":         normalized,
		"isKnownAttacker": isAttacker,
	}
	if isAttacker {
		if sig, err := h.verifier.exploits.ByAttacker(c.Request.Context(), normalized); err == nil {
			resp["exploit"] = sig
		}
	}
	c.JSON(http.StatusOK, resp)
}

package custody

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flexycode/altflex/internal/validation"
)

// Handler provides HTTP handlers for the custody API.
type Handler struct {
	tracker *Tracker
}

// NewHandler creates a custody handler.
func NewHandler(tracker *Tracker) *Handler {
	return &Handler{tracker: tracker}
}

// RegisterRoutes sets up the custody routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/custody/events", h.Record)
	r.GET("/custody/:artifact", h.GetChain)
	r.GET("/custody/:artifact/verify", h.VerifyChain)
}

type recordRequest struct {
	ArtifactID string `json:"artifactId"`
	Actor      string `json:"actor"`
	Action     string `json:"action"`
	Location   string `json:"location"`
	SignedAt   int64  `json:"signedAt"`
	Signature  string `json:"signature"`
}

// Record handles POST /api/custody/events
func (h *Handler) Record(c *gin.Context) {
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("artifactId", req.ArtifactID),
		validation.Required("actor", req.Actor),
		validation.Required("signature", req.Signature),
		validation.ValidHex("signature", req.Signature),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	event, err := h.tracker.Record(c.Request.Context(), RecordRequest{
		ArtifactID: req.ArtifactID,
		Actor:      req.Actor,
		Action:     Action(req.Action),
		Location:   req.Location,
		SignedAt:   req.SignedAt,
		Signature:  req.Signature,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAction):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_action",
				"message": "Action must be COLLECTED, ANALYZED, STORED, or ACCESSED",
			})
		case errors.Is(err, ErrUnknownActor):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "unknown_actor",
				"message": "Actor has no registered signing key",
			})
		case errors.Is(err, ErrSignatureMismatch):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "signature_mismatch",
				"message": "Event signature does not verify against the actor's registered key",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to record custody event",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, event)
}

// GetChain handles GET /api/custody/:artifact
func (h *Handler) GetChain(c *gin.Context) {
	chain, err := h.tracker.GetChain(c.Request.Context(), c.Param("artifact"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load custody chain",
		})
		return
	}

	if len(chain.Events) == 0 {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No custody events for this artifact",
		})
		return
	}

	c.JSON(http.StatusOK, chain)
}

// VerifyChain handles GET /api/custody/:artifact/verify
func (h *Handler) VerifyChain(c *gin.Context) {
	ok, err := h.tracker.VerifyChain(c.Request.Context(), c.Param("artifact"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to verify custody chain",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"artifactId": c.Param("artifact"),
		"ok":         ok,
	})
}

package audit

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP handlers for the audit ledger API.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates an audit ledger handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes sets up the audit routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/audit/events", h.Append)
	r.GET("/audit/entries", h.List)
	r.GET("/audit/verify", h.Verify)
}

// appendRequest is a tagged event envelope. Only the closed variant set
// is accepted; unknown kinds are rejected.
type appendRequest struct {
	Kind  Kind            `json:"kind"`
	Event json.RawMessage `json:"event"`
}

func decodeEvent(req appendRequest) (Event, error) {
	switch req.Kind {
	case KindDetection:
		var e DetectionEvent
		if err := json.Unmarshal(req.Event, &e); err != nil {
			return nil, err
		}
		return e, nil
	case KindVerification:
		var e VerificationEvent
		if err := json.Unmarshal(req.Event, &e); err != nil {
			return nil, err
		}
		return e, nil
	case KindCustody:
		var e CustodyEvent
		if err := json.Unmarshal(req.Event, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", req.Kind)
	}
}

// Append handles POST /api/audit/events
func (h *Handler) Append(c *gin.Context) {
	var req appendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	event, err := decodeEvent(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_event",
			"message": err.Error(),
		})
		return
	}

	entry, err := h.ledger.Append(c.Request.Context(), event)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "append_failed",
			"message": "Failed to append audit entry",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"entryId":   entry.ID,
		"timestamp": entry.Timestamp,
	})
}

// List handles GET /api/audit/entries
func (h *Handler) List(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &limit); err != nil || limit <= 0 {
			limit = 100
		}
		if limit > 1000 {
			limit = 1000
		}
	}

	entries, err := h.ledger.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list audit entries",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// Verify handles GET /api/audit/verify
func (h *Handler) Verify(c *gin.Context) {
	ok, violations, err := h.ledger.Verify(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to verify audit ledger",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":         ok,
		"violations": violations,
	})
}
